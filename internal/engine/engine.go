// Package engine runs the day-by-day farm simulation. Step is a pure reducer
// over models.FarmSession; Session wraps it with the message streams and
// serializes actions.
package engine

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/tatianab/terranaut/internal/growth"
	"github.com/tatianab/terranaut/internal/models"
	"github.com/tatianab/terranaut/internal/randsrc"
	"github.com/tatianab/terranaut/internal/scoring"
	"github.com/tatianab/terranaut/internal/weather"
)

// Action is a player move for one day.
type Action string

const (
	ActionIrrigate  Action = "irrigate"
	ActionFertilize Action = "fertilize"
	ActionMonitor   Action = "monitor"
	ActionWait      Action = "wait"
)

// Actions lists every action in display order.
var Actions = []Action{ActionIrrigate, ActionFertilize, ActionMonitor, ActionWait}

const (
	IrrigateCost  = 200.0
	FertilizeCost = 300.0
	DailyCost     = 50.0

	irrigateMoisture = 25.0
	irrigateEnvCost  = 5.0
	fertilizeNDVI    = 0.1
	fertilizeEnvCost = 3.0
	dryDayDepletion  = 3.0
	rainFactor       = 2.0
	eventProbability = 0.15
	minTemp, maxTemp = 15.0, 40.0
	minNDVI, maxNDVI = 0.3, 0.9
	optimalEnvTempC  = 25.0
)

var (
	ErrInsufficientBudget = errors.New("insufficient budget")
	ErrSessionComplete    = errors.New("harvest already complete")
	ErrUnknownAction      = errors.New("unknown action")
)

// ParseAction accepts an action name or its first letter.
func ParseAction(s string) (Action, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, a := range Actions {
		if s == string(a) || (len(s) == 1 && s[0] == a[0]) {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

// Event is a random environmental occurrence. Only Moisture changes state.
type Event struct {
	Message  string
	Type     models.MessageType
	Moisture float64
}

var Events = []Event{
	{Message: "🌧️ Rain detected by GPM satellite! +15% soil moisture", Type: models.MessageSuccess, Moisture: 15},
	{Message: "☀️ Heat wave incoming! Temperature rising.", Type: models.MessageWarning},
	{Message: "💧 SMAP shows low soil moisture. Consider irrigation!", Type: models.MessageWarning},
	{Message: "🌿 MODIS shows excellent vegetation health!", Type: models.MessageSuccess},
}

// Env is everything a step reads besides the state itself.
type Env struct {
	Crop      models.Crop
	StartDate time.Time
	// Weather is loaded history indexed by day offset; empty means synthesize.
	Weather []weather.Daily
	Rand    randsrc.Source
	// Observation backs the Monitor advisory when set.
	Observation *models.EnvironmentalObservation
}

// Note is a message produced by a step, before it is timestamped.
type Note struct {
	Text string
	Type models.MessageType
}

// Result describes what one call to Step did.
type Result struct {
	Action   Action
	Accepted bool
	Agent    []Note
	Activity []Note
	Event    *Event
	Outcome  *models.GameOutcome
}

// NewState returns the day-one state of a playthrough.
func NewState() models.FarmSession {
	return models.FarmSession{
		CurrentDay:         1,
		Budget:             models.InitialBudget,
		WaterReserve:       100,
		EnvironmentalScore: 85,
		Temperature:        25,
		SoilMoisturePct:    60,
		NDVI:               0.65,
		PlantHealth:        models.HealthGood,
		Stage:              string(growth.StageEstablishment),
	}
}

// Done reports whether the state has reached harvest.
func Done(s models.FarmSession, crop models.Crop) bool {
	return s.CurrentDay >= crop.GrowthDays
}

// HealthFor maps field conditions to a health category, best first.
func HealthFor(soilMoisturePct, ndvi, temperature float64) models.PlantHealth {
	switch {
	case soilMoisturePct >= 50 && ndvi >= 0.70:
		return models.HealthExcellent
	case soilMoisturePct >= 40 && ndvi >= 0.60:
		return models.HealthGood
	case soilMoisturePct >= 30 && ndvi >= 0.50:
		return models.HealthFair
	case soilMoisturePct >= 20 && ndvi >= 0.40:
		return models.HealthPoor
	default:
		return models.HealthCritical
	}
}

// EnvironmentalScore weighs moisture, vegetation and distance from 25°C.
func EnvironmentalScore(soilMoisturePct, ndvi, temperature float64) float64 {
	v := math.Round(0.3*soilMoisturePct + 0.4*(ndvi*100) + 0.3*(100-math.Abs(temperature-optimalEnvTempC)))
	return clamp(v, 0, 100)
}

// Step applies a to s and, when the action is accepted, advances one day.
// A rejected action returns s unchanged with an error.
func Step(s models.FarmSession, a Action, env Env) (models.FarmSession, Result, error) {
	s, res, err := Effect(s, a, env)
	if err != nil {
		return s, res, err
	}
	s = Advance(s, env, &res)
	return s, res, nil
}

// Effect applies only the immediate consequence of a, without the day-advance.
func Effect(s models.FarmSession, a Action, env Env) (models.FarmSession, Result, error) {
	res := Result{Action: a}
	if Done(s, env.Crop) {
		return s, res, ErrSessionComplete
	}

	switch a {
	case ActionIrrigate:
		if s.Budget < IrrigateCost {
			res.Agent = append(res.Agent, Note{"❌ Insufficient budget for irrigation!", models.MessageError})
			return s, res, fmt.Errorf("%s: %w", a, ErrInsufficientBudget)
		}
		s.SoilMoisturePct = clamp(s.SoilMoisturePct+irrigateMoisture, 0, 100)
		s.Budget -= IrrigateCost
		s.EnvironmentalScore = clamp(s.EnvironmentalScore-irrigateEnvCost, 0, 100)
		res.Agent = append(res.Agent, Note{"💧 Irrigation applied! Soil moisture increased.", models.MessageSuccess})
		res.Activity = append(res.Activity, Note{fmt.Sprintf("Irrigation system activated (-€%.0f)", IrrigateCost), models.MessageInfo})
	case ActionFertilize:
		if s.Budget < FertilizeCost {
			res.Agent = append(res.Agent, Note{"❌ Insufficient budget for fertilizer!", models.MessageError})
			return s, res, fmt.Errorf("%s: %w", a, ErrInsufficientBudget)
		}
		s.NDVI = clamp(s.NDVI+fertilizeNDVI, 0, maxNDVI)
		s.Budget -= FertilizeCost
		s.EnvironmentalScore = clamp(s.EnvironmentalScore-fertilizeEnvCost, 0, 100)
		res.Agent = append(res.Agent, Note{"🌿 Fertilizer applied! Plant health improving.", models.MessageSuccess})
		res.Activity = append(res.Activity, Note{fmt.Sprintf("Organic fertilizer applied (-€%.0f)", FertilizeCost), models.MessageInfo})
	case ActionMonitor:
		res.Agent = append(res.Agent, Note{monitorText(s, env.Observation), models.MessageInfo})
		res.Activity = append(res.Activity, Note{"Satellite data checked (free)", models.MessageInfo})
	case ActionWait:
		res.Agent = append(res.Agent, Note{"⏳ Letting nature take its course...", models.MessageInfo})
		res.Activity = append(res.Activity, Note{"No action taken this day", models.MessageInfo})
	default:
		return s, res, fmt.Errorf("%w: %q", ErrUnknownAction, a)
	}

	res.Accepted = true
	return s, res, nil
}

// Advance runs the end-of-day update and the harvest check. Random draws, in
// order: temperature change and moisture loss (synthetic weather only), the
// event roll and the event pick.
func Advance(s models.FarmSession, env Env, res *Result) models.FarmSession {
	rnd := env.Rand
	if rnd == nil {
		rnd = randsrc.Constant(0.5)
	}

	if len(env.Weather) > 0 {
		rec := env.Weather[min(max(s.CurrentDay-1, 0), len(env.Weather)-1)]
		s.Temperature = rec.MeanC()
		if rec.RainMM > 0 {
			s.SoilMoisturePct += rec.RainMM * rainFactor
		} else {
			s.SoilMoisturePct -= dryDayDepletion
		}
		s.CumulativeGDD += growth.DailyGDD(rec.TmaxC, rec.TminC)
	} else {
		s.Temperature = clamp(s.Temperature+randsrc.Between(rnd, -5, 5), minTemp, maxTemp)
		s.SoilMoisturePct -= randsrc.Between(rnd, 2, 7)
		s.CumulativeGDD += growth.DailyGDD(s.Temperature, s.Temperature)
	}
	s.SoilMoisturePct = clamp(s.SoilMoisturePct, 0, 100)
	s.Stage = string(growth.StageFor(s.CumulativeGDD))

	if s.SoilMoisturePct > 40 && s.Temperature > 20 && s.Temperature < 35 {
		s.NDVI += 0.02
	} else {
		s.NDVI -= 0.01
	}
	s.NDVI = clamp(s.NDVI, minNDVI, maxNDVI)
	s.PlantHealth = HealthFor(s.SoilMoisturePct, s.NDVI, s.Temperature)

	if rnd.Float64() < eventProbability {
		ev := Events[min(int(rnd.Float64()*float64(len(Events))), len(Events)-1)]
		res.Event = &ev
		res.Agent = append(res.Agent, Note{ev.Message, ev.Type})
		res.Activity = append(res.Activity, Note{ev.Message, ev.Type})
		if ev.Moisture > 0 {
			s.SoilMoisturePct = clamp(s.SoilMoisturePct+ev.Moisture, 0, 100)
			s.PlantHealth = HealthFor(s.SoilMoisturePct, s.NDVI, s.Temperature)
		}
	}

	s.EnvironmentalScore = EnvironmentalScore(s.SoilMoisturePct, s.NDVI, s.Temperature)
	s.Budget -= DailyCost
	s.CurrentDay++

	if Done(s, env.Crop) {
		q := scoring.Quality(s.SoilMoisturePct, s.NDVI, s.Temperature, env.Crop)
		res.Outcome = &models.GameOutcome{
			FinalDay:                s.CurrentDay,
			FinalBudget:             s.Budget,
			FinalEnvironmentalScore: s.EnvironmentalScore,
			Quality:                 q,
			PlantHealth:             s.PlantHealth,
		}
		res.Agent = append(res.Agent, Note{fmt.Sprintf("🌾 Harvest complete! Quality %d/100.", q), models.MessageSuccess})
		res.Activity = append(res.Activity, Note{fmt.Sprintf("Day %d: %s harvested", s.CurrentDay, env.Crop.Name), models.MessageSuccess})
	}
	return s
}

func monitorText(s models.FarmSession, obs *models.EnvironmentalObservation) string {
	if obs == nil {
		return fmt.Sprintf("📊 NASA Data: Moisture %.1f%%, NDVI %.2f, Temp %.1f°C", s.SoilMoisturePct, s.NDVI, s.Temperature)
	}
	return fmt.Sprintf("📊 NASA Data: Moisture %.1f%% %s, NDVI %.2f %s, Temp %.1f°C %s",
		obs.SoilMoisturePct(), badge(obs.SoilMoisture),
		obs.NDVI.Value, badge(obs.NDVI),
		obs.TemperatureC(), badge(obs.LST))
}

func badge(r models.Reading) string {
	if r.AgeDays > 0 {
		return fmt.Sprintf("[%s, %dd old]", r.Provenance, r.AgeDays)
	}
	return fmt.Sprintf("[%s]", r.Provenance)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
