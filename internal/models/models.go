package models

import "time"

// DateLayout is the calendar-day format used on the wire and in save files.
const DateLayout = "2006-01-02"

// InitialBudget is the budget every playthrough starts with.
const InitialBudget = 10000.0

// Mode selects between the game and the real monitoring flow.
type Mode string

const (
	ModeSimulation Mode = "simulation"
	ModeMonitoring Mode = "monitoring"
)

// Location is a selectable farm site.
type Location struct {
	Lat     float64 `yaml:"lat" json:"lat"`
	Lon     float64 `yaml:"lon" json:"lon"`
	Name    string  `yaml:"name" json:"name"`
	Climate string  `yaml:"climate" json:"climate"`
}

// MarketPricing holds the harvest sale parameters of a crop.
type MarketPricing struct {
	BasePrice         float64 `yaml:"base_price" json:"basePrice"`
	Unit              string  `yaml:"unit" json:"unit"`
	PremiumMultiplier float64 `yaml:"premium_multiplier" json:"premiumMultiplier"`
	GoodMultiplier    float64 `yaml:"good_multiplier" json:"goodMultiplier"`
	AverageMultiplier float64 `yaml:"average_multiplier" json:"averageMultiplier"`
	PoorMultiplier    float64 `yaml:"poor_multiplier" json:"poorMultiplier"`
	DemandLevel       string  `yaml:"demand_level" json:"demandLevel"` // High, Medium or Low
	PricePerHectare   float64 `yaml:"price_per_hectare" json:"pricePerHectare"`
}

// Crop is static reference data; one is chosen per session.
type Crop struct {
	ID               string        `yaml:"id" json:"id"`
	Name             string        `yaml:"name" json:"name"`
	WaterNeed        string        `yaml:"water_need" json:"waterNeed"`
	DroughtTolerance string        `yaml:"drought_tolerance" json:"droughtTolerance"`
	Profit           float64       `yaml:"profit" json:"profit"`
	GrowthDays       int           `yaml:"growth_days" json:"growthDays"`
	OptimalTemp      [2]float64    `yaml:"optimal_temp" json:"optimalTemp"` // [min, max] °C
	MarketPricing    MarketPricing `yaml:"market_pricing" json:"marketPricing"`
}

// OptimalTempMid is the centre of the crop's optimal temperature band.
func (c Crop) OptimalTempMid() float64 {
	return (c.OptimalTemp[0] + c.OptimalTemp[1]) / 2
}

// PlantHealth is derived from soil moisture, NDVI and temperature.
type PlantHealth string

const (
	HealthExcellent PlantHealth = "excellent"
	HealthGood      PlantHealth = "good"
	HealthFair      PlantHealth = "fair"
	HealthPoor      PlantHealth = "poor"
	HealthCritical  PlantHealth = "critical"
)

// MessageType tags log and advisor messages.
type MessageType string

const (
	MessageInfo    MessageType = "info"
	MessageSuccess MessageType = "success"
	MessageWarning MessageType = "warning"
	MessageError   MessageType = "error"
)

// ActivityLogEntry is one line of the farm activity feed.
type ActivityLogEntry struct {
	Message string      `yaml:"message" json:"message"`
	Type    MessageType `yaml:"type" json:"type"`
	Day     int         `yaml:"day" json:"day"`
}

// AgentMessage is one line spoken by the advisor.
type AgentMessage struct {
	Text      string      `yaml:"text" json:"text"`
	Type      MessageType `yaml:"type" json:"type"`
	Timestamp time.Time   `yaml:"timestamp" json:"timestamp"`
}

// Setup is what the player fills in before the first day.
type Setup struct {
	Mode        Mode      `yaml:"mode" json:"mode"`
	FarmName    string    `yaml:"farm_name" json:"farmName"`
	FarmSize    float64   `yaml:"farm_size" json:"farmSize"` // hectares
	Location    Location  `yaml:"location" json:"location"`
	Crop        Crop      `yaml:"crop" json:"crop"`
	StartDate   time.Time `yaml:"start_date" json:"startDate"`
	HarvestDate time.Time `yaml:"harvest_date" json:"harvestDate"`
}

// FarmSession is the mutable state of one playthrough.
type FarmSession struct {
	CurrentDay         int         `yaml:"current_day" json:"currentDay"`
	Budget             float64     `yaml:"budget" json:"budget"`
	WaterReserve       float64     `yaml:"water_reserve" json:"waterReserve"`
	EnvironmentalScore float64     `yaml:"environmental_score" json:"environmentalScore"`
	Temperature        float64     `yaml:"temperature" json:"temperature"`
	SoilMoisturePct    float64     `yaml:"soil_moisture_pct" json:"soilMoisturePct"`
	NDVI               float64     `yaml:"ndvi" json:"ndvi"`
	PlantHealth        PlantHealth `yaml:"plant_health" json:"plantHealth"`
	CumulativeGDD      float64     `yaml:"cumulative_gdd" json:"cumulativeGdd"`
	Stage              string      `yaml:"stage" json:"stage"`
}

// GameOutcome is computed once when the harvest completes.
type GameOutcome struct {
	FinalDay                int         `yaml:"final_day" json:"finalDay"`
	FinalBudget             float64     `yaml:"final_budget" json:"finalBudget"`
	FinalEnvironmentalScore float64     `yaml:"final_environmental_score" json:"finalEnvironmentalScore"`
	Quality                 int         `yaml:"quality" json:"quality"`
	PlantHealth             PlantHealth `yaml:"plant_health" json:"plantHealth"`
}

// Provenance records where an environmental value came from.
type Provenance string

const (
	ProvenanceReal         Provenance = "REAL"
	ProvenanceLastRecorded Provenance = "LAST_RECORDED"
	ProvenanceSynthetic    Provenance = "SYNTHETIC"
	ProvenanceInterpolated Provenance = "INTERPOLATED"
)

// Metric names a satellite dataset family.
type Metric string

const (
	MetricNDVI         Metric = "ndvi"
	MetricLST          Metric = "lst"
	MetricSoilMoisture Metric = "smap"
)

// Reading is one resolved value with its provenance.
type Reading struct {
	Metric     Metric     `yaml:"metric" json:"metric"`
	Value      float64    `yaml:"value" json:"value"`
	Provenance Provenance `yaml:"provenance" json:"provenance"`
	AgeDays    int        `yaml:"age_days" json:"age_days"`
	SampleDate time.Time  `yaml:"sample_date" json:"sample_date"`
}

// Simulated reports whether the value did not come from an actual observation.
func (r Reading) Simulated() bool {
	return r.Provenance == ProvenanceSynthetic || r.Provenance == ProvenanceInterpolated
}

// EnvironmentalObservation is the resolved tuple for one location and day.
// NDVI is unitless, SoilMoisture is a volumetric fraction and LST is in Kelvin.
type EnvironmentalObservation struct {
	Date         time.Time `yaml:"date" json:"date"`
	NDVI         Reading   `yaml:"ndvi" json:"ndvi"`
	SoilMoisture Reading   `yaml:"soil_moisture" json:"soil_moisture"`
	LST          Reading   `yaml:"lst" json:"lst"`
}

// TemperatureC converts the land-surface temperature to Celsius.
func (o EnvironmentalObservation) TemperatureC() float64 {
	return o.LST.Value - 273.15
}

// SoilMoisturePct converts the soil moisture fraction to a percentage.
func (o EnvironmentalObservation) SoilMoisturePct() float64 {
	return o.SoilMoisture.Value * 100
}

// OldestAgeDays is the largest age among the three readings.
func (o EnvironmentalObservation) OldestAgeDays() int {
	return max(o.NDVI.AgeDays, o.SoilMoisture.AgeDays, o.LST.AgeDays)
}

// GameSave aggregates everything needed to resume a playthrough.
type GameSave struct {
	ID       string             `yaml:"id"`
	Setup    Setup              `yaml:"setup"`
	State    FarmSession        `yaml:"state"`
	Activity []ActivityLogEntry `yaml:"activity"`
	Messages []AgentMessage     `yaml:"messages"`
	Outcome  *GameOutcome       `yaml:"outcome,omitempty"`
}
