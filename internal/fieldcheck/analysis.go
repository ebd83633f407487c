package fieldcheck

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tatianab/terranaut/internal/catalog"
	"github.com/tatianab/terranaut/internal/envdata"
	"github.com/tatianab/terranaut/internal/models"
)

// FallbackRecommendation is used when no advisor reply is available.
const FallbackRecommendation = "Analysis complete. Check the comparison table for details."

// CatalogSource labels optimal bands derived from the crop catalog.
const CatalogSource = "Crop catalog"

// Check compares one metric with its band.
type Check struct {
	Value   float64 `json:"-"`
	Band    Range   `json:"-"`
	Real    string  `json:"real"`
	Optimal string  `json:"optimal"`
	Status  Status  `json:"status"`
}

type Comparison struct {
	SoilMoisture Check `json:"soil_moisture"`
	Temperature  Check `json:"temperature"`
	NDVI         Check `json:"ndvi"`
}

// AllGreen reports whether every metric is inside its band.
func (c Comparison) AllGreen() bool {
	return c.SoilMoisture.Status == StatusGreen && c.Temperature.Status == StatusGreen && c.NDVI.Status == StatusGreen
}

// Compare grades an observation against opt.
func Compare(obs models.EnvironmentalObservation, opt Optimal) Comparison {
	sm := obs.SoilMoisturePct()
	t := obs.TemperatureC()
	ndvi := obs.NDVI.Value
	return Comparison{
		SoilMoisture: Check{
			Value:   sm,
			Band:    opt.SoilMoisture,
			Real:    strconv.FormatFloat(sm, 'f', 1, 64),
			Optimal: fmt.Sprintf("%s-%s%%", num(opt.SoilMoisture.Min), num(opt.SoilMoisture.Max)),
			Status:  StatusOf(sm, opt.SoilMoisture.Min, opt.SoilMoisture.Max),
		},
		Temperature: Check{
			Value:   t,
			Band:    opt.Temperature,
			Real:    strconv.FormatFloat(t, 'f', 1, 64),
			Optimal: fmt.Sprintf("%s-%s°C", num(opt.Temperature.Min), num(opt.Temperature.Max)),
			Status:  StatusOf(t, opt.Temperature.Min, opt.Temperature.Max),
		},
		NDVI: Check{
			Value:   ndvi,
			Band:    opt.NDVI,
			Real:    strconv.FormatFloat(ndvi, 'f', 2, 64),
			Optimal: fmt.Sprintf("%s-%s", num(opt.NDVI.Min), num(opt.NDVI.Max)),
			Status:  StatusOf(ndvi, opt.NDVI.Min, opt.NDVI.Max),
		},
	}
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// moistureBands maps a catalog water need to a soil moisture band in percent.
var moistureBands = map[string]Range{
	"very low":    {Min: 20, Max: 40},
	"low":         {Min: 25, Max: 45},
	"medium":      {Min: 40, Max: 60},
	"medium-high": {Min: 50, Max: 70},
	"high":        {Min: 60, Max: 80},
}

// CatalogOptimal derives optimal bands from the crop reference data.
func CatalogOptimal(c models.Crop) Optimal {
	sm, ok := moistureBands[strings.ToLower(c.WaterNeed)]
	if !ok {
		sm = moistureBands["medium"]
	}
	return Optimal{
		SoilMoisture: sm,
		Temperature:  Range{Min: c.OptimalTemp[0], Max: c.OptimalTemp[1]},
		NDVI:         Range{Min: 0.6, Max: 0.9},
	}
}

// DataQuality summarises how trustworthy the resolved values are.
type DataQuality struct {
	HasInterpolatedData bool              `json:"has_interpolated_data"`
	OldestDataAgeDays   int               `json:"oldest_data_age_days"`
	DataSources         map[string]string `json:"data_sources"`
}

func qualityOf(obs models.EnvironmentalObservation) DataQuality {
	return DataQuality{
		HasInterpolatedData: obs.NDVI.Simulated() || obs.LST.Simulated() || obs.SoilMoisture.Simulated(),
		OldestDataAgeDays:   obs.OldestAgeDays(),
		DataSources: map[string]string{
			string(models.MetricNDVI):         string(obs.NDVI.Provenance),
			string(models.MetricLST):          string(obs.LST.Provenance),
			string(models.MetricSoilMoisture): string(obs.SoilMoisture.Provenance),
		},
	}
}

// Report is the result of a field analysis.
type Report struct {
	Comparison     Comparison      `json:"comparison"`
	Optimal        Optimal         `json:"optimal_conditions"`
	OptimalSource  string          `json:"optimal_source"`
	Geometry       envdata.Polygon `json:"geometry"`
	Recommendation string          `json:"terra_ai_recommendation"`
	DataQuality    DataQuality     `json:"data_quality"`
	AnalysisDate   time.Time       `json:"analysis_date"`
}

type Request struct {
	Lat, Lon  float64
	AreaM2    float64
	Crop      string
	Date      time.Time // zero means today
	SessionID string
}

// Observer resolves the field's environmental data.
type Observer interface {
	Resolve(ctx context.Context, q envdata.Query) models.EnvironmentalObservation
}

// Advisor supplies optimal bands and a recommendation.
type Advisor interface {
	OptimalConditions(ctx context.Context, crop string) (Optimal, string, error)
	Recommend(ctx context.Context, crop string, c Comparison) (string, error)
}

type Analyzer struct {
	Observer Observer
	Advisor  Advisor
	Now      func() time.Time
	Logger   *log.Logger
}

func NewAnalyzer(o Observer, a Advisor) *Analyzer {
	return &Analyzer{
		Observer: o,
		Advisor:  a,
		Now:      time.Now,
		Logger:   log.New(os.Stderr, "[fieldcheck] ", log.LstdFlags),
	}
}

var ErrBadRequest = errors.New("invalid field analysis request")

// Analyze resolves the field, compares it to the crop's bands and asks for
// one recommendation. Advisor failures fall back to catalog bands and a
// fixed message; an unknown crop without advisor bands is an error.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (Report, error) {
	if req.AreaM2 <= 0 || strings.TrimSpace(req.Crop) == "" {
		return Report{}, fmt.Errorf("%w: area_m2 and crop are required", ErrBadRequest)
	}
	now := a.Now()
	date := req.Date
	if date.IsZero() {
		date = now
	}
	extent := math.Sqrt(req.AreaM2)

	opt, source, err := a.optimal(ctx, req.Crop)
	if err != nil {
		return Report{}, err
	}

	obs := a.Observer.Resolve(ctx, envdata.Query{
		Lat:       req.Lat,
		Lon:       req.Lon,
		Date:      date,
		ExtentM:   extent,
		SessionID: req.SessionID,
	})
	cmp := Compare(obs, opt)

	rec := FallbackRecommendation
	if a.Advisor != nil {
		if text, err := a.Advisor.Recommend(ctx, req.Crop, cmp); err != nil {
			a.logf("recommendation failed, using fallback: %v", err)
		} else if text = strings.TrimSpace(text); text != "" {
			rec = text
		}
	}

	return Report{
		Comparison:     cmp,
		Optimal:        opt,
		OptimalSource:  source,
		Geometry:       envdata.Square(req.Lat, req.Lon, extent),
		Recommendation: rec,
		DataQuality:    qualityOf(obs),
		AnalysisDate:   now,
	}, nil
}

func (a *Analyzer) optimal(ctx context.Context, crop string) (Optimal, string, error) {
	var advErr error
	if a.Advisor != nil {
		opt, source, err := a.Advisor.OptimalConditions(ctx, crop)
		if err == nil {
			return opt, source, nil
		}
		advErr = err
		a.logf("optimal conditions for %q: %v", crop, err)
	}
	if c, ok := catalog.FindCrop(crop); ok {
		return CatalogOptimal(c), CatalogSource, nil
	}
	if advErr != nil {
		return Optimal{}, "", fmt.Errorf("optimal conditions for %q: %w", crop, advErr)
	}
	return Optimal{}, "", fmt.Errorf("%w: unknown crop %q", ErrBadRequest, crop)
}

func (a *Analyzer) logf(format string, args ...any) {
	if a.Logger != nil {
		a.Logger.Printf(format, args...)
	}
}
