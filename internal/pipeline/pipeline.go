// Package pipeline builds a day-by-day field timeline that joins satellite
// readings, weather and growing-degree-days.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tatianab/terranaut/internal/envdata"
	"github.com/tatianab/terranaut/internal/growth"
	"github.com/tatianab/terranaut/internal/models"
	"github.com/tatianab/terranaut/internal/weather"
)

// Mode selects the time window of the timeline.
type Mode string

const (
	ModeLastYear Mode = "last_year"
	ModeRealtime Mode = "realtime"

	DefaultLastYearDays = 120
	DefaultForecastDays = 7
)

var ErrBadRequest = errors.New("invalid pipeline request")

type Request struct {
	Lat          float64   `json:"lat"`
	Lon          float64   `json:"lon"`
	ExtentM      float64   `json:"extent_m"`
	Crop         string    `json:"crop"`
	PlantingDate time.Time `json:"-"`
	Mode         Mode      `json:"mode"`
	LastYearDays int       `json:"last_year_days,omitempty"`
	ForecastDays int       `json:"forecast_days,omitempty"`
	SessionID    string    `json:"game_session_id,omitempty"`
}

// Row is one day of the timeline.
type Row struct {
	Date        string   `json:"date"`
	NDVI        float64  `json:"NDVI"`
	NDVIAgeDays int      `json:"NDVI_age_days"`
	NDVISource  string   `json:"NDVI_source"`
	LSTC        float64  `json:"LST_C"`
	LSTAgeDays  int      `json:"LST_age_days"`
	LSTSource   string   `json:"LST_source"`
	SM          float64  `json:"SM_m3m3"`
	SMAgeDays   int      `json:"SM_age_days"`
	SMSource    string   `json:"SM_source"`
	TmaxC       float64  `json:"Tmax_C"`
	TminC       float64  `json:"Tmin_C"`
	RHPct       float64  `json:"RH_pct"`
	WindMS      float64  `json:"Wind_ms"`
	RainMM      float64  `json:"Rain_mm"`
	SWRadMJm2   *float64 `json:"SWrad_MJm2,omitempty"`
	GDD         float64  `json:"GDD"`
	GDDCum      float64  `json:"GDD_cum"`
	Stage       string   `json:"stage"`
	SourceMeteo string   `json:"source_meteo"`
}

type Field struct {
	Lat          float64 `json:"lat"`
	Lon          float64 `json:"lon"`
	ExtentM      float64 `json:"extent_m"`
	Crop         string  `json:"crop"`
	PlantingDate string  `json:"planting_date"`
}

type Meta struct {
	Mode           Mode              `json:"mode"`
	StartDate      string            `json:"start_date"`
	EndDate        string            `json:"end_date"`
	Datasets       map[string]string `json:"datasets"`
	WeatherSources []string          `json:"weather_sources"`
}

type Result struct {
	Field    Field `json:"field"`
	Timeline []Row `json:"timeline"`
	Meta     Meta  `json:"meta"`
}

// Latest returns the last timeline row.
func (r Result) Latest() (Row, bool) {
	if len(r.Timeline) == 0 {
		return Row{}, false
	}
	return r.Timeline[len(r.Timeline)-1], true
}

// SeriesResolver resolves satellite readings over a date range.
type SeriesResolver interface {
	ResolveSeries(ctx context.Context, q envdata.Query, start, end time.Time, metrics []models.Metric) (map[models.Metric]envdata.Series, error)
}

// WeatherResolver fetches daily weather.
type WeatherResolver interface {
	Resolve(ctx context.Context, req weather.Request) ([]weather.Daily, error)
}

type Builder struct {
	Satellite SeriesResolver
	Weather   WeatherResolver
	Now       func() time.Time
}

func NewBuilder(s SeriesResolver, w WeatherResolver) *Builder {
	return &Builder{Satellite: s, Weather: w, Now: time.Now}
}

var metrics = []models.Metric{models.MetricNDVI, models.MetricLST, models.MetricSoilMoisture}

// Window returns the date range covered by req.
func (b *Builder) Window(req Request) (start, end time.Time) {
	start = req.PlantingDate
	switch req.Mode {
	case ModeRealtime:
		days := req.ForecastDays
		if days <= 0 {
			days = DefaultForecastDays
		}
		end = b.Now().AddDate(0, 0, days)
	default:
		days := req.LastYearDays
		if days <= 0 {
			days = DefaultLastYearDays
		}
		end = start.AddDate(0, 0, days)
	}
	return start, end
}

// Build fetches satellite and weather data concurrently and joins them by
// date. Weather drives the rows.
func (b *Builder) Build(ctx context.Context, req Request) (Result, error) {
	if req.PlantingDate.IsZero() || req.ExtentM <= 0 {
		return Result{}, fmt.Errorf("%w: planting_date and extent_m are required", ErrBadRequest)
	}
	if req.Mode == "" {
		req.Mode = ModeLastYear
	}
	if req.Mode != ModeLastYear && req.Mode != ModeRealtime {
		return Result{}, fmt.Errorf("%w: unknown mode %q", ErrBadRequest, req.Mode)
	}
	start, end := b.Window(req)
	if end.Before(start) {
		return Result{}, fmt.Errorf("%w: window ends before planting date", ErrBadRequest)
	}

	var (
		series map[models.Metric]envdata.Series
		days   []weather.Daily
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		series, err = b.Satellite.ResolveSeries(gctx, envdata.Query{
			Lat: req.Lat, Lon: req.Lon, ExtentM: req.ExtentM, SessionID: req.SessionID,
		}, start, end, metrics)
		return err
	})
	g.Go(func() error {
		mode := weather.ModeHistory
		if req.Mode == ModeRealtime {
			mode = weather.ModeForecast
		}
		var err error
		days, err = b.Weather.Resolve(gctx, weather.Request{Lat: req.Lat, Lon: req.Lon, StartDate: start, EndDate: end, Mode: mode})
		return err
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	res := Result{
		Field: Field{
			Lat:          req.Lat,
			Lon:          req.Lon,
			ExtentM:      req.ExtentM,
			Crop:         req.Crop,
			PlantingDate: req.PlantingDate.Format(models.DateLayout),
		},
		Meta: Meta{
			Mode:      req.Mode,
			StartDate: start.Format(models.DateLayout),
			EndDate:   end.Format(models.DateLayout),
			Datasets:  map[string]string{},
		},
	}
	sources := map[string]bool{}
	for _, m := range metrics {
		if ds, ok := envdata.DatasetFor(m); ok {
			res.Meta.Datasets[string(m)] = ds.Product
		}
	}

	byDate := make(map[models.Metric]lookup, len(metrics))
	for _, m := range metrics {
		byDate[m] = lookup{start: series[m].Start, readings: series[m].Readings}
	}

	var acc growth.Accumulator
	for _, d := range days {
		gdd := acc.Add(d.TmaxC, d.TminC)
		row := Row{
			Date:        d.Date,
			TmaxC:       d.TmaxC,
			TminC:       d.TminC,
			RHPct:       d.RHPct,
			WindMS:      d.WindMS,
			RainMM:      d.RainMM,
			SWRadMJm2:   d.SWRadMJm2,
			GDD:         gdd,
			GDDCum:      acc.Total,
			Stage:       string(acc.Stage()),
			SourceMeteo: d.Source,
		}
		if r, ok := byDate[models.MetricNDVI].at(d.Date); ok {
			row.NDVI, row.NDVIAgeDays, row.NDVISource = r.Value, r.AgeDays, string(r.Provenance)
		}
		if r, ok := byDate[models.MetricLST].at(d.Date); ok {
			row.LSTC, row.LSTAgeDays, row.LSTSource = r.Value-273.15, r.AgeDays, string(r.Provenance)
		}
		if r, ok := byDate[models.MetricSoilMoisture].at(d.Date); ok {
			row.SM, row.SMAgeDays, row.SMSource = r.Value, r.AgeDays, string(r.Provenance)
		}
		res.Timeline = append(res.Timeline, row)
		if !sources[d.Source] {
			sources[d.Source] = true
			res.Meta.WeatherSources = append(res.Meta.WeatherSources, d.Source)
		}
	}
	return res, nil
}

// lookup finds the reading for a date by its offset into the series; dates
// past either end use the nearest reading.
type lookup struct {
	start    time.Time
	readings []models.Reading
}

func (l lookup) at(date string) (models.Reading, bool) {
	if len(l.readings) == 0 {
		return models.Reading{}, false
	}
	d, err := time.Parse(models.DateLayout, date)
	if err != nil {
		return models.Reading{}, false
	}
	i := int(d.Sub(l.start).Hours() / 24)
	return l.readings[min(max(i, 0), len(l.readings)-1)], true
}
