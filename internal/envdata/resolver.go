// Package envdata resolves NDVI, land-surface temperature and soil moisture for
// a location and day. Each metric walks its own fallback chain: the remote
// provider, then the last value recorded in the store, then a synthetic value.
package envdata

import (
	"context"
	"errors"
	"log"
	"math"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tatianab/terranaut/internal/models"
	"github.com/tatianab/terranaut/internal/randsrc"
	"github.com/tatianab/terranaut/internal/store"
)

// LookbackDays is how far before the requested date the provider is searched.
const LookbackDays = 15

// DefaultExtentM is the footprint side used when a query does not set one.
const DefaultExtentM = 250

// Synthetic baselines, perturbed by ±SyntheticJitter on every draw.
const (
	BaselineNDVI         = 0.4656
	BaselineTempC        = 21.0
	BaselineSoilMoisture = 0.5167
	SyntheticJitter      = 0.10
)

// ErrNoSample means the provider had nothing inside the lookback window.
var ErrNoSample = errors.New("envdata: no sample in lookback window")

// Recorder is the part of the store the resolver reads and writes.
type Recorder interface {
	LatestRecorded(ctx context.Context, q store.LatestQuery) (store.Recorded, error)
	RecordObservation(ctx context.Context, sessionID string, lat, lon float64, obs models.EnvironmentalObservation) error
}

// Query identifies the place and day to resolve.
type Query struct {
	Lat, Lon  float64
	Date      time.Time
	ExtentM   float64
	SessionID string
}

// Resolver produces observations. Provider and Store may be nil; the chain then
// skips those tiers.
type Resolver struct {
	Provider Provider
	Store    Recorder
	Rand     randsrc.Source
	Now      func() time.Time
	Logger   *log.Logger

	mu sync.Mutex // guards Rand
}

func NewResolver(p Provider, s Recorder, src randsrc.Source) *Resolver {
	return &Resolver{
		Provider: p,
		Store:    s,
		Rand:     src,
		Now:      time.Now,
		Logger:   log.New(os.Stderr, "[envdata] ", log.LstdFlags),
	}
}

// Resolve resolves the three metrics concurrently. It never fails; the
// provenance of each reading tells the caller how much to trust it.
func (r *Resolver) Resolve(ctx context.Context, q Query) models.EnvironmentalObservation {
	obs := models.EnvironmentalObservation{Date: day(q.Date)}
	var g errgroup.Group
	g.Go(func() error { obs.NDVI = r.ResolveMetric(ctx, models.MetricNDVI, q); return nil })
	g.Go(func() error { obs.LST = r.ResolveMetric(ctx, models.MetricLST, q); return nil })
	g.Go(func() error { obs.SoilMoisture = r.ResolveMetric(ctx, models.MetricSoilMoisture, q); return nil })
	_ = g.Wait()

	if r.Store != nil && hasObserved(obs) {
		if err := r.Store.RecordObservation(ctx, q.SessionID, q.Lat, q.Lon, obs); err != nil {
			r.logf("record observation: %v", err)
		}
	}
	return obs
}

// ResolveMetric walks the fallback chain of a single metric.
func (r *Resolver) ResolveMetric(ctx context.Context, m models.Metric, q Query) models.Reading {
	reading, _, err := ResolveWithFallback(ctx,
		Tier[models.Reading]{Name: "provider", Fn: func(ctx context.Context) (models.Reading, error) { return r.fromProvider(ctx, m, q) }},
		Tier[models.Reading]{Name: "recorded", Fn: func(ctx context.Context) (models.Reading, error) { return r.fromStore(ctx, m, q) }},
		Tier[models.Reading]{Name: "synthetic", Fn: func(context.Context) (models.Reading, error) { return r.Synthetic(m, q.Date), nil }},
	)
	if err != nil {
		// Only a cancelled context gets here.
		r.logf("resolve %s: %v", m, err)
		return r.Synthetic(m, q.Date)
	}
	return reading
}

func (r *Resolver) fromProvider(ctx context.Context, m models.Metric, q Query) (models.Reading, error) {
	if r.Provider == nil {
		return models.Reading{}, ErrNoCredentials
	}
	date := day(q.Date)
	start := date.AddDate(0, 0, -LookbackDays)
	extent := q.ExtentM
	if extent <= 0 {
		extent = DefaultExtentM
	}

	samples, err := r.Provider.Samples(ctx, m, Square(q.Lat, q.Lon, extent), start, date)
	if m == models.MetricLST && errors.Is(err, ErrFootprintTooSmall) {
		r.logf("lst footprint %.0fm too small, retrying at %.0fm", extent, extent*2)
		samples, err = r.Provider.Samples(ctx, m, Square(q.Lat, q.Lon, extent*2), start, date)
	}
	if err != nil {
		if !errors.Is(err, ErrNoCredentials) {
			r.logf("provider %s: %v", m, err)
		}
		return models.Reading{}, err
	}

	var best *Sample
	for i := range samples {
		s := &samples[i]
		d := day(s.Date)
		if d.After(date) || d.Before(start) {
			continue
		}
		if best == nil || d.After(day(best.Date)) {
			best = s
		}
	}
	if best == nil {
		return models.Reading{}, ErrNoSample
	}
	prov := models.ProvenanceReal
	if best.Interpolated {
		prov = models.ProvenanceInterpolated
	}
	return models.Reading{
		Metric:     m,
		Value:      best.Value,
		Provenance: prov,
		AgeDays:    daysBetween(day(best.Date), date),
		SampleDate: day(best.Date),
	}, nil
}

func (r *Resolver) fromStore(ctx context.Context, m models.Metric, q Query) (models.Reading, error) {
	if r.Store == nil {
		return models.Reading{}, store.ErrNotFound
	}
	rec, err := r.Store.LatestRecorded(ctx, store.LatestQuery{
		Metric:     m,
		SessionID:  q.SessionID,
		Lat:        q.Lat,
		Lon:        q.Lon,
		OnOrBefore: day(q.Date),
	})
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			r.logf("recorded %s: %v", m, err)
		}
		return models.Reading{}, err
	}
	return models.Reading{
		Metric:     m,
		Value:      rec.Value,
		Provenance: models.ProvenanceLastRecorded,
		AgeDays:    daysBetween(rec.Date, r.now()),
		SampleDate: rec.Date,
	}, nil
}

// Synthetic draws a baseline value for m with uniform ±10% noise. LST is
// perturbed in Celsius and reported in Kelvin.
func (r *Resolver) Synthetic(m models.Metric, date time.Time) models.Reading {
	r.mu.Lock()
	defer r.mu.Unlock()
	var v float64
	switch m {
	case models.MetricNDVI:
		v = randsrc.Jitter(r.Rand, BaselineNDVI, SyntheticJitter)
	case models.MetricLST:
		v = randsrc.Jitter(r.Rand, BaselineTempC, SyntheticJitter) + 273.15
	case models.MetricSoilMoisture:
		v = randsrc.Jitter(r.Rand, BaselineSoilMoisture, SyntheticJitter)
	}
	return models.Reading{Metric: m, Value: v, Provenance: models.ProvenanceSynthetic, SampleDate: day(date)}
}

func (r *Resolver) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

func (r *Resolver) logf(format string, args ...any) {
	if r.Logger != nil {
		r.Logger.Printf(format, args...)
	}
}

func hasObserved(obs models.EnvironmentalObservation) bool {
	for _, rd := range []models.Reading{obs.NDVI, obs.LST, obs.SoilMoisture} {
		if rd.Provenance == models.ProvenanceReal || rd.Provenance == models.ProvenanceInterpolated {
			return true
		}
	}
	return false
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// daysBetween counts whole days from a to b, never negative.
func daysBetween(a, b time.Time) int {
	n := int(math.Floor(b.Sub(a).Hours() / 24))
	return max(n, 0)
}
