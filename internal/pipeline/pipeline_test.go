package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tatianab/terranaut/internal/envdata"
	"github.com/tatianab/terranaut/internal/models"
	"github.com/tatianab/terranaut/internal/randsrc"
	"github.com/tatianab/terranaut/internal/weather"
)

var planting = time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

type fakeWeather struct {
	got  weather.Request
	days []weather.Daily
	err  error
}

func (f *fakeWeather) Resolve(_ context.Context, req weather.Request) ([]weather.Daily, error) {
	f.got = req
	return f.days, f.err
}

func synthetic() *envdata.Resolver {
	r := envdata.NewResolver(nil, nil, randsrc.Constant(0.5))
	r.Logger = nil
	return r
}

func TestBuildLastYear(t *testing.T) {
	w := &fakeWeather{days: []weather.Daily{
		{Date: "2024-04-01", TmaxC: 24, TminC: 12, RainMM: 0, Source: weather.SourcePower},
		{Date: "2024-04-02", TmaxC: 40, TminC: 30, RainMM: 3, Source: weather.SourcePower},
		{Date: "2024-04-03", TmaxC: 10, TminC: 2, Source: weather.SourcePower},
	}}
	b := NewBuilder(synthetic(), w)
	res, err := b.Build(context.Background(), Request{Lat: 41.68, Lon: 2.28, ExtentM: 250, Crop: "tomatoes", PlantingDate: planting, LastYearDays: 2})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if w.got.Mode != weather.ModeHistory || !w.got.EndDate.Equal(planting.AddDate(0, 0, 2)) {
		t.Errorf("weather request = %+v", w.got)
	}
	if len(res.Timeline) != 3 {
		t.Fatalf("timeline has %d rows, want 3", len(res.Timeline))
	}
	wantGDD := []float64{8, 20, 0}
	wantCum := []float64{8, 28, 28}
	for i, row := range res.Timeline {
		if row.GDD != wantGDD[i] || row.GDDCum != wantCum[i] {
			t.Errorf("row %d GDD %v/%v, want %v/%v", i, row.GDD, row.GDDCum, wantGDD[i], wantCum[i])
		}
		if row.Stage != "establishment" || row.NDVISource != string(models.ProvenanceSynthetic) {
			t.Errorf("row %d = %+v", i, row)
		}
		if row.NDVI != envdata.BaselineNDVI || row.SM != envdata.BaselineSoilMoisture {
			t.Errorf("row %d satellite = %v/%v", i, row.NDVI, row.SM)
		}
	}
	if res.Meta.Mode != ModeLastYear || len(res.Meta.WeatherSources) != 1 || res.Meta.Datasets["ndvi"] != "MODIS/061/MOD13Q1" {
		t.Errorf("meta = %+v", res.Meta)
	}
	if latest, ok := res.Latest(); !ok || latest.Date != "2024-04-03" {
		t.Errorf("Latest = %+v", latest)
	}
}

func TestWindowRealtime(t *testing.T) {
	now := time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)
	b := NewBuilder(synthetic(), &fakeWeather{})
	b.Now = func() time.Time { return now }
	start, end := b.Window(Request{Mode: ModeRealtime, PlantingDate: planting})
	if !start.Equal(planting) || !end.Equal(now.AddDate(0, 0, DefaultForecastDays)) {
		t.Errorf("Window = %s..%s", start, end)
	}
	_, end = b.Window(Request{Mode: ModeLastYear, PlantingDate: planting})
	if !end.Equal(planting.AddDate(0, 0, DefaultLastYearDays)) {
		t.Errorf("last_year end = %s", end)
	}
}

func TestBuildErrors(t *testing.T) {
	b := NewBuilder(synthetic(), &fakeWeather{err: errors.New("boom")})
	if _, err := b.Build(context.Background(), Request{ExtentM: 100}); !errors.Is(err, ErrBadRequest) {
		t.Errorf("missing planting date: err = %v", err)
	}
	if _, err := b.Build(context.Background(), Request{ExtentM: 100, PlantingDate: planting, Mode: "weekly"}); !errors.Is(err, ErrBadRequest) {
		t.Errorf("bad mode: err = %v", err)
	}
	if _, err := b.Build(context.Background(), Request{ExtentM: 100, PlantingDate: planting, LastYearDays: 3}); err == nil {
		t.Errorf("weather failure not reported")
	}
}

func TestLookup(t *testing.T) {
	l := lookup{start: planting, readings: []models.Reading{{Value: 1}, {Value: 2}}}
	for date, want := range map[string]float64{"2024-03-20": 1, "2024-04-01": 1, "2024-04-02": 2, "2024-06-01": 2} {
		if r, ok := l.at(date); !ok || r.Value != want {
			t.Errorf("at(%s) = %v, %v; want %v", date, r.Value, ok, want)
		}
	}
	if _, ok := (lookup{}).at("2024-04-01"); ok {
		t.Errorf("empty lookup returned a reading")
	}
}
