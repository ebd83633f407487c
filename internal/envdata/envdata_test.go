package envdata

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tatianab/terranaut/internal/models"
	"github.com/tatianab/terranaut/internal/randsrc"
	"github.com/tatianab/terranaut/internal/store"
)

var testDate = time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)

func quietResolver(p Provider, s Recorder, src randsrc.Source) *Resolver {
	r := NewResolver(p, s, src)
	r.Logger = nil
	return r
}

func TestResolveWithFallback(t *testing.T) {
	ctx := context.Background()
	fail := Tier[int]{Name: "a", Fn: func(context.Context) (int, error) { return 0, errors.New("down") }}
	ok := Tier[int]{Name: "b", Fn: func(context.Context) (int, error) { return 7, nil }}

	v, name, err := ResolveWithFallback(ctx, fail, ok)
	if err != nil || v != 7 || name != "b" {
		t.Errorf("ResolveWithFallback = %d, %q, %v; want 7, b, nil", v, name, err)
	}
	if _, _, err := ResolveWithFallback(ctx, fail); !errors.Is(err, ErrExhausted) {
		t.Errorf("all failing: err = %v, want ErrExhausted", err)
	}
}

func TestSyntheticWithoutCredentials(t *testing.T) {
	r := quietResolver(NewAppEEARS("", ""), nil, randsrc.New(42))
	for i := 0; i < 50; i++ {
		obs := r.Resolve(context.Background(), Query{Lat: 41.59, Lon: 1.52, Date: testDate})
		if obs.NDVI.Provenance != models.ProvenanceSynthetic {
			t.Fatalf("NDVI provenance = %s, want SYNTHETIC", obs.NDVI.Provenance)
		}
		if v := obs.NDVI.Value; v < BaselineNDVI*0.9 || v > BaselineNDVI*1.1 {
			t.Errorf("NDVI = %v, outside 0.4656 ± 10%%", v)
		}
		if c := obs.TemperatureC(); c < 18.9-1e-9 || c > 23.1+1e-9 {
			t.Errorf("temperature = %v°C, outside 21 ± 10%%", c)
		}
		if v := obs.SoilMoisture.Value; v < BaselineSoilMoisture*0.9 || v > BaselineSoilMoisture*1.1 {
			t.Errorf("soil moisture = %v, outside 0.5167 ± 10%%", v)
		}
		if obs.OldestAgeDays() != 0 {
			t.Errorf("synthetic age = %d, want 0", obs.OldestAgeDays())
		}
	}
}

func TestSyntheticExtremes(t *testing.T) {
	r := quietResolver(nil, nil, &randsrc.Sequence{Values: []float64{0, 0.999999}})
	lo := r.Synthetic(models.MetricNDVI, testDate).Value
	hi := r.Synthetic(models.MetricNDVI, testDate).Value
	if math.Abs(lo-BaselineNDVI*0.9) > 1e-9 {
		t.Errorf("low draw = %v, want %v", lo, BaselineNDVI*0.9)
	}
	if hi > BaselineNDVI*1.1 || hi < BaselineNDVI*1.099 {
		t.Errorf("high draw = %v, want just under %v", hi, BaselineNDVI*1.1)
	}
}

type fakeProvider struct {
	mu      sync.Mutex
	samples map[models.Metric][]Sample
	err     error
	// extents records the footprint side of each LST call.
	extents []float64
	minLST  float64
}

func (f *fakeProvider) Samples(_ context.Context, m models.Metric, area Polygon, start, end time.Time) ([]Sample, error) {
	if f.err != nil {
		return nil, f.err
	}
	if m == models.MetricLST {
		ring := area.Coordinates[0]
		side := (ring[2][1] - ring[0][1]) * math.Pi / 180 * earthRadiusM
		f.mu.Lock()
		f.extents = append(f.extents, side)
		f.mu.Unlock()
		if side < f.minLST {
			return nil, ErrFootprintTooSmall
		}
	}
	return f.samples[m], nil
}

func TestProviderLookbackAndAge(t *testing.T) {
	p := &fakeProvider{
		minLST: 400,
		samples: map[models.Metric][]Sample{
			models.MetricNDVI: {
				{Date: testDate.AddDate(0, 0, -20), Value: 0.5},
				{Date: testDate.AddDate(0, 0, -4), Value: 0.71},
				{Date: testDate.AddDate(0, 0, 3), Value: 0.9},
			},
			models.MetricLST:          {{Date: testDate.AddDate(0, 0, -1), Value: 301.2}},
			models.MetricSoilMoisture: {{Date: testDate.AddDate(0, 0, -30), Value: 0.2}},
		},
	}
	r := quietResolver(p, nil, randsrc.Constant(0.5))
	obs := r.Resolve(context.Background(), Query{Lat: 41.59, Lon: 1.52, Date: testDate, ExtentM: 250})

	if obs.NDVI.Provenance != models.ProvenanceReal || obs.NDVI.Value != 0.71 || obs.NDVI.AgeDays != 4 {
		t.Errorf("NDVI = %+v; want REAL 0.71 aged 4 days", obs.NDVI)
	}
	if obs.LST.Provenance != models.ProvenanceReal || obs.LST.Value != 301.2 {
		t.Errorf("LST = %+v; want REAL 301.2 after retry", obs.LST)
	}
	if len(p.extents) != 2 || math.Abs(p.extents[1]-500) > 1 {
		t.Errorf("LST footprints = %v; want 250 then 500", p.extents)
	}
	// Outside the lookback window and nothing stored: synthetic.
	if obs.SoilMoisture.Provenance != models.ProvenanceSynthetic {
		t.Errorf("soil moisture provenance = %s, want SYNTHETIC", obs.SoilMoisture.Provenance)
	}
}

func TestLastRecordedRoundTrip(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "env.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()
	ctx := context.Background()

	recorded := models.EnvironmentalObservation{
		Date: testDate.AddDate(0, 0, -2),
		NDVI: models.Reading{Value: 0.68, Provenance: models.ProvenanceReal},
	}
	if err := st.RecordObservation(ctx, "", 41.59, 1.52, recorded); err != nil {
		t.Fatalf("RecordObservation: %v", err)
	}

	now := testDate.Add(10 * time.Hour)
	r := quietResolver(&fakeProvider{err: errors.New("network down")}, st, randsrc.Constant(0.5))
	r.Now = func() time.Time { return now }

	q := Query{Lat: 41.59, Lon: 1.52, Date: testDate}
	first := r.ResolveMetric(ctx, models.MetricNDVI, q)
	now = now.Add(36 * time.Hour)
	second := r.ResolveMetric(ctx, models.MetricNDVI, q)

	if first.Provenance != models.ProvenanceLastRecorded || second.Provenance != models.ProvenanceLastRecorded {
		t.Fatalf("provenance = %s, %s; want LAST_RECORDED", first.Provenance, second.Provenance)
	}
	if first.Value != 0.68 || second.Value != first.Value {
		t.Errorf("values = %v, %v; want 0.68 both times", first.Value, second.Value)
	}
	if first.AgeDays != 2 || second.AgeDays < first.AgeDays {
		t.Errorf("ages = %d, %d; want 2 then non-decreasing", first.AgeDays, second.AgeDays)
	}
}

func TestAppEEARSClient(t *testing.T) {
	var gotAuth, gotProduct string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req sampleRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotProduct = req.Product
		switch req.Product {
		case "MODIS/061/MOD11A2":
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"error":"footprint_too_small"}`))
		default:
			w.Write([]byte(`{"values":[{"date":"2024-06-10","value":0.62},{"date":"2024-06-12","value":null},{"date":"2024-06-13","value":0.64,"interpolated":true}]}`))
		}
	}))
	defer srv.Close()

	c := NewAppEEARS(srv.URL, "tok")
	area := Square(41.59, 1.52, 250)
	got, err := c.Samples(context.Background(), models.MetricNDVI, area, testDate.AddDate(0, 0, -15), testDate)
	if err != nil {
		t.Fatalf("Samples: %v", err)
	}
	if gotAuth != "Bearer tok" || gotProduct != "MODIS/061/MOD13Q1" {
		t.Errorf("request auth=%q product=%q", gotAuth, gotProduct)
	}
	if len(got) != 2 || !got[1].Interpolated || got[0].Value != 0.62 {
		t.Errorf("Samples = %+v", got)
	}

	if _, err := c.Samples(context.Background(), models.MetricLST, area, testDate, testDate); !errors.Is(err, ErrFootprintTooSmall) {
		t.Errorf("LST err = %v, want ErrFootprintTooSmall", err)
	}
	if _, err := NewAppEEARS(srv.URL, "").Samples(context.Background(), models.MetricNDVI, area, testDate, testDate); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("no token err = %v, want ErrNoCredentials", err)
	}
}

func TestAppEEARSMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"values":[{"date":"2024-06-10","value":0.6`))
	}))
	defer srv.Close()

	_, err := NewAppEEARS(srv.URL, "tok").Samples(context.Background(), models.MetricNDVI, Square(41.59, 1.52, 250), testDate, testDate)
	var syntax *json.SyntaxError
	if !errors.As(err, &syntax) || errors.Is(err, ErrNoSample) {
		t.Errorf("Samples on a truncated body: err = %v, want a decode error", err)
	}
}

func TestSquare(t *testing.T) {
	sq := Square(0, 0, 2*math.Pi*earthRadiusM/360) // one degree at the equator
	ring := sq.Coordinates[0]
	if len(ring) != 5 || ring[0] != ring[4] {
		t.Fatalf("ring not closed: %v", ring)
	}
	if math.Abs(ring[2][0]-0.5) > 1e-9 || math.Abs(ring[2][1]-0.5) > 1e-9 {
		t.Errorf("north-east corner = %v, want [0.5 0.5]", ring[2])
	}
}

type countSeq struct {
	counts []int
	calls  int
}

func (c *countSeq) CountSessionData(context.Context, string) (int, error) {
	n := c.counts[min(c.calls, len(c.counts)-1)]
	c.calls++
	return n, nil
}

func TestPollRecorded(t *testing.T) {
	b := Backoff{Initial: time.Millisecond, Max: 2 * time.Millisecond, MaxAttempts: 5}

	c := &countSeq{counts: []int{0, 0, 3}}
	n, err := PollRecorded(context.Background(), c, "s1", b)
	if err != nil || n != 3 || c.calls != 3 {
		t.Errorf("PollRecorded = %d, %v after %d calls; want 3, nil after 3", n, err, c.calls)
	}

	c = &countSeq{counts: []int{0}}
	if _, err := PollRecorded(context.Background(), c, "s1", b); !errors.Is(err, ErrPollExhausted) || c.calls != 5 {
		t.Errorf("exhausted: err = %v after %d calls", err, c.calls)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c = &countSeq{counts: []int{0}}
	if _, err := PollRecorded(ctx, c, "s1", Backoff{Initial: time.Hour, MaxAttempts: 3}); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled: err = %v", err)
	}
}

func TestResolveSeries(t *testing.T) {
	r := quietResolver(nil, nil, randsrc.Constant(0.5))
	out, err := r.ResolveSeries(context.Background(), Query{Lat: 1, Lon: 2}, testDate, testDate.AddDate(0, 0, 2), []models.Metric{models.MetricNDVI, models.MetricSoilMoisture})
	if err != nil {
		t.Fatalf("ResolveSeries: %v", err)
	}
	if got := len(out[models.MetricNDVI].Readings); got != 3 {
		t.Errorf("ndvi readings = %d, want 3", got)
	}
	if out[models.MetricSoilMoisture].Dataset.Unit != "m³/m³" {
		t.Errorf("smap unit = %q", out[models.MetricSoilMoisture].Dataset.Unit)
	}
	if _, err := r.ResolveSeries(context.Background(), Query{}, testDate, testDate.AddDate(0, 0, -1), nil); err == nil {
		t.Errorf("reversed range accepted")
	}
}
