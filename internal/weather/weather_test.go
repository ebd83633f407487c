package weather

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func quiet(r *Resolver) *Resolver {
	r.Logger = nil
	return r
}

func TestHistory(t *testing.T) {
	var query map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = map[string]string{}
		for k := range r.URL.Query() {
			query[k] = r.URL.Query().Get(k)
		}
		w.Write([]byte(`{"properties":{"parameter":{
			"T2M_MAX":{"20240502":29.5,"20240501":27.1,"20240503":-999},
			"T2M_MIN":{"20240501":15.2,"20240502":16.0,"20240503":-999},
			"RH2M":{"20240501":60,"20240502":58},
			"WS2M":{"20240501":3.1,"20240502":2.2},
			"PRECTOTCORR":{"20240501":0,"20240502":4.5},
			"ALLSKY_SFC_SW_DWN":{"20240501":22.4,"20240502":-999}
		}}}`))
	}))
	defer srv.Close()

	r := quiet(NewResolver(srv.URL, ""))
	got, err := r.Resolve(context.Background(), Request{
		Lat: 41.59, Lon: 1.52,
		StartDate: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC),
		Mode:      ModeHistory,
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if query["start"] != "20240501" || query["end"] != "20240503" || query["community"] != "AG" {
		t.Errorf("query = %v", query)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2: %+v", len(got), got)
	}
	if got[0].Date != "2024-05-01" || got[1].Date != "2024-05-02" {
		t.Errorf("dates = %s, %s; want ordered May 1, May 2", got[0].Date, got[1].Date)
	}
	if got[0].SWRadMJm2 == nil || *got[0].SWRadMJm2 != 22.4 || got[1].SWRadMJm2 != nil {
		t.Errorf("solar radiation not mapped: %+v, %+v", got[0].SWRadMJm2, got[1].SWRadMJm2)
	}
	if got[1].RainMM != 4.5 || got[1].Source != SourcePower {
		t.Errorf("record = %+v", got[1])
	}
	if m := got[0].MeanC(); m != (27.1+15.2)/2 {
		t.Errorf("MeanC = %v", m)
	}
}

func TestHistoryKeepsOneRecordPerDay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"properties":{"parameter":{
			"T2M_MAX":{"20240501":-999,"20240502":27.0,"20240503":-999,"20240504":31.0,"20240506":30.0},
			"T2M_MIN":{"20240501":-999,"20240502":15.0,"20240503":-999,"20240504":-999,"20240506":18.0},
			"RH2M":{"20240502":60,"20240503":-999,"20240504":55,"20240506":50},
			"WS2M":{"20240502":3.0,"20240503":-999,"20240504":2.0,"20240506":4.0},
			"PRECTOTCORR":{"20240502":1.0,"20240503":-999,"20240504":0,"20240506":2.0}
		}}}`))
	}))
	defer srv.Close()

	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	got, err := quiet(NewResolver(srv.URL, "")).Resolve(context.Background(), Request{
		StartDate: start,
		EndDate:   start.AddDate(0, 0, 6),
		Mode:      ModeHistory,
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != 6 {
		t.Fatalf("got %d records, want 6 (May 1 to May 6): %+v", len(got), got)
	}
	for i, d := range got {
		if want := start.AddDate(0, 0, i).Format("2006-01-02"); d.Date != want {
			t.Errorf("record %d date = %s, want %s", i, d.Date, want)
		}
		if d.TmaxC == powerFill || d.TminC == powerFill || d.RHPct == powerFill || d.WindMS == powerFill || d.RainMM < 0 {
			t.Errorf("record %d leaks a fill value: %+v", i, d)
		}
		if m := d.MeanC(); m < 10 || m > 30 {
			t.Errorf("record %d mean = %v", i, m)
		}
	}
	// May 1 takes May 2, May 3 repeats May 2 with no rain.
	if got[0].TmaxC != 27 || got[2].TmaxC != 27 || got[2].TminC != 15 || got[2].RainMM != 0 {
		t.Errorf("gap days = %+v, %+v", got[0], got[2])
	}
	// May 4 keeps its own max and carries the min; May 5 is absent.
	if got[3].TmaxC != 31 || got[3].TminC != 15 || got[3].RHPct != 55 {
		t.Errorf("Tmin-only fill = %+v", got[3])
	}
	if got[4].TmaxC != 31 || got[5].TmaxC != 30 || got[5].TminC != 18 {
		t.Errorf("missing day = %+v, next = %+v", got[4], got[5])
	}
}

func TestForecast(t *testing.T) {
	var days string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		days = r.URL.Query().Get("forecast_days")
		w.Write([]byte(`{"daily":{"time":["2024-05-02","2024-05-03"],
			"temperature_2m_max":[25,26],"temperature_2m_min":[14,15],
			"precipitation_sum":[0,1.2],"relative_humidity_2m_mean":[55,61],
			"wind_speed_10m_max":[10.1,8.4]}}`))
	}))
	defer srv.Close()

	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	r := quiet(NewResolver("", srv.URL))
	got, err := r.Resolve(context.Background(), Request{StartDate: start, EndDate: start.Add(36 * time.Hour), Mode: ModeForecast})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if days != "2" {
		t.Errorf("forecast_days = %q, want 2", days)
	}
	if len(got) != 2 || got[1].RainMM != 1.2 || got[1].Source != SourceOpenMeteo || got[1].SWRadMJm2 != nil {
		t.Errorf("forecast = %+v", got)
	}
}

func TestFallbacks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	now := time.Date(2024, 8, 10, 12, 0, 0, 0, time.UTC)
	r := quiet(NewResolver(srv.URL, srv.URL))
	r.Now = func() time.Time { return now }
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	hist, err := r.Resolve(context.Background(), Request{StartDate: start, EndDate: start.AddDate(0, 0, 5), Mode: ModeHistory})
	if err != nil || len(hist) != 1 {
		t.Fatalf("history fallback = %+v, %v", hist, err)
	}
	h := hist[0]
	if h.Date != "2024-05-01" || h.TmaxC != 28 || h.TminC != 18 || h.RHPct != 65 || h.WindMS != 3.5 || h.RainMM != 0 || h.SWRadMJm2 == nil || *h.SWRadMJm2 != 20.5 {
		t.Errorf("history fallback = %+v", h)
	}

	fc, err := r.Resolve(context.Background(), Request{StartDate: now, EndDate: now.AddDate(0, 0, 3), Mode: ModeForecast})
	if err != nil || len(fc) != 1 {
		t.Fatalf("forecast fallback = %+v, %v", fc, err)
	}
	f := fc[0]
	if f.Date != "2024-08-11" || f.TmaxC != 27 || f.TminC != 17 || f.RHPct != 70 || f.WindMS != 4.0 || f.RainMM != 2.5 {
		t.Errorf("forecast fallback = %+v", f)
	}

	if _, err := r.Resolve(context.Background(), Request{Mode: "hourly"}); err == nil {
		t.Errorf("unknown mode accepted")
	}
}

func TestForecastDays(t *testing.T) {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		end  time.Time
		want int
	}{
		{base, 1},
		{base.Add(-time.Hour), 1},
		{base.Add(25 * time.Hour), 2},
		{base.AddDate(0, 0, 7), 7},
		{base.AddDate(0, 0, 40), 16},
	}
	for _, tc := range tests {
		if got := ForecastDays(base, tc.end); got != tc.want {
			t.Errorf("ForecastDays(%s) = %d, want %d", tc.end, got, tc.want)
		}
	}
}
