package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/tatianab/terranaut/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "terranaut.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr(v float64) *float64 { return &v }

func testSetup() models.Setup {
	return models.Setup{
		Mode:      models.ModeMonitoring,
		FarmName:  "Mas Verd",
		FarmSize:  2,
		Location:  models.Location{Name: "Catalonia", Lat: 41.59, Lon: 1.52},
		Crop:      models.Crop{Name: "Tomatoes", GrowthDays: 50},
		StartDate: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestFarms(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateFarm(ctx, Farm{UserID: "u1", FarmName: " "}); err == nil {
		t.Fatalf("CreateFarm accepted an empty name")
	}
	f, err := s.CreateFarm(ctx, Farm{UserID: "u1", FarmName: "Mas Verd", FarmSize: 2.5})
	if err != nil {
		t.Fatalf("CreateFarm: %v", err)
	}
	if f.ID == "" {
		t.Fatalf("CreateFarm did not assign an id")
	}
	farms, err := s.ListFarms(ctx, "u1")
	if err != nil {
		t.Fatalf("ListFarms: %v", err)
	}
	if len(farms) != 1 || farms[0].FarmName != "Mas Verd" || farms[0].FarmSize != 2.5 {
		t.Errorf("ListFarms = %+v", farms)
	}
	other, _ := s.ListFarms(ctx, "u2")
	if len(other) != 0 {
		t.Errorf("ListFarms(u2) = %+v, want none", other)
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	state := models.FarmSession{CurrentDay: 1, Budget: 10000, WaterReserve: 100, EnvironmentalScore: 85}
	if err := s.CreateSession(ctx, NewSessionRow("s1", "u1", "", testSetup(), state)); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, err := s.LatestActiveSession(ctx, "u1")
	if err != nil {
		t.Fatalf("LatestActiveSession: %v", err)
	}
	if got.ID != "s1" || got.Budget != 10000 || got.Completed {
		t.Errorf("LatestActiveSession = %+v", got)
	}

	state.CurrentDay, state.Budget = 50, 4000
	if err := s.UpdateProgress(ctx, "s1", state, true); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	got, err = s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.CurrentDay != 50 || got.Budget != 4000 || !got.Completed {
		t.Errorf("GetSession after update = %+v", got)
	}
	if _, err := s.LatestActiveSession(ctx, "u1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("LatestActiveSession after completion: err = %v, want ErrNotFound", err)
	}
	if err := s.UpdateProgress(ctx, "missing", state, false); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateProgress(missing): err = %v, want ErrNotFound", err)
	}
	if ok, _ := s.OwnedBy(ctx, "s1", "u2"); ok {
		t.Errorf("OwnedBy(s1, u2) = true")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.LoadSnapshot(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LoadSnapshot before save: err = %v, want ErrNotFound", err)
	}
	save := models.GameSave{
		ID:       "s1",
		Setup:    testSetup(),
		State:    models.FarmSession{CurrentDay: 3, Budget: 9400, SoilMoisturePct: 71.5, NDVI: 0.69, Temperature: 24.25},
		Messages: []models.AgentMessage{{Text: "hi", Type: models.MessageInfo}},
	}
	if err := s.SaveSnapshot(ctx, save); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	save.State.CurrentDay = 4
	save.Outcome = &models.GameOutcome{FinalDay: 4, Quality: 80}
	if err := s.SaveSnapshot(ctx, save); err != nil {
		t.Fatalf("SaveSnapshot overwrite: %v", err)
	}

	got, err := s.LoadSnapshot(ctx, "s1")
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if got.State != save.State {
		t.Errorf("state = %+v, want %+v", got.State, save.State)
	}
	if got.Outcome == nil || got.Outcome.Quality != 80 || len(got.Messages) != 1 || !got.Setup.StartDate.Equal(save.Setup.StartDate) {
		t.Errorf("snapshot = %+v", got)
	}
	if err := s.SaveSnapshot(ctx, models.GameSave{}); err == nil {
		t.Error("SaveSnapshot without id succeeded")
	}
}

func TestReplaceAndLatestRecorded(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.CreateSession(ctx, NewSessionRow("s1", "u1", "", testSetup(), models.FarmSession{})); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	rows := []SatelliteRow{
		{Date: "2024-05-01", NDVI: ptr(0.61), SoilMoisture: ptr(0.30), LSTKelvin: ptr(295)},
		{Date: "2024-05-02", NDVI: ptr(0.63)},
		{Date: "2024-05-03", NDVI: ptr(0.66), SoilMoisture: ptr(0.33)},
	}
	n, err := s.ReplaceSessionData(ctx, "s1", rows)
	if err != nil || n != 3 {
		t.Fatalf("ReplaceSessionData = %d, %v", n, err)
	}
	// A second replace drops the earlier rows.
	if _, err := s.ReplaceSessionData(ctx, "s1", rows[:2]); err != nil {
		t.Fatalf("ReplaceSessionData: %v", err)
	}
	if c, _ := s.CountSessionData(ctx, "s1"); c != 2 {
		t.Errorf("CountSessionData = %d, want 2", c)
	}

	day := func(d int) time.Time { return time.Date(2024, 5, d, 0, 0, 0, 0, time.UTC) }
	tests := []struct {
		metric models.Metric
		before time.Time
		want   float64
		date   time.Time
	}{
		{models.MetricNDVI, day(10), 0.63, day(2)},
		{models.MetricNDVI, day(1), 0.61, day(1)},
		{models.MetricSoilMoisture, day(10), 0.30, day(1)},
		{models.MetricLST, day(10), 295, day(1)},
	}
	for _, tc := range tests {
		got, err := s.LatestRecorded(ctx, LatestQuery{Metric: tc.metric, SessionID: "s1", OnOrBefore: tc.before})
		if err != nil {
			t.Fatalf("LatestRecorded(%s): %v", tc.metric, err)
		}
		if got.Value != tc.want || !got.Date.Equal(tc.date) {
			t.Errorf("LatestRecorded(%s, %s) = %+v, want %v on %s", tc.metric, tc.before.Format(dateLayout), got, tc.want, tc.date.Format(dateLayout))
		}
	}
	if _, err := s.LatestRecorded(ctx, LatestQuery{Metric: models.MetricNDVI, SessionID: "s1", OnOrBefore: day(0)}); !errors.Is(err, ErrNotFound) {
		t.Errorf("LatestRecorded before any row: err = %v, want ErrNotFound", err)
	}
}

func TestRecordObservationByPosition(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	date := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	obs := models.EnvironmentalObservation{
		Date:         date,
		NDVI:         models.Reading{Metric: models.MetricNDVI, Value: 0.7, Provenance: models.ProvenanceReal},
		SoilMoisture: models.Reading{Metric: models.MetricSoilMoisture, Value: 0.5, Provenance: models.ProvenanceSynthetic},
		LST:          models.Reading{Metric: models.MetricLST, Value: 300, Provenance: models.ProvenanceReal},
	}
	if err := s.RecordObservation(ctx, "", 41.59, 1.52, obs); err != nil {
		t.Fatalf("RecordObservation: %v", err)
	}

	got, err := s.LatestRecorded(ctx, LatestQuery{Metric: models.MetricNDVI, Lat: 41.595, Lon: 1.515, OnOrBefore: date})
	if err != nil || got.Value != 0.7 {
		t.Errorf("LatestRecorded(ndvi) = %+v, %v", got, err)
	}
	if _, err := s.LatestRecorded(ctx, LatestQuery{Metric: models.MetricSoilMoisture, Lat: 41.59, Lon: 1.52, OnOrBefore: date}); !errors.Is(err, ErrNotFound) {
		t.Errorf("synthetic soil moisture was recorded: err = %v", err)
	}
	if _, err := s.LatestRecorded(ctx, LatestQuery{Metric: models.MetricNDVI, Lat: 43.26, Lon: -2.93, OnOrBefore: date}); !errors.Is(err, ErrNotFound) {
		t.Errorf("LatestRecorded at another position: err = %v, want ErrNotFound", err)
	}
}

func TestClearSatelliteData(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	for _, id := range []string{"s1", "s2"} {
		if err := s.CreateSession(ctx, NewSessionRow(id, "u1", "", testSetup(), models.FarmSession{})); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
	}
	if err := s.CreateSession(ctx, NewSessionRow("x", "u2", "", testSetup(), models.FarmSession{})); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	seed := func(id string) {
		if _, err := s.ReplaceSessionData(ctx, id, []SatelliteRow{{Date: "2024-06-01", NDVI: ptr(0.5)}, {Date: "2024-06-02", NDVI: ptr(0.5)}}); err != nil {
			t.Fatalf("ReplaceSessionData(%s): %v", id, err)
		}
	}
	seed("s1")
	now = now.Add(48 * time.Hour)
	seed("s2")
	seed("x")

	if n, err := s.ClearSatelliteData(ctx, ClearFilter{UserID: "u1", OlderThan: 24 * time.Hour}); err != nil || n != 2 {
		t.Errorf("clear older than 24h = %d, %v; want 2", n, err)
	}
	if n, err := s.ClearSatelliteData(ctx, ClearFilter{UserID: "u1", SessionID: "x"}); err != nil || n != 0 {
		t.Errorf("clear another user's session = %d, %v; want 0", n, err)
	}
	if n, err := s.ClearSatelliteData(ctx, ClearFilter{UserID: "u1"}); err != nil || n != 2 {
		t.Errorf("clear all = %d, %v; want 2", n, err)
	}
	if c, _ := s.CountSessionData(ctx, "x"); c != 2 {
		t.Errorf("other user's rows = %d, want 2", c)
	}
}
