package api

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tatianab/terranaut/internal/envdata"
	"github.com/tatianab/terranaut/internal/models"
	"github.com/tatianab/terranaut/internal/randsrc"
	"github.com/tatianab/terranaut/internal/store"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var uploadSchema = mustSchema("upload.json")

func mustSchema(name string) *jsonschema.Schema {
	data, err := schemaFS.ReadFile("schemas/" + name)
	if err != nil {
		panic(err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, bytes.NewReader(data)); err != nil {
		panic(err)
	}
	return c.MustCompile(name)
}

// maxStoreDays caps the range of generated rows.
const maxStoreDays = 400

type fetchSatelliteReq struct {
	Lat       float64         `json:"lat"`
	Lon       float64         `json:"lon"`
	ExtentM   float64         `json:"extent_m"`
	StartDate string          `json:"start_date"`
	EndDate   string          `json:"end_date"`
	Datasets  []models.Metric `json:"datasets"`
	SessionID string          `json:"game_session_id"`
}

type datasetValue struct {
	Date        string  `json:"date"`
	Value       float64 `json:"value"`
	AgeDays     int     `json:"age_days"`
	IsSimulated bool    `json:"is_simulated"`
	Provenance  string  `json:"provenance"`
}

type datasetView struct {
	Dataset    string         `json:"dataset"`
	Values     []datasetValue `json:"values"`
	Unit       string         `json:"unit"`
	DataSource string         `json:"data_source"`
}

func (s *Server) handleFetchSatellite(w http.ResponseWriter, r *http.Request) {
	var req fetchSatelliteReq
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	today := s.Now().UTC()
	start, err := parseDate("start_date", req.StartDate, today)
	if err != nil {
		s.fail(w, err)
		return
	}
	end, err := parseDate("end_date", req.EndDate, start)
	if err != nil {
		s.fail(w, err)
		return
	}
	if req.ExtentM <= 0 {
		req.ExtentM = envdata.DefaultExtentM
	}
	if len(req.Datasets) == 0 {
		req.Datasets = []models.Metric{models.MetricNDVI, models.MetricLST, models.MetricSoilMoisture}
	}
	for _, m := range req.Datasets {
		if _, ok := envdata.DatasetFor(m); !ok {
			s.fail(w, fmt.Errorf("%w: unknown dataset %q", errBadRequest, m))
			return
		}
	}

	q := envdata.Query{Lat: req.Lat, Lon: req.Lon, ExtentM: req.ExtentM, SessionID: s.callerSession(r, req.SessionID)}
	series, err := s.satellite.ResolveSeries(r.Context(), q, start, end, req.Datasets)
	if err != nil {
		s.fail(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	out := make(map[models.Metric]datasetView, len(series))
	for m, ser := range series {
		v := datasetView{Dataset: ser.Dataset.Product, Unit: ser.Dataset.Unit}
		observed := 0
		for i, rd := range ser.Readings {
			if rd.Provenance == models.ProvenanceReal {
				observed++
			}
			v.Values = append(v.Values, datasetValue{
				Date:        ser.Start.AddDate(0, 0, i).Format(models.DateLayout),
				Value:       rd.Value,
				AgeDays:     rd.AgeDays,
				IsSimulated: rd.Simulated(),
				Provenance:  string(rd.Provenance),
			})
		}
		switch observed {
		case len(ser.Readings):
			v.DataSource = "REAL"
		case 0:
			v.DataSource = "SIMULATED"
		default:
			v.DataSource = "MIXED"
		}
		out[m] = v
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"geometry": envdata.Square(req.Lat, req.Lon, req.ExtentM),
		"datasets": out,
	})
}

type storeSatelliteReq struct {
	SessionID string  `json:"game_session_id"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	StartDate string  `json:"start_date"`
	EndDate   string  `json:"end_date"`
}

// handleStoreSatellite generates one simulated row per day and replaces the session's rows.
func (s *Server) handleStoreSatellite(w http.ResponseWriter, r *http.Request) {
	var req storeSatelliteReq
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	if req.SessionID == "" || req.StartDate == "" || req.EndDate == "" {
		s.fail(w, fmt.Errorf("%w: Missing required parameters", errBadRequest))
		return
	}
	start, err := parseDate("start_date", req.StartDate, time.Time{})
	if err != nil {
		s.fail(w, err)
		return
	}
	end, err := parseDate("end_date", req.EndDate, time.Time{})
	if err != nil {
		s.fail(w, err)
		return
	}
	if end.Before(start) || end.Sub(start) > maxStoreDays*24*time.Hour {
		s.fail(w, fmt.Errorf("%w: date range must be 0-%d days", errBadRequest, maxStoreDays))
		return
	}
	if !s.owns(w, r, req.SessionID) {
		return
	}

	rows := SimulatedRows(s.rand, req.Lat, req.Lon, start, end)
	n, err := s.store.ReplaceSessionData(r.Context(), req.SessionID, rows)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.logf("stored %d simulated satellite rows for session %s", n, req.SessionID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "records_created": n, "data": rows})
}

// SimulatedRows generates plausible daily values from start to end inclusive.
func SimulatedRows(src randsrc.Source, lat, lon float64, start, end time.Time) []store.SatelliteRow {
	var rows []store.SatelliteRow
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		ndvi := round(clamp(0.65+(src.Float64()-0.5)*0.15, 0.3, 0.95), 3)
		lstK := round(295+(src.Float64()-0.5)*20, 2)
		lstC := round(lstK-273.15, 2)
		sm := round(clamp(0.35+(src.Float64()-0.5)*0.2, 0.1, 0.6), 3)
		rows = append(rows, store.SatelliteRow{
			Latitude:     lat,
			Longitude:    lon,
			Date:         d.Format(models.DateLayout),
			NDVI:         &ndvi,
			LSTKelvin:    &lstK,
			LSTCelsius:   &lstC,
			SoilMoisture: &sm,
			DataSource:   store.SourceSimulated,
		})
	}
	return rows
}

// UploadRow is one day of gap-filled satellite data. LST values are in °C.
type UploadRow struct {
	Date        string   `json:"date"`
	NDVIObs     *float64 `json:"NDVI_obs"`
	NDVISyn     float64  `json:"NDVI_syn"`
	NDVISynth   bool     `json:"NDVI_is_synth"`
	NDVIAgeDays int      `json:"NDVI_age_days"`
	LSTObs      *float64 `json:"LST_obs"`
	LSTSyn      float64  `json:"LST_syn"`
	LSTSynth    bool     `json:"LST_is_synth"`
	LSTAgeDays  int      `json:"LST_age_days"`
	SMObs       *float64 `json:"SM_obs"`
	SMSyn       float64  `json:"SM_syn"`
	SMSynth     bool     `json:"SM_is_synth"`
	SMAgeDays   int      `json:"SM_age_days"`
}

type uploadReq struct {
	SessionID string      `json:"game_session_id"`
	Rows      []UploadRow `json:"satellite_data"`
}

func (s *Server) handleUploadSatellite(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		s.fail(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		s.fail(w, fmt.Errorf("%w: invalid json: %v", errBadRequest, err))
		return
	}
	if err := uploadSchema.Validate(doc); err != nil {
		s.fail(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	var req uploadReq
	if err := json.Unmarshal(raw, &req); err != nil {
		s.fail(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	uid := userID(r)
	var sess store.SessionRow
	if req.SessionID == "" {
		sess, err = s.store.LatestActiveSession(r.Context(), uid)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "No active game session found. Please start a game first.")
			return
		}
	} else {
		sess, err = s.store.GetSession(r.Context(), req.SessionID)
		if err == nil && sess.UserID != uid {
			err = store.ErrNotFound
		}
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Game session not found or unauthorized")
			return
		}
	}
	if err != nil {
		s.fail(w, err)
		return
	}

	rows := make([]store.SatelliteRow, len(req.Rows))
	interpolated := 0
	for i, u := range req.Rows {
		rows[i] = u.toRow(sess.Latitude, sess.Longitude)
		if rows[i].IsInterpolated {
			interpolated++
		}
	}
	n, err := s.store.ReplaceSessionData(r.Context(), sess.ID, rows)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.logf("uploaded %d satellite rows for session %s", n, sess.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"game_session_id":  sess.ID,
		"records_uploaded": n,
		"message":          "Real satellite data uploaded successfully",
		"data_summary": map[string]any{
			"date_range":         map[string]string{"start": rows[0].Date, "end": rows[len(rows)-1].Date},
			"interpolated_count": interpolated,
			"observed_count":     n - interpolated,
		},
	})
}

func (u UploadRow) toRow(lat, lon float64) store.SatelliteRow {
	ndvi := pick(u.NDVIObs, u.NDVISyn)
	lstC := pick(u.LSTObs, u.LSTSyn)
	lstK := lstC + 273.15
	sm := pick(u.SMObs, u.SMSyn)
	row := store.SatelliteRow{
		Latitude:       lat,
		Longitude:      lon,
		Date:           u.Date,
		NDVI:           &ndvi,
		LSTKelvin:      &lstK,
		LSTCelsius:     &lstC,
		SoilMoisture:   &sm,
		IsInterpolated: u.NDVISynth || u.LSTSynth || u.SMSynth,
		DataAgeDays:    max(u.NDVIAgeDays, u.LSTAgeDays, u.SMAgeDays),
		DataSource:     store.SourceReal,
	}
	row.SetFlags(store.QualityFlags{NDVISynthetic: u.NDVISynth, LSTSynthetic: u.LSTSynth, SMSynthetic: u.SMSynth})
	return row
}

func pick(obs *float64, syn float64) float64 {
	if obs != nil {
		return *obs
	}
	return syn
}

type clearCacheReq struct {
	SessionID      string  `json:"game_session_id"`
	OlderThanHours float64 `json:"older_than_hours"`
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	var req clearCacheReq
	if err := decode(r, &req); err != nil && !errors.Is(err, io.EOF) {
		s.fail(w, err)
		return
	}
	if req.OlderThanHours < 0 {
		s.fail(w, fmt.Errorf("%w: older_than_hours must be positive", errBadRequest))
		return
	}
	n, err := s.store.ClearSatelliteData(r.Context(), store.ClearFilter{
		UserID:    userID(r),
		SessionID: strings.TrimSpace(req.SessionID),
		OlderThan: time.Duration(req.OlderThanHours * float64(time.Hour)),
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	s.logf("cleared %d satellite rows", n)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"records_deleted": n,
		"message":         "Satellite data cache cleared successfully",
	})
}

// callerSession returns sessionID when the bearer of r owns it, and "" otherwise.
func (s *Server) callerSession(r *http.Request, sessionID string) string {
	if sessionID == "" || s.store == nil {
		return ""
	}
	uid := s.bearerUser(r)
	if uid == "" {
		return ""
	}
	ok, err := s.store.OwnedBy(r.Context(), sessionID, uid)
	if err != nil || !ok {
		return ""
	}
	return sessionID
}

// owns writes 404 and returns false unless the caller owns sessionID.
func (s *Server) owns(w http.ResponseWriter, r *http.Request, sessionID string) bool {
	ok, err := s.store.OwnedBy(r.Context(), sessionID, userID(r))
	if err != nil {
		s.fail(w, err)
		return false
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Game session not found or unauthorized")
		return false
	}
	return true
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
