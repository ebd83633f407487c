package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/tatianab/terranaut/internal/advisor"
	"github.com/tatianab/terranaut/internal/envdata"
	"github.com/tatianab/terranaut/internal/fieldcheck"
	"github.com/tatianab/terranaut/internal/pipeline"
	"github.com/tatianab/terranaut/internal/weather"
)

type fetchWeatherReq struct {
	Lat       float64      `json:"lat"`
	Lon       float64      `json:"lon"`
	StartDate string       `json:"start_date"`
	EndDate   string       `json:"end_date"`
	Mode      weather.Mode `json:"mode"`
}

func (s *Server) handleFetchWeather(w http.ResponseWriter, r *http.Request) {
	var req fetchWeatherReq
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	if req.Mode != weather.ModeHistory && req.Mode != weather.ModeForecast {
		s.fail(w, fmt.Errorf("%w: mode must be history or forecast", errBadRequest))
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
	days, err := s.weather.Resolve(r.Context(), weather.Request{Lat: req.Lat, Lon: req.Lon, StartDate: start, EndDate: end, Mode: req.Mode})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": days})
}

type analyzeFieldReq struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	AreaM2    float64 `json:"area_m2"`
	Crop      string  `json:"crop"`
	StartDate string  `json:"start_date"`
	EndDate   string  `json:"end_date"`
	SessionID string  `json:"game_session_id"`
}

func (s *Server) handleAnalyzeField(w http.ResponseWriter, r *http.Request) {
	var req analyzeFieldReq
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	date, err := parseDate("end_date", req.EndDate, s.Now().UTC())
	if err != nil {
		s.fail(w, err)
		return
	}
	report, err := s.analyzer.Analyze(r.Context(), fieldcheck.Request{
		Lat:       req.Lat,
		Lon:       req.Lon,
		AreaM2:    req.AreaM2,
		Crop:      req.Crop,
		Date:      date,
		SessionID: s.callerSession(r, req.SessionID),
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleOptimalConditions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Crop string `json:"crop"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	if strings.TrimSpace(req.Crop) == "" {
		s.fail(w, fmt.Errorf("%w: Crop name is required", errBadRequest))
		return
	}
	opt, source, err := s.advisor.OptimalConditions(r.Context(), req.Crop)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"crop": req.Crop, "optimal_conditions": opt, "source": source})
}

type runPipelineReq struct {
	pipeline.Request
	PlantingDate string `json:"planting_date"`
}

func (s *Server) handleRunPipeline(w http.ResponseWriter, r *http.Request) {
	var req runPipelineReq
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	if req.PlantingDate == "" {
		s.fail(w, fmt.Errorf("%w: planting_date is required", errBadRequest))
		return
	}
	planted, err := parseDate("planting_date", req.PlantingDate, s.Now())
	if err != nil {
		s.fail(w, err)
		return
	}
	preq := req.Request
	preq.PlantingDate = planted
	preq.SessionID = s.callerSession(r, preq.SessionID)
	if preq.ExtentM <= 0 {
		preq.ExtentM = envdata.DefaultExtentM
	}
	res, err := s.pipeline.Build(r.Context(), preq)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type interpretReq struct {
	Timeline     []pipeline.Row `json:"timeline"`
	Crop         string         `json:"crop"`
	CurrentStage string         `json:"current_stage"`
}

func (s *Server) handleInterpret(w http.ResponseWriter, r *http.Request) {
	var req interpretReq
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	if len(req.Timeline) == 0 || strings.TrimSpace(req.Crop) == "" {
		s.fail(w, fmt.Errorf("%w: Timeline and crop are required", errBadRequest))
		return
	}
	out, err := s.advisor.Interpret(r.Context(), req.Crop, req.CurrentStage, req.Timeline)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Recommendation string                 `json:"recommendation"`
		AnalyzedData   advisor.Interpretation `json:"analyzed_data"`
	}{out.Recommendation, out})
}
