package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tatianab/terranaut/internal/catalog"
	"github.com/tatianab/terranaut/internal/engine"
	"github.com/tatianab/terranaut/internal/models"
	"github.com/tatianab/terranaut/internal/scoring"
	"github.com/tatianab/terranaut/internal/store"
	"github.com/tatianab/terranaut/internal/weather"
)

func (s *Server) handleCreateFarm(w http.ResponseWriter, r *http.Request) {
	var req store.Farm
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	if strings.TrimSpace(req.FarmName) == "" || req.FarmSize <= 0 {
		s.fail(w, fmt.Errorf("%w: farm_name and a positive farm_size are required", errBadRequest))
		return
	}
	req.UserID = userID(r)
	f, err := s.store.CreateFarm(r.Context(), req)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (s *Server) handleListFarms(w http.ResponseWriter, r *http.Request) {
	farms, err := s.store.ListFarms(r.Context(), userID(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	if farms == nil {
		farms = []store.Farm{}
	}
	writeJSON(w, http.StatusOK, farms)
}

type createSessionReq struct {
	FarmID      string      `json:"farm_id"`
	FarmName    string      `json:"farm_name"`
	FarmSize    float64     `json:"farm_size"`
	Crop        string      `json:"crop"`
	Location    string      `json:"location"`
	Mode        models.Mode `json:"mode"`
	StartDate   string      `json:"start_date"`
	LoadWeather bool        `json:"load_weather"`
}

// sessionView is the client-facing picture of a playthrough.
type sessionView struct {
	ID       string                    `json:"id"`
	Live     bool                      `json:"live"`
	Setup    *models.Setup             `json:"setup,omitempty"`
	State    models.FarmSession        `json:"state"`
	Activity []models.ActivityLogEntry `json:"activity"`
	Messages []models.AgentMessage     `json:"messages"`
	Done     bool                      `json:"done"`
	Outcome  *models.GameOutcome       `json:"outcome,omitempty"`
}

func viewOf(sess *engine.Session) sessionView {
	save := sess.Snapshot()
	return sessionView{
		ID:       save.ID,
		Live:     true,
		Setup:    &save.Setup,
		State:    save.State,
		Activity: engine.Tail(save.Activity, engine.ActivityTail),
		Messages: engine.Tail(save.Messages, engine.MessageTail),
		Done:     save.Outcome != nil,
		Outcome:  save.Outcome,
	}
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionReq
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	setup, err := s.setupFrom(req)
	if err != nil {
		s.fail(w, err)
		return
	}
	sess := engine.NewSession(setup, s.sessionOptions()...)
	if req.LoadWeather && s.weather != nil {
		days, err := s.weather.Resolve(r.Context(), weather.Request{
			Lat:       setup.Location.Lat,
			Lon:       setup.Location.Lon,
			StartDate: setup.StartDate,
			EndDate:   setup.HarvestDate,
			Mode:      weather.ModeHistory,
		})
		if err != nil {
			s.logf("weather for session %s: %v", sess.ID, err)
		} else {
			sess.LoadWeather(days)
		}
	}

	row := store.NewSessionRow(sess.ID, userID(r), req.FarmID, setup, sess.State())
	if err := s.store.CreateSession(r.Context(), row); err != nil {
		s.fail(w, err)
		return
	}
	if err := s.store.SaveSnapshot(r.Context(), sess.Snapshot()); err != nil {
		s.fail(w, err)
		return
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	s.logf("session %s started: %s at %s", sess.ID, setup.Crop.Name, setup.Location.Name)
	writeJSON(w, http.StatusCreated, viewOf(sess))
}

func (s *Server) setupFrom(req createSessionReq) (models.Setup, error) {
	if strings.TrimSpace(req.FarmName) == "" {
		return models.Setup{}, fmt.Errorf("%w: farm_name is required", errBadRequest)
	}
	crop, ok := catalog.FindCrop(req.Crop)
	if !ok {
		return models.Setup{}, fmt.Errorf("%w: unknown crop %q", errBadRequest, req.Crop)
	}
	loc, ok := catalog.FindLocation(req.Location)
	if !ok {
		return models.Setup{}, fmt.Errorf("%w: unknown location %q", errBadRequest, req.Location)
	}
	mode := req.Mode
	if mode == "" {
		mode = models.ModeSimulation
	}
	if mode != models.ModeSimulation && mode != models.ModeMonitoring {
		return models.Setup{}, fmt.Errorf("%w: unknown mode %q", errBadRequest, mode)
	}
	start, err := parseDate("start_date", req.StartDate, s.Now().UTC().Truncate(24*time.Hour))
	if err != nil {
		return models.Setup{}, err
	}
	size := req.FarmSize
	if size <= 0 {
		size = 1
	}
	return models.Setup{
		Mode:        mode,
		FarmName:    req.FarmName,
		FarmSize:    size,
		Location:    loc,
		Crop:        crop,
		StartDate:   start,
		HarvestDate: start.AddDate(0, 0, crop.GrowthDays),
	}, nil
}

func (s *Server) sessionOptions() []engine.Option {
	return []engine.Option{engine.WithRand(s.rand), engine.WithObserver(s.satellite), engine.WithClock(s.Now)}
}

// session returns session id, restoring it from its stored snapshot when it
// is not in memory. Finished sessions are not kept in memory.
func (s *Server) session(ctx context.Context, id string) (*engine.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return sess, nil
	}
	save, err := s.store.LoadSnapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	sess := engine.Restore(save, s.sessionOptions()...)
	if !sess.Done() {
		s.sessions[id] = sess
	}
	return sess, nil
}

func (s *Server) evict(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// ownedSession returns the caller's session, writing 404 when it is unknown
// or belongs to someone else.
func (s *Server) ownedSession(w http.ResponseWriter, r *http.Request) (*engine.Session, bool) {
	id := chi.URLParam(r, "id")
	if !s.owns(w, r, id) {
		return nil, false
	}
	sess, err := s.session(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.owns(w, r, id) {
		return
	}
	sess, err := s.session(r.Context(), id)
	if err == nil {
		writeJSON(w, http.StatusOK, viewOf(sess))
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		s.fail(w, err)
		return
	}
	// Rows without a snapshot only carry the counters.
	row, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView{
		ID: row.ID,
		State: models.FarmSession{
			CurrentDay:         row.CurrentDay,
			Budget:             row.Budget,
			WaterReserve:       row.WaterReserve,
			EnvironmentalScore: row.EnvScore,
		},
		Activity: []models.ActivityLogEntry{},
		Messages: []models.AgentMessage{},
		Done:     row.Completed,
	})
}

type actionView struct {
	Action   engine.Action   `json:"action"`
	Accepted bool            `json:"accepted"`
	Event    string          `json:"event,omitempty"`
	Session  sessionView     `json:"session"`
	Report   *scoring.Report `json:"report,omitempty"`
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.ownedSession(w, r)
	if !ok {
		return
	}
	var req struct {
		Action string `json:"action"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	a, err := engine.ParseAction(req.Action)
	if err != nil {
		s.fail(w, err)
		return
	}
	res, err := sess.Apply(r.Context(), a)
	if err != nil {
		if errors.Is(err, engine.ErrInsufficientBudget) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error(), "session": viewOf(sess)})
			return
		}
		s.fail(w, err)
		return
	}
	if err := s.store.UpdateProgress(r.Context(), sess.ID, sess.State(), sess.Done()); err != nil {
		s.logf("persist session %s: %v", sess.ID, err)
	}
	if err := s.store.SaveSnapshot(r.Context(), sess.Snapshot()); err != nil {
		s.logf("snapshot session %s: %v", sess.ID, err)
	}
	if sess.Done() {
		s.evict(sess.ID)
	}
	out := actionView{Action: a, Accepted: res.Accepted, Session: viewOf(sess)}
	if res.Event != nil {
		out.Event = res.Event.Message
	}
	if res.Outcome != nil {
		rep := scoring.Evaluate(*res.Outcome, sess.Setup.Crop)
		out.Report = &rep
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleOutcome(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.ownedSession(w, r)
	if !ok {
		return
	}
	out, done := sess.Outcome()
	if !done {
		writeError(w, http.StatusConflict, "harvest is not complete yet")
		return
	}
	writeJSON(w, http.StatusOK, scoring.Evaluate(out, sess.Setup.Crop))
}
