package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tatianab/terranaut/internal/envdata"
	"github.com/tatianab/terranaut/internal/models"
	"github.com/tatianab/terranaut/internal/randsrc"
	"github.com/tatianab/terranaut/internal/weather"
)

// Tail lengths shown by clients.
const (
	ActivityTail = 3
	MessageTail  = 4
)

// Observer resolves environmental data for the Monitor action.
type Observer interface {
	Resolve(ctx context.Context, q envdata.Query) models.EnvironmentalObservation
}

// Session is one playthrough. Actions are applied one at a time; a second
// caller blocks until the first action has fully committed.
type Session struct {
	ID    string
	Setup models.Setup

	mu       sync.Mutex
	state    models.FarmSession
	activity []models.ActivityLogEntry
	messages []models.AgentMessage
	outcome  *models.GameOutcome
	weather  []weather.Daily

	rand     randsrc.Source
	observer Observer
	now      func() time.Time
}

// Option configures a Session.
type Option func(*Session)

func WithRand(src randsrc.Source) Option      { return func(s *Session) { s.rand = src } }
func WithObserver(o Observer) Option          { return func(s *Session) { s.observer = o } }
func WithWeather(days []weather.Daily) Option { return func(s *Session) { s.weather = days } }
func WithClock(now func() time.Time) Option   { return func(s *Session) { s.now = now } }
func WithID(id string) Option                 { return func(s *Session) { s.ID = id } }

// NewSession starts a playthrough at day one.
func NewSession(setup models.Setup, opts ...Option) *Session {
	s := &Session{
		ID:    uuid.NewString(),
		Setup: setup,
		state: NewState(),
		now:   time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.rand == nil {
		s.rand = randsrc.New(0)
	}
	s.say(fmt.Sprintf("🌱 Welcome to %s! Your %s journey begins. I'll guide you with NASA satellite data!", setup.FarmName, setup.Crop.Name), models.MessageSuccess)
	s.log(fmt.Sprintf("Day 1: %s planting started at %s", setup.Crop.Name, setup.Location.Name), models.MessageInfo)
	return s
}

// Restore resumes a saved playthrough.
func Restore(save models.GameSave, opts ...Option) *Session {
	s := &Session{
		ID:       save.ID,
		Setup:    save.Setup,
		state:    save.State,
		activity: append([]models.ActivityLogEntry(nil), save.Activity...),
		messages: append([]models.AgentMessage(nil), save.Messages...),
		outcome:  save.Outcome,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.rand == nil {
		s.rand = randsrc.New(0)
	}
	return s
}

// Apply runs one action. Rejected actions leave the state untouched but still
// record their error message.
func (s *Session) Apply(ctx context.Context, a Action) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.outcome != nil {
		return Result{Action: a}, ErrSessionComplete
	}
	env := Env{
		Crop:      s.Setup.Crop,
		StartDate: s.Setup.StartDate,
		Weather:   s.weather,
		Rand:      s.rand,
	}
	if a == ActionMonitor && s.observer != nil {
		obs := s.observer.Resolve(ctx, envdata.Query{
			Lat:       s.Setup.Location.Lat,
			Lon:       s.Setup.Location.Lon,
			Date:      s.Setup.StartDate.AddDate(0, 0, s.state.CurrentDay-1),
			ExtentM:   envdata.DefaultExtentM,
			SessionID: s.ID,
		})
		env.Observation = &obs
	}

	day := s.state.CurrentDay
	next, res, err := Step(s.state, a, env)
	for _, n := range res.Agent {
		s.say(n.Text, n.Type)
	}
	for _, n := range res.Activity {
		s.logAt(n.Text, n.Type, day)
	}
	if err != nil {
		return res, err
	}
	s.state = next
	if res.Outcome != nil {
		out := *res.Outcome
		s.outcome = &out
	}
	return res, nil
}

// LoadWeather replaces the history used by later day-advances.
func (s *Session) LoadWeather(days []weather.Daily) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.weather = days
}

// HasWeather reports whether loaded history drives the simulation.
func (s *Session) HasWeather() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.weather) > 0
}

// Say appends an advisor message, such as a chat reply.
func (s *Session) Say(text string, t models.MessageType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.say(text, t)
}

func (s *Session) State() models.FarmSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Outcome returns the harvest result once the session is complete.
func (s *Session) Outcome() (models.GameOutcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcome == nil {
		return models.GameOutcome{}, false
	}
	return *s.outcome, true
}

func (s *Session) Done() bool {
	_, ok := s.Outcome()
	return ok
}

// Activity returns the last n activity entries, or all of them when n <= 0.
func (s *Session) Activity(n int) []models.ActivityLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Tail(s.activity, n)
}

// Messages returns the last n advisor messages, or all of them when n <= 0.
func (s *Session) Messages(n int) []models.AgentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Tail(s.messages, n)
}

// Snapshot captures the session for saving.
func (s *Session) Snapshot() models.GameSave {
	s.mu.Lock()
	defer s.mu.Unlock()
	save := models.GameSave{
		ID:       s.ID,
		Setup:    s.Setup,
		State:    s.state,
		Activity: append([]models.ActivityLogEntry(nil), s.activity...),
		Messages: append([]models.AgentMessage(nil), s.messages...),
	}
	if s.outcome != nil {
		out := *s.outcome
		save.Outcome = &out
	}
	return save
}

func (s *Session) say(text string, t models.MessageType) {
	s.messages = append(s.messages, models.AgentMessage{Text: text, Type: t, Timestamp: s.now()})
}

func (s *Session) log(text string, t models.MessageType) {
	s.logAt(text, t, s.state.CurrentDay)
}

func (s *Session) logAt(text string, t models.MessageType, day int) {
	s.activity = append(s.activity, models.ActivityLogEntry{Message: text, Type: t, Day: day})
}

// Tail returns a copy of the last n elements of xs; n <= 0 copies all.
func Tail[T any](xs []T, n int) []T {
	if n <= 0 || n > len(xs) {
		n = len(xs)
	}
	return append([]T(nil), xs[len(xs)-n:]...)
}
