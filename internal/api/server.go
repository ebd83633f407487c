// Package api exposes the backend functions and the session game flow over HTTP.
package api

import (
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/tatianab/terranaut/internal/advisor"
	"github.com/tatianab/terranaut/internal/engine"
	"github.com/tatianab/terranaut/internal/fieldcheck"
	"github.com/tatianab/terranaut/internal/pipeline"
	"github.com/tatianab/terranaut/internal/randsrc"
	"github.com/tatianab/terranaut/internal/store"
)

// Satellite resolves single observations and day series.
type Satellite interface {
	engine.Observer
	pipeline.SeriesResolver
}

// Deps are the collaborators of a Server.
type Deps struct {
	Store     *store.Store
	Satellite Satellite
	Weather   pipeline.WeatherResolver
	Advisor   *advisor.Advisor
	JWTSecret string
	Rand      randsrc.Source
}

type Server struct {
	store     *store.Store
	satellite Satellite
	weather   pipeline.WeatherResolver
	advisor   *advisor.Advisor
	analyzer  *fieldcheck.Analyzer
	pipeline  *pipeline.Builder
	secret    []byte
	rand      randsrc.Source

	Now    func() time.Time
	Logger *log.Logger

	mu       sync.Mutex
	sessions map[string]*engine.Session
}

func New(d Deps) *Server {
	if d.Advisor == nil {
		d.Advisor = advisor.Offline()
	}
	if d.Rand == nil {
		d.Rand = randsrc.New(0)
	}
	s := &Server{
		store:     d.Store,
		satellite: d.Satellite,
		weather:   d.Weather,
		advisor:   d.Advisor,
		analyzer:  fieldcheck.NewAnalyzer(d.Satellite, d.Advisor),
		pipeline:  pipeline.NewBuilder(d.Satellite, d.Weather),
		secret:    []byte(d.JWTSecret),
		rand:      d.Rand,
		Now:       time.Now,
		Logger:    log.New(os.Stderr, "[api] ", log.LstdFlags),
		sessions:  make(map[string]*engine.Session),
	}
	s.analyzer.Logger = s.Logger
	return s
}

// Routes wires middlewares and endpoints.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "X-Client-Info", "Apikey", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "advisor_online": s.advisor.Online()})
	})

	r.Route("/functions/v1", func(fn chi.Router) {
		fn.Post("/fetch-satellite-data", s.handleFetchSatellite)
		fn.Post("/fetch-weather-data", s.handleFetchWeather)
		fn.Post("/analyze-field-conditions", s.handleAnalyzeField)
		fn.Post("/get-optimal-crop-conditions", s.handleOptimalConditions)
		fn.Post("/run-pipeline", s.handleRunPipeline)
		fn.Post("/interpret-data", s.handleInterpret)
		fn.Post("/ai-agent-chat", s.handleChat)
		fn.Get("/ai-agent-chat/ws", s.handleChatWS)

		fn.Group(func(pr chi.Router) {
			pr.Use(s.authMiddleware)
			pr.Post("/store-satellite-data", s.handleStoreSatellite)
			pr.Post("/upload-satellite-data", s.handleUploadSatellite)
			pr.Post("/clear-satellite-cache", s.handleClearCache)
		})
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(s.authMiddleware)
		api.Get("/farms", s.handleListFarms)
		api.Post("/farms", s.handleCreateFarm)
		api.Post("/sessions", s.handleCreateSession)
		api.Get("/sessions/{id}", s.handleGetSession)
		api.Post("/sessions/{id}/actions", s.handleAction)
		api.Get("/sessions/{id}/outcome", s.handleOutcome)
	})

	return r
}

func (s *Server) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}
