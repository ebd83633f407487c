package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tatianab/terranaut/internal/advisor"
	"github.com/tatianab/terranaut/internal/api"
	"github.com/tatianab/terranaut/internal/config"
	"github.com/tatianab/terranaut/internal/envdata"
	"github.com/tatianab/terranaut/internal/randsrc"
	"github.com/tatianab/terranaut/internal/store"
	"github.com/tatianab/terranaut/internal/weather"
)

func main() {
	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	addr := flag.String("addr", cfg.Addr, "http listen address")
	dsn := flag.String("db", cfg.DatabaseDSN, "database dsn (sqlite file: or postgres://)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(*dsn)
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer st.Close()

	adv, err := advisor.New(ctx, cfg.GeminiAPIKey)
	if err != nil {
		logger.Fatalf("advisor: %v", err)
	}
	defer adv.Close()
	if !adv.Online() {
		logger.Printf("GEMINI_API_KEY not set, advisor runs offline")
	}

	var prov envdata.Provider
	if cfg.EarthdataToken != "" {
		prov = envdata.NewAppEEARS(cfg.AppEEARSURL, cfg.EarthdataToken)
	} else {
		logger.Printf("EARTHDATA_TOKEN not set, satellite data falls back to recorded and synthetic values")
	}
	if cfg.JWTSecret == "" {
		logger.Printf("JWT_SECRET not set, authenticated endpoints will reject every request")
	}

	rnd := randsrc.New(cfg.Seed)
	srv := &http.Server{
		Addr: *addr,
		Handler: api.New(api.Deps{
			Store:     st,
			Satellite: envdata.NewResolver(prov, st, rnd),
			Weather:   weather.NewResolver(cfg.PowerURL, cfg.OpenMeteoURL),
			Advisor:   adv,
			JWTSecret: cfg.JWTSecret,
			Rand:      rnd,
		}).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}
