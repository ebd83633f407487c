package main

import (
	"context"
	"fmt"
	"os"

	"github.com/tatianab/terranaut/internal/advisor"
	"github.com/tatianab/terranaut/internal/config"
	"github.com/tatianab/terranaut/internal/envdata"
	"github.com/tatianab/terranaut/internal/models"
	"github.com/tatianab/terranaut/internal/randsrc"
	"github.com/tatianab/terranaut/internal/store"
	"github.com/tatianab/terranaut/internal/tui"
	"github.com/tatianab/terranaut/internal/weather"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	models.SaveDir = cfg.SaveDir

	adv, err := advisor.New(ctx, cfg.GeminiAPIKey)
	if err != nil {
		fmt.Printf("Error creating advisor: %v\n", err)
		os.Exit(1)
	}
	defer adv.Close()

	d := tui.Deps{
		Advisor: adv,
		Weather: weather.NewResolver(cfg.PowerURL, cfg.OpenMeteoURL),
		Rand:    randsrc.New(cfg.Seed),
	}

	var rec envdata.Recorder
	st, err := store.Open(cfg.DatabaseDSN)
	if err != nil {
		fmt.Printf("Warning: no database, progress is only saved locally: %v\n", err)
	} else {
		defer st.Close()
		rec, d.Store = st, st
	}

	var prov envdata.Provider
	if cfg.EarthdataToken != "" {
		prov = envdata.NewAppEEARS(cfg.AppEEARSURL, cfg.EarthdataToken)
	}
	d.Observer = envdata.NewResolver(prov, rec, d.Rand)

	if err := tui.Run(d); err != nil {
		fmt.Printf("Error running TUI: %v\n", err)
		os.Exit(1)
	}
}
