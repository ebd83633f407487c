package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/tatianab/terranaut/internal/advisor"
	"github.com/tatianab/terranaut/internal/catalog"
	"github.com/tatianab/terranaut/internal/config"
	"github.com/tatianab/terranaut/internal/engine"
	"github.com/tatianab/terranaut/internal/models"
	"github.com/tatianab/terranaut/internal/randsrc"
	"github.com/tatianab/terranaut/internal/scoring"
)

// askEvery is how often, in days, the player asks Terra AI about the farm.
const askEvery = 10

func main() {
	crop := flag.String("crop", "tomatoes", "crop to plant")
	location := flag.String("location", "La Garriga", "farm location")
	seed := flag.Int64("seed", 0, "random seed (0 uses the config seed)")
	flag.Parse()

	ctx := context.Background()
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *seed == 0 {
		*seed = cfg.Seed
	}

	adv, err := advisor.New(ctx, cfg.GeminiAPIKey)
	if err != nil {
		log.Fatalf("Failed to create advisor: %v", err)
	}
	defer adv.Close()

	c, ok := catalog.FindCrop(*crop)
	if !ok {
		log.Fatalf("Unknown crop %q", *crop)
	}
	loc, ok := catalog.FindLocation(*location)
	if !ok {
		log.Fatalf("Unknown location %q", *location)
	}
	start := time.Now().UTC().Truncate(24 * time.Hour)
	setup := models.Setup{
		Mode:        models.ModeSimulation,
		FarmName:    "Simulated Farm",
		FarmSize:    1,
		Location:    loc,
		Crop:        c,
		StartDate:   start,
		HarvestDate: start.AddDate(0, 0, c.GrowthDays),
	}
	sess := engine.NewSession(setup, engine.WithRand(randsrc.New(*seed)))

	fmt.Printf("--- Planting %s at %s (%d days) ---\n\n", c.Name, loc.Name, c.GrowthDays)
	for !sess.Done() {
		st := sess.State()
		a := choose(st)
		res, err := sess.Apply(ctx, a)
		if err != nil {
			fmt.Printf("Day %d: %s rejected: %v\n", st.CurrentDay, a, err)
			if res, err = sess.Apply(ctx, engine.ActionWait); err != nil {
				log.Fatalf("wait: %v", err)
			}
		}
		st = sess.State()
		fmt.Printf("Day %d: %-9s moisture=%.0f%% ndvi=%.2f temp=%.1f°C budget=€%.0f health=%s\n",
			st.CurrentDay, res.Action, st.SoilMoisturePct, st.NDVI, st.Temperature, st.Budget, st.PlantHealth)
		if res.Event != nil {
			fmt.Printf("  Event: %s\n", res.Event.Message)
		}

		if st.CurrentDay%askEvery == 0 && !sess.Done() {
			ask(ctx, adv, sess, "How is my farm doing, and what should I do next?")
		}
	}

	out, _ := sess.Outcome()
	r := scoring.Evaluate(out, c)
	fmt.Println("\n--- Harvest ---")
	fmt.Printf("Quality: %d/100 (%s, x%.2f)\n", out.Quality, r.Tier, r.Multiplier)
	fmt.Printf("Sale price: €%.0f  Net profit: €%.0f\n", r.FinalSalePrice, r.NetProfit)
	fmt.Printf("Rating: %d stars, %s\n", r.Rating.Stars, r.Rating.Title)
}

// choose is a simple scripted player.
func choose(st models.FarmSession) engine.Action {
	switch {
	case st.SoilMoisturePct < 40 && st.Budget >= engine.IrrigateCost+engine.DailyCost:
		return engine.ActionIrrigate
	case st.NDVI < 0.55 && st.Budget >= engine.FertilizeCost+engine.DailyCost:
		return engine.ActionFertilize
	case st.CurrentDay%7 == 0:
		return engine.ActionMonitor
	default:
		return engine.ActionWait
	}
}

func ask(ctx context.Context, adv *advisor.Advisor, sess *engine.Session, question string) {
	setup := sess.Setup
	stream, err := adv.Chat(ctx, advisor.ChatRequest{
		Message:  question,
		Location: setup.Location.Name,
		Farm:     &setup,
		State:    sess.State(),
		History:  sess.Messages(engine.MessageTail),
	})
	if err != nil {
		fmt.Printf("  Terra AI unavailable: %v\n", err)
		return
	}
	reply, err := advisor.Collect(stream)
	if err != nil {
		msg := advisor.UserMessage(err)
		if msg == "" {
			msg = err.Error()
		}
		fmt.Printf("  Terra AI: %s\n", msg)
		return
	}
	sess.Say(reply, models.MessageInfo)
	fmt.Printf("  Terra AI: %s\n", reply)
}
