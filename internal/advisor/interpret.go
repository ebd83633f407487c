package advisor

import (
	"context"
	"fmt"
	"strings"

	"github.com/tatianab/terranaut/internal/pipeline"
)

// trendDays is how many trailing timeline rows the prompt includes.
const trendDays = 7

// Interpretation is the advisor's reading of a timeline.
type Interpretation struct {
	Recommendation string       `json:"-"`
	Crop           string       `json:"crop"`
	Stage          string       `json:"stage"`
	Latest         pipeline.Row `json:"latest_metrics"`
	Model          string       `json:"model"`
}

// Interpret turns the latest timeline row and the recent trend into farming advice.
func (a *Advisor) Interpret(ctx context.Context, crop, stage string, timeline []pipeline.Row) (Interpretation, error) {
	if len(timeline) == 0 || strings.TrimSpace(crop) == "" {
		return Interpretation{}, fmt.Errorf("timeline and crop are required")
	}
	latest := timeline[len(timeline)-1]
	if stage == "" {
		stage = latest.Stage
	}
	out := Interpretation{Crop: crop, Stage: stage, Latest: latest, Model: ModelName}

	if !a.Online() {
		out.Model = "offline"
		out.Recommendation = cannedInterpretation(crop, stage, latest)
		return out, nil
	}
	prompt, err := render("interpret.txt", struct {
		Crop   string
		Stage  string
		Latest pipeline.Row
		Trend  []pipeline.Row
	}{crop, stage, latest, tail(timeline, trendDays)})
	if err != nil {
		return Interpretation{}, err
	}
	system, err := render("interpret_system.txt", nil)
	if err != nil {
		return Interpretation{}, err
	}
	text, err := a.generate(ctx, a.model(system, 0.7), prompt)
	if err != nil {
		return Interpretation{}, err
	}
	out.Recommendation = strings.TrimSpace(text)
	return out, nil
}

func cannedInterpretation(crop, stage string, r pipeline.Row) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s at the %s stage (%.0f GDD accumulated).\n", crop, stage, r.GDDCum)
	switch {
	case r.SM < 0.2:
		sb.WriteString("Soil moisture is low: irrigate within the next day.\n")
	case r.SM > 0.45:
		sb.WriteString("Soil moisture is high: skip irrigation and watch for waterlogging.\n")
	default:
		sb.WriteString("Soil moisture is adequate.\n")
	}
	if r.NDVI < 0.5 {
		sb.WriteString("NDVI is weak: check nutrients and consider fertilizing.")
	} else {
		sb.WriteString("Vegetation looks healthy.")
	}
	return sb.String()
}
