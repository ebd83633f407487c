package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"

	"github.com/tatianab/terranaut/internal/catalog"
	"github.com/tatianab/terranaut/internal/fieldcheck"
)

// OptimalSource labels bands returned by Gemini.
const OptimalSource = "Agricultural Research (AI-assisted)"

const optimalFunction = "provide_optimal_conditions"

func rangeSchema(what, unit string) *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"min": {Type: genai.TypeNumber, Description: fmt.Sprintf("Minimum %s %s", what, unit)},
			"max": {Type: genai.TypeNumber, Description: fmt.Sprintf("Maximum %s %s", what, unit)},
		},
		Required: []string{"min", "max"},
	}
}

var optimalTool = &genai.Tool{
	FunctionDeclarations: []*genai.FunctionDeclaration{{
		Name:        optimalFunction,
		Description: "Return optimal growing conditions for a crop",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"soil_moisture": rangeSchema("soil moisture", "percentage (0-100)"),
				"temperature":   rangeSchema("temperature", "in Celsius"),
				"ndvi":          rangeSchema("NDVI value", "(0-1)"),
			},
			Required: []string{"soil_moisture", "temperature", "ndvi"},
		},
	}},
}

// OptimalConditions asks Gemini for the crop's optimal bands through a forced
// function call. Offline it derives them from the crop catalog.
func (a *Advisor) OptimalConditions(ctx context.Context, crop string) (fieldcheck.Optimal, string, error) {
	crop = strings.TrimSpace(crop)
	if crop == "" {
		return fieldcheck.Optimal{}, "", fmt.Errorf("crop name is required")
	}
	if !a.Online() {
		c, ok := catalog.FindCrop(crop)
		if !ok {
			return fieldcheck.Optimal{}, "", fmt.Errorf("no optimal conditions known for %q", crop)
		}
		return fieldcheck.CatalogOptimal(c), fieldcheck.CatalogSource, nil
	}

	prompt, err := render("optimal.txt", struct{ Crop string }{crop})
	if err != nil {
		return fieldcheck.Optimal{}, "", err
	}
	m := a.model("You are an agricultural expert. Provide optimal growing conditions with precise numerical ranges.", 0.2)
	m.Tools = []*genai.Tool{optimalTool}
	m.ToolConfig = &genai.ToolConfig{FunctionCallingConfig: &genai.FunctionCallingConfig{
		Mode:                 genai.FunctionCallingAny,
		AllowedFunctionNames: []string{optimalFunction},
	}}

	resp, err := m.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return fieldcheck.Optimal{}, "", classify(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return fieldcheck.Optimal{}, "", ErrNoContent
	}
	for _, p := range resp.Candidates[0].Content.Parts {
		if fc, ok := p.(genai.FunctionCall); ok && fc.Name == optimalFunction {
			opt, err := parseOptimal(fc.Args)
			if err != nil {
				return fieldcheck.Optimal{}, "", err
			}
			return opt, OptimalSource, nil
		}
	}
	return fieldcheck.Optimal{}, "", fmt.Errorf("no %s call in response", optimalFunction)
}

func parseOptimal(args map[string]any) (fieldcheck.Optimal, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return fieldcheck.Optimal{}, err
	}
	var opt fieldcheck.Optimal
	if err := json.Unmarshal(raw, &opt); err != nil {
		return fieldcheck.Optimal{}, fmt.Errorf("parse %s arguments: %w", optimalFunction, err)
	}
	for name, r := range map[string]fieldcheck.Range{"soil_moisture": opt.SoilMoisture, "temperature": opt.Temperature, "ndvi": opt.NDVI} {
		if r.Min > r.Max || (r.Min == 0 && r.Max == 0) {
			return fieldcheck.Optimal{}, fmt.Errorf("implausible %s range %v-%v", name, r.Min, r.Max)
		}
	}
	return opt, nil
}

// Recommend writes one short recommendation for a field comparison.
func (a *Advisor) Recommend(ctx context.Context, crop string, c fieldcheck.Comparison) (string, error) {
	if !a.Online() {
		return cannedRecommendation(c), nil
	}
	prompt, err := render("recommend.txt", struct {
		Crop       string
		Comparison fieldcheck.Comparison
	}{crop, c})
	if err != nil {
		return "", err
	}
	text, err := a.generate(ctx, a.model("You are Terra AI, an expert agricultural advisor. Provide concise, actionable farming recommendations.", 0.7), prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func cannedRecommendation(c fieldcheck.Comparison) string {
	if c.AllGreen() {
		return "All parameters are within the optimal range. Keep up the current routine."
	}
	switch {
	case c.SoilMoisture.Status != fieldcheck.StatusGreen && c.SoilMoisture.Value < c.SoilMoisture.Band.Min:
		return "Soil moisture is below the optimal band. Irrigate in the early morning to limit evaporation."
	case c.SoilMoisture.Status != fieldcheck.StatusGreen:
		return "Soil moisture is above the optimal band. Hold irrigation until the topsoil dries."
	case c.NDVI.Status != fieldcheck.StatusGreen:
		return "Vegetation vigour is off target. Check for nutrient stress and consider fertilizing."
	default:
		return "Temperature is outside the optimal band. Adjust irrigation timing to protect the crop."
	}
}
