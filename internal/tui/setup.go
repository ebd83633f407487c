package tui

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/tatianab/terranaut/internal/catalog"
	"github.com/tatianab/terranaut/internal/models"
)

// setupStep is one question of the farm setup form.
type setupStep struct {
	prompt      string
	placeholder func() string
	apply       func(s *models.Setup, v string, now time.Time) error
}

// hasSave reports whether an autosave can be resumed.
func hasSave() bool {
	saves, _ := models.ListSaves()
	return slices.Contains(saves, saveName)
}

func names[T any](xs []T, name func(T) string) string {
	out := make([]string, len(xs))
	for i, x := range xs {
		out[i] = name(x)
	}
	return strings.Join(out, ", ")
}

var setupSteps = []setupStep{
	{
		prompt:      "Mode: (s)imulation or (m)onitoring with real satellite uploads?",
		placeholder: func() string { return "simulation" },
		apply: func(s *models.Setup, v string, _ time.Time) error {
			switch strings.ToLower(v) {
			case "", "s", "simulation":
				s.Mode = models.ModeSimulation
			case "m", "monitoring":
				s.Mode = models.ModeMonitoring
			default:
				return fmt.Errorf("unknown mode %q", v)
			}
			return nil
		},
	},
	{
		prompt:      "Name your farm:",
		placeholder: func() string { return "Terranaut Farm" },
		apply: func(s *models.Setup, v string, _ time.Time) error {
			if v == "" {
				v = "Terranaut Farm"
			}
			s.FarmName = v
			return nil
		},
	},
	{
		prompt:      "Farm size in hectares:",
		placeholder: func() string { return "1" },
		apply: func(s *models.Setup, v string, _ time.Time) error {
			if v == "" {
				s.FarmSize = 1
				return nil
			}
			size, err := strconv.ParseFloat(v, 64)
			if err != nil || size <= 0 {
				return fmt.Errorf("farm size must be a positive number")
			}
			s.FarmSize = size
			return nil
		},
	},
	{
		prompt: "Pick a crop:",
		placeholder: func() string {
			return names(catalog.Crops(), func(c models.Crop) string { return c.Name })
		},
		apply: func(s *models.Setup, v string, _ time.Time) error {
			if v == "" {
				s.Crop = catalog.Crops()[0]
				return nil
			}
			c, ok := catalog.FindCrop(v)
			if !ok {
				return fmt.Errorf("no crop matches %q", v)
			}
			s.Crop = c
			return nil
		},
	},
	{
		prompt: "Pick a location:",
		placeholder: func() string {
			return names(catalog.Locations(), func(l models.Location) string { return l.Name })
		},
		apply: func(s *models.Setup, v string, _ time.Time) error {
			if v == "" {
				s.Location = catalog.Locations()[0]
				return nil
			}
			l, ok := catalog.FindLocation(v)
			if !ok {
				return fmt.Errorf("no location matches %q", v)
			}
			s.Location = l
			return nil
		},
	},
	{
		prompt:      "Planting date (YYYY-MM-DD):",
		placeholder: func() string { return "today" },
		apply: func(s *models.Setup, v string, now time.Time) error {
			start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
			if v != "" && v != "today" {
				t, err := time.Parse(models.DateLayout, v)
				if err != nil {
					return fmt.Errorf("dates look like 2025-04-01")
				}
				start = t
			}
			s.StartDate = start
			s.HarvestDate = start.AddDate(0, 0, s.Crop.GrowthDays)
			return nil
		},
	},
}
