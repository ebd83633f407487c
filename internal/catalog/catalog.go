// Package catalog holds the static crop and location reference data.
package catalog

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"
	"github.com/tatianab/terranaut/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed data/catalog.yaml
var catalogYAML []byte

type catalog struct {
	Locations []models.Location `yaml:"locations"`
	Crops     []models.Crop     `yaml:"crops"`
}

var (
	loadOnce sync.Once
	loaded   catalog
	loadErr  error
)

func load() (catalog, error) {
	loadOnce.Do(func() {
		loadErr = yaml.Unmarshal(catalogYAML, &loaded)
	})
	return loaded, loadErr
}

// Crops returns every selectable crop in catalog order.
func Crops() []models.Crop {
	c, err := load()
	if err != nil {
		panic(fmt.Sprintf("catalog: %v", err))
	}
	return append([]models.Crop(nil), c.Crops...)
}

// Locations returns every selectable farm site in catalog order.
func Locations() []models.Location {
	c, err := load()
	if err != nil {
		panic(fmt.Sprintf("catalog: %v", err))
	}
	return append([]models.Location(nil), c.Locations...)
}

// maxDistance bounds how many edits a typed name may be away from a match.
const maxDistance = 3

// FindCrop looks a crop up by id or name. Exact and prefix matches win;
// otherwise the closest name within a few edits is returned.
func FindCrop(query string) (models.Crop, bool) {
	crops := Crops()
	keys := make([][]string, len(crops))
	for i, c := range crops {
		keys[i] = []string{c.ID, c.Name}
	}
	i := closest(query, keys)
	if i < 0 {
		return models.Crop{}, false
	}
	return crops[i], true
}

// FindLocation looks a location up by name, tolerating typos.
func FindLocation(query string) (models.Location, bool) {
	locs := Locations()
	keys := make([][]string, len(locs))
	for i, l := range locs {
		keys[i] = []string{l.Name, strings.SplitN(l.Name, ",", 2)[0]}
	}
	i := closest(query, keys)
	if i < 0 {
		return models.Location{}, false
	}
	return locs[i], true
}

func closest(query string, keys [][]string) int {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return -1
	}
	for i, ks := range keys {
		for _, k := range ks {
			if strings.ToLower(k) == q {
				return i
			}
		}
	}
	for i, ks := range keys {
		for _, k := range ks {
			if strings.HasPrefix(strings.ToLower(k), q) {
				return i
			}
		}
	}
	best, bestDist := -1, maxDistance+1
	for i, ks := range keys {
		for _, k := range ks {
			if d := levenshtein.ComputeDistance(q, strings.ToLower(k)); d < bestDist {
				best, bestDist = i, d
			}
		}
	}
	return best
}
