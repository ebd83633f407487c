// Package fieldcheck compares field conditions against a crop's optimal
// bands and assembles the field analysis report.
package fieldcheck

// Status is the three-level traffic light for one metric.
type Status string

const (
	StatusGreen  Status = "green"
	StatusYellow Status = "yellow"
	StatusRed    Status = "red"
)

// yellowTolerance is the relative deviation still considered a minor miss.
const yellowTolerance = 0.10

// Range is an inclusive optimal band.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// StatusOf grades value against [min, max].
func StatusOf(value, min, max float64) Status {
	if value >= min && value <= max {
		return StatusGreen
	}
	var dev float64
	if value < min {
		dev = relative(min-value, min)
	} else {
		dev = relative(value-max, max)
	}
	if dev <= yellowTolerance {
		return StatusYellow
	}
	return StatusRed
}

func relative(diff, bound float64) float64 {
	if bound == 0 {
		if diff == 0 {
			return 0
		}
		return 1
	}
	if bound < 0 {
		bound = -bound
	}
	return diff / bound
}

// Optimal is the set of bands a crop grows best in.
type Optimal struct {
	SoilMoisture Range `json:"soil_moisture"` // percent
	Temperature  Range `json:"temperature"`   // °C
	NDVI         Range `json:"ndvi"`
}
