// Package growth derives growing degree days and crop growth stages.
package growth

const (
	BaseTempC = 10.0
	CapTempC  = 30.0
)

// Stage is a categorical crop development phase.
type Stage string

const (
	StageEstablishment Stage = "establishment"
	StageVegetative    Stage = "vegetative"
	StageFloweringSet  Stage = "flowering_set"
	StageRipening      Stage = "ripening"
)

// DailyGDD is the degree-day contribution of one day's temperature extremes.
func DailyGDD(tmaxC, tminC float64) float64 {
	mean := min((tmaxC+tminC)/2, CapTempC)
	return max(0, mean-BaseTempC)
}

// StageFor maps cumulative GDD onto a stage.
func StageFor(cumulativeGDD float64) Stage {
	switch {
	case cumulativeGDD < 400:
		return StageEstablishment
	case cumulativeGDD < 900:
		return StageVegetative
	case cumulativeGDD < 1200:
		return StageFloweringSet
	default:
		return StageRipening
	}
}

// Accumulator keeps the running GDD sum of a session.
type Accumulator struct {
	Total float64
}

// Add folds in one day and returns that day's GDD.
func (a *Accumulator) Add(tmaxC, tminC float64) float64 {
	g := DailyGDD(tmaxC, tminC)
	a.Total += g
	return g
}

// Stage is the stage reached so far.
func (a *Accumulator) Stage() Stage {
	return StageFor(a.Total)
}
