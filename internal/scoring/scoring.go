// Package scoring computes harvest quality, market value and the overall
// farmer rating.
package scoring

import (
	"math"

	"github.com/tatianab/terranaut/internal/models"
)

// Tier is a harvest quality grade.
type Tier string

const (
	TierPremium Tier = "Premium"
	TierGood    Tier = "Good"
	TierAverage Tier = "Average"
	TierPoor    Tier = "Poor"
)

// Quality scores the harvest 0-100 from the final field conditions.
func Quality(soilMoisturePct, ndvi, temperature float64, crop models.Crop) int {
	tempScore := 0.7
	if math.Abs(temperature-crop.OptimalTempMid()) < 5 {
		tempScore = 1.0
	}
	return int(math.Round(100 * (0.4*(soilMoisturePct/100) + 0.4*ndvi + 0.2*tempScore)))
}

// TierFor grades a quality score, highest threshold first.
func TierFor(quality int) Tier {
	switch {
	case quality >= 90:
		return TierPremium
	case quality >= 70:
		return TierGood
	case quality >= 50:
		return TierAverage
	default:
		return TierPoor
	}
}

// Multiplier selects the crop's market multiplier for a tier.
func Multiplier(t Tier, p models.MarketPricing) float64 {
	switch t {
	case TierPremium:
		return p.PremiumMultiplier
	case TierGood:
		return p.GoodMultiplier
	case TierAverage:
		return p.AverageMultiplier
	default:
		return p.PoorMultiplier
	}
}

// Rating is the star grade shown on the results screen.
type Rating struct {
	Stars int     `json:"stars"`
	Title string  `json:"title"`
	Score float64 `json:"score"`
}

// RatingFor combines quality, environmental score and remaining budget.
func RatingFor(quality int, envScore, finalBudget float64) Rating {
	score := 0.4*float64(quality) + 0.3*envScore + 0.3*(finalBudget/models.InitialBudget*100)
	r := Rating{Score: score}
	switch {
	case score >= 80:
		r.Stars, r.Title = 5, "Master Farmer"
	case score >= 65:
		r.Stars, r.Title = 4, "Expert Farmer"
	case score >= 50:
		r.Stars, r.Title = 3, "Good Farmer"
	case score >= 35:
		r.Stars, r.Title = 2, "Learning Farmer"
	default:
		r.Stars, r.Title = 1, "Beginner Farmer"
	}
	return r
}

// Report is everything the results view needs.
type Report struct {
	Outcome        models.GameOutcome `json:"outcome"`
	Tier           Tier               `json:"tier"`
	Multiplier     float64            `json:"multiplier"`
	FinalSalePrice float64            `json:"finalSalePrice"`
	TotalRevenue   float64            `json:"totalRevenue"`
	NetProfit      float64            `json:"netProfit"`
	Rating         Rating             `json:"rating"`
}

// Evaluate turns a finished game into a results report.
func Evaluate(out models.GameOutcome, crop models.Crop) Report {
	tier := TierFor(out.Quality)
	mult := Multiplier(tier, crop.MarketPricing)
	sale := math.Round(crop.MarketPricing.PricePerHectare * mult)
	revenue := out.FinalBudget + sale
	return Report{
		Outcome:        out,
		Tier:           tier,
		Multiplier:     mult,
		FinalSalePrice: sale,
		TotalRevenue:   revenue,
		NetProfit:      revenue - models.InitialBudget,
		Rating:         RatingFor(out.Quality, out.FinalEnvironmentalScore, out.FinalBudget),
	}
}
