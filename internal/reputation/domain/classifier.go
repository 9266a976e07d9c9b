package domain

import (
	"github.com/shopspring/decimal"
)

const (
	StatusExcellent = "excellent"
	StatusGood      = "good"
	StatusNeutral   = "neutral"
	StatusWarning   = "warning"
	StatusDanger    = "danger"
)

// DefaultRiskyThreshold is the cutoff used by IsRisky when none is configured.
const DefaultRiskyThreshold = -3

// MinCompletedForEstimate is the number of finished shipments needed before a
// success rate is reported.
const MinCompletedForEstimate = 3

type Classification struct {
	Status  string `json:"status"`
	Label   string `json:"label"`
	Color   string `json:"color"`
	IsRisky bool   `json:"is_risky"`
}

// Classify maps a score onto its display band. The risky flag here follows
// the band, not IsRisky; the two cutoffs differ on purpose.
func Classify(score int) Classification {
	switch {
	case score >= 5:
		return Classification{Status: StatusExcellent, Label: "Excellent", Color: "green"}
	case score >= 2:
		return Classification{Status: StatusGood, Label: "Good", Color: "blue"}
	case score >= 0:
		return Classification{Status: StatusNeutral, Label: "Neutral", Color: "gray"}
	case score >= -2:
		return Classification{Status: StatusWarning, Label: "Warning", Color: "orange", IsRisky: true}
	default:
		return Classification{Status: StatusDanger, Label: "Danger", Color: "red", IsRisky: true}
	}
}

// IsRisky reports score < threshold.
func IsRisky(score, threshold int) bool {
	return score < threshold
}

type SuccessRate struct {
	Delivered     int64           `json:"delivered"`
	Completed     int64           `json:"completed"`
	HasEnoughData bool            `json:"has_enough_data"`
	Percentage    decimal.Decimal `json:"percentage"`
	RangeLow      int             `json:"range_low"`
	RangeHigh     int             `json:"range_high"`
}

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// EstimateSuccessRate reports delivered/completed as a percentage widened
// into a range that narrows as the sample grows.
func EstimateSuccessRate(delivered, completed int64) SuccessRate {
	return EstimateSuccessRateWithMin(delivered, completed, MinCompletedForEstimate)
}

func EstimateSuccessRateWithMin(delivered, completed, minCompleted int64) SuccessRate {
	rate := SuccessRate{Delivered: delivered, Completed: completed}
	if completed <= 0 || completed < minCompleted {
		return rate
	}

	pct := decimal.NewFromInt(delivered).Div(decimal.NewFromInt(completed)).Mul(hundred)
	offset := decimal.NewFromInt(rangeOffset(completed))

	rate.HasEnoughData = true
	rate.Percentage = pct.Round(2)
	rate.RangeLow = int(clampPercent(pct.Sub(offset)).Round(0).IntPart())
	rate.RangeHigh = int(clampPercent(pct.Add(offset)).Round(0).IntPart())
	return rate
}

// rangeOffset widens small samples the most. Four completed shipments
// already use the middle band: 3 of 4 delivered displays as 72-78.
func rangeOffset(completed int64) int64 {
	switch {
	case completed <= MinCompletedForEstimate:
		return 5
	case completed < 20:
		return 3
	default:
		return 2
	}
}

func clampPercent(v decimal.Decimal) decimal.Decimal {
	if v.LessThan(zero) {
		return zero
	}
	if v.GreaterThan(hundred) {
		return hundred
	}
	return v
}
