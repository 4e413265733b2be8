package domain

import "encoding/json"

// RiskLevel is an ordered coarse label derived from a predicted magnitude.
// Higher values mean higher risk.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskModerate
	RiskHigh
)

// Risk thresholds on predicted magnitude. Each bucket includes its lower
// bound and excludes its upper bound:
//
//	m < 4.0         Low
//	4.0 <= m < 5.5  Moderate
//	m >= 5.5        High
const (
	ModerateThreshold = 4.0
	HighThreshold     = 5.5
)

// ClassifyRisk maps a predicted magnitude to a risk level.
func ClassifyRisk(magnitude float64) RiskLevel {
	switch {
	case magnitude < ModerateThreshold:
		return RiskLow
	case magnitude < HighThreshold:
		return RiskModerate
	default:
		return RiskHigh
	}
}

func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "Low"
	case RiskModerate:
		return "Moderate"
	case RiskHigh:
		return "High"
	default:
		return "Unknown"
	}
}

// Explanation is a short note for the end user.
func (r RiskLevel) Explanation() string {
	switch r {
	case RiskLow:
		return "Region with typically small, imperceptible earthquakes. Low risk of damage."
	case RiskModerate:
		return "Earthquakes occasionally felt. Moderate risk of light damage in rare events."
	case RiskHigh:
		return "Region with a history of stronger earthquakes. Higher damage potential in significant events."
	default:
		return ""
	}
}

func (r RiskLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// Disclaimer accompanies every risk estimate.
const Disclaimer = "This is a statistical estimate based on historical patterns. " +
	"Large earthquakes (M>7) are rare and cannot be predicted precisely."

// MagnitudeBand is one row of the magnitude reference table.
type MagnitudeBand struct {
	Range     string `json:"range"`
	Effect    string `json:"effect"`
	Frequency string `json:"frequency"`
}

// MagnitudeScale is the reference table shown next to predictions.
func MagnitudeScale() []MagnitudeBand {
	return []MagnitudeBand{
		{Range: "< 4.0", Effect: "Usually not felt", Frequency: "Very common"},
		{Range: "4.0-4.9", Effect: "Felt, no damage", Frequency: "Common"},
		{Range: "5.0-5.9", Effect: "Light to moderate damage", Frequency: "Moderate"},
		{Range: "6.0-6.9", Effect: "Significant damage", Frequency: "Rare"},
		{Range: ">= 7.0", Effect: "Severe to catastrophic", Frequency: "Very rare"},
	}
}
