package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// RiskLevel is an ordered qualitative risk. The zero value is RiskUnknown.
type RiskLevel int

const (
	RiskUnknown RiskLevel = iota
	RiskLow
	RiskMedium
	RiskHigh
)

func (l RiskLevel) String() string {
	switch l {
	case RiskLow:
		return "LOW"
	case RiskMedium:
		return "MEDIUM"
	case RiskHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// Elevated reports whether the level contributes to a DANGER status.
func (l RiskLevel) Elevated() bool {
	return l >= RiskMedium
}

func (l RiskLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *RiskLevel) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	lv, err := ParseRiskLevel(s)
	if err != nil {
		return err
	}
	*l = lv
	return nil
}

// ParseRiskLevel is the inverse of RiskLevel.String.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch s {
	case "UNKNOWN":
		return RiskUnknown, nil
	case "LOW":
		return RiskLow, nil
	case "MEDIUM":
		return RiskMedium, nil
	case "HIGH":
		return RiskHigh, nil
	}
	return RiskUnknown, fmt.Errorf("unknown risk level %q", s)
}

// MaxRisk returns the highest of the given levels, RiskUnknown for none.
func MaxRisk(levels ...RiskLevel) RiskLevel {
	out := RiskUnknown
	for _, l := range levels {
		if l > out {
			out = l
		}
	}
	return out
}

// Assessment is a risk level plus the human-readable explanation behind it.
type Assessment struct {
	Level       RiskLevel `json:"level"`
	Explanation string    `json:"explanation"`
}

// Status is the overall alert state derived from the activity assessments.
type Status string

const (
	StatusSafe   Status = "SAFE"
	StatusDanger Status = "DANGER"
)

// StatusResult is the outcome of one monitoring cycle.
type StatusResult struct {
	Timestamp time.Time  `json:"timestamp"`
	Overall   Status     `json:"status"`
	Travel    Assessment `json:"travelRisk"`
	Checkup   Assessment `json:"checkupRisk"`
	Warnings  []string   `json:"warnings"`
}
