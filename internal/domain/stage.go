package domain

import "strings"

// Stage is a fixed-vocabulary lifecycle milestone of a container.
type Stage string

const (
	StageUnknown         Stage = "UNKNOWN"
	StageBooked          Stage = "BOOKED"
	StageGatedIn         Stage = "GATED_IN"
	StageLoaded          Stage = "LOADED"
	StageDeparted        Stage = "DEPARTED"
	StageInTransit       Stage = "IN_TRANSIT"
	StageArrived         Stage = "ARRIVED"
	StageDischarged      Stage = "DISCHARGED"
	StageCustomsHold     Stage = "CUSTOMS_HOLD"
	StageCustomsReleased Stage = "CUSTOMS_RELEASED"
	StageGatedOut        Stage = "GATED_OUT"
	StageDelivered       Stage = "DELIVERED"
	StageEmptyReturned   Stage = "EMPTY_RETURNED"
)

var stageSequence = map[Stage]int{
	StageUnknown:         0,
	StageBooked:          1,
	StageGatedIn:         2,
	StageLoaded:          3,
	StageDeparted:        4,
	StageInTransit:       5,
	StageArrived:         6,
	StageDischarged:      7,
	StageCustomsHold:     8,
	StageCustomsReleased: 9,
	StageGatedOut:        10,
	StageDelivered:       11,
	StageEmptyReturned:   12,
}

// Stages returns the vocabulary in lifecycle order, excluding UNKNOWN.
func Stages() []Stage {
	return []Stage{
		StageBooked, StageGatedIn, StageLoaded, StageDeparted, StageInTransit, StageArrived,
		StageDischarged, StageCustomsHold, StageCustomsReleased, StageGatedOut, StageDelivered,
		StageEmptyReturned,
	}
}

// ParseStage validates a stage code against the fixed vocabulary. Lowercase and
// hyphenated spellings are accepted.
func ParseStage(value string) (Stage, bool) {
	code := strings.ToUpper(strings.TrimSpace(value))
	code = strings.NewReplacer("-", "_", " ", "_").Replace(code)
	stage := Stage(code)
	if _, ok := stageSequence[stage]; !ok || stage == StageUnknown {
		return StageUnknown, false
	}
	return stage, true
}

// Sequence returns the ordinal of the stage in the lifecycle.
func (s Stage) Sequence() int {
	return stageSequence[s]
}

// After reports whether s is a later milestone than other.
func (s Stage) After(other Stage) bool {
	return s.Sequence() > other.Sequence()
}

// IsTerminal reports whether the container has completed its lifecycle.
func (s Stage) IsTerminal() bool {
	return s == StageDelivered || s == StageEmptyReturned
}

// Valid reports whether the stage belongs to the vocabulary.
func (s Stage) Valid() bool {
	_, ok := stageSequence[s]
	return ok
}
