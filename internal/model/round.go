package model

import (
	"encoding/json"
	"fmt"
)

// RoundState is the process-wide phase of the exchange round. It only ever
// moves forward.
type RoundState int

const (
	AwaitingCohort RoundState = iota
	Distributing
	Collecting
	Complete
	ShuttingDown
	Stopped
)

func (s RoundState) String() string {
	switch s {
	case AwaitingCohort:
		return "AwaitingCohort"
	case Distributing:
		return "Distributing"
	case Collecting:
		return "Collecting"
	case Complete:
		return "Complete"
	case ShuttingDown:
		return "ShuttingDown"
	case Stopped:
		return "Stopped"
	default:
		return fmt.Sprintf("RoundState(%d)", int(s))
	}
}

func (s RoundState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// CanAdvanceTo reports whether next is a forward transition from s.
func (s RoundState) CanAdvanceTo(next RoundState) bool {
	return next > s && next <= Stopped
}

// RoundStatus is a point-in-time view of the round.
type RoundStatus struct {
	RoundId        string         `json:"roundId"`
	State          RoundState     `json:"state"`
	CohortSize     int            `json:"cohortSize"`
	Participants   []*Participant `json:"participants"`
	SubmittedCount int            `json:"submittedCount"`
}
