package model

import "time"

// Participant is one admitted connection of the cohort.
type Participant struct {
	Id                 string    `json:"id"`
	Address            string    `json:"address"`
	AdmittedAt         time.Time `json:"admittedAt"`
	HasSubmittedUpdate bool      `json:"hasSubmittedUpdate"`
}

// Submission records one trained update received from a participant.
type Submission struct {
	ParticipantId string    `json:"participantId"`
	Size          int       `json:"size"`
	ReceivedAt    time.Time `json:"receivedAt"`
}
