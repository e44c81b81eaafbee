package server

import (
	"encoding/json"
	"io"

	"github.com/MansoorButt/kube-infra/internal/model"
)

func toJSON(i interface{}, w io.Writer) error {
	e := json.NewEncoder(w)
	return e.Encode(i)
}

type StatusResponse struct {
	Round       model.RoundStatus  `json:"round"`
	Submissions []model.Submission `json:"submissions"`
	StopReason  string             `json:"stopReason,omitempty"`
}

type StopResponse struct {
	RoundId    string `json:"roundId"`
	StopReason string `json:"stopReason"`
}
