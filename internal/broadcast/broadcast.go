package broadcast

import (
	"github.com/hashicorp/go-hclog"

	"github.com/MansoorButt/kube-infra/internal/model"
	"github.com/MansoorButt/kube-infra/internal/registry"
	"github.com/MansoorButt/kube-infra/internal/transport"
)

// Failure is one participant a broadcast could not reach.
type Failure struct {
	Participant model.Participant
	Channel     *transport.Channel
	Err         error
}

// Service fans messages out to every registered participant. Iteration runs
// under the registry lock, so no participant is admitted or removed while a
// broadcast is in flight.
type Service struct {
	registry *registry.Registry
	logger   hclog.Logger
}

func NewService(reg *registry.Registry, logger hclog.Logger) *Service {
	return &Service{
		registry: reg,
		logger:   logger.Named("broadcast"),
	}
}

// BroadcastControl sends a MESSAGE line to every participant. Failures are
// logged and returned; delivery to the others continues.
func (s *Service) BroadcastControl(text string) []Failure {
	s.logger.Info("Broadcasting message to all clients", "message", text)

	var failures []Failure
	s.registry.ForEach(func(participant *model.Participant, ch *transport.Channel) {
		if err := ch.SendControl(text); err != nil {
			s.logger.Error("Error broadcasting message", "participant", participant.Id, "error", err)
			failures = append(failures, Failure{Participant: *participant, Channel: ch, Err: err})
		}
	})
	return failures
}

// BroadcastArtifact sends the MODEL header and payload to every participant.
func (s *Service) BroadcastArtifact(payload []byte) []Failure {
	s.logger.Info("Starting model broadcast to all clients", "bytes", len(payload))

	var failures []Failure
	s.registry.ForEach(func(participant *model.Participant, ch *transport.Channel) {
		if err := ch.SendArtifact(payload); err != nil {
			s.logger.Error("Error sending model to client", "participant", participant.Id, "error", err)
			failures = append(failures, Failure{Participant: *participant, Channel: ch, Err: err})
			return
		}
		s.logger.Info("Sent model to client", "participant", participant.Id)
	})
	return failures
}
