package florch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/MansoorButt/kube-infra/internal/common"
	"github.com/MansoorButt/kube-infra/internal/events"
	"github.com/MansoorButt/kube-infra/internal/model"
	"github.com/MansoorButt/kube-infra/internal/transport"
)

// serveParticipant is the duty started for every admitted connection: wait for
// the cohort, take part in the one distribution, then collect the update.
func (orch *Coordinator[M]) serveParticipant(participant *model.Participant, ch *transport.Channel) {
	defer orch.duties.Done()
	logger := orch.logger.With("participant", participant.Id)

	if err := orch.registry.WaitCohort(context.Background()); err != nil {
		logger.Info("Leaving before training started", "error", err)
		return
	}

	orch.distributeOnce.Do(orch.distribute)

	if !orch.registry.Contains(ch) {
		return
	}
	orch.collect(logger, participant, ch)
}

func (orch *Coordinator[M]) distribute() {
	if err := orch.registry.Advance(model.Distributing); err != nil {
		orch.logger.Warn("Skipping model distribution", "error", err)
		return
	}

	orch.dropFailed(orch.broadcast.BroadcastControl(common.GetCohortFormedNotice(orch.options.CohortSize)), "control")
	orch.metrics.Broadcast("control")

	recipients := orch.registry.Count()
	failures := orch.broadcast.BroadcastArtifact(orch.initial)
	for i := 0; i < recipients-len(failures); i++ {
		orch.metrics.ArtifactSent(len(orch.initial))
	}
	orch.dropFailed(failures, "distribution")
	orch.metrics.Broadcast("model")

	if err := orch.registry.Advance(model.Collecting); err != nil {
		orch.logger.Warn("Round moved on during distribution", "error", err)
		return
	}
	orch.logger.Info(fmt.Sprintf("Successfully sent null model to %d clients", recipients-len(failures)))
}

// collect reads trained updates from one participant until its stream ends.
func (orch *Coordinator[M]) collect(logger hclog.Logger, participant *model.Participant, ch *transport.Channel) {
	for {
		timeout := time.Duration(0)
		if !orch.registry.HasSubmitted(participant.Id) {
			timeout = orch.options.SubmissionTimeout
		}
		if err := ch.SetReadTimeout(timeout); err != nil {
			orch.endDuty(logger, participant, ch, err)
			return
		}

		size, err := ch.ReceiveUpdateSize()
		if err != nil {
			orch.endDuty(logger, participant, ch, err)
			return
		}

		if orch.registry.HasSubmitted(participant.Id) {
			logger.Info("Already received model from client, discarding duplicate", "bytes", size)
			orch.metrics.SubmissionDuplicate()
			if err := ch.Discard(size); err != nil {
				orch.endDuty(logger, participant, ch, err)
				return
			}
			if err := ch.SendAck(); err != nil {
				orch.endDuty(logger, participant, ch, err)
				return
			}
			continue
		}

		logger.Info(fmt.Sprintf("Expecting model of size: %d bytes", size))
		payload, err := ch.ReceiveArtifact(size)
		if err != nil {
			orch.endDuty(logger, participant, ch, err)
			return
		}

		trained, err := orch.codec.Deserialize(payload)
		if err != nil {
			logger.Error("Could not decode trained model", "error", err)
			orch.dropParticipant(ch, "undecodable", err)
			return
		}

		submission := model.Submission{ParticipantId: participant.Id, Size: size, ReceivedAt: time.Now()}
		total := orch.record(logger, submission, trained, payload)

		_, complete := orch.registry.MarkSubmitted(participant.Id)
		orch.metrics.SubmissionAccepted(size)
		orch.eventBus.Publish(events.Event{
			Type: common.MODEL_SUBMITTED_EVENT_TYPE,
			Data: events.ModelSubmittedEvent{RoundId: orch.roundId, Submission: submission},
		})
		logger.Info("Successfully received model from client")
		logger.Info(fmt.Sprintf("Total models received: %d/%d", total, orch.options.CohortSize))

		ackErr := ch.SendAck()
		if complete {
			orch.duties.Add(1)
			go orch.finish()
		}
		if ackErr != nil {
			orch.endDuty(logger, participant, ch, ackErr)
			return
		}
	}
}

func (orch *Coordinator[M]) record(logger hclog.Logger, submission model.Submission, trained M, payload []byte) int {
	orch.resultsMu.Lock()
	orch.submissions = append(orch.submissions, submission)
	orch.models = append(orch.models, trained)
	total := len(orch.submissions)
	orch.resultsMu.Unlock()

	if orch.results != nil {
		if err := orch.results.Write(submission, payload); err != nil {
			logger.Error("Could not persist trained model", "error", err)
		}
	}
	return total
}

// endDuty classifies the error that ended a participant's receive loop.
func (orch *Coordinator[M]) endDuty(logger hclog.Logger, participant *model.Participant, ch *transport.Channel, err error) {
	if orch.stopping.Load() || ch.Closed() {
		logger.Debug("Connection closed during shutdown")
		return
	}

	if ch.IsClosure(err) {
		if orch.registry.HasSubmitted(participant.Id) {
			logger.Info("Client disconnected")
		} else {
			logger.Warn("Client disconnected before sending its model")
		}
		orch.dropParticipant(ch, "disconnected", err)
		return
	}

	logger.Error("Error receiving model from client", "error", err)
	orch.dropParticipant(ch, dropReason(err), err)
}

func dropReason(err error) string {
	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case errors.Is(err, transport.ErrTruncatedPayload):
		return "truncated"
	case errors.Is(err, transport.ErrPayloadTooLarge):
		return "oversized"
	case errors.Is(err, transport.ErrMalformedHeader):
		return "malformed"
	default:
		return "io"
	}
}

// finish announces completion, gives participants a moment to read it and
// stops the round.
func (orch *Coordinator[M]) finish() {
	defer orch.duties.Done()

	orch.logger.Info(fmt.Sprintf("Training complete! All %d models received", orch.options.CohortSize))
	orch.dropFailed(orch.broadcast.BroadcastControl(common.TRAINING_COMPLETE_NOTICE), "control")
	orch.metrics.Broadcast("control")

	select {
	case <-time.After(orch.options.CompletionGrace):
	case <-orch.done:
	}
	orch.Shutdown("round complete")
}
