package florch

import (
	"errors"
	"fmt"
	"net"

	"github.com/MansoorButt/kube-infra/internal/common"
	"github.com/MansoorButt/kube-infra/internal/events"
	"github.com/MansoorButt/kube-infra/internal/model"
	"github.com/MansoorButt/kube-infra/internal/transport"
)

// Shutdown stops the round. The first caller runs the sequence; concurrent
// callers block until it has finished. Later calls return immediately.
func (orch *Coordinator[M]) Shutdown(reason string) {
	orch.shutdownOnce.Do(func() {
		orch.stopping.Store(true)
		orch.logger.Info("Initiating shutdown sequence", "reason", reason)

		orch.listenerMu.Lock()
		if orch.cohortTimer != nil {
			orch.cohortTimer.Stop()
		}
		listener := orch.listener
		orch.listenerMu.Unlock()

		// closing first releases any broadcast blocked on a slow reader,
		// which holds the registry lock
		orch.live.Range(func(key, _ any) bool {
			orch.closeChannel(key.(*transport.Channel))
			orch.live.Delete(key)
			return true
		})

		if err := orch.registry.Advance(model.ShuttingDown); err != nil {
			orch.logger.Debug("Round already shutting down", "error", err)
		}
		if orch.registry.CancelCohort() {
			orch.logger.Info(fmt.Sprintf("Cohort never formed: %d of %d clients connected",
				orch.registry.Count(), orch.options.CohortSize))
		}
		for _, ch := range orch.registry.Drain() {
			orch.closeChannel(ch)
		}

		if listener != nil {
			if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				orch.logger.Error("Error closing server socket", "error", err)
			} else {
				orch.logger.Info("Closed server socket")
			}
		}

		orch.reporter.Stop()

		if err := orch.registry.Advance(model.Stopped); err != nil {
			orch.logger.Debug("Round already stopped", "error", err)
		}
		orch.shutdownReason = reason

		submitted := orch.registry.SubmittedCount()
		orch.eventBus.Publish(events.Event{
			Type: common.ROUND_FINISHED_EVENT_TYPE,
			Data: events.RoundFinishedEvent{
				RoundId:        orch.roundId,
				Reason:         reason,
				SubmittedCount: submitted,
				CohortSize:     orch.options.CohortSize,
			},
		})
		orch.logger.Info(fmt.Sprintf("All connections closed. Models received: %d/%d", submitted, orch.options.CohortSize))

		close(orch.done)
	})
}

// Reason is why the round stopped; empty while it is still running.
func (orch *Coordinator[M]) Reason() string {
	select {
	case <-orch.done:
		return orch.shutdownReason
	default:
		return ""
	}
}

func (orch *Coordinator[M]) closeChannel(ch *transport.Channel) {
	if ch.Closed() {
		return
	}
	if err := ch.Close(); err != nil {
		orch.logger.Error("Error closing client connection", "error", err)
		return
	}
	orch.logger.Info("Closed client connection", "address", ch.RemoteAddr())
}
