package florch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"go.uber.org/atomic"

	"github.com/MansoorButt/kube-infra/internal/artifact"
	"github.com/MansoorButt/kube-infra/internal/broadcast"
	"github.com/MansoorButt/kube-infra/internal/common"
	"github.com/MansoorButt/kube-infra/internal/config"
	"github.com/MansoorButt/kube-infra/internal/events"
	"github.com/MansoorButt/kube-infra/internal/metrics"
	"github.com/MansoorButt/kube-infra/internal/model"
	"github.com/MansoorButt/kube-infra/internal/registry"
	"github.com/MansoorButt/kube-infra/internal/transport"
)

// Options tunes a single round. Zero timeouts wait forever.
type Options struct {
	CohortSize        int
	MaxPayloadSize    int
	AcceptTimeout     time.Duration
	CompletionGrace   time.Duration
	CohortTimeout     time.Duration
	SubmissionTimeout time.Duration
	StatusInterval    time.Duration
	ResultsDir        string
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		CohortSize:        cfg.Round.CohortSize,
		MaxPayloadSize:    cfg.Server.MaxPayloadSize,
		AcceptTimeout:     cfg.Round.AcceptTimeout,
		CompletionGrace:   cfg.Round.CompletionGrace,
		CohortTimeout:     cfg.Round.CohortTimeout,
		SubmissionTimeout: cfg.Round.SubmissionTimeout,
		StatusInterval:    cfg.Round.StatusInterval,
		ResultsDir:        cfg.Results.Dir,
	}
}

// Coordinator runs one model exchange round: it admits a fixed cohort, hands
// every participant the initial model, collects one trained update from each
// and shuts everything down.
type Coordinator[M any] struct {
	options  Options
	codec    artifact.Codec[M]
	initial  []byte
	eventBus *events.EventBus
	metrics  *metrics.Collector
	logger   hclog.Logger

	roundId   string
	registry  *registry.Registry
	broadcast *broadcast.Service
	reporter  *statusReporter
	results   *resultsWriter

	// every admitted channel, so shutdown can unblock a broadcast stuck in a
	// write without taking the registry lock
	live sync.Map

	listenerMu  sync.Mutex
	listener    net.Listener
	cohortTimer *time.Timer

	stopping       atomic.Bool
	distributeOnce sync.Once
	shutdownOnce   sync.Once
	shutdownReason string
	done           chan struct{}
	duties         sync.WaitGroup

	resultsMu   sync.Mutex
	submissions []model.Submission
	models      []M
}

func NewCoordinator[M any](options Options, initialModel M, codec artifact.Codec[M], eventBus *events.EventBus,
	collector *metrics.Collector, logger hclog.Logger) (*Coordinator[M], error) {
	if options.CohortSize < 1 {
		options.CohortSize = common.COHORT_SIZE
	}
	if options.AcceptTimeout <= 0 {
		options.AcceptTimeout = common.ACCEPT_TIMEOUT
	}
	if collector == nil {
		collector = metrics.NewCollector()
	}

	initial, err := codec.Serialize(initialModel)
	if err != nil {
		return nil, fmt.Errorf("could not serialize initial model: %w", err)
	}

	roundId := uuid.New().String()
	logger = logger.With("round", roundId)

	orch := &Coordinator[M]{
		options:  options,
		codec:    codec,
		initial:  initial,
		eventBus: eventBus,
		metrics:  collector,
		logger:   logger,
		roundId:  roundId,
		registry: registry.NewRegistry(roundId, options.CohortSize),
		done:     make(chan struct{}),
	}
	orch.broadcast = broadcast.NewService(orch.registry, logger)
	orch.reporter = newStatusReporter(orch.registry, logger, options.StatusInterval)

	if options.ResultsDir != "" {
		orch.results, err = newResultsWriter(options.ResultsDir, roundId)
		if err != nil {
			return nil, err
		}
	}

	orch.registry.OnTransition(orch.stateChanged)
	collector.RoundState(model.AwaitingCohort)

	return orch, nil
}

func (orch *Coordinator[M]) RoundID() string {
	return orch.roundId
}

// Done is closed once the round has stopped.
func (orch *Coordinator[M]) Done() <-chan struct{} {
	return orch.done
}

func (orch *Coordinator[M]) Status() model.RoundStatus {
	return orch.registry.Snapshot()
}

// Submissions lists accepted updates in arrival order.
func (orch *Coordinator[M]) Submissions() []model.Submission {
	orch.resultsMu.Lock()
	defer orch.resultsMu.Unlock()
	return append([]model.Submission(nil), orch.submissions...)
}

// Models returns the decoded trained models in arrival order.
func (orch *Coordinator[M]) Models() []M {
	orch.resultsMu.Lock()
	defer orch.resultsMu.Unlock()
	return append([]M(nil), orch.models...)
}

// Serve runs the accept loop on listener and returns once the round has
// stopped and every participant duty has returned. Cancelling ctx shuts the
// round down.
func (orch *Coordinator[M]) Serve(ctx context.Context, listener net.Listener) error {
	orch.listenerMu.Lock()
	orch.listener = listener
	orch.listenerMu.Unlock()

	if orch.stopping.Load() {
		listener.Close()
		return nil
	}

	orch.logger.Info("Server is running and waiting for clients", "address", listener.Addr().String(),
		"cohort", orch.options.CohortSize)

	if err := orch.reporter.Start(); err != nil {
		orch.logger.Warn("Could not start status reporter", "error", err)
	}
	if orch.options.CohortTimeout > 0 {
		orch.listenerMu.Lock()
		orch.cohortTimer = time.AfterFunc(orch.options.CohortTimeout, orch.cohortTimedOut)
		orch.listenerMu.Unlock()
	}

	go func() {
		select {
		case <-ctx.Done():
			orch.Shutdown("context cancelled")
		case <-orch.done:
		}
	}()

	orch.acceptLoop(listener)

	<-orch.done
	orch.duties.Wait()
	return nil
}

func (orch *Coordinator[M]) acceptLoop(listener net.Listener) {
	deadliner, canDeadline := listener.(interface{ SetDeadline(time.Time) error })

	for !orch.stopping.Load() {
		if canDeadline {
			deadliner.SetDeadline(time.Now().Add(orch.options.AcceptTimeout))
		}

		conn, err := listener.Accept()
		if err != nil {
			if orch.stopping.Load() {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				orch.logger.Error("Server socket closed unexpectedly")
				orch.Shutdown("listener closed")
				return
			}
			orch.logger.Error("Error in accept loop", "error", err)
			continue
		}

		orch.admit(conn)
	}
}

func (orch *Coordinator[M]) admit(conn net.Conn) {
	ch := transport.NewChannel(conn, transport.WithMaxPayloadSize(orch.options.MaxPayloadSize))
	address := ch.RemoteAddr()

	participant, formed, err := orch.registry.Admit(ch, address)
	if err != nil {
		if errors.Is(err, registry.ErrConnectionRejected) {
			orch.logger.Warn("Rejected connection - server full", "address", address)
			orch.metrics.ConnectionRejected()
			if err := ch.SendRejection(); err != nil {
				orch.logger.Debug("Could not notify rejected connection", "address", address, "error", err)
			}
		} else {
			orch.logger.Info("Turned away connection", "address", address, "error", err)
		}
		ch.Close()
		return
	}
	orch.live.Store(ch, struct{}{})

	orch.logger.Info(fmt.Sprintf("New connection established from %s", address), "participant", participant.Id)
	orch.metrics.ConnectionAdmitted()
	orch.eventBus.Publish(events.Event{
		Type: common.PARTICIPANT_ADMITTED_EVENT_TYPE,
		Data: events.ParticipantEvent{RoundId: orch.roundId, Participant: *participant},
	})

	orch.dropFailed(orch.broadcast.BroadcastControl(common.GetParticipantJoinedNotice(orch.registry.Count())), "control")
	orch.dropFailed(orch.broadcast.BroadcastControl(common.GetParticipantConnectedNotice(participant.Id)), "control")
	orch.metrics.Broadcast("control")

	if formed {
		orch.logger.Info(fmt.Sprintf("All %d clients connected, starting model exchange", orch.options.CohortSize))
	}

	orch.duties.Add(1)
	go orch.serveParticipant(participant, ch)
}

func (orch *Coordinator[M]) stateChanged(from, to model.RoundState) {
	orch.logger.Info(fmt.Sprintf("Round state changed: %s -> %s", from, to))
	orch.metrics.RoundState(to)
	orch.eventBus.Publish(events.Event{
		Type: common.ROUND_STATE_CHANGED_EVENT_TYPE,
		Data: events.RoundStateChangedEvent{RoundId: orch.roundId, From: from, To: to},
	})
}

func (orch *Coordinator[M]) cohortTimedOut() {
	if orch.registry.CohortFormed() {
		return
	}
	orch.logger.Warn("Cohort did not form in time", "timeout", orch.options.CohortTimeout,
		"connected", orch.registry.Count())
	orch.Shutdown(registry.ErrCohortNeverFormed.Error())
}

// dropParticipant removes ch from the round and closes it. Safe to call for a
// channel that shutdown already drained.
func (orch *Coordinator[M]) dropParticipant(ch *transport.Channel, reason string, cause error) {
	participant := orch.registry.Remove(ch)
	orch.live.Delete(ch)
	if err := ch.Close(); err != nil {
		orch.logger.Debug("Error closing client connection", "error", err)
	}
	if participant == nil {
		return
	}

	orch.logger.Warn("Removed client", "participant", participant.Id, "reason", reason, "error", cause)
	orch.metrics.ParticipantRemoved(reason)
	orch.eventBus.Publish(events.Event{
		Type: common.PARTICIPANT_REMOVED_EVENT_TYPE,
		Data: events.ParticipantEvent{RoundId: orch.roundId, Participant: *participant, Reason: reason},
	})
}

func (orch *Coordinator[M]) dropFailed(failures []broadcast.Failure, reason string) {
	for _, failure := range failures {
		orch.dropParticipant(failure.Channel, reason, failure.Err)
	}
}
