package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/MansoorButt/kube-infra/internal/artifact"
	"github.com/MansoorButt/kube-infra/internal/transport"
)

var ErrNoInitialModel = errors.New("connection ended before the initial model arrived")

type Options struct {
	// TrainTimeout bounds local training. Zero means no bound.
	TrainTimeout time.Duration
}

type Result struct {
	Acknowledged bool
	Response     string
	InitialSize  int
	TrainedSize  int
	Notices      []string
}

// Session is the participant side of one round: receive the initial model,
// train it and send the result back.
type Session[M any] struct {
	channel *transport.Channel
	codec   artifact.Codec[M]
	trainer artifact.Trainer[M]
	options Options
	logger  hclog.Logger

	initialReceived chan struct{}
	receiveDone     chan struct{}
	receiveErr      error
	initial         M
	initialSize     int

	noticesMu sync.Mutex
	notices   []string
}

func NewSession[M any](ch *transport.Channel, codec artifact.Codec[M], trainer artifact.Trainer[M],
	options Options, logger hclog.Logger) *Session[M] {
	return &Session[M]{
		channel:         ch,
		codec:           codec,
		trainer:         trainer,
		options:         options,
		logger:          logger.Named("session"),
		initialReceived: make(chan struct{}),
		receiveDone:     make(chan struct{}),
	}
}

// Run drives both duties and returns once both have finished. The channel is
// closed when Run returns.
func (s *Session[M]) Run(ctx context.Context) (Result, error) {
	defer s.channel.Close()

	group, groupCtx := errgroup.WithContext(ctx)
	stop := make(chan struct{})
	go func() {
		select {
		case <-groupCtx.Done():
			// unblocks a duty stuck on the socket
			s.channel.Close()
		case <-stop:
		}
	}()

	var result Result
	group.Go(s.receive)
	group.Go(func() error {
		var err error
		result, err = s.send(groupCtx)
		return err
	})

	err := group.Wait()
	close(stop)

	result.InitialSize = s.initialSize
	result.Notices = s.Notices()
	return result, err
}

func (s *Session[M]) Notices() []string {
	s.noticesMu.Lock()
	defer s.noticesMu.Unlock()
	return append([]string(nil), s.notices...)
}

func (s *Session[M]) notice(text string) {
	s.logger.Info(fmt.Sprintf("Server message: %s", text))
	s.noticesMu.Lock()
	s.notices = append(s.notices, text)
	s.noticesMu.Unlock()
}

// receive reads server messages until the initial model arrives or the
// stream ends.
func (s *Session[M]) receive() error {
	defer close(s.receiveDone)

	for {
		msg, err := s.channel.ReceiveMessage()
		if err != nil {
			if errors.Is(err, transport.ErrRejected) {
				s.logger.Error("Server rejected the connection: cohort is full")
				s.receiveErr = err
				return err
			}
			if s.channel.IsClosure(err) {
				s.logger.Info("Server closed the connection")
				return nil
			}
			s.logger.Error("Error receiving data", "error", err)
			s.receiveErr = err
			return err
		}

		if msg.Kind == transport.ControlMessage {
			s.notice(msg.Text)
			continue
		}

		s.logger.Info(fmt.Sprintf("Receiving null model of size %d bytes", msg.Size))
		payload, err := s.channel.ReceiveArtifact(msg.Size)
		if err != nil {
			s.receiveErr = err
			return err
		}
		initial, err := s.codec.Deserialize(payload)
		if err != nil {
			s.receiveErr = err
			return err
		}

		s.initial = initial
		s.initialSize = len(payload)
		s.logger.Info("Successfully received null model")
		close(s.initialReceived)
		return nil
	}
}

// send waits for the initial model, trains it and submits the update.
func (s *Session[M]) send(ctx context.Context) (Result, error) {
	var result Result

	select {
	case <-s.initialReceived:
	case <-s.receiveDone:
		select {
		case <-s.initialReceived:
		default:
			if s.receiveErr != nil {
				return result, s.receiveErr
			}
			return result, ErrNoInitialModel
		}
	case <-ctx.Done():
		return result, ctx.Err()
	}

	trainCtx := ctx
	if s.options.TrainTimeout > 0 {
		var cancel context.CancelFunc
		trainCtx, cancel = context.WithTimeout(ctx, s.options.TrainTimeout)
		defer cancel()
	}

	s.logger.Info("Starting model training process")
	trained, err := s.trainer.Train(trainCtx, s.initial)
	if err != nil {
		return result, fmt.Errorf("training failed: %w", err)
	}

	payload, err := s.codec.Serialize(trained)
	if err != nil {
		return result, err
	}
	result.TrainedSize = len(payload)

	s.logger.Info(fmt.Sprintf("Sending trained model (size: %d bytes)", len(payload)))
	if err := s.channel.SendUpdate(payload); err != nil {
		return result, fmt.Errorf("error sending trained model: %w", err)
	}

	acked, response, err := s.channel.ReceiveAck(s.notice)
	if err != nil {
		return result, fmt.Errorf("error waiting for acknowledgment: %w", err)
	}
	result.Acknowledged = acked
	result.Response = response
	if acked {
		s.logger.Info("Server acknowledged model reception")
	} else {
		s.logger.Warn(fmt.Sprintf("Unexpected server response: %s", response))
	}
	return result, nil
}
