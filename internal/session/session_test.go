package session

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MansoorButt/kube-infra/internal/artifact"
	"github.com/MansoorButt/kube-infra/internal/common"
	"github.com/MansoorButt/kube-infra/internal/transport"
)

type counter struct {
	Rounds int `json:"rounds"`
}

var increment = artifact.TrainerFunc[counter](func(ctx context.Context, initial counter) (counter, error) {
	initial.Rounds++
	return initial, nil
})

// pipeSession wires a session to the server end of an in-memory connection.
func pipeSession(t *testing.T, trainer artifact.Trainer[counter], options Options) (*Session[counter], *transport.Channel) {
	s, server, _ := pipeSessionConn(t, trainer, options)
	return s, server
}

func pipeSessionConn(t *testing.T, trainer artifact.Trainer[counter], options Options) (*Session[counter], *transport.Channel, net.Conn) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	server := transport.NewChannel(serverConn)
	t.Cleanup(func() {
		server.Close()
		clientConn.Close()
	})

	s := NewSession[counter](transport.NewChannel(clientConn), artifact.JSONCodec[counter]{}, trainer, options, hclog.NewNullLogger())
	return s, server, serverConn
}

type runOutcome struct {
	result Result
	err    error
}

func runAsync(s *Session[counter], ctx context.Context) <-chan runOutcome {
	done := make(chan runOutcome, 1)
	go func() {
		result, err := s.Run(ctx)
		done <- runOutcome{result: result, err: err}
	}()
	return done
}

func await(t *testing.T, done <-chan runOutcome) runOutcome {
	t.Helper()
	select {
	case outcome := <-done:
		return outcome
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
		return runOutcome{}
	}
}

func sendInitial(t *testing.T, server *transport.Channel, rounds int) int {
	t.Helper()
	payload, err := json.Marshal(counter{Rounds: rounds})
	require.NoError(t, err)
	require.NoError(t, server.SendArtifact(payload))
	return len(payload)
}

func TestSessionTrainsAndSubmits(t *testing.T) {
	s, server := pipeSession(t, increment, Options{})
	done := runAsync(s, context.Background())

	require.NoError(t, server.SendControl("hello"))
	initialSize := sendInitial(t, server, 41)

	update, err := server.ReceiveUpdate()
	require.NoError(t, err)
	var trained counter
	require.NoError(t, json.Unmarshal(update, &trained))
	assert.Equal(t, 42, trained.Rounds)

	require.NoError(t, server.SendAck())

	outcome := await(t, done)
	require.NoError(t, outcome.err)
	assert.True(t, outcome.result.Acknowledged)
	assert.Equal(t, initialSize, outcome.result.InitialSize)
	assert.Equal(t, len(update), outcome.result.TrainedSize)
	assert.Equal(t, []string{"hello"}, outcome.result.Notices)
}

func TestSessionReadsNoticeSentBeforeAck(t *testing.T) {
	s, server := pipeSession(t, increment, Options{})
	done := runAsync(s, context.Background())

	sendInitial(t, server, 0)
	_, err := server.ReceiveUpdate()
	require.NoError(t, err)

	require.NoError(t, server.SendControl(common.TRAINING_COMPLETE_NOTICE))
	require.NoError(t, server.SendAck())

	outcome := await(t, done)
	require.NoError(t, outcome.err)
	assert.True(t, outcome.result.Acknowledged)
	assert.Contains(t, outcome.result.Notices, common.TRAINING_COMPLETE_NOTICE)
}

func TestSessionReportsUnexpectedResponse(t *testing.T) {
	s, server, serverConn := pipeSessionConn(t, increment, Options{})
	done := runAsync(s, context.Background())

	sendInitial(t, server, 0)
	_, err := server.ReceiveUpdate()
	require.NoError(t, err)

	_, err = serverConn.Write([]byte("SOMETHING_ELSE\n"))
	require.NoError(t, err)

	outcome := await(t, done)
	require.NoError(t, outcome.err)
	assert.False(t, outcome.result.Acknowledged)
	assert.Equal(t, "SOMETHING_ELSE", outcome.result.Response)
}

func TestSessionRejectedByFullServer(t *testing.T) {
	s, server := pipeSession(t, increment, Options{})
	done := runAsync(s, context.Background())

	require.NoError(t, server.SendRejection())
	server.Close()

	outcome := await(t, done)
	assert.ErrorIs(t, outcome.err, transport.ErrRejected)
	assert.False(t, outcome.result.Acknowledged)
}

func TestSessionEndsWithoutInitialModel(t *testing.T) {
	s, server := pipeSession(t, increment, Options{})
	done := runAsync(s, context.Background())

	require.NoError(t, server.SendControl("bye"))
	server.Close()

	outcome := await(t, done)
	assert.ErrorIs(t, outcome.err, ErrNoInitialModel)
	assert.Equal(t, []string{"bye"}, outcome.result.Notices)
}

func TestSessionTrainTimeout(t *testing.T) {
	blocking := artifact.TrainerFunc[counter](func(ctx context.Context, initial counter) (counter, error) {
		<-ctx.Done()
		return initial, ctx.Err()
	})
	s, server := pipeSession(t, blocking, Options{TrainTimeout: 20 * time.Millisecond})
	done := runAsync(s, context.Background())

	sendInitial(t, server, 0)

	outcome := await(t, done)
	assert.ErrorIs(t, outcome.err, context.DeadlineExceeded)
	assert.False(t, outcome.result.Acknowledged)
}

func TestSessionCancelledWhileWaiting(t *testing.T) {
	s, _ := pipeSession(t, increment, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(s, ctx)

	cancel()

	outcome := await(t, done)
	assert.ErrorIs(t, outcome.err, context.Canceled)
}

func TestDialRetriesUntilListenerIsUp(t *testing.T) {
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := probe.Addr().String()
	require.NoError(t, probe.Close())

	accepted := make(chan struct{})
	go func() {
		time.Sleep(50 * time.Millisecond)
		listener, err := net.Listen("tcp", address)
		if !assert.NoError(t, err) {
			close(accepted)
			return
		}
		defer listener.Close()
		conn, err := listener.Accept()
		if assert.NoError(t, err) {
			conn.Close()
		}
		close(accepted)
	}()

	conn, err := Dial(context.Background(), address, DialConfig{Timeout: time.Second, Attempts: 50, Backoff: 20 * time.Millisecond},
		hclog.NewNullLogger())
	require.NoError(t, err)
	conn.Close()
	<-accepted
}

func TestDialGivesUp(t *testing.T) {
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := probe.Addr().String()
	require.NoError(t, probe.Close())

	_, err = Dial(context.Background(), address, DialConfig{Timeout: 100 * time.Millisecond, Attempts: 2, Backoff: time.Millisecond},
		hclog.NewNullLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
}
