package florch

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MansoorButt/kube-infra/internal/artifact"
	"github.com/MansoorButt/kube-infra/internal/common"
	"github.com/MansoorButt/kube-infra/internal/events"
	"github.com/MansoorButt/kube-infra/internal/metrics"
	"github.com/MansoorButt/kube-infra/internal/model"
	"github.com/MansoorButt/kube-infra/internal/transport"
)

type testModel struct {
	Round int    `json:"round"`
	Owner string `json:"owner"`
}

type testRound struct {
	orch   *Coordinator[testModel]
	bus    *events.EventBus
	addr   string
	served chan error
}

func testOptions() Options {
	return Options{
		CohortSize:      2,
		AcceptTimeout:   20 * time.Millisecond,
		CompletionGrace: 50 * time.Millisecond,
	}
}

func startRound(t *testing.T, options Options) *testRound {
	return startRoundWithContext(t, context.Background(), options)
}

func startRoundWithContext(t *testing.T, ctx context.Context, options Options) *testRound {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	bus := events.NewEventBus()
	orch, err := NewCoordinator[testModel](options, testModel{Owner: "server"}, artifact.JSONCodec[testModel]{}, bus,
		metrics.NewCollector(), hclog.NewNullLogger())
	require.NoError(t, err)

	round := &testRound{
		orch:   orch,
		bus:    bus,
		addr:   listener.Addr().String(),
		served: make(chan error, 1),
	}
	go func() { round.served <- orch.Serve(ctx, listener) }()

	t.Cleanup(func() {
		orch.Shutdown("test cleanup")
		select {
		case <-round.served:
		case <-time.After(5 * time.Second):
			t.Error("Serve did not return")
		}
	})
	return round
}

func (r *testRound) waitStopped(t *testing.T) {
	t.Helper()
	select {
	case <-r.orch.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("round did not stop")
	}
	select {
	case err := <-r.served:
		require.NoError(t, err)
		r.served <- err
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func (r *testRound) waitParticipants(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(r.orch.Status().Participants) == n
	}, 5*time.Second, 5*time.Millisecond)
}

func dial(t *testing.T, addr string) *transport.Channel {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	ch := transport.NewChannel(conn)
	require.NoError(t, ch.SetReadTimeout(5*time.Second))
	t.Cleanup(func() { ch.Close() })
	return ch
}

// participantRun records what one scripted participant saw.
type participantRun struct {
	initial     testModel
	notices     []string
	beforeModel int
	acked       bool
	err         error
}

func receiveInitial(ch *transport.Channel, run *participantRun) error {
	for {
		msg, err := ch.ReceiveMessage()
		if err != nil {
			return err
		}
		if msg.Kind == transport.ControlMessage {
			run.notices = append(run.notices, msg.Text)
			continue
		}

		payload, err := ch.ReceiveArtifact(msg.Size)
		if err != nil {
			return err
		}
		run.beforeModel = len(run.notices)
		return json.Unmarshal(payload, &run.initial)
	}
}

func drainNotices(ch *transport.Channel, run *participantRun) {
	for {
		msg, err := ch.ReceiveMessage()
		if err != nil {
			return
		}
		if msg.Kind == transport.ControlMessage {
			run.notices = append(run.notices, msg.Text)
		}
	}
}

func participate(addr string, owner string) participantRun {
	var run participantRun

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		run.err = err
		return run
	}
	ch := transport.NewChannel(conn)
	defer ch.Close()
	ch.SetReadTimeout(5 * time.Second)

	if run.err = receiveInitial(ch, &run); run.err != nil {
		return run
	}

	update, _ := json.Marshal(testModel{Round: run.initial.Round + 1, Owner: owner})
	if run.err = ch.SendUpdate(update); run.err != nil {
		return run
	}
	run.acked, _, run.err = ch.ReceiveAck(func(text string) {
		run.notices = append(run.notices, text)
	})
	if run.err != nil {
		return run
	}

	drainNotices(ch, &run)
	return run
}

func TestRoundCompletesWithTwoParticipants(t *testing.T) {
	round := startRound(t, testOptions())

	finished := make(chan events.Event, 1)
	round.bus.Subscribe(common.ROUND_FINISHED_EVENT_TYPE, finished)

	var wg sync.WaitGroup
	runs := make([]participantRun, 2)
	for i, owner := range []string{"alice", "bob"} {
		i, owner := i, owner
		wg.Add(1)
		go func() {
			defer wg.Done()
			runs[i] = participate(round.addr, owner)
		}()
	}
	wg.Wait()
	round.waitStopped(t)

	for _, run := range runs {
		require.NoError(t, run.err)
		assert.True(t, run.acked)
		assert.Equal(t, "server", run.initial.Owner)
		assert.Contains(t, run.notices[:run.beforeModel], common.GetCohortFormedNotice(2))
		assert.Contains(t, run.notices, common.TRAINING_COMPLETE_NOTICE)
	}

	owners := []string{}
	for _, trained := range round.orch.Models() {
		assert.Equal(t, 1, trained.Round)
		owners = append(owners, trained.Owner)
	}
	sort.Strings(owners)
	assert.Equal(t, []string{"alice", "bob"}, owners)
	assert.Len(t, round.orch.Submissions(), 2)

	status := round.orch.Status()
	assert.Equal(t, model.Stopped, status.State)
	assert.Equal(t, 2, status.SubmittedCount)
	assert.Empty(t, status.Participants)
	assert.Equal(t, "round complete", round.orch.Reason())

	event := <-finished
	data, ok := event.Data.(events.RoundFinishedEvent)
	require.True(t, ok)
	assert.Equal(t, round.orch.RoundID(), data.RoundId)
	assert.Equal(t, 2, data.SubmittedCount)
}

func TestThirdConnectionIsRejected(t *testing.T) {
	round := startRound(t, testOptions())

	dial(t, round.addr)
	dial(t, round.addr)
	round.waitParticipants(t, 2)

	late := dial(t, round.addr)
	_, err := late.ReceiveMessage()
	require.ErrorIs(t, err, transport.ErrRejected)

	_, err = late.ReceiveMessage()
	assert.Error(t, err)
	assert.Equal(t, 2, round.orch.Status().CohortSize)
	assert.Len(t, round.orch.Status().Participants, 2)
}

func TestDuplicateSubmissionIsDrainedAndAcknowledged(t *testing.T) {
	round := startRound(t, testOptions())

	first := dial(t, round.addr)
	second := dial(t, round.addr)

	var firstRun, secondRun participantRun
	require.NoError(t, receiveInitial(first, &firstRun))
	require.NoError(t, receiveInitial(second, &secondRun))

	update, err := json.Marshal(testModel{Round: 1, Owner: "first"})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		require.NoError(t, first.SendUpdate(update))
		acked, _, err := first.ReceiveAck(nil)
		require.NoError(t, err)
		assert.True(t, acked)
	}
	assert.Len(t, round.orch.Submissions(), 1)
	assert.Equal(t, model.Collecting, round.orch.Status().State)

	update, err = json.Marshal(testModel{Round: 1, Owner: "second"})
	require.NoError(t, err)
	require.NoError(t, second.SendUpdate(update))
	acked, _, err := second.ReceiveAck(nil)
	require.NoError(t, err)
	assert.True(t, acked)

	round.waitStopped(t)
	assert.Len(t, round.orch.Submissions(), 2)
	assert.Len(t, round.orch.Models(), 2)
}

func TestTruncatedUpdateDropsOnlyThatParticipant(t *testing.T) {
	round := startRound(t, testOptions())

	removed := make(chan events.Event, 4)
	round.bus.Subscribe(common.PARTICIPANT_REMOVED_EVENT_TYPE, removed)

	conn, err := net.Dial("tcp", round.addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	first := transport.NewChannel(conn)
	require.NoError(t, first.SetReadTimeout(5*time.Second))
	second := dial(t, round.addr)

	var firstRun, secondRun participantRun
	require.NoError(t, receiveInitial(first, &firstRun))
	require.NoError(t, receiveInitial(second, &secondRun))

	// announce 100 bytes, deliver 10, hang up
	raw := make([]byte, 4+10)
	binary.BigEndian.PutUint32(raw, 100)
	_, err = conn.Write(raw)
	require.NoError(t, err)
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())

	select {
	case event := <-removed:
		data, ok := event.Data.(events.ParticipantEvent)
		require.True(t, ok)
		assert.Equal(t, "truncated", data.Reason)
	case <-time.After(5 * time.Second):
		t.Fatal("participant with truncated update was not removed")
	}
	round.waitParticipants(t, 1)

	update, err := json.Marshal(testModel{Round: 1, Owner: "second"})
	require.NoError(t, err)
	require.NoError(t, second.SendUpdate(update))
	acked, _, err := second.ReceiveAck(nil)
	require.NoError(t, err)
	assert.True(t, acked)

	assert.Len(t, round.orch.Submissions(), 1)
	assert.Equal(t, model.Collecting, round.orch.Status().State)
}

func TestUndecodableUpdateDropsParticipant(t *testing.T) {
	round := startRound(t, testOptions())

	removed := make(chan events.Event, 4)
	round.bus.Subscribe(common.PARTICIPANT_REMOVED_EVENT_TYPE, removed)

	first := dial(t, round.addr)
	second := dial(t, round.addr)

	var firstRun, secondRun participantRun
	require.NoError(t, receiveInitial(first, &firstRun))
	require.NoError(t, receiveInitial(second, &secondRun))

	require.NoError(t, first.SendUpdate([]byte("not a model")))

	select {
	case event := <-removed:
		data, ok := event.Data.(events.ParticipantEvent)
		require.True(t, ok)
		assert.Equal(t, "undecodable", data.Reason)
	case <-time.After(5 * time.Second):
		t.Fatal("participant with undecodable update was not removed")
	}
	assert.Empty(t, round.orch.Submissions())
	round.waitParticipants(t, 1)
}

func TestShutdownIsIdempotentUnderConcurrency(t *testing.T) {
	round := startRound(t, testOptions())

	finished := make(chan events.Event, 16)
	round.bus.Subscribe(common.ROUND_FINISHED_EVENT_TYPE, finished)

	client := dial(t, round.addr)
	round.waitParticipants(t, 1)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			round.orch.Shutdown("operator stop")
			select {
			case <-round.orch.Done():
			default:
				t.Error("Shutdown returned before the round stopped")
			}
		}()
	}
	wg.Wait()
	round.waitStopped(t)

	assert.Len(t, finished, 1)
	assert.Equal(t, "operator stop", round.orch.Reason())
	assert.Equal(t, model.Stopped, round.orch.Status().State)

	var run participantRun
	assert.Error(t, receiveInitial(client, &run))

	_, err := net.DialTimeout("tcp", round.addr, 200*time.Millisecond)
	assert.Error(t, err, "listener still accepting after shutdown")
}

func TestCohortTimeoutStopsRound(t *testing.T) {
	options := testOptions()
	options.CohortTimeout = 100 * time.Millisecond
	round := startRound(t, options)

	dial(t, round.addr)
	round.waitStopped(t)

	assert.Equal(t, "cohort never formed", round.orch.Reason())
	assert.Empty(t, round.orch.Submissions())
}

func TestCancelledContextStopsRound(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	round := startRoundWithContext(t, ctx, testOptions())

	cancel()
	round.waitStopped(t)
	assert.Equal(t, "context cancelled", round.orch.Reason())
}

func TestResultsArePersisted(t *testing.T) {
	options := testOptions()
	options.ResultsDir = t.TempDir()
	round := startRound(t, options)

	var wg sync.WaitGroup
	for _, owner := range []string{"alice", "bob"} {
		owner := owner
		wg.Add(1)
		go func() {
			defer wg.Done()
			run := participate(round.addr, owner)
			assert.NoError(t, run.err)
		}()
	}
	wg.Wait()
	round.waitStopped(t)

	writer := round.orch.results
	for _, submission := range round.orch.Submissions() {
		data, err := os.ReadFile(writer.ModelFileName(submission.ParticipantId))
		require.NoError(t, err)
		assert.Len(t, data, submission.Size)
	}

	records, err := common.ReadCsvFile(writer.SummaryFileName())
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, record := range records {
		assert.Equal(t, round.orch.RoundID(), record[0])
	}
}
