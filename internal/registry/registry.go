package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MansoorButt/kube-infra/internal/common"
	"github.com/MansoorButt/kube-infra/internal/model"
	"github.com/MansoorButt/kube-infra/internal/transport"
)

var (
	ErrConnectionRejected = errors.New("connection rejected: cohort is full")
	ErrShuttingDown       = errors.New("round is shutting down")
	ErrInvalidTransition  = errors.New("invalid round state transition")
)

// Registry is the single lock-guarded aggregate shared by every duty of the
// coordinator: admitted participants, submitted ids, the round state and the
// cohort gate all live behind mu.
type Registry struct {
	roundId    string
	cohortSize int

	mu           sync.Mutex
	participants map[*transport.Channel]*model.Participant
	submitted    map[string]struct{}
	admitted     int
	state        model.RoundState
	gate         *cohortGate
	onTransition func(from, to model.RoundState)
}

func NewRegistry(roundId string, cohortSize int) *Registry {
	if cohortSize < 1 {
		cohortSize = common.COHORT_SIZE
	}

	return &Registry{
		roundId:      roundId,
		cohortSize:   cohortSize,
		participants: make(map[*transport.Channel]*model.Participant),
		submitted:    make(map[string]struct{}),
		state:        model.AwaitingCohort,
		gate:         newCohortGate(),
	}
}

// OnTransition registers a hook called after every state change. It runs with
// the registry lock held and must not call back into the registry.
func (r *Registry) OnTransition(fn func(from, to model.RoundState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onTransition = fn
}

func (r *Registry) CohortSize() int {
	return r.cohortSize
}

// Admit registers a new connection. formed is true for exactly the admission
// that completes the cohort; that admission also releases the gate.
func (r *Registry) Admit(ch *transport.Channel, address string) (*model.Participant, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state >= model.ShuttingDown {
		return nil, false, ErrShuttingDown
	}
	if r.state != model.AwaitingCohort || len(r.participants) >= r.cohortSize {
		return nil, false, ErrConnectionRejected
	}
	if _, exists := r.participants[ch]; exists {
		return nil, false, fmt.Errorf("channel for %s already admitted", address)
	}

	r.admitted++
	participant := &model.Participant{
		Id:         common.GetParticipantId(r.admitted),
		Address:    address,
		AdmittedAt: time.Now(),
	}
	r.participants[ch] = participant

	formed := false
	if len(r.participants) == r.cohortSize {
		formed = r.gate.release(nil)
	}

	return participant, formed, nil
}

// Remove drops a participant. It returns nil when the channel is not registered.
func (r *Registry) Remove(ch *transport.Channel) *model.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	participant, exists := r.participants[ch]
	if !exists {
		return nil
	}
	delete(r.participants, ch)
	return participant
}

// MarkSubmitted records that id delivered its trained update. The first call
// for an id returns alreadySubmitted=false; complete is true for the single
// call that brings the submitted count to the cohort size.
func (r *Registry) MarkSubmitted(id string) (alreadySubmitted bool, complete bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.submitted[id]; exists {
		return true, false
	}
	r.submitted[id] = struct{}{}

	for _, participant := range r.participants {
		if participant.Id == id {
			participant.HasSubmittedUpdate = true
		}
	}

	if len(r.submitted) == r.cohortSize && r.state == model.Collecting {
		r.advanceLocked(model.Complete)
		return false, true
	}
	return false, false
}

func (r *Registry) HasSubmitted(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.submitted[id]
	return exists
}

func (r *Registry) Contains(ch *transport.Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.participants[ch]
	return exists
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}

func (r *Registry) SubmittedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.submitted)
}

// ForEach calls fn for every participant while holding the registry lock, so
// membership cannot change mid-iteration. fn must not call back into the
// registry.
func (r *Registry) ForEach(fn func(participant *model.Participant, ch *transport.Channel)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for ch, participant := range r.participants {
		fn(participant, ch)
	}
}

func (r *Registry) State() model.RoundState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Advance moves the round forward. Backward or repeated transitions fail with
// ErrInvalidTransition.
func (r *Registry) Advance(to model.RoundState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.state.CanAdvanceTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.state, to)
	}
	r.advanceLocked(to)
	return nil
}

// Drain empties the registry and returns every channel it held. Used by
// shutdown, which owns closing them.
func (r *Registry) Drain() []*transport.Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	channels := make([]*transport.Channel, 0, len(r.participants))
	for ch := range r.participants {
		channels = append(channels, ch)
	}
	r.participants = make(map[*transport.Channel]*model.Participant)
	return channels
}

func (r *Registry) Snapshot() model.RoundStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	participants := make([]*model.Participant, 0, len(r.participants))
	for _, participant := range r.participants {
		copied := *participant
		participants = append(participants, &copied)
	}
	sort.Slice(participants, func(i, j int) bool {
		return participants[i].AdmittedAt.Before(participants[j].AdmittedAt)
	})

	return model.RoundStatus{
		RoundId:        r.roundId,
		State:          r.state,
		CohortSize:     r.cohortSize,
		Participants:   participants,
		SubmittedCount: len(r.submitted),
	}
}

func (r *Registry) advanceLocked(to model.RoundState) {
	from := r.state
	r.state = to
	if r.onTransition != nil {
		r.onTransition(from, to)
	}
}
