package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/memori-ai/memori/internal/errs"
)

const stripeCount = 64

// record is one MemoryRecord's in-memory projection: its history plus
// the namespace it belongs to (for statesByNamespace).
type record struct {
	namespace string
	history   []Transition
}

func (r *record) current() (State, bool) {
	if len(r.history) == 0 {
		return "", false
	}
	return r.history[len(r.history)-1].ToState, true
}

// Manager is the State Manager (C4): legal-transition enforcement over
// an append-only history, serialized per memoryId via a striped lock
// table (spec §4.4 Semantics: writes serialised per-memoryId).
type Manager struct {
	stripes [stripeCount]sync.Mutex

	mu      sync.RWMutex
	records map[string]*record
}

// New builds an empty Manager.
func New() *Manager {
	return &Manager{records: make(map[string]*record)}
}

func (m *Manager) stripe(memoryID string) *sync.Mutex {
	h := fnv32(memoryID)
	return &m.stripes[h%stripeCount]
}

func fnv32(s string) uint32 {
	const prime = 16777619
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime
	}
	return h
}

func (m *Manager) getOrCreate(memoryID, namespace string) *record {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[memoryID]
	if !ok {
		r = &record{namespace: namespace}
		m.records[memoryID] = r
	}
	return r
}

// Transition attempts to move memoryId from its current state to
// toState, appending one history row on success (spec §4.4 Contract /
// Semantics). Illegal transitions return false and record nothing.
func (m *Manager) Transition(memoryID, namespace string, toState State, opts TransitionOpts) bool {
	lock := m.stripe(memoryID)
	lock.Lock()
	defer lock.Unlock()

	r := m.getOrCreate(memoryID, namespace)
	from, hasHistory := r.current()
	if !hasHistory {
		// No recorded history: the first transition is checked as if the
		// record were PENDING, so only PROCESSED or FAILED are legal first
		// targets unless InitializeExistingMemoryState seeded a state.
		from = Pending
	}
	if !isLegal(from, toState) {
		return false
	}

	r.history = append(r.history, Transition{
		FromState:    from,
		ToState:      toState,
		Timestamp:    time.Now(),
		Reason:       opts.Reason,
		AgentID:      opts.AgentID,
		ErrorMessage: opts.ErrorMessage,
		Metadata:     opts.Metadata,
	})
	return true
}

// CurrentState returns memoryId's current state, or false if no history
// exists.
func (m *Manager) CurrentState(memoryID string) (State, bool) {
	m.mu.RLock()
	r, ok := m.records[memoryID]
	m.mu.RUnlock()
	if !ok {
		return "", false
	}
	lock := m.stripe(memoryID)
	lock.Lock()
	defer lock.Unlock()
	return r.current()
}

// History returns the append-only transition log for memoryId.
func (m *Manager) History(memoryID string) []Transition {
	m.mu.RLock()
	r, ok := m.records[memoryID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	lock := m.stripe(memoryID)
	lock.Lock()
	defer lock.Unlock()
	out := make([]Transition, len(r.history))
	copy(out, r.history)
	return out
}

// CanTransition reports whether toState is legal from memoryId's current
// state, without mutating anything.
func (m *Manager) CanTransition(memoryID string, toState State) bool {
	cur, ok := m.CurrentState(memoryID)
	if !ok {
		cur = Pending
	}
	return isLegal(cur, toState)
}

// InitializeExistingMemoryState seeds state S for memoryId, for records
// that pre-date state tracking (spec §4.4 Semantics). Idempotent for the
// same S; fails for a different S if history already exists.
func (m *Manager) InitializeExistingMemoryState(memoryID, namespace string, s State) error {
	lock := m.stripe(memoryID)
	lock.Lock()
	defer lock.Unlock()

	r := m.getOrCreate(memoryID, namespace)
	if cur, ok := r.current(); ok {
		if cur == s {
			return nil
		}
		return fmt.Errorf("state: %w: %s already has state %s, cannot seed %s", errs.ErrInvalidTransition, memoryID, cur, s)
	}
	r.history = append(r.history, Transition{FromState: s, ToState: s, Timestamp: time.Now(), Reason: "initializeExistingMemoryState"})
	return nil
}

// RetryOpts configures RetryTransition.
type RetryOpts struct {
	MaxRetries int
	Delay      time.Duration
}

// RetryTransition polls up to MaxRetries times separated by Delay,
// re-reading current state each time, succeeding as soon as the
// transition becomes legal and completes (spec §4.4 Retry).
func (m *Manager) RetryTransition(memoryID, namespace string, toState State, opts RetryOpts) bool {
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if m.Transition(memoryID, namespace, toState, TransitionOpts{Reason: "retryTransition"}) {
			return true
		}
		if attempt < opts.MaxRetries && opts.Delay > 0 {
			time.Sleep(opts.Delay)
		}
	}
	return false
}

// StatesByNamespace returns a count of records in each State for
// namespace.
func (m *Manager) StatesByNamespace(namespace string) map[State]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[State]int)
	for _, r := range m.records {
		if r.namespace != namespace {
			continue
		}
		if cur, ok := r.current(); ok {
			counts[cur]++
		}
	}
	return counts
}
