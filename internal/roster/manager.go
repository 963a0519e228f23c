// Package roster holds the circle's actors and their durable per-actor
// state: relationship map, message box and limiter counters.
package roster

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/circled/internal/limiter"
	"github.com/kalambet/circled/internal/relationship"
)

// ErrUnknownActor is returned for ids not in the roster.
var ErrUnknownActor = errors.New("unknown actor")

// StateStore defines the storage operations the Manager needs.
// Implemented by storage.Store.
type StateStore interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// State is the durable state of one actor.
type State struct {
	Relationships relationship.Map       `json:"relationships"`
	Messages      []relationship.Message `json:"messages"`
	Limits        limiter.Stats          `json:"limits"`
}

func stateKey(actorID string) string { return "actor:" + actorID }

// Manager owns the roster and serializes read-modify-write cycles on actor
// state.
type Manager struct {
	store   StateStore
	clock   Clock
	limiter *limiter.Limiter

	mu     sync.Mutex
	actors map[string]Actor
	order  []string
	logger *slog.Logger
}

// New creates a Manager for actors and restores each actor's limiter
// counters from store.
func New(store StateStore, actors []Actor) (*Manager, error) {
	return NewWithClock(store, actors, realClock{})
}

// NewWithClock creates a Manager with a custom clock (for testing).
func NewWithClock(store StateStore, actors []Actor, clock Clock) (*Manager, error) {
	m := &Manager{
		store:   store,
		clock:   clock,
		limiter: limiter.New(),
		actors:  make(map[string]Actor, len(actors)),
		logger:  slog.Default(),
	}
	for _, a := range actors {
		if _, dup := m.actors[a.ID]; dup {
			return nil, fmt.Errorf("actor %q: duplicate id", a.ID)
		}
		m.actors[a.ID] = a
		m.order = append(m.order, a.ID)
		m.limiter.SetTier(a.ID, a.Tier)

		st, err := m.loadState(a.ID)
		if err != nil {
			return nil, err
		}
		m.limiter.Restore(a.ID, st.Limits)
	}
	return m, nil
}

// Actor returns the actor with the given id.
func (m *Manager) Actor(id string) (Actor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actors[id]
	return a, ok
}

// Actors returns every actor in roster order.
func (m *Manager) Actors() []Actor {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Actor, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.actors[id])
	}
	return out
}

// State returns a snapshot of the actor's durable state.
func (m *Manager) State(actorID string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.actors[actorID]; !ok {
		return State{}, fmt.Errorf("%s: %w", actorID, ErrUnknownActor)
	}
	return m.loadState(actorID)
}

// CheckInteraction reports whether the limiter allows actorID to react to
// targetID once more.
func (m *Manager) CheckInteraction(actorID, targetID string, kind limiter.Kind) bool {
	return m.limiter.Check(actorID, targetID, kind)
}

// RecordInteraction counts an accepted interaction and persists the
// actor's counters.
func (m *Manager) RecordInteraction(actorID, targetID string, kind limiter.Kind) error {
	m.limiter.Record(actorID, targetID, kind)
	return m.mutate(actorID, false, func(st *State) {
		st.Limits = m.limiter.Stats(actorID)
	})
}

// UpdateRelationship applies delta to actorID's view of targetID. It is a
// no-op for actors without relationships enabled and for self-updates.
func (m *Manager) UpdateRelationship(actorID, targetID string, delta int, override *relationship.Type, note string) error {
	if actorID == targetID || targetID == "" {
		return nil
	}
	now := m.clock.Now()
	return m.mutate(actorID, true, func(st *State) {
		st.Relationships = relationship.UpdateWithNote(st.Relationships, targetID, delta, override, note, now)
	})
}

// AppendMessage adds msg to the recipient's message box. It is a no-op for
// actors without relationships enabled.
func (m *Manager) AppendMessage(recipientID string, msg relationship.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = m.clock.Now()
	}
	msg.RecipientID = recipientID
	msg.Read = false
	return m.mutate(recipientID, true, func(st *State) {
		st.Messages = relationship.AppendMessage(st.Messages, msg)
	})
}

// MarkMessagesRead marks the actor's whole message box read.
func (m *Manager) MarkMessagesRead(actorID string) error {
	return m.mutate(actorID, false, func(st *State) {
		st.Messages = relationship.MarkAllRead(st.Messages)
	})
}

// MarkReviewed stamps the actor's relationship map as reviewed now.
func (m *Manager) MarkReviewed(actorID string) error {
	now := m.clock.Now()
	return m.mutate(actorID, false, func(st *State) {
		st.Relationships = relationship.MarkReviewed(st.Relationships, now)
	})
}

// NeedsReview reports whether the actor's relationship map is due a review.
func (m *Manager) NeedsReview(actorID string) (bool, error) {
	st, err := m.State(actorID)
	if err != nil {
		return false, err
	}
	return relationship.NeedsReview(st.Relationships, m.clock.Now()), nil
}

func (m *Manager) mutate(actorID string, relationshipsOnly bool, fn func(*State)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.actors[actorID]
	if !ok {
		return fmt.Errorf("%s: %w", actorID, ErrUnknownActor)
	}
	if relationshipsOnly && !a.RelationshipEnabled {
		return nil
	}

	st, err := m.loadState(actorID)
	if err != nil {
		return err
	}
	fn(&st)
	return m.saveState(actorID, st)
}

func (m *Manager) loadState(actorID string) (State, error) {
	st := State{Relationships: relationship.NewMap()}

	raw, ok, err := m.store.Get(stateKey(actorID))
	if err != nil {
		return State{}, fmt.Errorf("loading state for %s: %w", actorID, err)
	}
	if !ok {
		return st, nil
	}
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		m.logger.Warn("actor state unreadable, starting fresh", "actor", actorID, "error", err)
		return State{Relationships: relationship.NewMap()}, nil
	}
	if st.Relationships.Relationships == nil {
		st.Relationships.Relationships = map[string]relationship.Relationship{}
	}
	return st, nil
}

func (m *Manager) saveState(actorID string, st State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshalling state for %s: %w", actorID, err)
	}
	if err := m.store.Set(stateKey(actorID), string(data)); err != nil {
		return fmt.Errorf("saving state for %s: %w", actorID, err)
	}
	return nil
}
