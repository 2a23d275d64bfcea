package collab

import (
	"time"

	"github.com/google/uuid"

	"github.com/coedit/coedit/internal/core/clock"
	"github.com/coedit/coedit/internal/core/document"
	"github.com/coedit/coedit/internal/core/events/bus"
	"github.com/coedit/coedit/internal/core/observability/log"
	"github.com/coedit/coedit/pkg/sequence"
)

const (
	// defaultUndoMax is the undo stack size that triggers truncation.
	defaultUndoMax = 100
	// defaultUndoKeep is how many of the newest batches survive truncation.
	defaultUndoKeep = 50

	systemUserID     = "system"
	syncResponseType = "sync-response"
)

// IDGen produces ids for sessions, operations and batches. Injected so tests
// can be deterministic.
type IDGen func() string

// Manager owns the sessions and exposes the whole engine surface: lifecycle,
// presence, operation application, undo/redo and sync snapshots. Multiple
// managers can coexist; nothing is process-global.
type Manager struct {
	store Store
	bus   *bus.Bus
	log   log.Log
	newID IDGen
	now   func() time.Time

	undoMax  int
	undoKeep int
}

type Option func(*Manager)

// WithStore swaps the session repository.
func WithStore(store Store) Option {
	return func(m *Manager) { m.store = store }
}

// WithLogger sets the logger; defaults to a no-op logger.
func WithLogger(logger log.Log) Option {
	return func(m *Manager) { m.log = logger }
}

// WithBus sets the notification bus; defaults to a fresh in-memory bus.
func WithBus(b *bus.Bus) Option {
	return func(m *Manager) { m.bus = b }
}

// WithIDGen swaps the id generator; defaults to uuid.NewString.
func WithIDGen(gen IDGen) Option {
	return func(m *Manager) { m.newID = gen }
}

// WithNow swaps the timestamp source; defaults to time.Now.
func WithNow(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithUndoBounds overrides the undo stack truncation bounds.
func WithUndoBounds(max, keep int) Option {
	return func(m *Manager) {
		if max > 0 && keep > 0 && keep <= max {
			m.undoMax = max
			m.undoKeep = keep
		}
	}
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		store:    NewMemoryStore(),
		log:      log.Nop(),
		newID:    uuid.NewString,
		now:      time.Now,
		undoMax:  defaultUndoMax,
		undoKeep: defaultUndoKeep,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.bus == nil {
		m.bus = bus.New(m.log)
	}
	return m
}

// CreateSession allocates a new session around a deep copy of initial. The
// creator joins immediately with the full permission set and the vector
// clock is seeded with the creator at zero.
func (m *Manager) CreateSession(creatorID, displayName string, initial document.Doc) *Session {
	now := m.now()

	doc, _ := document.DeepCopy(initial).(document.Doc)
	if doc == nil {
		doc = document.Doc{}
	}

	creator := &Participant{
		UserID:       creatorID,
		DisplayName:  displayName,
		Color:        GenerateColor(creatorID),
		Permissions:  PermissionSet{PermissionView, PermissionEdit, PermissionAdmin},
		Status:       StatusActive,
		JoinedAt:     now,
		LastActiveAt: now,
	}

	s := &Session{
		ID:           m.newID(),
		Document:     doc,
		Participants: []*Participant{creator},
		Clock:        clock.Clock{creatorID: 0},
		pending:      sequence.NewQueue[*Operation](),
		CreatedAt:    now,
		LastActivity: now,
	}

	m.store.Put(s)
	m.log.Info("session created",
		log.String("session_id", s.ID),
		log.String("creator", creatorID),
	)
	m.publishPresence(s.ID, *creator)
	return s
}

// GetSession looks a session up by id.
func (m *Manager) GetSession(id string) (*Session, error) {
	s, ok := m.store.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// DeleteSession removes a session from the store. Sessions are never
// garbage-collected implicitly.
func (m *Manager) DeleteSession(id string) error {
	if !m.store.Delete(id) {
		return ErrSessionNotFound
	}
	m.log.Info("session deleted", log.String("session_id", id))
	return nil
}

// Sessions returns all live sessions.
func (m *Manager) Sessions() []*Session {
	return m.store.All()
}

// SyncState produces the full-state snapshot envelope for a session. All
// payload members are independent copies.
func (m *Manager) SyncState(sessionID string) (*SyncEnvelope, error) {
	s, ok := m.store.Get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	payload := SyncPayload{
		Document:     document.DeepCopy(s.Document).(document.Doc),
		Participants: make([]Participant, len(s.Participants)),
		Cursors:      make([]CursorPosition, len(s.Cursors)),
		VectorClock:  s.Clock.Clone(),
	}
	for i, p := range s.Participants {
		cp := *p
		cp.Permissions = p.Permissions.Clone()
		payload.Participants[i] = cp
	}
	for i, c := range s.Cursors {
		payload.Cursors[i] = *c
	}

	return &SyncEnvelope{
		Type:      syncResponseType,
		SessionID: s.ID,
		UserID:    systemUserID,
		Payload:   payload,
		Timestamp: m.now(),
	}, nil
}

// DrainPending removes and returns the operations queued for sync since the
// last drain, in application order. The queue grows without bound unless
// some broadcast process calls this periodically.
func (m *Manager) DrainPending(sessionID string) ([]*Operation, error) {
	s, ok := m.store.Get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Drain(), nil
}

// OnChange registers a handler for applied, undone and redone operations.
func (m *Manager) OnChange(handler func(ChangeEvent)) bus.Subscription {
	return m.bus.Subscribe(EventChange, func(e bus.Event) {
		if ev, ok := e.Data().(ChangeEvent); ok {
			handler(ev)
		}
	})
}

// OnPresence registers a handler for participant lifecycle events.
func (m *Manager) OnPresence(handler func(PresenceEvent)) bus.Subscription {
	return m.bus.Subscribe(EventPresence, func(e bus.Event) {
		if ev, ok := e.Data().(PresenceEvent); ok {
			handler(ev)
		}
	})
}

func (m *Manager) publishChange(sessionID string, op *Operation) {
	m.bus.Publish(bus.NewEvent(EventChange, sessionID, ChangeEvent{
		SessionID: sessionID,
		Operation: op,
	}))
}

func (m *Manager) publishPresence(sessionID string, p Participant) {
	m.bus.Publish(bus.NewEvent(EventPresence, sessionID, PresenceEvent{
		SessionID:   sessionID,
		Participant: p,
	}))
}
