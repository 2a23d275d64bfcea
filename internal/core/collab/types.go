// Package collab implements the multi-writer document editing engine: one
// shared JSON-like document per session, permission-gated field mutations
// stamped with a vector clock, per-user undo/redo over the shared history,
// and a pure conflict resolution primitive for reconciling replicas.
package collab

import (
	"sync"
	"time"

	"github.com/coedit/coedit/internal/core/clock"
	"github.com/coedit/coedit/internal/core/document"
	"github.com/coedit/coedit/pkg/sequence"
)

// Permission is a flat capability string. Membership is checked literally:
// holding admin does not imply edit.
type Permission string

const (
	PermissionView  Permission = "view"
	PermissionEdit  Permission = "edit"
	PermissionAdmin Permission = "admin"
)

// PermissionSet is the set of capabilities a participant holds.
type PermissionSet []Permission

func (s PermissionSet) Has(p Permission) bool {
	for _, have := range s {
		if have == p {
			return true
		}
	}
	return false
}

func (s PermissionSet) Clone() PermissionSet {
	out := make(PermissionSet, len(s))
	copy(out, s)
	return out
}

// Status is a participant's liveness state.
type Status string

const (
	StatusActive       Status = "active"
	StatusIdle         Status = "idle"
	StatusDisconnected Status = "disconnected"
)

// Participant is one user's membership record in a session. Records are
// never removed; leaving marks the participant disconnected.
type Participant struct {
	UserID       string        `json:"userId"`
	DisplayName  string        `json:"displayName"`
	Color        string        `json:"color"`
	Permissions  PermissionSet `json:"permissions"`
	Status       Status        `json:"status"`
	JoinedAt     time.Time     `json:"joinedAt"`
	LastActiveAt time.Time     `json:"lastActiveAt"`
}

// CursorPosition is a participant's focus within the document. At most one
// per user per session, upserted.
type CursorPosition struct {
	UserID    string    `json:"userId"`
	Field     string    `json:"field"`
	Offset    int       `json:"offset,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// OpType enumerates the supported field mutations.
type OpType string

const (
	OpSet       OpType = "set"
	OpIncrement OpType = "increment"
	OpDecrement OpType = "decrement"
	OpAppend    OpType = "append"
	OpRemove    OpType = "remove"
)

// Operation is one applied mutation. It is immutable once created; the
// engine fills PreviousValue, Applied, Timestamp and Clock at apply time.
type Operation struct {
	ID       string `json:"id"`
	Type     OpType `json:"type"`
	AuthorID string `json:"authorId"`
	Field    string `json:"field"`
	// Value is the value the caller submitted (the delta for
	// increment/decrement, the element for append/remove).
	Value any `json:"value"`
	// PreviousValue is the document value at Field immediately before this
	// operation was applied. Undo writes exactly this back.
	PreviousValue any  `json:"previousValue"`
	HadPrevious   bool `json:"hadPrevious"`
	// Applied is the value actually written at Field. Redo writes exactly
	// this back.
	Applied any `json:"appliedValue"`
	// Mutated is false when the operation was an accepted no-op, e.g. an
	// append to a non-array field.
	Mutated   bool        `json:"mutated"`
	Timestamp time.Time   `json:"timestamp"`
	Clock     clock.Clock `json:"vectorClock"`
}

// Batch is the atomic unit of undo/redo: normally a single operation, but
// several mutations submitted together share one batch.
type Batch struct {
	ID         string       `json:"id"`
	AuthorID   string       `json:"authorId"`
	Operations []*Operation `json:"operations"`
	Timestamp  time.Time    `json:"timestamp"`
}

// Session is one collaboration: a shared document, its participants and all
// bookkeeping the engine needs. All mutation of a session happens under its
// mutex; distinct sessions are fully independent.
type Session struct {
	mu sync.Mutex

	ID           string
	Document     document.Doc
	Participants []*Participant
	Cursors      []*CursorPosition
	Clock        clock.Clock

	pending   *sequence.Queue[*Operation]
	undoStack []*Batch
	redoStack []*Batch

	CreatedAt    time.Time
	LastActivity time.Time
}

// participantLocked returns the record for userID, or nil. Caller holds the
// session mutex.
func (s *Session) participantLocked(userID string) *Participant {
	for _, p := range s.Participants {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

// SyncEnvelope is the full-state snapshot message used to bring a
// reconnecting or late-joining replica current without replaying the
// operation log.
type SyncEnvelope struct {
	Type      string      `json:"type"` // always "sync-response"
	SessionID string      `json:"sessionId"`
	UserID    string      `json:"userId"` // always "system"
	Payload   SyncPayload `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// SyncPayload carries independent copies of the session state; mutating it
// cannot touch the live session.
type SyncPayload struct {
	Document     document.Doc     `json:"document"`
	Participants []Participant    `json:"participants"`
	Cursors      []CursorPosition `json:"cursors"`
	VectorClock  clock.Clock      `json:"vectorClock"`
}

// Event types published on the engine's bus.
const (
	EventChange   = "collab.change"
	EventPresence = "collab.presence"
)

// ChangeEvent is the payload of EventChange. It carries the session id
// rather than the session so handlers never race the engine's critical
// section; handlers needing state call SyncState.
type ChangeEvent struct {
	SessionID string     `json:"sessionId"`
	Operation *Operation `json:"operation"`
}

// PresenceEvent is the payload of EventPresence, published on join, leave
// and status or permission changes.
type PresenceEvent struct {
	SessionID   string      `json:"sessionId"`
	Participant Participant `json:"participant"`
}
