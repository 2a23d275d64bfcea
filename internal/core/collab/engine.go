package collab

import (
	"fmt"

	"github.com/coedit/coedit/internal/core/document"
	"github.com/coedit/coedit/internal/core/observability/log"
)

// OperationRequest is an edit intent as submitted by a caller. Everything
// else on Operation is stamped by the engine.
type OperationRequest struct {
	Type     OpType `json:"type"`
	Field    string `json:"field"`
	Value    any    `json:"value"`
	AuthorID string `json:"authorId"`
}

// Apply runs the full operation pipeline: permission check, clock tick,
// previous-value capture, mutation, pending-queue enqueue, undo-stack push
// and change notification. A failed permission check or a failed mutation is
// atomic: the clock is untouched, the document unchanged and no event fires.
func (m *Manager) Apply(sessionID string, req OperationRequest) (*Operation, error) {
	s, ok := m.store.Get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}

	s.mu.Lock()
	op, err := m.applyLocked(s, req)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	m.publishChange(s.ID, op)
	return op, nil
}

// ApplyBatch applies several mutations from one author as a single undoable
// batch. The batch is atomic: if any mutation fails, the ones already
// applied are reversed and nothing is recorded.
func (m *Manager) ApplyBatch(sessionID, authorID string, reqs []OperationRequest) (*Batch, error) {
	if len(reqs) == 0 {
		return nil, ErrEmptyBatch
	}

	s, ok := m.store.Get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}

	s.mu.Lock()
	batch, err := m.applyBatchLocked(s, authorID, reqs)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	for _, op := range batch.Operations {
		m.publishChange(s.ID, op)
	}
	return batch, nil
}

func (m *Manager) applyLocked(s *Session, req OperationRequest) (*Operation, error) {
	author, err := m.checkEditLocked(s, req.AuthorID)
	if err != nil {
		return nil, err
	}

	op, err := m.mutateLocked(s, req)
	if err != nil {
		return nil, err
	}

	m.recordLocked(s, author, &Batch{
		ID:         m.newID(),
		AuthorID:   req.AuthorID,
		Operations: []*Operation{op},
		Timestamp:  op.Timestamp,
	})
	return op, nil
}

func (m *Manager) applyBatchLocked(s *Session, authorID string, reqs []OperationRequest) (*Batch, error) {
	author, err := m.checkEditLocked(s, authorID)
	if err != nil {
		return nil, err
	}

	ops := make([]*Operation, 0, len(reqs))
	for _, req := range reqs {
		req.AuthorID = authorID
		op, err := m.mutateLocked(s, req)
		if err != nil {
			reverseOps(s.Document, ops)
			return nil, err
		}
		ops = append(ops, op)
	}

	batch := &Batch{
		ID:         m.newID(),
		AuthorID:   authorID,
		Operations: ops,
		Timestamp:  ops[0].Timestamp,
	}
	m.recordLocked(s, author, batch)
	return batch, nil
}

// checkEditLocked gates mutation on membership and the edit permission.
func (m *Manager) checkEditLocked(s *Session, authorID string) (*Participant, error) {
	author := s.participantLocked(authorID)
	if author == nil {
		return nil, ErrParticipantNotFound
	}
	if !author.Permissions.Has(PermissionEdit) {
		m.log.Debug("operation rejected",
			log.String("session_id", s.ID),
			log.String("author", authorID),
		)
		return nil, ErrUnauthorized
	}
	return author, nil
}

// mutateLocked validates and applies one mutation, ticks the author's clock
// entry and returns the stamped operation. On error nothing has happened:
// validation and the document write both precede the tick.
func (m *Manager) mutateLocked(s *Session, req OperationRequest) (*Operation, error) {
	prev, had := document.Get(s.Document, req.Field)
	prevCopy := document.DeepCopy(prev)

	applied := prevCopy
	mutated := true

	switch req.Type {
	case OpSet:
		applied = req.Value
	case OpIncrement, OpDecrement:
		current, ok := document.Number(prev)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotNumeric, req.Field)
		}
		delta := 1.0
		if req.Value != nil {
			d, ok := document.Number(req.Value)
			if !ok {
				return nil, fmt.Errorf("%w: %s delta", ErrNotNumeric, req.Field)
			}
			delta = d
		}
		if req.Type == OpDecrement {
			delta = -delta
		}
		applied = current + delta
	case OpAppend:
		arr, ok := prev.([]any)
		if !ok {
			mutated = false // append to a non-array is an accepted no-op
			break
		}
		out := make([]any, 0, len(arr)+1)
		out = append(out, document.DeepCopy(prev).([]any)...)
		applied = append(out, req.Value)
	case OpRemove:
		arr, ok := prev.([]any)
		if !ok {
			mutated = false
			break
		}
		out := make([]any, 0, len(arr))
		removed := false
		for _, item := range arr {
			if !removed && document.Equal(item, req.Value) {
				removed = true
				continue
			}
			out = append(out, document.DeepCopy(item))
		}
		mutated = removed
		applied = out
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidOperation, req.Type)
	}

	if mutated {
		if err := document.Set(s.Document, req.Field, applied); err != nil {
			return nil, err
		}
	}
	s.Clock.Tick(req.AuthorID)

	return &Operation{
		ID:            m.newID(),
		Type:          req.Type,
		AuthorID:      req.AuthorID,
		Field:         req.Field,
		Value:         req.Value,
		PreviousValue: prevCopy,
		HadPrevious:   had,
		Applied:       document.DeepCopy(applied),
		Mutated:       mutated,
		Timestamp:     m.now(),
		Clock:         s.Clock.Clone(),
	}, nil
}

// recordLocked enqueues the batch's operations for sync, pushes the batch on
// the undo stack (clearing redo history: a new edit invalidates it) and
// refreshes activity bookkeeping.
func (m *Manager) recordLocked(s *Session, author *Participant, batch *Batch) {
	for _, op := range batch.Operations {
		s.pending.Enqueue(op)
	}
	m.pushUndoLocked(s, batch)
	s.redoStack = nil
	m.touchLocked(s, author)
}

// reverseOps rolls a failed batch prefix back in reverse order. The clock
// ticks of the reversed operations stand: counters only ever move forward.
func reverseOps(doc document.Doc, ops []*Operation) {
	for i := len(ops) - 1; i >= 0; i-- {
		undoOp(doc, ops[i])
	}
}

func (m *Manager) touchLocked(s *Session, p *Participant) {
	now := m.now()
	s.LastActivity = now
	p.LastActiveAt = now
	p.Status = StatusActive
}
