package collab

import (
	"github.com/coedit/coedit/internal/core/document"
	"github.com/coedit/coedit/internal/core/observability/log"
)

// Undo reverses the most recent batch authored by userID. The undo stack is
// shared across users, so the batch is removed from wherever it sits; other
// users' batches around it stay put. Operations are reversed newest-first by
// writing each captured previous value back, and the batch moves to the redo
// stack.
//
// Undo restores the value captured when the batch was applied, even if
// another user has written the same field since. A later causally
// independent edit to that field is overwritten.
func (m *Manager) Undo(sessionID, userID string) (*Batch, error) {
	s, ok := m.store.Get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}

	s.mu.Lock()
	batch, err := m.undoLocked(s, userID)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	for i := len(batch.Operations) - 1; i >= 0; i-- {
		m.publishChange(s.ID, batch.Operations[i])
	}
	return batch, nil
}

// Redo re-applies the most recent undone batch authored by userID, writing
// each operation's applied value forward in original order, and moves the
// batch back onto the undo stack.
func (m *Manager) Redo(sessionID, userID string) (*Batch, error) {
	s, ok := m.store.Get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}

	s.mu.Lock()
	batch, err := m.redoLocked(s, userID)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	for _, op := range batch.Operations {
		m.publishChange(s.ID, op)
	}
	return batch, nil
}

func (m *Manager) undoLocked(s *Session, userID string) (*Batch, error) {
	p := s.participantLocked(userID)
	if p == nil {
		return nil, ErrParticipantNotFound
	}

	idx := lastBatchBy(s.undoStack, userID)
	if idx < 0 {
		return nil, ErrNothingToUndo
	}
	batch := s.undoStack[idx]
	s.undoStack = append(s.undoStack[:idx], s.undoStack[idx+1:]...)

	for i := len(batch.Operations) - 1; i >= 0; i-- {
		if err := undoOp(s.Document, batch.Operations[i]); err != nil {
			m.log.Warn("undo left field unreachable",
				log.String("session_id", s.ID),
				log.String("field", batch.Operations[i].Field),
				log.Error(err),
			)
		}
	}

	s.redoStack = append(s.redoStack, batch)
	m.touchLocked(s, p)
	return batch, nil
}

func (m *Manager) redoLocked(s *Session, userID string) (*Batch, error) {
	p := s.participantLocked(userID)
	if p == nil {
		return nil, ErrParticipantNotFound
	}

	idx := lastBatchBy(s.redoStack, userID)
	if idx < 0 {
		return nil, ErrNothingToRedo
	}
	batch := s.redoStack[idx]
	s.redoStack = append(s.redoStack[:idx], s.redoStack[idx+1:]...)

	for _, op := range batch.Operations {
		if !op.Mutated {
			continue
		}
		if err := document.Set(s.Document, op.Field, op.Applied); err != nil {
			m.log.Warn("redo left field unreachable",
				log.String("session_id", s.ID),
				log.String("field", op.Field),
				log.Error(err),
			)
		}
	}

	m.pushUndoLocked(s, batch)
	m.touchLocked(s, p)
	return batch, nil
}

// pushUndoLocked appends a batch and enforces the growth bound: once the
// stack exceeds undoMax batches it is truncated to the newest undoKeep; the
// discarded edits become permanently non-undoable.
func (m *Manager) pushUndoLocked(s *Session, batch *Batch) {
	s.undoStack = append(s.undoStack, batch)
	if len(s.undoStack) > m.undoMax {
		kept := make([]*Batch, m.undoKeep)
		copy(kept, s.undoStack[len(s.undoStack)-m.undoKeep:])
		s.undoStack = kept
	}
}

// lastBatchBy returns the index of the newest batch authored by userID, or
// -1.
func lastBatchBy(stack []*Batch, userID string) int {
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i].AuthorID == userID {
			return i
		}
	}
	return -1
}

// undoOp writes an operation's captured previous value back. A field the
// operation created is deleted again; an accepted no-op reverses to nothing.
func undoOp(doc document.Doc, op *Operation) error {
	if !op.Mutated {
		return nil
	}
	if !op.HadPrevious {
		document.Delete(doc, op.Field)
		return nil
	}
	return document.Set(doc, op.Field, op.PreviousValue)
}

// UndoDepth reports the undo and redo stack sizes; used by callers surfacing
// history state.
func (m *Manager) UndoDepth(sessionID string) (undo, redo int, err error) {
	s, ok := m.store.Get(sessionID)
	if !ok {
		return 0, 0, ErrSessionNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.undoStack), len(s.redoStack), nil
}
