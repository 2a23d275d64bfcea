package collab

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coedit/coedit/internal/core/document"
)

func TestUndoRedoRoundTrip(t *testing.T) {
	initial := document.Doc{"profile": map[string]any{"name": "before", "score": float64(2)}}
	m := newTestManager()
	s := m.CreateSession("u1", "Alice", initial)

	_, err := m.Apply(s.ID, OperationRequest{Type: OpSet, Field: "profile.name", Value: "after", AuthorID: "u1"})
	require.NoError(t, err)
	mutated := document.DeepCopy(s.Document)

	_, err = m.Undo(s.ID, "u1")
	require.NoError(t, err)
	require.True(t, document.Equal(initial, s.Document), "undo must restore the exact document")

	_, err = m.Redo(s.ID, "u1")
	require.NoError(t, err)
	require.True(t, document.Equal(mutated, s.Document), "redo must reproduce the mutated document")
}

func TestUndoRemovesCreatedKey(t *testing.T) {
	m := newTestManager()
	s := m.CreateSession("u1", "Alice", document.Doc{})

	_, err := m.Apply(s.ID, OperationRequest{Type: OpSet, Field: "fresh", Value: float64(1), AuthorID: "u1"})
	require.NoError(t, err)

	_, err = m.Undo(s.ID, "u1")
	require.NoError(t, err)
	_, ok := document.Get(s.Document, "fresh")
	require.False(t, ok, "undoing a creating write must delete the key, not nil it")
}

func TestPerUserUndoScoping(t *testing.T) {
	m := newTestManager()
	s := m.CreateSession("a", "Alice", document.Doc{"x": float64(0), "y": float64(0)})
	_, err := m.Join(s.ID, "b", "Bob")
	require.NoError(t, err)

	_, err = m.Apply(s.ID, OperationRequest{Type: OpSet, Field: "x", Value: float64(1), AuthorID: "a"})
	require.NoError(t, err)
	_, err = m.Apply(s.ID, OperationRequest{Type: OpSet, Field: "y", Value: float64(2), AuthorID: "b"})
	require.NoError(t, err)

	// undo(a) reverts a's field only; b's later batch stays on the stack
	batch, err := m.Undo(s.ID, "a")
	require.NoError(t, err)
	require.Equal(t, "a", batch.AuthorID)
	require.Equal(t, float64(0), mustGet(t, s, "x"))
	require.Equal(t, float64(2), mustGet(t, s, "y"))

	undo, redo, err := m.UndoDepth(s.ID)
	require.NoError(t, err)
	require.Equal(t, 1, undo)
	require.Equal(t, 1, redo)
}

// The documented (and deliberately preserved) sharp edge: per-user undo
// restores the captured previous value even when a causally independent
// later edit has touched the same field.
func TestUndoOverwritesLaterEditToSameField(t *testing.T) {
	m := newTestManager()
	s := m.CreateSession("U1", "One", document.Doc{"x": float64(0)})
	_, err := m.Join(s.ID, "U2", "Two")
	require.NoError(t, err)

	_, err = m.Apply(s.ID, OperationRequest{Type: OpIncrement, Field: "x", Value: float64(5), AuthorID: "U1"})
	require.NoError(t, err)
	require.Equal(t, float64(5), mustGet(t, s, "x"))

	_, err = m.Apply(s.ID, OperationRequest{Type: OpSet, Field: "x", Value: float64(100), AuthorID: "U2"})
	require.NoError(t, err)
	require.Equal(t, float64(100), mustGet(t, s, "x"))

	_, err = m.Undo(s.ID, "U1")
	require.NoError(t, err)
	require.Equal(t, float64(0), mustGet(t, s, "x"), "U1's undo restores its captured previous value over U2's edit")
}

func TestRedoClearedByNewEdit(t *testing.T) {
	m := newTestManager()
	s := m.CreateSession("u1", "Alice", document.Doc{"x": float64(0)})

	_, err := m.Apply(s.ID, OperationRequest{Type: OpSet, Field: "x", Value: float64(1), AuthorID: "u1"})
	require.NoError(t, err)
	_, err = m.Undo(s.ID, "u1")
	require.NoError(t, err)

	_, err = m.Apply(s.ID, OperationRequest{Type: OpSet, Field: "x", Value: float64(9), AuthorID: "u1"})
	require.NoError(t, err)

	_, err = m.Redo(s.ID, "u1")
	require.ErrorIs(t, err, ErrNothingToRedo)
}

func TestUndoNothingToUndo(t *testing.T) {
	m := newTestManager()
	s := m.CreateSession("u1", "Alice", document.Doc{})

	_, err := m.Undo(s.ID, "u1")
	require.ErrorIs(t, err, ErrNothingToUndo)
	_, err = m.Undo(s.ID, "ghost")
	require.ErrorIs(t, err, ErrParticipantNotFound)
	_, err = m.Undo("nope", "u1")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestUndoStackEviction(t *testing.T) {
	m := newTestManager()
	s := m.CreateSession("u1", "Alice", document.Doc{"x": float64(0)})

	var lastIDs []string
	for i := 0; i < 101; i++ {
		op, err := m.Apply(s.ID, OperationRequest{Type: OpSet, Field: "x", Value: float64(i), AuthorID: "u1"})
		require.NoError(t, err)
		lastIDs = append(lastIDs, op.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.undoStack, 50, "101 pushes truncate to the newest 50")
	for i, batch := range s.undoStack {
		require.Equal(t, lastIDs[51+i], batch.Operations[0].ID, "kept batches are the most recent")
	}
}

func TestUndoBatchReversesInReverseOrder(t *testing.T) {
	m := newTestManager()
	s := m.CreateSession("u1", "Alice", document.Doc{"x": float64(0)})

	// both operations hit the same field; only reverse-order undo restores 0
	_, err := m.ApplyBatch(s.ID, "u1", []OperationRequest{
		{Type: OpSet, Field: "x", Value: float64(10)},
		{Type: OpIncrement, Field: "x", Value: float64(5)},
	})
	require.NoError(t, err)
	require.Equal(t, float64(15), mustGet(t, s, "x"))

	_, err = m.Undo(s.ID, "u1")
	require.NoError(t, err)
	require.Equal(t, float64(0), mustGet(t, s, "x"))

	_, err = m.Redo(s.ID, "u1")
	require.NoError(t, err)
	require.Equal(t, float64(15), mustGet(t, s, "x"))
}

func TestUndoDepthCounts(t *testing.T) {
	m := newTestManager()
	s := m.CreateSession("u1", "Alice", document.Doc{"x": float64(0)})

	for i := 0; i < 3; i++ {
		_, err := m.Apply(s.ID, OperationRequest{Type: OpIncrement, Field: "x", AuthorID: "u1"})
		require.NoError(t, err)
	}
	_, err := m.Undo(s.ID, "u1")
	require.NoError(t, err)

	undo, redo, err := m.UndoDepth(s.ID)
	require.NoError(t, err)
	require.Equal(t, 2, undo)
	require.Equal(t, 1, redo)

	_, _, err = m.UndoDepth(fmt.Sprintf("missing-%d", 1))
	require.ErrorIs(t, err, ErrSessionNotFound)
}
