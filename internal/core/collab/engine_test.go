package collab

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coedit/coedit/internal/core/clock"
	"github.com/coedit/coedit/internal/core/document"
)

// newTestManager returns a manager with deterministic ids and a stepping
// timestamp source: each call to now advances by one second.
func newTestManager() *Manager {
	ids := 0
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return NewManager(
		WithIDGen(func() string { ids++; return fmt.Sprintf("id-%03d", ids) }),
		WithNow(func() time.Time { ts = ts.Add(time.Second); return ts }),
	)
}

func TestApplySet(t *testing.T) {
	m := newTestManager()
	s := m.CreateSession("u1", "Alice", document.Doc{"profile": map[string]any{"name": "old"}})

	op, err := m.Apply(s.ID, OperationRequest{Type: OpSet, Field: "profile.name", Value: "new", AuthorID: "u1"})
	require.NoError(t, err)

	require.Equal(t, "new", mustGet(t, s, "profile.name"))
	require.Equal(t, "old", op.PreviousValue)
	require.True(t, op.HadPrevious)
	require.Equal(t, clock.Clock{"u1": 1}, op.Clock)
	require.False(t, op.Timestamp.IsZero())
}

func TestApplyIncrementDecrement(t *testing.T) {
	m := newTestManager()
	s := m.CreateSession("u1", "Alice", document.Doc{"x": float64(10)})

	_, err := m.Apply(s.ID, OperationRequest{Type: OpIncrement, Field: "x", Value: float64(5), AuthorID: "u1"})
	require.NoError(t, err)
	require.Equal(t, float64(15), mustGet(t, s, "x"))

	// nil delta defaults to one
	_, err = m.Apply(s.ID, OperationRequest{Type: OpDecrement, Field: "x", AuthorID: "u1"})
	require.NoError(t, err)
	require.Equal(t, float64(14), mustGet(t, s, "x"))
}

func TestApplyIncrementNonNumeric(t *testing.T) {
	m := newTestManager()
	s := m.CreateSession("u1", "Alice", document.Doc{"x": "nope"})

	_, err := m.Apply(s.ID, OperationRequest{Type: OpIncrement, Field: "x", Value: float64(1), AuthorID: "u1"})
	require.ErrorIs(t, err, ErrNotNumeric)

	// failed apply is atomic: no clock tick, no document change
	require.Equal(t, "nope", mustGet(t, s, "x"))
	require.Equal(t, uint64(0), s.Clock["u1"])
}

func TestApplyAppendRemove(t *testing.T) {
	m := newTestManager()
	s := m.CreateSession("u1", "Alice", document.Doc{
		"tags": []any{"a", "b"},
		"num":  float64(1),
	})

	_, err := m.Apply(s.ID, OperationRequest{Type: OpAppend, Field: "tags", Value: "c", AuthorID: "u1"})
	require.NoError(t, err)
	require.Equal(t, []any{"a", "b", "c"}, mustGet(t, s, "tags"))

	_, err = m.Apply(s.ID, OperationRequest{Type: OpRemove, Field: "tags", Value: "a", AuthorID: "u1"})
	require.NoError(t, err)
	require.Equal(t, []any{"b", "c"}, mustGet(t, s, "tags"))

	// append to a non-array is an accepted no-op
	op, err := m.Apply(s.ID, OperationRequest{Type: OpAppend, Field: "num", Value: "x", AuthorID: "u1"})
	require.NoError(t, err)
	require.False(t, op.Mutated)
	require.Equal(t, float64(1), mustGet(t, s, "num"))

	// removing an absent element is an accepted no-op
	op, err = m.Apply(s.ID, OperationRequest{Type: OpRemove, Field: "tags", Value: "zzz", AuthorID: "u1"})
	require.NoError(t, err)
	require.False(t, op.Mutated)
	require.Equal(t, []any{"b", "c"}, mustGet(t, s, "tags"))
}

func TestApplyStructuralError(t *testing.T) {
	m := newTestManager()
	s := m.CreateSession("u1", "Alice", document.Doc{"x": float64(1)})

	_, err := m.Apply(s.ID, OperationRequest{Type: OpSet, Field: "missing.leaf", Value: 1, AuthorID: "u1"})
	var pe *document.PathError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, uint64(0), s.Clock["u1"], "failed apply must not tick the clock")
}

func TestPermissionGating(t *testing.T) {
	m := newTestManager()
	s := m.CreateSession("u1", "Alice", document.Doc{"x": float64(0)})
	_, err := m.Join(s.ID, "viewer", "Eve")
	require.NoError(t, err)
	require.NoError(t, m.SetPermissions(s.ID, "u1", "viewer", PermissionSet{PermissionView}))

	for _, typ := range []OpType{OpSet, OpIncrement, OpDecrement, OpAppend, OpRemove} {
		_, err := m.Apply(s.ID, OperationRequest{Type: typ, Field: "x", Value: float64(1), AuthorID: "viewer"})
		require.ErrorIs(t, err, ErrUnauthorized, "type %s", typ)
	}
	require.Equal(t, float64(0), mustGet(t, s, "x"))
	require.Equal(t, uint64(0), s.Clock["viewer"])
}

func TestApplyUnknownAuthor(t *testing.T) {
	m := newTestManager()
	s := m.CreateSession("u1", "Alice", document.Doc{"x": float64(0)})

	_, err := m.Apply(s.ID, OperationRequest{Type: OpSet, Field: "x", Value: 1, AuthorID: "ghost"})
	require.ErrorIs(t, err, ErrParticipantNotFound)
}

func TestApplyMissingSession(t *testing.T) {
	m := newTestManager()
	_, err := m.Apply("nope", OperationRequest{Type: OpSet, Field: "x", Value: 1, AuthorID: "u1"})
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestApplyClockProgression(t *testing.T) {
	m := newTestManager()
	s := m.CreateSession("u1", "Alice", document.Doc{"x": float64(0)})
	_, err := m.Join(s.ID, "u2", "Bob")
	require.NoError(t, err)

	op1, err := m.Apply(s.ID, OperationRequest{Type: OpIncrement, Field: "x", Value: float64(5), AuthorID: "u1"})
	require.NoError(t, err)
	require.Equal(t, clock.Clock{"u1": 1}, op1.Clock)

	op2, err := m.Apply(s.ID, OperationRequest{Type: OpSet, Field: "x", Value: float64(100), AuthorID: "u2"})
	require.NoError(t, err)
	require.Equal(t, clock.Clock{"u1": 1, "u2": 1}, op2.Clock)

	// stamps are snapshots, not aliases of the session clock
	_, err = m.Apply(s.ID, OperationRequest{Type: OpIncrement, Field: "x", AuthorID: "u1"})
	require.NoError(t, err)
	require.Equal(t, clock.Clock{"u1": 1}, op1.Clock)
}

func TestApplyFiresChangeEvent(t *testing.T) {
	m := newTestManager()
	s := m.CreateSession("u1", "Alice", document.Doc{"x": float64(0)})

	var got []ChangeEvent
	m.OnChange(func(ev ChangeEvent) { got = append(got, ev) })

	op, err := m.Apply(s.ID, OperationRequest{Type: OpSet, Field: "x", Value: float64(1), AuthorID: "u1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, s.ID, got[0].SessionID)
	require.Equal(t, op.ID, got[0].Operation.ID)

	// rejected operations fire nothing
	_, err = m.Apply(s.ID, OperationRequest{Type: OpSet, Field: "x", Value: 1, AuthorID: "ghost"})
	require.Error(t, err)
	require.Len(t, got, 1)
}

func TestApplyBatchAtomic(t *testing.T) {
	m := newTestManager()
	s := m.CreateSession("u1", "Alice", document.Doc{"x": float64(1), "label": "keep"})

	batch, err := m.ApplyBatch(s.ID, "u1", []OperationRequest{
		{Type: OpSet, Field: "label", Value: "changed"},
		{Type: OpIncrement, Field: "x", Value: float64(2)},
	})
	require.NoError(t, err)
	require.Len(t, batch.Operations, 2)
	require.Equal(t, "changed", mustGet(t, s, "label"))
	require.Equal(t, float64(3), mustGet(t, s, "x"))

	// second request fails: the first one is rolled back
	_, err = m.ApplyBatch(s.ID, "u1", []OperationRequest{
		{Type: OpSet, Field: "label", Value: "half-done"},
		{Type: OpIncrement, Field: "label"},
	})
	require.ErrorIs(t, err, ErrNotNumeric)
	require.Equal(t, "changed", mustGet(t, s, "label"))

	// a failed batch leaves no undo entry behind
	undo, _, err := m.UndoDepth(s.ID)
	require.NoError(t, err)
	require.Equal(t, 1, undo)
}

func TestPendingQueueDrain(t *testing.T) {
	m := newTestManager()
	s := m.CreateSession("u1", "Alice", document.Doc{"x": float64(0)})

	op1, err := m.Apply(s.ID, OperationRequest{Type: OpIncrement, Field: "x", AuthorID: "u1"})
	require.NoError(t, err)
	op2, err := m.Apply(s.ID, OperationRequest{Type: OpIncrement, Field: "x", AuthorID: "u1"})
	require.NoError(t, err)

	ops, err := m.DrainPending(s.ID)
	require.NoError(t, err)
	require.Equal(t, []string{op1.ID, op2.ID}, []string{ops[0].ID, ops[1].ID})

	ops, err = m.DrainPending(s.ID)
	require.NoError(t, err)
	require.Empty(t, ops)
}

func mustGet(t *testing.T, s *Session, path string) any {
	t.Helper()
	v, ok := document.Get(s.Document, path)
	require.True(t, ok, "path %s missing", path)
	return v
}
