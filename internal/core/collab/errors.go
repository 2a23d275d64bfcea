package collab

import "errors"

// Engine errors. Lookup and authorization failures are expected, recoverable
// conditions: they surface as these sentinels with no side effects and no
// notifications fired. This applies uniformly, SyncState included.
var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrUnauthorized        = errors.New("permission denied")
	ErrNotNumeric          = errors.New("field value is not numeric")
	ErrInvalidOperation    = errors.New("invalid operation type")
	ErrNothingToUndo       = errors.New("nothing to undo for user")
	ErrNothingToRedo       = errors.New("nothing to redo for user")
	ErrEmptyBatch          = errors.New("batch contains no operations")
)
