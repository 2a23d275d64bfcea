package collab

import (
	"github.com/coedit/coedit/internal/core/clock"
	"github.com/coedit/coedit/internal/core/document"
)

// ResolutionKind classifies how a conflict between two operations resolves.
type ResolutionKind string

const (
	// AcceptLocal means the first (local) operation wins.
	AcceptLocal ResolutionKind = "accept-local"
	// AcceptRemote means the second (remote) operation wins.
	AcceptRemote ResolutionKind = "accept-remote"
	// ResolveMerge means neither wins outright; MergedValue holds the
	// combined result.
	ResolveMerge ResolutionKind = "merge"
	// ResolveManual is reserved for callers that escalate to a human; the
	// resolver itself never produces it.
	ResolveManual ResolutionKind = "manual"
)

// Resolution is the outcome of resolving two operations. It only reports a
// decision; applying it is the caller's responsibility.
type Resolution struct {
	Kind        ResolutionKind `json:"kind"`
	WinnerID    string         `json:"winnerId"`
	LoserID     string         `json:"loserId"`
	MergedValue any            `json:"mergedValue,omitempty"`
}

// Resolve decides between two independently applied operations, e.g. from
// two replicas that each accepted a local write before syncing. It is pure:
// no I/O, no state, and resolving the same pair always reports the same
// winner regardless of argument order.
//
// Decision ladder:
//  1. causal order by vector clock: the later operation supersedes the
//     earlier one;
//  2. concurrent: last writer wins by wall-clock timestamp;
//  3. equal timestamps, both values numeric: merge on the mean;
//  4. equal timestamps otherwise: the lexicographically smaller author id
//     wins.
func Resolve(local, remote *Operation) Resolution {
	switch clock.Compare(local.Clock, remote.Clock) {
	case clock.Before:
		return Resolution{Kind: AcceptRemote, WinnerID: remote.ID, LoserID: local.ID}
	case clock.After:
		return Resolution{Kind: AcceptLocal, WinnerID: local.ID, LoserID: remote.ID}
	}

	if local.Timestamp.After(remote.Timestamp) {
		return Resolution{Kind: AcceptLocal, WinnerID: local.ID, LoserID: remote.ID}
	}
	if remote.Timestamp.After(local.Timestamp) {
		return Resolution{Kind: AcceptRemote, WinnerID: remote.ID, LoserID: local.ID}
	}

	ln, lok := document.Number(local.Value)
	rn, rok := document.Number(remote.Value)
	if lok && rok {
		res := Resolution{Kind: ResolveMerge, MergedValue: (ln + rn) / 2}
		// winner/loser still named deterministically for reporting
		if localWinsTie(local, remote) {
			res.WinnerID, res.LoserID = local.ID, remote.ID
		} else {
			res.WinnerID, res.LoserID = remote.ID, local.ID
		}
		return res
	}

	if localWinsTie(local, remote) {
		return Resolution{Kind: AcceptLocal, WinnerID: local.ID, LoserID: remote.ID}
	}
	return Resolution{Kind: AcceptRemote, WinnerID: remote.ID, LoserID: local.ID}
}

// localWinsTie breaks exact ties: smaller author id wins; identical authors
// (two replicas of the same user) fall through to the smaller operation id.
func localWinsTie(local, remote *Operation) bool {
	if local.AuthorID != remote.AuthorID {
		return local.AuthorID < remote.AuthorID
	}
	return local.ID <= remote.ID
}
