// Package clock implements the per-session vector clock used to stamp
// operations and detect causal order between them.
package clock

// Clock maps a participant id to a monotonic counter. Counters only move
// forward; a participant's own counter is bumped by exactly one each time one
// of their operations is applied locally.
type Clock map[string]uint64

// Ordering is the outcome of comparing two clocks.
type Ordering uint8

const (
	// Before means the left clock causally precedes the right one.
	Before Ordering = iota
	// After means the right clock causally precedes the left one.
	After
	// Concurrent means neither clock dominates the other.
	Concurrent
	// Equal means the clocks are identical. Identical clocks are neither
	// before, after nor concurrent; callers that only care about causality
	// must treat Equal explicitly.
	Equal
)

func (o Ordering) String() string {
	switch o {
	case Before:
		return "before"
	case After:
		return "after"
	case Concurrent:
		return "concurrent"
	case Equal:
		return "equal"
	default:
		return "unknown"
	}
}

// New returns an empty clock.
func New() Clock {
	return make(Clock)
}

// Tick increments the counter for user, initializing an unseen user to zero
// first, and returns the new counter value.
func (c Clock) Tick(user string) uint64 {
	c[user]++
	return c[user]
}

// Clone returns an independent copy. Operation stamps are clones taken after
// the author's tick.
func (c Clock) Clone() Clock {
	out := make(Clock, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Merge folds other into c, taking the per-key maximum. Used when a replica
// adopts a remote operation's stamp.
func (c Clock) Merge(other Clock) {
	for k, v := range other {
		if v > c[k] {
			c[k] = v
		}
	}
}

// Compare reports the causal relationship between a and b. A key missing from
// either clock counts as zero.
func Compare(a, b Clock) Ordering {
	var aLess, aGreater bool

	for k, av := range a {
		bv := b[k]
		if av < bv {
			aLess = true
		} else if av > bv {
			aGreater = true
		}
	}
	for k, bv := range b {
		if _, seen := a[k]; seen {
			continue
		}
		if bv > 0 {
			aLess = true
		}
	}

	switch {
	case aLess && aGreater:
		return Concurrent
	case aLess:
		return Before
	case aGreater:
		return After
	default:
		return Equal
	}
}
