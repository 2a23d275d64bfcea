package clock

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTick(t *testing.T) {
	c := New()
	require.Equal(t, uint64(1), c.Tick("u1"))
	require.Equal(t, uint64(2), c.Tick("u1"))
	require.Equal(t, uint64(1), c.Tick("u2"))
	require.Equal(t, Clock{"u1": 2, "u2": 1}, c)
}

func TestCloneIsIndependent(t *testing.T) {
	c := Clock{"u1": 1}
	snap := c.Clone()
	c.Tick("u1")
	require.Equal(t, uint64(1), snap["u1"])
}

func TestCompare(t *testing.T) {
	cases := []struct {
		name string
		a, b Clock
		want Ordering
	}{
		{"both empty", Clock{}, Clock{}, Equal},
		{"identical", Clock{"u1": 2, "u2": 1}, Clock{"u1": 2, "u2": 1}, Equal},
		{"simple before", Clock{"u1": 1}, Clock{"u1": 2}, Before},
		{"simple after", Clock{"u1": 3}, Clock{"u1": 2}, After},
		{"missing key counts as zero", Clock{}, Clock{"u1": 1}, Before},
		{"dominated across users", Clock{"u1": 1, "u2": 1}, Clock{"u1": 2, "u2": 1}, Before},
		{"concurrent", Clock{"u1": 2, "u2": 0}, Clock{"u1": 1, "u2": 1}, Concurrent},
		{"concurrent disjoint", Clock{"u1": 1}, Clock{"u2": 1}, Concurrent},
		{"zero entries equal empty", Clock{"u1": 0}, Clock{}, Equal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Compare(tc.a, tc.b))
		})
	}
}

// Exactly one of before/after/concurrent/equal holds for any pair, and the
// relation is antisymmetric.
func TestCompareExclusivity(t *testing.T) {
	clocks := []Clock{
		{},
		{"u1": 1},
		{"u1": 2},
		{"u2": 1},
		{"u1": 1, "u2": 1},
		{"u1": 2, "u2": 1},
		{"u1": 1, "u2": 2},
	}

	flip := map[Ordering]Ordering{Before: After, After: Before, Concurrent: Concurrent, Equal: Equal}

	for _, a := range clocks {
		for _, b := range clocks {
			fwd := Compare(a, b)
			rev := Compare(b, a)
			require.Equal(t, flip[fwd], rev, "a=%v b=%v", a, b)
		}
	}
}

func TestMerge(t *testing.T) {
	c := Clock{"u1": 2, "u2": 1}
	c.Merge(Clock{"u1": 1, "u2": 5, "u3": 1})
	require.Equal(t, Clock{"u1": 2, "u2": 5, "u3": 1}, c)
}
