package recorder

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameDurationFirstCallReturnsFallback(t *testing.T) {
	var prev uint32
	var hasPrev bool
	d := frameDuration(&prev, &hasPrev, 12345, 3000)
	require.Equal(t, uint32(3000), d)
	require.True(t, hasPrev)
	require.Equal(t, uint32(12345), prev)
}

func TestFrameDurationZeroFirstTimestampIsNotMistakenForUnset(t *testing.T) {
	var prev uint32
	var hasPrev bool
	// A legitimately-zero first RTP timestamp must still be treated as
	// "first call" via hasPrev, not produce a bogus huge delta on the next.
	d1 := frameDuration(&prev, &hasPrev, 0, 3000)
	require.Equal(t, uint32(3000), d1)

	d2 := frameDuration(&prev, &hasPrev, 3000, 3000)
	require.Equal(t, uint32(3000), d2)
}

func TestFrameDurationComputesDelta(t *testing.T) {
	var prev uint32 = 1000
	hasPrev := true
	d := frameDuration(&prev, &hasPrev, 4000, 3000)
	require.Equal(t, uint32(3000), d)
	require.Equal(t, uint32(4000), prev)
}

func TestFrameDurationHandlesWraparound(t *testing.T) {
	var prev uint32 = math.MaxUint32 - 500
	hasPrev := true
	d := frameDuration(&prev, &hasPrev, 500, 3000)
	require.Equal(t, uint32(1001), d)
}

func TestFrameDurationZeroDeltaFallsBackToDefault(t *testing.T) {
	var prev uint32 = 1000
	hasPrev := true
	d := frameDuration(&prev, &hasPrev, 1000, 960)
	require.Equal(t, uint32(960), d)
}
