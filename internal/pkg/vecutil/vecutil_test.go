package vecutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	out, ok := Normalize([]float32{3, 4})
	require.True(t, ok)
	require.InDelta(t, 0.6, out[0], 1e-6)
	require.InDelta(t, 0.8, out[1], 1e-6)
	require.InDelta(t, 1.0, Dot(out, out), 1e-6)

	_, ok = Normalize([]float32{0, 0, 0})
	require.False(t, ok)
}

func TestDotLengthMismatch(t *testing.T) {
	require.Equal(t, float32(0), Dot([]float32{1}, []float32{1, 2}))
}
