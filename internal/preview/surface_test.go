package preview

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClickWithinThreshold(t *testing.T) {
	require.True(t, IsClick(100, 100, 100, 100, 3))
	require.True(t, IsClick(100, 100, 103, 97, 3))
}

func TestDragBeyondThresholdIsNotClick(t *testing.T) {
	require.False(t, IsClick(100, 100, 104, 100, 3))
	require.False(t, IsClick(100, 100, 100, 96, 3))
	require.False(t, IsClick(100, 100, 50, 200, 3))
}

func TestZeroThresholdRequiresExactRelease(t *testing.T) {
	require.True(t, IsClick(100, 100, 100, 100, 0))
	require.False(t, IsClick(100, 100, 101, 100, 0))
}
