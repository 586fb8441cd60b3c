package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLayoutRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	m, err := NewManager(path)
	require.NoError(t, err)

	want := Geometry{X: 100, Y: 200, Width: 480, Height: 270}
	require.NoError(t, m.SaveLayout("Main", want))

	// Fresh manager simulates a process restart.
	m2, err := NewManager(path)
	require.NoError(t, err)

	got, ok := m2.Layout("Main")
	require.True(t, ok)
	require.Equal(t, want, got)

	// New window handles resolve by identity, so nothing else to key on.
	_, ok = m2.Layout("Other")
	require.False(t, ok)
}

func TestEmptyIdentityNeverPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	m, err := NewManager(path)
	require.NoError(t, err)
	require.NoError(t, m.SaveLayout("", Geometry{X: 1, Y: 2, Width: 3, Height: 4}))

	_, ok := m.Layout("")
	require.False(t, ok)
	require.Empty(t, m.Identities())
}

func TestCycleOrderAppendPreservesOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	m, err := NewManager(path)
	require.NoError(t, err)

	require.NoError(t, m.AppendCycle("A"))
	require.NoError(t, m.AppendCycle("B"))
	require.NoError(t, m.AppendCycle("A")) // duplicate is a no-op
	require.NoError(t, m.AppendCycle("C"))

	require.Equal(t, []string{"A", "B", "C"}, m.Settings().CycleOrder)

	m2, err := NewManager(path)
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B", "C"}, m2.Settings().CycleOrder)
}

func TestDefaultsWhenConfigUnreadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0644))

	m, err := NewManager(path)
	require.NoError(t, err)
	require.True(t, m.Degraded())

	s := m.Settings()
	require.Equal(t, "EVE - ", s.TitleMarker)
	require.Equal(t, uint16(15), s.SnapThreshold)
	require.Equal(t, uint16(3), s.ClickThreshold)

	// In-memory state still functions and writes retry on next change.
	require.NoError(t, m.SaveLayout("Main", Geometry{X: 5, Y: 6, Width: 480, Height: 270}))
	require.False(t, m.Degraded())
}

func TestEnvOverrideAppliedOnce(t *testing.T) {
	t.Setenv("EVE_PREVIEW_SNAP_THRESHOLD", "42")
	t.Setenv("EVE_PREVIEW_HIDE_WHEN_NO_FOCUS", "true")
	t.Setenv("EVE_PREVIEW_BORDER_COLOR", "#00FF00")

	path := filepath.Join(t.TempDir(), "config.yaml")
	m, err := NewManager(path)
	require.NoError(t, err)

	s := m.Settings()
	require.Equal(t, uint16(42), s.SnapThreshold)
	require.True(t, s.HideWhenNoFocus)
	require.Equal(t, "#00FF00", s.BorderColor)

	// Overrides never reach the file: with the environment cleared, a fresh
	// manager sees the on-disk defaults again.
	_ = os.Unsetenv("EVE_PREVIEW_SNAP_THRESHOLD")
	_ = os.Unsetenv("EVE_PREVIEW_HIDE_WHEN_NO_FOCUS")
	_ = os.Unsetenv("EVE_PREVIEW_BORDER_COLOR")
	m2, err := NewManager(path)
	require.NoError(t, err)
	require.Equal(t, uint16(15), m2.Settings().SnapThreshold)
	require.False(t, m2.Settings().HideWhenNoFocus)
	require.Equal(t, "#FF0000", m2.Settings().BorderColor)
}

func TestParseARGB(t *testing.T) {
	cases := []struct {
		in   string
		want uint32
		ok   bool
	}{
		{"#FF0000", 0xFFFF0000, true},
		{"FF0000", 0xFFFF0000, true},
		{"#80FFFFFF", 0x80FFFFFF, true},
		{"00ff00", 0xFF00FF00, true},
		{"#12345", 0, false},
		{"zzzzzz", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseARGB(tc.in)
		if !tc.ok {
			require.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}
}

func TestOpacityCardinal(t *testing.T) {
	require.Equal(t, uint32(0xFFFFFFFF), OpacityCardinal(100))
	require.Equal(t, uint32(0xFFFFFFFF), OpacityCardinal(120))
	require.Equal(t, uint32(0), OpacityCardinal(0))
	require.Equal(t, uint32(0x7FFFFFFF), OpacityCardinal(50))
}
