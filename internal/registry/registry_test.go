package registry

import (
	"testing"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/stretchr/testify/require"

	"github.com/eve-tools/eve-preview/internal/config"
)

const marker = "EVE - "

func obs(handle xproto.Window, title string) Observation {
	identity, _ := MatchTitle(title, marker)
	return Observation{
		Handle:   handle,
		Identity: identity,
		Title:    title,
		Geometry: config.Geometry{X: 0, Y: 0, Width: 1280, Height: 720},
	}
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func TestMatchTitle(t *testing.T) {
	id, ok := MatchTitle("EVE - Main Character", marker)
	require.True(t, ok)
	require.Equal(t, "Main Character", id)

	id, ok = MatchTitle("EVE", marker)
	require.True(t, ok)
	require.Equal(t, "", id)

	_, ok = MatchTitle("Firefox", marker)
	require.False(t, ok)

	_, ok = MatchTitle("EVE Launcher", marker)
	require.False(t, ok)
}

func TestReconcileTracksLiveSetExactly(t *testing.T) {
	s := NewSet()

	events := s.Reconcile([]Observation{obs(1, "EVE - Alpha"), obs(2, "EVE - Beta")})
	require.Equal(t, []EventKind{EventAdded, EventAdded}, kinds(events))
	require.Len(t, s.Windows(), 2)

	// Same observation again is a no-op.
	events = s.Reconcile([]Observation{obs(1, "EVE - Alpha"), obs(2, "EVE - Beta")})
	require.Empty(t, events)

	// Window 1 gone, window 3 appears.
	events = s.Reconcile([]Observation{obs(2, "EVE - Beta"), obs(3, "EVE - Gamma")})
	require.ElementsMatch(t, []EventKind{EventRemoved, EventAdded}, kinds(events))
	require.Len(t, s.Windows(), 2)
	_, ok := s.Get(1)
	require.False(t, ok)
}

func TestRenameRederivesIdentity(t *testing.T) {
	s := NewSet()
	s.Reconcile([]Observation{obs(1, "EVE")})

	events := s.Reconcile([]Observation{obs(1, "EVE - Alpha")})
	require.Equal(t, []EventKind{EventRenamed}, kinds(events))
	win, _ := s.Get(1)
	require.Equal(t, "Alpha", win.Identity)
}

func TestResizeAndMinimizeTransitions(t *testing.T) {
	s := NewSet()
	s.Reconcile([]Observation{obs(1, "EVE - Alpha")})

	grown := obs(1, "EVE - Alpha")
	grown.Geometry.Width = 1920
	events := s.Reconcile([]Observation{grown})
	require.Equal(t, []EventKind{EventResized}, kinds(events))

	hidden := grown
	hidden.Minimized = true
	events = s.Reconcile([]Observation{hidden})
	require.Equal(t, []EventKind{EventMinimized}, kinds(events))

	events = s.Reconcile([]Observation{grown})
	require.Equal(t, []EventKind{EventRestored}, kinds(events))
}

func TestFocusIsExclusive(t *testing.T) {
	s := NewSet()
	s.Reconcile([]Observation{obs(1, "EVE - Alpha"), obs(2, "EVE - Beta")})

	events := s.SetFocus(1)
	require.Equal(t, []EventKind{EventFocusGained}, kinds(events))

	events = s.SetFocus(2)
	require.Equal(t, []EventKind{EventFocusLost, EventFocusGained}, kinds(events))

	focusedCount := 0
	for _, win := range s.Windows() {
		if win.Focused {
			focusedCount++
		}
	}
	require.Equal(t, 1, focusedCount)

	events = s.SetFocus(0)
	require.Equal(t, []EventKind{EventFocusLost}, kinds(events))
	_, ok := s.Focused()
	require.False(t, ok)
}

func TestRemoveFocusedWindowEmitsFocusLost(t *testing.T) {
	s := NewSet()
	s.Reconcile([]Observation{obs(1, "EVE - Alpha")})
	s.SetFocus(1)

	events := s.Remove(1)
	require.Equal(t, []EventKind{EventFocusLost, EventRemoved}, kinds(events))
	_, ok := s.Focused()
	require.False(t, ok)
}

func TestDuplicateIdentityMostRecentlyFocusedWins(t *testing.T) {
	s := NewSet()
	s.Reconcile([]Observation{obs(1, "EVE - Alpha"), obs(2, "EVE - Alpha")})

	// No focus history: lowest handle for determinism.
	handle, ok := s.HandleForIdentity("Alpha")
	require.True(t, ok)
	require.Equal(t, xproto.Window(1), handle)

	s.SetFocus(2)
	handle, ok = s.HandleForIdentity("Alpha")
	require.True(t, ok)
	require.Equal(t, xproto.Window(2), handle)

	// Focused duplicate closes; binding falls back to the survivor.
	s.Remove(2)
	handle, ok = s.HandleForIdentity("Alpha")
	require.True(t, ok)
	require.Equal(t, xproto.Window(1), handle)
}

func TestEmptyIdentityNeverResolves(t *testing.T) {
	s := NewSet()
	s.Reconcile([]Observation{obs(1, "EVE")})

	_, ok := s.HandleForIdentity("")
	require.False(t, ok)
	require.False(t, s.HasIdentity(""))
}
