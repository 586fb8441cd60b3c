// Package registry tracks the live set of EVE client windows. The Set type
// is pure bookkeeping over observations so the diff logic is testable
// without an X server; the X11 tracker in this package feeds it.
package registry

import (
	"errors"
	"strings"
	"time"

	"github.com/BurntSushi/xgb/xproto"

	"github.com/eve-tools/eve-preview/internal/config"
)

// ErrWindowGone reports that a window handle stopped resolving between
// lookup and use. Callers treat it as a removal signal, not a failure.
var ErrWindowGone = errors.New("window gone")

// TargetWindow is one live EVE client window.
type TargetWindow struct {
	Handle    xproto.Window
	Identity  string
	Title     string
	Geometry  config.Geometry
	Focused   bool
	Minimized bool
	LastSeen  time.Time
}

// EventKind enumerates the registry state transitions the coordinator
// reacts to.
type EventKind int

const (
	EventAdded EventKind = iota
	EventRemoved
	EventRenamed
	EventFocusGained
	EventFocusLost
	EventMinimized
	EventRestored
	EventResized
)

func (k EventKind) String() string {
	switch k {
	case EventAdded:
		return "added"
	case EventRemoved:
		return "removed"
	case EventRenamed:
		return "renamed"
	case EventFocusGained:
		return "focus_gained"
	case EventFocusLost:
		return "focus_lost"
	case EventMinimized:
		return "minimized"
	case EventRestored:
		return "restored"
	case EventResized:
		return "resized"
	}
	return "unknown"
}

// Event pairs a transition with a snapshot of the window after it applied.
type Event struct {
	Kind   EventKind
	Window TargetWindow
}

// Observation is one window as seen during a reconciliation pass.
type Observation struct {
	Handle    xproto.Window
	Identity  string
	Title     string
	Geometry  config.Geometry
	Minimized bool
}

// MatchTitle decides whether a window title belongs to an EVE client and
// derives the character identity. A title carrying the marker prefix yields
// the character name after it; the bare marker base alone ("EVE") is a
// logged-out client and yields the empty identity.
func MatchTitle(title, marker string) (string, bool) {
	if strings.HasPrefix(title, marker) {
		return strings.TrimSpace(strings.TrimPrefix(title, marker)), true
	}
	bare := strings.TrimSuffix(marker, " - ")
	if bare != "" && strings.TrimSpace(title) == bare {
		return "", true
	}
	return "", false
}

// Set is the authoritative window set. It is not safe for concurrent use;
// the session coordinator is its only caller.
type Set struct {
	windows map[xproto.Window]*TargetWindow
	focused xproto.Window

	// Most recent focus time per identity, used to pick the binding when
	// two live windows derive the same identity.
	focusTime map[string]focusStamp

	now func() time.Time
}

type focusStamp struct {
	handle xproto.Window
	at     time.Time
}

// NewSet creates an empty window set.
func NewSet() *Set {
	return &Set{
		windows:   make(map[xproto.Window]*TargetWindow),
		focusTime: make(map[string]focusStamp),
		now:       time.Now,
	}
}

// Reconcile diffs the observed window list against the current set and
// returns the transitions that occurred. Windows absent from the
// observation are removed; there are never duplicates or stale entries
// afterward.
func (s *Set) Reconcile(observed []Observation) []Event {
	var events []Event
	seen := make(map[xproto.Window]struct{}, len(observed))
	now := s.now()

	for _, obs := range observed {
		seen[obs.Handle] = struct{}{}
		existing, ok := s.windows[obs.Handle]
		if !ok {
			win := &TargetWindow{
				Handle:    obs.Handle,
				Identity:  obs.Identity,
				Title:     obs.Title,
				Geometry:  obs.Geometry,
				Minimized: obs.Minimized,
				LastSeen:  now,
			}
			s.windows[obs.Handle] = win
			events = append(events, Event{Kind: EventAdded, Window: *win})
			continue
		}

		existing.LastSeen = now
		if obs.Title != existing.Title {
			existing.Title = obs.Title
			existing.Identity = obs.Identity
			events = append(events, Event{Kind: EventRenamed, Window: *existing})
		}
		if obs.Geometry != existing.Geometry {
			existing.Geometry = obs.Geometry
			events = append(events, Event{Kind: EventResized, Window: *existing})
		}
		if obs.Minimized != existing.Minimized {
			existing.Minimized = obs.Minimized
			kind := EventRestored
			if obs.Minimized {
				kind = EventMinimized
			}
			events = append(events, Event{Kind: kind, Window: *existing})
		}
	}

	for handle, win := range s.windows {
		if _, ok := seen[handle]; ok {
			continue
		}
		events = append(events, s.remove(handle, *win)...)
	}

	return events
}

// Remove drops a single window, emitting the removal (and, if it held
// focus, the focus-lost) transition.
func (s *Set) Remove(handle xproto.Window) []Event {
	win, ok := s.windows[handle]
	if !ok {
		return nil
	}
	return s.remove(handle, *win)
}

func (s *Set) remove(handle xproto.Window, snapshot TargetWindow) []Event {
	var events []Event
	if s.focused == handle {
		snapshot.Focused = false
		events = append(events, Event{Kind: EventFocusLost, Window: snapshot})
		s.focused = 0
	}
	delete(s.windows, handle)
	events = append(events, Event{Kind: EventRemoved, Window: snapshot})
	return events
}

// SetFocus records the window currently holding input focus. Passing 0
// means no target window is focused.
func (s *Set) SetFocus(handle xproto.Window) []Event {
	if handle == s.focused {
		return nil
	}
	var events []Event
	if old, ok := s.windows[s.focused]; ok {
		old.Focused = false
		events = append(events, Event{Kind: EventFocusLost, Window: *old})
	}
	s.focused = 0
	if win, ok := s.windows[handle]; ok {
		win.Focused = true
		s.focused = handle
		s.focusTime[win.Identity] = focusStamp{handle: handle, at: s.now()}
		events = append(events, Event{Kind: EventFocusGained, Window: *win})
	}
	return events
}

// Focused returns the currently focused window, if any.
func (s *Set) Focused() (TargetWindow, bool) {
	win, ok := s.windows[s.focused]
	if !ok {
		return TargetWindow{}, false
	}
	return *win, true
}

// Get returns the window for a handle.
func (s *Set) Get(handle xproto.Window) (TargetWindow, bool) {
	win, ok := s.windows[handle]
	if !ok {
		return TargetWindow{}, false
	}
	return *win, true
}

// Windows returns a snapshot of every tracked window.
func (s *Set) Windows() []TargetWindow {
	out := make([]TargetWindow, 0, len(s.windows))
	for _, win := range s.windows {
		out = append(out, *win)
	}
	return out
}

// UpdateGeometry records a geometry change outside a full reconciliation,
// e.g. from a ConfigureNotify event.
func (s *Set) UpdateGeometry(handle xproto.Window, g config.Geometry) []Event {
	win, ok := s.windows[handle]
	if !ok || win.Geometry == g {
		return nil
	}
	win.Geometry = g
	return []Event{{Kind: EventResized, Window: *win}}
}

// UpdateMinimized records a visibility change from a property event.
func (s *Set) UpdateMinimized(handle xproto.Window, minimized bool) []Event {
	win, ok := s.windows[handle]
	if !ok || win.Minimized == minimized {
		return nil
	}
	win.Minimized = minimized
	kind := EventRestored
	if minimized {
		kind = EventMinimized
	}
	return []Event{{Kind: kind, Window: *win}}
}

// Rename records a title change from a property event, re-deriving the
// identity. Returns no event when the title is unchanged.
func (s *Set) Rename(handle xproto.Window, title, identity string) []Event {
	win, ok := s.windows[handle]
	if !ok || win.Title == title {
		return nil
	}
	win.Title = title
	win.Identity = identity
	return []Event{{Kind: EventRenamed, Window: *win}}
}

// HandleForIdentity resolves an identity to a live window handle. When two
// live windows carry the same identity the most recently focused one wins;
// with no focus history the lowest handle wins for determinism. The empty
// identity never resolves.
func (s *Set) HandleForIdentity(identity string) (xproto.Window, bool) {
	if identity == "" {
		return 0, false
	}
	if stamp, ok := s.focusTime[identity]; ok {
		if win, live := s.windows[stamp.handle]; live && win.Identity == identity {
			return stamp.handle, true
		}
	}
	var best xproto.Window
	found := false
	for handle, win := range s.windows {
		if win.Identity != identity {
			continue
		}
		if !found || handle < best {
			best = handle
			found = true
		}
	}
	return best, found
}

// HasIdentity reports whether any live window carries the identity.
func (s *Set) HasIdentity(identity string) bool {
	_, ok := s.HandleForIdentity(identity)
	return ok
}
