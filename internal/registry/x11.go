package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/rs/zerolog"

	"github.com/eve-tools/eve-preview/internal/config"
	"github.com/eve-tools/eve-preview/internal/logger"
	"github.com/eve-tools/eve-preview/internal/xutil"
)

// Tracker feeds the window Set from the X server: it enumerates clients via
// _NET_CLIENT_LIST, filters them down to EVE clients and translates raw X
// events into registry transitions.
type Tracker struct {
	x      *xutil.Context
	set    *Set
	marker string
	log    *zerolog.Logger

	watched map[xproto.Window]struct{}
}

// NewTracker creates a tracker over the shared X context. marker is the
// window-title prefix identifying EVE clients ("EVE - ").
func NewTracker(x *xutil.Context, marker string) *Tracker {
	return &Tracker{
		x:       x,
		set:     NewSet(),
		marker:  marker,
		log:     logger.WithComponent("registry"),
		watched: make(map[xproto.Window]struct{}),
	}
}

// Set exposes the underlying window set for queries.
func (t *Tracker) Set() *Set {
	return t.set
}

// SubscribeRoot asks for SubstructureNotify on the root window so client
// creation and destruction wake the event loop.
func (t *Tracker) SubscribeRoot() error {
	return xproto.ChangeWindowAttributesChecked(
		t.x.Conn,
		t.x.Root,
		xproto.CwEventMask,
		[]uint32{xproto.EventMaskSubstructureNotify},
	).Check()
}

// Reconcile queries the window manager's client list, filters it to EVE
// clients and diffs against the tracked set. Query failures leave the set
// untouched; the next pass retries.
func (t *Tracker) Reconcile() ([]Event, error) {
	clients, err := t.x.PropertyWindows(t.x.Root, t.x.Atoms.NetClientList)
	if err != nil {
		return nil, fmt.Errorf("failed to read client list: %w", err)
	}

	observed := make([]Observation, 0, len(clients))
	for _, win := range clients {
		obs, ok := t.observe(win)
		if !ok {
			continue
		}
		observed = append(observed, obs)
		t.watch(win)
	}

	events := t.set.Reconcile(observed)
	for _, ev := range events {
		if ev.Kind == EventRemoved {
			delete(t.watched, ev.Window.Handle)
		}
	}
	return events, nil
}

func (t *Tracker) observe(win xproto.Window) (Observation, bool) {
	title, err := t.x.WindowTitle(win)
	if err != nil {
		return Observation{}, false
	}
	identity, ok := MatchTitle(title, t.marker)
	if !ok {
		return Observation{}, false
	}
	if !t.isWineClient(win) {
		return Observation{}, false
	}

	geom, err := t.geometry(win)
	if err != nil {
		// Window vanished between listing and query.
		return Observation{}, false
	}

	return Observation{
		Handle:    win,
		Identity:  identity,
		Title:     title,
		Geometry:  geom,
		Minimized: t.minimized(win),
	}, true
}

// isWineClient checks that the window's process is a wine preloader, which
// is how the EVE client runs on Linux. Windows whose process cannot be
// inspected (missing _NET_WM_PID, /proc read denied) are kept; the title
// already matched.
func (t *Tracker) isWineClient(win xproto.Window) bool {
	pid, err := t.x.PropertyCardinal(win, t.x.Atoms.NetWMPID)
	if err != nil || pid == 0 {
		return true
	}
	exe, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
	if err != nil {
		return true
	}
	base := filepath.Base(exe)
	return strings.HasPrefix(base, "wine") && strings.HasSuffix(base, "-preloader")
}

func (t *Tracker) geometry(win xproto.Window) (config.Geometry, error) {
	geom, err := xproto.GetGeometry(t.x.Conn, xproto.Drawable(win)).Reply()
	if err != nil {
		return config.Geometry{}, err
	}
	// Window coordinates are parent-relative; translate to root.
	trans, err := xproto.TranslateCoordinates(t.x.Conn, win, t.x.Root, 0, 0).Reply()
	if err != nil {
		return config.Geometry{}, err
	}
	return config.Geometry{
		X:      trans.DstX,
		Y:      trans.DstY,
		Width:  geom.Width,
		Height: geom.Height,
	}, nil
}

func (t *Tracker) minimized(win xproto.Window) bool {
	states, err := t.x.PropertyAtoms(win, t.x.Atoms.NetWMState)
	if err != nil {
		return false
	}
	for _, state := range states {
		if state == t.x.Atoms.NetWMStateHidden {
			return true
		}
	}
	return false
}

func (t *Tracker) watch(win xproto.Window) {
	if _, ok := t.watched[win]; ok {
		return
	}
	err := xproto.ChangeWindowAttributesChecked(
		t.x.Conn,
		win,
		xproto.CwEventMask,
		[]uint32{xproto.EventMaskPropertyChange |
			xproto.EventMaskFocusChange |
			xproto.EventMaskStructureNotify},
	).Check()
	if err != nil {
		t.log.Debug().Uint32("window", uint32(win)).Err(err).Msg("Failed to select events on client window")
		return
	}
	t.watched[win] = struct{}{}
}

// ProcessEvent translates one X event affecting a tracked window into
// registry transitions. Events for untracked windows yield nil.
func (t *Tracker) ProcessEvent(ev xgb.Event) []Event {
	switch e := ev.(type) {
	case xproto.PropertyNotifyEvent:
		return t.onProperty(e)
	case xproto.FocusInEvent:
		if e.Mode == xproto.NotifyModeGrab || e.Mode == xproto.NotifyModeUngrab {
			return nil
		}
		return t.set.SetFocus(e.Event)
	case xproto.FocusOutEvent:
		if e.Mode == xproto.NotifyModeGrab || e.Mode == xproto.NotifyModeUngrab {
			return nil
		}
		if focused, ok := t.set.Focused(); ok && focused.Handle == e.Event {
			return t.set.SetFocus(0)
		}
	case xproto.ConfigureNotifyEvent:
		if _, ok := t.set.Get(e.Window); !ok {
			return nil
		}
		geom, err := t.geometry(e.Window)
		if err != nil {
			return nil
		}
		return t.set.UpdateGeometry(e.Window, geom)
	case xproto.DestroyNotifyEvent:
		delete(t.watched, e.Window)
		return t.set.Remove(e.Window)
	case xproto.UnmapNotifyEvent:
		return t.set.UpdateMinimized(e.Window, true)
	case xproto.MapNotifyEvent:
		return t.set.UpdateMinimized(e.Window, false)
	}
	return nil
}

func (t *Tracker) onProperty(e xproto.PropertyNotifyEvent) []Event {
	if _, tracked := t.set.Get(e.Window); !tracked {
		return nil
	}
	switch e.Atom {
	case t.x.Atoms.NetWMName, t.x.Atoms.WMName:
		title, err := t.x.WindowTitle(e.Window)
		if err != nil {
			return nil
		}
		identity, ok := MatchTitle(title, t.marker)
		if !ok {
			// Title no longer matches; treat as departure.
			return t.set.Remove(e.Window)
		}
		return t.set.Rename(e.Window, title, identity)
	case t.x.Atoms.NetWMState:
		return t.set.UpdateMinimized(e.Window, t.minimized(e.Window))
	}
	return nil
}

// Activate raises and focuses a tracked window. Returns ErrWindowGone when
// the handle no longer resolves.
func (t *Tracker) Activate(handle xproto.Window) error {
	if _, ok := t.set.Get(handle); !ok {
		return fmt.Errorf("activate %d: %w", handle, ErrWindowGone)
	}
	if err := t.x.ActivateWindow(handle); err != nil {
		// A failed X request here almost always means the window closed.
		return fmt.Errorf("activate %d: %v: %w", handle, err, ErrWindowGone)
	}
	return nil
}

// Iconify asks the window manager to minimize a tracked window.
func (t *Tracker) Iconify(handle xproto.Window) error {
	if _, ok := t.set.Get(handle); !ok {
		return fmt.Errorf("iconify %d: %w", handle, ErrWindowGone)
	}
	return t.x.IconifyWindow(handle)
}

// CurrentFocus reports which tracked window holds input focus, walking up
// from the server's focus window since focus usually rests on a child.
func (t *Tracker) CurrentFocus() (xproto.Window, bool) {
	reply, err := xproto.GetInputFocus(t.x.Conn).Reply()
	if err != nil {
		return 0, false
	}
	win := reply.Focus
	for i := 0; i < 16 && win != 0 && win != t.x.Root; i++ {
		if _, ok := t.set.Get(win); ok {
			return win, true
		}
		tree, err := xproto.QueryTree(t.x.Conn, win).Reply()
		if err != nil {
			return 0, false
		}
		win = tree.Parent
	}
	return 0, false
}
