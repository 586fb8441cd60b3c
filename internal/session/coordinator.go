// Package session runs the daemon's control loop. Every external
// notification (X events, hotkey commands, timers) funnels into one
// goroutine; the coordinator is the sole mutator of the registry set, the
// mirrors and the preview surfaces, so none of them need locking.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/damage"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/rs/zerolog"

	"github.com/eve-tools/eve-preview/internal/compositor"
	"github.com/eve-tools/eve-preview/internal/config"
	"github.com/eve-tools/eve-preview/internal/cycle"
	"github.com/eve-tools/eve-preview/internal/hotkeys"
	"github.com/eve-tools/eve-preview/internal/logger"
	"github.com/eve-tools/eve-preview/internal/registry"
	"github.com/eve-tools/eve-preview/internal/xutil"
)

// Registry is the window-tracking surface the coordinator drives.
type Registry interface {
	Reconcile() ([]registry.Event, error)
	ProcessEvent(ev xgb.Event) []registry.Event
	Activate(handle xproto.Window) error
	Iconify(handle xproto.Window) error
	CurrentFocus() (xproto.Window, bool)
	Set() *registry.Set
}

// Surfaces is the preview-widget surface the coordinator drives.
type Surfaces interface {
	Create(target registry.TargetWindow, persisted config.Geometry, hasPersisted bool) error
	Destroy(source xproto.Window)
	Rename(source xproto.Window, identity string, persisted config.Geometry, hasPersisted bool)
	SetFocused(source xproto.Window, focused bool)
	SetMinimized(source xproto.Window, minimized bool)
	SetAllVisible(visible bool)
	Visible() bool
	Repaint(source xproto.Window)
	HandleButtonPress(e xproto.ButtonPressEvent)
	HandleMotion(e xproto.MotionNotifyEvent)
	HandleButtonRelease(e xproto.ButtonReleaseEvent)
	HandleExpose(e xproto.ExposeEvent)
}

// Mirrors is the live-mirror surface the coordinator drives.
type Mirrors interface {
	Attach(source xproto.Window) (*compositor.Mirror, error)
	Detach(source xproto.Window)
	Suspend(source xproto.Window)
	Resume(source xproto.Window) error
	SourceForDamage(d damage.Damage) (xproto.Window, bool)
}

// Persistence is the layout and settings store, implemented by
// config.Manager.
type Persistence interface {
	Layout(identity string) (config.Geometry, bool)
	SaveLayout(identity string, g config.Geometry) error
	AppendCycle(identity string) error
}

// Options wires the coordinator's collaborators.
type Options struct {
	Settings config.Settings
	Store    Persistence
	Registry Registry
	Surfaces Surfaces
	Mirrors  Mirrors
	Cycle    *cycle.Engine
	Commands <-chan hotkeys.Command

	ReconcileEvery time.Duration
	FlushEvery     time.Duration
}

// Coordinator is the top-level control loop.
type Coordinator struct {
	x    *xutil.Context
	opts Options
	log  *zerolog.Logger

	// Layout writes deferred off the drag path, flushed on a timer.
	// Failed writes stay queued and are retried on the next flush.
	pendingLayouts map[string]config.Geometry
}

// New creates the coordinator. The X context may be nil when Run is not
// used and events are fed directly, as the tests do.
func New(x *xutil.Context, opts Options) *Coordinator {
	if opts.ReconcileEvery <= 0 {
		opts.ReconcileEvery = 2 * time.Second
	}
	if opts.FlushEvery <= 0 {
		opts.FlushEvery = 5 * time.Second
	}
	return &Coordinator{
		x:              x,
		opts:           opts,
		log:            logger.WithComponent("session"),
		pendingLayouts: make(map[string]config.Geometry),
	}
}

// Run drives the loop until the context is cancelled or the X connection
// drops. The X event pump is the only other goroutine touching the
// connection's event queue.
func (c *Coordinator) Run(ctx context.Context) error {
	xEvents := make(chan xgb.Event, 64)
	go c.pump(xEvents)

	c.reconcile()

	reconcileTick := time.NewTicker(c.opts.ReconcileEvery)
	defer reconcileTick.Stop()
	flushTick := time.NewTicker(c.opts.FlushEvery)
	defer flushTick.Stop()

	for {
		select {
		case <-ctx.Done():
			c.flushLayouts()
			return ctx.Err()
		case ev, ok := <-xEvents:
			if !ok {
				c.flushLayouts()
				return fmt.Errorf("X connection closed")
			}
			c.handleXEvent(ev)
		case cmd, ok := <-c.opts.Commands:
			if !ok {
				continue
			}
			c.HandleCommand(cmd)
		case <-reconcileTick.C:
			c.reconcile()
		case <-flushTick.C:
			c.flushLayouts()
		}
	}
}

func (c *Coordinator) pump(out chan<- xgb.Event) {
	defer close(out)
	for {
		ev, err := c.x.Conn.WaitForEvent()
		if ev == nil && err == nil {
			return
		}
		if err != nil {
			c.log.Debug().Err(err).Msg("X protocol error")
			continue
		}
		out <- ev
	}
}

func (c *Coordinator) reconcile() {
	events, err := c.opts.Registry.Reconcile()
	if err != nil {
		c.log.Warn().Err(err).Msg("Window reconciliation failed, retrying on next pass")
		return
	}
	c.ApplyEvents(events)
}

func (c *Coordinator) handleXEvent(ev xgb.Event) {
	switch e := ev.(type) {
	case xproto.ButtonPressEvent:
		c.opts.Surfaces.HandleButtonPress(e)
	case xproto.MotionNotifyEvent:
		c.opts.Surfaces.HandleMotion(e)
	case xproto.ButtonReleaseEvent:
		c.opts.Surfaces.HandleButtonRelease(e)
	case xproto.ExposeEvent:
		c.opts.Surfaces.HandleExpose(e)
	case damage.NotifyEvent:
		if source, ok := c.opts.Mirrors.SourceForDamage(e.Damage); ok {
			c.opts.Surfaces.Repaint(source)
		}
	default:
		c.ApplyEvents(c.opts.Registry.ProcessEvent(ev))
	}
}

// ApplyEvents reacts to a batch of registry transitions, keeping surfaces,
// mirrors, cycle order and persisted state in step with the window set.
func (c *Coordinator) ApplyEvents(events []registry.Event) {
	for _, ev := range events {
		win := ev.Window
		switch ev.Kind {
		case registry.EventAdded:
			c.onAdded(win)
		case registry.EventRemoved:
			c.opts.Mirrors.Detach(win.Handle)
			c.opts.Surfaces.Destroy(win.Handle)
		case registry.EventRenamed:
			persisted, ok := c.layout(win.Identity)
			c.opts.Surfaces.Rename(win.Handle, win.Identity, persisted, ok)
			c.appendCycle(win.Identity)
		case registry.EventFocusGained:
			c.opts.Cycle.SetFocus(win.Identity)
			c.opts.Surfaces.SetFocused(win.Handle, true)
			if c.opts.Settings.HideWhenNoFocus {
				c.opts.Surfaces.SetAllVisible(true)
			}
		case registry.EventFocusLost:
			c.opts.Surfaces.SetFocused(win.Handle, false)
			if _, stillFocused := c.opts.Registry.Set().Focused(); !stillFocused {
				c.opts.Cycle.ClearFocus()
				if c.opts.Settings.HideWhenNoFocus {
					c.opts.Surfaces.SetAllVisible(false)
				}
			}
		case registry.EventMinimized:
			c.opts.Mirrors.Suspend(win.Handle)
			c.opts.Surfaces.SetMinimized(win.Handle, true)
		case registry.EventRestored:
			if err := c.opts.Mirrors.Resume(win.Handle); err != nil {
				c.log.Debug().Uint32("window", uint32(win.Handle)).Err(err).Msg("Mirror resume failed")
			}
			c.opts.Surfaces.SetMinimized(win.Handle, false)
		case registry.EventResized:
			// The named pixmap is tied to the old backing store.
			if err := c.opts.Mirrors.Resume(win.Handle); err != nil {
				c.log.Debug().Uint32("window", uint32(win.Handle)).Err(err).Msg("Mirror rebind failed")
			}
			c.opts.Surfaces.Repaint(win.Handle)
		}
	}
}

func (c *Coordinator) onAdded(win registry.TargetWindow) {
	persisted, ok := c.layout(win.Identity)
	if err := c.opts.Surfaces.Create(win, persisted, ok); err != nil {
		c.log.Warn().Uint32("window", uint32(win.Handle)).Err(err).Msg("Failed to create preview surface")
		return
	}
	if _, err := c.opts.Mirrors.Attach(win.Handle); err != nil {
		if errors.Is(err, compositor.ErrCompositorUnavailable) {
			c.log.Warn().Uint32("window", uint32(win.Handle)).Msg("Live mirroring unavailable, showing placeholder")
		} else {
			c.log.Warn().Uint32("window", uint32(win.Handle)).Err(err).Msg("Mirror attach failed, showing placeholder")
		}
	}
	c.appendCycle(win.Identity)
	c.opts.Surfaces.Repaint(win.Handle)
}

func (c *Coordinator) layout(identity string) (config.Geometry, bool) {
	if identity == "" {
		return config.Geometry{}, false
	}
	if pending, ok := c.pendingLayouts[identity]; ok {
		return pending, true
	}
	return c.opts.Store.Layout(identity)
}

func (c *Coordinator) appendCycle(identity string) {
	if identity == "" || !c.opts.Cycle.Append(identity) {
		return
	}
	if err := c.opts.Store.AppendCycle(identity); err != nil {
		c.log.Warn().Err(err).Str("identity", identity).Msg("Failed to persist cycle order")
	}
}

// HandleCommand resolves one hotkey chord into a window activation.
func (c *Coordinator) HandleCommand(cmd hotkeys.Command) {
	if c.opts.Settings.HotkeyRequireEveFocus {
		if _, ok := c.opts.Registry.CurrentFocus(); !ok {
			return
		}
	}

	live := c.opts.Registry.Set().HasIdentity
	var identity string
	var ok bool
	if cmd == hotkeys.CyclePrev {
		identity, ok = c.opts.Cycle.Prev(live)
	} else {
		identity, ok = c.opts.Cycle.Next(live)
	}
	if !ok {
		return
	}

	handle, ok := c.opts.Registry.Set().HandleForIdentity(identity)
	if !ok {
		return
	}
	if c.Activate(handle) {
		// Track the new focus locally so a rapid second chord cycles from
		// here even before the FocusIn event arrives.
		c.opts.Cycle.SetFocus(identity)
	}
}

// Activate brings a client window to the foreground, minimizing the
// previously focused client when configured. Used by both hotkey cycling
// and click-to-focus.
func (c *Coordinator) Activate(handle xproto.Window) bool {
	if c.opts.Settings.MinimizeClientsOnSwitch {
		if focused, ok := c.opts.Registry.Set().Focused(); ok && focused.Handle != handle {
			if err := c.opts.Registry.Iconify(focused.Handle); err != nil {
				c.log.Debug().Uint32("window", uint32(focused.Handle)).Err(err).Msg("Minimize on switch failed")
			}
		}
	}
	if err := c.opts.Registry.Activate(handle); err != nil {
		if errors.Is(err, registry.ErrWindowGone) {
			c.log.Debug().Uint32("window", uint32(handle)).Msg("Activation target vanished")
			c.ApplyEvents(c.opts.Registry.Set().Remove(handle))
		} else {
			c.log.Warn().Uint32("window", uint32(handle)).Err(err).Msg("Window activation failed")
		}
		return false
	}
	return true
}

// CommitGeometry queues a drag-release placement for deferred persistence.
// Logged-out clients (empty identity) stay session-only.
func (c *Coordinator) CommitGeometry(identity string, _ xproto.Window, geom config.Geometry) {
	if identity == "" {
		return
	}
	c.pendingLayouts[identity] = geom
}

func (c *Coordinator) flushLayouts() {
	for identity, geom := range c.pendingLayouts {
		if err := c.opts.Store.SaveLayout(identity, geom); err != nil {
			c.log.Warn().Err(err).Str("identity", identity).Msg("Layout write failed, will retry")
			continue
		}
		delete(c.pendingLayouts, identity)
	}
}
