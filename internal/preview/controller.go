package preview

import (
	"sort"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/rs/zerolog"

	"github.com/eve-tools/eve-preview/internal/compositor"
	"github.com/eve-tools/eve-preview/internal/config"
	"github.com/eve-tools/eve-preview/internal/logger"
	"github.com/eve-tools/eve-preview/internal/overlay"
	"github.com/eve-tools/eve-preview/internal/registry"
	"github.com/eve-tools/eve-preview/internal/snap"
	"github.com/eve-tools/eve-preview/internal/xutil"
)

// Callbacks are the controller's outputs: it never talks to the registry or
// the persistence layer directly.
type Callbacks struct {
	// Activate is invoked when a click resolves to focus intent.
	Activate func(source xproto.Window)
	// CommitGeometry is invoked on drag release with the final placement.
	// Identity is empty for logged-out clients.
	CommitGeometry func(identity string, source xproto.Window, geom config.Geometry)
}

// Controller owns every preview surface and routes pointer events to them.
type Controller struct {
	x        *xutil.Context
	comp     *compositor.Compositor
	settings config.Settings
	style    overlay.Style
	screen   snap.Rect
	log      *zerolog.Logger

	callbacks Callbacks

	byWindow map[xproto.Window]*Surface
	bySource map[xproto.Window]*Surface

	// Placements for logged-out clients, keyed by window handle since they
	// have no identity to persist under. Session lifetime only.
	sessionPlacements map[xproto.Window]config.Geometry

	visible bool
}

// NewController builds the controller from the session's resolved settings.
func NewController(x *xutil.Context, comp *compositor.Compositor, settings config.Settings, cb Callbacks) *Controller {
	return &Controller{
		x:        x,
		comp:     comp,
		settings: settings,
		style:    styleFromSettings(settings),
		screen: snap.Rect{
			Width:  x.Screen.WidthInPixels,
			Height: x.Screen.HeightInPixels,
		},
		log:               logger.WithComponent("preview"),
		callbacks:         cb,
		byWindow:          make(map[xproto.Window]*Surface),
		bySource:          make(map[xproto.Window]*Surface),
		sessionPlacements: make(map[xproto.Window]config.Geometry),
		visible:           true,
	}
}

func styleFromSettings(s config.Settings) overlay.Style {
	parse := func(value string, fallback uint32) uint32 {
		c, err := config.ParseARGB(value)
		if err != nil {
			return fallback
		}
		return c
	}
	return overlay.Style{
		BorderEnabled:  s.BorderEnabled,
		BorderSize:     s.BorderSize,
		BorderColor:    parse(s.BorderColor, 0xFFFF0000),
		TextX:          s.TextX,
		TextY:          s.TextY,
		TextColor:      parse(s.TextColor, 0xFFFFFFFF),
		TextBackground: parse(s.TextBackground, 0xFF000000),
	}
}

// Create instantiates the surface for a newly registered window at its
// persisted placement, or the default size when none is known.
func (c *Controller) Create(target registry.TargetWindow, persisted config.Geometry, hasPersisted bool) error {
	if _, ok := c.bySource[target.Handle]; ok {
		return nil
	}

	// No persisted placement: default size, centered over the client.
	geom := config.Geometry{
		X:      target.Geometry.X + int16(target.Geometry.Width/2) - int16(c.settings.DefaultWidth/2),
		Y:      target.Geometry.Y + int16(target.Geometry.Height/2) - int16(c.settings.DefaultHeight/2),
		Width:  c.settings.DefaultWidth,
		Height: c.settings.DefaultHeight,
	}
	if geom.X < 0 {
		geom.X = 0
	}
	if geom.Y < 0 {
		geom.Y = 0
	}
	if hasPersisted {
		geom = persisted
	} else if target.Identity == "" {
		if remembered, ok := c.sessionPlacements[target.Handle]; ok {
			geom = remembered
		}
	}

	s, err := newSurface(c.x, target.Handle, target.Identity, geom, c.settings.OpacityPercent)
	if err != nil {
		return err
	}
	s.focused = target.Focused
	s.minimized = target.Minimized

	c.byWindow[s.window] = s
	c.bySource[target.Handle] = s

	s.uploadOverlay(c.style, s.identity)
	s.setMapped(c.visible)
	s.repaint(c.comp)

	c.log.Info().
		Uint32("window", uint32(target.Handle)).
		Str("identity", target.Identity).
		Int("x", int(geom.X)).Int("y", int(geom.Y)).
		Msg("Preview surface created")
	return nil
}

// Destroy tears down the surface bound to a departed window.
func (c *Controller) Destroy(source xproto.Window) {
	s, ok := c.bySource[source]
	if !ok {
		return
	}
	if s.identity == "" {
		c.sessionPlacements[source] = s.geometry
	}
	delete(c.byWindow, s.window)
	delete(c.bySource, source)
	s.destroy()
}

// Rename rebinds a surface's identity after a title change, typically a
// character login completing on a logged-out client.
func (c *Controller) Rename(source xproto.Window, identity string, persisted config.Geometry, hasPersisted bool) {
	s, ok := c.bySource[source]
	if !ok {
		return
	}
	s.identity = identity
	s.setTitle()
	if hasPersisted {
		s.move(persisted.X, persisted.Y)
		if err := s.resize(persisted.Width, persisted.Height); err != nil {
			c.log.Warn().Err(err).Uint32("window", uint32(source)).Msg("Failed to resize preview surface")
		}
	}
	s.uploadOverlay(c.style, s.identity)
	s.repaint(c.comp)
}

// SetFocused updates a surface's border state.
func (c *Controller) SetFocused(source xproto.Window, focused bool) {
	s, ok := c.bySource[source]
	if !ok || s.focused == focused {
		return
	}
	s.focused = focused
	s.uploadOverlay(c.style, s.identity)
	s.repaint(c.comp)
}

// SetMinimized toggles the placeholder state of a surface.
func (c *Controller) SetMinimized(source xproto.Window, minimized bool) {
	s, ok := c.bySource[source]
	if !ok || s.minimized == minimized {
		return
	}
	s.minimized = minimized
	s.uploadOverlay(c.style, s.identity)
	s.repaint(c.comp)
}

// SetAllVisible maps or unmaps every surface. Hidden surfaces keep their
// geometry and drag state.
func (c *Controller) SetAllVisible(visible bool) {
	if c.visible == visible {
		return
	}
	c.visible = visible
	for _, s := range c.byWindow {
		s.setMapped(visible)
		if visible {
			s.repaint(c.comp)
		}
	}
}

// Visible reports the shared visibility state.
func (c *Controller) Visible() bool {
	return c.visible
}

// Repaint refreshes the surface bound to a source window, if any.
func (c *Controller) Repaint(source xproto.Window) {
	if s, ok := c.bySource[source]; ok && c.visible {
		s.repaint(c.comp)
	}
}

// RepaintAll refreshes every visible surface.
func (c *Controller) RepaintAll() {
	if !c.visible {
		return
	}
	for _, s := range c.byWindow {
		s.repaint(c.comp)
	}
}

// OwnsWindow reports whether an X window id is one of our widgets, so the
// event loop can route pointer events here.
func (c *Controller) OwnsWindow(win xproto.Window) bool {
	_, ok := c.byWindow[win]
	return ok
}

// HandleButtonPress starts click tracking on the left button and a drag on
// the right button.
func (c *Controller) HandleButtonPress(e xproto.ButtonPressEvent) {
	s, ok := c.byWindow[e.Event]
	if !ok {
		return
	}
	s.drag.button = e.Detail
	s.drag.pressX = e.RootX
	s.drag.pressY = e.RootY
	if e.Detail == xproto.ButtonIndex3 {
		s.drag.active = true
		s.drag.offsetX = e.RootX - s.geometry.X
		s.drag.offsetY = e.RootY - s.geometry.Y
	}
}

// HandleMotion repositions a dragged surface live, with snap resolution
// against the other surfaces and the screen boundary.
func (c *Controller) HandleMotion(e xproto.MotionNotifyEvent) {
	s, ok := c.byWindow[e.Event]
	if !ok || !s.drag.active {
		return
	}
	x := e.RootX - s.drag.offsetX
	y := e.RootY - s.drag.offsetY

	dragged := snap.Rect{X: x, Y: y, Width: s.geometry.Width, Height: s.geometry.Height}
	x, y = snap.Resolve(dragged, c.otherRects(s), c.screen, c.settings.SnapThreshold)
	s.move(x, y)
}

// HandleButtonRelease finishes a click or commits a drag.
func (c *Controller) HandleButtonRelease(e xproto.ButtonReleaseEvent) {
	s, ok := c.byWindow[e.Event]
	if !ok {
		return
	}

	switch e.Detail {
	case xproto.ButtonIndex1:
		if IsClick(s.drag.pressX, s.drag.pressY, e.RootX, e.RootY, c.settings.ClickThreshold) {
			if c.callbacks.Activate != nil {
				c.callbacks.Activate(s.source)
			}
		}
	case xproto.ButtonIndex3:
		if !s.drag.active {
			return
		}
		s.drag.active = false
		if s.identity == "" {
			c.sessionPlacements[s.source] = s.geometry
		}
		if c.callbacks.CommitGeometry != nil {
			c.callbacks.CommitGeometry(s.identity, s.source, s.geometry)
		}
	}
}

// HandleExpose repaints a surface after the server invalidated it.
func (c *Controller) HandleExpose(e xproto.ExposeEvent) {
	if s, ok := c.byWindow[e.Window]; ok && e.Count == 0 {
		s.repaint(c.comp)
	}
}

// otherRects returns every other surface's rect in ascending window-id
// order, which fixes the snap candidate evaluation order.
func (c *Controller) otherRects(dragged *Surface) []snap.Rect {
	ids := make([]xproto.Window, 0, len(c.byWindow))
	for id := range c.byWindow {
		if id != dragged.window {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	rects := make([]snap.Rect, 0, len(ids))
	for _, id := range ids {
		g := c.byWindow[id].geometry
		rects = append(rects, snap.Rect{X: g.X, Y: g.Y, Width: g.Width, Height: g.Height})
	}
	return rects
}

// Close destroys every surface.
func (c *Controller) Close() {
	for source := range c.bySource {
		c.Destroy(source)
	}
}
