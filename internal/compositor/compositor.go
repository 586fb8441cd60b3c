// Package compositor maintains live pixel mirrors of EVE client windows
// using the Composite, Damage and Render extensions. A mirror is a named
// window pixmap wrapped in a render picture; the X server keeps the pixmap
// current, damage events tell us when to repaint, and no frame is ever
// copied through the client.
package compositor

import (
	"errors"
	"fmt"

	"github.com/BurntSushi/xgb/composite"
	"github.com/BurntSushi/xgb/damage"
	"github.com/BurntSushi/xgb/render"
	"github.com/BurntSushi/xgb/xfixes"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/rs/zerolog"

	"github.com/eve-tools/eve-preview/internal/logger"
	"github.com/eve-tools/eve-preview/internal/xutil"
)

// ErrCompositorUnavailable reports that the X server lacks the extensions
// live mirroring needs. Affected windows fall back to placeholder
// rendering; the daemon keeps running.
var ErrCompositorUnavailable = errors.New("compositor primitives unavailable")

// Mirror is the live-linked compositing resource for one source window.
type Mirror struct {
	source  xproto.Window
	pixmap  xproto.Pixmap
	picture render.Picture
	damage  damage.Damage
	width   uint16
	height  uint16
	live    bool
}

// Live reports whether the mirror currently has a usable pixmap.
func (m *Mirror) Live() bool {
	return m.live
}

// Compositor owns every Mirror, keyed by source window.
type Compositor struct {
	x   *xutil.Context
	log *zerolog.Logger

	mirrors     map[xproto.Window]*Mirror
	byDamage    map[damage.Damage]xproto.Window
	placeholder render.Picture
}

// New creates the compositor and its shared placeholder fill. Callable even
// when the server lacks the mirroring extensions; Attach then fails per
// window with ErrCompositorUnavailable and RenderInto paints placeholders.
func New(x *xutil.Context) (*Compositor, error) {
	c := &Compositor{
		x:        x,
		log:      logger.WithComponent("compositor"),
		mirrors:  make(map[xproto.Window]*Mirror),
		byDamage: make(map[damage.Damage]xproto.Window),
	}

	if x.RenderAvailable {
		pid, err := render.NewPictureId(x.Conn)
		if err != nil {
			return nil, fmt.Errorf("failed to allocate placeholder picture: %w", err)
		}
		// Dark neutral fill, clearly "no content" rather than stale pixels.
		render.CreateSolidFill(x.Conn, pid, render.Color{
			Red: 0x1818, Green: 0x1818, Blue: 0x1818, Alpha: 0xFFFF,
		})
		c.placeholder = pid
	}

	return c, nil
}

// Attach begins mirroring a window. The source is redirected offscreen,
// its backing pixmap named and wrapped in a picture, and a damage object
// created so content changes surface as events.
func (c *Compositor) Attach(source xproto.Window) (*Mirror, error) {
	if !c.x.MirroringAvailable() {
		return nil, ErrCompositorUnavailable
	}
	if m, ok := c.mirrors[source]; ok {
		return m, nil
	}

	if err := composite.RedirectWindowChecked(c.x.Conn, source, composite.RedirectAutomatic).Check(); err != nil {
		return nil, fmt.Errorf("failed to redirect window %d: %w", source, err)
	}

	m := &Mirror{source: source}
	if err := c.bind(m); err != nil {
		// Source may be unmapped (minimized); keep the mirror attached so
		// Resume can bind once the window maps again.
		c.log.Debug().Uint32("window", uint32(source)).Err(err).Msg("Mirror attached without live pixmap")
	}

	dmg, err := damage.NewDamageId(c.x.Conn)
	if err != nil {
		c.release(m)
		composite.UnredirectWindow(c.x.Conn, source, composite.RedirectAutomatic)
		return nil, fmt.Errorf("failed to allocate damage id: %w", err)
	}
	if err := damage.CreateChecked(c.x.Conn, dmg, xproto.Drawable(source), damage.ReportLevelRawRectangles).Check(); err != nil {
		c.release(m)
		composite.UnredirectWindow(c.x.Conn, source, composite.RedirectAutomatic)
		return nil, fmt.Errorf("failed to create damage for window %d: %w", source, err)
	}
	m.damage = dmg

	c.mirrors[source] = m
	c.byDamage[dmg] = source
	return m, nil
}

// bind names the source's current backing pixmap and wraps it in a picture.
// Called on attach and again after every source resize or remap, since the
// named pixmap is a snapshot of the backing store identity.
func (c *Compositor) bind(m *Mirror) error {
	pixmap, err := xproto.NewPixmapId(c.x.Conn)
	if err != nil {
		return fmt.Errorf("failed to allocate pixmap id: %w", err)
	}
	if err := composite.NameWindowPixmapChecked(c.x.Conn, m.source, pixmap).Check(); err != nil {
		return fmt.Errorf("failed to name window pixmap: %w", err)
	}

	geom, err := xproto.GetGeometry(c.x.Conn, xproto.Drawable(pixmap)).Reply()
	if err != nil {
		xproto.FreePixmap(c.x.Conn, pixmap)
		return fmt.Errorf("failed to measure window pixmap: %w", err)
	}

	format, err := c.x.PictFormat(geom.Depth, false)
	if err != nil {
		xproto.FreePixmap(c.x.Conn, pixmap)
		return err
	}

	pic, err := render.NewPictureId(c.x.Conn)
	if err != nil {
		xproto.FreePixmap(c.x.Conn, pixmap)
		return fmt.Errorf("failed to allocate picture id: %w", err)
	}
	if err := render.CreatePictureChecked(c.x.Conn, pic, xproto.Drawable(pixmap), format, 0, nil).Check(); err != nil {
		xproto.FreePixmap(c.x.Conn, pixmap)
		return fmt.Errorf("failed to create source picture: %w", err)
	}

	m.pixmap = pixmap
	m.picture = pic
	m.width = geom.Width
	m.height = geom.Height
	m.live = true
	return nil
}

// release frees the pixmap-side resources but keeps the mirror and its
// damage object, so a suspended mirror still reports damage on remap.
func (c *Compositor) release(m *Mirror) {
	if m.picture != 0 {
		render.FreePicture(c.x.Conn, m.picture)
		m.picture = 0
	}
	if m.pixmap != 0 {
		xproto.FreePixmap(c.x.Conn, m.pixmap)
		m.pixmap = 0
	}
	m.live = false
}

// Detach stops mirroring a window and frees every server resource. Safe to
// call for windows that were never attached or that already closed; the
// unredirect of a destroyed window fails harmlessly.
func (c *Compositor) Detach(source xproto.Window) {
	m, ok := c.mirrors[source]
	if !ok {
		return
	}
	if m.damage != 0 {
		damage.Destroy(c.x.Conn, m.damage)
		delete(c.byDamage, m.damage)
	}
	c.release(m)
	composite.UnredirectWindow(c.x.Conn, source, composite.RedirectAutomatic)
	delete(c.mirrors, source)
}

// Suspend drops the live pixmap while keeping the mirror, used when the
// source unmaps (minimize). RenderInto paints the placeholder until Resume.
func (c *Compositor) Suspend(source xproto.Window) {
	if m, ok := c.mirrors[source]; ok {
		c.release(m)
	}
}

// Resume re-binds the source's backing pixmap after a remap or resize.
func (c *Compositor) Resume(source xproto.Window) error {
	m, ok := c.mirrors[source]
	if !ok {
		return fmt.Errorf("no mirror for window %d", source)
	}
	c.release(m)
	return c.bind(m)
}

// SourceForDamage resolves a damage event back to the mirrored window.
func (c *Compositor) SourceForDamage(d damage.Damage) (xproto.Window, bool) {
	win, ok := c.byDamage[d]
	return win, ok
}

// RenderInto scales the mirror's current content into the destination
// picture. A mirror that is missing, suspended or zero-area paints the
// placeholder fill instead, never an error and never stale pixels.
func (c *Compositor) RenderInto(source xproto.Window, dst render.Picture, width, height uint16) {
	if width == 0 || height == 0 {
		return
	}
	m, ok := c.mirrors[source]
	if !ok || !m.live || m.width == 0 || m.height == 0 {
		if c.placeholder != 0 {
			render.Composite(c.x.Conn, render.PictOpSrc, c.placeholder, render.Picture(0), dst,
				0, 0, 0, 0, 0, 0, width, height)
		}
		return
	}

	sx := float64(m.width) / float64(width)
	sy := float64(m.height) / float64(height)
	render.SetPictureTransform(c.x.Conn, m.picture, render.Transform{
		Matrix11: xutil.ToFixed(sx),
		Matrix22: xutil.ToFixed(sy),
		Matrix33: xutil.ToFixed(1),
	})
	filter := "bilinear"
	render.SetPictureFilter(c.x.Conn, m.picture, uint16(len(filter)), filter, nil)
	render.Composite(c.x.Conn, render.PictOpSrc, m.picture, render.Picture(0), dst,
		0, 0, 0, 0, 0, 0, width, height)
}

// AcknowledgeDamage clears the accumulated damage region after a repaint so
// the server reports the next content change.
func (c *Compositor) AcknowledgeDamage(source xproto.Window) {
	m, ok := c.mirrors[source]
	if !ok || m.damage == 0 {
		return
	}
	damage.Subtract(c.x.Conn, m.damage, xfixes.Region(0), xfixes.Region(0))
}

// Close detaches every mirror and frees the placeholder.
func (c *Compositor) Close() {
	for source := range c.mirrors {
		c.Detach(source)
	}
	if c.placeholder != 0 {
		render.FreePicture(c.x.Conn, c.placeholder)
		c.placeholder = 0
	}
}
