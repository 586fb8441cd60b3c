// Package preview owns the on-screen thumbnail widgets: one override-redirect
// window per EVE client, painted from the client's live mirror plus a
// decoration overlay, draggable with snap and clickable to focus.
package preview

import (
	"fmt"

	"github.com/BurntSushi/xgb/render"
	"github.com/BurntSushi/xgb/xproto"

	"github.com/eve-tools/eve-preview/internal/compositor"
	"github.com/eve-tools/eve-preview/internal/config"
	"github.com/eve-tools/eve-preview/internal/overlay"
	"github.com/eve-tools/eve-preview/internal/xutil"
)

const wmClass = "eve-preview\x00eve-preview\x00"

// Surface is one preview widget bound to a single EVE client window.
type Surface struct {
	x *xutil.Context

	window  xproto.Window
	picture render.Picture

	overlayPixmap  xproto.Pixmap
	overlayPicture render.Picture
	overlayGC      xproto.Gcontext

	source    xproto.Window
	identity  string
	geometry  config.Geometry
	focused   bool
	minimized bool
	mapped    bool

	drag dragState
}

type dragState struct {
	active  bool
	offsetX int16
	offsetY int16

	pressX int16
	pressY int16
	button xproto.Button
}

// newSurface creates the widget window at the given geometry: an
// override-redirect, always-on-top window the window manager leaves alone.
func newSurface(x *xutil.Context, target xproto.Window, identity string, geom config.Geometry, opacity uint8) (*Surface, error) {
	wid, err := xproto.NewWindowId(x.Conn)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate window id: %w", err)
	}

	err = xproto.CreateWindowChecked(
		x.Conn,
		x.Screen.RootDepth,
		wid,
		x.Root,
		geom.X, geom.Y, geom.Width, geom.Height,
		0,
		xproto.WindowClassInputOutput,
		x.Screen.RootVisual,
		xproto.CwBackPixel|xproto.CwOverrideRedirect|xproto.CwEventMask,
		[]uint32{
			0x000000,
			1,
			xproto.EventMaskButtonPress |
				xproto.EventMaskButtonRelease |
				xproto.EventMaskPointerMotion |
				xproto.EventMaskExposure,
		},
	).Check()
	if err != nil {
		return nil, fmt.Errorf("failed to create preview window: %w", err)
	}

	xproto.ChangeProperty(x.Conn, xproto.PropModeReplace, wid, xproto.AtomWmClass,
		xproto.AtomString, 8, uint32(len(wmClass)), []byte(wmClass))
	x.ChangeCardinalProperty(wid, x.Atoms.NetWMWindowOpacity, config.OpacityCardinal(opacity))
	x.ChangeAtomProperty(wid, x.Atoms.NetWMState, x.Atoms.NetWMStateAbove)

	s := &Surface{
		x:        x,
		window:   wid,
		source:   target,
		identity: identity,
		geometry: geom,
	}
	s.setTitle()

	if x.RenderAvailable {
		if err := s.createPictures(); err != nil {
			s.destroy()
			return nil, err
		}
	}

	return s, nil
}

func (s *Surface) setTitle() {
	title := "EVE Preview"
	if s.identity != "" {
		title = "EVE Preview - " + s.identity
	}
	xproto.ChangeProperty(s.x.Conn, xproto.PropModeReplace, s.window, s.x.Atoms.NetWMName,
		s.x.Atoms.UTF8String, 8, uint32(len(title)), []byte(title))
}

// createPictures builds the destination picture on the widget window and
// the depth-32 overlay pixmap the decoration is uploaded into.
func (s *Surface) createPictures() error {
	winFormat, err := s.x.PictFormat(s.x.Screen.RootDepth, false)
	if err != nil {
		return err
	}
	pic, err := render.NewPictureId(s.x.Conn)
	if err != nil {
		return fmt.Errorf("failed to allocate picture id: %w", err)
	}
	if err := render.CreatePictureChecked(s.x.Conn, pic, xproto.Drawable(s.window), winFormat, 0, nil).Check(); err != nil {
		return fmt.Errorf("failed to create surface picture: %w", err)
	}
	s.picture = pic

	argbFormat, err := s.x.PictFormat(32, true)
	if err != nil {
		return err
	}
	pix, err := xproto.NewPixmapId(s.x.Conn)
	if err != nil {
		return fmt.Errorf("failed to allocate pixmap id: %w", err)
	}
	if err := xproto.CreatePixmapChecked(s.x.Conn, 32, pix, xproto.Drawable(s.x.Root),
		s.geometry.Width, s.geometry.Height).Check(); err != nil {
		return fmt.Errorf("failed to create overlay pixmap: %w", err)
	}
	gc, err := xproto.NewGcontextId(s.x.Conn)
	if err != nil {
		xproto.FreePixmap(s.x.Conn, pix)
		return fmt.Errorf("failed to allocate gcontext id: %w", err)
	}
	xproto.CreateGC(s.x.Conn, gc, xproto.Drawable(pix), 0, nil)

	opic, err := render.NewPictureId(s.x.Conn)
	if err != nil {
		xproto.FreeGC(s.x.Conn, gc)
		xproto.FreePixmap(s.x.Conn, pix)
		return fmt.Errorf("failed to allocate picture id: %w", err)
	}
	if err := render.CreatePictureChecked(s.x.Conn, opic, xproto.Drawable(pix), argbFormat, 0, nil).Check(); err != nil {
		xproto.FreeGC(s.x.Conn, gc)
		xproto.FreePixmap(s.x.Conn, pix)
		return fmt.Errorf("failed to create overlay picture: %w", err)
	}

	s.overlayPixmap = pix
	s.overlayGC = gc
	s.overlayPicture = opic
	return nil
}

func (s *Surface) freePictures() {
	if s.overlayPicture != 0 {
		render.FreePicture(s.x.Conn, s.overlayPicture)
		s.overlayPicture = 0
	}
	if s.overlayGC != 0 {
		xproto.FreeGC(s.x.Conn, s.overlayGC)
		s.overlayGC = 0
	}
	if s.overlayPixmap != 0 {
		xproto.FreePixmap(s.x.Conn, s.overlayPixmap)
		s.overlayPixmap = 0
	}
	if s.picture != 0 {
		render.FreePicture(s.x.Conn, s.picture)
		s.picture = 0
	}
}

func (s *Surface) destroy() {
	s.freePictures()
	xproto.DestroyWindow(s.x.Conn, s.window)
}

// Geometry returns the widget's current root-relative geometry.
func (s *Surface) Geometry() config.Geometry {
	return s.geometry
}

// Identity returns the character identity the widget is bound to.
func (s *Surface) Identity() string {
	return s.identity
}

// Source returns the bound EVE client window handle.
func (s *Surface) Source() xproto.Window {
	return s.source
}

func (s *Surface) setMapped(mapped bool) {
	if mapped == s.mapped {
		return
	}
	s.mapped = mapped
	if mapped {
		xproto.MapWindow(s.x.Conn, s.window)
		xproto.ConfigureWindow(s.x.Conn, s.window, xproto.ConfigWindowStackMode,
			[]uint32{xproto.StackModeAbove})
	} else {
		xproto.UnmapWindow(s.x.Conn, s.window)
	}
}

// move repositions the widget without resizing. Drag state, overlay and
// pictures are position independent.
func (s *Surface) move(x, y int16) {
	if x == s.geometry.X && y == s.geometry.Y {
		return
	}
	s.geometry.X = x
	s.geometry.Y = y
	xproto.ConfigureWindow(s.x.Conn, s.window, xproto.ConfigWindowX|xproto.ConfigWindowY,
		[]uint32{uint32(uint16(x)), uint32(uint16(y))})
}

// resize changes the widget's size, which invalidates the overlay pixmap.
func (s *Surface) resize(width, height uint16) error {
	if width == s.geometry.Width && height == s.geometry.Height {
		return nil
	}
	s.geometry.Width = width
	s.geometry.Height = height
	xproto.ConfigureWindow(s.x.Conn, s.window,
		xproto.ConfigWindowWidth|xproto.ConfigWindowHeight,
		[]uint32{uint32(width), uint32(height)})
	if s.x.RenderAvailable {
		s.freePictures()
		return s.createPictures()
	}
	return nil
}

// uploadOverlay rasterizes the decoration for the current state and uploads
// it to the overlay pixmap.
func (s *Surface) uploadOverlay(style overlay.Style, label string) {
	if s.overlayPixmap == 0 {
		return
	}
	img := overlay.Render(s.geometry.Width, s.geometry.Height, style, overlay.State{
		Label:     label,
		Focused:   s.focused,
		Minimized: s.minimized,
	})
	putImageChunked(s.x, s.overlayPixmap, s.overlayGC,
		s.geometry.Width, s.geometry.Height, overlay.BGRA(img))
}

// repaint composites the live mirror and the decoration into the widget.
func (s *Surface) repaint(comp *compositor.Compositor) {
	if s.picture == 0 {
		return
	}
	comp.RenderInto(s.source, s.picture, s.geometry.Width, s.geometry.Height)
	if s.overlayPicture != 0 {
		render.Composite(s.x.Conn, render.PictOpOver, s.overlayPicture, render.Picture(0), s.picture,
			0, 0, 0, 0, 0, 0, s.geometry.Width, s.geometry.Height)
	}
	comp.AcknowledgeDamage(s.source)
}

// putImageChunked uploads pixel rows in slices that stay under the server's
// maximum request length.
func putImageChunked(x *xutil.Context, pix xproto.Pixmap, gc xproto.Gcontext, width, height uint16, data []byte) {
	if width == 0 {
		return
	}
	stride := int(width) * 4
	rowsPerChunk := (1 << 16) / stride
	if rowsPerChunk < 1 {
		rowsPerChunk = 1
	}
	for row := 0; row < int(height); row += rowsPerChunk {
		rows := rowsPerChunk
		if row+rows > int(height) {
			rows = int(height) - row
		}
		xproto.PutImage(x.Conn, xproto.ImageFormatZPixmap, xproto.Drawable(pix), gc,
			width, uint16(rows), 0, int16(row), 0, 32,
			data[row*stride:(row+rows)*stride])
	}
}

// IsClick classifies a press-release pair: displacement at or below the
// threshold on both axes is a click, anything farther is a drag.
func IsClick(pressX, pressY, releaseX, releaseY int16, threshold uint16) bool {
	dx := int32(releaseX) - int32(pressX)
	if dx < 0 {
		dx = -dx
	}
	dy := int32(releaseY) - int32(pressY)
	if dy < 0 {
		dy = -dy
	}
	return dx <= int32(threshold) && dy <= int32(threshold)
}
