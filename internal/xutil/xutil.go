// Package xutil owns the process-wide X11 connection and the plumbing every
// other component shares: cached atoms, pictformat lookup and EWMH requests.
// Exactly one Context exists per process; components receive it, they never
// dial their own connection.
package xutil

import (
	"encoding/binary"
	"fmt"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/composite"
	"github.com/BurntSushi/xgb/damage"
	"github.com/BurntSushi/xgb/render"
	"github.com/BurntSushi/xgb/xproto"

	"github.com/eve-tools/eve-preview/internal/logger"
)

// Atoms are interned once at dial time to avoid per-request roundtrips.
type Atoms struct {
	WMName             xproto.Atom
	NetWMName          xproto.Atom
	NetWMPID           xproto.Atom
	NetWMState         xproto.Atom
	NetWMStateHidden   xproto.Atom
	NetWMStateAbove    xproto.Atom
	NetActiveWindow    xproto.Atom
	NetClientList      xproto.Atom
	NetWMWindowOpacity xproto.Atom
	WMChangeState      xproto.Atom
	UTF8String         xproto.Atom
}

// Context is the shared X11 state: connection, default screen and cached
// atoms, plus which of the mirroring extensions the server offers.
type Context struct {
	Conn   *xgb.Conn
	Screen *xproto.ScreenInfo
	Root   xproto.Window
	Atoms  Atoms

	CompositeAvailable bool
	DamageAvailable    bool
	RenderAvailable    bool
}

// Dial connects to the X server, initializes the Composite, Damage and
// Render extensions and caches the atoms the daemon uses. Only the
// connection itself is mandatory; a missing extension degrades per-window
// mirroring, never startup.
func Dial() (*Context, error) {
	log := logger.WithComponent("xutil")

	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	ctx := &Context{
		Conn:   conn,
		Screen: screen,
		Root:   screen.Root,
	}

	if err := composite.Init(conn); err != nil {
		log.Warn().Err(err).Msg("Composite extension not available, mirrors will render placeholders")
	} else {
		ctx.CompositeAvailable = true
	}
	if err := damage.Init(conn); err != nil {
		log.Warn().Err(err).Msg("Damage extension not available, mirrors will render placeholders")
	} else {
		if _, err := damage.QueryVersion(conn, 1, 1).Reply(); err != nil {
			log.Warn().Err(err).Msg("Damage version negotiation failed")
		} else {
			ctx.DamageAvailable = true
		}
	}
	if err := render.Init(conn); err != nil {
		log.Warn().Err(err).Msg("Render extension not available, mirrors will render placeholders")
	} else {
		ctx.RenderAvailable = true
	}

	if err := ctx.internAtoms(); err != nil {
		conn.Close()
		return nil, err
	}

	log.Info().
		Int("screen_width", int(screen.WidthInPixels)).
		Int("screen_height", int(screen.HeightInPixels)).
		Bool("composite", ctx.CompositeAvailable).
		Bool("damage", ctx.DamageAvailable).
		Bool("render", ctx.RenderAvailable).
		Msg("Connected to X server")

	return ctx, nil
}

// Close closes the X connection.
func (c *Context) Close() {
	c.Conn.Close()
}

// MirroringAvailable reports whether the server offers every extension the
// live mirror path needs.
func (c *Context) MirroringAvailable() bool {
	return c.CompositeAvailable && c.DamageAvailable && c.RenderAvailable
}

func (c *Context) internAtoms() error {
	intern := func(name string) (xproto.Atom, error) {
		reply, err := xproto.InternAtom(c.Conn, false, uint16(len(name)), name).Reply()
		if err != nil {
			return 0, fmt.Errorf("failed to intern atom %s: %w", name, err)
		}
		return reply.Atom, nil
	}

	var err error
	pairs := []struct {
		dst  *xproto.Atom
		name string
	}{
		{&c.Atoms.WMName, "WM_NAME"},
		{&c.Atoms.NetWMName, "_NET_WM_NAME"},
		{&c.Atoms.NetWMPID, "_NET_WM_PID"},
		{&c.Atoms.NetWMState, "_NET_WM_STATE"},
		{&c.Atoms.NetWMStateHidden, "_NET_WM_STATE_HIDDEN"},
		{&c.Atoms.NetWMStateAbove, "_NET_WM_STATE_ABOVE"},
		{&c.Atoms.NetActiveWindow, "_NET_ACTIVE_WINDOW"},
		{&c.Atoms.NetClientList, "_NET_CLIENT_LIST"},
		{&c.Atoms.NetWMWindowOpacity, "_NET_WM_WINDOW_OPACITY"},
		{&c.Atoms.WMChangeState, "WM_CHANGE_STATE"},
		{&c.Atoms.UTF8String, "UTF8_STRING"},
	}
	for _, p := range pairs {
		if *p.dst, err = intern(p.name); err != nil {
			return err
		}
	}
	return nil
}

// PropertyString gets a property value as a string.
func (c *Context) PropertyString(win xproto.Window, atom xproto.Atom) (string, error) {
	reply, err := xproto.GetProperty(
		c.Conn,
		false,
		win,
		atom,
		xproto.GetPropertyTypeAny,
		0,
		(1<<32)-1,
	).Reply()
	if err != nil {
		return "", err
	}
	if reply.ValueLen == 0 {
		return "", fmt.Errorf("empty property")
	}
	return string(reply.Value), nil
}

// PropertyWindows parses a WINDOW[] property (e.g. _NET_CLIENT_LIST).
func (c *Context) PropertyWindows(win xproto.Window, atom xproto.Atom) ([]xproto.Window, error) {
	reply, err := xproto.GetProperty(
		c.Conn,
		false,
		win,
		atom,
		xproto.AtomWindow,
		0,
		(1<<32)-1,
	).Reply()
	if err != nil {
		return nil, err
	}
	windows := make([]xproto.Window, 0, len(reply.Value)/4)
	for i := 0; i+4 <= len(reply.Value); i += 4 {
		windows = append(windows, xproto.Window(binary.LittleEndian.Uint32(reply.Value[i:])))
	}
	return windows, nil
}

// PropertyAtoms parses an ATOM[] property (e.g. _NET_WM_STATE).
func (c *Context) PropertyAtoms(win xproto.Window, atom xproto.Atom) ([]xproto.Atom, error) {
	reply, err := xproto.GetProperty(
		c.Conn,
		false,
		win,
		atom,
		xproto.AtomAtom,
		0,
		(1<<32)-1,
	).Reply()
	if err != nil {
		return nil, err
	}
	atoms := make([]xproto.Atom, 0, len(reply.Value)/4)
	for i := 0; i+4 <= len(reply.Value); i += 4 {
		atoms = append(atoms, xproto.Atom(binary.LittleEndian.Uint32(reply.Value[i:])))
	}
	return atoms, nil
}

// PropertyCardinal reads the first 32-bit CARDINAL of a property.
func (c *Context) PropertyCardinal(win xproto.Window, atom xproto.Atom) (uint32, error) {
	reply, err := xproto.GetProperty(
		c.Conn,
		false,
		win,
		atom,
		xproto.AtomCardinal,
		0,
		1,
	).Reply()
	if err != nil {
		return 0, err
	}
	if len(reply.Value) < 4 {
		return 0, fmt.Errorf("empty property")
	}
	return binary.LittleEndian.Uint32(reply.Value), nil
}

// WindowTitle reads a window's title, preferring _NET_WM_NAME over WM_NAME.
func (c *Context) WindowTitle(win xproto.Window) (string, error) {
	if title, err := c.PropertyString(win, c.Atoms.NetWMName); err == nil && title != "" {
		return title, nil
	}
	return c.PropertyString(win, c.Atoms.WMName)
}

// ChangeCardinalProperty replaces a 32-bit CARDINAL property on a window.
func (c *Context) ChangeCardinalProperty(win xproto.Window, atom xproto.Atom, value uint32) {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, value)
	xproto.ChangeProperty(c.Conn, xproto.PropModeReplace, win, atom,
		xproto.AtomCardinal, 32, 1, data)
}

// ChangeAtomProperty replaces an ATOM property on a window.
func (c *Context) ChangeAtomProperty(win xproto.Window, atom xproto.Atom, value xproto.Atom) {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, uint32(value))
	xproto.ChangeProperty(c.Conn, xproto.PropModeReplace, win, atom,
		xproto.AtomAtom, 32, 1, data)
}

// ActivateWindow raises a window and asks the window manager to focus it via
// _NET_ACTIVE_WINDOW. Source indication 2 marks a direct user action, which
// window managers honor over application-initiated requests.
func (c *Context) ActivateWindow(win xproto.Window) error {
	if err := xproto.ConfigureWindowChecked(
		c.Conn,
		win,
		xproto.ConfigWindowStackMode,
		[]uint32{xproto.StackModeAbove},
	).Check(); err != nil {
		return fmt.Errorf("failed to raise window %d: %w", win, err)
	}

	ev := xproto.ClientMessageEvent{
		Format: 32,
		Window: win,
		Type:   c.Atoms.NetActiveWindow,
		Data:   xproto.ClientMessageDataUnionData32New([]uint32{2, 0, 0, 0, 0}),
	}
	if err := xproto.SendEventChecked(
		c.Conn,
		false,
		c.Root,
		xproto.EventMaskSubstructureNotify|xproto.EventMaskSubstructureRedirect,
		string(ev.Bytes()),
	).Check(); err != nil {
		return fmt.Errorf("failed to activate window %d: %w", win, err)
	}
	return nil
}

// IconifyWindow asks the window manager to minimize a window
// (WM_CHANGE_STATE with IconicState).
func (c *Context) IconifyWindow(win xproto.Window) error {
	const iconicState = 3
	ev := xproto.ClientMessageEvent{
		Format: 32,
		Window: win,
		Type:   c.Atoms.WMChangeState,
		Data:   xproto.ClientMessageDataUnionData32New([]uint32{iconicState, 0, 0, 0, 0}),
	}
	return xproto.SendEventChecked(
		c.Conn,
		false,
		c.Root,
		xproto.EventMaskSubstructureNotify|xproto.EventMaskSubstructureRedirect,
		string(ev.Bytes()),
	).Check()
}

// PictFormat finds a render pictformat with the requested depth, with or
// without an alpha channel.
func (c *Context) PictFormat(depth byte, alpha bool) (render.Pictformat, error) {
	reply, err := render.QueryPictFormats(c.Conn).Reply()
	if err != nil {
		return 0, fmt.Errorf("failed to query pict formats: %w", err)
	}
	for _, format := range reply.Formats {
		if format.Depth != depth {
			continue
		}
		if alpha == (format.Direct.AlphaMask != 0) {
			return format.Id, nil
		}
	}
	return 0, fmt.Errorf("no pictformat with depth %d (alpha=%v)", depth, alpha)
}

// ToFixed converts a float scale factor to the 16.16 fixed-point format the
// Render extension uses for transforms.
func ToFixed(v float64) render.Fixed {
	return render.Fixed(v * 65536.0)
}
