package session

import (
	"errors"
	"testing"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/damage"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/stretchr/testify/require"

	"github.com/eve-tools/eve-preview/internal/compositor"
	"github.com/eve-tools/eve-preview/internal/config"
	"github.com/eve-tools/eve-preview/internal/cycle"
	"github.com/eve-tools/eve-preview/internal/hotkeys"
	"github.com/eve-tools/eve-preview/internal/registry"
)

type fakeRegistry struct {
	set        *registry.Set
	focused    bool
	activated  []xproto.Window
	iconified  []xproto.Window
	activateErr error
}

func (f *fakeRegistry) Reconcile() ([]registry.Event, error)       { return nil, nil }
func (f *fakeRegistry) ProcessEvent(xgb.Event) []registry.Event    { return nil }
func (f *fakeRegistry) CurrentFocus() (xproto.Window, bool)        { return 0, f.focused }
func (f *fakeRegistry) Set() *registry.Set                         { return f.set }
func (f *fakeRegistry) Iconify(handle xproto.Window) error {
	f.iconified = append(f.iconified, handle)
	return nil
}
func (f *fakeRegistry) Activate(handle xproto.Window) error {
	if f.activateErr != nil {
		return f.activateErr
	}
	f.activated = append(f.activated, handle)
	return nil
}

type fakeSurfaces struct {
	created   []xproto.Window
	destroyed []xproto.Window
	visible   bool
	focused   map[xproto.Window]bool
	minimized map[xproto.Window]bool
}

func newFakeSurfaces() *fakeSurfaces {
	return &fakeSurfaces{
		visible:   true,
		focused:   make(map[xproto.Window]bool),
		minimized: make(map[xproto.Window]bool),
	}
}

func (f *fakeSurfaces) Create(target registry.TargetWindow, _ config.Geometry, _ bool) error {
	f.created = append(f.created, target.Handle)
	return nil
}
func (f *fakeSurfaces) Destroy(source xproto.Window) { f.destroyed = append(f.destroyed, source) }
func (f *fakeSurfaces) Rename(xproto.Window, string, config.Geometry, bool) {}
func (f *fakeSurfaces) SetFocused(source xproto.Window, focused bool)       { f.focused[source] = focused }
func (f *fakeSurfaces) SetMinimized(source xproto.Window, minimized bool)   { f.minimized[source] = minimized }
func (f *fakeSurfaces) SetAllVisible(visible bool)                          { f.visible = visible }
func (f *fakeSurfaces) Visible() bool                                       { return f.visible }
func (f *fakeSurfaces) Repaint(xproto.Window)                               {}
func (f *fakeSurfaces) HandleButtonPress(xproto.ButtonPressEvent)           {}
func (f *fakeSurfaces) HandleMotion(xproto.MotionNotifyEvent)               {}
func (f *fakeSurfaces) HandleButtonRelease(xproto.ButtonReleaseEvent)       {}
func (f *fakeSurfaces) HandleExpose(xproto.ExposeEvent)                     {}

type fakeMirrors struct {
	attached  []xproto.Window
	detached  []xproto.Window
	suspended []xproto.Window
	resumed   []xproto.Window
}

func (f *fakeMirrors) Attach(source xproto.Window) (*compositor.Mirror, error) {
	f.attached = append(f.attached, source)
	return nil, nil
}
func (f *fakeMirrors) Detach(source xproto.Window)  { f.detached = append(f.detached, source) }
func (f *fakeMirrors) Suspend(source xproto.Window) { f.suspended = append(f.suspended, source) }
func (f *fakeMirrors) Resume(source xproto.Window) error {
	f.resumed = append(f.resumed, source)
	return nil
}
func (f *fakeMirrors) SourceForDamage(damage.Damage) (xproto.Window, bool) { return 0, false }

type fakeStore struct {
	layouts     map[string]config.Geometry
	cycleOrder  []string
	saveFailure error
}

func newFakeStore() *fakeStore {
	return &fakeStore{layouts: make(map[string]config.Geometry)}
}

func (f *fakeStore) Layout(identity string) (config.Geometry, bool) {
	g, ok := f.layouts[identity]
	return g, ok
}
func (f *fakeStore) SaveLayout(identity string, g config.Geometry) error {
	if f.saveFailure != nil {
		return f.saveFailure
	}
	f.layouts[identity] = g
	return nil
}
func (f *fakeStore) AppendCycle(identity string) error {
	f.cycleOrder = append(f.cycleOrder, identity)
	return nil
}

type fixture struct {
	coord    *Coordinator
	reg      *fakeRegistry
	surfaces *fakeSurfaces
	mirrors  *fakeMirrors
	store    *fakeStore
	cyc      *cycle.Engine
}

func newFixture(settings config.Settings, order []string) *fixture {
	f := &fixture{
		reg:      &fakeRegistry{set: registry.NewSet()},
		surfaces: newFakeSurfaces(),
		mirrors:  &fakeMirrors{},
		store:    newFakeStore(),
		cyc:      cycle.New(order),
	}
	f.coord = New(nil, Options{
		Settings: settings,
		Store:    f.store,
		Registry: f.reg,
		Surfaces: f.surfaces,
		Mirrors:  f.mirrors,
		Cycle:    f.cyc,
	})
	return f
}

func (f *fixture) addWindow(handle xproto.Window, title string) {
	identity, _ := registry.MatchTitle(title, "EVE - ")
	events := f.reg.set.Reconcile(append(f.observations(), registry.Observation{
		Handle:   handle,
		Identity: identity,
		Title:    title,
	}))
	f.coord.ApplyEvents(events)
}

func (f *fixture) observations() []registry.Observation {
	var obs []registry.Observation
	for _, win := range f.reg.set.Windows() {
		obs = append(obs, registry.Observation{
			Handle:    win.Handle,
			Identity:  win.Identity,
			Title:     win.Title,
			Geometry:  win.Geometry,
			Minimized: win.Minimized,
		})
	}
	return obs
}

func TestAddedWindowCreatesSurfaceMirrorAndCycleEntry(t *testing.T) {
	f := newFixture(config.Settings{}, nil)

	f.addWindow(1, "EVE - Alpha")

	require.Equal(t, []xproto.Window{1}, f.surfaces.created)
	require.Equal(t, []xproto.Window{1}, f.mirrors.attached)
	require.Equal(t, []string{"Alpha"}, f.store.cycleOrder)
	require.Equal(t, []string{"Alpha"}, f.cyc.Order())
}

func TestLoggedOutClientNeverEntersCycleOrder(t *testing.T) {
	f := newFixture(config.Settings{}, nil)

	f.addWindow(1, "EVE")

	require.Equal(t, []xproto.Window{1}, f.surfaces.created)
	require.Empty(t, f.store.cycleOrder)
	require.Empty(t, f.cyc.Order())
}

func TestRemovedWindowTearsDownMirrorAndSurface(t *testing.T) {
	f := newFixture(config.Settings{}, nil)
	f.addWindow(1, "EVE - Alpha")

	f.coord.ApplyEvents(f.reg.set.Remove(1))

	require.Equal(t, []xproto.Window{1}, f.mirrors.detached)
	require.Equal(t, []xproto.Window{1}, f.surfaces.destroyed)
}

func TestHideWhenNoFocus(t *testing.T) {
	f := newFixture(config.Settings{HideWhenNoFocus: true}, nil)
	f.addWindow(1, "EVE - Alpha")
	f.addWindow(2, "EVE - Beta")

	f.coord.ApplyEvents(f.reg.set.SetFocus(1))
	require.True(t, f.surfaces.Visible())

	f.coord.ApplyEvents(f.reg.set.SetFocus(0))
	require.False(t, f.surfaces.Visible())

	f.coord.ApplyEvents(f.reg.set.SetFocus(2))
	require.True(t, f.surfaces.Visible())
}

func TestFocusSwitchBetweenClientsStaysVisible(t *testing.T) {
	f := newFixture(config.Settings{HideWhenNoFocus: true}, nil)
	f.addWindow(1, "EVE - Alpha")
	f.addWindow(2, "EVE - Beta")

	f.coord.ApplyEvents(f.reg.set.SetFocus(1))
	f.coord.ApplyEvents(f.reg.set.SetFocus(2))
	require.True(t, f.surfaces.Visible())
}

func TestHotkeyGatingRequiresClientFocus(t *testing.T) {
	f := newFixture(config.Settings{HotkeyRequireEveFocus: true}, []string{"Alpha", "Beta"})
	f.addWindow(1, "EVE - Alpha")
	f.addWindow(2, "EVE - Beta")

	f.reg.focused = false
	f.coord.HandleCommand(hotkeys.CycleNext)
	require.Empty(t, f.reg.activated)

	f.reg.focused = true
	f.coord.HandleCommand(hotkeys.CycleNext)
	require.Len(t, f.reg.activated, 1)
}

func TestCycleNextActivatesFollowingIdentity(t *testing.T) {
	f := newFixture(config.Settings{}, []string{"Alpha", "Beta", "Gamma"})
	f.addWindow(1, "EVE - Alpha")
	f.addWindow(2, "EVE - Beta")
	f.addWindow(3, "EVE - Gamma")
	f.coord.ApplyEvents(f.reg.set.SetFocus(2))

	f.coord.HandleCommand(hotkeys.CycleNext)
	require.Equal(t, []xproto.Window{3}, f.reg.activated)

	f.coord.HandleCommand(hotkeys.CycleNext)
	require.Equal(t, []xproto.Window{3, 1}, f.reg.activated)
}

func TestCycleSkipsIdentitiesWithoutLiveWindows(t *testing.T) {
	f := newFixture(config.Settings{}, []string{"Alpha", "Beta", "Gamma"})
	f.addWindow(1, "EVE - Alpha")
	f.addWindow(3, "EVE - Gamma")
	f.coord.ApplyEvents(f.reg.set.SetFocus(1))

	f.coord.HandleCommand(hotkeys.CycleNext)
	require.Equal(t, []xproto.Window{3}, f.reg.activated)
}

func TestMinimizeClientsOnSwitch(t *testing.T) {
	f := newFixture(config.Settings{MinimizeClientsOnSwitch: true}, []string{"Alpha", "Beta"})
	f.addWindow(1, "EVE - Alpha")
	f.addWindow(2, "EVE - Beta")
	f.coord.ApplyEvents(f.reg.set.SetFocus(1))

	f.coord.HandleCommand(hotkeys.CycleNext)
	require.Equal(t, []xproto.Window{1}, f.reg.iconified)
	require.Equal(t, []xproto.Window{2}, f.reg.activated)
}

func TestCommitGeometryFlushesDeferred(t *testing.T) {
	f := newFixture(config.Settings{}, nil)
	geom := config.Geometry{X: 100, Y: 200, Width: 480, Height: 270}

	f.coord.CommitGeometry("Alpha", 1, geom)
	require.Empty(t, f.store.layouts)

	f.coord.flushLayouts()
	require.Equal(t, geom, f.store.layouts["Alpha"])
}

func TestCommitGeometryRetriesAfterWriteFailure(t *testing.T) {
	f := newFixture(config.Settings{}, nil)
	geom := config.Geometry{X: 5, Y: 6, Width: 480, Height: 270}

	f.store.saveFailure = errors.New("disk full")
	f.coord.CommitGeometry("Alpha", 1, geom)
	f.coord.flushLayouts()
	require.Empty(t, f.store.layouts)

	f.store.saveFailure = nil
	f.coord.flushLayouts()
	require.Equal(t, geom, f.store.layouts["Alpha"])
}

func TestEmptyIdentityGeometryNeverPersisted(t *testing.T) {
	f := newFixture(config.Settings{}, nil)

	f.coord.CommitGeometry("", 1, config.Geometry{X: 1, Y: 2, Width: 3, Height: 4})
	f.coord.flushLayouts()
	require.Empty(t, f.store.layouts)
}

func TestActivateGoneWindowRemovesIt(t *testing.T) {
	f := newFixture(config.Settings{}, nil)
	f.addWindow(1, "EVE - Alpha")

	f.reg.activateErr = registry.ErrWindowGone
	ok := f.coord.Activate(1)
	require.False(t, ok)
	require.Empty(t, f.reg.set.Windows())
	require.Equal(t, []xproto.Window{1}, f.surfaces.destroyed)
}
