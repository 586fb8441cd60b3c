// Package hotkeys listens for the Tab / Shift+Tab cycle chord on raw input
// devices, independent of which window holds keyboard focus. Devices are
// read via evdev, which needs read access to /dev/input; when that is
// denied the listener degrades to disabled and the daemon stays click-only.
package hotkeys

import (
	"sync"

	"github.com/holoplot/go-evdev"
	"github.com/rs/zerolog"

	"github.com/eve-tools/eve-preview/internal/logger"
)

// Command is one recognized chord.
type Command int

const (
	CycleNext Command = iota
	CyclePrev
)

func (c Command) String() string {
	if c == CyclePrev {
		return "cycle_prev"
	}
	return "cycle_next"
}

// Listener fans keyboard devices into a single bounded command channel.
// Only the most recent intent matters, so the channel drops oldest on
// overflow rather than blocking a device reader.
type Listener struct {
	commands chan Command
	log      *zerolog.Logger

	mu      sync.Mutex
	devices []*evdev.InputDevice
	closed  bool
}

const commandBuffer = 8

// New scans /dev/input for Tab-capable keyboards and starts one reader
// goroutine per device. Finding no usable device is the degraded mode, not
// an error: the returned listener simply never emits.
func New() *Listener {
	l := &Listener{
		commands: make(chan Command, commandBuffer),
		log:      logger.WithComponent("hotkeys"),
	}

	paths, err := evdev.ListDevicePaths()
	if err != nil {
		l.log.Warn().Err(err).Msg("Cannot enumerate input devices, hotkeys disabled (check /dev/input permissions)")
		return l
	}

	for _, path := range paths {
		dev, err := evdev.Open(path.Path)
		if err != nil {
			continue
		}
		if !tabCapable(dev) {
			dev.Close()
			continue
		}
		name, _ := dev.Name()
		l.log.Info().Str("device", path.Path).Str("name", name).Msg("Listening for cycle hotkeys")
		l.mu.Lock()
		l.devices = append(l.devices, dev)
		l.mu.Unlock()
		go l.readLoop(dev, path.Path)
	}

	if len(l.devices) == 0 {
		l.log.Warn().Msg("No readable keyboard device found, hotkeys disabled (check /dev/input permissions)")
	}
	return l
}

// Commands is the stream of recognized chords.
func (l *Listener) Commands() <-chan Command {
	return l.commands
}

// Enabled reports whether at least one device is being read.
func (l *Listener) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.devices) > 0
}

// Close stops every device reader.
func (l *Listener) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	for _, dev := range l.devices {
		dev.Close()
	}
	l.devices = nil
}

func tabCapable(dev *evdev.InputDevice) bool {
	hasKeys := false
	for _, t := range dev.CapableTypes() {
		if t == evdev.EV_KEY {
			hasKeys = true
			break
		}
	}
	if !hasKeys {
		return false
	}
	for _, code := range dev.CapableEvents(evdev.EV_KEY) {
		if code == evdev.KEY_TAB {
			return true
		}
	}
	return false
}

func (l *Listener) readLoop(dev *evdev.InputDevice, path string) {
	shiftHeld := false
	for {
		ev, err := dev.ReadOne()
		if err != nil {
			l.mu.Lock()
			closed := l.closed
			l.mu.Unlock()
			if !closed {
				l.log.Warn().Str("device", path).Err(err).Msg("Input device read failed, dropping device")
			}
			return
		}
		if ev.Type != evdev.EV_KEY {
			continue
		}

		switch ev.Code {
		case evdev.KEY_LEFTSHIFT, evdev.KEY_RIGHTSHIFT:
			shiftHeld = ev.Value != 0
		case evdev.KEY_TAB:
			// Key press only; repeats and releases do not cycle.
			if ev.Value != 1 {
				continue
			}
			cmd := CycleNext
			if shiftHeld {
				cmd = CyclePrev
			}
			l.emit(cmd)
		}
	}
}

func (l *Listener) emit(cmd Command) {
	for {
		select {
		case l.commands <- cmd:
			return
		default:
			// Full: drop the oldest queued command.
			select {
			case <-l.commands:
			default:
			}
		}
	}
}
