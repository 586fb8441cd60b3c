// Package cycle implements the keyboard-driven focus rotation over character
// identities. The engine is pure bookkeeping: it never talks to the window
// system, it only answers "which identity comes next".
package cycle

// Engine tracks the user-ordered cycle list and the identity that currently
// holds focus. The zero value is unusable; use New.
type Engine struct {
	order   []string
	focused string
	idle    bool
}

// New creates an engine seeded with the persisted cycle order. The engine
// starts Idle (no known focus).
func New(order []string) *Engine {
	e := &Engine{
		order: make([]string, 0, len(order)),
		idle:  true,
	}
	for _, identity := range order {
		e.Append(identity)
	}
	return e
}

// Append adds an identity to the end of the cycle order if absent,
// preserving existing relative order. Reports whether the order changed.
// The empty identity (logged-out client) is never cycled.
func (e *Engine) Append(identity string) bool {
	if identity == "" {
		return false
	}
	for _, existing := range e.order {
		if existing == identity {
			return false
		}
	}
	e.order = append(e.order, identity)
	return true
}

// SetFocus records that the given identity holds input focus.
func (e *Engine) SetFocus(identity string) {
	if identity == "" {
		e.ClearFocus()
		return
	}
	e.focused = identity
	e.idle = false
}

// ClearFocus transitions to the Idle state (no target window focused).
func (e *Engine) ClearFocus() {
	e.focused = ""
	e.idle = true
}

// Focused returns the focused identity and whether one is known.
func (e *Engine) Focused() (string, bool) {
	return e.focused, !e.idle
}

// Order returns a copy of the current cycle order.
func (e *Engine) Order() []string {
	out := make([]string, len(e.order))
	copy(out, e.order)
	return out
}

// Next returns the identity following the current focus in cycle order.
// Identities for which live reports false are skipped; the search wraps at
// most once around the full list before giving up.
func (e *Engine) Next(live func(identity string) bool) (string, bool) {
	return e.step(1, live)
}

// Prev returns the identity preceding the current focus in cycle order,
// with the same skipping and wrap rules as Next.
func (e *Engine) Prev(live func(identity string) bool) (string, bool) {
	return e.step(-1, live)
}

func (e *Engine) step(dir int, live func(identity string) bool) (string, bool) {
	n := len(e.order)
	if n == 0 {
		return "", false
	}

	// From Idle, start at the list head (or tail when cycling backward)
	// rather than relative to a focus that no longer exists.
	start := 0
	if dir < 0 {
		start = n - 1
	}
	if !e.idle {
		if at := e.indexOf(e.focused); at >= 0 {
			start = (at + dir + n) % n
		}
	}

	for i := 0; i < n; i++ {
		idx := (start + dir*i + n) % n
		identity := e.order[idx]
		if identity == e.focused && !e.idle {
			// Wrapped all the way around to the current focus.
			continue
		}
		if live == nil || live(identity) {
			return identity, true
		}
	}
	return "", false
}

func (e *Engine) indexOf(identity string) int {
	for i, existing := range e.order {
		if existing == identity {
			return i
		}
	}
	return -1
}
