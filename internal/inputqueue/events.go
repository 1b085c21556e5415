// Package inputqueue implements the session thread's input event FIFO
// (spec.md §3, §4.7): a mutex-protected queue of tagged variants, drained
// to completion on every edge-triggered wakeup, with a drain-on-shutdown
// guarantee for pending key-release events. It generalizes the reference
// codebase's InputEvent/InputHandler shape (a flat struct plus a type tag)
// into Go tagged-union variants.
package inputqueue

// KeyState is whether a key event is a press or release.
type KeyState int

const (
	KeyReleased KeyState = iota
	KeyPressed
)

// AxisFlags carries scroll-wheel metadata (spec.md §3: "PointerAxis{dx,
// dy, flags}").
type AxisFlags uint32

// KeySym is a keyboard event tagged with the X11-style keysym that
// produced it.
type KeySym struct {
	Sym   uint32
	State KeyState
}

// PointerMotionAbs is an absolute pointer-position update.
type PointerMotionAbs struct {
	X, Y float64
}

// PointerButton is a pointer button press/release.
type PointerButton struct {
	Button uint32
	State  KeyState
}

// PointerAxis is a scroll/axis event.
type PointerAxis struct {
	DX, DY float64
	Flags  AxisFlags
}

// Event is the tagged variant spec.md §3 describes. Exactly one of the
// Key/Motion/Button/Axis fields is non-nil, set by the matching
// constructor below.
type Event struct {
	Key    *KeySym
	Motion *PointerMotionAbs
	Button *PointerButton
	Axis   *PointerAxis
}

func NewKeySymEvent(sym uint32, state KeyState) Event {
	return Event{Key: &KeySym{Sym: sym, State: state}}
}

func NewPointerMotionEvent(x, y float64) Event {
	return Event{Motion: &PointerMotionAbs{X: x, Y: y}}
}

func NewPointerButtonEvent(button uint32, state KeyState) Event {
	return Event{Button: &PointerButton{Button: button, State: state}}
}

func NewPointerAxisEvent(dx, dy float64, flags AxisFlags) Event {
	return Event{Axis: &PointerAxis{DX: dx, DY: dy, Flags: flags}}
}

// IsKeyRelease reports whether this event is a key-release, the one
// variant that must never be silently dropped (spec.md §4.7).
func (e Event) IsKeyRelease() bool {
	return e.Key != nil && e.Key.State == KeyReleased
}
