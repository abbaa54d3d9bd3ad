package emu

import "github.com/pockethouse/pockethouse/internal/joypad"

// InputEventType discriminates the events a host can push into a Machine.
type InputEventType int

const (
	KeyDown InputEventType = iota
	KeyUp
	Quit
	SetSpeed
)

// InputEvent carries one host input occurrence. Button uses the
// internal/joypad bitmask constants (joypad.A, joypad.Start, ...) and is
// only meaningful for KeyDown/KeyUp; Speed is only meaningful for SetSpeed
// (1.0 = real-time, 2.0 = double speed, ...).
type InputEvent struct {
	Type   InputEventType
	Button byte
	Speed  float64
}

// Re-exported button constants so a host only needs to import internal/emu
// to drive the joypad.
const (
	ButtonRight  = joypad.Right
	ButtonLeft   = joypad.Left
	ButtonUp     = joypad.Up
	ButtonDown   = joypad.Down
	ButtonA      = joypad.A
	ButtonB      = joypad.B
	ButtonSelect = joypad.Select
	ButtonStart  = joypad.Start
)
