// Package emu implements the frame driver: the host-agnostic Machine
// facade that wires the cartridge, MMU, CPU, PPU, timer, and joypad
// together and steps them one emulated frame at a time.
package emu

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pockethouse/pockethouse/internal/cart"
	"github.com/pockethouse/pockethouse/internal/cpu"
	"github.com/pockethouse/pockethouse/internal/mmu"
	"github.com/pockethouse/pockethouse/internal/ppu"
)

// cyclesPerFrame is the fixed T-cycle budget of one emulated frame: 154
// scanlines (144 visible + 10 VBlank) at 456 T-cycles each.
const cyclesPerFrame = 70224

// FramebufferPixels is the pixel count of one frame (160x144), the size of
// the array PresentFunc receives.
const FramebufferPixels = ppu.ScreenW * ppu.ScreenH

// PresentFunc is the host's output sink: RunFrame calls it once per
// completed frame with the PPU's raw RGBA8888 grid. The array is owned by
// the PPU and reused every frame, so a host that needs to keep it (e.g. to
// hand off to a render thread) must copy.
type PresentFunc func(fb *[FramebufferPixels]uint32)

// frameTarget is the real-time budget of one frame at ~59.7275Hz.
const frameTarget = 16742 * time.Microsecond

// Machine is the real frame driver, wiring internal/mmu, internal/cpu,
// internal/ppu, and internal/joypad together behind a host-agnostic API.
type Machine struct {
	cfg Config

	bus *mmu.MMU
	cpu *cpu.CPU

	romPath string
	trace   io.Writer
	present PresentFunc // host output sink; see SetPresentCallback

	buttons   byte // last full button mask applied via PushEvent
	lastFrame time.Time
	speed     float64 // 1.0 = real-time; PushEvent(SetSpeed) adjusts it
	quit      bool
}

// New constructs a Machine with no cartridge loaded. LoadCartridge must be
// called before RunFrame produces anything meaningful.
func New(cfg Config) *Machine {
	return &Machine{cfg: cfg, speed: 1.0}
}

// SetPresentCallback installs the host's frame-output sink. RunFrame calls
// it once per completed frame; a host with no display (headless CI runs,
// cmd/gbcore -headless) can leave it unset and pull Framebuffer() instead.
func (m *Machine) SetPresentCallback(fn PresentFunc) { m.present = fn }

// SetTraceWriter installs a sink for per-instruction trace lines when
// cfg.Trace is set (PC after the step and the cycles it took, one line per
// Step or halt stall).
func (m *Machine) SetTraceWriter(w io.Writer) { m.trace = w }

// SetSerialWriter installs a sink for bytes written out the serial port,
// the channel Blargg-style conformance ROMs use to report pass/fail text.
func (m *Machine) SetSerialWriter(w io.Writer) {
	if m.bus != nil {
		m.bus.SetSerialWriter(w)
	}
}

// LoadCartridge parses the ROM header, builds the matching MBC, and wires
// a fresh MMU/CPU/PPU/timer/joypad around it. If boot is non-empty and at
// least 256 bytes, the boot ROM is mapped over 0x0000-0x00FF and the CPU
// runs it from PC=0 with SP=0xFFFE and all other registers zero; otherwise
// registers are initialized to
// the documented post-boot values and execution starts at PC=0x0100.
func (m *Machine) LoadCartridge(rom []byte, boot []byte) error {
	c, err := cart.NewCartridge(rom)
	if err != nil {
		return err
	}
	m.bus = mmu.NewWithCartridge(c)
	m.cpu = cpu.New(m.bus)
	if len(boot) >= 0x100 {
		m.bus.SetBootROM(boot)
		// PC=0x0000, SP=0xFFFE, all other registers zero: cpu.New's zero value.
	} else {
		m.cpu.ResetNoBoot()
	}
	return nil
}

// SetBootROM maps a DMG boot ROM onto an already-loaded machine's MMU right
// away; the CPU is not reset. It does nothing before LoadCartridge, which
// takes the boot ROM as its own argument.
func (m *Machine) SetBootROM(data []byte) {
	if m.bus != nil {
		m.bus.SetBootROM(data)
	}
}

// LoadBattery restores a previously saved battery-RAM image, if the loaded
// cartridge has one. Returns false if there is no machine/cartridge loaded.
func (m *Machine) LoadBattery(data []byte) bool {
	if m.bus == nil {
		return false
	}
	m.bus.LoadBatteryRAM(data)
	return true
}

// SaveBattery returns the cartridge's current battery-RAM image. ok is
// false if no cartridge is loaded or the cartridge has no battery RAM.
func (m *Machine) SaveBattery() (data []byte, ok bool) {
	if m.bus == nil {
		return nil, false
	}
	data = m.bus.SaveBatteryRAM()
	return data, data != nil
}

// Framebuffer returns the most recently rendered 160x144 RGBA8888 grid,
// row-major, as raw bytes (4 bytes per pixel) for a host blit/PNG encode.
func (m *Machine) Framebuffer() []byte {
	if m.bus == nil {
		return make([]byte, ppu.ScreenW*ppu.ScreenH*4)
	}
	fb := m.bus.PPU().Framebuffer()
	out := make([]byte, len(fb)*4)
	for i, px := range fb {
		out[i*4+0] = byte(px >> 24)
		out[i*4+1] = byte(px >> 16)
		out[i*4+2] = byte(px >> 8)
		out[i*4+3] = byte(px)
	}
	return out
}

// PushEvent feeds a host input event into the joypad matrix or the driver's
// pacing/quit state.
func (m *Machine) PushEvent(ev InputEvent) {
	switch ev.Type {
	case KeyDown:
		m.buttons |= ev.Button
		if m.bus != nil {
			m.bus.SetButtons(m.buttons)
		}
	case KeyUp:
		m.buttons &^= ev.Button
		if m.bus != nil {
			m.bus.SetButtons(m.buttons)
		}
	case Quit:
		m.quit = true
	case SetSpeed:
		if ev.Speed > 0 {
			m.speed = ev.Speed
		}
	}
}

// Quit reports whether a Quit event has been pushed.
func (m *Machine) Quit() bool { return m.quit }

// RunFrame executes the frame-driver algorithm for exactly cyclesPerFrame
// T-cycles: each iteration steps the CPU (or charges a 4-cycle stall while
// halted), folds in any carry charged by the previous interrupt dispatch,
// advances the timer/PPU/joypad/DMA by that many cycles via the MMU, then
// asks the CPU to service a pending interrupt. Once the budget is spent it
// calls the registered PresentFunc with the finished frame, then, if
// cfg.LimitFPS is set, sleeps out the remainder of the ~16.74ms frame
// budget before returning. Present and the pacing sleep are the only two
// points per frame where control leaves the driver.
func (m *Machine) RunFrame() error {
	if m.bus == nil || m.cpu == nil {
		return fmt.Errorf("emu: RunFrame called with no cartridge loaded")
	}
	start := time.Now()

	cycles := 0
	carry := 0
	for cycles < cyclesPerFrame {
		var n int
		if m.cpu.Halted() {
			n = 4
		} else {
			var err error
			n, err = m.cpu.Step()
			if err != nil {
				return err
			}
		}
		if m.cfg.Trace && m.trace != nil {
			fmt.Fprintf(m.trace, "PC=%04X cycles=%d\n", m.cpu.PC, n)
		}
		n += carry
		m.bus.Tick(n)
		if m.cpu.ServiceInterrupt() {
			carry = 20
		} else {
			carry = 0
		}
		cycles += n
	}

	if m.present != nil {
		m.present(m.bus.PPU().Framebuffer())
	}

	if m.cfg.LimitFPS {
		elapsed := time.Since(start)
		target := time.Duration(float64(frameTarget) / m.speed)
		if elapsed < target {
			time.Sleep(target - elapsed)
		}
	}
	m.lastFrame = start
	return nil
}

// CPUState is a read-only snapshot of CPU registers for tests and debug
// tooling that must not mutate emulator state.
type CPUState struct {
	A, F, B, C, D, E, H, L byte
	SP, PC                 uint16
	IME                    bool
	Halted                 bool
}

func (m *Machine) CPUState() CPUState {
	if m.cpu == nil {
		return CPUState{}
	}
	return CPUState{
		A: m.cpu.A, F: m.cpu.F,
		B: m.cpu.B, C: m.cpu.C,
		D: m.cpu.D, E: m.cpu.E,
		H: m.cpu.H, L: m.cpu.L,
		SP: m.cpu.SP, PC: m.cpu.PC,
		IME: m.cpu.IME, Halted: m.cpu.Halted(),
	}
}

// PPUState is a read-only snapshot of PPU mode/position state.
type PPUState struct {
	LY   byte
	Mode byte
}

func (m *Machine) PPUState() PPUState {
	if m.bus == nil {
		return PPUState{}
	}
	p := m.bus.PPU()
	return PPUState{LY: p.LY(), Mode: p.Mode()}
}

// ROMPath reports the filesystem path LoadROMFromFile most recently used,
// for deriving a sibling .sav path; empty if the ROM was loaded from bytes.
func (m *Machine) ROMPath() string { return m.romPath }

// LoadROMFromFile reads rom from path and loads it via LoadCartridge with
// no boot ROM, recording path for later battery-RAM persistence.
func (m *Machine) LoadROMFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := m.LoadCartridge(data, nil); err != nil {
		return err
	}
	m.romPath = path
	return nil
}
