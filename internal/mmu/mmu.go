// Package mmu implements the DMG memory map: the address dispatcher that
// routes CPU reads/writes to the cartridge, work RAM, high RAM, the PPU's
// VRAM/OAM/registers, the timer, the joypad, and the serial port, plus OAM
// DMA and the boot-ROM overlay.
package mmu

import (
	"io"
	"os"

	"github.com/pockethouse/pockethouse/internal/cart"
	"github.com/pockethouse/pockethouse/internal/joypad"
	"github.com/pockethouse/pockethouse/internal/ppu"
	"github.com/pockethouse/pockethouse/internal/timer"
)

// MMU wires the CPU-visible address space to the cartridge, WRAM, HRAM,
// PPU, timer, joypad, and serial port.
type MMU struct {
	cart cart.Cartridge

	wram [0x2000]byte // 0xC000-0xDFFF; echo 0xE000-0xFDFF mirrors 0xC000-0xDDFF
	hram [0x7F]byte   // 0xFF80-0xFFFE

	ppu *ppu.PPU
	tm  *timer.Timer
	jp  *joypad.Joypad

	ie    byte // 0xFFFF
	ifReg byte // 0xFF0F, bits 0-4 used

	sb byte      // FF01 serial data
	sc byte      // FF02 serial control
	sw io.Writer // optional sink for bytes written out the serial port

	dma       byte // FF46
	dmaActive bool
	dmaSrc    uint16
	dmaIndex  int

	bootROM     []byte
	bootEnabled bool

	debugTimer bool
}

// New constructs an MMU around the given ROM image, auto-detecting its MBC.
func New(rom []byte) (*MMU, error) {
	c, err := cart.NewCartridge(rom)
	if err != nil {
		return nil, err
	}
	return NewWithCartridge(c), nil
}

// NewWithCartridge wires a pre-constructed cartridge implementation.
func NewWithCartridge(c cart.Cartridge) *MMU {
	m := &MMU{cart: c, tm: timer.New(), jp: joypad.New()}
	m.ppu = ppu.New(func(bit int) { m.ifReg |= 1 << bit })
	if os.Getenv("GB_DEBUG_TIMER") != "" {
		m.debugTimer = true
	}
	return m
}

func (m *MMU) PPU() *ppu.PPU     { return m.ppu }
func (m *MMU) Cart() cart.Cartridge { return m.cart }

// SetSerialWriter installs a sink that receives each byte written out the
// serial port (0xFF01 with a 0xFF02 transfer-start write), the channel
// Blargg-style conformance ROMs use to report pass/fail text.
func (m *MMU) SetSerialWriter(w io.Writer) { m.sw = w }

// SetBootROM loads a 256-byte DMG boot ROM to overlay 0x0000-0x00FF until
// disabled by a non-zero write to 0xFF50.
func (m *MMU) SetBootROM(data []byte) {
	m.bootROM = nil
	m.bootEnabled = false
	if len(data) >= 0x100 {
		m.bootROM = make([]byte, 0x100)
		copy(m.bootROM, data[:0x100])
		m.bootEnabled = true
	}
}

// SetButtons replaces the full joypad button state (bit set = pressed).
func (m *MMU) SetButtons(mask byte) { m.jp.SetPressed(mask) }

func (m *MMU) Read(addr uint16) byte {
	switch {
	case addr < 0x8000:
		if m.bootEnabled && addr < 0x0100 && len(m.bootROM) >= 0x100 {
			return m.bootROM[addr]
		}
		return m.cart.Read(addr)
	case addr >= 0x8000 && addr <= 0x9FFF:
		return m.ppu.CPURead(addr)
	case addr >= 0xA000 && addr <= 0xBFFF:
		return m.cart.Read(addr)
	case addr >= 0xC000 && addr <= 0xDFFF:
		return m.wram[addr-0xC000]
	case addr >= 0xE000 && addr <= 0xFDFF:
		return m.wram[addr-0x2000-0xC000]
	case addr >= 0xFE00 && addr <= 0xFE9F:
		if m.dmaActive {
			return 0xFF
		}
		return m.ppu.CPURead(addr)
	case addr >= 0xFF80 && addr <= 0xFFFE:
		return m.hram[addr-0xFF80]
	case addr == 0xFF00:
		v := m.jp.Read()
		if m.jp.IRQ {
			m.ifReg |= 1 << 4
			m.jp.IRQ = false
		}
		return v
	case addr == 0xFF01:
		return m.sb
	case addr == 0xFF02:
		return 0x7E | (m.sc & 0x81)
	case addr == 0xFF04:
		return m.tm.DIV()
	case addr == 0xFF05:
		return m.tm.TIMA()
	case addr == 0xFF06:
		return m.tm.TMA()
	case addr == 0xFF07:
		return m.tm.TAC()
	case addr == 0xFF40, addr == 0xFF41, addr == 0xFF42, addr == 0xFF43,
		addr == 0xFF44, addr == 0xFF45,
		addr == 0xFF47, addr == 0xFF48, addr == 0xFF49,
		addr == 0xFF4A, addr == 0xFF4B:
		return m.ppu.CPURead(addr)
	case addr == 0xFF46:
		return m.dma
	case addr == 0xFF50:
		return 0xFF
	case addr == 0xFF0F:
		return 0xE0 | (m.ifReg & 0x1F)
	case addr == 0xFFFF:
		return m.ie
	default:
		return 0xFF
	}
}

func (m *MMU) Write(addr uint16, value byte) {
	switch {
	case addr < 0x8000:
		m.cart.Write(addr, value)
	case addr >= 0x8000 && addr <= 0x9FFF:
		m.ppu.CPUWrite(addr, value)
	case addr >= 0xA000 && addr <= 0xBFFF:
		m.cart.Write(addr, value)
	case addr >= 0xC000 && addr <= 0xDFFF:
		m.wram[addr-0xC000] = value
	case addr >= 0xE000 && addr <= 0xFDFF:
		mirror := addr - 0x2000
		if mirror >= 0xC000 && mirror <= 0xDDFF {
			m.wram[mirror-0xC000] = value
		}
	case addr >= 0xFE00 && addr <= 0xFE9F:
		if m.dmaActive {
			return
		}
		m.ppu.CPUWrite(addr, value)
	case addr >= 0xFF80 && addr <= 0xFFFE:
		m.hram[addr-0xFF80] = value
	case addr == 0xFF00:
		m.jp.WriteSelect(value)
	case addr == 0xFF01:
		m.sb = value
	case addr == 0xFF02:
		m.sc = value & 0x81
		if m.sc&0x80 != 0 {
			if m.sw != nil {
				_, _ = m.sw.Write([]byte{m.sb})
			}
			m.ifReg |= 1 << 3
			m.sc &^= 0x80
		}
	case addr == 0xFF04:
		m.tm.WriteDIV()
	case addr == 0xFF05:
		m.tm.WriteTIMA(value)
	case addr == 0xFF06:
		m.tm.WriteTMA(value)
	case addr == 0xFF07:
		m.tm.WriteTAC(value)
	case addr == 0xFF40, addr == 0xFF41, addr == 0xFF42, addr == 0xFF43,
		addr == 0xFF44, addr == 0xFF45,
		addr == 0xFF47, addr == 0xFF48, addr == 0xFF49,
		addr == 0xFF4A, addr == 0xFF4B:
		m.ppu.CPUWrite(addr, value)
	case addr == 0xFF46:
		m.dma = value
		m.dmaActive = true
		m.dmaSrc = uint16(value) << 8
		m.dmaIndex = 0
	case addr == 0xFF50:
		if value != 0x00 {
			m.bootEnabled = false
		}
	case addr == 0xFF0F:
		m.ifReg = value & 0x1F
	case addr == 0xFFFF:
		m.ie = value
	}
}

// RequestInterrupt sets an IF bit directly, for callers that synthesize
// interrupts outside the normal register-write path. The timer and joypad
// sources are folded into IF by Tick and by reads of 0xFF00, not through
// this method.
func (m *MMU) RequestInterrupt(bit int) { m.ifReg |= 1 << uint(bit) }

func (m *MMU) IE() byte { return m.ie }
func (m *MMU) IF() byte { return m.ifReg }

func (m *MMU) SetIF(v byte) { m.ifReg = v & 0x1F }

// Tick advances the timer, PPU, and any in-flight OAM DMA by the given
// number of T-cycles, folding their IRQ requests and any pending joypad
// IRQ into IF.
func (m *MMU) Tick(cycles int) {
	if cycles <= 0 {
		return
	}
	for i := 0; i < cycles; i++ {
		m.tm.Tick()
		if m.tm.IRQ {
			m.ifReg |= 1 << 2
		}
		m.ppu.Tick(1)
		if m.jp.IRQ {
			m.ifReg |= 1 << 4
			m.jp.IRQ = false
		}
		if m.dmaActive {
			if m.dmaIndex < 0xA0 {
				v := m.Read(m.dmaSrc + uint16(m.dmaIndex))
				m.ppu.OAMDMAWrite(m.dmaIndex, v)
				m.dmaIndex++
			}
			if m.dmaIndex >= 0xA0 {
				m.dmaActive = false
			}
		}
	}
}

// SaveBatteryRAM returns the cartridge's battery-backed RAM, if any.
func (m *MMU) SaveBatteryRAM() []byte { return m.cart.SaveRAM() }

// LoadBatteryRAM restores previously saved battery-backed RAM.
func (m *MMU) LoadBatteryRAM(data []byte) { m.cart.LoadRAM(data) }
