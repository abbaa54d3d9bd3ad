// Package cpu implements the Sharp LR35902 instruction set: the 256 base
// opcodes, the 256 CB-prefixed opcodes, the interrupt-service handshake, and
// the HALT/EI timing quirks real DMG software depends on.
package cpu

import (
	"fmt"

	"github.com/pockethouse/pockethouse/internal/mmu"
)

// UnknownOpcodeError is returned for the 11 byte values the LR35902 never
// decodes (0xD3, 0xDB, 0xDD, 0xE3, 0xE4, 0xEB, 0xEC, 0xED, 0xF4, 0xFC, 0xFD).
// Encountering one means a malformed ROM or an emulator bug.
type UnknownOpcodeError struct {
	PC uint16
	Op byte
}

func (e *UnknownOpcodeError) Error() string {
	return fmt.Sprintf("unknown opcode 0x%02X at PC=0x%04X", e.Op, e.PC)
}

// CPU is the Sharp LR35902 register file plus the fetch/decode/execute loop.
type CPU struct {
	A, F byte
	B, C byte
	D, E byte
	H, L byte

	SP uint16
	PC uint16

	IME    bool
	halted bool

	// eiScheduled/eiLastInstr together delay IME's rise by exactly one
	// instruction after EI: EI sets eiScheduled; the end of that same
	// instruction promotes it to eiLastInstr; the end of the *next*
	// instruction commits IME=true and clears eiLastInstr.
	eiScheduled bool
	eiLastInstr bool

	// haltBug suppresses the next fetch's PC increment, reproducing the
	// hardware quirk where HALT executed with IME=0 and a pending
	// interrupt re-reads the following byte.
	haltBug bool

	bus *mmu.MMU
}

// New creates a CPU wired to the given MMU, with PC at 0x0000 (boot ROM
// entry point) and SP at its documented post-reset value.
func New(b *mmu.MMU) *CPU {
	return &CPU{bus: b, SP: 0xFFFE, PC: 0x0000}
}

// SetPC allows tests or a boot stub to set the program counter.
func (c *CPU) SetPC(pc uint16) { c.PC = pc }

// Bus exposes the underlying MMU for tests/tools.
func (c *CPU) Bus() *mmu.MMU { return c.bus }

// Halted reports whether the CPU is in the low-power HALT state.
func (c *CPU) Halted() bool { return c.halted }

// ResetNoBoot sets registers to the documented DMG post-boot state, for
// running without a boot ROM.
func (c *CPU) ResetNoBoot() {
	c.A, c.F = 0x01, 0xB0
	c.B, c.C = 0x00, 0x13
	c.D, c.E = 0x00, 0xD8
	c.H, c.L = 0x01, 0x4D
	c.SP = 0xFFFE
	c.PC = 0x0100
	c.IME = false
	c.halted = false
	c.eiScheduled = false
	c.eiLastInstr = false
	c.haltBug = false
}

const (
	flagZ byte = 1 << 7
	flagN byte = 1 << 6
	flagH byte = 1 << 5
	flagC byte = 1 << 4
)

func (c *CPU) setZNHC(z, n, h, carry bool) {
	var f byte
	if z {
		f |= flagZ
	}
	if n {
		f |= flagN
	}
	if h {
		f |= flagH
	}
	if carry {
		f |= flagC
	}
	c.F = f
}

func (c *CPU) add8(a, b byte) (res byte, z, n, h, cy bool) {
	r := uint16(a) + uint16(b)
	res = byte(r)
	z = res == 0
	n = false
	h = ((a & 0x0F) + (b & 0x0F)) > 0x0F
	cy = r > 0xFF
	return
}

func (c *CPU) adc8(a, b byte, carryIn bool) (res byte, z, n, h, cy bool) {
	ci := byte(0)
	if carryIn {
		ci = 1
	}
	r := uint16(a) + uint16(b) + uint16(ci)
	res = byte(r)
	z = res == 0
	n = false
	h = ((a & 0x0F) + (b & 0x0F) + ci) > 0x0F
	cy = r > 0xFF
	return
}

func (c *CPU) sub8(a, b byte) (res byte, z, n, h, cy bool) {
	r := int16(a) - int16(b)
	res = byte(r)
	z = res == 0
	n = true
	h = (a & 0x0F) < (b & 0x0F)
	cy = int16(a) < int16(b)
	return
}

func (c *CPU) sbc8(a, b byte, carryIn bool) (res byte, z, n, h, cy bool) {
	ci := byte(0)
	if carryIn {
		ci = 1
	}
	r := int16(a) - int16(b) - int16(ci)
	res = byte(r)
	z = res == 0
	n = true
	h = (a & 0x0F) < ((b & 0x0F) + ci)
	cy = int16(a) < int16(b)+int16(ci)
	return
}

func (c *CPU) and8(a, b byte) (res byte, z, n, h, cy bool) {
	res = a & b
	z = res == 0
	n, h, cy = false, true, false
	return
}

func (c *CPU) xor8(a, b byte) (res byte, z, n, h, cy bool) {
	res = a ^ b
	z = res == 0
	n, h, cy = false, false, false
	return
}

func (c *CPU) or8(a, b byte) (res byte, z, n, h, cy bool) {
	res = a | b
	z = res == 0
	n, h, cy = false, false, false
	return
}

func (c *CPU) cp8(a, b byte) (z, n, h, cy bool) {
	_, z, n, h, cy = c.sub8(a, b)
	return
}

func (c *CPU) read8(addr uint16) byte     { return c.bus.Read(addr) }
func (c *CPU) write8(addr uint16, v byte) { c.bus.Write(addr, v) }

// fetch8 reads the byte at PC. A haltBug in effect consumes itself here,
// suppressing exactly one PC increment.
func (c *CPU) fetch8() byte {
	b := c.read8(c.PC)
	if c.haltBug {
		c.haltBug = false
	} else {
		c.PC++
	}
	return b
}

func (c *CPU) fetch16() uint16 {
	lo := uint16(c.fetch8())
	hi := uint16(c.fetch8())
	return lo | (hi << 8)
}

func (c *CPU) read16(addr uint16) uint16 {
	lo := uint16(c.read8(addr))
	hi := uint16(c.read8(addr + 1))
	return lo | (hi << 8)
}

func (c *CPU) write16(addr uint16, v uint16) {
	c.write8(addr, byte(v&0x00FF))
	c.write8(addr+1, byte(v>>8))
}

func (c *CPU) getAF() uint16  { return uint16(c.A)<<8 | uint16(c.F&0xF0) }
func (c *CPU) setAF(v uint16) { c.A = byte(v >> 8); c.F = byte(v) & 0xF0 }
func (c *CPU) getBC() uint16  { return uint16(c.B)<<8 | uint16(c.C) }
func (c *CPU) setBC(v uint16) { c.B = byte(v >> 8); c.C = byte(v) }
func (c *CPU) getDE() uint16  { return uint16(c.D)<<8 | uint16(c.E) }
func (c *CPU) setDE(v uint16) { c.D = byte(v >> 8); c.E = byte(v) }
func (c *CPU) getHL() uint16  { return uint16(c.H)<<8 | uint16(c.L) }
func (c *CPU) setHL(v uint16) { c.H = byte(v >> 8); c.L = byte(v) }

// reg8/setReg8 implement the LR35902's 3-bit register encoding shared by
// both the base LD r,r' block and every CB-prefixed opcode: 0-5 are
// B,C,D,E,H,L, 6 is (HL), 7 is A.
func (c *CPU) reg8(idx byte) byte {
	switch idx {
	case 0:
		return c.B
	case 1:
		return c.C
	case 2:
		return c.D
	case 3:
		return c.E
	case 4:
		return c.H
	case 5:
		return c.L
	case 6:
		return c.read8(c.getHL())
	default:
		return c.A
	}
}

func (c *CPU) setReg8(idx byte, v byte) {
	switch idx {
	case 0:
		c.B = v
	case 1:
		c.C = v
	case 2:
		c.D = v
	case 3:
		c.E = v
	case 4:
		c.H = v
	case 5:
		c.L = v
	case 6:
		c.write8(c.getHL(), v)
	default:
		c.A = v
	}
}

func (c *CPU) push16(v uint16) {
	c.SP -= 2
	c.write16(c.SP, v)
}

func (c *CPU) pop16() uint16 {
	v := c.read16(c.SP)
	c.SP += 2
	return v
}

// advanceEILatch runs the two-phase EI delay at the end of every
// instruction (including EI's own), per §9: EI only schedules; the
// instruction after that is what actually commits IME.
func (c *CPU) advanceEILatch() {
	if c.eiLastInstr {
		c.IME = true
		c.eiLastInstr = false
		return
	}
	if c.eiScheduled {
		c.eiLastInstr = true
		c.eiScheduled = false
	}
}

// Step fetches and executes one instruction, returning the number of
// T-cycles consumed (always a multiple of 4). While halted it performs no
// fetch and charges the frame driver's one stall cycle instead. F's low
// nibble is always zero by construction of setZNHC.
func (c *CPU) Step() (cycles int, err error) {
	defer c.advanceEILatch()

	if c.halted {
		return 4, nil
	}

	op := c.fetch8()
	return c.execute(op)
}

// ServiceInterrupt checks IE&IF; if nonzero it wakes the CPU from HALT,
// and if IME is also set it pushes PC, jumps to the vector, and reports
// true so the caller can charge the fixed 20 T-cycle service cost.
func (c *CPU) ServiceInterrupt() bool {
	ie := c.bus.IE()
	ifReg := c.bus.IF() & 0x1F
	pending := ie & ifReg
	if pending == 0 {
		return false
	}
	c.halted = false
	if !c.IME {
		return false
	}
	var bit uint
	for bit = 0; bit < 5; bit++ {
		if pending&(1<<bit) != 0 {
			break
		}
	}
	c.bus.SetIF(ifReg &^ (1 << bit))
	c.IME = false
	c.push16(c.PC)
	c.PC = 0x40 + uint16(bit)*8
	return true
}

func (c *CPU) aluSrc(op byte) byte { return c.reg8(op & 7) }

func (c *CPU) execute(op byte) (int, error) {
	switch {
	case op == 0x00: // NOP
		return 4, nil
	case op == 0x10: // STOP: unimplemented low-power state; consume its operand byte.
		c.fetch8()
		return 4, nil

	// LD r,d8
	case op == 0x06:
		c.B = c.fetch8()
		return 8, nil
	case op == 0x0E:
		c.C = c.fetch8()
		return 8, nil
	case op == 0x16:
		c.D = c.fetch8()
		return 8, nil
	case op == 0x1E:
		c.E = c.fetch8()
		return 8, nil
	case op == 0x26:
		c.H = c.fetch8()
		return 8, nil
	case op == 0x2E:
		c.L = c.fetch8()
		return 8, nil
	case op == 0x3E:
		c.A = c.fetch8()
		return 8, nil

	case op == 0x76: // HALT
		ie := c.bus.IE()
		ifReg := c.bus.IF() & 0x1F
		pending := ie & ifReg
		switch {
		case c.IME:
			// Pending or not, the driver's ServiceInterrupt call right
			// after this Step will take it; no need to halt if one is
			// already waiting.
			if pending == 0 {
				c.halted = true
			}
		case pending == 0:
			c.halted = true
		default:
			c.haltBug = true
		}
		return 4, nil

	case op >= 0x40 && op <= 0x7F: // LD r,r' / LD r,(HL) / LD (HL),r
		d := (op >> 3) & 7
		s := op & 7
		c.setReg8(d, c.reg8(s))
		if d == 6 || s == 6 {
			return 8, nil
		}
		return 4, nil

	// 16-bit loads
	case op == 0x01:
		c.setBC(c.fetch16())
		return 12, nil
	case op == 0x11:
		c.setDE(c.fetch16())
		return 12, nil
	case op == 0x21:
		c.setHL(c.fetch16())
		return 12, nil
	case op == 0x31:
		c.SP = c.fetch16()
		return 12, nil
	case op == 0x08: // LD (a16),SP
		addr := c.fetch16()
		c.write16(addr, c.SP)
		return 20, nil

	case op == 0x36: // LD (HL),d8
		v := c.fetch8()
		c.write8(c.getHL(), v)
		return 12, nil

	case op == 0x02:
		c.write8(c.getBC(), c.A)
		return 8, nil
	case op == 0x12:
		c.write8(c.getDE(), c.A)
		return 8, nil
	case op == 0x0A:
		c.A = c.read8(c.getBC())
		return 8, nil
	case op == 0x1A:
		c.A = c.read8(c.getDE())
		return 8, nil

	case op == 0x22: // LD (HL+),A
		hl := c.getHL()
		c.write8(hl, c.A)
		c.setHL(hl + 1)
		return 8, nil
	case op == 0x2A: // LD A,(HL+)
		hl := c.getHL()
		c.A = c.read8(hl)
		c.setHL(hl + 1)
		return 8, nil
	case op == 0x32: // LD (HL-),A
		hl := c.getHL()
		c.write8(hl, c.A)
		c.setHL(hl - 1)
		return 8, nil
	case op == 0x3A: // LD A,(HL-)
		hl := c.getHL()
		c.A = c.read8(hl)
		c.setHL(hl - 1)
		return 8, nil

	case op == 0xE0: // LDH (FF00+n),A
		n := uint16(c.fetch8())
		c.write8(0xFF00+n, c.A)
		return 12, nil
	case op == 0xF0: // LDH A,(FF00+n)
		n := uint16(c.fetch8())
		c.A = c.read8(0xFF00 + n)
		return 12, nil
	case op == 0xE2: // LD (FF00+C),A
		c.write8(0xFF00+uint16(c.C), c.A)
		return 8, nil
	case op == 0xF2: // LD A,(FF00+C)
		c.A = c.read8(0xFF00 + uint16(c.C))
		return 8, nil

	case op == 0x07: // RLCA
		cval := (c.A >> 7) & 1
		c.A = (c.A << 1) | cval
		c.setZNHC(false, false, false, cval == 1)
		return 4, nil
	case op == 0x0F: // RRCA
		cval := c.A & 1
		c.A = (c.A >> 1) | (cval << 7)
		c.setZNHC(false, false, false, cval == 1)
		return 4, nil
	case op == 0x17: // RLA
		cval := (c.A >> 7) & 1
		var carry byte
		if c.F&flagC != 0 {
			carry = 1
		}
		c.A = (c.A << 1) | carry
		c.setZNHC(false, false, false, cval == 1)
		return 4, nil
	case op == 0x1F: // RRA
		cval := c.A & 1
		var carry byte
		if c.F&flagC != 0 {
			carry = 1
		}
		c.A = (c.A >> 1) | (carry << 7)
		c.setZNHC(false, false, false, cval == 1)
		return 4, nil
	case op == 0x27: // DAA
		a := c.A
		cf := c.F&flagC != 0
		if c.F&flagN == 0 { // after addition
			if cf || a > 0x99 {
				a += 0x60
				cf = true
			}
			if c.F&flagH != 0 || (a&0x0F) > 9 {
				a += 0x06
			}
		} else { // after subtraction
			if cf {
				a -= 0x60
			}
			if c.F&flagH != 0 {
				a -= 0x06
			}
		}
		c.A = a
		c.setZNHC(c.A == 0, c.F&flagN != 0, false, cf)
		return 4, nil
	case op == 0x2F: // CPL
		c.A = ^c.A
		c.F = (c.F & (flagZ | flagC)) | flagN | flagH
		return 4, nil
	case op == 0x37: // SCF
		c.F = (c.F & flagZ) | flagC
		return 4, nil
	case op == 0x3F: // CCF
		if c.F&flagC != 0 {
			c.F &^= flagC
		} else {
			c.F |= flagC
		}
		c.F &^= flagN | flagH
		c.F &= flagZ | flagC
		return 4, nil

	case op == 0x04:
		old := c.B
		c.B++
		c.setZNHC(c.B == 0, false, old&0x0F == 0x0F, c.F&flagC != 0)
		return 4, nil
	case op == 0x0C:
		old := c.C
		c.C++
		c.setZNHC(c.C == 0, false, old&0x0F == 0x0F, c.F&flagC != 0)
		return 4, nil
	case op == 0x14:
		old := c.D
		c.D++
		c.setZNHC(c.D == 0, false, old&0x0F == 0x0F, c.F&flagC != 0)
		return 4, nil
	case op == 0x1C:
		old := c.E
		c.E++
		c.setZNHC(c.E == 0, false, old&0x0F == 0x0F, c.F&flagC != 0)
		return 4, nil
	case op == 0x24:
		old := c.H
		c.H++
		c.setZNHC(c.H == 0, false, old&0x0F == 0x0F, c.F&flagC != 0)
		return 4, nil
	case op == 0x2C:
		old := c.L
		c.L++
		c.setZNHC(c.L == 0, false, old&0x0F == 0x0F, c.F&flagC != 0)
		return 4, nil
	case op == 0x3C:
		old := c.A
		c.A++
		c.setZNHC(c.A == 0, false, old&0x0F == 0x0F, c.F&flagC != 0)
		return 4, nil
	case op == 0x34: // INC (HL)
		addr := c.getHL()
		old := c.read8(addr)
		v := old + 1
		c.write8(addr, v)
		c.setZNHC(v == 0, false, old&0x0F == 0x0F, c.F&flagC != 0)
		return 12, nil

	case op == 0x05:
		old := c.B
		c.B--
		c.setZNHC(c.B == 0, true, old&0x0F == 0x00, c.F&flagC != 0)
		return 4, nil
	case op == 0x0D:
		old := c.C
		c.C--
		c.setZNHC(c.C == 0, true, old&0x0F == 0x00, c.F&flagC != 0)
		return 4, nil
	case op == 0x15:
		old := c.D
		c.D--
		c.setZNHC(c.D == 0, true, old&0x0F == 0x00, c.F&flagC != 0)
		return 4, nil
	case op == 0x1D:
		old := c.E
		c.E--
		c.setZNHC(c.E == 0, true, old&0x0F == 0x00, c.F&flagC != 0)
		return 4, nil
	case op == 0x25:
		old := c.H
		c.H--
		c.setZNHC(c.H == 0, true, old&0x0F == 0x00, c.F&flagC != 0)
		return 4, nil
	case op == 0x2D:
		old := c.L
		c.L--
		c.setZNHC(c.L == 0, true, old&0x0F == 0x00, c.F&flagC != 0)
		return 4, nil
	case op == 0x3D:
		old := c.A
		c.A--
		c.setZNHC(c.A == 0, true, old&0x0F == 0x00, c.F&flagC != 0)
		return 4, nil
	case op == 0x35: // DEC (HL)
		addr := c.getHL()
		old := c.read8(addr)
		v := old - 1
		c.write8(addr, v)
		c.setZNHC(v == 0, true, old&0x0F == 0x00, c.F&flagC != 0)
		return 12, nil

	// ALU with registers (groups of 7: B,C,D,E,H,L,A; (HL) handled separately below)
	case op >= 0x80 && op <= 0x87 && op != 0x86:
		r, z, n, h, cy := c.add8(c.A, c.aluSrc(op))
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 4, nil
	case op >= 0x88 && op <= 0x8F && op != 0x8E:
		r, z, n, h, cy := c.adc8(c.A, c.aluSrc(op), c.F&flagC != 0)
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 4, nil
	case op >= 0x90 && op <= 0x97 && op != 0x96:
		r, z, n, h, cy := c.sub8(c.A, c.aluSrc(op))
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 4, nil
	case op >= 0x98 && op <= 0x9F && op != 0x9E:
		r, z, n, h, cy := c.sbc8(c.A, c.aluSrc(op), c.F&flagC != 0)
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 4, nil
	case op >= 0xA0 && op <= 0xA7 && op != 0xA6:
		r, z, n, h, cy := c.and8(c.A, c.aluSrc(op))
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 4, nil
	case op >= 0xA8 && op <= 0xAF && op != 0xAE:
		r, z, n, h, cy := c.xor8(c.A, c.aluSrc(op))
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 4, nil
	case op >= 0xB0 && op <= 0xB7 && op != 0xB6:
		r, z, n, h, cy := c.or8(c.A, c.aluSrc(op))
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 4, nil
	case op >= 0xB8 && op <= 0xBF && op != 0xBE:
		z, n, h, cy := c.cp8(c.A, c.aluSrc(op))
		c.setZNHC(z, n, h, cy)
		return 4, nil

	// ALU with (HL)
	case op == 0x86:
		r, z, n, h, cy := c.add8(c.A, c.read8(c.getHL()))
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 8, nil
	case op == 0x8E:
		r, z, n, h, cy := c.adc8(c.A, c.read8(c.getHL()), c.F&flagC != 0)
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 8, nil
	case op == 0x96:
		r, z, n, h, cy := c.sub8(c.A, c.read8(c.getHL()))
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 8, nil
	case op == 0x9E:
		r, z, n, h, cy := c.sbc8(c.A, c.read8(c.getHL()), c.F&flagC != 0)
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 8, nil
	case op == 0xA6:
		r, z, n, h, cy := c.and8(c.A, c.read8(c.getHL()))
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 8, nil
	case op == 0xAE:
		r, z, n, h, cy := c.xor8(c.A, c.read8(c.getHL()))
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 8, nil
	case op == 0xB6:
		r, z, n, h, cy := c.or8(c.A, c.read8(c.getHL()))
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 8, nil
	case op == 0xBE:
		z, n, h, cy := c.cp8(c.A, c.read8(c.getHL()))
		c.setZNHC(z, n, h, cy)
		return 8, nil

	// ALU immediate
	case op == 0xC6:
		r, z, n, h, cy := c.add8(c.A, c.fetch8())
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 8, nil
	case op == 0xCE:
		r, z, n, h, cy := c.adc8(c.A, c.fetch8(), c.F&flagC != 0)
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 8, nil
	case op == 0xD6:
		r, z, n, h, cy := c.sub8(c.A, c.fetch8())
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 8, nil
	case op == 0xDE:
		r, z, n, h, cy := c.sbc8(c.A, c.fetch8(), c.F&flagC != 0)
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 8, nil
	case op == 0xE6:
		r, z, n, h, cy := c.and8(c.A, c.fetch8())
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 8, nil
	case op == 0xEE:
		r, z, n, h, cy := c.xor8(c.A, c.fetch8())
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 8, nil
	case op == 0xF6:
		r, z, n, h, cy := c.or8(c.A, c.fetch8())
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 8, nil
	case op == 0xFE:
		z, n, h, cy := c.cp8(c.A, c.fetch8())
		c.setZNHC(z, n, h, cy)
		return 8, nil

	case op == 0xEA: // LD (a16),A
		addr := c.fetch16()
		c.write8(addr, c.A)
		return 16, nil
	case op == 0xFA: // LD A,(a16)
		addr := c.fetch16()
		c.A = c.read8(addr)
		return 16, nil

	case op == 0xC3: // JP a16
		c.PC = c.fetch16()
		return 16, nil
	case op == 0xE9: // JP (HL)
		c.PC = c.getHL()
		return 4, nil
	case op == 0x18: // JR r8
		off := int8(c.fetch8())
		c.PC = uint16(int32(c.PC) + int32(off))
		return 12, nil

	case op == 0x20: // JR NZ
		off := int8(c.fetch8())
		if c.F&flagZ == 0 {
			c.PC = uint16(int32(c.PC) + int32(off))
			return 12, nil
		}
		return 8, nil
	case op == 0x28: // JR Z
		off := int8(c.fetch8())
		if c.F&flagZ != 0 {
			c.PC = uint16(int32(c.PC) + int32(off))
			return 12, nil
		}
		return 8, nil
	case op == 0x30: // JR NC
		off := int8(c.fetch8())
		if c.F&flagC == 0 {
			c.PC = uint16(int32(c.PC) + int32(off))
			return 12, nil
		}
		return 8, nil
	case op == 0x38: // JR C
		off := int8(c.fetch8())
		if c.F&flagC != 0 {
			c.PC = uint16(int32(c.PC) + int32(off))
			return 12, nil
		}
		return 8, nil

	case op == 0xCD: // CALL a16
		addr := c.fetch16()
		c.push16(c.PC)
		c.PC = addr
		return 24, nil
	case op == 0xC9: // RET
		c.PC = c.pop16()
		return 16, nil
	case op == 0xD9: // RETI
		c.PC = c.pop16()
		c.IME = true
		c.eiScheduled = false
		c.eiLastInstr = false
		return 16, nil

	case op == 0xC7, op == 0xCF, op == 0xD7, op == 0xDF,
		op == 0xE7, op == 0xEF, op == 0xF7, op == 0xFF:
		c.push16(c.PC)
		c.PC = uint16(op & 0x38)
		return 16, nil

	case op == 0xC4: // CALL NZ
		addr := c.fetch16()
		if c.F&flagZ == 0 {
			c.push16(c.PC)
			c.PC = addr
			return 24, nil
		}
		return 12, nil
	case op == 0xCC: // CALL Z
		addr := c.fetch16()
		if c.F&flagZ != 0 {
			c.push16(c.PC)
			c.PC = addr
			return 24, nil
		}
		return 12, nil
	case op == 0xD4: // CALL NC
		addr := c.fetch16()
		if c.F&flagC == 0 {
			c.push16(c.PC)
			c.PC = addr
			return 24, nil
		}
		return 12, nil
	case op == 0xDC: // CALL C
		addr := c.fetch16()
		if c.F&flagC != 0 {
			c.push16(c.PC)
			c.PC = addr
			return 24, nil
		}
		return 12, nil

	case op == 0xC0: // RET NZ
		if c.F&flagZ == 0 {
			c.PC = c.pop16()
			return 20, nil
		}
		return 8, nil
	case op == 0xC8: // RET Z
		if c.F&flagZ != 0 {
			c.PC = c.pop16()
			return 20, nil
		}
		return 8, nil
	case op == 0xD0: // RET NC
		if c.F&flagC == 0 {
			c.PC = c.pop16()
			return 20, nil
		}
		return 8, nil
	case op == 0xD8: // RET C
		if c.F&flagC != 0 {
			c.PC = c.pop16()
			return 20, nil
		}
		return 8, nil

	case op == 0xC2: // JP NZ,a16
		addr := c.fetch16()
		if c.F&flagZ == 0 {
			c.PC = addr
			return 16, nil
		}
		return 12, nil
	case op == 0xCA: // JP Z,a16
		addr := c.fetch16()
		if c.F&flagZ != 0 {
			c.PC = addr
			return 16, nil
		}
		return 12, nil
	case op == 0xD2: // JP NC,a16
		addr := c.fetch16()
		if c.F&flagC == 0 {
			c.PC = addr
			return 16, nil
		}
		return 12, nil
	case op == 0xDA: // JP C,a16
		addr := c.fetch16()
		if c.F&flagC != 0 {
			c.PC = addr
			return 16, nil
		}
		return 12, nil

	case op == 0x03:
		c.setBC(c.getBC() + 1)
		return 8, nil
	case op == 0x13:
		c.setDE(c.getDE() + 1)
		return 8, nil
	case op == 0x23:
		c.setHL(c.getHL() + 1)
		return 8, nil
	case op == 0x33:
		c.SP++
		return 8, nil
	case op == 0x0B:
		c.setBC(c.getBC() - 1)
		return 8, nil
	case op == 0x1B:
		c.setDE(c.getDE() - 1)
		return 8, nil
	case op == 0x2B:
		c.setHL(c.getHL() - 1)
		return 8, nil
	case op == 0x3B:
		c.SP--
		return 8, nil

	case op == 0x09, op == 0x19, op == 0x29, op == 0x39: // ADD HL,rr
		hl := c.getHL()
		var rhs uint16
		switch op {
		case 0x09:
			rhs = c.getBC()
		case 0x19:
			rhs = c.getDE()
		case 0x29:
			rhs = hl
		case 0x39:
			rhs = c.SP
		}
		r := uint32(hl) + uint32(rhs)
		h := (hl&0x0FFF)+(rhs&0x0FFF) > 0x0FFF
		c.setHL(uint16(r))
		c.setZNHC(c.F&flagZ != 0, false, h, r > 0xFFFF)
		return 8, nil

	case op == 0xF8: // LD HL,SP+e8
		off := int8(c.fetch8())
		low := byte(c.SP & 0xFF)
		_, _, _, h, cy := c.add8(low, byte(off))
		c.setHL(uint16(int32(int16(c.SP)) + int32(off)))
		c.setZNHC(false, false, h, cy)
		return 12, nil
	case op == 0xF9: // LD SP,HL
		c.SP = c.getHL()
		return 8, nil
	case op == 0xE8: // ADD SP,e8
		off := int8(c.fetch8())
		low := byte(c.SP & 0xFF)
		_, _, _, h, cy := c.add8(low, byte(off))
		c.SP = uint16(int32(int16(c.SP)) + int32(off))
		c.setZNHC(false, false, h, cy)
		return 16, nil

	case op == 0xF3: // DI
		c.IME = false
		c.eiScheduled = false
		c.eiLastInstr = false
		return 4, nil
	case op == 0xFB: // EI
		c.eiScheduled = true
		return 4, nil

	case op == 0xCB:
		return c.executeCB(c.fetch8())

	case op == 0xF5:
		c.push16(c.getAF())
		return 16, nil
	case op == 0xC5:
		c.push16(c.getBC())
		return 16, nil
	case op == 0xD5:
		c.push16(c.getDE())
		return 16, nil
	case op == 0xE5:
		c.push16(c.getHL())
		return 16, nil
	case op == 0xF1:
		c.setAF(c.pop16())
		return 12, nil
	case op == 0xC1:
		c.setBC(c.pop16())
		return 12, nil
	case op == 0xD1:
		c.setDE(c.pop16())
		return 12, nil
	case op == 0xE1:
		c.setHL(c.pop16())
		return 12, nil

	case isIllegalOpcode(op):
		return 0, &UnknownOpcodeError{PC: c.PC - 1, Op: op}

	default:
		// Unreachable: every remaining byte is covered above.
		return 0, &UnknownOpcodeError{PC: c.PC - 1, Op: op}
	}
}

func isIllegalOpcode(op byte) bool {
	switch op {
	case 0xD3, 0xDB, 0xDD, 0xE3, 0xE4, 0xEB, 0xEC, 0xED, 0xF4, 0xFC, 0xFD:
		return true
	}
	return false
}

// executeCB decodes a CB-prefixed opcode: bits 6-7 select the operation
// group (rotate/shift family, BIT, RES, SET), bits 3-5 select the bit
// index (or, for group 0, the specific rotate/shift variant), bits 0-2
// select the operand register per the shared reg8/setReg8 encoding.
func (c *CPU) executeCB(cb byte) (int, error) {
	reg := cb & 7
	opg := (cb >> 6) & 3
	y := (cb >> 3) & 7

	cycles := 8
	if reg == 6 {
		cycles = 16
	}

	switch opg {
	case 0: // rotate/shift/swap
		v := c.reg8(reg)
		var cflag byte
		switch y {
		case 0: // RLC
			cflag = (v >> 7) & 1
			v = (v << 1) | cflag
		case 1: // RRC
			cflag = v & 1
			v = (v >> 1) | (cflag << 7)
		case 2: // RL
			cflag = (v >> 7) & 1
			var cin byte
			if c.F&flagC != 0 {
				cin = 1
			}
			v = (v << 1) | cin
		case 3: // RR
			cflag = v & 1
			var cin byte
			if c.F&flagC != 0 {
				cin = 1
			}
			v = (v >> 1) | (cin << 7)
		case 4: // SLA
			cflag = (v >> 7) & 1
			v <<= 1
		case 5: // SRA
			cflag = v & 1
			v = (v >> 1) | (v & 0x80)
		case 6: // SWAP
			v = (v << 4) | (v >> 4)
		case 7: // SRL
			cflag = v & 1
			v >>= 1
		}
		if y == 6 {
			c.setZNHC(v == 0, false, false, false)
		} else {
			c.setZNHC(v == 0, false, false, cflag == 1)
		}
		c.setReg8(reg, v)
	case 1: // BIT y,r
		v := c.reg8(reg)
		bit := (v >> y) & 1
		c.F = (c.F & flagC) | flagH
		if bit == 0 {
			c.F |= flagZ
		}
		if reg == 6 {
			cycles = 12
		}
	case 2: // RES y,r
		c.setReg8(reg, c.reg8(reg)&^(1<<y))
	case 3: // SET y,r
		c.setReg8(reg, c.reg8(reg)|(1<<y))
	}
	return cycles, nil
}
