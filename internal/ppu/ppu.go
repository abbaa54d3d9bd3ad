// Package ppu implements the DMG pixel-processing unit: the LCDC/STAT mode
// state machine, LY/LYC coincidence, and the scanline renderer that
// composites background, window, and sprites into a 160x144 framebuffer.
package ppu

// InterruptRequester is a callback signature to request IF bits (0:VBlank, 1:STAT).
type InterruptRequester func(bit int)

const (
	ScreenW = 160
	ScreenH = 144
)

// dmgPalette maps a 2-bit shade index to RGBA8888, lightest to darkest.
var dmgPalette = [4]uint32{0xFFFFFFFF, 0xAAAAAAFF, 0x555555FF, 0x000000FF}

// PPU models VRAM/OAM, LCDC/STAT regs, LY/LYC, mode timing, and the
// scanline compositor. It exposes CPU-facing Read/Write for VRAM/OAM and
// PPU IO regs, and Tick to advance the mode state machine.
type PPU struct {
	// memory
	vram [0x2000]byte // 0x8000-0x9FFF
	oam  [0xA0]byte   // 0xFE00-0xFE9F

	// regs
	lcdc byte // FF40
	stat byte // FF41 (mode bits 0-1, coincidence flag bit2, enables bits3-6)
	scy  byte // FF42
	scx  byte // FF43
	ly   byte // FF44
	lyc  byte // FF45
	bgp  byte // FF47
	obp0 byte // FF48
	obp1 byte // FF49
	wy   byte // FF4A
	wx   byte // FF4B

	modeClock int // T-cycles elapsed in the current mode; resets on each transition

	windowLineEnable bool // latched true this frame once LY==WY is seen during mode 2
	windowLine       int  // internal window line counter, advances only when the window draws

	framebuffer [ScreenW * ScreenH]uint32

	req InterruptRequester
}

func New(req InterruptRequester) *PPU {
	p := &PPU{req: req}
	p.clearFramebufferWhite()
	return p
}

// Framebuffer returns the rendered 160x144 RGBA8888 pixel grid, row-major.
func (p *PPU) Framebuffer() *[ScreenW * ScreenH]uint32 { return &p.framebuffer }

func (p *PPU) clearFramebufferWhite() {
	for i := range p.framebuffer {
		p.framebuffer[i] = dmgPalette[0]
	}
}

func (p *PPU) LY() byte   { return p.ly }
func (p *PPU) Mode() byte { return p.stat & 0x03 }

// CPURead returns bytes for VRAM, OAM, and PPU IO registers. Returns 0xFF for others.
func (p *PPU) CPURead(addr uint16) byte {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		if (p.stat & 0x03) == 3 {
			return 0xFF
		}
		return p.vram[addr-0x8000]
	case addr >= 0xFE00 && addr <= 0xFE9F:
		m := p.stat & 0x03
		if m == 2 || m == 3 {
			return 0xFF
		}
		return p.oam[addr-0xFE00]
	case addr == 0xFF40:
		return p.lcdc
	case addr == 0xFF41:
		return 0x80 | (p.stat & 0x7F)
	case addr == 0xFF42:
		return p.scy
	case addr == 0xFF43:
		return p.scx
	case addr == 0xFF44:
		return p.ly
	case addr == 0xFF45:
		return p.lyc
	case addr == 0xFF47:
		return p.bgp
	case addr == 0xFF48:
		return p.obp0
	case addr == 0xFF49:
		return p.obp1
	case addr == 0xFF4A:
		return p.wy
	case addr == 0xFF4B:
		return p.wx
	default:
		return 0xFF
	}
}

// CPUWrite handles writes to VRAM, OAM, and PPU IO regs.
func (p *PPU) CPUWrite(addr uint16, value byte) {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		if (p.stat & 0x03) == 3 {
			return
		}
		p.vram[addr-0x8000] = value
	case addr >= 0xFE00 && addr <= 0xFE9F:
		m := p.stat & 0x03
		if m == 2 || m == 3 {
			return
		}
		p.oam[addr-0xFE00] = value
	case addr == 0xFF40:
		p.writeLCDC(value)
	case addr == 0xFF41:
		// Bits 0-2 are read-only (mode + coincidence); bit 7 always reads 1.
		p.stat = (p.stat & 0x07) | (value & 0x78)
	case addr == 0xFF42:
		p.scy = value
	case addr == 0xFF43:
		p.scx = value
	case addr == 0xFF44:
		p.ly = 0
		p.updateLYC()
	case addr == 0xFF45:
		p.lyc = value
		p.updateLYC()
	case addr == 0xFF47:
		p.bgp = value
	case addr == 0xFF48:
		p.obp0 = value
	case addr == 0xFF49:
		p.obp1 = value
	case addr == 0xFF4A:
		p.wy = value
	case addr == 0xFF4B:
		p.wx = value
	}
}

// OAMDMAWrite is used by the MMU's OAM DMA copy; it bypasses the PPU-mode
// write gating CPUWrite applies, since the transfer is driven by the MMU.
func (p *PPU) OAMDMAWrite(index int, value byte) {
	p.oam[index] = value
}

func (p *PPU) writeLCDC(value byte) {
	prev := p.lcdc
	p.lcdc = value
	wasOn := prev&0x80 != 0
	isOn := value&0x80 != 0
	if wasOn && !isOn {
		p.setMode(0)
		p.modeClock = 0
		p.ly = 0
		p.updateLYC()
		p.clearFramebufferWhite()
	} else if !wasOn && isOn {
		p.ly = 0
		p.modeClock = 0
		p.windowLine = 0
		p.updateLYC()
		p.windowLineEnable = p.ly == p.wy
		p.setMode(2)
	}
}

func (p *PPU) updateLYC() {
	now := p.ly == p.lyc
	wasSet := p.stat&0x04 != 0
	if now {
		p.stat |= 1 << 2
	} else {
		p.stat &^= 1 << 2
	}
	if now && !wasSet && p.stat&0x40 != 0 {
		p.raiseSTAT()
	}
}

func (p *PPU) raiseSTAT() {
	if p.req != nil {
		p.req(1)
	}
}

func (p *PPU) raiseVBlank() {
	if p.req != nil {
		p.req(0)
	}
}

// Tick advances the PPU by the given number of T-cycles, driving the mode
// state machine and rendering a scanline at each mode-3-to-0 transition.
// While the LCD is disabled (LCDC bit 7 clear) the clock does not advance.
func (p *PPU) Tick(cycles int) {
	if cycles <= 0 {
		return
	}
	for i := 0; i < cycles; i++ {
		if p.lcdc&0x80 == 0 {
			return
		}
		p.modeClock++
		switch p.stat & 0x03 {
		case 2: // OAM scan, 80 T
			if p.modeClock >= 80 {
				p.modeClock = 0
				p.setMode(3)
			}
		case 3: // Drawing, 172 T
			if p.modeClock >= 172 {
				p.renderScanline()
				p.modeClock = 0
				p.setMode(0)
			}
		case 0: // HBlank, 204 T
			if p.modeClock >= 204 {
				p.modeClock = 0
				p.ly++
				p.updateLYC()
				if p.ly == 144 {
					p.setMode(1)
				} else {
					p.setMode(2)
				}
			}
		case 1: // VBlank, 456 T per line x 10 lines
			if p.modeClock >= 456 {
				p.modeClock = 0
				p.ly++
				if p.ly > 153 {
					p.ly = 0
					p.updateLYC()
					p.setMode(2)
				} else {
					p.updateLYC()
				}
			}
		}
	}
}

func (p *PPU) setMode(mode byte) {
	p.stat = (p.stat &^ 0x03) | (mode & 0x03)
	switch mode {
	case 2:
		if p.ly == p.wy {
			p.windowLineEnable = true
		}
		if p.ly == 0 {
			p.windowLine = 0
			p.windowLineEnable = p.ly == p.wy
		}
		if p.stat&0x20 != 0 {
			p.raiseSTAT()
		}
	case 0:
		if p.stat&0x08 != 0 {
			p.raiseSTAT()
		}
	case 1:
		p.raiseVBlank()
		if p.stat&0x10 != 0 {
			p.raiseSTAT()
		}
	}
}

// Registers exposed for the scanline renderer and debug tooling.
func (p *PPU) BGP() byte  { return p.bgp }
func (p *PPU) OBP0() byte { return p.obp0 }
func (p *PPU) OBP1() byte { return p.obp1 }
func (p *PPU) LCDC() byte { return p.lcdc }
func (p *PPU) SCY() byte  { return p.scy }
func (p *PPU) SCX() byte  { return p.scx }
func (p *PPU) WY() byte   { return p.wy }
func (p *PPU) WX() byte   { return p.wx }

// vramAccessor adapts the PPU's raw VRAM array to the VRAMReader interface
// the tile fetcher expects, for absolute 0x8000-based addressing.
type vramAccessor struct{ p *PPU }

func (v vramAccessor) Read(addr uint16) byte { return v.p.vram[addr-0x8000] }

func applyPalette(pal byte, colorID byte) uint32 {
	shade := (pal >> (colorID * 2)) & 0x03
	return dmgPalette[shade]
}

// renderScanline composites background, window, and sprites for the
// current LY into the framebuffer. Invoked once per scanline, at the
// mode-3-to-0 transition.
func (p *PPU) renderScanline() {
	if p.ly >= ScreenH {
		return
	}
	mem := vramAccessor{p}

	var bgIdx [ScreenW]byte
	if p.lcdc&0x01 != 0 {
		bgMap := uint16(0x9800)
		if p.lcdc&0x08 != 0 {
			bgMap = 0x9C00
		}
		bgIdx = renderBackgroundLine(mem, bgMap, p.lcdc&0x10 != 0, p.scx, p.scy, p.ly)
	}

	windowDrawn := false
	if p.lcdc&0x20 != 0 && p.windowLineEnable && int(p.wx) <= 166 && p.ly >= p.wy {
		wxStart := int(p.wx) - 7
		if wxStart < 160 {
			winMap := uint16(0x9800)
			if p.lcdc&0x40 != 0 {
				winMap = 0x9C00
			}
			win := renderWindowLine(mem, winMap, p.lcdc&0x10 != 0, wxStart, byte(p.windowLine))
			start := wxStart
			if start < 0 {
				start = 0
			}
			for x := start; x < ScreenW; x++ {
				bgIdx[x] = win[x]
			}
			windowDrawn = true
		}
	}
	if windowDrawn {
		p.windowLine++
	}

	for x := 0; x < ScreenW; x++ {
		colorID := bgIdx[x]
		if p.lcdc&0x01 == 0 {
			colorID = 0
		}
		p.framebuffer[int(p.ly)*ScreenW+x] = applyPalette(p.bgp, colorID)
	}

	if p.lcdc&0x02 != 0 {
		p.renderSprites(bgIdx)
	}
}
