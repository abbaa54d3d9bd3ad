package ppu

import "testing"

func TestRenderWindowLineStartsAtWX(t *testing.T) {
	const mapBase = uint16(0x9800)
	const fineY = byte(2)
	mem := planarTile{
		mapBase + 0: 0,
		mapBase + 1: 1,
	}
	base0 := uint16(0x8000) + 0*16 + uint16(fineY)*2
	mem[base0], mem[base0+1] = 0xAA, 0x0F
	base1 := uint16(0x8000) + 1*16 + uint16(fineY)*2
	mem[base1], mem[base1+1] = 0x55, 0xF0

	const wxStart = 20
	out := renderWindowLine(mem, mapBase, true, wxStart, fineY)

	for x := 0; x < wxStart; x++ {
		if out[x] != 0 {
			t.Fatalf("pixel %d before WX = %d, want 0", x, out[x])
		}
	}
	for i := 0; i < 8; i++ {
		if want := expectedPixel(0xAA, 0x0F, 7-i); out[wxStart+i] != want {
			t.Fatalf("tile0 window pixel %d = %d, want %d", i, out[wxStart+i], want)
		}
	}
	for i := 0; i < 8; i++ {
		if want := expectedPixel(0x55, 0xF0, 7-i); out[wxStart+8+i] != want {
			t.Fatalf("tile1 window pixel %d = %d, want %d", i, out[wxStart+8+i], want)
		}
	}
}

func TestRenderWindowLineClampsOutOfRangeWX(t *testing.T) {
	mem := planarTile{}
	if out := renderWindowLine(mem, 0x9800, true, 160, 0); out != ([160]byte{}) {
		t.Fatal("wxStart >= 160 should produce an all-zero line")
	}
	// A negative wxStart clamps to 0 rather than underflowing the loop bound.
	out := renderWindowLine(mem, 0x9800, true, -3, 0)
	if len(out) != 160 {
		t.Fatalf("unexpected output length %d", len(out))
	}
}
