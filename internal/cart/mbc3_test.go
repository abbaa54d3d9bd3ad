package cart

import "testing"

func TestMBC3_ROMBanking(t *testing.T) {
	rom := make([]byte, 256*1024) // 16 banks
	for bank := 0; bank < 16; bank++ {
		rom[bank*0x4000] = byte(bank)
	}
	m := NewMBC3(rom, 0)

	if got := m.Read(0x0000); got != 0x00 {
		t.Fatalf("bank0 read got %02X want 00", got)
	}
	if got := m.Read(0x4000); got != 0x01 {
		t.Fatalf("default switchable bank got %02X want 01", got)
	}

	m.Write(0x2000, 0x05)
	if got := m.Read(0x4000); got != 0x05 {
		t.Fatalf("bank5 read got %02X want 05", got)
	}

	// Writing 0 maps to 1.
	m.Write(0x2000, 0x00)
	if got := m.Read(0x4000); got != 0x01 {
		t.Fatalf("bank0->1 remap failed: got %02X", got)
	}
}

func TestMBC3_RAMBanking(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC3(rom, 32*1024)

	// RAM reads 0xFF while disabled.
	if got := m.Read(0xA000); got != 0xFF {
		t.Fatalf("disabled RAM read got %02X want FF", got)
	}

	m.Write(0x0000, 0x0A) // enable
	m.Write(0x4000, 0x02) // RAM bank 2

	m.Write(0xA000, 0x42)
	if got := m.Read(0xA000); got != 0x42 {
		t.Fatalf("RAM bank2 RW failed: got %02X", got)
	}

	// Switching bank exposes distinct storage.
	m.Write(0x4000, 0x00)
	if got := m.Read(0xA000); got == 0x42 {
		t.Fatalf("RAM bank0 unexpectedly aliases bank2")
	}
}

func TestMBC3_SaveLoadRAM(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC3(rom, 8*1024)
	m.Write(0x0000, 0x0A)
	m.Write(0xA010, 0x99)

	data := m.SaveRAM()
	n := NewMBC3(rom, 8*1024)
	n.LoadRAM(data)
	n.Write(0x0000, 0x0A)
	if got := n.Read(0xA010); got != 0x99 {
		t.Fatalf("restored RAM got %02X want 99", got)
	}
}
