package cart

import "fmt"

// Cartridge is the interface the MMU uses for ROM/external-RAM banking.
// Addresses are CPU addresses; the MMU delegates both the 0x0000-0x7FFF
// control region and the 0xA000-0xBFFF external-RAM window here.
type Cartridge interface {
	Read(addr uint16) byte
	Write(addr uint16, value byte)

	// SaveRAM returns a copy of external RAM (nil if the cart has none).
	// LoadRAM populates external RAM from a previously saved image.
	SaveRAM() []byte
	LoadRAM(data []byte)
}

// LoadError reports a fatal problem with a cartridge image. All LoadErrors
// are meant to be surfaced to the user before the frame loop starts.
type LoadError struct {
	Reason string
}

func (e *LoadError) Error() string { return "cart: " + e.Reason }

const maxROMBytes = 2 * 1024 * 1024

// NewCartridge parses the header, validates it, and builds the matching MBC.
// Only cart-type bytes 0x00, 0x01, 0x02, 0x03, 0x11, 0x12, 0x13 are accepted;
// any other value, a too-large image, an undecodable ROM-size byte, or a
// header checksum mismatch is a fatal *LoadError.
func NewCartridge(rom []byte) (Cartridge, error) {
	if len(rom) == 0 {
		return nil, &LoadError{Reason: "empty ROM image"}
	}
	if len(rom) > maxROMBytes {
		return nil, &LoadError{Reason: fmt.Sprintf("ROM image too large: %d bytes (max %d)", len(rom), maxROMBytes)}
	}
	h, err := ParseHeader(rom)
	if err != nil {
		return nil, &LoadError{Reason: err.Error()}
	}
	if h.ROMSizeBytes == 0 {
		return nil, &LoadError{Reason: fmt.Sprintf("unrecognized ROM size byte 0x%02X", h.ROMSizeCode)}
	}
	if !HeaderChecksumOK(rom) {
		return nil, &LoadError{Reason: fmt.Sprintf("header checksum mismatch (stored 0x%02X)", h.HeaderChecksum)}
	}

	switch h.CartType {
	case 0x00:
		return NewROMOnly(rom), nil
	case 0x01, 0x02, 0x03:
		return NewMBC1(rom, h.RAMSizeBytes), nil
	case 0x11, 0x12, 0x13:
		return NewMBC3(rom, h.RAMSizeBytes), nil
	default:
		return nil, &LoadError{Reason: fmt.Sprintf("unsupported cartridge type 0x%02X", h.CartType)}
	}
}
