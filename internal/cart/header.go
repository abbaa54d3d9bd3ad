package cart

import (
	"encoding/binary"
	"errors"
	"strings"
)

// Header field offsets within the cartridge header, per the Pan Docs layout
// at 0x0100-0x014F.
const (
	headerStart = 0x0100
	headerEnd   = 0x014F

	offTitle          = 0x0134
	offTitleEnd       = 0x0144
	offCGBFlag        = 0x0143
	offNewLicensee    = 0x0144
	offSGBFlag        = 0x0146
	offCartType       = 0x0147
	offROMSize        = 0x0148
	offRAMSize        = 0x0149
	offDestination    = 0x014A
	offOldLicensee    = 0x014B
	offROMVersion     = 0x014C
	offHeaderChecksum = 0x014D
	offGlobalChecksum = 0x014E
)

// bootLogo is the 48-byte Nintendo logo every licensed boot ROM compares
// against byte-for-byte before continuing; a mismatch halts a real DMG.
// ParseHeader only records the result in Header.LogoOK (cmd/gbcore logs
// it) and does not reject the ROM, since homebrew and conformance-test
// ROMs routinely omit it.
var bootLogo = [48]byte{
	0xCE, 0xED, 0x66, 0x66, 0xCC, 0x0D, 0x00, 0x0B, 0x03, 0x73, 0x00, 0x83, 0x00, 0x0C, 0x00, 0x0D,
	0x00, 0x08, 0x11, 0x1F, 0x88, 0x89, 0x00, 0x0E, 0xDC, 0xCC, 0x6E, 0xE6, 0xDD, 0xDD, 0xD9, 0x99,
	0xBB, 0xBB, 0x67, 0x63, 0x6E, 0x0E, 0xEC, 0xCC, 0xDD, 0xDC, 0x99, 0x9F, 0xBB, 0xB9, 0x33, 0x3E,
}

// Header is the decoded cartridge header: the raw bytes plus the derived
// fields (ROM/RAM sizing, cart type description) NewCartridge and
// diagnostic logging need.
type Header struct {
	Title          string // trimmed ASCII, 0x0134-0x0143
	CGBFlag        byte
	NewLicensee    string
	SGBFlag        byte
	CartType       byte
	ROMSizeCode    byte
	RAMSizeCode    byte
	Destination    byte
	OldLicensee    byte
	ROMVersion     byte
	HeaderChecksum byte
	GlobalChecksum uint16

	ROMSizeBytes int
	ROMBanks     int
	RAMSizeBytes int
	CartTypeStr  string
	LogoOK       bool // whether the embedded Nintendo logo matches a real boot ROM's copy
}

// romSizeEntry maps a ROM-size header byte to its decoded byte count and
// 16KiB bank count.
type romSizeEntry struct {
	code  byte
	bytes int
	banks int
}

var romSizeTable = []romSizeEntry{
	{0x00, 32 * 1024, 2},
	{0x01, 64 * 1024, 4},
	{0x02, 128 * 1024, 8},
	{0x03, 256 * 1024, 16},
	{0x04, 512 * 1024, 32},
	{0x05, 1024 * 1024, 64},
	{0x06, 2 * 1024 * 1024, 128},
	{0x07, 4 * 1024 * 1024, 256},
	{0x08, 8 * 1024 * 1024, 512},
	{0x52, 1152 * 1024, 72},
	{0x53, 1280 * 1024, 80},
	{0x54, 1536 * 1024, 96},
}

var ramSizeTable = map[byte]int{
	0x00: 0,
	0x02: 8 * 1024,
	0x03: 32 * 1024,
	0x04: 128 * 1024,
	0x05: 64 * 1024,
}

// cartFamilies groups the header's CartType byte into a human-readable MBC
// family for diagnostic logging; NewCartridge dispatches on the raw byte,
// not this string.
var cartFamilies = []struct {
	name  string
	types []byte
}{
	{"ROM ONLY", []byte{0x00}},
	{"MBC1 (variants)", []byte{0x01, 0x02, 0x03}},
	{"MBC2 (variants)", []byte{0x05, 0x06}},
	{"MBC3 (variants)", []byte{0x0F, 0x10, 0x11, 0x12, 0x13}},
	{"MBC5 (variants)", []byte{0x19, 0x1A, 0x1B, 0x1C, 0x1D, 0x1E}},
}

// ParseHeader decodes the cartridge header embedded at 0x0100-0x014F.
// It returns an error only if rom is too short to contain the header;
// an invalid logo or checksum is left for the caller (NewCartridge enforces
// the checksum, HeaderChecksumOK is available standalone).
func ParseHeader(rom []byte) (*Header, error) {
	if len(rom) < headerEnd+1 {
		return nil, errors.New("cart: ROM too small to contain header")
	}

	title := strings.TrimRight(string(rom[offTitle:offTitleEnd]), "\x00")
	h := &Header{
		Title:          title,
		CGBFlag:        rom[offCGBFlag],
		NewLicensee:    string(rom[offNewLicensee : offNewLicensee+2]),
		SGBFlag:        rom[offSGBFlag],
		CartType:       rom[offCartType],
		ROMSizeCode:    rom[offROMSize],
		RAMSizeCode:    rom[offRAMSize],
		Destination:    rom[offDestination],
		OldLicensee:    rom[offOldLicensee],
		ROMVersion:     rom[offROMVersion],
		HeaderChecksum: rom[offHeaderChecksum],
		GlobalChecksum: binary.BigEndian.Uint16(rom[offGlobalChecksum : offGlobalChecksum+2]),
	}

	h.ROMSizeBytes, h.ROMBanks = romSize(h.ROMSizeCode)
	h.RAMSizeBytes = ramSizeTable[h.RAMSizeCode]
	h.CartTypeStr = cartFamily(h.CartType)
	h.LogoOK = logoMatches(rom)
	return h, nil
}

// logoMatches reports whether rom carries the exact Nintendo boot logo at
// its documented offset (0x0104). Informational only; see ParseHeader.
func logoMatches(rom []byte) bool {
	if len(rom) < 0x0104+len(bootLogo) {
		return false
	}
	for i, want := range bootLogo {
		if rom[0x0104+i] != want {
			return false
		}
	}
	return true
}

// HeaderChecksumOK recomputes the header checksum over 0x0134-0x014C (the
// Pan Docs "x = x - rom[addr] - 1" running subtraction) and compares it
// against the stored byte at 0x014D.
func HeaderChecksumOK(rom []byte) bool {
	if len(rom) < offHeaderChecksum+1 {
		return false
	}
	var sum byte
	for addr := offTitle; addr <= offROMVersion; addr++ {
		sum = sum - rom[addr] - 1
	}
	return sum == rom[offHeaderChecksum]
}

func romSize(code byte) (bytes, banks int) {
	for _, e := range romSizeTable {
		if e.code == code {
			return e.bytes, e.banks
		}
	}
	return 0, 0
}

func cartFamily(code byte) string {
	for _, fam := range cartFamilies {
		for _, t := range fam.types {
			if t == code {
				return fam.name
			}
		}
	}
	return "Other/unknown"
}
