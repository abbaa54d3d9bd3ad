// Command gbcore is the CLI entry point: emu <rom-path>, with a windowed
// mode (internal/ui) and a headless mode for scripted/CI runs that render
// N frames and check the resulting framebuffer's CRC32.
package main

import (
	"flag"
	"fmt"
	"hash/crc32"
	"image"
	"image/png"
	"log"
	"os"
	"strings"
	"time"

	"github.com/pockethouse/pockethouse/internal/cart"
	"github.com/pockethouse/pockethouse/internal/emu"
	"github.com/pockethouse/pockethouse/internal/ui"
)

type cliFlags struct {
	ROMPath string
	BootROM string
	Scale   int
	Title   string
	Trace   bool
	SaveRAM bool

	Headless bool
	Frames   int
	PNGOut   string
	Expect   string
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.ROMPath, "rom", "", "path to ROM (.gb)")
	flag.StringVar(&f.BootROM, "bootrom", "", "optional DMG boot ROM")
	flag.IntVar(&f.Scale, "scale", 3, "window scale")
	flag.StringVar(&f.Title, "title", "gbcore", "window title")
	flag.BoolVar(&f.Trace, "trace", false, "CPU trace log")
	flag.BoolVar(&f.SaveRAM, "save", true, "persist battery RAM to ROM.sav on exit and load on start")

	flag.BoolVar(&f.Headless, "headless", false, "run without a window")
	flag.IntVar(&f.Frames, "frames", 300, "frames to run in headless mode")
	flag.StringVar(&f.PNGOut, "outpng", "", "write last framebuffer to PNG at path")
	flag.StringVar(&f.Expect, "expect", "", "assert framebuffer CRC32 (hex)")
	flag.Parse()
	return f
}

func runHeadless(m *emu.Machine, frames int, pngPath, expectCRC string) error {
	if frames <= 0 {
		frames = 1
	}
	start := time.Now()
	for i := 0; i < frames; i++ {
		if err := m.RunFrame(); err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
	}
	dur := time.Since(start)

	fb := m.Framebuffer()
	crc := crc32.ChecksumIEEE(fb)
	fps := float64(frames) / dur.Seconds()
	log.Printf("headless: frames=%d elapsed=%s fps=%.2f fb_crc32=%08x",
		frames, dur.Truncate(time.Millisecond), fps, crc)

	if pngPath != "" {
		if err := saveFramePNG(fb, 160, 144, pngPath); err != nil {
			return fmt.Errorf("write PNG: %w", err)
		}
		log.Printf("wrote %s", pngPath)
	}

	if expectCRC != "" {
		want := strings.TrimPrefix(strings.ToLower(expectCRC), "0x")
		got := fmt.Sprintf("%08x", crc)
		if got != want {
			return fmt.Errorf("checksum mismatch: got %s, want %s", got, want)
		}
	}
	return nil
}

func saveFramePNG(pix []byte, w, h int, path string) error {
	img := &image.RGBA{
		Pix:    pix,
		Stride: 4 * w,
		Rect:   image.Rect(0, 0, w, h),
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

func readOptional(path string) []byte {
	if path == "" {
		return nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("read %s: %v", path, err)
	}
	return b
}

func main() {
	f := parseFlags()
	if f.ROMPath == "" && flag.NArg() > 0 {
		f.ROMPath = flag.Arg(0)
	}
	if f.ROMPath == "" {
		log.Fatal("-rom is required")
	}
	rom := readOptional(f.ROMPath)
	boot := readOptional(f.BootROM)

	if len(rom) >= 0x150 {
		if h, err := cart.ParseHeader(rom); err == nil {
			log.Printf("ROM: %q type=0x%02X (%s) banks=%d ram=%dB logo=%v",
				h.Title, h.CartType, h.CartTypeStr, h.ROMBanks, h.RAMSizeBytes, h.LogoOK)
		}
	}

	m := emu.New(emu.Config{Trace: f.Trace, LimitFPS: !f.Headless})
	if f.Trace {
		m.SetTraceWriter(os.Stderr)
	}
	if err := m.LoadCartridge(rom, boot); err != nil {
		log.Fatalf("load cart: %v", err)
	}

	savPath := strings.TrimSuffix(f.ROMPath, ".gb") + ".sav"
	if f.SaveRAM {
		if data, err := os.ReadFile(savPath); err == nil {
			if m.LoadBattery(data) {
				log.Printf("loaded save RAM: %s (%d bytes)", savPath, len(data))
			}
		} else if !os.IsNotExist(err) {
			log.Printf("warning: could not read %s: %v", savPath, err)
		}
	}

	saveOnExit := func() {
		if !f.SaveRAM {
			return
		}
		if data, ok := m.SaveBattery(); ok && len(data) > 0 {
			if err := os.WriteFile(savPath, data, 0644); err == nil {
				log.Printf("wrote %s", savPath)
			} else {
				log.Printf("warning: could not write %s: %v", savPath, err)
			}
		}
	}

	if f.Headless {
		if err := runHeadless(m, f.Frames, f.PNGOut, f.Expect); err != nil {
			log.Print(err)
			saveOnExit()
			os.Exit(1)
		}
		saveOnExit()
		return
	}

	app := ui.NewApp(ui.Config{Title: f.Title, Scale: f.Scale}, m)
	if err := app.Run(); err != nil {
		log.Print(err)
		saveOnExit()
		os.Exit(1)
	}
	saveOnExit()
}
