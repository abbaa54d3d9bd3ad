// Package ui hosts the ebiten window: it blits the Machine's presented
// framebuffer each frame and forwards keyboard state into the joypad as
// InputEvents. SetPresentCallback/PushEvent/RunFrame carry the whole
// contract between this package and internal/emu.
package ui

import (
	"fmt"
	"image"
	"image/png"
	"os"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/pockethouse/pockethouse/internal/emu"
)

// keyMap is the default mapping from spec §6: Arrows -> D-pad, X -> A,
// Z -> B, Return -> Start, Tab -> Select, Escape -> Quit.
var keyMap = []struct {
	key    ebiten.Key
	button byte
}{
	{ebiten.KeyRight, emu.ButtonRight},
	{ebiten.KeyLeft, emu.ButtonLeft},
	{ebiten.KeyUp, emu.ButtonUp},
	{ebiten.KeyDown, emu.ButtonDown},
	{ebiten.KeyX, emu.ButtonA},
	{ebiten.KeyZ, emu.ButtonB},
	{ebiten.KeyEnter, emu.ButtonStart},
	{ebiten.KeyTab, emu.ButtonSelect},
}

// App is the ebiten-facing shell: it owns the window surface and the
// keyboard-to-joypad mapping, and otherwise just calls into Machine.
type App struct {
	cfg Config
	m   *emu.Machine
	tex *ebiten.Image

	fb      []byte         // RGBA8888 bytes, refreshed by present() at each frame boundary
	pressed map[byte]bool // button -> currently held, to emit KeyDown/KeyUp deltas only on change
	paused  bool
}

// NewApp wires an ebiten App around an already-constructed Machine and
// registers present as its PresentFunc, so RunFrame pushes each finished
// frame here rather than App pulling one on every Draw.
func NewApp(cfg Config, m *emu.Machine) *App {
	cfg.Defaults()
	a := &App{
		cfg:     cfg,
		m:       m,
		tex:     ebiten.NewImage(160, 144),
		fb:      make([]byte, emu.FramebufferPixels*4),
		pressed: make(map[byte]bool, len(keyMap)),
	}
	m.SetPresentCallback(a.present)
	return a
}

// present is the Machine's push-model output sink (spec §5's "present()"
// suspension point): it unpacks the PPU's packed RGBA8888 grid into the
// byte buffer Draw blits, the same layout Machine.Framebuffer() produces
// for pull-model callers like cmd/gbcore's headless mode.
func (a *App) present(fb *[emu.FramebufferPixels]uint32) {
	for i, px := range fb {
		a.fb[i*4+0] = byte(px >> 24)
		a.fb[i*4+1] = byte(px >> 16)
		a.fb[i*4+2] = byte(px >> 8)
		a.fb[i*4+3] = byte(px)
	}
}

// Run starts ebiten's game loop, sized to cfg.Scale times the 160x144
// native resolution.
func (a *App) Run() error {
	ebiten.SetWindowSize(160*a.cfg.Scale, 144*a.cfg.Scale)
	ebiten.SetWindowTitle(a.cfg.Title)
	return ebiten.RunGame(a)
}

// Update polls the keyboard, forwards button transitions to the Machine,
// and advances one emulated frame.
func (a *App) Update() error {
	for _, km := range keyMap {
		down := ebiten.IsKeyPressed(km.key)
		if down == a.pressed[km.button] {
			continue
		}
		a.pressed[km.button] = down
		if down {
			a.m.PushEvent(emu.InputEvent{Type: emu.KeyDown, Button: km.button})
		} else {
			a.m.PushEvent(emu.InputEvent{Type: emu.KeyUp, Button: km.button})
		}
	}

	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		a.m.PushEvent(emu.InputEvent{Type: emu.Quit})
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyP) {
		a.paused = !a.paused
	}
	if a.m.Quit() {
		return ebiten.Termination
	}
	if a.paused {
		return nil
	}
	return a.m.RunFrame()
}

// Draw blits the Machine's framebuffer into the window, scaled by
// cfg.Scale with nearest-neighbor sampling to keep pixel edges crisp.
func (a *App) Draw(screen *ebiten.Image) {
	a.tex.WritePixels(a.fb)
	op := &ebiten.DrawImageOptions{}
	op.GeoM.Scale(float64(a.cfg.Scale), float64(a.cfg.Scale))
	screen.DrawImage(a.tex, op)
}

// Layout reports ebiten's internal render resolution, independent of the
// window's on-screen size.
func (a *App) Layout(outsideWidth, outsideHeight int) (int, int) {
	return 160 * a.cfg.Scale, 144 * a.cfg.Scale
}

// SaveScreenshot writes the most recently presented framebuffer to a PNG
// at path.
func (a *App) SaveScreenshot(path string) error {
	pix := a.fb
	img := &image.RGBA{
		Pix:    pix,
		Stride: 4 * 160,
		Rect:   image.Rect(0, 0, 160, 144),
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	return png.Encode(f, img)
}
