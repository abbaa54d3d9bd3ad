package ui

// Config contains window/input settings: just the window title and
// integer upscaling factor a bare ebiten shell needs to blit a 160x144
// framebuffer and forward keys to Machine.PushEvent.
type Config struct {
	Title string // window title
	Scale int    // integer upscaling factor
}

// Defaults fills missing fields with reasonable defaults.
func (c *Config) Defaults() {
	if c.Title == "" {
		c.Title = "gbcore"
	}
	if c.Scale <= 0 {
		c.Scale = 3
	}
}
