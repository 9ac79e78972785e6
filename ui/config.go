package ui

import "time"

// Config contains TUI-specific configuration.
type Config struct {
	SeekStep    time.Duration `env:"STORYAUDIO_SEEK_STEP"   envDefault:"5s"`
	VolumeStep  float64       `env:"STORYAUDIO_VOLUME_STEP" envDefault:"0.1"`
	ShowHelp    bool          `env:"STORYAUDIO_SHOW_HELP"   envDefault:"true"`
	EnableMouse bool          `env:"STORYAUDIO_ENABLE_MOUSE" envDefault:"true"`

	// Shown in the header, usually the story or file name.
	Title string

	// Quit once every queued segment has finished.
	ExitWhenDone bool
}

func (c Config) withDefaults() Config {
	if c.SeekStep <= 0 {
		c.SeekStep = 5 * time.Second
	}
	if c.VolumeStep <= 0 || c.VolumeStep > 1 {
		c.VolumeStep = 0.1
	}
	return c
}
