package bridge

import (
	"fmt"
	"time"
)

// MixingConfig controls blending of the speaker's original voice under the translation
type MixingConfig struct {
	Enabled        bool
	OriginalGain   float64
	TranslatedGain float64
}

// Config contains bridge configuration
type Config struct {
	Mixing MixingConfig

	UplinkQueue   int           // frames waiting for the translation stream
	DownlinkQueue int           // frames waiting per outbound leg
	SendTimeout   time.Duration // wait for room in a full downlink queue
	DropThreshold int           // consecutive drops tolerated before the session closes
	DrainTimeout  time.Duration // flush budget for outbound legs when closing

	OriginalBacklog   int     // original frames remembered per role for mixing
	ActivityThreshold float32 // voice activity level in [0, 1]
}

// DefaultConfig returns the bridge settings used for phone calls
func DefaultConfig() Config {
	return Config{
		Mixing: MixingConfig{
			Enabled:        true,
			OriginalGain:   0.3,
			TranslatedGain: 0.7,
		},
		UplinkQueue:       50,
		DownlinkQueue:     100,
		SendTimeout:       20 * time.Millisecond,
		DropThreshold:     50,
		DrainTimeout:      2 * time.Second,
		OriginalBacklog:   50,
		ActivityThreshold: 0.02,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Mixing.Enabled {
		if c.Mixing.OriginalGain < 0 || c.Mixing.OriginalGain > 1 {
			return fmt.Errorf("original gain must be between 0 and 1, got %f", c.Mixing.OriginalGain)
		}
		if c.Mixing.TranslatedGain < 0 || c.Mixing.TranslatedGain > 1 {
			return fmt.Errorf("translated gain must be between 0 and 1, got %f", c.Mixing.TranslatedGain)
		}
	}
	if c.UplinkQueue <= 0 || c.DownlinkQueue <= 0 {
		return fmt.Errorf("queue sizes must be positive")
	}
	if c.DropThreshold <= 0 {
		return fmt.Errorf("drop threshold must be positive, got %d", c.DropThreshold)
	}
	if c.SendTimeout < 0 || c.DrainTimeout < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}
	if c.ActivityThreshold < 0 || c.ActivityThreshold > 1 {
		return fmt.Errorf("activity threshold must be between 0 and 1, got %f", c.ActivityThreshold)
	}
	return nil
}

// withDefaults fills zero values from DefaultConfig
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.UplinkQueue == 0 {
		c.UplinkQueue = d.UplinkQueue
	}
	if c.DownlinkQueue == 0 {
		c.DownlinkQueue = d.DownlinkQueue
	}
	if c.SendTimeout == 0 {
		c.SendTimeout = d.SendTimeout
	}
	if c.DropThreshold == 0 {
		c.DropThreshold = d.DropThreshold
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = d.DrainTimeout
	}
	if c.OriginalBacklog == 0 {
		c.OriginalBacklog = d.OriginalBacklog
	}
	if c.ActivityThreshold == 0 {
		c.ActivityThreshold = d.ActivityThreshold
	}
	return c
}
