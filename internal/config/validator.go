package config

import "fmt"

// Validate checks the resolved configuration for internal consistency.
func Validate(c *Config) error {
	switch c.Backend.IO {
	case "virtual", "gpio":
	default:
		return fmt.Errorf("backend.io must be 'virtual' or 'gpio', got %q", c.Backend.IO)
	}

	switch c.Backend.Camera {
	case "virtual", "picam":
	default:
		return fmt.Errorf("backend.camera must be 'virtual' or 'picam', got %q", c.Backend.Camera)
	}

	if c.Backend.GPIO.FPSNominal < 0 {
		return fmt.Errorf("backend.gpio.fps_nominal cannot be negative")
	}

	if c.MediaRoot == "" {
		return fmt.Errorf("media_root is required")
	}

	if c.Image.Quality < 0 || c.Image.Quality > 100 {
		return fmt.Errorf("image.quality must be between 0 and 100")
	}

	if c.Restart.Multiplier <= 1.0 {
		return fmt.Errorf("restart.multiplier must be greater than 1.0")
	}

	if c.Degraded.FailureThreshold < 1 {
		return fmt.Errorf("degraded.failure_threshold must be at least 1")
	}

	return nil
}
