package config

import "testing"

func TestValidate(t *testing.T) {
	base := func() Config {
		var c Config
		c.Backend.IO = "virtual"
		c.Backend.Camera = "virtual"
		c.MediaRoot = "media"
		c.Image.Quality = 85
		c.Restart.Multiplier = 2.0
		c.Degraded.FailureThreshold = 3
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid defaults", mutate: func(c *Config) {}, wantErr: false},
		{name: "bad io backend", mutate: func(c *Config) { c.Backend.IO = "nope" }, wantErr: true},
		{name: "bad camera backend", mutate: func(c *Config) { c.Backend.Camera = "nope" }, wantErr: true},
		{name: "negative fps", mutate: func(c *Config) { c.Backend.GPIO.FPSNominal = -1 }, wantErr: true},
		{name: "empty media root", mutate: func(c *Config) { c.MediaRoot = "" }, wantErr: true},
		{name: "quality too high", mutate: func(c *Config) { c.Image.Quality = 101 }, wantErr: true},
		{name: "multiplier too low", mutate: func(c *Config) { c.Restart.Multiplier = 1.0 }, wantErr: true},
		{name: "zero failure threshold", mutate: func(c *Config) { c.Degraded.FailureThreshold = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			err := Validate(&c)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
