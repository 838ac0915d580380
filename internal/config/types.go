// Package config loads and validates node configuration from defaults,
// an optional .env file, and the process environment.
package config

import "time"

// Config is the fully resolved configuration for one acquisition node.
type Config struct {
	DeviceID   int    `env:"DEVICE_ID" envDefault:"0"`
	Standalone bool   `env:"STANDALONE" envDefault:"false"`
	MediaRoot  string `env:"MEDIA_ROOT" envDefault:"media"`

	Backend BackendSelection `envPrefix:"BACKEND_"`
	HTTP    HTTP             `envPrefix:"HTTP_"`
	Image   ImageProcessing  `envPrefix:"IMAGE_"`
	NetTime NetTime          `envPrefix:"NETTIME_"`
	Restart Restart          `envPrefix:"RESTART_"`
	Degraded Degraded        `envPrefix:"DEGRADED_"`
}

// BackendSelection chooses the IoBackend/CameraBackend implementations
// and carries their hardware parameters.
type BackendSelection struct {
	IO     string `env:"IO" envDefault:"virtual"`     // virtual | gpio
	Camera string `env:"CAMERA" envDefault:"virtual"` // virtual | picam

	GPIO  GPIO  `envPrefix:"GPIO__"`
	Picam Picam `envPrefix:"PICAM__"`
}

// GPIO configures the gpio IoBackend.
type GPIO struct {
	Chip             string  `env:"CHIP" envDefault:"gpiochip0"`
	ClockLine        int     `env:"CLOCK_LINE" envDefault:"17"`
	TriggerInLine    int     `env:"TRIGGER_IN_LINE" envDefault:"27"`
	TriggerOutLine   int     `env:"TRIGGER_OUT_LINE" envDefault:"22"`
	PWMChip          int     `env:"PWM_CHIP" envDefault:"0"`
	PWMChannel       int     `env:"PWM_CHANNEL" envDefault:"0"`
	FPSNominal       float64 `env:"FPS_NOMINAL" envDefault:"0"` // 0 = derive from clock edges
	IsPrimary        bool    `env:"IS_PRIMARY" envDefault:"false"`
}

// Picam configures the picam CameraBackend.
type Picam struct {
	Device          string `env:"DEVICE" envDefault:"/dev/video0"`
	CaptureBin      string `env:"CAPTURE_BIN" envDefault:"rpicam-still"`
	FrameWidth      int    `env:"FRAME_WIDTH" envDefault:"4056"`
	FrameHeight     int    `env:"FRAME_HEIGHT" envDefault:"3040"`
}

// HTTP configures the control-surface listener.
type HTTP struct {
	ListenAddr     string `env:"LISTEN_ADDR" envDefault:":8080"`
	PreviewEnabled bool   `env:"PREVIEW_ENABLED" envDefault:"true"`
}

// ImageProcessing configures optional resize/quality adjustment applied
// to stills served over the preview routes. Captured originals persisted
// to disk are never altered by this.
type ImageProcessing struct {
	MaxWidth  int `env:"MAX_WIDTH" envDefault:"0"`
	MaxHeight int `env:"MAX_HEIGHT" envDefault:"0"`
	Quality   int `env:"QUALITY" envDefault:"85"`
}

// NeedsProcessing reports whether any resize/quality adjustment is configured.
func (ip ImageProcessing) NeedsProcessing() bool {
	return ip.MaxWidth > 0 || ip.MaxHeight > 0 || (ip.Quality > 0 && ip.Quality < 100)
}

// GetQuality returns the configured JPEG quality, defaulting to 85 when unset.
func (ip ImageProcessing) GetQuality() int {
	if ip.Quality <= 0 {
		return 85
	}
	return ip.Quality
}

// NetTime configures the periodic host wall-clock sanity check used to
// stamp persisted media filenames.
type NetTime struct {
	Enabled              bool          `env:"ENABLED" envDefault:"true"`
	Servers              []string      `env:"SERVERS" envSeparator:"," envDefault:"pool.ntp.org"`
	CheckInterval         time.Duration `env:"CHECK_INTERVAL" envDefault:"5m"`
	MaxOffset             time.Duration `env:"MAX_OFFSET" envDefault:"5s"`
	Timeout               time.Duration `env:"TIMEOUT" envDefault:"5s"`
}

// Restart configures the supervisor's backoff between generation restarts.
type Restart struct {
	InitialSeconds int     `env:"INITIAL_SECONDS" envDefault:"2"`
	MaxSeconds     int     `env:"MAX_SECONDS" envDefault:"60"`
	Multiplier     float64 `env:"MULTIPLIER" envDefault:"2.0"`
	Jitter         bool    `env:"JITTER" envDefault:"true"`
}

// Degraded configures when the engine reports StateDegraded.
type Degraded struct {
	FailureThreshold int `env:"FAILURE_THRESHOLD" envDefault:"3"`
}

// IsPrimary reports whether this node emits the shared clock/trigger
// cadence rather than following it.
func (c Config) IsPrimary() bool {
	return c.Backend.GPIO.IsPrimary
}
