package vidstream

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the user agent video settings. Field tags follow the keys
// used in configuration files.
type Config struct {
	Width         int           `mapstructure:"width"`
	Height        int           `mapstructure:"height"`
	FPS           int           `mapstructure:"fps"`
	Bitrate       int           `mapstructure:"bitrate"`     // bit/s
	PacketSize    int           `mapstructure:"packet_size"` // max RTP payload bytes
	Source        string        `mapstructure:"source"`
	Device        string        `mapstructure:"device"`
	Display       string        `mapstructure:"display"`
	StatsInterval time.Duration `mapstructure:"stats_interval"`
}

// MaxPacketSize is the largest RTP payload that fits one UDP datagram
// behind a fixed RTP header.
const MaxPacketSize = 65507 - 12

// DefaultConfig returns CIF at 25 fps, 512 kbit/s.
func DefaultConfig() Config {
	return Config{
		Width:         352,
		Height:        288,
		FPS:           25,
		Bitrate:       512000,
		PacketSize:    1300,
		Source:        "testpattern",
		Display:       "null",
		StatsInterval: 5 * time.Second,
	}
}

// Validate checks the settings and fills zero values with defaults.
func (c *Config) Validate() error {
	def := DefaultConfig()
	if c.Width == 0 && c.Height == 0 {
		c.Width, c.Height = def.Width, def.Height
	}
	if c.Width <= 0 || c.Height <= 0 || c.Width%2 != 0 || c.Height%2 != 0 {
		return fmt.Errorf("%w: invalid video size %dx%d", ErrConfiguration, c.Width, c.Height)
	}
	if c.FPS == 0 {
		c.FPS = def.FPS
	}
	if c.FPS < 0 || c.FPS > 120 {
		return fmt.Errorf("%w: invalid fps %d", ErrConfiguration, c.FPS)
	}
	if c.Bitrate == 0 {
		c.Bitrate = def.Bitrate
	}
	if c.PacketSize == 0 {
		c.PacketSize = def.PacketSize
	}
	if c.PacketSize < 64 || c.PacketSize > MaxPacketSize {
		return fmt.Errorf("%w: packet size %d out of range 64-%d", ErrConfiguration, c.PacketSize, MaxPacketSize)
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = def.StatsInterval
	}
	return nil
}

// LoadConfig reads the settings from v, under the "video" key when
// present, on top of DefaultConfig, and validates them.
func LoadConfig(v *viper.Viper) (Config, error) {
	def := DefaultConfig()
	sub := v
	if v.IsSet("video") {
		sub = v.Sub("video")
	}
	for key, val := range map[string]any{
		"width":          def.Width,
		"height":         def.Height,
		"fps":            def.FPS,
		"bitrate":        def.Bitrate,
		"packet_size":    def.PacketSize,
		"source":         def.Source,
		"device":         def.Device,
		"display":        def.Display,
		"stats_interval": def.StatsInterval,
	} {
		sub.SetDefault(key, val)
	}

	var cfg Config
	if err := sub.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
