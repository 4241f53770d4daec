package vidstream

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidateDefaults(t *testing.T) {
	var c Config
	require.NoError(t, c.Validate())

	def := DefaultConfig()
	assert.Equal(t, def.Width, c.Width)
	assert.Equal(t, def.Height, c.Height)
	assert.Equal(t, def.FPS, c.FPS)
	assert.Equal(t, def.Bitrate, c.Bitrate)
	assert.Equal(t, def.PacketSize, c.PacketSize)
	assert.Equal(t, def.StatsInterval, c.StatsInterval)

	// Names are left to the registry
	assert.Empty(t, c.Source)
	assert.Empty(t, c.Display)
}

func TestConfigValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"odd width", Config{Width: 351, Height: 288}},
		{"odd height", Config{Width: 352, Height: 287}},
		{"missing height", Config{Width: 352}},
		{"negative size", Config{Width: -2, Height: 2}},
		{"negative fps", Config{FPS: -1}},
		{"fps too high", Config{FPS: 240}},
		{"small packets", Config{PacketSize: 10}},
		{"packets exceed datagram", Config{PacketSize: MaxPacketSize + 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.cfg
			if err := c.Validate(); !errors.Is(err, ErrConfiguration) {
				t.Errorf("got %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	c, err := LoadConfig(viper.New())
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), c)
}

func TestLoadConfigOverrides(t *testing.T) {
	v := viper.New()
	v.Set("width", 640)
	v.Set("height", 480)
	v.Set("fps", "15")
	v.Set("source", "v4l2")
	v.Set("device", "/dev/video1")
	v.Set("stats_interval", "2s")

	c, err := LoadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, 640, c.Width)
	assert.Equal(t, 480, c.Height)
	assert.Equal(t, 15, c.FPS)
	assert.Equal(t, "v4l2", c.Source)
	assert.Equal(t, "/dev/video1", c.Device)
	assert.Equal(t, 2*time.Second, c.StatsInterval)
	assert.Equal(t, DefaultConfig().Bitrate, c.Bitrate)
	assert.Equal(t, "null", c.Display)
}

func TestLoadConfigVideoSection(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(`
video:
  width: 176
  height: 144
  bitrate: 128000
  packet_size: 500
  display: sdl
`)))

	c, err := LoadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, Size{176, 144}, Size{c.Width, c.Height})
	assert.Equal(t, 128000, c.Bitrate)
	assert.Equal(t, 500, c.PacketSize)
	assert.Equal(t, "sdl", c.Display)
	assert.Equal(t, DefaultConfig().FPS, c.FPS)
}

func TestLoadConfigInvalid(t *testing.T) {
	v := viper.New()
	v.Set("width", 101)

	_, err := LoadConfig(v)
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("odd width: got %v, want ErrConfiguration", err)
	}

	v = viper.New()
	v.Set("fps", "fast")
	_, err = LoadConfig(v)
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("bad fps: got %v, want ErrConfiguration", err)
	}
}
