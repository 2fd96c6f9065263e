package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/parbhatia/gospace-sub000/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load(NewViper(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "rtc", cfg.Engine)
	assert.Equal(t, "round_robin", cfg.Workers.Policy)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, 10*time.Second, cfg.Signal.JoinInterval)
	assert.True(t, cfg.WebRTC.EnableSctp)
	assert.True(t, cfg.Room.ReapEmpty)
	assert.Nil(t, cfg.Codecs())
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("GOSPACE_PORT", "9090")
	t.Setenv("GOSPACE_WORKERS_COUNT", "3")
	t.Setenv("GOSPACE_SIGNAL_BACKPRESSURE", "drop")

	cfg, err := Load(NewViper(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 3, cfg.Workers.Count)
	assert.Equal(t, "drop", cfg.Signal.Backpressure)
}

func TestYAMLFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
port: 7000
engine: memory
workers:
  count: 2
  policy: least_loaded
webrtc:
  udp_port_min: 40000
  udp_port_max: 40100
media:
  codecs:
    - kind: audio
      mime_type: audio/opus
      payload_type: 111
      clock_rate: 48000
      channels: 2
`), 0o600))

	cfg, err := Load(NewViper(), file)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, "memory", cfg.Engine)
	assert.Equal(t, "least_loaded", cfg.Workers.Policy)
	assert.Equal(t, uint16(40000), cfg.WebRTC.UDPPortMin)

	codecs := cfg.Codecs()
	require.Len(t, codecs, 1)
	assert.Equal(t, domain.KindAudio, codecs[0].Kind)
	assert.Equal(t, uint8(111), codecs[0].PreferredPayloadType)
}

func TestValidate(t *testing.T) {
	base := func() Config { return Config{Port: 8080, Engine: "rtc"} }

	c := base()
	assert.NoError(t, c.Validate())

	c = base()
	c.Port = 0
	assert.Error(t, c.Validate())

	c = base()
	c.Engine = "gstreamer"
	assert.Error(t, c.Validate())

	c = base()
	c.WebRTC.UDPPortMin, c.WebRTC.UDPPortMax = 5000, 4000
	assert.Error(t, c.Validate())

	c = base()
	c.Media.Codecs = []CodecConfig{{Kind: "smell", MimeType: "x/y", ClockRate: 1}}
	assert.ErrorIs(t, c.Validate(), domain.ErrBadPayload)
}

func TestDefaultFile(t *testing.T) {
	t.Setenv("CONFIG_ENV", "")
	assert.Equal(t, "config/config.dev.yaml", DefaultFile())
	t.Setenv("CONFIG_ENV", "prod")
	assert.Equal(t, "config/config.prod.yaml", DefaultFile())
}
