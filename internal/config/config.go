package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/parbhatia/gospace-sub000/internal/core"
	"github.com/parbhatia/gospace-sub000/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const EnvPrefix = "GOSPACE"

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`
	// Engine is "rtc" for the pion engine or "memory".
	Engine string `mapstructure:"engine"`

	Workers WorkersConfig `mapstructure:"workers"`
	WebRTC  WebRTCConfig  `mapstructure:"webrtc"`
	Room    RoomConfig    `mapstructure:"room"`
	Signal  SignalConfig  `mapstructure:"signal"`
	Media   MediaConfig   `mapstructure:"media"`
}

type WorkersConfig struct {
	// Count of zero means one worker per CPU.
	Count  int    `mapstructure:"count"`
	Policy string `mapstructure:"policy"`
}

type WebRTCConfig struct {
	ICEServers []string `mapstructure:"ice_servers"`
	UDPPortMin uint16   `mapstructure:"udp_port_min"`
	UDPPortMax uint16   `mapstructure:"udp_port_max"`
	NAT1To1IPs []string `mapstructure:"nat_1to1_ips"`
	EnableSctp bool     `mapstructure:"enable_sctp"`
}

type RoomConfig struct {
	ReapEmpty bool `mapstructure:"reap_empty"`
}

type SignalConfig struct {
	SendBuffer   int           `mapstructure:"send_buffer"`
	JoinLimit    int           `mapstructure:"join_limit"`
	JoinInterval time.Duration `mapstructure:"join_interval"`
	Backpressure string        `mapstructure:"backpressure"`
}

type MediaConfig struct {
	Codecs []CodecConfig `mapstructure:"codecs"`
}

type CodecConfig struct {
	Kind        string         `mapstructure:"kind"`
	MimeType    string         `mapstructure:"mime_type"`
	PayloadType uint8          `mapstructure:"payload_type"`
	ClockRate   uint32         `mapstructure:"clock_rate"`
	Channels    uint16         `mapstructure:"channels"`
	Parameters  map[string]any `mapstructure:"parameters"`
}

// NewViper returns a viper instance carrying the defaults and the
// environment binding. Flags may be bound to it before Load.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "gospace-dev-secret")
	v.SetDefault("log_level", "info")
	v.SetDefault("engine", "rtc")

	v.SetDefault("workers.count", 0)
	v.SetDefault("workers.policy", "round_robin")

	v.SetDefault("webrtc.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("webrtc.udp_port_min", 0)
	v.SetDefault("webrtc.udp_port_max", 0)
	v.SetDefault("webrtc.nat_1to1_ips", []string{})
	v.SetDefault("webrtc.enable_sctp", true)

	v.SetDefault("room.reap_empty", true)

	v.SetDefault("signal.send_buffer", 32)
	v.SetDefault("signal.join_limit", 5)
	v.SetDefault("signal.join_interval", "10s")
	v.SetDefault("signal.backpressure", "kick")
	return v
}

// DefaultFile is config/config.<CONFIG_ENV>.yaml, CONFIG_ENV defaulting to dev.
func DefaultFile() string {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return fmt.Sprintf("config/config.%s.yaml", env)
}

// Load reads file into v and decodes the result. A missing file leaves the
// defaults in place.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file == "" {
		file = DefaultFile()
	}
	v.SetConfigFile(file)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", file, err)
		}
		log.Warn().Str("module", "config").Str("file", file).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", file).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Str("engine", cfg.Engine).Int("workers", cfg.Workers.Count).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	switch c.Engine {
	case "rtc", "memory":
	default:
		return fmt.Errorf("config: unknown engine %q", c.Engine)
	}
	if c.Workers.Count < 0 {
		return fmt.Errorf("config: workers.count must not be negative")
	}
	if c.WebRTC.UDPPortMax != 0 && c.WebRTC.UDPPortMin > c.WebRTC.UDPPortMax {
		return fmt.Errorf("config: webrtc.udp_port_min %d above udp_port_max %d", c.WebRTC.UDPPortMin, c.WebRTC.UDPPortMax)
	}
	for _, cc := range c.Media.Codecs {
		if _, err := domain.ParseMediaKind(cc.Kind); err != nil {
			return fmt.Errorf("config: media codec %s: %w", cc.MimeType, err)
		}
		if cc.MimeType == "" || cc.ClockRate == 0 {
			return fmt.Errorf("config: media codec needs mime_type and clock_rate")
		}
	}
	return nil
}

// Codecs converts the configured codecs, or returns nil when none are set.
func (c *Config) Codecs() []core.RtpCodecCapability {
	if len(c.Media.Codecs) == 0 {
		return nil
	}
	out := make([]core.RtpCodecCapability, 0, len(c.Media.Codecs))
	for _, cc := range c.Media.Codecs {
		out = append(out, core.RtpCodecCapability{
			Kind:                 domain.MediaKind(cc.Kind),
			MimeType:             cc.MimeType,
			PreferredPayloadType: cc.PayloadType,
			ClockRate:            cc.ClockRate,
			Channels:             cc.Channels,
			Parameters:           cc.Parameters,
		})
	}
	return out
}
