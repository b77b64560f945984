package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/bigbag/tunslip/internal/bridge"
	"github.com/bigbag/tunslip/internal/slip"
	"github.com/bigbag/tunslip/internal/tun"
)

// Mode selects the transport backend.
type Mode string

const (
	ModeSerial Mode = "serial"
	ModePipe   Mode = "pipe"
)

const (
	DefaultMTU            = bridge.DefaultMTU
	DefaultBufferSize     = bridge.DefaultBufferSize
	DefaultBaudRate       = 9600
	DefaultConnectTimeout = 5 * time.Second

	minMTU = 68
	maxMTU = 65535
)

// Config holds everything needed to start a bridge.
type Config struct {
	Interface  string
	Address    string
	MTU        int
	BufferSize int
	Debug      bool
	Stats      bool
	// MetricsAddr enables a Prometheus /metrics listener when set.
	MetricsAddr string
	Serial      SerialConfig
	Pipe        PipeConfig
}

type SerialConfig struct {
	Port     string
	BaudRate int
}

type PipeConfig struct {
	Prefix         string
	Reverse        bool
	Create         bool
	ConnectTimeout time.Duration
}

type fileConfig struct {
	Interface   string     `toml:"interface"`
	Address     string     `toml:"address"`
	MTU         int        `toml:"mtu"`
	BufferSize  int        `toml:"buffer_size"`
	Debug       bool       `toml:"debug"`
	Stats       bool       `toml:"stats"`
	MetricsAddr string     `toml:"metrics_addr"`
	Serial      fileSerial `toml:"serial"`
	Pipe        filePipe   `toml:"pipe"`
}

type fileSerial struct {
	Port     string `toml:"port"`
	BaudRate int    `toml:"baud_rate"`
}

type filePipe struct {
	Prefix         string `toml:"prefix"`
	Reverse        bool   `toml:"reverse"`
	Create         bool   `toml:"create"`
	ConnectTimeout string `toml:"connect_timeout"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		MTU:        DefaultMTU,
		BufferSize: DefaultBufferSize,
		Serial: SerialConfig{
			BaudRate: DefaultBaudRate,
		},
		Pipe: PipeConfig{
			ConnectTimeout: DefaultConnectTimeout,
		},
	}
}

// Load reads a TOML file on top of Default. Keys absent from the file keep
// their default values.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("interface") {
		cfg.Interface = strings.TrimSpace(raw.Interface)
	}
	if meta.IsDefined("address") {
		cfg.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("mtu") {
		cfg.MTU = raw.MTU
	}
	if meta.IsDefined("buffer_size") {
		cfg.BufferSize = raw.BufferSize
	}
	if meta.IsDefined("debug") {
		cfg.Debug = raw.Debug
	}
	if meta.IsDefined("stats") {
		cfg.Stats = raw.Stats
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}

	if meta.IsDefined("serial", "port") {
		cfg.Serial.Port = strings.TrimSpace(raw.Serial.Port)
	}
	if meta.IsDefined("serial", "baud_rate") {
		cfg.Serial.BaudRate = raw.Serial.BaudRate
	}

	if meta.IsDefined("pipe", "prefix") {
		cfg.Pipe.Prefix = strings.TrimSpace(raw.Pipe.Prefix)
	}
	if meta.IsDefined("pipe", "reverse") {
		cfg.Pipe.Reverse = raw.Pipe.Reverse
	}
	if meta.IsDefined("pipe", "create") {
		cfg.Pipe.Create = raw.Pipe.Create
	}
	if meta.IsDefined("pipe", "connect_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Pipe.ConnectTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse pipe.connect_timeout: %w", err)
		}
		cfg.Pipe.ConnectTimeout = d
	}

	return cfg, nil
}

// Validate checks the settings the given mode depends on.
func (c Config) Validate(mode Mode) error {
	name := strings.TrimSpace(c.Interface)
	if name == "" {
		return fmt.Errorf("interface name is required")
	}
	if len(name) >= tun.IfNameSize {
		return fmt.Errorf("interface name %q is longer than %d bytes", name, tun.IfNameSize-1)
	}
	if c.MTU < minMTU || c.MTU > maxMTU {
		return fmt.Errorf("mtu %d out of range [%d, %d]", c.MTU, minMTU, maxMTU)
	}
	// The buffer must hold a fully escaped MTU-sized frame and its END.
	if need := slip.MaxEncodedLen(c.MTU); c.BufferSize < need {
		return fmt.Errorf("buffer size %d must be at least %d for mtu %d", c.BufferSize, need, c.MTU)
	}

	switch mode {
	case ModeSerial:
		if strings.TrimSpace(c.Serial.Port) == "" {
			return fmt.Errorf("serial port is required")
		}
		if c.Serial.BaudRate <= 0 {
			return fmt.Errorf("invalid baud rate %d", c.Serial.BaudRate)
		}
	case ModePipe:
		if strings.TrimSpace(c.Pipe.Prefix) == "" {
			return fmt.Errorf("pipe prefix is required")
		}
		if c.Pipe.ConnectTimeout < 0 {
			return fmt.Errorf("invalid connect timeout %v", c.Pipe.ConnectTimeout)
		}
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
	return nil
}
