package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tunslip.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	path := writeConfig(t, `
interface = "slip0"
address = "10.0.0.1/30"
mtu = 1006
metrics_addr = "127.0.0.1:9108"

[serial]
port = "/dev/ttyUSB0"

[pipe]
prefix = "/run/link"
reverse = true
connect_timeout = "250ms"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "slip0", cfg.Interface)
	require.Equal(t, "10.0.0.1/30", cfg.Address)
	require.Equal(t, 1006, cfg.MTU)
	require.Equal(t, DefaultBufferSize, cfg.BufferSize)
	require.False(t, cfg.Debug)
	require.Equal(t, "127.0.0.1:9108", cfg.MetricsAddr)
	require.Equal(t, "/dev/ttyUSB0", cfg.Serial.Port)
	require.Equal(t, DefaultBaudRate, cfg.Serial.BaudRate)
	require.Equal(t, "/run/link", cfg.Pipe.Prefix)
	require.True(t, cfg.Pipe.Reverse)
	require.False(t, cfg.Pipe.Create)
	require.Equal(t, 250*time.Millisecond, cfg.Pipe.ConnectTimeout)
}

func TestLoadEmptyFileIsDefault(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.ErrorContains(t, err, "load config")

	_, err = Load(writeConfig(t, `mtu = "big"`))
	require.ErrorContains(t, err, "load config")

	_, err = Load(writeConfig(t, "[pipe]\nconnect_timeout = \"soon\"\n"))
	require.ErrorContains(t, err, "pipe.connect_timeout")

	_, err = Load(writeConfig(t, `baud = 9600`))
	require.ErrorContains(t, err, "unknown key")
}

func TestValidate(t *testing.T) {
	base := Default()
	base.Interface = "slip0"
	base.Serial.Port = "/dev/ttyS0"
	base.Pipe.Prefix = "/tmp/link"

	require.NoError(t, base.Validate(ModeSerial))
	require.NoError(t, base.Validate(ModePipe))

	testCases := []struct {
		name    string
		mode    Mode
		mutate  func(*Config)
		wantErr string
	}{
		{"no interface", ModeSerial, func(c *Config) { c.Interface = " " }, "interface name"},
		{"long interface", ModePipe, func(c *Config) { c.Interface = strings.Repeat("a", 16) }, "longer than"},
		{"small mtu", ModeSerial, func(c *Config) { c.MTU = 10 }, "mtu"},
		{"large mtu", ModeSerial, func(c *Config) { c.MTU = 70000 }, "mtu"},
		{"small buffer", ModePipe, func(c *Config) { c.BufferSize = c.MTU }, "buffer size"},
		{"unescaped buffer", ModeSerial, func(c *Config) { c.MTU, c.BufferSize = 100, 101 }, "at least 201"},
		{"no port", ModeSerial, func(c *Config) { c.Serial.Port = "" }, "serial port"},
		{"bad baud", ModeSerial, func(c *Config) { c.Serial.BaudRate = 0 }, "baud rate"},
		{"no prefix", ModePipe, func(c *Config) { c.Pipe.Prefix = "" }, "pipe prefix"},
		{"negative timeout", ModePipe, func(c *Config) { c.Pipe.ConnectTimeout = -time.Second }, "connect timeout"},
		{"unknown mode", Mode("usb"), func(c *Config) {}, "unknown mode"},
	}

	minimal := base
	minimal.MTU, minimal.BufferSize = 100, 201
	require.NoError(t, minimal.Validate(ModeSerial))

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(tc.mode), tc.wantErr)
		})
	}
}
