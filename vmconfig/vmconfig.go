// Package vmconfig provides TOML-backed configuration for IOVM1 embedders:
// default channel timeouts, the memory-target table consumed by hostmem,
// and the transport settings consumed by hostws.
package vmconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

// Config is the root configuration document.
type Config struct {
	Execution struct {
		DefaultTimeoutTicks uint32 `toml:"default_timeout_ticks"`
		DefaultCmpMask      uint8  `toml:"default_cmp_mask"`
	} `toml:"execution"`

	Targets []TargetConfig `toml:"targets"`

	Transport struct {
		ListenAddr string `toml:"listen_addr"`
		DialAddr   string `toml:"dial_addr"`
	} `toml:"transport"`
}

// TargetConfig describes one hostmem.Target to provision at startup.
type TargetConfig struct {
	ID       uint8  `toml:"id"`
	Name     string `toml:"name"`
	Size     int    `toml:"size"`
	Readable bool   `toml:"readable"`
	Writable bool   `toml:"writable"`
}

// DefaultConfig returns a configuration with sensible defaults: a
// read/write SRAM target, a read-only ROM target, and a local websocket
// listener, mirroring the sort of memory map spec.md's SNES-bridge origin
// describes in its glossary.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Execution.DefaultTimeoutTicks = 1 << 16
	cfg.Execution.DefaultCmpMask = 0xFF

	cfg.Targets = []TargetConfig{
		{ID: 0, Name: "sram", Size: 0x2000, Readable: true, Writable: true},
		{ID: 1, Name: "wram", Size: 0x20000, Readable: true, Writable: true},
		{ID: 2, Name: "rom", Size: 0x400000, Readable: true, Writable: false},
	}

	cfg.Transport.ListenAddr = ":4590"
	cfg.Transport.DialAddr = ""

	return cfg
}

// Path returns the platform-specific config file path, matching the
// teacher's per-OS config.GetConfigPath convention.
func Path() string {
	var dir string
	switch runtime.GOOS {
	case "windows":
		dir = os.Getenv("APPDATA")
		if dir == "" {
			dir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		dir = filepath.Join(dir, "iovm1")
	case "darwin", "linux":
		home, err := os.UserHomeDir()
		if err != nil {
			return "iovm1.toml"
		}
		dir = filepath.Join(home, ".config", "iovm1")
	default:
		return "iovm1.toml"
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "iovm1.toml"
	}
	return filepath.Join(dir, "iovm1.toml")
}

// Load reads configuration from path, falling back to DefaultConfig if the
// file does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to path in TOML form.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path) // #nosec G304 -- caller-controlled config path
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}
