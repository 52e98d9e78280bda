package main

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"

	"github.com/wippyai/llvm-ffi/engine"
)

// Config is the CLI configuration. Flags set on the command line override
// the file.
type Config struct {
	Wasm    string        `toml:"wasm"`
	Engine  EngineConfig  `toml:"engine"`
	Logging LoggingConfig `toml:"logging"`
	Metrics MetricsConfig `toml:"metrics"`
}

// EngineConfig mirrors engine.Config.
type EngineConfig struct {
	MemoryLimitPages   uint32 `toml:"memory_limit_pages" validate:"lte=65536"`
	CloseOnContextDone bool   `toml:"close_on_context_done"`
	AllocExport        string `toml:"alloc_export"`
	FreeExport         string `toml:"free_export"`
}

// LoggingConfig controls logging.
type LoggingConfig struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format" validate:"omitempty,oneof=console json"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Address string `toml:"address" validate:"omitempty,hostname_port"`
}

func defaultConfig() *Config {
	return &Config{
		Engine:  EngineConfig{MemoryLimitPages: 4096},
		Logging: LoggingConfig{Format: "console"},
	}
}

// loadConfig reads path over the defaults. An empty path yields the
// defaults.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func (c *Config) engineConfig() *engine.Config {
	return &engine.Config{
		MemoryLimitPages:   c.Engine.MemoryLimitPages,
		CloseOnContextDone: c.Engine.CloseOnContextDone,
		AllocExport:        c.Engine.AllocExport,
		FreeExport:         c.Engine.FreeExport,
	}
}
