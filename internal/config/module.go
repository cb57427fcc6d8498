package config

import (
	"fmt"
	"os"

	"github.com/coral-mesh/cockroach/internal/logging"
)

// Default probe handler symbols resolved in the instrumented process.
const (
	DefaultPreHookSymbol  = "roach_time_measure_probe"
	DefaultPostHookSymbol = "roach_time_measure_ret_probe"
)

// ModuleConfig is read once when cockroach.so initialises inside the target.
type ModuleConfig struct {
	// RecipePath is the recipe file to apply.
	RecipePath string `env:"COCKROACH_RECIPE" required:"true"`

	Log struct {
		Level  string `env:"COCKROACH_LOG_LEVEL"`
		Pretty bool   `env:"COCKROACH_LOG_PRETTY"`
	}

	Hooks struct {
		// PreHook and PostHook name the handler entry points bound to every
		// probe. Setting either variable to the empty string disables it.
		PreHook  string `env:"COCKROACH_PRE_HOOK" allowEmpty:"true"`
		PostHook string `env:"COCKROACH_POST_HOOK" allowEmpty:"true"`
	}
}

// DefaultModuleConfig returns the module defaults before the environment is
// applied.
func DefaultModuleConfig() *ModuleConfig {
	cfg := &ModuleConfig{}
	cfg.Log.Level = "info"
	cfg.Log.Pretty = logging.IsTerminal(os.Stderr)
	cfg.Hooks.PreHook = DefaultPreHookSymbol
	cfg.Hooks.PostHook = DefaultPostHookSymbol
	return cfg
}

// LoadModuleConfig applies the environment on top of the defaults.
func LoadModuleConfig() (*ModuleConfig, error) {
	cfg := DefaultModuleConfig()
	if err := LoadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load module configuration: %w", err)
	}
	return cfg, nil
}

// LoggingConfig converts the log settings for logging.New.
func (c *ModuleConfig) LoggingConfig() logging.Config {
	return logging.Config{
		Level:  c.Log.Level,
		Pretty: c.Log.Pretty,
		Output: os.Stderr,
	}
}
