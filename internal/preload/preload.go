// Package preload initialises the instrumentation module inside the target
// process.
package preload

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/cockroach/internal/config"
	"github.com/coral-mesh/cockroach/internal/interceptor"
	"github.com/coral-mesh/cockroach/internal/probe"
	"github.com/coral-mesh/cockroach/internal/recipe"
)

// SymbolLookup resolves a global symbol in the instrumented process.
type SymbolLookup func(name string) (uintptr, bool)

// resolveHook binds a handler symbol. An empty name disables the hook.
func resolveHook(lookup SymbolLookup, name string) (probe.Hook, error) {
	if name == "" {
		return 0, nil
	}
	addr, ok := lookup(name)
	if !ok || addr == 0 {
		return 0, fmt.Errorf("probe handler %q not found in process", name)
	}
	return probe.Hook(addr), nil
}

// Boot builds the interceptor from the module configuration. Probes whose
// library is already mapped are installed before it returns.
func Boot(
	cfg *config.ModuleConfig,
	logger zerolog.Logger,
	lookup SymbolLookup,
	fwd interceptor.Forwarder,
	installer interceptor.Installer,
) (*interceptor.Interceptor, error) {
	probes, err := recipe.ParseFile(cfg.RecipePath)
	if err != nil {
		return nil, err
	}

	pre, err := resolveHook(lookup, cfg.Hooks.PreHook)
	if err != nil {
		return nil, err
	}
	post, err := resolveHook(lookup, cfg.Hooks.PostHook)
	if err != nil {
		return nil, err
	}
	for _, d := range probes {
		d.PreHook = pre
		d.PostHook = post
	}

	logger.Info().
		Str("recipe", cfg.RecipePath).
		Int("probes", len(probes)).
		Str("pre_hook", cfg.Hooks.PreHook).
		Str("post_hook", cfg.Hooks.PostHook).
		Msg("Recipe loaded")

	icpt, err := interceptor.New(interceptor.Config{
		Probes:    probes,
		Forwarder: fwd,
		Installer: installer,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	icpt.InstallMapped()
	logger.Info().
		Int("installed", len(icpt.Installed())).
		Int("pending", len(icpt.Pending())).
		Msg("Mapped libraries instrumented")
	return icpt, nil
}
