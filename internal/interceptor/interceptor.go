// Package interceptor owns the instrumentation state of a process and reacts
// to its dynamic library loads.
package interceptor

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/cockroach/internal/disasm"
	"github.com/coral-mesh/cockroach/internal/logging"
	"github.com/coral-mesh/cockroach/internal/probe"
	"github.com/coral-mesh/cockroach/internal/sys/proc"
)

// Forwarder reaches the dynamic loader entry points that were in place
// before interception.
type Forwarder interface {
	// Open loads path and returns its handle, 0 on failure.
	Open(path string, flags int) uintptr
	// Close releases handle and returns the loader's status.
	Close(handle uintptr) int
}

// Installer patches one descriptor against a mapped library.
type Installer interface {
	TryInstall(d *probe.Descriptor, lib proc.MappedLibraryRecord) error
}

// Config assembles an Interceptor.
type Config struct {
	Probes    []*probe.Descriptor
	Forwarder Forwarder
	Installer Installer
	// Resolve snapshots the executable mappings. Defaults to proc.LoadSelfMaps.
	Resolve func() (*proc.MappedLibraries, error)
	Logger  zerolog.Logger
	// Fatal is called for errors the process cannot continue after: decode
	// faults and an unreadable maps table. Defaults to logging at fatal
	// level, which exits.
	Fatal func(err error)
}

// Interceptor is the process-wide instrumentation context. It is created once
// when the module loads and handed to the load and unload entry points.
type Interceptor struct {
	mu        sync.Mutex
	probes    []*probe.Descriptor
	forwarder Forwarder
	installer Installer
	resolve   func() (*proc.MappedLibraries, error)
	logger    zerolog.Logger
	fatal     func(err error)
}

// New creates an Interceptor.
func New(cfg Config) (*Interceptor, error) {
	if cfg.Forwarder == nil {
		return nil, fmt.Errorf("forwarder is required")
	}
	if cfg.Installer == nil {
		return nil, fmt.Errorf("installer is required")
	}

	i := &Interceptor{
		probes:    cfg.Probes,
		forwarder: cfg.Forwarder,
		installer: cfg.Installer,
		resolve:   cfg.Resolve,
		logger:    logging.WithSubsystem(cfg.Logger, "interceptor"),
		fatal:     cfg.Fatal,
	}
	if i.resolve == nil {
		i.resolve = proc.LoadSelfMaps
	}
	if i.fatal == nil {
		logger := i.logger
		i.fatal = func(err error) {
			logger.Fatal().Err(err).Msg("Instrumentation cannot continue")
		}
	}
	return i, nil
}

// InstallMapped tries every pending probe whose library is already mapped.
func (i *Interceptor) InstallMapped() {
	i.mu.Lock()
	defer i.mu.Unlock()

	libs, err := i.resolve()
	if err != nil {
		i.fatal(fmt.Errorf("failed to read process mappings: %w", err))
		return
	}

	for _, d := range i.probes {
		if !d.Pending() {
			continue
		}
		if lib, ok := libs.Lookup(d.LibraryPath); ok {
			i.install(d, lib)
		}
	}
}

// Open forwards a load request and then installs the probes that target the
// loaded library. The loader's result is returned unchanged.
func (i *Interceptor) Open(path string, flags int) uintptr {
	handle := i.forwarder.Open(path, flags)
	if handle == 0 || path == "" {
		return handle
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	var wanted []*probe.Descriptor
	for _, d := range i.probes {
		if d.Pending() && matches(d.LibraryPath, path) {
			wanted = append(wanted, d)
		}
	}
	if len(wanted) == 0 {
		return handle
	}

	libs, err := i.resolve()
	if err != nil {
		i.fatal(fmt.Errorf("failed to read process mappings: %w", err))
		return handle
	}

	for _, d := range wanted {
		lib, ok := lookup(libs, d.LibraryPath, path)
		if !ok {
			i.logger.Warn().
				Str("library", d.LibraryPath).
				Str("loaded", path).
				Msg("Library loaded but no executable mapping found")
			continue
		}
		i.install(d, lib)
	}
	return handle
}

// Close forwards an unload request. Probes in the unloaded library are left
// as they are.
func (i *Interceptor) Close(handle uintptr) int {
	return i.forwarder.Close(handle)
}

func (i *Interceptor) install(d *probe.Descriptor, lib proc.MappedLibraryRecord) {
	i.logger.Debug().
		Str("library", lib.Path).
		Str("base", logging.Hex(lib.Base)).
		Uint64("extent", lib.Extent()).
		Int("line", d.Line).
		Msg("Installing probe")
	err := i.installer.TryInstall(d, lib)
	switch {
	case err == nil:
	case disasm.IsFault(err):
		i.fatal(fmt.Errorf("probe %s: %w", d, err))
	default:
		i.logger.Error().Err(err).
			Str("library", d.LibraryPath).
			Int("line", d.Line).
			Msg("Probe installation failed")
	}
}

// Pending returns the probes that were not tried yet.
func (i *Interceptor) Pending() []*probe.Descriptor {
	return i.filter(func(d *probe.Descriptor) bool { return d.Pending() })
}

// Installed returns the probes that are live.
func (i *Interceptor) Installed() []*probe.Descriptor {
	return i.filter(func(d *probe.Descriptor) bool { return d.Installed })
}

func (i *Interceptor) filter(keep func(d *probe.Descriptor) bool) []*probe.Descriptor {
	i.mu.Lock()
	defer i.mu.Unlock()

	var out []*probe.Descriptor
	for _, d := range i.probes {
		if keep(d) {
			out = append(out, d)
		}
	}
	return out
}

// matches reports whether a load of path may map library. The loader accepts
// bare names searched on the library path, so those compare by base name.
func matches(library, path string) bool {
	if library == path {
		return true
	}
	if !strings.Contains(path, "/") {
		return filepath.Base(library) == path
	}
	return canonical(library) == canonical(path)
}

func canonical(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	return path
}

// lookup finds the record of library, falling back to the canonical form of
// the requested path since the maps table lists resolved paths.
func lookup(libs *proc.MappedLibraries, library, path string) (proc.MappedLibraryRecord, bool) {
	if lib, ok := libs.Lookup(library); ok {
		return lib, true
	}
	if lib, ok := libs.Lookup(canonical(library)); ok {
		return lib, true
	}
	if strings.Contains(path, "/") {
		return libs.Lookup(canonical(path))
	}
	return proc.MappedLibraryRecord{}, false
}
