// Command cockroach is the instrumentation module. It is built with
// -buildmode=c-shared and preloaded into the target process, where it
// applies the recipe named by COCKROACH_RECIPE and stands in for the
// dynamic loader's dlopen and dlclose.
package main

/*
#cgo LDFLAGS: -ldl
#include <stdint.h>
#include <stdlib.h>

uintptr_t roach_next_dlopen(const char *file, int mode);
int roach_next_dlclose(uintptr_t handle);
uintptr_t roach_lookup_symbol(const char *name);
*/
import "C"

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/coral-mesh/cockroach/internal/config"
	"github.com/coral-mesh/cockroach/internal/interceptor"
	"github.com/coral-mesh/cockroach/internal/logging"
	"github.com/coral-mesh/cockroach/internal/preload"
	"github.com/coral-mesh/cockroach/internal/probe"
)

// icpt is created once by cockroachInit and lives until the process exits.
var (
	icpt     atomic.Pointer[interceptor.Interceptor]
	initOnce sync.Once
)

// cockroachInit is called from the module's ELF constructor. The call blocks
// until the Go runtime is up, so probes for libraries that are already mapped
// are in place before the host's main runs.
//
//export cockroachInit
func cockroachInit() {
	initOnce.Do(boot)
}

func boot() {
	cfg, err := config.LoadModuleConfig()
	if err != nil {
		logger := logging.NewWithComponent(logging.DefaultConfig(), "cockroach")
		logger.Fatal().Err(err).Msg("Invalid module configuration")
	}

	logger := logging.NewWithComponent(cfg.LoggingConfig(), "cockroach")
	installer := probe.NewInstaller(probe.NewSelfMemory(logger), probe.NewNearAllocator(), logger)

	booted, err := preload.Boot(cfg, logger, lookupSymbol, loaderForwarder{}, installer)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialise instrumentation")
	}
	icpt.Store(booted)
}

func lookupSymbol(name string) (uintptr, bool) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	addr := uintptr(C.roach_lookup_symbol(cname))
	return addr, addr != 0
}

// loaderForwarder calls the dlopen and dlclose that were next in the lookup
// order when the module was loaded.
type loaderForwarder struct{}

func (loaderForwarder) Open(path string, flags int) uintptr {
	var cpath *C.char
	if path != "" {
		cpath = C.CString(path)
		defer C.free(unsafe.Pointer(cpath))
	}
	return uintptr(C.roach_next_dlopen(cpath, C.int(flags)))
}

func (loaderForwarder) Close(handle uintptr) int {
	return int(C.roach_next_dlclose(C.uintptr_t(handle)))
}

//export cockroachDlopen
func cockroachDlopen(file *C.char, mode C.int) C.uintptr_t {
	var path string
	if file != nil {
		path = C.GoString(file)
	}
	ic := icpt.Load()
	if ic == nil {
		return C.uintptr_t(loaderForwarder{}.Open(path, int(mode)))
	}
	return C.uintptr_t(ic.Open(path, int(mode)))
}

//export cockroachDlclose
func cockroachDlclose(handle C.uintptr_t) C.int {
	ic := icpt.Load()
	if ic == nil {
		return C.int(loaderForwarder{}.Close(uintptr(handle)))
	}
	return C.int(ic.Close(uintptr(handle)))
}

func main() {}
