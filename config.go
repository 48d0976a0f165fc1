package nrt

import (
	"fmt"
	"os"
	"runtime"

	"github.com/mstoykov/envconfig"
	"github.com/sirupsen/logrus"

	"github.com/nianjia-runtime/nrt/internal/abi"
	"github.com/nianjia-runtime/nrt/internal/backend"
	"github.com/nianjia-runtime/nrt/internal/backend/interp"
	"github.com/nianjia-runtime/nrt/internal/logging"
	"github.com/nianjia-runtime/nrt/internal/wasm"
)

// RuntimeConfig controls runtime behavior, with the default implementation as NewRuntimeConfig.
//
// RuntimeConfig is immutable: each WithXXX function returns a new instance including the
// corresponding change.
type RuntimeConfig struct {
	memoryLimitPages   uint32
	compilationWorkers int
	backend            backend.Arch
	boundsChecks       bool
	logger             logrus.FieldLogger
	logScopes          logging.LogScopes
	maxContexts        uint32
	maxCallDepth       int
}

// defaultConfig helps avoid copy/pasting the wrong defaults.
var defaultConfig = &RuntimeConfig{
	memoryLimitPages:   wasm.MemoryLimitPages,
	compilationWorkers: runtime.GOMAXPROCS(0),
	backend:            backend.ArchPortable,
	boundsChecks:       true,
	logScopes:          logging.LogScopeNone,
	maxContexts:        abi.MaxContexts,
	maxCallDepth:       interp.DefaultMaxCallDepth,
}

// NewRuntimeConfig returns the default configuration: the portable backend, bounds checks, one
// compilation worker per CPU and a silent logger.
func NewRuntimeConfig() *RuntimeConfig {
	return defaultConfig.clone()
}

// clone ensures all fields are copied even if nil.
func (c *RuntimeConfig) clone() *RuntimeConfig {
	ret := *c
	return &ret
}

// WithMemoryLimitPages reduces the maximum number of pages a memory can have from 65536 pages (4GiB)
// to a lower value.
//
// Notes:
//   - If a module defines no memory max limit, its memories reserve this many pages.
//   - If a module defines a memory max larger than this amount, it will fail to compile.
func (c *RuntimeConfig) WithMemoryLimitPages(pages uint32) *RuntimeConfig {
	if pages > wasm.MemoryLimitPages {
		pages = wasm.MemoryLimitPages
	}
	ret := c.clone()
	ret.memoryLimitPages = pages
	return ret
}

// WithCompilationWorkers sets how many functions are lowered in parallel. Values below one mean one.
func (c *RuntimeConfig) WithCompilationWorkers(n int) *RuntimeConfig {
	if n < 1 {
		n = 1
	}
	ret := c.clone()
	ret.compilationWorkers = n
	return ret
}

// WithBackend selects the code generator: backend.ArchPortable or backend.ArchAMD64.
//
// Note: Functions the amd64 backend cannot translate are listed in CompiledModule.Fallbacks, and
// every function still executes through the portable loader.
func (c *RuntimeConfig) WithBackend(arch backend.Arch) *RuntimeConfig {
	ret := c.clone()
	ret.backend = arch
	return ret
}

// WithBoundsChecks makes compiled code compare each memory access against the memory length and trap,
// instead of relying on guard pages alone. Defaults to true.
//
// Guard pages only cover one page past the reservation, so turning this off is only safe for
// modules whose static offsets are small.
func (c *RuntimeConfig) WithBoundsChecks(enabled bool) *RuntimeConfig {
	ret := c.clone()
	ret.boundsChecks = enabled
	return ret
}

// WithLogger sets the logger of the runtime and everything it creates. Defaults to discarding.
func (c *RuntimeConfig) WithLogger(logger logrus.FieldLogger) *RuntimeConfig {
	ret := c.clone()
	ret.logger = logger
	return ret
}

// WithLogScopes enables verbose debug events, such as one per call, in the given scopes.
func (c *RuntimeConfig) WithLogScopes(scopes logging.LogScopes) *RuntimeConfig {
	ret := c.clone()
	ret.logScopes = scopes
	return ret
}

// WithMaxContexts limits how many instances share one compartment before the runtime opens another.
// Values are clamped to [1, abi.MaxContexts].
func (c *RuntimeConfig) WithMaxContexts(n uint32) *RuntimeConfig {
	if n < 1 {
		n = 1
	} else if n > abi.MaxContexts {
		n = abi.MaxContexts
	}
	ret := c.clone()
	ret.maxContexts = n
	return ret
}

// WithMaxCallDepth bounds the nesting of calls between compiled functions.
func (c *RuntimeConfig) WithMaxCallDepth(n int) *RuntimeConfig {
	ret := c.clone()
	ret.maxCallDepth = n
	return ret
}

// envSpec are the settings read by WithEnv. Unset variables leave the configuration unchanged.
type envSpec struct {
	CompilationWorkers *int    `envconfig:"COMPILATION_WORKERS"`
	Backend            *string `envconfig:"BACKEND"`
	MemoryLimitPages   *uint32 `envconfig:"MEMORY_LIMIT_PAGES"`
	BoundsChecks       *bool   `envconfig:"BOUNDS_CHECKS"`
	LogLevel           *string `envconfig:"LOG_LEVEL"`
}

// WithEnv applies the NRT_COMPILATION_WORKERS, NRT_BACKEND, NRT_MEMORY_LIMIT_PAGES,
// NRT_BOUNDS_CHECKS and NRT_LOG_LEVEL environment variables on top of this configuration.
//
// NRT_LOG_LEVEL replaces the logger with one writing to stderr at that level.
func (c *RuntimeConfig) WithEnv() (*RuntimeConfig, error) {
	return c.withLookup(os.LookupEnv)
}

func (c *RuntimeConfig) withLookup(lookup func(key string) (string, bool)) (*RuntimeConfig, error) {
	var spec envSpec
	if err := envconfig.Process("NRT", &spec, lookup); err != nil {
		return nil, err
	}
	ret := c
	if spec.CompilationWorkers != nil {
		ret = ret.WithCompilationWorkers(*spec.CompilationWorkers)
	}
	if spec.Backend != nil {
		arch, err := ParseBackend(*spec.Backend)
		if err != nil {
			return nil, err
		}
		ret = ret.WithBackend(arch)
	}
	if spec.MemoryLimitPages != nil {
		ret = ret.WithMemoryLimitPages(*spec.MemoryLimitPages)
	}
	if spec.BoundsChecks != nil {
		ret = ret.WithBoundsChecks(*spec.BoundsChecks)
	}
	if spec.LogLevel != nil {
		l, err := logging.New(os.Stderr, *spec.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("NRT_LOG_LEVEL: %w", err)
		}
		ret = ret.WithLogger(l)
	}
	return ret, nil
}

// ParseBackend returns the backend named s, as accepted by NRT_BACKEND.
func ParseBackend(s string) (backend.Arch, error) {
	switch arch := backend.Arch(s); arch {
	case backend.ArchPortable, backend.ArchAMD64:
		return arch, nil
	}
	return "", fmt.Errorf("unknown backend %q, expected %q or %q", s, backend.ArchPortable, backend.ArchAMD64)
}
