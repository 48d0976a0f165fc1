package main

import (
	"fmt"
	"io"

	"github.com/BurntSushi/toml"
	"github.com/spf13/afero"

	"github.com/nianjia-runtime/nrt"
	"github.com/nianjia-runtime/nrt/internal/logging"
)

// fileConfig is the TOML config file. The keys match the NRT_* environment variables.
type fileConfig struct {
	CompilationWorkers *int    `toml:"compilation_workers"`
	Backend            *string `toml:"backend"`
	MemoryLimitPages   *uint32 `toml:"memory_limit_pages"`
	BoundsChecks       *bool   `toml:"bounds_checks"`
	LogLevel           *string `toml:"log_level"`
}

func readConfigFile(fs afero.Fs, path string) (*fileConfig, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("couldn't load the configuration from %q: %w", path, err)
	}
	var fc fileConfig
	md, err := toml.Decode(string(data), &fc)
	if err != nil {
		return nil, fmt.Errorf("couldn't parse the configuration from %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config %s: unknown key %q", path, undecoded[0].String())
	}
	return &fc, nil
}

// apply returns cfg with the keys set in the file. log_level replaces the logger with one writing to
// logOut.
func (fc *fileConfig) apply(cfg *nrt.RuntimeConfig, logOut io.Writer) (*nrt.RuntimeConfig, error) {
	if fc.CompilationWorkers != nil {
		cfg = cfg.WithCompilationWorkers(*fc.CompilationWorkers)
	}
	if fc.Backend != nil {
		arch, err := nrt.ParseBackend(*fc.Backend)
		if err != nil {
			return nil, err
		}
		cfg = cfg.WithBackend(arch)
	}
	if fc.MemoryLimitPages != nil {
		cfg = cfg.WithMemoryLimitPages(*fc.MemoryLimitPages)
	}
	if fc.BoundsChecks != nil {
		cfg = cfg.WithBoundsChecks(*fc.BoundsChecks)
	}
	if fc.LogLevel != nil {
		l, err := logging.New(logOut, *fc.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("log_level: %w", err)
		}
		cfg = cfg.WithLogger(l)
	}
	return cfg, nil
}
