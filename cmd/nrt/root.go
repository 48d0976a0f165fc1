package main

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/nianjia-runtime/nrt"
	"github.com/nianjia-runtime/nrt/internal/logging"
)

// rootCommand keeps the fields shared by all nrt commands.
type rootCommand struct {
	ctx    context.Context
	fs     afero.Fs
	stdout io.Writer
	stderr io.Writer
	logger *logrus.Logger
	cmd    *cobra.Command

	configPath string
	logLevel   string
	logScopes  string
	backend    string
	boundsOff  bool

	cfg *nrt.RuntimeConfig
}

func newRootCommand(ctx context.Context, fs afero.Fs, stdout, stderr io.Writer) *rootCommand {
	c := &rootCommand{ctx: ctx, fs: fs, stdout: stdout, stderr: stderr}
	c.cmd = &cobra.Command{
		Use:               "nrt",
		Short:             "compile and run WebAssembly modules",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.persistentPreRunE,
	}
	c.cmd.SetOut(stdout)
	c.cmd.SetErr(stderr)
	c.cmd.PersistentFlags().AddFlagSet(c.rootCmdPersistentFlagSet())
	c.cmd.AddCommand(getCompileCmd(c), getRunCmd(c))
	return c
}

func (c *rootCommand) rootCmdPersistentFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.StringVarP(&c.configPath, "config", "c", "", "TOML config file")
	flags.StringVar(&c.logLevel, "log-level", "warn", "log level: panic, fatal, error, warn, info, debug or trace")
	flags.StringVar(&c.logScopes, "log-scopes", "",
		"comma-separated debug event scopes: compile, link, memory, call or all")
	flags.StringVar(&c.backend, "backend", "", "code generator: portable or amd64")
	flags.BoolVar(&c.boundsOff, "no-bounds-checks", false, "rely on guard pages instead of explicit bounds checks")
	must(cobra.MarkFlagFilename(flags, "config", "toml"))
	return flags
}

// persistentPreRunE builds the runtime configuration. Later sources override earlier ones:
// defaults, the config file, NRT_* environment variables, then flags.
func (c *rootCommand) persistentPreRunE(cmd *cobra.Command, _ []string) error {
	var err error
	if c.logger, err = logging.New(c.stderr, c.logLevel); err != nil {
		return fmt.Errorf("--log-level: %w", err)
	}
	cfg := nrt.NewRuntimeConfig().WithLogger(c.logger)

	if c.configPath != "" {
		fc, err := readConfigFile(c.fs, c.configPath)
		if err != nil {
			return err
		}
		if cfg, err = fc.apply(cfg, c.stderr); err != nil {
			return fmt.Errorf("config %s: %w", c.configPath, err)
		}
	}

	if cfg, err = cfg.WithEnv(); err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg = cfg.WithLogger(c.logger)
	}
	if flags.Changed("backend") {
		arch, err := nrt.ParseBackend(c.backend)
		if err != nil {
			return fmt.Errorf("--backend: %w", err)
		}
		cfg = cfg.WithBackend(arch)
	}
	if flags.Changed("no-bounds-checks") {
		cfg = cfg.WithBoundsChecks(!c.boundsOff)
	}
	if c.logScopes != "" {
		scopes, err := logging.ParseScopes(c.logScopes)
		if err != nil {
			return fmt.Errorf("--log-scopes: %w", err)
		}
		cfg = cfg.WithLogScopes(scopes)
	}
	c.cfg = cfg
	return nil
}

func (c *rootCommand) readModule(path string) ([]byte, error) {
	bin, err := afero.ReadFile(c.fs, path)
	if err != nil {
		return nil, fmt.Errorf("error reading wasm binary: %w", err)
	}
	return bin, nil
}

// doMain is separated out for the purpose of unit testing.
func doMain(ctx context.Context, fs afero.Fs, args []string, stdout, stderr io.Writer) int {
	c := newRootCommand(ctx, fs, stdout, stderr)
	c.cmd.SetArgs(args)
	if err := c.cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
