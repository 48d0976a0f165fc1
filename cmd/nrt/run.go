package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nianjia-runtime/nrt"
	"github.com/nianjia-runtime/nrt/api"
	"github.com/nianjia-runtime/nrt/internal/logging"
)

func getRunCmd(root *rootCommand) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "run <file.wasm> <export> [args...]",
		Short: "instantiate a module and call one of its exported functions",
		Long: `Run compiles and instantiates the module, then calls the exported function with the
given arguments, parsed according to its parameter types. Results are printed comma-separated.

Flags go before the module path: everything after it is passed to the function, so negative
numbers need no quoting. Modules with imports fail to link, as run registers no host modules.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			bin, err := root.readModule(args[0])
			if err != nil {
				return err
			}
			r := nrt.NewRuntime(root.cfg)
			defer r.Close(root.ctx) //nolint:errcheck

			cm, err := r.CompileModule(root.ctx, bin)
			if err != nil {
				return fmt.Errorf("error compiling wasm binary: %w", err)
			}
			fn, ok := exportedFunction(cm, args[1])
			if !ok {
				return fmt.Errorf("function %q is not exported", args[1])
			}
			params, err := parseParams(fn, args[2:])
			if err != nil {
				return err
			}

			mc := nrt.NewModuleConfig()
			if name != "" {
				mc = mc.WithName(name)
			}
			inst, err := r.InstantiateModule(root.ctx, cm, mc)
			if err != nil {
				return fmt.Errorf("error instantiating wasm binary: %w", err)
			}
			defer inst.Close(root.ctx) //nolint:errcheck

			results, err := inst.Call(root.ctx, fn.Name, params...)
			if err != nil {
				return fmt.Errorf("error calling %s: %w", fn.Name, err)
			}
			if len(fn.ResultTypes) > 0 {
				fmt.Fprintln(root.stdout, logging.FormatValues(fn.ResultTypes, results))
			}
			return nil
		},
	}
	// Arguments such as -5 are values, not flags.
	cmd.Flags().SetInterspersed(false)
	cmd.Flags().StringVar(&name, "name", "", "instance name, defaulting to the module name")
	return cmd
}

func exportedFunction(cm *nrt.CompiledModule, name string) (nrt.FunctionDefinition, bool) {
	for _, f := range cm.ExportedFunctions() {
		if f.Name == name {
			return f, true
		}
	}
	return nrt.FunctionDefinition{}, false
}

// parseParams converts the command line arguments to the raw bits of fn's parameters.
func parseParams(fn nrt.FunctionDefinition, args []string) ([]uint64, error) {
	if len(args) != len(fn.ParamTypes) {
		return nil, fmt.Errorf("%s takes %d arguments, but %d were given", signature(fn), len(fn.ParamTypes), len(args))
	}
	params := make([]uint64, 0, len(args))
	for i, arg := range args {
		v, err := parseValue(fn.ParamTypes[i], arg)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		params = append(params, v)
	}
	return params, nil
}

// parseValue accepts signed or unsigned integers in any base strconv understands, and decimal floats.
func parseValue(t api.ValueType, s string) (uint64, error) {
	switch t {
	case api.ValueTypeI32:
		if v, err := strconv.ParseInt(s, 0, 32); err == nil {
			return api.EncodeI32(int32(v)), nil
		}
		v, err := strconv.ParseUint(s, 0, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid i32 %q", s)
		}
		return v, nil
	case api.ValueTypeI64:
		if v, err := strconv.ParseInt(s, 0, 64); err == nil {
			return api.EncodeI64(v), nil
		}
		v, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid i64 %q", s)
		}
		return v, nil
	case api.ValueTypeF32:
		v, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid f32 %q", s)
		}
		return api.EncodeF32(float32(v)), nil
	case api.ValueTypeF64:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid f64 %q", s)
		}
		return api.EncodeF64(v), nil
	}
	return 0, fmt.Errorf("%s arguments are not supported", api.ValueTypeName(t))
}
