package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nianjia-runtime/nrt"
	"github.com/nianjia-runtime/nrt/api"
)

func getCompileCmd(root *rootCommand) *cobra.Command {
	var printSSA bool
	cmd := &cobra.Command{
		Use:   "compile <file.wasm>",
		Short: "compile a module and print a summary of the generated code",
		Long: `Compile decodes, validates and lowers the module, then runs the configured backend.

Without flags, it prints the exported functions and a summary of the code object. With --ssa, it
prints the lowered module instead.`,
		Args: cobra.ExactArgs(1),
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
			if printSSA {
				_, err = io.WriteString(root.stdout, cm.FormatSSA())
				return err
			}
			printSummary(root.stdout, cm)
			return nil
		},
	}
	cmd.Flags().BoolVar(&printSSA, "ssa", false, "print the lowered SSA module")
	return cmd
}

func printSummary(w io.Writer, cm *nrt.CompiledModule) {
	if cm.Name() != "" {
		fmt.Fprintf(w, "module %s\n", cm.Name())
	}
	fmt.Fprintln(w, cm.String())
	for _, f := range cm.ExportedFunctions() {
		fmt.Fprintf(w, "export %s\n", signature(f))
	}
	for _, name := range cm.Fallbacks() {
		fmt.Fprintf(w, "fallback %s\n", name)
	}
}

// signature formats f like "add(i32,i32) i32".
func signature(f nrt.FunctionDefinition) string {
	var b strings.Builder
	b.WriteString(f.Name)
	b.WriteByte('(')
	for i, t := range f.ParamTypes {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(api.ValueTypeName(t))
	}
	b.WriteByte(')')
	for _, t := range f.ResultTypes {
		b.WriteByte(' ')
		b.WriteString(api.ValueTypeName(t))
	}
	return b.String()
}
