// Command tlcodegen generates target C source from a lowered tensor-program
// IR module.
//
// Usage:
//
//	tlcodegen build ppl --input kernel.json --output kernel.c
//	tlcodegen build rvv --input kernel.json --output kernel.c
//	tlcodegen plan --input kernel.json
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tile-lang/tlcodegen/ir"
	"github.com/tile-lang/tlcodegen/planner"
	"github.com/tile-lang/tlcodegen/registry"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tlcodegen",
		Short: "Generate TPU/RVV C source from a lowered tensor-program IR module",
	}
	root.AddCommand(buildCmd())
	root.AddCommand(planCmd())
	return root
}

func buildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build C source for a target",
	}
	cmd.AddCommand(buildTargetCmd("ppl", "target.build.tilelang_ppl"))
	cmd.AddCommand(buildTargetCmd("rvv", "target.build.tilelang_rvv"))
	return cmd
}

func buildTargetCmd(use, builderName string) *cobra.Command {
	var inputPath, outputPath string
	cmd := &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("Build C source for the %s target", use),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadModule(inputPath)
			if err != nil {
				return err
			}
			build, ok := registry.Lookup(builderName)
			if !ok {
				return fmt.Errorf("no builder registered under %q", builderName)
			}
			perFunc, err := build(cmd.Context(), m)
			if err != nil {
				return err
			}
			var src strings.Builder
			for _, f := range m.Funcs {
				src.WriteString(perFunc[f.Name])
			}
			return writeOutput(outputPath, src.String())
		},
	}
	cmd.Flags().StringVar(&inputPath, "input", "", "Input IR module JSON file (required)")
	cmd.Flags().StringVar(&outputPath, "output", "-", "Output C file (default: stdout)")
	cmd.MarkFlagRequired("input")
	return cmd
}

// planResult is the JSON shape printed by `tlcodegen plan`: one offset map
// per function, keyed by function name.
type planResult struct {
	Functions map[string]map[string]int64 `json:"functions"`
}

func planCmd() *cobra.Command {
	var inputPath string
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the bank-conflict-aware allocation plan for a module, without emitting C",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadModule(inputPath)
			if err != nil {
				return err
			}
			result := planResult{Functions: make(map[string]map[string]int64, len(m.Funcs))}
			for _, f := range m.Funcs {
				allocs := registry.CollectAllocs(f)
				p, err := planner.Assign(allocs, planner.DefaultGeometry)
				if err != nil {
					return fmt.Errorf("function %q: %w", f.Name, err)
				}
				result.Functions[f.Name] = p.Offsets
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().StringVar(&inputPath, "input", "", "Input IR module JSON file (required)")
	cmd.MarkFlagRequired("input")
	return cmd
}

func loadModule(path string) (*ir.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var m ir.Module
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return &m, nil
}

func writeOutput(path, content string) error {
	if path == "" || path == "-" {
		_, err := fmt.Print(content)
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
