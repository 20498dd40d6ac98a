package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/ability/internal/compiler"
	"github.com/roach88/ability/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompilationResult holds the compiled abilities.
type CompilationResult struct {
	Version   string            `json:"ir_version"`
	Abilities []ir.AbilitySpec  `json:"abilities"`
	Hashes    map[string]string `json:"hashes"` // ability name -> spec hash
}

// CompilationStats holds summary statistics.
type CompilationStats struct {
	AbilityCount int
	TotalTasks   int
	TotalRecipes int
	TotalRules   int
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <abilities-dir>",
		Short: "Compile CUE abilities to JSON declarations",
		Long: `Compile the CUE abilities of a directory to their JSON declaration form.

Every field under "ability" is compiled; all compile errors are reported.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	res, errs := compiler.LoadDir(dir, compiler.LoadModeCollectAll)
	if res == nil && len(errs) > 0 {
		code, message := parseLoadError(errs[0])
		return formatter.Fail(ExitCommandError, code, message, nil)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", res.FileCount, dir)
	for _, a := range res.Abilities {
		formatter.VerboseLog("Compiled ability: %s", a.Name)
	}

	if len(errs) > 0 {
		return outputCompileErrors(formatter, errs)
	}

	result, err := newCompilationResult(res.Abilities)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}
	stats := calculateStats(result)

	if opts.Output != "" {
		if err := writeIRToFile(result, opts.Output); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err), nil)
		}
	}

	return outputCompileSuccess(formatter, result, stats, opts.Output)
}

func newCompilationResult(specs []ir.AbilitySpec) (*CompilationResult, error) {
	result := &CompilationResult{
		Version:   ir.IRVersion,
		Abilities: specs,
		Hashes:    make(map[string]string, len(specs)),
	}
	for _, a := range specs {
		doc, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("hashing %s: %w", a.Name, err)
		}
		result.Hashes[a.Name] = ir.SpecHash(doc)
	}
	return result, nil
}

func calculateStats(result *CompilationResult) CompilationStats {
	stats := CompilationStats{AbilityCount: len(result.Abilities)}
	for _, a := range result.Abilities {
		stats.TotalTasks += len(a.Tasks)
		stats.TotalRules += len(a.Rules)
		for _, t := range a.Tasks {
			stats.TotalRecipes += len(t.Recipes)
		}
	}
	return stats
}

func outputCompileSuccess(formatter *OutputFormatter, result *CompilationResult, stats CompilationStats, outputFile string) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Compiled %d ability(ies): %d task(s), %d recipe(s), %d rule(s)\n\n",
		stats.AbilityCount, stats.TotalTasks, stats.TotalRecipes, stats.TotalRules)

	for _, a := range result.Abilities {
		fmt.Fprintf(w, "  %s: %d predicate(s), %d variable(s), %d fact(s), %d task(s)",
			a.Name, len(a.Predicates), len(a.Variables), len(a.Facts), len(a.Tasks))
		if len(a.Requires) > 0 {
			fmt.Fprintf(w, ", requires %v", a.Requires)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)

	if outputFile != "" {
		fmt.Fprintf(w, "Wrote declarations to %s\n", outputFile)
	}
	return nil
}

func outputCompileErrors(formatter *OutputFormatter, errs []error) error {
	if formatter.Format == "json" {
		cliErrors := make([]CLIError, len(errs))
		for i, err := range errs {
			code, message := parseLoadError(err)
			cliErrors[i] = CLIError{Code: code, Message: message}
		}
		if err := formatter.Encode(CLIResponse{
			Status: "error",
			Error:  &cliErrors[0],
			Data:   cliErrors,
		}); err != nil {
			return err
		}
		return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Compilation failed")
	fmt.Fprintln(formatter.Writer)
	for _, err := range errs {
		fmt.Fprintf(formatter.Writer, "  %s\n\n", err.Error())
	}
	return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
}

// writeIRToFile writes the declarations as indented JSON.
func writeIRToFile(result *CompilationResult, filename string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling declarations: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}
