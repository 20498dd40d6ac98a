package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/ability/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                        `json:"valid"`
	Errors   []compiler.ValidationError  `json:"errors,omitempty"`
	Warnings []compiler.RecursionWarning `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <abilities-dir>",
		Short: "Check abilities for consistency",
		Long: `Check the abilities of a directory against each other.

Reports undeclared predicates and variables, malformed steps, constraints
sent to agents an ability does not require, and duplicate names. Recursive
rule groups are reported as warnings.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	res, loadErrs := compiler.LoadDir(dir, compiler.LoadModeCollectAll)
	if res == nil && len(loadErrs) > 0 {
		code, message := parseLoadError(loadErrs[0])
		return formatter.Fail(ExitCommandError, code, message, nil)
	}
	formatter.VerboseLog("Found %d CUE file(s) in %s", res.FileCount, dir)

	var errs []compiler.ValidationError
	for _, err := range loadErrs {
		code, message := parseLoadError(err)
		ve := compiler.ValidationError{Field: "load", Message: message, Code: code}
		var le *compiler.LoadError
		if errors.As(err, &le) && le.Pos.IsValid() {
			ve.Line = le.Pos.Line()
		}
		errs = append(errs, ve)
	}
	errs = append(errs, compiler.ValidateAll(res.Abilities)...)

	warnings := []compiler.RecursionWarning{}
	for i := range res.Abilities {
		formatter.VerboseLog("Validating ability: %s", res.Abilities[i].Name)
		warnings = append(warnings, compiler.AnalyzeRecursion(&res.Abilities[i])...)
	}

	if len(errs) > 0 {
		return outputValidationErrors(formatter, errs, warnings)
	}
	return outputValidateSuccess(formatter, len(res.Abilities), warnings)
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, count int, warnings []compiler.RecursionWarning) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Warnings: warnings})
	}

	fmt.Fprintf(formatter.Writer, "✓ All %d ability(ies) valid\n", count)
	printWarnings(formatter, warnings)
	return nil
}

func printWarnings(formatter *OutputFormatter, warnings []compiler.RecursionWarning) {
	for _, w := range warnings {
		fmt.Fprintf(formatter.Writer, "  warning: %s: %s\n", w.Ability, w.Message)
	}
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError, warnings []compiler.RecursionWarning) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs, Warnings: warnings},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}

		if err := formatter.Encode(response); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", err.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", err.Code, err.Field, err.Message)
	}
	printWarnings(formatter, warnings)

	// Validation failures = exit code 1 (test/validation failure)
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
