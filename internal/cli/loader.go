package cli

import (
	"errors"
	"fmt"

	"github.com/roach88/ability/internal/compiler"
	"github.com/roach88/ability/internal/ir"
)

// Command error codes. Load codes (E001-E008) come from the compiler.
const (
	ErrCodeGeneric     = compiler.ErrCodeGeneric
	ErrCodeNotFound    = compiler.ErrCodeNotFound
	ErrCodeWriteFailed = "E007"
	ErrCodeNoAbility   = "E009" // named ability not in the directory
	ErrCodeStore       = "E010" // journal cannot be opened or read
	ErrCodeConfig      = "E011" // configuration cannot be loaded
)

// loadAbilities loads and validates every ability in dir, stopping at the
// first compile error.
func loadAbilities(dir string) ([]ir.AbilitySpec, error) {
	res, errs := compiler.LoadDir(dir, compiler.LoadModeFailFast)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	if verrs := compiler.ValidateAll(res.Abilities); len(verrs) > 0 {
		return nil, fmt.Errorf("%d validation error(s), first: %s", len(verrs), verrs[0].Error())
	}
	return res.Abilities, nil
}

// findAbility returns the ability called name.
func findAbility(specs []ir.AbilitySpec, name string) (*ir.AbilitySpec, error) {
	for i := range specs {
		if specs[i].Name == name {
			return &specs[i], nil
		}
	}
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Name
	}
	return nil, fmt.Errorf("ability %q not found (have %v)", name, names)
}

// parseLoadError extracts a code and message from a load or compile error.
func parseLoadError(err error) (string, string) {
	var loadErr *compiler.LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code, loadErr.Message
	}
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return compiler.MapFieldToErrorCode(compileErr.Field), compileErr.Message
	}
	return ErrCodeGeneric, err.Error()
}
