package compiler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/build"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/ability/internal/ir"
)

// LoadMode controls how errors are handled during loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// Load error codes.
const (
	ErrCodeGeneric     = "E001" // generic error
	ErrCodeScanError   = "E002" // directory scan error
	ErrCodeNoFiles     = "E003" // no CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeNoAbilities = "E008" // files hold no ability
)

// LoadResult holds the abilities found in a set of CUE files.
type LoadResult struct {
	Abilities []ir.AbilitySpec
	Value     cue.Value
	FileCount int
}

// Ability returns the ability named name.
func (r *LoadResult) Ability(name string) (*ir.AbilitySpec, bool) {
	for i := range r.Abilities {
		if r.Abilities[i].Name == name {
			return &r.Abilities[i], true
		}
	}
	return nil, false
}

// LoadError is an error that occurred while loading abilities.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadDir loads every CUE file under dir as one instance and compiles the
// abilities under its `ability` field.
func LoadDir(dir string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("abilities directory not found: %s", dir)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}
	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("scanning directory: %v", err)}}
	}
	if len(files) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}
	insts := load.Instances([]string{"."}, &load.Config{Dir: dir})
	return compileInstances(insts, len(files), mode)
}

// LoadFiles compiles each file on its own and unifies the results, so the
// files may live in different directories.
func LoadFiles(files []string, mode LoadMode) (*LoadResult, []error) {
	if len(files) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: "no CUE files given"}}
	}
	ctx := cuecontext.New()
	var value cue.Value
	for i, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("ability file not found: %s", f)}}
		}
		v := ctx.CompileBytes(data, cue.Filename(f))
		if err := v.Err(); err != nil {
			return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building %s: %v", f, err)}}
		}
		if i == 0 {
			value = v
		} else {
			value = value.Unify(v)
		}
	}
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("unifying CUE files: %v", err)}}
	}
	return compileValue(value, len(files), mode)
}

func compileInstances(insts []*build.Instance, fileCount int, mode LoadMode) (*LoadResult, []error) {
	if len(insts) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := insts[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}
	value := cuecontext.New().BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}
	return compileValue(value, fileCount, mode)
}

func compileValue(value cue.Value, fileCount int, mode LoadMode) (*LoadResult, []error) {
	result := &LoadResult{Value: value, FileCount: fileCount}
	var errs []error
	av := value.LookupPath(cue.ParsePath("ability"))
	if av.Exists() {
		iter, err := av.Fields()
		if err != nil {
			return result, []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating abilities: %v", err)}}
		}
		for iter.Next() {
			spec, err := CompileAbility(iter.Value())
			if err != nil {
				errs = append(errs, convertCompileError(err, "ability."+iter.Label()))
				if mode == LoadModeFailFast {
					return result, errs
				}
				continue
			}
			result.Abilities = append(result.Abilities, *spec)
		}
	}
	if len(result.Abilities) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeNoAbilities, Message: "no abilities found"})
	}
	return result, errs
}

// FindCUEFiles walks dir and returns every .cue file path, sorted.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

func convertCompileError(err error, context string) *LoadError {
	var ce *CompileError
	if errors.As(err, &ce) {
		return &LoadError{
			Code:    MapFieldToErrorCode(ce.Field),
			Message: fmt.Sprintf("%s: %s", context, ce.Message),
			Pos:     ce.Pos,
		}
	}
	return &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("%s: %v", context, err)}
}

// MapFieldToErrorCode maps a compile error field to a validation code.
func MapFieldToErrorCode(field string) string {
	switch {
	case field == "ability":
		return ErrAbilityEmpty
	case strings.HasPrefix(field, "variables"):
		return ErrInvalidVariableKind
	case strings.Contains(field, ".body"):
		return ErrInvalidStep
	case strings.HasSuffix(field, ".recipes"):
		return ErrNoRecipes
	default:
		return ErrCodeGeneric
	}
}
