package config

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/goccy/go-json"
)

//go:embed schema.cue
var schemaSource string

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Violation is one schema failure.
type Violation struct {
	// Path is the dotted key, e.g. "store.max_tries".
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError lists every violation found.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Path+": "+v.Message)
	}
	return fmt.Sprintf("%s: %s", ErrInvalid, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalid
}

// Validate checks cfg against the embedded CUE schema and resolves the
// site timezone. It returns a *ValidationError listing all violations.
func Validate(cfg Config) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	value := ctx.CompileBytes(data, cue.Filename("config"))
	if err := value.Err(); err != nil {
		return fmt.Errorf("load config into cue: %w", err)
	}

	var violations []Violation
	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		for _, e := range cueerrors.Errors(err) {
			format, args := e.Msg()
			violations = append(violations, Violation{
				Path:    keyPath(e.Path()),
				Message: fmt.Sprintf(format, args...),
			})
		}
	}
	if _, err := cfg.Site.Location(); err != nil {
		violations = append(violations, Violation{Path: "site.timezone", Message: err.Error()})
	}

	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

// keyPath renders a CUE error path as a config key, dropping definition
// selectors such as #Config.
func keyPath(path []string) string {
	keys := make([]string, 0, len(path))
	for _, p := range path {
		if !strings.HasPrefix(p, "#") {
			keys = append(keys, p)
		}
	}
	return strings.Join(keys, ".")
}
