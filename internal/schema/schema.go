package schema

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"

	"github.com/roach88/spendsync/internal/ir"
)

//go:embed schema.cue
var schemaCUE string

// ValidationError describes the first schema violation in a payload.
type ValidationError struct {
	Kind    ir.EntityKind
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s.%s: %s", e.Kind, e.Field, e.Message)
}

// Validator checks payloads against the embedded schema.
//
// Thread-safety: a cue.Context is not safe for concurrent use, so Validate
// serializes calls with an internal mutex.
type Validator struct {
	mu   sync.Mutex
	ctx  *cue.Context
	root cue.Value
}

// New compiles the embedded schema.
func New() (*Validator, error) {
	ctx := cuecontext.New()
	root := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{ctx: ctx, root: root}, nil
}

// MustNew is like New but panics on error. The schema is embedded, so an
// error means the binary itself is broken.
func MustNew() *Validator {
	v, err := New()
	if err != nil {
		panic(err)
	}
	return v
}

// Validate implements engine.Validator.
func (v *Validator) Validate(kind ir.EntityKind, method ir.Method, data ir.Payload) error {
	var set string
	switch method {
	case ir.MethodCreate, ir.MethodReplaceFull:
		set = "#full"
	case ir.MethodReplacePartial:
		set = "#partial"
	case ir.MethodDelete:
		return nil
	default:
		return fmt.Errorf("validate: unknown method %q", method)
	}
	if !kind.Valid() {
		return &ValidationError{Kind: kind, Message: "unknown entity kind"}
	}

	if data == nil {
		data = ir.Payload{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("validate %s: %w", kind, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	def := v.root.LookupPath(cue.MakePath(cue.Def(set), cue.Str(string(kind))))
	if !def.Exists() {
		return &ValidationError{Kind: kind, Message: "no schema for kind"}
	}
	val := v.ctx.CompileBytes(raw)
	if err := val.Err(); err != nil {
		return fmt.Errorf("validate %s: %w", kind, err)
	}

	if err := def.Unify(val).Validate(cue.Concrete(true)); err != nil {
		return toValidationError(kind, err)
	}
	return nil
}

// toValidationError reduces a CUE error list to its first entry, with the
// schema path trimmed to the field name.
func toValidationError(kind ir.EntityKind, err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &ValidationError{Kind: kind, Message: err.Error()}
	}
	first := errs[0]

	field := fieldName(first.Path())
	if field == "" {
		return &ValidationError{Kind: kind, Message: first.Error()}
	}
	format, args := first.Msg()
	return &ValidationError{
		Kind:    kind,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

// fieldName drops the leading definition and kind selectors from a path.
func fieldName(path []string) string {
	if len(path) > 2 && strings.HasPrefix(path[0], "#") {
		path = path[2:]
	}
	return strings.Join(path, ".")
}
