package query

import "fmt"

// UnknownFunctionError reports a function identifier absent from the
// builtin registry, carrying the offending name.
type UnknownFunctionError struct {
	Fn string
}

func (e *UnknownFunctionError) Error() string {
	return fmt.Sprintf("unknown function: %s", e.Fn)
}

// ArityError reports a builtin applied with the wrong argument count.
type ArityError struct {
	Fn   string
	Got  int
	Min  int
	Max  int // -1 for unlimited
}

func (e *ArityError) Error() string {
	if e.Min == e.Max {
		return fmt.Sprintf("%s expects %d arguments, got %d", e.Fn, e.Min, e.Got)
	}
	return fmt.Sprintf("%s expects at least %d arguments, got %d", e.Fn, e.Min, e.Got)
}

// FunctionKind classifies registry entries.
type FunctionKind uint8

const (
	// KindPredicate is a boolean condition usable as [(fn ...)].
	KindPredicate FunctionKind = iota
	// KindFunction computes a value usable as [(fn ...) ?out].
	KindFunction
	// KindAggregate is usable only in find position.
	KindAggregate
)

// FunctionMeta describes one registered builtin.
type FunctionMeta struct {
	Name    string
	Kind    FunctionKind
	MinArgs int
	MaxArgs int // -1 for unlimited
}

// Registry maps builtin identifiers to their metadata so malformed
// applications fail at parse time, not at execution.
type Registry struct {
	functions map[string]FunctionMeta
}

// DefaultRegistry holds every builtin, initialized at package load.
var DefaultRegistry = NewRegistry()

// NewRegistry builds a registry preloaded with the builtins.
func NewRegistry() *Registry {
	r := &Registry{functions: make(map[string]FunctionMeta)}

	for _, op := range []string{"=", "!=", "<", "<=", ">", ">="} {
		r.Register(FunctionMeta{Name: op, Kind: KindPredicate, MinArgs: 2, MaxArgs: 2})
	}

	for _, fn := range []string{"+", "-", "*", "/"} {
		r.Register(FunctionMeta{Name: fn, Kind: KindFunction, MinArgs: 2, MaxArgs: -1})
	}
	r.Register(FunctionMeta{Name: "ground", Kind: KindFunction, MinArgs: 1, MaxArgs: 1})

	for _, agg := range []string{"count", "sum", "avg", "min", "max"} {
		r.Register(FunctionMeta{Name: agg, Kind: KindAggregate, MinArgs: 1, MaxArgs: 1})
	}

	return r
}

// Register adds or replaces a builtin.
func (r *Registry) Register(meta FunctionMeta) {
	r.functions[meta.Name] = meta
}

// Lookup returns the metadata for name.
func (r *Registry) Lookup(name string) (FunctionMeta, bool) {
	meta, ok := r.functions[name]
	return meta, ok
}

// Validate checks that name exists and argCount fits its arity.
func (r *Registry) Validate(name string, argCount int) error {
	meta, ok := r.functions[name]
	if !ok {
		return &UnknownFunctionError{Fn: name}
	}
	if argCount < meta.MinArgs || (meta.MaxArgs >= 0 && argCount > meta.MaxArgs) {
		return &ArityError{Fn: name, Got: argCount, Min: meta.MinArgs, Max: meta.MaxArgs}
	}
	return nil
}
