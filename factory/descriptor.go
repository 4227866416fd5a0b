// Package factory turns a Candidate's factory descriptor into a callable
// Go value, safely (§4.3). It implements the "Dynamic-typed origin → typed
// core" design note: FactoryType is a tagged union instead of a dynamically
// typed field, and the Symbolic form resolves against an in-process
// registration table rather than Go's (nonexistent) dynamic import.
package factory

// Kind distinguishes the two descriptor forms (§3, §4.3).
type Kind string

const (
	KindCallable Kind = "callable"
	KindSymbolic Kind = "symbolic"
)

// Func constructs a provider instance. Instances are returned as `any`
// because the core never knows a provider's concrete type; domain bridges
// downcast via their own type assertions.
type Func func(settings any) (any, error)

// Descriptor is the tagged union of the two supported factory forms.
//
//   - Callable: an in-process Func, usable only for local registration —
//     never produced by the Remote Manifest Pipeline, which only ever
//     carries the Symbolic form over the wire (§6.2).
//   - Symbolic: a "module:symbol" string resolved against the process-wide
//     symbol table populated by RegisterSymbol.
type Descriptor struct {
	Kind     Kind
	Callable Func
	Symbol   string // "module:symbol" form
}

// NewCallable builds a Descriptor around an in-process Func.
func NewCallable(fn Func) Descriptor {
	return Descriptor{Kind: KindCallable, Callable: fn}
}

// NewSymbolic builds a Descriptor around a "module:symbol" string.
func NewSymbolic(symbol string) Descriptor {
	return Descriptor{Kind: KindSymbolic, Symbol: symbol}
}
