package factory

import (
	"strings"
	"sync"

	"github.com/oneiric/oneiric/internal/errs"
)

// blockedPrefixes denies Go's own process/shell, subprocess-spawning,
// dynamic-loading, and eval-equivalent primitives symbolically (§4.3).
// Go has no eval/exec-string primitive comparable to the dynamic-typed
// origin's, so the static block list instead denies the module prefixes a
// symbol string would have to name to reach those primitives through a
// host-registered factory.
var blockedPrefixes = []string{
	"os/exec",
	"os.StartProcess",
	"os.Exec",
	"plugin.Open",
	"plugin",
	"syscall.Exec",
	"syscall.ForkExec",
	"os.Remove",
	"os.RemoveAll",
	"ioutil.TempFile",
	"os.CreateTemp",
}

// symbolTable maps a registered symbol to its Func. Populated once at process
// startup by the host application via Guard.RegisterSymbol.
type symbolTable struct {
	mu      sync.RWMutex
	symbols map[string]Func
}

// Guard validates and resolves factory descriptors against an allow-list,
// caching symbolic resolutions for the life of the process (§4.3).
type Guard struct {
	allowlist []string
	symbols   symbolTable
	cache     sync.Map // string -> Func
}

// NewGuard creates a Guard whose allow-list is exactly the given prefixes;
// the Orchestrator passes Config.FactoryAllowlist (§6.1
// `factory_allowlist`). No built-in application namespace prefixes are
// added.
func NewGuard(allowlist ...string) *Guard {
	return &Guard{
		allowlist: append([]string{}, allowlist...),
		symbols:   symbolTable{symbols: make(map[string]Func)},
	}
}

// RegisterSymbol populates the in-process symbol table a Symbolic descriptor
// resolves against. Host applications call this at startup for every
// "module:symbol" string their providers may reference.
func (g *Guard) RegisterSymbol(name string, fn Func) {
	g.symbols.mu.Lock()
	defer g.symbols.mu.Unlock()
	g.symbols.symbols[name] = fn
}

// Resolve turns a Descriptor into a callable Func, enforcing the allow-list
// and block-list for Symbolic descriptors. Callable descriptors are accepted
// as-is: they only ever arrive from in-language local registration, which is
// trusted by construction.
func (g *Guard) Resolve(d Descriptor) (Func, error) {
	switch d.Kind {
	case KindCallable:
		if d.Callable == nil {
			return nil, errs.New(errs.FactoryNotAllowed, "", "", "callable descriptor has a nil function")
		}
		return d.Callable, nil
	case KindSymbolic:
		return g.resolveSymbolic(d.Symbol)
	default:
		return nil, errs.New(errs.FactoryNotAllowed, "", "", "unknown factory descriptor kind")
	}
}

func (g *Guard) resolveSymbolic(symbol string) (Func, error) {
	if cached, ok := g.cache.Load(symbol); ok {
		return cached.(Func), nil
	}

	module, _, found := strings.Cut(symbol, ":")
	if !found || module == "" {
		return nil, errs.New(errs.FactoryNotAllowed, "", "", "symbolic factory must be \"module:symbol\": "+symbol)
	}

	for _, blocked := range blockedPrefixes {
		if strings.HasPrefix(module, blocked) || strings.Contains(symbol, blocked) {
			return nil, errs.New(errs.FactoryNotAllowed, "", "", "factory symbol matches the static block list: "+symbol)
		}
	}

	if !g.allowed(module) {
		return nil, errs.New(errs.FactoryNotAllowed, "", "", "module prefix not in factory_allowlist: "+module)
	}

	g.symbols.mu.RLock()
	fn, ok := g.symbols.symbols[symbol]
	g.symbols.mu.RUnlock()
	if !ok {
		return nil, errs.New(errs.FactoryNotAllowed, "", "", "no factory registered for symbol: "+symbol)
	}

	g.cache.Store(symbol, fn)
	return fn, nil
}

func (g *Guard) allowed(module string) bool {
	for _, prefix := range g.allowlist {
		if strings.HasPrefix(module, prefix) {
			return true
		}
	}
	return false
}
