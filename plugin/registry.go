// Package plugin implements the name-indexed hook registry: ordered lists
// of handlers per hook name, with a (continue, value) dispatch contract
// and isolated handler failures, per spec.md §4.7.
package plugin

import (
	"log/slog"
	"sync"
)

// Result is what one handler returns from Run: whether dispatch should
// continue to the next handler, and a hook-specific replacement value.
type Result struct {
	Continue bool
	Value    any
}

// Handler is the uniform plugin hook interface: run(name, args...) ->
// (continue, value), per spec.md §9's "Plugin dispatch" design note.
type Handler interface {
	Run(hook string, args ...any) (Result, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(hook string, args ...any) (Result, error)

// Run calls f.
func (f HandlerFunc) Run(hook string, args ...any) (Result, error) { return f(hook, args...) }

// Registry maps a hook name to its ordered handler list. It is populated
// once at process startup and is read-only thereafter (spec.md §5); the
// mutex exists only to make concurrent reads from multiple session
// goroutines safe, not to support runtime mutation.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   *slog.Logger
}

// NewRegistry returns an empty Registry. logger may be nil, in which case
// plugin faults are discarded rather than logged.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{handlers: make(map[string][]Handler), logger: logger}
}

// Register appends h to the ordered handler list for hook. Intended to be
// called only during startup, before any session begins serving.
func (r *Registry) Register(hook string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[hook] = append(r.handlers[hook], h)
}

// Call iterates the handlers registered for hook, in registration order,
// stopping at the first one that returns Continue=false. A handler that
// returns an error is logged and skipped: its error never propagates to
// the caller, and the continue/value carried from prior handlers (or the
// zero-value default of continue=true) is preserved across the fault.
func (r *Registry) Call(hook string, args ...any) (bool, any) {
	r.mu.RLock()
	handlers := append([]Handler(nil), r.handlers[hook]...)
	r.mu.RUnlock()

	cont := true
	var value any
	for _, h := range handlers {
		res, err := h.Run(hook, args...)
		if err != nil {
			r.logFault(hook, err)
			continue
		}
		cont = res.Continue
		value = res.Value
		if !cont {
			break
		}
	}
	return cont, value
}

func (r *Registry) logFault(hook string, err error) {
	if r.logger == nil {
		return
	}
	r.logger.Warn("plugin handler fault", "hook", hook, "err", err)
}
