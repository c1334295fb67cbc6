package tools

import (
	"sync"

	"knowledge-agent-be/internal/pkg/logger"
)

// Registry holds tools by name in registration order.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	order  []string
	logger logger.ILogger
}

func NewRegistry(log logger.ILogger) *Registry {
	return &Registry{
		tools:  map[string]Tool{},
		logger: log,
	}
}

// Register adds tools, replacing any tool already registered under the same name.
func (r *Registry) Register(tools ...Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range tools {
		name := t.Name()
		if _, exists := r.tools[name]; exists {
			r.logger.Warn("TOOLS", "Tool already registered, overwriting", map[string]interface{}{"tool": name})
		} else {
			r.order = append(r.order, name)
		}
		r.tools[name] = t
	}
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}
