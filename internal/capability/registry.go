// Package capability defines the external capabilities the agent can
// invoke and the dispatcher that executes invocation batches.
package capability

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// DefaultTimeout bounds a single capability invocation when the
// capability does not declare its own.
const DefaultTimeout = 30 * time.Second

// Handler executes one capability invocation.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Capability represents a named, invocable external operation.
type Capability struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	// Timeout bounds one invocation. Zero means DefaultTimeout.
	Timeout time.Duration `json:"-"`
	Handler Handler       `json:"-"`
}

// Registry holds the available capabilities. It is populated once at
// startup and read-only afterwards; nothing registers during a task's
// execution, so lookups need no locking.
type Registry struct {
	caps map[string]*Capability
}

// NewRegistry creates an empty capability registry.
func NewRegistry() *Registry {
	return &Registry{caps: make(map[string]*Capability)}
}

// Register adds a capability to the registry.
func (r *Registry) Register(c *Capability) {
	r.caps[c.Name] = c
}

// Get retrieves a capability by name. Returns nil if not registered.
func (r *Registry) Get(name string) *Capability {
	return r.caps[name]
}

// Names returns all registered capability names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.caps))
	for name := range r.caps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns tool definitions in the shape completion providers
// expect for tool calling.
func (r *Registry) List() []map[string]any {
	var result []map[string]any
	for _, name := range r.Names() {
		c := r.caps[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        c.Name,
				"description": c.Description,
				"parameters":  c.Parameters,
			},
		})
	}
	return result
}

// Execute runs a capability by name with the given arguments, applying
// the capability's timeout. An unknown name is an error scoped to this
// one invocation; callers decide whether that aborts anything larger
// (the dispatcher does not).
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	c := r.caps[name]
	if c == nil {
		return "", fmt.Errorf("unknown capability: %s", name)
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := c.Handler(ctx, args)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("%s timed out after %s: %w", name, timeout, err)
		}
		return "", err
	}
	return out, nil
}
