package tool

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Registry maps tool names to collaborator executors. Tools missing from
// the registry are handled by the caller.
type Registry struct {
	mu          sync.RWMutex
	tools       map[string]Tool
	middlewares []Middleware
	executor    Executor
}

// NewRegistry creates an empty registry.
func NewRegistry(middlewares ...Middleware) *Registry {
	r := &Registry{
		tools:       make(map[string]Tool),
		middlewares: middlewares,
	}
	r.rebuildExecutorLocked()
	return r
}

// NewHTTPRegistry builds a registry from a name -> endpoint map.
func NewHTTPRegistry(endpoints map[string]string, client *http.Client, middlewares ...Middleware) *Registry {
	r := NewRegistry(middlewares...)
	r.SetEndpoints(endpoints, client)
	return r
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	if r == nil || t == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// SetEndpoints swaps the whole tool set for HTTP tools at the given
// endpoints. Used on startup and on config reload.
func (r *Registry) SetEndpoints(endpoints map[string]string, client *http.Client) {
	if r == nil {
		return
	}
	tools := make(map[string]Tool, len(endpoints))
	for name, endpoint := range endpoints {
		name = strings.TrimSpace(name)
		endpoint = strings.TrimSpace(endpoint)
		if name == "" || endpoint == "" {
			continue
		}
		tools[name] = NewHTTPTool(name, endpoint, client)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools = tools
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Has reports whether a server-side executor exists for name.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns registered tool names in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Use registers a middleware on the registry.
func (r *Registry) Use(mw Middleware) {
	if r == nil || mw == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middlewares = append(r.middlewares, mw)
	r.rebuildExecutorLocked()
}

// Execute runs a registered tool through the middleware chain.
func (r *Registry) Execute(ctx context.Context, name, callID string, params map[string]any) (any, error) {
	if name == "" {
		return nil, fmt.Errorf("tool name cannot be empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	t, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("tool not found: %s", name)
	}

	r.mu.RLock()
	exec := r.executor
	r.mu.RUnlock()

	return exec(&ExecutionContext{
		Context:   ctx,
		ToolName:  name,
		Tool:      t,
		CallID:    callID,
		Params:    params,
		StartTime: time.Now(),
	})
}

func (r *Registry) rebuildExecutorLocked() {
	r.executor = Chain(r.middlewares...)(baseExecutor)
}

func baseExecutor(ctx *ExecutionContext) (any, error) {
	if ctx == nil {
		return nil, fmt.Errorf("execution context required")
	}
	if ctx.Tool == nil {
		return nil, fmt.Errorf("tool not found: %s", ctx.ToolName)
	}
	return ctx.Tool.Execute(ctx.Context, ctx.Params)
}
