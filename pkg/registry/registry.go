// Package registry holds the current set of enabled tools and routes
// execution to the server that owns each tool, without exposing server
// wiring to callers.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orkestralabs/orkestra/pkg/errorsx"
	"github.com/orkestralabs/orkestra/pkg/llm"
)

// Invoker is a server's invocation channel. MCP connectors implement
// it; tests plug in fakes.
type Invoker interface {
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// ErrToolTimeout marks a per-call timeout. It folds into an error
// result, never a raised failure.
var ErrToolTimeout = fmt.Errorf("tool timeout")

type serverEntry struct {
	tools   []llm.Tool
	invoker Invoker
}

type snapshot struct {
	byName map[string]toolBinding
}

type toolBinding struct {
	tool    llm.Tool
	invoker Invoker
}

// Registry maps tool names to owning servers. Mutation rebuilds an
// immutable snapshot and swaps it in one store, so an in-flight turn
// sees either the old or the new tool set, never a mix.
type Registry struct {
	mu      sync.Mutex
	servers map[string]serverEntry
	current atomic.Pointer[snapshot]
	logger  *slog.Logger
}

func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		servers: make(map[string]serverEntry),
		logger:  logger,
	}
	r.current.Store(&snapshot{byName: map[string]toolBinding{}})
	return r
}

// Register adds or replaces the tool set owned by a server. It fails
// when a tool name collides with a different, still-registered server,
// or when a schema is invalid at load time.
func (r *Registry) Register(serverID string, tools []llm.Tool, invoker Invoker) error {
	if serverID == "" {
		return errorsx.Wrap(fmt.Errorf("server id is empty"), errorsx.ReasonConfigInvalid)
	}
	if invoker == nil {
		return errorsx.Wrap(fmt.Errorf("server %s has no invoker", serverID), errorsx.ReasonConfigInvalid)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{}, len(tools))
	for _, tool := range tools {
		if tool.Name == "" {
			return errorsx.Wrap(fmt.Errorf("server %s: tool name is empty", serverID), errorsx.ReasonToolSchema)
		}
		if _, dup := seen[tool.Name]; dup {
			return errorsx.Wrap(fmt.Errorf("tool %s declared twice by server %s", tool.Name, serverID), errorsx.ReasonDuplicateTool)
		}
		seen[tool.Name] = struct{}{}
		if err := CheckSchema(tool.InputSchema); err != nil {
			return fmt.Errorf("server %s: tool %s: %w", serverID, tool.Name, err)
		}
		if owner := r.ownerOfLocked(tool.Name); owner != "" && owner != serverID {
			return errorsx.Wrap(fmt.Errorf("tool %s already owned by server %s", tool.Name, owner), errorsx.ReasonDuplicateTool)
		}
	}

	for i := range tools {
		tools[i].ServerID = serverID
	}
	r.servers[serverID] = serverEntry{tools: tools, invoker: invoker}
	r.swapLocked()
	r.logger.Info("tools_registered", "server_id", serverID, "count", len(tools))
	return nil
}

// Unregister removes a server's tool set. Unknown ids are a no-op.
func (r *Registry) Unregister(serverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.servers[serverID]; !ok {
		return
	}
	delete(r.servers, serverID)
	r.swapLocked()
	r.logger.Info("tools_unregistered", "server_id", serverID)
}

// Lookup returns the definition for an enabled tool.
func (r *Registry) Lookup(name string) (llm.Tool, error) {
	snap := r.current.Load()
	binding, ok := snap.byName[name]
	if !ok {
		return llm.Tool{}, errorsx.Wrap(fmt.Errorf("tool not found: %s", name), errorsx.ReasonToolNotFound)
	}
	return binding.tool, nil
}

// Tools returns the enabled tool set of the current snapshot, sorted
// by name for a stable provider payload.
func (r *Registry) Tools() []llm.Tool {
	snap := r.current.Load()
	out := make([]llm.Tool, 0, len(snap.byName))
	for _, binding := range snap.byName {
		out = append(out, binding.tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute validates arguments and forwards the call to the owning
// server under the given timeout. Every failure folds into an error
// result: a tool failure must not abort the turn, only one step of it.
func (r *Registry) Execute(ctx context.Context, call llm.ToolCall, timeout time.Duration) llm.ToolResult {
	snap := r.current.Load()
	binding, ok := snap.byName[call.Name]
	if !ok {
		return llm.ErrorResult(call.ID, fmt.Sprintf("tool not found: %s", call.Name))
	}
	if err := ValidateArguments(call.Arguments, binding.tool.InputSchema); err != nil {
		return llm.ErrorResult(call.ID, fmt.Sprintf("invalid arguments: %v", err))
	}

	payload, err := r.invokeWithTimeout(ctx, binding.invoker, call, timeout)
	if err != nil {
		if err == ErrToolTimeout {
			return llm.ErrorResult(call.ID, "timeout")
		}
		return llm.ErrorResult(call.ID, err.Error())
	}
	return llm.SuccessResult(call.ID, payload)
}

// The registry does not retry; retries, if any, belong to the
// underlying server connector.
func (r *Registry) invokeWithTimeout(ctx context.Context, invoker Invoker, call llm.ToolCall, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		return invoker.CallTool(ctx, call.Name, call.Arguments)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		payload string
		err     error
	}
	ch := make(chan outcome, 1)
	go func() {
		payload, err := invoker.CallTool(callCtx, call.Name, call.Arguments)
		ch <- outcome{payload: payload, err: err}
	}()
	select {
	case out := <-ch:
		return out.payload, out.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			// Caller cancelled the turn; a result arriving later is discarded.
			return "", ctx.Err()
		}
		return "", ErrToolTimeout
	}
}

func (r *Registry) ownerOfLocked(name string) string {
	for id, entry := range r.servers {
		for _, tool := range entry.tools {
			if tool.Name == name {
				return id
			}
		}
	}
	return ""
}

func (r *Registry) swapLocked() {
	next := &snapshot{byName: make(map[string]toolBinding)}
	for _, entry := range r.servers {
		for _, tool := range entry.tools {
			if !tool.Enabled {
				continue
			}
			next.byName[tool.Name] = toolBinding{tool: tool, invoker: entry.invoker}
		}
	}
	r.current.Store(next)
}
