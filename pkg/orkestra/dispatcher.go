package orkestra

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/orkestralabs/orkestra/pkg/llm"
	"github.com/orkestralabs/orkestra/pkg/registry"
)

type ToolDispatcherOptions struct {
	Concurrency int
	Timeout     time.Duration
}

// ToolDispatcher executes the tool calls of one provider response.
// Calls within a batch run concurrently up to the configured limit;
// results always come back in request order, one per call.
type ToolDispatcher struct {
	registry *registry.Registry
	opts     ToolDispatcherOptions
	logger   *slog.Logger
}

func NewToolDispatcher(reg *registry.Registry, opts ToolDispatcherOptions, logger *slog.Logger) *ToolDispatcher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolDispatcher{registry: reg, opts: opts, logger: logger}
}

func (d *ToolDispatcher) Dispatch(ctx context.Context, calls []llm.ToolCall) []llm.ToolResult {
	results := make([]llm.ToolResult, len(calls))
	sem := make(chan struct{}, d.opts.Concurrency)
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(i int, call llm.ToolCall) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			started := time.Now()
			results[i] = d.registry.Execute(ctx, call, d.opts.Timeout)
			d.logger.Debug("tool_dispatched",
				"tool_name", call.Name,
				"call_id", call.ID,
				"status", string(results[i].Status),
				"elapsed_ms", time.Since(started).Milliseconds(),
			)
		}(i, call)
	}
	wg.Wait()
	return results
}
