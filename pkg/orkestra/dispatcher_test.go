package orkestra

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/orkestralabs/orkestra/pkg/llm"
	"github.com/orkestralabs/orkestra/pkg/registry"
)

type stubInvoker struct {
	delay time.Duration
	fn    func(name string, args map[string]any) (string, error)

	mu       sync.Mutex
	inFlight int
	peak     int
}

func (s *stubInvoker) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	s.mu.Lock()
	s.inFlight++
	if s.inFlight > s.peak {
		s.peak = s.inFlight
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if s.fn != nil {
		return s.fn(name, args)
	}
	return "ok:" + name, nil
}

func echoTool(name string) llm.Tool {
	return llm.Tool{
		Name:    name,
		Enabled: true,
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}
}

func newTestRegistry(t *testing.T, invoker registry.Invoker, names ...string) *registry.Registry {
	t.Helper()
	reg := registry.New(nil)
	tools := make([]llm.Tool, 0, len(names))
	for _, name := range names {
		tools = append(tools, echoTool(name))
	}
	if err := reg.Register("srv", tools, invoker); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	return reg
}

func TestDispatchPreservesRequestOrder(t *testing.T) {
	invoker := &stubInvoker{fn: func(name string, args map[string]any) (string, error) {
		// Later calls finish first.
		if name == "srv:a" {
			time.Sleep(40 * time.Millisecond)
		}
		return name, nil
	}}
	reg := newTestRegistry(t, invoker, "srv:a", "srv:b", "srv:c")
	d := NewToolDispatcher(reg, ToolDispatcherOptions{Concurrency: 3}, nil)

	results := d.Dispatch(context.Background(), []llm.ToolCall{
		{ID: "1", Name: "srv:a", Arguments: map[string]any{}},
		{ID: "2", Name: "srv:b", Arguments: map[string]any{}},
		{ID: "3", Name: "srv:c", Arguments: map[string]any{}},
	})
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	for i, want := range []string{"1", "2", "3"} {
		if results[i].CallID != want {
			t.Fatalf("results[%d].CallID = %s, want %s", i, results[i].CallID, want)
		}
	}
	if results[0].Payload != "srv:a" || results[2].Payload != "srv:c" {
		t.Fatalf("payloads out of order: %+v", results)
	}
}

func TestDispatchBoundsConcurrency(t *testing.T) {
	invoker := &stubInvoker{delay: 30 * time.Millisecond}
	reg := newTestRegistry(t, invoker, "srv:t")
	d := NewToolDispatcher(reg, ToolDispatcherOptions{Concurrency: 2}, nil)

	calls := make([]llm.ToolCall, 6)
	for i := range calls {
		calls[i] = llm.ToolCall{ID: string(rune('a' + i)), Name: "srv:t", Arguments: map[string]any{}}
	}
	results := d.Dispatch(context.Background(), calls)
	if len(results) != 6 {
		t.Fatalf("results = %d, want 6", len(results))
	}
	invoker.mu.Lock()
	peak := invoker.peak
	invoker.mu.Unlock()
	if peak > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestDispatchTimeoutBecomesErrorResult(t *testing.T) {
	invoker := &stubInvoker{delay: 200 * time.Millisecond}
	reg := newTestRegistry(t, invoker, "srv:slow", "srv:fast")
	d := NewToolDispatcher(reg, ToolDispatcherOptions{Concurrency: 2, Timeout: 30 * time.Millisecond}, nil)

	results := d.Dispatch(context.Background(), []llm.ToolCall{
		{ID: "1", Name: "srv:slow", Arguments: map[string]any{}},
	})
	if results[0].Status != llm.StatusError || results[0].ErrorMessage != "timeout" {
		t.Fatalf("unexpected result: %+v", results[0])
	}
}

func TestDispatchUnknownToolErrorResult(t *testing.T) {
	reg := newTestRegistry(t, &stubInvoker{}, "srv:known")
	d := NewToolDispatcher(reg, ToolDispatcherOptions{Concurrency: 2}, nil)

	results := d.Dispatch(context.Background(), []llm.ToolCall{
		{ID: "1", Name: "missing", Arguments: map[string]any{}},
		{ID: "2", Name: "srv:known", Arguments: map[string]any{}},
	})
	if results[0].Status != llm.StatusError {
		t.Fatalf("unknown tool must yield an error result: %+v", results[0])
	}
	if results[1].Status != llm.StatusSuccess {
		t.Fatalf("known tool must still succeed: %+v", results[1])
	}
}

func TestDispatchEveryCallGetsExactlyOneResult(t *testing.T) {
	var executed atomic.Int64
	invoker := &stubInvoker{fn: func(name string, args map[string]any) (string, error) {
		executed.Add(1)
		return "ok", nil
	}}
	reg := newTestRegistry(t, invoker, "srv:t")
	d := NewToolDispatcher(reg, ToolDispatcherOptions{Concurrency: 4}, nil)

	calls := make([]llm.ToolCall, 10)
	for i := range calls {
		calls[i] = llm.ToolCall{ID: string(rune('0' + i)), Name: "srv:t", Arguments: map[string]any{}}
	}
	results := d.Dispatch(context.Background(), calls)
	if len(results) != len(calls) {
		t.Fatalf("results = %d, want %d", len(results), len(calls))
	}
	if executed.Load() != int64(len(calls)) {
		t.Fatalf("executed = %d, want %d", executed.Load(), len(calls))
	}
	seen := make(map[string]bool)
	for i, res := range results {
		if res.CallID != calls[i].ID {
			t.Fatalf("result %d has call id %s, want %s", i, res.CallID, calls[i].ID)
		}
		if seen[res.CallID] {
			t.Fatalf("duplicate result for call %s", res.CallID)
		}
		seen[res.CallID] = true
	}
}
