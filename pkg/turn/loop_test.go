package turn

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/orkestralabs/orkestra/pkg/errorsx"
	"github.com/orkestralabs/orkestra/pkg/llm"
	"github.com/orkestralabs/orkestra/pkg/providers/mock"
)

// fakeDispatcher returns a canned result per call id, or an error
// result when the id is unknown.
type fakeDispatcher struct {
	payloads map[string]string
	errs     map[string]string
	delay    time.Duration
	batches  [][]llm.ToolCall
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, calls []llm.ToolCall) []llm.ToolResult {
	d.batches = append(d.batches, calls)
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
		}
	}
	results := make([]llm.ToolResult, len(calls))
	for i, call := range calls {
		if msg, ok := d.errs[call.ID]; ok {
			results[i] = llm.ErrorResult(call.ID, msg)
			continue
		}
		payload, ok := d.payloads[call.ID]
		if !ok {
			payload = "ok"
		}
		results[i] = llm.SuccessResult(call.ID, payload)
	}
	return results
}

func calcTool() llm.Tool {
	return llm.Tool{
		Name:    "calculator:add",
		Enabled: true,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"a": map[string]any{"type": "number"},
				"b": map[string]any{"type": "number"},
			},
		},
	}
}

func TestRunAnswersAfterOneToolRound(t *testing.T) {
	provider := mock.NewProvider(
		mock.ToolCallStep(llm.ToolCall{ID: "call-1", Name: "calculator:add", Arguments: map[string]any{"a": 2.0, "b": 3.0}}),
		mock.TextStep("2 + 3 = 5"),
	)
	dispatcher := &fakeDispatcher{payloads: map[string]string{"call-1": "5"}}
	loop := NewLoop(provider, dispatcher, []llm.Tool{calcTool()}, Config{MaxIterations: 6}, nil)

	tc := NewContext("s1", nil, "mock", "m1")
	result, err := loop.Run(context.Background(), tc, "What is 2 + 3?")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Reason != ReasonAnswered {
		t.Fatalf("reason = %s, want answered", result.Reason)
	}
	if result.FinalText != "2 + 3 = 5" {
		t.Fatalf("unexpected final text: %q", result.FinalText)
	}
	if result.Iterations != 1 {
		t.Fatalf("iterations = %d, want 1", result.Iterations)
	}

	// Transcript delta: user, assistant w/ calls, tool result, final answer.
	appended := result.Appended
	if len(appended) != 4 {
		t.Fatalf("appended = %d messages, want 4", len(appended))
	}
	if appended[0].Role != llm.RoleUser || appended[0].Content != "What is 2 + 3?" {
		t.Fatalf("unexpected first message: %+v", appended[0])
	}
	if appended[1].Role != llm.RoleAssistant || len(appended[1].ToolCalls) != 1 {
		t.Fatalf("unexpected second message: %+v", appended[1])
	}
	if appended[2].Role != llm.RoleTool || appended[2].ToolResult == nil ||
		appended[2].ToolResult.CallID != "call-1" || appended[2].ToolResult.Payload != "5" {
		t.Fatalf("unexpected third message: %+v", appended[2])
	}
	if appended[3].Role != llm.RoleAssistant || appended[3].Content != "2 + 3 = 5" {
		t.Fatalf("unexpected fourth message: %+v", appended[3])
	}
}

func TestRunPlainAnswerNoTools(t *testing.T) {
	provider := mock.NewProvider(mock.TextStep("hello"))
	loop := NewLoop(provider, &fakeDispatcher{}, nil, Config{MaxIterations: 6}, nil)

	result, err := loop.Run(context.Background(), NewContext("s1", nil, "mock", "m1"), "hi")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Reason != ReasonAnswered || result.FinalText != "hello" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Iterations != 0 {
		t.Fatalf("iterations = %d, want 0", result.Iterations)
	}
	if len(result.Appended) != 2 {
		t.Fatalf("appended = %d messages, want 2", len(result.Appended))
	}
}

func TestRunIterationLimitForcesFinalCall(t *testing.T) {
	call := func(id string) llm.ToolCall {
		return llm.ToolCall{ID: id, Name: "calculator:add", Arguments: map[string]any{}}
	}
	provider := mock.NewProvider(
		mock.ToolCallStep(call("c1")),
		mock.ToolCallStep(call("c2")),
		// Forced closing call, tool calling disabled.
		mock.TextStep("best effort answer"),
	)
	dispatcher := &fakeDispatcher{}
	loop := NewLoop(provider, dispatcher, []llm.Tool{calcTool()}, Config{MaxIterations: 2}, nil)

	result, err := loop.Run(context.Background(), NewContext("s1", nil, "mock", "m1"), "go")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Reason != ReasonIterationLimit {
		t.Fatalf("reason = %s, want iteration_limit", result.Reason)
	}
	if result.FinalText != "best effort answer" {
		t.Fatalf("unexpected final text: %q", result.FinalText)
	}
	if result.Iterations != 2 {
		t.Fatalf("iterations = %d, want 2", result.Iterations)
	}

	requests := provider.Requests()
	if len(requests) != 3 {
		t.Fatalf("provider calls = %d, want 3", len(requests))
	}
	if requests[0].Tools == nil || requests[1].Tools == nil {
		t.Fatalf("regular calls must offer tools")
	}
	if requests[2].Tools != nil {
		t.Fatalf("forced final call must disable tools")
	}
}

func TestRunProviderErrorTerminatesTurn(t *testing.T) {
	authErr := errorsx.Wrap(fmt.Errorf("401 unauthorized"), errorsx.ReasonProviderAuth)
	provider := mock.NewProvider(mock.ErrStep(authErr))
	loop := NewLoop(provider, &fakeDispatcher{}, nil, Config{MaxIterations: 6}, nil)

	result, err := loop.Run(context.Background(), NewContext("s1", nil, "mock", "m1"), "hi")
	if err != nil {
		t.Fatalf("provider errors must terminate normally, got %v", err)
	}
	if result.Reason != ReasonProviderError {
		t.Fatalf("reason = %s, want provider_error", result.Reason)
	}
	if !errors.Is(result.Err, authErr) {
		t.Fatalf("result.Err = %v, want the auth error", result.Err)
	}
	// Only the user message is in the delta; no assistant answer exists.
	if len(result.Appended) != 1 || result.Appended[0].Role != llm.RoleUser {
		t.Fatalf("unexpected appended: %+v", result.Appended)
	}
}

func TestRunToolErrorContinuesLoop(t *testing.T) {
	provider := mock.NewProvider(
		mock.ToolCallStep(llm.ToolCall{ID: "c1", Name: "calculator:add", Arguments: map[string]any{}}),
		mock.TextStep("the tool failed, sorry"),
	)
	dispatcher := &fakeDispatcher{errs: map[string]string{"c1": "boom"}}
	loop := NewLoop(provider, dispatcher, []llm.Tool{calcTool()}, Config{MaxIterations: 6}, nil)

	result, err := loop.Run(context.Background(), NewContext("s1", nil, "mock", "m1"), "go")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Reason != ReasonAnswered {
		t.Fatalf("reason = %s, want answered", result.Reason)
	}
	var toolMsg *llm.Message
	for i := range result.Appended {
		if result.Appended[i].Role == llm.RoleTool {
			toolMsg = &result.Appended[i]
		}
	}
	if toolMsg == nil || toolMsg.ToolResult.Status != llm.StatusError || toolMsg.ToolResult.ErrorMessage != "boom" {
		t.Fatalf("error result not fed back: %+v", toolMsg)
	}
}

func TestRunCancellationDiscardsTranscript(t *testing.T) {
	provider := mock.NewProvider(
		mock.ToolCallStep(llm.ToolCall{ID: "c1", Name: "calculator:add", Arguments: map[string]any{}}),
		mock.TextStep("never reached"),
	)
	dispatcher := &fakeDispatcher{delay: 200 * time.Millisecond}
	loop := NewLoop(provider, dispatcher, []llm.Tool{calcTool()}, Config{MaxIterations: 6}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	result, err := loop.Run(ctx, NewContext("s1", nil, "mock", "m1"), "go")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if result.FinalText != "" || len(result.Appended) != 0 {
		t.Fatalf("cancelled turn must commit nothing, got %+v", result)
	}
}

func TestRunTurnTimeoutClosesWithSyntheticAnswer(t *testing.T) {
	provider := mock.NewProvider(
		mock.ToolCallStep(llm.ToolCall{ID: "c1", Name: "calculator:add", Arguments: map[string]any{}}),
	)
	dispatcher := &fakeDispatcher{delay: 300 * time.Millisecond}
	loop := NewLoop(provider, dispatcher, []llm.Tool{calcTool()}, Config{
		MaxIterations: 6,
		TurnTimeout:   50 * time.Millisecond,
	}, nil)

	result, err := loop.Run(context.Background(), NewContext("s1", nil, "mock", "m1"), "go")
	if err != nil {
		t.Fatalf("turn timeout must terminate normally, got %v", err)
	}
	if result.Reason != ReasonIterationLimit {
		t.Fatalf("reason = %s, want iteration_limit", result.Reason)
	}
	if result.FinalText != timeoutAnswer {
		t.Fatalf("unexpected final text: %q", result.FinalText)
	}
}

func TestRunAssignsMissingCallIDs(t *testing.T) {
	provider := mock.NewProvider(
		mock.ToolCallStep(llm.ToolCall{Name: "calculator:add", Arguments: map[string]any{}}),
		mock.TextStep("done"),
	)
	dispatcher := &fakeDispatcher{}
	loop := NewLoop(provider, dispatcher, []llm.Tool{calcTool()}, Config{MaxIterations: 6}, nil)

	if _, err := loop.Run(context.Background(), NewContext("s1", nil, "mock", "m1"), "go"); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(dispatcher.batches) != 1 || len(dispatcher.batches[0]) != 1 {
		t.Fatalf("unexpected batches: %+v", dispatcher.batches)
	}
	if dispatcher.batches[0][0].ID == "" {
		t.Fatalf("missing call id was not assigned")
	}
}

func TestStateMachineRejectsInvalidTransition(t *testing.T) {
	m := newStateMachine(nil)
	if err := m.transition(StateTerminated, "done"); err != nil {
		t.Fatalf("terminate from awaiting should be valid: %v", err)
	}
	err := m.transition(StateAwaitingProvider, "restart")
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}

func TestContextAppendTracksDelta(t *testing.T) {
	history := []llm.Message{llm.UserMessage("old"), llm.AssistantMessage("old answer")}
	tc := NewContext("s1", history, "mock", "m1")
	tc.Append(llm.UserMessage("new"))

	if len(tc.Messages()) != 3 {
		t.Fatalf("messages = %d, want 3", len(tc.Messages()))
	}
	appended := tc.Appended()
	if len(appended) != 1 || appended[0].Content != "new" {
		t.Fatalf("unexpected delta: %+v", appended)
	}
}
