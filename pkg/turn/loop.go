// Package turn drives one bounded orchestration turn: repeated
// provider calls and tool dispatches for a single user message, until
// a terminal answer or an abort condition is reached.
package turn

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/orkestralabs/orkestra/pkg/errorsx"
	"github.com/orkestralabs/orkestra/pkg/llm"
)

// Reason is the terminal outcome of a turn.
type Reason string

const (
	ReasonAnswered       Reason = "answered"
	ReasonIterationLimit Reason = "iteration_limit"
	ReasonProviderError  Reason = "provider_error"
)

// Result is what the surrounding chat service persists: the final
// answer, the transcript delta, and why the turn ended. Tool failures
// never appear here; they are folded into tool-role messages.
type Result struct {
	FinalText  string
	Appended   []llm.Message
	Reason     Reason
	Iterations int
	Usage      llm.Usage
	Err        error
}

// Dispatcher executes all tool calls from one provider response and
// returns exactly one result per request, in request order.
type Dispatcher interface {
	Dispatch(ctx context.Context, calls []llm.ToolCall) []llm.ToolResult
}

type Config struct {
	MaxIterations int
	TurnTimeout   time.Duration
	SystemPrompt  string
}

const timeoutAnswer = "I ran out of time before completing your request."

// Loop is the state machine for one turn. It owns its Context
// exclusively and is single-threaded; the only concurrency underneath
// is the dispatcher's intra-batch parallelism.
type Loop struct {
	provider   llm.Provider
	dispatcher Dispatcher
	tools      []llm.Tool
	cfg        Config
	logger     *slog.Logger
	listeners  []StateListener
}

func NewLoop(provider llm.Provider, dispatcher Dispatcher, tools []llm.Tool, cfg Config, logger *slog.Logger) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 6
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		provider:   provider,
		dispatcher: dispatcher,
		tools:      tools,
		cfg:        cfg,
		logger:     logger,
	}
}

// AddListener registers a listener for state change events.
func (l *Loop) AddListener(listener StateListener) {
	l.listeners = append(l.listeners, listener)
}

// Run executes the turn. A non-nil error means the turn produced
// nothing to persist (caller cancellation); provider failures
// terminate normally with ReasonProviderError and the error in
// Result.Err.
func (l *Loop) Run(parent context.Context, tc *Context, userMessage string) (Result, error) {
	ctx := parent
	cancel := context.CancelFunc(func() {})
	if l.cfg.TurnTimeout > 0 {
		ctx, cancel = context.WithTimeout(parent, l.cfg.TurnTimeout)
	}
	defer cancel()

	tc.Append(llm.UserMessage(userMessage))
	machine := newStateMachine(l.listeners)
	var usage llm.Usage

	for {
		resp, err := l.complete(ctx, tc, l.tools)
		if err != nil {
			if parent.Err() != nil {
				return Result{}, parent.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return l.timeoutClose(machine, tc, usage), nil
			}
			_ = machine.transition(StateTerminated, string(errorsx.Reason(err)))
			l.logger.Warn("turn_provider_error",
				"session_id", tc.SessionID,
				"provider", l.provider.Name(),
				"reason", string(errorsx.Reason(err)),
			)
			return Result{
				Reason:     ReasonProviderError,
				Appended:   tc.Appended(),
				Iterations: tc.IterationCount,
				Usage:      usage,
				Err:        err,
			}, nil
		}
		usage = addUsage(usage, resp.Usage)
		ensureCallIDs(resp.ToolCalls)

		if len(resp.ToolCalls) == 0 {
			tc.Append(llm.AssistantMessage(resp.Text))
			_ = machine.transition(StateTerminated, "answered")
			return Result{
				FinalText:  resp.Text,
				Reason:     ReasonAnswered,
				Appended:   tc.Appended(),
				Iterations: tc.IterationCount,
				Usage:      usage,
			}, nil
		}

		tc.Append(llm.AssistantMessage(resp.Text, resp.ToolCalls...))
		tc.PendingToolCalls = resp.ToolCalls
		_ = machine.transition(StateDispatchingTools, "tool calls requested")

		results := l.dispatcher.Dispatch(ctx, resp.ToolCalls)
		if parent.Err() != nil {
			// Cancelled mid-dispatch: late results are discarded, the
			// transcript delta is never committed.
			return Result{}, parent.Err()
		}
		if ctx.Err() != nil {
			return l.timeoutClose(machine, tc, usage), nil
		}

		// Every request is matched by exactly one result, in order,
		// before the next provider call.
		for _, res := range results {
			tc.Append(llm.ToolMessage(res))
		}
		tc.PendingToolCalls = nil
		tc.IterationCount++

		_ = machine.transition(StateAwaitingProvider, "tool results appended")
		if tc.IterationCount >= l.cfg.MaxIterations {
			return l.forcedFinal(ctx, parent, machine, tc, usage)
		}
	}
}

// forcedFinal issues one last provider call with tool calling disabled
// to obtain a best-effort closing answer, then terminates regardless
// of outcome.
func (l *Loop) forcedFinal(ctx context.Context, parent context.Context, machine *stateMachine, tc *Context, usage llm.Usage) (Result, error) {
	l.logger.Info("turn_iteration_limit",
		"session_id", tc.SessionID,
		"iterations", tc.IterationCount,
	)
	resp, err := l.complete(ctx, tc, nil)
	if err != nil {
		if parent.Err() != nil {
			return Result{}, parent.Err()
		}
		return l.timeoutClose(machine, tc, usage), nil
	}
	usage = addUsage(usage, resp.Usage)
	text := resp.Text
	if text == "" {
		text = timeoutAnswer
	}
	tc.Append(llm.AssistantMessage(text))
	_ = machine.transition(StateTerminated, "iteration limit")
	return Result{
		FinalText:  text,
		Reason:     ReasonIterationLimit,
		Appended:   tc.Appended(),
		Iterations: tc.IterationCount,
		Usage:      usage,
	}, nil
}

// timeoutClose ends an expired turn with whatever partial answer is
// available, or a synthetic one if none is.
func (l *Loop) timeoutClose(machine *stateMachine, tc *Context, usage llm.Usage) Result {
	text := lastAssistantText(tc)
	if text == "" {
		text = timeoutAnswer
	}
	tc.Append(llm.AssistantMessage(text))
	_ = machine.transition(StateTerminated, "turn timeout")
	return Result{
		FinalText:  text,
		Reason:     ReasonIterationLimit,
		Appended:   tc.Appended(),
		Iterations: tc.IterationCount,
		Usage:      usage,
	}
}

func (l *Loop) complete(ctx context.Context, tc *Context, tools []llm.Tool) (llm.Response, error) {
	l.logger.Debug("turn_provider_call",
		"session_id", tc.SessionID,
		"provider", l.provider.Name(),
		"model", tc.ModelID,
		"iteration", tc.IterationCount,
		"tools", len(tools),
	)
	return l.provider.Complete(ctx, llm.CompletionRequest{
		Model:    tc.ModelID,
		System:   l.cfg.SystemPrompt,
		Messages: tc.Messages(),
		Tools:    tools,
	})
}

func ensureCallIDs(calls []llm.ToolCall) {
	for i := range calls {
		if calls[i].ID == "" {
			calls[i].ID = uuid.NewString()
		}
	}
}

func lastAssistantText(tc *Context) string {
	appended := tc.Appended()
	for i := len(appended) - 1; i >= 0; i-- {
		msg := appended[i]
		if msg.Role == llm.RoleAssistant && msg.Content != "" {
			return msg.Content
		}
	}
	return ""
}

func addUsage(a, b llm.Usage) llm.Usage {
	return llm.Usage{
		PromptTokens:     a.PromptTokens + b.PromptTokens,
		CompletionTokens: a.CompletionTokens + b.CompletionTokens,
		TotalTokens:      a.TotalTokens + b.TotalTokens,
	}
}
