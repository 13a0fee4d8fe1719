// Package orkestra assembles the orchestration engine: configuration,
// provider selection, MCP server lifecycle, and turn execution.
package orkestra

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/orkestralabs/orkestra/pkg/credentials"
	"github.com/orkestralabs/orkestra/pkg/llm"
	"github.com/orkestralabs/orkestra/pkg/logging"
	"github.com/orkestralabs/orkestra/pkg/mcp"
	"github.com/orkestralabs/orkestra/pkg/metrics"
	"github.com/orkestralabs/orkestra/pkg/redact"
	"github.com/orkestralabs/orkestra/pkg/registry"
	"github.com/orkestralabs/orkestra/pkg/runner"
	"github.com/orkestralabs/orkestra/pkg/turn"
)

type Engine struct {
	cfg       Config
	logger    *slog.Logger
	providers *ProviderRegistry
	registry  *registry.Registry
	manager   *mcp.Manager
	observer  *metrics.AsyncObserver
	runner    *runner.LifecycleRunner
	ctx       context.Context
	cancel    context.CancelFunc
}

type EngineOptions struct {
	Config    Config
	Providers *ProviderRegistry
	Logger    *slog.Logger
	Observer  metrics.Observer
}

func NewEngine(opts EngineOptions) *Engine {
	cfg := opts.Config

	logger := opts.Logger
	if logger == nil {
		logger = logging.InitLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
		slog.SetDefault(logger)
	}
	redact.SetEnabled(cfg.Privacy.RedactSecrets)

	logger.Info("orkestra_init",
		"environment", cfg.Environment,
		"provider", cfg.Provider.Name,
		"mcp_servers", len(cfg.Servers),
	)

	providers := opts.Providers
	if providers == nil {
		providers = DefaultProviders()
	}

	inner := opts.Observer
	var metricsFile *os.File
	if inner == nil {
		inner = metrics.NewSlogObserver(logging.NewComponentLogger(logger, "metrics"))
		if path := cfg.Observ.MetricsFile; path != "" {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				logger.Warn("metrics_file_open_failed", "path", path, "error", err)
			} else {
				metricsFile = f
				var fileObs metrics.Observer = metrics.NewJSONLObserver(f)
				if cfg.Observ.SampleRate > 0 && cfg.Observ.SampleRate < 1 {
					fileObs = metrics.NewSamplingObserver(fileObs, cfg.Observ.SampleRate)
				}
				inner = metrics.NewMultiObserver(inner, fileObs)
			}
		}
	}
	observer := metrics.NewAsyncObserver(inner, 2048)

	reg := registry.New(logging.NewComponentLogger(logger, "registry"))
	manager := mcp.NewManager(reg, cfg.Orchestrator.MaxConcurrentToolServers, logging.NewComponentLogger(logger, "mcp"))

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		cfg:       cfg,
		logger:    logger,
		providers: providers,
		registry:  reg,
		manager:   manager,
		observer:  observer,
		ctx:       ctx,
		cancel:    cancel,
	}

	hooks := runner.Hooks{
		OnStart: func() {
			logger.Info("engine_ready", "tools", len(reg.Tools()))
		},
		OnStop: func() {
			observer.Close()
			if metricsFile != nil {
				_ = metricsFile.Close()
			}
			logger.Info("shutdown", "goroutines", runtime.NumGoroutine())
		},
	}
	e.runner = runner.NewLifecycleRunner(manager, hooks, 30*time.Second)
	return e
}

// Start connects the configured tool servers and, when enabled, the
// builtin in-process server. Server failures are logged and skipped.
func (e *Engine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = e.ctx
	}
	if e.cfg.Orchestrator.BuiltinTools {
		connector, err := mcp.ServeInProcess(e.ctx, mcp.BuiltinServerID, mcp.NewBuiltinServer(), e.logger)
		if err != nil {
			return fmt.Errorf("builtin server: %w", err)
		}
		if err := e.manager.StartInProcess(ctx, connector); err != nil {
			return fmt.Errorf("builtin server: %w", err)
		}
	}
	started := e.manager.StartEnabled(ctx, e.cfg.Servers)
	e.logger.Info("mcp_servers_started", "connected", started, "configured", len(e.cfg.Servers))
	return nil
}

// Serve blocks until ctx is cancelled, then drains the tool servers.
func (e *Engine) Serve(ctx context.Context) error {
	return e.runner.Run(ctx)
}

// Stop cancels in-flight work and drains the tool servers.
func (e *Engine) Stop() error {
	e.cancel()
	return e.runner.Stop()
}

// TurnRequest carries one user message plus the session state needed
// to run it. ProviderID, ModelID and APIKey override the configured
// defaults when set.
type TurnRequest struct {
	SessionID  string
	History    []llm.Message
	Message    string
	ProviderID string
	ModelID    string
	APIKey     string
}

// RunTurn executes one bounded orchestration turn and returns its
// result. The caller owns persistence of Result.Appended.
func (e *Engine) RunTurn(ctx context.Context, req TurnRequest) (turn.Result, error) {
	providerID := req.ProviderID
	if providerID == "" {
		providerID = e.cfg.Provider.Name
	}
	modelID := req.ModelID
	if modelID == "" {
		modelID = e.cfg.Provider.Model
	}

	apiKey := req.APIKey
	if apiKey == "" && providerID != "mock" {
		resolved, err := credentials.Resolve(providerID)
		if err != nil {
			return turn.Result{}, err
		}
		apiKey = resolved
	}

	provider, err := e.providers.Build(providerID, e.cfg.Provider, apiKey)
	if err != nil {
		return turn.Result{}, err
	}
	return e.RunTurnWith(ctx, provider, req)
}

// RunTurnWith runs a turn against an already-built provider. Tests and
// embedders use it to bypass credential resolution.
func (e *Engine) RunTurnWith(ctx context.Context, provider llm.Provider, req TurnRequest) (turn.Result, error) {
	modelID := req.ModelID
	if modelID == "" {
		modelID = e.cfg.Provider.Model
	}

	dispatcher := NewToolDispatcher(e.registry, ToolDispatcherOptions{
		Concurrency: e.cfg.Orchestrator.ToolConcurrency,
		Timeout:     time.Duration(e.cfg.Orchestrator.PerToolTimeoutMS) * time.Millisecond,
	}, logging.NewComponentLogger(e.logger, "dispatcher"))

	loop := turn.NewLoop(provider, dispatcher, e.registry.Tools(), turn.Config{
		MaxIterations: e.cfg.Orchestrator.MaxIterations,
		TurnTimeout:   time.Duration(e.cfg.Orchestrator.PerTurnTimeoutMS) * time.Millisecond,
		SystemPrompt:  e.cfg.SystemPrompt,
	}, logging.NewComponentLogger(e.logger, "turn"))
	loop.AddListener(&stateObserver{
		sessionID: req.SessionID,
		observer:  e.observer,
	})

	tc := turn.NewContext(req.SessionID, req.History, provider.Name(), modelID)

	started := time.Now()
	result, err := loop.Run(ctx, tc, req.Message)
	if err != nil {
		return turn.Result{}, err
	}
	e.observer.RecordEvent(metrics.MetricsEvent{
		Name:  "turn_completed",
		Time:  time.Now(),
		Value: time.Since(started).Seconds(),
		Tags: map[string]string{
			"session_id": req.SessionID,
			"provider":   provider.Name(),
			"reason":     string(result.Reason),
		},
		Fields: map[string]any{
			"iterations":   result.Iterations,
			"total_tokens": result.Usage.TotalTokens,
		},
	})
	return result, nil
}

func (e *Engine) Registry() *registry.Registry { return e.registry }
func (e *Engine) Manager() *mcp.Manager        { return e.manager }
func (e *Engine) Config() Config               { return e.cfg }

// stateObserver turns loop state changes into metrics events.
type stateObserver struct {
	sessionID string
	observer  metrics.Observer
}

func (s *stateObserver) OnStateChange(event turn.StateChange) {
	s.observer.RecordEvent(metrics.MetricsEvent{
		Name: "turn_state",
		Time: event.Timestamp,
		Tags: map[string]string{
			"session_id": s.sessionID,
			"from":       event.FromState.String(),
			"to":         event.ToState.String(),
			"reason":     event.Reason,
		},
	})
}
