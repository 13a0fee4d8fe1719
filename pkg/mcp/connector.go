package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/orkestralabs/orkestra/pkg/errorsx"
	"github.com/orkestralabs/orkestra/pkg/llm"
	"github.com/orkestralabs/orkestra/pkg/resilience"
)

const clientName = "orkestra"

// Connector owns the session to one MCP server and implements the
// registry's Invoker contract. Connect is lazy: the session is opened
// on first use and reused afterwards.
type Connector struct {
	serverID string
	cfg      ServerConfig
	logger   *slog.Logger
	breaker  *resilience.CircuitBreaker
	connect  resilience.RetryPolicy

	// transport, when set, bypasses config-based transport construction.
	// In-process servers and tests use it.
	transport mcpsdk.Transport

	mu      sync.Mutex
	client  *mcpsdk.Client
	session *mcpsdk.ClientSession
}

func NewConnector(serverID string, cfg ServerConfig, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{
		serverID: serverID,
		cfg:      cfg,
		logger:   logger.With("server_id", serverID),
		breaker:  resilience.NewCircuitBreaker(0, 0),
		connect:  resilience.NewRetryPolicy(2, 200*time.Millisecond),
	}
}

// NewConnectorWithTransport wires a connector to a pre-built transport.
func NewConnectorWithTransport(serverID string, transport mcpsdk.Transport, logger *slog.Logger) *Connector {
	c := NewConnector(serverID, ServerConfig{Enabled: true}, logger)
	c.transport = transport
	return c
}

func (c *Connector) ServerID() string { return c.serverID }

func (c *Connector) ensureSession(ctx context.Context) (*mcpsdk.ClientSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return c.session, nil
	}

	if c.client == nil {
		c.client = mcpsdk.NewClient(&mcpsdk.Implementation{Name: clientName, Version: "dev"}, nil)
	}

	var session *mcpsdk.ClientSession
	err := c.connect.Do(func() error {
		transport := c.transport
		if transport == nil {
			var buildErr error
			transport, buildErr = c.buildTransport(ctx)
			if buildErr != nil {
				return buildErr
			}
		}
		var connErr error
		session, connErr = c.client.Connect(ctx, transport, nil)
		return connErr
	})
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("connect %s: %w", c.serverID, err), errorsx.ReasonServerStart)
	}
	c.session = session
	c.logger.Info("mcp_server_connected", "transport", string(c.cfg.Transport))
	return session, nil
}

func (c *Connector) buildTransport(ctx context.Context) (mcpsdk.Transport, error) {
	switch c.cfg.Transport {
	case TransportStdio:
		// #nosec G204 -- command comes from the operator's server config
		cmd := exec.CommandContext(ctx, c.cfg.Command, c.cfg.Args...)
		for k, v := range c.cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		return &mcpsdk.CommandTransport{Command: cmd}, nil
	case TransportSSE:
		return &mcpsdk.SSEClientTransport{Endpoint: c.cfg.Endpoint}, nil
	case TransportStreamable:
		return &mcpsdk.StreamableClientTransport{Endpoint: c.cfg.Endpoint}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", c.cfg.Transport)
	}
}

// Tools lists the server's tools with names prefixed "serverID:name",
// so two servers exposing the same tool never collide in the registry.
func (c *Connector) Tools(ctx context.Context) ([]llm.Tool, error) {
	session, err := c.ensureSession(ctx)
	if err != nil {
		return nil, err
	}
	var tools []llm.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			return nil, errorsx.Wrap(fmt.Errorf("list tools on %s: %w", c.serverID, err), errorsx.ReasonServerStart)
		}
		schema, err := toSchemaMap(tool.InputSchema)
		if err != nil {
			return nil, errorsx.Wrap(fmt.Errorf("tool %s on %s: %w", tool.Name, c.serverID, err), errorsx.ReasonToolSchema)
		}
		tools = append(tools, llm.Tool{
			Name:        c.serverID + ":" + tool.Name,
			Description: tool.Description,
			InputSchema: schema,
			ServerID:    c.serverID,
			Enabled:     true,
		})
	}
	return tools, nil
}

// CallTool forwards one invocation, stripping the server prefix the
// registry addresses tools by. Failures trip the breaker so a dead
// server stops eating the per-call timeout.
func (c *Connector) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	if !c.breaker.Allow() {
		return "", errorsx.Wrap(fmt.Errorf("server %s: %w", c.serverID, resilience.ErrCircuitOpen), errorsx.ReasonToolExecute)
	}
	session, err := c.ensureSession(ctx)
	if err != nil {
		c.breaker.OnError()
		return "", err
	}

	local := strings.TrimPrefix(name, c.serverID+":")
	result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: local, Arguments: args})
	if err != nil {
		c.breaker.OnError()
		return "", errorsx.Wrap(fmt.Errorf("call %s: %w", name, err), errorsx.ReasonToolExecute)
	}
	c.breaker.OnSuccess()

	text := flattenContent(result.Content)
	if result.IsError {
		return "", errorsx.Wrap(fmt.Errorf("%s", text), errorsx.ReasonToolExecute)
	}
	return text, nil
}

// Close shuts the session down. Safe on an unconnected connector.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	return err
}

func flattenContent(blocks []mcpsdk.Content) string {
	var sb strings.Builder
	for _, block := range blocks {
		if text, ok := block.(*mcpsdk.TextContent); ok {
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(text.Text)
		}
	}
	return sb.String()
}

// toSchemaMap normalizes whatever schema representation the SDK hands
// back into the map form the registry validates against.
func toSchemaMap(schema any) (map[string]any, error) {
	if schema == nil {
		return map[string]any{"type": "object"}, nil
	}
	if m, ok := schema.(map[string]any); ok {
		return m, nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	return m, nil
}
