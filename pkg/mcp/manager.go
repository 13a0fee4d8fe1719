package mcp

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/orkestralabs/orkestra/pkg/llm"
	"github.com/orkestralabs/orkestra/pkg/registry"
)

// ToolRegistrar is the part of the registry the manager needs.
type ToolRegistrar interface {
	Register(serverID string, tools []llm.Tool, invoker registry.Invoker) error
	Unregister(serverID string)
}

// ServerStatus is the observable state of one configured server.
type ServerStatus struct {
	ServerID  string
	Enabled   bool
	Connected bool
	ToolCount int
	Err       string
}

// Manager starts the enabled servers, registers their tools, and tears
// everything down on shutdown. Startup is bounded: at most maxConcurrent
// servers connect at once, and one bad server never blocks the rest.
type Manager struct {
	registrar     ToolRegistrar
	logger        *slog.Logger
	maxConcurrent int

	mu         sync.Mutex
	connectors map[string]*Connector
	statuses   map[string]ServerStatus
}

func NewManager(registrar ToolRegistrar, maxConcurrent int, logger *slog.Logger) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		registrar:     registrar,
		logger:        logger,
		maxConcurrent: maxConcurrent,
		connectors:    make(map[string]*Connector),
		statuses:      make(map[string]ServerStatus),
	}
}

// StartEnabled connects every enabled server from the config map and
// registers its tools. Failures are recorded per server and skipped;
// the returned count is the number of servers that came up.
func (m *Manager) StartEnabled(ctx context.Context, servers map[string]ServerConfig) int {
	sem := make(chan struct{}, m.maxConcurrent)
	var wg sync.WaitGroup

	for serverID, cfg := range servers {
		if !cfg.Enabled {
			m.setStatus(ServerStatus{ServerID: serverID, Enabled: false})
			continue
		}
		wg.Add(1)
		go func(serverID string, cfg ServerConfig) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			m.startOne(ctx, serverID, cfg)
		}(serverID, cfg)
	}
	wg.Wait()

	return m.connectedCount()
}

// StartInProcess registers a connector built over an in-memory
// transport, such as the builtin tool server.
func (m *Manager) StartInProcess(ctx context.Context, connector *Connector) error {
	return m.register(ctx, connector, ServerStatus{ServerID: connector.ServerID(), Enabled: true})
}

func (m *Manager) startOne(ctx context.Context, serverID string, cfg ServerConfig) {
	status := ServerStatus{ServerID: serverID, Enabled: true}
	if err := cfg.Normalize(); err != nil {
		status.Err = err.Error()
		m.setStatus(status)
		m.logger.Warn("mcp_server_config_invalid", "server_id", serverID, "error", err)
		return
	}
	if err := m.register(ctx, NewConnector(serverID, cfg, m.logger), status); err != nil {
		m.logger.Warn("mcp_server_start_failed", "server_id", serverID, "error", err)
	}
}

func (m *Manager) register(ctx context.Context, connector *Connector, status ServerStatus) error {
	serverID := connector.ServerID()
	tools, err := connector.Tools(ctx)
	if err != nil {
		_ = connector.Close()
		status.Err = err.Error()
		m.setStatus(status)
		return err
	}
	if err := m.registrar.Register(serverID, tools, connector); err != nil {
		_ = connector.Close()
		status.Err = err.Error()
		m.setStatus(status)
		return err
	}

	m.mu.Lock()
	m.connectors[serverID] = connector
	m.mu.Unlock()

	status.Connected = true
	status.ToolCount = len(tools)
	m.setStatus(status)
	m.logger.Info("mcp_server_started", "server_id", serverID, "tools", len(tools))
	return nil
}

// Stop disconnects one server and removes its tools.
func (m *Manager) Stop(serverID string) {
	m.mu.Lock()
	connector, ok := m.connectors[serverID]
	delete(m.connectors, serverID)
	if status, found := m.statuses[serverID]; found {
		status.Connected = false
		status.ToolCount = 0
		m.statuses[serverID] = status
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	m.registrar.Unregister(serverID)
	_ = connector.Close()
	m.logger.Info("mcp_server_stopped", "server_id", serverID)
}

// Drain stops every server. It satisfies the lifecycle runner's
// shutdown contract.
func (m *Manager) Drain() error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.connectors))
	for id := range m.connectors {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Stop(id)
	}
	return nil
}

// Status reports every configured server, sorted by id.
func (m *Manager) Status() []ServerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ServerStatus, 0, len(m.statuses))
	for _, status := range m.statuses {
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServerID < out[j].ServerID })
	return out
}

func (m *Manager) setStatus(status ServerStatus) {
	m.mu.Lock()
	m.statuses[status.ServerID] = status
	m.mu.Unlock()
}

func (m *Manager) connectedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.connectors)
}
