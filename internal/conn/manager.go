package conn

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/secondsky/mcp-orchestrator/internal/errors"
	"github.com/secondsky/mcp-orchestrator/internal/registry"
)

// ToolClient is the slice of an MCP client session the orchestrator uses.
// *mcp.ClientSession satisfies it; tests substitute fakes.
type ToolClient interface {
	ListTools(ctx context.Context, params *mcp.ListToolsParams) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error)
	Ping(ctx context.Context, params *mcp.PingParams) error
	Close() error
}

// Compile-time verification that the SDK session satisfies ToolClient.
var _ ToolClient = (*mcp.ClientSession)(nil)

// Provider hands out sessions for registry entries. Implemented by Manager;
// custom implementations can be injected for testing or alternative
// connection strategies.
type Provider interface {
	// Session returns a live session for the entry, connecting if needed.
	Session(ctx context.Context, entry registry.ServerEntry) (ToolClient, error)

	// Ping checks liveness of the entry's session, connecting if needed.
	Ping(ctx context.Context, entry registry.ServerEntry) error

	// Evict drops any cached session for the id, closing it. The next
	// Session call reconnects.
	Evict(id string)

	// Close closes all sessions. The provider is unusable afterwards.
	Close() error
}

// Options configure a Manager.
type Options struct {
	// ClientName and ClientVersion identify the orchestrator to servers
	// during the MCP initialize handshake.
	ClientName    string
	ClientVersion string

	// ConnectTimeout bounds session establishment. Zero means 15s.
	ConnectTimeout time.Duration

	// Logger receives connection lifecycle events. Nil disables logging.
	Logger *slog.Logger
}

const defaultConnectTimeout = 15 * time.Second

// Manager implements Provider over the official MCP SDK client.
type Manager struct {
	log            *slog.Logger
	impl           *mcp.Implementation
	connectTimeout time.Duration

	mu       sync.Mutex
	closed   bool
	sessions map[string]*liveSession
}

type liveSession struct {
	client ToolClient
	stderr *stderrRecorder // nil for non-stdio transports
}

// Compile-time verification that Manager implements Provider.
var _ Provider = (*Manager)(nil)

// NewManager creates a session manager.
func NewManager(opts Options) *Manager {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	name := opts.ClientName
	if name == "" {
		name = "mcp-orchestrator"
	}

	version := opts.ClientVersion
	if version == "" {
		version = "dev"
	}

	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	return &Manager{
		log:            log.With("component", "conn_manager"),
		impl:           &mcp.Implementation{Name: name, Version: version},
		connectTimeout: timeout,
		sessions:       make(map[string]*liveSession),
	}
}

// Session returns the cached session for the entry or establishes one.
func (m *Manager) Session(ctx context.Context, entry registry.ServerEntry) (ToolClient, error) {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()

		return nil, errors.ErrClosed
	}

	if live, ok := m.sessions[entry.ID]; ok {
		m.mu.Unlock()

		return live.client, nil
	}

	m.mu.Unlock()

	live, err := m.connect(ctx, entry)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()
		_ = live.client.Close()

		return nil, errors.ErrClosed
	}

	// Lost a connect race: keep the first session, discard ours.
	if existing, ok := m.sessions[entry.ID]; ok {
		m.mu.Unlock()
		_ = live.client.Close()

		return existing.client, nil
	}

	m.sessions[entry.ID] = live
	m.mu.Unlock()

	return live.client, nil
}

func (m *Manager) connect(ctx context.Context, entry registry.ServerEntry) (*liveSession, error) {
	ctx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()

	m.log.Info("connecting to MCP server",
		"server", entry.ID, "transport", string(entry.Transport.Kind))

	transport, stderr, err := m.buildTransport(entry)
	if err != nil {
		return nil, err
	}

	client := mcp.NewClient(m.impl, nil)

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		connErr := &errors.ConnectError{Server: entry.ID, Err: err}
		if stderr != nil {
			connErr.Stderr = stderr.String()
		}

		m.log.Error("MCP connect failed", "server", entry.ID, "error", err)

		return nil, connErr
	}

	m.log.Info("MCP session established", "server", entry.ID)

	return &liveSession{client: session, stderr: stderr}, nil
}

// buildTransport constructs the SDK transport for the entry. For stdio
// entries it also returns the stderr recorder wired into the subprocess.
func (m *Manager) buildTransport(entry registry.ServerEntry) (mcp.Transport, *stderrRecorder, error) {
	switch entry.Transport.Kind {
	case registry.TransportStdio:
		cmd, stderr, err := m.buildCommand(entry)
		if err != nil {
			return nil, nil, err
		}

		return &mcp.CommandTransport{Command: cmd}, stderr, nil

	case registry.TransportHTTP:
		return &mcp.StreamableClientTransport{
			Endpoint:   entry.Transport.URL,
			HTTPClient: httpClientFor(entry.Transport.Headers),
		}, nil, nil

	case registry.TransportSSE:
		return &mcp.SSEClientTransport{
			Endpoint:   entry.Transport.URL,
			HTTPClient: httpClientFor(entry.Transport.Headers),
		}, nil, nil

	default:
		// Unreachable for validated entries.
		return nil, nil, &errors.ConnectError{
			Server: entry.ID,
			Err:    fmt.Errorf("unsupported transport %q", entry.Transport.Kind),
		}
	}
}

// buildCommand prepares the subprocess for a stdio server: resolved binary,
// merged environment, capped stderr capture.
func (m *Manager) buildCommand(entry registry.ServerEntry) (*exec.Cmd, *stderrRecorder, error) {
	path, searched := resolveCommand(entry.Transport.Command)
	if path == "" {
		return nil, nil, &errors.ConnectError{
			Server: entry.ID,
			Err:    fmt.Errorf("command %q not found (searched %v)", entry.Transport.Command, searched),
		}
	}

	//nolint:gosec // G204: spawning registry-declared server commands is the point.
	cmd := exec.Command(path, entry.Transport.Args...)

	cmd.Env = os.Environ()
	for k, v := range entry.Transport.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stderr := &stderrRecorder{}
	cmd.Stderr = stderr

	m.log.Debug("built server command", "server", entry.ID, "path", path, "args", entry.Transport.Args)

	return cmd, stderr, nil
}

// Ping checks liveness of the entry's session, connecting if needed.
// A failed ping evicts the session so the next call reconnects.
func (m *Manager) Ping(ctx context.Context, entry registry.ServerEntry) error {
	client, err := m.Session(ctx, entry)
	if err != nil {
		return err
	}

	if err := client.Ping(ctx, nil); err != nil {
		m.Evict(entry.ID)

		return &errors.ConnectError{Server: entry.ID, Err: fmt.Errorf("ping: %w", err)}
	}

	return nil
}

// Evict drops and closes the cached session for the id, if any.
func (m *Manager) Evict(id string) {
	m.mu.Lock()
	live, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		m.log.Info("evicting MCP session", "server", id)
		_ = live.client.Close()
	}
}

// Close closes all sessions and marks the manager unusable.
func (m *Manager) Close() error {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()

		return nil
	}

	m.closed = true
	sessions := m.sessions
	m.sessions = nil
	m.mu.Unlock()

	var firstErr error

	for id, live := range sessions {
		if err := live.client.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close session %q: %w", id, err)
		}
	}

	return firstErr
}
