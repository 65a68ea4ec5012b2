package orchestrator

import (
	"log/slog"
	"time"

	"github.com/secondsky/mcp-orchestrator/internal/conn"
	"github.com/secondsky/mcp-orchestrator/internal/registry"
)

// Option configures an Orchestrator using the functional options pattern.
type Option func(*orchestratorOptions)

type orchestratorOptions struct {
	logger         *slog.Logger
	registryPath   string
	registry       *registry.Registry
	maxSensitivity Sensitivity
	callTimeout    time.Duration
	connectTimeout time.Duration
	toolCacheTTL   time.Duration
	permission     PermissionCallback
	auditStore     AuditStore
	auditPath      string
	sandbox        *SandboxSettings
	clientName     string
	clientVersion  string

	// test seam
	sessions conn.Provider
}

func applyOptions(opts []Option) *orchestratorOptions {
	options := &orchestratorOptions{}
	for _, opt := range opts {
		opt(options)
	}

	return options
}

// WithLogger sets the logger for debug output.
// If not set, logging is disabled (silent operation).
func WithLogger(logger *slog.Logger) Option {
	return func(o *orchestratorOptions) {
		o.logger = logger
	}
}

// WithRegistryPath loads the server registry from a JSON file.
func WithRegistryPath(path string) Option {
	return func(o *orchestratorOptions) {
		o.registryPath = path
	}
}

// WithRegistry uses an already-built registry. Takes precedence over
// WithRegistryPath.
func WithRegistry(reg *registry.Registry) Option {
	return func(o *orchestratorOptions) {
		o.registry = reg
	}
}

// WithMaxSensitivity sets the sensitivity ceiling for invocations.
// Defaults to medium. Calls to servers above the ceiling need explicit
// per-call approval.
func WithMaxSensitivity(max Sensitivity) Option {
	return func(o *orchestratorOptions) {
		o.maxSensitivity = max
	}
}

// WithCallTimeout bounds each tool call. Defaults to 30s.
func WithCallTimeout(timeout time.Duration) Option {
	return func(o *orchestratorOptions) {
		o.callTimeout = timeout
	}
}

// WithConnectTimeout bounds MCP session establishment. Defaults to 15s.
func WithConnectTimeout(timeout time.Duration) Option {
	return func(o *orchestratorOptions) {
		o.connectTimeout = timeout
	}
}

// WithToolCacheTTL sets how long live tool lists are cached. Defaults
// to 5 minutes.
func WithToolCacheTTL(ttl time.Duration) Option {
	return func(o *orchestratorOptions) {
		o.toolCacheTTL = ttl
	}
}

// WithPermissionCallback installs a callback consulted before every
// invocation, after the sensitivity gate.
func WithPermissionCallback(cb PermissionCallback) Option {
	return func(o *orchestratorOptions) {
		o.permission = cb
	}
}

// WithAuditStore uses a caller-provided audit store. Takes precedence
// over WithAuditPath.
func WithAuditStore(store AuditStore) Option {
	return func(o *orchestratorOptions) {
		o.auditStore = store
	}
}

// WithAuditPath opens a SQLite audit store at the given path. Without
// this or WithAuditStore, auditing is disabled.
func WithAuditPath(path string) Option {
	return func(o *orchestratorOptions) {
		o.auditPath = path
	}
}

// WithSandboxSettings configures script execution. The sandbox stays
// disabled unless Settings.Enabled is set, and the
// MCPORCH_SANDBOX_DISABLE environment variable always wins.
func WithSandboxSettings(settings SandboxSettings) Option {
	return func(o *orchestratorOptions) {
		s := settings
		o.sandbox = &s
	}
}

// WithClientInfo identifies the orchestrator to servers during the MCP
// initialize handshake.
func WithClientInfo(name, version string) Option {
	return func(o *orchestratorOptions) {
		o.clientName = name
		o.clientVersion = version
	}
}

// withSessionProvider swaps the MCP session layer. Test seam.
func withSessionProvider(p conn.Provider) Option {
	return func(o *orchestratorOptions) {
		o.sessions = p
	}
}
