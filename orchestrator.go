package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/secondsky/mcp-orchestrator/internal/audit"
	"github.com/secondsky/mcp-orchestrator/internal/catalog"
	"github.com/secondsky/mcp-orchestrator/internal/codegen"
	"github.com/secondsky/mcp-orchestrator/internal/conn"
	"github.com/secondsky/mcp-orchestrator/internal/errors"
	"github.com/secondsky/mcp-orchestrator/internal/exec"
	"github.com/secondsky/mcp-orchestrator/internal/policy"
	"github.com/secondsky/mcp-orchestrator/internal/registry"
	"github.com/secondsky/mcp-orchestrator/internal/sandbox"
)

// Orchestrator ties the registry, session manager, catalog, policy gate,
// executor, sandbox, and audit store together behind one façade.
//
// All methods are safe for concurrent use. After Close, every method
// returns ErrClosed.
type Orchestrator struct {
	log          *slog.Logger
	registry     *registry.Registry
	registryPath string
	sessions     conn.Provider
	catalog      *catalog.Catalog
	gate         *policy.Gate
	executor     *exec.Executor
	runner       *sandbox.Runner
	store        audit.Store
	ownsStore    bool

	mu     sync.Mutex
	closed bool
}

// New builds an orchestrator from functional options.
//
// Without WithRegistry or WithRegistryPath the orchestrator starts with
// an empty registry; servers can be added with UpsertServer.
func New(opts ...Option) (*Orchestrator, error) {
	options := applyOptions(opts)

	log := options.logger
	if log == nil {
		log = NopLogger()
	}

	reg := options.registry
	if reg == nil {
		if options.registryPath != "" {
			loaded, err := registry.Load(log, options.registryPath)
			if err != nil {
				return nil, err
			}

			reg = loaded
		} else {
			reg = registry.New(log)
		}
	}

	sessions := options.sessions
	if sessions == nil {
		sessions = conn.NewManager(conn.Options{
			ClientName:     options.clientName,
			ClientVersion:  options.clientVersion,
			ConnectTimeout: options.connectTimeout,
			Logger:         log,
		})
	}

	cat := catalog.New(log, reg, sessions, options.toolCacheTTL)
	gate := policy.New(log, options.maxSensitivity, options.permission)

	store := options.auditStore
	ownsStore := false

	if store == nil {
		if options.auditPath != "" {
			opened, err := audit.OpenSQLite(options.auditPath)
			if err != nil {
				_ = sessions.Close()

				return nil, err
			}

			store = opened
			ownsStore = true
		} else {
			store = audit.NopStore{}
		}
	}

	executor := exec.New(exec.Options{
		Logger:      log,
		Registry:    reg,
		Catalog:     cat,
		Sessions:    sessions,
		Gate:        gate,
		Audit:       store,
		CallTimeout: options.callTimeout,
	})

	settings := sandbox.DefaultSettings()
	if options.sandbox != nil {
		settings = *options.sandbox
	}

	return &Orchestrator{
		log:          log.With("component", "orchestrator"),
		registry:     reg,
		registryPath: options.registryPath,
		sessions:     sessions,
		catalog:      cat,
		gate:         gate,
		executor:     executor,
		runner:       sandbox.NewRunner(log, settings),
		store:        store,
		ownsStore:    ownsStore,
	}, nil
}

func (o *Orchestrator) checkOpen() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return errors.ErrClosed
	}

	return nil
}

// Summaries lists visible servers without touching any of them.
// Ordered by priority (descending), then id.
func (o *Orchestrator) Summaries() []Summary {
	return o.catalog.Summaries()
}

// Describe returns a server's full registry descriptor. Hidden entries
// resolve by exact id.
func (o *Orchestrator) Describe(id string) (ServerEntry, error) {
	return o.catalog.Describe(id)
}

// Search matches the query against id, title, summary, domains, and tags
// of visible servers.
func (o *Orchestrator) Search(query string, opts QueryOptions) []ServerEntry {
	return o.registry.Search(query, opts)
}

// ByDomain lists visible servers claiming the domain.
func (o *Orchestrator) ByDomain(domain string) []ServerEntry {
	return o.registry.ByDomain(domain)
}

// ByTag lists visible servers carrying the tag.
func (o *Orchestrator) ByTag(tag string) []ServerEntry {
	return o.registry.ByTag(tag)
}

// Tools returns a server's live tool list, connecting on first use and
// caching the result for the configured TTL.
func (o *Orchestrator) Tools(ctx context.Context, id string) ([]ToolInfo, error) {
	if err := o.checkOpen(); err != nil {
		return nil, err
	}

	return o.catalog.Tools(ctx, id)
}

// Invoke validates, gates, executes, and audits one tool call.
func (o *Orchestrator) Invoke(ctx context.Context, req InvokeRequest) (*InvokeResult, error) {
	if err := o.checkOpen(); err != nil {
		return nil, err
	}

	return o.executor.Invoke(ctx, req)
}

// Generate renders a typed client module for a server from its live
// tool list. The call passes the policy gate like an invocation.
func (o *Orchestrator) Generate(ctx context.Context, id string, opts GenerateOptions) (string, error) {
	entry, tools, err := o.gatedTools(ctx, id)
	if err != nil {
		return "", err
	}

	return codegen.Generate(entry, tools, opts)
}

// GenerateManifest emits the JSON manifest form of a server's tools.
func (o *Orchestrator) GenerateManifest(ctx context.Context, id string) ([]byte, error) {
	entry, tools, err := o.gatedTools(ctx, id)
	if err != nil {
		return nil, err
	}

	return codegen.GenerateManifest(entry, tools)
}

func (o *Orchestrator) gatedTools(ctx context.Context, id string) (ServerEntry, []ToolInfo, error) {
	if err := o.checkOpen(); err != nil {
		return ServerEntry{}, nil, err
	}

	entry, err := o.registry.Get(id)
	if err != nil {
		return ServerEntry{}, nil, err
	}

	if err := o.gate.Check(ctx, policy.Request{Server: entry}); err != nil {
		return ServerEntry{}, nil, err
	}

	tools, err := o.catalog.Tools(ctx, id)
	if err != nil {
		return ServerEntry{}, nil, err
	}

	return entry, tools, nil
}

// RunScript executes a script in the sandbox and audits the run.
// Returns ErrSandboxDisabled unless the sandbox was enabled explicitly.
func (o *Orchestrator) RunScript(ctx context.Context, script string) (*RunResult, error) {
	if err := o.checkOpen(); err != nil {
		return nil, err
	}

	result, err := o.runner.Run(ctx, script)
	if err != nil {
		return nil, err
	}

	o.auditRun(result)

	return result, nil
}

func (o *Orchestrator) auditRun(result *RunResult) {
	outcome := audit.OutcomeOK
	detail := ""

	switch {
	case result.TimedOut:
		outcome = audit.OutcomeCancelled
		detail = "timed out"
	case result.ExitCode != 0:
		outcome = audit.OutcomeToolError
		detail = fmt.Sprintf("exit code %d", result.ExitCode)
	}

	entry := audit.Entry{
		ID:        result.RunID,
		Kind:      audit.KindScriptRun,
		Server:    "sandbox",
		Outcome:   outcome,
		Detail:    detail,
		Duration:  result.Duration.Milliseconds(),
		CreatedAt: time.Now().UTC(),
	}

	if err := o.store.Record(context.Background(), entry); err != nil {
		o.log.Warn("audit write failed", "run_id", result.RunID, "error", err)
	}
}

// SandboxEnabled reports whether RunScript would accept work.
func (o *Orchestrator) SandboxEnabled() bool {
	return o.runner.Enabled()
}

// ProbeAll pings every visible server concurrently and reports
// per-server health. Individual failures never fail the probe.
func (o *Orchestrator) ProbeAll(ctx context.Context) ([]ProbeResult, error) {
	if err := o.checkOpen(); err != nil {
		return nil, err
	}

	return o.catalog.ProbeAll(ctx), nil
}

// UpsertServer adds or replaces a registry entry at runtime. Watchers
// fire and cached state for the entry is invalidated.
func (o *Orchestrator) UpsertServer(entry ServerEntry) error {
	if err := o.checkOpen(); err != nil {
		return err
	}

	return o.registry.Upsert(entry)
}

// RemoveServer deletes a registry entry at runtime.
func (o *Orchestrator) RemoveServer(id string) error {
	if err := o.checkOpen(); err != nil {
		return err
	}

	return o.registry.Remove(id)
}

// ReloadRegistry re-reads the registry file the orchestrator was opened
// with. On parse failure the previous state is kept.
func (o *Orchestrator) ReloadRegistry() error {
	if err := o.checkOpen(); err != nil {
		return err
	}

	if o.registryPath == "" {
		return fmt.Errorf("no registry path configured")
	}

	return o.registry.Reload(o.registryPath)
}

// WatchRegistry registers a callback for registry mutations.
func (o *Orchestrator) WatchRegistry(w registry.Watcher) {
	o.registry.Watch(w)
}

// RegistryRevision returns the registry's mutation counter.
func (o *Orchestrator) RegistryRevision() uint64 {
	return o.registry.Revision()
}

// AuditLog lists audit records, newest first.
func (o *Orchestrator) AuditLog(ctx context.Context, filter AuditFilter) ([]AuditEntry, error) {
	if err := o.checkOpen(); err != nil {
		return nil, err
	}

	return o.store.List(ctx, filter)
}

// AuditEntryByID fetches one audit record by its ULID.
func (o *Orchestrator) AuditEntryByID(ctx context.Context, id string) (AuditEntry, error) {
	if err := o.checkOpen(); err != nil {
		return AuditEntry{}, err
	}

	return o.store.Get(ctx, id)
}

// PruneAudit deletes audit records older than the cutoff and returns
// how many were removed.
func (o *Orchestrator) PruneAudit(ctx context.Context, olderThan time.Time) (int64, error) {
	if err := o.checkOpen(); err != nil {
		return 0, err
	}

	return o.store.Prune(ctx, olderThan)
}

// Close shuts down all MCP sessions and, when the orchestrator opened
// it, the audit store. Idempotent.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()

		return nil
	}

	o.closed = true
	o.mu.Unlock()

	err := o.sessions.Close()

	if o.ownsStore {
		if storeErr := o.store.Close(); storeErr != nil && err == nil {
			err = storeErr
		}
	}

	return err
}
