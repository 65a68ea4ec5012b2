package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"github.com/secondsky/mcp-orchestrator/internal/conn"
	"github.com/secondsky/mcp-orchestrator/internal/registry"
)

const testRegistry = `{
	"servers": [
		{
			"id": "weather",
			"title": "Weather Service",
			"summary": "Forecasts and alerts.",
			"transport": {"kind": "stdio", "command": "weather-mcp"},
			"domains": ["weather"],
			"tags": ["forecast"],
			"sensitivity": "low"
		},
		{
			"id": "prod-db",
			"title": "Production Database",
			"summary": "Live production queries.",
			"transport": {"kind": "http", "url": "https://db.internal/mcp"},
			"sensitivity": "high",
			"visibility": "hidden"
		}
	]
}`

func writeRegistry(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "registry.json")
	require.NoError(t, os.WriteFile(path, []byte(testRegistry), 0o600))

	return path
}

// fakeClient implements conn.ToolClient.
type fakeClient struct {
	mu        sync.Mutex
	tools     []*mcp.Tool
	callErr   error
	result    *mcp.CallToolResult
	lastCall  *mcp.CallToolParams
	listCalls int
}

func (f *fakeClient) ListTools(ctx context.Context, params *mcp.ListToolsParams) (*mcp.ListToolsResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.listCalls++

	return &mcp.ListToolsResult{Tools: f.tools}, nil
}

func (f *fakeClient) CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.lastCall = params

	if f.callErr != nil {
		return nil, f.callErr
	}

	if f.result != nil {
		return f.result, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: "sunny"}},
	}, nil
}

func (f *fakeClient) Ping(ctx context.Context, params *mcp.PingParams) error { return nil }

func (f *fakeClient) Close() error { return nil }

// fakeProvider implements conn.Provider over a fixed set of clients.
type fakeProvider struct {
	mu      sync.Mutex
	clients map[string]*fakeClient
	closed  bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{clients: make(map[string]*fakeClient)}
}

func (p *fakeProvider) Session(ctx context.Context, entry registry.ServerEntry) (conn.ToolClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	client, ok := p.clients[entry.ID]
	if !ok {
		client = &fakeClient{}
		p.clients[entry.ID] = client
	}

	return client, nil
}

func (p *fakeProvider) Ping(ctx context.Context, entry registry.ServerEntry) error { return nil }

func (p *fakeProvider) Evict(id string) {}

func (p *fakeProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true

	return nil
}

func forecastTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "get-forecast",
		Description: "Fetch a forecast.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"city": {Type: "string"},
			},
			Required: []string{"city"},
		},
	}
}

func newTestOrchestrator(t *testing.T, opts ...Option) (*Orchestrator, *fakeProvider) {
	t.Helper()

	provider := newFakeProvider()
	provider.clients["weather"] = &fakeClient{tools: []*mcp.Tool{forecastTool()}}

	opts = append([]Option{
		WithRegistryPath(writeRegistry(t)),
		withSessionProvider(provider),
	}, opts...)

	orch, err := New(opts...)
	require.NoError(t, err)

	t.Cleanup(func() { _ = orch.Close() })

	return orch, provider
}

func TestNew_MissingRegistry(t *testing.T) {
	t.Parallel()

	_, err := New(WithRegistryPath(filepath.Join(t.TempDir(), "absent.json")))
	require.Error(t, err)
}

func TestNew_EmptyRegistry(t *testing.T) {
	t.Parallel()

	orch, err := New()
	require.NoError(t, err)

	defer orch.Close()

	require.Empty(t, orch.Summaries())
}

func TestSummaries(t *testing.T) {
	t.Parallel()

	orch, _ := newTestOrchestrator(t)

	summaries := orch.Summaries()
	require.Len(t, summaries, 1)
	require.Equal(t, "weather", summaries[0].ID)
}

func TestDescribe_ResolvesHidden(t *testing.T) {
	t.Parallel()

	orch, _ := newTestOrchestrator(t)

	entry, err := orch.Describe("prod-db")
	require.NoError(t, err)
	require.Equal(t, SensitivityHigh, entry.Sensitivity)

	_, err = orch.Describe("nope")
	var notFound *ServerNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestTools(t *testing.T) {
	t.Parallel()

	orch, _ := newTestOrchestrator(t)

	tools, err := orch.Tools(context.Background(), "weather")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	require.Equal(t, "get-forecast", tools[0].Name)
}

func TestInvoke(t *testing.T) {
	t.Parallel()

	orch, provider := newTestOrchestrator(t)

	result, err := orch.Invoke(context.Background(), InvokeRequest{
		Server:    "weather",
		Tool:      "get-forecast",
		Arguments: map[string]any{"city": "Cape Town"},
	})
	require.NoError(t, err)
	require.Equal(t, "sunny", result.Text())
	require.NotEmpty(t, result.CallID)

	client := provider.clients["weather"]
	require.Equal(t, "get-forecast", client.lastCall.Name)
}

func TestInvoke_SensitivityGate(t *testing.T) {
	t.Parallel()

	orch, provider := newTestOrchestrator(t)
	provider.clients["prod-db"] = &fakeClient{tools: []*mcp.Tool{{Name: "query"}}}

	_, err := orch.Invoke(context.Background(), InvokeRequest{
		Server: "prod-db",
		Tool:   "query",
	})

	var policyErr *PolicyError
	require.ErrorAs(t, err, &policyErr)

	// Explicit approval lets the call through.
	_, err = orch.Invoke(context.Background(), InvokeRequest{
		Server:           "prod-db",
		Tool:             "query",
		ApproveSensitive: true,
	})
	require.NoError(t, err)
}

func TestInvoke_PermissionCallback(t *testing.T) {
	t.Parallel()

	denied := func(ctx context.Context, req PermissionRequest) (Decision, error) {
		return DecisionDeny, nil
	}

	orch, _ := newTestOrchestrator(t, WithPermissionCallback(denied))

	_, err := orch.Invoke(context.Background(), InvokeRequest{
		Server:    "weather",
		Tool:      "get-forecast",
		Arguments: map[string]any{"city": "Cape Town"},
	})

	var policyErr *PolicyError
	require.ErrorAs(t, err, &policyErr)
}

func TestGenerate(t *testing.T) {
	t.Parallel()

	orch, _ := newTestOrchestrator(t)

	module, err := orch.Generate(context.Background(), "weather", GenerateOptions{})
	require.NoError(t, err)
	require.Contains(t, module, "export async function getForecast(")

	manifest, err := orch.GenerateManifest(context.Background(), "weather")
	require.NoError(t, err)
	require.Contains(t, string(manifest), `"get-forecast"`)
}

func TestGenerate_GatedBySensitivity(t *testing.T) {
	t.Parallel()

	orch, _ := newTestOrchestrator(t)

	_, err := orch.Generate(context.Background(), "prod-db", GenerateOptions{})

	var policyErr *PolicyError
	require.ErrorAs(t, err, &policyErr)
}

func TestRunScript_DisabledByDefault(t *testing.T) {
	t.Parallel()

	orch, _ := newTestOrchestrator(t)

	require.False(t, orch.SandboxEnabled())

	_, err := orch.RunScript(context.Background(), "console.log(1)")
	require.ErrorIs(t, err, ErrSandboxDisabled)
}

func TestRegistryMutation(t *testing.T) {
	t.Parallel()

	orch, _ := newTestOrchestrator(t)

	var events []RegistryEvent

	orch.WatchRegistry(func(ev RegistryEvent) { events = append(events, ev) })

	before := orch.RegistryRevision()

	require.NoError(t, orch.UpsertServer(ServerEntry{
		ID:      "github",
		Title:   "GitHub",
		Summary: "Repository operations.",
		Transport: Transport{
			Kind: TransportHTTP,
			URL:  "https://api.github.example/mcp",
		},
	}))

	require.Len(t, orch.Summaries(), 2)
	require.Greater(t, orch.RegistryRevision(), before)

	require.NoError(t, orch.RemoveServer("github"))
	require.Len(t, orch.Summaries(), 1)

	require.Len(t, events, 2)
	require.Equal(t, "upsert", events[0].Kind)
	require.Equal(t, "remove", events[1].Kind)
}

func TestReloadRegistry(t *testing.T) {
	t.Parallel()

	path := writeRegistry(t)
	provider := newFakeProvider()

	orch, err := New(WithRegistryPath(path), withSessionProvider(provider))
	require.NoError(t, err)

	defer orch.Close()

	require.NoError(t, os.WriteFile(path, []byte(`{"servers": []}`), 0o600))
	require.NoError(t, orch.ReloadRegistry())
	require.Empty(t, orch.Summaries())
}

func TestReloadRegistry_NoPath(t *testing.T) {
	t.Parallel()

	orch, err := New()
	require.NoError(t, err)

	defer orch.Close()

	require.Error(t, orch.ReloadRegistry())
}

func TestAudit_InvokeRecorded(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "audit.db")

	orch, _ := newTestOrchestrator(t, WithAuditPath(dbPath))

	result, err := orch.Invoke(context.Background(), InvokeRequest{
		Server:    "weather",
		Tool:      "get-forecast",
		Arguments: map[string]any{"city": "Cape Town"},
	})
	require.NoError(t, err)

	entries, err := orch.AuditLog(context.Background(), AuditFilter{Server: "weather"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, OutcomeOK, entries[0].Outcome)
	require.Equal(t, result.CallID, entries[0].ID)

	got, err := orch.AuditEntryByID(context.Background(), result.CallID)
	require.NoError(t, err)
	require.Equal(t, "get-forecast", got.Tool)

	pruned, err := orch.PruneAudit(context.Background(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), pruned)
}

func TestClose(t *testing.T) {
	t.Parallel()

	orch, provider := newTestOrchestrator(t)

	require.NoError(t, orch.Close())
	require.True(t, provider.closed)

	// Idempotent.
	require.NoError(t, orch.Close())

	_, err := orch.Tools(context.Background(), "weather")
	require.ErrorIs(t, err, ErrClosed)

	_, err = orch.Invoke(context.Background(), InvokeRequest{Server: "weather", Tool: "get-forecast"})
	require.ErrorIs(t, err, ErrClosed)
}
