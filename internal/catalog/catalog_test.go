package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"github.com/secondsky/mcp-orchestrator/internal/conn"
	orcherrs "github.com/secondsky/mcp-orchestrator/internal/errors"
	"github.com/secondsky/mcp-orchestrator/internal/registry"
)

type fakeClient struct {
	mu        sync.Mutex
	listCalls int
	tools     []*mcp.Tool
	listErr   error
	pingErr   error
}

func (f *fakeClient) ListTools(ctx context.Context, params *mcp.ListToolsParams) (*mcp.ListToolsResult, error) {
	f.mu.Lock()
	f.listCalls++
	f.mu.Unlock()

	if f.listErr != nil {
		return nil, f.listErr
	}

	return &mcp.ListToolsResult{Tools: f.tools}, nil
}

func (f *fakeClient) CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	return &mcp.CallToolResult{}, nil
}

func (f *fakeClient) Ping(ctx context.Context, params *mcp.PingParams) error { return f.pingErr }

func (f *fakeClient) Close() error { return nil }

func (f *fakeClient) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.listCalls
}

type fakeProvider struct {
	mu      sync.Mutex
	clients map[string]*fakeClient
	evicted []string
	connErr error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{clients: map[string]*fakeClient{}}
}

func (p *fakeProvider) client(id string) *fakeClient {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.clients[id]
	if !ok {
		c = &fakeClient{}
		p.clients[id] = c
	}

	return c
}

func (p *fakeProvider) Session(ctx context.Context, entry registry.ServerEntry) (conn.ToolClient, error) {
	if p.connErr != nil {
		return nil, p.connErr
	}

	return p.client(entry.ID), nil
}

func (p *fakeProvider) Ping(ctx context.Context, entry registry.ServerEntry) error {
	if p.connErr != nil {
		return p.connErr
	}

	if err := p.client(entry.ID).pingErr; err != nil {
		p.Evict(entry.ID)

		return err
	}

	return nil
}

func (p *fakeProvider) Evict(id string) {
	p.mu.Lock()
	p.evicted = append(p.evicted, id)
	p.mu.Unlock()
}

func (p *fakeProvider) Close() error { return nil }

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()

	r := registry.New(nil)

	require.NoError(t, r.Upsert(registry.ServerEntry{
		ID:      "weather",
		Title:   "Weather",
		Summary: "Forecasts",
		Transport: registry.Transport{
			Kind:    registry.TransportStdio,
			Command: "weather-mcp",
		},
		Priority: 5,
	}))
	require.NoError(t, r.Upsert(registry.ServerEntry{
		ID:      "hidden-admin",
		Title:   "Admin",
		Summary: "Admin tools",
		Transport: registry.Transport{
			Kind: registry.TransportHTTP,
			URL:  "https://mcp.example.com/admin",
		},
		Visibility: registry.VisibilityHidden,
		Priority:   99,
	}))

	return r
}

func TestSummaries_ExcludeHidden(t *testing.T) {
	t.Parallel()

	c := New(nil, testRegistry(t), newFakeProvider(), 0)

	summaries := c.Summaries()
	require.Len(t, summaries, 1)
	require.Equal(t, "weather", summaries[0].ID)
}

func TestDescribe_ResolvesHidden(t *testing.T) {
	t.Parallel()

	c := New(nil, testRegistry(t), newFakeProvider(), 0)

	entry, err := c.Describe("hidden-admin")
	require.NoError(t, err)
	require.Equal(t, registry.VisibilityHidden, entry.Visibility)

	_, err = c.Describe("nope")

	var notFound *orcherrs.ServerNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestTools_CachesUntilTTL(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	provider.client("weather").tools = []*mcp.Tool{
		{Name: "forecast", Description: "7 day forecast", InputSchema: &jsonschema.Schema{Type: "object"}},
	}

	c := New(nil, testRegistry(t), provider, time.Minute)

	current := time.Unix(1000, 0)
	c.now = func() time.Time { return current }

	tools, err := c.Tools(context.Background(), "weather")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	require.Equal(t, "forecast", tools[0].Name)
	require.Equal(t, 1, provider.client("weather").calls())

	// Within TTL: served from cache.
	_, err = c.Tools(context.Background(), "weather")
	require.NoError(t, err)
	require.Equal(t, 1, provider.client("weather").calls())

	// Past TTL: fetched again.
	current = current.Add(2 * time.Minute)
	_, err = c.Tools(context.Background(), "weather")
	require.NoError(t, err)
	require.Equal(t, 2, provider.client("weather").calls())
}

func TestTools_UnknownServer(t *testing.T) {
	t.Parallel()

	c := New(nil, testRegistry(t), newFakeProvider(), 0)

	_, err := c.Tools(context.Background(), "nope")

	var notFound *orcherrs.ServerNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestTools_ListFailureEvictsSession(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	provider.client("weather").listErr = errors.New("stream reset")

	c := New(nil, testRegistry(t), provider, 0)

	_, err := c.Tools(context.Background(), "weather")
	require.Error(t, err)
	require.Contains(t, provider.evicted, "weather")
}

func TestRegistryMutationInvalidatesCache(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	reg := testRegistry(t)
	c := New(nil, reg, provider, time.Hour)

	_, err := c.Tools(context.Background(), "weather")
	require.NoError(t, err)
	require.Equal(t, 1, provider.client("weather").calls())

	// Upserting the entry drops the cached tools and the session.
	entry, err := reg.Get("weather")
	require.NoError(t, err)
	entry.Transport.Args = []string{"--verbose"}
	require.NoError(t, reg.Upsert(entry))

	require.Contains(t, provider.evicted, "weather")

	_, err = c.Tools(context.Background(), "weather")
	require.NoError(t, err)
	require.Equal(t, 2, provider.client("weather").calls())
}

func TestProbeAll(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	provider.client("weather").tools = []*mcp.Tool{{Name: "forecast"}}
	provider.client("hidden-admin").listErr = errors.New("unreachable")

	c := New(nil, testRegistry(t), provider, 0)

	results := c.ProbeAll(context.Background())
	// Hidden servers are not probed.
	require.Len(t, results, 1)
	require.Equal(t, "weather", results[0].ID)
	require.True(t, results[0].OK)
	require.Equal(t, 1, results[0].ToolCount)
}

func TestProbeAll_PingFailureReported(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	provider.client("weather").pingErr = errors.New("connection reset")

	c := New(nil, testRegistry(t), provider, 0)

	results := c.ProbeAll(context.Background())
	require.Len(t, results, 1)
	require.False(t, results[0].OK)
	require.Contains(t, results[0].Err, "connection reset")

	// The dead session was evicted for reconnection.
	require.Contains(t, provider.evicted, "weather")
}

func TestTools_WireShapeSchema(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	provider.client("weather").tools = []*mcp.Tool{
		{
			Name: "forecast",
			// The shape a client session actually delivers: decoded JSON,
			// not the typed schema an in-process server hands over.
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"city": map[string]any{"type": "string"},
				},
				"required": []any{"city"},
			},
		},
	}

	c := New(nil, testRegistry(t), provider, 0)

	tools, err := c.Tools(context.Background(), "weather")
	require.NoError(t, err)
	require.Len(t, tools, 1)

	schema := tools[0].InputSchema
	require.NotNil(t, schema)
	require.Equal(t, "object", schema.Type)
	require.Contains(t, schema.Properties, "city")
	require.Equal(t, []string{"city"}, schema.Required)
}

func TestTools_MalformedWireSchema(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	provider.client("weather").tools = []*mcp.Tool{
		{Name: "forecast", InputSchema: map[string]any{"type": 42}},
	}

	c := New(nil, testRegistry(t), provider, 0)

	_, err := c.Tools(context.Background(), "weather")
	require.Error(t, err)
	require.Contains(t, err.Error(), "forecast")
}
