// Package catalog implements progressive disclosure over the registry:
// cheap summaries first, full descriptors on request, and live tool
// schemas only when a server is actually about to be used.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/secondsky/mcp-orchestrator/internal/conn"
	"github.com/secondsky/mcp-orchestrator/internal/registry"
)

// ToolInfo is the third disclosure level: a tool's full callable schema.
type ToolInfo struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
}

// ProbeResult reports one server's health from ProbeAll.
type ProbeResult struct {
	ID        string
	OK        bool
	Err       string
	ToolCount int
	Latency   time.Duration
}

const (
	// DefaultToolCacheTTL bounds how long fetched tool lists are served
	// without asking the server again.
	DefaultToolCacheTTL = 5 * time.Minute

	// probeConcurrency bounds parallel server connections during ProbeAll.
	probeConcurrency = 8
)

type cachedTools struct {
	tools   []ToolInfo
	fetched time.Time
}

// Catalog serves the three disclosure levels.
type Catalog struct {
	log      *slog.Logger
	registry *registry.Registry
	sessions conn.Provider
	ttl      time.Duration

	mu    sync.Mutex
	cache map[string]cachedTools
	fetch singleflight.Group

	now func() time.Time // test hook
}

// New creates a catalog over the registry and session provider.
// A non-positive ttl selects DefaultToolCacheTTL.
//
// The catalog watches the registry: any mutation touching a server drops
// its cached tools and evicts its session, so stale schemas are never
// served across a registry change.
func New(log *slog.Logger, reg *registry.Registry, sessions conn.Provider, ttl time.Duration) *Catalog {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if ttl <= 0 {
		ttl = DefaultToolCacheTTL
	}

	c := &Catalog{
		log:      log.With("component", "catalog"),
		registry: reg,
		sessions: sessions,
		ttl:      ttl,
		cache:    make(map[string]cachedTools),
		now:      time.Now,
	}

	reg.Watch(c.onRegistryEvent)

	return c
}

func (c *Catalog) onRegistryEvent(ev registry.Event) {
	switch ev.Kind {
	case "upsert", "remove":
		c.InvalidateTools(ev.ID)
		c.sessions.Evict(ev.ID)
	case "reload":
		c.mu.Lock()
		ids := make([]string, 0, len(c.cache))

		for id := range c.cache {
			ids = append(ids, id)
		}

		c.cache = make(map[string]cachedTools)
		c.mu.Unlock()

		for _, id := range ids {
			c.sessions.Evict(id)
		}
	}
}

// Summaries returns the first disclosure level for all visible servers,
// priority-ordered.
func (c *Catalog) Summaries() []registry.Summary {
	entries := c.registry.All(registry.QueryOptions{})

	out := make([]registry.Summary, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Summarize())
	}

	return out
}

// Describe returns the full registry descriptor for an id, the second
// disclosure level. Hidden entries resolve by exact id.
func (c *Catalog) Describe(id string) (registry.ServerEntry, error) {
	return c.registry.Get(id)
}

// Tools returns the live tool schemas for a server, fetching over MCP and
// caching for the configured TTL. Concurrent fetches for the same server
// are coalesced.
func (c *Catalog) Tools(ctx context.Context, id string) ([]ToolInfo, error) {
	entry, err := c.registry.Get(id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if cached, ok := c.cache[id]; ok && c.now().Sub(cached.fetched) < c.ttl {
		tools := cached.tools
		c.mu.Unlock()

		return tools, nil
	}
	c.mu.Unlock()

	v, err, _ := c.fetch.Do(id, func() (any, error) {
		tools, err := c.fetchTools(ctx, entry)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.cache[id] = cachedTools{tools: tools, fetched: c.now()}
		c.mu.Unlock()

		return tools, nil
	})
	if err != nil {
		return nil, err
	}

	return v.([]ToolInfo), nil
}

func (c *Catalog) fetchTools(ctx context.Context, entry registry.ServerEntry) ([]ToolInfo, error) {
	client, err := c.sessions.Session(ctx, entry)
	if err != nil {
		return nil, err
	}

	result, err := client.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		// The session may be dead; drop it so the next call reconnects.
		c.sessions.Evict(entry.ID)

		return nil, fmt.Errorf("list tools for %q: %w", entry.ID, err)
	}

	tools := make([]ToolInfo, 0, len(result.Tools))
	for _, t := range result.Tools {
		schema, err := schemaFromWire(t.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("tool %q on %q: %w", t.Name, entry.ID, err)
		}

		tools = append(tools, ToolInfo{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}

	c.log.Debug("fetched tool list", "server", entry.ID, "tools", len(tools))

	return tools, nil
}

// schemaFromWire converts the SDK's untyped inputSchema field. A client
// session delivers it as map[string]any; in-process servers built on the
// SDK hand the typed form through unchanged.
func schemaFromWire(v any) (*jsonschema.Schema, error) {
	switch s := v.(type) {
	case nil:
		return nil, nil
	case *jsonschema.Schema:
		return s, nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode input schema: %w", err)
	}

	schema := new(jsonschema.Schema)
	if err := json.Unmarshal(raw, schema); err != nil {
		return nil, fmt.Errorf("decode input schema: %w", err)
	}

	return schema, nil
}

// InvalidateTools drops the cached tool list for a server.
func (c *Catalog) InvalidateTools(id string) {
	c.mu.Lock()
	delete(c.cache, id)
	c.mu.Unlock()
}

// ProbeAll connects to every visible server concurrently and reports
// per-server health. One bad server never fails the whole probe.
func (c *Catalog) ProbeAll(ctx context.Context) []ProbeResult {
	entries := c.registry.All(registry.QueryOptions{})
	results := make([]ProbeResult, len(entries))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(probeConcurrency)

	for i, entry := range entries {
		g.Go(func() error {
			start := c.now()

			res := ProbeResult{ID: entry.ID}

			// MCP ping first: a server can answer tools/list from a dying
			// session, but a failed ping evicts it for reconnection.
			if err := c.sessions.Ping(ctx, entry); err != nil {
				res.Err = err.Error()
				res.Latency = c.now().Sub(start)
				results[i] = res

				return nil
			}

			tools, err := c.Tools(ctx, entry.ID)

			res.Latency = c.now().Sub(start)
			if err != nil {
				res.Err = err.Error()
			} else {
				res.OK = true
				res.ToolCount = len(tools)
			}

			results[i] = res

			return nil
		})
	}

	// Goroutines never return errors; Wait only synchronizes.
	_ = g.Wait()

	return results
}
