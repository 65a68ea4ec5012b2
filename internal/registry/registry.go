// Package registry loads and serves the MCP server registry: the static
// JSON file enumerating available servers and their connection metadata,
// plus runtime mutation on top of it.
package registry

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/secondsky/mcp-orchestrator/internal/errors"
)

// Event describes a registry change delivered to watchers.
type Event struct {
	// Kind is "upsert", "remove" or "reload".
	Kind string
	// ID is the affected entry id; empty for reload events.
	ID string
	// Revision is the registry revision after the change.
	Revision uint64
}

// Watcher receives registry change events. Watchers are invoked
// synchronously after the change is committed, outside the registry lock.
type Watcher func(Event)

// File is the on-disk registry document.
type File struct {
	Version int           `json:"version"`
	Servers []ServerEntry `json:"servers"`
}

// Registry is a concurrency-safe view over a set of server entries.
type Registry struct {
	log *slog.Logger

	mu       sync.RWMutex
	entries  map[string]ServerEntry
	revision uint64

	watcherMu sync.Mutex
	watchers  []Watcher
}

// New creates an empty registry.
func New(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Registry{
		log:     log.With("component", "registry"),
		entries: make(map[string]ServerEntry),
	}
}

// Load reads and parses a registry file into a fresh registry.
func Load(log *slog.Logger, path string) (*Registry, error) {
	r := New(log)
	if err := r.Reload(path); err != nil {
		return nil, err
	}

	return r, nil
}

// Parse validates raw registry JSON and returns the contained entries,
// normalized and ready for use.
func Parse(data []byte) ([]ServerEntry, error) {
	var file File
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, &errors.RegistryError{Err: err}
	}

	seen := make(map[string]struct{}, len(file.Servers))
	entries := make([]ServerEntry, 0, len(file.Servers))

	for i := range file.Servers {
		entry := file.Servers[i]
		entry.normalize()

		if err := entry.validate(); err != nil {
			return nil, err
		}

		if _, dup := seen[entry.ID]; dup {
			return nil, &errors.RegistryError{
				Entry: entry.ID,
				Field: "id",
				Err:   fmt.Errorf("duplicate id"),
			}
		}

		seen[entry.ID] = struct{}{}
		entries = append(entries, entry)
	}

	return entries, nil
}

// Reload replaces the registry contents with the given file. On any error
// the previous contents remain untouched.
func (r *Registry) Reload(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &errors.RegistryError{Path: path, Err: err}
	}

	entries, err := Parse(data)
	if err != nil {
		if regErr, ok := err.(*errors.RegistryError); ok {
			regErr.Path = path
		}

		return err
	}

	next := make(map[string]ServerEntry, len(entries))
	for _, e := range entries {
		next[e.ID] = e
	}

	r.mu.Lock()
	r.entries = next
	r.revision++
	rev := r.revision
	r.mu.Unlock()

	r.log.Info("registry reloaded", "path", path, "servers", len(next), "revision", rev)
	r.notify(Event{Kind: "reload", Revision: rev})

	return nil
}

// Upsert adds or replaces a single entry at runtime.
func (r *Registry) Upsert(entry ServerEntry) error {
	entry.normalize()

	if err := entry.validate(); err != nil {
		return err
	}

	entry = entry.Clone()

	r.mu.Lock()
	r.entries[entry.ID] = entry
	r.revision++
	rev := r.revision
	r.mu.Unlock()

	r.log.Info("registry entry upserted", "server", entry.ID, "revision", rev)
	r.notify(Event{Kind: "upsert", ID: entry.ID, Revision: rev})

	return nil
}

// Remove deletes an entry. Removing an unknown id is an error so callers
// notice typos.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()

	if _, ok := r.entries[id]; !ok {
		r.mu.Unlock()

		return &errors.ServerNotFoundError{ID: id}
	}

	delete(r.entries, id)
	r.revision++
	rev := r.revision
	r.mu.Unlock()

	r.log.Info("registry entry removed", "server", id, "revision", rev)
	r.notify(Event{Kind: "remove", ID: id, Revision: rev})

	return nil
}

// Watch registers a watcher for registry changes.
func (r *Registry) Watch(w Watcher) {
	r.watcherMu.Lock()
	defer r.watcherMu.Unlock()

	r.watchers = append(r.watchers, w)
}

func (r *Registry) notify(ev Event) {
	r.watcherMu.Lock()
	watchers := append([]Watcher(nil), r.watchers...)
	r.watcherMu.Unlock()

	for _, w := range watchers {
		w(ev)
	}
}

// Revision returns the current revision counter. It starts at zero and is
// bumped by every successful mutation.
func (r *Registry) Revision() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.revision
}

// Get resolves an entry by exact id, including hidden entries.
func (r *Registry) Get(id string) (ServerEntry, error) {
	r.mu.RLock()
	entry, ok := r.entries[id]
	r.mu.RUnlock()

	if !ok {
		return ServerEntry{}, &errors.ServerNotFoundError{ID: id}
	}

	return entry.Clone(), nil
}

// QueryOptions control listing queries.
type QueryOptions struct {
	// IncludeHidden lists entries with hidden visibility as well.
	IncludeHidden bool
}

// All returns every listable entry ordered by descending priority, then id.
func (r *Registry) All(opts QueryOptions) []ServerEntry {
	return r.collect(opts, func(ServerEntry) bool { return true })
}

// Search returns listable entries whose id, title, summary, domains or
// tags contain the query, case-insensitively.
func (r *Registry) Search(query string, opts QueryOptions) []ServerEntry {
	q := strings.ToLower(query)

	return r.collect(opts, func(e ServerEntry) bool {
		if strings.Contains(strings.ToLower(e.ID), q) ||
			strings.Contains(strings.ToLower(e.Title), q) ||
			strings.Contains(strings.ToLower(e.Summary), q) {
			return true
		}

		for _, domain := range e.Domains {
			if strings.Contains(strings.ToLower(domain), q) {
				return true
			}
		}

		for _, tag := range e.Tags {
			if strings.Contains(strings.ToLower(tag), q) {
				return true
			}
		}

		return false
	})
}

// ByDomain returns listable entries declaring the given domain.
func (r *Registry) ByDomain(domain string) []ServerEntry {
	return r.collect(QueryOptions{}, func(e ServerEntry) bool {
		for _, d := range e.Domains {
			if strings.EqualFold(d, domain) {
				return true
			}
		}

		return false
	})
}

// ByTag returns listable entries carrying the given tag.
func (r *Registry) ByTag(tag string) []ServerEntry {
	return r.collect(QueryOptions{}, func(e ServerEntry) bool {
		for _, t := range e.Tags {
			if strings.EqualFold(t, tag) {
				return true
			}
		}

		return false
	})
}

func (r *Registry) collect(opts QueryOptions, match func(ServerEntry) bool) []ServerEntry {
	r.mu.RLock()

	out := make([]ServerEntry, 0, len(r.entries))

	for _, e := range r.entries {
		if e.Visibility == VisibilityHidden && !opts.IncludeHidden {
			continue
		}

		if match(e) {
			out = append(out, e.Clone())
		}
	}

	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}

		return out[i].ID < out[j].ID
	})

	return out
}
