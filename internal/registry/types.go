package registry

import (
	"fmt"
	"net/url"

	"github.com/secondsky/mcp-orchestrator/internal/errors"
)

// TransportKind identifies how an MCP server is reached.
type TransportKind string

const (
	// TransportStdio spawns the server as a subprocess and speaks MCP over stdio.
	TransportStdio TransportKind = "stdio"
	// TransportHTTP uses the streamable HTTP transport.
	TransportHTTP TransportKind = "http"
	// TransportSSE uses the Server-Sent Events transport.
	TransportSSE TransportKind = "sse"
)

// Sensitivity classifies how dangerous a server's tools are.
type Sensitivity string

const (
	SensitivityLow    Sensitivity = "low"
	SensitivityMedium Sensitivity = "medium"
	SensitivityHigh   Sensitivity = "high"
)

// Rank returns an ordering value for sensitivity comparisons.
// Unknown values rank above high so they are never silently allowed.
func (s Sensitivity) Rank() int {
	switch s {
	case SensitivityLow:
		return 0
	case SensitivityMedium:
		return 1
	case SensitivityHigh:
		return 2
	default:
		return 3
	}
}

// Visibility controls whether an entry appears in listing queries.
type Visibility string

const (
	// VisibilityDefault entries appear in summaries and search results.
	VisibilityDefault Visibility = "default"
	// VisibilityHidden entries are resolvable by exact id but never listed.
	VisibilityHidden Visibility = "hidden"
)

// Transport describes how to reach a server. Exactly the fields for its
// Kind are meaningful.
type Transport struct {
	Kind TransportKind `json:"kind"`

	// Stdio transport.
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	// HTTP and SSE transports.
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// ServerEntry is a single registry record for an MCP server.
type ServerEntry struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Summary     string      `json:"summary"`
	Description string      `json:"description,omitempty"`
	Version     string      `json:"version,omitempty"`
	Transport   Transport   `json:"transport"`
	Domains     []string    `json:"domains,omitempty"`
	Tags        []string    `json:"tags,omitempty"`
	Sensitivity Sensitivity `json:"sensitivity,omitempty"`
	Visibility  Visibility  `json:"visibility,omitempty"`
	Priority    int         `json:"priority,omitempty"`
}

// Summary is the first disclosure level: just enough metadata to decide
// whether a server is worth describing in full.
type Summary struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Summary  string   `json:"summary"`
	Domains  []string `json:"domains,omitempty"`
	Priority int      `json:"priority,omitempty"`
}

// Summary returns the entry reduced to its first disclosure level.
func (e ServerEntry) Summarize() Summary {
	return Summary{
		ID:       e.ID,
		Title:    e.Title,
		Summary:  e.Summary,
		Domains:  append([]string(nil), e.Domains...),
		Priority: e.Priority,
	}
}

// Clone returns a deep copy of the entry so callers cannot mutate
// registry state through returned values.
func (e ServerEntry) Clone() ServerEntry {
	out := e
	out.Transport.Args = append([]string(nil), e.Transport.Args...)
	out.Transport.Env = cloneMap(e.Transport.Env)
	out.Transport.Headers = cloneMap(e.Transport.Headers)
	out.Domains = append([]string(nil), e.Domains...)
	out.Tags = append([]string(nil), e.Tags...)

	return out
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}

	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}

	return out
}

// normalize fills defaulted fields in place.
func (e *ServerEntry) normalize() {
	if e.Sensitivity == "" {
		e.Sensitivity = SensitivityMedium
	}

	if e.Visibility == "" {
		e.Visibility = VisibilityDefault
	}
}

// validate checks a single entry. The returned RegistryError carries the
// entry id and offending field.
func (e *ServerEntry) validate() error {
	fail := func(field, reason string) error {
		return &errors.RegistryError{
			Entry: e.ID,
			Field: field,
			Err:   fmt.Errorf("%s", reason),
		}
	}

	if e.ID == "" {
		return &errors.RegistryError{Field: "id", Err: fmt.Errorf("must not be empty")}
	}

	if e.Title == "" {
		return fail("title", "must not be empty")
	}

	if e.Summary == "" {
		return fail("summary", "must not be empty")
	}

	switch e.Sensitivity {
	case SensitivityLow, SensitivityMedium, SensitivityHigh:
	default:
		return fail("sensitivity", fmt.Sprintf("unknown value %q", e.Sensitivity))
	}

	switch e.Visibility {
	case VisibilityDefault, VisibilityHidden:
	default:
		return fail("visibility", fmt.Sprintf("unknown value %q", e.Visibility))
	}

	switch e.Transport.Kind {
	case TransportStdio:
		if e.Transport.Command == "" {
			return fail("transport.command", "required for stdio transport")
		}

	case TransportHTTP, TransportSSE:
		u, err := url.Parse(e.Transport.URL)
		if err != nil || !u.IsAbs() {
			return fail("transport.url", fmt.Sprintf("absolute URL required, got %q", e.Transport.URL))
		}

	default:
		return fail("transport.kind", fmt.Sprintf("unknown value %q", e.Transport.Kind))
	}

	return nil
}
