// Package exec runs the tool invocation pipeline: resolve, gate, validate,
// call, normalize, audit.
package exec

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/oklog/ulid/v2"

	"github.com/secondsky/mcp-orchestrator/internal/audit"
	"github.com/secondsky/mcp-orchestrator/internal/catalog"
	"github.com/secondsky/mcp-orchestrator/internal/conn"
	"github.com/secondsky/mcp-orchestrator/internal/errors"
	"github.com/secondsky/mcp-orchestrator/internal/policy"
	"github.com/secondsky/mcp-orchestrator/internal/registry"
)

// DefaultCallTimeout bounds a single tools/call round trip.
const DefaultCallTimeout = 30 * time.Second

// InvokeRequest describes one tool call.
type InvokeRequest struct {
	// Server is the registry id of the target server.
	Server string
	// Tool is the tool name as exposed by the server.
	Tool string
	// Arguments are the tool arguments, validated against the tool's
	// input schema before anything is sent.
	Arguments map[string]any
	// Timeout overrides the executor's call timeout when positive.
	Timeout time.Duration
	// ApproveSensitive carries explicit approval for high-sensitivity
	// servers. The approval is audited.
	ApproveSensitive bool
}

// ContentBlock is a normalized piece of tool output.
type ContentBlock struct {
	// Type is "text", "image", "audio", "resource_link" or "resource".
	Type string `json:"type"`
	// Text holds text payloads.
	Text string `json:"text,omitempty"`
	// Data holds base64 payloads for image and audio blocks.
	Data string `json:"data,omitempty"`
	// MIMEType describes Data.
	MIMEType string `json:"mimeType,omitempty"`
	// URI points at linked or embedded resources.
	URI string `json:"uri,omitempty"`
}

// InvokeResult is a successful tool call.
type InvokeResult struct {
	// CallID is the ULID assigned to this call, also the audit row id.
	CallID string `json:"callId"`
	// Server and Tool echo the request.
	Server string `json:"server"`
	Tool   string `json:"tool"`
	// Content is the normalized tool output.
	Content []ContentBlock `json:"content"`
	// Duration is the wall-clock time of the call itself.
	Duration time.Duration `json:"duration"`
}

// Text concatenates all text blocks, newline-separated. Convenience for
// the common single-text-block case.
func (r *InvokeResult) Text() string {
	var out string

	for _, block := range r.Content {
		if block.Type != "text" {
			continue
		}

		if out != "" {
			out += "\n"
		}

		out += block.Text
	}

	return out
}

// Executor runs tool calls.
type Executor struct {
	log      *slog.Logger
	registry *registry.Registry
	catalog  *catalog.Catalog
	sessions conn.Provider
	gate     *policy.Gate
	store    audit.Store
	timeout  time.Duration

	now func() time.Time // test hook
}

// Options configure an Executor.
type Options struct {
	Logger      *slog.Logger
	Registry    *registry.Registry
	Catalog     *catalog.Catalog
	Sessions    conn.Provider
	Gate        *policy.Gate
	Audit       audit.Store
	CallTimeout time.Duration
}

// New creates an executor.
func New(opts Options) *Executor {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	store := opts.Audit
	if store == nil {
		store = audit.NopStore{}
	}

	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	return &Executor{
		log:      log.With("component", "executor"),
		registry: opts.Registry,
		catalog:  opts.Catalog,
		sessions: opts.Sessions,
		gate:     opts.Gate,
		store:    store,
		timeout:  timeout,
		now:      time.Now,
	}
}

// Invoke runs the full pipeline for one tool call.
func (e *Executor) Invoke(ctx context.Context, req InvokeRequest) (*InvokeResult, error) {
	callID := ulid.Make().String()

	entry, err := e.registry.Get(req.Server)
	if err != nil {
		return nil, err
	}

	argsJSON, _ := json.Marshal(req.Arguments)

	record := audit.Entry{
		ID:        callID,
		Kind:      audit.KindToolCall,
		Server:    req.Server,
		Tool:      req.Tool,
		Arguments: string(argsJSON),
		Approved:  req.ApproveSensitive,
	}

	if err := e.gate.Check(ctx, policy.Request{
		Server:           entry,
		Tool:             req.Tool,
		ApproveSensitive: req.ApproveSensitive,
	}); err != nil {
		e.audit(record, audit.OutcomeDenied, err.Error(), 0)

		return nil, err
	}

	tool, err := e.resolveTool(ctx, entry, req.Tool)
	if err != nil {
		e.audit(record, audit.OutcomeTransportError, err.Error(), 0)

		return nil, err
	}

	if tool == nil {
		tools, _ := e.catalog.Tools(ctx, entry.ID)
		available := make([]string, 0, len(tools))

		for _, t := range tools {
			available = append(available, t.Name)
		}

		notFound := &errors.ToolNotFoundError{Server: req.Server, Tool: req.Tool, Available: available}
		e.audit(record, audit.OutcomeInvalidArgs, notFound.Error(), 0)

		return nil, notFound
	}

	if err := validateArguments(tool, req.Arguments); err != nil {
		valErr := &errors.ValidationError{Server: req.Server, Tool: req.Tool, Err: err}
		e.audit(record, audit.OutcomeInvalidArgs, valErr.Error(), 0)

		return nil, valErr
	}

	client, err := e.sessions.Session(ctx, entry)
	if err != nil {
		e.audit(record, audit.OutcomeTransportError, err.Error(), 0)

		return nil, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.timeout
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := e.now()

	result, err := client.CallTool(callCtx, &mcp.CallToolParams{
		Name:      req.Tool,
		Arguments: req.Arguments,
	})

	elapsed := e.now().Sub(start)

	if err != nil {
		if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
			e.audit(record, audit.OutcomeCancelled, err.Error(), elapsed.Milliseconds())

			return nil, err
		}

		// A failed transport leaves the session in an unknown state.
		e.sessions.Evict(entry.ID)
		e.audit(record, audit.OutcomeTransportError, err.Error(), elapsed.Milliseconds())

		return nil, &errors.ConnectError{Server: req.Server, Err: fmt.Errorf("call tool %q: %w", req.Tool, err)}
	}

	content := normalizeContent(result.Content)

	if result.IsError {
		toolErr := &errors.ToolError{Server: req.Server, Tool: req.Tool, Text: textOf(content)}
		e.audit(record, audit.OutcomeToolError, toolErr.Text, elapsed.Milliseconds())

		return nil, toolErr
	}

	e.audit(record, audit.OutcomeOK, fmt.Sprintf("%d content blocks", len(content)), elapsed.Milliseconds())
	e.log.Info("tool call completed",
		"call_id", callID, "server", req.Server, "tool", req.Tool, "duration", elapsed)

	return &InvokeResult{
		CallID:   callID,
		Server:   req.Server,
		Tool:     req.Tool,
		Content:  content,
		Duration: elapsed,
	}, nil
}

// resolveTool finds the tool schema via the catalog. Returns (nil, nil)
// when the server is reachable but the tool does not exist.
func (e *Executor) resolveTool(ctx context.Context, entry registry.ServerEntry, name string) (*catalog.ToolInfo, error) {
	tools, err := e.catalog.Tools(ctx, entry.ID)
	if err != nil {
		return nil, err
	}

	for i := range tools {
		if tools[i].Name == name {
			return &tools[i], nil
		}
	}

	return nil, nil
}

// validateArguments checks args against the tool's input schema. Tools
// without a schema accept anything.
func validateArguments(tool *catalog.ToolInfo, args map[string]any) error {
	if tool.InputSchema == nil {
		return nil
	}

	resolved, err := tool.InputSchema.Resolve(nil)
	if err != nil {
		return fmt.Errorf("resolve input schema: %w", err)
	}

	if args == nil {
		args = map[string]any{}
	}

	return resolved.Validate(args)
}

func (e *Executor) audit(record audit.Entry, outcome audit.Outcome, detail string, durationMS int64) {
	record.Outcome = outcome
	record.Detail = detail
	record.Duration = durationMS
	record.CreatedAt = e.now()

	// Auditing is best-effort: a broken store must not mask the call result.
	if err := e.store.Record(context.Background(), record); err != nil {
		e.log.Error("audit write failed", "call_id", record.ID, "error", err)
	}
}

func normalizeContent(content []mcp.Content) []ContentBlock {
	out := make([]ContentBlock, 0, len(content))

	for _, c := range content {
		switch v := c.(type) {
		case *mcp.TextContent:
			out = append(out, ContentBlock{Type: "text", Text: v.Text})
		case *mcp.ImageContent:
			out = append(out, ContentBlock{
				Type:     "image",
				Data:     base64.StdEncoding.EncodeToString(v.Data),
				MIMEType: v.MIMEType,
			})
		case *mcp.AudioContent:
			out = append(out, ContentBlock{
				Type:     "audio",
				Data:     base64.StdEncoding.EncodeToString(v.Data),
				MIMEType: v.MIMEType,
			})
		case *mcp.ResourceLink:
			out = append(out, ContentBlock{Type: "resource_link", URI: v.URI})
		case *mcp.EmbeddedResource:
			if v.Resource != nil {
				out = append(out, ContentBlock{
					Type:     "resource",
					URI:      v.Resource.URI,
					MIMEType: v.Resource.MIMEType,
					Text:     v.Resource.Text,
				})
			}
		}
	}

	return out
}

func textOf(content []ContentBlock) string {
	for _, block := range content {
		if block.Type == "text" {
			return block.Text
		}
	}

	return "(no error text)"
}
