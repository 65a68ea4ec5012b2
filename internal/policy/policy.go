// Package policy gates tool calls on server sensitivity and an optional
// permission callback.
package policy

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/secondsky/mcp-orchestrator/internal/errors"
	"github.com/secondsky/mcp-orchestrator/internal/registry"
)

// Decision is the outcome of a permission callback.
type Decision string

const (
	// DecisionAllow permits the call.
	DecisionAllow Decision = "allow"
	// DecisionDeny blocks the call.
	DecisionDeny Decision = "deny"
)

// Request describes the call being gated.
type Request struct {
	// Server is the registry entry the call targets.
	Server registry.ServerEntry
	// Tool is the tool name, empty for non-tool operations (codegen, probe).
	Tool string
	// ApproveSensitive marks the caller's explicit approval for a
	// high-sensitivity server.
	ApproveSensitive bool
}

// Callback is consulted for every gated call when configured.
// Returning DecisionDeny blocks the call; any error blocks it too.
type Callback func(ctx context.Context, req Request) (Decision, error)

// Gate enforces the sensitivity ceiling and the permission callback.
type Gate struct {
	log      *slog.Logger
	max      registry.Sensitivity
	callback Callback
}

// New creates a gate. An empty max sensitivity defaults to medium.
func New(log *slog.Logger, max registry.Sensitivity, callback Callback) *Gate {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if max == "" {
		max = registry.SensitivityMedium
	}

	return &Gate{
		log:      log.With("component", "policy"),
		max:      max,
		callback: callback,
	}
}

// Check returns nil when the call may proceed and a *PolicyError otherwise.
//
// A server above the sensitivity ceiling is blocked unless the request
// carries explicit approval. The callback, when set, runs after the
// sensitivity check and can still deny an otherwise-allowed call.
func (g *Gate) Check(ctx context.Context, req Request) error {
	entry := req.Server

	if entry.Sensitivity.Rank() > g.max.Rank() && !req.ApproveSensitive {
		g.log.Warn("call blocked by sensitivity policy",
			"server", entry.ID, "sensitivity", string(entry.Sensitivity), "max", string(g.max))

		return &errors.PolicyError{
			Server:      entry.ID,
			Sensitivity: string(entry.Sensitivity),
			Reason:      fmt.Sprintf("exceeds max sensitivity %s; set ApproveSensitive to override", g.max),
		}
	}

	if g.callback == nil {
		return nil
	}

	decision, err := g.callback(ctx, req)
	if err != nil {
		return &errors.PolicyError{
			Server:      entry.ID,
			Sensitivity: string(entry.Sensitivity),
			Reason:      fmt.Sprintf("permission callback failed: %v", err),
		}
	}

	if decision != DecisionAllow {
		g.log.Info("call denied by permission callback", "server", entry.ID, "tool", req.Tool)

		return &errors.PolicyError{
			Server:      entry.ID,
			Sensitivity: string(entry.Sensitivity),
			Reason:      "denied by permission callback",
		}
	}

	return nil
}
