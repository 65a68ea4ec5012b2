package orchestrator

import (
	"github.com/secondsky/mcp-orchestrator/internal/audit"
	"github.com/secondsky/mcp-orchestrator/internal/catalog"
	"github.com/secondsky/mcp-orchestrator/internal/codegen"
	"github.com/secondsky/mcp-orchestrator/internal/exec"
	"github.com/secondsky/mcp-orchestrator/internal/policy"
	"github.com/secondsky/mcp-orchestrator/internal/registry"
	"github.com/secondsky/mcp-orchestrator/internal/sandbox"
)

// Re-export registry types so callers never import internal packages.

// ServerEntry is a registry entry describing one MCP server.
type ServerEntry = registry.ServerEntry

// Summary is the lightweight listing form of a ServerEntry.
type Summary = registry.Summary

// Transport describes how to reach a server.
type Transport = registry.Transport

// TransportKind selects stdio, http, or sse.
type TransportKind = registry.TransportKind

// Sensitivity classifies how dangerous a server's tools are.
type Sensitivity = registry.Sensitivity

// Visibility controls whether an entry appears in listings.
type Visibility = registry.Visibility

// QueryOptions tune listing and search calls.
type QueryOptions = registry.QueryOptions

// RegistryEvent describes a registry mutation delivered to watchers.
type RegistryEvent = registry.Event

// Transport kinds.
const (
	TransportStdio = registry.TransportStdio
	TransportHTTP  = registry.TransportHTTP
	TransportSSE   = registry.TransportSSE
)

// Sensitivity levels.
const (
	SensitivityLow    = registry.SensitivityLow
	SensitivityMedium = registry.SensitivityMedium
	SensitivityHigh   = registry.SensitivityHigh
)

// Visibility values.
const (
	VisibilityDefault = registry.VisibilityDefault
	VisibilityHidden  = registry.VisibilityHidden
)

// ToolInfo describes one tool exposed by a server.
type ToolInfo = catalog.ToolInfo

// ProbeResult reports one server's health from ProbeAll.
type ProbeResult = catalog.ProbeResult

// InvokeRequest names a server, a tool, and its arguments.
type InvokeRequest = exec.InvokeRequest

// InvokeResult is a successful tool call.
type InvokeResult = exec.InvokeResult

// ContentBlock is one normalized piece of tool output.
type ContentBlock = exec.ContentBlock

// Decision is the outcome of a permission callback.
type Decision = policy.Decision

// Permission decisions.
const (
	DecisionAllow = policy.DecisionAllow
	DecisionDeny  = policy.DecisionDeny
)

// PermissionRequest describes the call being gated.
type PermissionRequest = policy.Request

// PermissionCallback is consulted for every gated call when configured.
type PermissionCallback = policy.Callback

// AuditStore persists execution records.
type AuditStore = audit.Store

// AuditEntry is a single audit record.
type AuditEntry = audit.Entry

// AuditFilter narrows audit listings.
type AuditFilter = audit.Filter

// Outcome classifies how an execution ended.
type Outcome = audit.Outcome

// Audit outcomes.
const (
	OutcomeOK             = audit.OutcomeOK
	OutcomeToolError      = audit.OutcomeToolError
	OutcomeInvalidArgs    = audit.OutcomeInvalidArgs
	OutcomeDenied         = audit.OutcomeDenied
	OutcomeTransportError = audit.OutcomeTransportError
	OutcomeCancelled      = audit.OutcomeCancelled
)

// SandboxSettings configure script execution.
type SandboxSettings = sandbox.Settings

// RunResult reports a sandboxed script run.
type RunResult = sandbox.RunResult

// GenerateOptions tune client module generation.
type GenerateOptions = codegen.Options

// Manifest is the machine-readable form of a server's tools.
type Manifest = codegen.Manifest
