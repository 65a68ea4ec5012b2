package orchestrator

import "github.com/secondsky/mcp-orchestrator/internal/errors"

// Re-export error types from internal package

// OrchestratorError is the base interface for all orchestrator errors.
type OrchestratorError = errors.OrchestratorError

// RegistryError indicates an invalid registry file or entry.
type RegistryError = errors.RegistryError

// ServerNotFoundError indicates no registry entry matched the id.
type ServerNotFoundError = errors.ServerNotFoundError

// ToolNotFoundError indicates the server does not expose the tool.
type ToolNotFoundError = errors.ToolNotFoundError

// ValidationError indicates tool arguments failed schema validation.
type ValidationError = errors.ValidationError

// PolicyError indicates the call was blocked by the sensitivity gate or
// the permission callback.
type PolicyError = errors.PolicyError

// ConnectError indicates a session could not be established.
type ConnectError = errors.ConnectError

// ToolError indicates the server executed the tool and reported failure.
type ToolError = errors.ToolError

// InterpreterNotFoundError indicates the sandbox interpreter binary was
// not found.
type InterpreterNotFoundError = errors.InterpreterNotFoundError

// Re-export sentinel errors from internal package.
var (
	// ErrClosed indicates the orchestrator has been closed.
	ErrClosed = errors.ErrClosed

	// ErrSandboxDisabled indicates script execution is switched off.
	ErrSandboxDisabled = errors.ErrSandboxDisabled
)
