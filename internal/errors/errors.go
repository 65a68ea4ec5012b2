package errors

import (
	"errors"
	"fmt"
	"strings"
)

// OrchestratorError is the base interface for all orchestrator errors.
type OrchestratorError interface {
	error
	IsOrchestratorError() bool
}

// Compile-time verification that all error types implement OrchestratorError.
var (
	_ OrchestratorError = (*RegistryError)(nil)
	_ OrchestratorError = (*ServerNotFoundError)(nil)
	_ OrchestratorError = (*ToolNotFoundError)(nil)
	_ OrchestratorError = (*ValidationError)(nil)
	_ OrchestratorError = (*PolicyError)(nil)
	_ OrchestratorError = (*ConnectError)(nil)
	_ OrchestratorError = (*ToolError)(nil)
	_ OrchestratorError = (*InterpreterNotFoundError)(nil)
)

// Sentinel errors for commonly checked conditions.
var (
	// ErrClosed indicates the orchestrator has been closed and cannot be reused.
	ErrClosed = errors.New("orchestrator closed")

	// ErrSandboxDisabled indicates script execution was requested while the
	// sandbox is disabled, either by configuration or the environment kill switch.
	ErrSandboxDisabled = errors.New("sandbox disabled")
)

// RegistryError indicates the registry file or an entry in it is invalid.
type RegistryError struct {
	Path  string // registry file path, empty when parsing raw bytes
	Entry string // offending entry id, empty for file-level problems
	Field string // offending field, empty for file-level problems
	Err   error
}

func (e *RegistryError) Error() string {
	var b strings.Builder

	b.WriteString("invalid registry")

	if e.Path != "" {
		fmt.Fprintf(&b, " %q", e.Path)
	}

	if e.Entry != "" {
		fmt.Fprintf(&b, ": entry %q", e.Entry)
	}

	if e.Field != "" {
		fmt.Fprintf(&b, ": field %q", e.Field)
	}

	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}

	return b.String()
}

func (e *RegistryError) Unwrap() error {
	return e.Err
}

// IsOrchestratorError implements OrchestratorError.
func (e *RegistryError) IsOrchestratorError() bool { return true }

// ServerNotFoundError indicates no registry entry exists for the given id.
type ServerNotFoundError struct {
	ID string
}

func (e *ServerNotFoundError) Error() string {
	return fmt.Sprintf("server %q not found in registry", e.ID)
}

// IsOrchestratorError implements OrchestratorError.
func (e *ServerNotFoundError) IsOrchestratorError() bool { return true }

// ToolNotFoundError indicates the server does not expose the requested tool.
type ToolNotFoundError struct {
	Server    string
	Tool      string
	Available []string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool %q not found on server %q (available: %s)",
		e.Tool, e.Server, strings.Join(e.Available, ", "))
}

// IsOrchestratorError implements OrchestratorError.
func (e *ToolNotFoundError) IsOrchestratorError() bool { return true }

// ValidationError indicates tool arguments failed JSON schema validation.
// The call is rejected locally; nothing is sent to the server.
type ValidationError struct {
	Server string
	Tool   string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s/%s: %v", e.Server, e.Tool, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsOrchestratorError implements OrchestratorError.
func (e *ValidationError) IsOrchestratorError() bool { return true }

// PolicyError indicates a call was blocked by the sensitivity policy or a
// permission callback.
type PolicyError struct {
	Server      string
	Sensitivity string
	Reason      string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("call to server %q denied (sensitivity %s): %s",
		e.Server, e.Sensitivity, e.Reason)
}

// IsOrchestratorError implements OrchestratorError.
func (e *PolicyError) IsOrchestratorError() bool { return true }

// ConnectError indicates a session to an MCP server could not be established
// or died mid-call. Stderr holds captured subprocess stderr for stdio servers.
type ConnectError struct {
	Server string
	Stderr string
	Err    error
}

func (e *ConnectError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("connect to server %q: %v: %s", e.Server, e.Err, e.Stderr)
	}

	return fmt.Sprintf("connect to server %q: %v", e.Server, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// IsOrchestratorError implements OrchestratorError.
func (e *ConnectError) IsOrchestratorError() bool { return true }

// ToolError indicates the server executed the tool and reported a tool-level
// failure (the MCP isError flag). Text holds the error payload.
type ToolError struct {
	Server string
	Tool   string
	Text   string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s/%s failed: %s", e.Server, e.Tool, e.Text)
}

// IsOrchestratorError implements OrchestratorError.
func (e *ToolError) IsOrchestratorError() bool { return true }

// InterpreterNotFoundError indicates the sandbox interpreter binary was not found.
type InterpreterNotFoundError struct {
	Interpreter   string
	SearchedPaths []string
}

func (e *InterpreterNotFoundError) Error() string {
	return fmt.Sprintf("sandbox interpreter %q not found in: %v", e.Interpreter, e.SearchedPaths)
}

// IsOrchestratorError implements OrchestratorError.
func (e *InterpreterNotFoundError) IsOrchestratorError() bool { return true }
