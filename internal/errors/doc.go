// Package errors defines the error types returned by the orchestrator.
//
// All typed errors implement the OrchestratorError marker interface so
// callers can distinguish orchestrator failures from plumbing errors.
package errors
