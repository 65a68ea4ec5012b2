// Package orchestrator provides registry-driven discovery, invocation, and
// client generation for MCP servers.
//
// Instead of loading every server's full tool surface up front, the
// orchestrator exposes servers progressively: lightweight summaries for
// browsing, full descriptors on demand, and live tool schemas only when a
// server is actually used.
//
// # Basic Usage
//
// Open an orchestrator against a registry file, then browse and invoke:
//
//	ctx := context.Background()
//	orch, err := orchestrator.New(orchestrator.WithRegistryPath("registry.json"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer orch.Close()
//
//	for _, s := range orch.Summaries() {
//	    fmt.Printf("%s: %s\n", s.ID, s.Summary)
//	}
//
//	result, err := orch.Invoke(ctx, orchestrator.InvokeRequest{
//	    Server:    "weather",
//	    Tool:      "get-forecast",
//	    Arguments: map[string]any{"city": "Cape Town"},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(result.Text())
//
// # Progressive Disclosure
//
// Summaries carries no tool data and never opens a connection. Describe
// returns a server's full registry descriptor. Tools connects to the server
// (lazily, reusing sessions) and returns its live tool list, cached with a
// TTL. Invoke validates arguments against the tool's schema before any
// network call.
//
// # Policy and Auditing
//
// Every invocation passes a sensitivity gate before it reaches a server,
// and every outcome is recorded in the audit store. High-sensitivity
// servers require explicit per-call approval. See WithMaxSensitivity,
// WithPermissionCallback, and WithAuditStore.
package orchestrator
