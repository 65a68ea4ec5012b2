// Package conn manages MCP client sessions for registry entries.
//
// A Manager holds at most one live session per server id. Sessions are
// created lazily on first use over the transport the registry entry
// declares (stdio subprocess, streamable HTTP, or SSE) and reused until
// they fail, the entry changes, or the manager is closed.
package conn
