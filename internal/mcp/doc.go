// Package mcp implements the client side of the Model Context Protocol:
// JSON-RPC 2.0 over HTTP POST against remote tool servers.
//
// # Overview
//
// Each remote MCP server is represented by one Client. The client sends
// tools/list, tools/call, resources/list and resources/read requests and
// normalizes the responses, including servers that wrap their JSON-RPC
// reply in a Server-Sent-Events body.
//
// # Transports
//
// HTTP is the only implemented transport. TransportStdio is declared as
// the extension point for process-spawning servers but has no
// implementation; the registry rejects descriptors that ask for it.
//
// # Errors
//
// Failures split into two families:
//
//   - TransportError: the HTTP layer failed (connection, timeout,
//     non-2xx status). Retriable in principle; this package never
//     retries on its own.
//   - ProtocolError: the server answered, but the JSON-RPC envelope was
//     empty, malformed, or carried an error member. Carries the remote
//     error code and a truncated copy of the raw body for diagnostics.
//
// This implementation covers the client/host side only; the backend
// does not act as an MCP server.
package mcp
