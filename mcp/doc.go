// Package mcp contains the Model Context Protocol data types a client needs
// to talk to a server over the HTTP+SSE transport: method names, the
// initialize handshake, tool listing and invocation, and the general
// notifications (cancelled, progress, logging).
//
// The package holds no transport logic. Types are exported structs with
// json tags that match the wire representation.
//
// # Method Names
//
// JSON-RPC method and notification names are enumerated as Method constants
// (e.g. ToolsListMethod).
//
// # Pagination
//
// List operations use cursor-based pagination. PaginatedRequest and
// PaginatedResult are embedded in request / result envelopes.
//
// # Compatibility
//
// SSEProtocolVersion is what a client of the HTTP+SSE transport advertises
// during initialize. Servers may answer with a different revision; callers
// can inspect InitializeResult.ProtocolVersion to decide whether to proceed.
package mcp
