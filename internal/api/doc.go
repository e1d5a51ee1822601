// Package api exposes plugin management and tool invocation over HTTP.
//
// Handlers own the split the rest of the system relies on: the store
// holds descriptors and status, the registry holds live clients, and
// only this layer writes status back after registry operations. Every
// /api route is scoped to the authenticated user from the bearer token.
package api
