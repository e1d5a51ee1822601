// Package store persists MCP plugin descriptors: which plugins each
// user has configured, how to reach them, and the last known outcome of
// talking to them.
//
// The store holds configuration and status only. Live client state
// belongs to the registry, which never reads or writes the store;
// callers update plugin status here after registry operations.
package store
