// Package tools sits between AI callers and the plugin registry. It
// enumerates a user's tools in function-calling form, executes batches
// of tool calls in parallel, and renders results for prompt injection.
//
// Tool names are namespaced as pluginName_toolName so one flat list can
// span every plugin a user has. The façade lazily loads enabled plugins
// from the store into the registry; a plugin that fails to load is
// skipped, never fatal.
package tools
