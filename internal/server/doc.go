// Package server wires the process together: it builds the store, the
// plugin registry, the tool façade, and the HTTP API from configuration,
// then owns their lifecycles.
//
// Run serves HTTP until the context is canceled. Shutdown drains
// in-flight requests, tears down every live plugin client through the
// registry, and closes the store. Shutdown is safe to call more than
// once; later calls find nothing left to stop.
package server
