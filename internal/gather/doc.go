// Package gather merges per-worker detection mappings.
//
// Merge is the pure concatenation. LocalGroup gathers goroutine workers in
// one process; Coordinator and Client gather separate processes over
// JSON-RPC on a Unix socket. Both are barriers with no retry of their own:
// a rank that never arrives stalls its peers until their context ends.
package gather
