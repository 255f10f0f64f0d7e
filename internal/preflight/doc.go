// Package preflight provides readiness checks for the inputs and filesystem
// paths an evaluation run depends on.
//
// These checks run in two contexts:
//   - The evaluate command calls RunAll before loading anything. If any
//     required check fails, the run stops before a worker starts, so a
//     typo in a path never costs a full forward pass.
//   - The CLI "tadeval preflight" command prints every result.
//
// Checks that only matter for a configured feature (shadow weights, raw
// prediction replay, multi-process gather) are skipped when it is off.
package preflight
