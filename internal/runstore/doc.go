// Package runstore keeps the history of evaluation runs in a SQLite database
// under the work directory.
//
// A run moves from pending to running and ends as completed or failed.
// Completed runs record their result file, detection counts, the warnings
// raised along the way and a per-video breakdown. Writes retry while SQLite
// reports the database busy since several ranks may finish together.
package runstore
