// Package logs reads the tadeval log file for the CLI: the last N lines, then
// optionally every line appended afterwards.
//
// Reads use bounded memory regardless of file size. Follow polls rather than
// watching the file, so it works on any filesystem the log directory lives on.
package logs
