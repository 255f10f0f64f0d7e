// Package annotations reads and writes the annotation database and class map
// that describe an evaluation subset, and plans the window occurrences each
// video is evaluated as.
package annotations
