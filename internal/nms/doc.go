// Package nms selects candidates from a window's class score matrix and
// removes overlapping temporal segments with greedy hard or soft NMS.
package nms
