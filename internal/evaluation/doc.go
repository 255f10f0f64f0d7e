// Package evaluation runs one evaluation epoch for a data-parallel worker.
//
// A pass shards the dataset by rank and forwards each batch through the
// detector. Every window's proposals are turned into candidates, mapped to
// seconds with that window's own metadata and accumulated per video. The
// workers then meet in a gather. Rank 0 suppresses overlapping windows,
// persists the results document and hands it to the evaluator.
//
// Detectors, datasets and evaluators are chosen through typed kinds parsed
// once from configuration.
package evaluation
