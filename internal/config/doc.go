// Package config loads, normalizes, and validates tadeval configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// TADEVAL_WORK_DIR and the RANK/WORLD_SIZE pair set by distributed launchers.
// The sliding window flag is derived from the dataset kind and cannot be set
// by hand.
package config
