package evaluation

// Shard returns the samples owned by rank: every sample whose index modulo
// worldSize equals rank. Shards are disjoint and cover all samples, with no
// padding.
func Shard(samples []Sample, rank, worldSize int) []Sample {
	if worldSize <= 1 {
		return samples
	}
	out := make([]Sample, 0, len(samples)/worldSize+1)
	for i := rank; i < len(samples); i += worldSize {
		out = append(out, samples[i])
	}
	return out
}
