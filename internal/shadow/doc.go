// Package shadow swaps a model's live parameters for a shadow (EMA) copy for
// the duration of an evaluation pass.
//
// WithShadow is the only entry point that mutates a model. It checks shapes
// before touching anything and always puts the live values back, including
// when the evaluation panics. Parameters declare a ParamKind; quantization
// state and adapter-internal buffers are never swapped. LoadCheckpoint reads
// JSON checkpoints and classifies untyped parameters from older files by
// their quantization suffix.
package shadow
