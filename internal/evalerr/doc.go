// Package evalerr defines the error taxonomy shared by the evaluation
// pipeline.
//
// Recoverable errors (ValidationError, SerializationError) are reported per
// detection or per field and joined with errors.Join so callers can enumerate
// warnings after a pass completes. Fatal errors (StateMismatchError,
// GatherTimeoutError) unwind to the top of the evaluation pass. Every typed
// error matches its exported sentinel through errors.Is.
package evalerr
