package evalerr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation    = errors.New("validation error")
	ErrStateMismatch = errors.New("state mismatch")
	ErrGatherTimeout = errors.New("gather timeout")
	ErrSerialization = errors.New("serialization error")
	ErrConfiguration = errors.New("configuration error")
)

// ValidationError reports a malformed detection. The detection is dropped and
// processing continues.
type ValidationError struct {
	VideoKey string
	Index    int
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: video %q detection %d: %s", ErrValidation, e.VideoKey, e.Index, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// StateMismatchError reports a parameter whose shape differs between the live
// and shadow snapshots.
type StateMismatchError struct {
	Param       string
	LiveShape   []int
	ShadowShape []int
}

func (e *StateMismatchError) Error() string {
	return fmt.Sprintf("%s: parameter %q has shape %v in live model but %v in shadow snapshot",
		ErrStateMismatch, e.Param, e.LiveShape, e.ShadowShape)
}

func (e *StateMismatchError) Is(target error) bool { return target == ErrStateMismatch }

// GatherTimeoutError reports a collective that did not complete before the
// caller's context ended. Arrived is negative when the rank could not learn
// how many peers had arrived.
type GatherTimeoutError struct {
	Rank      int
	Arrived   int
	WorldSize int
	Err       error
}

func (e *GatherTimeoutError) Error() string {
	msg := fmt.Sprintf("%s: rank %d saw %d of %d workers arrive", ErrGatherTimeout, e.Rank, e.Arrived, e.WorldSize)
	if e.Arrived < 0 {
		msg = fmt.Sprintf("%s: rank %d gave up waiting for %d workers", ErrGatherTimeout, e.Rank, e.WorldSize)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GatherTimeoutError) Is(target error) bool { return target == ErrGatherTimeout }

func (e *GatherTimeoutError) Unwrap() error { return e.Err }

// SerializationError reports a result field that was omitted from the
// persisted document.
type SerializationError struct {
	VideoKey string
	Index    int
	Field    string
	Reason   string
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("%s: video %q detection %d field %s: %s", ErrSerialization, e.VideoKey, e.Index, e.Field, e.Reason)
}

func (e *SerializationError) Is(target error) bool { return target == ErrSerialization }

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrConfiguration
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Fatal reports whether err must abort the evaluation pass.
func Fatal(err error) bool {
	return errors.Is(err, ErrStateMismatch) || errors.Is(err, ErrGatherTimeout) || errors.Is(err, ErrConfiguration)
}

// Count returns how many errors in err's join tree match target.
func Count(err error, target error) int {
	if err == nil {
		return 0
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		total := 0
		for _, e := range joined.Unwrap() {
			total += Count(e, target)
		}
		return total
	}
	if errors.Is(err, target) {
		return 1
	}
	return 0
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "evaluation failure"
	}
	return strings.Join(parts, ": ")
}
