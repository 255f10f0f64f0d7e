package shadow

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"tadeval/internal/evalerr"
)

// WithShadow runs fn with the shadow values loaded into model and puts the
// live values back afterwards.
//
// Only parameters whose kind is transferable in both snapshots are swapped.
// Shared keys with different shapes abort with a StateMismatchError before
// anything is loaded or fn runs. The live values are restored when fn
// returns, fails, observes cancellation or panics; a panic is re-raised once
// the restore has been attempted. A failed restore is joined with fn's error.
//
// The caller must be the only writer to model for the whole call.
func WithShadow(ctx context.Context, model Model, shadow Snapshot, fn func(context.Context) error) (err error) {
	if model == nil {
		return fmt.Errorf("shadow swap: model is nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	live := model.Snapshot()
	swap, err := transferSet(live, shadow)
	if err != nil {
		return err
	}
	saved := make(Snapshot, len(swap))
	for name := range swap {
		saved[name] = live[name].Clone()
	}

	defer func() {
		restoreErr := model.Load(saved, LoadOptions{})
		if restoreErr != nil {
			restoreErr = fmt.Errorf("restore live parameters: %w", restoreErr)
		}
		if r := recover(); r != nil {
			if restoreErr != nil {
				panic(fmt.Sprintf("%v (and %v)", r, restoreErr))
			}
			panic(r)
		}
		if restoreErr != nil {
			err = errors.Join(err, restoreErr)
		}
	}()

	if err := model.Load(swap, LoadOptions{}); err != nil {
		return fmt.Errorf("load shadow parameters: %w", err)
	}
	return fn(ctx)
}

// transferSet returns deep copies of the shadow parameters that may replace
// live ones, after checking shapes of every shared transferable key.
func transferSet(live, shadow Snapshot) (Snapshot, error) {
	swap := make(Snapshot)
	for _, name := range shadow.Names() {
		s := shadow[name]
		l, ok := live[name]
		if !ok || !l.Kind.Transferable() || !s.Kind.Transferable() {
			continue
		}
		if !slices.Equal(l.Shape, s.Shape) || len(s.Values) != l.Size() {
			return nil, &evalerr.StateMismatchError{
				Param:       name,
				LiveShape:   slices.Clone(l.Shape),
				ShadowShape: slices.Clone(s.Shape),
			}
		}
		swap[name] = s.Clone()
	}
	return swap, nil
}
