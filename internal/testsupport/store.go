package testsupport

import (
	"context"
	"testing"

	"tadeval/internal/config"
	"tadeval/internal/runstore"
)

// MustOpenStore opens a runstore.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *runstore.Store {
	t.Helper()

	store, err := runstore.Open(cfg)
	if err != nil {
		t.Fatalf("runstore.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewRun creates a pending run for tests using the provided store.
func NewRun(t testing.TB, store *runstore.Store, epoch int) *runstore.Run {
	t.Helper()

	run, err := store.Create(context.Background(), runstore.Spec{Epoch: epoch, WorldSize: 1})
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return run
}
