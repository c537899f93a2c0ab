package cache

import (
	"context"
	"time"
)

// ReportCache stores read-only report payloads. Purge drops every entry and
// is called after each committed ledger mutation.
//
// Get resolves key against the cache state at lookup time and returns it as
// an Entry; Set writes under that same Entry. A report computed across a
// Purge is therefore stored where no later Get will find it.
type ReportCache interface {
	Get(ctx context.Context, key string, dest any) (Entry, bool, error)
	Set(ctx context.Context, entry Entry, value any, ttl time.Duration) error
	Purge(ctx context.Context) error
}

// Entry is a report key pinned to one cache generation.
type Entry struct {
	Key        string
	Generation int64
}

type NoopReportCache struct{}

func (NoopReportCache) Get(_ context.Context, key string, _ any) (Entry, bool, error) {
	return Entry{Key: key}, false, nil
}

func (NoopReportCache) Set(_ context.Context, _ Entry, _ any, _ time.Duration) error {
	return nil
}

func (NoopReportCache) Purge(_ context.Context) error {
	return nil
}
