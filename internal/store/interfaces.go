package store

import (
	"context"
	"time"
)

// SearchStore persists searches and their status transitions.
type SearchStore interface {
	// Submit validates params and inserts a new search with status
	// waiting. It returns ErrValidation before any row is created when
	// region or business type is empty or max results is not positive.
	Submit(ctx context.Context, params SearchParams) (int64, error)

	// GetByID returns a search or ErrNotFound.
	GetByID(ctx context.Context, id int64) (Search, error)

	// StatusSummary returns the search plus its leads, for status polls.
	StatusSummary(ctx context.Context, id int64) (SearchSummary, error)

	// List returns every search, newest first.
	List(ctx context.Context) ([]Search, error)

	// MarkProcessing transitions a claimed search to processing.
	MarkProcessing(ctx context.Context, id int64) error

	// MarkCompleted atomically inserts the leads and transitions the
	// search to concluido. Either the whole lead set and the status
	// commit together or neither does. Leads whose phone number already
	// exists are deduplicated, not overwritten. A row that is no longer
	// in processing is left untouched and ErrStaleClaim is returned.
	MarkCompleted(ctx context.Context, id int64, leads []Lead) error

	// MarkError transitions the search to error and records the message.
	// Like MarkCompleted, it never overwrites a state another worker
	// already committed; ErrStaleClaim reports the lost race.
	MarkError(ctx context.Context, id int64, message string) error

	// QueueStats reports per-status counts and the next waiting searches.
	QueueStats(ctx context.Context) (QueueStats, error)
}

// Dequeuer claims waiting searches for exclusive processing.
type Dequeuer interface {
	// ClaimNext claims up to limit waiting searches in strict submission
	// order and marks them processing, all inside one transaction. Rows
	// locked by a concurrent claimer are skipped, never returned twice.
	ClaimNext(ctx context.Context, limit int) ([]Search, error)

	// ReclaimStale moves processing rows older than the cutoff back to
	// waiting and returns how many were moved. Used by the opt-in
	// stuck-job sweep; terminal rows are never touched.
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// CampaignStore persists campaigns and their aggregate status.
type CampaignStore interface {
	Create(ctx context.Context, nome string) (Campaign, error)
	GetByID(ctx context.Context, id int64) (Campaign, error)

	// RefreshStatuses recomputes the aggregate status of every
	// non-cancelled campaign from its child searches.
	RefreshStatuses(ctx context.Context) error
}

// KeyStore persists API keys. Plaintext secrets never reach this layer.
type KeyStore interface {
	Insert(ctx context.Context, key APIKey) (APIKey, error)
	LookupByHash(ctx context.Context, keyHash string) (APIKey, error)
	TouchUsage(ctx context.Context, id int64) error
	Revoke(ctx context.Context, id int64) error
	List(ctx context.Context) ([]APIKey, error)
	Count(ctx context.Context) (int, error)
}
