package store

import (
	"context"

	"github.com/starsorty/starsorty-api/internal/domain"
)

// RepoStore defines the persistence interface for starred repository
// records. Ingestion (creating records) belongs to the sync collaborator;
// this core only selects eligible records and writes decision fields.
type RepoStore interface {
	// SelectForClassification returns up to limit records eligible for
	// classification: unclassified records, or any record when force is
	// true. A limit <= 0 means no limit.
	SelectForClassification(ctx context.Context, limit int, force bool) ([]domain.Repo, error)

	// CountForClassification returns how many records are currently
	// eligible under the same selection semantics.
	CountForClassification(ctx context.Context, force bool) (int, error)

	// CountUnclassified returns the number of records without a category.
	CountUnclassified(ctx context.Context) (int, error)

	// GetRepo fetches a single record by its full name.
	// Returns ErrRepoNotFound when it does not exist.
	GetRepo(ctx context.Context, fullName string) (*domain.Repo, error)

	// UpdateClassification writes the decision fields for one record and
	// resets its fail counter.
	UpdateClassification(ctx context.Context, fullName string, decision *domain.Decision) error

	// IncrementFailCount adds one failed attempt to each named record.
	IncrementFailCount(ctx context.Context, fullNames []string) error

	// ListFailed returns records whose fail counter is at least minFailCount,
	// ordered by fail count descending.
	ListFailed(ctx context.Context, minFailCount int) ([]domain.Repo, error)

	// ResetFailCount zeroes the fail counter. A nil or empty fullNames
	// resets every record with a non-zero counter. Returns the number of
	// records touched.
	ResetFailCount(ctx context.Context, fullNames []string) (int, error)
}
