package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/starsorty/starsorty-api/internal/domain"
	"github.com/starsorty/starsorty-api/internal/platform/logger"
	"github.com/starsorty/starsorty-api/internal/store"
)

// repoColumns is the select list shared by every read query.
const repoColumns = `
	full_name, name, description, language, topics, readme_summary, starred_at,
	category, subcategory, tag_ids, ai_confidence, ai_provider, ai_model,
	decision_source, decision_reason,
	manual_category, manual_subcategory, manual_tag_ids,
	classify_fail_count, classified_at`

// classifyEligible is the predicate shared by SelectForClassification and
// CountForClassification. Manually overridden records are never eligible,
// force or not: an operator's category wins over any automated pass. The
// fail-count cap keeps permanently failing records from wedging runs.
const classifyEligible = `($1 OR category = '')
	  AND NULLIF(manual_category, '') IS NULL
	  AND classify_fail_count < $2`

// PostgresRepoStore implements the store.RepoStore interface using PostgreSQL.
// Records whose fail counter has reached failCountCap are excluded from
// selection until an operator resets them.
type PostgresRepoStore struct {
	db           store.DBTX
	failCountCap int
}

// NewPostgresRepoStore creates a new PostgresRepoStore.
func NewPostgresRepoStore(db store.DBTX, failCountCap int) *PostgresRepoStore {
	return &PostgresRepoStore{
		db:           db,
		failCountCap: failCountCap,
	}
}

// SelectForClassification returns up to limit eligible records, newest
// starred first. force widens eligibility to every record except those with
// a manual override; the fail-count cap still applies so permanently
// failing records cannot wedge a run.
func (s *PostgresRepoStore) SelectForClassification(ctx context.Context, limit int, force bool) ([]domain.Repo, error) {
	log := logger.FromContext(ctx)

	query := `SELECT` + repoColumns + `
		FROM repos
		WHERE ` + classifyEligible + `
		ORDER BY starred_at DESC NULLS LAST, full_name ASC`
	args := []any{force, s.failCountCap}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to select records for classification", "error", err)
		return nil, MapError(fmt.Errorf("failed to select records for classification: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var repos []domain.Repo
	for rows.Next() {
		repo, err := scanRepo(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, *repo)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(fmt.Errorf("error iterating repo rows: %w", err))
	}
	return repos, nil
}

// CountForClassification returns how many records are eligible under the
// same predicate as SelectForClassification.
func (s *PostgresRepoStore) CountForClassification(ctx context.Context, force bool) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM repos WHERE `+classifyEligible,
		force, s.failCountCap,
	).Scan(&count)
	if err != nil {
		return 0, MapError(fmt.Errorf("failed to count eligible records: %w", err))
	}
	return count, nil
}

// CountUnclassified returns the number of records without a category.
func (s *PostgresRepoStore) CountUnclassified(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM repos WHERE category = ''`,
	).Scan(&count)
	if err != nil {
		return 0, MapError(fmt.Errorf("failed to count unclassified records: %w", err))
	}
	return count, nil
}

// GetRepo fetches a single record by its full name.
func (s *PostgresRepoStore) GetRepo(ctx context.Context, fullName string) (*domain.Repo, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT`+repoColumns+` FROM repos WHERE full_name = $1`, fullName)

	repo, err := scanRepo(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrRepoNotFound
		}
		return nil, err
	}
	return repo, nil
}

// UpdateClassification writes the decision fields for one record, stamps
// classified_at and zeroes the fail counter.
func (s *PostgresRepoStore) UpdateClassification(ctx context.Context, fullName string, decision *domain.Decision) error {
	log := logger.FromContext(ctx)

	tagIDs, err := marshalStrings(decision.Result.TagIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal tag ids: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE repos
		SET category = $1,
		    subcategory = $2,
		    tag_ids = $3,
		    ai_confidence = $4,
		    ai_provider = $5,
		    ai_model = $6,
		    decision_source = $7,
		    decision_reason = $8,
		    classify_fail_count = 0,
		    classified_at = $9
		WHERE full_name = $10`,
		decision.Result.Category,
		decision.Result.Subcategory,
		tagIDs,
		decision.Result.Confidence,
		decision.Result.Provider,
		decision.Result.Model,
		string(decision.Source),
		decision.Reason,
		time.Now().UTC(),
		fullName,
	)
	if err != nil {
		log.Error("failed to update classification",
			"full_name", fullName,
			"error", err)
		return MapError(fmt.Errorf("failed to update classification: %w", err))
	}
	if err := CheckRowsAffected(result, "repo"); err != nil {
		return err
	}
	return nil
}

// IncrementFailCount adds one failed attempt to each named record.
func (s *PostgresRepoStore) IncrementFailCount(ctx context.Context, fullNames []string) error {
	if len(fullNames) == 0 {
		return nil
	}

	placeholders := make([]string, len(fullNames))
	args := make([]any, len(fullNames))
	for i, name := range fullNames {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = name
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE repos SET classify_fail_count = classify_fail_count + 1
		 WHERE full_name IN (`+strings.Join(placeholders, ", ")+`)`,
		args...,
	)
	if err != nil {
		return MapError(fmt.Errorf("failed to increment fail count: %w", err))
	}
	return nil
}

// ListFailed returns records with at least minFailCount failed attempts,
// worst offenders first.
func (s *PostgresRepoStore) ListFailed(ctx context.Context, minFailCount int) ([]domain.Repo, error) {
	if minFailCount < 1 {
		minFailCount = 1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT`+repoColumns+`
		 FROM repos
		 WHERE classify_fail_count >= $1
		 ORDER BY classify_fail_count DESC, full_name ASC`,
		minFailCount,
	)
	if err != nil {
		return nil, MapError(fmt.Errorf("failed to list failed records: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var repos []domain.Repo
	for rows.Next() {
		repo, err := scanRepo(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, *repo)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(fmt.Errorf("error iterating repo rows: %w", err))
	}
	return repos, nil
}

// ResetFailCount zeroes the fail counter for the named records, or for
// every record with a non-zero counter when fullNames is empty.
func (s *PostgresRepoStore) ResetFailCount(ctx context.Context, fullNames []string) (int, error) {
	var (
		result sql.Result
		err    error
	)
	if len(fullNames) == 0 {
		result, err = s.db.ExecContext(ctx,
			`UPDATE repos SET classify_fail_count = 0 WHERE classify_fail_count > 0`)
	} else {
		placeholders := make([]string, len(fullNames))
		args := make([]any, len(fullNames))
		for i, name := range fullNames {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
			args[i] = name
		}
		result, err = s.db.ExecContext(ctx,
			`UPDATE repos SET classify_fail_count = 0
			 WHERE classify_fail_count > 0
			   AND full_name IN (`+strings.Join(placeholders, ", ")+`)`,
			args...,
		)
	}
	if err != nil {
		return 0, MapError(fmt.Errorf("failed to reset fail counts: %w", err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(affected), nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRepo reads one repo row. topics and tag id columns are JSONB.
func scanRepo(row rowScanner) (*domain.Repo, error) {
	var (
		repo         domain.Repo
		topics       []byte
		tagIDs       []byte
		manualTagIDs []byte
		starredAt    sql.NullTime
		classifiedAt sql.NullTime
	)

	err := row.Scan(
		&repo.FullName,
		&repo.Name,
		&repo.Description,
		&repo.Language,
		&topics,
		&repo.ReadmeSummary,
		&starredAt,
		&repo.Category,
		&repo.Subcategory,
		&tagIDs,
		&repo.AIConfidence,
		&repo.AIProvider,
		&repo.AIModel,
		&repo.DecisionSource,
		&repo.DecisionReason,
		&repo.ManualCategory,
		&repo.ManualSubcategory,
		&manualTagIDs,
		&repo.ClassifyFailCount,
		&classifiedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, MapError(fmt.Errorf("failed to scan repo row: %w", err))
	}

	if err := unmarshalStrings(topics, &repo.Topics); err != nil {
		return nil, fmt.Errorf("failed to decode topics for %s: %w", repo.FullName, err)
	}
	if err := unmarshalStrings(tagIDs, &repo.TagIDs); err != nil {
		return nil, fmt.Errorf("failed to decode tag ids for %s: %w", repo.FullName, err)
	}
	if err := unmarshalStrings(manualTagIDs, &repo.ManualTagIDs); err != nil {
		return nil, fmt.Errorf("failed to decode manual tag ids for %s: %w", repo.FullName, err)
	}
	if starredAt.Valid {
		repo.StarredAt = starredAt.Time
	}
	if classifiedAt.Valid {
		t := classifiedAt.Time
		repo.ClassifiedAt = &t
	}
	return &repo, nil
}

func marshalStrings(values []string) ([]byte, error) {
	if values == nil {
		values = []string{}
	}
	return json.Marshal(values)
}

func unmarshalStrings(raw []byte, dest *[]string) error {
	if len(raw) == 0 {
		*dest = nil
		return nil
	}
	return json.Unmarshal(raw, dest)
}
