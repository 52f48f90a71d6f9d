package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/starsorty/starsorty-api/internal/store"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{
			name: "nil passes through",
			in:   nil,
			want: nil,
		},
		{
			name: "no rows becomes not found",
			in:   sql.ErrNoRows,
			want: store.ErrNotFound,
		},
		{
			name: "wrapped no rows becomes not found",
			in:   fmt.Errorf("query task: %w", sql.ErrNoRows),
			want: store.ErrNotFound,
		},
		{
			name: "unique violation becomes duplicate",
			in:   &pgconn.PgError{Code: "23505", ConstraintName: "tasks_pkey"},
			want: store.ErrDuplicate,
		},
		{
			name: "check violation becomes invalid entity",
			in:   &pgconn.PgError{Code: "23514", ConstraintName: "repos_classify_fail_count_check"},
			want: store.ErrInvalidEntity,
		},
		{
			name: "not null violation becomes invalid entity",
			in:   &pgconn.PgError{Code: "23502", ColumnName: "full_name"},
			want: store.ErrInvalidEntity,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := MapError(tc.in)
			if tc.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tc.want)
		})
	}
}

func TestMapErrorPassesThroughUnknownErrors(t *testing.T) {
	cause := errors.New("connection reset")
	assert.Equal(t, cause, MapError(cause))

	pgErr := &pgconn.PgError{Code: "40001"} // serialization failure
	assert.Equal(t, error(pgErr), MapError(pgErr))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23514"}))
	assert.False(t, IsUniqueViolation(errors.New("nope")))
}

func TestCheckRowsAffected(t *testing.T) {
	assert.NoError(t, CheckRowsAffected(fakeResult{rows: 1}, "task"))

	err := CheckRowsAffected(fakeResult{rows: 0}, "task")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Contains(t, err.Error(), "task")

	assert.ErrorIs(t, CheckRowsAffected(fakeResult{rows: 0}, ""), store.ErrNotFound)
	assert.Error(t, CheckRowsAffected(nil, "task"))
}

type fakeResult struct {
	rows int64
}

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.rows, nil }
