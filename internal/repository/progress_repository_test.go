package repository

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressRepositoryEnsure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	repo := NewProgressRepository(sqlx.NewDb(db, "sqlmock"))

	mock.ExpectExec("INSERT INTO progress").
		WithArgs(sqlmock.AnyArg(), "student-1", "course-1").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Ensure(context.Background(), "student-1", "course-1"))

	// Existing record: the conflict clause swallows the insert.
	mock.ExpectExec("INSERT INTO progress").
		WithArgs(sqlmock.AnyArg(), "student-1", "course-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Ensure(context.Background(), "student-1", "course-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
