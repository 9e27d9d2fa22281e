package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTransactionManager_Begin(t *testing.T) {
	t.Run("commit", func(t *testing.T) {
		db, mock := newMockDB(t)
		txMgr := NewTransactionManager(db, zap.NewNop())

		mock.ExpectBegin()
		mock.ExpectCommit()

		tx, err := txMgr.Begin(context.Background())
		require.NoError(t, err)
		require.NoError(t, tx.Commit())

		// Finished transactions cannot be committed again, and rollback is a no-op
		assert.ErrorIs(t, tx.Commit(), sql.ErrTxDone)
		assert.NoError(t, tx.Rollback())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rollback", func(t *testing.T) {
		db, mock := newMockDB(t)
		txMgr := NewTransactionManager(db, zap.NewNop())

		mock.ExpectBegin()
		mock.ExpectRollback()

		tx, err := txMgr.Begin(context.Background())
		require.NoError(t, err)
		require.NoError(t, tx.Rollback())
		assert.NoError(t, tx.Rollback())
		assert.ErrorIs(t, tx.Commit(), sql.ErrTxDone)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("commit failure", func(t *testing.T) {
		db, mock := newMockDB(t)
		txMgr := NewTransactionManager(db, zap.NewNop())

		mock.ExpectBegin()
		mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

		tx, err := txMgr.Begin(context.Background())
		require.NoError(t, err)
		assert.ErrorContains(t, tx.Commit(), "failed to commit transaction")
	})

	t.Run("begin failure", func(t *testing.T) {
		db, mock := newMockDB(t)
		txMgr := NewTransactionManager(db, zap.NewNop())

		mock.ExpectBegin().WillReturnError(errors.New("pool exhausted"))

		tx, err := txMgr.Begin(context.Background())
		assert.Nil(t, tx)
		assert.ErrorContains(t, err, "failed to begin transaction")
	})
}

func TestDB_HealthAndSchema(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer sqlDB.Close()
	db := WrapDB(sqlDB, zap.NewNop())

	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	assert.NoError(t, db.HealthCheck(context.Background()))

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS users")).WillReturnResult(sqlmock.NewResult(0, 0))
	assert.NoError(t, db.InitSchema(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("down"))
	assert.ErrorContains(t, db.HealthCheck(context.Background()), "database health check failed")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryFactory(t *testing.T) {
	db, _ := newMockDB(t)
	factory := NewRepositoryFactoryFromDB(db, zap.NewNop())

	repos := factory.NewRepositories()
	assert.NotNil(t, repos.Users)
	assert.NotNil(t, factory.GetTransactionManager())
	assert.Same(t, db, factory.GetDB())
}
