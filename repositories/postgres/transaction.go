package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/upb/storefront/backend/repositories"
)

// Querier is satisfied by both *sql.DB and *sql.Tx
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TransactionManager implements repositories.TransactionManager over *sql.Tx.
// Transactions run at READ COMMITTED.
type TransactionManager struct {
	db     *DB
	opts   *sql.TxOptions
	logger *zap.Logger
}

// NewTransactionManager creates a new transaction manager
func NewTransactionManager(db *DB, logger *zap.Logger) repositories.TransactionManager {
	return &TransactionManager{
		db:     db,
		opts:   &sql.TxOptions{Isolation: sql.LevelReadCommitted},
		logger: logger,
	}
}

// Begin starts a new transaction
func (tm *TransactionManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	sqlTx, err := tm.db.BeginTx(ctx, tm.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &Transaction{
		tx:      sqlTx,
		started: time.Now(),
		logger:  tm.logger,
	}, nil
}

// Transaction wraps *sql.Tx. Repositories join it through WithTx.
// Once Commit or Rollback has run, Rollback is a no-op and Commit fails with sql.ErrTxDone.
type Transaction struct {
	tx      *sql.Tx
	started time.Time
	logger  *zap.Logger

	mu   sync.Mutex
	done bool
}

// Commit commits the transaction
func (t *Transaction) Commit() error {
	return t.finish("commit", t.tx.Commit)
}

// Rollback rolls back the transaction
func (t *Transaction) Rollback() error {
	return t.finish("rollback", t.tx.Rollback)
}

func (t *Transaction) finish(op string, end func() error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		if op == "commit" {
			return fmt.Errorf("failed to commit transaction: %w", sql.ErrTxDone)
		}
		return nil
	}

	err := end()
	if err != nil && !(op == "rollback" && errors.Is(err, sql.ErrTxDone)) {
		return fmt.Errorf("failed to %s transaction: %w", op, err)
	}
	t.done = true

	t.logger.Debug("transaction finished",
		zap.String("op", op),
		zap.Duration("duration", time.Since(t.started)))
	return nil
}
