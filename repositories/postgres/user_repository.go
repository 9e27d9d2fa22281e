package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/storefront/backend/models"
	"github.com/upb/storefront/backend/repositories"
)

const userColumns = `id, cognito_sub, email, name, family_name, phone_number, role, is_valid, created_at, updated_at`

// UserRepository implements the repositories.UserRepository interface
type UserRepository struct {
	db     *DB
	tx     *sql.Tx
	logger *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB, logger *zap.Logger) repositories.UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

// executor returns the bound transaction, or the pool when there is none
func (r *UserRepository) executor() Querier {
	if r.tx != nil {
		return r.tx
	}
	return r.db.DB
}

// Create creates a new user
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.executor().ExecContext(ctx, query,
		user.ID,
		user.CognitoSub,
		user.Email,
		user.Name,
		user.FamilyName,
		nullString(user.PhoneNumber),
		user.Role,
		user.IsValid,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %s: %w", user.Email, repositories.ErrDuplicate)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	r.logger.Debug("user created", zap.String("id", user.ID.String()), zap.String("cognito_sub", user.CognitoSub))
	return nil
}

// GetByCognitoSub retrieves a user by Cognito sub
func (r *UserRepository) GetByCognitoSub(ctx context.Context, cognitoSub string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE cognito_sub = $1`
	return r.getOne(ctx, query, cognitoSub)
}

// GetByEmail retrieves a user by email
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return r.getOne(ctx, query, email)
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg interface{}) (*models.User, error) {
	user, err := scanUser(r.executor().QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %v: %w", arg, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// Update updates the profile fields of a user
func (r *UserRepository) Update(ctx context.Context, user *models.User) error {
	query := `
		UPDATE users
		SET name = $2,
		    family_name = $3,
		    phone_number = $4,
		    role = $5,
		    updated_at = $6
		WHERE id = $1
	`

	result, err := r.executor().ExecContext(ctx, query,
		user.ID,
		user.Name,
		user.FamilyName,
		nullString(user.PhoneNumber),
		user.Role,
		user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	if err := expectOneRow(result, user.ID); err != nil {
		return err
	}

	r.logger.Debug("user updated", zap.String("id", user.ID.String()))
	return nil
}

// MarkValid flags the account registered under email as confirmed
func (r *UserRepository) MarkValid(ctx context.Context, email string) error {
	query := `UPDATE users SET is_valid = TRUE, updated_at = NOW() WHERE email = $1`

	result, err := r.executor().ExecContext(ctx, query, email)
	if err != nil {
		return fmt.Errorf("failed to confirm user: %w", err)
	}

	return expectOneRow(result, email)
}

// Delete deletes a user
func (r *UserRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM users WHERE id = $1`

	result, err := r.executor().ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	if err := expectOneRow(result, id); err != nil {
		return err
	}

	r.logger.Debug("user deleted", zap.String("id", id.String()))
	return nil
}

// WithTx returns a new repository instance bound to the transaction
func (r *UserRepository) WithTx(tx repositories.Transaction) repositories.UserRepository {
	bound := &UserRepository{
		db:     r.db,
		logger: r.logger,
	}
	if pgTx, ok := tx.(*Transaction); ok {
		bound.tx = pgTx.tx
	}
	return bound
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*models.User, error) {
	user := &models.User{}
	var phone sql.NullString

	err := row.Scan(
		&user.ID,
		&user.CognitoSub,
		&user.Email,
		&user.Name,
		&user.FamilyName,
		&phone,
		&user.Role,
		&user.IsValid,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	user.PhoneNumber = phone.String
	return user, nil
}

func expectOneRow(result sql.Result, key interface{}) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user %v: %w", key, repositories.ErrNotFound)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
