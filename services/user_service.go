package services

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/upb/storefront/backend/models"
	"github.com/upb/storefront/backend/repositories"
)

// UpdateProfileInput carries the editable profile fields; nil leaves a field unchanged
type UpdateProfileInput struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	FamilyName  *string `json:"family_name,omitempty" validate:"omitempty,min=1,max=255"`
	PhoneNumber *string `json:"phone_number,omitempty" validate:"omitempty,e164"`
}

// UserService serves the authenticated account. Every operation is keyed by the
// verified principal's subject, never by a client supplied identifier.
type UserService struct {
	users  repositories.UserRepository
	txMgr  repositories.TransactionManager
	logger *zap.Logger
}

// NewUserService creates a new user service
func NewUserService(users repositories.UserRepository, txMgr repositories.TransactionManager, logger *zap.Logger) *UserService {
	return &UserService{
		users:  users,
		txMgr:  txMgr,
		logger: logger,
	}
}

// GetProfile loads the stored account of the principal
func (s *UserService) GetProfile(ctx context.Context, principal *models.Principal) (*models.User, error) {
	if principal == nil || principal.Subject == "" {
		return nil, ErrUnauthorized
	}
	return s.lookup(ctx, s.users, principal.Subject)
}

// UpdateProfile applies the non-nil fields of in to the principal's account
func (s *UserService) UpdateProfile(ctx context.Context, principal *models.Principal, in UpdateProfileInput) (*models.User, error) {
	if principal == nil || principal.Subject == "" {
		return nil, ErrUnauthorized
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}

	return WithTransactionResult(ctx, s.txMgr, func(ctx context.Context, tx repositories.Transaction) (*models.User, error) {
		users := s.users.WithTx(tx)

		user, err := s.lookup(ctx, users, principal.Subject)
		if err != nil {
			return nil, err
		}

		if in.Name != nil {
			user.Name = *in.Name
		}
		if in.FamilyName != nil {
			user.FamilyName = *in.FamilyName
		}
		if in.PhoneNumber != nil {
			user.PhoneNumber = *in.PhoneNumber
		}
		user.Touch()

		if err := users.Update(ctx, user); err != nil {
			return nil, WrapInternal("failed to update user", err)
		}

		s.logger.Info("profile updated", zap.String("user_id", user.ID.String()))
		return user, nil
	})
}

// DeleteAccount removes the principal's stored account
func (s *UserService) DeleteAccount(ctx context.Context, principal *models.Principal) error {
	if principal == nil || principal.Subject == "" {
		return ErrUnauthorized
	}

	return WithTransaction(ctx, s.txMgr, func(ctx context.Context, tx repositories.Transaction) error {
		users := s.users.WithTx(tx)

		user, err := s.lookup(ctx, users, principal.Subject)
		if err != nil {
			return err
		}

		if err := users.Delete(ctx, user.ID); err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return ErrUserNotFound
			}
			return WrapInternal("failed to delete user", err)
		}

		s.logger.Info("account deleted", zap.String("user_id", user.ID.String()))
		return nil
	})
}

func (s *UserService) lookup(ctx context.Context, users repositories.UserRepository, subject string) (*models.User, error) {
	user, err := users.GetByCognitoSub(ctx, subject)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, WrapInternal("failed to load user", err)
	}
	return user, nil
}
