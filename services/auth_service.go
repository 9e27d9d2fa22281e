package services

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/upb/storefront/backend/cognito"
	"github.com/upb/storefront/backend/models"
	"github.com/upb/storefront/backend/repositories"
	"github.com/upb/storefront/backend/utils"
)

// IdentityProvider is the subset of the Cognito user pool API the account flows use
type IdentityProvider interface {
	SignUp(ctx context.Context, username, password string, attributes map[string]string) (string, error)
	ConfirmSignUp(ctx context.Context, username, code string) error
	InitiateAuth(ctx context.Context, username, password string) (*cognito.AuthTokens, error)
}

// SignUpInput is the registration payload
type SignUpInput struct {
	Username    string `json:"username" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8,max=256"`
	Name        string `json:"name" validate:"required,max=255"`
	FamilyName  string `json:"family_name" validate:"required,max=255"`
	PhoneNumber string `json:"phone_number,omitempty" validate:"omitempty,e164"`
}

// VerifyInput confirms a registration with the emailed code
type VerifyInput struct {
	Username string `json:"username" validate:"required,email"`
	Code     string `json:"code" validate:"required,confirmation_code"`
}

// SignInInput exchanges credentials for tokens
type SignInInput struct {
	Username string `json:"username" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=256"`
}

// AuthService implements registration, confirmation and sign-in
type AuthService struct {
	identity IdentityProvider
	users    repositories.UserRepository
	logger   *zap.Logger
}

// NewAuthService creates a new auth service
func NewAuthService(identity IdentityProvider, users repositories.UserRepository, logger *zap.Logger) *AuthService {
	return &AuthService{
		identity: identity,
		users:    users,
		logger:   logger,
	}
}

// SignUp registers the account with the identity provider and stores the local user row
func (s *AuthService) SignUp(ctx context.Context, in SignUpInput) (*models.User, error) {
	in.Username = utils.NormalizeEmail(in.Username)
	if err := validateInput(in); err != nil {
		return nil, err
	}

	if _, err := s.users.GetByEmail(ctx, in.Username); err == nil {
		return nil, ErrDuplicateEmail
	} else if !errors.Is(err, repositories.ErrNotFound) {
		return nil, WrapInternal("failed to check existing user", err)
	}

	attributes := map[string]string{
		"email":       in.Username,
		"name":        in.Name,
		"family_name": in.FamilyName,
	}
	if in.PhoneNumber != "" {
		attributes["phone_number"] = in.PhoneNumber
	}

	userSub, err := s.identity.SignUp(ctx, in.Username, in.Password, attributes)
	if err != nil {
		return nil, s.mapIdentityError("sign up", err)
	}

	user := models.NewUser(userSub, in.Username, in.Name, in.FamilyName)
	user.PhoneNumber = in.PhoneNumber

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return nil, ErrDuplicateEmail
		}
		// The pool account exists without a local row from here on
		s.logger.Error("user registered with identity provider but not stored",
			zap.String("cognito_sub", userSub),
			zap.Error(err))
		return nil, WrapInternal("failed to store user", err)
	}

	s.logger.Info("user registered",
		zap.String("user_id", user.ID.String()),
		zap.String("cognito_sub", userSub))

	return user, nil
}

// Verify confirms the registration code and marks the local account valid
func (s *AuthService) Verify(ctx context.Context, in VerifyInput) error {
	in.Username = utils.NormalizeEmail(in.Username)
	if err := validateInput(in); err != nil {
		return err
	}

	if err := s.identity.ConfirmSignUp(ctx, in.Username, in.Code); err != nil {
		return s.mapIdentityError("confirm sign up", err)
	}

	if err := s.users.MarkValid(ctx, in.Username); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			// Confirmed upstream for an account this store never saw
			s.logger.Warn("confirmed account has no local user", zap.String("email", in.Username))
			return nil
		}
		return WrapInternal("failed to mark user valid", err)
	}

	s.logger.Info("user confirmed", zap.String("email", in.Username))
	return nil
}

// SignIn returns the identity provider's tokens for valid credentials
func (s *AuthService) SignIn(ctx context.Context, in SignInInput) (*cognito.AuthTokens, error) {
	in.Username = utils.NormalizeEmail(in.Username)
	if err := validateInput(in); err != nil {
		return nil, err
	}

	tokens, err := s.identity.InitiateAuth(ctx, in.Username, in.Password)
	if err != nil {
		return nil, s.mapIdentityError("sign in", err)
	}
	return tokens, nil
}

func (s *AuthService) mapIdentityError(op string, err error) error {
	switch {
	case cognito.IsIdentityErrorCode(err, cognito.CodeUsernameExists):
		return ErrDuplicateEmail
	case cognito.IsIdentityErrorCode(err, cognito.CodeNotAuthorized, cognito.CodeUserNotFound):
		return ErrInvalidCredentials
	case cognito.IsIdentityErrorCode(err, cognito.CodeUserNotConfirmed):
		return ErrUserNotConfirmed
	case cognito.IsIdentityErrorCode(err, cognito.CodeCodeMismatch, cognito.CodeExpiredCode):
		return ErrInvalidConfirmationCode
	case cognito.IsIdentityErrorCode(err, cognito.CodeInvalidPassword):
		return ErrInvalidPassword
	case cognito.IsIdentityErrorCode(err, cognito.CodeInvalidParameter):
		return WrapError(ErrorTypeValidation, ErrInvalidInput.Message, err)
	case errors.Is(err, cognito.ErrChallengeRequired):
		return ErrChallengeRequired
	}

	s.logger.Error("identity provider call failed", zap.String("operation", op), zap.Error(err))
	return WrapExternal(ErrIdentityProviderUnavailable.Message, err)
}

// validateInput runs struct validation and converts failures into a validation DomainError
func validateInput(in interface{}) error {
	if err := utils.ValidateStruct(in); err != nil {
		domainErr := NewDomainError(ErrorTypeValidation, ErrInvalidInput.Message, err)
		for field, msg := range utils.GetValidationFields(err) {
			domainErr.WithDetail(field, msg)
		}
		return domainErr
	}
	return nil
}
