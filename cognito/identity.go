package cognito

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	targetPrefix    = "AWSCognitoIdentityProviderService."
	amzJSONType     = "application/x-amz-json-1.1"
	maxResponseBody = 1 << 20
)

// Cognito error codes the services layer distinguishes
const (
	CodeUsernameExists   = "UsernameExistsException"
	CodeNotAuthorized    = "NotAuthorizedException"
	CodeUserNotFound     = "UserNotFoundException"
	CodeUserNotConfirmed = "UserNotConfirmedException"
	CodeCodeMismatch     = "CodeMismatchException"
	CodeExpiredCode      = "ExpiredCodeException"
	CodeInvalidPassword  = "InvalidPasswordException"
	CodeInvalidParameter = "InvalidParameterException"
	CodeTooManyRequests  = "TooManyRequestsException"
)

// ErrChallengeRequired is returned when sign-in needs an extra challenge step
var ErrChallengeRequired = errors.New("authentication challenge required")

// IdentityError is an error payload returned by the Identity Provider API
type IdentityError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("cognito %s (status %d): %s", e.Code, e.StatusCode, e.Message)
}

// IsIdentityErrorCode reports whether err is an IdentityError with one of the codes
func IsIdentityErrorCode(err error, codes ...string) bool {
	var identityErr *IdentityError
	if !errors.As(err, &identityErr) {
		return false
	}
	for _, code := range codes {
		if identityErr.Code == code {
			return true
		}
	}
	return false
}

// AuthTokens contains the tokens issued by a successful sign-in
type AuthTokens struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// IdentityConfig holds configuration for IdentityClient
type IdentityConfig struct {
	Endpoint     string
	ClientID     string
	ClientSecret string
	HTTPTimeout  time.Duration
}

// IdentityClient calls the unauthenticated user-pool operations of the
// Cognito Identity Provider JSON API.
type IdentityClient struct {
	endpoint     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	logger       *zap.Logger
}

// NewIdentityClient creates a new Identity Provider client
func NewIdentityClient(cfg IdentityConfig, logger *zap.Logger) *IdentityClient {
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}

	return &IdentityClient{
		endpoint:     cfg.Endpoint,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
		logger: logger,
	}
}

type attributeType struct {
	Name  string `json:"Name"`
	Value string `json:"Value"`
}

type signUpInput struct {
	ClientID       string          `json:"ClientId"`
	Username       string          `json:"Username"`
	Password       string          `json:"Password"`
	SecretHash     string          `json:"SecretHash,omitempty"`
	UserAttributes []attributeType `json:"UserAttributes,omitempty"`
}

type signUpOutput struct {
	UserSub       string `json:"UserSub"`
	UserConfirmed bool   `json:"UserConfirmed"`
}

type confirmSignUpInput struct {
	ClientID         string `json:"ClientId"`
	Username         string `json:"Username"`
	ConfirmationCode string `json:"ConfirmationCode"`
	SecretHash       string `json:"SecretHash,omitempty"`
}

type initiateAuthInput struct {
	AuthFlow       string            `json:"AuthFlow"`
	ClientID       string            `json:"ClientId"`
	AuthParameters map[string]string `json:"AuthParameters"`
}

type initiateAuthOutput struct {
	ChallengeName        string `json:"ChallengeName"`
	AuthenticationResult *struct {
		AccessToken  string `json:"AccessToken"`
		IDToken      string `json:"IdToken"`
		RefreshToken string `json:"RefreshToken"`
		TokenType    string `json:"TokenType"`
		ExpiresIn    int    `json:"ExpiresIn"`
	} `json:"AuthenticationResult"`
}

// SignUp registers a user and returns the subject Cognito assigned to it
func (c *IdentityClient) SignUp(ctx context.Context, username, password string, attributes map[string]string) (string, error) {
	in := signUpInput{
		ClientID:       c.clientID,
		Username:       username,
		Password:       password,
		SecretHash:     c.SecretHash(username),
		UserAttributes: toAttributeList(attributes),
	}

	var out signUpOutput
	if err := c.call(ctx, "SignUp", in, &out); err != nil {
		return "", err
	}

	c.logger.Info("cognito user signed up",
		zap.String("user_sub", out.UserSub),
		zap.Bool("confirmed", out.UserConfirmed))

	return out.UserSub, nil
}

// ConfirmSignUp confirms a registration with the emailed code
func (c *IdentityClient) ConfirmSignUp(ctx context.Context, username, code string) error {
	in := confirmSignUpInput{
		ClientID:         c.clientID,
		Username:         username,
		ConfirmationCode: code,
		SecretHash:       c.SecretHash(username),
	}
	return c.call(ctx, "ConfirmSignUp", in, nil)
}

// InitiateAuth signs a user in with the USER_PASSWORD_AUTH flow
func (c *IdentityClient) InitiateAuth(ctx context.Context, username, password string) (*AuthTokens, error) {
	params := map[string]string{
		"USERNAME": username,
		"PASSWORD": password,
	}
	if hash := c.SecretHash(username); hash != "" {
		params["SECRET_HASH"] = hash
	}

	in := initiateAuthInput{
		AuthFlow:       "USER_PASSWORD_AUTH",
		ClientID:       c.clientID,
		AuthParameters: params,
	}

	var out initiateAuthOutput
	if err := c.call(ctx, "InitiateAuth", in, &out); err != nil {
		return nil, err
	}

	if out.AuthenticationResult == nil {
		return nil, fmt.Errorf("%w: %s", ErrChallengeRequired, out.ChallengeName)
	}

	result := out.AuthenticationResult
	return &AuthTokens{
		AccessToken:  result.AccessToken,
		IDToken:      result.IDToken,
		RefreshToken: result.RefreshToken,
		TokenType:    result.TokenType,
		ExpiresIn:    result.ExpiresIn,
	}, nil
}

// SecretHash computes base64(HMAC-SHA256(clientSecret, username+clientID)).
// It returns "" when the app client has no secret.
func (c *IdentityClient) SecretHash(username string) string {
	if c.clientSecret == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(c.clientSecret))
	mac.Write([]byte(username + c.clientID))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// call performs one JSON-RPC style request against the Identity Provider API
func (c *IdentityClient) call(ctx context.Context, operation string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", amzJSONType)
	req.Header.Set("X-Amz-Target", targetPrefix+operation)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cognito %s request failed: %w", operation, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", operation, err)
	}

	if resp.StatusCode != http.StatusOK {
		identityErr := decodeIdentityError(resp.StatusCode, respBody)
		c.logger.Warn("cognito request rejected",
			zap.String("operation", operation),
			zap.Int("status", resp.StatusCode),
			zap.String("code", identityErr.Code))
		return identityErr
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", operation, err)
	}
	return nil
}

func decodeIdentityError(status int, body []byte) *IdentityError {
	var payload struct {
		Type    string `json:"__type"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &payload)

	code := payload.Type
	if i := strings.LastIndex(code, "#"); i >= 0 {
		code = code[i+1:]
	}
	if code == "" {
		code = http.StatusText(status)
	}

	return &IdentityError{
		StatusCode: status,
		Code:       code,
		Message:    payload.Message,
	}
}

func toAttributeList(attributes map[string]string) []attributeType {
	if len(attributes) == 0 {
		return nil
	}
	names := make([]string, 0, len(attributes))
	for name := range attributes {
		names = append(names, name)
	}
	sort.Strings(names)

	list := make([]attributeType, 0, len(names))
	for _, name := range names {
		list = append(list, attributeType{Name: name, Value: attributes[name]})
	}
	return list
}
