package routes

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/storefront/backend/app"
	"github.com/upb/storefront/backend/cognito"
	"github.com/upb/storefront/backend/config"
	"github.com/upb/storefront/backend/models"
	"github.com/upb/storefront/backend/repositories/postgres"
)

const (
	testKid      = "route-test-key"
	testClientID = "storefront-web"
)

type testServer struct {
	*httptest.Server
	deps       *app.Dependencies
	mock       sqlmock.Sqlmock
	privateKey *rsa.PrivateKey
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(cognito.JWKS{Keys: []cognito.JWK{{
			Kid: testKid,
			Kty: "RSA",
			Alg: "RS256",
			Use: "sig",
			N:   base64.RawURLEncoding.EncodeToString(privateKey.PublicKey.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(privateKey.PublicKey.E)).Bytes()),
		}}})
	}))
	t.Cleanup(jwks.Close)

	identity := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-amz-json-1.1")
		if r.Header.Get("X-Amz-Target") != "AWSCognitoIdentityProviderService.InitiateAuth" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"__type":"InvalidParameterException","message":"unexpected operation"}`)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"PASSWORD":"Passw0rd!"`) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"__type":"NotAuthorizedException","message":"Incorrect username or password."}`)
			return
		}
		_, _ = io.WriteString(w, `{"AuthenticationResult":{"AccessToken":"access","IdToken":"id","RefreshToken":"refresh","TokenType":"Bearer","ExpiresIn":3600}}`)
	}))
	t.Cleanup(identity.Close)

	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	cfg := &config.Config{
		Environment: "test",
		Server:      config.ServerConfig{RequestTimeout: 5 * time.Second},
		Cognito: config.CognitoConfig{
			Region:     "us-east-2",
			UserPoolID: "us-east-2_TEST",
			ClientID:   testClientID,
			JWKSURL:    jwks.URL,
			Endpoint:   identity.URL,
		},
		Auth: config.AuthConfig{
			KeyFetchTimeout:    time.Second,
			AcceptLegacyHeader: true,
		},
		CORS: config.CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}},
	}

	logger := zap.NewNop()
	factory := postgres.NewRepositoryFactoryFromDB(postgres.WrapDB(sqlDB, logger), logger)
	deps := app.Wire(cfg, factory, logger)

	ts := httptest.NewServer(SetupRoutes(deps))
	t.Cleanup(ts.Close)

	return &testServer{Server: ts, deps: deps, mock: mock, privateKey: privateKey}
}

func (s *testServer) loadKeys(t *testing.T) {
	require.NoError(t, s.deps.KeySet.Refresh(context.Background()))
}

func (s *testServer) token(t *testing.T, sub string, exp time.Time) string {
	return s.tokenWithRole(t, sub, "customer", exp)
}

func (s *testServer) tokenWithRole(t *testing.T, sub, role string, exp time.Time) string {
	claims := jwt.MapClaims{
		"sub":         sub,
		"iss":         s.deps.Config.Cognito.Issuer(),
		"aud":         testClientID,
		"token_use":   "id",
		"email":       "user@example.com",
		"custom:role": role,
		"exp":         exp.Unix(),
		"iat":         time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKid
	signed, err := token.SignedString(s.privateKey)
	require.NoError(t, err)
	return signed
}

func (s *testServer) do(t *testing.T, method, path, token string, body io.Reader) *http.Response {
	req, err := http.NewRequest(method, s.URL+path, body)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(raw)
}

func TestHealthRoutes(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	t.Run("not ready before keys load", func(t *testing.T) {
		s.mock.ExpectPing()
		s.mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

		resp := s.do(t, http.MethodGet, "/readyz", "", nil)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})

	t.Run("ready after keys load", func(t *testing.T) {
		s.loadKeys(t)
		s.mock.ExpectPing()
		s.mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

		resp := s.do(t, http.MethodGet, "/readyz", "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestProtectedRoutes_FailClosedBeforeKeysLoad(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodGet, "/protected/secret", s.token(t, "u123", time.Now().Add(time.Hour)), nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestProtectedRoutes_Rejections(t *testing.T) {
	s := newTestServer(t)
	s.loadKeys(t)

	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	forged := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"sub": "u123", "exp": time.Now().Add(time.Hour).Unix()})
	forged.Header["kid"] = testKid
	forgedToken, err := forged.SignedString(otherKey)
	require.NoError(t, err)

	tokens := map[string]string{
		"missing":  "",
		"garbage":  "not-a-jwt",
		"expired":  s.token(t, "u123", time.Now().Add(-time.Hour)),
		"forged":   forgedToken,
		"tampered": s.token(t, "u123", time.Now().Add(time.Hour)) + "x",
	}

	var bodies []string
	for name, token := range tokens {
		t.Run(name, func(t *testing.T) {
			resp := s.do(t, http.MethodGet, "/api/users/me", token, nil)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))
			bodies = append(bodies, readBody(t, resp))
		})
	}

	require.Len(t, bodies, len(tokens))
	for _, body := range bodies[1:] {
		assert.Equal(t, bodies[0], body, "every rejection must look the same")
	}
}

func TestProtectedRoutes_Authenticated(t *testing.T) {
	s := newTestServer(t)
	s.loadKeys(t)
	token := s.token(t, "u123", time.Now().Add(time.Hour))

	t.Run("me", func(t *testing.T) {
		resp := s.do(t, http.MethodGet, "/api/users/me", token, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Data models.Principal `json:"data"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "u123", body.Data.Subject)
		assert.Equal(t, models.RoleCustomer, body.Data.Role)
	})

	t.Run("secret", func(t *testing.T) {
		resp := s.do(t, http.MethodGet, "/protected/secret", token, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, readBody(t, resp), "The secret is YOU!")
	})

	t.Run("vendor area requires vendor role", func(t *testing.T) {
		resp := s.do(t, http.MethodGet, "/protected/vendor", token, nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		vendor := s.tokenWithRole(t, "v1", "vendor", time.Now().Add(time.Hour))
		resp = s.do(t, http.MethodGet, "/protected/vendor", vendor, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, readBody(t, resp), `"role":"vendor"`)
	})

	t.Run("legacy header", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, s.URL+"/protected/secret", nil)
		require.NoError(t, err)
		req.Header.Set("Auth", token)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("profile is looked up by subject", func(t *testing.T) {
		user := models.NewUser("u123", "user@example.com", "Ana", "Gomez")
		s.mock.ExpectQuery(regexp.QuoteMeta("WHERE cognito_sub = $1")).
			WithArgs("u123").
			WillReturnRows(sqlmock.NewRows([]string{"id", "cognito_sub", "email", "name", "family_name", "phone_number", "role", "is_valid", "created_at", "updated_at"}).
				AddRow(user.ID, user.CognitoSub, user.Email, user.Name, user.FamilyName, nil, "customer", true, user.CreatedAt, user.UpdatedAt))

		resp := s.do(t, http.MethodGet, "/api/users/profile", token, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, readBody(t, resp), `"email":"user@example.com"`)
		assert.NoError(t, s.mock.ExpectationsWereMet())
	})
}

func TestAuthRoutes_SignIn(t *testing.T) {
	s := newTestServer(t)

	t.Run("valid credentials", func(t *testing.T) {
		resp := s.do(t, http.MethodPost, "/api/auth/signin", "", strings.NewReader(`{"username":"ana@example.com","password":"Passw0rd!"}`))
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, readBody(t, resp), `"id_token":"id"`)
	})

	t.Run("wrong password", func(t *testing.T) {
		resp := s.do(t, http.MethodPost, "/api/auth/signin", "", strings.NewReader(`{"username":"ana@example.com","password":"wrong-password"}`))
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("invalid body", func(t *testing.T) {
		resp := s.do(t, http.MethodPost, "/api/auth/signin", "", strings.NewReader(`{"username":"not-an-email","password":"x"}`))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestCORSAndNotFound(t *testing.T) {
	s := newTestServer(t)

	t.Run("preflight", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodOptions, s.URL+"/api/auth/signin", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", "POST")
		req.Header.Set("Access-Control-Request-Headers", "Content-Type")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
	})

	t.Run("unknown route", func(t *testing.T) {
		resp := s.do(t, http.MethodGet, "/api/nonexistent", "", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}
