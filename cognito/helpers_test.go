package cognito

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testIssuer   = "https://cognito-idp.us-east-2.amazonaws.com/us-east-2_test123"
	testClientID = "test-client-id"
)

// Test helper to generate RSA key pair
func generateTestKeyPair(t *testing.T) (*rsa.PrivateKey, *rsa.PublicKey) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return privateKey, &privateKey.PublicKey
}

// rsaJWK converts a public key to its JWK form
func rsaJWK(kid string, publicKey *rsa.PublicKey) JWK {
	return JWK{
		Kid: kid,
		Kty: "RSA",
		Alg: "RS256",
		Use: "sig",
		N:   base64.RawURLEncoding.EncodeToString(publicKey.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(publicKey.E)).Bytes()),
	}
}

// jwksFixture is a mock JWKS endpoint whose keys and status can change between fetches
type jwksFixture struct {
	mu     sync.Mutex
	keys   []JWK
	status int
	hits   int
	server *httptest.Server
}

func newJWKSFixture(t *testing.T, keys ...JWK) *jwksFixture {
	f := &jwksFixture{keys: keys, status: http.StatusOK}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.hits++

		if f.status != http.StatusOK {
			w.WriteHeader(f.status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(JWKS{Keys: f.keys})
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *jwksFixture) URL() string { return f.server.URL }

func (f *jwksFixture) setKeys(keys ...JWK) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = keys
}

func (f *jwksFixture) setStatus(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
}

func (f *jwksFixture) hitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits
}

// newLoadedKeySet returns a key set that has already fetched from the fixture
func newLoadedKeySet(t *testing.T, f *jwksFixture) *KeySet {
	ks := NewKeySet(KeySetConfig{URL: f.URL(), HTTPTimeout: 5 * time.Second}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, ks.Refresh(ctx))
	return ks
}

// validClaims builds id-token claims accepted by a verifier for testIssuer/testClientID
func validClaims(sub string) *Claims {
	now := time.Now()
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Subject:   sub,
			Audience:  jwt.ClaimStrings{testClientID},
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Email:           "test@example.com",
		EmailVerified:   true,
		TokenUse:        TokenUseID,
		AuthTime:        now.Unix(),
		CognitoUsername: "testuser",
	}
}

// signToken signs claims with RS256 and sets the kid header
func signToken(t *testing.T, privateKey *rsa.PrivateKey, kid string, claims jwt.Claims) string {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}

	tokenString, err := token.SignedString(privateKey)
	require.NoError(t, err)
	return tokenString
}
