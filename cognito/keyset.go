package cognito

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"go.uber.org/zap"
)

const maxKeySetBytes = 1 << 20

var (
	// ErrJWKSFetchFailed is returned when JWKS fetching fails
	ErrJWKSFetchFailed = errors.New("failed to fetch JWKS")

	// ErrKeySetInvalid is returned when the fetched document holds no usable keys
	ErrKeySetInvalid = errors.New("invalid JWKS document")
)

// JWKS represents the JSON Web Key Set
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK represents a JSON Web Key
type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg,omitempty"`
	Use string `json:"use,omitempty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// KeySetConfig holds configuration for KeySet
type KeySetConfig struct {
	URL             string
	RefreshInterval time.Duration
	HTTPTimeout     time.Duration
}

// KeySetStats describes the cache state for readiness reporting
type KeySetStats struct {
	Loaded      bool      `json:"loaded"`
	KeyCount    int       `json:"key_count"`
	LoadedAt    time.Time `json:"loaded_at,omitempty"`
	LastAttempt time.Time `json:"last_attempt,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// loadedKeys is an immutable snapshot of one successful fetch
type loadedKeys struct {
	keys     keyfunc.Keyfunc
	kids     []string
	loadedAt time.Time
}

// KeySet caches the issuer's signing keys by key ID.
// Lookups never touch the network; keys change only through Refresh.
type KeySet struct {
	url             string
	refreshInterval time.Duration
	httpClient      *http.Client
	logger          *zap.Logger

	current   atomic.Pointer[loadedKeys]
	ready     chan struct{}
	readyOnce sync.Once

	// refreshMu serializes fetches and guards the attempt bookkeeping
	refreshMu   sync.Mutex
	lastAttempt time.Time
	lastErr     error
}

// NewKeySet creates an empty key set. No network I/O happens until Refresh or Start.
func NewKeySet(cfg KeySetConfig, logger *zap.Logger) *KeySet {
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}

	return &KeySet{
		url:             cfg.URL,
		refreshInterval: cfg.RefreshInterval,
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
		logger: logger,
		ready:  make(chan struct{}),
	}
}

// Start loads the key set in the background and, when a refresh interval is
// configured, keeps refreshing it until ctx is cancelled.
func (k *KeySet) Start(ctx context.Context) {
	go func() {
		if err := k.Refresh(ctx); err != nil && ctx.Err() == nil {
			k.logger.Error("initial signing key fetch failed, all tokens will be rejected until a refresh succeeds",
				zap.String("url", k.url),
				zap.Error(err))
		}

		if k.refreshInterval <= 0 {
			return
		}

		ticker := time.NewTicker(k.refreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = k.Refresh(ctx)
			}
		}
	}()
}

// Refresh fetches the key set once and swaps it in on success.
// On failure the previously loaded keys stay in place.
func (k *KeySet) Refresh(ctx context.Context) error {
	k.refreshMu.Lock()
	defer k.refreshMu.Unlock()

	k.lastAttempt = time.Now()

	loaded, err := k.load(ctx)
	if err != nil {
		k.lastErr = err
		k.logger.Warn("signing key refresh failed",
			zap.String("url", k.url),
			zap.Error(err))
		return err
	}

	k.lastErr = nil
	k.current.Store(loaded)
	k.readyOnce.Do(func() { close(k.ready) })

	k.logger.Info("signing keys loaded",
		zap.String("url", k.url),
		zap.Strings("kids", loaded.kids))

	return nil
}

// Ready is closed after the first successful load
func (k *KeySet) Ready() <-chan struct{} {
	return k.ready
}

// IsReady reports whether keys have been loaded at least once
func (k *KeySet) IsReady() bool {
	select {
	case <-k.ready:
		return true
	default:
		return false
	}
}

// Lookup returns the verification key for kid from the cached set.
// A miss is final for the current snapshot; the cache is not refreshed inline.
func (k *KeySet) Lookup(ctx context.Context, kid string) (any, error) {
	loaded := k.current.Load()
	if loaded == nil {
		return nil, ErrKeySetNotLoaded
	}

	jwk, err := loaded.keys.Storage().KeyRead(ctx, kid)
	if err != nil {
		return nil, fmt.Errorf("%w: kid %q", ErrUnknownKey, kid)
	}

	return jwk.Key(), nil
}

// Stats returns a snapshot of the cache state
func (k *KeySet) Stats() KeySetStats {
	k.refreshMu.Lock()
	defer k.refreshMu.Unlock()

	stats := KeySetStats{LastAttempt: k.lastAttempt}
	if k.lastErr != nil {
		stats.LastError = k.lastErr.Error()
	}
	if loaded := k.current.Load(); loaded != nil {
		stats.Loaded = true
		stats.KeyCount = len(loaded.kids)
		stats.LoadedAt = loaded.loadedAt
	}
	return stats
}

// load fetches and parses the key set without touching the cache
func (k *KeySet) load(ctx context.Context) (*loadedKeys, error) {
	jwks, err := k.fetchJWKS(ctx)
	if err != nil {
		return nil, err
	}

	usable := JWKS{Keys: make([]JWK, 0, len(jwks.Keys))}
	kids := make([]string, 0, len(jwks.Keys))
	for _, key := range jwks.Keys {
		if key.Kid == "" || key.Kty != "RSA" || key.N == "" || key.E == "" {
			k.logger.Debug("skipping unusable JWK",
				zap.String("kid", key.Kid),
				zap.String("kty", key.Kty))
			continue
		}
		if err := checkJWK(key); err != nil {
			k.logger.Warn("skipping JWK that failed to decode",
				zap.String("kid", key.Kid),
				zap.Error(err))
			continue
		}
		usable.Keys = append(usable.Keys, key)
		kids = append(kids, key.Kid)
	}
	if len(usable.Keys) == 0 {
		return nil, fmt.Errorf("%w: no decodable RSA keys with a kid", ErrKeySetInvalid)
	}

	keys, err := parseJWKS(usable)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeySetInvalid, err)
	}

	return &loadedKeys{
		keys:     keys,
		kids:     kids,
		loadedAt: time.Now(),
	}, nil
}

// checkJWK reports whether key decodes on its own
func checkJWK(key JWK) error {
	_, err := parseJWKS(JWKS{Keys: []JWK{key}})
	return err
}

func parseJWKS(set JWKS) (keyfunc.Keyfunc, error) {
	raw, err := json.Marshal(set)
	if err != nil {
		return nil, fmt.Errorf("failed to encode JWKS: %w", err)
	}
	return keyfunc.NewJWKSetJSON(raw)
}

// fetchJWKS performs one GET of the well-known key set document
func (k *KeySet) fetchJWKS(ctx context.Context) (*JWKS, error) {
	if k.url == "" {
		return nil, fmt.Errorf("%w: no JWKS URL configured", ErrJWKSFetchFailed)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status code %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var jwks JWKS
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxKeySetBytes)).Decode(&jwks); err != nil {
		return nil, fmt.Errorf("%w: failed to decode JWKS: %v", ErrKeySetInvalid, err)
	}

	return &jwks, nil
}
