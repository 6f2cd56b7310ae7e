package jwt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/quotes-service/internal/cache"
	"github.com/vyrodovalexey/quotes-service/internal/observability"
)

// JWKS defaults.
const (
	DefaultJWKSCacheTTL          = time.Hour
	DefaultJWKSFetchTimeout      = 5 * time.Second
	DefaultJWKSMinRefresh        = 10 * time.Second
	DefaultJWKSNegativeCacheTTL  = 30 * time.Second
	maxJWKSBodySize        int64 = 1 << 20
	storeKeyPrefix               = "jwks:"
)

const (
	sourceRemote = "remote"
	sourceStore  = "shared_cache"
)

var errRefreshRateLimited = errors.New("jwks refresh rate limited")

// JWKSStats is a snapshot of the key set state.
type JWKSStats struct {
	URL             string
	Keys            int
	LastRefresh     time.Time
	Refreshes       uint64
	FetchErrors     uint64
	NegativeEntries int
}

// JWKSKeySet resolves keys from a remote JWK set document. The parsed set
// is kept in process for the cache TTL and served stale when a refresh
// fails. Unknown key ids force one rate-limited refetch and are then
// remembered as missing for the negative cache TTL.
type JWKSKeySet struct {
	url          string
	client       *http.Client
	ttl          time.Duration
	fetchTimeout time.Duration
	negativeTTL  time.Duration
	minRefresh   time.Duration
	store        cache.Cache
	limiter      *rate.Limiter
	group        singleflight.Group
	logger       observability.Logger
	metrics      *Metrics
	now          func() time.Time

	mu          sync.RWMutex
	set         jwk.Set
	fetchedAt   time.Time
	lastFailure time.Time
	lastErr     error
	negative    map[string]time.Time

	refreshes   atomic.Uint64
	fetchErrors atomic.Uint64

	stopCh    chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

// JWKSOption is a functional option for the JWKS key set.
type JWKSOption func(*JWKSKeySet)

// WithHTTPClient sets the HTTP client used to fetch the document.
func WithHTTPClient(client *http.Client) JWKSOption {
	return func(k *JWKSKeySet) {
		k.client = client
	}
}

// WithCacheTTL sets how long a fetched set is considered fresh.
func WithCacheTTL(ttl time.Duration) JWKSOption {
	return func(k *JWKSKeySet) {
		k.ttl = ttl
	}
}

// WithFetchTimeout bounds a single fetch.
func WithFetchTimeout(timeout time.Duration) JWKSOption {
	return func(k *JWKSKeySet) {
		k.fetchTimeout = timeout
	}
}

// WithMinRefreshInterval limits forced refreshes and retries after a
// failed fetch.
func WithMinRefreshInterval(interval time.Duration) JWKSOption {
	return func(k *JWKSKeySet) {
		k.minRefresh = interval
	}
}

// WithNegativeCacheTTL sets how long an unknown key id is remembered.
func WithNegativeCacheTTL(ttl time.Duration) JWKSOption {
	return func(k *JWKSKeySet) {
		k.negativeTTL = ttl
	}
}

// WithSharedStore stores the raw document in store so replicas share
// one fetch per TTL.
func WithSharedStore(store cache.Cache) JWKSOption {
	return func(k *JWKSKeySet) {
		k.store = store
	}
}

// WithJWKSLogger sets the logger for the key set.
func WithJWKSLogger(logger observability.Logger) JWKSOption {
	return func(k *JWKSKeySet) {
		k.logger = logger
	}
}

// WithJWKSMetrics sets the metrics for the key set.
func WithJWKSMetrics(metrics *Metrics) JWKSOption {
	return func(k *JWKSKeySet) {
		k.metrics = metrics
	}
}

// NewJWKSKeySet creates a key set for the document at rawURL. No fetch
// happens until Start or the first lookup.
func NewJWKSKeySet(rawURL string, opts ...JWKSOption) (*JWKSKeySet, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid jwks url %q", rawURL)
	}

	k := &JWKSKeySet{
		url:          rawURL,
		ttl:          DefaultJWKSCacheTTL,
		fetchTimeout: DefaultJWKSFetchTimeout,
		negativeTTL:  DefaultJWKSNegativeCacheTTL,
		minRefresh:   DefaultJWKSMinRefresh,
		logger:       observability.NopLogger(),
		now:          time.Now,
		negative:     make(map[string]time.Time),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(k)
	}

	if k.client == nil {
		k.client = &http.Client{Timeout: k.fetchTimeout}
	}
	if k.minRefresh > 0 {
		k.limiter = rate.NewLimiter(rate.Every(k.minRefresh), 1)
	} else {
		k.limiter = rate.NewLimiter(rate.Inf, 1)
	}
	k.logger = k.logger.With(observability.String("jwks_url", rawURL))
	return k, nil
}

// Start loads the set and keeps it refreshed every TTL until Close. A
// failed initial load is returned but the refresh loop still runs.
func (k *JWKSKeySet) Start(ctx context.Context) error {
	var err error
	k.startOnce.Do(func() {
		_, err = k.refresh(ctx, false)
		if err != nil {
			k.logger.Warn("initial jwks load failed", observability.Error(err))
		}
		if k.ttl > 0 {
			k.wg.Add(1)
			go k.refreshLoop()
		}
	})
	return err
}

func (k *JWKSKeySet) refreshLoop() {
	defer k.wg.Done()
	ticker := time.NewTicker(k.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-k.stopCh:
			return
		case <-ticker.C:
			if _, err := k.refresh(context.Background(), true); err != nil && !errors.Is(err, errRefreshRateLimited) {
				k.logger.Warn("background jwks refresh failed", observability.Error(err))
			}
		}
	}
}

// Close stops the refresh loop.
func (k *JWKSKeySet) Close() error {
	k.closeOnce.Do(func() {
		close(k.stopCh)
	})
	k.wg.Wait()
	return nil
}

// Refresh fetches the document from the remote endpoint now.
func (k *JWKSKeySet) Refresh(ctx context.Context) error {
	_, err := k.refresh(ctx, true)
	return err
}

// LookupKey implements KeySet.
func (k *JWKSKeySet) LookupKey(ctx context.Context, kid, alg string) (jwk.Key, error) {
	set, err := k.current(ctx)
	if err != nil {
		return nil, NewKeyError(kid, "no key set available", errors.Join(ErrKeySetUnavailable, err))
	}
	if key, ok := selectKey(set, kid, alg); ok {
		return key, nil
	}

	if kid == "" {
		return nil, NewKeyError(kid, "no unambiguous key for algorithm "+alg, ErrKeyNotFound)
	}
	if k.isNegative(kid) {
		return nil, NewKeyError(kid, "key id recently not found", ErrKeyNotFound)
	}

	set, err = k.refresh(ctx, true)
	switch {
	case errors.Is(err, errRefreshRateLimited):
		return nil, NewKeyError(kid, "key id not in current set", ErrKeyNotFound)
	case err != nil:
		return nil, NewKeyError(kid, "refresh for unknown key id failed", errors.Join(ErrKeyNotFound, err))
	}

	if key, ok := selectKey(set, kid, alg); ok {
		return key, nil
	}
	k.markNegative(kid)
	k.logger.WithContext(ctx).Warn("token key id not present in jwks", observability.String("kid", kid))
	return nil, NewKeyError(kid, "key id not in refreshed set", ErrKeyNotFound)
}

// Stats returns a snapshot of the key set state.
func (k *JWKSKeySet) Stats() JWKSStats {
	k.mu.RLock()
	defer k.mu.RUnlock()

	stats := JWKSStats{
		URL:         k.url,
		LastRefresh: k.fetchedAt,
		Refreshes:   k.refreshes.Load(),
		FetchErrors: k.fetchErrors.Load(),
	}
	if k.set != nil {
		stats.Keys = k.set.Len()
	}
	now := k.now()
	for _, exp := range k.negative {
		if now.Before(exp) {
			stats.NegativeEntries++
		}
	}
	return stats
}

// current returns a fresh set, refreshing when the TTL has passed. A
// stale set is returned when the refresh fails.
func (k *JWKSKeySet) current(ctx context.Context) (jwk.Set, error) {
	k.mu.RLock()
	set, fetchedAt := k.set, k.fetchedAt
	k.mu.RUnlock()

	if set != nil && (k.ttl <= 0 || k.now().Sub(fetchedAt) < k.ttl) {
		return set, nil
	}

	fresh, err := k.refresh(ctx, false)
	if err == nil {
		return fresh, nil
	}
	if set != nil {
		k.logger.WithContext(ctx).Warn("serving stale jwks after refresh failure", observability.Error(err))
		return set, nil
	}
	return nil, err
}

// refresh loads the set once for all concurrent callers. Unforced loads
// try the shared store first and back off after a failure; forced loads
// go to the remote endpoint subject to the rate limiter.
func (k *JWKSKeySet) refresh(ctx context.Context, force bool) (jwk.Set, error) {
	flight := "load"
	if force {
		flight = "force"
	}

	v, err, _ := k.group.Do(flight, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.fetchTimeout)
		defer cancel()

		if !force {
			if set, ok := k.loadFromStore(fetchCtx); ok {
				return set, nil
			}
			if err := k.recentFailure(); err != nil {
				return nil, err
			}
		} else if !k.limiter.Allow() {
			return nil, errRefreshRateLimited
		}

		return k.fetch(fetchCtx)
	})
	if err != nil {
		return nil, err
	}
	return v.(jwk.Set), nil
}

func (k *JWKSKeySet) recentFailure() error {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.lastErr != nil && k.now().Sub(k.lastFailure) < k.minRefresh {
		return k.lastErr
	}
	return nil
}

func (k *JWKSKeySet) loadFromStore(ctx context.Context) (jwk.Set, bool) {
	if k.store == nil {
		return nil, false
	}
	doc, err := k.store.Get(ctx, k.storeKey())
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			k.logger.Warn("jwks shared cache read failed", observability.Error(err))
		}
		return nil, false
	}
	set, err := parseSet(doc)
	if err != nil {
		k.logger.Warn("discarding unparsable jwks from shared cache", observability.Error(err))
		return nil, false
	}
	k.install(set)
	k.metrics.RecordRefresh(sourceStore, nil, set.Len())
	return set, true
}

func (k *JWKSKeySet) fetch(ctx context.Context) (jwk.Set, error) {
	doc, err := k.download(ctx)
	var set jwk.Set
	if err == nil {
		set, err = parseSet(doc)
	}

	k.refreshes.Add(1)
	if err != nil {
		k.fetchErrors.Add(1)
		k.mu.Lock()
		k.lastErr = err
		k.lastFailure = k.now()
		k.mu.Unlock()
		k.metrics.RecordRefresh(sourceRemote, err, 0)
		k.logger.Error("jwks fetch failed", observability.Error(err))
		return nil, err
	}

	k.install(set)
	k.metrics.RecordRefresh(sourceRemote, nil, set.Len())
	k.logger.Info("jwks refreshed", observability.Int("keys", set.Len()))

	if k.store != nil {
		if err := k.store.Set(ctx, k.storeKey(), doc, k.ttl); err != nil {
			k.logger.Warn("jwks shared cache write failed", observability.Error(err))
		}
	}
	return set, nil
}

func (k *JWKSKeySet) download(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := k.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching jwks: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("reading jwks: %w", err)
	}
	if int64(len(body)) > maxJWKSBodySize {
		return nil, fmt.Errorf("jwks document exceeds %d bytes", maxJWKSBodySize)
	}
	return body, nil
}

func (k *JWKSKeySet) install(set jwk.Set) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.set = set
	k.fetchedAt = k.now()
	k.lastErr = nil
	clear(k.negative)
}

func (k *JWKSKeySet) isNegative(kid string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	exp, ok := k.negative[kid]
	if !ok {
		return false
	}
	if k.now().After(exp) {
		delete(k.negative, kid)
		return false
	}
	return true
}

func (k *JWKSKeySet) markNegative(kid string) {
	if k.negativeTTL <= 0 {
		return
	}
	k.mu.Lock()
	k.negative[kid] = k.now().Add(k.negativeTTL)
	k.mu.Unlock()
}

func (k *JWKSKeySet) storeKey() string {
	return storeKeyPrefix + k.url
}

func parseSet(doc []byte) (jwk.Set, error) {
	set, err := jwk.Parse(doc)
	if err != nil {
		return nil, fmt.Errorf("parsing jwks: %w", err)
	}
	if set.Len() == 0 {
		return nil, errors.New("jwks contains no keys")
	}
	return set, nil
}
