package outbound

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/quotes-service/internal/auth/jwt"
	"github.com/vyrodovalexey/quotes-service/internal/config"
)

func upstreamConfig(baseURL string) *config.UpstreamConfig {
	cfg := config.DefaultConfig().Upstream
	cfg.BaseURL = baseURL
	cfg.ServiceName = "quotes-service"
	return &cfg
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(upstreamConfig("not a url"))
	assert.Error(t, err)

	cfg := upstreamConfig("http://gateway")
	cfg.ServiceName = ""
	_, err = New(cfg)
	assert.Error(t, err)

	cfg = upstreamConfig("https://gateway")
	cfg.TLS.CAFile = "/does/not/exist.pem"
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestClient_GetJSON(t *testing.T) {
	t.Parallel()

	var got http.Header
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		path = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"symbol":"ACME","price":12.5}`))
	}))
	t.Cleanup(srv.Close)

	client, err := New(upstreamConfig(srv.URL + "/linqra"))
	require.NoError(t, err)
	t.Cleanup(client.Close)

	ctx := jwt.ContextWithToken(context.Background(), &jwt.VerifiedToken{Raw: "abc.def.ghi"})

	var quote struct {
		Symbol string  `json:"symbol"`
		Price  float64 `json:"price"`
	}
	require.NoError(t, client.GetJSON(ctx, "/api/quotes/ACME", &quote))

	assert.Equal(t, "ACME", quote.Symbol)
	assert.Equal(t, "/linqra/api/quotes/ACME", path)
	assert.Equal(t, "Bearer abc.def.ghi", got.Get("Authorization"))
	assert.Equal(t, "abc.def.ghi", got.Get("X-User-Token"))
	assert.Equal(t, "quotes-service", got.Get("X-Service-Name"))
	assert.Equal(t, DefaultMaxConnsPerRoute, client.Pool().Stats().MaxPerRoute)
}

func TestClient_PostJSONAndStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["symbol"] == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("symbol required"))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "q-1"})
	}))
	t.Cleanup(srv.Close)

	client, err := New(upstreamConfig(srv.URL))
	require.NoError(t, err)
	t.Cleanup(client.Close)

	var created map[string]string
	require.NoError(t, client.PostJSON(context.Background(), "quotes", map[string]string{"symbol": "ACME"}, &created))
	assert.Equal(t, "q-1", created["id"])

	err = client.PostJSON(context.Background(), "quotes", map[string]string{}, nil)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	assert.Equal(t, "symbol required", string(statusErr.Body))
}

func TestClient_RejectsAbsoluteReference(t *testing.T) {
	t.Parallel()

	client, err := New(upstreamConfig("http://gateway"), WithTransport(roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return okResponse(r), nil
	})))
	require.NoError(t, err)

	_, err = client.NewRequest(context.Background(), http.MethodGet, "https://evil.example.com/x", nil)
	assert.Error(t, err)
	_, err = client.NewRequest(context.Background(), http.MethodGet, "//evil.example.com/x", nil)
	assert.Error(t, err)
	assert.Nil(t, client.Pool())
}

func TestClient_NewPathRequest(t *testing.T) {
	t.Parallel()

	client, err := New(upstreamConfig("http://gateway/linqra/"), WithTransport(http.DefaultTransport))
	require.NoError(t, err)

	tests := []struct {
		name        string
		path        string
		query       string
		wantURL     string
		wantDecoded string
	}{
		{name: "plain", path: "/quotes", query: "limit=5", wantURL: "http://gateway/linqra/quotes?limit=5", wantDecoded: "/linqra/quotes"},
		{name: "percent", path: "/100%", wantURL: "http://gateway/linqra/100%25", wantDecoded: "/linqra/100%"},
		{name: "question mark", path: "/x?y", wantURL: "http://gateway/linqra/x%3Fy", wantDecoded: "/linqra/x?y"},
		{name: "colon", path: "a:b", wantURL: "http://gateway/linqra/a:b", wantDecoded: "/linqra/a:b"},
		{name: "escape attempt", path: "/../../admin", wantURL: "http://gateway/linqra/admin", wantDecoded: "/linqra/admin"},
		{name: "host lookalike", path: "//evil.example.com/x", wantURL: "http://gateway/linqra/evil.example.com/x", wantDecoded: "/linqra/evil.example.com/x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req, err := client.NewPathRequest(context.Background(), http.MethodGet, tt.path, tt.query, http.NoBody)
			require.NoError(t, err)
			assert.Equal(t, tt.wantURL, req.URL.String())
			assert.Equal(t, tt.wantDecoded, req.URL.Path)
			assert.Equal(t, "gateway", req.URL.Host)
		})
	}
}

func TestClient_InboundCancellationNotPropagated(t *testing.T) {
	t.Parallel()

	var sawCancel atomic.Bool
	client, err := New(upstreamConfig("http://gateway"), WithTransport(roundTripFunc(func(r *http.Request) (*http.Response, error) {
		select {
		case <-r.Context().Done():
			sawCancel.Store(true)
		case <-time.After(20 * time.Millisecond):
		}
		return okResponse(r), nil
	})))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(jwt.ContextWithRawToken(context.Background(), "t"))
	cancel()

	req, err := client.NewRequest(ctx, http.MethodGet, "x", http.NoBody)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.False(t, sawCancel.Load())
	assert.Equal(t, "Bearer t", resp.Request.Header.Get("Authorization"))
}

func TestClient_TransportErrorIsReachable(t *testing.T) {
	t.Parallel()

	transportErr := errors.New("boom")
	client, err := New(upstreamConfig("http://gateway"), WithTransport(roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, transportErr
	})))
	require.NoError(t, err)

	err = client.GetJSON(context.Background(), "x", nil)
	assert.ErrorIs(t, err, transportErr)
}

func TestClient_CircuitBreakerEnabled(t *testing.T) {
	t.Parallel()

	cfg := upstreamConfig("http://gateway")
	cfg.CircuitBreaker = testBreakerConfig()

	client, err := New(cfg, WithTransport(roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("refused")
	})))
	require.NoError(t, err)

	state, ok := client.BreakerState()
	require.True(t, ok)
	assert.Equal(t, gobreaker.StateClosed, state)

	for i := 0; i < 2; i++ {
		assert.Error(t, client.GetJSON(context.Background(), "x", nil))
	}
	err = client.GetJSON(context.Background(), "x", nil)
	assert.ErrorIs(t, err, ErrCircuitOpen)

	state, _ = client.BreakerState()
	assert.Equal(t, gobreaker.StateOpen, state)
}

func TestClient_BreakerStateDisabled(t *testing.T) {
	t.Parallel()

	client, err := New(upstreamConfig("http://gateway"), WithTransport(http.DefaultTransport))
	require.NoError(t, err)

	_, ok := client.BreakerState()
	assert.False(t, ok)
}

func TestPool_WaitForSlotIsBounded(t *testing.T) {
	t.Parallel()

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		started <- struct{}{}
		<-release
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	cfg := upstreamConfig(srv.URL)
	cfg.MaxConnsPerRoute = 10
	cfg.MaxConnsTotal = 1
	cfg.ConnectTimeout = config.Duration(50 * time.Millisecond)
	pool, err := NewPool(cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	httpClient := &http.Client{Transport: pool.Transport()}
	go func() {
		resp, err := httpClient.Get(srv.URL)
		if err == nil {
			resp.Body.Close()
		}
	}()
	<-started

	start := time.Now()
	req, err := http.NewRequestWithContext(context.WithoutCancel(context.Background()), http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	_, err = httpClient.Do(req)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestPool_BoundsTotalConnections(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		active++
		if active > maxSeen {
			maxSeen = active
		}
		mu.Unlock()
		<-release
		mu.Lock()
		active--
		mu.Unlock()
	}))
	t.Cleanup(srv.Close)

	cfg := upstreamConfig(srv.URL)
	cfg.MaxConnsPerRoute = 10
	cfg.MaxConnsTotal = 3
	pool, err := NewPool(cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	httpClient := &http.Client{Transport: pool.Transport()}
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := httpClient.Get(srv.URL)
			if err == nil {
				resp.Body.Close()
			}
		}()
	}

	time.Sleep(100 * time.Millisecond)
	assert.LessOrEqual(t, pool.Stats().OpenConnections, int64(3))
	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, maxSeen, 3)
}
