package watchlist

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maithanhduyan/bibank/internal/domain"
)

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Screen(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/screen", r.URL.Path)
		party := r.URL.Query().Get("party")
		_ = json.NewEncoder(w).Encode(screenResponse{Party: party, Listed: party == "MALLORY"})
	})

	client, err := NewClient(DefaultConfig(srv.URL), zerolog.Nop())
	require.NoError(t, err)

	hit, err := client.Screen(context.Background(), "MALLORY")
	require.NoError(t, err)
	assert.True(t, hit)

	hit, err = client.Screen(context.Background(), "ALICE")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestClient_ServerError(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	client, err := NewClient(DefaultConfig(srv.URL), zerolog.Nop())
	require.NoError(t, err)

	_, err = client.Screen(context.Background(), "ALICE")
	assert.ErrorIs(t, err, domain.ErrExternalServiceUnavailable)
}

func TestClient_Timeout(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(200 * time.Millisecond):
		case <-r.Context().Done():
		}
	})

	cfg := DefaultConfig(srv.URL)
	cfg.Timeout = 20 * time.Millisecond
	client, err := NewClient(cfg, zerolog.Nop())
	require.NoError(t, err)

	_, err = client.Screen(context.Background(), "ALICE")
	assert.ErrorIs(t, err, domain.ErrExternalServiceTimeout)
}

func TestClient_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	cfg := DefaultConfig(srv.URL)
	cfg.ConsecutiveFailures = 2
	cfg.OpenTimeout = time.Minute
	client, err := NewClient(cfg, zerolog.Nop())
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := client.Screen(context.Background(), "ALICE")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, client.State())

	_, err = client.Screen(context.Background(), "ALICE")
	assert.ErrorIs(t, err, domain.ErrExternalServiceUnavailable)
	assert.Equal(t, int32(2), calls.Load(), "open breaker must not call the server")
}

func TestNewClient_RequiresURL(t *testing.T) {
	_, err := NewClient(Config{}, zerolog.Nop())
	assert.Error(t, err)
}
