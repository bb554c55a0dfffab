package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/order-tracking/internal/retry"
)

func TestHTTPRenewer_PostsWithToken(t *testing.T) {
	var method, auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, auth = r.Method, r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	r := NewHTTPRenewer(srv.URL, "secret", srv.Client())
	require.NoError(t, r.Renew(context.Background()))
	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "Bearer secret", auth)
}

func TestHTTPRenewer_RejectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := NewHTTPRenewer(srv.URL, "", srv.Client()).Renew(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.False(t, retry.IsOffline(err))
}

func TestHTTPRenewer_UnreachableIsOffline(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewHTTPRenewer(url, "", nil).Renew(context.Background())
	require.Error(t, err)
	assert.True(t, retry.IsOffline(err))
}

func TestNewRenewer_NopWithoutURL(t *testing.T) {
	r := NewRenewer("", "")
	assert.IsType(t, NopRenewer{}, r)
	assert.NoError(t, r.Renew(context.Background()))
}
