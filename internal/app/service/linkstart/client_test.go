package linkstart

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quiethall/doorman/pkg/config"
)

func newTestClient(baseURL string) *Client {
	cfg := &config.Config{}
	cfg.Backend.BaseURL = baseURL
	cfg.Backend.Timeout = 2 * time.Second
	return NewClient(cfg, zap.NewNop().Sugar())
}

func TestStart_SendsAllIDSpellings(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/link/start", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		_ = json.NewEncoder(w).Encode(map[string]string{"url": "https://verify.example/abc"})
	}))
	defer srv.Close()

	url, err := newTestClient(srv.URL).Start(context.Background(), "123")
	require.NoError(t, err)
	require.Equal(t, "https://verify.example/abc", url)
	require.Equal(t, "123", got["member_id"])
	require.Equal(t, "123", got["discord_id"])
	require.Equal(t, "123", got["discordId"])
}

func TestStart_AcceptsEveryURLFieldName(t *testing.T) {
	tests := []struct {
		name string
		body map[string]string
	}{
		{"url", map[string]string{"url": "https://verify.example/u"}},
		{"link", map[string]string{"link": "https://verify.example/u"}},
		{"verificationUrl", map[string]string{"verificationUrl": "https://verify.example/u"}},
		{"data", map[string]string{"data": "https://verify.example/u"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_ = json.NewEncoder(w).Encode(tt.body)
			}))
			defer srv.Close()

			url, err := newTestClient(srv.URL).Start(context.Background(), "123")
			require.NoError(t, err)
			require.Equal(t, "https://verify.example/u", url)
		})
	}
}

func TestStart_ErrorPaths(t *testing.T) {
	t.Run("backend not configured", func(t *testing.T) {
		_, err := newTestClient("").Start(context.Background(), "123")
		require.Error(t, err)
	})

	t.Run("non-2xx status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		_, err := newTestClient(srv.URL).Start(context.Background(), "123")
		require.ErrorContains(t, err, "502")
	})

	t.Run("missing url in response", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		}))
		defer srv.Close()

		_, err := newTestClient(srv.URL).Start(context.Background(), "123")
		require.ErrorContains(t, err, "missing verification url")
	})

	t.Run("unreachable backend", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		srv.Close()

		_, err := newTestClient(srv.URL).Start(context.Background(), "123")
		require.Error(t, err)
	})
}

func TestNewClient_TrimsTrailingSlash(t *testing.T) {
	c := newTestClient("https://backend.example/")
	require.Equal(t, "https://backend.example", c.baseURL)
}
