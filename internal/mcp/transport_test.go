package mcp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"evm-mcp/internal/config"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestWithAuthNoToken(t *testing.T) {
	srv := httptest.NewServer(withAuth("", okHandler()))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestWithAuthToken(t *testing.T) {
	srv := httptest.NewServer(withAuth("sekret", okHandler()))
	defer srv.Close()

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic sekret", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"correct token", "Bearer sekret", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
			assert.NoError(t, err)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := http.DefaultClient.Do(req)
			assert.NoError(t, err)
			assert.Equal(t, tc.want, resp.StatusCode)
			resp.Body.Close()
		})
	}
}

func TestServeRejectsUnknownTransport(t *testing.T) {
	cfg := config.Default()
	cfg.Transport.Type = "carrier-pigeon"
	s := server.NewMCPServer("test", "0.0.1")

	err := Serve(context.Background(), cfg, s, zap.NewNop())
	assert.Error(t, err)
}
