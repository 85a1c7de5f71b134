package mcp

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"evm-mcp/internal/config"
)

// Serve runs the MCP server over the configured transport and blocks until
// the transport exits or ctx is cancelled. The stdio transport carries
// JSON-RPC over the process's own pipes; sse and http listen on
// host:port, wrapped in bearer-token auth when a token is configured.
func Serve(ctx context.Context, cfg *config.Config, s *server.MCPServer, log *zap.Logger) error {
	switch cfg.Transport.Type {
	case "stdio":
		log.Info("serving MCP over stdio")
		return server.ServeStdio(s)
	case "sse":
		sse := server.NewSSEServer(s)
		return serveHTTP(ctx, cfg, sse, log, "sse")
	case "http":
		h := server.NewStreamableHTTPServer(s)
		return serveHTTP(ctx, cfg, h, log, "http")
	default:
		return fmt.Errorf("unsupported transport type %q", cfg.Transport.Type)
	}
}

func serveHTTP(ctx context.Context, cfg *config.Config, handler http.Handler, log *zap.Logger, kind string) error {
	addr := fmt.Sprintf("%s:%d", cfg.Transport.Host, cfg.Transport.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: withAuth(cfg.AuthToken, handler),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("serving MCP over HTTP",
		zap.String("transport", kind),
		zap.String("addr", addr),
		zap.Bool("auth", cfg.AuthToken != ""))

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("%s transport: %w", kind, err)
	}
	return nil
}

// withAuth requires "Authorization: Bearer <token>" on every request when a
// token is set. An empty token disables the check.
func withAuth(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if got == r.Header.Get("Authorization") || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
