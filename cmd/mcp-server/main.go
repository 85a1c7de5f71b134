package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"evm-mcp/internal/chain"
	"evm-mcp/internal/compiler"
	"evm-mcp/internal/config"
	mcpserver "evm-mcp/internal/mcp"
	"evm-mcp/internal/store"
	"evm-mcp/internal/wallet"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to configuration file")
		transport  = flag.String("transport", "", "Transport type (stdio, sse, http)")
		host       = flag.String("host", "", "Host for sse/http transport")
		port       = flag.Int("port", 0, "Port for sse/http transport")
		network    = flag.String("network", "", "Network name to connect to")
		rpcURL     = flag.String("rpc-url", "", "RPC endpoint, overrides the selected network")
		keystore   = flag.String("keystore", "", "Keystore directory")
	)
	flag.Parse()

	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("Failed to load configuration: %v", err)
	}

	// Command line flags win over file and environment.
	if *transport != "" {
		cfg.Transport.Type = *transport
	}
	if *host != "" {
		cfg.Transport.Host = *host
	}
	if *port != 0 {
		cfg.Transport.Port = *port
	}
	if *network != "" {
		cfg.DefaultNetwork = *network
	}
	if *rpcURL != "" {
		cfg.Networks[cfg.DefaultNetwork] = config.NetworkConfig{RPCURL: *rpcURL}
	}
	if *keystore != "" {
		cfg.Keystore = *keystore
	}

	if err := cfg.Validate(); err != nil {
		fatalf("Invalid configuration: %v", err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		fatalf("Failed to build logger: %v", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wallets := wallet.NewManager(cfg.Keystore, log)

	runner := &compiler.SolcRunner{Binary: cfg.Compiler.SolcBinary}
	contracts := compiler.New(cfg.Compiler.TemplatesRoot, cfg.Compiler.LibraryRoot, runner, log)

	// A nil *chain.Client stored in a non-nil interface would defeat the
	// handlers' nil checks, so the interface is only set on success.
	var chainService mcpserver.ChainService
	if net, ok := cfg.Networks[cfg.DefaultNetwork]; ok && net.RPCURL != "" {
		chainClient, err := chain.Dial(ctx, cfg.DefaultNetwork, net.RPCURL, net.ChainID, wallets, log)
		if err != nil {
			// Query and deploy tools report the missing connection per
			// call; wallet and compiler tools still work.
			log.Warn("network unavailable, chain tools disabled", zap.Error(err))
		} else {
			defer chainClient.Close()
			chainService = chainClient
		}
	}

	var history *store.Store
	if cfg.Store.Path != "" {
		if cfg.Store.ReadOnly {
			history, err = store.OpenReadOnly(cfg.Store.Path)
		} else {
			history, err = store.Open(cfg.Store.Path)
		}
		if err != nil {
			fatalf("Failed to open deployment store: %v", err)
		}
		defer history.Close()
	}

	mcpServer := server.NewMCPServer(
		cfg.Name,
		cfg.Version,
		server.WithToolCapabilities(true),
	)

	toolManager := mcpserver.NewToolManager(contracts, wallets, chainService, history, cfg, log)
	if err := toolManager.RegisterTools(mcpServer); err != nil {
		fatalf("Failed to register tools: %v", err)
	}

	if err := mcpserver.Serve(ctx, cfg, mcpServer, log); err != nil {
		fatalf("Server error: %v", err)
	}
	log.Info("server shutdown complete")
}

// newLogger builds a zap logger at the configured level. Stdio transport
// logs to stderr only; stdout belongs to the protocol.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}
	return zcfg.Build()
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
