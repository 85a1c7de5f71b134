// Package config holds the server configuration: defaults, yaml file
// loading, environment overrides and validation.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config is the complete server configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Networks maps a network name to its RPC endpoint. DefaultNetwork
	// selects which one the server connects to at startup.
	Networks       map[string]NetworkConfig `yaml:"networks"`
	DefaultNetwork string                   `yaml:"default_network"`

	Keystore string         `yaml:"keystore"`
	Compiler CompilerConfig `yaml:"compiler"`
	Store    StoreConfig    `yaml:"store"`

	Transport TransportConfig `yaml:"transport"`

	// AuthToken guards the HTTP and SSE transports when set. Stdio is
	// never authenticated; the spawning client owns the process.
	AuthToken string `yaml:"auth_token,omitempty"`

	LogLevel string `yaml:"log_level"`
}

// NetworkConfig describes one JSON-RPC endpoint. A non-zero ChainID is
// checked against the node's reported chain ID when connecting.
type NetworkConfig struct {
	RPCURL  string `yaml:"rpc_url"`
	ChainID int64  `yaml:"chain_id,omitempty"`
}

// CompilerConfig locates the template sources, the contract library and the
// solc binary.
type CompilerConfig struct {
	TemplatesRoot string `yaml:"templates_root"`
	LibraryRoot   string `yaml:"library_root"`
	SolcBinary    string `yaml:"solc_binary,omitempty"`
}

// StoreConfig configures the optional deployment-history store. An empty
// path disables it.
type StoreConfig struct {
	Path     string `yaml:"path,omitempty"`
	ReadOnly bool   `yaml:"read_only,omitempty"`
}

// TransportConfig selects how the MCP server is served.
type TransportConfig struct {
	Type string `yaml:"type"` // stdio, sse or http
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Name:    "evm-mcp",
		Version: "1.0.0",
		Networks: map[string]NetworkConfig{
			"local": {RPCURL: "http://localhost:8545"},
		},
		DefaultNetwork: "local",
		Keystore:       "./data/keystore",
		Compiler: CompilerConfig{
			TemplatesRoot: "./templates",
			LibraryRoot:   "./node_modules/@openzeppelin/contracts",
		},
		Transport: TransportConfig{
			Type: "stdio",
			Host: "localhost",
			Port: 8080,
		},
		LogLevel: "info",
	}
}

// Load reads a yaml config file over the defaults and applies environment
// overrides. An empty path loads defaults plus environment only.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// Environment variables override file values so deployments keep secrets
// out of the config file.
func (c *Config) applyEnv() {
	if v := os.Getenv("EVM_MCP_RPC_URL"); v != "" {
		if c.Networks == nil {
			c.Networks = make(map[string]NetworkConfig)
		}
		n := c.Networks[c.DefaultNetwork]
		n.RPCURL = v
		c.Networks[c.DefaultNetwork] = n
	}
	if v := os.Getenv("EVM_MCP_AUTH_TOKEN"); v != "" {
		c.AuthToken = v
	}
	if v := os.Getenv("EVM_MCP_KEYSTORE"); v != "" {
		c.Keystore = v
	}
}

// Validate checks the configuration for startup-blocking mistakes.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	switch c.Transport.Type {
	case "stdio":
	case "sse", "http":
		if c.Transport.Port <= 0 || c.Transport.Port > 65535 {
			return fmt.Errorf("invalid transport port %d", c.Transport.Port)
		}
	default:
		return fmt.Errorf("unsupported transport type %q", c.Transport.Type)
	}
	if c.DefaultNetwork != "" {
		if _, ok := c.Networks[c.DefaultNetwork]; !ok {
			return fmt.Errorf("default network %q is not configured", c.DefaultNetwork)
		}
	}
	if c.Compiler.TemplatesRoot == "" {
		return fmt.Errorf("compiler templates_root is required")
	}
	return nil
}
