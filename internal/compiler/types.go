// Package compiler resolves Solidity template imports and memoizes compiled
// contract artifacts so repeated deployments do not re-run the external
// compiler.
package compiler

import "encoding/json"

// CompiledArtifact holds the compiler output for one named contract.
type CompiledArtifact struct {
	ContractName string          `json:"contract_name"`
	ABI          json.RawMessage `json:"abi"`
	Bytecode     string          `json:"bytecode"`
	Metadata     string          `json:"metadata"`
}

// Input is a solc standard-json compilation request.
type Input struct {
	Language string            `json:"language"`
	Sources  map[string]Source `json:"sources"`
	Settings Settings          `json:"settings"`
}

// Source is one source unit in a standard-json request, keyed by its
// canonical source key in the Sources map.
type Source struct {
	Content string `json:"content"`
}

// Settings mirrors the solc standard-json settings object.
type Settings struct {
	Optimizer       Optimizer                      `json:"optimizer"`
	OutputSelection map[string]map[string][]string `json:"outputSelection"`
}

// Optimizer controls solc bytecode optimization.
type Optimizer struct {
	Enabled bool `json:"enabled"`
	Runs    int  `json:"runs"`
}

// Output is a solc standard-json compilation response.
type Output struct {
	Errors    []Diagnostic                   `json:"errors,omitempty"`
	Contracts map[string]map[string]Contract `json:"contracts"`
}

// Diagnostic is a single compiler message. Severity is "error", "warning"
// or "info"; only "error" entries fail a compilation.
type Diagnostic struct {
	Severity         string `json:"severity"`
	Type             string `json:"type,omitempty"`
	Component        string `json:"component,omitempty"`
	Message          string `json:"message"`
	FormattedMessage string `json:"formattedMessage,omitempty"`
}

// Contract is the per-contract slice of a standard-json response.
type Contract struct {
	ABI      json.RawMessage `json:"abi"`
	Metadata string          `json:"metadata"`
	EVM      struct {
		Bytecode struct {
			Object string `json:"object"`
		} `json:"bytecode"`
	} `json:"evm"`
}

// defaultSettings is the fixed settings block used for every compilation.
func defaultSettings() Settings {
	return Settings{
		Optimizer: Optimizer{Enabled: true, Runs: 200},
		OutputSelection: map[string]map[string][]string{
			"*": {"*": {"abi", "evm.bytecode", "metadata"}},
		},
	}
}
