package compiler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
)

// Runner invokes the external Solidity compiler with a standard-json
// request. Implementations must be safe for concurrent use.
type Runner interface {
	Run(ctx context.Context, input *Input) (*Output, error)
}

// SolcRunner runs the solc binary with --standard-json. No timeout is
// imposed here; callers own any deadline via ctx.
type SolcRunner struct {
	// Binary is the solc executable path. Empty means "solc" on PATH.
	Binary string
}

func (s *SolcRunner) Run(ctx context.Context, input *Input) (*Output, error) {
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encode compiler input: %w", err)
	}

	bin := s.Binary
	if bin == "" {
		bin = "solc"
	}

	cmd := exec.CommandContext(ctx, bin, "--standard-json")
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("run %s: %w: %s", bin, err, stderr.String())
	}

	var out Output
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("decode compiler output: %w", err)
	}
	return &out, nil
}
