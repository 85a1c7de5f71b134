package compiler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Built-in token standard template names.
const (
	StandardERC20   = "ERC20"
	StandardERC721  = "ERC721"
	StandardERC1155 = "ERC1155"
)

// sourceExt is the file extension of template entry files.
const sourceExt = ".sol"

// Compiler is the compile-cache façade: it resolves a template's import
// tree, invokes the external compiler on cache misses, and memoizes
// artifacts by template name. Entries never expire; only ClearCache removes
// them. Construct one per process and share it across tool handlers.
type Compiler struct {
	resolver *Resolver
	runner   Runner
	log      *zap.Logger

	templatesRoot string

	mu    sync.RWMutex
	cache map[string]*CompiledArtifact
	order []string

	group singleflight.Group
}

// New returns a Compiler reading entry files from templatesRoot, resolving
// library imports under libraryRoot, and compiling via runner.
func New(templatesRoot, libraryRoot string, runner Runner, log *zap.Logger) *Compiler {
	return &Compiler{
		resolver:      NewResolver(templatesRoot, libraryRoot, log),
		runner:        runner,
		log:           log,
		templatesRoot: filepath.Clean(templatesRoot),
		cache:         make(map[string]*CompiledArtifact),
	}
}

// Resolver exposes the import resolver for diagnostics and tests.
func (c *Compiler) Resolver() *Resolver { return c.resolver }

// GetContract returns the compiled artifact for the named template,
// compiling at most once per name until the cache is cleared. Concurrent
// misses for the same name are collapsed into a single compilation. Failed
// compilations are never cached.
func (c *Compiler) GetContract(ctx context.Context, name string) (*CompiledArtifact, error) {
	c.mu.RLock()
	artifact, ok := c.cache[name]
	c.mu.RUnlock()
	if ok {
		return artifact, nil
	}

	v, err, _ := c.group.Do(name, func() (interface{}, error) {
		// Re-check: another flight may have stored it between the read
		// above and joining this group.
		c.mu.RLock()
		cached, ok := c.cache[name]
		c.mu.RUnlock()
		if ok {
			return cached, nil
		}

		artifact, err := c.compile(ctx, name)
		if err != nil {
			return nil, err
		}
		c.store(name, artifact)
		return artifact, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*CompiledArtifact), nil
}

// GetERC20 returns the compiled ERC20 token template.
func (c *Compiler) GetERC20(ctx context.Context) (*CompiledArtifact, error) {
	return c.GetContract(ctx, StandardERC20)
}

// GetERC721 returns the compiled ERC721 token template.
func (c *Compiler) GetERC721(ctx context.Context) (*CompiledArtifact, error) {
	return c.GetContract(ctx, StandardERC721)
}

// GetERC1155 returns the compiled ERC1155 token template.
func (c *Compiler) GetERC1155(ctx context.Context) (*CompiledArtifact, error) {
	return c.GetContract(ctx, StandardERC1155)
}

// ClearCache drops all cached artifacts. In-flight compilations finish and
// store their result into the emptied cache.
func (c *Compiler) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]*CompiledArtifact)
	c.order = nil
}

// CacheKeys returns the cached template names in insertion order. Intended
// for diagnostics and tests; the order carries no semantic guarantee.
func (c *Compiler) CacheKeys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, len(c.order))
	copy(keys, c.order)
	return keys
}

func (c *Compiler) compile(ctx context.Context, name string) (*CompiledArtifact, error) {
	entryPath := filepath.Join(c.templatesRoot, name+sourceExt)
	rootSource, err := os.ReadFile(entryPath)
	if err != nil {
		return nil, fmt.Errorf("read template %q: %w", name, err)
	}

	resolved := c.resolver.ResolveAllImports(string(rootSource), entryPath)
	sources := make(map[string]Source, len(resolved))
	for key, content := range resolved {
		sources[key] = Source{Content: content}
	}

	c.log.Debug("compiling template",
		zap.String("template", name),
		zap.Int("sources", len(sources)))

	out, err := c.runner.Run(ctx, &Input{
		Language: "Solidity",
		Sources:  sources,
		Settings: defaultSettings(),
	})
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", name, err)
	}

	for _, d := range out.Errors {
		if d.Severity == "error" {
			return nil, &CompilationError{Diagnostics: out.Errors}
		}
		c.log.Warn("compiler diagnostic",
			zap.String("template", name),
			zap.String("severity", d.Severity),
			zap.String("message", d.Message))
	}

	entryKey := name + sourceExt
	byName := out.Contracts[entryKey]
	if len(byName) == 0 {
		return nil, fmt.Errorf("compiler output has no contracts for %q", entryKey)
	}

	// Templates declare exactly one top-level contract. If that assumption
	// ever breaks, take the lexically first name so the pick stays
	// deterministic, and say so.
	names := make([]string, 0, len(byName))
	for contractName := range byName {
		names = append(names, contractName)
	}
	sort.Strings(names)
	if len(names) > 1 {
		c.log.Warn("template declares multiple contracts, using first",
			zap.String("template", name),
			zap.Strings("contracts", names))
	}

	contract := byName[names[0]]
	return &CompiledArtifact{
		ContractName: names[0],
		ABI:          contract.ABI,
		Bytecode:     contract.EVM.Bytecode.Object,
		Metadata:     contract.Metadata,
	}, nil
}

func (c *Compiler) store(name string, artifact *CompiledArtifact) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.cache[name]; !ok {
		c.order = append(c.order, name)
	}
	c.cache[name] = artifact
}
