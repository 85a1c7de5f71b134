package compiler

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// LibraryPrefix is the import namespace of the bundled third-party contract
// library. Specifiers starting with it resolve under the library root.
const LibraryPrefix = "@openzeppelin/contracts/"

// importPattern extracts the specifier from `import "X";` and
// `import ... from "X";` statements, single or double quoted. This is a
// lexical scan, not a parser: an import-shaped line inside a comment will
// still be picked up. The grammar scope (own templates plus one well-known
// library) is narrow enough that this stays a documented limitation.
var importPattern = regexp.MustCompile(`import\s+(?:[^;'"]*?from\s+)?['"]([^'"]+)['"]\s*;`)

// Resolver turns a single entry source file into the complete, deduplicated
// source set for a multi-file compilation.
type Resolver struct {
	templatesRoot string
	libraryRoot   string
	log           *zap.Logger
}

// NewResolver returns a Resolver reading templates from templatesRoot and
// library-qualified imports from libraryRoot.
func NewResolver(templatesRoot, libraryRoot string, log *zap.Logger) *Resolver {
	return &Resolver{
		templatesRoot: filepath.Clean(templatesRoot),
		libraryRoot:   filepath.Clean(libraryRoot),
		log:           log,
	}
}

// ResolveImportPath maps an import specifier to an absolute file path.
// importingFile is the absolute path of the file containing the specifier;
// it may be empty, in which case relative specifiers resolve against the
// templates root. Returns *ImportNotFoundError when the resolved file
// cannot be read.
func (r *Resolver) ResolveImportPath(specifier, importingFile string) (string, error) {
	var abs string
	switch {
	case strings.HasPrefix(specifier, LibraryPrefix):
		abs = filepath.Join(r.libraryRoot, filepath.FromSlash(strings.TrimPrefix(specifier, LibraryPrefix)))
	case strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../"):
		if importingFile != "" {
			abs = filepath.Join(filepath.Dir(importingFile), filepath.FromSlash(specifier))
		} else {
			abs = filepath.Join(r.templatesRoot, filepath.FromSlash(specifier))
		}
	default:
		abs = filepath.Join(r.templatesRoot, filepath.FromSlash(specifier))
	}

	if _, err := os.Stat(abs); err != nil {
		return "", &ImportNotFoundError{Specifier: specifier, ImportingFile: importingFile, Err: err}
	}
	return abs, nil
}

// ResolveAllImports walks the import graph depth-first from the root unit
// and returns the complete source-key to content mapping for a compilation.
// A visited set keyed by absolute path makes the walk idempotent: cyclic,
// diamond and self imports each contribute exactly one entry. Transitive
// imports that fail to resolve are logged and skipped; if the missing file
// mattered, the compiler reports the missing symbol later.
func (r *Resolver) ResolveAllImports(rootSource, rootPath string) map[string]string {
	sources := make(map[string]string)
	visited := make(map[string]struct{})
	r.walk(rootSource, filepath.Clean(rootPath), sources, visited)
	return sources
}

func (r *Resolver) walk(content, absPath string, sources map[string]string, visited map[string]struct{}) {
	if _, ok := visited[absPath]; ok {
		return
	}
	visited[absPath] = struct{}{}
	sources[r.sourceKey(absPath)] = content

	for _, m := range importPattern.FindAllStringSubmatch(content, -1) {
		specifier := m[1]
		next, err := r.ResolveImportPath(specifier, absPath)
		if err != nil {
			r.log.Warn("skipping unresolved import",
				zap.String("specifier", specifier),
				zap.String("referenced_from", absPath),
				zap.Error(err))
			continue
		}
		next = filepath.Clean(next)
		if _, ok := visited[next]; ok {
			continue
		}
		data, err := os.ReadFile(next)
		if err != nil {
			r.log.Warn("skipping unreadable import",
				zap.String("specifier", specifier),
				zap.String("referenced_from", absPath),
				zap.Error(err))
			continue
		}
		r.walk(string(data), next, sources, visited)
	}
}

// sourceKey derives the canonical compilation key for an absolute path.
// Files under the library root keep the library namespace prefix; everything
// else is keyed relative to the templates root. Keys always use forward
// slashes. Two distinct paths under the same root can never collide because
// the derivation is a pure relative-path computation.
func (r *Resolver) sourceKey(absPath string) string {
	if rel, err := filepath.Rel(r.libraryRoot, absPath); err == nil && !strings.HasPrefix(rel, "..") {
		return LibraryPrefix + filepath.ToSlash(rel)
	}
	if rel, err := filepath.Rel(r.templatesRoot, absPath); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(absPath)
}
