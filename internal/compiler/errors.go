package compiler

import (
	"fmt"
	"strings"
)

// ImportNotFoundError reports an import specifier that could not be resolved
// to a readable file. ImportingFile is empty when the specifier was resolved
// without a referencing file context.
type ImportNotFoundError struct {
	Specifier     string
	ImportingFile string
	Err           error
}

func (e *ImportNotFoundError) Error() string {
	if e.ImportingFile != "" {
		return fmt.Sprintf("import %q (referenced from %s) not found: %v", e.Specifier, e.ImportingFile, e.Err)
	}
	return fmt.Sprintf("import %q not found: %v", e.Specifier, e.Err)
}

func (e *ImportNotFoundError) Unwrap() error { return e.Err }

// CompilationError reports one or more severity-"error" diagnostics from the
// external compiler. The full diagnostic list (warnings included) is kept
// for caller-side reporting.
type CompilationError struct {
	Diagnostics []Diagnostic
}

func (e *CompilationError) Error() string {
	var msgs []string
	for _, d := range e.Diagnostics {
		if d.Severity != "error" {
			continue
		}
		if d.FormattedMessage != "" {
			msgs = append(msgs, d.FormattedMessage)
		} else {
			msgs = append(msgs, d.Message)
		}
	}
	return fmt.Sprintf("compilation failed with %d error(s): %s", len(msgs), strings.Join(msgs, "; "))
}
