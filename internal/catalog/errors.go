package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/guitargeek/geeksw/pkg/product"
)

var (
	// ErrInvalidDeclaration is returned when a declaration cannot be compiled.
	ErrInvalidDeclaration = errors.New("invalid producer declaration")
	// ErrDuplicate is returned when two declarations share a name or a
	// product pattern.
	ErrDuplicate = errors.New("duplicate producer")
	// ErrNoMatch is returned when no producer matches a path.
	ErrNoMatch = errors.New("no producer matches")
	// ErrAmbiguousMatch is returned when two producers match a path equally
	// well.
	ErrAmbiguousMatch = errors.New("ambiguous producer match")
)

// PatternResolutionError reports a path that could not be mapped to exactly
// one producer. Kind is ErrNoMatch or ErrAmbiguousMatch.
type PatternResolutionError struct {
	Kind error
	Path product.Path
	// Candidates lists the tied producer names for ambiguous matches.
	Candidates []string
}

func (e *PatternResolutionError) Error() string {
	if e == nil {
		return ""
	}
	if len(e.Candidates) > 0 {
		return fmt.Sprintf("%s for %s: %s", e.Kind.Error(), e.Path, strings.Join(e.Candidates, ", "))
	}
	return fmt.Sprintf("%s %s", e.Kind.Error(), e.Path)
}

func (e *PatternResolutionError) Unwrap() error { return e.Kind }
