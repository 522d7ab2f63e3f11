package dag

import (
	"errors"
	"strings"
)

// ErrCycleDetected is the sentinel wrapped by *CycleError.
var ErrCycleDetected = errors.New("circular dependency detected")

// CycleError reports a dependency cycle. Path starts and ends with the same
// node when it is known.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	if e == nil {
		return ""
	}
	if len(e.Path) == 0 {
		return ErrCycleDetected.Error()
	}
	return ErrCycleDetected.Error() + ": " + strings.Join(e.Path, " -> ")
}

func (e *CycleError) Unwrap() error { return ErrCycleDetected }
