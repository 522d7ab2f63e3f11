package cache

import (
	"errors"
	"fmt"

	"github.com/guitargeek/geeksw/pkg/product"
)

// ErrWrite is the sentinel wrapped by *WriteError.
var ErrWrite = errors.New("cache write failed")

// WriteError reports a product that could not be persisted.
type WriteError struct {
	Product product.Path
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s for %s: %v", ErrWrite.Error(), e.Product, e.Err)
}

func (e *WriteError) Unwrap() []error { return []error{ErrWrite, e.Err} }
