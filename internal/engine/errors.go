package engine

import (
	"errors"
	"fmt"

	"github.com/guitargeek/geeksw/pkg/product"
)

// ErrProducerFailed is the sentinel wrapped by *ProducerExecutionError.
var ErrProducerFailed = errors.New("producer failed")

// ProducerExecutionError reports an instance whose body returned an error,
// panicked, or ran past its timeout.
type ProducerExecutionError struct {
	Producer string
	Product  product.Path
	Err      error
}

func (e *ProducerExecutionError) Error() string {
	return fmt.Sprintf("producer %s failed for %s: %v", e.Producer, e.Product, e.Err)
}

func (e *ProducerExecutionError) Unwrap() []error { return []error{ErrProducerFailed, e.Err} }

// PanicError carries a value recovered from a producer body.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}
