package cache

import (
	"time"

	"github.com/guitargeek/geeksw/internal/catalog"
)

// Policy decides which results are written to the cache.
type Policy struct {
	// Threshold is the compute time above which CacheAuto results persist.
	Threshold time.Duration
	// Disabled turns off all writes.
	Disabled bool
}

// ShouldPersist reports whether a result computed in elapsed time by a
// producer with the given cache policy should be written.
func (p Policy) ShouldPersist(cp catalog.CachePolicy, elapsed time.Duration) bool {
	if p.Disabled {
		return false
	}
	switch cp {
	case catalog.CacheNever:
		return false
	case catalog.CacheAlways:
		return true
	default:
		return elapsed > p.Threshold
	}
}
