package resolver

import (
	"github.com/guitargeek/geeksw/internal/catalog"
	"github.com/guitargeek/geeksw/pkg/product"
)

// Requirement is one concrete input of an instance.
type Requirement struct {
	Name string
	// Paths holds one path for scalar requirements and one path per dataset
	// for wildcard requirements.
	Paths []product.Path
	// Datasets parallels Paths for wildcard requirements and holds the
	// dataset names as configured.
	Datasets []string
	Multi    bool
}

// Instance is a producer bound to one concrete product.
//
// Instances are identified by their product path; two instances with the
// same product are the same instance.
type Instance struct {
	Producer     *catalog.Producer
	Product      product.Path
	WorkingDir   product.Path
	Substitution catalog.Substitution
	Requirements []Requirement
	// CacheKey is set when the resolver runs with a persistent cache.
	CacheKey string
}

// ID returns the deduplication key of the instance.
func (i *Instance) ID() string {
	return string(i.Product)
}

// Inputs returns every concrete requirement path, deduplicated, in
// declaration order.
func (i *Instance) Inputs() []product.Path {
	seen := make(map[product.Path]bool)
	var out []product.Path
	for _, r := range i.Requirements {
		for _, p := range r.Paths {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}

// Meta returns the metadata passed to the producer body.
func (i *Instance) Meta() catalog.Meta {
	return catalog.Meta{
		Producer:     i.Producer.Name(),
		Product:      i.Product,
		WorkingDir:   i.WorkingDir,
		Substitution: i.Substitution,
		Unit:         -1,
	}
}
