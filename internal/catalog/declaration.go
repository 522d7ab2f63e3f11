package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/guitargeek/geeksw/pkg/product"
)

// Kind selects how a producer consumes stream inputs.
type Kind int

const (
	// One producers run once per instance. Stream inputs are aggregated
	// before they reach the body.
	One Kind = iota
	// Stream producers run once per unit of their stream inputs.
	Stream
)

func (k Kind) String() string {
	switch k {
	case One:
		return "one"
	case Stream:
		return "stream"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// CachePolicy controls whether results are written to the persistent cache.
type CachePolicy int

const (
	// CacheAuto persists results whose computation exceeded the configured
	// time threshold.
	CacheAuto CachePolicy = iota
	// CacheAlways persists every successful result.
	CacheAlways
	// CacheNever opts the producer out of the persistent cache.
	CacheNever
)

func (p CachePolicy) String() string {
	switch p {
	case CacheAuto:
		return "auto"
	case CacheAlways:
		return "always"
	case CacheNever:
		return "never"
	default:
		return fmt.Sprintf("CachePolicy(%d)", int(p))
	}
}

// Body is the executable part of a producer.
type Body func(ctx context.Context, in Inputs) (any, error)

// Requirement names one input of a producer and the pattern that locates it,
// relative to the instance working directory.
type Requirement struct {
	Name    string
	Pattern string
}

// Require is shorthand for a requirement whose pattern equals its name.
func Require(name string) Requirement {
	return Requirement{Name: name, Pattern: name}
}

// Declaration describes a producer before it is compiled into a Catalog.
type Declaration struct {
	// Name identifies the producer. Must be unique within a catalog.
	Name string
	// Product is the pattern of the produced path.
	Product string
	// Requires lists the inputs in the order they are resolved.
	Requires []Requirement
	Kind     Kind
	Cache    CachePolicy
	// Version is mixed into the fingerprint. Bump it when the body changes
	// so cached results are invalidated.
	Version string
	// Fingerprint overrides the derived fingerprint when set.
	Fingerprint string
	Body        Body
}

// CompiledRequirement is a requirement with its pattern parsed.
type CompiledRequirement struct {
	Name    string
	Pattern product.Pattern
	// Multi is set when the pattern contains a wildcard, in which case the
	// input is delivered as a Multi keyed by dataset.
	Multi bool
}

// Producer is a compiled, immutable declaration.
type Producer struct {
	name        string
	product     product.Pattern
	requires    []CompiledRequirement
	kind        Kind
	cache       CachePolicy
	fingerprint string
	body        Body
}

// Name returns the producer identity.
func (p *Producer) Name() string { return p.name }

// Product returns the compiled product pattern.
func (p *Producer) Product() product.Pattern { return p.product }

// Requirements returns the compiled requirements in declaration order.
func (p *Producer) Requirements() []CompiledRequirement {
	out := make([]CompiledRequirement, len(p.requires))
	copy(out, p.requires)
	return out
}

// Kind returns the producer kind.
func (p *Producer) Kind() Kind { return p.kind }

// CachePolicy returns the producer cache policy.
func (p *Producer) CachePolicy() CachePolicy { return p.cache }

// Fingerprint identifies the producer logic and declared metadata.
func (p *Producer) Fingerprint() string { return p.fingerprint }

// Invoke runs the producer body.
func (p *Producer) Invoke(ctx context.Context, in Inputs) (any, error) {
	return p.body(ctx, in)
}

func compile(d Declaration) (*Producer, error) {
	if d.Name == "" {
		return nil, fmt.Errorf("%w: producer without a name (product %q)", ErrInvalidDeclaration, d.Product)
	}
	if d.Body == nil {
		return nil, fmt.Errorf("%w: producer %s has no body", ErrInvalidDeclaration, d.Name)
	}
	if d.Kind != One && d.Kind != Stream {
		return nil, fmt.Errorf("%w: producer %s has unknown kind %d", ErrInvalidDeclaration, d.Name, int(d.Kind))
	}

	prod, err := product.ParsePattern(d.Product)
	if err != nil {
		return nil, fmt.Errorf("%w: producer %s: %v", ErrInvalidDeclaration, d.Name, err)
	}
	if prod.Len() == 0 {
		return nil, fmt.Errorf("%w: producer %s has an empty product pattern", ErrInvalidDeclaration, d.Name)
	}
	if prod.Count(product.Wildcard) > 0 {
		return nil, fmt.Errorf("%w: producer %s: wildcard not allowed in product pattern %q", ErrInvalidDeclaration, d.Name, d.Product)
	}

	bound := make(map[string]bool)
	for _, name := range prod.Placeholders() {
		bound[name] = true
	}

	seen := make(map[string]bool, len(d.Requires))
	requires := make([]CompiledRequirement, 0, len(d.Requires))
	for _, r := range d.Requires {
		if r.Name == "" {
			return nil, fmt.Errorf("%w: producer %s has a requirement without a name", ErrInvalidDeclaration, d.Name)
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("%w: producer %s declares requirement %q twice", ErrInvalidDeclaration, d.Name, r.Name)
		}
		seen[r.Name] = true

		pat, err := product.ParsePattern(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: producer %s requirement %s: %v", ErrInvalidDeclaration, d.Name, r.Name, err)
		}
		if pat.Len() == 0 {
			return nil, fmt.Errorf("%w: producer %s requirement %s has an empty pattern", ErrInvalidDeclaration, d.Name, r.Name)
		}
		wildcards := pat.Count(product.Wildcard)
		if wildcards > 1 {
			return nil, fmt.Errorf("%w: producer %s requirement %s: at most one wildcard is supported", ErrInvalidDeclaration, d.Name, r.Name)
		}
		for _, name := range pat.Placeholders() {
			if !bound[name] {
				return nil, fmt.Errorf("%w: producer %s requirement %s uses <%s> which the product pattern does not bind",
					ErrInvalidDeclaration, d.Name, r.Name, name)
			}
		}
		requires = append(requires, CompiledRequirement{Name: r.Name, Pattern: pat, Multi: wildcards == 1})
	}

	fp := d.Fingerprint
	if fp == "" {
		fp = fingerprint(d.Name, prod, requires, d.Kind, d.Version)
	}

	return &Producer{
		name:        d.Name,
		product:     prod,
		requires:    requires,
		kind:        d.Kind,
		cache:       d.Cache,
		fingerprint: fp,
		body:        d.Body,
	}, nil
}

func fingerprint(name string, prod product.Pattern, requires []CompiledRequirement, kind Kind, version string) string {
	h := sha256.New()
	writeField := func(s string) {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}
	writeField("producer")
	writeField(name)
	writeField(prod.String())
	writeField(kind.String())
	writeField(version)
	for _, r := range requires {
		writeField(r.Name)
		writeField(r.Pattern.String())
	}
	return hex.EncodeToString(h.Sum(nil))
}
