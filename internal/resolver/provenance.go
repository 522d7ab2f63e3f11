package resolver

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"sort"

	"github.com/guitargeek/geeksw/internal/dag"
	"github.com/guitargeek/geeksw/pkg/product"
)

const provenanceVersion = "geeksw-provenance-v1"

// Key returns the cache key for a concrete product.
//
// In KeyContent mode the key covers the producer fingerprint, the product
// path and, recursively, the keys of every input, so a change to any
// upstream producer invalidates the entry. Computing it matches and binds
// producers but never loads or executes anything.
func (r *Resolver) Key(path product.Path) (string, error) {
	if r.keys == KeyPath {
		return path.Escape(), nil
	}
	return r.contentKey(path, nil)
}

func (r *Resolver) contentKey(path product.Path, stack []product.Path) (string, error) {
	if key, ok := r.provenance[path]; ok {
		return key, nil
	}
	for i, p := range stack {
		if p == path {
			cycle := make([]string, 0, len(stack)-i+1)
			for _, s := range stack[i:] {
				cycle = append(cycle, s.String())
			}
			cycle = append(cycle, path.String())
			return "", &dag.CycleError{Path: cycle}
		}
	}

	inst, err := r.instance(path)
	if err != nil {
		return "", err
	}

	stack = append(stack, path)

	h := sha256.New()
	writeField(h, provenanceVersion)
	writeField(h, inst.Producer.Fingerprint())
	writeField(h, path.String())

	reqs := make([]Requirement, len(inst.Requirements))
	copy(reqs, inst.Requirements)
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].Name < reqs[j].Name })

	for _, req := range reqs {
		writeField(h, req.Name)
		for _, p := range req.Paths {
			key, err := r.contentKey(p, stack)
			if err != nil {
				return "", err
			}
			writeField(h, p.String())
			writeField(h, key)
		}
	}

	key := hex.EncodeToString(h.Sum(nil))
	r.provenance[path] = key
	return key, nil
}

// writeField length-prefixes s so adjacent fields cannot collide.
func writeField(h hash.Hash, s string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	h.Write(n[:])
	h.Write([]byte(s))
}
