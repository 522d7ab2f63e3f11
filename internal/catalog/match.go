package catalog

import (
	"github.com/guitargeek/geeksw/pkg/product"
)

// Substitution binds placeholder names to literal segments.
type Substitution map[string]string

// Match is the outcome of mapping a concrete path to a producer.
type Match struct {
	Producer *Producer
	// WorkingDir is the prefix of the path that the pattern did not cover.
	WorkingDir   product.Path
	Substitution Substitution
}

// candidate ranks a matching producer. Higher is better on every key.
type candidate struct {
	producer     *Producer
	lastLiteral  bool
	placeholders int
	depth        int
	subs         Substitution
}

func (a candidate) better(b candidate) bool {
	if a.lastLiteral != b.lastLiteral {
		return a.lastLiteral
	}
	if a.placeholders != b.placeholders {
		return a.placeholders < b.placeholders
	}
	return a.depth > b.depth
}

func (a candidate) ties(b candidate) bool {
	return a.lastLiteral == b.lastLiteral && a.placeholders == b.placeholders && a.depth == b.depth
}

// Match finds the producer whose product pattern matches a suffix of path.
//
// Candidates are ranked by, in order: a literal final segment, fewer
// placeholders, more matched segments. A tie on all three is reported as
// ErrAmbiguousMatch; no candidate is reported as ErrNoMatch. Both come back
// as *PatternResolutionError.
func (c *Catalog) Match(path product.Path) (Match, error) {
	segs := path.Segments()

	c.mu.RLock()
	producers := c.ordered
	c.mu.RUnlock()

	var best *candidate
	var tied []string
	for _, p := range producers {
		subs, ok := matchSuffix(p.product, segs)
		if !ok {
			continue
		}
		pat := p.product.Segments()
		cand := candidate{
			producer:     p,
			lastLiteral:  pat[len(pat)-1].Kind == product.Literal,
			placeholders: p.product.Count(product.Placeholder),
			depth:        len(pat),
			subs:         subs,
		}
		switch {
		case best == nil || cand.better(*best):
			best = &cand
			tied = nil
		case cand.ties(*best):
			if tied == nil {
				tied = []string{best.producer.name}
			}
			tied = append(tied, p.name)
		}
	}

	if best == nil {
		return Match{}, &PatternResolutionError{Kind: ErrNoMatch, Path: path}
	}
	if len(tied) > 0 {
		return Match{}, &PatternResolutionError{Kind: ErrAmbiguousMatch, Path: path, Candidates: tied}
	}

	return Match{
		Producer:     best.producer,
		WorkingDir:   path.Prefix(len(segs) - best.depth),
		Substitution: best.subs,
	}, nil
}

// matchSuffix compares the pattern against the trailing segments of path.
// A placeholder that appears twice must bind the same text both times.
func matchSuffix(pat product.Pattern, segs []string) (Substitution, bool) {
	tokens := pat.Segments()
	if len(tokens) == 0 || len(tokens) > len(segs) {
		return nil, false
	}
	offset := len(segs) - len(tokens)
	subs := Substitution{}
	for i, tok := range tokens {
		seg := segs[offset+i]
		switch tok.Kind {
		case product.Literal:
			if tok.Text != seg {
				return nil, false
			}
		case product.Placeholder:
			if prev, ok := subs[tok.Text]; ok && prev != seg {
				return nil, false
			}
			subs[tok.Text] = seg
		default:
			return nil, false
		}
	}
	return subs, true
}
