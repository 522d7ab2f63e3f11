// Package product implements the addressing scheme for computed artifacts.
//
// A product is named by a slash-delimited path. Concrete paths contain only
// literal segments. Patterns may additionally contain a wildcard segment "*",
// expanded into one dataset name during resolution, and placeholder segments
// "<name>", bound to literal text when a producer declaration matches a
// concrete path.
package product

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Separator delimits path segments.
const Separator = "/"

// Root is the empty concrete path. It is the working directory of a producer
// instance whose pattern matched the whole target.
const Root Path = "/"

// escapeSeparator replaces "/" in file-system safe renderings of a path.
// Underscores inside segments are written as escapeUnderscore, so "__" only
// ever comes from a separator.
const (
	escapeSeparator  = "__"
	escapeUnderscore = "_5f"
)

// ErrInvalidPath is returned for malformed paths and patterns.
var ErrInvalidPath = errors.New("invalid product path")

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Path is a concrete product path in canonical form ("/a/b/c").
//
// The zero value is not a valid path; use Parse or Root.
type Path string

// Parse parses a concrete path. A leading slash is optional, trailing and
// duplicate slashes are rejected, and wildcard or placeholder segments are
// not allowed.
func Parse(s string) (Path, error) {
	segs, err := splitSegments(s)
	if err != nil {
		return "", err
	}
	for _, seg := range segs {
		if err := validateLiteral(seg); err != nil {
			return "", fmt.Errorf("%w %q: %v", ErrInvalidPath, s, err)
		}
	}
	return fromSegments(segs), nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// statically known paths.
func MustParse(s string) Path {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the canonical form of the path.
func (p Path) String() string {
	return string(p)
}

// Segments returns the literal segments of the path. Root has none.
func (p Path) Segments() []string {
	trimmed := strings.Trim(string(p), Separator)
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, Separator)
}

// Len returns the number of segments.
func (p Path) Len() int {
	return len(p.Segments())
}

// Last returns the final segment, or "" for Root.
func (p Path) Last() string {
	segs := p.Segments()
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}

// Prefix returns the path made of the first n segments.
func (p Path) Prefix(n int) Path {
	segs := p.Segments()
	if n <= 0 {
		return Root
	}
	if n > len(segs) {
		n = len(segs)
	}
	return fromSegments(segs[:n])
}

// Escape renders the path as a single file-system safe name, replacing the
// separator with "__" and "_" with "_5f". Distinct paths never share an
// escaped form. Root renders as "_root".
func (p Path) Escape() string {
	segs := p.Segments()
	if len(segs) == 0 {
		return "_root"
	}
	escaped := make([]string, len(segs))
	for i, s := range segs {
		escaped[i] = strings.ReplaceAll(s, "_", escapeUnderscore)
	}
	return strings.Join(escaped, escapeSeparator)
}

// SegmentKind classifies a pattern segment.
type SegmentKind int

const (
	// Literal segments match themselves.
	Literal SegmentKind = iota
	// Wildcard segments ("*") expand into one dataset name.
	Wildcard
	// Placeholder segments ("<name>") bind one literal segment at match time.
	Placeholder
)

func (k SegmentKind) String() string {
	switch k {
	case Literal:
		return "literal"
	case Wildcard:
		return "wildcard"
	case Placeholder:
		return "placeholder"
	default:
		return fmt.Sprintf("SegmentKind(%d)", int(k))
	}
}

// Segment is one token of a Pattern. Text holds the literal text or the
// placeholder name (without angle brackets).
type Segment struct {
	Kind SegmentKind
	Text string
}

func (s Segment) String() string {
	switch s.Kind {
	case Wildcard:
		return "*"
	case Placeholder:
		return "<" + s.Text + ">"
	default:
		return s.Text
	}
}

// Pattern is a parsed product pattern: an ordered list of literal, wildcard
// and placeholder segments. Patterns are compiled once and then compared
// segment by segment.
type Pattern struct {
	segs []Segment
}

// ParsePattern parses s according to the path grammar:
//
//	path    := segment ('/' segment)*
//	segment := literal | '*' | '<' identifier '>'
func ParsePattern(s string) (Pattern, error) {
	raw, err := splitSegments(s)
	if err != nil {
		return Pattern{}, err
	}
	segs := make([]Segment, 0, len(raw))
	for _, r := range raw {
		seg, err := parseSegment(r)
		if err != nil {
			return Pattern{}, fmt.Errorf("%w %q: %v", ErrInvalidPath, s, err)
		}
		segs = append(segs, seg)
	}
	return Pattern{segs: segs}, nil
}

// MustParsePattern is like ParsePattern but panics on error.
func MustParsePattern(s string) Pattern {
	p, err := ParsePattern(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Segments returns a copy of the pattern tokens.
func (p Pattern) Segments() []Segment {
	out := make([]Segment, len(p.segs))
	copy(out, p.segs)
	return out
}

// Len returns the number of segments.
func (p Pattern) Len() int {
	return len(p.segs)
}

// String renders the pattern in its canonical relative form ("a/<b>/*").
func (p Pattern) String() string {
	parts := make([]string, len(p.segs))
	for i, s := range p.segs {
		parts[i] = s.String()
	}
	return strings.Join(parts, Separator)
}

// IsConcrete reports whether the pattern holds only literal segments.
func (p Pattern) IsConcrete() bool {
	for _, s := range p.segs {
		if s.Kind != Literal {
			return false
		}
	}
	return true
}

// Count returns the number of segments of the given kind.
func (p Pattern) Count(kind SegmentKind) int {
	n := 0
	for _, s := range p.segs {
		if s.Kind == kind {
			n++
		}
	}
	return n
}

// Placeholders returns the placeholder names in order of appearance.
func (p Pattern) Placeholders() []string {
	var names []string
	for _, s := range p.segs {
		if s.Kind == Placeholder {
			names = append(names, s.Text)
		}
	}
	return names
}

// Substitute replaces every placeholder with its bound text. A placeholder
// without a binding is an error.
func (p Pattern) Substitute(subs map[string]string) (Pattern, error) {
	out := make([]Segment, len(p.segs))
	for i, s := range p.segs {
		if s.Kind != Placeholder {
			out[i] = s
			continue
		}
		text, ok := subs[s.Text]
		if !ok {
			return Pattern{}, fmt.Errorf("%w: placeholder <%s> is not bound in %q", ErrInvalidPath, s.Text, p.String())
		}
		out[i] = Segment{Kind: Literal, Text: text}
	}
	return Pattern{segs: out}, nil
}

// Under prefixes the pattern with a concrete directory.
func (p Pattern) Under(dir Path) Pattern {
	base := dir.Segments()
	out := make([]Segment, 0, len(base)+len(p.segs))
	for _, s := range base {
		out = append(out, Segment{Kind: Literal, Text: s})
	}
	out = append(out, p.segs...)
	return Pattern{segs: out}
}

// Concrete converts a pattern without wildcards or placeholders to a Path.
func (p Pattern) Concrete() (Path, error) {
	if !p.IsConcrete() {
		return "", fmt.Errorf("%w: %q is not concrete", ErrInvalidPath, p.String())
	}
	texts := make([]string, len(p.segs))
	for i, s := range p.segs {
		texts[i] = s.Text
	}
	return fromSegments(texts), nil
}

// Expand resolves the pattern into concrete paths. A pattern without a
// wildcard yields exactly one path; a pattern with one wildcard yields one
// path per dataset, in dataset order. Placeholders must have been substituted
// before, and at most one wildcard is supported.
func (p Pattern) Expand(datasets []string) ([]Path, error) {
	if n := p.Count(Placeholder); n > 0 {
		return nil, fmt.Errorf("%w: %q still contains %d placeholder(s)", ErrInvalidPath, p.String(), n)
	}
	switch p.Count(Wildcard) {
	case 0:
		c, err := p.Concrete()
		if err != nil {
			return nil, err
		}
		return []Path{c}, nil
	case 1:
	default:
		return nil, fmt.Errorf("%w: more than one wildcard in %q is not supported", ErrInvalidPath, p.String())
	}

	out := make([]Path, 0, len(datasets))
	for _, ds := range datasets {
		dsSegs := NormalizeDataset(ds)
		if len(dsSegs) == 0 {
			return nil, fmt.Errorf("%w: empty dataset name", ErrInvalidPath)
		}
		var texts []string
		for _, s := range p.segs {
			if s.Kind == Wildcard {
				texts = append(texts, dsSegs...)
				continue
			}
			texts = append(texts, s.Text)
		}
		for _, t := range texts {
			if err := validateLiteral(t); err != nil {
				return nil, fmt.Errorf("%w: dataset %q: %v", ErrInvalidPath, ds, err)
			}
		}
		out = append(out, fromSegments(texts))
	}
	return out, nil
}

// NormalizeDataset splits a dataset name such as "/2016/mc" into its literal
// segments. Leading and trailing slashes are ignored.
func NormalizeDataset(name string) []string {
	trimmed := strings.Trim(name, Separator)
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, Separator)
}

func splitSegments(s string) ([]string, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	trimmed := strings.TrimPrefix(s, Separator)
	if trimmed == "" {
		return nil, nil
	}
	segs := strings.Split(trimmed, Separator)
	for _, seg := range segs {
		if seg == "" {
			return nil, fmt.Errorf("%w %q: empty segment", ErrInvalidPath, s)
		}
	}
	return segs, nil
}

func parseSegment(s string) (Segment, error) {
	if s == "*" {
		return Segment{Kind: Wildcard, Text: s}, nil
	}
	if strings.HasPrefix(s, "<") && strings.HasSuffix(s, ">") {
		name := s[1 : len(s)-1]
		if !identifierRe.MatchString(name) {
			return Segment{}, fmt.Errorf("bad placeholder name %q", name)
		}
		return Segment{Kind: Placeholder, Text: name}, nil
	}
	if err := validateLiteral(s); err != nil {
		return Segment{}, err
	}
	return Segment{Kind: Literal, Text: s}, nil
}

func validateLiteral(s string) error {
	if s == "" {
		return errors.New("empty segment")
	}
	if strings.ContainsAny(s, "*<>") {
		return fmt.Errorf("segment %q contains a reserved character", s)
	}
	return nil
}

func fromSegments(segs []string) Path {
	return Path(Separator + strings.Join(segs, Separator))
}
