package cache

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	gojson "github.com/goccy/go-json"
	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"

	"github.com/guitargeek/geeksw/internal/stream"
	"github.com/guitargeek/geeksw/pkg/values"
)

// Codec serializes one kind of value. The tag is stored next to every
// entry so the matching codec decodes it.
type Codec interface {
	Tag() string
	Ext() string
	Accepts(v any) bool
	Encode(w io.Writer, v any) error
	Decode(r io.Reader) (any, error)
}

// Uncacheable is implemented by values that must never be persisted.
type Uncacheable interface {
	Uncacheable()
}

// Registry selects codecs by value and by tag. Codecs are tried in
// registration order, so specific codecs go before catch-alls.
type Registry struct {
	codecs []Codec
	byTag  map[string]Codec
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byTag: make(map[string]Codec)}
}

// DefaultRegistry returns a registry with codecs for the value kinds in
// package values, common Go builtins, stream lists, and a msgpack catch-all.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(arrayCodec{})
	r.Register(jsonCodec[values.Jagged]{tag: "jagged"})
	r.Register(jsonCodec[*values.Table]{tag: "table"})
	r.Register(yamlCodec[*values.Cutflow]{tag: "cutflow"})
	r.Register(msgpackCodec[values.Figure]{tag: "figure"})
	r.Register(msgpackCodec[string]{tag: "str"})
	r.Register(msgpackCodec[bool]{tag: "bool"})
	r.Register(msgpackCodec[int]{tag: "int"})
	r.Register(msgpackCodec[int64]{tag: "int64"})
	r.Register(msgpackCodec[float64]{tag: "float"})
	r.Register(msgpackCodec[[]float64]{tag: "floats"})
	r.Register(msgpackCodec[[]int]{tag: "ints"})
	r.Register(msgpackCodec[[]string]{tag: "strs"})
	r.Register(msgpackCodec[map[string]float64]{tag: "floatmap"})
	r.Register(&streamCodec{registry: r})
	r.Register(objectCodec{})
	return r
}

// Register appends a codec. A codec with an existing tag replaces the old
// one in place.
func (r *Registry) Register(c Codec) {
	if _, ok := r.byTag[c.Tag()]; ok {
		for i, old := range r.codecs {
			if old.Tag() == c.Tag() {
				r.codecs[i] = c
			}
		}
	} else {
		r.codecs = append(r.codecs, c)
	}
	r.byTag[c.Tag()] = c
}

// For returns the first codec accepting v.
func (r *Registry) For(v any) (Codec, bool) {
	for _, c := range r.codecs {
		if c.Accepts(v) {
			return c, true
		}
	}
	return nil, false
}

// ByTag returns the codec registered under tag.
func (r *Registry) ByTag(tag string) (Codec, bool) {
	c, ok := r.byTag[tag]
	return c, ok
}

// arrayCodec stores values.Array as little-endian float64s.
type arrayCodec struct{}

func (arrayCodec) Tag() string { return "array" }
func (arrayCodec) Ext() string { return "bin" }

func (arrayCodec) Accepts(v any) bool {
	_, ok := v.(values.Array)
	return ok
}

func (arrayCodec) Encode(w io.Writer, v any) error {
	arr := v.(values.Array)
	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(arr))); err != nil {
		return err
	}
	var buf [8]byte
	for _, f := range arr {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
		if _, err := bw.Write(buf[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func (arrayCodec) Decode(r io.Reader) (any, error) {
	br := bufio.NewReader(r)
	var n uint64
	if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	arr := make(values.Array, 0, n)
	var buf [8]byte
	for i := uint64(0); i < n; i++ {
		if _, err := io.ReadFull(br, buf[:]); err != nil {
			return nil, fmt.Errorf("array truncated at element %d: %w", i, err)
		}
		arr = append(arr, math.Float64frombits(binary.LittleEndian.Uint64(buf[:])))
	}
	return arr, nil
}

type jsonCodec[T any] struct{ tag string }

func (c jsonCodec[T]) Tag() string { return c.tag }
func (jsonCodec[T]) Ext() string   { return "json" }

func (jsonCodec[T]) Accepts(v any) bool {
	_, ok := v.(T)
	return ok
}

func (jsonCodec[T]) Encode(w io.Writer, v any) error {
	return gojson.NewEncoder(w).Encode(v.(T))
}

func (jsonCodec[T]) Decode(r io.Reader) (any, error) {
	var out T
	if err := gojson.NewDecoder(r).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

type yamlCodec[T any] struct{ tag string }

func (c yamlCodec[T]) Tag() string { return c.tag }
func (yamlCodec[T]) Ext() string   { return "yaml" }

func (yamlCodec[T]) Accepts(v any) bool {
	_, ok := v.(T)
	return ok
}

func (yamlCodec[T]) Encode(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	if err := enc.Encode(v.(T)); err != nil {
		return err
	}
	return enc.Close()
}

func (yamlCodec[T]) Decode(r io.Reader) (any, error) {
	var out T
	if err := yaml.NewDecoder(r).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

type msgpackCodec[T any] struct{ tag string }

func (c msgpackCodec[T]) Tag() string { return c.tag }
func (msgpackCodec[T]) Ext() string   { return "msgpack" }

func (msgpackCodec[T]) Accepts(v any) bool {
	_, ok := v.(T)
	return ok
}

func (msgpackCodec[T]) Encode(w io.Writer, v any) error {
	return msgpack.NewEncoder(w).Encode(v.(T))
}

func (msgpackCodec[T]) Decode(r io.Reader) (any, error) {
	var out T
	if err := msgpack.NewDecoder(r).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// objectCodec is the catch-all for values without a dedicated codec.
// Decoding yields msgpack's generic representation.
type objectCodec struct{}

func (objectCodec) Tag() string { return "object" }
func (objectCodec) Ext() string { return "msgpack" }

func (objectCodec) Accepts(v any) bool { return v != nil }

func (objectCodec) Encode(w io.Writer, v any) error {
	return msgpack.NewEncoder(w).Encode(v)
}

func (objectCodec) Decode(r io.Reader) (any, error) {
	var out any
	if err := msgpack.NewDecoder(r).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// streamUnit is one encoded unit of a stream list.
type streamUnit struct {
	Tag  string `msgpack:"tag"`
	Data []byte `msgpack:"data"`
}

// streamCodec stores a stream list as a msgpack envelope of units, each
// encoded with its own codec.
type streamCodec struct {
	registry *Registry
}

func (*streamCodec) Tag() string { return "stream" }
func (*streamCodec) Ext() string { return "msgpack" }

func (*streamCodec) Accepts(v any) bool {
	_, ok := v.(*stream.List)
	return ok
}

func (c *streamCodec) Encode(w io.Writer, v any) error {
	l := v.(*stream.List)
	units := make([]streamUnit, l.Len())
	for i := range units {
		item := l.At(i)
		if _, ok := item.(Uncacheable); ok {
			return fmt.Errorf("unit %d: %T is not cacheable", i, item)
		}
		codec, ok := c.registry.For(item)
		if !ok {
			return fmt.Errorf("unit %d: no codec for %T", i, item)
		}
		var buf bytes.Buffer
		if err := codec.Encode(&buf, item); err != nil {
			return fmt.Errorf("unit %d: %w", i, err)
		}
		units[i] = streamUnit{Tag: codec.Tag(), Data: buf.Bytes()}
	}
	return msgpack.NewEncoder(w).Encode(units)
}

func (c *streamCodec) Decode(r io.Reader) (any, error) {
	var units []streamUnit
	if err := msgpack.NewDecoder(r).Decode(&units); err != nil {
		return nil, err
	}
	items := make([]any, len(units))
	for i, u := range units {
		codec, ok := c.registry.ByTag(u.Tag)
		if !ok {
			return nil, fmt.Errorf("unit %d: unknown tag %q", i, u.Tag)
		}
		v, err := codec.Decode(bytes.NewReader(u.Data))
		if err != nil {
			return nil, fmt.Errorf("unit %d: %w", i, err)
		}
		items[i] = v
	}
	return stream.NewList(items...)
}

var errNoCodec = errors.New("no codec accepts value")
