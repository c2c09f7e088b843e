package apicache

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/voltadmin/apicache/codec"
)

// Kind tells queries (cached, tag providers) from mutations (never cached,
// tag invalidators).
type Kind uint8

const (
	KindQuery Kind = iota + 1
	KindMutation
)

func (k Kind) String() string {
	switch k {
	case KindQuery:
		return "query"
	case KindMutation:
		return "mutation"
	default:
		return "unknown"
	}
}

// Request is the transport-neutral shape of one API call. Path is joined to
// the client's BaseURL; a non-nil Body is sent as JSON.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
}

// Operation is anything that can be registered with a client.
type Operation interface {
	Descriptor() Descriptor
}

// Query declares a cached read. A is the argument type, R the result type.
type Query[A, R any] struct {
	Name    string
	Request func(args A) Request

	// Transform shapes the envelope's data into R; nil decodes it as JSON.
	Transform func(data json.RawMessage) (R, error)

	// ProvidesTags lists the tags the result satisfies.
	ProvidesTags func(result R, args A) []Tag

	// Codec encodes R for the persistence tier; nil means JSON.
	Codec codec.Codec[R]
}

// Mutation declares a write. InvalidatesTags is consulted only after the
// call succeeded, so err is always nil today; it is part of the signature so
// tag derivation can be written once for both outcomes.
type Mutation[A, R any] struct {
	Name      string
	Request   func(args A) Request
	Transform func(data json.RawMessage) (R, error)

	InvalidatesTags func(result R, err error, args A) []Tag
}

// Descriptor is the type-erased form of a Query or Mutation. It is immutable
// once registered.
type Descriptor struct {
	Name string
	Kind Kind

	build       func(args any) (Request, error)
	shape       func(data json.RawMessage) (any, error)
	provides    func(result, args any) []Tag
	invalidates func(result any, err error, args any) []Tag
	encode      func(v any) ([]byte, error)
	decode      func(b []byte) (any, error)
}

func (d Descriptor) BuildRequest(args any) (Request, error) {
	if d.build == nil {
		return Request{}, fmt.Errorf("%w: %s has no request builder", ErrInvalidOperation, d.Name)
	}
	return d.build(args)
}

func (d Descriptor) Shape(data json.RawMessage) (any, error) { return d.shape(data) }

// ProvidesTags returns the normalized tags a query result satisfies.
func (d Descriptor) ProvidesTags(result, args any) []Tag {
	if d.provides == nil {
		return nil
	}
	return normalizeTags(d.provides(result, args))
}

// InvalidatesTags returns the normalized tags a mutation outcome invalidates.
func (d Descriptor) InvalidatesTags(result any, err error, args any) []Tag {
	if d.invalidates == nil {
		return nil
	}
	return normalizeTags(d.invalidates(result, err, args))
}

func (q Query[A, R]) Descriptor() Descriptor {
	cd := q.Codec
	if cd == nil {
		cd = codec.JSON[R]{}
	}
	d := Descriptor{
		Name:  q.Name,
		Kind:  KindQuery,
		shape: shapeFunc(q.Transform),
		encode: func(v any) ([]byte, error) {
			r, ok := v.(R)
			if !ok {
				return nil, fmt.Errorf("apicache: %s: encode %T", q.Name, v)
			}
			return cd.Encode(r)
		},
		decode: func(b []byte) (any, error) { return cd.Decode(b) },
	}
	if q.Request != nil {
		d.build = buildFunc(q.Name, q.Request)
	}
	if q.ProvidesTags != nil {
		d.provides = func(result, args any) []Tag {
			r, _ := result.(R)
			a, _ := args.(A)
			return q.ProvidesTags(r, a)
		}
	}
	return d
}

func (m Mutation[A, R]) Descriptor() Descriptor {
	d := Descriptor{
		Name:  m.Name,
		Kind:  KindMutation,
		shape: shapeFunc(m.Transform),
	}
	if m.Request != nil {
		d.build = buildFunc(m.Name, m.Request)
	}
	if m.InvalidatesTags != nil {
		d.invalidates = func(result any, err error, args any) []Tag {
			r, _ := result.(R)
			a, _ := args.(A)
			return m.InvalidatesTags(r, err, a)
		}
	}
	return d
}

func buildFunc[A any](name string, fn func(A) Request) func(any) (Request, error) {
	return func(args any) (Request, error) {
		a, err := argsAs[A](name, args)
		if err != nil {
			return Request{}, err
		}
		return fn(a), nil
	}
}

func shapeFunc[R any](fn func(json.RawMessage) (R, error)) func(json.RawMessage) (any, error) {
	if fn == nil {
		return func(data json.RawMessage) (any, error) {
			var r R
			if len(data) == 0 {
				return r, nil
			}
			if err := json.Unmarshal(data, &r); err != nil {
				return nil, err
			}
			return r, nil
		}
	}
	return func(data json.RawMessage) (any, error) {
		r, err := fn(data)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
}

// argsAs converts untyped args to A. nil means the zero A.
func argsAs[A any](name string, args any) (A, error) {
	var zero A
	if args == nil {
		return zero, nil
	}
	a, ok := args.(A)
	if !ok {
		return zero, fmt.Errorf("%w: %s wants %T, got %T", ErrInvalidArgs, name, zero, args)
	}
	return a, nil
}
