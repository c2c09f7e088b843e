package codec

import (
	"github.com/fxamacker/cbor/v2"
)

// CBOR codes values with fxamacker/cbor. Build it with NewCBOR or MustCBOR.
//
// Frames read back from a shared store are decoded with duplicate map keys
// rejected and nesting capped.
type CBOR[V any] struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var _ Codec[struct{}] = CBOR[struct{}]{}

const cborMaxNesting = 32

// NewCBOR returns a CBOR codec. With deterministic set, map keys are sorted
// per RFC 8949 core deterministic encoding; timestamps are RFC3339Nano text.
func NewCBOR[V any](deterministic bool) (CBOR[V], error) {
	sort := cbor.SortNone
	if deterministic {
		sort = cbor.SortCoreDeterministic
	}
	em, err := cbor.EncOptions{Sort: sort, Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		return CBOR[V]{}, err
	}
	dm, err := cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		MaxNestedLevels: cborMaxNesting,
	}.DecMode()
	if err != nil {
		return CBOR[V]{}, err
	}
	return CBOR[V]{enc: em, dec: dm}, nil
}

// MustCBOR panics where NewCBOR would fail.
func MustCBOR[V any](deterministic bool) CBOR[V] {
	c, err := NewCBOR[V](deterministic)
	if err != nil {
		panic(err)
	}
	return c
}

func (c CBOR[V]) Encode(v V) ([]byte, error) { return c.enc.Marshal(v) }

func (c CBOR[V]) Decode(b []byte) (V, error) {
	var out V
	if err := c.dec.Unmarshal(b, &out); err != nil {
		return out, err
	}
	return out, nil
}
