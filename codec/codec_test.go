package codec

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type station struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func TestJSONStrictRejectsUnknownFields(t *testing.T) {
	payload := []byte(`{"id":"A","status":"available","legacy":true}`)

	got, err := JSON[station]{}.Decode(payload)
	require.NoError(t, err)
	require.Equal(t, "A", got.ID)

	_, err = JSON[station]{Strict: true}.Decode(payload)
	require.Error(t, err)
}

func TestCBORDeterministicOutputIsStable(t *testing.T) {
	c := MustCBOR[map[string]int](true)
	a, err := c.Encode(map[string]int{"b": 2, "a": 1, "c": 3})
	require.NoError(t, err)
	b, err := c.Encode(map[string]int{"c": 3, "a": 1, "b": 2})
	require.NoError(t, err)
	require.True(t, bytes.Equal(a, b), "deterministic encoding must not depend on map order")

	back, err := c.Decode(a)
	require.NoError(t, err)
	require.Equal(t, 2, back["b"])
}

func TestMsgpackHonoursJSONTags(t *testing.T) {
	in := station{ID: "A", Status: "charging", UpdatedAt: time.Unix(1700000000, 0).UTC()}
	b, err := Msgpack[station]{}.Encode(in)
	require.NoError(t, err)
	require.True(t, bytes.Contains(b, []byte("status")), "json tag name expected in msgpack map keys")

	out, err := Msgpack[station]{}.Decode(b)
	require.NoError(t, err)
	require.Equal(t, in.ID, out.ID)
	require.True(t, in.UpdatedAt.Equal(out.UpdatedAt))
}

func TestProtobufWellKnownType(t *testing.T) {
	c := NewProtobuf(func() *wrapperspb.StringValue { return &wrapperspb.StringValue{} })
	b, err := c.Encode(wrapperspb.String("available"))
	require.NoError(t, err)

	v, err := c.Decode(b)
	require.NoError(t, err)
	require.Equal(t, "available", v.GetValue())

	_, err = c.Decode([]byte{0xff, 0xff, 0xff})
	require.Error(t, err)
}

func TestLimitRejectsOversizedPayload(t *testing.T) {
	c := Limit[string]{Inner: String{}, MaxDecode: 4}
	_, err := c.Decode([]byte("12345"))
	require.Error(t, err)

	v, err := c.Decode([]byte("1234"))
	require.NoError(t, err)
	require.Equal(t, "1234", v)

	unlimited := Limit[string]{Inner: String{}}
	_, err = unlimited.Decode(bytes.Repeat([]byte("x"), 1<<16))
	require.NoError(t, err)
}

func TestMsgpackRoundTripsSlices(t *testing.T) {
	in := []station{
		{ID: "A", Status: "available", UpdatedAt: time.Unix(1700000000, 0).UTC()},
		{ID: "B", Status: "offline", UpdatedAt: time.Unix(1700000060, 0).UTC()},
	}
	var c Msgpack[[]station]
	b, err := c.Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := c.Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len=%d want %d", len(out), len(in))
	}
	for i := range in {
		if out[i].ID != in[i].ID || out[i].Status != in[i].Status || !out[i].UpdatedAt.Equal(in[i].UpdatedAt) {
			t.Fatalf("item %d: got %+v want %+v", i, out[i], in[i])
		}
	}

	if _, err := c.Decode(b[:len(b)/2]); err == nil {
		t.Fatalf("truncated payload must not decode")
	}
}
