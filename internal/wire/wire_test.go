package wire

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"
)

func mustEncode(t *testing.T, r Result) []byte {
	t.Helper()
	b, err := EncodeResult(r)
	if err != nil {
		t.Fatalf("EncodeResult: %v", err)
	}
	return b
}

func TestResultRoundTrip(t *testing.T) {
	cases := []Result{
		{FulfilledAtMillis: 0},
		{FulfilledAtMillis: 1_700_000_000_123, Tags: []Tag{{Type: "Station"}, {Type: "Station", ID: "A"}}, Payload: []byte(`{"id":"A"}`)},
		{FulfilledAtMillis: -1, Payload: []byte{0, 1, 2}},
	}
	for _, tc := range cases {
		got, err := DecodeResult(mustEncode(t, tc))
		if err != nil {
			t.Fatalf("DecodeResult: %v", err)
		}
		if got.FulfilledAtMillis != tc.FulfilledAtMillis {
			t.Fatalf("fulfilledAt: got %d want %d", got.FulfilledAtMillis, tc.FulfilledAtMillis)
		}
		if len(got.Tags) != len(tc.Tags) {
			t.Fatalf("tags: got %v want %v", got.Tags, tc.Tags)
		}
		for i := range tc.Tags {
			if got.Tags[i] != tc.Tags[i] {
				t.Fatalf("tag %d: got %v want %v", i, got.Tags[i], tc.Tags[i])
			}
		}
		if !bytes.Equal(got.Payload, tc.Payload) {
			t.Fatalf("payload: got %x want %x", got.Payload, tc.Payload)
		}
	}
}

func TestRejectsTrailingAndTruncated(t *testing.T) {
	enc := mustEncode(t, Result{Tags: []Tag{{Type: "Station", ID: "A"}}, Payload: []byte("x")})

	if _, err := DecodeResult(append(append([]byte{}, enc...), 0xDE, 0xAD)); err != ErrCorrupt {
		t.Fatalf("trailing bytes: want ErrCorrupt, got %v", err)
	}
	for i := 0; i < len(enc); i++ {
		if _, err := DecodeResult(enc[:i]); err == nil {
			t.Fatalf("truncated at %d decoded without error", i)
		}
	}
}

func TestRejectsBadHeader(t *testing.T) {
	enc := mustEncode(t, Result{Payload: []byte("x")})

	bad := append([]byte{}, enc...)
	bad[0] = 'X'
	if _, err := DecodeResult(bad); err != ErrCorrupt {
		t.Fatalf("magic: want ErrCorrupt, got %v", err)
	}
	bad = append([]byte{}, enc...)
	bad[4] = version + 1
	if _, err := DecodeResult(bad); err != ErrCorrupt {
		t.Fatalf("version: want ErrCorrupt, got %v", err)
	}
	if _, err := DecodeResult([]byte("not-a-frame")); err != ErrCorrupt {
		t.Fatalf("garbage: want ErrCorrupt, got %v", err)
	}
}

func TestRejectsEmptyTagType(t *testing.T) {
	enc := mustEncode(t, Result{Tags: []Tag{{Type: "S"}}})
	// zero the type length so the tag type becomes empty
	binary.BigEndian.PutUint16(enc[headerLen:headerLen+2], 0)
	if _, err := DecodeResult(enc); err == nil {
		t.Fatalf("empty tag type must be rejected")
	}
}

func TestEncodeRejectsOversizedTag(t *testing.T) {
	_, err := EncodeResult(Result{Tags: []Tag{{Type: strings.Repeat("x", maxField+1)}}})
	if err != ErrTooLong {
		t.Fatalf("want ErrTooLong, got %v", err)
	}
}
