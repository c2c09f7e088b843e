// Package wire frames persisted query results.
//
//	magic(4) | ver(1) | kind(1=result) | fulfilledAt(i64 be, unix ms)
//	ntags(u16 be) | { typeLen(u16) type idLen(u16) id } * ntags
//	vlen(u32 be) | payload(vlen)
//
// Anything that does not parse exactly (short, long, wrong magic/version) is
// ErrCorrupt; callers delete the frame and treat it as a miss.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version    byte = 1
	kindResult byte = 1

	headerLen = 4 + 1 + 1 + 8 + 2
	maxField  = 0xFFFF
)

var (
	ErrCorrupt = errors.New("apicache: corrupt frame")
	ErrTooLong = errors.New("apicache: tag field too long")
	magic4     = [...]byte{'A', 'P', 'I', 'C'}
)

// Tag mirrors apicache.Tag without importing it.
type Tag struct {
	Type string
	ID   string
}

// Result is one persisted query result.
type Result struct {
	FulfilledAtMillis int64
	Tags              []Tag
	Payload           []byte
}

func EncodeResult(r Result) ([]byte, error) {
	total := headerLen + 4 + len(r.Payload)
	for _, t := range r.Tags {
		if len(t.Type) > maxField || len(t.ID) > maxField {
			return nil, ErrTooLong
		}
		total += 4 + len(t.Type) + len(t.ID)
	}
	if len(r.Tags) > maxField {
		return nil, ErrTooLong
	}

	var buf bytes.Buffer
	buf.Grow(total)
	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindResult)

	var u8 [8]byte
	var u4 [4]byte
	var u2 [2]byte

	binary.BigEndian.PutUint64(u8[:], uint64(r.FulfilledAtMillis))
	buf.Write(u8[:])

	binary.BigEndian.PutUint16(u2[:], uint16(len(r.Tags)))
	buf.Write(u2[:])
	for _, t := range r.Tags {
		binary.BigEndian.PutUint16(u2[:], uint16(len(t.Type)))
		buf.Write(u2[:])
		buf.WriteString(t.Type)
		binary.BigEndian.PutUint16(u2[:], uint16(len(t.ID)))
		buf.Write(u2[:])
		buf.WriteString(t.ID)
	}

	binary.BigEndian.PutUint32(u4[:], uint32(len(r.Payload)))
	buf.Write(u4[:])
	buf.Write(r.Payload)
	return buf.Bytes(), nil
}

func DecodeResult(b []byte) (Result, error) {
	if len(b) < headerLen || !bytes.Equal(b[:4], magic4[:]) || b[4] != version || b[5] != kindResult {
		return Result{}, ErrCorrupt
	}
	off := 6
	r := Result{FulfilledAtMillis: int64(binary.BigEndian.Uint64(b[off : off+8]))}
	off += 8

	n := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	if n > 0 {
		r.Tags = make([]Tag, 0, n)
	}
	for i := 0; i < n; i++ {
		typ, next, ok := readField(b, off)
		if !ok || typ == "" {
			return Result{}, ErrCorrupt
		}
		id, next, ok := readField(b, next)
		if !ok {
			return Result{}, ErrCorrupt
		}
		off = next
		r.Tags = append(r.Tags, Tag{Type: typ, ID: id})
	}

	if off+4 > len(b) {
		return Result{}, ErrCorrupt
	}
	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen != len(b)-off {
		return Result{}, ErrCorrupt
	}
	r.Payload = b[off:]
	return r, nil
}

func readField(b []byte, off int) (string, int, bool) {
	if off+2 > len(b) {
		return "", off, false
	}
	l := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	if l > len(b)-off {
		return "", off, false
	}
	return string(b[off : off+l]), off + l, true
}
