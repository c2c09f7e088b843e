// Package codec converts cached values to and from bytes.
//
// Codecs are used in two places: the storage envelope written by the storage
// package, and the query results the cache core writes to its persistence
// tier. A value that fails to decode is always treated as a miss by the callers.
package codec

// Codec encodes/decodes values V to []byte.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
