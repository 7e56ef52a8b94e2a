// Package codec (de)serializes typed values to the byte payloads the cache
// store and mutation queue carry. Used by the typed Resource accessor and
// by the update manager's manifest decode.
package codec

// Codec encodes/decodes values V to []byte for storage and transport.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
