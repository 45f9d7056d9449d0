// Package codec provides the serialization layer for app payloads.
//
// The wire frame has no codec-type byte, so the payload encoding is
// fixed to JSON and only JSONCodec remains from the original pluggable
// set. The interface stays pluggable in case a future app wants a
// different payload encoding for its own sub-messages; it just isn't
// selected per-frame anymore.
package codec

// Codec is the interface for app payload serialization/deserialization.
type Codec interface {
	Encode(v any) ([]byte, error)    // Serialize a struct to bytes
	Decode(data []byte, v any) error // Deserialize bytes back to a struct
}

// Default is the codec every app uses unless it substitutes its own.
var Default Codec = &JSONCodec{}
