// Package payload provides serialization of dispatch records.
//
// Codecs encode event payload snapshots and history entries for storage
// backends that persist them as bytes.
//
// Usage:
//
//	// Use JSON codec (default)
//	store := history.NewRedisStore(client)
//
//	// Use msgpack codec
//	store := history.NewRedisStore(client,
//	    history.WithCodec(payload.MsgPack{}))
package payload

// Codec encodes/decodes record data.
// Implementations must be safe for concurrent use.
type Codec interface {
	// Encode serializes the value to bytes.
	Encode(v any) ([]byte, error)

	// Decode deserializes bytes to the target type.
	// The target must be a pointer.
	Decode(data []byte, v any) error

	// ContentType returns the MIME type (e.g., "application/json").
	ContentType() string
}

// Default returns the default codec (JSON).
func Default() Codec {
	return JSON{}
}
