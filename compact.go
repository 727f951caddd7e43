package apyserver

import (
	"github.com/vmihailenco/msgpack/v5"
)

// compactCodec implements Codec for the compact wire encoding using
// MessagePack as the concrete binary format (SPEC_FULL.md §4.1). It stands
// in for the legacy ZiProto-based "compact codec" collaborator: both encode
// a top-level mapping as a single self-describing binary map value, so the
// structural validation below (reject anything that doesn't decode to a
// mapping) carries over unchanged.
type compactCodec struct{}

func (compactCodec) Encode(p Payload) ([]byte, error) {
	return msgpack.Marshal(p)
}

func (compactCodec) Decode(data []byte) (Payload, error) {
	var v any
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return nil, ErrMalformedRequest
	}
	m, ok := asStringMap(v)
	if !ok {
		return nil, ErrMalformedRequest
	}
	return m, nil
}

// asStringMap normalizes the two shapes msgpack may hand back for a decoded
// map (map[string]any directly, or map[any]any when keys aren't provably
// strings) into a Payload, or reports false if v isn't a mapping at all.
func asStringMap(v any) (Payload, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(Payload, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	default:
		return nil, false
	}
}
