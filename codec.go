package apyserver

import (
	"encoding/json/v2"
	"fmt"
)

// Codec encodes and decodes a Payload for one wire encoding
// (spec.md §4.1). The compact codec is the "out of scope" collaborator
// named in spec.md §1; it is implemented in compact.go behind this same
// interface so the rest of the engine never depends on its representation
// (spec.md §9 "Compact codec as external collaborator").
type Codec interface {
	Encode(p Payload) ([]byte, error)
	Decode(data []byte) (Payload, error)
}

// codecFor resolves the Codec for a negotiated wire encoding byte.
func codecFor(e Encoding) (Codec, error) {
	switch e {
	case EncodingText:
		return jsonCodec{}, nil
	case EncodingCompact:
		return compactCodec{}, nil
	default:
		return nil, ErrInvalidHeader
	}
}

// decodePayload decodes raw payload bytes under the given encoding,
// rejecting anything whose top-level decoded value isn't a mapping
// (spec.md §4.1).
func decodePayload(e Encoding, data []byte) (Payload, error) {
	c, err := codecFor(e)
	if err != nil {
		return nil, err
	}
	return c.Decode(data)
}

// encodePayload encodes a payload under the given encoding.
func encodePayload(e Encoding, p Payload) ([]byte, error) {
	c, err := codecFor(e)
	if err != nil {
		return nil, err
	}
	return c.Encode(p)
}

// jsonCodec is the text encoding: UTF-8 JSON, top-level object required.
type jsonCodec struct{}

func (jsonCodec) Encode(p Payload) ([]byte, error) {
	return json.Marshal(p)
}

func (jsonCodec) Decode(data []byte) (Payload, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, ErrMalformedRequest
	}
	return m, nil
}
