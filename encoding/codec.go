package encoding

import (
	"encoding/json"
	"fmt"
)

// Codec serializes fired events for a sink
type Codec interface {
	Name() string
	ContentType() string
	Marshal(v interface{}) ([]byte, error)
}

type jsonCodec struct{}

func (jsonCodec) Name() string                          { return "json" }
func (jsonCodec) ContentType() string                   { return "application/json" }
func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

type msgpackCodec struct{}

func (msgpackCodec) Name() string                          { return "msgpack" }
func (msgpackCodec) ContentType() string                   { return "application/msgpack" }
func (msgpackCodec) Marshal(v interface{}) ([]byte, error) { return Marshal(v) }

// CodecFor returns the codec registered under format ("json" or "msgpack")
func CodecFor(format string) (Codec, error) {
	switch format {
	case "", "json":
		return jsonCodec{}, nil
	case "msgpack":
		return msgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}
