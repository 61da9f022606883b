package transport

import (
	"context"
	"encoding/base64"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// This file hand-wires a minimal gRPC service without a protoc codegen
// step. grpc.ServiceDesc/StreamDesc only need a method table and a codec
// that marshals/unmarshals proto.Message — structpb.Struct already
// satisfies that, so every message on the wire here is a genuine
// protobuf-encoded structpb.Struct rather than a generated type.

// RawEnvelope is the streamed response type: a single proto-marshaled
// Envelope (see envelope.go), itself carried inside a structpb.Struct so
// it needs no generated wrapper type.
type RawEnvelope struct {
	Data []byte
}

func (r *RawEnvelope) toStruct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"data_b64": base64.StdEncoding.EncodeToString(r.Data),
	})
}

// rawEnvelopeFromStruct reverses toStruct; used by a subscribing client
// to decode what the server sent.
func rawEnvelopeFromStruct(s *structpb.Struct) (*RawEnvelope, error) {
	data, err := base64.StdEncoding.DecodeString(s.Fields["data_b64"].GetStringValue())
	if err != nil {
		return nil, err
	}
	return &RawEnvelope{Data: data}, nil
}

// SubscribeRequest is the unary request a client sends to open a stream:
// an optional topic allowlist. Empty means "subscribe to everything".
type SubscribeRequest struct {
	Topics []string
}

// toStruct is used by a subscribing client to encode its request.
func (r *SubscribeRequest) toStruct() (*structpb.Struct, error) {
	topics := make([]any, len(r.Topics))
	for i, t := range r.Topics {
		topics[i] = t
	}
	return structpb.NewStruct(map[string]any{"topics": topics})
}

func subscribeRequestFromStruct(s *structpb.Struct) *SubscribeRequest {
	lv := s.Fields["topics"].GetListValue()
	if lv == nil {
		return &SubscribeRequest{}
	}
	topics := make([]string, 0, len(lv.Values))
	for _, v := range lv.Values {
		topics = append(topics, v.GetStringValue())
	}
	return &SubscribeRequest{Topics: topics}
}

// FusionService_SubscribeServer is the server-streaming handle Subscribe
// implementations write RawEnvelope responses into.
type FusionService_SubscribeServer interface {
	grpc.ServerStream
	SendMsg(m interface{}) error
}

type fusionSubscribeServer struct {
	grpc.ServerStream
}

func (s *fusionSubscribeServer) SendMsg(m interface{}) error {
	env, ok := m.(*RawEnvelope)
	if !ok {
		return s.ServerStream.SendMsg(m)
	}
	st, err := env.toStruct()
	if err != nil {
		return err
	}
	return s.ServerStream.SendMsg(st)
}

func subscribeStreamHandler(srv interface{}, stream grpc.ServerStream) error {
	var reqStruct structpb.Struct
	if err := stream.RecvMsg(&reqStruct); err != nil {
		return err
	}
	req := subscribeRequestFromStruct(&reqStruct)
	return srv.(*Publisher).Subscribe(req, &fusionSubscribeServer{ServerStream: stream})
}

// CommandRequest/CommandResult mirror commandsrv's bare-bool contract
// (clear_map, generate_mesh, save_map, load_map, publish_pointclouds,
// publish_map): a named command plus a single string argument (a path,
// for the save/load commands), returning a success flag.
type CommandRequest struct {
	Name string
	Arg  string
}

type CommandResult struct {
	Ok    bool
	Error string
}

// CommandHandler executes one named admin command, grounded on the
// reference corpus's serialmux admin-routes dispatcher: a flat
// name->handler map rather than one RPC method per command.
type CommandHandler func(req CommandRequest) CommandResult

func commandUnaryHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	var reqStruct structpb.Struct
	if err := dec(&reqStruct); err != nil {
		return nil, err
	}
	req := CommandRequest{
		Name: reqStruct.Fields["name"].GetStringValue(),
		Arg:  reqStruct.Fields["arg"].GetStringValue(),
	}
	run := func(ctx context.Context, req interface{}) (interface{}, error) {
		p := srv.(*Publisher)
		if p.commandHandler == nil {
			return nil, fmt.Errorf("transport: no command handler registered")
		}
		res := p.commandHandler(req.(CommandRequest))
		return structpb.NewStruct(map[string]any{"ok": res.Ok, "error": res.Error})
	}
	if interceptor == nil {
		return run(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/fusion.FusionService/Command"}
	return interceptor(ctx, req, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return run(ctx, req)
	})
}

// IngestRequest carries one inbound point cloud across the wire: the
// same fields ingest.RawCloud needs to resolve a transform and decode
// the payload, flattened onto structpb-compatible types.
type IngestRequest struct {
	Frame             string
	TimestampUnixNano int64
	Schema            int32
	Stride            int32
	Data              []float32
	ColorMap          int32
	IntensityMax      float64
	IsFreespace       bool

	// HasPose/Tx../Rx.. optionally carry a transform broadcast alongside
	// the cloud (translation plus an axis-angle rotation, the same
	// encoding transform.GRPCClient's wire format uses): a server backed
	// by transform.StaticTree records it before resolving the lookup the
	// ingest pipeline needs. A sensor whose pose is broadcast separately
	// leaves HasPose false.
	HasPose    bool
	Tx, Ty, Tz float64
	Rx, Ry, Rz float64
}

// IngestResult reports whether the server accepted the cloud (it may be
// dropped by the ingest pipeline's own throttle/queue-overflow policy
// without that being an error).
type IngestResult struct {
	Accepted bool
}

// IngestHandler hands one decoded IngestRequest to whatever the server
// wires it to (normally ingest.Pipeline.Enqueue, after field mapping).
type IngestHandler func(req IngestRequest) IngestResult

func ingestUnaryHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	var reqStruct structpb.Struct
	if err := dec(&reqStruct); err != nil {
		return nil, err
	}
	req := ingestRequestFromStruct(&reqStruct)
	run := func(ctx context.Context, req interface{}) (interface{}, error) {
		p := srv.(*Publisher)
		if p.ingestHandler == nil {
			return nil, fmt.Errorf("transport: no ingest handler registered")
		}
		res := p.ingestHandler(req.(IngestRequest))
		return structpb.NewStruct(map[string]any{"accepted": res.Accepted})
	}
	if interceptor == nil {
		return run(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/fusion.FusionService/Ingest"}
	return interceptor(ctx, req, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return run(ctx, req)
	})
}

func ingestRequestFromStruct(s *structpb.Struct) IngestRequest {
	lv := s.Fields["data"].GetListValue()
	data := make([]float32, 0)
	if lv != nil {
		data = make([]float32, 0, len(lv.Values))
		for _, v := range lv.Values {
			data = append(data, float32(v.GetNumberValue()))
		}
	}
	return IngestRequest{
		Frame:             s.Fields["frame"].GetStringValue(),
		TimestampUnixNano: int64(s.Fields["timestamp_unix_nano"].GetNumberValue()),
		Schema:            int32(s.Fields["schema"].GetNumberValue()),
		Stride:            int32(s.Fields["stride"].GetNumberValue()),
		Data:              data,
		ColorMap:          int32(s.Fields["color_map"].GetNumberValue()),
		IntensityMax:      s.Fields["intensity_max"].GetNumberValue(),
		IsFreespace:       s.Fields["is_freespace"].GetBoolValue(),
		HasPose:           s.Fields["has_pose"].GetBoolValue(),
		Tx:                s.Fields["tx"].GetNumberValue(),
		Ty:                s.Fields["ty"].GetNumberValue(),
		Tz:                s.Fields["tz"].GetNumberValue(),
		Rx:                s.Fields["rx"].GetNumberValue(),
		Ry:                s.Fields["ry"].GetNumberValue(),
		Rz:                s.Fields["rz"].GetNumberValue(),
	}
}

// TsdfMapInRequest carries one inbound layer-delta message from a peer
// node: the codec-encoded bytes (see internal/codec.EncodeLayer) plus
// whether the receiver should force a full replace regardless of the
// message's own mode (e.g. a node that just resynced).
type TsdfMapInRequest struct {
	Data         []byte
	ForceReplace bool
}

// TsdfMapInResult reports whether the message decoded and applied
// cleanly.
type TsdfMapInResult struct {
	Applied bool
	Error   string
}

// TsdfMapInHandler hands one decoded TsdfMapInRequest to whatever the
// server wires it to (normally codec.DecodeLayer against the running
// layer).
type TsdfMapInHandler func(req TsdfMapInRequest) TsdfMapInResult

func tsdfMapInUnaryHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	var reqStruct structpb.Struct
	if err := dec(&reqStruct); err != nil {
		return nil, err
	}
	req := tsdfMapInRequestFromStruct(&reqStruct)
	run := func(ctx context.Context, req interface{}) (interface{}, error) {
		p := srv.(*Publisher)
		if p.layerInHandler == nil {
			return nil, fmt.Errorf("transport: no tsdf_map_in handler registered")
		}
		res := p.layerInHandler(req.(TsdfMapInRequest))
		return structpb.NewStruct(map[string]any{"applied": res.Applied, "error": res.Error})
	}
	if interceptor == nil {
		return run(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/fusion.FusionService/TsdfMapIn"}
	return interceptor(ctx, req, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return run(ctx, req)
	})
}

func tsdfMapInRequestFromStruct(s *structpb.Struct) TsdfMapInRequest {
	data, _ := base64.StdEncoding.DecodeString(s.Fields["data_b64"].GetStringValue())
	return TsdfMapInRequest{
		Data:         data,
		ForceReplace: s.Fields["force_replace"].GetBoolValue(),
	}
}

var fusionServiceDesc = grpc.ServiceDesc{
	ServiceName: "fusion.FusionService",
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Command",
			Handler:    commandUnaryHandler,
		},
		{
			MethodName: "Ingest",
			Handler:    ingestUnaryHandler,
		},
		{
			MethodName: "TsdfMapIn",
			Handler:    tsdfMapInUnaryHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeStreamHandler,
			ServerStreams: true,
		},
	},
	Metadata: "fusion.proto",
}
