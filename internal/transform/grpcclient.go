package transform

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kabilan-n/tsdf-fusion/internal/spatial"
)

// GRPCClient satisfies Lookup by calling a standalone transform server
// over gRPC. It hand-encodes its request/response as structpb.Struct,
// the same no-protoc-codegen pattern used by internal/transport, so it
// can talk to a server built the same way without either side needing
// generated .pb.go types. No such server is implemented in this
// repository yet — this is the client half of the interface spec.md
// calls for, ready to dial a future standalone instance.
type GRPCClient struct {
	conn *grpc.ClientConn
}

// DialGRPCClient opens a connection to a transform server at addr.
func DialGRPCClient(addr string, opts ...grpc.DialOption) (*GRPCClient, error) {
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("transform: dial %s: %w", addr, err)
	}
	return &GRPCClient{conn: conn}, nil
}

// Close releases the underlying connection.
func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

// Lookup issues a unary "/transform.TransformService/Lookup" RPC.
func (c *GRPCClient) Lookup(ctx context.Context, frame, worldFrame string, at time.Time) (spatial.Pose, error) {
	req, err := structpb.NewStruct(map[string]any{
		"frame":       frame,
		"world_frame": worldFrame,
		"at_unix_ns":  float64(at.UnixNano()),
	})
	if err != nil {
		return spatial.Pose{}, err
	}

	var resp structpb.Struct
	if err := c.conn.Invoke(ctx, "/transform.TransformService/Lookup", req, &resp); err != nil {
		return spatial.Pose{}, fmt.Errorf("transform: lookup %s->%s: %w", frame, worldFrame, err)
	}
	return poseFromStruct(&resp), nil
}

func poseFromStruct(s *structpb.Struct) spatial.Pose {
	t := spatial.Vec3{
		X: s.Fields["tx"].GetNumberValue(),
		Y: s.Fields["ty"].GetNumberValue(),
		Z: s.Fields["tz"].GetNumberValue(),
	}
	twist := [6]float64{0, 0, 0,
		s.Fields["rx"].GetNumberValue(),
		s.Fields["ry"].GetNumberValue(),
		s.Fields["rz"].GetNumberValue(),
	}
	p := spatial.ExpSE3(twist)
	p.T = t
	return p
}
