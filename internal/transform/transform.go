// Package transform defines the pose-lookup boundary the ingest
// pipeline depends on: given a sensor frame name and a timestamp,
// resolve the pose of that frame in the world frame. Two
// implementations satisfy the same narrow interface — an in-memory
// time-indexed buffer for tests and single-process deployments, and a
// gRPC client stub for a future standalone transform server — mirroring
// the reference corpus's pattern of defining narrow interfaces at
// package boundaries so the orchestrator never imports a concrete
// transport.
package transform

import (
	"context"
	"fmt"
	"time"

	"github.com/kabilan-n/tsdf-fusion/internal/spatial"
)

// Lookup resolves the pose of frame relative to worldFrame at time at.
// Implementations may interpolate between nearby broadcasts or return
// an error if at falls outside the buffered time range.
type Lookup interface {
	Lookup(ctx context.Context, frame, worldFrame string, at time.Time) (spatial.Pose, error)
}

// ErrNoData is returned when a frame has never been broadcast.
type ErrNoData struct {
	Frame string
}

func (e *ErrNoData) Error() string {
	return fmt.Sprintf("transform: no data for frame %q", e.Frame)
}

// ErrOutOfRange is returned when at falls outside every broadcast's
// buffered time range for the requested frame.
type ErrOutOfRange struct {
	Frame string
	At    time.Time
}

func (e *ErrOutOfRange) Error() string {
	return fmt.Sprintf("transform: %q has no pose covering time %s", e.Frame, e.At.Format(time.RFC3339Nano))
}
