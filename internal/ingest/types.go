// Package ingest implements the streaming state machine spec.md §4.E
// describes: throttle inbound clouds, drain the queue against the
// transform service, decode, optionally refine pose with ICP, integrate,
// service the sliding-window deintegration queue, and cut submaps on
// time/distance thresholds. Everything here runs on a single dispatch
// goroutine per spec.md §5 — Pipeline is not safe for concurrent calls
// to Enqueue/Prune/Cull.
package ingest

import (
	"time"

	"github.com/kabilan-n/tsdf-fusion/internal/colormap"
	"github.com/kabilan-n/tsdf-fusion/internal/layer"
	"github.com/kabilan-n/tsdf-fusion/internal/pointcloud"
	"github.com/kabilan-n/tsdf-fusion/internal/spatial"
)

// RawCloud is one inbound point-cloud message before transform
// resolution and decode: which sensor frame it's in, when it was
// captured, and its raw field-schema payload.
type RawCloud struct {
	Frame        string
	Timestamp    time.Time
	Schema       pointcloud.Schema
	Stride       int
	Data         []float32
	ColorMap     colormap.Map
	IntensityMax float64
	IsFreespace  bool
}

// DeintegrationPacket is one retained integration, kept so the sliding
// window can later subtract it and so a submap cut can reconstruct the
// trajectory that built the layer since the last cut. Points/Colors are
// shared, read-only slices after enqueue (spec.md §3/§5).
type DeintegrationPacket struct {
	Timestamp   time.Time
	Pose        spatial.Pose
	Points      []spatial.Vec3
	Colors      []layer.RGB
	IsFreespace bool
}
