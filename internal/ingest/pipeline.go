package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kabilan-n/tsdf-fusion/internal/config"
	"github.com/kabilan-n/tsdf-fusion/internal/diag"
	"github.com/kabilan-n/tsdf-fusion/internal/icp"
	"github.com/kabilan-n/tsdf-fusion/internal/integrator"
	"github.com/kabilan-n/tsdf-fusion/internal/layer"
	"github.com/kabilan-n/tsdf-fusion/internal/mesher"
	"github.com/kabilan-n/tsdf-fusion/internal/pointcloud"
	"github.com/kabilan-n/tsdf-fusion/internal/spatial"
	"github.com/kabilan-n/tsdf-fusion/internal/submap"
)

// maxQueueLen bounds the stale-message queue per spec.md §5: overflow
// drops the oldest undeliverable head rather than growing without
// bound.
const maxQueueLen = 10

// pruneWeightEpsilon is the "effectively zero" weight threshold a
// block's voxels must all fall under before the block is pruned.
const pruneWeightEpsilon = 1e-6

// WorldFrame is where Lookup resolves a sensor frame; it is fixed for
// the lifetime of a Pipeline (reconfiguring it mid-run would silently
// reinterpret every pose already baked into the layer).
type Pipeline struct {
	Layer      *layer.Layer
	MeshLayer  *mesher.MeshLayer // optional; nil disables mesh-clearing side effects
	Integrator integrator.Integrator
	Transform  TransformLookup
	WorldFrame string

	ICP           icp.Params
	ICPEnabled    bool
	ICPAccumulate bool

	MinInterval time.Duration

	SlidingWindow config.SlidingWindowConfig
	Submapping    config.SubmappingConfig

	// SubmapDir, when non-empty, is the already-validated (absolute,
	// ASCII) directory submaps are written to. Empty disables disk
	// persistence without disabling submap cutting itself (the cut still
	// clears the layer / bumps bookkeeping / notifies subscribers).
	SubmapDir string
	// Catalog, if set, records every persisted submap so it can be
	// looked up later without re-reading every .tsdf file.
	Catalog *submap.Store
	// RobotName/FrameID label persisted trajectories.
	RobotName, FrameID string

	// OnSubmapCut, if set, is called after a submap is cut (whether or
	// not disk persistence succeeded), letting the caller publish
	// submap_out / new_submap_written_to_disk.
	OnSubmapCut func(rec submap.Record, layerPath, trajectoryPath string)

	// OnICPCorrection, if set, is called every time ICP refinement runs
	// with the resulting world->icp_corrected correction pose and the
	// message timestamp it was computed from, letting the caller
	// publish icp_transform and broadcast the corrected frame.
	OnICPCorrection func(corr spatial.Pose, at time.Time)

	pending      []RawCloud
	lastMsgTime  time.Time
	haveLastMsg  bool
	deint        *deintegrationQueue
	icpCorr      spatial.Pose
	needsPruning bool
	bookkeeping  submap.Bookkeeping
}

// TransformLookup is the subset of transform.Lookup Pipeline depends on,
// declared locally so this package doesn't need to import internal/
// transform just to name the method it calls.
type TransformLookup interface {
	Lookup(ctx context.Context, frame, worldFrame string, at time.Time) (spatial.Pose, error)
}

// NewPipeline constructs a Pipeline ready to accept Enqueue calls. The
// ICP correction accumulator starts at identity.
func NewPipeline() *Pipeline {
	return &Pipeline{
		deint:   newDeintegrationQueue(),
		icpCorr: spatial.Identity(),
	}
}

// Enqueue implements spec.md §4.E step 1 (throttle) and then drains as
// much of the queue as currently resolves.
func (p *Pipeline) Enqueue(msg RawCloud) {
	if p.haveLastMsg && msg.Timestamp.Sub(p.lastMsgTime) < p.MinInterval {
		return
	}
	p.lastMsgTime = msg.Timestamp
	p.haveLastMsg = true

	p.pending = append(p.pending, msg)
	p.drain()
}

// drain implements step 2: repeatedly try to resolve the head's
// transform, processing it on success, dropping it on persistent
// failure once the queue is long, and giving up for this call (without
// losing the head) when the queue is still short.
func (p *Pipeline) drain() {
	for len(p.pending) > 0 {
		head := p.pending[0]
		pose, err := p.Transform.Lookup(context.Background(), head.Frame, p.WorldFrame, head.Timestamp)
		if err != nil {
			if len(p.pending) >= maxQueueLen {
				diag.OpsThrottled("ingest.drop-head", time.Second, "ingest: dropping undeliverable message for frame %q after queue overflow: %v", head.Frame, err)
				p.pending = p.pending[1:]
				continue
			}
			return
		}
		p.pending = p.pending[1:]
		p.process(head, pose)
	}
}

// process implements steps 3-6 and 9 for one resolved message.
func (p *Pipeline) process(msg RawCloud, sensorPose spatial.Pose) {
	points, colors, err := pointcloud.Decode(pointcloud.RawPointCloud{
		Schema: msg.Schema, Stride: msg.Stride, Data: msg.Data,
		ColorMap: msg.ColorMap, IntensityMax: msg.IntensityMax,
	})
	if err != nil {
		diag.Opsf("ingest: decode error for frame %q at %s: %v", msg.Frame, msg.Timestamp, err)
		return
	}

	finalPose := sensorPose
	if p.ICPEnabled && !msg.IsFreespace {
		result := icp.Refine(p.Layer, points, sensorPose, p.ICP)
		delta := result.Pose.Compose(sensorPose.Inverse())
		corr := delta
		if p.ICPAccumulate {
			p.icpCorr = delta.Compose(p.icpCorr)
			finalPose = p.icpCorr.Compose(sensorPose)
			corr = p.icpCorr
		} else {
			finalPose = result.Pose
		}
		if p.OnICPCorrection != nil {
			p.OnICPCorrection(corr, msg.Timestamp)
		}
	}

	p.Integrator.Integrate(p.Layer, finalPose, integrator.PointCloud{Points: points, Colors: colors}, msg.IsFreespace, false)

	deintegrationOn := p.Integrator.SupportsDeintegrate() && p.slidingWindowConfigured()
	submappingOn := p.Submapping.MaxTimeInterval.Set || p.Submapping.MaxDistanceTravelled.Set || p.SubmapDir != ""
	if deintegrationOn || submappingOn {
		p.deint.PushBack(DeintegrationPacket{
			Timestamp: msg.Timestamp, Pose: finalPose,
			Points: points, Colors: colors, IsFreespace: msg.IsFreespace,
		})
	}

	if deintegrationOn {
		p.serviceSlidingWindow()
	}

	if submappingOn {
		p.maybeCutSubmap(msg.Timestamp, finalPose.T)
	}
}

func (p *Pipeline) slidingWindowConfigured() bool {
	return p.SlidingWindow.MaxQueueLength.Set || p.SlidingWindow.MaxTimeInterval.Set || p.SlidingWindow.MaxDistanceTravelled.Set
}

// serviceSlidingWindow implements step 6: while more than one packet is
// retained and any configured axis is exceeded, deintegrate the oldest.
func (p *Pipeline) serviceSlidingWindow() {
	for p.deint.Len() > 1 && p.slidingWindowExceeded() {
		oldest := p.deint.PopFront()
		p.Integrator.Integrate(p.Layer, oldest.Pose, integrator.PointCloud{Points: oldest.Points, Colors: oldest.Colors}, oldest.IsFreespace, true)
		p.needsPruning = true
	}
}

func (p *Pipeline) slidingWindowExceeded() bool {
	if p.SlidingWindow.MaxQueueLength.Exceeds(p.deint.Len()) {
		return true
	}
	oldest, ok := p.deint.Front()
	if !ok {
		return false
	}
	newest, ok := p.deint.Back()
	if !ok {
		return false
	}
	if p.SlidingWindow.MaxTimeInterval.Exceeds(newest.Timestamp.Sub(oldest.Timestamp).Seconds()) {
		return true
	}
	if p.SlidingWindow.MaxDistanceTravelled.Exceeds(newest.Pose.T.Sub(oldest.Pose.T).Norm()) {
		return true
	}
	return false
}

// Prune implements step 7: on the next publish path, if servicing the
// sliding window flagged work, remove every kMap-marked block whose
// voxels are all below weight, clearing (not deleting) its paired mesh.
func (p *Pipeline) Prune() {
	if !p.needsPruning {
		return
	}
	for _, idx := range p.Layer.BlocksWithMarker(layer.PurposeMap) {
		blk, ok := p.Layer.GetBlock(idx)
		if !ok || !blk.AllVoxelsBelowWeight(pruneWeightEpsilon) {
			continue
		}
		p.Layer.RemoveBlock(idx)
		if p.MeshLayer != nil {
			p.MeshLayer.Clear(idx)
		}
	}
	p.needsPruning = false
}

// Cull implements step 8: remove blocks (and their meshes) farther than
// maxDist from center.
func (p *Pipeline) Cull(center spatial.Vec3, maxDist float64) {
	if maxDist <= 0 {
		return
	}
	removed := p.Layer.RemoveBlocksBeyond(center, maxDist)
	if p.MeshLayer == nil {
		return
	}
	for _, idx := range removed {
		p.MeshLayer.Clear(idx)
	}
}

// maybeCutSubmap implements step 9.
func (p *Pipeline) maybeCutSubmap(t time.Time, position spatial.Vec3) {
	if !p.bookkeeping.ShouldCut(p.Submapping.MaxTimeInterval, p.Submapping.MaxDistanceTravelled, t, position) {
		if p.bookkeeping.LastPosition == nil {
			p.bookkeeping = p.bookkeeping.Seed(t, position)
		}
		return
	}
	p.cutSubmap(t, position)
	p.bookkeeping = p.bookkeeping.Advance(t, position)
}

func (p *Pipeline) cutSubmap(t time.Time, position spatial.Vec3) {
	number := p.bookkeeping.Counter
	traj := make([]submap.TrajectoryPoint, 0, p.deint.Len())
	for _, pkt := range p.deint.Snapshot() {
		traj = append(traj, submap.TrajectoryPointFromPose(pkt.Timestamp, pkt.Pose))
	}

	var layerPath, trajectoryPath string
	if p.SubmapDir != "" {
		var err error
		layerPath, trajectoryPath, err = submap.WriteToDirectory(p.SubmapDir, number, p.Layer, p.RobotName, p.FrameID, traj)
		if err != nil {
			diag.Opsf("ingest: submap %d disk persistence failed: %v", number, err)
			layerPath, trajectoryPath = "", ""
		}
	}

	rec := submap.Record{
		ID: uuid.New(), Number: number, Timestamp: t, SensorPosition: position,
		LayerPath: layerPath, TrajectoryPath: trajectoryPath,
	}
	if p.Catalog != nil && layerPath != "" {
		if err := p.Catalog.Insert(rec); err != nil {
			diag.Opsf("ingest: submap %d catalog insert failed: %v", number, err)
		}
	}
	if p.OnSubmapCut != nil {
		p.OnSubmapCut(rec, layerPath, trajectoryPath)
	}

	if !p.slidingWindowConfigured() {
		p.Layer.Clear()
	}
}

// PendingLen reports the current stale-message queue length, exercised
// by the queue-bound property test (spec.md §8 property 8).
func (p *Pipeline) PendingLen() int { return len(p.pending) }
