// Command fusion-server is the process entrypoint wiring config, layer,
// integrator, ingest pipeline, mesher, transport, and the command server
// into one running node, the same top-level shape as the reference
// corpus's single-purpose cmd/lidar: flag-parsed options, a
// signal.NotifyContext-governed lifetime, a handful of goroutines joined
// by a WaitGroup at shutdown.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kabilan-n/tsdf-fusion/internal/codec"
	"github.com/kabilan-n/tsdf-fusion/internal/colormap"
	"github.com/kabilan-n/tsdf-fusion/internal/commandsrv"
	"github.com/kabilan-n/tsdf-fusion/internal/config"
	"github.com/kabilan-n/tsdf-fusion/internal/diag"
	"github.com/kabilan-n/tsdf-fusion/internal/icp"
	"github.com/kabilan-n/tsdf-fusion/internal/ingest"
	"github.com/kabilan-n/tsdf-fusion/internal/integrator"
	"github.com/kabilan-n/tsdf-fusion/internal/layer"
	"github.com/kabilan-n/tsdf-fusion/internal/mesher"
	"github.com/kabilan-n/tsdf-fusion/internal/pointcloud"
	"github.com/kabilan-n/tsdf-fusion/internal/spatial"
	"github.com/kabilan-n/tsdf-fusion/internal/submap"
	"github.com/kabilan-n/tsdf-fusion/internal/transform"
	"github.com/kabilan-n/tsdf-fusion/internal/transport"
)

var (
	configPath   = flag.String("config", "", "path to a JSON configuration file (unset: built-in defaults)")
	listen       = flag.String("listen", "localhost:50061", "gRPC listen address for the transport service")
	catalogDB    = flag.String("catalog-db", "submaps.db", "path to the submap catalog sqlite database")
	worldFrame   = flag.String("world-frame", "world", "the frame every resolved pose is relative to")
	robotName    = flag.String("robot-name", "robot", "robot name recorded in persisted trajectories")
	frameID      = flag.String("frame-id", "map", "frame id recorded in persisted trajectories")
	transformTTL = flag.Duration("transform-max-age", 30*time.Second, "how long a broadcast pose sample is retained before pruning")
)

func main() {
	flag.Parse()
	diag.SetLegacyWriter(os.Stdout)

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("fusion-server: load config %q: %v", *configPath, err)
		}
		cfg = loaded
	}
	for _, w := range config.Validate(cfg) {
		diag.Opsf("fusion-server: config warning (%s): %s", w.Field, w.Message)
	}

	l := layer.New(cfg.Map.VoxelSize, cfg.Map.VoxelsPerSide)
	meshLayer := mesher.NewMeshLayer()
	meshGen := mesher.NewGenerator()

	method := integrator.Method(cfg.Integrator.Method)
	integ := integrator.New(method, integrator.ParamsFromConfig(cfg.Integrator))

	tree := transform.NewStaticTree(*transformTTL)

	var catalog *submap.Store
	if cfg.Submapping.WriteToDirectory != "" {
		var err error
		catalog, err = submap.OpenStore(*catalogDB)
		if err != nil {
			log.Fatalf("fusion-server: open submap catalog %q: %v", *catalogDB, err)
		}
		defer catalog.Close()
	}

	pipeline := ingest.NewPipeline()
	pipeline.Layer = l
	pipeline.MeshLayer = meshLayer
	pipeline.Integrator = integ
	pipeline.Transform = tree
	pipeline.WorldFrame = *worldFrame
	pipeline.ICP = icp.ParamsFromConfig(cfg.ICP)
	pipeline.ICPEnabled = cfg.ICP.Enable
	pipeline.ICPAccumulate = cfg.ICP.AccumulateCorrections
	pipeline.MinInterval = time.Duration(cfg.Ingest.MinTimeBetweenMsgsSec * float64(time.Second))
	pipeline.SlidingWindow = cfg.SlidingWindow
	pipeline.Submapping = cfg.Submapping
	pipeline.SubmapDir = cfg.Submapping.WriteToDirectory
	pipeline.Catalog = catalog
	pipeline.RobotName = *robotName
	pipeline.FrameID = *frameID

	pub := transport.NewPublisher(transport.Config{ListenAddr: *listen, ClientChanDepth: 16})

	pipeline.OnSubmapCut = func(rec submap.Record, layerPath, trajectoryPath string) {
		diag.Opsf("fusion-server: submap %d cut (layer=%q trajectory=%q)", rec.Number, layerPath, trajectoryPath)
		payload := fmt.Appendf(nil, "%d,%s,%s", rec.Number, layerPath, trajectoryPath)
		pub.Publish(transport.Envelope{Topic: "submap_out", Payload: payload})
	}

	const icpCorrectedFrame = "icp_corrected"
	pipeline.OnICPCorrection = func(corr spatial.Pose, at time.Time) {
		tree.Broadcast(icpCorrectedFrame, *worldFrame, at, corr)
		axisAngle := spatial.LogSO3(corr.R)
		pub.Publish(transport.Envelope{
			Topic: "icp_transform",
			Payload: fmt.Appendf(nil, "%g,%g,%g,%g,%g,%g",
				corr.T.X, corr.T.Y, corr.T.Z, axisAngle.X, axisAngle.Y, axisAngle.Z),
		})
	}

	node := &serverNode{
		layer: l, meshLayer: meshLayer, meshGen: meshGen,
		pipeline: pipeline, publisher: pub, cfg: cfg,
	}

	pub.SetIngestHandler(node.handleIngest(tree))
	pub.SetCommandHandler((&commandsrv.Dispatcher{Map: node, Submap: node, Publish: node}).Dispatch)
	pub.SetLayerInHandler(node.handleLayerIn)

	if err := pub.Start(); err != nil {
		log.Fatalf("fusion-server: start transport: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		node.runTimers(ctx, cfg)
	}()

	<-ctx.Done()
	diag.Opsf("fusion-server: shutting down")
	pub.Stop()
	wg.Wait()
}

// serverNode owns every collaborator a command or ingested message might
// touch, and implements commandsrv's three narrow interfaces directly
// rather than through adapter types, since one node really does own all
// three responsibilities here.
type serverNode struct {
	mu sync.Mutex

	layer     *layer.Layer
	meshLayer *mesher.MeshLayer
	meshGen   *mesher.Generator
	pipeline  *ingest.Pipeline
	publisher *transport.Publisher
	cfg       *config.Config
}

// handleIngest adapts a transport.IngestRequest into an ingest.RawCloud,
// first broadcasting any inline pose onto tree so the pipeline's
// subsequent Transform.Lookup resolves it.
func (n *serverNode) handleIngest(tree *transform.StaticTree) transport.IngestHandler {
	return func(req transport.IngestRequest) transport.IngestResult {
		n.mu.Lock()
		defer n.mu.Unlock()

		ts := time.Unix(0, req.TimestampUnixNano).UTC()
		if req.HasPose {
			pose := spatial.ExpSE3([6]float64{0, 0, 0, req.Rx, req.Ry, req.Rz})
			pose.T = spatial.Vec3{X: req.Tx, Y: req.Ty, Z: req.Tz}
			tree.Broadcast(req.Frame, *worldFrame, ts, pose)
		}

		cm, _ := colormapOrDefault(n.cfg.Visualization.IntensityColormap)
		n.pipeline.Enqueue(ingest.RawCloud{
			Frame:        req.Frame,
			Timestamp:    ts,
			Schema:       pointcloud.Schema(req.Schema),
			Stride:       int(req.Stride),
			Data:         req.Data,
			ColorMap:     cm,
			IntensityMax: req.IntensityMax,
			IsFreespace:  req.IsFreespace,
		})
		// Enqueue never returns an error synchronously — a throttled or
		// queue-overflow drop is logged internally by the pipeline, not
		// surfaced here — so acceptance at the transport boundary always
		// reports true.
		return transport.IngestResult{Accepted: true}
	}
}

func colormapOrDefault(name string) (colormap.Map, bool) {
	if name == "" {
		return colormap.Rainbow, false
	}
	return colormap.ParseMap(name)
}

// runTimers drives the two periodic actions spec.md §5 names: mesh
// update and map publish, each on its own ticker so a slow publish never
// stalls mesh extraction or vice versa.
func (n *serverNode) runTimers(ctx context.Context, cfg *config.Config) {
	meshTicker := time.NewTicker(durationFromSeconds(cfg.Mesh.UpdateEveryNSec))
	publishTicker := time.NewTicker(durationFromSeconds(cfg.Mesh.PublishEveryNSec))
	defer meshTicker.Stop()
	defer publishTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-meshTicker.C:
			n.updateMesh()
		case <-publishTicker.C:
			n.publishMap()
		}
	}
}

func durationFromSeconds(s float64) time.Duration {
	if s <= 0 {
		s = 1
	}
	return time.Duration(s * float64(time.Second))
}

func (n *serverNode) updateMesh() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.pipeline.Prune()
	n.pipeline.Cull(spatial.Vec3{}, n.cfg.Ingest.MaxBlockDistFromBody)
	n.meshGen.Generate(n.layer, n.meshLayer, true, true)
}

// publishMap implements the periodic "mesh" delta publish: only blocks
// the integrator/mesher touched since the last publish go out, encoded
// with internal/codec's delta mode, which also clears the kMap marker
// on every block it emits.
func (n *serverNode) publishMap() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.meshLayer.Updated()) == 0 {
		return
	}

	var buf bytes.Buffer
	if err := codec.EncodeLayer(&buf, n.layer, codec.ModeDelta); err != nil {
		diag.Opsf("fusion-server: encode mesh delta: %v", err)
		return
	}
	n.publisher.Publish(transport.Envelope{Topic: "mesh", Payload: buf.Bytes()})
	for _, bi := range n.meshLayer.Updated() {
		n.meshLayer.ClearUpdated(bi)
	}
}

// ClearMap implements commandsrv.MapController.
func (n *serverNode) ClearMap() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.layer.Clear()
	return nil
}

// GenerateMesh implements commandsrv.MapController.
func (n *serverNode) GenerateMesh() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.meshGen.Generate(n.layer, n.meshLayer, false, false)
	return nil
}

// SaveMap implements commandsrv.SubmapController by cutting a submap to
// path immediately, independent of the usual time/distance thresholds.
func (n *serverNode) SaveMap(path string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	traj := make([]submap.TrajectoryPoint, 0)
	_, _, err := submap.WriteToDirectory(path, 0, n.layer, *robotName, *frameID, traj)
	return err
}

// LoadMap implements commandsrv.SubmapController.
func (n *serverNode) LoadMap(path string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	loaded, err := submap.LoadLayerFile(path, n.layer.VoxelSize, n.layer.VoxelsPerSide)
	if err != nil {
		return err
	}
	n.layer = loaded
	n.pipeline.Layer = loaded
	return nil
}

// PublishPointClouds implements commandsrv.Broadcaster. Visualization-
// artifact derivation (surface/tsdf pointclouds) is out of scope for the
// core pipeline (spec.md Non-goals: GUI visualization); this records
// the request so an operator sees it was acted on.
func (n *serverNode) PublishPointClouds() error {
	n.publisher.Publish(transport.Envelope{Topic: "surface_pointcloud", Payload: []byte("requested")})
	return nil
}

// PublishMap implements commandsrv.Broadcaster: an on-demand full
// tsdf_map_out snapshot (every block, codec.ModeFull), as opposed to the
// periodic per-block mesh delta publish loop.
func (n *serverNode) PublishMap() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	var buf bytes.Buffer
	if err := codec.EncodeLayer(&buf, n.layer, codec.ModeFull); err != nil {
		return fmt.Errorf("fusion-server: encode full map: %w", err)
	}
	n.publisher.Publish(transport.Envelope{Topic: "tsdf_map_out", Payload: buf.Bytes()})
	return nil
}

// handleLayerIn implements the tsdf_map_in input: it decodes an inbound
// layer delta (or full replace) from a peer node and merges it into the
// running layer under the same lock every other mutation takes.
func (n *serverNode) handleLayerIn(req transport.TsdfMapInRequest) transport.TsdfMapInResult {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := codec.DecodeLayer(bytes.NewReader(req.Data), n.layer, req.ForceReplace); err != nil {
		diag.Opsf("fusion-server: tsdf_map_in decode/apply failed: %v", err)
		return transport.TsdfMapInResult{Applied: false, Error: err.Error()}
	}
	return transport.TsdfMapInResult{Applied: true}
}
