// Package submap implements submap cutting: writing a full layer
// snapshot plus its trajectory to disk when the ingest pipeline decides
// the current submap is done (time or distance threshold exceeded), and
// a sqlite catalog of every submap written so it can be looked up by
// number or timestamp without re-reading every .tsdf file (spec.md §4.F).
package submap

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/kabilan-n/tsdf-fusion/internal/codec"
	"github.com/kabilan-n/tsdf-fusion/internal/config"
	"github.com/kabilan-n/tsdf-fusion/internal/layer"
	"github.com/kabilan-n/tsdf-fusion/internal/spatial"
)

const (
	layerFilename      = "volumetric_map.tsdf"
	trajectoryFilename = "robot_trajectory.traj"
)

// TrajectoryPoint is one sample of the deintegration-packet history
// carried into a cut submap: a timestamped pose along the path the
// sensor took while this submap was being built.
type TrajectoryPoint struct {
	TimestampNS int64
	Position    spatial.Vec3
	Quaternion  [4]float64 // w, x, y, z
}

// TrajectoryPointFromPose converts a Pose into a TrajectoryPoint at t.
func TrajectoryPointFromPose(t time.Time, p spatial.Pose) TrajectoryPoint {
	return TrajectoryPoint{
		TimestampNS: t.UnixNano(),
		Position:    p.T,
		Quaternion:  quaternionFromMat3(p.R),
	}
}

// Bookkeeping tracks submap-cut progress across the ingest pipeline's
// lifetime: a monotonic counter bumped on every cut, the timestamp and
// sensor position of the last cut. LastPosition is nil until the first
// cut — "unset", never a sentinel zero vector, per Design Notes'
// optional-with-predicate guidance.
type Bookkeeping struct {
	Counter       int
	LastPublished time.Time
	LastPosition  *spatial.Vec3
}

// ShouldCut reports whether, given the submapping thresholds and the
// current (timestamp, position), a new submap should be cut. Before the
// first cut (LastPosition == nil) this is always false — there is
// nothing yet to compare against.
func (b Bookkeeping) ShouldCut(maxTimeInterval, maxDistance config.OptionalFloat, t time.Time, p spatial.Vec3) bool {
	if b.LastPosition == nil {
		return false
	}
	if maxTimeInterval.Exceeds(t.Sub(b.LastPublished).Seconds()) {
		return true
	}
	if maxDistance.Exceeds(p.Sub(*b.LastPosition).Norm()) {
		return true
	}
	return false
}

// Advance bumps the counter and records the new bookmark after a cut.
func (b Bookkeeping) Advance(t time.Time, p spatial.Vec3) Bookkeeping {
	pos := p
	return Bookkeeping{Counter: b.Counter + 1, LastPublished: t, LastPosition: &pos}
}

// Seed records the first bookmark without bumping the counter — there is
// no submap to number yet, only a baseline to measure the next cut
// against.
func (b Bookkeeping) Seed(t time.Time, p spatial.Vec3) Bookkeeping {
	pos := p
	return Bookkeeping{Counter: b.Counter, LastPublished: t, LastPosition: &pos}
}

// Record describes a submap that has been written to disk and/or
// published: its sequence number, the id under which it is cataloged,
// the cut time and sensor position, and (if disk persistence is
// configured) the paths it was written to.
type Record struct {
	ID             uuid.UUID
	Number         int
	Timestamp      time.Time
	SensorPosition spatial.Vec3
	LayerPath      string
	TrajectoryPath string
}

// WriteToDirectory writes l (every block, not only updated ones) and
// trajectory under <dir>/voxblox_submap_<number>/, creating parent
// directories with 0777. dir must be absolute and ASCII-only; callers
// are expected to have already validated this at config-load time, but
// WriteToDirectory re-checks since a submap write is the point where a
// bad path actually does damage.
func WriteToDirectory(dir string, number int, l *layer.Layer, robotName, frameID string, traj []TrajectoryPoint) (layerPath, trajectoryPath string, err error) {
	if !isAbsoluteASCII(dir) {
		return "", "", fmt.Errorf("submap: directory %q must be absolute and ASCII-only", dir)
	}

	submapDir := filepath.Join(dir, fmt.Sprintf("voxblox_submap_%d", number))
	if err := os.MkdirAll(submapDir, 0777); err != nil {
		return "", "", fmt.Errorf("submap: create directory %q: %w", submapDir, err)
	}

	layerPath = filepath.Join(submapDir, layerFilename)
	if err := writeLayerFile(layerPath, l); err != nil {
		return "", "", err
	}

	trajectoryPath = filepath.Join(submapDir, trajectoryFilename)
	if err := writeTrajectoryFile(trajectoryPath, robotName, frameID, traj); err != nil {
		return "", "", err
	}

	return layerPath, trajectoryPath, nil
}

func writeLayerFile(path string, l *layer.Layer) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("submap: create %q: %w", path, err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	if err := codec.EncodeLayer(bw, l, codec.ModeFull); err != nil {
		return fmt.Errorf("submap: encode layer to %q: %w", path, err)
	}
	return bw.Flush()
}

// LoadLayerFile reads back a volumetric_map.tsdf previously written by
// WriteToDirectory, used by cmd/submap-inspect.
func LoadLayerFile(path string, voxelSize float64, voxelsPerSide int) (*layer.Layer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("submap: open %q: %w", path, err)
	}
	defer f.Close()

	l := layer.New(voxelSize, voxelsPerSide)
	if err := codec.DecodeLayer(bufio.NewReader(f), l, true); err != nil {
		return nil, fmt.Errorf("submap: decode %q: %w", path, err)
	}
	return l, nil
}

// writeTrajectoryFile encodes robot name, frame id, then a length-
// prefixed repeated {timestamp_ns, position xyz, quaternion wxyz}.
func writeTrajectoryFile(path, robotName, frameID string, traj []TrajectoryPoint) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("submap: create %q: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := writeString(w, robotName); err != nil {
		return err
	}
	if err := writeString(w, frameID); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(traj))); err != nil {
		return fmt.Errorf("submap: write trajectory count: %w", err)
	}
	for i, pt := range traj {
		if err := binary.Write(w, binary.LittleEndian, pt.TimestampNS); err != nil {
			return fmt.Errorf("submap: write trajectory point %d timestamp: %w", i, err)
		}
		if err := binary.Write(w, binary.LittleEndian, [3]float64{pt.Position.X, pt.Position.Y, pt.Position.Z}); err != nil {
			return fmt.Errorf("submap: write trajectory point %d position: %w", i, err)
		}
		if err := binary.Write(w, binary.LittleEndian, pt.Quaternion); err != nil {
			return fmt.Errorf("submap: write trajectory point %d quaternion: %w", i, err)
		}
	}
	return w.Flush()
}

// LoadTrajectoryFile reads back a robot_trajectory.traj previously
// written by WriteToDirectory.
func LoadTrajectoryFile(path string) (robotName, frameID string, traj []TrajectoryPoint, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", nil, fmt.Errorf("submap: open %q: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	if robotName, err = readString(r); err != nil {
		return "", "", nil, err
	}
	if frameID, err = readString(r); err != nil {
		return "", "", nil, err
	}
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return "", "", nil, fmt.Errorf("submap: read trajectory count: %w", err)
	}
	traj = make([]TrajectoryPoint, count)
	for i := range traj {
		if err := binary.Read(r, binary.LittleEndian, &traj[i].TimestampNS); err != nil {
			return "", "", nil, fmt.Errorf("submap: read trajectory point %d timestamp: %w", i, err)
		}
		var pos [3]float64
		if err := binary.Read(r, binary.LittleEndian, &pos); err != nil {
			return "", "", nil, fmt.Errorf("submap: read trajectory point %d position: %w", i, err)
		}
		traj[i].Position = spatial.Vec3{X: pos[0], Y: pos[1], Z: pos[2]}
		if err := binary.Read(r, binary.LittleEndian, &traj[i].Quaternion); err != nil {
			return "", "", nil, fmt.Errorf("submap: read trajectory point %d quaternion: %w", i, err)
		}
	}
	return robotName, frameID, traj, nil
}

func writeString(w *bufio.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return fmt.Errorf("submap: write string length: %w", err)
	}
	if _, err := w.WriteString(s); err != nil {
		return fmt.Errorf("submap: write string: %w", err)
	}
	return nil
}

func readString(r *bufio.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", fmt.Errorf("submap: read string length: %w", err)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("submap: read string: %w", err)
	}
	return string(buf), nil
}

// isAbsoluteASCII mirrors internal/config's path validation: the one
// other place this check matters is the moment a submap actually hits
// disk, since a config reload could in principle race a write.
func isAbsoluteASCII(p string) bool {
	if !filepath.IsAbs(p) {
		return false
	}
	for _, r := range p {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// quaternionFromMat3 converts a rotation matrix to a unit quaternion
// (w, x, y, z) via Shepperd's method, picking the numerically stable
// branch based on the trace.
func quaternionFromMat3(m spatial.Mat3) [4]float64 {
	trace := m[0][0] + m[1][1] + m[2][2]
	var w, x, y, z float64
	switch {
	case trace > 0:
		s := math.Sqrt(trace+1) * 2
		w = s / 4
		x = (m[2][1] - m[1][2]) / s
		y = (m[0][2] - m[2][0]) / s
		z = (m[1][0] - m[0][1]) / s
	case m[0][0] > m[1][1] && m[0][0] > m[2][2]:
		s := math.Sqrt(1+m[0][0]-m[1][1]-m[2][2]) * 2
		w = (m[2][1] - m[1][2]) / s
		x = s / 4
		y = (m[0][1] + m[1][0]) / s
		z = (m[0][2] + m[2][0]) / s
	case m[1][1] > m[2][2]:
		s := math.Sqrt(1+m[1][1]-m[0][0]-m[2][2]) * 2
		w = (m[0][2] - m[2][0]) / s
		x = (m[0][1] + m[1][0]) / s
		y = s / 4
		z = (m[1][2] + m[2][1]) / s
	default:
		s := math.Sqrt(1+m[2][2]-m[0][0]-m[1][1]) * 2
		w = (m[1][0] - m[0][1]) / s
		x = (m[0][2] + m[2][0]) / s
		y = (m[1][2] + m[2][1]) / s
		z = s / 4
	}
	return [4]float64{w, x, y, z}
}
