package integrator

import (
	"math"

	"github.com/kabilan-n/tsdf-fusion/internal/diag"
	"github.com/kabilan-n/tsdf-fusion/internal/layer"
	"github.com/kabilan-n/tsdf-fusion/internal/spatial"
)

// Simple casts one ray per point, from the sensor origin to the point
// itself, stepping one voxel size at a time and applying a weighted update
// at each sample along the way. It never walks past the surface point
// into the occluded voxels behind it, so it cannot see both sides of a
// surface and does not support deintegration.
type Simple struct {
	Params Params
}

func (s *Simple) Method() Method { return MethodSimple }

func (s *Simple) SupportsDeintegrate() bool { return false }

func (s *Simple) Integrate(l *layer.Layer, tGC spatial.Pose, cloud PointCloud, isFreespace, deintegrate bool) {
	if deintegrate {
		diag.Fatal("integrator: simple flavor does not support deintegration")
	}
	if len(cloud.Points) != len(cloud.Colors) {
		diag.Fatal("integrator: point/color length mismatch (%d vs %d)", len(cloud.Points), len(cloud.Colors))
	}

	trunc := s.Params.TruncationDistance
	voxelSize := l.VoxelSize
	sensorOrigin := tGC.T

	for i, pLocal := range cloud.Points {
		pWorld := tGC.Transform(pLocal)
		rayVec := pWorld.Sub(sensorOrigin)
		rangeToSensor := rayVec.Norm()
		if rangeToSensor < 1e-6 {
			continue
		}
		if s.Params.MaxRayLength > 0 && rangeToSensor > s.Params.MaxRayLength {
			continue
		}
		rayDir := rayVec.Scale(1 / rangeToSensor)
		color := cloud.Colors[i]

		numSteps := int(math.Ceil(rangeToSensor / voxelSize))
		for step := 0; step <= numSteps; step++ {
			t := math.Min(float64(step)*voxelSize, rangeToSensor)
			samplePos := sensorOrigin.Add(rayDir.Scale(t))

			bi := layer.BlockIndexOf(samplePos, l.BlockSize)
			vi := layer.VoxelIndexOf(samplePos, bi, l.BlockSize, l.VoxelSize, l.VoxelsPerSide)
			center := voxelCenter(bi, vi, l)

			sdfRaw := pWorld.Sub(center).Dot(rayDir)
			sdf := clip(sdfRaw, trunc)

			if isFreespace && sdfRaw <= s.Params.freespaceCutoff() {
				if t >= rangeToSensor {
					break
				}
				continue
			}

			wp := pointWeight(s.Params.WeightPolicy, rangeToSensor, sdf, trunc)
			touchVoxel(l, center, sdf, wp, color, s.Params.MaxWeight, false)

			if t >= rangeToSensor {
				break
			}
		}
	}
}
