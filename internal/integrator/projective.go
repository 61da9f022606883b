package integrator

import (
	"math"

	"github.com/kabilan-n/tsdf-fusion/internal/diag"
	"github.com/kabilan-n/tsdf-fusion/internal/layer"
	"github.com/kabilan-n/tsdf-fusion/internal/spatial"
)

// Projective samples every voxel within one truncation band of each
// point's ray, on both sides of the surface — unlike Simple and Merged,
// which stop at the surface point and never see the voxels behind it.
// Seeing both sides of the surface is exactly what makes its update
// invertible: the same (pose, cloud) pair touches the same set of voxels
// with the same (sdf, weight) pairs whether integrating or deintegrating,
// so SupportsDeintegrate reports true.
type Projective struct {
	Params Params
}

func (p *Projective) Method() Method { return MethodProjective }

func (p *Projective) SupportsDeintegrate() bool { return true }

func (p *Projective) Integrate(l *layer.Layer, tGC spatial.Pose, cloud PointCloud, isFreespace, deintegrate bool) {
	if len(cloud.Points) != len(cloud.Colors) {
		diag.Fatal("integrator: point/color length mismatch (%d vs %d)", len(cloud.Points), len(cloud.Colors))
	}

	trunc := p.Params.TruncationDistance
	voxelSize := l.VoxelSize
	sensorOrigin := tGC.T

	for i, pLocal := range cloud.Points {
		pWorld := tGC.Transform(pLocal)
		rayVec := pWorld.Sub(sensorOrigin)
		rangeToSensor := rayVec.Norm()
		if rangeToSensor < 1e-6 {
			continue
		}
		if p.Params.MaxRayLength > 0 && rangeToSensor > p.Params.MaxRayLength {
			continue
		}
		rayDir := rayVec.Scale(1 / rangeToSensor)
		color := cloud.Colors[i]

		near := rangeToSensor - trunc
		if near < 0 {
			near = 0
		}
		far := rangeToSensor + trunc
		if p.Params.MaxRayLength > 0 && far > p.Params.MaxRayLength {
			far = p.Params.MaxRayLength
		}

		numSteps := int(math.Ceil((far - near) / voxelSize))
		for step := 0; step <= numSteps; step++ {
			t := near + float64(step)*voxelSize
			if t > far {
				t = far
			}
			samplePos := sensorOrigin.Add(rayDir.Scale(t))

			bi := layer.BlockIndexOf(samplePos, l.BlockSize)
			vi := layer.VoxelIndexOf(samplePos, bi, l.BlockSize, l.VoxelSize, l.VoxelsPerSide)
			center := voxelCenter(bi, vi, l)

			sdfRaw := pWorld.Sub(center).Dot(rayDir)
			sdf := clip(sdfRaw, trunc)

			if isFreespace && sdfRaw <= p.Params.freespaceCutoff() {
				if t >= far {
					break
				}
				continue
			}

			wp := pointWeight(p.Params.WeightPolicy, rangeToSensor, sdf, trunc)
			touchVoxel(l, center, sdf, wp, color, p.Params.MaxWeight, deintegrate)

			if t >= far {
				break
			}
		}
	}
}
