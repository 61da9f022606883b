package integrator

import (
	"math"

	"github.com/kabilan-n/tsdf-fusion/internal/diag"
	"github.com/kabilan-n/tsdf-fusion/internal/layer"
	"github.com/kabilan-n/tsdf-fusion/internal/spatial"
)

// Merged rays are cast exactly like Simple, but samples landing in the
// same voxel along the same point's ray (or across different points of
// the same cloud) are folded into a single update before being applied,
// whose weight is the sum of those samples' weights, so a voxel crossed
// by several rays in one cloud receives one update per cloud instead of
// one per sample. Like Simple, it
// never walks past the surface point and does not support deintegration.
type Merged struct {
	Params Params
}

func (m *Merged) Method() Method { return MethodMerged }

func (m *Merged) SupportsDeintegrate() bool { return false }

type mergedObservation struct {
	sdfSum float64
	wSum   float64
	color  layer.RGB
	center spatial.Vec3
}

func (m *Merged) Integrate(l *layer.Layer, tGC spatial.Pose, cloud PointCloud, isFreespace, deintegrate bool) {
	if deintegrate {
		diag.Fatal("integrator: merged flavor does not support deintegration")
	}
	if len(cloud.Points) != len(cloud.Colors) {
		diag.Fatal("integrator: point/color length mismatch (%d vs %d)", len(cloud.Points), len(cloud.Colors))
	}

	trunc := m.Params.TruncationDistance
	voxelSize := l.VoxelSize
	sensorOrigin := tGC.T

	touched := make(map[layer.BlockIndex]map[layer.VoxelIndex]*mergedObservation)

	addObservation := func(bi layer.BlockIndex, vi layer.VoxelIndex, center spatial.Vec3, sdf, wp float64, color layer.RGB) {
		byVoxel, ok := touched[bi]
		if !ok {
			byVoxel = make(map[layer.VoxelIndex]*mergedObservation)
			touched[bi] = byVoxel
		}
		obs, ok := byVoxel[vi]
		if !ok {
			obs = &mergedObservation{center: center}
			byVoxel[vi] = obs
		}
		obs.sdfSum += sdf * wp
		obs.wSum += wp
		// Last writer wins on color, same as averaging a single dominant
		// return per voxel per cloud; good enough since colors rarely
		// disagree sharply within one voxel of one scan.
		obs.color = color
	}

	for i, pLocal := range cloud.Points {
		pWorld := tGC.Transform(pLocal)
		rayVec := pWorld.Sub(sensorOrigin)
		rangeToSensor := rayVec.Norm()
		if rangeToSensor < 1e-6 {
			continue
		}
		if m.Params.MaxRayLength > 0 && rangeToSensor > m.Params.MaxRayLength {
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

			atSurface := t >= rangeToSensor
			if !(isFreespace && sdfRaw <= m.Params.freespaceCutoff()) {
				wp := pointWeight(m.Params.WeightPolicy, rangeToSensor, sdf, trunc)
				addObservation(bi, vi, center, sdf, wp, color)
			}
			if atSurface {
				break
			}
		}
	}

	for _, byVoxel := range touched {
		for _, obs := range byVoxel {
			if obs.wSum <= 0 {
				continue
			}
			meanSDF := obs.sdfSum / obs.wSum
			touchVoxel(l, obs.center, meanSDF, obs.wSum, obs.color, m.Params.MaxWeight, false)
		}
	}
}
