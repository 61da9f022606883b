package integrator

import (
	"math"

	"github.com/kabilan-n/tsdf-fusion/internal/config"
	"github.com/kabilan-n/tsdf-fusion/internal/layer"
)

// pointWeight computes w_p for a single point under the configured
// weighting policy: constant, inverse-square by range to sensor, or
// inverse-square with a linear dropoff once sdf goes negative past the
// surface (to avoid background voxels behind a surface being pulled hard
// toward it by a single noisy return).
func pointWeight(policy config.WeightPolicy, rangeToSensor, sdf, truncation float64) float64 {
	w := 1.0
	switch policy {
	case config.WeightInverseSquare, config.WeightInverseSqDropoff:
		r := rangeToSensor
		if r < 1e-3 {
			r = 1e-3
		}
		w = 1.0 / (r * r)
	}
	if policy == config.WeightInverseSqDropoff && sdf < 0 {
		frac := (truncation + sdf) / truncation
		if frac < 0 {
			frac = 0
		}
		w *= frac
	}
	return w
}

// blendColor returns the weight-blended average of (cOld, wOld) and
// (cNew, wNew), rounding each channel to the nearest byte.
func blendColor(cOld layer.RGB, wOld float64, cNew layer.RGB, wNew float64) layer.RGB {
	total := wOld + wNew
	if total <= 0 {
		return layer.RGB{}
	}
	mix := func(a, b uint8) uint8 {
		v := (wOld*float64(a) + wNew*float64(b)) / total
		if v < 0 {
			v = 0
		}
		if v > 255 {
			v = 255
		}
		return uint8(math.Round(v))
	}
	return layer.RGB{R: mix(cOld.R, cNew.R), G: mix(cOld.G, cNew.G), B: mix(cOld.B, cNew.B)}
}

// updateVoxel applies one weighted observation (sdf, wp, color) to v,
// either integrating (the normal weighted-mean update) or deintegrating
// (the exact algebraic inverse of that update, valid when wp and sdf are
// the very value previously used to integrate this same observation).
func updateVoxel(v *layer.Voxel, sdf float64, wp float64, color layer.RGB, maxWeight float64, deintegrate bool) {
	w := float64(v.W)
	d := float64(v.D)

	if !deintegrate {
		wNew := w + wp
		dNew := sdf
		if w > 0 {
			dNew = (w*d + wp*sdf) / wNew
		}
		if wNew > maxWeight {
			wNew = maxWeight
		}
		v.W = float32(wNew)
		v.D = float32(dNew)
		v.Color = blendColor(v.Color, w, color, wp)
		return
	}

	// Deintegrate: invert the weighted mean given the same (sdf, wp) that
	// was previously folded in. wOld is the pre-integration weight.
	wOld := w - wp
	if wOld <= 0 {
		v.W = 0
		v.D = 0
		v.Color = layer.RGB{}
		return
	}
	dOld := (d*w - wp*sdf) / wOld
	v.W = float32(wOld)
	v.D = float32(dOld)
	// Undo the color blend symmetrically: the forward blend mixed
	// (colorBeforeThisUpdate, wOld) with (color, wp) to produce the
	// current v.Color at weight w; solving for colorBeforeThisUpdate:
	unmix := func(mixed, add uint8) uint8 {
		val := (float64(mixed)*w - float64(add)*wp) / wOld
		if val < 0 {
			val = 0
		}
		if val > 255 {
			val = 255
		}
		return uint8(math.Round(val))
	}
	v.Color = layer.RGB{
		R: unmix(v.Color.R, color.R),
		G: unmix(v.Color.G, color.G),
		B: unmix(v.Color.B, color.B),
	}
}

