// Package colormap implements the closed set of intensity->RGB mappings
// used both for decoding intensity-only point clouds and for rendering
// visualization artifacts (tsdf_slice, occupancy_marker). Represented as
// a tagged variant (a named int enum with a single Apply operation)
// rather than an interface-per-map hierarchy, per the design guidance
// that this is a closed, rarely-extended enumeration.
package colormap

import "github.com/kabilan-n/tsdf-fusion/internal/layer"

// Map names one of the five supported intensity color maps.
type Map int

const (
	Rainbow Map = iota
	InverseRainbow
	Grayscale
	InverseGrayscale
	Ironbow
)

// ParseMap maps the configuration string form to a Map, returning false
// for an unrecognized name so the caller can treat it as a configuration
// error (log, fall back to a default, continue).
func ParseMap(name string) (Map, bool) {
	switch name {
	case "rainbow":
		return Rainbow, true
	case "inverse_rainbow":
		return InverseRainbow, true
	case "grayscale":
		return Grayscale, true
	case "inverse_grayscale":
		return InverseGrayscale, true
	case "ironbow":
		return Ironbow, true
	default:
		return Rainbow, false
	}
}

// Apply maps an intensity value in [0, max] to an RGB color under m. An
// intensity outside [0, max] is clamped first.
func Apply(m Map, intensity, max float64) layer.RGB {
	if max <= 0 {
		max = 1
	}
	frac := intensity / max
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}

	switch m {
	case InverseRainbow:
		return rainbow(1 - frac)
	case Grayscale:
		return grayscale(frac)
	case InverseGrayscale:
		return grayscale(1 - frac)
	case Ironbow:
		return ironbow(frac)
	case Rainbow:
		fallthrough
	default:
		return rainbow(frac)
	}
}

// rainbow walks blue -> cyan -> green -> yellow -> red as frac goes 0->1,
// the classic four-segment HSV-style rainbow ramp.
func rainbow(frac float64) layer.RGB {
	const segments = 4
	seg := frac * segments
	i := int(seg)
	if i >= segments {
		i = segments - 1
	}
	t := seg - float64(i)
	lerp := func(a, b uint8) uint8 {
		return uint8(float64(a) + t*(float64(b)-float64(a)))
	}
	stops := [segments + 1][3]uint8{
		{0, 0, 255},
		{0, 255, 255},
		{0, 255, 0},
		{255, 255, 0},
		{255, 0, 0},
	}
	a, b := stops[i], stops[i+1]
	return layer.RGB{R: lerp(a[0], b[0]), G: lerp(a[1], b[1]), B: lerp(a[2], b[2])}
}

func grayscale(frac float64) layer.RGB {
	v := uint8(frac * 255)
	return layer.RGB{R: v, G: v, B: v}
}

// ironbow approximates a thermal-camera "iron" palette: black -> purple
// -> red -> orange -> yellow -> white.
func ironbow(frac float64) layer.RGB {
	const segments = 5
	seg := frac * segments
	i := int(seg)
	if i >= segments {
		i = segments - 1
	}
	t := seg - float64(i)
	lerp := func(a, b uint8) uint8 {
		return uint8(float64(a) + t*(float64(b)-float64(a)))
	}
	stops := [segments + 1][3]uint8{
		{0, 0, 0},
		{60, 0, 80},
		{180, 0, 60},
		{230, 100, 0},
		{255, 200, 0},
		{255, 255, 255},
	}
	a, b := stops[i], stops[i+1]
	return layer.RGB{R: lerp(a[0], b[0]), G: lerp(a[1], b[1]), B: lerp(a[2], b[2])}
}
