// Package splat holds a loaded Gaussian splat scene and the activations that
// turn its stored parameters into renderable quantities.
package splat

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/stat"
)

// MaxSHDegree is the highest spherical harmonic degree a scene may carry
const MaxSHDegree = 3

// CoeffsForDegree returns the number of SH coefficients per channel for a degree
func CoeffsForDegree(degree int) int {
	return (degree + 1) * (degree + 1)
}

// Set is an ordered, immutable collection of Gaussian primitives stored with
// their raw (pre-activation) parameters.
type Set struct {
	positions []mgl64.Vec3
	logScales [][3]float32
	rotations [][4]float32 // w, x, y, z
	opacities []float32
	sh        [][][3]float32 // per primitive: coefficient -> rgb
	degree    int

	mean mgl64.Vec3 // centroid, computed once
}

// Params holds the raw per-primitive arrays used to build a Set
type Params struct {
	Positions []mgl64.Vec3
	LogScales [][3]float32
	Rotations [][4]float32
	Opacities []float32
	SH        [][][3]float32
	SHDegree  int
}

// NewSet validates the raw arrays and builds a Set, caching its centroid
func NewSet(p Params) (*Set, error) {
	n := len(p.Positions)
	if len(p.LogScales) != n || len(p.Rotations) != n || len(p.Opacities) != n || len(p.SH) != n {
		return nil, fmt.Errorf("mismatched primitive arrays: positions=%d scales=%d rotations=%d opacities=%d sh=%d",
			n, len(p.LogScales), len(p.Rotations), len(p.Opacities), len(p.SH))
	}
	if p.SHDegree < 0 || p.SHDegree > MaxSHDegree {
		return nil, fmt.Errorf("sh degree must be in [0, %d], got %d", MaxSHDegree, p.SHDegree)
	}
	coeffs := CoeffsForDegree(p.SHDegree)
	for i, c := range p.SH {
		if len(c) != coeffs {
			return nil, fmt.Errorf("primitive %d: expected %d sh coefficients, got %d", i, coeffs, len(c))
		}
	}

	s := &Set{
		positions: p.Positions,
		logScales: p.LogScales,
		rotations: p.Rotations,
		opacities: p.Opacities,
		sh:        p.SH,
		degree:    p.SHDegree,
	}
	s.mean = centroid(p.Positions)
	return s, nil
}

// centroid averages positions per axis
func centroid(positions []mgl64.Vec3) mgl64.Vec3 {
	if len(positions) == 0 {
		return mgl64.Vec3{}
	}
	var mean mgl64.Vec3
	axis := make([]float64, len(positions))
	for a := 0; a < 3; a++ {
		for i, p := range positions {
			axis[i] = p[a]
		}
		mean[a] = stat.Mean(axis, nil)
	}
	return mean
}

// Len returns the number of primitives
func (s *Set) Len() int {
	return len(s.positions)
}

// Degree returns the spherical harmonic degree of the color coefficients
func (s *Set) Degree() int {
	return s.degree
}

// Position returns the world-space center of primitive i
func (s *Set) Position(i int) mgl64.Vec3 {
	return s.positions[i]
}

// Opacity returns the sigmoid-activated opacity of primitive i
func (s *Set) Opacity(i int) float64 {
	return float64(sigmoid(s.opacities[i]))
}

// Scale returns the exp-activated per-axis extent of primitive i
func (s *Set) Scale(i int) mgl64.Vec3 {
	ls := s.logScales[i]
	return mgl64.Vec3{
		float64(math32.Exp(ls[0])),
		float64(math32.Exp(ls[1])),
		float64(math32.Exp(ls[2])),
	}
}

// Rotation returns the normalized orientation quaternion of primitive i.
// A zero quaternion activates to identity.
func (s *Set) Rotation(i int) mgl64.Quat {
	r := s.rotations[i]
	norm := math32.Sqrt(r[0]*r[0] + r[1]*r[1] + r[2]*r[2] + r[3]*r[3])
	if norm == 0 {
		return mgl64.QuatIdent()
	}
	return mgl64.Quat{
		W: float64(r[0] / norm),
		V: mgl64.Vec3{float64(r[1] / norm), float64(r[2] / norm), float64(r[3] / norm)},
	}
}

// SH returns the spherical harmonic coefficients of primitive i. The slice is
// shared with the set and must not be modified.
func (s *Set) SH(i int) [][3]float32 {
	return s.sh[i]
}

// MeanPosition returns the centroid of all primitive positions
func (s *Set) MeanPosition() mgl64.Vec3 {
	return s.mean
}

func sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}

// Primitive describes one Gaussian by its raw stored parameters
type Primitive struct {
	Position mgl64.Vec3
	LogScale [3]float32
	Rotation [4]float32 // w, x, y, z
	Opacity  float32    // pre-sigmoid
	SH       [][3]float32
}

// FromPrimitives builds a Set from individual primitives of the given SH degree
func FromPrimitives(prims []Primitive, degree int) (*Set, error) {
	p := Params{
		Positions: make([]mgl64.Vec3, len(prims)),
		LogScales: make([][3]float32, len(prims)),
		Rotations: make([][4]float32, len(prims)),
		Opacities: make([]float32, len(prims)),
		SH:        make([][][3]float32, len(prims)),
		SHDegree:  degree,
	}
	for i, prim := range prims {
		p.Positions[i] = prim.Position
		p.LogScales[i] = prim.LogScale
		p.Rotations[i] = prim.Rotation
		p.Opacities[i] = prim.Opacity
		p.SH[i] = prim.SH
	}
	return NewSet(p)
}

// InverseSigmoid maps an activated opacity back to its stored value
func InverseSigmoid(opacity float64) float32 {
	return float32(math32.Log(float32(opacity) / (1 - float32(opacity))))
}
