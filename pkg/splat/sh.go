package splat

import "github.com/go-gl/mathgl/mgl64"

// Real spherical harmonic basis constants
const (
	shC0 = 0.28209479177387814
	shC1 = 0.4886025119029199
)

var (
	shC2 = [5]float64{
		1.0925484305920792,
		-1.0925484305920792,
		0.31539156525252005,
		-1.0925484305920792,
		0.5462742152960396,
	}
	shC3 = [7]float64{
		-0.5900435899266435,
		2.890611442640554,
		-0.4570457994644658,
		0.3731763325901154,
		-0.4570457994644658,
		1.445305721320277,
		-0.5900435899266435,
	}
)

// EvalSH evaluates spherical harmonic coefficients of the given degree along a
// unit direction and returns the raw rgb value (no bias, no clamping).
func EvalSH(degree int, coeffs [][3]float32, dir mgl64.Vec3) mgl64.Vec3 {
	result := coeff(coeffs, 0).Mul(shC0)
	if degree < 1 {
		return result
	}

	x, y, z := dir[0], dir[1], dir[2]
	result = result.
		Sub(coeff(coeffs, 1).Mul(shC1 * y)).
		Add(coeff(coeffs, 2).Mul(shC1 * z)).
		Sub(coeff(coeffs, 3).Mul(shC1 * x))
	if degree < 2 {
		return result
	}

	xx, yy, zz := x*x, y*y, z*z
	xy, yz, xz := x*y, y*z, x*z
	result = result.
		Add(coeff(coeffs, 4).Mul(shC2[0] * xy)).
		Add(coeff(coeffs, 5).Mul(shC2[1] * yz)).
		Add(coeff(coeffs, 6).Mul(shC2[2] * (2*zz - xx - yy))).
		Add(coeff(coeffs, 7).Mul(shC2[3] * xz)).
		Add(coeff(coeffs, 8).Mul(shC2[4] * (xx - yy)))
	if degree < 3 {
		return result
	}

	return result.
		Add(coeff(coeffs, 9).Mul(shC3[0] * y * (3*xx - yy))).
		Add(coeff(coeffs, 10).Mul(shC3[1] * xy * z)).
		Add(coeff(coeffs, 11).Mul(shC3[2] * y * (4*zz - xx - yy))).
		Add(coeff(coeffs, 12).Mul(shC3[3] * z * (2*zz - 3*xx - 3*yy))).
		Add(coeff(coeffs, 13).Mul(shC3[4] * x * (4*zz - xx - yy))).
		Add(coeff(coeffs, 14).Mul(shC3[5] * z * (xx - yy))).
		Add(coeff(coeffs, 15).Mul(shC3[6] * x * (xx - 3*yy)))
}

// ViewColor resolves the displayed color of primitive i seen from cameraCenter:
// SH evaluated along the camera-to-primitive direction, offset by 0.5 and
// clamped to be non-negative.
func (s *Set) ViewColor(i int, cameraCenter mgl64.Vec3) mgl64.Vec3 {
	dir := s.positions[i].Sub(cameraCenter)
	if l := dir.Len(); l > 0 {
		dir = dir.Mul(1 / l)
	}
	rgb := EvalSH(s.degree, s.sh[i], dir)
	for c := range rgb {
		rgb[c] = max(rgb[c]+0.5, 0)
	}
	return rgb
}

// RGBToSH converts a base color into the DC coefficient that reproduces it
func RGBToSH(rgb mgl64.Vec3) [3]float32 {
	return [3]float32{
		float32((rgb[0] - 0.5) / shC0),
		float32((rgb[1] - 0.5) / shC0),
		float32((rgb[2] - 0.5) / shC0),
	}
}

func coeff(coeffs [][3]float32, k int) mgl64.Vec3 {
	c := coeffs[k]
	return mgl64.Vec3{float64(c[0]), float64(c[1]), float64(c[2])}
}
