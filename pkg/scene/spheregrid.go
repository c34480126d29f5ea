package scene

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/seung0h/web-3dgs/pkg/splat"
)

// oklchToRGB converts OKLCH color values to RGB
// L: lightness (0-1), C: chroma (0-0.4+), H: hue (0-360 degrees)
func oklchToRGB(l, c, h float64) mgl64.Vec3 {
	hRad := h * math.Pi / 180.0

	// OKLCH -> OKLAB
	a := c * math.Cos(hRad)
	b := c * math.Sin(hRad)

	// OKLAB -> LMS
	l_ := l + 0.3963377774*a + 0.2158037573*b
	m_ := l - 0.1055613458*a - 0.0638541728*b
	s_ := l - 0.0894841775*a - 1.2914855480*b

	l_ = l_ * l_ * l_
	m_ = m_ * m_ * m_
	s_ = s_ * s_ * s_

	// LMS -> linear RGB
	r := +4.0767416621*l_ - 3.3077115913*m_ + 0.2309699292*s_
	g := -1.2684380046*l_ + 2.6097574011*m_ - 0.3413193965*s_
	blue := -0.0041960863*l_ - 0.7034186147*m_ + 1.7076147010*s_

	r = math.Max(0, math.Min(1, r))
	g = math.Max(0, math.Min(1, g))
	blue = math.Max(0, math.Min(1, blue))

	return mgl64.Vec3{r, g, blue}
}

// Sphere grid layout
const (
	gridSize        = 10
	gridSpacing     = 1.0
	sphereRadius    = 0.35
	splatsPerSphere = 48
	goldenAngle     = 2.399963229728653 // pi * (3 - sqrt(5))
)

// NewSphereGridScene creates a grid of spheres on the y=0 ground, each
// sphere a shell of small Gaussians. Hue varies across X and chroma across
// Z. A band-1 SH term makes the spheres brighter when seen from above.
func NewSphereGridScene() (*splat.Set, error) {
	// OKLCH parameters for color variation
	baseLightness := 0.65
	minChroma := 0.05
	maxChroma := 0.25

	extent := gridSpacing * float64(gridSize-1)
	splatScale := sphereRadius * 0.3

	prims := make([]splat.Primitive, 0, gridSize*gridSize*splatsPerSphere)
	for i := 0; i < gridSize; i++ {
		for j := 0; j < gridSize; j++ {
			// +Y points down, so spheres resting on y=0 sit at negative y
			center := mgl64.Vec3{
				float64(i)*gridSpacing - extent/2,
				-sphereRadius,
				float64(j)*gridSpacing - extent/2,
			}

			hue := (float64(i) / float64(gridSize-1)) * 360.0
			chroma := minChroma + (float64(j)/float64(gridSize-1))*(maxChroma-minChroma)
			lightness := baseLightness + 0.1*math.Sin(float64(i+j)*0.5)
			color := oklchToRGB(lightness, chroma, hue)

			for k := 0; k < splatsPerSphere; k++ {
				prim := Gaussian(center.Add(fibonacciPoint(k, splatsPerSphere).Mul(sphereRadius)), color, splatScale, 0.85)
				// band 1 enters as -C1*y*c; above the grid the view direction has y > 0
				prim.SH = append(prim.SH, [3]float32{-0.15, -0.15, -0.15}, [3]float32{}, [3]float32{})
				prims = append(prims, prim)
			}
		}
	}
	return splat.FromPrimitives(prims, 1)
}

// fibonacciPoint returns the k-th of n roughly evenly spaced unit vectors
func fibonacciPoint(k, n int) mgl64.Vec3 {
	y := 1 - 2*(float64(k)+0.5)/float64(n)
	r := math.Sqrt(1 - y*y)
	phi := float64(k) * goldenAngle
	return mgl64.Vec3{r * math.Cos(phi), y, r * math.Sin(phi)}
}
