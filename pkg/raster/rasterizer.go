// Package raster defines the Gaussian rasterization backend contract and a
// tile-based CPU implementation of it.
package raster

import (
	"context"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

// Rasterizer turns activated Gaussian primitives into color and depth images.
// Implementations must not retain the slices in Primitives after returning.
type Rasterizer interface {
	Rasterize(ctx context.Context, settings Settings, prims Primitives) (*Result, error)
}

// Settings are the per-frame camera and image parameters
type Settings struct {
	Width, Height    int
	TanFovX, TanFovY float64
	Background       mgl64.Vec3
	ScaleModifier    float64
	View             mgl64.Mat4 // world -> camera
	Proj             mgl64.Mat4 // world -> clip (projection * view)
	CameraCenter     mgl64.Vec3
}

// Primitives holds activated per-Gaussian attributes as parallel slices
type Primitives struct {
	Means     []mgl64.Vec3
	Scales    []mgl64.Vec3
	Rotations []mgl64.Quat
	Opacities []float64
	Colors    []mgl64.Vec3
}

// Len returns the number of primitives
func (p Primitives) Len() int {
	return len(p.Means)
}

// Result is the output of one rasterization
type Result struct {
	Width, Height int
	Color         []float64 // row-major H x W x 3
	Depth         []float64 // row-major H x W, view-space depth
	Radii         []int     // screen-space radius per primitive, 0 when culled
	Visible       int       // primitives with a non-zero radius
	Stats         RenderStats
}

// Validate checks the settings and primitive arrays agree
func Validate(settings Settings, prims Primitives) error {
	if settings.Width <= 0 || settings.Height <= 0 {
		return fmt.Errorf("invalid image size %dx%d", settings.Width, settings.Height)
	}
	if settings.TanFovX <= 0 || settings.TanFovY <= 0 {
		return fmt.Errorf("invalid field of view tangents %g, %g", settings.TanFovX, settings.TanFovY)
	}
	n := prims.Len()
	if len(prims.Scales) != n || len(prims.Rotations) != n || len(prims.Opacities) != n || len(prims.Colors) != n {
		return fmt.Errorf("mismatched primitive arrays: means=%d scales=%d rotations=%d opacities=%d colors=%d",
			n, len(prims.Scales), len(prims.Rotations), len(prims.Opacities), len(prims.Colors))
	}
	return nil
}
