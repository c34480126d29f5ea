// Package scene provides built-in synthetic splat scenes for running the
// viewer without a trained model.
package scene

import (
	"fmt"
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/seung0h/web-3dgs/pkg/core"
	"github.com/seung0h/web-3dgs/pkg/splat"
)

// BuiltinSnapshot is the snapshot id reported for built-in scenes
const BuiltinSnapshot splat.SnapshotID = 0

var builtins = map[string]func() (*splat.Set, error){
	"default":    NewDefaultScene,
	"spheregrid": NewSphereGridScene,
}

// Names returns the built-in scene names in sorted order
func Names() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New creates a built-in scene by name
func New(name string) (*splat.Set, error) {
	build, ok := builtins[name]
	if !ok {
		return nil, fmt.Errorf("unknown built-in scene %q (have %v): %w", name, Names(), core.ErrInvalidParameter)
	}
	return build()
}

// Gaussian builds an isotropic primitive with a flat color
func Gaussian(position, rgb mgl64.Vec3, scale, opacity float64) splat.Primitive {
	s := float32(math.Log(scale))
	return splat.Primitive{
		Position: position,
		LogScale: [3]float32{s, s, s},
		Rotation: [4]float32{1, 0, 0, 0},
		Opacity:  splat.InverseSigmoid(opacity),
		SH:       [][3]float32{splat.RGBToSH(rgb)},
	}
}

// NewDefaultScene creates three overlapping blobs in front of the origin
// camera: red on the left, green in the middle, blue on the right
func NewDefaultScene() (*splat.Set, error) {
	prims := []splat.Primitive{
		Gaussian(mgl64.Vec3{-0.6, 0, 5}, mgl64.Vec3{0.9, 0.2, 0.2}, 0.35, 0.9),
		Gaussian(mgl64.Vec3{0, 0, 5.2}, mgl64.Vec3{0.2, 0.8, 0.3}, 0.35, 0.9),
		Gaussian(mgl64.Vec3{0.6, 0, 5.4}, mgl64.Vec3{0.2, 0.3, 0.9}, 0.35, 0.9),
	}
	return splat.FromPrimitives(prims, 0)
}
