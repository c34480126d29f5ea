package camera

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/seung0h/web-3dgs/pkg/core"
)

// Depth values produced by ProjectionMatrix after the perspective divide
const (
	DepthNear = 0.0 // clip z / w on the near plane
	DepthFar  = 1.0 // clip z / w on the far plane
)

// DefaultUp is the world up direction used when aiming a camera. COLMAP
// reconstructions are y-down, so scene up is -Y.
var DefaultUp = mgl64.Vec3{0, -1, 0}

// Pose is a camera-to-world rotation plus the camera position, both in world
// coordinates. The camera frame is +X right, +Y down, +Z forward.
type Pose struct {
	Rotation mgl64.Quat
	Position mgl64.Vec3
}

// NewPose creates a pose with a normalized rotation
func NewPose(rotation mgl64.Quat, position mgl64.Vec3) Pose {
	return Pose{Rotation: rotation, Position: position}.Normalize()
}

// IdentityPose returns a camera at the origin looking down +Z
func IdentityPose() Pose {
	return Pose{Rotation: mgl64.QuatIdent()}
}

// Normalize renormalizes the rotation so it stays orthonormal after incremental updates
func (p Pose) Normalize() Pose {
	if p.Rotation.Len() == 0 {
		p.Rotation = mgl64.QuatIdent()
		return p
	}
	p.Rotation = p.Rotation.Normalize()
	return p
}

// RotationMatrix returns the camera-to-world rotation as a 3x3 matrix
func (p Pose) RotationMatrix() mgl64.Mat3 {
	return p.Rotation.Normalize().Mat4().Mat3()
}

// Forward returns the world-space viewing direction (+Z of the camera frame)
func (p Pose) Forward() mgl64.Vec3 {
	return p.RotationMatrix().Col(2)
}

// LookAt rotates the camera in place so that it faces target. The camera's -Y
// axis is aligned as closely as possible with up. If target coincides with the
// camera position the pose is returned unchanged.
func (p Pose) LookAt(target, up mgl64.Vec3) Pose {
	forward := target.Sub(p.Position)
	if forward.Len() < 1e-12 {
		return p
	}
	forward = forward.Normalize()

	// up parallel to the view direction has no defined roll; pick another axis
	right := forward.Cross(up)
	if right.Len() < 1e-9 {
		right = forward.Cross(mgl64.Vec3{0, 0, 1})
		if right.Len() < 1e-9 {
			right = forward.Cross(mgl64.Vec3{1, 0, 0})
		}
	}
	right = right.Normalize()
	down := forward.Cross(right)

	rotation := mgl64.Mat3FromCols(right, down, forward)
	return Pose{
		Rotation: mgl64.Mat4ToQuat(rotation.Mat4()).Normalize(),
		Position: p.Position,
	}
}

// ViewMatrix builds the world-to-camera transform for a pose. The scale
// modifier scales the camera center, which is how the rasterizer expects a
// scene whose Gaussian extents are scaled by the same factor.
func ViewMatrix(pose Pose, scaleModifier float64) mgl64.Mat4 {
	rt := pose.RotationMatrix().Transpose()
	center := pose.Position.Mul(scaleModifier)
	t := rt.Mul3x1(center).Mul(-1)

	view := rt.Mat4()
	view.SetCol(3, mgl64.Vec4{t[0], t[1], t[2], 1})
	return view
}

// Center returns the world-space camera center encoded in a view matrix
func Center(view mgl64.Mat4) mgl64.Vec3 {
	return view.Inv().Col(3).Vec3()
}

// ProjectionMatrix builds a perspective projection from clip planes and field
// of view angles in radians. The frustum is symmetric; after the perspective
// divide the near plane maps to DepthNear and the far plane to DepthFar.
func ProjectionMatrix(near, far, fovX, fovY float64) (mgl64.Mat4, error) {
	if err := ValidateClipPlanes(near, far); err != nil {
		return mgl64.Mat4{}, err
	}
	if err := ValidateFov(fovX); err != nil {
		return mgl64.Mat4{}, err
	}
	if err := ValidateFov(fovY); err != nil {
		return mgl64.Mat4{}, err
	}

	tanHalfX := math.Tan(fovX / 2)
	tanHalfY := math.Tan(fovY / 2)

	var proj mgl64.Mat4
	proj.Set(0, 0, 1/tanHalfX)
	proj.Set(1, 1, 1/tanHalfY)
	proj.Set(2, 2, far/(far-near))
	proj.Set(2, 3, -(far*near)/(far-near))
	proj.Set(3, 2, 1)
	return proj, nil
}

// VerticalFov derives the vertical field of view (radians) from the horizontal
// one so that pixels stay square for a width x height image.
func VerticalFov(fovX float64, width, height int) float64 {
	return 2 * math.Atan(math.Tan(fovX/2)*float64(height)/float64(width))
}

// ValidateFov checks a field of view in radians lies strictly inside (0, pi)
func ValidateFov(fov float64) error {
	if math.IsNaN(fov) || fov <= 0 || fov >= math.Pi {
		return fmt.Errorf("field of view must be in (0°, 180°), got %.4f°: %w", mgl64.RadToDeg(fov), core.ErrInvalidParameter)
	}
	return nil
}

// ValidateClipPlanes checks 0 < near < far
func ValidateClipPlanes(near, far float64) error {
	if near <= 0 || far <= 0 || near >= far {
		return fmt.Errorf("clip planes must satisfy 0 < near < far, got near=%g far=%g: %w", near, far, core.ErrInvalidParameter)
	}
	return nil
}
