package renderer

import (
	"fmt"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/seung0h/web-3dgs/pkg/camera"
	"github.com/seung0h/web-3dgs/pkg/core"
)

// Mode selects which rasterizer output a render returns
type Mode int

const (
	ModeColor Mode = iota
	ModeDepth
)

func (m Mode) String() string {
	switch m {
	case ModeColor:
		return "color"
	case ModeDepth:
		return "depth"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode accepts "color" or "depth", case-insensitively
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "color", "rgb":
		return ModeColor, nil
	case "depth":
		return ModeDepth, nil
	default:
		return 0, fmt.Errorf("unknown render mode %q: %w", s, core.ErrInvalidParameter)
	}
}

// MarshalText implements encoding.TextMarshaler
func (m Mode) MarshalText() ([]byte, error) {
	if m != ModeColor && m != ModeDepth {
		return nil, fmt.Errorf("unknown render mode %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Intrinsics are the camera and output parameters shared by every client
type Intrinsics struct {
	Width         int     `json:"width" yaml:"width"`
	Height        int     `json:"height" yaml:"height"`
	FovX          float64 `json:"fov" yaml:"fov"` // horizontal, degrees
	Near          float64 `json:"near" yaml:"near"`
	Far           float64 `json:"far" yaml:"far"`
	ScaleModifier float64 `json:"scale" yaml:"scale"`
	Mode          Mode    `json:"mode" yaml:"mode"`
}

// DefaultIntrinsics returns the viewer's startup intrinsics
func DefaultIntrinsics() Intrinsics {
	return Intrinsics{
		Width:         800,
		Height:        800,
		FovX:          72,
		Near:          0.01,
		Far:           100,
		ScaleModifier: 1,
		Mode:          ModeColor,
	}
}

// FovXRadians returns the horizontal field of view in radians
func (in Intrinsics) FovXRadians() float64 {
	return mgl64.DegToRad(in.FovX)
}

// FovYRadians derives the vertical field of view from the aspect ratio
func (in Intrinsics) FovYRadians() float64 {
	return camera.VerticalFov(in.FovXRadians(), in.Width, in.Height)
}

// Validate checks every intrinsic against its allowed range
func (in Intrinsics) Validate() error {
	if in.Width <= 0 || in.Height <= 0 {
		return fmt.Errorf("image size must be positive, got %dx%d: %w", in.Width, in.Height, core.ErrInvalidParameter)
	}
	if err := camera.ValidateFov(in.FovXRadians()); err != nil {
		return err
	}
	if err := camera.ValidateClipPlanes(in.Near, in.Far); err != nil {
		return err
	}
	if err := ValidateScale(in.ScaleModifier); err != nil {
		return err
	}
	if in.Mode != ModeColor && in.Mode != ModeDepth {
		return fmt.Errorf("unknown render mode %d: %w", int(in.Mode), core.ErrInvalidParameter)
	}
	return nil
}

// Projection builds the projection matrix for these intrinsics
func (in Intrinsics) Projection() (mgl64.Mat4, error) {
	return camera.ProjectionMatrix(in.Near, in.Far, in.FovXRadians(), in.FovYRadians())
}

// ValidateScale checks a scale modifier lies in (0, 1]
func ValidateScale(s float64) error {
	if !(s > 0 && s <= 1) {
		return fmt.Errorf("scale modifier must be in (0, 1], got %g: %w", s, core.ErrInvalidParameter)
	}
	return nil
}
