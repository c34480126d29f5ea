package loaders

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/seung0h/web-3dgs/pkg/camera"
)

// TrainingCamera is one entry of a scene's cameras.json
type TrainingCamera struct {
	ID       int           `json:"id"`
	ImgName  string        `json:"img_name"`
	Width    int           `json:"width"`
	Height   int           `json:"height"`
	Position [3]float64    `json:"position"`
	Rotation [3][3]float64 `json:"rotation"` // camera-to-world, row-major
	FocalX   float64       `json:"fx"`
	FocalY   float64       `json:"fy"`
}

// Pose converts the entry into a camera pose
func (c TrainingCamera) Pose() camera.Pose {
	r := c.Rotation
	rotation := mgl64.Mat3FromRows(
		mgl64.Vec3{r[0][0], r[0][1], r[0][2]},
		mgl64.Vec3{r[1][0], r[1][1], r[1][2]},
		mgl64.Vec3{r[2][0], r[2][1], r[2][2]},
	)
	return camera.NewPose(
		mgl64.Mat4ToQuat(rotation.Mat4()),
		mgl64.Vec3{c.Position[0], c.Position[1], c.Position[2]},
	)
}

// LoadCameras reads <root>/cameras.json. A scene without the file yields no cameras.
func LoadCameras(root string) ([]TrainingCamera, error) {
	data, err := os.ReadFile(filepath.Join(root, camerasFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cameras: %w", err)
	}

	var cameras []TrainingCamera
	if err := json.Unmarshal(data, &cameras); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", camerasFile, err)
	}
	return cameras, nil
}

// InitialPose returns the pose of the first training camera, or the identity
// pose when the scene has none.
func InitialPose(root string) (camera.Pose, error) {
	cameras, err := LoadCameras(root)
	if err != nil {
		return camera.IdentityPose(), err
	}
	if len(cameras) == 0 {
		return camera.IdentityPose(), nil
	}
	return cameras[0].Pose(), nil
}
