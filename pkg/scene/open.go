package scene

import (
	"context"
	"fmt"
	"os"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/seung0h/web-3dgs/pkg/camera"
	"github.com/seung0h/web-3dgs/pkg/core"
	"github.com/seung0h/web-3dgs/pkg/loaders"
	"github.com/seung0h/web-3dgs/pkg/splat"
)

// viewpoints are camera positions for built-in scenes not meant to be seen
// from the origin
var viewpoints = map[string]mgl64.Vec3{
	"spheregrid": {0, -6, -9}, // above and behind the grid
}

// Source is an opened scene ready to hand to a dispatcher
type Source struct {
	Name        string
	Model       *splat.Model
	Snapshots   *loaders.SnapshotLoader // nil for built-in scenes
	InitialPose camera.Pose
}

// Open resolves source as a built-in scene name or a trained scene
// directory. For directories, snapshot 0 loads the latest iteration and the
// initial pose comes from cameras.json when present. An empty source opens
// the default built-in scene.
func Open(ctx context.Context, source string, snapshot splat.SnapshotID, logger core.Logger) (*Source, error) {
	if logger == nil {
		logger = core.NopLogger{}
	}
	if source == "" {
		source = "default"
	}

	if _, ok := builtins[source]; ok {
		set, err := New(source)
		if err != nil {
			return nil, err
		}
		logger.Printf("Using built-in scene %s (%d splats)\n", source, set.Len())
		pose := camera.IdentityPose()
		if position, ok := viewpoints[source]; ok {
			pose.Position = position
		}
		return &Source{
			Name:        source,
			Model:       splat.NewStaticModel(set, BuiltinSnapshot),
			InitialPose: pose,
		}, nil
	}

	info, err := os.Stat(source)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("scene %q is neither a built-in scene %v nor a directory: %w", source, Names(), core.ErrInvalidParameter)
	}

	snapshots := loaders.NewSnapshotLoader(source)
	if snapshot == 0 {
		if snapshot, err = snapshots.Latest(); err != nil {
			return nil, err
		}
	}

	model := splat.NewModel(snapshots)
	if err := model.Load(ctx, snapshot); err != nil {
		return nil, err
	}
	set := model.Current()
	logger.Printf("Loaded %s snapshot %d (%d splats, sh degree %d)\n", source, snapshot, set.Len(), set.Degree())

	pose, err := loaders.InitialPose(source)
	if err != nil {
		logger.Printf("Ignoring training cameras: %v\n", err)
	}
	return &Source{
		Name:        source,
		Model:       model,
		Snapshots:   snapshots,
		InitialPose: pose,
	}, nil
}
