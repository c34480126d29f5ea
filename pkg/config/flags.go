package config

import (
	"flag"

	"github.com/seung0h/web-3dgs/pkg/renderer"
)

// Flags binds the command-line overrides shared by the viewer and the
// headless renderer. Only flags given on the command line replace values
// from the config file.
type Flags struct {
	fs       *flag.FlagSet
	path     *string
	scene    *string
	snapshot *int
	width    *int
	height   *int
	fov      *float64
	mode     *string
	port     *int
}

// BindFlags registers the override flags on fs
func BindFlags(fs *flag.FlagSet) *Flags {
	defaults := Default()
	return &Flags{
		fs:       fs,
		path:     fs.String("config", "", "YAML config file"),
		scene:    fs.String("scene", defaults.Scene, "Trained scene directory or built-in scene name"),
		snapshot: fs.Int("snapshot", defaults.Snapshot, "Training iteration to load (0 = latest)"),
		width:    fs.Int("width", defaults.Render.Width, "Image width in pixels"),
		height:   fs.Int("height", defaults.Render.Height, "Image height in pixels"),
		fov:      fs.Float64("fov", defaults.Render.FovX, "Horizontal field of view in degrees"),
		mode:     fs.String("mode", defaults.Render.Mode.String(), "Render mode: color or depth"),
		port:     fs.Int("port", defaults.Port, "Port to serve on"),
	}
}

// Resolve loads the config file, if any, applies the given flags and
// validates the result. Call it after fs.Parse.
func (f *Flags) Resolve() (Config, error) {
	cfg := Default()
	if *f.path != "" {
		loaded, err := Load(*f.path)
		if err != nil {
			return Config{}, err
		}
		cfg = loaded
	}

	var modeErr error
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "scene":
			cfg.Scene = *f.scene
		case "snapshot":
			cfg.Snapshot = *f.snapshot
		case "width":
			cfg.Render.Width = *f.width
		case "height":
			cfg.Render.Height = *f.height
		case "fov":
			cfg.Render.FovX = *f.fov
		case "mode":
			cfg.Render.Mode, modeErr = renderer.ParseMode(*f.mode)
		case "port":
			cfg.Port = *f.port
		}
	})
	if modeErr != nil {
		return Config{}, modeErr
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
