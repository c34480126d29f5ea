package main

import (
	"context"
	"flag"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/seung0h/web-3dgs/pkg/camera"
	"github.com/seung0h/web-3dgs/pkg/config"
	"github.com/seung0h/web-3dgs/pkg/core"
	"github.com/seung0h/web-3dgs/pkg/raster"
	"github.com/seung0h/web-3dgs/pkg/renderer"
	"github.com/seung0h/web-3dgs/pkg/scene"
	"github.com/seung0h/web-3dgs/pkg/splat"
)

func main() {
	// Parse command line flags
	flags := config.BindFlags(flag.CommandLine)
	outputDir := flag.String("output", "output", "Directory for rendered images")
	help := flag.Bool("help", false, "Show help information")
	flag.Parse()

	if *help {
		fmt.Println("Gaussian Splat Renderer")
		fmt.Println("Usage: web-3dgs [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		fmt.Println()
		fmt.Println("Built-in scenes:")
		for _, name := range scene.Names() {
			fmt.Printf("  %s\n", name)
		}
		fmt.Println()
		fmt.Println("Any other -scene value is read as a trained scene directory")
		fmt.Println("containing point_cloud/iteration_<N>/point_cloud.ply.")
		fmt.Println()
		fmt.Println("Output will be saved to output/render_<timestamp>.png")
		return
	}

	cfg, err := flags.Resolve()
	if err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	filename, err := renderFrame(context.Background(), cfg, *outputDir)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Render saved as %s\n", filename)
}

// renderFrame renders one frame from the scene's initial camera, aimed at the
// scene centroid, and saves it as a timestamped PNG under outputDir
func renderFrame(ctx context.Context, cfg config.Config, outputDir string) (string, error) {
	src, err := scene.Open(ctx, cfg.Scene, splat.SnapshotID(cfg.Snapshot), core.NewDefaultLogger("scene"))
	if err != nil {
		return "", err
	}

	dispatcher, err := renderer.New(src.Model, raster.NewCPU(cfg.RasterBackend()), cfg.Render, core.NewDefaultLogger("renderer"))
	if err != nil {
		return "", err
	}

	pose := src.InitialPose
	if set := src.Model.Current(); set != nil && set.Len() > 0 {
		pose = pose.LookAt(set.MeanPosition(), camera.DefaultUp)
	}

	frame, err := dispatcher.RenderPose(ctx, pose, mgl64.Vec3(cfg.Loop.Background))
	if err != nil {
		return "", err
	}
	fmt.Printf("Render completed in %v (%d of %d splats visible)\n",
		frame.Elapsed, frame.Visible, src.Model.Current().Len())
	fmt.Printf("Contributions per pixel: %.1f (max %d)\n",
		frame.Stats.AverageContributions(), frame.Stats.MaxContributions)

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("error creating output directory: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	filename := filepath.Join(outputDir, fmt.Sprintf("render_%s.png", timestamp))

	file, err := os.Create(filename)
	if err != nil {
		return "", fmt.Errorf("error creating file: %w", err)
	}
	defer file.Close()

	if err := png.Encode(file, frame.Display().ToRGBA()); err != nil {
		return "", fmt.Errorf("error saving PNG: %w", err)
	}
	return filename, nil
}
