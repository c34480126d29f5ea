package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/seung0h/web-3dgs/pkg/config"
	"github.com/seung0h/web-3dgs/pkg/core"
	"github.com/seung0h/web-3dgs/pkg/loaders"
	"github.com/seung0h/web-3dgs/pkg/raster"
	"github.com/seung0h/web-3dgs/pkg/renderer"
	"github.com/seung0h/web-3dgs/pkg/scene"
	"github.com/seung0h/web-3dgs/pkg/session"
	"github.com/seung0h/web-3dgs/pkg/splat"
	"github.com/seung0h/web-3dgs/web/server"
)

func main() {
	// Parse command line flags
	flags := config.BindFlags(flag.CommandLine)
	static := flag.String("static", "static/", "Directory of client files")
	flag.Parse()

	cfg, err := flags.Resolve()
	if err != nil {
		log.Printf("Invalid configuration: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *static); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, staticDir string) error {
	src, err := scene.Open(ctx, cfg.Scene, splat.SnapshotID(cfg.Snapshot), core.NewDefaultLogger("scene"))
	if err != nil {
		return err
	}

	rasterizer := raster.NewCPU(cfg.RasterBackend())
	dispatcher, err := renderer.New(src.Model, rasterizer, cfg.Render, core.NewDefaultLogger("renderer"))
	if err != nil {
		return err
	}

	loop := session.NewLoop(dispatcher, session.Config{
		TickInterval:           cfg.Loop.TickInterval,
		MaxConsecutiveFailures: cfg.Loop.MaxConsecutiveFailures,
		Background:             mgl64.Vec3(cfg.Loop.Background),
		InitialPose:            src.InitialPose,
	}, core.NewDefaultLogger("session"))
	go loop.Run(ctx)

	webServer := server.NewServer(loop, dispatcher, server.Options{
		Port:      cfg.Port,
		StaticDir: staticDir,
		Stream:    cfg.Stream,
		Snapshots: src.Snapshots,
		Logger:    core.NewDefaultLogger("server"),
	})

	if src.Snapshots != nil && cfg.Stream.WatchSnapshots {
		watcher, err := loaders.NewSnapshotWatcher(src.Snapshots, core.NewDefaultLogger("watcher"))
		if err != nil {
			log.Printf("Snapshot watching disabled: %v", err)
		} else {
			go watcher.Run(ctx, webServer.BroadcastSnapshots)
		}
	}

	log.Printf("Gaussian Splat Viewer")
	log.Printf("Visit http://localhost:%d to start viewing", cfg.Port)

	return webServer.Start(ctx)
}
