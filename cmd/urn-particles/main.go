// Command urn-particles renders a textured mesh once per particle. A compute
// pass moves the particles on the combined queue every frame, and assets are
// uploaded on the dedicated transfer queue.
package main

import (
	"flag"
	"log/slog"
	"os"
	"runtime"

	"github.com/urnvk/urn/config"
	"github.com/urnvk/urn/gpu"
)

func main() {
	runtime.LockOSThread()

	configPath := flag.String("config", "", "YAML config file; defaults apply when empty")
	mesh := flag.String("mesh", "meshes/viking_room.obj", "Wavefront OBJ mesh")
	material := flag.String("material", "meshes/viking_room.mtl", "material library for -mesh")
	texture := flag.String("texture", "images/viking_room.png", "PNG texture")
	shaders := flag.String("shaders", "shaders", "directory holding vert.spv, frag.spv and comp.spv")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			slog.Error("load config", "err", err)
			os.Exit(1)
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel()}))
	slog.SetDefault(logger)

	app := &App{
		cfg:    cfg,
		logger: logger,
		assets: AssetPaths{
			Mesh:     *mesh,
			Material: *material,
			Texture:  *texture,
			Shaders:  *shaders,
		},
	}

	if err := app.Run(); err != nil {
		logger.Error("urn-particles failed", "kind", gpu.KindOf(err), "err", err)
		os.Exit(1)
	}
}
