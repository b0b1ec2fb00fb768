// Command triangle opens a window and draws a triangle through the frame
// loop until the window is closed. Resizing and minimizing exercise the
// swapchain rebuild.
//
// The shaders are compiled with:
//
//	glslangValidator -V shaders/triangle.vert -o shaders/triangle.vert.spv
//	glslangValidator -V shaders/triangle.frag -o shaders/triangle.frag.spv
package main

import (
	"flag"
	"log/slog"
	"os"
	"runtime"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/pkg/errors"
	"github.com/vulkan-go/vulkan"

	"vkframe/src/render"
	"vkframe/src/render/gpu"
	"vkframe/src/render/vkdevice"
)

func init() {
	// glfw and the surface must stay on the main thread.
	runtime.LockOSThread()
}

func main() {
	configPath := flag.String("config", "", "YAML config file")
	debug := flag.Bool("debug", false, "enable the validation layer and debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	render.SetLogger(log)

	if err := run(*configPath, *debug, log); err != nil {
		log.Error("triangle failed", "err", err)
		os.Exit(1)
	}
}

func run(configPath string, debug bool, log *slog.Logger) (err error) {
	defer gpu.CheckError(&err)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	cfg.Render.Debug = cfg.Render.Debug || debug

	vert, err := os.ReadFile(cfg.Shaders.Vertex)
	if err != nil {
		return errors.Wrap(err, "read vertex shader")
	}
	frag, err := os.ReadFile(cfg.Shaders.Fragment)
	if err != nil {
		return errors.Wrap(err, "read fragment shader")
	}

	gpu.OrPanic(errors.Wrap(glfw.Init(), "init glfw"))
	defer glfw.Terminate()

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	window, err := glfw.CreateWindow(cfg.Window.Width, cfg.Window.Height, cfg.Window.Title, nil, nil)
	if err != nil {
		return errors.Wrap(err, "create window")
	}
	defer window.Destroy()

	vulkan.SetGetInstanceProcAddr(glfw.GetVulkanGetInstanceProcAddress())
	gpu.OrPanic(errors.Wrap(vulkan.Init(), "init vulkan"))

	dev, err := vkdevice.New(vkdevice.Config{
		AppName:            cfg.Window.Title,
		InstanceExtensions: window.GetRequiredInstanceExtensions(),
		Validation:         cfg.Render.Debug,
		Surface: func(instance vulkan.Instance) (vulkan.Surface, error) {
			ptr, err := window.CreateWindowSurface(instance, nil)
			if err != nil {
				return vulkan.NullSurface, err
			}
			return vulkan.SurfaceFromPointer(ptr), nil
		},
		Log: log.With("component", "vkdevice"),
	})
	if err != nil {
		return errors.Wrap(err, "create device")
	}
	pipes, err := vkdevice.NewPipelines(dev, vert, frag)
	if err != nil {
		dev.DestroySurface()
		dev.DestroyDevice()
		dev.DestroyInstance()
		return err
	}

	r := render.New(dev, pipes, window, cfg.Render)
	defer func() {
		if serr := r.Shutdown(); serr != nil && err == nil {
			err = serr
		}
	}()
	window.SetFramebufferSizeCallback(func(_ *glfw.Window, _, _ int) {
		r.Resize()
	})

	if err := r.SetDraws([]gpu.Draw{{VertexCount: 3, InstanceCount: 1}}); err != nil {
		return err
	}
	if err := r.Init(); err != nil {
		return err
	}

	for !window.ShouldClose() {
		if w, h := window.GetFramebufferSize(); w == 0 || h == 0 {
			glfw.WaitEvents()
			continue
		}
		glfw.PollEvents()
		if err := r.DrawFrame(); err != nil {
			return err
		}
	}

	stats := r.Stats()
	log.Info("window closed",
		"frames", stats.Frames,
		"rebuilds", stats.Rebuilds,
		"mean_frame", stats.MeanFrame())
	return nil
}
