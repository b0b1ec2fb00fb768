package main

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"vkframe/src/render"
)

type windowConfig struct {
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	Title  string `yaml:"title"`
}

type shaderConfig struct {
	Vertex   string `yaml:"vertex"`
	Fragment string `yaml:"fragment"`
}

type config struct {
	Window  windowConfig  `yaml:"window"`
	Shaders shaderConfig  `yaml:"shaders"`
	Render  render.Config `yaml:"render"`
}

func defaultConfig() config {
	return config{
		Window: windowConfig{Width: 1024, Height: 768, Title: "vkframe triangle"},
		Shaders: shaderConfig{
			Vertex:   "shaders/triangle.vert.spv",
			Fragment: "shaders/triangle.frag.spv",
		},
		Render: render.DefaultConfig(),
	}
}

func (c config) validate() error {
	if c.Window.Width <= 0 || c.Window.Height <= 0 {
		return errors.Errorf("window size must be positive, got %dx%d", c.Window.Width, c.Window.Height)
	}
	if c.Shaders.Vertex == "" || c.Shaders.Fragment == "" {
		return errors.New("both shader paths are required")
	}
	return errors.Wrap(c.Render.Validate(), "render")
}

func parseConfig(data []byte) (config, error) {
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return config{}, errors.Wrap(err, "parse config")
	}
	if err := cfg.validate(); err != nil {
		return config{}, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}

// loadConfig reads path, or returns the defaults when path is empty. Shader
// paths are resolved against the directory of the file.
func loadConfig(path string) (config, error) {
	if path == "" {
		cfg := defaultConfig()
		return cfg, cfg.validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return config{}, errors.Wrap(err, "read config")
	}
	cfg, err := parseConfig(data)
	if err != nil {
		return config{}, err
	}
	dir := filepath.Dir(path)
	cfg.Shaders.Vertex = resolve(dir, cfg.Shaders.Vertex)
	cfg.Shaders.Fragment = resolve(dir, cfg.Shaders.Fragment)
	return cfg, nil
}

func resolve(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}
