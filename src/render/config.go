package render

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/vulkan-go/vulkan"
	"gopkg.in/yaml.v3"
)

// MaxFramesInFlight bounds Config.FramesInFlight.
const MaxFramesInFlight = 8

type Config struct {
	// FramesInFlight is the number of frames the CPU may record ahead of the
	// accelerator.
	FramesInFlight int `yaml:"frames_in_flight"`
	// ImageCount is the requested number of swapchain images, zero for one
	// more than the surface minimum.
	ImageCount uint32 `yaml:"image_count"`
	// VSync forces FIFO presentation.
	VSync      bool       `yaml:"vsync"`
	ClearColor [4]float32 `yaml:"clear_color"`
	// FenceTimeout bounds fence waits and image acquisition. Zero waits
	// forever.
	FenceTimeout time.Duration `yaml:"fence_timeout"`
	// Debug routes device diagnostics to the logger.
	Debug bool `yaml:"debug"`
}

func DefaultConfig() Config {
	return Config{
		FramesInFlight: 2,
		ClearColor:     [4]float32{0, 0, 0, 1},
	}
}

func (c Config) Validate() error {
	if c.FramesInFlight < 1 || c.FramesInFlight > MaxFramesInFlight {
		return errors.Errorf("frames_in_flight must be in [1, %d], got %d", MaxFramesInFlight, c.FramesInFlight)
	}
	for i, v := range c.ClearColor {
		if v < 0 || v > 1 {
			return errors.Errorf("clear_color[%d] must be in [0, 1], got %g", i, v)
		}
	}
	if c.FenceTimeout < 0 {
		return errors.Errorf("fence_timeout must not be negative, got %s", c.FenceTimeout)
	}
	return nil
}

// Timeout returns FenceTimeout in nanoseconds, as taken by fence waits.
func (c Config) Timeout() uint64 {
	if c.FenceTimeout == 0 {
		return vulkan.MaxUint64
	}
	return uint64(c.FenceTimeout.Nanoseconds())
}

// ParseConfig decodes YAML over DefaultConfig and validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse render config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrap(err, "invalid render config")
	}
	return cfg, nil
}

func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read render config")
	}
	return ParseConfig(data)
}
