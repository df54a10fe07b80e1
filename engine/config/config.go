package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// RendererConfig carries every tunable of the resource lifecycle core.
// The zero value is not usable; start from Default().
type RendererConfig struct {
	// Number of frames the CPU may record ahead of the GPU.
	FramesInFlight uint32 `toml:"frames_in_flight"`

	// Per-frame transient arena capacities, in bytes.
	UniformRingSize uint64 `toml:"uniform_ring_size"`
	VertexRingSize  uint64 `toml:"vertex_ring_size"`
	StagingRingSize uint64 `toml:"staging_ring_size"`

	// Size of the bindless texture table.
	MaxBindlessTextures uint32 `toml:"max_bindless_textures"`

	// How long BeginFrame may wait for a frame slot before the wait is
	// treated as a device-level failure.
	FrameWaitTimeout time.Duration `toml:"frame_wait_timeout"`
}

func Default() RendererConfig {
	return RendererConfig{
		FramesInFlight:      2,
		UniformRingSize:     512 * 1024,
		VertexRingSize:      1024 * 1024,
		StagingRingSize:     12 * 1024 * 1024,
		MaxBindlessTextures: 1024,
		FrameWaitTimeout:    5 * time.Second,
	}
}

// Load reads a TOML renderer configuration. A missing file is not an error:
// the defaults are returned. Unset keys keep their default values.
func Load(path string) (RendererConfig, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c RendererConfig) Validate() error {
	if c.FramesInFlight < 2 || c.FramesInFlight > 3 {
		return fmt.Errorf("config: frames_in_flight must be 2 or 3, got %d", c.FramesInFlight)
	}
	if c.UniformRingSize == 0 || c.VertexRingSize == 0 || c.StagingRingSize == 0 {
		return errors.New("config: ring sizes must be non-zero")
	}
	if c.MaxBindlessTextures < 8 {
		return fmt.Errorf("config: max_bindless_textures must be at least 8, got %d", c.MaxBindlessTextures)
	}
	if c.FrameWaitTimeout <= 0 {
		return errors.New("config: frame_wait_timeout must be positive")
	}
	return nil
}
