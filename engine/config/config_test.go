package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("Load\nhave %+v\nwant %+v", cfg, Default())
	}
}

func TestLoadOverridesOnlySetKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "renderer.toml")
	data := "frames_in_flight = 3\nstaging_ring_size = 4194304\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.FramesInFlight != 3 {
		t.Fatalf("FramesInFlight\nhave %d\nwant 3", cfg.FramesInFlight)
	}
	if cfg.StagingRingSize != 4*1024*1024 {
		t.Fatalf("StagingRingSize\nhave %d\nwant %d", cfg.StagingRingSize, 4*1024*1024)
	}
	if cfg.UniformRingSize != Default().UniformRingSize {
		t.Fatalf("UniformRingSize\nhave %d\nwant default %d", cfg.UniformRingSize, Default().UniformRingSize)
	}
	if cfg.FrameWaitTimeout != Default().FrameWaitTimeout {
		t.Fatalf("FrameWaitTimeout\nhave %v\nwant default %v", cfg.FrameWaitTimeout, Default().FrameWaitTimeout)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "renderer.toml")
	if err := os.WriteFile(path, []byte("frames_in_flight = 7\n"), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load accepted frames_in_flight = 7")
	}
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "renderer.toml")
	if err := os.WriteFile(path, []byte("frames_in_flight = = 2\n"), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load accepted malformed TOML")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*RendererConfig)
		wantErr bool
	}{
		{"defaults", func(*RendererConfig) {}, false},
		{"three frames", func(c *RendererConfig) { c.FramesInFlight = 3 }, false},
		{"one frame", func(c *RendererConfig) { c.FramesInFlight = 1 }, true},
		{"zero uniform ring", func(c *RendererConfig) { c.UniformRingSize = 0 }, true},
		{"tiny bindless table", func(c *RendererConfig) { c.MaxBindlessTextures = 4 }, true},
		{"zero wait timeout", func(c *RendererConfig) { c.FrameWaitTimeout = 0 }, true},
		{"negative wait timeout", func(c *RendererConfig) { c.FrameWaitTimeout = -time.Second }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate\nhave err %v\nwant err %v", err, tc.wantErr)
			}
		})
	}
}
