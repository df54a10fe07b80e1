// Package engine ties the platform, the renderer and the application loop
// together. The engine owns the frame cadence; the application only fills in
// per-frame work through the Application hooks.
package engine

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/keel/engine/config"
	"github.com/spaghettifunk/keel/engine/core"
	"github.com/spaghettifunk/keel/engine/platform"
	"github.com/spaghettifunk/keel/engine/renderer"
	"github.com/spaghettifunk/keel/engine/renderer/frame"
)

// Application is the game-side contract the engine drives.
type Application interface {
	// Initialize runs once after the renderer is up, before the first frame.
	Initialize(r *renderer.Renderer) error
	// Frame records one frame's work. The recording token is only valid for
	// the duration of the call.
	Frame(rec *frame.Recording, delta float64) error
	// Shutdown runs once before the renderer goes away.
	Shutdown()
}

// ApplicationConfig carries the window and asset parameters an application
// starts with.
type ApplicationConfig struct {
	Name        string
	StartPosX   uint32
	StartPosY   uint32
	StartWidth  uint32
	StartHeight uint32
	AssetDir    string
	ConfigPath  string
	Debug       bool
}

type Engine struct {
	app      Application
	appCfg   ApplicationConfig
	platform *platform.Platform
	renderer *renderer.Renderer

	clock    *core.Clock
	stats    *core.FrameStats
	lastTime float64

	isRunning  bool
	isShutdown bool
}

func New(app Application, cfg ApplicationConfig) (*Engine, error) {
	if app == nil {
		return nil, errors.New("engine: application must not be nil")
	}
	p, err := platform.New()
	if err != nil {
		return nil, err
	}
	return &Engine{
		app:      app,
		appCfg:   cfg,
		platform: p,
		clock:    core.NewClock(),
		stats:    core.NewFrameStats(),
	}, nil
}

// Initialize opens the window, brings up the renderer from the on-disk
// configuration and runs the application's own initialization.
func (e *Engine) Initialize() error {
	if err := e.platform.Startup(e.appCfg.Name,
		e.appCfg.StartPosX, e.appCfg.StartPosY,
		e.appCfg.StartWidth, e.appCfg.StartHeight); err != nil {
		return err
	}

	rendererCfg, err := config.Load(e.appCfg.ConfigPath)
	if err != nil {
		return err
	}

	e.renderer, err = renderer.New(e.platform, renderer.Options{
		AppName:  e.appCfg.Name,
		Width:    e.appCfg.StartWidth,
		Height:   e.appCfg.StartHeight,
		AssetDir: e.appCfg.AssetDir,
		Debug:    e.appCfg.Debug,
		Config:   rendererCfg,
	})
	if err != nil {
		return fmt.Errorf("engine: creating renderer: %w", err)
	}

	if err := e.app.Initialize(e.renderer); err != nil {
		return fmt.Errorf("engine: initializing application: %w", err)
	}

	e.clock.Start()
	e.isRunning = true
	return nil
}

// Run drives the frame loop until the window closes or Shutdown is called. A
// skipped frame (minimized window, swapchain churn) pumps events and moves on.
func (e *Engine) Run() error {
	for e.isRunning && !e.platform.ShouldClose() {
		e.platform.PumpMessages()

		e.clock.Update()
		now := e.clock.Elapsed()
		delta := now - e.lastTime
		e.lastTime = now
		e.stats.Update(delta)

		rec, err := e.renderer.BeginFrame()
		if errors.Is(err, core.ErrFrameSkipped) {
			core.LogDebug("engine: frame skipped: %v", err)
			continue
		}
		if err != nil {
			return fmt.Errorf("engine: beginning frame: %w", err)
		}

		if err := e.app.Frame(rec, delta); err != nil {
			return fmt.Errorf("engine: application frame: %w", err)
		}

		if err := e.renderer.EndFrame(rec); err != nil {
			return fmt.Errorf("engine: ending frame: %w", err)
		}
	}
	e.isRunning = false
	return nil
}

// Stats exposes the rolling frame statistics.
func (e *Engine) Stats() *core.FrameStats {
	return e.stats
}

// Shutdown stops the loop and tears everything down. Repeated calls are
// no-ops.
func (e *Engine) Shutdown() error {
	e.isRunning = false
	if e.isShutdown {
		return nil
	}
	e.isShutdown = true

	e.app.Shutdown()
	if e.renderer != nil {
		e.renderer.Shutdown()
		e.renderer = nil
	}
	return e.platform.Shutdown()
}
