/*
This is an example of application that will use the
engine package to test things out
*/
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/keel/engine"
	"github.com/spaghettifunk/keel/testbed"
)

func main() {
	game := testbed.NewTestGame()

	eng, err := engine.New(game, engine.ApplicationConfig{
		Name:        "Keel Testbed",
		StartPosX:   100,
		StartPosY:   100,
		StartWidth:  1280,
		StartHeight: 720,
		AssetDir:    "assets/textures",
		ConfigPath:  "renderer.toml",
		Debug:       true,
	})
	if err != nil {
		panic(err)
	}

	if err := eng.Initialize(); err != nil {
		panic(err)
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	// start shutdown goroutine
	go func() {
		// capture sigterm and other system call here
		<-sigCh
		_ = eng.Shutdown()
	}()

	// run engine
	if err := eng.Run(); err != nil {
		panic(err)
	}

	_ = eng.Shutdown()
}
