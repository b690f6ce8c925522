package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/taleweave/taleweave/pkg/logger"
	"github.com/taleweave/taleweave/pkg/scene"
	"github.com/taleweave/taleweave/pkg/server"
	"github.com/taleweave/taleweave/pkg/session"
)

// ServeCmd starts the HTTP session server.
type ServeCmd struct {
	Scenes     string `arg:"" optional:"" help:"Path to the scene file." type:"path"`
	StartScene string `name:"start-scene" help:"Scene to start at (overrides the document)."`
	Strict     bool   `help:"Reject unknown fields in the scene file."`
	Port       int    `help:"Port to listen on (overrides config)."`
	Watch      bool   `help:"Reload the scene file when it changes on disk."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	if c.Scenes != "" {
		cfg.Scenes.Path = c.Scenes
	}
	if c.StartScene != "" {
		cfg.Scenes.StartScene = c.StartScene
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}
	if cfg.Scenes.Path == "" {
		return errors.New("a scene file is required (pass it as an argument or set scenes.path)")
	}

	store, err := scene.NewStore(cfg.Scenes.Path, scene.ParseOptions{
		Strict:     c.Strict || cfg.Scenes.StrictSchema,
		StartScene: cfg.Scenes.StartScene,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.GetLogger().Info("Shutting down")
		cancel()
	}()

	if c.Watch || cfg.Scenes.Watch {
		go func() {
			if err := scene.Watch(ctx, store); err != nil && ctx.Err() == nil {
				logger.GetLogger().Error("Scene watch failed", "error", err)
			}
		}()
	}

	var snapshots session.SnapshotStore
	if cfg.Snapshots.Driver != "" {
		snapshots, err = session.NewSQLStoreFromConfig(&cfg.Snapshots)
		if err != nil {
			return err
		}
		defer snapshots.Close()
	}

	return server.New(cfg, store, snapshots).Run(ctx)
}
