package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/taleweave/taleweave/pkg/agent"
	"github.com/taleweave/taleweave/pkg/config"
	"github.com/taleweave/taleweave/pkg/engine"
	"github.com/taleweave/taleweave/pkg/logger"
	"github.com/taleweave/taleweave/pkg/protocol"
	"github.com/taleweave/taleweave/pkg/scene"
	"github.com/taleweave/taleweave/pkg/session"
)

// PlayCmd runs an adventure as an interactive terminal loop.
type PlayCmd struct {
	Scenes     string `arg:"" optional:"" help:"Path to the scene file." type:"path"`
	StartScene string `name:"start-scene" help:"Scene to start at (overrides the document)."`
	Strict     bool   `help:"Reject unknown fields in the scene file."`
	SaveSlot   string `name:"save-slot" help:"Snapshot slot name for save/load." default:"default"`
	Transcript string `help:"Append a transcript of the session to this file." type:"path"`
	Watch      bool   `help:"Reload the scene file when it changes on disk."`
}

func (c *PlayCmd) Run(cli *CLI) error {
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
		cancel()
	}()

	if c.Watch || cfg.Scenes.Watch {
		go func() {
			if err := scene.Watch(ctx, store); err != nil && ctx.Err() == nil {
				logger.GetLogger().Error("Scene watch failed", "error", err)
			}
		}()
	}

	snapshots, err := openSnapshotStore(cfg)
	if err != nil {
		return err
	}
	defer snapshots.Close()

	sess, err := session.New(cfg, store)
	if err != nil {
		return err
	}

	var transcript *os.File
	if c.Transcript != "" {
		transcript, err = os.OpenFile(c.Transcript, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open transcript: %w", err)
		}
		defer transcript.Close()
	}

	intro, err := sess.Look(ctx)
	if err != nil {
		return err
	}
	printEvent(intro, transcript)

	reader := bufio.NewScanner(os.Stdin)
	interactive := term.IsTerminal(int(os.Stdin.Fd()))

	for ctx.Err() == nil {
		if interactive {
			fmt.Print("> ")
		}
		if !reader.Scan() {
			break
		}
		input := strings.TrimSpace(reader.Text())
		if input == "" {
			continue
		}
		if transcript != nil {
			fmt.Fprintf(transcript, "> %s\n", input)
		}

		event, err := sess.Advance(ctx, input)
		if err != nil {
			if errors.Is(err, agent.ErrCorruptWorld) {
				return fmt.Errorf("session is no longer usable: %w", err)
			}
			if ctx.Err() != nil {
				break
			}
			return err
		}
		printEvent(event, transcript)

		switch controlOf(event) {
		case "help":
			if cmds := metaStrings(event, engine.MetaAlwaysCommands); len(cmds) > 0 {
				fmt.Printf("Always available: %s.\n", strings.Join(cmds, ", "))
			}

		case "status":
			printStatus(event)

		case "tutorial":
			fmt.Println(tutorialText)

		case "save":
			if err := saveSession(ctx, snapshots, c.SaveSlot, sess); err != nil {
				fmt.Printf("(save failed: %v)\n", err)
			} else {
				fmt.Println("(progress saved)")
			}

		case "load":
			restored, err := loadSession(ctx, snapshots, c.SaveSlot, cfg, store)
			if err != nil {
				fmt.Printf("(load failed: %v)\n", err)
				continue
			}
			sess = restored
			fmt.Println("(progress restored)")
			if look, err := sess.Look(ctx); err == nil {
				printEvent(look, transcript)
			}

		case "quit":
			fmt.Println("Farewell.")
			return nil
		}
	}

	fmt.Println("\nFarewell.")
	return nil
}

const tutorialText = `You explore by typing commands. The choices shown after each scene are
always available; "look" repeats the scene, "inventory" lists what you
carry, "journal" reviews what you have done, and "recall <topic>" digs
into memory. "save" and "load" snapshot your progress; "quit" ends the
session.`

// engineMeta extracts the engine's metadata namespace from a merged event.
func engineMeta(event *protocol.StoryEvent) map[string]any {
	meta, _ := event.Metadata[engine.DefaultID].(map[string]any)
	return meta
}

// controlOf extracts the engine's driver-fulfilled control marker, if any.
func controlOf(event *protocol.StoryEvent) string {
	ctrl, _ := engineMeta(event)[engine.MetaControl].(string)
	return ctrl
}

func metaStrings(event *protocol.StoryEvent, key string) []string {
	values, _ := engineMeta(event)[key].([]string)
	return values
}

func printStatus(event *protocol.StoryEvent) {
	meta := engineMeta(event)
	location, _ := meta[engine.MetaLocation].(string)
	items, _ := meta[engine.MetaInventory].([]string)
	journal, _ := meta[engine.MetaJournalLen].(int)
	fmt.Printf("You are at %s, carrying %d item(s), with %d journal entries.\n",
		location, len(items), journal)
}

func saveSession(ctx context.Context, snapshots session.SnapshotStore, slot string, sess *session.Session) error {
	snapshot, err := sess.Snapshot()
	if err != nil {
		return err
	}
	return snapshots.Save(ctx, slot, snapshot)
}

func loadSession(ctx context.Context, snapshots session.SnapshotStore, slot string, cfg *config.Config, scenes scene.Source) (*session.Session, error) {
	data, err := snapshots.Load(ctx, slot)
	if err != nil {
		return nil, err
	}
	return session.Restore(cfg, scenes, data)
}

func printEvent(event *protocol.StoryEvent, transcript *os.File) {
	if event.Narration != "" {
		fmt.Println(event.Narration)
		if transcript != nil {
			fmt.Fprintln(transcript, event.Narration)
		}
	}
	if len(event.Choices) > 0 {
		fmt.Println()
		for _, choice := range event.Choices {
			fmt.Printf("  %-12s %s\n", choice.Command, choice.Description)
		}
	}
}

// openSnapshotStore picks the configured backend. Without a SQL driver,
// saves live in a local sqlite file so they survive the process.
func openSnapshotStore(cfg *config.Config) (session.SnapshotStore, error) {
	if cfg.Snapshots.Driver != "" {
		return session.NewSQLStoreFromConfig(&cfg.Snapshots)
	}
	local := config.SnapshotStoreConfig{Driver: "sqlite", DSN: ".taleweave/saves.db"}
	if err := os.MkdirAll(".taleweave", 0o755); err != nil {
		return nil, err
	}
	return session.NewSQLStoreFromConfig(&local)
}
