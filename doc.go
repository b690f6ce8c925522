// Package taleweave is an interactive narrative runtime: a scripted scene
// machine over a JSON scene graph, with optional LLM-backed co-narrators
// coordinated under a deterministic turn protocol.
//
// # Quick Start
//
// Install the CLI:
//
//	go install github.com/taleweave/taleweave/cmd/taleweave@latest
//
// Validate and play a scene document:
//
//	taleweave validate examples/ranger-keep/scenes.json
//	taleweave play examples/ranger-keep/scenes.json
//
// Serve sessions over HTTP:
//
//	taleweave serve examples/ranger-keep/scenes.json --port 8080
//
// # Using as Go Library
//
// Import the packages you need:
//
//	import (
//	    "github.com/taleweave/taleweave/pkg/scene"
//	    "github.com/taleweave/taleweave/pkg/session"
//	    "github.com/taleweave/taleweave/pkg/config"
//	)
//
// Load a scene graph, build a session, and advance turns:
//
//	repo, err := scene.Load("scenes.json", scene.ParseOptions{})
//	if err != nil { ... }
//	sess, err := session.New(config.Default(), repo)
//	if err != nil { ... }
//	event, err := sess.Advance(ctx, "open")
//
// # Architecture
//
// One turn of play flows through the coordinator:
//
//	Player input → Coordinator → Engine (primary, mutates world)
//	                           → LLM contributors (secondaries, read-only)
//	                           → merged StoryEvent
//
// The scripted engine is the single authority over world state; model-backed
// contributors embellish the narration and may message each other through
// the coordinator's queue, but never mutate the world.
//
// # License
//
// AGPL-3.0 - See the file headers for details.
package taleweave
