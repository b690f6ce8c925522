package main

import (
	"errors"
	"fmt"

	"github.com/taleweave/taleweave/pkg/scene"
)

// ValidateCmd checks a scene file and prints every violation.
type ValidateCmd struct {
	Scenes     string `arg:"" help:"Path to the scene file." type:"path"`
	StartScene string `name:"start-scene" help:"Start scene to verify against the document."`
	Strict     bool   `help:"Reject unknown fields."`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	repo, err := scene.Load(c.Scenes, scene.ParseOptions{
		Strict:     c.Strict,
		StartScene: c.StartScene,
	})
	if err != nil {
		var verr *scene.ValidationError
		if errors.As(err, &verr) {
			fmt.Printf("%s: %d issue(s)\n", c.Scenes, len(verr.Issues))
			for _, issue := range verr.Issues {
				fmt.Printf("  %s\n", issue)
			}
			return errors.New("validation failed")
		}
		return err
	}

	fmt.Printf("%s: ok (%d scenes, start %q, checksum %s)\n",
		c.Scenes, repo.Len(), repo.StartScene(), repo.Checksum()[:12])
	return nil
}
