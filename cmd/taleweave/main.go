// SPDX-License-Identifier: AGPL-3.0
// Copyright 2026 Taleweave Authors
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/taleweave/taleweave/pkg/config"
	"github.com/taleweave/taleweave/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Play     PlayCmd     `cmd:"" default:"1" help:"Play an adventure interactively."`
	Serve    ServeCmd    `cmd:"" help:"Serve sessions over HTTP."`
	Validate ValidateCmd `cmd:"" help:"Validate a scene file."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("taleweave version %s\n", version)
	return nil
}

// loadConfig resolves the runtime config from --config or defaults.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadConfig(path)
}

func main() {
	_ = config.LoadDotEnv()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("taleweave"),
		kong.Description("taleweave - scripted and model-assisted interactive fiction runtime"),
		kong.UsageOnError(),
	)

	output := os.Stderr
	var cleanup func()
	if cli.LogFile != "" {
		file, fileCleanup, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			os.Exit(1)
		}
		output = file
		cleanup = fileCleanup
	}
	logger.Init(logger.ParseLevel(cli.LogLevel), output, cli.LogFormat)
	if cleanup != nil {
		defer cleanup()
	}

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
