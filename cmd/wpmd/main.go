// Copyright 2024 wpm authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command wpmd is the process supervisor daemon: it loads unit definitions
// from a directory, starts every autostart unit, and serves control-plane
// requests (start, stop, restart, reset, status, state, reload) over a
// local socket until it receives a termination signal.
package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/wpmsh/wpm/internal/control"
	"github.com/wpmsh/wpm/internal/duplicate"
	"github.com/wpmsh/wpm/internal/paths"
	"github.com/wpmsh/wpm/internal/proctable"
	"github.com/wpmsh/wpm/internal/registry"
	"github.com/wpmsh/wpm/internal/supervisor"
	"github.com/wpmsh/wpm/internal/unit"
)

func main() {
	app := &cli.App{
		Name:  "wpmd",
		Usage: "user-space process supervisor daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "unit-dir",
				Value: "",
				Usage: "directory scanned for .json and .toml unit definitions (`path`)",
			},
			&cli.StringFlag{
				Name:  "data-dir",
				Value: "",
				Usage: "root directory for logs and the artifact cache; defaults to the platform's user cache directory (`path`)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "",
				Usage: "overrides the WPM_LOG_LEVEL environment variable (`level`)",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatalln("wpmd:", err)
	}
}

func run(c *cli.Context) error {
	logger := log.New(os.Stderr, "wpmd: ", log.LstdFlags)
	configureLogLevel(logger, c.String("log-level"))

	if err := duplicate.Check(int32(os.Getpid())); err != nil {
		return err
	}

	dirs, err := paths.Resolve(c.String("data-dir"))
	if err != nil {
		return fmt.Errorf("resolve data directory: %w", err)
	}
	if err := dirs.EnsureDirs(); err != nil {
		return err
	}

	unitDir := c.String("unit-dir")
	if unitDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home directory: %w", err)
		}
		unitDir = filepath.Join(home, ".config", "wpm")
	}

	reg := registry.New()
	if err := loadUnits(reg, unitDir, dirs.Cache, logger); err != nil {
		return err
	}

	table := proctable.New()
	core := supervisor.New(reg, table, dirs.Data, dirs.Cache, logger)

	listener, err := control.Listen(dirs.Control)
	if err != nil {
		return fmt.Errorf("listen on control socket %s: %w", dirs.Control, err)
	}
	plane := control.New(core, listener, dirs.Reply, control.Dial, logger)
	plane.SetReloader(func(path string) error {
		dir := path
		if dir == "" {
			dir = unitDir
		}
		return loadUnits(reg, dir, dirs.Cache, logger)
	})
	core.SetRestarter(plane)

	go plane.Serve()
	defer plane.Close()

	core.Autostart()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	logger.Printf("received %v, shutting down", sig)
	core.Shutdown()

	return nil
}

// loadUnits rescans dir and replaces the registry's contents atomically,
// so Reload either fully succeeds or leaves the previous definitions intact.
func loadUnits(reg *registry.Registry, dir, cacheRoot string, logger *log.Logger) error {
	defs, err := unit.Load(dir, cacheRoot, logger)
	if err != nil {
		return fmt.Errorf("load units from %s: %w", dir, err)
	}
	reg.Replace(defs)
	logger.Printf("loaded %d unit(s) from %s", len(defs), dir)
	return nil
}

// configureLogLevel reads the conventional log-level environment variable
// (or its --log-level override) and gates logger's verbosity accordingly.
// wpmd logs lifecycle events through a single undifferentiated *log.Logger
// rather than a leveled logging library (see SPEC_FULL.md AMBIENT STACK), so
// the gate is coarse: "error" and "silent" discard everything written to
// logger, leaving only the fatal top-level failure that main logs directly
// through the global log package on exit; every other level is a no-op and
// leaves the full stream on stderr.
func configureLogLevel(logger *log.Logger, override string) {
	level := strings.ToLower(strings.TrimSpace(override))
	if level == "" {
		level = strings.ToLower(strings.TrimSpace(os.Getenv("WPM_LOG_LEVEL")))
	}
	switch level {
	case "error", "silent":
		logger.SetOutput(io.Discard)
	}
}
