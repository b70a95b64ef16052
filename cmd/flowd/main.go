// Copyright 2025 achetronic
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// flowd is the daemon entrypoint: it loads a YAML configuration
// document, wires and starts a runtime.Runtime, and blocks until an
// interrupt or termination signal triggers a graceful shutdown.
//
// A second personality lives in the same binary: "flowd handoff-worker
// --workdir <dir> <id>" is the detached child process background.Runner
// spawns for each out-of-process handoff job (spec.md §4.9); it reads
// the request envelope, performs the call, writes the result, and
// exits. This keeps RunnerConfig's default Executable/ChildArgs (the
// currently running binary, re-invoked) correct without a separate
// compiled artifact.
//
// Environment variables:
//
//	FLOWD_CONFIG   - path to the YAML configuration file (default: flowd.yaml)
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/claude-flow/v3/background"
	"github.com/claude-flow/v3/provider"
	"github.com/claude-flow/v3/runtime"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "handoff-worker" {
		if err := runHandoffWorker(os.Args[2:]); err != nil {
			log.Fatalf("flowd handoff-worker: %v", err)
		}
		return
	}

	if err := runDaemon(); err != nil {
		log.Fatalf("flowd: %v", err)
	}
}

func runDaemon() error {
	configPath := getEnvOrDefault("FLOWD_CONFIG", "flowd.yaml")

	cfg, err := runtime.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", configPath, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := runtime.New(*cfg)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}

	if err := rt.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize runtime: %w", err)
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := rt.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown runtime: %w", err)
	}
	return nil
}

// runHandoffWorker implements the "handoff-worker" subcommand:
// background.Runner.Launch invokes "flowd handoff-worker --workdir
// <dir> <id>", and this is everything the detached child does before
// exiting.
func runHandoffWorker(args []string) error {
	fs := flag.NewFlagSet("handoff-worker", flag.ExitOnError)
	workDir := fs.String("workdir", "", "background job work directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *workDir == "" {
		return fmt.Errorf("--workdir is required")
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("expected exactly one job id argument, got %d", fs.NArg())
	}
	id := fs.Arg(0)

	registry := provider.NewCatwalkRegistry()
	dispatcher := provider.NewDispatcher(registry)

	ctx := context.Background()
	return background.RunChild(ctx, *workDir, id, dispatcher)
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
