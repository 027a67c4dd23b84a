// Package main is the entry point for the crewstate CLI.
package main

import (
	"fmt"
	"os"
	"slices"

	"github.com/runoshun/crewstate/internal/app"
	"github.com/runoshun/crewstate/internal/cli"
)

// version is set at build time using -ldflags.
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}

	container, err := app.New(cwd)
	if err != nil {
		// A broken config must not prevent printing help or a fresh template
		if canRunWithoutContainer(os.Args[1:]) {
			return cli.NewRootCommand(nil, version).Execute()
		}
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer func() { _ = container.Close() }()

	return cli.NewRootCommand(container, version).Execute()
}

func canRunWithoutContainer(args []string) bool {
	if len(args) == 0 {
		return true
	}
	if len(args) >= 2 && args[0] == "config" && args[1] == "template" {
		return true
	}
	if args[0] == "help" {
		return true
	}
	return slices.ContainsFunc(args, func(arg string) bool {
		return arg == "--version" || arg == "--help" || arg == "-h"
	})
}
