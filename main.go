// ragchat - An embeddable streaming RAG chat widget for the terminal.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/morganforge/ragchat/internal/cli"
	"github.com/morganforge/ragchat/internal/config"
	"github.com/morganforge/ragchat/internal/ui/chat"
	"github.com/morganforge/ragchat/internal/widget"
)

// Version information (set at build time)
var (
	Version   = "1.0.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config.toml (default ~/.ragchat/config.toml)")
	layout := flag.String("layout", "", "layout mode: floating, sidebar, showcase")
	plain := flag.Bool("plain", false, "use the plain REPL instead of the full-screen UI")
	flag.Parse()

	switch flag.Arg(0) {
	case "version":
		fmt.Printf("ragchat %s (%s, built %s)\n", Version, GitCommit, BuildDate)
		return
	case "init":
		if err := runInit(); err != nil {
			fatal(err)
		}
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	if *layout != "" {
		cfg.UI.Layout = *layout
		if err := cfg.Validate(); err != nil {
			fatal(err)
		}
	}

	w, err := widget.New(cfg)
	if err != nil {
		fatal(err)
	}
	defer w.Close()

	if flag.Arg(0) == "clear" {
		w.ClearHistory()
		fmt.Println(w.Messages().HistoryCleared)
		return
	}

	if *plain || !cli.IsTTY() {
		shell := cli.NewShell(w)
		if err := shell.Run(context.Background()); err != nil {
			fatal(err)
		}
		return
	}

	model := chat.New(w, cfg.UI.Layout)
	program := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		fatal(err)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

// runInit writes a starter config file if none exists.
func runInit() error {
	path, err := config.ConfigPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}
	if err := config.Save(config.Default()); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	fmt.Println("Set backend.url and backend.token (or RAGCHAT_BACKEND_URL / RAGCHAT_TOKEN) to connect.")
	return nil
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
