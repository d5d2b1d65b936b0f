// ABOUTME: Entry point for the full-screen terminal chat
// ABOUTME: Loads config, builds the app and runs the Bubble Tea program

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/2389/chatbot/internal/app"
	"github.com/2389/chatbot/internal/config"
	"github.com/2389/chatbot/internal/tui"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadOrDefault(config.DefaultConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// The alternate screen owns the terminal, so logs go to a file when asked for.
	var logOut io.Writer = io.Discard
	if path := os.Getenv("CHATBOT_LOG_FILE"); path != "" {
		f, err := tea.LogToFile(path, "chatbot")
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}

	a, err := app.New(cfg, app.NewLogger(cfg.Logging, logOut))
	if err != nil {
		return err
	}
	defer a.Close()

	sess, err := a.NewSession(ctx)
	if err != nil {
		return err
	}

	p := tea.NewProgram(tui.NewModel(ctx, sess), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running TUI: %w", err)
	}
	return nil
}
