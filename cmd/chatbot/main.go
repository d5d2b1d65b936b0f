// ABOUTME: Entry point for the chatbot CLI
// ABOUTME: Line chat, web chat server and thread administration subcommands

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/chatbot/internal/app"
	"github.com/2389/chatbot/internal/config"
	"github.com/2389/chatbot/internal/session"
	"github.com/2389/chatbot/internal/store"
)

// Version is set at build time.
var version = "dev"

const banner = `
      _           _   _           _
  ___| |__   __ _| |_| |__   ___ | |_
 / __| '_ \ / _' | __| '_ \ / _ \| __|
| (__| | | | (_| | |_| |_) | (_) | |_
 \___|_| |_|\__,_|\__|_.__/ \___/ \__|
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "chat":
		err = runChat(ctx, args)
	case "serve":
		err = runServe(ctx)
	case "threads":
		err = runThreads(ctx)
	case "delete":
		err = runDelete(ctx, args)
	case "token":
		err = runToken(args)
	case "init":
		err = runInit()
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: chatbot <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  chat [--thread ID]             Chat in the terminal")
	fmt.Println("  serve                          Start the web chat server")
	fmt.Println("  threads                        List conversations")
	fmt.Println("  delete <id>                    Delete a conversation")
	fmt.Println("  token --name NAME [--ttl DUR]  Mint a web chat token")
	fmt.Println("  init                           Write a default config file")
	fmt.Println("  version                        Print the version")
}

// loadConfig loads the config file, falling back to defaults when absent.
func loadConfig() (*config.Config, string, error) {
	path := config.DefaultConfigPath()
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

// openApp builds the app with logs on w.
func openApp(w io.Writer) (*app.App, *config.Config, string, error) {
	cfg, path, err := loadConfig()
	if err != nil {
		return nil, nil, path, err
	}
	a, err := app.New(cfg, app.NewLogger(cfg.Logging, w))
	if err != nil {
		return nil, nil, path, err
	}
	return a, cfg, path, nil
}

func runChat(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	threadRef := fs.String("thread", "", "continue an existing thread (id, id prefix or list position)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// Chat output owns stdout; only warnings and errors reach stderr.
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	logCfg := cfg.Logging
	if app.ParseLevel(logCfg.Level) < app.ParseLevel("warn") {
		logCfg.Level = "warn"
	}
	a, err := app.New(cfg, app.NewLogger(logCfg, os.Stderr))
	if err != nil {
		return err
	}
	defer a.Close()

	sess, err := a.NewSession(ctx)
	if err != nil {
		return err
	}
	if *threadRef != "" {
		id, err := sess.Resolve(*threadRef)
		if err != nil {
			return err
		}
		if err := sess.Switch(ctx, id); err != nil {
			return err
		}
	}

	cli := newChatCLI(sess, os.Stdin, os.Stdout)
	color.New(color.FgCyan).Println("chatbot " + version)
	gray := color.New(color.FgHiBlack)
	gray.Printf("model %s, %d conversations. /help for commands, quit to exit.\n\n", cfg.Model.Name, len(sess.Threads()))
	if *threadRef != "" {
		cli.printHistory()
		fmt.Println()
	}
	return cli.run(ctx)
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	a, cfg, path, err := openApp(os.Stdout)
	if err != nil {
		return err
	}
	defer a.Close()

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", path)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Model:     %s\n", cfg.Model.Name)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      http://%s/\n", cfg.Server.HTTPAddr)
	if cfg.Auth.JWTSecret == "" {
		yellow.Print("    ! ")
		fmt.Println("Auth:      disabled (set auth.jwt_secret to require tokens)")
	}
	fmt.Println()

	return a.Run(ctx)
}

func runThreads(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	threads, err := st.ListThreads(ctx)
	if err != nil {
		return err
	}
	if len(threads) == 0 {
		fmt.Println("No conversations yet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tMESSAGES\tUPDATED")
	fmt.Fprintln(w, "--\t-----\t--------\t-------")
	for _, t := range threads {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", t.ID, session.Label(t), t.MessageCount, t.UpdatedAt.Local().Format("Jan 02 15:04"))
	}
	return w.Flush()
}

func runDelete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: chatbot delete <id>")
	}
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.DeleteThread(ctx, args[0]); err != nil {
		return err
	}
	color.New(color.FgGreen).Printf("✓ Deleted %s\n", args[0])
	return nil
}

// openStore opens the configured database for the admin subcommands, logging
// to stderr so table output stays clean.
func openStore(cfg *config.Config) (*store.SQLiteStore, error) {
	return store.Open(cfg.Database.Driver, cfg.Database.Path, app.NewLogger(cfg.Logging, os.Stderr))
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	name := fs.String("name", "", "name carried in the token subject")
	ttl := fs.Duration("ttl", 30*24*time.Hour, "token lifetime, 0 for no expiry")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return errors.New("--name flag is required")
	}

	a, _, _, err := openApp(io.Discard)
	if err != nil {
		return err
	}
	defer a.Close()

	token, err := a.IssueToken(*name, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func runInit() error {
	path := config.DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(config.SampleYAML), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	color.New(color.FgGreen).Printf("✓ Wrote %s\n", path)
	return nil
}
