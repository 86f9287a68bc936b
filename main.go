package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/harrisonrobin/duet/pkg/agenda"
	"github.com/harrisonrobin/duet/pkg/auth"
	"github.com/harrisonrobin/duet/pkg/config"
	"github.com/harrisonrobin/duet/pkg/gcal"
	"github.com/harrisonrobin/duet/pkg/model"
	"github.com/harrisonrobin/duet/pkg/store"
)

var Version = "dev"

const (
	eventCacheFile = "events.json"
	colorCacheFile = "colors.json"
)

// globals are the persistent flags shared by every command.
type globals struct {
	configPath string
	source     string
	calendar   string
}

func main() {
	g := &globals{}
	rootCmd := &cobra.Command{
		Use:           "duet",
		Short:         "Duet - a shared month calendar for two",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&g.configPath, "config", "", "config file (default ~/.config/duet/config.toml, or $"+config.EnvPath+")")
	rootCmd.PersistentFlags().StringVar(&g.source, "source", "", "task backend: sqlite or google (overrides config)")
	rootCmd.PersistentFlags().StringVar(&g.calendar, "calendar", "", "Google Calendar name to use (overrides config)")

	rootCmd.AddCommand(gridCmd(g))
	rootCmd.AddCommand(tuiCmd(g))
	rootCmd.AddCommand(serveCmd(g))
	rootCmd.AddCommand(importCmd(g))
	rootCmd.AddCommand(hookCmd(g))
	rootCmd.AddCommand(authCmd())
	rootCmd.AddCommand(configCmd(g))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// load reads the config (flag path first, then the default location) and
// applies the command line overrides.
func (g *globals) load() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if g.configPath != "" {
		cfg, err = config.LoadFile(g.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if g.source != "" {
		cfg.Source = g.source
	}
	if g.calendar != "" {
		cfg.Calendar = g.calendar
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (g *globals) save(cfg *config.Config) error {
	if g.configPath != "" {
		return config.SaveFile(g.configPath, cfg)
	}
	return config.Save(cfg)
}

// backend is what every command needs from a task store: reads for the grid,
// the two grid mutations, and the writes used by import and the hook.
type backend interface {
	agenda.Source
	agenda.Mutator
	Upsert(ctx context.Context, t model.Task) error
	Delete(ctx context.Context, id string) error
	Close() error
}

type sqliteBackend struct {
	*store.Store
}

func (b sqliteBackend) Upsert(ctx context.Context, t model.Task) error {
	_, err := b.Store.Upsert(ctx, t)
	return err
}

type googleBackend struct {
	*gcal.Client
}

func (b googleBackend) Upsert(ctx context.Context, t model.Task) error {
	_, err := b.Push(ctx, t)
	return err
}

func openBackend(ctx context.Context, cfg *config.Config) (backend, error) {
	switch cfg.Source {
	case config.SourceGoogle:
		return openGoogle(ctx, cfg)
	default:
		s, err := store.Open(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open task database: %w", err)
		}
		return sqliteBackend{s}, nil
	}
}

func openGoogle(ctx context.Context, cfg *config.Config) (backend, error) {
	srv, err := auth.CalendarService(ctx)
	if err != nil {
		return nil, err
	}
	dir, err := config.Dir()
	if err != nil {
		return nil, err
	}
	events, err := gcal.OpenEventCache(filepath.Join(dir, eventCacheFile))
	if err != nil {
		log.Printf("Warning: failed to load event cache: %v", err)
		events, _ = gcal.OpenEventCache("")
	}
	colors, err := gcal.OpenColorCache(filepath.Join(dir, colorCacheFile))
	if err != nil {
		log.Printf("Warning: failed to load color cache: %v", err)
		colors, _ = gcal.OpenColorCache("")
	}
	client, err := gcal.Connect(ctx, srv, cfg.Calendar, events, colors)
	if err != nil {
		return nil, err
	}
	return googleBackend{client}, nil
}

func newSession(b backend, cfg *config.Config) *agenda.Session {
	return agenda.New(b, agenda.Options{
		Decider:    cfg.Swipe,
		MaxVisible: cfg.MaxVisible,
	})
}
