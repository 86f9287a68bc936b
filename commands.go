package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrisonrobin/duet/pkg/agenda"
	"github.com/harrisonrobin/duet/pkg/auth"
	"github.com/harrisonrobin/duet/pkg/cursor"
	"github.com/harrisonrobin/duet/pkg/importer"
	"github.com/harrisonrobin/duet/pkg/server"
	"github.com/harrisonrobin/duet/pkg/tui"
)

func gridCmd(g *globals) *cobra.Command {
	var (
		year, month, width int
		asJSON             bool
	)
	cmd := &cobra.Command{
		Use:   "grid",
		Short: "Print one month of tasks",
		Long: `Print the 6x7 month grid with each day's tasks.

Examples:
  duet grid
  duet grid --year 2024 --month 2
  duet grid --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if month < 1 || month > 12 {
				return fmt.Errorf("month must be between 1 and 12, got %d", month)
			}
			cfg, err := g.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			b, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeBackend(b)

			session := newSession(b, cfg)
			if err := session.Show(ctx, year, month-1); err != nil && !errors.Is(err, agenda.ErrNoData) {
				return err
			}
			frame := session.Frame()
			if asJSON {
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(frame)
			}
			fmt.Fprint(cmd.OutOrStdout(), tui.Render(frame, width))
			return nil
		},
	}

	now := cursor.Current(time.Now())
	cmd.Flags().IntVar(&year, "year", now.Year, "year to show")
	cmd.Flags().IntVar(&month, "month", now.Month+1, "month to show (1-12)")
	cmd.Flags().IntVar(&width, "width", 112, "terminal width in columns")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "output the frame as JSON")
	return cmd
}

func tuiCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Browse the calendar interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			b, err := openBackend(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeBackend(b)
			return tui.Run(newSession(b, cfg))
		},
	}
}

func serveCmd(g *globals) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the calendar grid over HTTP",
		Long: `Start the JSON API.

Examples:
  duet serve
  duet serve --addr :8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			b, err := openBackend(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeBackend(b)

			session := newSession(b, cfg)
			if err := session.Refresh(cmd.Context()); err != nil {
				log.Printf("Warning: initial fetch failed: %v", err)
			}
			fmt.Printf("Starting web server at http://%s\n", addr)
			return server.New(session).Run(addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}

func importCmd(g *globals) *cobra.Command {
	var fromTaskwarrior bool
	cmd := &cobra.Command{
		Use:   "import [file | --taskwarrior [filter...]]",
		Short: "Load tasks from a file or a Taskwarrior export",
		Long: `Import tasks into the configured backend. Files may be JSON, JSON lines,
YAML or Org-mode; tasks with an existing id are replaced.

Examples:
  duet import tasks.json
  duet import agenda.org
  duet import --taskwarrior project:home status:pending`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var batch importer.Batch
			var err error
			switch {
			case fromTaskwarrior:
				batch, err = importer.Taskwarrior(ctx, args)
			case len(args) == 1:
				batch, err = importer.Parse(args[0])
			default:
				return errors.New("expected exactly one file, or --taskwarrior")
			}
			if err != nil {
				return err
			}

			cfg, err := g.load()
			if err != nil {
				return err
			}
			b, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeBackend(b)

			tasks, dropped := batch.Tasks()
			written := 0
			for _, t := range tasks {
				if err := b.Upsert(ctx, t); err != nil {
					log.Printf("Warning: failed to import %q: %v", t.Title, err)
					continue
				}
				written++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d of %d task(s)", written, batch.Len())
			if dropped > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), ", skipped %d without a date", dropped)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromTaskwarrior, "taskwarrior", false, "run `task export` with the remaining args as its filter")
	return cmd
}

func authCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authenticate with Google Calendar",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := auth.Authorize(cmd.Context(), auth.Scopes); err != nil {
				return fmt.Errorf("authentication failed: %w", err)
			}
			fmt.Println("Authentication successful!")
			return nil
		},
	}
}

func configCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the saved configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(cfg)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set-calendar <name>",
		Short: "Set the default Google Calendar name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			cfg.Calendar = args[0]
			if err := g.save(cfg); err != nil {
				return fmt.Errorf("error saving config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Default calendar set to: %s\n", args[0])
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set-source <sqlite|google>",
		Short: "Set the default task backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			cfg.Source = args[0]
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := g.save(cfg); err != nil {
				return fmt.Errorf("error saving config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Default source set to: %s\n", args[0])
			return nil
		},
	})
	return cmd
}

func closeBackend(b backend) {
	if err := b.Close(); err != nil {
		log.Printf("Warning: failed to close backend: %v", err)
	}
}

// withTimeout bounds background work that has no caller waiting on it.
func withTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}
