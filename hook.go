package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrisonrobin/duet/pkg/gcal"
	"github.com/harrisonrobin/duet/pkg/importer"
	"github.com/harrisonrobin/duet/pkg/model"
	"github.com/harrisonrobin/duet/pkg/normalize"
	"github.com/harrisonrobin/duet/pkg/store"
)

const hookTimeout = 2 * time.Minute

// hookCmd is installed as a Taskwarrior on-add and on-modify hook. The
// foreground half answers Taskwarrior immediately and hands the records to
// a detached copy of itself, which does the backend writes.
func hookCmd(g *globals) *cobra.Command {
	var background bool
	cmd := &cobra.Command{
		Use:   "hook",
		Short: "Taskwarrior on-add/on-modify hook",
		Long: `Read the hook's JSON task lines from stdin, echo the new task back,
and sync it to the configured backend in the background.

Install with:
  ln -s $(which duet-hook) ~/.task/hooks/on-add.duet
  ln -s $(which duet-hook) ~/.task/hooks/on-modify.duet
where duet-hook runs "duet hook".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			batch, err := importer.ParseJSON(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("error parsing tasks from stdin: %w", err)
			}
			if background {
				return g.syncHook(batch.Records)
			}

			if err := echoLast(cmd.OutOrStdout(), batch.Records); err != nil {
				log.Printf("Error encoding task to stdout: %v", err)
			}
			if len(batch.Records) == 0 {
				return nil
			}
			return g.spawnBackground(batch.Records)
		},
	}
	cmd.Flags().BoolVar(&background, "background", false, "internal use: run the sync half")
	cmd.Flags().MarkHidden("background")
	return cmd
}

// echoLast writes the newest task back, which is what Taskwarrior expects
// from a hook that does not change it.
func echoLast(w io.Writer, records []normalize.Record) error {
	if len(records) == 0 {
		return nil
	}
	return json.NewEncoder(w).Encode(records[len(records)-1])
}

func (g *globals) spawnBackground(records []normalize.Record) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("could not find self: %w", err)
	}
	args := []string{"hook", "--background"}
	if g.configPath != "" {
		args = append(args, "--config", g.configPath)
	}
	if g.source != "" {
		args = append(args, "--source", g.source)
	}
	if g.calendar != "" {
		args = append(args, "--calendar", g.calendar)
	}
	cmd := exec.Command(self, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("could not open stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("could not start background process: %w", err)
	}
	if err := json.NewEncoder(stdin).Encode(records); err != nil {
		log.Printf("Warning: failed to hand tasks to background process: %v", err)
	}
	return stdin.Close()
}

// hookChange is what one hook invocation asks of the backend.
type hookChange struct {
	task   model.Task
	id     string
	remove bool
}

// planHook looks at the newest record only. Deleted, waiting and blocked
// tasks leave the calendar, as does a task that lost its date.
func planHook(records []normalize.Record) (hookChange, bool) {
	if len(records) == 0 {
		return hookChange{}, false
	}
	latest := importer.WithoutWorkingID(records[len(records)-1])
	id := rawID(latest)

	if hidden(latest) {
		return hookChange{id: id, remove: true}, id != ""
	}
	task, ok := normalize.Normalize(latest)
	if !ok {
		return hookChange{id: id, remove: true}, id != ""
	}
	return hookChange{task: task, id: task.ID}, true
}

func hidden(r normalize.Record) bool {
	switch r["status"] {
	case "deleted", "waiting":
		return true
	}
	tags, _ := r["tags"].([]any)
	for _, tag := range tags {
		if tag == "BLOCKED" {
			return true
		}
	}
	return false
}

func rawID(r normalize.Record) string {
	for _, k := range []string{"uuid", "id"} {
		if s, ok := r[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func (g *globals) syncHook(records []normalize.Record) error {
	change, ok := planHook(records)
	if !ok {
		return nil
	}
	cfg, err := g.load()
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(hookTimeout)
	defer cancel()

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBackend(b)
	return applyHook(ctx, b, change)
}

func applyHook(ctx context.Context, b backend, change hookChange) error {
	if !change.remove {
		if err := b.Upsert(ctx, change.task); err != nil {
			return fmt.Errorf("error syncing task %s: %w", change.id, err)
		}
		return nil
	}
	err := b.Delete(ctx, change.id)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, gcal.ErrNotFound) {
		return nil
	}
	return err
}
