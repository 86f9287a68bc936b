// Package importer reads task records from files and from a Taskwarrior
// export so they can be loaded into a backend.
package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/harrisonrobin/duet/pkg/grid"
	"github.com/harrisonrobin/duet/pkg/index"
	"github.com/harrisonrobin/duet/pkg/model"
	"github.com/harrisonrobin/duet/pkg/normalize"
)

var ErrFormat = errors.New("unsupported import format")

// Batch is the result of one import. Groups holds records that arrived
// under a date key, which serves as their date when they carry none.
type Batch struct {
	Records []normalize.Record
	Groups  map[string][]normalize.Record
}

// Len counts records in both halves.
func (b Batch) Len() int {
	n := len(b.Records)
	for _, g := range b.Groups {
		n += len(g)
	}
	return n
}

// Tasks normalizes the batch, ordered by date then start time. It also
// reports how many records had no usable date.
func (b Batch) Tasks() ([]model.Task, int) {
	records := make([]normalize.Record, len(b.Records))
	for i, r := range b.Records {
		records[i] = WithoutWorkingID(r)
	}
	tasks, dropped := normalize.NormalizeAll(records)
	groups := make(map[string][]normalize.Record, len(b.Groups))
	for date, g := range b.Groups {
		for _, r := range g {
			groups[date] = append(groups[date], WithoutWorkingID(r))
		}
	}
	grouped, groupDropped := index.BuildGrouped(groups)
	for _, d := range grouped.Dates() {
		tasks = append(tasks, grouped.Tasks(d)...)
	}

	idx := index.Build(tasks)
	out := make([]model.Task, 0, idx.Len())
	for _, d := range idx.Dates() {
		out = append(out, idx.Tasks(d)...)
	}
	return out, dropped + groupDropped
}

// WithoutWorkingID drops Taskwarrior's numeric working-set id from a record
// that also has a uuid, so the uuid becomes the task id. The record itself is
// left untouched.
func WithoutWorkingID(r normalize.Record) normalize.Record {
	if _, ok := r["uuid"].(string); !ok {
		return r
	}
	switch r["id"].(type) {
	case json.Number, float64, int, int64, uint64:
	default:
		return r
	}
	out := make(normalize.Record, len(r))
	for k, v := range r {
		if k != "id" {
			out[k] = v
		}
	}
	return out
}

// Parse reads a file, choosing the decoder by extension.
func Parse(path string) (Batch, error) {
	f, err := os.Open(path)
	if err != nil {
		return Batch{}, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonl", ".ndjson":
		return ParseJSON(f)
	case ".yaml", ".yml":
		return ParseYAML(f)
	case ".org":
		return ParseOrg(f)
	}
	return Batch{}, fmt.Errorf("%w: %s", ErrFormat, path)
}

// ParseJSON accepts a stream of objects, arrays of objects, or objects
// keyed by date, in any mix.
func ParseJSON(r io.Reader) (Batch, error) {
	var b Batch
	decoder := json.NewDecoder(r)
	decoder.UseNumber()
	for {
		var v any
		if err := decoder.Decode(&v); err != nil {
			if err == io.EOF {
				break
			}
			return Batch{}, fmt.Errorf("failed to decode task json: %w", err)
		}
		if err := b.add(v); err != nil {
			return Batch{}, err
		}
	}
	return b, nil
}

// ParseYAML accepts the same shapes as ParseJSON, one per YAML document.
func ParseYAML(r io.Reader) (Batch, error) {
	var b Batch
	decoder := yaml.NewDecoder(r)
	for {
		var v any
		if err := decoder.Decode(&v); err != nil {
			if err == io.EOF {
				break
			}
			return Batch{}, fmt.Errorf("failed to decode task yaml: %w", err)
		}
		if v == nil {
			continue
		}
		if err := b.add(plain(v)); err != nil {
			return Batch{}, err
		}
	}
	return b, nil
}

// Taskwarrior runs `task export` with the given filter and parses its output.
func Taskwarrior(ctx context.Context, filter []string) (Batch, error) {
	args := append(append([]string{}, filter...), "export", "rc.hooks=0")
	cmd := exec.CommandContext(ctx, "task", args...)

	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Batch{}, fmt.Errorf("taskwarrior command failed: exit code %d, %s, stderr: %s",
				exitErr.ExitCode(), err, exitErr.Stderr)
		}
		return Batch{}, fmt.Errorf("taskwarrior command failed: %w", err)
	}
	return ParseJSON(bytes.NewReader(output))
}

func (b *Batch) add(v any) error {
	switch x := v.(type) {
	case []any:
		for i, item := range x {
			m, ok := item.(map[string]any)
			if !ok {
				return fmt.Errorf("element %d is not an object", i)
			}
			b.Records = append(b.Records, normalize.Record(m))
		}
	case map[string]any:
		if groups, ok := asGroups(x); ok {
			if b.Groups == nil {
				b.Groups = make(map[string][]normalize.Record)
			}
			for date, records := range groups {
				b.Groups[date] = append(b.Groups[date], records...)
			}
			return nil
		}
		b.Records = append(b.Records, normalize.Record(x))
	default:
		return fmt.Errorf("expected an object or a list of objects, got %T", v)
	}
	return nil
}

// asGroups recognizes an object whose keys are all dates and whose values
// are all lists of objects.
func asGroups(m map[string]any) (map[string][]normalize.Record, bool) {
	if len(m) == 0 {
		return nil, false
	}
	out := make(map[string][]normalize.Record, len(m))
	for k, v := range m {
		if !grid.ValidDate(k) {
			return nil, false
		}
		list, ok := v.([]any)
		if !ok {
			return nil, false
		}
		for _, item := range list {
			rec, ok := item.(map[string]any)
			if !ok {
				return nil, false
			}
			out[k] = append(out[k], normalize.Record(rec))
		}
	}
	return out, true
}

// plain rewrites YAML's decoded tree so every map has string keys. Date keys
// the decoder resolved to timestamps go back to their label.
func plain(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, item := range x {
			x[k] = plain(item)
		}
		return x
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[keyString(k)] = plain(item)
		}
		return out
	case []any:
		for i, item := range x {
			x[i] = plain(item)
		}
		return x
	}
	return v
}

func keyString(k any) string {
	switch x := k.(type) {
	case string:
		return x
	case time.Time:
		return x.Format("2006-01-02")
	}
	return fmt.Sprint(k)
}
