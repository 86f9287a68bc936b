// Package agenda is the calling layer around the pure grid engine. A Session
// owns the focused month and the latest task snapshot and turns presentation
// events (swipes, taps, toggles) into renders.
package agenda

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/harrisonrobin/duet/pkg/cursor"
	"github.com/harrisonrobin/duet/pkg/grid"
	"github.com/harrisonrobin/duet/pkg/index"
	"github.com/harrisonrobin/duet/pkg/model"
	"github.com/harrisonrobin/duet/pkg/normalize"
	"github.com/harrisonrobin/duet/pkg/swipe"
)

// DefaultMaxVisible is the per-day display budget when none is configured.
const DefaultMaxVisible = 3

var (
	ErrNoData    = errors.New("no data available this cycle")
	ErrCellIndex = errors.New("cell index out of range")
	ErrReadOnly  = errors.New("task source does not accept changes")
)

// Source supplies raw task records dated within an inclusive window.
type Source interface {
	Fetch(ctx context.Context, from, to string) ([]normalize.Record, error)
}

// Mutator applies task changes at the backend. The session re-fetches
// afterwards instead of patching its snapshot.
type Mutator interface {
	ToggleCompletion(ctx context.Context, id string) error
	ReplaceSteps(ctx context.Context, id string, steps []model.Step) error
}

// CellView is a grid cell with its display summary.
type CellView struct {
	grid.Cell
	Summary  grid.Summary `json:"summary"`
	Overflow string       `json:"overflow"`
}

// Frame is everything the presentation layer needs for one render.
type Frame struct {
	Year  int        `json:"year"`
	Month int        `json:"month"`
	Label string     `json:"label"`
	Cells []CellView `json:"cells"`
	// Stale is set when the last fetch failed or has not covered this month yet.
	Stale bool `json:"stale"`
}

type Options struct {
	Decider    swipe.Decider
	MaxVisible int
	// Start is the initial month; the zero value means the current month.
	Start   cursor.Cursor
	Mutator Mutator
	Now     func() time.Time
}

type Session struct {
	source     Source
	mutator    Mutator
	decider    swipe.Decider
	maxVisible int

	mu          sync.Mutex
	cur         cursor.Cursor
	snapshot    index.DateIndex
	snapshotFor cursor.Cursor
	failed      bool
	issued      uint64
	applied     uint64
}

// New creates a session. When no Mutator is given and the source also
// implements Mutator, the source is used for changes.
func New(src Source, opts Options) *Session {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	start := opts.Start
	if start == (cursor.Cursor{}) {
		start = cursor.Current(opts.Now())
	}
	if opts.Mutator == nil {
		if m, ok := src.(Mutator); ok {
			opts.Mutator = m
		}
	}
	if opts.MaxVisible <= 0 {
		opts.MaxVisible = DefaultMaxVisible
	}
	if opts.Decider == (swipe.Decider{}) {
		opts.Decider = swipe.Default()
	}
	return &Session{
		source:      src,
		mutator:     opts.Mutator,
		decider:     opts.Decider,
		maxVisible:  opts.MaxVisible,
		cur:         start,
		snapshot:    index.DateIndex{},
		snapshotFor: start,
		failed:      true,
	}
}

func (s *Session) Cursor() cursor.Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// Refresh fetches the focused month's window and replaces the snapshot,
// unless a refresh issued later has already landed. A failed fetch installs
// an empty snapshot so the grid still renders, and returns ErrNoData.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	s.issued++
	gen, cur := s.issued, s.cur
	s.mu.Unlock()

	from, to := grid.Span(cur.Year, cur.Month)
	idx := index.DateIndex{}
	records, err := s.source.Fetch(ctx, from, to)
	if err != nil {
		log.Printf("Warning: fetching tasks for %s failed: %v", cur, err)
	} else {
		tasks, dropped := normalize.NormalizeAll(records)
		if dropped > 0 {
			log.Printf("Dropped %d task record(s) without a usable date for %s", dropped, cur)
		}
		idx = index.Build(tasks)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen < s.applied {
		log.Printf("Discarding stale fetch %d for %s (have %d)", gen, cur, s.applied)
		return nil
	}
	s.applied = gen
	s.snapshot = idx
	s.snapshotFor = cur
	s.failed = err != nil
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoData, err)
	}
	return nil
}

// Frame renders the focused month from the current snapshot.
func (s *Session) Frame() Frame {
	s.mu.Lock()
	cur, idx := s.cur, s.snapshot
	stale := s.failed || s.snapshotFor != cur
	s.mu.Unlock()

	cells := grid.ProjectAll(grid.BuildGrid(cur.Year, cur.Month), idx)
	views := make([]CellView, len(cells))
	for i, c := range cells {
		sum := grid.Summarize(c.Tasks, s.maxVisible)
		views[i] = CellView{Cell: c, Summary: sum, Overflow: sum.OverflowLabel()}
	}
	return Frame{
		Year:  cur.Year,
		Month: cur.Month,
		Label: cur.Label(),
		Cells: views,
		Stale: stale,
	}
}

// Swipe decides a gesture and, when it navigates, moves the cursor and
// refreshes. The returned error is only ever a refresh error.
func (s *Session) Swipe(ctx context.Context, velocity, translation float64) (swipe.Direction, error) {
	dir := s.decider.Decide(velocity, translation)
	switch dir {
	case swipe.Previous:
		return dir, s.Retreat(ctx)
	case swipe.Next:
		return dir, s.Advance(ctx)
	}
	return dir, nil
}

func (s *Session) Advance(ctx context.Context) error {
	return s.move(ctx, cursor.Cursor.Advance)
}

func (s *Session) Retreat(ctx context.Context) error {
	return s.move(ctx, cursor.Cursor.Retreat)
}

// Show jumps to an arbitrary month. Overflowing months wrap into the year.
func (s *Session) Show(ctx context.Context, year, month int) error {
	target := cursor.New(year, month)
	return s.move(ctx, func(cursor.Cursor) cursor.Cursor { return target })
}

func (s *Session) move(ctx context.Context, step func(cursor.Cursor) cursor.Cursor) error {
	s.mu.Lock()
	s.cur = step(s.cur)
	s.mu.Unlock()
	return s.Refresh(ctx)
}

// Tap echoes the date of the tapped cell. Cells of the adjacent months are
// tappable like any other.
func (s *Session) Tap(i int) (string, error) {
	cur := s.Cursor()
	cells := grid.BuildGrid(cur.Year, cur.Month)
	if i < 0 || i >= len(cells) {
		return "", fmt.Errorf("%w: %d", ErrCellIndex, i)
	}
	return cells[i].Date, nil
}

func (s *Session) ToggleCompletion(ctx context.Context, id string) error {
	if s.mutator == nil {
		return ErrReadOnly
	}
	if err := s.mutator.ToggleCompletion(ctx, id); err != nil {
		return err
	}
	return s.Refresh(ctx)
}

func (s *Session) ReplaceSteps(ctx context.Context, id string, steps []model.Step) error {
	if s.mutator == nil {
		return ErrReadOnly
	}
	if err := s.mutator.ReplaceSteps(ctx, id, steps); err != nil {
		return err
	}
	return s.Refresh(ctx)
}
