package gcal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/harrisonrobin/duet/pkg/model"
	"github.com/harrisonrobin/duet/pkg/normalize"
)

const testCalendar = "cal1"

// fakeCalendar serves the subset of the Calendar v3 events API the client
// uses, backed by a map.
type fakeCalendar struct {
	mu      sync.Mutex
	events  map[string]*calendar.Event
	next    int
	patches int
	updates int
	inserts int
}

func newFakeCalendar() *fakeCalendar {
	return &fakeCalendar{events: make(map[string]*calendar.Event)}
}

func (f *fakeCalendar) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /calendars/{cal}/events", f.list)
	mux.HandleFunc("POST /calendars/{cal}/events", f.insert)
	mux.HandleFunc("GET /calendars/{cal}/events/{id}", f.get)
	mux.HandleFunc("PATCH /calendars/{cal}/events/{id}", f.patch)
	mux.HandleFunc("PUT /calendars/{cal}/events/{id}", f.update)
	mux.HandleFunc("DELETE /calendars/{cal}/events/{id}", f.remove)
	return mux
}

func eventDate(ev *calendar.Event) string {
	if ev.Start.Date != "" {
		return ev.Start.Date
	}
	return ev.Start.DateTime[:10]
}

func (f *fakeCalendar) list(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := r.URL.Query()
	prop := q.Get("privateExtendedProperty")
	timeMin, timeMax := q.Get("timeMin"), q.Get("timeMax")

	out := &calendar.Events{Items: []*calendar.Event{}}
	for _, ev := range f.events {
		if prop != "" {
			k, v, _ := strings.Cut(prop, "=")
			if ev.ExtendedProperties == nil || ev.ExtendedProperties.Private[k] != v {
				continue
			}
		}
		d := eventDate(ev)
		if timeMin != "" && d < timeMin[:10] {
			continue
		}
		if timeMax != "" && d >= timeMax[:10] {
			continue
		}
		out.Items = append(out.Items, ev)
	}
	json.NewEncoder(w).Encode(out)
}

func (f *fakeCalendar) insert(w http.ResponseWriter, r *http.Request) {
	var ev calendar.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.next++
	f.inserts++
	ev.Id = fmt.Sprintf("ev%d", f.next)
	f.events[ev.Id] = &ev
	f.mu.Unlock()
	json.NewEncoder(w).Encode(&ev)
}

func (f *fakeCalendar) get(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	ev, ok := f.events[r.PathValue("id")]
	f.mu.Unlock()
	if !ok {
		notFound(w)
		return
	}
	json.NewEncoder(w).Encode(ev)
}

func (f *fakeCalendar) patch(w http.ResponseWriter, r *http.Request) {
	var p calendar.Event
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[r.PathValue("id")]
	if !ok {
		notFound(w)
		return
	}
	f.patches++
	// Like the real API, nested objects merge field by field.
	if p.Summary != "" {
		ev.Summary = p.Summary
	}
	ev.Start = mergeTime(ev.Start, p.Start)
	ev.End = mergeTime(ev.End, p.End)
	if p.ColorId != "" {
		ev.ColorId = p.ColorId
	}
	if p.ExtendedProperties != nil {
		if ev.ExtendedProperties == nil {
			ev.ExtendedProperties = &calendar.EventExtendedProperties{}
		}
		if ev.ExtendedProperties.Private == nil {
			ev.ExtendedProperties.Private = map[string]string{}
		}
		for k, v := range p.ExtendedProperties.Private {
			ev.ExtendedProperties.Private[k] = v
		}
	}
	json.NewEncoder(w).Encode(ev)
}

func mergeTime(have, patch *calendar.EventDateTime) *calendar.EventDateTime {
	if patch == nil {
		return have
	}
	if have == nil {
		return patch
	}
	merged := *have
	if patch.Date != "" {
		merged.Date = patch.Date
	}
	if patch.DateTime != "" {
		merged.DateTime = patch.DateTime
	}
	return &merged
}

func (f *fakeCalendar) update(w http.ResponseWriter, r *http.Request) {
	var ev calendar.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := r.PathValue("id")
	if _, ok := f.events[id]; !ok {
		notFound(w)
		return
	}
	f.updates++
	ev.Id = id
	f.events[id] = &ev
	json.NewEncoder(w).Encode(&ev)
}

func (f *fakeCalendar) remove(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.events[r.PathValue("id")]; !ok {
		notFound(w)
		return
	}
	delete(f.events, r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func notFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	fmt.Fprint(w, `{"error":{"code":404,"message":"Not Found"}}`)
}

func newTestClient(t *testing.T, fake *fakeCalendar) (*Client, *EventCache) {
	t.Helper()
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	srv, err := calendar.NewService(context.Background(),
		option.WithEndpoint(server.URL+"/"),
		option.WithHTTPClient(server.Client()),
	)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	cache, err := OpenEventCache(filepath.Join(t.TempDir(), "events.json"))
	if err != nil {
		t.Fatal(err)
	}
	colors, err := OpenColorCache("")
	if err != nil {
		t.Fatal(err)
	}
	return NewClient(srv, testCalendar, cache, colors), cache
}

func fetchTasks(t *testing.T, c *Client, from, to string) []model.Task {
	t.Helper()
	records, err := c.Fetch(context.Background(), from, to)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	tasks, _ := normalize.NormalizeAll(records)
	return tasks
}

func TestPushFetchRoundTrip(t *testing.T) {
	fake := newFakeCalendar()
	c, cache := newTestClient(t, fake)
	ctx := context.Background()
	mins := 45
	task := model.Task{
		ID: "t1", Title: "Piano lesson", Emoji: "🎹", DateISO: "2024-01-09", StartTime: "16:30",
		DurationMinutes: &mins, Priority: model.PriorityHigh,
		Steps:      []model.Step{{ID: "s1", Title: "Bring book"}},
		Recurrence: model.Recurrence{Frequency: model.FrequencyWeekly, Interval: 1, DaysOfWeek: []string{"tue"}},
		Alerts:     []string{"10m"},
		AssignedTo: []string{"sam"},
	}
	ev, err := c.Push(ctx, task)
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if cache.Get("t1") != ev.Id {
		t.Errorf("Expected cache to map t1 to %s, got %q", ev.Id, cache.Get("t1"))
	}

	tasks := fetchTasks(t, c, "2024-01-01", "2024-01-31")
	if len(tasks) != 1 {
		t.Fatalf("Expected 1 task, got %d", len(tasks))
	}
	got := tasks[0]
	if got.ID != "t1" || got.Title != "Piano lesson" || got.Emoji != "🎹" || got.StartTime != "16:30" {
		t.Errorf("Unexpected task %+v", got)
	}
	if got.DurationMinutes == nil || *got.DurationMinutes != 45 || got.Priority != model.PriorityHigh {
		t.Errorf("Expected duration and priority to survive, got %+v", got)
	}
	if len(got.Steps) != 1 || got.Recurrence.Frequency != model.FrequencyWeekly || len(got.AssignedTo) != 1 {
		t.Errorf("Expected JSON text properties to decode, got %+v", got)
	}

	if tasks := fetchTasks(t, c, "2024-02-01", "2024-02-29"); len(tasks) != 0 {
		t.Errorf("Expected no tasks outside the window, got %d", len(tasks))
	}
}

func TestPushUpdatesOnlyOnChange(t *testing.T) {
	fake := newFakeCalendar()
	c, _ := newTestClient(t, fake)
	ctx := context.Background()
	task := model.Task{ID: "t2", Title: "Call plumber", DateISO: "2024-03-02", Priority: model.PriorityNormal}

	if _, err := c.Push(ctx, task); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Push(ctx, task); err != nil {
		t.Fatal(err)
	}
	if fake.inserts != 1 || fake.updates != 0 {
		t.Errorf("Expected 1 insert and no update, got %d inserts %d updates", fake.inserts, fake.updates)
	}

	task.Title = "Call the plumber"
	if _, err := c.Push(ctx, task); err != nil {
		t.Fatal(err)
	}
	if fake.inserts != 1 || fake.updates != 1 || fake.patches != 0 {
		t.Errorf("Expected one update after a change, got %d inserts %d updates %d patches", fake.inserts, fake.updates, fake.patches)
	}
}

func TestPushClearsRemovedFields(t *testing.T) {
	fake := newFakeCalendar()
	c, _ := newTestClient(t, fake)
	ctx := context.Background()
	mins := 45
	task := model.Task{ID: "t9", Title: "Swim", DateISO: "2024-04-03", StartTime: "09:00", DurationMinutes: &mins, Priority: model.PriorityNormal}
	ev, err := c.Push(ctx, task)
	if err != nil {
		t.Fatal(err)
	}
	fake.mu.Lock()
	fake.events[ev.Id].Description = "bring goggles"
	fake.mu.Unlock()

	task.StartTime = model.Unscheduled
	task.DurationMinutes = nil
	if _, err := c.Push(ctx, task); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	got := fetchTasks(t, c, "2024-04-03", "2024-04-03")
	if len(got) != 1 {
		t.Fatalf("Expected 1 task, got %d", len(got))
	}
	if got[0].Scheduled() || got[0].DurationMinutes != nil {
		t.Errorf("Expected start time and duration cleared, got %q %v", got[0].StartTime, got[0].DurationMinutes)
	}
	stored := fake.events[ev.Id]
	if stored.Start.DateTime != "" || stored.Start.Date != "2024-04-03" {
		t.Errorf("Expected an all-day start only, got %+v", stored.Start)
	}
	if _, ok := stored.ExtendedProperties.Private["startTime"]; ok {
		t.Errorf("Expected the startTime property removed, got %v", stored.ExtendedProperties.Private)
	}
	if stored.Description != "bring goggles" {
		t.Errorf("Expected unmanaged fields kept, got %q", stored.Description)
	}
}

func TestMergedEvent(t *testing.T) {
	existing := &calendar.Event{
		Id:       "e1",
		Summary:  "Old",
		Location: "Pool",
		ColorId:  "5",
		Start:    &calendar.EventDateTime{DateTime: "2024-04-03T09:00:00Z"},
		End:      &calendar.EventDateTime{DateTime: "2024-04-03T09:45:00Z"},
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{"id": "t9", "startTime": "09:00"},
			Shared:  map[string]string{"owner": "sam"},
		},
	}
	target, err := taskEvent(model.Task{ID: "t9", Title: "New", DateISO: "2024-04-03", Priority: model.PriorityNormal})
	if err != nil {
		t.Fatal(err)
	}
	got := mergedEvent(existing, target)
	if got.Id != "e1" || got.Location != "Pool" || got.ColorId != "5" || got.Summary != "New" {
		t.Errorf("Unexpected merged event %+v", got)
	}
	if got.Start.DateTime != "" || got.Start.Date != "2024-04-03" {
		t.Errorf("Expected the target timing, got %+v", got.Start)
	}
	if _, ok := got.ExtendedProperties.Private["startTime"]; ok || got.ExtendedProperties.Shared["owner"] != "sam" {
		t.Errorf("Expected private properties replaced and shared kept, got %+v", got.ExtendedProperties)
	}
	if existing.Summary != "Old" {
		t.Errorf("Expected existing left untouched")
	}
}

func TestMutationsRewriteProperties(t *testing.T) {
	fake := newFakeCalendar()
	c, _ := newTestClient(t, fake)
	ctx := context.Background()
	if _, err := c.Push(ctx, model.Task{ID: "t3", Title: "Recycling", DateISO: "2024-01-17", Priority: model.PriorityNormal}); err != nil {
		t.Fatal(err)
	}

	if err := c.ToggleCompletion(ctx, "t3"); err != nil {
		t.Fatalf("ToggleCompletion failed: %v", err)
	}
	got := fetchTasks(t, c, "2024-01-17", "2024-01-17")
	if len(got) != 1 || !got[0].IsCompleted {
		t.Fatalf("Expected completed task, got %+v", got)
	}
	if ev := fake.events["ev1"]; !strings.HasPrefix(ev.Summary, completedPrefix) {
		t.Errorf("Expected completed prefix on summary, got %q", ev.Summary)
	}

	steps := []model.Step{{ID: "a", Title: "Bottles"}, {ID: "b", Title: "Cans", Completed: true}}
	if err := c.ReplaceSteps(ctx, "t3", steps); err != nil {
		t.Fatalf("ReplaceSteps failed: %v", err)
	}
	got = fetchTasks(t, c, "2024-01-17", "2024-01-17")
	if len(got[0].Steps) != 2 || !got[0].Steps[1].Completed || !got[0].IsCompleted {
		t.Errorf("Expected steps replaced and completion kept, got %+v", got[0])
	}

	if err := c.Delete(ctx, "t3"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := c.ToggleCompletion(ctx, "t3"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}

func TestForeignEventsMap(t *testing.T) {
	fake := newFakeCalendar()
	fake.events["x1"] = &calendar.Event{
		Id:      "x1",
		Summary: "Dentist",
		Start:   &calendar.EventDateTime{DateTime: "2024-01-12T09:00:00Z"},
		End:     &calendar.EventDateTime{DateTime: "2024-01-12T10:00:00Z"},
	}
	fake.events["x2"] = &calendar.Event{
		Id:      "x2",
		Summary: "Holiday",
		Start:   &calendar.EventDateTime{Date: "2024-01-15"},
		End:     &calendar.EventDateTime{Date: "2024-01-16"},
	}
	c, _ := newTestClient(t, fake)

	tasks := fetchTasks(t, c, "2024-01-01", "2024-01-31")
	byID := map[string]model.Task{}
	for _, task := range tasks {
		byID[task.ID] = task
	}
	dentist, ok := byID["x1"]
	if !ok || dentist.Title != "Dentist" || dentist.DateISO != "2024-01-12" || dentist.StartTime != "09:00" {
		t.Errorf("Unexpected dentist task %+v", dentist)
	}
	if dentist.DurationMinutes == nil || *dentist.DurationMinutes != 60 {
		t.Errorf("Expected 60 minutes from the event span, got %v", dentist.DurationMinutes)
	}
	if holiday := byID["x2"]; holiday.DateISO != "2024-01-15" || holiday.Scheduled() {
		t.Errorf("Expected an unscheduled all-day task, got %+v", holiday)
	}

	if err := c.ToggleCompletion(context.Background(), "x2"); err != nil {
		t.Fatalf("Expected toggling a foreign event by its id to work, got %v", err)
	}
	if p := fake.events["x2"].ExtendedProperties; p == nil || p.Private["isCompleted"] != "true" {
		t.Errorf("Expected properties to be written, got %+v", p)
	}
}

func TestEventCachePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.json")
	cache, err := OpenEventCache(path)
	if err != nil {
		t.Fatal(err)
	}
	cache.Set("a", "ev-a")
	cache.Set("b", "ev-b")
	cache.Remove("b")
	if err := cache.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reopened, err := OpenEventCache(path)
	if err != nil {
		t.Fatal(err)
	}
	if reopened.Get("a") != "ev-a" || reopened.Get("b") != "" {
		t.Errorf("Unexpected mappings %v", reopened.Mappings)
	}
}

func TestEventPatch(t *testing.T) {
	base := model.Task{ID: "p", Title: "Walk", DateISO: "2024-05-01", StartTime: "07:00", Priority: model.PriorityNormal}
	a, err := taskEvent(base)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := taskEvent(base)
	if eventPatch(a, b) != nil {
		t.Errorf("Expected no patch for identical events")
	}

	moved := base
	moved.StartTime = "08:00"
	c, _ := taskEvent(moved)
	patch := eventPatch(a, c)
	if patch == nil || patch.Start == nil || patch.Summary != "" {
		t.Errorf("Expected a time-only patch, got %+v", patch)
	}
}

func TestColorCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "colors.json")
	colors, err := OpenColorCache(path)
	if err != nil {
		t.Fatal(err)
	}
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	colors.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	if got := colors.ColorID(nil); got != unassignedColorID {
		t.Errorf("Expected the unassigned color, got %s", got)
	}
	if got := colors.ColorID([]string{"alex", "sam"}); got != sharedColorID {
		t.Errorf("Expected the shared color, got %s", got)
	}
	alex := colors.ColorID([]string{"alex"})
	if colors.ColorID([]string{"alex"}) != alex {
		t.Errorf("Expected a stable color for alex")
	}
	if alex == sharedColorID || alex == unassignedColorID {
		t.Errorf("Expected a personal color, got reserved %s", alex)
	}

	// Fill the palette; alex is touched last so someone else is evicted.
	for i := 0; i < paletteSize; i++ {
		colors.ColorID([]string{fmt.Sprintf("p%d", i)})
		colors.ColorID([]string{"alex"})
	}
	if colors.ColorID([]string{"alex"}) != alex {
		t.Errorf("Expected alex to keep the color")
	}
	if len(colors.Assignees) != paletteSize-2 {
		t.Errorf("Expected %d tracked assignees, got %d", paletteSize-2, len(colors.Assignees))
	}

	if err := colors.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	reopened, err := OpenColorCache(path)
	if err != nil {
		t.Fatal(err)
	}
	if reopened.ColorID([]string{"alex"}) != alex {
		t.Errorf("Expected the color to persist")
	}
}

func TestPushColorsByAssignee(t *testing.T) {
	fake := newFakeCalendar()
	c, _ := newTestClient(t, fake)
	ev, err := c.Push(context.Background(), model.Task{
		ID: "t9", Title: "Vet", DateISO: "2024-04-04", Priority: model.PriorityNormal,
		AssignedTo: []string{"alex", "sam"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if ev.ColorId != sharedColorID {
		t.Errorf("Expected the shared color on a two-person task, got %q", ev.ColorId)
	}
}
