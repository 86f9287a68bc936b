package importer

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseJSONStream(t *testing.T) {
	input := `{"uuid": "f45a05b3-c12e-42e5-9c9c-333333333333", "description": "Buy milk", "status": "pending", "due": "20230101T120000Z"}
{"title": "Dishes", "dateISO": "2023-01-02"}`

	b, err := ParseJSON(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseJSON failed: %v", err)
	}
	if len(b.Records) != 2 || len(b.Groups) != 0 {
		t.Fatalf("Expected 2 records, got %d records %d groups", len(b.Records), len(b.Groups))
	}
	tasks, dropped := b.Tasks()
	if dropped != 0 || len(tasks) != 2 {
		t.Fatalf("Expected 2 tasks, got %d (dropped %d)", len(tasks), dropped)
	}
	if tasks[0].Title != "Buy milk" || tasks[0].DateISO != "2023-01-01" {
		t.Errorf("Expected the Taskwarrior record first, got %+v", tasks[0])
	}
}

func TestParseJSONArrayAndGroups(t *testing.T) {
	input := `[{"title": "A", "date": "2024-01-03"}, {"title": "No date"}]
{"2024-01-05": [{"title": "Grouped", "startTime": "09:00"}, {"title": "Own date", "date": "2024-01-06"}]}`

	b, err := ParseJSON(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseJSON failed: %v", err)
	}
	if b.Len() != 4 || len(b.Groups["2024-01-05"]) != 2 {
		t.Fatalf("Unexpected batch %+v", b)
	}
	tasks, dropped := b.Tasks()
	if dropped != 1 {
		t.Errorf("Expected the undated ungrouped record dropped, got %d", dropped)
	}
	want := []struct{ title, date string }{{"A", "2024-01-03"}, {"Grouped", "2024-01-05"}, {"Own date", "2024-01-06"}}
	if len(tasks) != len(want) {
		t.Fatalf("Expected %d tasks, got %d", len(want), len(tasks))
	}
	for i, w := range want {
		if tasks[i].Title != w.title || tasks[i].DateISO != w.date {
			t.Errorf("Task %d: expected %s on %s, got %s on %s", i, w.title, w.date, tasks[i].Title, tasks[i].DateISO)
		}
	}
}

func TestParseJSONRejectsScalars(t *testing.T) {
	if _, err := ParseJSON(strings.NewReader(`42`)); err == nil {
		t.Errorf("Expected an error for a bare number")
	}
	if _, err := ParseJSON(strings.NewReader(`[1, 2]`)); err == nil {
		t.Errorf("Expected an error for a list of numbers")
	}
	if _, err := ParseJSON(strings.NewReader(`{"title": `)); err == nil {
		t.Errorf("Expected an error for truncated input")
	}
}

func TestParseYAML(t *testing.T) {
	input := `
- title: Laundry
  date: "2024-02-01"
  steps:
    - title: Wash
    - title: Fold
      completed: true
---
2024-02-03:
  - title: Market
    startTime: "08:30"
    assignedTo: [alex, sam]
`
	b, err := ParseYAML(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseYAML failed: %v", err)
	}
	tasks, dropped := b.Tasks()
	if dropped != 0 || len(tasks) != 2 {
		t.Fatalf("Expected 2 tasks, got %d (dropped %d)", len(tasks), dropped)
	}
	if len(tasks[0].Steps) != 2 || !tasks[0].Steps[1].Completed {
		t.Errorf("Expected nested steps, got %+v", tasks[0].Steps)
	}
	market := tasks[1]
	if market.DateISO != "2024-02-03" || market.StartTime != "08:30" || len(market.AssignedTo) != 2 || !market.IsShared {
		t.Errorf("Unexpected grouped task %+v", market)
	}
}

func TestParseDispatch(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "tasks.json")
	if err := os.WriteFile(jsonPath, []byte(`{"title": "x", "date": "2024-01-01"}`), 0600); err != nil {
		t.Fatal(err)
	}
	if b, err := Parse(jsonPath); err != nil || b.Len() != 1 {
		t.Errorf("Expected 1 record from json, got %d (%v)", b.Len(), err)
	}

	txtPath := filepath.Join(dir, "tasks.txt")
	if err := os.WriteFile(txtPath, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Parse(txtPath); !errors.Is(err, ErrFormat) {
		t.Errorf("Expected ErrFormat, got %v", err)
	}
}

func TestParseOrg(t *testing.T) {
	input := `#+TITLE: Home
* TODO [#A] Pay rent :money:
  SCHEDULED: <2024-02-01 Thu 09:30>
  :PROPERTIES:
  :ID: 6a1b2c3d-0000-4000-8000-000000000001
  :END:
* DONE Renew passport
  DEADLINE: <2024-02-14 Wed>
* TODO Someday
** TODO [#C] Sub item
   SCHEDULED: <2024-02-03 Sat> DEADLINE: <2024-02-05 Mon>
`
	b, err := ParseOrg(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseOrg failed: %v", err)
	}
	if len(b.Records) != 4 {
		t.Fatalf("Expected 4 headings, got %d", len(b.Records))
	}
	tasks, dropped := b.Tasks()
	if dropped != 1 {
		t.Errorf("Expected the undated heading dropped, got %d", dropped)
	}
	if len(tasks) != 3 {
		t.Fatalf("Expected 3 tasks, got %d", len(tasks))
	}

	rent := tasks[0]
	if rent.ID != "6a1b2c3d-0000-4000-8000-000000000001" || rent.Title != "Pay rent" || rent.StartTime != "09:30" {
		t.Errorf("Unexpected rent task %+v", rent)
	}
	if rent.Priority != "high" || rent.IsCompleted {
		t.Errorf("Expected a pending high priority task, got %+v", rent)
	}
	if sub := tasks[1]; sub.DateISO != "2024-02-03" || sub.Priority != "low" {
		t.Errorf("Expected SCHEDULED to win over DEADLINE, got %+v", sub)
	}
	if passport := tasks[2]; passport.DateISO != "2024-02-14" || !passport.IsCompleted {
		t.Errorf("Expected the DONE task dated by its deadline, got %+v", passport)
	}
}

func TestTaskwarriorWorkingIDIgnored(t *testing.T) {
	input := `[{"id": 3, "uuid": "f45a05b3-c12e-42e5-9c9c-333333333333", "description": "Buy milk", "due": "20240105T090000Z"},
{"id": "keep-me", "uuid": "f45a05b3-c12e-42e5-9c9c-444444444444", "description": "Named", "due": "20240106T090000Z"}]`
	b, err := ParseJSON(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	tasks, _ := b.Tasks()
	if len(tasks) != 2 {
		t.Fatalf("Expected 2 tasks, got %d", len(tasks))
	}
	if tasks[0].ID != "f45a05b3-c12e-42e5-9c9c-333333333333" {
		t.Errorf("Expected the uuid to be the id, got %s", tasks[0].ID)
	}
	if tasks[1].ID != "keep-me" {
		t.Errorf("Expected a string id to win, got %s", tasks[1].ID)
	}
	if _, ok := b.Records[0]["id"]; !ok {
		t.Errorf("Expected the parsed record to keep its id")
	}
}
