// Package normalize reconciles task records from every backend shape into
// model.Task. Records are flat key/value maps as produced by decoding JSON,
// reading a sqlite row or flattening calendar event properties.
package normalize

import (
	"strings"

	"github.com/google/uuid"

	"github.com/harrisonrobin/duet/pkg/model"
)

// Record is a raw task record. Values are whatever the source produced:
// strings, bools, numbers, []byte, decoded JSON trees or JSON encoded as text.
type Record map[string]any

// Key lists for each canonical field, current name first. All knowledge of
// legacy shapes lives here.
var (
	idKeys         = []string{"id", "_id", "taskId", "task_id", "uuid"}
	titleKeys      = []string{"title", "name", "summary", "description"}
	emojiKeys      = []string{"emoji", "icon", "glyph"}
	dateKeys       = []string{"dateISO", "date_iso", "date", "taskDate", "task_date", "dueDate", "due_date", "due", "scheduled"}
	startTimeKeys  = []string{"startTime", "start_time", "time"}
	durationKeys   = []string{"durationMinutes", "duration_minutes", "duration", "estimate", "est"}
	completedKeys  = []string{"isCompleted", "is_completed", "completed", "done", "status"}
	sharedKeys     = []string{"isShared", "is_shared", "shared"}
	priorityKeys   = []string{"priority", "prio"}
	stepsKeys      = []string{"steps", "subtasks", "checklist"}
	recurrenceKeys = []string{"recurrence", "repeat", "recur"}
	alertsKeys     = []string{"alerts", "reminders"}
	assigneeKeys   = []string{"assignedTo", "assigned_to", "assignees"}
)

var idNamespace = uuid.MustParse("6f1c1d52-2f7e-4b0c-9a51-0c6de2a6b3f4")

// Normalize converts a raw record to the canonical shape. It reports false
// when the record carries no usable calendar date; every other defect is
// replaced by a default.
func Normalize(r Record) (model.Task, bool) {
	date, ok := first(r, dateKeys, parseDate)
	if !ok {
		return model.Task{}, false
	}

	t := model.Task{DateISO: date}

	t.Title, _ = first(r, titleKeys, parseText)
	if t.Title == "" {
		t.Title = model.PlaceholderTitle
	}
	if t.Emoji, ok = first(r, emojiKeys, parseText); !ok {
		t.Emoji = model.PlaceholderEmoji
	}
	if t.ID, ok = first(r, idKeys, parseText); !ok {
		t.ID = uuid.NewSHA1(idNamespace, []byte(t.DateISO+"\x00"+t.Title)).String()
	}

	if t.StartTime, ok = first(r, startTimeKeys, parseClock); !ok {
		t.StartTime, _ = first(r, []string{"start"}, parseStartClock)
	}
	if mins, ok := first(r, durationKeys, parseMinutes); ok {
		t.DurationMinutes = &mins
	}
	t.IsCompleted, _ = first(r, completedKeys, parseBool)
	if t.Priority, ok = first(r, priorityKeys, parsePriority); !ok {
		t.Priority = model.PriorityNormal
	}

	if t.Steps, ok = first(r, stepsKeys, stepsParser(t.ID)); !ok {
		t.Steps = []model.Step{}
	}
	if t.Recurrence, ok = first(r, recurrenceKeys, parseRecurrence); !ok {
		t.Recurrence = model.NoRecurrence()
	}
	if t.Alerts, ok = first(r, alertsKeys, parseAlerts); !ok {
		t.Alerts = []string{}
	}
	if t.AssignedTo, ok = first(r, assigneeKeys, parseAssignees); !ok {
		t.AssignedTo = []string{}
	}
	if t.IsShared, ok = first(r, sharedKeys, parseBool); !ok {
		t.IsShared = len(t.AssignedTo) > 1
	}
	return t, true
}

// NormalizeAll normalizes a batch, returning the tasks in input order and the
// number of records dropped for lack of a date.
func NormalizeAll(records []Record) ([]model.Task, int) {
	tasks := make([]model.Task, 0, len(records))
	dropped := 0
	for _, r := range records {
		t, ok := Normalize(r)
		if !ok {
			dropped++
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, dropped
}

// first returns the first value under keys, in order, that parse accepts.
// Absent keys, nil values and blank strings are skipped.
func first[T any](r Record, keys []string, parse func(any) (T, bool)) (T, bool) {
	for _, k := range keys {
		v, ok := r[k]
		if !ok || isBlank(v) {
			continue
		}
		if out, ok := parse(v); ok {
			return out, true
		}
	}
	var zero T
	return zero, false
}

func isBlank(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []byte:
		return strings.TrimSpace(string(x)) == ""
	}
	return false
}
