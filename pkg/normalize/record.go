package normalize

import (
	"encoding/json"
	"time"

	"github.com/harrisonrobin/duet/pkg/model"
)

// Style selects the key set ToRecord writes.
type Style int

const (
	// Current writes current keys with native structures.
	Current Style = iota
	// Legacy writes the oldest alias keys with sub-structures encoded as JSON text.
	Legacy
)

// ToRecord re-expresses a canonical task as a raw record. Normalize reads
// either style back into the same task.
func ToRecord(t model.Task, style Style) Record {
	if style == Legacy {
		return legacyRecord(t)
	}
	r := Record{
		"id":          t.ID,
		"title":       t.Title,
		"emoji":       t.Emoji,
		"dateISO":     t.DateISO,
		"isCompleted": t.IsCompleted,
		"isShared":    t.IsShared,
		"priority":    string(t.Priority),
		"steps":       stepTrees(t.Steps, "title", "completed"),
		"recurrence": map[string]any{
			"frequency":  string(t.Recurrence.Frequency),
			"interval":   float64(t.Recurrence.Interval),
			"daysOfWeek": stringTrees(t.Recurrence.DaysOfWeek),
		},
		"alerts":     stringTrees(t.Alerts),
		"assignedTo": stringTrees(t.AssignedTo),
	}
	if t.Scheduled() {
		r["startTime"] = t.StartTime
	}
	if t.DurationMinutes != nil {
		r["durationMinutes"] = float64(*t.DurationMinutes)
	}
	return r
}

func legacyRecord(t model.Task) Record {
	status := "pending"
	if t.IsCompleted {
		status = "completed"
	}
	shared := "no"
	if t.IsShared {
		shared = "yes"
	}
	r := Record{
		"uuid":        t.ID,
		"description": t.Title,
		"glyph":       t.Emoji,
		"due_date":    t.DateISO,
		"status":      status,
		"shared":      shared,
		"prio":        legacyPriority(t.Priority),
		"subtasks":    jsonText(stepTrees(t.Steps, "text", "done")),
		"recur": jsonText(map[string]any{
			"freq":  string(t.Recurrence.Frequency),
			"every": t.Recurrence.Interval,
			"days":  t.Recurrence.DaysOfWeek,
		}),
		"reminders":   jsonText(t.Alerts),
		"assigned_to": jsonText(t.AssignedTo),
	}
	if t.Scheduled() {
		if clock, err := time.Parse(clockLayout, t.StartTime); err == nil {
			r["start_time"] = clock.Format("3:04 PM")
		}
	}
	if t.DurationMinutes != nil && *t.DurationMinutes > 0 {
		r["duration"] = FormatDuration(*t.DurationMinutes)
	}
	return r
}

func legacyPriority(p model.Priority) string {
	switch p {
	case model.PriorityLow:
		return "L"
	case model.PriorityHigh:
		return "H"
	default:
		return "M"
	}
}

func stepTrees(steps []model.Step, titleKey, doneKey string) []any {
	out := make([]any, len(steps))
	for i, s := range steps {
		out[i] = map[string]any{"id": s.ID, titleKey: s.Title, doneKey: s.Completed}
	}
	return out
}

func stringTrees(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func jsonText(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
