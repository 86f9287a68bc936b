package gcal

import (
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"time"

	"google.golang.org/api/calendar/v3"

	"github.com/harrisonrobin/duet/pkg/model"
	"github.com/harrisonrobin/duet/pkg/normalize"
)

const (
	// taskIDProperty is the private extended property that links an event to
	// its task.
	taskIDProperty = "id"

	completedPrefix = "✓"
	defaultDuration = 30 * time.Minute
	dateLayout      = "2006-01-02"
)

// taskProperties flattens a task into private extended properties. Nested
// values are stored as JSON text since properties only hold strings.
func taskProperties(t model.Task) map[string]string {
	props := make(map[string]string)
	for k, v := range normalize.ToRecord(t, normalize.Current) {
		switch x := v.(type) {
		case string:
			props[k] = x
		case bool:
			props[k] = strconv.FormatBool(x)
		case float64:
			props[k] = strconv.FormatFloat(x, 'f', -1, 64)
		default:
			b, err := json.Marshal(x)
			if err != nil {
				continue
			}
			props[k] = string(b)
		}
	}
	return props
}

// taskEvent converts a task to the event that represents it. Unscheduled
// tasks become all-day events.
func taskEvent(t model.Task) (*calendar.Event, error) {
	day, err := time.ParseInLocation(dateLayout, t.DateISO, time.Local)
	if err != nil {
		return nil, fmt.Errorf("task %s has no usable date: %w", t.ID, err)
	}

	summary := t.Title
	if t.IsCompleted {
		summary = fmt.Sprintf("%s %s", completedPrefix, t.Title)
	}
	event := &calendar.Event{
		Summary: summary,
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: taskProperties(t),
		},
	}

	if !t.Scheduled() {
		event.Start = &calendar.EventDateTime{Date: t.DateISO}
		event.End = &calendar.EventDateTime{Date: day.AddDate(0, 0, 1).Format(dateLayout)}
		return event, nil
	}

	start, err := time.ParseInLocation(dateLayout+" 15:04", t.DateISO+" "+t.StartTime, time.Local)
	if err != nil {
		return nil, fmt.Errorf("task %s has an invalid start time %q: %w", t.ID, t.StartTime, err)
	}
	duration := defaultDuration
	if t.DurationMinutes != nil {
		duration = time.Duration(*t.DurationMinutes) * time.Minute
	}
	event.Start = &calendar.EventDateTime{DateTime: start.Format(time.RFC3339)}
	event.End = &calendar.EventDateTime{DateTime: start.Add(duration).Format(time.RFC3339)}
	return event, nil
}

// eventRecord turns an event into a raw task record. Private properties use
// the current field names, so they win over the plain event fields, which
// only matter for events created outside this tool.
func eventRecord(ev *calendar.Event) normalize.Record {
	r := normalize.Record{
		"_id":     ev.Id,
		"summary": ev.Summary,
	}
	if ev.Start != nil {
		if ev.Start.Date != "" {
			r["date"] = ev.Start.Date
		} else if ev.Start.DateTime != "" {
			r["date"] = ev.Start.DateTime
			r["start"] = ev.Start.DateTime
		}
	}
	if mins, ok := eventMinutes(ev); ok {
		r["duration"] = mins
	}
	if ev.ExtendedProperties != nil {
		for k, v := range ev.ExtendedProperties.Private {
			r[k] = v
		}
	}
	return r
}

func eventMinutes(ev *calendar.Event) (int, bool) {
	if ev.Start == nil || ev.End == nil || ev.Start.DateTime == "" || ev.End.DateTime == "" {
		return 0, false
	}
	start, err := time.Parse(time.RFC3339, ev.Start.DateTime)
	if err != nil {
		return 0, false
	}
	end, err := time.Parse(time.RFC3339, ev.End.DateTime)
	if err != nil {
		return 0, false
	}
	mins := int(end.Sub(start).Minutes())
	return mins, mins > 0
}

// eventPatch returns the fields that differ between existing and target, or
// nil when they already agree.
func eventPatch(existing, target *calendar.Event) *calendar.Event {
	patch := &calendar.Event{}
	needsUpdate := false

	if existing.Summary != target.Summary {
		patch.Summary = target.Summary
		needsUpdate = true
	}

	if target.ColorId != "" && existing.ColorId != target.ColorId {
		patch.ColorId = target.ColorId
		needsUpdate = true
	}

	if !sameTime(existing.Start, target.Start) || !sameTime(existing.End, target.End) {
		patch.Start = target.Start
		patch.End = target.End
		needsUpdate = true
	}

	var have map[string]string
	if existing.ExtendedProperties != nil {
		have = existing.ExtendedProperties.Private
	}
	if !maps.Equal(have, target.ExtendedProperties.Private) {
		patch.ExtendedProperties = target.ExtendedProperties
		needsUpdate = true
	}

	if needsUpdate {
		return patch
	}
	return nil
}

// mergedEvent is existing with every field this tool owns taken from target.
// Fields it does not manage, such as description, attendees and shared
// properties, are kept. Timing and private properties are replaced whole so
// a removed start time or property does not survive the write.
func mergedEvent(existing, target *calendar.Event) *calendar.Event {
	next := *existing
	next.Summary = target.Summary
	if target.ColorId != "" {
		next.ColorId = target.ColorId
	}
	next.Start, next.End = target.Start, target.End
	props := &calendar.EventExtendedProperties{Private: target.ExtendedProperties.Private}
	if existing.ExtendedProperties != nil {
		props.Shared = existing.ExtendedProperties.Shared
	}
	next.ExtendedProperties = props
	return &next
}

func sameTime(a, b *calendar.EventDateTime) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Date != "" || b.Date != "" {
		return a.Date == b.Date
	}
	ta, errA := time.Parse(time.RFC3339, a.DateTime)
	tb, errB := time.Parse(time.RFC3339, b.DateTime)
	if errA != nil || errB != nil {
		return a.DateTime == b.DateTime
	}
	return ta.Equal(tb)
}
