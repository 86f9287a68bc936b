package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/harrisonrobin/duet/pkg/model"
)

// decodeTree turns JSON text into a decoded tree and passes native values
// through. Text that is not JSON yields ok=false.
func decodeTree(v any) (any, bool) {
	var text string
	switch x := v.(type) {
	case string:
		text = x
	case []byte:
		text = string(x)
	default:
		return v, true
	}
	var out any
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &out); err != nil {
		return nil, false
	}
	return out, true
}

func looksLikeJSON(v any) bool {
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case []byte:
		s = string(x)
	default:
		return false
	}
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "[") || strings.HasPrefix(s, "{") || strings.HasPrefix(s, `"`)
}

// asList views a decoded value as a list of elements.
func asList(v any) ([]any, bool) {
	switch x := v.(type) {
	case []any:
		return x, true
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(x))
		for i, m := range x {
			out[i] = m
		}
		return out, true
	}
	return nil, false
}

func asMap(v any) (map[string]any, bool) {
	switch x := v.(type) {
	case map[string]any:
		return x, true
	case Record:
		return x, true
	}
	return nil, false
}

// stepsParser closes over the task id so steps without an id get a stable one.
func stepsParser(taskID string) func(any) ([]model.Step, bool) {
	return func(v any) ([]model.Step, bool) {
		tree, ok := decodeTree(v)
		if !ok {
			return nil, false
		}
		items, ok := asList(tree)
		if !ok {
			return nil, false
		}
		steps := make([]model.Step, 0, len(items))
		for _, item := range items {
			var s model.Step
			switch x := item.(type) {
			case string:
				s.Title = strings.TrimSpace(x)
			default:
				m, ok := asMap(x)
				if !ok {
					continue
				}
				r := Record(m)
				s.ID, _ = first(r, []string{"id", "_id", "stepId"}, parseText)
				s.Title, _ = first(r, []string{"title", "text", "name"}, parseText)
				s.Completed, _ = first(r, []string{"completed", "done", "isCompleted", "checked"}, parseBool)
			}
			if s.Title == "" {
				continue
			}
			if s.ID == "" {
				s.ID = fmt.Sprintf("%s-step-%d", taskID, len(steps)+1)
			}
			steps = append(steps, s)
		}
		return steps, true
	}
}

func parseRecurrence(v any) (model.Recurrence, bool) {
	if !looksLikeJSON(v) {
		if s, ok := v.(string); ok {
			freq, ok := parseFrequency(s)
			if !ok {
				return model.Recurrence{}, false
			}
			return canonicalRecurrence(freq, 1, nil), true
		}
	}
	tree, ok := decodeTree(v)
	if !ok {
		return model.Recurrence{}, false
	}
	if s, ok := tree.(string); ok {
		return parseRecurrence(s)
	}
	m, ok := asMap(tree)
	if !ok {
		return model.Recurrence{}, false
	}
	r := Record(m)
	freq, _ := first(r, []string{"frequency", "freq", "type"}, func(v any) (model.Frequency, bool) {
		s, ok := parseText(v)
		if !ok {
			return "", false
		}
		return parseFrequency(s)
	})
	interval, _ := first(r, []string{"interval", "every"}, parseNumber)
	days, _ := first(r, []string{"daysOfWeek", "days_of_week", "days", "byDay"}, parseWeekdays)
	return canonicalRecurrence(freq, recurrenceInterval(interval), days), true
}

// recurrenceInterval keeps whole numbers of at least 1, capped so the value
// always fits an int. Anything else means every period.
func recurrenceInterval(n float64) int {
	if n < 1 || n != math.Trunc(n) {
		return 1
	}
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(n)
}

func canonicalRecurrence(freq model.Frequency, interval int, days []string) model.Recurrence {
	if freq == "" || freq == model.FrequencyNone {
		return model.NoRecurrence()
	}
	if days == nil {
		days = []string{}
	}
	return model.Recurrence{Frequency: freq, Interval: interval, DaysOfWeek: days}
}

func parseFrequency(s string) (model.Frequency, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "never", "once":
		return model.FrequencyNone, true
	case "daily", "day", "days":
		return model.FrequencyDaily, true
	case "weekly", "week", "weeks":
		return model.FrequencyWeekly, true
	case "monthly", "month", "months":
		return model.FrequencyMonthly, true
	}
	return "", false
}

// parseWeekdays returns a deduplicated weekday set in Sunday-first order.
func parseWeekdays(v any) ([]string, bool) {
	items, ok := tokenList(v)
	if !ok {
		return nil, false
	}
	seen := make(map[int]bool)
	for _, item := range items {
		if i, ok := weekdayIndex(item); ok {
			seen[i] = true
		}
	}
	days := make([]string, 0, len(seen))
	for i, tok := range model.Weekdays {
		if seen[i] {
			days = append(days, tok)
		}
	}
	return days, true
}

func weekdayIndex(v any) (int, bool) {
	if _, isText := v.(string); !isText {
		if n, ok := parseNumber(v); ok {
			i := int(n)
			return i, float64(i) == n && i >= 0 && i < 7
		}
	}
	s, ok := parseText(v)
	if !ok || len(s) < 2 {
		return 0, false
	}
	prefix := strings.ToLower(s[:2])
	for i, tok := range model.Weekdays {
		if strings.HasPrefix(tok, prefix) {
			return i, true
		}
	}
	return 0, false
}

// parseAlerts returns the alert-offset set, lower-cased and sorted.
func parseAlerts(v any) ([]string, bool) {
	items, ok := tokenList(v)
	if !ok {
		return nil, false
	}
	seen := make(map[string]bool)
	alerts := make([]string, 0, len(items))
	for _, item := range items {
		var tok string
		if _, isText := item.(string); !isText {
			if n, ok := parseNumber(item); ok {
				tok = fmt.Sprintf("%dm", int(n))
			}
		}
		if tok == "" {
			tok, _ = parseText(item)
			tok = strings.ToLower(tok)
		}
		if tok == "" || seen[tok] {
			continue
		}
		seen[tok] = true
		alerts = append(alerts, tok)
	}
	sort.Strings(alerts)
	return alerts, true
}

// parseAssignees keeps assignees in source order without duplicates.
func parseAssignees(v any) ([]string, bool) {
	items, ok := tokenList(v)
	if !ok {
		return nil, false
	}
	seen := make(map[string]bool)
	out := make([]string, 0, len(items))
	for _, item := range items {
		var who string
		if m, ok := asMap(item); ok {
			who, _ = first(Record(m), []string{"id", "userId", "name", "email"}, parseText)
		} else {
			who, _ = parseText(item)
		}
		if who == "" || seen[who] {
			continue
		}
		seen[who] = true
		out = append(out, who)
	}
	return out, true
}

// tokenList reads a list that may be native, JSON text, or a plain
// comma-separated string. Malformed JSON text is rejected.
func tokenList(v any) ([]any, bool) {
	if s, ok := v.(string); ok && !looksLikeJSON(s) {
		var items []any
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				items = append(items, p)
			}
		}
		return items, true
	}
	tree, ok := decodeTree(v)
	if !ok {
		return nil, false
	}
	if s, ok := tree.(string); ok {
		return tokenList(s)
	}
	return asList(tree)
}
