package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/harrisonrobin/duet/pkg/model"
)

const (
	dateLayout        = "2006-01-02"
	taskwarriorLayout = "20060102T150405Z"
	compactDateLayout = "20060102"
	clockLayout       = "15:04"
)

var clockLayouts = []string{"15:04", "15:04:05", "3:04PM", "3:04 PM", "3:04pm", "3:04 pm"}

func parseText(v any) (string, bool) {
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case []byte:
		s = string(x)
	case json.Number:
		s = x.String()
	case float64:
		s = strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		s = strconv.Itoa(x)
	case int64:
		s = strconv.FormatInt(x, 10)
	default:
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// parseDate accepts YYYY-MM-DD, timestamps whose first ten characters are a
// date, and Taskwarrior's compact form. The calendar label of an RFC 3339
// timestamp is taken as written. Taskwarrior's compact form is a UTC instant
// and is read in the local zone.
func parseDate(v any) (string, bool) {
	if t, ok := v.(time.Time); ok {
		if t.IsZero() {
			return "", false
		}
		return t.Format(dateLayout), true
	}
	s, ok := parseText(v)
	if !ok {
		return "", false
	}
	if len(s) >= len(dateLayout) && validDate(s[:len(dateLayout)]) {
		if len(s) == len(dateLayout) || s[len(dateLayout)] == 'T' || s[len(dateLayout)] == ' ' {
			return s[:len(dateLayout)], true
		}
	}
	if t, ok := parseTaskwarrior(s); ok {
		return t.Format(dateLayout), true
	}
	if len(s) == len(compactDateLayout) {
		if t, err := time.Parse(compactDateLayout, s); err == nil {
			return t.Format(dateLayout), true
		}
	}
	return "", false
}

// parseTaskwarrior reads a compact YYYYMMDDTHHMMSSZ timestamp as local time.
func parseTaskwarrior(s string) (time.Time, bool) {
	if len(s) != len(taskwarriorLayout) {
		return time.Time{}, false
	}
	t, err := time.Parse(taskwarriorLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t.In(time.Local), true
}

func validDate(s string) bool {
	_, err := time.Parse(dateLayout, s)
	return err == nil
}

// parseClock returns a time of day as HH:MM.
func parseClock(v any) (string, bool) {
	if t, ok := v.(time.Time); ok {
		return t.Format(clockLayout), !t.IsZero()
	}
	s, ok := parseText(v)
	if !ok {
		return "", false
	}
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(clockLayout), true
		}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Format(clockLayout), true
	}
	if t, ok := parseTaskwarrior(s); ok {
		return t.Format(clockLayout), true
	}
	return "", false
}

// parseStartClock reads the bare "start" key. In Taskwarrior records that key
// holds the instant work began, not a time of day, so the compact form is
// refused there.
func parseStartClock(v any) (string, bool) {
	if s, ok := parseText(v); ok {
		if _, tw := parseTaskwarrior(s); tw {
			return "", false
		}
	}
	return parseClock(v)
}

// parseMinutes accepts plain minute counts and ISO-8601 or Go duration text.
func parseMinutes(v any) (int, bool) {
	if n, ok := parseNumber(v); ok {
		return positiveMinutes(n)
	}
	s, ok := parseText(v)
	if !ok {
		return 0, false
	}
	if strings.HasPrefix(strings.ToUpper(s), "P") {
		d, err := ParseDuration(strings.ToUpper(s))
		if err != nil {
			return 0, false
		}
		return positiveMinutes(d.Minutes())
	}
	if d, err := time.ParseDuration(s); err == nil {
		return positiveMinutes(d.Minutes())
	}
	return 0, false
}

func positiveMinutes(n float64) (int, bool) {
	m := int(math.Floor(n))
	return m, m > 0
}

// parseNumber reads native numbers and numeric strings.
func parseNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, !math.IsNaN(x) && !math.IsInf(x, 0)
	case float32:
		return parseNumber(float64(x))
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string, []byte:
		s, _ := parseText(x)
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	}
	return 0, false
}

// parseBool understands flags and the status words that imply completion.
func parseBool(v any) (bool, bool) {
	if b, ok := v.(bool); ok {
		return b, true
	}
	if _, isText := v.(string); !isText {
		if n, ok := parseNumber(v); ok {
			return n != 0, true
		}
	}
	s, ok := parseText(v)
	if !ok {
		return false, false
	}
	switch strings.ToLower(s) {
	case "true", "yes", "y", "1", "completed", "complete", "done":
		return true, true
	case "false", "no", "n", "0", "pending", "waiting", "open", "todo":
		return false, true
	}
	return false, false
}

func parsePriority(v any) (model.Priority, bool) {
	if n, ok := parseNumber(v); ok {
		switch {
		case n == 1:
			return model.PriorityLow, true
		case n >= 3:
			return model.PriorityHigh, true
		case n == 0 || n == 2:
			return model.PriorityNormal, true
		}
		return "", false
	}
	s, ok := parseText(v)
	if !ok {
		return "", false
	}
	switch strings.ToLower(s) {
	case "low", "l":
		return model.PriorityLow, true
	case "normal", "medium", "med", "m", "none":
		return model.PriorityNormal, true
	case "high", "h", "urgent":
		return model.PriorityHigh, true
	}
	return "", false
}
