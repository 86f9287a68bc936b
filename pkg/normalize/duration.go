package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var isoDurationPart = regexp.MustCompile(`(\d+)([DHMS])`)

// ParseDuration parses the ISO 8601 durations Taskwarrior-style exports use
// (PT1H30M, PT45M, P1DT2H). Only day and clock designators are supported.
func ParseDuration(s string) (time.Duration, error) {
	if len(s) < 2 || s[0] != 'P' {
		return 0, fmt.Errorf("invalid ISO 8601 duration format: %s", s)
	}

	datePart, clockPart, hasClock := strings.Cut(s[1:], "T")
	if hasClock && clockPart == "" {
		return 0, fmt.Errorf("invalid ISO 8601 duration (empty time part): %s", s)
	}

	var total time.Duration
	for _, part := range []struct {
		text  string
		clock bool
	}{{datePart, false}, {clockPart, true}} {
		matched := 0
		for _, m := range isoDurationPart.FindAllStringSubmatch(part.text, -1) {
			matched += len(m[0])
			value, _ := strconv.Atoi(m[1])
			switch {
			case m[2] == "D" && !part.clock:
				total += time.Duration(value) * 24 * time.Hour
			case m[2] == "H" && part.clock:
				total += time.Duration(value) * time.Hour
			case m[2] == "M" && part.clock:
				total += time.Duration(value) * time.Minute
			case m[2] == "S" && part.clock:
				total += time.Duration(value) * time.Second
			default:
				return 0, fmt.Errorf("unsupported ISO 8601 designator %q in %s", m[2], s)
			}
		}
		if matched != len(part.text) {
			return 0, fmt.Errorf("invalid ISO 8601 duration: %s", s)
		}
	}

	if total == 0 {
		return 0, fmt.Errorf("invalid ISO 8601 duration: %s", s)
	}
	return total, nil
}

// FormatDuration writes minutes back in the form ParseDuration reads.
func FormatDuration(minutes int) string {
	h, m := minutes/60, minutes%60
	switch {
	case h > 0 && m > 0:
		return fmt.Sprintf("PT%dH%dM", h, m)
	case h > 0:
		return fmt.Sprintf("PT%dH", h)
	default:
		return fmt.Sprintf("PT%dM", m)
	}
}
