package importer

import (
	"bufio"
	"io"
	"regexp"
	"strings"

	"github.com/harrisonrobin/duet/pkg/normalize"
)

var (
	orgHeading  = regexp.MustCompile(`^\*+\s+(TODO|DONE)\s+(?:\[#([A-C])\]\s*)?(.*?)(?:\s+(:[\w@:]+:))?\s*$`)
	orgPlanning = regexp.MustCompile(`(SCHEDULED|DEADLINE):\s*<(\d{4}-\d{2}-\d{2})(?:\s+[A-Za-z]{2,3})?(?:\s+(\d{1,2}:\d{2}))?[^>]*>`)
	orgProperty = regexp.MustCompile(`^:([A-Za-z_]+):\s*(.*)$`)
)

// ParseOrg reads TODO and DONE headings from an Org-mode outline. A heading's
// SCHEDULED timestamp dates it, falling back to DEADLINE; the :ID: property
// becomes its id and the priority cookie maps A/B/C to high/normal/low.
func ParseOrg(r io.Reader) (Batch, error) {
	var b Batch
	var current normalize.Record
	var deadline, deadlineTime string
	flush := func() {
		if current == nil {
			return
		}
		if _, ok := current["scheduled"]; !ok && deadline != "" {
			current["due"] = deadline
			if deadlineTime != "" {
				current["time"] = deadlineTime
			}
		}
		b.Records = append(b.Records, current)
		current, deadline, deadlineTime = nil, "", ""
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "*") {
			flush()
			m := orgHeading.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			current = normalize.Record{
				"title":  m[3],
				"status": orgStatus(m[1]),
			}
			if m[2] != "" {
				current["priority"] = orgPriority(m[2])
			}
			continue
		}
		if current == nil {
			continue
		}
		for _, m := range orgPlanning.FindAllStringSubmatch(line, -1) {
			if m[1] == "SCHEDULED" {
				current["scheduled"] = m[2]
				if m[3] != "" {
					current["time"] = m[3]
				}
			} else {
				deadline, deadlineTime = m[2], m[3]
			}
		}
		if m := orgProperty.FindStringSubmatch(line); m != nil && strings.EqualFold(m[1], "ID") && m[2] != "" {
			current["id"] = m[2]
		}
	}
	if err := scanner.Err(); err != nil {
		return Batch{}, err
	}
	flush()
	return b, nil
}

func orgStatus(keyword string) string {
	if keyword == "DONE" {
		return "completed"
	}
	return "pending"
}

func orgPriority(cookie string) string {
	switch cookie {
	case "A":
		return "high"
	case "C":
		return "low"
	}
	return "normal"
}
