package model

// Unscheduled is the StartTime of a task with no time of day.
const Unscheduled = ""

const (
	PlaceholderTitle = "Untitled task"
	PlaceholderEmoji = "📝"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

type Frequency string

const (
	FrequencyNone    Frequency = "none"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// Weekdays lists the weekday tokens in grid order, Sunday first.
var Weekdays = []string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

// Step is one checklist entry of a task.
type Step struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
}

type Recurrence struct {
	Frequency  Frequency `json:"frequency"`
	Interval   int       `json:"interval"`
	DaysOfWeek []string  `json:"daysOfWeek"`
}

// NoRecurrence is the recurrence of a one-off task.
func NoRecurrence() Recurrence {
	return Recurrence{Frequency: FrequencyNone, Interval: 1, DaysOfWeek: []string{}}
}

// Task is the canonical task shape. Every source is normalized into it before
// indexing, so nothing past the normalizer sees source-specific field names.
type Task struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Emoji           string     `json:"emoji"`
	DateISO         string     `json:"dateISO"`
	StartTime       string     `json:"startTime"`
	DurationMinutes *int       `json:"durationMinutes"`
	IsCompleted     bool       `json:"isCompleted"`
	IsShared        bool       `json:"isShared"`
	Priority        Priority   `json:"priority"`
	Steps           []Step     `json:"steps"`
	Recurrence      Recurrence `json:"recurrence"`
	Alerts          []string   `json:"alerts"`
	AssignedTo      []string   `json:"assignedTo"`
}

// Scheduled reports whether the task has a time of day.
func (t Task) Scheduled() bool {
	return t.StartTime != Unscheduled
}

// SortKey orders tasks within a day. Unscheduled tasks sort after every valid HH:MM.
func (t Task) SortKey() string {
	if !t.Scheduled() {
		return "99:99"
	}
	return t.StartTime
}

// WithCompleted returns a copy of t with the completion flag set.
func (t Task) WithCompleted(done bool) Task {
	t.IsCompleted = done
	return t
}

// WithSteps returns a copy of t holding its own copy of steps.
func (t Task) WithSteps(steps []Step) Task {
	t.Steps = append([]Step{}, steps...)
	return t
}
