// Package gcal keeps tasks as events in a Google Calendar. Each event carries
// the task's fields as private extended properties, so a fetched event is a
// raw record like any other backend row.
package gcal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"

	"github.com/harrisonrobin/duet/pkg/model"
	"github.com/harrisonrobin/duet/pkg/normalize"
)

var ErrNotFound = errors.New("no calendar event for task")

// Client is a task backend over one calendar.
type Client struct {
	srv        *calendar.Service
	calendarID string
	cache      *EventCache
	colors     *ColorCache
}

// NewClient wraps a calendar service. cache and colors may be nil; without
// colors events keep the calendar's default color.
func NewClient(srv *calendar.Service, calendarID string, cache *EventCache, colors *ColorCache) *Client {
	return &Client{srv: srv, calendarID: calendarID, cache: cache, colors: colors}
}

// Connect resolves a calendar by its display name.
func Connect(ctx context.Context, srv *calendar.Service, calendarName string, cache *EventCache, colors *ColorCache) (*Client, error) {
	var calendarID string
	err := srv.CalendarList.List().Pages(ctx, func(list *calendar.CalendarList) error {
		for _, item := range list.Items {
			if item.Summary == calendarName {
				calendarID = item.Id
				return errStop
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, fmt.Errorf("unable to retrieve calendar list: %w", err)
	}
	if calendarID == "" {
		return nil, fmt.Errorf("calendar '%s' not found", calendarName)
	}
	return NewClient(srv, calendarID, cache, colors), nil
}

var errStop = errors.New("stop paging")

// Close persists the caches.
func (c *Client) Close() error {
	var errs []error
	if c.cache != nil {
		errs = append(errs, c.cache.Save())
	}
	if c.colors != nil {
		errs = append(errs, c.colors.Save())
	}
	return errors.Join(errs...)
}

// Fetch lists the single events starting within [from, to] and returns them
// as raw records.
func (c *Client) Fetch(ctx context.Context, from, to string) ([]normalize.Record, error) {
	start, err := time.ParseInLocation(dateLayout, from, time.Local)
	if err != nil {
		return nil, fmt.Errorf("invalid window start %q: %w", from, err)
	}
	end, err := time.ParseInLocation(dateLayout, to, time.Local)
	if err != nil {
		return nil, fmt.Errorf("invalid window end %q: %w", to, err)
	}

	var records []normalize.Record
	call := c.srv.Events.List(c.calendarID).
		SingleEvents(true).
		TimeMin(start.Format(time.RFC3339)).
		TimeMax(end.AddDate(0, 0, 1).Format(time.RFC3339))
	err = call.Pages(ctx, func(events *calendar.Events) error {
		for _, ev := range events.Items {
			if ev.Status == "cancelled" {
				continue
			}
			if c.cache != nil && ev.ExtendedProperties != nil {
				if id := ev.ExtendedProperties.Private[taskIDProperty]; id != "" {
					c.cache.Set(id, ev.Id)
				}
			}
			records = append(records, eventRecord(ev))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve events from calendar: %w", err)
	}
	return records, nil
}

// Push creates the event for a task or rewrites the existing one when any
// field differs.
func (c *Client) Push(ctx context.Context, task model.Task) (*calendar.Event, error) {
	event, err := c.event(task)
	if err != nil {
		return nil, err
	}

	existing, err := c.lookup(ctx, task.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("error searching for event: %w", err)
	}
	if existing != nil {
		if eventPatch(existing, event) == nil {
			return existing, nil
		}
		return c.update(ctx, task.ID, existing, event)
	}

	created, err := c.srv.Events.Insert(c.calendarID, event).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to create event for task %s: %w", task.ID, err)
	}
	c.remember(task.ID, created.Id)
	return created, nil
}

func (c *Client) ToggleCompletion(ctx context.Context, id string) error {
	return c.rewrite(ctx, id, func(t model.Task) model.Task {
		return t.WithCompleted(!t.IsCompleted)
	})
}

func (c *Client) ReplaceSteps(ctx context.Context, id string, steps []model.Step) error {
	return c.rewrite(ctx, id, func(t model.Task) model.Task {
		return t.WithSteps(steps)
	})
}

func (c *Client) Delete(ctx context.Context, id string) error {
	existing, err := c.lookup(ctx, id)
	if err != nil {
		return err
	}
	if err := c.srv.Events.Delete(c.calendarID, existing.Id).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to delete event for task %s: %w", id, err)
	}
	if c.cache != nil {
		c.cache.Remove(id)
	}
	return nil
}

// rewrite reads the task back from its event, applies change and writes it
// when anything differs.
func (c *Client) rewrite(ctx context.Context, id string, change func(model.Task) model.Task) error {
	existing, err := c.lookup(ctx, id)
	if err != nil {
		return err
	}
	task, ok := normalize.Normalize(eventRecord(existing))
	if !ok {
		return fmt.Errorf("event %s has no usable date", existing.Id)
	}
	target, err := c.event(change(task))
	if err != nil {
		return err
	}
	if eventPatch(existing, target) == nil {
		return nil
	}
	_, err = c.update(ctx, task.ID, existing, target)
	return err
}

func (c *Client) event(t model.Task) (*calendar.Event, error) {
	ev, err := taskEvent(t)
	if err != nil {
		return nil, err
	}
	if c.colors != nil {
		ev.ColorId = c.colors.ColorID(t.AssignedTo)
	}
	return ev, nil
}

// update sends the whole merged event. Events.Patch merges nested objects,
// so it could never clear a start time or drop a private property.
func (c *Client) update(ctx context.Context, taskID string, existing, target *calendar.Event) (*calendar.Event, error) {
	updated, err := c.srv.Events.Update(c.calendarID, existing.Id, mergedEvent(existing, target)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to update event for task %s: %w", taskID, err)
	}
	c.remember(taskID, updated.Id)
	return updated, nil
}

// lookup finds the event for a task id: cache first, then a property
// search, then the id taken as an event id for events made elsewhere.
func (c *Client) lookup(ctx context.Context, taskID string) (*calendar.Event, error) {
	if c.cache != nil {
		if eventID := c.cache.Get(taskID); eventID != "" {
			ev, err := c.srv.Events.Get(c.calendarID, eventID).Context(ctx).Do()
			if err == nil && ev.Status != "cancelled" {
				return ev, nil
			}
			log.Printf("Warning: cached event %s for task %s is gone, searching", eventID, taskID)
			c.cache.Remove(taskID)
		}
	}

	events, err := c.srv.Events.List(c.calendarID).
		PrivateExtendedProperty(fmt.Sprintf("%s=%s", taskIDProperty, taskID)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}
	if len(events.Items) > 0 {
		c.remember(taskID, events.Items[0].Id)
		return events.Items[0], nil
	}

	ev, err := c.srv.Events.Get(c.calendarID, taskID).Context(ctx).Do()
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
		}
		return nil, err
	}
	if ev.Status == "cancelled" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	return ev, nil
}

func (c *Client) remember(taskID, eventID string) {
	if c.cache != nil && taskID != "" {
		c.cache.Set(taskID, eventID)
	}
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && (gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone)
}
