// Package service wires the persistence collaborator to the pure core: it
// loads window-scoped snapshots, runs expansion and deduplication, and
// materializes virtual entries into real rows when a caller needs one.
package service

import (
	"errors"
	"fmt"
	"time"

	"lmscal/internal/dedup"
	"lmscal/internal/expand"
	appLog "lmscal/internal/log"
	"lmscal/internal/model"
	"lmscal/internal/store"
)

var (
	ErrAlreadyRegistered = errors.New("service: already registered for event")
	ErrEventFull         = errors.New("service: event is full")
)

// Config tunes the calendar pipeline.
type Config struct {
	SlotGranularity           time.Duration
	MaxOccurrencesPerTemplate int
}

// Calendar is the read-side pipeline plus materialization. It holds no
// mutable state; every query receives its own window-scoped snapshot.
type Calendar struct {
	events    store.EventRepository
	schedules store.ScheduleRepository
	groups    store.GroupRepository
	cfg       Config
}

func NewCalendar(events store.EventRepository, schedules store.ScheduleRepository, groups store.GroupRepository, cfg Config) *Calendar {
	if cfg.SlotGranularity <= 0 {
		cfg.SlotGranularity = time.Minute
	}
	return &Calendar{events: events, schedules: schedules, groups: groups, cfg: cfg}
}

// WindowResult is one deduplicated calendar view.
type WindowResult struct {
	Events      []model.CanonicalEvent
	Diagnostics []dedup.Diagnostic
	// SkippedTemplates lists recurring series whose pattern could not be
	// expanded; the rest of the window is unaffected.
	SkippedTemplates []int64
	WindowStart      time.Time
	WindowEnd        time.Time
}

// Window runs the full pipeline for [start, end] scoped to groupIDs. An empty
// groupIDs means unrestricted scope (the caller has already authorized that).
func (c *Calendar) Window(groupIDs []model.GroupID, start, end time.Time) (WindowResult, error) {
	res := WindowResult{WindowStart: start, WindowEnd: end}

	templates, err := c.events.ActiveTemplates(groupIDs, start, end)
	if err != nil {
		return res, fmt.Errorf("load templates: %w", err)
	}
	oneOff, err := c.events.ActiveOneOff(groupIDs, start, end)
	if err != nil {
		return res, fmt.Errorf("load events: %w", err)
	}
	lessons, err := c.schedules.InWindow(groupIDs, start, end)
	if err != nil {
		return res, fmt.Errorf("load lesson schedules: %w", err)
	}

	expanded, err := expand.Expand(templates, expand.Config{
		WindowStart:               start,
		WindowEnd:                 end,
		MaxOccurrencesPerTemplate: c.cfg.MaxOccurrencesPerTemplate,
	})
	if err != nil {
		return res, err
	}
	res.SkippedTemplates = expanded.SkippedTemplates

	entries := make([]model.CalendarEntry, 0, len(expanded.Instances)+len(oneOff)+len(lessons))
	for _, inst := range expanded.Instances {
		entries = append(entries, inst)
	}
	for _, ev := range oneOff {
		entries = append(entries, ev)
	}
	for _, l := range lessons {
		entries = append(entries, l)
	}

	res.Events, res.Diagnostics = dedup.Deduplicate(entries, dedup.Options{
		GroupFilter:     groupIDs,
		SlotGranularity: c.cfg.SlotGranularity,
		Groups:          c.groups,
	})

	return res, nil
}

// Month computes calendar-month bounds in loc and delegates to Window.
func (c *Calendar) Month(groupIDs []model.GroupID, year int, month time.Month, loc *time.Location) (WindowResult, error) {
	if loc == nil {
		loc = time.UTC
	}
	start := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	end := start.AddDate(0, 1, 0).Add(-time.Second)
	return c.Window(groupIDs, start, end)
}

// Upcoming returns at most limit events starting within daysAhead of now.
func (c *Calendar) Upcoming(groupIDs []model.GroupID, now time.Time, daysAhead, limit int) (WindowResult, error) {
	if daysAhead <= 0 {
		daysAhead = 7
	}
	res, err := c.Window(groupIDs, now, now.AddDate(0, 0, daysAhead))
	if err != nil {
		return res, err
	}
	if limit > 0 && len(res.Events) > limit {
		res.Events = res.Events[:limit]
	}
	return res, nil
}

// Resolve returns the persisted event behind id, materializing it first when
// id is virtual. A persisted id is returned as-is.
func (c *Calendar) Resolve(id, userID int64) (*model.PersistedEvent, error) {
	if !model.IsVirtualID(id) {
		return c.events.EventByID(id)
	}
	return c.Materialize(id, userID)
}

// Materialize turns a virtual id into a real event row. Recurring-instance
// ids are verified against a fresh expansion of their template before
// anything is written; schedule ids materialize the planned lesson.
func (c *Calendar) Materialize(virtualID, userID int64) (*model.PersistedEvent, error) {
	if scheduleID, ok := model.SplitScheduleInstanceID(virtualID); ok {
		return c.materializeLessonSchedule(scheduleID, userID)
	}
	if templateID, start, ok := model.SplitVirtualInstanceID(virtualID); ok {
		return c.materializeRecurringInstance(templateID, start, virtualID, userID)
	}
	return nil, fmt.Errorf("materialize: id %d is not in a virtual range", virtualID)
}

func (c *Calendar) materializeRecurringInstance(templateID int64, start time.Time, virtualID, userID int64) (*model.PersistedEvent, error) {
	tmpl, err := c.events.TemplateByID(templateID)
	if err != nil {
		return nil, err
	}

	// Re-expand a tight window around the decoded start and require the
	// exact instance to exist; a forged or stale id must not create rows.
	expanded, err := expand.Expand([]model.EventTemplate{*tmpl}, expand.Config{
		WindowStart: start.Add(-time.Minute),
		WindowEnd:   start.Add(time.Minute),
	})
	if err != nil {
		return nil, err
	}
	var found *model.VirtualEventInstance
	for i := range expanded.Instances {
		if expanded.Instances[i].ID == virtualID {
			found = &expanded.Instances[i]
			break
		}
	}
	if found == nil {
		return nil, store.ErrNotFound
	}

	ev := model.PersistedEvent{
		Title:           tmpl.Title,
		Description:     tmpl.Description,
		EventType:       tmpl.EventType,
		Location:        tmpl.Location,
		IsOnline:        tmpl.IsOnline,
		MeetingURL:      tmpl.MeetingURL,
		CreatedBy:       userID,
		Start:           found.Start,
		End:             found.End,
		MaxParticipants: tmpl.MaxParticipants,
		GroupIDs:        found.GroupIDs,
	}
	if err := c.events.CreateMaterialized(&ev); err != nil {
		return nil, err
	}

	appLog.Info("materialized recurring instance",
		"template_id", templateID,
		"event_id", ev.ID,
		"start", found.Start.Format(time.RFC3339),
	)
	return &ev, nil
}

func (c *Calendar) materializeLessonSchedule(scheduleID, userID int64) (*model.PersistedEvent, error) {
	sched, err := c.schedules.ByID(scheduleID)
	if err != nil {
		return nil, err
	}

	canonical := sched.Canonical()
	ev := model.PersistedEvent{
		Title:       canonical.Title,
		Description: canonical.Description,
		EventType:   canonical.EventType,
		IsOnline:    true,
		CreatedBy:   userID,
		Start:       sched.ScheduledAt,
		End:         sched.ScheduledAt.Add(sched.Duration),
		GroupIDs:    []model.GroupID{sched.GroupID},
	}
	if err := c.events.CreateMaterialized(&ev); err != nil {
		return nil, err
	}

	appLog.Info("materialized lesson schedule",
		"schedule_id", scheduleID,
		"event_id", ev.ID,
	)
	return &ev, nil
}

// Register records userID as a participant of the event behind id,
// materializing a virtual id first. Capacity and duplicate registrations are
// enforced here.
func (c *Calendar) Register(id, userID int64) (*model.PersistedEvent, error) {
	ev, err := c.Resolve(id, userID)
	if err != nil {
		return nil, err
	}

	already, err := c.events.HasParticipant(ev.ID, userID)
	if err != nil {
		return nil, err
	}
	if already {
		return nil, ErrAlreadyRegistered
	}

	if ev.MaxParticipants > 0 {
		n, err := c.events.CountParticipants(ev.ID)
		if err != nil {
			return nil, err
		}
		if n >= int64(ev.MaxParticipants) {
			return nil, ErrEventFull
		}
	}

	if err := c.events.AddParticipant(ev.ID, userID); err != nil {
		return nil, err
	}
	return ev, nil
}

// Unregister removes userID's registration for a persisted event.
func (c *Calendar) Unregister(eventID, userID int64) error {
	return c.events.RemoveParticipant(eventID, userID)
}

// CreateTemplate persists a new recurring-series definition.
func (c *Calendar) CreateTemplate(t *model.EventTemplate) error {
	if err := c.events.CreateTemplate(t); err != nil {
		return err
	}
	appLog.Info("recurring template created",
		"template_id", t.ID,
		"pattern", t.RecurrencePattern,
		"groups", len(t.GroupIDs),
	)
	return nil
}

// DeactivateTemplate stops a series from producing further occurrences.
// Already materialized occurrences are untouched.
func (c *Calendar) DeactivateTemplate(id int64) error {
	return c.events.DeactivateTemplate(id)
}
