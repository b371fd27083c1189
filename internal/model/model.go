package model

import (
	"sort"
	"time"
)

// GroupID identifies a study group.
type GroupID int64

// GroupSet is a membership filter over group ids. A nil GroupSet means
// "no restriction".
type GroupSet map[GroupID]struct{}

// NewGroupSet builds a GroupSet from the given ids. An empty argument list
// yields nil (unrestricted), which is what callers without a filter pass.
func NewGroupSet(ids ...GroupID) GroupSet {
	if len(ids) == 0 {
		return nil
	}
	s := make(GroupSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s GroupSet) Contains(id GroupID) bool {
	if s == nil {
		return true
	}
	_, ok := s[id]
	return ok
}

// EventSource identifies which subsystem produced a calendar entry.
type EventSource string

const (
	SourceEvent          EventSource = "event"
	SourceVirtual        EventSource = "virtual"
	SourceLessonSchedule EventSource = "lesson_schedule"
)

// Identity spaces. Persisted rows use ordinary auto-increment ids and stay
// below PersistedIDMax. Virtual entries live in two disjoint ranges above it,
// so a virtual id can never shadow a database row and the origin of an id is
// recoverable from the id alone.
const (
	// PersistedIDMax is the exclusive upper bound of the persisted id space.
	PersistedIDMax int64 = 1 << 31

	// scheduleVirtualBase offsets lesson-schedule ids into their own range.
	scheduleVirtualBase int64 = 1 << 40

	// recurringVirtualBase offsets recurring-instance ids. An instance id
	// packs (template id, start minute) so repeated expansions of the same
	// window always produce the same id.
	recurringVirtualBase int64 = 1 << 58

	virtualMinuteBits       = 26
	virtualMinuteMask int64 = (1 << virtualMinuteBits) - 1
)

// VirtualInstanceID derives the synthetic identity of one occurrence of a
// recurring template. It collides only for the same (template, start minute)
// pair; occurrences derive from a minute-level schedule, so minute precision
// loses nothing.
func VirtualInstanceID(templateID int64, start time.Time) int64 {
	minutes := start.Unix() / 60
	return recurringVirtualBase + templateID<<virtualMinuteBits + (minutes & virtualMinuteMask)
}

// SplitVirtualInstanceID reverses VirtualInstanceID. ok is false when id is
// not in the recurring-virtual range.
func SplitVirtualInstanceID(id int64) (templateID int64, start time.Time, ok bool) {
	if id < recurringVirtualBase {
		return 0, time.Time{}, false
	}
	v := id - recurringVirtualBase
	templateID = v >> virtualMinuteBits
	minutes := v & virtualMinuteMask
	return templateID, time.Unix(minutes*60, 0).UTC(), true
}

// ScheduleInstanceID derives the synthetic identity of a planned-lesson entry.
func ScheduleInstanceID(scheduleID int64) int64 {
	return scheduleVirtualBase + scheduleID
}

// SplitScheduleInstanceID reverses ScheduleInstanceID. ok is false when id is
// not in the schedule-virtual range.
func SplitScheduleInstanceID(id int64) (scheduleID int64, ok bool) {
	if id < scheduleVirtualBase || id >= recurringVirtualBase {
		return 0, false
	}
	return id - scheduleVirtualBase, true
}

// IsVirtualID reports whether id belongs to either virtual range.
func IsVirtualID(id int64) bool {
	return id >= scheduleVirtualBase
}

// EventTemplate is a persisted recurring-event definition. Occurrences are
// derived from it by the expander; the template itself never appears in a
// calendar response.
type EventTemplate struct {
	ID          int64
	Title       string
	Description string
	EventType   string
	Location    string
	IsOnline    bool
	MeetingURL  string
	CreatedBy   int64

	StartAt time.Time
	EndAt   time.Time

	// RecurrencePattern is one of "daily", "weekly", "biweekly", "monthly".
	RecurrencePattern string
	// RecurrenceEnd, when set, is the last calendar day on which an
	// occurrence may fall.
	RecurrenceEnd *time.Time

	MaxParticipants int

	// GroupIDs are the owning groups, loaded eagerly with the template.
	GroupIDs []GroupID

	Active bool
}

// VirtualEventInstance is one computed occurrence of an EventTemplate. It is
// never persisted and never outlives the response that includes it. GroupIDs
// is a first-class copy taken from the template at expansion time; it is the
// only group source for a virtual instance.
type VirtualEventInstance struct {
	ID         int64 // synthetic, recurring-virtual range
	TemplateID int64

	Title       string
	Description string
	EventType   string
	Location    string
	IsOnline    bool
	MeetingURL  string
	CreatedBy   int64

	Start time.Time
	End   time.Time

	GroupIDs []GroupID
}

func (v VirtualEventInstance) Identity() int64      { return v.ID }
func (v VirtualEventInstance) StartTime() time.Time { return v.Start }
func (v VirtualEventInstance) Virtual() bool        { return true }

func (v VirtualEventInstance) RelevantGroupIDs(filter GroupSet) []GroupID {
	return restrictGroups(v.GroupIDs, filter)
}

func (v VirtualEventInstance) Canonical() CanonicalEvent {
	return CanonicalEvent{
		ID:          v.ID,
		Title:       v.Title,
		Description: v.Description,
		EventType:   v.EventType,
		Location:    v.Location,
		IsOnline:    v.IsOnline,
		MeetingURL:  v.MeetingURL,
		Start:       v.Start,
		End:         v.End,
		Source:      SourceVirtual,
	}
}

// PersistedEvent is a concrete one-off event row, with its group associations
// loaded from the persistence layer.
type PersistedEvent struct {
	ID int64

	Title       string
	Description string
	EventType   string
	Location    string
	IsOnline    bool
	MeetingURL  string
	CreatedBy   int64

	Start time.Time
	End   time.Time

	MaxParticipants int

	GroupIDs []GroupID
}

func (e PersistedEvent) Identity() int64      { return e.ID }
func (e PersistedEvent) StartTime() time.Time { return e.Start }
func (e PersistedEvent) Virtual() bool        { return false }

func (e PersistedEvent) RelevantGroupIDs(filter GroupSet) []GroupID {
	return restrictGroups(e.GroupIDs, filter)
}

func (e PersistedEvent) Canonical() CanonicalEvent {
	return CanonicalEvent{
		ID:          e.ID,
		Title:       e.Title,
		Description: e.Description,
		EventType:   e.EventType,
		Location:    e.Location,
		IsOnline:    e.IsOnline,
		MeetingURL:  e.MeetingURL,
		Start:       e.Start,
		End:         e.End,
		Source:      SourceEvent,
	}
}

// ScheduledLessonEvent is a planned lesson slot generated from a course
// schedule. It competes with recurring templates for the same real-world
// session; the deduplicator treats it as concrete.
type ScheduledLessonEvent struct {
	ScheduleID  int64
	LessonTitle string
	GroupID     GroupID
	GroupName   string
	ScheduledAt time.Time
	Duration    time.Duration
}

func (s ScheduledLessonEvent) Identity() int64      { return ScheduleInstanceID(s.ScheduleID) }
func (s ScheduledLessonEvent) StartTime() time.Time { return s.ScheduledAt }
func (s ScheduledLessonEvent) Virtual() bool        { return false }

func (s ScheduledLessonEvent) RelevantGroupIDs(filter GroupSet) []GroupID {
	return restrictGroups([]GroupID{s.GroupID}, filter)
}

func (s ScheduledLessonEvent) Canonical() CanonicalEvent {
	title := s.LessonTitle
	if s.GroupName != "" {
		title = s.GroupName + ": " + s.LessonTitle
	}
	return CanonicalEvent{
		ID:          s.Identity(),
		Title:       title,
		Description: "Planned lesson: " + s.LessonTitle,
		EventType:   "class",
		IsOnline:    true,
		Start:       s.ScheduledAt,
		End:         s.ScheduledAt.Add(s.Duration),
		Source:      SourceLessonSchedule,
	}
}

// CalendarEntry is the closed set of event-like values the deduplicator
// accepts. All dispatch is through these methods; no variant is ever probed
// for optional attributes.
type CalendarEntry interface {
	Identity() int64
	StartTime() time.Time
	// RelevantGroupIDs returns the entry's group associations restricted to
	// filter, sorted ascending and deduplicated. A nil filter means no
	// restriction; an empty result means the entry is irrelevant to the
	// caller.
	RelevantGroupIDs(filter GroupSet) []GroupID
	Virtual() bool
	Canonical() CanonicalEvent
}

// CanonicalEvent is the deduplicated output unit. GroupIDs holds the
// relevant-group set; GroupNames is filled by the deduplicator from the group
// lookup collaborator and stays empty when the lookup is unavailable.
type CanonicalEvent struct {
	ID          int64       `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	EventType   string      `json:"event_type"`
	Location    string      `json:"location,omitempty"`
	IsOnline    bool        `json:"is_online"`
	MeetingURL  string      `json:"meeting_url,omitempty"`
	Start       time.Time   `json:"start"`
	End         time.Time   `json:"end"`
	Source      EventSource `json:"source"`
	GroupIDs    []GroupID   `json:"group_ids"`
	GroupNames  []string    `json:"groups"`
}

func restrictGroups(ids []GroupID, filter GroupSet) []GroupID {
	out := make([]GroupID, 0, len(ids))
	seen := make(map[GroupID]struct{}, len(ids))
	for _, id := range ids {
		if !filter.Contains(id) {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
