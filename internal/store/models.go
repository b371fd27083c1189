package store

import (
	"time"

	"lmscal/internal/model"
)

// Group is a study group row.
type Group struct {
	ID        int64  `gorm:"primaryKey"`
	Name      string `gorm:"not null"`
	TeacherID int64  `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Event is both a concrete one-off event and, when IsRecurring is set, a
// recurring-series template. Virtual instances derived from a template are
// never written back to this table.
type Event struct {
	ID          int64  `gorm:"primaryKey"`
	Title       string `gorm:"not null"`
	Description string
	EventType   string    `gorm:"not null"`
	StartAt     time.Time `gorm:"not null;index"`
	EndAt       time.Time `gorm:"not null"`
	Location    string
	IsOnline    bool `gorm:"default:true"`
	MeetingURL  string
	CreatedBy   int64 `gorm:"not null"`
	IsActive    bool  `gorm:"default:true;index"`

	IsRecurring       bool `gorm:"default:false;index"`
	RecurrencePattern string
	RecurrenceEndDate *time.Time

	MaxParticipants int

	CreatedAt time.Time
	UpdatedAt time.Time

	EventGroups []EventGroup `gorm:"foreignKey:EventID"`
}

// EventGroup links an event (or template) to an owning group.
type EventGroup struct {
	ID      int64 `gorm:"primaryKey"`
	EventID int64 `gorm:"not null;uniqueIndex:uq_event_group"`
	GroupID int64 `gorm:"not null;uniqueIndex:uq_event_group"`

	Group Group `gorm:"foreignKey:GroupID"`
}

// LessonSchedule is a planned lesson slot generated from a course schedule by
// a separate subsystem. It competes with recurring templates for the same
// real-world session.
type LessonSchedule struct {
	ID              int64 `gorm:"primaryKey"`
	GroupID         int64 `gorm:"not null;index"`
	LessonTitle     string
	ScheduledAt     time.Time `gorm:"not null;index"`
	DurationMinutes int

	Group Group `gorm:"foreignKey:GroupID"`
}

// EventParticipant is a registration of a user for a concrete event.
type EventParticipant struct {
	ID           int64  `gorm:"primaryKey"`
	EventID      int64  `gorm:"not null;uniqueIndex:uq_event_participant"`
	UserID       int64  `gorm:"not null;uniqueIndex:uq_event_participant"`
	Status       string `gorm:"default:'registered'"`
	RegisteredAt time.Time
}

func (e *Event) groupIDs() []model.GroupID {
	ids := make([]model.GroupID, 0, len(e.EventGroups))
	for _, eg := range e.EventGroups {
		ids = append(ids, model.GroupID(eg.GroupID))
	}
	return ids
}

func (e *Event) toTemplate() model.EventTemplate {
	return model.EventTemplate{
		ID:                e.ID,
		Title:             e.Title,
		Description:       e.Description,
		EventType:         e.EventType,
		Location:          e.Location,
		IsOnline:          e.IsOnline,
		MeetingURL:        e.MeetingURL,
		CreatedBy:         e.CreatedBy,
		StartAt:           e.StartAt,
		EndAt:             e.EndAt,
		RecurrencePattern: e.RecurrencePattern,
		RecurrenceEnd:     e.RecurrenceEndDate,
		MaxParticipants:   e.MaxParticipants,
		GroupIDs:          e.groupIDs(),
		Active:            e.IsActive,
	}
}

func (e *Event) toPersisted() model.PersistedEvent {
	return model.PersistedEvent{
		ID:              e.ID,
		Title:           e.Title,
		Description:     e.Description,
		EventType:       e.EventType,
		Location:        e.Location,
		IsOnline:        e.IsOnline,
		MeetingURL:      e.MeetingURL,
		CreatedBy:       e.CreatedBy,
		Start:           e.StartAt,
		End:             e.EndAt,
		MaxParticipants: e.MaxParticipants,
		GroupIDs:        e.groupIDs(),
	}
}

func (s *LessonSchedule) toScheduled(defaultDuration time.Duration) model.ScheduledLessonEvent {
	duration := time.Duration(s.DurationMinutes) * time.Minute
	if duration <= 0 {
		duration = defaultDuration
	}
	title := s.LessonTitle
	if title == "" {
		title = "Lesson"
	}
	return model.ScheduledLessonEvent{
		ScheduleID:  s.ID,
		LessonTitle: title,
		GroupID:     model.GroupID(s.GroupID),
		GroupName:   s.Group.Name,
		ScheduledAt: s.ScheduledAt,
		Duration:    duration,
	}
}
