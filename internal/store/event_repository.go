package store

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"lmscal/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// EventRepository loads templates and one-off events and persists
// materialized instances and registrations.
type EventRepository interface {
	// ActiveTemplates returns active recurring templates whose series may
	// intersect the window, with group associations loaded eagerly.
	ActiveTemplates(groupIDs []model.GroupID, windowStart, windowEnd time.Time) ([]model.EventTemplate, error)

	// ActiveOneOff returns active non-recurring events starting inside the
	// window, with group associations loaded eagerly.
	ActiveOneOff(groupIDs []model.GroupID, windowStart, windowEnd time.Time) ([]model.PersistedEvent, error)

	TemplateByID(id int64) (*model.EventTemplate, error)
	EventByID(id int64) (*model.PersistedEvent, error)

	// CreateTemplate persists a recurring-series definition.
	CreateTemplate(t *model.EventTemplate) error

	// CreateMaterialized persists a concrete one-off event (typically a
	// materialized virtual instance) together with its group links.
	CreateMaterialized(ev *model.PersistedEvent) error

	// DeactivateTemplate soft-cancels a series; templates are never hard
	// deleted.
	DeactivateTemplate(id int64) error

	CountParticipants(eventID int64) (int64, error)
	HasParticipant(eventID, userID int64) (bool, error)
	AddParticipant(eventID, userID int64) error
	RemoveParticipant(eventID, userID int64) error
}

type eventRepository struct{ db *gorm.DB }

func NewEventRepository(db *gorm.DB) EventRepository { return &eventRepository{db: db} }

func (r *eventRepository) ActiveTemplates(groupIDs []model.GroupID, windowStart, windowEnd time.Time) ([]model.EventTemplate, error) {
	q := r.db.Model(&Event{}).
		Joins("JOIN event_groups ON event_groups.event_id = events.id").
		Where("events.is_active = ?", true).
		Where("events.is_recurring = ?", true).
		Where("events.start_at <= ?", windowEnd).
		Where("events.recurrence_end_date IS NULL OR events.recurrence_end_date >= ?", windowStart)

	if len(groupIDs) > 0 {
		q = q.Where("event_groups.group_id IN ?", groupIDs)
	}

	var rows []Event
	if err := q.Distinct("events.*").Preload("EventGroups").Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]model.EventTemplate, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toTemplate())
	}
	return out, nil
}

func (r *eventRepository) ActiveOneOff(groupIDs []model.GroupID, windowStart, windowEnd time.Time) ([]model.PersistedEvent, error) {
	q := r.db.Model(&Event{}).
		Joins("JOIN event_groups ON event_groups.event_id = events.id").
		Where("events.is_active = ?", true).
		Where("events.is_recurring = ?", false).
		Where("events.start_at >= ? AND events.start_at <= ?", windowStart, windowEnd)

	if len(groupIDs) > 0 {
		q = q.Where("event_groups.group_id IN ?", groupIDs)
	}

	var rows []Event
	if err := q.Distinct("events.*").Preload("EventGroups").Order("events.start_at").Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]model.PersistedEvent, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toPersisted())
	}
	return out, nil
}

func (r *eventRepository) TemplateByID(id int64) (*model.EventTemplate, error) {
	var row Event
	err := r.db.Preload("EventGroups").
		Where("id = ? AND is_recurring = ?", id, true).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t := row.toTemplate()
	return &t, nil
}

func (r *eventRepository) EventByID(id int64) (*model.PersistedEvent, error) {
	var row Event
	err := r.db.Preload("EventGroups").
		Where("id = ? AND is_active = ?", id, true).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ev := row.toPersisted()
	return &ev, nil
}

func (r *eventRepository) CreateTemplate(t *model.EventTemplate) error {
	row := Event{
		Title:             t.Title,
		Description:       t.Description,
		EventType:         t.EventType,
		StartAt:           t.StartAt,
		EndAt:             t.EndAt,
		Location:          t.Location,
		IsOnline:          t.IsOnline,
		MeetingURL:        t.MeetingURL,
		CreatedBy:         t.CreatedBy,
		IsActive:          true,
		IsRecurring:       true,
		RecurrencePattern: t.RecurrencePattern,
		RecurrenceEndDate: t.RecurrenceEnd,
		MaxParticipants:   t.MaxParticipants,
	}
	for _, g := range t.GroupIDs {
		row.EventGroups = append(row.EventGroups, EventGroup{GroupID: int64(g)})
	}

	if err := r.db.Create(&row).Error; err != nil {
		return err
	}
	t.ID = row.ID
	t.Active = true
	return nil
}

func (r *eventRepository) CreateMaterialized(ev *model.PersistedEvent) error {
	row := Event{
		Title:           ev.Title,
		Description:     ev.Description,
		EventType:       ev.EventType,
		StartAt:         ev.Start,
		EndAt:           ev.End,
		Location:        ev.Location,
		IsOnline:        ev.IsOnline,
		MeetingURL:      ev.MeetingURL,
		CreatedBy:       ev.CreatedBy,
		IsActive:        true,
		IsRecurring:     false,
		MaxParticipants: ev.MaxParticipants,
	}
	for _, g := range ev.GroupIDs {
		row.EventGroups = append(row.EventGroups, EventGroup{GroupID: int64(g)})
	}

	if err := r.db.Create(&row).Error; err != nil {
		return err
	}
	ev.ID = row.ID
	return nil
}

func (r *eventRepository) DeactivateTemplate(id int64) error {
	res := r.db.Model(&Event{}).
		Where("id = ? AND is_recurring = ?", id, true).
		Update("is_active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *eventRepository) CountParticipants(eventID int64) (int64, error) {
	var n int64
	err := r.db.Model(&EventParticipant{}).Where("event_id = ?", eventID).Count(&n).Error
	return n, err
}

func (r *eventRepository) HasParticipant(eventID, userID int64) (bool, error) {
	var n int64
	err := r.db.Model(&EventParticipant{}).
		Where("event_id = ? AND user_id = ?", eventID, userID).
		Count(&n).Error
	return n > 0, err
}

func (r *eventRepository) AddParticipant(eventID, userID int64) error {
	return r.db.Create(&EventParticipant{
		EventID:      eventID,
		UserID:       userID,
		Status:       "registered",
		RegisteredAt: time.Now().UTC(),
	}).Error
}

func (r *eventRepository) RemoveParticipant(eventID, userID int64) error {
	res := r.db.Where("event_id = ? AND user_id = ?", eventID, userID).
		Delete(&EventParticipant{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
