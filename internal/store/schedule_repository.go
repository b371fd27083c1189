package store

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"lmscal/internal/model"
)

// ScheduleRepository loads planned lesson slots generated by the course
// schedule subsystem.
type ScheduleRepository interface {
	InWindow(groupIDs []model.GroupID, windowStart, windowEnd time.Time) ([]model.ScheduledLessonEvent, error)
	ByID(id int64) (*model.ScheduledLessonEvent, error)
}

type scheduleRepository struct {
	db              *gorm.DB
	defaultDuration time.Duration
}

// NewScheduleRepository builds a ScheduleRepository. defaultDuration is
// applied to slots that carry no explicit duration.
func NewScheduleRepository(db *gorm.DB, defaultDuration time.Duration) ScheduleRepository {
	if defaultDuration <= 0 {
		defaultDuration = 90 * time.Minute
	}
	return &scheduleRepository{db: db, defaultDuration: defaultDuration}
}

func (r *scheduleRepository) InWindow(groupIDs []model.GroupID, windowStart, windowEnd time.Time) ([]model.ScheduledLessonEvent, error) {
	q := r.db.Model(&LessonSchedule{}).
		Where("scheduled_at >= ? AND scheduled_at <= ?", windowStart, windowEnd)
	if len(groupIDs) > 0 {
		q = q.Where("group_id IN ?", groupIDs)
	}

	var rows []LessonSchedule
	if err := q.Preload("Group").Order("scheduled_at").Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]model.ScheduledLessonEvent, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toScheduled(r.defaultDuration))
	}
	return out, nil
}

func (r *scheduleRepository) ByID(id int64) (*model.ScheduledLessonEvent, error) {
	var row LessonSchedule
	err := r.db.Preload("Group").First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s := row.toScheduled(r.defaultDuration)
	return &s, nil
}
