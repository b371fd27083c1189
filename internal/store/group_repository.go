package store

import (
	"gorm.io/gorm"

	"lmscal/internal/model"
)

// GroupRepository resolves group metadata. GroupNames satisfies the
// deduplicator's GroupLookup collaborator.
type GroupRepository interface {
	Create(g *Group) error
	GroupNames(ids []model.GroupID) (map[model.GroupID]string, error)
	AllIDs() ([]model.GroupID, error)
}

type groupRepository struct{ db *gorm.DB }

func NewGroupRepository(db *gorm.DB) GroupRepository { return &groupRepository{db: db} }

func (r *groupRepository) Create(g *Group) error {
	return r.db.Create(g).Error
}

func (r *groupRepository) GroupNames(ids []model.GroupID) (map[model.GroupID]string, error) {
	if len(ids) == 0 {
		return map[model.GroupID]string{}, nil
	}

	var rows []Group
	if err := r.db.Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make(map[model.GroupID]string, len(rows))
	for _, g := range rows {
		out[model.GroupID(g.ID)] = g.Name
	}
	return out, nil
}

func (r *groupRepository) AllIDs() ([]model.GroupID, error) {
	var ids []int64
	if err := r.db.Model(&Group{}).Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	out := make([]model.GroupID, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.GroupID(id))
	}
	return out, nil
}
