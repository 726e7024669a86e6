package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/apysky/broadcast-scheduler/internal/model"
	"github.com/apysky/broadcast-scheduler/pkg/pg"
)

var ErrNotFound = errors.New("schedule not found")

type ScheduleRepository struct {
	db *pg.DB
}

func NewScheduleRepository(db *pg.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

func (r *ScheduleRepository) Create(ctx context.Context, m *model.ScheduledMessage) (*model.ScheduledMessage, error) {
	entity := toScheduleEntity(m)
	if err := r.db.Write(ctx).Create(entity).Error; err != nil {
		return nil, errors.Wrap(err, "failed to create schedule")
	}
	return toScheduleModel(entity), nil
}

func (r *ScheduleRepository) Get(ctx context.Context, id string) (*model.ScheduledMessage, error) {
	entity := &ScheduleEntity{}
	err := r.db.Read(ctx).Where("id = ?", id).First(entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get schedule")
	}
	return toScheduleModel(entity), nil
}

// List returns a page of schedules matching the filter plus the total count
// before paging.
func (r *ScheduleRepository) List(ctx context.Context, filter model.ScheduleFilter) ([]*model.ScheduledMessage, int64, error) {
	query := r.db.Read(ctx).Model(&ScheduleEntity{})
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		query = query.Where("status IN (?)", statuses)
	}
	if filter.From != nil {
		query = query.Where("scheduled_at >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("scheduled_at < ?", *filter.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "failed to count schedules")
	}

	order := "scheduled_at ASC, created_at ASC"
	if filter.Desc {
		order = "scheduled_at DESC, created_at DESC"
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var entities []*ScheduleEntity
	err := query.Order(order).Limit(limit).Offset(filter.Offset).Find(&entities).Error
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list schedules")
	}
	return toScheduleModels(entities), total, nil
}

// ListDue returns pending schedules whose scheduled_at has passed, oldest
// first. Ties on scheduled_at break by created_at so submission order wins.
func (r *ScheduleRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.ScheduledMessage, error) {
	var entities []*ScheduleEntity
	err := r.db.Read(ctx).
		Where("status = ? AND scheduled_at <= ?", string(model.ScheduleStatusPending), now).
		Order("scheduled_at ASC, created_at ASC").
		Limit(limit).
		Find(&entities).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list due schedules")
	}
	return toScheduleModels(entities), nil
}

// Claim flips a schedule from pending to in_progress. The WHERE clause makes
// the transition conditional, so at most one of any number of concurrent
// claimers sees claimed=true; a schedule cancelled in between is not claimed.
func (r *ScheduleRepository) Claim(ctx context.Context, id string, now time.Time) (bool, error) {
	res := r.db.Write(ctx).Model(&ScheduleEntity{}).
		Where("id = ? AND status = ?", id, string(model.ScheduleStatusPending)).
		Updates(map[string]interface{}{
			"status":     string(model.ScheduleStatusInProgress),
			"updated_at": now,
		})
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "failed to claim schedule")
	}
	return res.RowsAffected == 1, nil
}

// SaveProgress persists per-recipient outcomes mid-dispatch without touching
// the status column.
func (r *ScheduleRepository) SaveProgress(ctx context.Context, id string, attempts map[string]int, results map[string]model.RecipientResult, now time.Time) error {
	err := r.db.Write(ctx).Model(&ScheduleEntity{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempts":   attemptsJSON(attempts),
			"results":    resultsJSON(results),
			"updated_at": now,
		}).Error
	return errors.Wrap(err, "failed to save schedule progress")
}

// Finalize writes the terminal status along with the final outcome maps.
func (r *ScheduleRepository) Finalize(ctx context.Context, id string, status model.ScheduleStatus, attempts map[string]int, results map[string]model.RecipientResult, now time.Time) error {
	err := r.db.Write(ctx).Model(&ScheduleEntity{}).
		Where("id = ? AND status = ?", id, string(model.ScheduleStatusInProgress)).
		Updates(map[string]interface{}{
			"status":     string(status),
			"attempts":   attemptsJSON(attempts),
			"results":    resultsJSON(results),
			"updated_at": now,
		}).Error
	return errors.Wrap(err, "failed to finalize schedule")
}

// DeletePending removes a schedule that is still pending. A record that
// already left pending is never touched: cancellation must not interrupt an
// in-flight dispatch or rewrite a terminal outcome. Returns false when the
// schedule exists but is not pending, and ErrNotFound when it does not exist.
func (r *ScheduleRepository) DeletePending(ctx context.Context, id string) (bool, error) {
	res := r.db.Write(ctx).
		Where("id = ? AND status = ?", id, string(model.ScheduleStatusPending)).
		Delete(&ScheduleEntity{})
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "failed to delete schedule")
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// UpdatePending applies caller edits while the schedule is still pending.
func (r *ScheduleRepository) UpdatePending(ctx context.Context, id string, update model.ScheduleUpdate, now time.Time) (*model.ScheduledMessage, bool, error) {
	fields := map[string]interface{}{"updated_at": now}
	if update.Body != nil {
		fields["body"] = *update.Body
	}
	if update.ScheduledAt != nil {
		fields["scheduled_at"] = *update.ScheduledAt
	}
	if update.DelaySeconds != nil {
		fields["delay_seconds"] = *update.DelaySeconds
	}
	if update.Media != nil {
		fields["media"] = *update.Media
	}
	if update.MediaType != nil {
		fields["media_type"] = *update.MediaType
	}
	if update.Caption != nil {
		fields["caption"] = *update.Caption
	}

	res := r.db.Write(ctx).Model(&ScheduleEntity{}).
		Where("id = ? AND status = ?", id, string(model.ScheduleStatusPending)).
		Updates(fields)
	if res.Error != nil {
		return nil, false, errors.Wrap(res.Error, "failed to update schedule")
	}
	m, err := r.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return m, res.RowsAffected == 1, nil
}
