package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/apysky/broadcast-scheduler/internal/model"
	"github.com/apysky/broadcast-scheduler/internal/repository"
	"github.com/apysky/broadcast-scheduler/pkg/logger"
)

var (
	ErrNoValidRecipients = fmt.Errorf("no valid recipients after normalization")
	ErrEmptyBody         = fmt.Errorf("message body cannot be empty")
	ErrInvalidDelay      = fmt.Errorf("delay must be between 1 and 60 seconds")
	ErrNotFound          = errors.New("schedule not found")
)

const (
	defaultDelaySeconds = 5
	minDelaySeconds     = 1
	maxDelaySeconds     = 60
)

type ScheduleRepository interface {
	Create(ctx context.Context, m *model.ScheduledMessage) (*model.ScheduledMessage, error)
	Get(ctx context.Context, id string) (*model.ScheduledMessage, error)
	List(ctx context.Context, f model.ScheduleFilter) ([]*model.ScheduledMessage, int64, error) // results, totalCount
	ListDue(ctx context.Context, now time.Time, limit int) ([]*model.ScheduledMessage, error)
	DeletePending(ctx context.Context, id string) (bool, error)
	UpdatePending(ctx context.Context, id string, update model.ScheduleUpdate, now time.Time) (*model.ScheduledMessage, bool, error)
}

type ScheduleCreateRequest struct {
	Recipients   []string   `json:"recipients"`
	Body         string     `json:"body"`
	Media        string     `json:"media"`
	MediaType    string     `json:"media_type"`
	Caption      string     `json:"caption"`
	ScheduledAt  *time.Time `json:"scheduled_at"`
	DelaySeconds *int       `json:"delay_seconds"`
}

type ScheduleService struct {
	repo ScheduleRepository
}

func NewScheduleService(repo ScheduleRepository) *ScheduleService {
	return &ScheduleService{repo: repo}
}

// Create validates and persists a new schedule. Invalid recipients are dropped
// with a warning as long as at least one valid one remains; a past scheduledAt
// is allowed and makes the schedule due immediately.
func (s *ScheduleService) Create(ctx context.Context, p ScheduleCreateRequest) (*model.ScheduledMessage, error) {
	valid, dropped := model.NormalizeRecipients(p.Recipients)
	if len(dropped) > 0 {
		logger.Warn("dropping invalid recipients", "count", len(dropped), "dropped", dropped)
	}
	if len(valid) == 0 {
		return nil, ErrNoValidRecipients
	}

	if model.FlattenBody(p.Body) == "" {
		return nil, ErrEmptyBody
	}

	delay := defaultDelaySeconds
	if p.DelaySeconds != nil {
		if *p.DelaySeconds < minDelaySeconds || *p.DelaySeconds > maxDelaySeconds {
			return nil, ErrInvalidDelay
		}
		delay = *p.DelaySeconds
	}

	scheduledAt := time.Now().UTC()
	if p.ScheduledAt != nil {
		scheduledAt = p.ScheduledAt.UTC()
	}

	m := &model.ScheduledMessage{
		ID:           uuid.NewString(),
		Recipients:   valid,
		Body:         p.Body,
		Media:        p.Media,
		MediaType:    p.MediaType,
		Caption:      p.Caption,
		ScheduledAt:  scheduledAt,
		DelaySeconds: delay,
		Status:       model.ScheduleStatusPending,
	}

	created, err := s.repo.Create(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("create schedule: %w", err)
	}
	logger.Info("schedule created",
		"id", created.ID,
		"recipients", len(created.Recipients),
		"scheduled_at", created.ScheduledAt,
	)
	return created, nil
}

// Cancel removes a schedule while it is still pending. It never interrupts an
// in-flight dispatch: once a record is claimed, Cancel returns false and the
// record is left alone.
func (s *ScheduleService) Cancel(ctx context.Context, id string) (bool, error) {
	ok, err := s.repo.DeletePending(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("cancel schedule: %w", err)
	}
	if ok {
		logger.Info("schedule cancelled", "id", id)
	}
	return ok, nil
}

func (s *ScheduleService) Get(ctx context.Context, id string) (*model.ScheduledMessage, error) {
	m, err := s.repo.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	return m, err
}

func (s *ScheduleService) List(ctx context.Context, f model.ScheduleFilter) ([]*model.ScheduledMessage, int64, error) {
	return s.repo.List(ctx, f)
}

// ListDue returns pending schedules whose scheduled time has passed, oldest
// first, for the dispatch loop to claim.
func (s *ScheduleService) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.ScheduledMessage, error) {
	return s.repo.ListDue(ctx, now, limit)
}

// Update applies edits to a schedule that has not been claimed yet. Returns
// false without mutating anything once the schedule left pending.
func (s *ScheduleService) Update(ctx context.Context, id string, update model.ScheduleUpdate) (*model.ScheduledMessage, bool, error) {
	if update.Body != nil && model.FlattenBody(*update.Body) == "" {
		return nil, false, ErrEmptyBody
	}
	if update.DelaySeconds != nil && (*update.DelaySeconds < minDelaySeconds || *update.DelaySeconds > maxDelaySeconds) {
		return nil, false, ErrInvalidDelay
	}
	if update.ScheduledAt != nil {
		at := update.ScheduledAt.UTC()
		update.ScheduledAt = &at
	}

	m, ok, err := s.repo.UpdatePending(ctx, id, update, time.Now().UTC())
	if errors.Is(err, repository.ErrNotFound) {
		return nil, false, ErrNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("update schedule: %w", err)
	}
	return m, ok, nil
}
