package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apysky/broadcast-scheduler/internal/model"
)

func newSchedule(scheduledAt time.Time) *model.ScheduledMessage {
	return &model.ScheduledMessage{
		ID:           uuid.NewString(),
		Recipients:   []string{"+1234567890", "+1987654321"},
		Body:         "hello there",
		ScheduledAt:  scheduledAt,
		DelaySeconds: 5,
		Status:       model.ScheduleStatusPending,
	}
}

func TestScheduleRepository_CreateGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewScheduleRepository(db.DB)
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		m := newSchedule(time.Now().UTC().Add(time.Hour))
		m.Media = "data:image/png;base64,AAAA"
		m.MediaType = "image"
		m.Caption = "a caption"

		created, err := repo.Create(ctx, m)
		require.NoError(t, err)
		assert.NotZero(t, created.CreatedAt)

		got, err := repo.Get(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, m.Recipients, got.Recipients)
		assert.Equal(t, m.Body, got.Body)
		assert.Equal(t, m.Media, got.Media)
		assert.Equal(t, m.Caption, got.Caption)
		assert.Equal(t, model.ScheduleStatusPending, got.Status)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := repo.Get(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestScheduleRepository_ListDue(t *testing.T) {
	db := setupTestDB(t)
	repo := NewScheduleRepository(db.DB)
	ctx := context.Background()

	now := time.Now().UTC()

	later := newSchedule(now.Add(time.Hour))
	dueOld := newSchedule(now.Add(-5 * time.Minute))
	dueNew := newSchedule(now.Add(-1 * time.Minute))
	dueNow := newSchedule(now)

	for _, m := range []*model.ScheduledMessage{later, dueNew, dueOld, dueNow} {
		_, err := repo.Create(ctx, m)
		require.NoError(t, err)
	}

	inFlight := newSchedule(now.Add(-10 * time.Minute))
	inFlight.Status = model.ScheduleStatusInProgress
	_, err := repo.Create(ctx, inFlight)
	require.NoError(t, err)

	due, err := repo.ListDue(ctx, now, 50)
	require.NoError(t, err)
	require.Len(t, due, 3)
	assert.Equal(t, dueOld.ID, due[0].ID)
	assert.Equal(t, dueNew.ID, due[1].ID)
	assert.Equal(t, dueNow.ID, due[2].ID)
}

func TestScheduleRepository_Claim(t *testing.T) {
	db := setupTestDB(t)
	repo := NewScheduleRepository(db.DB)
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("claim wins once", func(t *testing.T) {
		m := newSchedule(now.Add(-time.Minute))
		_, err := repo.Create(ctx, m)
		require.NoError(t, err)

		claimed, err := repo.Claim(ctx, m.ID, now)
		require.NoError(t, err)
		assert.True(t, claimed)
		assert.Equal(t, "in_progress", db.status(t, m.ID))

		claimed, err = repo.Claim(ctx, m.ID, now)
		require.NoError(t, err)
		assert.False(t, claimed)
	})

	t.Run("cancelled schedule cannot be claimed", func(t *testing.T) {
		m := newSchedule(now.Add(-time.Minute))
		_, err := repo.Create(ctx, m)
		require.NoError(t, err)

		ok, err := repo.DeletePending(ctx, m.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		claimed, err := repo.Claim(ctx, m.ID, now)
		require.NoError(t, err)
		assert.False(t, claimed)
	})
}

func TestScheduleRepository_Finalize(t *testing.T) {
	db := setupTestDB(t)
	repo := NewScheduleRepository(db.DB)
	ctx := context.Background()
	now := time.Now().UTC()

	m := newSchedule(now.Add(-time.Minute))
	_, err := repo.Create(ctx, m)
	require.NoError(t, err)

	claimed, err := repo.Claim(ctx, m.ID, now)
	require.NoError(t, err)
	require.True(t, claimed)

	done := now.Add(time.Second)
	attempts := map[string]int{"+1234567890": 1, "+1987654321": 3}
	results := map[string]model.RecipientResult{
		"+1234567890": {Success: true, CompletedAt: &done},
		"+1987654321": {Success: false, Error: "session closed", CompletedAt: &done},
	}

	err = repo.Finalize(ctx, m.ID, model.ScheduleStatusCompleted, attempts, results, done)
	require.NoError(t, err)

	got, err := repo.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ScheduleStatusCompleted, got.Status)
	assert.Equal(t, attempts, got.Attempts)
	assert.Equal(t, 1, got.SuccessCount())
	assert.Equal(t, 1, got.FailureCount())
	assert.Equal(t, "session closed", got.Results["+1987654321"].Error)
}

func TestScheduleRepository_DeletePending(t *testing.T) {
	db := setupTestDB(t)
	repo := NewScheduleRepository(db.DB)
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("delete pending", func(t *testing.T) {
		m := newSchedule(now.Add(time.Hour))
		_, err := repo.Create(ctx, m)
		require.NoError(t, err)

		ok, err := repo.DeletePending(ctx, m.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = repo.Get(ctx, m.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete after claim is rejected", func(t *testing.T) {
		m := newSchedule(now.Add(-time.Minute))
		_, err := repo.Create(ctx, m)
		require.NoError(t, err)

		claimed, err := repo.Claim(ctx, m.ID, now)
		require.NoError(t, err)
		require.True(t, claimed)

		ok, err := repo.DeletePending(ctx, m.ID)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, "in_progress", db.status(t, m.ID))
	})

	t.Run("delete missing schedule", func(t *testing.T) {
		_, err := repo.DeletePending(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestScheduleRepository_List(t *testing.T) {
	db := setupTestDB(t)
	repo := NewScheduleRepository(db.DB)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		m := newSchedule(now.Add(time.Duration(i) * time.Hour))
		if i%2 == 1 {
			m.Status = model.ScheduleStatusCompleted
		}
		_, err := repo.Create(ctx, m)
		require.NoError(t, err)
	}

	t.Run("filter by status", func(t *testing.T) {
		list, total, err := repo.List(ctx, model.ScheduleFilter{
			Statuses: []model.ScheduleStatus{model.ScheduleStatusPending},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		assert.Len(t, list, 3)
	})

	t.Run("time window", func(t *testing.T) {
		from := now.Add(30 * time.Minute)
		to := now.Add(150 * time.Minute)
		list, total, err := repo.List(ctx, model.ScheduleFilter{From: &from, To: &to})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		assert.Len(t, list, 2)
	})

	t.Run("pagination and order", func(t *testing.T) {
		page1, total, err := repo.List(ctx, model.ScheduleFilter{Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, int64(5), total)
		require.Len(t, page1, 2)

		page2, _, err := repo.List(ctx, model.ScheduleFilter{Limit: 2, Offset: 2})
		require.NoError(t, err)
		require.Len(t, page2, 2)
		assert.True(t, page1[1].ScheduledAt.Before(page2[0].ScheduledAt))
	})
}

func TestScheduleRepository_UpdatePending(t *testing.T) {
	db := setupTestDB(t)
	repo := NewScheduleRepository(db.DB)
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("update pending fields", func(t *testing.T) {
		m := newSchedule(now.Add(time.Hour))
		_, err := repo.Create(ctx, m)
		require.NoError(t, err)

		body := "updated body"
		delay := 10
		at := now.Add(2 * time.Hour)
		updated, ok, err := repo.UpdatePending(ctx, m.ID, model.ScheduleUpdate{
			Body:         &body,
			DelaySeconds: &delay,
			ScheduledAt:  &at,
		}, now)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, body, updated.Body)
		assert.Equal(t, delay, updated.DelaySeconds)
		assert.Equal(t, at.Unix(), updated.ScheduledAt.Unix())
	})

	t.Run("update refuses non-pending", func(t *testing.T) {
		m := newSchedule(now.Add(-time.Minute))
		_, err := repo.Create(ctx, m)
		require.NoError(t, err)

		claimed, err := repo.Claim(ctx, m.ID, now)
		require.NoError(t, err)
		require.True(t, claimed)

		body := "too late"
		_, ok, err := repo.UpdatePending(ctx, m.ID, model.ScheduleUpdate{Body: &body}, now)
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := repo.Get(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, "hello there", got.Body)
	})
}
