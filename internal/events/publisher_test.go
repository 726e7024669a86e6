package events

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apysky/broadcast-scheduler/internal/model"
	"github.com/apysky/broadcast-scheduler/pkg/redis"
)

func setupTestRedis(t *testing.T) redis.Adapter {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	// Unique connection name per test to avoid the global adapter cache
	connName := t.Name() + "-" + mr.Addr()
	adapter, err := redis.NewAdapter(connName, "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	return adapter
}

func TestPublisher_PublishFinalized(t *testing.T) {
	adapter := setupTestRedis(t)
	publisher := NewPublisher(adapter, "test:events", 100)

	m := &model.ScheduledMessage{
		ID:         "sched-1",
		Recipients: []string{"+1234567890", "+1987654321"},
		Status:     model.ScheduleStatusCompleted,
		Results: map[string]model.RecipientResult{
			"+1234567890": {Success: true},
			"+1987654321": {Success: false, Error: "rejected"},
		},
	}

	publisher.PublishFinalized(m)

	msgs, err := adapter.XRange("test:events", "-", "+", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, EventScheduleFinalized, msgs[0].Values["event"])
	assert.Equal(t, "sched-1", msgs[0].Values["schedule_id"])
	assert.Equal(t, "completed", msgs[0].Values["status"])
	assert.Equal(t, "1", msgs[0].Values["succeeded"])
	assert.Equal(t, "1", msgs[0].Values["failed"])
}

func TestPublisher_PublishRecipientFailed(t *testing.T) {
	adapter := setupTestRedis(t)
	publisher := NewPublisher(adapter, "test:events", 100)

	publisher.PublishRecipientFailed("sched-2", "+1234567890", "session closed", 3)

	msgs, err := adapter.XRange("test:events", "-", "+", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, EventRecipientFailed, msgs[0].Values["event"])
	assert.Equal(t, "+1234567890", msgs[0].Values["recipient"])
	assert.Equal(t, "session closed", msgs[0].Values["reason"])
	assert.Equal(t, "3", msgs[0].Values["attempts"])
}

func TestPublisher_StreamIsTrimmed(t *testing.T) {
	adapter := setupTestRedis(t)
	publisher := NewPublisher(adapter, "test:events", 5)

	for i := 0; i < 20; i++ {
		publisher.PublishRecipientFailed("sched-3", "+1234567890", "busy", 1)
	}

	length, err := adapter.XLen("test:events")
	require.NoError(t, err)
	assert.LessOrEqual(t, length, int64(20))
}
