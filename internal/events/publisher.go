// Package events publishes schedule outcomes to a redis stream so external
// consumers (dashboards, audit jobs) can follow dispatch activity without
// polling the database.
package events

import (
	"strconv"
	"time"

	"github.com/apysky/broadcast-scheduler/internal/model"
	"github.com/apysky/broadcast-scheduler/pkg/logger"
	"github.com/apysky/broadcast-scheduler/pkg/redis"
)

const (
	EventScheduleFinalized = "schedule_finalized"
	EventRecipientFailed   = "recipient_failed"
)

type Publisher struct {
	redis      redis.Adapter
	streamName string
	maxLen     int64
}

func NewPublisher(adapter redis.Adapter, streamName string, maxLen int64) *Publisher {
	return &Publisher{
		redis:      adapter,
		streamName: streamName,
		maxLen:     maxLen,
	}
}

// PublishFinalized emits the terminal outcome of a schedule. Publishing is
// best effort: a failure is logged, never propagated, because the outcome is
// already durable in the store.
func (p *Publisher) PublishFinalized(m *model.ScheduledMessage) {
	p.publish(map[string]interface{}{
		"event":       EventScheduleFinalized,
		"schedule_id": m.ID,
		"status":      string(m.Status),
		"recipients":  strconv.Itoa(len(m.Recipients)),
		"succeeded":   strconv.Itoa(m.SuccessCount()),
		"failed":      strconv.Itoa(m.FailureCount()),
		"finished_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// PublishRecipientFailed emits one event per recipient that exhausted its
// attempts or was rejected permanently.
func (p *Publisher) PublishRecipientFailed(scheduleID, recipient, reason string, attempts int) {
	p.publish(map[string]interface{}{
		"event":       EventRecipientFailed,
		"schedule_id": scheduleID,
		"recipient":   recipient,
		"reason":      reason,
		"attempts":    strconv.Itoa(attempts),
	})
}

func (p *Publisher) publish(values map[string]interface{}) {
	id, err := p.redis.XAdd(p.streamName, values)
	if err != nil {
		logger.Error("failed to publish event", "stream", p.streamName, "event", values["event"], "error", err)
		return
	}
	logger.Debug("event published", "stream", p.streamName, "id", id)

	if p.maxLen > 0 {
		if err := p.redis.XTrimApprox(p.streamName, p.maxLen); err != nil {
			logger.Warn("failed to trim event stream", "stream", p.streamName, "error", err)
		}
	}
}
