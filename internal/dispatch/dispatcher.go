package dispatch

import (
	"context"
	"time"

	"github.com/apysky/broadcast-scheduler/internal/bridge"
	"github.com/apysky/broadcast-scheduler/internal/model"
	"github.com/apysky/broadcast-scheduler/pkg/logger"
	"github.com/apysky/broadcast-scheduler/pkg/prom"
	"github.com/apysky/broadcast-scheduler/pkg/worker"
)

type ScheduleStore interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]*model.ScheduledMessage, error)
	Get(ctx context.Context, id string) (*model.ScheduledMessage, error)
	Claim(ctx context.Context, id string, now time.Time) (bool, error)
	SaveProgress(ctx context.Context, id string, attempts map[string]int, results map[string]model.RecipientResult, now time.Time) error
	Finalize(ctx context.Context, id string, status model.ScheduleStatus, attempts map[string]int, results map[string]model.RecipientResult, now time.Time) error
}

type Sender interface {
	Send(ctx context.Context, req *bridge.SendRequest) (*bridge.SendResult, error)
	Ready(ctx context.Context) bool
}

type EventPublisher interface {
	PublishFinalized(m *model.ScheduledMessage)
	PublishRecipientFailed(scheduleID, recipient, reason string, attempts int)
}

type Config struct {
	// MaxAttempts bounds delivery attempts per recipient; transient failures
	// retry up to this many times, permanent ones never retry.
	MaxAttempts int
	// RetryBackoff is the fixed wait between attempts to the same recipient.
	RetryBackoff time.Duration
	BatchSize    int
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		RetryBackoff: time.Second,
		BatchSize:    50,
	}
}

// Dispatcher claims due schedules and works each one to a terminal status.
// Records fan out to a worker pool sized by the number of bridge sessions;
// with a single session everything is effectively serial.
type Dispatcher struct {
	store  ScheduleStore
	sender Sender
	locker *Locker
	events EventPublisher
	clock  Clock
	config Config
	pool   *worker.Manager
	stats  *Stats
}

func NewDispatcher(store ScheduleStore, sender Sender, locker *Locker, events EventPublisher, clock Clock, config Config) *Dispatcher {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if clock == nil {
		clock = NewClock()
	}
	return &Dispatcher{
		store:  store,
		sender: sender,
		locker: locker,
		events: events,
		clock:  clock,
		config: config,
		stats:  &Stats{},
	}
}

// SetPool wires the cross-record worker pool. Without one, Tick processes
// claimed schedules inline.
func (d *Dispatcher) SetPool(pool *worker.Manager) {
	d.pool = pool
	pool.SetWorker(func(_ int, job interface{}) {
		m, ok := job.(*model.ScheduledMessage)
		if !ok {
			return
		}
		d.Process(context.Background(), m)
	})
}

func (d *Dispatcher) Stats() *Stats {
	return d.stats
}

// Tick runs one due-check cycle. A bridge without an authenticated session
// skips the whole tick; due schedules stay pending for the next poll.
func (d *Dispatcher) Tick(ctx context.Context) {
	d.stats.Ticks.Add(1)

	if !d.sender.Ready(ctx) {
		logger.Warn("bridge not ready, skipping dispatch tick")
		d.stats.SkippedTicks.Add(1)
		return
	}

	due, err := d.store.ListDue(ctx, d.clock.Now(), d.config.BatchSize)
	if err != nil {
		logger.Error("failed to list due schedules", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}
	logger.Info("due schedules found", "count", len(due))

	for _, m := range due {
		if d.pool != nil {
			d.pool.Enqueue(m)
			continue
		}
		d.Process(ctx, m)
	}
}

// Process drives one schedule from claim to finalize. It is safe to call with
// a schedule another process already took: the lock or the conditional claim
// rejects the duplicate and Process returns without side effects.
func (d *Dispatcher) Process(ctx context.Context, m *model.ScheduledMessage) {
	acquired, err := d.locker.Acquire(m.ID)
	if err != nil {
		logger.Error("dispatch lock error", "schedule_id", m.ID, "error", err)
		return
	}
	if !acquired {
		return
	}
	defer d.locker.Release(m.ID)

	claimed, err := d.store.Claim(ctx, m.ID, d.clock.Now())
	if err != nil {
		logger.Error("failed to claim schedule", "schedule_id", m.ID, "error", err)
		return
	}
	if !claimed {
		logger.Debug("schedule no longer claimable", "schedule_id", m.ID)
		return
	}
	d.stats.Claimed.Add(1)

	// The due-scan snapshot can predate an accepted pending-only update, so
	// dispatch works from the row as it was claimed.
	if fresh, err := d.store.Get(ctx, m.ID); err != nil {
		logger.Warn("failed to reload schedule after claim", "schedule_id", m.ID, "error", err)
	} else {
		m = fresh
	}
	logger.Info("dispatching schedule", "schedule_id", m.ID, "recipients", len(m.Recipients), "delay_seconds", m.DelaySeconds)

	attempts := make(map[string]int, len(m.Recipients))
	results := make(map[string]model.RecipientResult, len(m.Recipients))

	pacing := time.Duration(m.DelaySeconds) * time.Second
	for i, recipient := range m.Recipients {
		if i > 0 && pacing > 0 {
			d.clock.Sleep(pacing)
		}

		result := d.sendWithRetry(ctx, m, recipient, attempts)
		results[recipient] = result
		if !result.Success {
			d.events.PublishRecipientFailed(m.ID, recipient, result.Error, attempts[recipient])
			// Failures are persisted as they happen; successes land once at
			// finalize.
			if err := d.store.SaveProgress(ctx, m.ID, attempts, results, d.clock.Now()); err != nil {
				logger.Warn("failed to save dispatch progress", "schedule_id", m.ID, "error", err)
			}
		}
	}

	status := model.ScheduleStatusFailed
	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	// Partial success still counts as completed; per-recipient results carry
	// the detail.
	if succeeded > 0 {
		status = model.ScheduleStatusCompleted
	}

	if err := d.store.Finalize(ctx, m.ID, status, attempts, results, d.clock.Now()); err != nil {
		logger.Error("failed to finalize schedule", "schedule_id", m.ID, "status", status, "error", err)
		return
	}

	m.Status = status
	m.Attempts = attempts
	m.Results = results
	d.events.PublishFinalized(m)
	prom.AddScheduleFinalized(string(status))
	d.stats.Finalized.Add(1)

	logger.Info("schedule finalized",
		"schedule_id", m.ID,
		"status", status,
		"succeeded", succeeded,
		"failed", len(results)-succeeded,
	)
}

// sendWithRetry attempts delivery to one recipient up to MaxAttempts times.
// Only transient failures retry; the backoff between attempts is fixed.
func (d *Dispatcher) sendWithRetry(ctx context.Context, m *model.ScheduledMessage, recipient string, attempts map[string]int) model.RecipientResult {
	req := &bridge.SendRequest{
		ScheduleID: m.ID,
		Recipient:  recipient,
		Body:       m.Body,
		Media:      m.Media,
		MediaType:  m.MediaType,
		Caption:    m.Caption,
	}

	var lastReason string
	for attempt := 1; attempt <= d.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			prom.AddSendRetry()
			d.clock.Sleep(d.config.RetryBackoff)
		}
		attempts[recipient] = attempt

		startTime := d.clock.Now()
		result, err := d.sender.Send(ctx, req)
		prom.ObserveSendDuration(d.clock.Now().Sub(startTime).Seconds())

		if err != nil {
			// Only marshaling bugs reach here; treat as permanent.
			logger.Error("send request could not be built", "schedule_id", m.ID, "recipient", recipient, "error", err)
			prom.AddRecipientSend("failure")
			return d.failure(err.Error())
		}

		if result.Success {
			prom.AddRecipientSend("success")
			d.stats.Sent.Add(1)
			now := d.clock.Now()
			return model.RecipientResult{Success: true, CompletedAt: &now}
		}

		lastReason = result.Reason
		logger.Warn("send attempt failed",
			"schedule_id", m.ID,
			"recipient", recipient,
			"attempt", attempt,
			"kind", string(result.ErrorKind),
			"reason", result.Reason,
		)

		if result.ErrorKind == bridge.ErrorKindPermanent {
			break
		}
	}

	prom.AddRecipientSend("failure")
	d.stats.Failed.Add(1)
	return d.failure(lastReason)
}

func (d *Dispatcher) failure(reason string) model.RecipientResult {
	now := d.clock.Now()
	return model.RecipientResult{Success: false, Error: reason, CompletedAt: &now}
}
