package model

import (
	"time"
)

// ScheduleStatus is the lifecycle state of a scheduled batch. Transitions are
// monotonic: pending -> in_progress -> completed|failed, and pending ->
// cancelled. Nothing moves backward.
type ScheduleStatus string

const (
	ScheduleStatusPending    ScheduleStatus = "pending"
	ScheduleStatusInProgress ScheduleStatus = "in_progress"
	ScheduleStatusCompleted  ScheduleStatus = "completed"
	ScheduleStatusFailed     ScheduleStatus = "failed"
	ScheduleStatusCancelled  ScheduleStatus = "cancelled"
)

func (s ScheduleStatus) Terminal() bool {
	switch s {
	case ScheduleStatusCompleted, ScheduleStatusFailed, ScheduleStatusCancelled:
		return true
	}
	return false
}

// RecipientResult is the terminal outcome for one recipient within a batch.
// Once written it is never replaced.
type RecipientResult struct {
	Success     bool       `json:"success"`
	Error       string     `json:"error,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ScheduledMessage is one batch of work: a body to deliver to an ordered list
// of recipients at or after ScheduledAt, pacing DelaySeconds between sends.
type ScheduledMessage struct {
	ID          string    `json:"id"`
	Recipients  []string  `json:"recipients"`
	Body        string    `json:"body"`
	Media       string    `json:"media,omitempty"`
	MediaType   string    `json:"media_type,omitempty"`
	Caption     string    `json:"caption,omitempty"`
	ScheduledAt time.Time `json:"scheduled_at"`
	// DelaySeconds is the pacing gap between consecutive recipients. 0 is
	// only used internally for immediate sends; caller-supplied values are
	// clamped to [1, 60].
	DelaySeconds int            `json:"delay_seconds"`
	Status       ScheduleStatus `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`

	// Attempts counts delivery attempts per recipient; diagnostics only.
	Attempts map[string]int `json:"attempts,omitempty"`
	// Results holds per-recipient terminal outcomes, filled in dispatch order.
	Results map[string]RecipientResult `json:"results,omitempty"`
}

// SuccessCount and FailureCount summarize Results for list responses.
func (m *ScheduledMessage) SuccessCount() int {
	n := 0
	for _, r := range m.Results {
		if r.Success {
			n++
		}
	}
	return n
}

func (m *ScheduledMessage) FailureCount() int {
	n := 0
	for _, r := range m.Results {
		if !r.Success {
			n++
		}
	}
	return n
}

// ScheduleFilter controls List queries.
type ScheduleFilter struct {
	Statuses []ScheduleStatus // IN (...)
	From     *time.Time       // scheduled_at >=
	To       *time.Time       // scheduled_at <
	Limit    int              // default 50
	Offset   int
	Desc     bool // order by scheduled_at
}

// ScheduleUpdate carries the fields a caller may change while a schedule is
// still pending.
type ScheduleUpdate struct {
	Body         *string
	ScheduledAt  *time.Time
	DelaySeconds *int
	Media        *string
	MediaType    *string
	Caption      *string
}
