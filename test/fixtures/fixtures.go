package fixtures

import (
	"time"

	"github.com/apysky/broadcast-scheduler/internal/model"
	"github.com/apysky/broadcast-scheduler/internal/services"
)

var (
	ValidRecipients = []string{
		"+1234567890",
		"+9876543210",
		"+4412345678",
		"+33123456789",
		"+81312345678",
	}

	InvalidRecipients = []string{
		"",
		"123",
		"invalid",
		"+",
		"abc123",
	}
)

func NewCreateRequest(recipients []string, body string) services.ScheduleCreateRequest {
	return services.ScheduleCreateRequest{
		Recipients: recipients,
		Body:       body,
	}
}

func CreateRequestImmediate() services.ScheduleCreateRequest {
	return NewCreateRequest([]string{"+1234567890"}, "hello there")
}

func CreateRequestDue(scheduledAt time.Time) services.ScheduleCreateRequest {
	req := CreateRequestImmediate()
	req.ScheduledAt = &scheduledAt
	return req
}

func CreateRequestWithMedia() services.ScheduleCreateRequest {
	req := CreateRequestImmediate()
	req.Media = "https://example.com/image.png"
	req.MediaType = "image"
	req.Caption = "look at this"
	return req
}

func CreateRequestInvalidRecipients() services.ScheduleCreateRequest {
	return NewCreateRequest(InvalidRecipients, "hello there")
}

func CreateRequestEmptyBody() services.ScheduleCreateRequest {
	return NewCreateRequest([]string{"+1234567890"}, "<p>  </p>")
}

func FilterByStatus(statuses ...model.ScheduleStatus) model.ScheduleFilter {
	return model.ScheduleFilter{
		Statuses: statuses,
		Limit:    50,
	}
}

func FilterByTimeRange(from, to time.Time) model.ScheduleFilter {
	return model.ScheduleFilter{
		From:  &from,
		To:    &to,
		Limit: 50,
	}
}
