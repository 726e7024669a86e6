package repository

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/apysky/broadcast-scheduler/internal/model"
)

// JSON-backed column types. Recipients, attempts and results are stored as
// serialized JSON so the schema works unchanged on postgres and on the
// in-memory sqlite used by tests.

type stringSliceJSON []string

func (s stringSliceJSON) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(s))
	return string(b), err
}

func (s *stringSliceJSON) Scan(src interface{}) error {
	return scanJSON(src, (*[]string)(s))
}

type attemptsJSON map[string]int

func (a attemptsJSON) Value() (driver.Value, error) {
	if a == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]int(a))
	return string(b), err
}

func (a *attemptsJSON) Scan(src interface{}) error {
	return scanJSON(src, (*map[string]int)(a))
}

type resultsJSON map[string]model.RecipientResult

func (r resultsJSON) Value() (driver.Value, error) {
	if r == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]model.RecipientResult(r))
	return string(b), err
}

func (r *resultsJSON) Scan(src interface{}) error {
	return scanJSON(src, (*map[string]model.RecipientResult)(r))
}

func scanJSON(src, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported column type %T", src)
	}
}

type ScheduleEntity struct {
	ID           string          `gorm:"primaryKey;column:id"`
	Recipients   stringSliceJSON `gorm:"column:recipients;type:text;not null"`
	Body         string          `gorm:"column:body;not null"`
	Media        string          `gorm:"column:media"`
	MediaType    string          `gorm:"column:media_type"`
	Caption      string          `gorm:"column:caption"`
	ScheduledAt  time.Time       `gorm:"column:scheduled_at;index;not null"`
	DelaySeconds int             `gorm:"column:delay_seconds;not null"`
	Status       string          `gorm:"column:status;index;not null"`
	Attempts     attemptsJSON    `gorm:"column:attempts;type:text"`
	Results      resultsJSON     `gorm:"column:results;type:text"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (ScheduleEntity) TableName() string {
	return "schedules"
}

func toScheduleEntity(m *model.ScheduledMessage) *ScheduleEntity {
	if m == nil {
		return nil
	}
	return &ScheduleEntity{
		ID:           m.ID,
		Recipients:   stringSliceJSON(m.Recipients),
		Body:         m.Body,
		Media:        m.Media,
		MediaType:    m.MediaType,
		Caption:      m.Caption,
		ScheduledAt:  m.ScheduledAt,
		DelaySeconds: m.DelaySeconds,
		Status:       string(m.Status),
		Attempts:     attemptsJSON(m.Attempts),
		Results:      resultsJSON(m.Results),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func toScheduleModel(e *ScheduleEntity) *model.ScheduledMessage {
	if e == nil {
		return nil
	}
	return &model.ScheduledMessage{
		ID:           e.ID,
		Recipients:   []string(e.Recipients),
		Body:         e.Body,
		Media:        e.Media,
		MediaType:    e.MediaType,
		Caption:      e.Caption,
		ScheduledAt:  e.ScheduledAt,
		DelaySeconds: e.DelaySeconds,
		Status:       model.ScheduleStatus(e.Status),
		Attempts:     map[string]int(e.Attempts),
		Results:      map[string]model.RecipientResult(e.Results),
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
}

func toScheduleModels(entities []*ScheduleEntity) []*model.ScheduledMessage {
	if entities == nil {
		return nil
	}
	models := make([]*model.ScheduledMessage, len(entities))
	for i, e := range entities {
		models[i] = toScheduleModel(e)
	}
	return models
}
