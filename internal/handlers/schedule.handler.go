package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/fasthttp/router"

	"github.com/apysky/broadcast-scheduler/internal/model"
	"github.com/apysky/broadcast-scheduler/internal/services"
	xhttp "github.com/apysky/broadcast-scheduler/pkg/http"
)

type ScheduleService interface {
	Create(ctx context.Context, p services.ScheduleCreateRequest) (*model.ScheduledMessage, error)
	Get(ctx context.Context, id string) (*model.ScheduledMessage, error)
	List(ctx context.Context, f model.ScheduleFilter) ([]*model.ScheduledMessage, int64, error)
	Cancel(ctx context.Context, id string) (bool, error)
	Update(ctx context.Context, id string, update model.ScheduleUpdate) (*model.ScheduledMessage, bool, error)
}

type ScheduleHandler struct {
	svc ScheduleService
}

func RegisterScheduleRoutes(e *router.Group, h *ScheduleHandler) {
	e.POST("/schedules", h.CreateSchedule)
	e.GET("/schedules", h.ListSchedules)
	e.GET("/schedules/{id}", h.GetSchedule)
	e.PUT("/schedules/{id}", h.UpdateSchedule)
	e.DELETE("/schedules/{id}", h.CancelSchedule)
}

func NewScheduleHandler(scheduleService ScheduleService) *ScheduleHandler {
	return &ScheduleHandler{
		svc: scheduleService,
	}
}

type createScheduleRequest struct {
	Recipients   []string `json:"recipients"`
	Body         string   `json:"body"`
	Media        string   `json:"media"`
	MediaType    string   `json:"media_type"`
	Caption      string   `json:"caption"`
	ScheduledAt  string   `json:"scheduled_at"`
	DelaySeconds *int     `json:"delay_seconds"`
}

type createScheduleResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// scheduleSummary is the list view: counts instead of the full per-recipient
// result maps.
type scheduleSummary struct {
	ID           string    `json:"id"`
	Status       string    `json:"status"`
	Recipients   int       `json:"recipients"`
	Succeeded    int       `json:"succeeded"`
	Failed       int       `json:"failed"`
	ScheduledAt  time.Time `json:"scheduled_at"`
	DelaySeconds int       `json:"delay_seconds"`
	CreatedAt    time.Time `json:"created_at"`
}

type listSchedulesResponse struct {
	Items []scheduleSummary `json:"items"`
	Total int64             `json:"total"`
}

type cancelScheduleResponse struct {
	Cancelled bool   `json:"cancelled"`
	Reason    string `json:"reason,omitempty"`
}

/* --------------------------------- Routes ----------------------------------- */

func (h *ScheduleHandler) CreateSchedule(ctx *xhttp.RequestCtx) {
	var req createScheduleRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "InvalidJSON", "invalid JSON: "+err.Error())
		return
	}

	p := services.ScheduleCreateRequest{
		Recipients:   req.Recipients,
		Body:         req.Body,
		Media:        req.Media,
		MediaType:    req.MediaType,
		Caption:      req.Caption,
		DelaySeconds: req.DelaySeconds,
	}
	if req.ScheduledAt != "" {
		t, err := parseTime(req.ScheduledAt)
		if err != nil {
			writeError(ctx, xhttp.StatusBadRequest, "InvalidJSON", "invalid scheduled_at: "+err.Error())
			return
		}
		p.ScheduledAt = &t
	}

	m, err := h.svc.Create(ctx, p)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusCreated, createScheduleResponse{ID: m.ID, Status: string(m.Status)})
}

func (h *ScheduleHandler) GetSchedule(ctx *xhttp.RequestCtx) {
	id := param(ctx, "id")
	m, err := h.svc.Get(ctx, id)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, m)
}

func (h *ScheduleHandler) ListSchedules(ctx *xhttp.RequestCtx) {
	var f model.ScheduleFilter

	if v := query(ctx, "status"); v != "" {
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
			if parts[i] != "" {
				f.Statuses = append(f.Statuses, model.ScheduleStatus(parts[i]))
			}
		}
	}
	if v := query(ctx, "from"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.From = &t
		}
	}
	if v := query(ctx, "to"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.To = &t
		}
	}
	if v := query(ctx, "limit"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Limit = n
		}
	}
	if v := query(ctx, "offset"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Offset = n
		}
	}
	if strings.EqualFold(query(ctx, "order"), "desc") {
		f.Desc = true
	}

	items, total, err := h.svc.List(ctx, f)
	if err != nil {
		writeError(ctx, xhttp.StatusInternalServerError, "Internal", err.Error())
		return
	}

	summaries := make([]scheduleSummary, 0, len(items))
	for _, m := range items {
		summaries = append(summaries, scheduleSummary{
			ID:           m.ID,
			Status:       string(m.Status),
			Recipients:   len(m.Recipients),
			Succeeded:    m.SuccessCount(),
			Failed:       m.FailureCount(),
			ScheduledAt:  m.ScheduledAt,
			DelaySeconds: m.DelaySeconds,
			CreatedAt:    m.CreatedAt,
		})
	}
	writeJSON(ctx, xhttp.StatusOK, listSchedulesResponse{Items: summaries, Total: total})
}

func (h *ScheduleHandler) UpdateSchedule(ctx *xhttp.RequestCtx) {
	id := param(ctx, "id")

	var req struct {
		Body         *string `json:"body"`
		Media        *string `json:"media"`
		MediaType    *string `json:"media_type"`
		Caption      *string `json:"caption"`
		ScheduledAt  *string `json:"scheduled_at"`
		DelaySeconds *int    `json:"delay_seconds"`
	}
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "InvalidJSON", "invalid JSON: "+err.Error())
		return
	}

	update := model.ScheduleUpdate{
		Body:         req.Body,
		Media:        req.Media,
		MediaType:    req.MediaType,
		Caption:      req.Caption,
		DelaySeconds: req.DelaySeconds,
	}
	if req.ScheduledAt != nil {
		t, err := parseTime(*req.ScheduledAt)
		if err != nil {
			writeError(ctx, xhttp.StatusBadRequest, "InvalidJSON", "invalid scheduled_at: "+err.Error())
			return
		}
		update.ScheduledAt = &t
	}

	m, ok, err := h.svc.Update(ctx, id, update)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	if !ok {
		writeError(ctx, xhttp.StatusConflict, "NotPending", "schedule already in progress or terminal")
		return
	}
	writeJSON(ctx, xhttp.StatusOK, m)
}

func (h *ScheduleHandler) CancelSchedule(ctx *xhttp.RequestCtx) {
	id := param(ctx, "id")

	ok, err := h.svc.Cancel(ctx, id)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	if !ok {
		writeJSON(ctx, xhttp.StatusOK, cancelScheduleResponse{
			Cancelled: false,
			Reason:    "already in progress or terminal",
		})
		return
	}
	writeJSON(ctx, xhttp.StatusOK, cancelScheduleResponse{Cancelled: true})
}

/* --------------------------------- Helpers ----------------------------------- */

func writeServiceError(ctx *xhttp.RequestCtx, err error) {
	switch {
	case errors.Is(err, services.ErrNoValidRecipients):
		writeError(ctx, xhttp.StatusBadRequest, "NoValidRecipients", err.Error())
	case errors.Is(err, services.ErrEmptyBody):
		writeError(ctx, xhttp.StatusBadRequest, "EmptyBody", err.Error())
	case errors.Is(err, services.ErrInvalidDelay):
		writeError(ctx, xhttp.StatusBadRequest, "InvalidDelay", err.Error())
	case errors.Is(err, services.ErrNotFound):
		writeError(ctx, xhttp.StatusNotFound, "NotFound", err.Error())
	default:
		writeError(ctx, xhttp.StatusInternalServerError, "Internal", err.Error())
	}
}

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	return json.Unmarshal(ctx.PostBody(), dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeError(ctx *xhttp.RequestCtx, status int, code, msg string) {
	writeJSON(ctx, status, map[string]string{"error": code, "message": msg})
}

func param(ctx *xhttp.RequestCtx, name string) string {
	if v, ok := ctx.UserValue(name).(string); ok {
		return v
	}
	return ""
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

func parseTime(s string) (time.Time, error) {
	// Accept RFC3339 or YYYY-MM-DD
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
