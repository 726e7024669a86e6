// Mock browser bridge for local development. It mimics the automation
// process that holds a logged-in web messaging session: a send endpoint with
// configurable delivery behavior and a health endpoint reporting session
// state. Point BRIDGE_URL at this process and the dispatcher cannot tell the
// difference.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type SendMessageRequest struct {
	ScheduleID string `json:"schedule_id"`
	Recipient  string `json:"recipient" binding:"required"`
	Body       string `json:"body"`
	Media      string `json:"media"`
	MediaType  string `json:"media_type"`
	Caption    string `json:"caption"`
}

type SendMessageResponse struct {
	Status    string `json:"status"`
	ErrorCode string `json:"error_code,omitempty"`
	ErrorMsg  string `json:"error_message,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Session   string    `json:"session"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

// MockBridge simulates the session-holding automation process.
type MockBridge struct {
	mu sync.Mutex

	deliveryRate  float64 // share of sends that succeed
	permanentRate float64 // share of failures that are not retryable
	readyRate     float64 // share of health checks reporting an authenticated session
	minDelay      time.Duration
	maxDelay      time.Duration
	sessionID     string
	rng           *rand.Rand
}

func NewMockBridge(deliveryRate, permanentRate, readyRate float64, minDelay, maxDelay time.Duration) *MockBridge {
	return &MockBridge{
		deliveryRate:  deliveryRate,
		permanentRate: permanentRate,
		readyRate:     readyRate,
		minDelay:      minDelay,
		maxDelay:      maxDelay,
		sessionID:     "MOCK_SESSION_" + uuid.New().String()[:8],
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (b *MockBridge) simulateSend(req *SendMessageRequest) *SendMessageResponse {
	time.Sleep(b.randomDelay())

	b.mu.Lock()
	succeed := b.rng.Float64() < b.deliveryRate
	permanent := b.rng.Float64() < b.permanentRate
	b.mu.Unlock()

	if succeed {
		log.Info().
			Str("schedule_id", req.ScheduleID).
			Str("recipient", req.Recipient).
			Msg("message sent")
		return &SendMessageResponse{Status: "sent"}
	}

	resp := &SendMessageResponse{Status: "failed"}
	if permanent {
		resp.ErrorCode = "recipient_unknown"
		resp.ErrorMsg = "recipient is not registered on the messaging service"
		resp.Retryable = false
	} else {
		resp.ErrorCode = "session_busy"
		resp.ErrorMsg = "session is busy, try again"
		resp.Retryable = true
	}

	log.Warn().
		Str("schedule_id", req.ScheduleID).
		Str("recipient", req.Recipient).
		Str("error_code", resp.ErrorCode).
		Bool("retryable", resp.Retryable).
		Msg("message delivery failed")

	return resp
}

func (b *MockBridge) randomDelay() time.Duration {
	delta := b.maxDelay - b.minDelay
	if delta <= 0 {
		return b.minDelay
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.minDelay + time.Duration(b.rng.Int63n(int64(delta)))
}

func (b *MockBridge) sessionReady() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rng.Float64() < b.readyRate
}

type Handler struct {
	bridge *MockBridge
}

func NewHandler(bridge *MockBridge) *Handler {
	return &Handler{bridge: bridge}
}

func (h *Handler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	log.Info().
		Str("schedule_id", req.ScheduleID).
		Str("recipient", req.Recipient).
		Bool("has_media", req.Media != "").
		Msg("received send request")

	c.JSON(http.StatusOK, h.bridge.simulateSend(&req))
}

func (h *Handler) HealthCheck(c *gin.Context) {
	session := "authenticated"
	if !h.bridge.sessionReady() {
		session = "waiting_for_qr"
	}

	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Session:   session,
		SessionID: h.bridge.sessionID,
		Timestamp: time.Now(),
	})
}

// UpdateConfig changes the failure knobs at runtime; handy when exercising
// the dispatcher's retry paths by hand.
func (h *Handler) UpdateConfig(c *gin.Context) {
	var config struct {
		DeliveryRate  *float64 `json:"delivery_rate"`
		PermanentRate *float64 `json:"permanent_rate"`
		ReadyRate     *float64 `json:"ready_rate"`
	}

	if err := c.ShouldBindJSON(&config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	h.bridge.mu.Lock()
	if config.DeliveryRate != nil && *config.DeliveryRate >= 0 && *config.DeliveryRate <= 1.0 {
		h.bridge.deliveryRate = *config.DeliveryRate
	}
	if config.PermanentRate != nil && *config.PermanentRate >= 0 && *config.PermanentRate <= 1.0 {
		h.bridge.permanentRate = *config.PermanentRate
	}
	if config.ReadyRate != nil && *config.ReadyRate >= 0 && *config.ReadyRate <= 1.0 {
		h.bridge.readyRate = *config.ReadyRate
	}
	h.bridge.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"message":        "Configuration updated",
		"delivery_rate":  h.bridge.deliveryRate,
		"permanent_rate": h.bridge.permanentRate,
		"ready_rate":     h.bridge.readyRate,
	})
}

func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.Default()

	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request processed")
	})

	v1 := router.Group("/api/v1")
	{
		v1.POST("/messages/send", handler.SendMessage)
		v1.PUT("/config", handler.UpdateConfig)
	}

	router.GET("/health", handler.HealthCheck)

	return router
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	port := getEnv("PORT", "9100")
	deliveryRate := getEnvFloat("DELIVERY_RATE", 1)
	permanentRate := getEnvFloat("PERMANENT_RATE", 0.2)
	readyRate := getEnvFloat("READY_RATE", 1)
	minDelay := getEnvDuration("MIN_DELAY", 200*time.Millisecond)
	maxDelay := getEnvDuration("MAX_DELAY", 2*time.Second)

	log.Info().
		Str("port", port).
		Float64("delivery_rate", deliveryRate).
		Float64("permanent_rate", permanentRate).
		Float64("ready_rate", readyRate).
		Dur("min_delay", minDelay).
		Dur("max_delay", maxDelay).
		Msg("starting mock bridge")

	bridge := NewMockBridge(deliveryRate, permanentRate, readyRate, minDelay, maxDelay)
	handler := NewHandler(bridge)
	router := SetupRouter(handler)

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
