package bridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBridgeServer(t *testing.T, handler http.HandlerFunc) *Client {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(Config{URL: server.URL, Timeout: 2 * time.Second})
}

func TestClient_Send(t *testing.T) {
	ctx := context.Background()

	t.Run("successful send", func(t *testing.T) {
		client := newBridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v1/messages/send", r.URL.Path)
			w.Write([]byte(`{"status":"sent"}`))
		})

		result, err := client.Send(ctx, &SendRequest{Recipient: "+1234567890", Body: "hi"})
		require.NoError(t, err)
		assert.True(t, result.Success)
	})

	t.Run("permanent rejection", func(t *testing.T) {
		client := newBridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status":"failed","error_code":"recipient_unknown","retryable":false}`))
		})

		result, err := client.Send(ctx, &SendRequest{Recipient: "+1234567890", Body: "hi"})
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, ErrorKindPermanent, result.ErrorKind)
		assert.Equal(t, "recipient_unknown", result.Reason)
	})

	t.Run("retryable failure", func(t *testing.T) {
		client := newBridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status":"failed","error_message":"session busy","retryable":true}`))
		})

		result, err := client.Send(ctx, &SendRequest{Recipient: "+1234567890", Body: "hi"})
		require.NoError(t, err)
		assert.Equal(t, ErrorKindTransient, result.ErrorKind)
		assert.Equal(t, "session busy", result.Reason)
	})

	t.Run("bridge error status is transient", func(t *testing.T) {
		client := newBridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})

		result, err := client.Send(ctx, &SendRequest{Recipient: "+1234567890", Body: "hi"})
		require.NoError(t, err)
		assert.Equal(t, ErrorKindTransient, result.ErrorKind)
	})

	t.Run("connection error is transient", func(t *testing.T) {
		client := NewClient(Config{URL: "http://127.0.0.1:1", Timeout: time.Second})

		result, err := client.Send(ctx, &SendRequest{Recipient: "+1234567890", Body: "hi"})
		require.NoError(t, err)
		assert.Equal(t, ErrorKindTransient, result.ErrorKind)
	})
}

func TestClient_Ready(t *testing.T) {
	ctx := context.Background()

	t.Run("authenticated session", func(t *testing.T) {
		client := newBridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/health", r.URL.Path)
			w.Write([]byte(`{"status":"ok","session":"authenticated"}`))
		})
		assert.True(t, client.Ready(ctx))
	})

	t.Run("session not ready", func(t *testing.T) {
		client := newBridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status":"ok","session":"waiting_for_qr"}`))
		})
		assert.False(t, client.Ready(ctx))
	})

	t.Run("bridge down", func(t *testing.T) {
		client := NewClient(Config{URL: "http://127.0.0.1:1", Timeout: time.Second})
		assert.False(t, client.Ready(ctx))
	})
}
