package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/salvagebid/internal/domain"
)

func TestWebhookSender(t *testing.T) {
	var got Message
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewWebhookSender(ChannelSMS, srv.URL, "sk_sms")
	msg := Message{Recipient: "vendor-a", Template: domain.TemplateOutbid, Title: "t", Body: "b"}
	require.NoError(t, s.Send(context.Background(), msg))
	assert.Equal(t, msg, got)
	assert.Equal(t, "Bearer sk_sms", auth)
	assert.Equal(t, ChannelSMS, s.Name())
}

func TestWebhookSender_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewWebhookSender(ChannelEmail, srv.URL, "").Send(context.Background(), Message{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestTelegramSender(t *testing.T) {
	var path string
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender(srv.URL+"/", "123:abc", "-100200")
	require.NoError(t, s.Send(context.Background(), Message{Title: "Fraud alert", Body: "details"}))
	assert.Equal(t, "/bot123:abc/sendMessage", path)
	assert.Equal(t, "-100200", body["chat_id"])
	assert.Equal(t, "*Fraud alert*\ndetails", body["text"])
}
