package email

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/mail"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"youth-mis/internal/config"
)

func TestSendgridSender_Send(t *testing.T) {
	var gotAuth, gotPath string
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewSendgridSender("SG.key", "Youth MIS", "MIS", "no-reply@example.com")
	s.host = srv.URL

	err := s.Send(context.Background(), Message{
		To:      mail.Address{Name: "Ada", Address: "ada@example.com"},
		Subject: "Welcome",
		Text:    "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer SG.key", gotAuth)
	assert.Equal(t, "/v3/mail/send", gotPath)

	personalizations := body["personalizations"].([]any)
	first := personalizations[0].(map[string]any)
	assert.Equal(t, "[Youth MIS] Welcome", first["subject"])
}

func TestSendgridSender_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"message":"bad key"}]}`))
	}))
	defer srv.Close()

	s := NewSendgridSender("SG.bad", "Youth MIS", "MIS", "no-reply@example.com")
	s.host = srv.URL
	err := s.Send(context.Background(), Message{To: mail.Address{Address: "ada@example.com"}, Subject: "x", Text: "y"})
	assert.ErrorContains(t, err, "status: 401")
}

func TestConsoleSender(t *testing.T) {
	s := NewConsoleSender(nil)
	boom := errors.New("mailbox full")
	s.FailFor = map[string]error{"bob@example.com": boom}

	require.NoError(t, s.Send(context.Background(), Message{To: mail.Address{Address: "ada@example.com"}, Subject: "hi"}))
	assert.ErrorIs(t, s.Send(context.Background(), Message{To: mail.Address{Address: "bob@example.com"}}), boom)

	sent := s.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "ada@example.com", sent[0].To.Address)
}

func TestFromConfig(t *testing.T) {
	_, err := FromConfig(config.Server{EmailProvider: config.EmailProviderSendgrid}, nil)
	assert.Error(t, err)

	sender, err := FromConfig(config.Server{EmailProvider: config.EmailProviderSendgrid, SendgridAPIKey: "SG.key"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &SendgridSender{}, sender)

	sender, err = FromConfig(config.Server{EmailProvider: config.EmailProviderConsole}, nil)
	require.NoError(t, err)
	assert.IsType(t, &ConsoleSender{}, sender)

	_, err = FromConfig(config.Server{EmailProvider: "pigeon"}, nil)
	assert.Error(t, err)
}
