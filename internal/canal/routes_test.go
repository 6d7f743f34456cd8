package canal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/slack-canal/internal/project"
)

func postEvents(t *testing.T, h *harness, body []byte, secret string) (int, []byte) {
	t.Helper()
	app := h.canal.NewRouter()

	req := httptest.NewRequest("POST", "/api/slack/events", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		ts := fmt.Sprintf("%d", time.Now().Unix())
		req.Header.Set(headerTimestamp, ts)
		req.Header.Set(headerSignature, sign(secret, ts, body))
	}

	resp, err := app.Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

func webhookConfig() project.SlackConfig {
	cfg := defaultConfig()
	cfg.SigningSecret = "wh-secret"
	return cfg
}

func TestRoutes_Health(t *testing.T) {
	h := newHarness(webhookConfig())
	app := h.canal.NewRouter()

	resp, err := app.Test(httptest.NewRequest("GET", "/api/slack/health", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 200, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestRoutes_RequestIDHeader(t *testing.T) {
	h := newHarness(webhookConfig())
	app := h.canal.NewRouter()

	resp, err := app.Test(httptest.NewRequest("GET", "/api/slack/health", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestRoutes_RejectsUnsignedRequest(t *testing.T) {
	h := newHarness(webhookConfig())

	code, _ := postEvents(t, h, []byte(`{"type":"event_callback"}`), "")
	assert.Equal(t, 401, code)
}

func TestRoutes_RejectsWrongSecret(t *testing.T) {
	h := newHarness(webhookConfig())

	code, _ := postEvents(t, h, []byte(`{"type":"event_callback"}`), "some-other-secret")
	assert.Equal(t, 401, code)
}

func TestRoutes_URLVerificationEcho(t *testing.T) {
	h := newHarness(webhookConfig())

	body := []byte(`{"type":"url_verification","challenge":"c0ffee"}`)
	code, raw := postEvents(t, h, body, "wh-secret")
	require.Equal(t, 200, code)

	var out map[string]string
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "c0ffee", out["challenge"])
}

func TestRoutes_BadJSON(t *testing.T) {
	h := newHarness(webhookConfig())

	code, _ := postEvents(t, h, []byte(`{not json`), "wh-secret")
	assert.Equal(t, 400, code)
}

func TestRoutes_EventAckedThenProcessed(t *testing.T) {
	h := newHarness(webhookConfig())

	body := []byte(`{"type":"event_callback","event":{"type":"message","text":"<@BOT> hello there","user":"U1","channel":"C42","channel_type":"channel","ts":"600.100"}}`)
	code, raw := postEvents(t, h, body, "wh-secret")
	require.Equal(t, 200, code)
	assert.Equal(t, "OK", string(raw))

	// Processing happens after the ack; give it a moment.
	require.Eventually(t, func() bool {
		return len(h.bridge.createdCalls()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	created := h.bridge.createdCalls()
	assert.Equal(t, "hello there", created[0].prompt)
}

func TestRoutes_FilteredEventNotForwarded(t *testing.T) {
	h := newHarness(webhookConfig())

	// bot_id set: always rejected by the filter
	body := []byte(`{"type":"event_callback","event":{"type":"message","text":"loop","bot_id":"B1","channel":"C42","ts":"600.100"}}`)
	code, _ := postEvents(t, h, body, "wh-secret")
	require.Equal(t, 200, code)

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, h.bridge.createdCalls())
}

func TestRoutes_MultiProjectSecretMatching(t *testing.T) {
	h := newHarness(webhookConfig())
	other := defaultConfig()
	other.SigningSecret = "other-secret"
	h.projects.set("other", other)

	body := []byte(`{"type":"event_callback","event":{"type":"message","text":"<@BOT> ping","user":"U1","channel":"C1","channel_type":"channel","ts":"1.1"}}`)
	code, _ := postEvents(t, h, body, "other-secret")
	require.Equal(t, 200, code)

	require.Eventually(t, func() bool {
		return len(h.bridge.createdCalls()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "other", h.bridge.createdCalls()[0].project)
}
