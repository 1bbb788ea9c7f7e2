package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/forgebot/forgebot/internal/analytics"
	"github.com/forgebot/forgebot/internal/config"
	"github.com/forgebot/forgebot/internal/dispatch"
	"github.com/forgebot/forgebot/internal/event"
	"github.com/forgebot/forgebot/internal/indexer"
	"github.com/forgebot/forgebot/pkg/models"
)

func newTestHandlers(t *testing.T, secret string) *Handlers {
	t.Helper()
	pool := dispatch.NewPool(1, 8, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	})
	router := dispatch.NewRouter(pool, time.Minute)
	router.Register(models.TaskResolveTicket, func(ctx context.Context, inv models.Invocation) (string, error) {
		return "", nil
	})

	d := event.NewDispatcher(
		config.BotConfig{TriggerKeyword: "sweep", Login: "sweep-ai[bot]", BranchPrefix: "sweep/", LabelName: "sweep"},
		nil,
		router,
		pool,
		indexer.LogIndexer{},
		analytics.NewClient(config.AnalyticsConfig{}),
	)
	return New(d, secret, "test")
}

func postWebhook(h *Handlers, kind string, body []byte, sign func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	if kind != "" {
		req.Header.Set("X-GitHub-Event", kind)
	}
	if sign != nil {
		sign(req)
	}
	w := httptest.NewRecorder()
	h.Webhook(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return body
}

func TestWebhookPing(t *testing.T) {
	h := newTestHandlers(t, "")

	w := postWebhook(h, "ping", []byte(`{"zen":"Anything added dilutes everything else."}`), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if body := decodeBody(t, w); body["message"] != "pong" {
		t.Errorf("body = %v, want message pong", body)
	}
}

func TestWebhookMissingEventHeader(t *testing.T) {
	h := newTestHandlers(t, "")

	w := postWebhook(h, "", []byte(`{}`), nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	if body := decodeBody(t, w); body["detail"] == "" {
		t.Error("422 response must carry a detail message")
	}
}

func TestWebhookSchemaErrorMapsTo422(t *testing.T) {
	h := newTestHandlers(t, "")

	// An issues/labeled delivery with no installation fails validation.
	payload := `{
		"action": "labeled",
		"issue": {"number": 7, "title": "Sweep: fix", "user": {"login": "maria", "type": "User"}, "labels": [{"name": "sweep"}]},
		"repository": {"full_name": "acme/app"}
	}`
	w := postWebhook(h, "issues", []byte(payload), nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422, body %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	detail, _ := body["detail"].(string)
	if detail == "" {
		t.Fatal("422 response must carry a detail message")
	}
}

func TestWebhookMalformedJSONMapsTo422(t *testing.T) {
	h := newTestHandlers(t, "")

	w := postWebhook(h, "issues", []byte(`{"action": "labeled", "issue":`), nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
}

func TestWebhookUnmatchedEventAcknowledged(t *testing.T) {
	h := newTestHandlers(t, "")

	w := postWebhook(h, "workflow_run", []byte(`{"action":"completed"}`), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if body := decodeBody(t, w); body["success"] != true {
		t.Errorf("body = %v, want success true", body)
	}
}

func TestWebhookSignatureVerification(t *testing.T) {
	const secret = "hunter2"
	h := newTestHandlers(t, secret)
	payload := []byte(`{"zen":"Approachable is better than simple."}`)

	sign := func(key string) func(*http.Request) {
		return func(req *http.Request) {
			mac := hmac.New(sha256.New, []byte(key))
			mac.Write(payload)
			req.Header.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
		}
	}

	t.Run("valid signature", func(t *testing.T) {
		w := postWebhook(h, "ping", payload, sign(secret))
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		w := postWebhook(h, "ping", payload, sign("wrong"))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})

	t.Run("missing signature", func(t *testing.T) {
		w := postWebhook(h, "ping", payload, nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})

	t.Run("no secret configured skips verification", func(t *testing.T) {
		open := newTestHandlers(t, "")
		w := postWebhook(open, "ping", payload, nil)
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
	})
}

func TestHealth(t *testing.T) {
	h := newTestHandlers(t, "")
	w := httptest.NewRecorder()
	h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if body := decodeBody(t, w); body["status"] != "healthy" {
		t.Errorf("body = %v", body)
	}
}

func TestVersionInfo(t *testing.T) {
	h := newTestHandlers(t, "")
	w := httptest.NewRecorder()
	h.VersionInfo(w, httptest.NewRequest(http.MethodGet, "/version", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if body := decodeBody(t, w); body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
}
