package alert

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/forgebot/forgebot/internal/config"
)

func TestEmitPostsToPriorityChannel(t *testing.T) {
	type received struct {
		path string
		body map[string]string
	}
	got := make(chan received, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]string
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Errorf("decode alert body: %v", err)
		}
		got <- received{path: r.URL.Path, body: body}
	}))
	defer srv.Close()

	e := NewEmitter(config.AlertConfig{
		HighPriorityURL:   srv.URL + "/high",
		MediumPriorityURL: srv.URL + "/medium",
		LowPriorityURL:    srv.URL + "/low",
	})

	e.Emit(context.Background(), "redis unreachable", PriorityMedium)

	r := <-got
	if r.path != "/medium" {
		t.Errorf("alert hit %q, want /medium", r.path)
	}
	if r.body["content"] != "redis unreachable" {
		t.Errorf("alert content = %q", r.body["content"])
	}
}

func TestEmitSkipsUnconfiguredChannel(t *testing.T) {
	hit := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
	}))
	defer srv.Close()

	e := NewEmitter(config.AlertConfig{HighPriorityURL: srv.URL})
	e.Emit(context.Background(), "nobody listens", PriorityLow)
	if hit {
		t.Error("Emit() posted to an unrelated channel")
	}
}

func TestEmitSwallowsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := NewEmitter(config.AlertConfig{HighPriorityURL: srv.URL})
	// Must not panic or block; failures are fire-and-forget.
	e.Emit(context.Background(), "still fine", PriorityHigh)
}

func TestPriorityString(t *testing.T) {
	tests := []struct {
		p    Priority
		want string
	}{
		{PriorityHigh, "high"},
		{PriorityMedium, "medium"},
		{PriorityLow, "low"},
		{Priority(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.p.String(); got != tt.want {
			t.Errorf("Priority(%d).String() = %q, want %q", tt.p, got, tt.want)
		}
	}
}
