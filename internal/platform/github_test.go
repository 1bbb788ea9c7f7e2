package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/forgebot/forgebot/internal/config"
	"github.com/google/go-github/v66/github"
)

func testBotConfig() config.BotConfig {
	return config.BotConfig{
		TriggerKeyword:   "sweep",
		Login:            "sweep-ai[bot]",
		BranchPrefix:     "sweep/",
		LabelName:        "sweep",
		LabelColor:       "9400D3",
		LabelDescription: "Assigns the task to the bot.",
	}
}

// fakeAPI is an in-memory GitHub API serving the endpoints the client
// touches: label listing, label creation, and issue labeling.
type fakeAPI struct {
	labels       []map[string]string
	createCalls  int
	issueLabels  map[int][]string
	userLocation string
}

func (a *fakeAPI) handler(t *testing.T) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/app/labels", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(a.labels)
		case http.MethodPost:
			a.createCalls++
			var label map[string]string
			if err := json.NewDecoder(r.Body).Decode(&label); err != nil {
				t.Errorf("decode create-label body: %v", err)
			}
			a.labels = append(a.labels, label)
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(label)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/repos/acme/app/issues/", func(w http.ResponseWriter, r *http.Request) {
		var n int
		if _, err := fmt.Sscanf(r.URL.Path, "/repos/acme/app/issues/%d/labels", &n); err != nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var names []string
		if err := json.NewDecoder(r.Body).Decode(&names); err != nil {
			t.Errorf("decode add-labels body: %v", err)
		}
		if a.issueLabels == nil {
			a.issueLabels = map[int][]string{}
		}
		a.issueLabels[n] = append(a.issueLabels[n], names...)
		json.NewEncoder(w).Encode([]map[string]string{})
	})
	mux.HandleFunc("/users/maria", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"login": "maria", "location": a.userLocation})
	})
	return mux
}

func newTestClient(t *testing.T, api *fakeAPI) *githubClient {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)

	gh := github.NewClient(srv.Client())
	base, _ := url.Parse(srv.URL + "/")
	gh.BaseURL = base
	return &githubClient{gh: gh, bot: testBotConfig()}
}

func TestEnsureLabelCreatesOnce(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(t, api)
	ctx := context.Background()

	if err := c.EnsureLabel(ctx, "acme/app"); err != nil {
		t.Fatalf("EnsureLabel() error = %v", err)
	}
	if api.createCalls != 1 {
		t.Fatalf("create calls after first ensure = %d, want 1", api.createCalls)
	}

	// The second ensure sees the existing label and does not recreate it.
	if err := c.EnsureLabel(ctx, "acme/app"); err != nil {
		t.Fatalf("EnsureLabel() second call error = %v", err)
	}
	if api.createCalls != 1 {
		t.Errorf("create calls after second ensure = %d, want 1", api.createCalls)
	}
}

func TestEnsureLabelMatchesCaseInsensitively(t *testing.T) {
	api := &fakeAPI{labels: []map[string]string{{"name": "Sweep", "color": "9400D3"}}}
	c := newTestClient(t, api)

	if err := c.EnsureLabel(context.Background(), "acme/app"); err != nil {
		t.Fatalf("EnsureLabel() error = %v", err)
	}
	if api.createCalls != 0 {
		t.Errorf("create calls = %d, want 0 when a case variant exists", api.createCalls)
	}
}

func TestAddLabelToIssue(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(t, api)

	if err := c.AddLabelToIssue(context.Background(), "acme/app", 7); err != nil {
		t.Fatalf("AddLabelToIssue() error = %v", err)
	}
	got := api.issueLabels[7]
	if len(got) != 1 || got[0] != "sweep" {
		t.Errorf("issue 7 labels = %v, want [sweep]", got)
	}
}

func TestUserLocation(t *testing.T) {
	api := &fakeAPI{userLocation: "Berlin, Germany"}
	c := newTestClient(t, api)

	loc, err := c.UserLocation(context.Background(), "maria")
	if err != nil {
		t.Fatalf("UserLocation() error = %v", err)
	}
	if loc != "Berlin, Germany" {
		t.Errorf("UserLocation() = %q, want %q", loc, "Berlin, Germany")
	}
}

func TestSplitRepo(t *testing.T) {
	tests := []struct {
		in        string
		owner     string
		name      string
		wantError bool
	}{
		{"acme/app", "acme", "app", false},
		{"acme/app/extra", "acme", "app/extra", false},
		{"acme", "", "", true},
		{"/app", "", "", true},
		{"acme/", "", "", true},
		{"", "", "", true},
	}
	for _, tt := range tests {
		owner, name, err := splitRepo(tt.in)
		if tt.wantError {
			if err == nil {
				t.Errorf("splitRepo(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("splitRepo(%q) error = %v", tt.in, err)
			continue
		}
		if owner != tt.owner || name != tt.name {
			t.Errorf("splitRepo(%q) = (%q, %q), want (%q, %q)", tt.in, owner, name, tt.owner, tt.name)
		}
	}
}
