package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/forgebot/forgebot/internal/config"
	"github.com/forgebot/forgebot/internal/geo"
)

// fakeStore is an in-memory CounterStore with switchable failure modes.
type fakeStore struct {
	mu       sync.Mutex
	counters map[string]map[string]int64
	paying   map[string]bool
	trial    map[string]bool

	failFlags    bool
	failCounters bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		counters: map[string]map[string]int64{},
		paying:   map[string]bool{},
		trial:    map[string]bool{},
	}
}

func (f *fakeStore) IncrCounters(ctx context.Context, username string, keys ...string) error {
	if f.failCounters {
		return errors.New("store down")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counters[username] == nil {
		f.counters[username] = map[string]int64{}
	}
	for _, k := range keys {
		f.counters[username][k]++
	}
	return nil
}

func (f *fakeStore) Counter(ctx context.Context, username, key string) (int64, error) {
	if f.failCounters {
		return 0, errors.New("store down")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counters[username][key], nil
}

func (f *fakeStore) Flags(ctx context.Context, username string) (bool, bool, error) {
	if f.failFlags {
		return false, false, errors.New("store down")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paying[username], f.trial[username], nil
}

func (f *fakeStore) SetFlag(ctx context.Context, username, flag string, value bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch flag {
	case flagPayingUser:
		f.paying[username] = value
	case flagTrialUser:
		f.trial[username] = value
	}
	return nil
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }
func (f *fakeStore) Close() error                   { return nil }

// fakeResolver returns a canned result or error per query.
type fakeResolver struct {
	loc *geo.Location
	err error
}

func (f *fakeResolver) Resolve(ctx context.Context, location string) (*geo.Location, error) {
	return f.loc, f.err
}

// fakeLocator returns a canned profile location.
type fakeLocator struct {
	location string
	err      error
}

func (f *fakeLocator) UserLocation(ctx context.Context, username string) (string, error) {
	return f.location, f.err
}

func testQuotaConfig() config.QuotaConfig {
	return config.QuotaConfig{
		PaidMonthlyLimit:   500,
		TrialMonthlyLimit:  15,
		FreeMonthlyLimit:   5,
		FreeDailyLimit:     1,
		FallbackDailyLimit: 3,
		SupportedCountries: []string{"united states"},
	}
}

// frozen pins the governor clock so period keys are stable across a test.
var frozen = time.Date(2026, time.August, 30, 12, 0, 0, 0, time.UTC)

func newTestGovernor(store CounterStore, resolver geo.Resolver, users UserLocator) *Governor {
	g := NewGovernor(store, resolver, users, testQuotaConfig())
	g.now = func() time.Time { return frozen }
	return g
}

func setCount(f *fakeStore, username, key string, n int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counters[username] == nil {
		f.counters[username] = map[string]int64{}
	}
	f.counters[username][key] = n
}

func TestRecordTicketIncrements(t *testing.T) {
	f := newFakeStore()
	g := newTestGovernor(f, nil, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		g.RecordTicket(ctx, "alice", false)
	}
	g.RecordTicket(ctx, "alice", true)

	month, err := g.TicketCount(ctx, "alice", false, false)
	if err != nil {
		t.Fatalf("TicketCount() error = %v", err)
	}
	if month != 4 {
		t.Errorf("month count = %d, want 4", month)
	}
	day, _ := g.TicketCount(ctx, "alice", true, false)
	if day != 4 {
		t.Errorf("day count = %d, want 4", day)
	}
	fast, _ := g.TicketCount(ctx, "alice", false, true)
	if fast != 1 {
		t.Errorf("fast count = %d, want 1", fast)
	}
}

func TestTicketCountFastOverridesDay(t *testing.T) {
	f := newFakeStore()
	setCount(f, "bob", fastKey(frozen), 7)
	setCount(f, "bob", dayKey(frozen), 2)
	g := newTestGovernor(f, nil, nil)

	n, err := g.TicketCount(context.Background(), "bob", true, true)
	if err != nil {
		t.Fatalf("TicketCount() error = %v", err)
	}
	if n != 7 {
		t.Errorf("TicketCount(byDay, fastTier) = %d, want fast counter 7", n)
	}
}

func TestRecordTicketWithoutStore(t *testing.T) {
	g := newTestGovernor(nil, nil, nil)
	// Must not panic.
	g.RecordTicket(context.Background(), "carol", false)
	if _, err := g.TicketCount(context.Background(), "carol", false, false); err == nil {
		t.Error("TicketCount() with nil store should error")
	}
}

func TestShouldDegradePayingBoundary(t *testing.T) {
	tests := []struct {
		name  string
		month int64
		want  bool
	}{
		{"well under limit", 0, false},
		{"one under limit", 499, false},
		{"at limit", 500, true},
		{"over limit", 501, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeStore()
			f.paying["dave"] = true
			setCount(f, "dave", monthKey(frozen), tt.month)
			g := newTestGovernor(f, nil, nil)

			if got := g.ShouldDegrade(context.Background(), "dave"); got != tt.want {
				t.Errorf("ShouldDegrade() with month=%d = %v, want %v", tt.month, got, tt.want)
			}
		})
	}
}

func TestShouldDegradeTrialBoundary(t *testing.T) {
	tests := []struct {
		name  string
		month int64
		want  bool
	}{
		{"under limit", 14, false},
		{"at limit", 15, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeStore()
			f.trial["erin"] = true
			setCount(f, "erin", monthKey(frozen), tt.month)
			g := newTestGovernor(f, nil, nil)

			if got := g.ShouldDegrade(context.Background(), "erin"); got != tt.want {
				t.Errorf("ShouldDegrade() with month=%d = %v, want %v", tt.month, got, tt.want)
			}
		})
	}
}

func TestShouldDegradePayingWinsOverTrial(t *testing.T) {
	// A user with both flags is evaluated against the paying limit.
	f := newFakeStore()
	f.paying["frank"] = true
	f.trial["frank"] = true
	setCount(f, "frank", monthKey(frozen), 20) // over trial, under paid
	g := newTestGovernor(f, nil, nil)

	if g.ShouldDegrade(context.Background(), "frank") {
		t.Error("ShouldDegrade() = true for paying user under paid limit")
	}
}

func TestShouldDegradeFreeTierUnsupportedCountry(t *testing.T) {
	resolver := &fakeResolver{loc: &geo.Location{DisplayName: "Berlin, Germany"}}
	locator := &fakeLocator{location: "Berlin"}

	tests := []struct {
		name  string
		month int64
		day   int64
		want  bool
	}{
		{"fresh user", 0, 0, false},
		{"first ticket today", 4, 0, false},
		{"daily allowance spent", 0, 1, true},
		{"monthly allowance spent", 5, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeStore()
			setCount(f, "gus", monthKey(frozen), tt.month)
			setCount(f, "gus", dayKey(frozen), tt.day)
			g := newTestGovernor(f, resolver, locator)

			if got := g.ShouldDegrade(context.Background(), "gus"); got != tt.want {
				t.Errorf("ShouldDegrade() month=%d day=%d = %v, want %v", tt.month, tt.day, got, tt.want)
			}
		})
	}
}

func TestShouldDegradeFreeTierUnresolvedLocation(t *testing.T) {
	// Geolocation failures fall through to the looser daily allowance.
	tests := []struct {
		name     string
		resolver geo.Resolver
		locator  UserLocator
	}{
		{"no locator wired", nil, nil},
		{"empty profile location", &fakeResolver{}, &fakeLocator{location: ""}},
		{"profile lookup error", &fakeResolver{}, &fakeLocator{err: errors.New("api down")}},
		{"geocoder no match", &fakeResolver{err: geo.ErrNoMatch}, &fakeLocator{location: "The Moon"}},
		{"geocoder timeout", &fakeResolver{err: geo.ErrTimeout}, &fakeLocator{location: "Berlin"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeStore()
			setCount(f, "hana", dayKey(frozen), 3) // over strict bound, within loose
			g := newTestGovernor(f, tt.resolver, tt.locator)

			if g.ShouldDegrade(context.Background(), "hana") {
				t.Error("ShouldDegrade() = true, want false on the unresolved allowance")
			}

			setCount(f, "hana", dayKey(frozen), 4)
			if !g.ShouldDegrade(context.Background(), "hana") {
				t.Error("ShouldDegrade() = false with day=4, want true")
			}
		})
	}
}

func TestShouldDegradeFreeTierSupportedCountry(t *testing.T) {
	// A resolved supported country gets the same loose daily allowance as
	// the unresolved branch.
	resolver := &fakeResolver{loc: &geo.Location{DisplayName: "San Francisco, California, United States"}}
	locator := &fakeLocator{location: "SF"}

	f := newFakeStore()
	setCount(f, "ivan", dayKey(frozen), 3)
	g := newTestGovernor(f, resolver, locator)

	if g.ShouldDegrade(context.Background(), "ivan") {
		t.Error("ShouldDegrade() = true for supported country with day=3")
	}

	setCount(f, "ivan", monthKey(frozen), 5)
	if !g.ShouldDegrade(context.Background(), "ivan") {
		t.Error("ShouldDegrade() = false with monthly allowance spent")
	}
}

func TestSupportedCountryMatchIsCaseInsensitiveSubstring(t *testing.T) {
	g := newTestGovernor(newFakeStore(), nil, nil)

	tests := []struct {
		display string
		want    bool
	}{
		{"Austin, Texas, UNITED STATES", true},
		{"united states of america", true},
		{"Berlin, Germany", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := g.supportedCountry(tt.display); got != tt.want {
			t.Errorf("supportedCountry(%q) = %v, want %v", tt.display, got, tt.want)
		}
	}
}

func TestShouldDegradeStoreUnavailable(t *testing.T) {
	ctx := context.Background()

	t.Run("nil store", func(t *testing.T) {
		g := newTestGovernor(nil, nil, nil)
		if !g.ShouldDegrade(ctx, "judy") {
			t.Error("ShouldDegrade() = false with nil store, want true")
		}
	})

	t.Run("flag read failure", func(t *testing.T) {
		f := newFakeStore()
		f.failFlags = true
		g := newTestGovernor(f, nil, nil)
		if !g.ShouldDegrade(ctx, "judy") {
			t.Error("ShouldDegrade() = false when flags unreadable, want true")
		}
	})

	t.Run("counter read failure", func(t *testing.T) {
		f := newFakeStore()
		f.paying["judy"] = true
		f.failCounters = true
		g := newTestGovernor(f, nil, nil)
		if !g.ShouldDegrade(ctx, "judy") {
			t.Error("ShouldDegrade() = false when counters unreadable, want true")
		}
	})
}

func TestShouldDegradeMonotonic(t *testing.T) {
	// Once a user degrades within a period, more usage never un-degrades
	// them.
	f := newFakeStore()
	f.trial["kim"] = true
	setCount(f, "kim", monthKey(frozen), 15)
	g := newTestGovernor(f, nil, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if !g.ShouldDegrade(ctx, "kim") {
			t.Fatalf("ShouldDegrade() flipped back to false after %d extra tickets", i)
		}
		g.RecordTicket(ctx, "kim", true)
	}
}

func TestTierFlagAccessors(t *testing.T) {
	f := newFakeStore()
	f.paying["lou"] = true
	f.trial["mia"] = true
	g := newTestGovernor(f, nil, nil)
	ctx := context.Background()

	if !g.IsPayingUser(ctx, "lou") || g.IsTrialUser(ctx, "lou") {
		t.Error("lou should be paying and not trial")
	}
	if g.IsPayingUser(ctx, "mia") || !g.IsTrialUser(ctx, "mia") {
		t.Error("mia should be trial and not paying")
	}

	nilGov := newTestGovernor(nil, nil, nil)
	if nilGov.IsPayingUser(ctx, "lou") || nilGov.IsTrialUser(ctx, "mia") {
		t.Error("tier accessors must report false with nil store")
	}
}
