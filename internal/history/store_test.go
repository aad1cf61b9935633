package history

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/tidegate/cascade/internal/fallback"
)

func openTestStore(t *testing.T, opts ...StoreOption) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func sampleRecord(id string, startedAt time.Time) *fallback.ExecutionRecord {
	return &fallback.ExecutionRecord{
		ID:               id,
		SessionID:        "sess-1",
		OriginalProvider: "origin-a",
		FailureReason:    "request timeout",
		Attempts: []fallback.Attempt{
			{
				Tier: 1, ProviderID: "alpha", Ordinal: 1,
				Outcome: fallback.OutcomeTimeout, Latency: 1200 * time.Millisecond,
				QualityScore: -1, Error: "context deadline exceeded",
				Timestamp: startedAt.Add(time.Second),
			},
			{
				Tier: 2, ProviderID: "beta", Ordinal: 2,
				Outcome: fallback.OutcomeSuccess, Latency: 600 * time.Millisecond,
				QualityScore: 0.82,
				Timestamp:    startedAt.Add(2 * time.Second),
			},
		},
		Success:         true,
		WinningProvider: "beta",
		FallbackLevel:   2,
		QualityScore:    0.82,
		CostUSD:         0.004,
		TotalLatency:    1800 * time.Millisecond,
		Content:         "a stored response body",
		TokensIn:        12,
		TokensOut:       40,
		StartedAt:       startedAt,
		CompletedAt:     startedAt.Add(2 * time.Second),
	}
}

func TestOpen_Close(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if st.Path() != path {
		t.Errorf("Path: got %q, want %q", st.Path(), path)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Close is idempotent.
	if err := st.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestOpen_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "test.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("Open with nested dir: %v", err)
	}
	st.Close()
}

func TestPing(t *testing.T) {
	st := openTestStore(t)
	if err := st.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestInsert_Get_RoundTrip(t *testing.T) {
	st := openTestStore(t)
	started := time.Now().UTC().Truncate(time.Second)
	rec := sampleRecord("exec-001", started)

	if err := st.Insert(rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := st.Get("exec-001")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if got.WinningProvider != "beta" {
		t.Errorf("WinningProvider: got %q, want %q", got.WinningProvider, "beta")
	}
	if got.FallbackLevel != 2 {
		t.Errorf("FallbackLevel: got %d, want 2", got.FallbackLevel)
	}
	if !got.Success {
		t.Error("Success: got false, want true")
	}
	if got.TotalLatency != 1800*time.Millisecond {
		t.Errorf("TotalLatency: got %v, want 1800ms", got.TotalLatency)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt: got %v, want %v", got.StartedAt, started)
	}
	if len(got.Attempts) != 2 {
		t.Fatalf("Attempts: got %d, want 2", len(got.Attempts))
	}
	if got.Attempts[0].Outcome != fallback.OutcomeTimeout {
		t.Errorf("attempt 1 outcome: got %q", got.Attempts[0].Outcome)
	}
	if got.Attempts[0].QualityScore != -1 {
		t.Errorf("attempt 1 quality: got %f, want -1", got.Attempts[0].QualityScore)
	}
	if got.Attempts[1].ProviderID != "beta" {
		t.Errorf("attempt 2 provider: got %q", got.Attempts[1].ProviderID)
	}
}

func TestGet_NotFound(t *testing.T) {
	st := openTestStore(t)
	_, err := st.Get("missing")
	if !errors.Is(err, fallback.ErrRecordNotFound) {
		t.Fatalf("Get missing: got %v, want ErrRecordNotFound", err)
	}
}

func TestList_OrderedByStartDescending(t *testing.T) {
	st := openTestStore(t)
	base := time.Now().UTC().Truncate(time.Second)

	for i := 0; i < 3; i++ {
		rec := sampleRecord("exec-"+string(rune('a'+i)), base.Add(time.Duration(i)*time.Minute))
		if err := st.Insert(rec); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}

	list, err := st.List(10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("List: got %d records, want 3", len(list))
	}
	if list[0].ID != "exec-c" || list[2].ID != "exec-a" {
		t.Errorf("List order wrong: %s, %s, %s", list[0].ID, list[1].ID, list[2].ID)
	}

	page, err := st.List(1, 1)
	if err != nil {
		t.Fatalf("List page: %v", err)
	}
	if len(page) != 1 || page[0].ID != "exec-b" {
		t.Errorf("List pagination: got %v", page)
	}
}

func TestPrune_RemovesOldExecutions(t *testing.T) {
	st := openTestStore(t, WithRetentionDays(7))

	old := sampleRecord("exec-old", time.Now().UTC().AddDate(0, 0, -10))
	recent := sampleRecord("exec-new", time.Now().UTC())
	if err := st.Insert(old); err != nil {
		t.Fatalf("Insert old: %v", err)
	}
	if err := st.Insert(recent); err != nil {
		t.Fatalf("Insert recent: %v", err)
	}

	n, err := st.Prune()
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("Prune: got %d deleted, want 1", n)
	}

	if _, err := st.Get("exec-old"); !errors.Is(err, fallback.ErrRecordNotFound) {
		t.Errorf("pruned record still retrievable: %v", err)
	}
	if _, err := st.Get("exec-new"); err != nil {
		t.Errorf("recent record gone after prune: %v", err)
	}
}

func TestProviderStats(t *testing.T) {
	st := openTestStore(t)
	started := time.Now().UTC().Truncate(time.Second)

	if err := st.Insert(sampleRecord("exec-1", started)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := st.Insert(sampleRecord("exec-2", started.Add(time.Minute))); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	stats, err := st.ProviderStats(started.Add(-time.Hour))
	if err != nil {
		t.Fatalf("ProviderStats: %v", err)
	}

	byProvider := make(map[string]ProviderStat)
	for _, s := range stats {
		byProvider[s.ProviderID] = s
	}

	alpha, ok := byProvider["alpha"]
	if !ok {
		t.Fatal("no stats for alpha")
	}
	if alpha.Attempts != 2 || alpha.Successes != 0 {
		t.Errorf("alpha: attempts=%d successes=%d, want 2/0", alpha.Attempts, alpha.Successes)
	}
	if alpha.AvgQuality != 0 {
		t.Errorf("alpha avg quality should ignore unassessed attempts, got %f", alpha.AvgQuality)
	}

	beta, ok := byProvider["beta"]
	if !ok {
		t.Fatal("no stats for beta")
	}
	if beta.SuccessRate() != 1.0 {
		t.Errorf("beta success rate: got %f, want 1.0", beta.SuccessRate())
	}
	if beta.AvgQuality < 0.81 || beta.AvgQuality > 0.83 {
		t.Errorf("beta avg quality: got %f, want ~0.82", beta.AvgQuality)
	}
	if beta.Tier != 2 {
		t.Errorf("beta tier: got %d, want 2", beta.Tier)
	}
}

func TestDailyTrends(t *testing.T) {
	st := openTestStore(t)
	started := time.Now().UTC().Truncate(time.Second)

	if err := st.Insert(sampleRecord("exec-1", started)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	failed := sampleRecord("exec-2", started.Add(time.Minute))
	failed.Success = false
	failed.FallbackLevel = 0
	failed.WinningProvider = ""
	if err := st.Insert(failed); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	trends, err := st.DailyTrends(7)
	if err != nil {
		t.Fatalf("DailyTrends: %v", err)
	}
	if len(trends) != 1 {
		t.Fatalf("DailyTrends: got %d days, want 1", len(trends))
	}
	day := trends[0]
	if day.Executions != 2 || day.Successes != 1 {
		t.Errorf("trend: executions=%d successes=%d, want 2/1", day.Executions, day.Successes)
	}
	if day.AvgFallbacks != 2.0 {
		t.Errorf("trend avg fallback level: got %f, want 2.0 (exhausted runs excluded)", day.AvgFallbacks)
	}
	if day.Day != started.Format("2006-01-02") {
		t.Errorf("trend day: got %q", day.Day)
	}
}
