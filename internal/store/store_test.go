package store

import (
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func openCoreTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
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
	if st.Writer() == nil {
		t.Error("Writer is nil")
	}
	if st.Reader() == nil {
		t.Error("Reader is nil")
	}

	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
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
	st := openCoreTestStore(t)
	if err := st.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestInsertRun_GetRun(t *testing.T) {
	st := openCoreTestStore(t)

	now := time.Now().UTC().Format(time.RFC3339)
	run := &RunRecord{
		ID:            "run-001",
		AgentID:       "agent-1",
		SessionID:     "session-1",
		Serial:        1,
		StartedAt:     now,
		FinishedAt:    now,
		DurationMs:    150,
		ForceRebake:   false,
		Partial:       false,
		PendingLayers: 2,
		Layers: []LayerFingerprintRecord{
			{Layer: 0, Fingerprint: "abc123", CacheHit: true, BakedTextureID: ""},
			{Layer: 1, Fingerprint: "def456", CacheHit: false, BakedTextureID: "baked-tex-1"},
		},
	}

	if err := st.InsertRun(run); err != nil {
		t.Fatalf("InsertRun: %v", err)
	}

	got, err := st.GetRun("run-001")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}

	if got.AgentID != run.AgentID {
		t.Errorf("AgentID: got %q, want %q", got.AgentID, run.AgentID)
	}
	if got.Serial != run.Serial {
		t.Errorf("Serial: got %d, want %d", got.Serial, run.Serial)
	}
	if got.PendingLayers != run.PendingLayers {
		t.Errorf("PendingLayers: got %d, want %d", got.PendingLayers, run.PendingLayers)
	}
	if len(got.Layers) != 2 {
		t.Fatalf("Layers: got %d, want 2", len(got.Layers))
	}
	if !got.Layers[0].CacheHit {
		t.Error("Layers[0].CacheHit: got false, want true")
	}
	if got.Layers[1].BakedTextureID != "baked-tex-1" {
		t.Errorf("Layers[1].BakedTextureID: got %q, want %q", got.Layers[1].BakedTextureID, "baked-tex-1")
	}
}

func TestGetRun_NotFound(t *testing.T) {
	st := openCoreTestStore(t)

	_, err := st.GetRun("nonexistent")
	if err == nil {
		t.Fatal("expected error for nonexistent run")
	}
}

func TestListRuns(t *testing.T) {
	st := openCoreTestStore(t)

	now := time.Now().UTC().Format(time.RFC3339)
	for i := 0; i < 5; i++ {
		run := &RunRecord{
			ID:         "list-" + string(rune('0'+i)),
			AgentID:    "agent-1",
			SessionID:  "session-1",
			Serial:     uint32(i + 1),
			StartedAt:  now,
			FinishedAt: now,
		}
		if err := st.InsertRun(run); err != nil {
			t.Fatalf("InsertRun %d: %v", i, err)
		}
	}

	results, err := st.ListRuns("agent-1", 3, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("ListRuns(3, 0): got %d results, want 3", len(results))
	}
	// Ordered by serial descending: the first page holds the three latest runs.
	if results[0].Serial != 5 {
		t.Errorf("ListRuns[0].Serial: got %d, want 5", results[0].Serial)
	}

	results, err = st.ListRuns("agent-1", 10, 3)
	if err != nil {
		t.Fatalf("ListRuns offset: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("ListRuns(10, 3): got %d results, want 2", len(results))
	}
}

func TestRunStats(t *testing.T) {
	st := openCoreTestStore(t)

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		run := &RunRecord{
			ID:            "stats-" + string(rune('a'+i)),
			AgentID:       "agent-1",
			SessionID:     "session-1",
			Serial:        uint32(i + 1),
			StartedAt:     now.Format(time.RFC3339),
			FinishedAt:    now.Format(time.RFC3339),
			DurationMs:    100,
			Partial:       i == 0, // first run was partial
			PendingLayers: 1,
		}
		if err := st.InsertRun(run); err != nil {
			t.Fatalf("InsertRun: %v", err)
		}
	}

	stats, err := st.RunStats("agent-1", now.Add(-1*time.Hour))
	if err != nil {
		t.Fatalf("RunStats: %v", err)
	}

	if stats.TotalRuns != 3 {
		t.Errorf("TotalRuns: got %d, want 3", stats.TotalRuns)
	}
	if stats.PartialRuns != 1 {
		t.Errorf("PartialRuns: got %d, want 1", stats.PartialRuns)
	}
	if stats.AvgDurationMs != 100 {
		t.Errorf("AvgDurationMs: got %v, want 100", stats.AvgDurationMs)
	}
}

func TestPrune(t *testing.T) {
	st := openCoreTestStore(t)

	oldTime := time.Now().UTC().AddDate(0, 0, -60).Format(time.RFC3339)
	newTime := time.Now().UTC().Format(time.RFC3339)

	for i, ts := range []string{oldTime, oldTime, newTime} {
		run := &RunRecord{
			ID:         "prune-" + string(rune('a'+i)),
			AgentID:    "agent-1",
			SessionID:  "session-1",
			Serial:     uint32(i + 1),
			StartedAt:  ts,
			FinishedAt: ts,
			Layers: []LayerFingerprintRecord{
				{Layer: 0, Fingerprint: "fp", CacheHit: false},
			},
		}
		if err := st.InsertRun(run); err != nil {
			t.Fatalf("InsertRun: %v", err)
		}
	}

	pruned, err := st.Prune(30) // retain 30 days
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}

	if pruned < 2 {
		t.Errorf("Prune: got %d rows deleted, want at least 2", pruned)
	}

	remaining, err := st.ListRuns("agent-1", 100, 0)
	if err != nil {
		t.Fatalf("ListRuns after prune: %v", err)
	}
	if len(remaining) != 1 {
		t.Errorf("after prune: got %d runs, want 1", len(remaining))
	}
}

func TestConcurrentReadWrite(t *testing.T) {
	st := openCoreTestStore(t)

	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			run := &RunRecord{
				ID:         "conc-" + string(rune('a'+n)),
				AgentID:    "agent-1",
				SessionID:  "session-1",
				Serial:     uint32(n + 1),
				StartedAt:  time.Now().UTC().Format(time.RFC3339),
				FinishedAt: time.Now().UTC().Format(time.RFC3339),
			}
			if err := st.InsertRun(run); err != nil {
				t.Errorf("concurrent InsertRun %d: %v", n, err)
			}
		}(i)
	}

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = st.ListRuns("agent-1", 10, 0)
		}()
	}

	wg.Wait()
}

func TestWALMode(t *testing.T) {
	st := openCoreTestStore(t)

	var mode string
	err := st.Writer().QueryRow("PRAGMA journal_mode").Scan(&mode)
	if err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode: got %q, want %q", mode, "wal")
	}
}

func TestMigrations(t *testing.T) {
	st := openCoreTestStore(t)

	var version int
	err := st.Writer().QueryRow("SELECT MAX(version) FROM migrations").Scan(&version)
	if err != nil {
		t.Fatalf("query migration version: %v", err)
	}

	expected := len(migrations)
	if version != expected {
		t.Errorf("migration version: got %d, want %d", version, expected)
	}
}
