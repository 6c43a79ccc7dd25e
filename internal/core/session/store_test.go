package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "session-state.json"))
}

func TestLoadMissing(t *testing.T) {
	store := tempStore(t)
	if _, err := store.Load(); !errors.Is(err, ErrMissing) {
		t.Fatalf("expected ErrMissing, got %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := tempStore(t)

	state := NewState()
	state.MarkCompleted("p-tsp")
	state.MarkSkipped("p-cup")
	state.RecordCreatedUnit("u1")
	state.RecordAliasAddition("f1", "EVOO")
	state.RecordOperation("create_unit", "p-tsp", 3, "all_ok")

	if err := store.Save(state); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.SessionID != state.SessionID {
		t.Errorf("session id mismatch")
	}
	if !loaded.IsCompleted("p-tsp") || !loaded.IsSkipped("p-cup") {
		t.Errorf("pattern sets not preserved")
	}
	if loaded.Stats.UnitsCreated != 1 || loaded.Stats.AliasesAdded != 1 {
		t.Errorf("stats not preserved: %+v", loaded.Stats)
	}
	if len(loaded.RecentOperations) != 1 {
		t.Errorf("recent operations not preserved")
	}
}

func TestLoadCorruptedJSON(t *testing.T) {
	store := tempStore(t)
	if err := os.WriteFile(store.Path(), []byte("{not valid json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load(); !errors.Is(err, ErrCorrupted) {
		t.Fatalf("expected ErrCorrupted, got %v", err)
	}
}

func TestLoadTruncatedFile(t *testing.T) {
	// 模擬寫入途中當機留下的半截檔案
	store := tempStore(t)
	state := NewState()
	state.MarkCompleted("p-tsp")
	if err := store.Save(state); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(store.Path(), raw[:len(raw)/2], 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load(); !errors.Is(err, ErrCorrupted) {
		t.Fatalf("expected ErrCorrupted for truncated file, got %v", err)
	}
}

func TestLoadIncompatibleSchema(t *testing.T) {
	store := tempStore(t)
	if err := os.WriteFile(store.Path(), []byte(`{"schema_version":"0.9"}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load(); !errors.Is(err, ErrIncompatibleSchema) {
		t.Fatalf("expected ErrIncompatibleSchema, got %v", err)
	}
}

func TestLoadOverlappingSetsDowngradesToCorrupted(t *testing.T) {
	store := tempStore(t)
	content := `{"schema_version":"1.0","completed_pattern_ids":["p1"],"skipped_pattern_ids":["p1"]}`
	if err := os.WriteFile(store.Path(), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load(); !errors.Is(err, ErrCorrupted) {
		t.Fatalf("overlapping sets must load as corrupted, got %v", err)
	}
}

func TestLoadDuplicateIDsDowngradesToCorrupted(t *testing.T) {
	store := tempStore(t)
	content := `{"schema_version":"1.0","completed_pattern_ids":["p1","p1"]}`
	if err := os.WriteFile(store.Path(), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load(); !errors.Is(err, ErrCorrupted) {
		t.Fatalf("duplicate ids must load as corrupted, got %v", err)
	}
}

func TestCrashDuringSaveKeepsPreviousState(t *testing.T) {
	store := tempStore(t)

	state := NewState()
	state.MarkCompleted("p-tsp")
	if err := store.Save(state); err != nil {
		t.Fatal(err)
	}

	// 當機只會留下暫存檔，正式檔案必須維持前一版
	if err := os.WriteFile(store.Path()+".tmp", []byte("partial"), 0644); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("load after simulated crash failed: %v", err)
	}
	if !loaded.IsCompleted("p-tsp") {
		t.Fatal("previous committed state lost")
	}
}

func TestLargeStateGzipCompressed(t *testing.T) {
	store := tempStore(t)

	state := NewState()
	for i := 0; i < 3000; i++ {
		state.CompletedPatternIDs = append(state.CompletedPatternIDs,
			fmt.Sprintf("pattern-%04d-%032d", i, i))
	}

	if err := store.Save(state); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) < 2 || raw[0] != 0x1f || raw[1] != 0x8b {
		t.Fatal("oversized session file should be gzip-compressed on disk")
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("load of compressed file failed: %v", err)
	}
	if len(loaded.CompletedPatternIDs) != 3000 {
		t.Fatalf("compressed round-trip lost data: %d ids", len(loaded.CompletedPatternIDs))
	}
}

func TestDiscard(t *testing.T) {
	store := tempStore(t)
	if err := store.Save(NewState()); err != nil {
		t.Fatal(err)
	}
	if err := store.Discard(); err != nil {
		t.Fatal(err)
	}
	if store.Exists() {
		t.Fatal("session file still present after discard")
	}
	// 重複清除不是錯誤
	if err := store.Discard(); err != nil {
		t.Fatalf("discard of missing file should be a no-op, got %v", err)
	}
}
