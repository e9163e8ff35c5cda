package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mehrguard/mehrguard/internal/tables"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "tables.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func snapshot(t *testing.T, version int) (*tables.Snapshot, []byte) {
	t.Helper()
	var m tables.Manifest
	if err := json.Unmarshal(tables.DefaultManifestJSON(), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	m.Version = version
	raw, err := json.Marshal(&m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	snap, err := tables.Load(raw, "test")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return snap, raw
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestLatestEmpty(t *testing.T) {
	s := openStore(t)
	if _, _, err := s.Latest(context.Background()); !errors.Is(err, ErrNoManifest) {
		t.Fatalf("Latest error = %v, want ErrNoManifest", err)
	}
}

func TestSaveAndLatest(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	v2, raw2 := snapshot(t, 2)
	v3, raw3 := snapshot(t, 3)
	for _, c := range []struct {
		snap *tables.Snapshot
		raw  []byte
	}{{v2, raw2}, {v3, raw3}} {
		if err := s.Save(ctx, c.snap, c.raw); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	got, raw, err := s.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if got.Version != 3 || got.Digest != v3.Digest || string(raw) != string(raw3) {
		t.Fatalf("Latest = v%d %s, want v3 %s", got.Version, got.Digest, v3.Digest)
	}

	// Re-applying v2 makes it the latest again without a duplicate row.
	if err := s.Save(ctx, v2, raw2); err != nil {
		t.Fatalf("Save again: %v", err)
	}
	got, _, err = s.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if got.Version != 2 {
		t.Fatalf("Latest version = %d, want 2", got.Version)
	}
	hist, err := s.History(ctx, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 || hist[0].Version != 2 || hist[1].Version != 3 {
		t.Fatalf("unexpected history: %+v", hist)
	}
	if hist[0].Size != len(raw2) || hist[0].Source != "test" {
		t.Fatalf("unexpected record: %+v", hist[0])
	}
}

func TestSaveRejectsBadInput(t *testing.T) {
	s := openStore(t)
	if err := s.Save(context.Background(), nil, []byte("{}")); !errors.Is(err, tables.ErrNilSnapshot) {
		t.Fatalf("Save(nil) = %v", err)
	}
	snap, _ := snapshot(t, 2)
	if err := s.Save(context.Background(), snap, nil); err == nil {
		t.Fatal("expected error for empty payload")
	}
}

func TestPrune(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	for v := 2; v <= 5; v++ {
		snap, raw := snapshot(t, v)
		if err := s.Save(ctx, snap, raw); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	n, err := s.Prune(ctx, 2)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 2 {
		t.Fatalf("pruned %d rows, want 2", n)
	}
	hist, err := s.History(ctx, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 || hist[0].Version != 5 || hist[1].Version != 4 {
		t.Fatalf("unexpected history after prune: %+v", hist)
	}
}
