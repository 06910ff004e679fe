package registry

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func tempStatePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "state.json")
}

func TestRegistry_AddIdempotent(t *testing.T) {
	r := Load(tempStatePath(t), testLogger())

	if !r.Add("111") {
		t.Error("first add should report activation")
	}
	if r.Add("111") {
		t.Error("second add should report already active")
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 chat, got %d", r.Len())
	}
}

func TestRegistry_RemoveAbsent(t *testing.T) {
	path := tempStatePath(t)
	r := Load(path, testLogger())
	r.Add("111")

	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("state file not written: %v", err)
	}

	if r.Remove("999") {
		t.Error("removing an absent id should report not active")
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("state file missing after no-op remove: %v", err)
	}
	if diff := cmp.Diff(string(before), string(after)); diff != "" {
		t.Errorf("no-op remove rewrote state (-before +after):\n%s", diff)
	}
}

func TestRegistry_Remove(t *testing.T) {
	r := Load(tempStatePath(t), testLogger())
	r.Add("111")

	if !r.Remove("111") {
		t.Error("removing an active id should report deactivation")
	}
	if r.Len() != 0 {
		t.Errorf("expected empty registry, got %d", r.Len())
	}
}

func TestRegistry_RoundTrip(t *testing.T) {
	path := tempStatePath(t)

	r := Load(path, testLogger())
	r.Add("222")
	r.Add("111")

	reloaded := Load(path, testLogger())
	if diff := cmp.Diff(r.Snapshot(), reloaded.Snapshot()); diff != "" {
		t.Errorf("reloaded registry differs (-saved +loaded):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"111", "222"}, reloaded.Snapshot()); diff != "" {
		t.Errorf("unexpected snapshot (-want +got):\n%s", diff)
	}
}

func TestRegistry_MissingFile(t *testing.T) {
	r := Load(filepath.Join(t.TempDir(), "does-not-exist.json"), testLogger())
	if r.Len() != 0 {
		t.Errorf("expected empty registry, got %d", r.Len())
	}
}

func TestRegistry_MalformedFile(t *testing.T) {
	path := tempStatePath(t)
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := Load(path, testLogger())
	if r.Len() != 0 {
		t.Errorf("malformed state should yield empty registry, got %d", r.Len())
	}
}

func TestRegistry_SnapshotIsCopy(t *testing.T) {
	r := Load(tempStatePath(t), testLogger())
	r.Add("111")
	r.Add("222")

	snap := r.Snapshot()
	r.Remove("111")

	if len(snap) != 2 {
		t.Errorf("snapshot mutated by registry change: %v", snap)
	}
}
