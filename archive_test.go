package switchpoint

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testAnalysis(t *testing.T) *Analysis {
	t.Helper()
	series := CountSeries{
		Start:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Counts: []int{10, 9, 11, 50, 49, 51},
	}
	analysis, err := NewAnalyzer(DefaultAnalyzerConfig()).Analyze(series)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	return analysis
}

func TestArchive_SaveAndLoad(t *testing.T) {
	archive, err := NewArchive(NewMemoryArchive(), EncryptionConfig{})
	if err != nil {
		t.Fatalf("NewArchive failed: %v", err)
	}
	defer archive.Close()
	ctx := context.Background()

	analysis := testAnalysis(t)
	if err := archive.SaveAnalysis(ctx, analysis); err != nil {
		t.Fatalf("SaveAnalysis failed: %v", err)
	}

	loaded, err := archive.LoadAnalysis(ctx, analysis.ID)
	if err != nil {
		t.Fatalf("LoadAnalysis failed: %v", err)
	}
	if loaded.ID != analysis.ID {
		t.Errorf("ID = %q, want %q", loaded.ID, analysis.ID)
	}
	if loaded.Changepoint.Tau != analysis.Changepoint.Tau {
		t.Errorf("Tau = %d, want %d", loaded.Changepoint.Tau, analysis.Changepoint.Tau)
	}
	if loaded.Changepoint.Probability != analysis.Changepoint.Probability {
		t.Errorf("Probability = %v, want %v", loaded.Changepoint.Probability, analysis.Changepoint.Probability)
	}
	if len(loaded.Series.Counts) != len(analysis.Series.Counts) {
		t.Errorf("series length = %d, want %d", len(loaded.Series.Counts), len(analysis.Series.Counts))
	}
}

func TestArchive_LoadMissing(t *testing.T) {
	archive, err := NewArchive(NewMemoryArchive(), EncryptionConfig{})
	if err != nil {
		t.Fatalf("NewArchive failed: %v", err)
	}
	defer archive.Close()

	_, err = archive.LoadAnalysis(context.Background(), "no-such-analysis")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestArchive_SaveInvalid(t *testing.T) {
	archive, err := NewArchive(NewMemoryArchive(), EncryptionConfig{})
	if err != nil {
		t.Fatalf("NewArchive failed: %v", err)
	}
	defer archive.Close()
	ctx := context.Background()

	if err := archive.SaveAnalysis(ctx, nil); err == nil {
		t.Error("nil analysis accepted")
	}
	if err := archive.SaveAnalysis(ctx, &Analysis{}); err == nil {
		t.Error("analysis without ID accepted")
	}
}

func TestArchive_ListAndDelete(t *testing.T) {
	archive, err := NewArchive(NewMemoryArchive(), EncryptionConfig{})
	if err != nil {
		t.Fatalf("NewArchive failed: %v", err)
	}
	defer archive.Close()
	ctx := context.Background()

	first := testAnalysis(t)
	second := testAnalysis(t)
	for _, a := range []*Analysis{first, second} {
		if err := archive.SaveAnalysis(ctx, a); err != nil {
			t.Fatalf("SaveAnalysis failed: %v", err)
		}
	}

	ids, err := archive.ListAnalyses(ctx)
	if err != nil {
		t.Fatalf("ListAnalyses failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("got %d ids, want 2", len(ids))
	}
	found := map[string]bool{}
	for _, id := range ids {
		found[id] = true
	}
	if !found[first.ID] || !found[second.ID] {
		t.Errorf("listed ids %v missing %q or %q", ids, first.ID, second.ID)
	}

	if err := archive.DeleteAnalysis(ctx, first.ID); err != nil {
		t.Fatalf("DeleteAnalysis failed: %v", err)
	}
	if _, err := archive.LoadAnalysis(ctx, first.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("load after delete = %v, want ErrNotFound", err)
	}
	ids, err = archive.ListAnalyses(ctx)
	if err != nil {
		t.Fatalf("ListAnalyses failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != second.ID {
		t.Errorf("ids after delete = %v, want [%q]", ids, second.ID)
	}
}

func TestArchive_EncryptedRoundTrip(t *testing.T) {
	backend := NewMemoryArchive()
	archive, err := NewArchive(backend, EncryptionConfig{Enabled: true, KeyPassword: "archive-pw"})
	if err != nil {
		t.Fatalf("NewArchive failed: %v", err)
	}
	defer archive.Close()
	ctx := context.Background()

	analysis := testAnalysis(t)
	if err := archive.SaveAnalysis(ctx, analysis); err != nil {
		t.Fatalf("SaveAnalysis failed: %v", err)
	}

	loaded, err := archive.LoadAnalysis(ctx, analysis.ID)
	if err != nil {
		t.Fatalf("LoadAnalysis failed: %v", err)
	}
	if loaded.Changepoint.Tau != analysis.Changepoint.Tau {
		t.Errorf("Tau = %d, want %d", loaded.Changepoint.Tau, analysis.Changepoint.Tau)
	}
}

func TestArchive_EncryptedCrossProcess(t *testing.T) {
	// A second archive over the same backend with the same password must
	// read blobs the first one wrote, deriving the key from the salt
	// embedded in each blob.
	backend := NewMemoryArchive()
	cfg := EncryptionConfig{Enabled: true, KeyPassword: "shared-pw"}

	writer, err := NewArchive(backend, cfg)
	if err != nil {
		t.Fatalf("NewArchive failed: %v", err)
	}
	analysis := testAnalysis(t)
	ctx := context.Background()
	if err := writer.SaveAnalysis(ctx, analysis); err != nil {
		t.Fatalf("SaveAnalysis failed: %v", err)
	}

	reader, err := NewArchive(backend, cfg)
	if err != nil {
		t.Fatalf("NewArchive failed: %v", err)
	}
	loaded, err := reader.LoadAnalysis(ctx, analysis.ID)
	if err != nil {
		t.Fatalf("LoadAnalysis across processes failed: %v", err)
	}
	if loaded.ID != analysis.ID {
		t.Errorf("ID = %q, want %q", loaded.ID, analysis.ID)
	}
}

func TestArchive_EncryptedUnreadableWithoutKey(t *testing.T) {
	backend := NewMemoryArchive()
	writer, err := NewArchive(backend, EncryptionConfig{Enabled: true, KeyPassword: "pw"})
	if err != nil {
		t.Fatalf("NewArchive failed: %v", err)
	}
	analysis := testAnalysis(t)
	ctx := context.Background()
	if err := writer.SaveAnalysis(ctx, analysis); err != nil {
		t.Fatalf("SaveAnalysis failed: %v", err)
	}

	plain, err := NewArchive(backend, EncryptionConfig{})
	if err != nil {
		t.Fatalf("NewArchive failed: %v", err)
	}
	if _, err := plain.LoadAnalysis(ctx, analysis.ID); err == nil {
		t.Error("encrypted blob loaded without a key")
	}
}

func TestMemoryArchive_Backend(t *testing.T) {
	backend := NewMemoryArchive()
	defer backend.Close()
	ctx := context.Background()

	if err := backend.Write(ctx, "analyses/a", []byte("one")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := backend.Write(ctx, "analyses/b", []byte("two")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := backend.Write(ctx, "other/c", []byte("three")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	data, err := backend.Read(ctx, "analyses/a")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(data) != "one" {
		t.Errorf("Read = %q, want one", data)
	}

	keys, err := backend.List(ctx, "analyses/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("List returned %d keys, want 2", len(keys))
	}

	exists, err := backend.Exists(ctx, "analyses/b")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("Exists = false for a written key")
	}

	if err := backend.Delete(ctx, "analyses/a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := backend.Read(ctx, "analyses/a"); err == nil {
		t.Error("Read succeeded after Delete")
	}
	if backend.Size() != 2 {
		t.Errorf("Size = %d, want 2", backend.Size())
	}
}

func TestFileArchive_Backend(t *testing.T) {
	backend, err := NewFileArchive(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileArchive failed: %v", err)
	}
	defer backend.Close()
	ctx := context.Background()

	if err := backend.Write(ctx, "analyses/x", []byte("payload")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	data, err := backend.Read(ctx, "analyses/x")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("Read = %q, want payload", data)
	}

	keys, err := backend.List(ctx, "analyses/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != "analyses/x" {
		t.Errorf("List = %v, want [analyses/x]", keys)
	}

	if err := backend.Delete(ctx, "analyses/x"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	exists, err := backend.Exists(ctx, "analyses/x")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("Exists = true after Delete")
	}
}

func TestFileArchive_ListEmptyPrefix(t *testing.T) {
	backend, err := NewFileArchive(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileArchive failed: %v", err)
	}
	defer backend.Close()

	keys, err := backend.List(context.Background(), "analyses/")
	if err != nil {
		t.Fatalf("List on empty archive failed: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("List = %v, want empty", keys)
	}
}

func TestFileArchive_RejectsTraversal(t *testing.T) {
	backend, err := NewFileArchive(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileArchive failed: %v", err)
	}
	defer backend.Close()
	ctx := context.Background()

	for _, key := range []string{"../escape", "a/../../escape", "analyses/../../x"} {
		if err := backend.Write(ctx, key, []byte("x")); err == nil {
			t.Errorf("Write accepted traversal key %q", key)
		}
		if _, err := backend.Read(ctx, key); err == nil {
			t.Errorf("Read accepted traversal key %q", key)
		}
	}
}

func TestFileArchive_BackedArchive(t *testing.T) {
	backend, err := NewFileArchive(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileArchive failed: %v", err)
	}
	archive, err := NewArchive(backend, EncryptionConfig{})
	if err != nil {
		t.Fatalf("NewArchive failed: %v", err)
	}
	defer archive.Close()
	ctx := context.Background()

	analysis := testAnalysis(t)
	if err := archive.SaveAnalysis(ctx, analysis); err != nil {
		t.Fatalf("SaveAnalysis failed: %v", err)
	}
	loaded, err := archive.LoadAnalysis(ctx, analysis.ID)
	if err != nil {
		t.Fatalf("LoadAnalysis failed: %v", err)
	}
	if loaded.Comparison.LogBayesFactor != analysis.Comparison.LogBayesFactor {
		t.Errorf("LogBayesFactor = %v, want %v",
			loaded.Comparison.LogBayesFactor, analysis.Comparison.LogBayesFactor)
	}

	ids, err := archive.ListAnalyses(ctx)
	if err != nil {
		t.Fatalf("ListAnalyses failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != analysis.ID {
		t.Errorf("ListAnalyses = %v, want [%q]", ids, analysis.ID)
	}
}

func TestOpenArchive_Defaults(t *testing.T) {
	cfg := DefaultArchiveConfig()
	cfg.Dir = t.TempDir()
	archive, err := OpenArchive(cfg)
	if err != nil {
		t.Fatalf("OpenArchive failed: %v", err)
	}
	defer archive.Close()

	ctx := context.Background()
	analysis := testAnalysis(t)
	if err := archive.SaveAnalysis(ctx, analysis); err != nil {
		t.Fatalf("SaveAnalysis failed: %v", err)
	}
	if _, err := archive.LoadAnalysis(ctx, analysis.ID); err != nil {
		t.Fatalf("LoadAnalysis failed: %v", err)
	}
}
