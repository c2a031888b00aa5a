package memory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"testing"

	"github.com/scoutline/scoutd/engine/domain"
	"github.com/scoutline/scoutd/engine/store"
)

type stubEmbedder struct {
	vecs  map[string][]float32
	calls int
	err   error
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if v, ok := s.vecs[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "scout.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func testIndex(t *testing.T, st *store.Store, emb Embedder) *Index {
	t.Helper()
	var factory func() (Embedder, error)
	if emb != nil {
		factory = func() (Embedder, error) { return emb, nil }
	}
	return New(st, factory, nil, discardLogger())
}

func TestHash(t *testing.T) {
	if Hash("hello") != Hash("hello") {
		t.Error("hash is not deterministic")
	}
	if Hash("hello") == Hash("hello ") {
		t.Error("distinct texts share a hash")
	}
	if len(Hash("x")) != 64 {
		t.Errorf("hash length = %d, want 64", len(Hash("x")))
	}
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"empty", nil, nil, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Cosine(tt.a, tt.b); math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("Cosine(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestExactMatchOnly(t *testing.T) {
	idx := testIndex(t, testStore(t), nil)
	ctx := context.Background()

	if idx.Semantic() {
		t.Fatal("index without embedder reports semantic mode")
	}
	if err := idx.Add(ctx, "quantum chips ship in volume", domain.ProvenanceRetrieved); err != nil {
		t.Fatalf("Add: %v", err)
	}

	sim, err := idx.IsSimilar(ctx, "quantum chips ship in volume", RetrievedThreshold)
	if err != nil {
		t.Fatalf("IsSimilar: %v", err)
	}
	if !sim {
		t.Error("added text not reported similar")
	}

	sim, err = idx.IsSimilar(ctx, "a completely different sentence", RetrievedThreshold)
	if err != nil {
		t.Fatalf("IsSimilar: %v", err)
	}
	if sim {
		t.Error("unrelated text reported similar in hash-only mode")
	}
}

func TestSemanticMatch(t *testing.T) {
	emb := &stubEmbedder{vecs: map[string][]float32{
		"base":      {1, 0},
		"near":      {0.9, 0.1},
		"unrelated": {0, 1},
	}}
	idx := testIndex(t, testStore(t), emb)
	ctx := context.Background()

	if err := idx.Add(ctx, "base", domain.ProvenanceRetrieved); err != nil {
		t.Fatalf("Add: %v", err)
	}

	sim, err := idx.IsSimilar(ctx, "near", RetrievedThreshold)
	if err != nil {
		t.Fatalf("IsSimilar(near): %v", err)
	}
	if !sim {
		t.Error("near-duplicate not caught by cosine gate")
	}

	sim, err = idx.IsSimilar(ctx, "unrelated", RetrievedThreshold)
	if err != nil {
		t.Fatalf("IsSimilar(unrelated): %v", err)
	}
	if sim {
		t.Error("orthogonal text reported similar")
	}
}

func TestExactMatchSkipsEmbedding(t *testing.T) {
	emb := &stubEmbedder{}
	idx := testIndex(t, testStore(t), emb)
	ctx := context.Background()

	if err := idx.Add(ctx, "some text", domain.ProvenanceGenerated); err != nil {
		t.Fatalf("Add: %v", err)
	}
	calls := emb.calls

	sim, err := idx.IsSimilar(ctx, "some text", GeneratedThreshold)
	if err != nil {
		t.Fatalf("IsSimilar: %v", err)
	}
	if !sim {
		t.Fatal("exact duplicate not detected")
	}
	if emb.calls != calls {
		t.Errorf("exact match embedded anyway: %d extra calls", emb.calls-calls)
	}
}

func TestAddDuplicateHashIsNoop(t *testing.T) {
	st := testStore(t)
	idx := testIndex(t, st, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := idx.Add(ctx, "same text", domain.ProvenanceRetrieved); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	n, err := st.CountFingerprints(ctx)
	if err != nil {
		t.Fatalf("CountFingerprints: %v", err)
	}
	if n != 1 {
		t.Errorf("fingerprints = %d, want 1", n)
	}
}

func TestEmptyText(t *testing.T) {
	st := testStore(t)
	idx := testIndex(t, st, nil)
	ctx := context.Background()

	sim, err := idx.IsSimilar(ctx, "   ", RetrievedThreshold)
	if err != nil || sim {
		t.Errorf("IsSimilar(blank) = %v, %v; want false, nil", sim, err)
	}
	if err := idx.Add(ctx, "", domain.ProvenanceRetrieved); err != nil {
		t.Fatalf("Add: %v", err)
	}
	n, err := st.CountFingerprints(ctx)
	if err != nil {
		t.Fatalf("CountFingerprints: %v", err)
	}
	if n != 0 {
		t.Errorf("blank text stored %d fingerprints", n)
	}
}

func TestReloadFromStore(t *testing.T) {
	st := testStore(t)
	emb := &stubEmbedder{vecs: map[string][]float32{
		"original": {1, 0},
		"echo":     {0.95, 0.05},
	}}
	ctx := context.Background()

	first := testIndex(t, st, emb)
	if err := first.Add(ctx, "original", domain.ProvenanceRetrieved); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// A fresh Index over the same store must see the persisted vector.
	second := testIndex(t, st, emb)
	sim, err := second.IsSimilar(ctx, "echo", RetrievedThreshold)
	if err != nil {
		t.Fatalf("IsSimilar: %v", err)
	}
	if !sim {
		t.Error("persisted embedding not found after reload")
	}
}

func TestEmbedderLoadsLazily(t *testing.T) {
	loads := 0
	emb := &stubEmbedder{vecs: map[string][]float32{}}
	idx := New(testStore(t), func() (Embedder, error) {
		loads++
		return emb, nil
	}, nil, discardLogger())
	ctx := context.Background()

	if loads != 0 {
		t.Fatalf("embedder loaded at construction: %d", loads)
	}
	if err := idx.Add(ctx, "first", domain.ProvenanceRetrieved); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := idx.IsSimilar(ctx, "second", RetrievedThreshold); err != nil {
		t.Fatalf("IsSimilar: %v", err)
	}
	if loads != 1 {
		t.Errorf("embedder loaded %d times, want 1", loads)
	}
}

func TestEmbedErrorSurfaces(t *testing.T) {
	wantErr := errors.New("model unavailable")
	idx := testIndex(t, testStore(t), &stubEmbedder{err: wantErr})
	ctx := context.Background()

	if _, err := idx.IsSimilar(ctx, "anything", RetrievedThreshold); !errors.Is(err, wantErr) {
		t.Errorf("IsSimilar error = %v, want wrapped %v", err, wantErr)
	}
	if err := idx.Add(ctx, "anything", domain.ProvenanceRetrieved); !errors.Is(err, wantErr) {
		t.Errorf("Add error = %v, want wrapped %v", err, wantErr)
	}
}
