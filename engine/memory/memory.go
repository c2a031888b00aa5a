// Package memory is the dedup gate. Every item the engine keeps and every
// draft it emits leaves a fingerprint; new content is admitted only when no
// prior fingerprint matches it exactly or, in semantic mode, reads too much
// like something already seen.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/scoutline/scoutd/engine/domain"
	"github.com/scoutline/scoutd/engine/store"
)

const (
	// RetrievedThreshold admits fetched items that read differently enough
	// from everything already seen.
	RetrievedThreshold = 0.85
	// GeneratedThreshold is the tighter gate applied to drafts the engine
	// writes itself.
	GeneratedThreshold = 0.95
)

// Index answers "have we seen this before" over every fingerprint ever
// stored. Exact SHA-256 matching always runs; cosine matching runs when an
// embedder factory is configured. The embedder loads lazily on first use.
// Safe for interleaved IsSimilar/Add calls within one process.
type Index struct {
	store    *store.Store
	newEmbed func() (Embedder, error)
	ann      VectorIndex
	log      *slog.Logger

	mu       sync.Mutex
	embedder Embedder
	embedErr error
	vecs     [][]float32
	loaded   bool
}

// New builds an Index over st. A nil embed factory disables semantic
// matching; ann optionally replaces the linear scan with a vector search.
func New(st *store.Store, embed func() (Embedder, error), ann VectorIndex, log *slog.Logger) *Index {
	return &Index{store: st, newEmbed: embed, ann: ann, log: log}
}

// Semantic reports whether embeddings are configured.
func (i *Index) Semantic() bool { return i.newEmbed != nil }

// Hash returns the hex SHA-256 of the UTF-8 bytes of text.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// IsSimilar reports whether text matches any stored fingerprint: same exact
// hash, or cosine similarity at or above threshold when semantic mode is on.
func (i *Index) IsSimilar(ctx context.Context, text string, threshold float64) (bool, error) {
	if strings.TrimSpace(text) == "" {
		return false, nil
	}

	hash := Hash(text)
	exact, err := i.store.HasFingerprint(ctx, hash)
	if err != nil {
		return false, err
	}
	if exact {
		i.log.Debug("duplicate content", "match", "exact", "hash", hash[:12])
		return true, nil
	}
	if !i.Semantic() {
		return false, nil
	}

	vec, err := i.embedText(ctx, text)
	if err != nil {
		return false, err
	}

	score, err := i.maxSimilarity(ctx, vec)
	if err != nil {
		return false, err
	}
	if score >= threshold {
		i.log.Debug("duplicate content", "match", "semantic", "similarity", score)
		return true, nil
	}
	return false, nil
}

// Add fingerprints text. In semantic mode the embedding is stored alongside
// the hash; otherwise a hash-only row is written. Re-adding already-seen
// text is a no-op.
func (i *Index) Add(ctx context.Context, text string, prov domain.Provenance) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var vec []float32
	if i.Semantic() {
		var err error
		vec, err = i.embedText(ctx, text)
		if err != nil {
			return err
		}
	}

	hash := Hash(text)
	inserted, err := i.store.InsertFingerprint(ctx, domain.Fingerprint{
		Hash:       hash,
		Embedding:  vec,
		Provenance: prov,
	})
	if err != nil {
		return err
	}
	if !inserted || vec == nil {
		return nil
	}

	i.mu.Lock()
	if i.loaded {
		i.vecs = append(i.vecs, vec)
	}
	i.mu.Unlock()

	if i.ann != nil {
		if err := i.annAdd(ctx, hash, vec); err != nil {
			// SQLite holds the authoritative row; Sync repairs the mirror.
			i.log.Warn("vector index add failed", "error", err)
		}
	}
	return nil
}

// Sync mirrors every stored embedding into the vector index. Run once at
// startup when an index is configured so search covers rows written while
// it was absent.
func (i *Index) Sync(ctx context.Context) error {
	if i.ann == nil {
		return nil
	}
	ensured := false
	n := 0
	err := i.store.ListEmbeddings(ctx, func(_ int64, hash string, vec []float32) error {
		if !ensured {
			if err := i.ann.Ensure(ctx, len(vec)); err != nil {
				return err
			}
			ensured = true
		}
		n++
		return i.ann.Add(ctx, hash, vec)
	})
	if err != nil {
		return fmt.Errorf("memory: sync vector index: %w", err)
	}
	i.log.Info("vector index synced", "vectors", n)
	return nil
}

func (i *Index) embedText(ctx context.Context, text string) ([]float32, error) {
	emb, err := i.ensureEmbedder()
	if err != nil {
		return nil, err
	}
	vec, err := emb.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("memory: embed: %w", err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("memory: embed: empty vector")
	}
	return vec, nil
}

func (i *Index) ensureEmbedder() (Embedder, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.embedder == nil && i.embedErr == nil {
		i.embedder, i.embedErr = i.newEmbed()
		if i.embedErr == nil {
			i.log.Info("embedder loaded")
		}
	}
	return i.embedder, i.embedErr
}

func (i *Index) maxSimilarity(ctx context.Context, vec []float32) (float64, error) {
	if i.ann != nil {
		if err := i.ann.Ensure(ctx, len(vec)); err != nil {
			return 0, err
		}
		return i.ann.MaxSimilarity(ctx, vec)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.loaded {
		if err := i.loadLocked(ctx); err != nil {
			return 0, err
		}
	}
	best := 0.0
	for _, stored := range i.vecs {
		if s := Cosine(vec, stored); s > best {
			best = s
		}
	}
	return best, nil
}

// loadLocked fills the in-process vector cache from the store. Caller holds
// i.mu.
func (i *Index) loadLocked(ctx context.Context) error {
	i.vecs = i.vecs[:0]
	err := i.store.ListEmbeddings(ctx, func(_ int64, _ string, vec []float32) error {
		i.vecs = append(i.vecs, vec)
		return nil
	})
	if err != nil {
		return fmt.Errorf("memory: load embeddings: %w", err)
	}
	i.loaded = true
	return nil
}

func (i *Index) annAdd(ctx context.Context, hash string, vec []float32) error {
	if err := i.ann.Ensure(ctx, len(vec)); err != nil {
		return err
	}
	return i.ann.Add(ctx, hash, vec)
}

// Cosine returns the cosine similarity of a and b, or 0 when either is
// empty or their lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for k := range a {
		dot += float64(a[k]) * float64(b[k])
		na += float64(a[k]) * float64(a[k])
		nb += float64(b[k]) * float64(b[k])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
