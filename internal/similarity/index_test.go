package similarity

import (
	"fmt"
	"testing"
	"time"
)

func tokenEntry(id string, words ...string) Entry {
	return Entry{ID: id, Tokens: TokenSet(words)}
}

func TestEvaluate_DetectsNearDuplicate(t *testing.T) {
	ix := NewIndex(time.Hour, 100)

	first := tokenEntry("a", "bitcoin", "hits", "new", "high")
	if dup, _ := ix.Evaluate(first, 0.7); dup != "" {
		t.Fatalf("first entry flagged duplicate of %s", dup)
	}

	second := tokenEntry("b", "bitcoin", "hits", "new", "high")
	dup, sim := ix.Evaluate(second, 0.7)
	if dup != "a" {
		t.Errorf("duplicate of = %q, want %q", dup, "a")
	}
	if sim != 1.0 {
		t.Errorf("similarity = %v, want 1.0", sim)
	}
}

func TestEvaluate_BelowThresholdJoinsWindow(t *testing.T) {
	ix := NewIndex(time.Hour, 100)

	ix.Evaluate(tokenEntry("a", "bitcoin", "etf", "approved"), 0.7)
	dup, _ := ix.Evaluate(tokenEntry("b", "ethereum", "upgrade", "shipped"), 0.7)
	if dup != "" {
		t.Errorf("unrelated entry flagged duplicate of %s", dup)
	}
	if ix.Len() != 2 {
		t.Errorf("window size = %d, want 2", ix.Len())
	}
}

func TestEvaluate_DuplicateDoesNotJoinWindow(t *testing.T) {
	ix := NewIndex(time.Hour, 100)

	ix.Evaluate(tokenEntry("a", "solana", "outage", "resolved"), 0.7)
	ix.Evaluate(tokenEntry("b", "solana", "outage", "resolved"), 0.7)

	if ix.Len() != 1 {
		t.Errorf("window size = %d, want 1; duplicates must not join the window", ix.Len())
	}
}

func TestEvaluate_ReplayIsIdempotent(t *testing.T) {
	ix := NewIndex(time.Hour, 100)

	entry := tokenEntry("a", "bitcoin", "hits", "new", "high")
	if dup, _ := ix.Evaluate(entry, 0.7); dup != "" {
		t.Fatalf("first pass flagged duplicate of %s", dup)
	}

	// A crash between scoring and the state transition replays the same
	// item; it must not match its own prior insertion.
	dup, _ := ix.Evaluate(entry, 0.7)
	if dup != "" {
		t.Errorf("replay flagged duplicate of %q, want same verdict as first pass", dup)
	}
	if ix.Len() != 1 {
		t.Errorf("window size = %d after replay, want 1", ix.Len())
	}

	// The replayed entry still catches genuine near-duplicates.
	if dup, _ := ix.Evaluate(tokenEntry("b", "bitcoin", "hits", "new", "high"), 0.7); dup != "a" {
		t.Errorf("duplicate of = %q, want %q", dup, "a")
	}
}

func TestEvaluate_TieResolvesToEarliest(t *testing.T) {
	ix := NewIndex(time.Hour, 100)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ix.now = func() time.Time { return base }

	// Two disjoint entries, then a candidate equally similar to both.
	ix.Add(Entry{ID: "early", CreatedAt: base.Add(-2 * time.Minute), Tokens: TokenSet([]string{"alpha", "beta", "gamma"})})
	ix.Add(Entry{ID: "late", CreatedAt: base.Add(-1 * time.Minute), Tokens: TokenSet([]string{"alpha", "beta", "delta"})})

	candidate := Entry{ID: "c", Tokens: TokenSet([]string{"alpha", "beta"})}
	dup, _ := ix.Evaluate(candidate, 0.5)
	if dup != "early" {
		t.Errorf("tie resolved to %q, want %q", dup, "early")
	}
}

func TestEvaluate_HorizonEviction(t *testing.T) {
	ix := NewIndex(time.Hour, 100)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ix.now = func() time.Time { return now }

	ix.Evaluate(tokenEntry("old", "bitcoin", "rally", "continues"), 0.7)

	// Past the horizon the same text is no longer a duplicate.
	now = now.Add(2 * time.Hour)
	dup, _ := ix.Evaluate(tokenEntry("new", "bitcoin", "rally", "continues"), 0.7)
	if dup != "" {
		t.Errorf("evicted entry still matched as %s", dup)
	}
	if ix.Len() != 1 {
		t.Errorf("window size = %d, want 1 after eviction", ix.Len())
	}
}

func TestEvaluate_MaxEntriesBound(t *testing.T) {
	ix := NewIndex(time.Hour, 3)

	for i := 0; i < 10; i++ {
		ix.Evaluate(tokenEntry(fmt.Sprintf("e%d", i), fmt.Sprintf("word%d", i), fmt.Sprintf("other%d", i)), 0.9)
	}
	if ix.Len() != 3 {
		t.Errorf("window size = %d, want cap of 3", ix.Len())
	}
}

func TestSimilarity_CosineWhenBothVectorsPresent(t *testing.T) {
	a := Entry{Vec: []float64{1, 0, 0}}
	b := Entry{Vec: []float64{1, 0, 0}}
	if sim := similarity(a, b); sim < 0.999 {
		t.Errorf("identical vectors similarity = %v, want ~1", sim)
	}

	c := Entry{Vec: []float64{0, 1, 0}}
	if sim := similarity(a, c); sim > 0.001 {
		t.Errorf("orthogonal vectors similarity = %v, want ~0", sim)
	}
}

func TestSimilarity_FallsBackToTokens(t *testing.T) {
	a := Entry{Vec: []float64{1, 0}, Tokens: TokenSet([]string{"x", "y"})}
	b := Entry{Tokens: TokenSet([]string{"x", "y"})}

	// Vector lengths differ, so token overlap decides.
	if sim := similarity(a, b); sim != 1.0 {
		t.Errorf("token fallback similarity = %v, want 1.0", sim)
	}
}

func TestJaccard_EmptySets(t *testing.T) {
	if sim := jaccard(nil, TokenSet([]string{"a"})); sim != 0 {
		t.Errorf("jaccard with empty set = %v, want 0", sim)
	}
}
