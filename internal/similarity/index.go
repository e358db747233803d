package similarity

import (
	"sync"
	"time"

	"github.com/viterin/vek"
)

// Entry is one item's normalized representation held for near-duplicate
// comparison. Vec may be nil when the embedder was unavailable; such entries
// compare by token overlap only.
type Entry struct {
	ID        string
	CreatedAt time.Time
	Vec       []float64
	Tokens    map[string]bool
}

// Index is a bounded window over recently accepted items. Entries older than
// the horizon are evicted, and the total count is capped, so memory stays
// bounded regardless of ingest volume.
//
// Evaluate performs the check-then-insert sequence under one lock: a
// candidate is compared against the window and, when it is not a duplicate,
// inserted before the lock is released. Two near-duplicates evaluated
// concurrently therefore cannot both pass.
type Index struct {
	mu         sync.Mutex
	entries    []Entry
	horizon    time.Duration
	maxEntries int
	now        func() time.Time
}

func NewIndex(horizon time.Duration, maxEntries int) *Index {
	if horizon == 0 {
		horizon = 72 * time.Hour
	}
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &Index{
		horizon:    horizon,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Evaluate compares the candidate against the current window. When the best
// similarity meets or exceeds the threshold the candidate is a duplicate of
// the returned id; otherwise the candidate joins the window. Ties on
// similarity resolve to the earliest-created entry.
func (ix *Index) Evaluate(candidate Entry, threshold float64) (duplicateOf string, best float64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.evictLocked()

	// Entries are held in creation order, so strict > keeps the earliest
	// match on ties. A replayed candidate is already in the window; it never
	// matches itself, and the replay must not insert a second copy.
	present := false
	for _, entry := range ix.entries {
		if entry.ID == candidate.ID {
			present = true
			continue
		}
		sim := similarity(candidate, entry)
		if sim > best {
			best = sim
			duplicateOf = entry.ID
		}
	}

	if best >= threshold && duplicateOf != "" {
		return duplicateOf, best
	}

	if !present {
		ix.insertLocked(candidate)
	}
	return "", best
}

// Add inserts without comparison, used when rebuilding the window from the
// content store on restart.
func (ix *Index) Add(entry Entry) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.evictLocked()
	ix.insertLocked(entry)
}

func (ix *Index) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.entries)
}

func (ix *Index) insertLocked(entry Entry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = ix.now()
	}
	ix.entries = append(ix.entries, entry)
	if len(ix.entries) > ix.maxEntries {
		ix.entries = ix.entries[len(ix.entries)-ix.maxEntries:]
	}
}

func (ix *Index) evictLocked() {
	cutoff := ix.now().Add(-ix.horizon)
	keep := ix.entries[:0]
	for _, entry := range ix.entries {
		if entry.CreatedAt.After(cutoff) {
			keep = append(keep, entry)
		}
	}
	ix.entries = keep
}

// similarity prefers embedding cosine when both sides carry a vector and
// falls back to token-set Jaccard otherwise.
func similarity(a, b Entry) float64 {
	if len(a.Vec) > 0 && len(a.Vec) == len(b.Vec) {
		return vek.CosineSimilarity(a.Vec, b.Vec)
	}
	return jaccard(a.Tokens, b.Tokens)
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	smaller, larger := a, b
	if len(b) < len(a) {
		smaller, larger = b, a
	}
	shared := 0
	for token := range smaller {
		if larger[token] {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	return float64(shared) / float64(union)
}

// TokenSet builds the token map an Entry carries from a normalized token
// slice.
func TokenSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, token := range tokens {
		set[token] = true
	}
	return set
}
