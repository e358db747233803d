package affiliate

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"

	"autopost/internal/config"
	"autopost/internal/storage"
	"autopost/internal/types"
)

// Reservation is a claim on the next publication position. Link is non-nil
// when this position carries an affiliate insertion. A reservation must be
// either committed after a successful delivery or released after a failed
// one; only commits advance the position counter.
type Reservation struct {
	Position int64
	Link     *types.AffiliateLink
}

// Injector decides which publications carry an affiliate link. Every Nth
// successful publication gets one, counted across restarts; the counter is
// rebuilt from the published post history at startup. Failed publish
// attempts never consume a position, so a failure between two insertions
// does not shift the cadence.
type Injector struct {
	mu        sync.Mutex
	published int64
	links     storage.LinkStore
	logger    *slog.Logger
	rng       *rand.Rand
}

func NewInjector(links storage.LinkStore, seed int64, logger *slog.Logger) *Injector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Injector{
		links:  links,
		logger: logger,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Restore sets the successful publication count, normally from
// PostStore.CountPublished at startup.
func (inj *Injector) Restore(published int64) {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	inj.published = published
}

// Reserve claims the next position. The position counts from 1; position N,
// 2N, ... carry a link.
func (inj *Injector) Reserve(ctx context.Context, cfg *config.AffiliateConfig) (*Reservation, error) {
	inj.mu.Lock()
	defer inj.mu.Unlock()

	position := inj.published + 1
	res := &Reservation{Position: position}

	if cfg.Frequency > 0 && position%int64(cfg.Frequency) == 0 {
		link, err := inj.pickLocked(ctx)
		if err != nil {
			return nil, err
		}
		res.Link = link
	}
	return res, nil
}

// Commit consumes the reserved position after a successful delivery and
// persists the link's insertion count when one was carried. A reservation
// without a position, such as the empty one a publisher falls back to when
// Reserve fails, never moves the counter backwards.
func (inj *Injector) Commit(ctx context.Context, res *Reservation) error {
	inj.mu.Lock()
	defer inj.mu.Unlock()

	if res.Position > inj.published {
		inj.published = res.Position
	}

	if res.Link != nil {
		if err := inj.links.IncrementInsertions(ctx, res.Link.Name); err != nil {
			return fmt.Errorf("failed to record insertion for %s: %w", res.Link.Name, err)
		}
		inj.logger.Info("Affiliate link inserted", "link", res.Link.Name, "position", res.Position)
	}
	return nil
}

// Release abandons a reservation after a failed delivery. The position stays
// available for the next publication.
func (inj *Injector) Release(res *Reservation) {
	// Positions are claimed optimistically against the published counter,
	// which only Commit moves, so nothing to undo.
	_ = res
}

// pickLocked selects a link by weighted random choice: a uniform draw over
// the total weight, resolved by walking the cumulative weights.
func (inj *Injector) pickLocked(ctx context.Context) (*types.AffiliateLink, error) {
	links, err := inj.links.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, fmt.Errorf("no affiliate links configured")
	}

	var total float64
	for _, l := range links {
		if l.Weight > 0 {
			total += l.Weight
		}
	}
	if total == 0 {
		return &links[0], nil
	}

	target := inj.rng.Float64() * total
	var cumulative float64
	for i := range links {
		if links[i].Weight <= 0 {
			continue
		}
		cumulative += links[i].Weight
		if target < cumulative {
			return &links[i], nil
		}
	}
	return &links[len(links)-1], nil
}

// Compose appends the affiliate block to the post text. The disclosure line
// always accompanies an insertion.
func Compose(text string, link *types.AffiliateLink, disclosure string) string {
	if link == nil {
		return text
	}

	var b strings.Builder
	b.WriteString(text)
	b.WriteString("\n\n")
	if link.Text != "" {
		b.WriteString(link.Text)
		b.WriteString(": ")
	}
	b.WriteString(link.URL)
	if disclosure != "" {
		b.WriteString("\n")
		b.WriteString(disclosure)
	}
	return b.String()
}
