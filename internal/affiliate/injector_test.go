package affiliate

import (
	"context"
	"strings"
	"testing"

	"autopost/internal/config"
	"autopost/internal/storage/storagetest"
	"autopost/internal/types"
)

func newTestInjector(t *testing.T, links ...types.AffiliateLink) *Injector {
	t.Helper()
	store := storagetest.New()
	if err := store.Links().ReplaceAll(context.Background(), links); err != nil {
		t.Fatalf("seeding links: %v", err)
	}
	return NewInjector(store.Links(), 1, nil)
}

func defaultLinks() []types.AffiliateLink {
	return []types.AffiliateLink{
		{Name: "exchange", URL: "https://example.com/ex", Text: "Trade here", Weight: 3},
		{Name: "wallet", URL: "https://example.com/w", Text: "Store safely", Weight: 1},
	}
}

func TestReserve_EveryNthSuccessfulPublication(t *testing.T) {
	inj := newTestInjector(t, defaultLinks()...)
	cfg := &config.AffiliateConfig{Frequency: 5}
	ctx := context.Background()

	var withLink []int64
	for i := 0; i < 12; i++ {
		res, err := inj.Reserve(ctx, cfg)
		if err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
		if res.Link != nil {
			withLink = append(withLink, res.Position)
		}
		if err := inj.Commit(ctx, res); err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
	}

	if len(withLink) != 2 || withLink[0] != 5 || withLink[1] != 10 {
		t.Errorf("link positions = %v, want [5 10]", withLink)
	}
}

func TestReserve_FailedDeliveryDoesNotConsumePosition(t *testing.T) {
	inj := newTestInjector(t, defaultLinks()...)
	cfg := &config.AffiliateConfig{Frequency: 5}
	ctx := context.Background()

	successes := 0
	linkAt := make(map[int]bool)

	// Attempts 2 and 4 fail; the cadence must follow successes, not attempts.
	for attempt := 1; successes < 10; attempt++ {
		res, err := inj.Reserve(ctx, cfg)
		if err != nil {
			t.Fatalf("reserve: %v", err)
		}

		if attempt == 2 || attempt == 4 {
			inj.Release(res)
			continue
		}

		if err := inj.Commit(ctx, res); err != nil {
			t.Fatalf("commit: %v", err)
		}
		successes++
		if res.Link != nil {
			linkAt[successes] = true
		}
	}

	if !linkAt[5] || !linkAt[10] || len(linkAt) != 2 {
		t.Errorf("links at successes %v, want exactly at 5 and 10", linkAt)
	}
}

func TestReserve_RestoredCounterKeepsCadence(t *testing.T) {
	inj := newTestInjector(t, defaultLinks()...)
	inj.Restore(4)
	cfg := &config.AffiliateConfig{Frequency: 5}

	res, err := inj.Reserve(context.Background(), cfg)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if res.Position != 5 {
		t.Errorf("position after restore = %d, want 5", res.Position)
	}
	if res.Link == nil {
		t.Error("expected position 5 to carry a link after restoring 4 published posts")
	}
}

func TestCommit_EmptyReservationKeepsCounter(t *testing.T) {
	inj := newTestInjector(t, defaultLinks()...)
	inj.Restore(4)
	ctx := context.Background()

	// Publishers fall back to an empty reservation when Reserve fails;
	// committing it must not rewind the counter.
	if err := inj.Commit(ctx, &Reservation{}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	res, err := inj.Reserve(ctx, &config.AffiliateConfig{Frequency: 5})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if res.Position != 5 {
		t.Errorf("next position = %d, want 5", res.Position)
	}
	if res.Link == nil {
		t.Error("expected position 5 to carry a link")
	}
}

func TestCommit_PersistsInsertionCount(t *testing.T) {
	store := storagetest.New()
	ctx := context.Background()
	if err := store.Links().ReplaceAll(ctx, defaultLinks()); err != nil {
		t.Fatalf("seeding links: %v", err)
	}
	inj := NewInjector(store.Links(), 1, nil)
	inj.Restore(4)

	res, err := inj.Reserve(ctx, &config.AffiliateConfig{Frequency: 5})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := inj.Commit(ctx, res); err != nil {
		t.Fatalf("commit: %v", err)
	}

	links, err := store.Links().List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var total int64
	for _, l := range links {
		total += l.Insertions
	}
	if total != 1 {
		t.Errorf("total insertions = %d, want 1", total)
	}
}

func TestPick_ZeroWeightLinksNeverChosen(t *testing.T) {
	inj := newTestInjector(t,
		types.AffiliateLink{Name: "dead", URL: "https://example.com/d", Weight: 0},
		types.AffiliateLink{Name: "live", URL: "https://example.com/l", Weight: 2},
	)
	cfg := &config.AffiliateConfig{Frequency: 1}
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		res, err := inj.Reserve(ctx, cfg)
		if err != nil {
			t.Fatalf("reserve: %v", err)
		}
		if res.Link == nil {
			t.Fatal("frequency 1 must carry a link on every position")
		}
		if res.Link.Name == "dead" {
			t.Fatal("zero-weight link was chosen")
		}
		if err := inj.Commit(ctx, res); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}
}

func TestCompose(t *testing.T) {
	link := &types.AffiliateLink{Name: "exchange", URL: "https://example.com/ex", Text: "Trade here"}

	out := Compose("Bitcoin is up.", link, "Partner link.")
	if !strings.Contains(out, "Bitcoin is up.") {
		t.Error("original text missing from composed post")
	}
	if !strings.Contains(out, "Trade here: https://example.com/ex") {
		t.Errorf("link block missing, got %q", out)
	}
	if !strings.Contains(out, "Partner link.") {
		t.Error("disclosure missing from composed post")
	}

	if out := Compose("Plain post.", nil, "Partner link."); out != "Plain post." {
		t.Errorf("nil link must leave text untouched, got %q", out)
	}
}
