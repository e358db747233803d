package ingest

import (
	"context"
	"testing"
	"time"

	"autopost/internal/cache"
	"autopost/internal/storage/storagetest"
	"autopost/internal/types"
)

func testSource() *types.Source {
	return &types.Source{
		ID:       1,
		Name:     "coindesk",
		Platform: types.PlatformFeed,
		Weight:   0.9,
		Active:   true,
		Language: "en",
	}
}

func newTestIntake(t *testing.T) (*Intake, *storagetest.MemoryStore, chan *types.RawItem) {
	t.Helper()
	store := storagetest.New()
	out := make(chan *types.RawItem, 16)
	intake := NewIntake(store, cache.NewMemoryCache(time.Minute), out, nil)
	return intake, store, out
}

func TestSubmit_AcceptsNewItem(t *testing.T) {
	intake, _, out := newTestIntake(t)

	accepted, err := intake.Submit(context.Background(), testSource(), "post-1", "Bitcoin climbs", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !accepted {
		t.Fatal("new item not accepted")
	}

	select {
	case item := <-out:
		if item.ExternalID != "post-1" {
			t.Errorf("forwarded external id = %q, want post-1", item.ExternalID)
		}
		if item.SourceWeight != 0.9 {
			t.Errorf("source weight = %v, want snapshot 0.9", item.SourceWeight)
		}
		if item.Language != "en" {
			t.Errorf("language = %q, want en", item.Language)
		}
	default:
		t.Fatal("accepted item never reached the pipeline channel")
	}
}

func TestSubmit_SuppressesRepeatDelivery(t *testing.T) {
	intake, _, out := newTestIntake(t)
	ctx := context.Background()
	source := testSource()

	for i := 0; i < 3; i++ {
		if _, err := intake.Submit(ctx, source, "post-1", "Bitcoin climbs", nil); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	if got := len(out); got != 1 {
		t.Errorf("forwarded items = %d, want 1; re-deliveries must be suppressed", got)
	}
}

func TestSubmit_SuppressionSurvivesColdCache(t *testing.T) {
	store := storagetest.New()
	out := make(chan *types.RawItem, 16)
	ctx := context.Background()
	source := testSource()

	first := NewIntake(store, cache.NewMemoryCache(time.Minute), out, nil)
	if _, err := first.Submit(ctx, source, "post-1", "Bitcoin climbs", nil); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Fresh cache, same store: the conditional insert still suppresses.
	second := NewIntake(store, cache.NewMemoryCache(time.Minute), out, nil)
	accepted, err := second.Submit(ctx, source, "post-1", "Bitcoin climbs", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if accepted {
		t.Error("item accepted twice across cache restarts")
	}
	if got := len(out); got != 1 {
		t.Errorf("forwarded items = %d, want 1", got)
	}
}

func TestSubmit_SameExternalIDDifferentSources(t *testing.T) {
	intake, _, out := newTestIntake(t)
	ctx := context.Background()

	other := testSource()
	other.ID = 2
	other.Name = "cointelegraph"

	if _, err := intake.Submit(ctx, testSource(), "post-1", "Bitcoin climbs", nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	accepted, err := intake.Submit(ctx, other, "post-1", "Bitcoin climbs", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !accepted {
		t.Error("external ids are scoped per source; second source must be accepted")
	}
	if got := len(out); got != 2 {
		t.Errorf("forwarded items = %d, want 2", got)
	}
}

func TestSubmit_InactiveSourceDropped(t *testing.T) {
	intake, _, out := newTestIntake(t)

	source := testSource()
	source.Active = false

	accepted, err := intake.Submit(context.Background(), source, "post-1", "Bitcoin climbs", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if accepted {
		t.Error("inactive source must not ingest")
	}
	if len(out) != 0 {
		t.Error("inactive source item reached the pipeline")
	}
}

func TestSubmit_RejectsItemWithoutIdentity(t *testing.T) {
	intake, _, _ := newTestIntake(t)

	if _, err := intake.Submit(context.Background(), testSource(), "", "text", nil); err == nil {
		t.Error("expected an error for a missing external id")
	}
	if _, err := intake.Submit(context.Background(), testSource(), "post-1", "", nil); err == nil {
		t.Error("expected an error for empty text")
	}
}
