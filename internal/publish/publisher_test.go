package publish

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"autopost/internal/affiliate"
	"autopost/internal/config"
	"autopost/internal/storage/storagetest"
	"autopost/internal/types"
)

type fakeChannel struct {
	failures int
	calls    int
	lastText string
	err      error
}

func (f *fakeChannel) Name() string { return "fake" }

func (f *fakeChannel) Send(ctx context.Context, text, mediaRef string) (string, error) {
	f.calls++
	f.lastText = text
	if f.calls <= f.failures {
		if f.err != nil {
			return "", f.err
		}
		return "", types.NewPipelineError(types.KindTransientDelivery, "", "try again")
	}
	return "post-123", nil
}

func testPublishConfig() *config.Config {
	return &config.Config{
		Affiliate: config.AffiliateConfig{Frequency: 5},
		Publish:   config.PublishConfig{MaxAttempts: 3, PerMinute: 20},
	}
}

func newTestPublisher(t *testing.T, store *storagetest.MemoryStore, channel OutputChannel) *Publisher {
	t.Helper()
	inj := affiliate.NewInjector(store.Links(), 1, nil)
	p := NewPublisher(store, channel, inj, 20, nil)
	p.limiter = rate.NewLimiter(rate.Inf, 1)
	p.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return p
}

func seedScheduledItem(t *testing.T, store *storagetest.MemoryStore, id string) *types.ProcessedItem {
	t.Helper()
	at := time.Now().UTC().Add(-time.Minute)
	item := &types.ProcessedItem{
		ID:             id,
		RawID:          "raw-" + id,
		NormalizedText: "Bitcoin holds above six figures",
		State:          types.StateScheduled,
		ScheduledAt:    &at,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	if err := store.Processed().Create(context.Background(), item); err != nil {
		t.Fatalf("seeding item: %v", err)
	}
	return item
}

func TestPublish_SuccessRecordsPostAndState(t *testing.T) {
	store := storagetest.New()
	channel := &fakeChannel{}
	p := newTestPublisher(t, store, channel)
	item := seedScheduledItem(t, store, "item-1")

	if err := p.Publish(context.Background(), testPublishConfig(), item); err != nil {
		t.Fatalf("publish: %v", err)
	}

	stored, _ := store.Processed().Get(context.Background(), "item-1")
	if stored.State != types.StatePublished {
		t.Errorf("state = %s, want published", stored.State)
	}
	count, _ := store.Posts().CountPublished(context.Background())
	if count != 1 {
		t.Errorf("published posts = %d, want 1", count)
	}
}

func TestPublish_RetriesTransientFailures(t *testing.T) {
	store := storagetest.New()
	channel := &fakeChannel{failures: 2}
	p := newTestPublisher(t, store, channel)
	item := seedScheduledItem(t, store, "item-1")

	if err := p.Publish(context.Background(), testPublishConfig(), item); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if channel.calls != 3 {
		t.Errorf("delivery attempts = %d, want 3", channel.calls)
	}
}

func TestPublish_ExhaustionMarksFailed(t *testing.T) {
	store := storagetest.New()
	channel := &fakeChannel{failures: 10}
	p := newTestPublisher(t, store, channel)
	item := seedScheduledItem(t, store, "item-1")

	err := p.Publish(context.Background(), testPublishConfig(), item)
	if !types.IsKind(err, types.KindDeliveryExhausted) {
		t.Fatalf("error = %v, want delivery_exhausted", err)
	}
	if channel.calls != 3 {
		t.Errorf("delivery attempts = %d, want the configured budget of 3", channel.calls)
	}

	stored, _ := store.Processed().Get(context.Background(), "item-1")
	if stored.State != types.StatePublishFailed {
		t.Errorf("state = %s, want publish_failed", stored.State)
	}
	if stored.FailReason == "" {
		t.Error("fail reason not recorded")
	}
}

func TestPublish_PermanentFailureStopsImmediately(t *testing.T) {
	store := storagetest.New()
	channel := &fakeChannel{failures: 10, err: errors.New("chat not found")}
	p := newTestPublisher(t, store, channel)
	item := seedScheduledItem(t, store, "item-1")

	err := p.Publish(context.Background(), testPublishConfig(), item)
	if !types.IsKind(err, types.KindDeliveryExhausted) {
		t.Fatalf("error = %v, want delivery_exhausted", err)
	}
	if channel.calls != 1 {
		t.Errorf("delivery attempts = %d, permanent failures must not retry", channel.calls)
	}
}

func TestPublish_FailureDoesNotAdvanceAffiliatePosition(t *testing.T) {
	store := storagetest.New()
	ctx := context.Background()
	if err := store.Links().ReplaceAll(ctx, []types.AffiliateLink{
		{Name: "exchange", URL: "https://example.com/ex", Weight: 1},
	}); err != nil {
		t.Fatalf("seeding links: %v", err)
	}

	inj := affiliate.NewInjector(store.Links(), 1, nil)
	inj.Restore(4)

	failing := &fakeChannel{failures: 10}
	p := NewPublisher(store, failing, inj, 20, nil)
	p.limiter = rate.NewLimiter(rate.Inf, 1)
	p.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	item := seedScheduledItem(t, store, "item-1")
	if err := p.Publish(ctx, testPublishConfig(), item); err == nil {
		t.Fatal("expected delivery failure")
	}

	// The fifth successful publication is still position 5.
	res, err := inj.Reserve(ctx, &config.AffiliateConfig{Frequency: 5})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if res.Position != 5 || res.Link == nil {
		t.Errorf("position = %d link = %v, want position 5 with link", res.Position, res.Link)
	}
}

func TestPublish_ReplayedCopyDeliversOnce(t *testing.T) {
	store := storagetest.New()
	channel := &fakeChannel{}
	p := newTestPublisher(t, store, channel)
	item := seedScheduledItem(t, store, "item-1")

	if err := p.Publish(context.Background(), testPublishConfig(), item); err != nil {
		t.Fatalf("publish: %v", err)
	}

	// A recovery sweep can enqueue a second copy still carrying the
	// scheduled state; the stored state must stop it before delivery.
	replay := *item
	replay.State = types.StateScheduled
	if err := p.Publish(context.Background(), testPublishConfig(), &replay); err != nil {
		t.Fatalf("replayed publish: %v", err)
	}

	if channel.calls != 1 {
		t.Errorf("output channel received %d deliveries for one item, want 1", channel.calls)
	}
	count, _ := store.Posts().CountPublished(context.Background())
	if count != 1 {
		t.Errorf("published posts = %d, want 1", count)
	}
}

func TestPublish_UsesTranslatedText(t *testing.T) {
	store := storagetest.New()
	channel := &fakeChannel{}
	p := newTestPublisher(t, store, channel)

	item := seedScheduledItem(t, store, "item-1")
	item.Enrichment.TranslatedText = "El bitcoin se mantiene por encima de seis cifras"

	if err := p.Publish(context.Background(), testPublishConfig(), item); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if channel.lastText != item.Enrichment.TranslatedText {
		t.Errorf("delivered %q, want the translated text", channel.lastText)
	}
}

func TestBackoffFor(t *testing.T) {
	if got := backoffFor(errors.New("plain"), 1); got != time.Second {
		t.Errorf("attempt 1 backoff = %v, want 1s", got)
	}
	if got := backoffFor(errors.New("plain"), 3); got != 4*time.Second {
		t.Errorf("attempt 3 backoff = %v, want 4s", got)
	}

	floodWait := types.NewPipelineError(types.KindTransientDelivery, "", "flood").
		WithDetail("retry_after", 30)
	if got := backoffFor(floodWait, 1); got != 30*time.Second {
		t.Errorf("flood-wait backoff = %v, want 30s", got)
	}
}
