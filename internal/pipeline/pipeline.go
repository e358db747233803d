package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"autopost/internal/config"
	"autopost/internal/enrich"
	"autopost/internal/metrics"
	"autopost/internal/moderation"
	"autopost/internal/normalize"
	"autopost/internal/publish"
	"autopost/internal/schedule"
	"autopost/internal/scoring"
	"autopost/internal/storage"
	"autopost/internal/types"
)

// Pipeline owns the stage queues and workers. Items enter through the raw
// queue and move stage to stage, with every transition persisted before the
// hand-off; a crash at any point leaves the item recoverable from its
// stored state.
//
// Scoring and enrichment run one worker per partition, keyed by source, so
// items from one source keep their order while sources proceed in parallel.
// Scheduling and publishing are single workers: slot assignment follows
// approval order, and delivery follows slot order.
type Pipeline struct {
	cfgStore  *config.Store
	store     storage.Store
	engine    *scoring.Engine
	enricher  *enrich.Coordinator
	gate      *moderation.Gate
	scheduler *schedule.Scheduler
	publisher *publish.Publisher
	logger    *slog.Logger

	intake    chan *types.RawItem
	rawQ      *partitionedQueue[*types.RawItem]
	enrichQ   *partitionedQueue[*types.ProcessedItem]
	scheduleQ chan *types.ProcessedItem
	publishQ  chan *types.ProcessedItem

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

func New(cfgStore *config.Store, store storage.Store, engine *scoring.Engine,
	enricher *enrich.Coordinator, scheduler *schedule.Scheduler,
	publisher *publish.Publisher, logger *slog.Logger) *Pipeline {

	if logger == nil {
		logger = slog.Default()
	}
	cfg := cfgStore.Current()

	p := &Pipeline{
		cfgStore:  cfgStore,
		store:     store,
		engine:    engine,
		enricher:  enricher,
		scheduler: scheduler,
		publisher: publisher,
		logger:    logger,
		intake:    make(chan *types.RawItem, cfg.App.QueueDepth),
		rawQ:      newPartitionedQueue[*types.RawItem]("score", cfg.App.Partitions, cfg.App.QueueDepth),
		enrichQ:   newPartitionedQueue[*types.ProcessedItem]("enrich", cfg.App.Partitions, cfg.App.QueueDepth),
		scheduleQ: make(chan *types.ProcessedItem, cfg.App.QueueDepth),
		publishQ:  make(chan *types.ProcessedItem, cfg.App.QueueDepth),
	}
	p.gate = moderation.NewGate(store, p.scheduleQ, logger)
	return p
}

// Gate exposes the moderation gate for decision endpoints.
func (p *Pipeline) Gate() *moderation.Gate {
	return p.gate
}

// Intake returns the channel new raw items enter through. A plain channel
// fronts the partitioned raw queue so producers do not see the partitioning.
func (p *Pipeline) Intake() chan<- *types.RawItem {
	return p.intake
}

func (p *Pipeline) intakeForwarder(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-p.intake:
			if err := p.submitRaw(ctx, raw); err != nil {
				return
			}
		}
	}
}

func (p *Pipeline) submitRaw(ctx context.Context, raw *types.RawItem) error {
	return p.rawQ.push(ctx, strconv.FormatInt(raw.SourceID, 10), raw)
}

// Start launches all stage workers plus the moderation gate and the recovery
// sweep. Safe to call once; a second call is a no-op.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	cfg := p.cfgStore.Current()

	for i := 0; i < cfg.App.Partitions; i++ {
		p.wg.Add(2)
		go p.scoreWorker(ctx, i)
		go p.enrichWorker(ctx, i)
	}

	p.wg.Add(4)
	go p.intakeForwarder(ctx)
	go p.scheduleWorker(ctx)
	go p.publishWorker(ctx)
	go func() {
		defer p.wg.Done()
		p.gate.Run(ctx, p.cfgStore)
	}()

	p.wg.Add(1)
	go p.recoveryLoop(ctx)

	p.logger.Info("Pipeline started", "partitions", cfg.App.Partitions)
}

// Wait blocks until every worker has observed cancellation and returned.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) scoreWorker(ctx context.Context, part int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-p.rawQ.part(part):
			p.rawQ.observe()
			if err := p.scoreRaw(ctx, raw); err != nil {
				p.logger.Error("Scoring failed", "raw", raw.ID, "error", err)
			}
		}
	}
}

// scoreRaw derives the processed item and routes it by score band. Replays
// of the same raw item are idempotent: an existing processed item resumes
// from its stored state instead of being recreated.
func (p *Pipeline) scoreRaw(ctx context.Context, raw *types.RawItem) error {
	exists, err := p.store.Processed().ExistsForRaw(ctx, raw.ID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	now := time.Now().UTC()
	item := &types.ProcessedItem{
		ID:             uuid.NewString(),
		RawID:          raw.ID,
		SourceID:       raw.SourceID,
		SourceWeight:   raw.SourceWeight,
		NormalizedText: normalize.Text(raw.Text),
		Language:       raw.Language,
		State:          types.StateRaw,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if len(raw.MediaURLs) > 0 {
		item.Enrichment.ImageRef = raw.MediaURLs[0]
	}

	if err := p.store.Processed().Create(ctx, item); err != nil {
		return err
	}
	return p.routeRaw(ctx, item)
}

func (p *Pipeline) routeRaw(ctx context.Context, item *types.ProcessedItem) error {
	cfg := p.cfgStore.Current()

	result := p.engine.Evaluate(ctx, cfg, item)
	item.Score = result.Score
	item.DuplicateOf = result.DuplicateOf

	if err := p.store.Processed().Transition(ctx, item, types.StateScored); err != nil {
		return err
	}
	return p.routeScored(ctx, item)
}

func (p *Pipeline) routeScored(ctx context.Context, item *types.ProcessedItem) error {
	cfg := p.cfgStore.Current()

	switch {
	case item.DuplicateOf != "":
		metrics.DuplicatesDetected.Inc()
		metrics.ItemsByOutcome.WithLabelValues(string(types.StateDuplicate)).Inc()
		p.logger.Info("Duplicate dropped", "item", item.ID, "of", item.DuplicateOf)
		return p.store.Processed().Transition(ctx, item, types.StateDuplicate)

	case item.Score < cfg.Moderation.AutoReject:
		item.FailReason = fmt.Sprintf("score %.2f below auto-reject cutoff %.2f",
			item.Score, cfg.Moderation.AutoReject)
		metrics.ItemsByOutcome.WithLabelValues(string(types.StateRejected)).Inc()
		return p.store.Processed().Transition(ctx, item, types.StateRejected)

	default:
		if err := p.store.Processed().Transition(ctx, item, types.StateEnriching); err != nil {
			return err
		}
		return p.enrichQ.push(ctx, strconv.FormatInt(item.SourceID, 10), item)
	}
}

func (p *Pipeline) enrichWorker(ctx context.Context, part int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-p.enrichQ.part(part):
			p.enrichQ.observe()
			if err := p.enrichItem(ctx, item); err != nil {
				p.logger.Error("Enrichment stage failed", "item", item.ID, "error", err)
			}
		}
	}
}

// enrichItem runs the collaborators, then routes by the moderation band: a
// score at or above the auto-approve cutoff goes straight to scheduling,
// anything else waits at the gate.
func (p *Pipeline) enrichItem(ctx context.Context, item *types.ProcessedItem) error {
	cfg := p.cfgStore.Current()

	if err := p.enricher.Enrich(ctx, cfg, item); err != nil {
		if types.IsKind(err, types.KindRequiredEnrichmentMissing) {
			item.FailReason = err.Error()
			metrics.ItemsByOutcome.WithLabelValues(string(types.StatePublishFailed)).Inc()
			return p.store.Processed().Transition(ctx, item, types.StatePublishFailed)
		}
		return err
	}

	if item.Score >= cfg.Moderation.AutoApprove {
		if err := p.store.Processed().Transition(ctx, item, types.StateApproved); err != nil {
			return err
		}
		select {
		case p.scheduleQ <- item:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return p.gate.Hold(ctx, item)
}

func (p *Pipeline) scheduleWorker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-p.scheduleQ:
			if err := p.scheduleItem(ctx, item); err != nil {
				p.logger.Error("Scheduling failed", "item", item.ID, "error", err)
			}
		}
	}
}

func (p *Pipeline) scheduleItem(ctx context.Context, item *types.ProcessedItem) error {
	cfg := p.cfgStore.Current()

	slot := p.scheduler.Assign(&cfg.Schedule)
	item.ScheduledAt = &slot.At
	item.Overflow = slot.Overflow

	if slot.Overflow {
		p.logger.Warn("Schedule overflow, slot past lookahead",
			"item", item.ID, "slot", slot.At.Format(time.RFC3339))
	}

	if err := p.store.Processed().Transition(ctx, item, types.StateScheduled); err != nil {
		return err
	}

	select {
	case p.publishQ <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) publishWorker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-p.publishQ:
			cfg := p.cfgStore.Current()
			if err := p.publisher.Publish(ctx, cfg, item); err != nil {
				p.logger.Error("Publish failed", "item", item.ID, "error", err)
			}
		}
	}
}
