package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ItemsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autopost_items_ingested_total",
		Help: "Raw items accepted at the ingestion boundary, by source.",
	}, []string{"source"})

	ItemsSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autopost_items_suppressed_total",
		Help: "Raw items dropped at the ingestion boundary as already seen.",
	}, []string{"source"})

	ItemsByOutcome = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autopost_items_outcome_total",
		Help: "Items reaching a terminal state, by state.",
	}, []string{"state"})

	DuplicatesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autopost_duplicates_detected_total",
		Help: "Items marked duplicate by the similarity index.",
	})

	ModerationEscalations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autopost_moderation_escalations_total",
		Help: "Moderation decisions produced by the timeout fallback.",
	})

	PublishAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autopost_publish_attempts_total",
		Help: "Delivery attempts, by result.",
	}, []string{"result"})

	AffiliateInsertions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autopost_affiliate_insertions_total",
		Help: "Published posts that carried an affiliate link.",
	})

	RecoveredItems = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autopost_recovered_items_total",
		Help: "Stale items re-enqueued by the recovery sweep.",
	})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "autopost_queue_depth",
		Help: "Buffered items per stage queue partition.",
	}, []string{"stage", "partition"})
)
