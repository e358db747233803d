package types

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindTransientEnrichment       ErrorKind = "transient_enrichment_failure"
	KindRequiredEnrichmentMissing ErrorKind = "enrichment_required_missing"
	KindDuplicateDetected         ErrorKind = "duplicate_detected"
	KindModerationTimeout         ErrorKind = "moderation_timeout"
	KindScheduleOverflow          ErrorKind = "schedule_overflow"
	KindTransientDelivery         ErrorKind = "transient_delivery_failure"
	KindDeliveryExhausted         ErrorKind = "delivery_exhausted"
)

// ErrAlreadyDecided is returned when a second moderation decision is
// attempted for an item that already has one.
var ErrAlreadyDecided = errors.New("moderation decision already recorded")

// PipelineError classifies a failure within the pipeline so stages can decide
// between retry, degrade, and terminal routing.
type PipelineError struct {
	Kind    ErrorKind
	ItemID  string
	Reason  string
	Details map[string]interface{}
	Err     error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (item: %s): %v", e.Kind, e.Reason, e.ItemID, e.Err)
	}
	return fmt.Sprintf("%s: %s (item: %s)", e.Kind, e.Reason, e.ItemID)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

func NewPipelineError(kind ErrorKind, itemID, reason string) *PipelineError {
	return &PipelineError{
		Kind:    kind,
		ItemID:  itemID,
		Reason:  reason,
		Details: make(map[string]interface{}),
	}
}

func (e *PipelineError) WithDetail(key string, value interface{}) *PipelineError {
	e.Details[key] = value
	return e
}

func (e *PipelineError) WithCause(err error) *PipelineError {
	e.Err = err
	return e
}

// IsKind reports whether err is a PipelineError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind == KindTransientEnrichment || pe.Kind == KindTransientDelivery
	}
	return false
}
