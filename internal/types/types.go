package types

import (
	"time"
)

type Platform string

const (
	PlatformChatChannel Platform = "chat_channel"
	PlatformMicroblog   Platform = "microblog"
	PlatformFeed        Platform = "feed"
)

// Source is one monitored external feed. Sources are never deleted, only
// deactivated; deactivation stops future ingestion but never aborts items
// already in the pipeline.
type Source struct {
	ID         int64
	Name       string
	Platform   Platform
	Identifier string
	Weight     float64
	Active     bool
	Language   string
	CreatedAt  time.Time
}

// RawItem is one ingested unit before processing. Immutable once stored.
// ExternalID is the platform's stable post id, used to suppress duplicate
// ingestion at the boundary.
type RawItem struct {
	ID           string
	SourceID     int64
	ExternalID   string
	Text         string
	MediaURLs    []string
	Language     string
	SourceWeight float64
	IngestedAt   time.Time
}

// Enrichment carries collaborator outputs attached to an item. Failed
// best-effort calls are recorded in Errors instead of failing the item.
type Enrichment struct {
	TranslatedText string
	TranslatedFrom string
	ImageRef       string
	Errors         []string
}

// ProcessedItem is the pipeline's unit of work, derived 1:1 from a RawItem.
// Ownership transfers stage to stage; only the stage currently holding the
// item mutates it.
type ProcessedItem struct {
	ID             string
	RawID          string
	SourceID       int64
	SourceWeight   float64
	NormalizedText string
	Language       string
	Score          float64
	DuplicateOf    string
	Enrichment     Enrichment
	State          State
	ScheduledAt    *time.Time
	Overflow       bool
	FailReason     string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Verdict string

const (
	VerdictApprove Verdict = "approve"
	VerdictReject  Verdict = "reject"
)

// ModerationDecision is created exactly once per moderated item. Approver is
// "auto" and Reason "timeout" when the escalation fallback resolved the item.
type ModerationDecision struct {
	ID        string
	ItemID    string
	Approver  string
	Verdict   Verdict
	Comment   string
	Reason    string
	DecidedAt time.Time
}

// AffiliateLink is one promotional link with its selection weight and the
// running count of times it has been inserted.
type AffiliateLink struct {
	Name       string
	URL        string
	Text       string
	Weight     float64
	Insertions int64
}

// PublishedPost is the terminal record of a successful delivery.
type PublishedPost struct {
	ID                string
	ItemID            string
	FinalText         string
	ExternalPostID    string
	ContainsAffiliate bool
	AffiliateName     string
	PublishedAt       time.Time
}
