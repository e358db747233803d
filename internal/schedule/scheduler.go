package schedule

import (
	"sync"
	"time"

	"autopost/internal/config"
)

// Slot is a scheduling outcome. Overflow is set when no slot inside the
// lookahead satisfied every constraint and the assignment fell back to the
// first window opening past the lookahead.
type Slot struct {
	At       time.Time
	Overflow bool
}

// Scheduler assigns publication slots greedily: each item gets the earliest
// future time that respects the minimum interval since the previously
// assigned slot, the allowed hours window, and the daily cap. Assignment
// order follows approval order, so items are never reordered relative to
// each other.
type Scheduler struct {
	mu       sync.Mutex
	lastSlot time.Time
	perDay   map[string]int
	now      func() time.Time
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		perDay: make(map[string]int),
		now:    time.Now,
	}
}

// RestoreCommitted replays slots already promised before a restart so new
// assignments keep honoring the interval and daily cap. Call before Assign.
func (s *Scheduler) RestoreCommitted(slots []time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, at := range slots {
		at = at.UTC()
		s.perDay[dayKey(at)]++
		if at.After(s.lastSlot) {
			s.lastSlot = at
		}
	}
}

// Assign returns the slot for the next item. The slot is committed
// immediately: two consecutive calls never return times closer than the
// minimum interval.
func (s *Scheduler) Assign(cfg *config.ScheduleConfig) Slot {
	s.mu.Lock()
	defer s.mu.Unlock()

	minInterval := config.Duration(cfg.MinInterval)
	now := s.now().UTC()

	candidate := now
	if earliest := s.lastSlot.Add(minInterval); earliest.After(candidate) {
		candidate = earliest
	}

	horizon := now.AddDate(0, 0, cfg.LookaheadDays)
	overflow := false

	for {
		candidate = clampToWindow(candidate, cfg)

		if candidate.After(horizon) && !overflow {
			overflow = true
		}

		if s.perDay[dayKey(candidate)] >= cfg.MaxPerDay {
			// Day is full, start over at the next day's window opening.
			next := candidate.AddDate(0, 0, 1)
			candidate = time.Date(next.Year(), next.Month(), next.Day(),
				cfg.WindowStart, 0, 0, 0, time.UTC)
			continue
		}
		break
	}

	s.lastSlot = candidate
	s.perDay[dayKey(candidate)]++

	return Slot{At: candidate, Overflow: overflow}
}

// clampToWindow moves a candidate into the allowed hours window: times
// before the window open on the same day, times at or past the window close
// on the next day's open.
func clampToWindow(t time.Time, cfg *config.ScheduleConfig) time.Time {
	opens := time.Date(t.Year(), t.Month(), t.Day(), cfg.WindowStart, 0, 0, 0, time.UTC)
	closes := time.Date(t.Year(), t.Month(), t.Day(), cfg.WindowEnd, 0, 0, 0, time.UTC)

	if t.Before(opens) {
		return opens
	}
	if !t.Before(closes) {
		return opens.AddDate(0, 0, 1)
	}
	return t
}

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
