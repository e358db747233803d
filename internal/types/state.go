package types

// State is an item's lifecycle position. Transitions are monotonic: no state
// is revisited, except that Scheduled re-enters itself on publish retries.
type State string

const (
	StateRaw               State = "raw"
	StateScored            State = "scored"
	StateDuplicate         State = "duplicate"
	StateEnriching         State = "enriching"
	StatePendingModeration State = "pending_moderation"
	StateRejected          State = "rejected"
	StateApproved          State = "approved"
	StateScheduled         State = "scheduled"
	StatePublished         State = "published"
	StatePublishFailed     State = "publish_failed"
)

var transitions = map[State][]State{
	StateRaw:               {StateScored},
	StateScored:            {StateDuplicate, StateRejected, StateEnriching},
	StateEnriching:         {StatePendingModeration, StateApproved, StatePublishFailed},
	StatePendingModeration: {StateApproved, StateRejected},
	StateApproved:          {StateScheduled},
	StateScheduled:         {StateScheduled, StatePublished, StatePublishFailed},
}

// Terminal reports whether no further transition is allowed out of s.
func (s State) Terminal() bool {
	switch s {
	case StateDuplicate, StateRejected, StatePublished, StatePublishFailed:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is a legal lifecycle
// step.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
