package storage

import "fmt"

// State is the delivery state of an outbox row.
type State int

const (
	NotPublished    State = 0
	InProgress      State = 1
	Published       State = 2
	PublishedFailed State = 3
)

func (s State) String() string {
	switch s {
	case NotPublished:
		return "NotPublished"
	case InProgress:
		return "InProgress"
	case Published:
		return "Published"
	case PublishedFailed:
		return "PublishedFailed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// IsValid reports whether s is part of the row lifecycle.
func (s State) IsValid() bool {
	return s >= NotPublished && s <= PublishedFailed
}

// CanTransitionTo reports whether the relay may move a row from s to next.
// InProgress -> NotPublished is the stale-claim recovery edge.
func (s State) CanTransitionTo(next State) bool {
	switch s {
	case NotPublished, PublishedFailed:
		return next == InProgress
	case InProgress:
		return next == Published || next == PublishedFailed || next == NotPublished
	default:
		return false
	}
}

// ValidateTransition returns ErrInvalidTransition when from cannot move to to.
func ValidateTransition(from, to State) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
