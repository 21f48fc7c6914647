package reconcile

import "pulse/internal/domain"

func rank(s domain.MessageStatus) int {
	switch s {
	case domain.StatusSending:
		return 0
	case domain.StatusSent:
		return 1
	case domain.StatusDelivered:
		return 2
	case domain.StatusRead:
		return 3
	}
	return -1
}

// CanTransition reports whether a message in status from may move to to.
func CanTransition(from, to domain.MessageStatus) bool {
	switch {
	case from == to:
		return false
	case to == domain.StatusFailed:
		return from == domain.StatusSending
	case from == domain.StatusFailed:
		return to == domain.StatusSending
	}
	f, t := rank(from), rank(to)
	return f >= 0 && t > f
}
