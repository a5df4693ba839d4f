package booking

import (
	"slotkeeper/apperrors"
	"slotkeeper/models"
)

var transitions = map[models.BookingStatus][]models.BookingStatus{
	models.BookingStatusPending:    {models.BookingStatusConfirmed, models.BookingStatusCancelled},
	models.BookingStatusConfirmed:  {models.BookingStatusCancelled, models.BookingStatusCompleted, models.BookingStatusNoShow},
	models.BookingStatusInProgress: {models.BookingStatusCompleted, models.BookingStatusCancelled, models.BookingStatusNoShow},
}

// CanTransition reports whether a booking may move from one status to another.
// COMPLETED, CANCELLED and NO_SHOW are terminal.
func CanTransition(from, to models.BookingStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func IsTerminal(status models.BookingStatus) bool {
	return len(transitions[status]) == 0
}

func validateTransition(from, to models.BookingStatus) error {
	if !CanTransition(from, to) {
		return apperrors.BadRequest("booking status cannot change from %s to %s", from, to)
	}
	return nil
}
