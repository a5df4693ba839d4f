package booking

import (
	"regexp"
	"testing"
	"time"

	"slotkeeper/apperrors"
	"slotkeeper/models"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	const (
		pending    = models.BookingStatusPending
		confirmed  = models.BookingStatusConfirmed
		inProgress = models.BookingStatusInProgress
		completed  = models.BookingStatusCompleted
		cancelled  = models.BookingStatusCancelled
		noShow     = models.BookingStatusNoShow
	)

	tests := []struct {
		from, to models.BookingStatus
		want     bool
	}{
		{pending, confirmed, true},
		{pending, cancelled, true},
		{pending, completed, false},
		{pending, noShow, false},
		{confirmed, cancelled, true},
		{confirmed, completed, true},
		{confirmed, noShow, true},
		{confirmed, pending, false},
		{inProgress, completed, true},
		{inProgress, cancelled, true},
		{inProgress, confirmed, false},
		{completed, confirmed, false},
		{cancelled, confirmed, false},
		{noShow, confirmed, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
			err := validateTransition(tt.from, tt.to)
			if tt.want {
				assert.NoError(t, err)
			} else {
				assert.True(t, apperrors.IsBadRequest(err))
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	for _, st := range []models.BookingStatus{models.BookingStatusCompleted, models.BookingStatusCancelled, models.BookingStatusNoShow} {
		assert.True(t, IsTerminal(st), st)
	}
	for _, st := range models.ActiveBookingStatuses {
		assert.False(t, IsTerminal(st), st)
	}
}

func TestNewSerialKey(t *testing.T) {
	nairobi, err := time.LoadLocation("Africa/Nairobi")
	if err != nil {
		t.Fatal(err)
	}
	// 22:30 UTC is already the next day in Nairobi.
	start := time.Date(2025, 3, 13, 22, 30, 0, 0, time.UTC)

	pattern := regexp.MustCompile(`^BK-\d{8}-[0-9A-F]{8}$`)
	a := NewSerialKey(start, time.UTC)
	b := NewSerialKey(start, nairobi)

	assert.Regexp(t, pattern, a)
	assert.Equal(t, "BK-20250313-", a[:12])
	assert.Equal(t, "BK-20250314-", b[:12])
	assert.NotEqual(t, a[12:], NewSerialKey(start, time.UTC)[12:])
}
