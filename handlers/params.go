package handlers

import (
	"time"

	"slotkeeper/apperrors"

	"github.com/gin-gonic/gin"
)

// IdempotencyHeader lets clients pass the idempotency key outside the body.
const IdempotencyHeader = "Idempotency-Key"

// optionalTime parses an RFC 3339 query parameter; absent means nil.
func optionalTime(c *gin.Context, name string) (*time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, apperrors.BadRequest("invalid %s %q: expected RFC 3339", name, raw)
	}
	return &t, nil
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func bindError(err error) error {
	return apperrors.BadRequest("invalid request payload: %v", err)
}
