package booking

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const serialAttempts = 3

// NewSerialKey builds the human-readable booking reference: the start date in
// loc followed by a random suffix, e.g. BK-20250313-9F1C2A7B.
func NewSerialKey(start time.Time, loc *time.Location) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:8]
	return "BK-" + start.In(loc).Format("20060102") + "-" + suffix
}
