package utils

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewID returns a time-ordered UUIDv7 string
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewCode builds a human-readable reference such as "WF-LZ3K9Q2A-7F3C":
// the prefix, the creation time in base36 milliseconds, and a short random suffix.
func NewCode(prefix string, t time.Time) string {
	stamp := strings.ToUpper(strconv.FormatInt(t.UnixMilli(), 36))
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:4])
	return prefix + stamp + "-" + suffix
}
