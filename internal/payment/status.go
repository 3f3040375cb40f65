package payment

import "strings"

// Status is the normalized payment state the core acts on. Provider
// specific codes are mapped here and nowhere else.
type Status string

const (
	StatusSettled   Status = "settled"
	StatusDenied    Status = "denied"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
	StatusPending   Status = "pending"
)

var providerStatus = map[string]Status{
	"PAID":      StatusSettled,
	"SETTLED":   StatusSettled,
	"SUCCESS":   StatusSettled,
	"CAPTURED":  StatusSettled,
	"DENY":      StatusDenied,
	"DENIED":    StatusDenied,
	"FAILED":    StatusDenied,
	"CANCEL":    StatusCancelled,
	"CANCELLED": StatusCancelled,
	"EXPIRE":    StatusExpired,
	"EXPIRED":   StatusExpired,
	"PENDING":   StatusPending,
	"OPEN":      StatusPending,
}

// Normalize maps a raw provider status code. ok=false means the code is
// unknown and the notification must be rejected, not guessed at.
func Normalize(raw string) (Status, bool) {
	s, ok := providerStatus[strings.ToUpper(strings.TrimSpace(raw))]
	return s, ok
}

// Terminal reports whether the status ends the payment attempt, i.e.
// whether it should trigger finalization or release.
func (s Status) Terminal() bool { return s != StatusPending }
