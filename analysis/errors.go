package analysis

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrEventNotFound is returned when no start record exists for an event.
var ErrEventNotFound = errors.New("event not found")

// NoDataError is returned when none of an event's loggers had telemetry in
// the window. It carries what was attempted so callers can explain the failure.
type NoDataError struct {
	EventID   string
	SystemIDs []string
	Start     time.Time
	End       time.Time
}

func (e *NoDataError) Error() string {
	return fmt.Sprintf("no telemetry found for event %s (loggers: %s) between %s and %s",
		e.EventID, strings.Join(e.SystemIDs, ", "),
		e.Start.UTC().Format(time.RFC3339), e.End.UTC().Format(time.RFC3339))
}

// IsNoData reports whether err is, or wraps, a *NoDataError.
func IsNoData(err error) bool {
	var nd *NoDataError
	return errors.As(err, &nd)
}
