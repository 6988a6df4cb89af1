package analysis

import (
	"errors"
	"strings"

	"socialgarden/internal/domain"
)

// Error is returned by every Client operation. It unwraps to both the
// domain sentinel of its code and the underlying cause.
type Error struct {
	Op   string
	Code domain.ErrorCode
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + string(e.Code)
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() []error {
	return []error{sentinelFor(e.Code), e.Err}
}

func sentinelFor(code domain.ErrorCode) error {
	switch code {
	case domain.ErrorCodePayloadTooLarge:
		return domain.ErrPayloadTooLarge
	case domain.ErrorCodeMalformedReply:
		return domain.ErrMalformedReply
	case domain.ErrorCodeThrottled:
		return domain.ErrThrottled
	default:
		return domain.ErrTransportFailure
	}
}

// classifyTransportErr maps a transport failure onto the taxonomy. Any
// mention of HTTP 429 counts as throttling.
func classifyTransportErr(err error) domain.ErrorCode {
	if errors.Is(err, ErrRateLimited) || strings.Contains(err.Error(), "429") {
		return domain.ErrorCodeThrottled
	}
	return domain.ErrorCodeTransportFailure
}
