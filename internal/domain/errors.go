package domain

import "errors"

// ErrorCode identifies a class of failure surfaced to the UI.
type ErrorCode string

const (
	ErrorCodePermissionDenied      ErrorCode = "permission_denied"
	ErrorCodeUnsupportedCapability ErrorCode = "unsupported_capability"
	ErrorCodePayloadTooLarge       ErrorCode = "payload_too_large"
	ErrorCodeMalformedReply        ErrorCode = "malformed_reply"
	ErrorCodeThrottled             ErrorCode = "throttled"
	ErrorCodeTransportFailure      ErrorCode = "transport_failure"
	ErrorCodeEmptyCapture          ErrorCode = "empty_capture"
	ErrorCodeCaptureFailed         ErrorCode = "capture_failed"
	ErrorCodeStartup               ErrorCode = "startup"
	ErrorCodeClipboard             ErrorCode = "clipboard"
)

var (
	ErrPermissionDenied      = errors.New("hardware access denied")
	ErrUnsupportedCapability = errors.New("capability not supported")
	ErrPayloadTooLarge       = errors.New("media payload too large")
	ErrMalformedReply        = errors.New("malformed analysis reply")
	ErrThrottled             = errors.New("analysis service throttled the request")
	ErrTransportFailure      = errors.New("analysis service failure")
	ErrEmptyCapture          = errors.New("empty capture")
	ErrCaptureCancelled      = errors.New("capture cancelled by user")
	ErrCaptureFailed         = errors.New("capture failed")
)

// CodeOf classifies err against the taxonomy. Unknown errors are
// reported as transport failures.
func CodeOf(err error) ErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermissionDenied):
		return ErrorCodePermissionDenied
	case errors.Is(err, ErrUnsupportedCapability):
		return ErrorCodeUnsupportedCapability
	case errors.Is(err, ErrPayloadTooLarge):
		return ErrorCodePayloadTooLarge
	case errors.Is(err, ErrMalformedReply):
		return ErrorCodeMalformedReply
	case errors.Is(err, ErrThrottled):
		return ErrorCodeThrottled
	case errors.Is(err, ErrEmptyCapture):
		return ErrorCodeEmptyCapture
	case errors.Is(err, ErrCaptureFailed):
		return ErrorCodeCaptureFailed
	default:
		return ErrorCodeTransportFailure
	}
}

// UserMessage renders err for display.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch CodeOf(err) {
	case ErrorCodePermissionDenied:
		return "Impossible d'accéder au microphone. Vérifiez vos permissions."
	case ErrorCodeUnsupportedCapability:
		return "L'enregistrement d'écran n'est pas supporté."
	case ErrorCodePayloadTooLarge:
		return "Fichier trop lourd (>18Mo)."
	case ErrorCodeMalformedReply:
		return "L'IA a bafouillé (Erreur format). Réessayez."
	case ErrorCodeThrottled:
		return "Trop de demandes. Pause café requise."
	case ErrorCodeCaptureFailed:
		return "Erreur technique pendant l'enregistrement: " + err.Error()
	default:
		return err.Error()
	}
}
