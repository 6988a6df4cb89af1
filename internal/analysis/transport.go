package analysis

import (
	"context"
	"errors"
)

// ErrRateLimited is returned (wrapped) by transports when the service
// refused the request for quota reasons.
var ErrRateLimited = errors.New("rate limited")

// ResponseFormat tells the service how to encode its reply.
type ResponseFormat string

const (
	ResponseStructured ResponseFormat = "structured"
	ResponseText       ResponseFormat = "text"
)

// Part is one ordered context part: either text or inline media.
type Part struct {
	Text     string
	Data     []byte
	MIMEType string
}

// IsMedia reports whether p carries inline media.
func (p Part) IsMedia() bool { return p.Data != nil }

func TextPart(text string) Part { return Part{Text: text} }

func MediaPart(data []byte, mimeType string) Part {
	if data == nil {
		data = []byte{}
	}
	return Part{Data: data, MIMEType: mimeType}
}

// Request is what the client hands to the reasoning service.
type Request struct {
	Parts             []Part
	SystemInstruction string
	ResponseFormat    ResponseFormat
}

// Transport sends one request and returns the primary text payload of the reply.
type Transport interface {
	Generate(ctx context.Context, req Request) (string, error)
}
