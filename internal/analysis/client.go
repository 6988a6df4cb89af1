// Package analysis assembles multimodal requests for the reasoning service
// and validates its structured replies.
package analysis

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"socialgarden/internal/domain"
)

// DefaultMaxMediaBytes is the per-part ceiling (18 MiB).
const DefaultMaxMediaBytes = 18 * 1024 * 1024

const (
	opCheckIn  = "classify check-in"
	opEvidence = "analyze evidence"
	opFollowUp = "analyze follow-up"
)

var compatibleMIMETypes = map[string]string{
	"video/quicktime":        "video/mp4",
	"video/x-m4v":            "video/mp4",
	"video/x-matroska":       "video/webm",
	"application/x-matroska": "video/webm",
}

// Options tunes a Client.
type Options struct {
	MaxMediaBytes int
}

// Client implements ports.Analyzer. It never retries.
type Client struct {
	transport     Transport
	logger        *zap.Logger
	maxMediaBytes int
}

func NewClient(transport Transport, logger *zap.Logger, opts Options) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxMediaBytes <= 0 {
		opts.MaxMediaBytes = DefaultMaxMediaBytes
	}
	return &Client{
		transport:     transport,
		logger:        logger.Named("analysis"),
		maxMediaBytes: opts.MaxMediaBytes,
	}
}

func (c *Client) ClassifyCheckIn(ctx context.Context, clip domain.Media) (domain.CheckIn, error) {
	audio, err := c.mediaPart(opCheckIn, clip, "audio/webm")
	if err != nil {
		return domain.CheckIn{}, err
	}
	reply, err := c.send(ctx, opCheckIn, []Part{audio, TextPart(CheckInPrompt)})
	if err != nil {
		return domain.CheckIn{}, err
	}
	checkIn, err := ParseCheckIn(reply)
	if err != nil {
		return domain.CheckIn{}, c.malformed(opCheckIn, err)
	}
	return checkIn, nil
}

func (c *Client) AnalyzeEvidence(ctx context.Context, mode domain.Mode, media *domain.Media, audio *domain.Media, profile domain.UserProfile) (domain.AnalysisResult, error) {
	parts := []Part{TextPart(ContextPrompt(mode, ProfileSummary(profile, true)))}
	if media != nil {
		part, err := c.mediaPart(opEvidence, *media, "video/webm")
		if err != nil {
			return domain.AnalysisResult{}, err
		}
		parts = append(parts, part)
	}
	if audio != nil {
		part, err := c.mediaPart(opEvidence, *audio, "audio/webm")
		if err != nil {
			return domain.AnalysisResult{}, err
		}
		parts = append(parts, part)
	}
	return c.analyze(ctx, opEvidence, parts)
}

func (c *Client) AnalyzeFollowUp(ctx context.Context, priorAdvice string, reaction string, reactionAudio *domain.Media, profile domain.UserProfile) (domain.AnalysisResult, error) {
	parts := []Part{TextPart(FollowUpPrompt(priorAdvice, reaction, ProfileSummary(profile, false)))}
	if reactionAudio != nil {
		part, err := c.mediaPart(opFollowUp, *reactionAudio, "audio/webm")
		if err != nil {
			return domain.AnalysisResult{}, err
		}
		parts = append(parts, part)
	}
	return c.analyze(ctx, opFollowUp, parts)
}

func (c *Client) analyze(ctx context.Context, op string, parts []Part) (domain.AnalysisResult, error) {
	reply, err := c.send(ctx, op, parts)
	if err != nil {
		return domain.AnalysisResult{}, err
	}
	result, err := ParseAnalysis(reply)
	if err != nil {
		return domain.AnalysisResult{}, c.malformed(op, err)
	}
	return result, nil
}

func (c *Client) send(ctx context.Context, op string, parts []Part) (string, error) {
	req := Request{
		Parts:             parts,
		SystemInstruction: SystemInstruction,
		ResponseFormat:    ResponseStructured,
	}
	c.logger.Debug("sending analysis request", zap.String("op", op), zap.Int("parts", len(parts)), zap.Int("media_bytes", mediaBytes(parts)))

	reply, err := c.transport.Generate(ctx, req)
	if err != nil {
		code := classifyTransportErr(err)
		c.logger.Warn("analysis request failed", zap.String("op", op), zap.String("code", string(code)), zap.Error(err))
		return "", &Error{Op: op, Code: code, Err: err}
	}
	return reply, nil
}

// mediaPart enforces the ceiling and normalizes the container type. The
// ceiling is inclusive: a part of exactly MaxMediaBytes is rejected.
func (c *Client) mediaPart(op string, media domain.Media, fallbackMIME string) (Part, error) {
	if media.Size() >= c.maxMediaBytes {
		err := fmt.Errorf("%s is %d bytes, limit is %d", mediaLabel(media), media.Size(), c.maxMediaBytes)
		c.logger.Warn("media rejected before transmission", zap.String("op", op), zap.Error(err))
		return Part{}, &Error{Op: op, Code: domain.ErrorCodePayloadTooLarge, Err: err}
	}
	return MediaPart(media.Data, CompatibleMIMEType(media.MIMEType, fallbackMIME)), nil
}

func (c *Client) malformed(op string, err error) error {
	c.logger.Warn("malformed analysis reply", zap.String("op", op), zap.Error(err))
	return &Error{Op: op, Code: domain.ErrorCodeMalformedReply, Err: err}
}

// CompatibleMIMEType strips parameters, lowercases, and coerces uncommon
// containers to ones the service accepts.
func CompatibleMIMEType(mimeType string, fallback string) string {
	base := strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0]))
	if mapped, ok := compatibleMIMETypes[base]; ok {
		return mapped
	}
	if base == "" {
		return fallback
	}
	return base
}

func mediaLabel(media domain.Media) string {
	if media.Name != "" {
		return media.Name
	}
	return "media"
}

func mediaBytes(parts []Part) int {
	total := 0
	for _, part := range parts {
		total += len(part.Data)
	}
	return total
}
