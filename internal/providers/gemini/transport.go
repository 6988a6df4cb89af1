package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/genai"

	"socialgarden/internal/analysis"
)

// Config controls the Gemini API client.
type Config struct {
	APIKey     string
	APIBaseURL string
	Model      string
}

// Generator is the slice of the genai client used by the provider.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Provider implements analysis.Transport on the Gemini API.
type Provider struct {
	cfg Config

	mu        sync.Mutex
	generator Generator
}

func NewProvider(cfg Config) *Provider {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	return &Provider{cfg: cfg}
}

// NewProviderWithGenerator bypasses client construction.
func NewProviderWithGenerator(cfg Config, generator Generator) *Provider {
	provider := NewProvider(cfg)
	provider.generator = generator
	return provider
}

func (p *Provider) Model() string { return p.cfg.Model }

func (p *Provider) Generate(ctx context.Context, req analysis.Request) (string, error) {
	generator, err := p.client(ctx)
	if err != nil {
		return "", err
	}

	res, err := generator.GenerateContent(ctx, p.cfg.Model, buildContents(req), buildConfig(req))
	if err != nil {
		return "", mapAPIError(err)
	}
	return res.Text(), nil
}

func (p *Provider) client(ctx context.Context) (Generator, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.generator != nil {
		return p.generator, nil
	}
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return nil, errors.New("GEMINI_API_KEY is not configured")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  p.cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if p.cfg.APIBaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: p.cfg.APIBaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	p.generator = client.Models
	return p.generator, nil
}

func buildContents(req analysis.Request) []*genai.Content {
	parts := make([]*genai.Part, 0, len(req.Parts))
	for _, part := range req.Parts {
		if part.IsMedia() {
			parts = append(parts, genai.NewPartFromBytes(part.Data, part.MIMEType))
			continue
		}
		parts = append(parts, genai.NewPartFromText(part.Text))
	}
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}

func buildConfig(req analysis.Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}
	if req.ResponseFormat == analysis.ResponseStructured {
		cfg.ResponseMIMEType = "application/json"
	}
	return cfg
}

func mapAPIError(err error) error {
	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	}
	if code == http.StatusTooManyRequests {
		return fmt.Errorf("%w: gemini: %v", analysis.ErrRateLimited, err)
	}
	return fmt.Errorf("gemini generate content: %w", err)
}
