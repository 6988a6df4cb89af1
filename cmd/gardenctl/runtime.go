package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wailsapp/mimetype"

	"socialgarden/internal/bootstrap"
	"socialgarden/internal/capture/audio"
	"socialgarden/internal/domain"
	"socialgarden/internal/ports"
	"socialgarden/internal/usecase"
)

// runtimeDeps is the slice of the service graph the commands use.
type runtimeDeps struct {
	analyzer   ports.Analyzer
	controller *usecase.SessionController
	// checkIn records the check-in clip from the microphone; nil when
	// recording is unavailable.
	checkIn *audio.Unit
	close   func()
}

type runtimeBuilder func(ctx context.Context) (*runtimeDeps, error)

func buildRuntime(ctx context.Context) (*runtimeDeps, error) {
	services, err := bootstrap.Build(ctx, nil, nil, nil)
	if err != nil {
		return nil, err
	}
	return &runtimeDeps{
		analyzer:   services.Analyzer,
		controller: services.Controller,
		checkIn:    services.CheckIn,
		close:      services.Close,
	}, nil
}

// readMedia loads a file as media. An empty mimeType is sniffed from the
// content.
func readMedia(path string, mimeType string) (domain.Media, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Media{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if mimeType == "" {
		mimeType = mimetype.Detect(data).String()
	}
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	return domain.Media{Name: filepath.Base(path), MIMEType: mimeType, Data: data}, nil
}
