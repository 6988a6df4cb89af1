package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/wailsapp/wails/v2/pkg/runtime"
	"go.uber.org/zap"

	"socialgarden/internal/bootstrap"
	"socialgarden/internal/domain"
	"socialgarden/internal/garden"
	"socialgarden/internal/ports"
	"socialgarden/internal/profile"
)

const (
	eventStatus  = "garden:status"
	eventPhase   = "garden:phase"
	eventResult  = "garden:result"
	eventScene   = "garden:scene"
	eventProfile = "garden:profile"
	eventMission = "garden:mission"
	eventCapture = "garden:capture"
	eventPreview = "garden:preview"
	eventError   = "garden:error"
)

// App is the Wails application root.
type App struct {
	ctx context.Context

	services bootstrap.Services
	ready    bool
	bootErr  error
	cancel   context.CancelFunc
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(ctx, a, &wailsClipboard{}, a)
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.services = services
	a.ready = true

	hubCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	go func() {
		if err := services.ServeEvents(hubCtx); err != nil {
			services.Logger.Warn("renderer event hub stopped", zap.Error(err))
		}
	}()

	a.StatusChanged(services.Controller.Status())
	a.PhaseChanged(domain.PhaseIdle, domain.ReasonSessionReady)
}

func (a *App) shutdown(_ context.Context) {
	if a.cancel != nil {
		a.cancel()
	}
	if a.ready {
		a.services.Close()
	}
}

// ToggleCheckIn starts the check-in recording, or stops it and submits the clip.
func (a *App) ToggleCheckIn() (domain.Status, error) {
	return a.toggle(a.services.CheckIn.Toggle)
}

// GenerateMission draws a social mission for a growth session.
func (a *App) GenerateMission() (string, error) {
	if err := a.requireReady(); err != nil {
		return "", err
	}
	return a.services.Controller.GenerateMission()
}

// PrepareScreen opens the screen share picker and starts the preview.
func (a *App) PrepareScreen() (domain.Status, error) {
	return a.toggle(a.services.Screen.Prepare)
}

// StartScreen records the previewed screen.
func (a *App) StartScreen() (domain.Status, error) {
	return a.toggle(a.services.Screen.Start)
}

// StopScreen finishes the screen recording and stages it as evidence.
func (a *App) StopScreen() (domain.Status, error) {
	return a.toggle(a.services.Screen.Stop)
}

// CancelScreen abandons the screen capture from any state.
func (a *App) CancelScreen() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.services.Screen.Cancel()
	return nil
}

// ToggleEvidenceAudio records an audio note as evidence.
func (a *App) ToggleEvidenceAudio() (domain.Status, error) {
	return a.toggle(a.services.EvidenceAudio.Toggle)
}

// UploadEvidence stages an uploaded image or video. data is base64 encoded.
func (a *App) UploadEvidence(name string, mimeType string, data string) (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return domain.Status{}, fmt.Errorf("invalid upload payload: %w", err)
	}
	if err := a.services.Controller.StageUpload(domain.Media{Name: name, MIMEType: mimeType, Data: decoded}); err != nil {
		return domain.Status{}, err
	}
	return a.services.Controller.Status(), nil
}

// ClearEvidence drops the staged evidence.
func (a *App) ClearEvidence() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.services.Controller.ClearEvidence(); err != nil {
		return domain.Status{}, err
	}
	return a.services.Controller.Status(), nil
}

// SubmitEvidence runs the full analysis.
func (a *App) SubmitEvidence() (domain.Status, error) {
	return a.toggle(a.services.Controller.SubmitEvidence)
}

// SetFollowUpText stages the follow-up reaction text.
func (a *App) SetFollowUpText(text string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.services.Controller.SetFollowUpText(text)
}

// ToggleFollowUpAudio records a spoken follow-up reaction.
func (a *App) ToggleFollowUpAudio() (domain.Status, error) {
	return a.toggle(a.services.FollowUpAudio.Toggle)
}

// DiscardFollowUpAudio drops the spoken reaction.
func (a *App) DiscardFollowUpAudio() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.services.Controller.DiscardFollowUpAudio()
	return nil
}

// SubmitFollowUp continues the conversation.
func (a *App) SubmitFollowUp() (domain.Status, error) {
	return a.toggle(a.services.Controller.SubmitFollowUp)
}

// Reset starts a new session, keeping the profile and the garden. Any
// recording in progress is dropped.
func (a *App) Reset() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	a.services.ResetSession(a.ctx)
	return a.services.Controller.Status(), nil
}

// DismissError clears the surfaced error.
func (a *App) DismissError() {
	if a.ready {
		a.services.Controller.DismissError()
	}
}

// CopySuggestedAction copies the suggested action to the clipboard.
func (a *App) CopySuggestedAction() (string, error) {
	if err := a.requireReady(); err != nil {
		return "", err
	}
	return a.services.Controller.CopySuggestedAction(a.ctx)
}

// GetProfile returns the current profile.
func (a *App) GetProfile() (domain.UserProfile, error) {
	if err := a.requireReady(); err != nil {
		return domain.UserProfile{}, err
	}
	return a.services.Controller.Profile(), nil
}

// UpdateProfile saves the profile editor.
func (a *App) UpdateProfile(p domain.UserProfile) (domain.UserProfile, error) {
	if err := a.requireReady(); err != nil {
		return domain.UserProfile{}, err
	}
	return a.services.Controller.UpdateProfile(p), nil
}

// SuggestedTraits lists the traits offered by the profile editor.
func (a *App) SuggestedTraits() []string {
	return append([]string(nil), profile.SuggestedTraits...)
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.Status {
	if !a.ready {
		status := domain.Status{Phase: domain.PhaseIdle, Garden: domain.DefaultGarden()}
		if a.bootErr != nil {
			status.Error = a.bootErr.Error()
			status.ErrorCode = domain.ErrorCodeStartup
		}
		return status
	}
	return a.services.Controller.Status()
}

// GetGardenScene returns the drawable garden.
func (a *App) GetGardenScene() garden.Scene {
	return garden.Layout(a.GetStatus().Garden, nil)
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}
	if !a.ready {
		return map[string]string{}
	}

	cfg := a.services.Config
	return map[string]string{
		"provider":         "Gemini",
		"model":            cfg.Gemini.Model,
		"audioInput":       cfg.Capture.AudioDevice,
		"audioInputFormat": cfg.Capture.AudioFormat,
		"display":          cfg.Capture.Display,
		"eventHub":         cfg.Events.ListenAddr,
		"configFile":       cfg.File,
	}
}

func (a *App) toggle(action func(context.Context) error) (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := action(a.ctx); err != nil {
		return a.services.Controller.Status(), err
	}
	return a.services.Controller.Status(), nil
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if !a.ready {
		return errors.New("application is not initialized")
	}
	return nil
}

func (a *App) emit(name string, payload any) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, name, payload)
}

// StatusChanged emits the status snapshot to the frontend.
func (a *App) StatusChanged(status domain.Status) {
	a.emit(eventStatus, status)
}

// PhaseChanged emits session lifecycle updates to the frontend.
func (a *App) PhaseChanged(phase domain.SessionPhase, reason domain.PhaseReason) {
	a.emit(eventPhase, map[string]string{
		"phase":   string(phase),
		"reason":  string(reason),
		"message": phaseMessage(reason),
	})
}

// ResultChanged emits the analysis result; nil clears it.
func (a *App) ResultChanged(result *domain.AnalysisResult) {
	a.emit(eventResult, result)
}

// GardenChanged emits the placed garden scene.
func (a *App) GardenChanged(state domain.GardenState) {
	a.emit(eventScene, garden.Layout(state, nil))
}

func (a *App) ProfileChanged(p domain.UserProfile) {
	a.emit(eventProfile, p)
}

func (a *App) MissionChanged(mission string) {
	a.emit(eventMission, map[string]string{"mission": mission})
}

func (a *App) CaptureStateChanged(unit domain.CaptureUnit, state domain.CaptureState) {
	a.emit(eventCapture, map[string]string{"unit": string(unit), "state": string(state)})
}

func (a *App) CaptureError(unit domain.CaptureUnit, code domain.ErrorCode, detail string) {
	a.emit(eventError, map[string]string{
		"unit":    string(unit),
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	a.emit(eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

// Bind shows the screen capture preview.
func (a *App) Bind(stream *ports.Stream) {
	tracks := make([]string, 0, len(stream.Tracks))
	for _, track := range stream.Tracks {
		tracks = append(tracks, string(track.Kind()))
	}
	a.emit(eventPreview, map[string]any{"active": true, "tracks": tracks})
}

// Unbind hides the screen capture preview.
func (a *App) Unbind() {
	a.emit(eventPreview, map[string]any{"active": false})
}

func phaseMessage(reason domain.PhaseReason) string {
	switch reason {
	case domain.ReasonSessionReady:
		return "Comment te sens-tu ?"
	case domain.ReasonCheckInSubmitted:
		return "Écoute en cours..."
	case domain.ReasonModeSelected:
		return "Montre-moi ce qui se passe."
	case domain.ReasonCheckInFailed:
		return "Check-in impossible"
	case domain.ReasonEvidenceSubmitted:
		return "Analyse en cours..."
	case domain.ReasonResultReady:
		return "Ton jardin a poussé"
	case domain.ReasonAnalysisFailed:
		return "Analyse impossible"
	case domain.ReasonFollowUpAnswered:
		return "Nouvelle réponse"
	case domain.ReasonSessionReset:
		return "Nouvelle session"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Démarrage impossible"
	case domain.ErrorCodeClipboard:
		return "Copie impossible"
	case domain.ErrorCodePermissionDenied, domain.ErrorCodeUnsupportedCapability, domain.ErrorCodeCaptureFailed:
		if detail == "" {
			return "Erreur de capture"
		}
		return detail
	default:
		if detail == "" {
			return "Erreur inconnue"
		}
		return detail
	}
}

// Ensure App satisfies the ports it is wired as.
var (
	_ ports.EventSink      = (*App)(nil)
	_ ports.PreviewSurface = (*App)(nil)
)

type wailsClipboard struct{}

func (c *wailsClipboard) SetText(ctx context.Context, text string) error {
	return runtime.ClipboardSetText(ctx, text)
}
