package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"socialgarden/internal/analysis"
	"socialgarden/internal/capture/audio"
	"socialgarden/internal/capture/screen"
	"socialgarden/internal/config"
	"socialgarden/internal/domain"
	"socialgarden/internal/events"
	"socialgarden/internal/logging"
	"socialgarden/internal/media/ffmpeg"
	"socialgarden/internal/mission"
	"socialgarden/internal/ports"
	"socialgarden/internal/profile"
	"socialgarden/internal/providers/gemini"
	"socialgarden/internal/transport/wsevents"
	"socialgarden/internal/usecase"
)

// Capture unit names used in events.
const (
	UnitCheckIn       domain.CaptureUnit = "checkin"
	UnitEvidenceAudio domain.CaptureUnit = "evidence_audio"
	UnitFollowUpAudio domain.CaptureUnit = "followup_audio"
	UnitScreen        domain.CaptureUnit = "screen"
)

// Services is the assembled runtime graph.
type Services struct {
	Config     config.Config
	Logger     *zap.Logger
	Controller *usecase.SessionController
	Analyzer   *analysis.Client
	Devices    *ffmpeg.Devices
	// Hub is nil when the renderer event hub is disabled.
	Hub *wsevents.Hub

	CheckIn       *audio.Unit
	EvidenceAudio *audio.Unit
	FollowUpAudio *audio.Unit
	Screen        *screen.Unit
}

// Build wires all backend dependencies for the current runtime. Finished
// clips are handed to the controller under ctx. preview may be nil.
func Build(ctx context.Context, eventSink ports.EventSink, clipboard ports.Clipboard, preview ports.PreviewSurface) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return Services{}, err
	}
	if clipboard == nil {
		clipboard = unsupportedClipboard{}
	}

	var hub *wsevents.Hub
	if cfg.Events.ListenAddr != "" {
		hub = wsevents.NewHub(logger)
	}
	var sink ports.EventSink = events.NewMulti(eventSink, events.NewLogSink(logger))
	if hub != nil {
		sink = events.NewMulti(eventSink, events.NewLogSink(logger), hub)
	}

	analyzer := analysis.NewClient(
		gemini.NewProvider(gemini.Config{
			APIKey:     cfg.Gemini.APIKey,
			APIBaseURL: cfg.Gemini.APIBaseURL,
			Model:      cfg.Gemini.Model,
		}),
		logger,
		analysis.Options{MaxMediaBytes: cfg.Analysis.MaxMediaBytes},
	)

	controller := usecase.NewSessionController(
		analyzer,
		profile.NewStore(cfg.Profile),
		mission.NewGenerator(nil),
		clipboard,
		sink,
		logger,
	)

	devices := ffmpeg.NewDevices(ffmpeg.Options{
		Command:         cfg.Capture.RecorderCommand,
		AudioFormat:     cfg.Capture.AudioFormat,
		AudioDevice:     cfg.Capture.AudioDevice,
		DisplayFormat:   cfg.Capture.DisplayFormat,
		Display:         cfg.Capture.Display,
		FrameRate:       cfg.Capture.FrameRate,
		ProbeMicrophone: cfg.Capture.ProbeMicrophone,
	}, logger)

	deliver := func(unit domain.CaptureUnit, submit func(domain.Media) error) func(domain.Media) {
		return func(clip domain.Media) {
			if err := submit(clip); err != nil {
				logger.Warn("captured media not accepted", zap.String("unit", string(unit)), zap.Error(err))
			}
		}
	}

	services := Services{
		Config:     cfg,
		Logger:     logger,
		Controller: controller,
		Analyzer:   analyzer,
		Devices:    devices,
		Hub:        hub,
		CheckIn: audio.NewUnit(devices, devices, sink, logger, audio.Config{
			Name: UnitCheckIn,
			Busy: controller.Busy,
			OnClip: deliver(UnitCheckIn, func(clip domain.Media) error {
				return controller.SubmitCheckIn(ctx, clip)
			}),
		}),
		EvidenceAudio: audio.NewUnit(devices, devices, sink, logger, audio.Config{
			Name:   UnitEvidenceAudio,
			OnClip: deliver(UnitEvidenceAudio, controller.StageAudio),
		}),
		FollowUpAudio: audio.NewUnit(devices, devices, sink, logger, audio.Config{
			Name:   UnitFollowUpAudio,
			Busy:   controller.Busy,
			OnClip: deliver(UnitFollowUpAudio, controller.StageFollowUpAudio),
		}),
		Screen: screen.NewUnit(devices, devices, preview, sink, logger,
			deliver(UnitScreen, controller.StageScreenRecording)),
	}

	logger.Info("services ready",
		zap.String("model", cfg.Gemini.Model),
		zap.Bool("displayCapture", cfg.Capture.Display != ""),
		zap.Bool("eventHub", hub != nil),
		zap.String("configFile", cfg.File))
	return services, nil
}

// ServeEvents runs the renderer event hub until ctx is cancelled. It returns
// immediately when the hub is disabled.
func (s Services) ServeEvents(ctx context.Context) error {
	if s.Hub == nil {
		return nil
	}
	return s.Hub.ListenAndServe(ctx, s.Config.Events.ListenAddr)
}

// ResetSession drops every capture in progress, then resets the session.
// Recordings begun for the old session never reach the new one.
func (s Services) ResetSession(ctx context.Context) {
	s.releaseCaptures(ctx)
	s.Controller.Reset()
}

// Close releases capture hardware and flushes the logger.
func (s Services) Close() {
	s.releaseCaptures(context.Background())
	if s.Hub != nil {
		s.Hub.Close()
	}
	if s.Logger != nil {
		_ = s.Logger.Sync()
	}
}

func (s Services) releaseCaptures(ctx context.Context) {
	for _, unit := range []*audio.Unit{s.CheckIn, s.EvidenceAudio, s.FollowUpAudio} {
		if unit != nil {
			unit.Discard(ctx)
		}
	}
	if s.Screen != nil {
		s.Screen.Cancel()
	}
}

var errNoClipboard = errors.New("no clipboard available")

type unsupportedClipboard struct{}

func (unsupportedClipboard) SetText(context.Context, string) error {
	return fmt.Errorf("%w: %w", domain.ErrUnsupportedCapability, errNoClipboard)
}
