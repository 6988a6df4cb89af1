// Package audio implements the microphone-only capture unit: one toggle
// starts recording, the next one stops it and emits a single clip.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"socialgarden/internal/domain"
	"socialgarden/internal/ports"
)

const defaultMIMEType = "audio/webm"

// Config controls an audio capture unit.
type Config struct {
	// Name identifies the unit in events (e.g. "checkin", "followup").
	Name domain.CaptureUnit
	// Busy reports whether the consumer is processing; starting is a no-op while true.
	Busy func() bool
	// OnClip receives each finished clip.
	OnClip func(domain.Media)
}

// Unit records a microphone stream between two toggles.
type Unit struct {
	devices   ports.MediaDevices
	recorders ports.RecorderFactory
	sink      ports.CaptureSink
	logger    *zap.Logger
	cfg       Config

	mu      sync.Mutex
	state   domain.CaptureState
	current *recording
}

type recording struct {
	id       string
	stream   *ports.Stream
	recorder ports.Recorder
}

func NewUnit(devices ports.MediaDevices, recorders ports.RecorderFactory, sink ports.CaptureSink, logger *zap.Logger, cfg Config) *Unit {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "audio"
	}
	return &Unit{
		devices:   devices,
		recorders: recorders,
		sink:      sink,
		logger:    logger.With(zap.String("unit", string(cfg.Name))),
		cfg:       cfg,
		state:     domain.CaptureIdle,
	}
}

// Toggle starts a recording when idle and finishes it when recording.
// Calls are serialized: a stop never overtakes the start it pairs with.
func (u *Unit) Toggle(ctx context.Context) error {
	u.mu.Lock()
	if u.current != nil {
		active := u.current
		u.current = nil
		clip, err := u.finish(ctx, active)
		u.mu.Unlock()

		if err != nil {
			return err
		}
		if u.cfg.OnClip != nil {
			u.cfg.OnClip(clip)
		}
		return nil
	}
	defer u.mu.Unlock()

	if u.cfg.Busy != nil && u.cfg.Busy() {
		u.logger.Debug("capture ignored while consumer is processing")
		return nil
	}
	return u.begin(ctx)
}

// Discard ends an active recording without emitting a clip and releases the
// microphone. It is a no-op when idle.
func (u *Unit) Discard(ctx context.Context) {
	u.mu.Lock()
	defer u.mu.Unlock()
	active := u.current
	if active == nil {
		return
	}
	u.current = nil
	defer u.setState(domain.CaptureIdle)
	defer active.stream.Stop()

	if _, err := active.recorder.Stop(ctx); err != nil {
		u.logger.Debug("discarded recording failed to stop cleanly", zap.String("recording", active.id), zap.Error(err))
	}
	u.logger.Debug("recording discarded", zap.String("recording", active.id))
}

// State returns the current capture state.
func (u *Unit) State() domain.CaptureState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

func (u *Unit) begin(ctx context.Context) error {
	stream, err := u.devices.OpenMicrophone(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrPermissionDenied) {
			err = fmt.Errorf("%w: %v", domain.ErrPermissionDenied, err)
		}
		u.logger.Warn("microphone unavailable", zap.Error(err))
		u.reportError(err)
		return err
	}

	mimeType := ""
	if u.recorders.IsTypeSupported(defaultMIMEType) {
		mimeType = defaultMIMEType
	}
	recorder, err := u.recorders.NewRecorder(stream, mimeType)
	if err == nil {
		err = recorder.Start(ctx)
	}
	if err != nil {
		stream.Stop()
		err = fmt.Errorf("%w: failed to start audio recorder: %v", domain.ErrCaptureFailed, err)
		u.logger.Error("recorder start failed", zap.Error(err))
		u.reportError(err)
		return err
	}

	u.current = &recording{id: uuid.NewString(), stream: stream, recorder: recorder}
	u.setState(domain.CaptureRecording)
	u.logger.Debug("recording started", zap.String("recording", u.current.id))
	return nil
}

// finish stops the recorder and always releases the microphone.
func (u *Unit) finish(ctx context.Context, active *recording) (domain.Media, error) {
	defer u.setState(domain.CaptureIdle)
	defer active.stream.Stop()

	chunks, err := active.recorder.Stop(ctx)
	if err != nil {
		err = fmt.Errorf("%w: failed to finalize audio recording: %v", domain.ErrCaptureFailed, err)
		u.logger.Error("recording finalize failed", zap.String("recording", active.id), zap.Error(err))
		u.reportError(err)
		return domain.Media{}, err
	}

	mimeType := active.recorder.MIMEType()
	if mimeType == "" {
		mimeType = defaultMIMEType
	}
	clip := domain.Media{
		Name:     "audio-" + active.id + "." + domain.ExtensionFor(mimeType),
		MIMEType: mimeType,
		Data:     bytes.Join(chunks, nil),
	}
	u.logger.Debug("recording finished", zap.String("recording", active.id), zap.Int("bytes", clip.Size()))
	return clip, nil
}

func (u *Unit) setState(state domain.CaptureState) {
	u.state = state
	if u.sink != nil {
		u.sink.CaptureStateChanged(u.cfg.Name, state)
	}
}

func (u *Unit) reportError(err error) {
	if u.sink != nil {
		u.sink.CaptureError(u.cfg.Name, domain.CodeOf(err), err.Error())
	}
}
