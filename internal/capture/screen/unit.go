// Package screen implements the display + microphone capture unit with a
// preview stage between acquiring the sources and recording them.
//
// Lifecycle: Idle -> Preparing -> Previewing -> Recording -> Idle, with a
// cancel edge back to Idle from every non-idle state. Every exit path releases
// all acquired tracks and clears the preview binding before the unit is idle.
package screen

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

var (
	ErrNotIdle       = errors.New("screen capture already in progress")
	ErrNotPreviewing = errors.New("screen capture is not previewing")
	ErrNotRecording  = errors.New("screen capture is not recording")
)

// ContainerPreferences is the ordered list of recording containers tried at
// start; the first supported one wins.
var ContainerPreferences = []string{
	"video/mp4",
	"video/webm;codecs=vp9,opus",
	"video/webm;codecs=vp8,opus",
	"video/webm;codecs=h264",
	"video/webm",
}

const fallbackMIMEType = "video/webm"

// Unit records the display, optionally narrated through the microphone.
type Unit struct {
	devices   ports.MediaDevices
	recorders ports.RecorderFactory
	preview   ports.PreviewSurface
	sink      ports.CaptureSink
	logger    *zap.Logger
	onFile    func(domain.Media)

	mu      sync.Mutex
	state   domain.CaptureState
	current *attempt
}

type attempt struct {
	id     string
	cancel context.CancelFunc

	display  *ports.Stream
	mic      *ports.Stream
	combined *ports.Stream
	recorder ports.Recorder
	mimeType string
	stopping bool

	done     chan struct{}
	doneOnce sync.Once
}

func NewUnit(
	devices ports.MediaDevices,
	recorders ports.RecorderFactory,
	preview ports.PreviewSurface,
	sink ports.CaptureSink,
	logger *zap.Logger,
	onFile func(domain.Media),
) *Unit {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Unit{
		devices:   devices,
		recorders: recorders,
		preview:   preview,
		sink:      sink,
		logger:    logger.With(zap.String("unit", "screen")),
		onFile:    onFile,
		state:     domain.CaptureIdle,
	}
}

// State returns the current capture state.
func (u *Unit) State() domain.CaptureState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// Prepare acquires the display (and, best effort, the microphone) and binds
// the combined stream to the preview surface. A dismissed source picker
// returns the unit to idle without error.
func (u *Unit) Prepare(ctx context.Context) error {
	u.mu.Lock()
	if u.current != nil {
		u.mu.Unlock()
		return ErrNotIdle
	}
	acquireCtx, cancel := context.WithCancel(ctx)
	a := &attempt{id: uuid.NewString(), cancel: cancel, done: make(chan struct{})}
	u.current = a
	u.setState(domain.CapturePreparing)
	u.mu.Unlock()

	display, err := u.devices.OpenDisplay(acquireCtx)
	if err != nil {
		// abandon cancels acquireCtx, so a dismissal must be read first.
		cancelled := errors.Is(err, domain.ErrCaptureCancelled) || acquireCtx.Err() != nil
		u.abandon(a)
		if cancelled {
			u.logger.Info("screen share cancelled", zap.String("attempt", a.id), zap.Error(err))
			return nil
		}
		if !errors.Is(err, domain.ErrUnsupportedCapability) {
			err = fmt.Errorf("%w: %v", domain.ErrUnsupportedCapability, err)
		}
		u.logger.Warn("display capture unavailable", zap.Error(err))
		u.reportError(err)
		return err
	}
	if !u.adopt(a, func() { a.display = display }) {
		display.Stop()
		return nil
	}

	mic, err := u.devices.OpenMicrophone(acquireCtx)
	if err != nil {
		u.logger.Warn("no microphone access, recording video only", zap.Error(err))
	} else if !u.adopt(a, func() { a.mic = mic }) {
		mic.Stop()
		return nil
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.current != a {
		return nil
	}
	videoTracks := display.VideoTracks()
	if len(videoTracks) == 0 {
		u.releaseLocked(a)
		err := fmt.Errorf("%w: display stream has no video track", domain.ErrUnsupportedCapability)
		u.reportError(err)
		return err
	}

	tracks := append([]ports.Track{}, videoTracks...)
	if mic != nil {
		tracks = append(tracks, mic.AudioTracks()...)
	}
	a.combined = ports.NewStream(tracks...)
	if u.preview != nil {
		u.preview.Bind(a.combined)
	}
	u.setState(domain.CapturePreviewing)
	go u.watchInterruption(a, videoTracks[0])
	return nil
}

// Start begins recording the previewed stream using the first supported
// container of ContainerPreferences.
func (u *Unit) Start(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	a := u.current
	if a == nil || u.state != domain.CapturePreviewing {
		return ErrNotPreviewing
	}

	mimeType := NegotiateContainer(u.recorders, ContainerPreferences)
	recorder, err := u.recorders.NewRecorder(a.combined, mimeType)
	if err == nil {
		err = recorder.Start(ctx)
	}
	if err != nil {
		u.releaseLocked(a)
		err = fmt.Errorf("%w: failed to start screen recorder: %v", domain.ErrCaptureFailed, err)
		u.logger.Error("recorder start failed", zap.Error(err))
		u.reportError(err)
		return err
	}

	a.recorder = recorder
	a.mimeType = mimeType
	u.setState(domain.CaptureRecording)
	u.logger.Info("screen recording started", zap.String("attempt", a.id), zap.String("mime", mimeType))
	return nil
}

// Stop finalizes the recording and emits it. A zero-byte recording is
// discarded and the unit resets as if cancelled.
func (u *Unit) Stop(ctx context.Context) error {
	u.mu.Lock()
	a := u.current
	if a == nil || u.state != domain.CaptureRecording || a.stopping {
		u.mu.Unlock()
		return ErrNotRecording
	}
	a.stopping = true
	u.mu.Unlock()

	chunks, stopErr := a.recorder.Stop(ctx)

	u.mu.Lock()
	owned := u.current == a
	if owned {
		u.releaseLocked(a)
	}
	u.mu.Unlock()

	if !owned {
		// Cancelled while finalizing: nothing is emitted.
		return nil
	}
	if stopErr != nil {
		err := fmt.Errorf("%w: failed to finalize screen recording: %v", domain.ErrCaptureFailed, stopErr)
		u.logger.Error("screen recording finalize failed", zap.Error(err))
		u.reportError(err)
		return err
	}

	data := bytes.Join(chunks, nil)
	if len(data) == 0 {
		u.logger.Warn("empty screen recording discarded", zap.String("attempt", a.id), zap.Error(domain.ErrEmptyCapture))
		return nil
	}

	mimeType := a.mimeType
	if mimeType == "" {
		mimeType = fallbackMIMEType
	}
	file := domain.Media{
		Name:     "screen-recording." + domain.ExtensionFor(mimeType),
		MIMEType: mimeType,
		Data:     data,
	}
	u.logger.Info("screen recording finished", zap.String("attempt", a.id), zap.Int("bytes", len(data)))
	if u.onFile != nil {
		u.onFile(file)
	}
	return nil
}

// Cancel releases every acquired track from any stage. It is a no-op when idle.
func (u *Unit) Cancel() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.current == nil {
		return
	}
	u.logger.Info("screen capture cancelled", zap.String("attempt", u.current.id), zap.String("state", string(u.state)))
	u.releaseLocked(u.current)
}

// watchInterruption reacts to the platform ending the display source: a
// recording is finalized and emitted, anything earlier is cancelled.
func (u *Unit) watchInterruption(a *attempt, display ports.Track) {
	select {
	case <-display.Ended():
	case <-a.done:
		return
	}

	u.mu.Lock()
	if u.current != a || a.stopping {
		u.mu.Unlock()
		return
	}
	recording := u.state == domain.CaptureRecording
	u.mu.Unlock()

	u.logger.Info("display sharing ended by platform", zap.String("attempt", a.id), zap.Bool("recording", recording))
	if recording {
		if err := u.Stop(context.Background()); err != nil && !errors.Is(err, ErrNotRecording) {
			u.logger.Warn("finalize after interruption failed", zap.Error(err))
		}
		return
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.current == a {
		u.releaseLocked(a)
	}
}

// adopt records a freshly acquired stream on a if it is still the live attempt.
func (u *Unit) adopt(a *attempt, assign func()) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.current != a {
		return false
	}
	assign()
	return true
}

func (u *Unit) abandon(a *attempt) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.current == a {
		u.releaseLocked(a)
	}
}

// releaseLocked is the single release point of an attempt. u.mu must be held.
func (u *Unit) releaseLocked(a *attempt) {
	a.cancel()
	a.display.Stop()
	a.mic.Stop()
	if a.combined != nil && u.preview != nil {
		u.preview.Unbind()
	}
	a.doneOnce.Do(func() { close(a.done) })
	u.current = nil
	u.setState(domain.CaptureIdle)
}

func (u *Unit) setState(state domain.CaptureState) {
	u.state = state
	if u.sink != nil {
		u.sink.CaptureStateChanged("screen", state)
	}
}

func (u *Unit) reportError(err error) {
	if u.sink != nil {
		u.sink.CaptureError("screen", domain.CodeOf(err), err.Error())
	}
}

// NegotiateContainer returns the first preference the factory supports, or
// "" to let the platform choose.
func NegotiateContainer(recorders ports.RecorderFactory, preferences []string) string {
	for _, mimeType := range preferences {
		if recorders.IsTypeSupported(mimeType) {
			return mimeType
		}
	}
	return ""
}
