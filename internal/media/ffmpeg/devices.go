// Package ffmpeg backs the capture ports with ffmpeg: devices become ffmpeg
// inputs and each recorder is one ffmpeg process muxing to stdout.
package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"socialgarden/internal/domain"
	"socialgarden/internal/ports"
)

// Options selects the ffmpeg binary and capture inputs.
type Options struct {
	Command       string
	AudioFormat   string
	AudioDevice   string
	DisplayFormat string
	// Display is the X display to grab; empty means display capture is unavailable.
	Display   string
	FrameRate int
	// ProbeMicrophone opens the microphone briefly to surface permission errors
	// when it is acquired rather than when recording starts.
	ProbeMicrophone bool
}

// Devices implements ports.MediaDevices and ports.RecorderFactory.
type Devices struct {
	opts   Options
	logger *zap.Logger
	seq    atomic.Int64

	encodersOnce sync.Once
	encoderSet   map[string]bool
}

func NewDevices(opts Options, logger *zap.Logger) *Devices {
	if opts.Command == "" {
		opts.Command = "ffmpeg"
	}
	if opts.AudioFormat == "" {
		opts.AudioFormat = "pulse"
	}
	if opts.AudioDevice == "" {
		opts.AudioDevice = "default"
	}
	if opts.DisplayFormat == "" {
		opts.DisplayFormat = "x11grab"
	}
	if opts.FrameRate <= 0 {
		opts.FrameRate = 30
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Devices{opts: opts, logger: logger.Named("ffmpeg")}
}

func (d *Devices) OpenMicrophone(ctx context.Context) (*ports.Stream, error) {
	input := []string{"-f", d.opts.AudioFormat, "-i", d.opts.AudioDevice}
	if d.opts.ProbeMicrophone {
		args := append([]string{"-nostdin", "-hide_banner", "-loglevel", "error"}, input...)
		args = append(args, "-t", "0.1", "-f", "null", "-")
		out, err := exec.CommandContext(ctx, d.opts.Command, args...).CombinedOutput()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v: %s", domain.ErrPermissionDenied, err, stringsTrimSpaceSafe(string(out)))
		}
	}
	return ports.NewStream(d.newTrack("mic", ports.TrackAudio, input)), nil
}

func (d *Devices) OpenDisplay(ctx context.Context) (*ports.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.opts.Display == "" {
		return nil, fmt.Errorf("%w: no display to capture", domain.ErrUnsupportedCapability)
	}
	input := []string{
		"-f", d.opts.DisplayFormat,
		"-framerate", strconv.Itoa(d.opts.FrameRate),
		"-i", d.opts.Display,
	}
	return ports.NewStream(d.newTrack("display", ports.TrackVideo, input)), nil
}

func (d *Devices) newTrack(prefix string, kind ports.TrackKind, input []string) *Track {
	return &Track{
		id:    fmt.Sprintf("%s-%d", prefix, d.seq.Add(1)),
		kind:  kind,
		input: input,
		ended: make(chan struct{}),
	}
}

// IsTypeSupported reports whether the container and codecs of mimeType can
// be produced with the encoders compiled into the ffmpeg binary.
func (d *Devices) IsTypeSupported(mimeType string) bool {
	p, err := planFor(mimeType, true, true)
	if err != nil {
		return false
	}
	available := d.encoders()
	for _, encoder := range p.encoders() {
		if !available[encoder] {
			return false
		}
	}
	return true
}

func (d *Devices) NewRecorder(stream *ports.Stream, mimeType string) (ports.Recorder, error) {
	if stream == nil || len(stream.Tracks) == 0 {
		return nil, fmt.Errorf("%w: nothing to record", domain.ErrCaptureFailed)
	}
	hasVideo := len(stream.VideoTracks()) > 0
	hasAudio := len(stream.AudioTracks()) > 0
	p, err := planFor(mimeType, hasVideo, hasAudio)
	if err != nil {
		return nil, err
	}

	args, err := recorderArgs(stream, p)
	if err != nil {
		return nil, err
	}
	return &Recorder{
		command:  d.opts.Command,
		args:     args,
		mimeType: mimeType,
		stream:   stream,
		logger:   d.logger,
		exited:   make(chan struct{}),
	}, nil
}

func (d *Devices) encoders() map[string]bool {
	d.encodersOnce.Do(func() {
		out, err := exec.Command(d.opts.Command, "-hide_banner", "-encoders").Output()
		if err != nil {
			d.logger.Warn("ffmpeg encoder probe failed", zap.Error(err))
			d.encoderSet = map[string]bool{}
			return
		}
		d.encoderSet = parseEncoders(out)
	})
	return d.encoderSet
}

// parseEncoders reads the listing printed by `ffmpeg -encoders`.
func parseEncoders(out []byte) map[string]bool {
	set := map[string]bool{}
	listing := false
	for _, line := range strings.Split(string(out), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "------") {
			listing = true
			continue
		}
		if !listing {
			continue
		}
		fields := strings.Fields(trimmed)
		if len(fields) >= 2 {
			set[fields[1]] = true
		}
	}
	return set
}

// Track is an ffmpeg input. It holds no process itself: the device is
// opened by the recorder that consumes the track.
type Track struct {
	id    string
	kind  ports.TrackKind
	input []string

	mu      sync.Mutex
	stopped bool
	ended   chan struct{}
}

func (t *Track) ID() string            { return t.id }
func (t *Track) Kind() ports.TrackKind { return t.kind }

func (t *Track) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.stopped {
		t.stopped = true
		close(t.ended)
	}
}

func (t *Track) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.stopped
}

func (t *Track) Ended() <-chan struct{} { return t.ended }

// Input returns the ffmpeg input arguments of the track.
func (t *Track) Input() []string {
	return append([]string(nil), t.input...)
}

func stringsTrimSpaceSafe(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}
