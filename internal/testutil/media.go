// Package testutil provides in-memory hardware fakes for capture tests.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"socialgarden/internal/domain"
	"socialgarden/internal/ports"
)

// FakeTrack is a track whose lifecycle is fully observable.
type FakeTrack struct {
	id   string
	kind ports.TrackKind

	mu      sync.Mutex
	stopped bool
	ended   chan struct{}
}

func NewFakeTrack(id string, kind ports.TrackKind) *FakeTrack {
	return &FakeTrack{id: id, kind: kind, ended: make(chan struct{})}
}

func (t *FakeTrack) ID() string            { return t.id }
func (t *FakeTrack) Kind() ports.TrackKind { return t.kind }

func (t *FakeTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.stopped {
		t.stopped = true
		close(t.ended)
	}
}

func (t *FakeTrack) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.stopped
}

func (t *FakeTrack) Ended() <-chan struct{} { return t.ended }

// EndExternally simulates the platform tearing the source down.
func (t *FakeTrack) EndExternally() { t.Stop() }

// FakeDevices hands out fake tracks and records every one it created.
type FakeDevices struct {
	MicErr     error
	DisplayErr error
	// DisplayGate, when set, blocks OpenDisplay until it is closed or ctx ends.
	DisplayGate chan struct{}
	// MicGate, when set, blocks OpenMicrophone until it is closed or ctx ends.
	MicGate chan struct{}

	mu     sync.Mutex
	tracks []*FakeTrack
	seq    int
}

func (d *FakeDevices) OpenMicrophone(ctx context.Context) (*ports.Stream, error) {
	if err := wait(ctx, d.MicGate); err != nil {
		return nil, err
	}
	if d.MicErr != nil {
		return nil, d.MicErr
	}
	return ports.NewStream(d.newTrack("mic", ports.TrackAudio)), nil
}

func (d *FakeDevices) OpenDisplay(ctx context.Context) (*ports.Stream, error) {
	if err := wait(ctx, d.DisplayGate); err != nil {
		return nil, err
	}
	if d.DisplayErr != nil {
		return nil, d.DisplayErr
	}
	return ports.NewStream(d.newTrack("display", ports.TrackVideo)), nil
}

// Tracks returns every track handed out so far.
func (d *FakeDevices) Tracks() []*FakeTrack {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*FakeTrack, len(d.tracks))
	copy(out, d.tracks)
	return out
}

// LiveTracks returns the tracks that have not been stopped.
func (d *FakeDevices) LiveTracks() []*FakeTrack {
	var live []*FakeTrack
	for _, track := range d.Tracks() {
		if track.Live() {
			live = append(live, track)
		}
	}
	return live
}

// DisplayTrack returns the most recent display track.
func (d *FakeDevices) DisplayTrack() *FakeTrack {
	tracks := d.Tracks()
	for i := len(tracks) - 1; i >= 0; i-- {
		if tracks[i].Kind() == ports.TrackVideo {
			return tracks[i]
		}
	}
	return nil
}

func (d *FakeDevices) newTrack(prefix string, kind ports.TrackKind) *FakeTrack {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	track := NewFakeTrack(fmt.Sprintf("%s-%d", prefix, d.seq), kind)
	d.tracks = append(d.tracks, track)
	return track
}

func wait(ctx context.Context, gate chan struct{}) error {
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FakeRecorders builds FakeRecorder instances.
type FakeRecorders struct {
	Supported []string
	// Chunks is what each recorder returns from Stop.
	Chunks   [][]byte
	NewErr   error
	StartErr error
	StopErr  error

	mu        sync.Mutex
	recorders []*FakeRecorder
}

func (f *FakeRecorders) IsTypeSupported(mimeType string) bool {
	for _, supported := range f.Supported {
		if supported == mimeType {
			return true
		}
	}
	return false
}

func (f *FakeRecorders) NewRecorder(stream *ports.Stream, mimeType string) (ports.Recorder, error) {
	if f.NewErr != nil {
		return nil, f.NewErr
	}
	rec := &FakeRecorder{stream: stream, mimeType: mimeType, chunks: f.Chunks, startErr: f.StartErr, stopErr: f.StopErr}
	f.mu.Lock()
	f.recorders = append(f.recorders, rec)
	f.mu.Unlock()
	return rec, nil
}

// Recorders returns every recorder created so far.
func (f *FakeRecorders) Recorders() []*FakeRecorder {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*FakeRecorder, len(f.recorders))
	copy(out, f.recorders)
	return out
}

// FakeRecorder returns canned chunks on Stop.
type FakeRecorder struct {
	stream   *ports.Stream
	mimeType string
	chunks   [][]byte
	startErr error
	stopErr  error

	mu         sync.Mutex
	started    bool
	stopped    int
	liveAtStop bool
}

func (r *FakeRecorder) Start(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return r.startErr
	}
	r.started = true
	return nil
}

func (r *FakeRecorder) Stop(_ context.Context) ([][]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return nil, errors.New("recorder not started")
	}
	r.stopped++
	r.liveAtStop = true
	for _, track := range r.stream.Tracks {
		if !track.Live() {
			r.liveAtStop = false
		}
	}
	if r.stopErr != nil {
		return nil, r.stopErr
	}
	return r.chunks, nil
}

func (r *FakeRecorder) MIMEType() string { return r.mimeType }

// StopCalls reports how many times Stop ran.
func (r *FakeRecorder) StopCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

// TracksLiveAtStop reports whether every track was still live when Stop ran.
func (r *FakeRecorder) TracksLiveAtStop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.liveAtStop
}

// FakePreview records binds.
type FakePreview struct {
	mu     sync.Mutex
	stream *ports.Stream
	binds  int
}

func (p *FakePreview) Bind(stream *ports.Stream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stream = stream
	p.binds++
}

func (p *FakePreview) Unbind() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stream = nil
}

// Bound returns the currently bound stream.
func (p *FakePreview) Bound() *ports.Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stream
}

// CaptureEvents records capture sink calls.
type CaptureEvents struct {
	mu     sync.Mutex
	states []domain.CaptureState
	codes  []domain.ErrorCode
}

func (c *CaptureEvents) CaptureStateChanged(_ domain.CaptureUnit, state domain.CaptureState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states = append(c.states, state)
}

func (c *CaptureEvents) CaptureError(_ domain.CaptureUnit, code domain.ErrorCode, _ string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes = append(c.codes, code)
}

// States returns a snapshot of state transitions.
func (c *CaptureEvents) States() []domain.CaptureState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.CaptureState, len(c.states))
	copy(out, c.states)
	return out
}

// Codes returns a snapshot of reported error codes.
func (c *CaptureEvents) Codes() []domain.ErrorCode {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.ErrorCode, len(c.codes))
	copy(out, c.codes)
	return out
}
