package screen

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"socialgarden/internal/domain"
	"socialgarden/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fileCollector struct {
	mu    sync.Mutex
	files []domain.Media
}

func (c *fileCollector) add(file domain.Media) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files = append(c.files, file)
}

func (c *fileCollector) snapshot() []domain.Media {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Media, len(c.files))
	copy(out, c.files)
	return out
}

type harness struct {
	unit      *Unit
	devices   *testutil.FakeDevices
	recorders *testutil.FakeRecorders
	preview   *testutil.FakePreview
	events    *testutil.CaptureEvents
	files     *fileCollector
}

func newHarness(devices *testutil.FakeDevices, recorders *testutil.FakeRecorders) *harness {
	h := &harness{
		devices:   devices,
		recorders: recorders,
		preview:   &testutil.FakePreview{},
		events:    &testutil.CaptureEvents{},
		files:     &fileCollector{},
	}
	h.unit = NewUnit(devices, recorders, h.preview, h.events, nil, h.files.add)
	return h
}

func webmRecorders() *testutil.FakeRecorders {
	return &testutil.FakeRecorders{
		Supported: []string{"video/webm"},
		Chunks:    [][]byte{[]byte("frame-1"), []byte("frame-2")},
	}
}

func waitForState(t *testing.T, unit *Unit, want domain.CaptureState) {
	t.Helper()
	require.Eventually(t, func() bool { return unit.State() == want }, time.Second, 5*time.Millisecond)
}

func TestPrepareStartStopEmitsRecording(t *testing.T) {
	h := newHarness(&testutil.FakeDevices{}, webmRecorders())
	ctx := context.Background()

	require.NoError(t, h.unit.Prepare(ctx))
	assert.Equal(t, domain.CapturePreviewing, h.unit.State())
	require.NotNil(t, h.preview.Bound())
	assert.Len(t, h.preview.Bound().VideoTracks(), 1)
	assert.Len(t, h.preview.Bound().AudioTracks(), 1)

	require.NoError(t, h.unit.Start(ctx))
	assert.Equal(t, domain.CaptureRecording, h.unit.State())

	require.NoError(t, h.unit.Stop(ctx))
	assert.Equal(t, domain.CaptureIdle, h.unit.State())

	files := h.files.snapshot()
	require.Len(t, files, 1)
	assert.Equal(t, "screen-recording.webm", files[0].Name)
	assert.Equal(t, "video/webm", files[0].MIMEType)
	assert.Equal(t, []byte("frame-1frame-2"), files[0].Data)

	assert.Len(t, h.devices.Tracks(), 2)
	assert.Empty(t, h.devices.LiveTracks())
	assert.Nil(t, h.preview.Bound())
	assert.True(t, h.recorders.Recorders()[0].TracksLiveAtStop())
	assert.Equal(t, []domain.CaptureState{
		domain.CapturePreparing, domain.CapturePreviewing, domain.CaptureRecording, domain.CaptureIdle,
	}, h.events.States())
}

func TestStartPrefersMP4Container(t *testing.T) {
	recorders := webmRecorders()
	recorders.Supported = []string{"video/webm", "video/mp4"}
	h := newHarness(&testutil.FakeDevices{}, recorders)
	ctx := context.Background()

	require.NoError(t, h.unit.Prepare(ctx))
	require.NoError(t, h.unit.Start(ctx))
	require.NoError(t, h.unit.Stop(ctx))

	files := h.files.snapshot()
	require.Len(t, files, 1)
	assert.Equal(t, "screen-recording.mp4", files[0].Name)
	assert.Equal(t, "video/mp4", files[0].MIMEType)
}

func TestNegotiateContainerOrder(t *testing.T) {
	cases := []struct {
		supported []string
		want      string
	}{
		{supported: nil, want: ""},
		{supported: []string{"video/webm"}, want: "video/webm"},
		{supported: []string{"video/webm", "video/webm;codecs=vp8,opus"}, want: "video/webm;codecs=vp8,opus"},
		{supported: []string{"video/webm;codecs=h264", "video/webm;codecs=vp9,opus"}, want: "video/webm;codecs=vp9,opus"},
	}
	for _, tc := range cases {
		got := NegotiateContainer(&testutil.FakeRecorders{Supported: tc.supported}, ContainerPreferences)
		assert.Equal(t, tc.want, got, "supported=%v", tc.supported)
	}
}

func TestPlatformDefaultContainerFallsBackToWebm(t *testing.T) {
	recorders := webmRecorders()
	recorders.Supported = nil
	h := newHarness(&testutil.FakeDevices{}, recorders)
	ctx := context.Background()

	require.NoError(t, h.unit.Prepare(ctx))
	require.NoError(t, h.unit.Start(ctx))
	require.NoError(t, h.unit.Stop(ctx))

	files := h.files.snapshot()
	require.Len(t, files, 1)
	assert.Equal(t, "screen-recording.webm", files[0].Name)
}

func TestMicrophoneFailureRecordsVideoOnly(t *testing.T) {
	h := newHarness(&testutil.FakeDevices{MicErr: errors.New("denied")}, webmRecorders())
	ctx := context.Background()

	require.NoError(t, h.unit.Prepare(ctx))
	require.Equal(t, domain.CapturePreviewing, h.unit.State())
	assert.Len(t, h.preview.Bound().Tracks, 1)
	assert.Empty(t, h.events.Codes())

	require.NoError(t, h.unit.Start(ctx))
	require.NoError(t, h.unit.Stop(ctx))
	assert.Len(t, h.files.snapshot(), 1)
	assert.Empty(t, h.devices.LiveTracks())
}

func TestPrepareUnsupportedDisplay(t *testing.T) {
	h := newHarness(&testutil.FakeDevices{DisplayErr: domain.ErrUnsupportedCapability}, webmRecorders())

	err := h.unit.Prepare(context.Background())
	require.ErrorIs(t, err, domain.ErrUnsupportedCapability)
	assert.Equal(t, domain.CaptureIdle, h.unit.State())
	assert.Equal(t, []domain.ErrorCode{domain.ErrorCodeUnsupportedCapability}, h.events.Codes())
	assert.Empty(t, h.devices.Tracks())
}

func TestPrepareDisplayFailureIsReported(t *testing.T) {
	h := newHarness(&testutil.FakeDevices{DisplayErr: errors.New("no x server")}, webmRecorders())

	err := h.unit.Prepare(context.Background())
	require.ErrorIs(t, err, domain.ErrUnsupportedCapability)
	assert.Contains(t, err.Error(), "no x server")
	assert.Equal(t, domain.CaptureIdle, h.unit.State())
	assert.Equal(t, []domain.ErrorCode{domain.ErrorCodeUnsupportedCapability}, h.events.Codes())
	assert.Nil(t, h.preview.Bound())
}

func TestPrepareDismissedPickerIsSilent(t *testing.T) {
	h := newHarness(&testutil.FakeDevices{DisplayErr: domain.ErrCaptureCancelled}, webmRecorders())

	require.NoError(t, h.unit.Prepare(context.Background()))
	assert.Equal(t, domain.CaptureIdle, h.unit.State())
	assert.Empty(t, h.events.Codes())
	assert.Nil(t, h.preview.Bound())
}

func TestPrepareRejectsWhileActive(t *testing.T) {
	h := newHarness(&testutil.FakeDevices{}, webmRecorders())
	ctx := context.Background()

	require.NoError(t, h.unit.Prepare(ctx))
	assert.ErrorIs(t, h.unit.Prepare(ctx), ErrNotIdle)
	h.unit.Cancel()
	assert.Empty(t, h.devices.LiveTracks())
}

func TestCancelWhilePreparingDisplay(t *testing.T) {
	devices := &testutil.FakeDevices{DisplayGate: make(chan struct{})}
	h := newHarness(devices, webmRecorders())

	done := make(chan error, 1)
	go func() { done <- h.unit.Prepare(context.Background()) }()
	waitForState(t, h.unit, domain.CapturePreparing)

	h.unit.Cancel()
	require.NoError(t, <-done)
	assert.Equal(t, domain.CaptureIdle, h.unit.State())
	assert.Empty(t, devices.Tracks())
	assert.Nil(t, h.preview.Bound())
}

func TestCancelWhilePreparingMicrophoneReleasesDisplay(t *testing.T) {
	devices := &testutil.FakeDevices{MicGate: make(chan struct{})}
	h := newHarness(devices, webmRecorders())

	done := make(chan error, 1)
	go func() { done <- h.unit.Prepare(context.Background()) }()
	require.Eventually(t, func() bool { return devices.DisplayTrack() != nil }, time.Second, 5*time.Millisecond)

	h.unit.Cancel()
	require.NoError(t, <-done)
	assert.Equal(t, domain.CaptureIdle, h.unit.State())
	assert.Empty(t, devices.LiveTracks())
	assert.Nil(t, h.preview.Bound())
}

func TestCancelWhilePreviewing(t *testing.T) {
	h := newHarness(&testutil.FakeDevices{}, webmRecorders())

	require.NoError(t, h.unit.Prepare(context.Background()))
	h.unit.Cancel()

	assert.Equal(t, domain.CaptureIdle, h.unit.State())
	assert.Empty(t, h.devices.LiveTracks())
	assert.Nil(t, h.preview.Bound())
	assert.Empty(t, h.files.snapshot())
}

func TestCancelWhileRecordingDiscards(t *testing.T) {
	h := newHarness(&testutil.FakeDevices{}, webmRecorders())
	ctx := context.Background()

	require.NoError(t, h.unit.Prepare(ctx))
	require.NoError(t, h.unit.Start(ctx))
	h.unit.Cancel()

	assert.Equal(t, domain.CaptureIdle, h.unit.State())
	assert.Empty(t, h.devices.LiveTracks())
	assert.Nil(t, h.preview.Bound())
	assert.Empty(t, h.files.snapshot())
	assert.ErrorIs(t, h.unit.Stop(ctx), ErrNotRecording)
}

func TestCancelWhenIdleIsNoOp(t *testing.T) {
	h := newHarness(&testutil.FakeDevices{}, webmRecorders())
	h.unit.Cancel()
	assert.Equal(t, domain.CaptureIdle, h.unit.State())
	assert.Empty(t, h.events.States())
}

func TestPlatformEndsSharingWhileRecordingFinalizes(t *testing.T) {
	h := newHarness(&testutil.FakeDevices{}, webmRecorders())
	ctx := context.Background()

	require.NoError(t, h.unit.Prepare(ctx))
	require.NoError(t, h.unit.Start(ctx))
	h.devices.DisplayTrack().EndExternally()

	waitForState(t, h.unit, domain.CaptureIdle)
	require.Eventually(t, func() bool { return len(h.files.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "screen-recording.webm", h.files.snapshot()[0].Name)
	assert.Empty(t, h.devices.LiveTracks())
	assert.Nil(t, h.preview.Bound())
}

func TestPlatformEndsSharingWhilePreviewingCancels(t *testing.T) {
	h := newHarness(&testutil.FakeDevices{}, webmRecorders())

	require.NoError(t, h.unit.Prepare(context.Background()))
	h.devices.DisplayTrack().EndExternally()

	waitForState(t, h.unit, domain.CaptureIdle)
	assert.Empty(t, h.devices.LiveTracks())
	assert.Nil(t, h.preview.Bound())
	assert.Empty(t, h.files.snapshot())
}

func TestEmptyRecordingIsDiscarded(t *testing.T) {
	recorders := webmRecorders()
	recorders.Chunks = nil
	h := newHarness(&testutil.FakeDevices{}, recorders)
	ctx := context.Background()

	require.NoError(t, h.unit.Prepare(ctx))
	require.NoError(t, h.unit.Start(ctx))
	require.NoError(t, h.unit.Stop(ctx))

	assert.Equal(t, domain.CaptureIdle, h.unit.State())
	assert.Empty(t, h.files.snapshot())
	assert.Empty(t, h.devices.LiveTracks())
	assert.Empty(t, h.events.Codes())
}

func TestStartFailureReleasesEverything(t *testing.T) {
	recorders := webmRecorders()
	recorders.StartErr = errors.New("no encoder")
	h := newHarness(&testutil.FakeDevices{}, recorders)
	ctx := context.Background()

	require.NoError(t, h.unit.Prepare(ctx))
	err := h.unit.Start(ctx)
	require.ErrorIs(t, err, domain.ErrCaptureFailed)
	assert.Equal(t, domain.CaptureIdle, h.unit.State())
	assert.Empty(t, h.devices.LiveTracks())
	assert.Nil(t, h.preview.Bound())
	assert.Equal(t, []domain.ErrorCode{domain.ErrorCodeCaptureFailed}, h.events.Codes())
}

func TestStartRequiresPreview(t *testing.T) {
	h := newHarness(&testutil.FakeDevices{}, webmRecorders())
	assert.ErrorIs(t, h.unit.Start(context.Background()), ErrNotPreviewing)
	assert.ErrorIs(t, h.unit.Stop(context.Background()), ErrNotRecording)
}
