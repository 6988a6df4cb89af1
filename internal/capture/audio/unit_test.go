package audio

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"socialgarden/internal/domain"
	"socialgarden/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestUnit(devices *testutil.FakeDevices, recorders *testutil.FakeRecorders, busy func() bool) (*Unit, *[]domain.Media, *testutil.CaptureEvents) {
	clips := &[]domain.Media{}
	events := &testutil.CaptureEvents{}
	unit := NewUnit(devices, recorders, events, nil, Config{
		Name:   "checkin",
		Busy:   busy,
		OnClip: func(clip domain.Media) { *clips = append(*clips, clip) },
	})
	return unit, clips, events
}

func TestToggleEmitsOneClipPerStartStopPair(t *testing.T) {
	devices := &testutil.FakeDevices{}
	recorders := &testutil.FakeRecorders{
		Supported: []string{"audio/webm"},
		Chunks:    [][]byte{[]byte("ab"), []byte("cd")},
	}
	unit, clips, events := newTestUnit(devices, recorders, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, unit.Toggle(ctx))
		assert.Equal(t, domain.CaptureRecording, unit.State())
		require.NoError(t, unit.Toggle(ctx))
		assert.Equal(t, domain.CaptureIdle, unit.State())
		assert.Empty(t, devices.LiveTracks(), "microphone must be released after stop")
	}

	require.Len(t, *clips, 3)
	for _, clip := range *clips {
		assert.Equal(t, []byte("abcd"), clip.Data)
		assert.Equal(t, "audio/webm", clip.MIMEType)
	}
	for _, rec := range recorders.Recorders() {
		assert.True(t, rec.TracksLiveAtStop(), "tracks are released only after the recorder finalizes")
	}
	assert.Equal(t, []domain.CaptureState{
		domain.CaptureRecording, domain.CaptureIdle,
		domain.CaptureRecording, domain.CaptureIdle,
		domain.CaptureRecording, domain.CaptureIdle,
	}, events.States())
}

func TestTogglePermissionDeniedStaysIdle(t *testing.T) {
	devices := &testutil.FakeDevices{MicErr: errors.New("NotAllowedError")}
	unit, clips, events := newTestUnit(devices, &testutil.FakeRecorders{}, nil)

	err := unit.Toggle(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
	assert.Equal(t, domain.CaptureIdle, unit.State())
	assert.Empty(t, *clips)
	assert.Equal(t, []domain.ErrorCode{domain.ErrorCodePermissionDenied}, events.Codes())
}

func TestToggleIsNoOpWhileConsumerBusy(t *testing.T) {
	devices := &testutil.FakeDevices{}
	unit, clips, _ := newTestUnit(devices, &testutil.FakeRecorders{}, func() bool { return true })

	require.NoError(t, unit.Toggle(context.Background()))
	assert.Equal(t, domain.CaptureIdle, unit.State())
	assert.Empty(t, devices.Tracks(), "no stream may be opened while busy")
	assert.Empty(t, *clips)
}

func TestToggleRecorderStartFailureReleasesMicrophone(t *testing.T) {
	devices := &testutil.FakeDevices{}
	recorders := &testutil.FakeRecorders{StartErr: errors.New("encoder missing")}
	unit, clips, events := newTestUnit(devices, recorders, nil)

	err := unit.Toggle(context.Background())
	require.ErrorIs(t, err, domain.ErrCaptureFailed)
	assert.Equal(t, domain.CaptureIdle, unit.State())
	assert.Len(t, devices.Tracks(), 1)
	assert.Empty(t, devices.LiveTracks())
	assert.Empty(t, *clips)
	assert.Equal(t, []domain.ErrorCode{domain.ErrorCodeCaptureFailed}, events.Codes())
}

func TestDiscardReleasesWithoutClip(t *testing.T) {
	devices := &testutil.FakeDevices{}
	recorders := &testutil.FakeRecorders{Chunks: [][]byte{[]byte("ab")}}
	unit, clips, events := newTestUnit(devices, recorders, nil)
	ctx := context.Background()

	unit.Discard(ctx)
	assert.Empty(t, events.States(), "discarding while idle does nothing")

	require.NoError(t, unit.Toggle(ctx))
	unit.Discard(ctx)
	assert.Equal(t, domain.CaptureIdle, unit.State())
	assert.Len(t, devices.Tracks(), 1)
	assert.Empty(t, devices.LiveTracks())
	assert.Empty(t, *clips)

	require.NoError(t, unit.Toggle(ctx))
	assert.Equal(t, domain.CaptureRecording, unit.State(), "the next toggle starts a fresh recording")
	require.NoError(t, unit.Toggle(ctx))
	assert.Len(t, *clips, 1)
}

func TestToggleFinalizeFailureStillReleases(t *testing.T) {
	devices := &testutil.FakeDevices{}
	recorders := &testutil.FakeRecorders{StopErr: errors.New("muxer died")}
	unit, clips, _ := newTestUnit(devices, recorders, nil)
	ctx := context.Background()

	require.NoError(t, unit.Toggle(ctx))
	require.Error(t, unit.Toggle(ctx))
	assert.Equal(t, domain.CaptureIdle, unit.State())
	assert.Empty(t, devices.LiveTracks())
	assert.Empty(t, *clips)
}

func TestTogglePlatformDefaultContainer(t *testing.T) {
	devices := &testutil.FakeDevices{}
	recorders := &testutil.FakeRecorders{Chunks: [][]byte{[]byte("x")}}
	unit, clips, _ := newTestUnit(devices, recorders, nil)
	ctx := context.Background()

	require.NoError(t, unit.Toggle(ctx))
	require.NoError(t, unit.Toggle(ctx))

	require.Len(t, *clips, 1)
	assert.Equal(t, "", recorders.Recorders()[0].MIMEType())
	assert.Equal(t, "audio/webm", (*clips)[0].MIMEType)
}
