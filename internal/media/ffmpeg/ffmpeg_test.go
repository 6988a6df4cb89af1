package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"socialgarden/internal/domain"
	"socialgarden/internal/ports"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const interruptibleScript = "#!/usr/bin/env bash\ntrap 'exit 0' INT\nprintf 'chunk'\nwhile true; do sleep 0.05; done\n"

func TestRecorderCollectsOutputAndStops(t *testing.T) {
	t.Parallel()

	devices := NewDevices(Options{Command: writeScript(t, "rec.sh", interruptibleScript), Display: ":99"}, nil)
	display, err := devices.OpenDisplay(context.Background())
	if err != nil {
		t.Fatalf("open display failed: %v", err)
	}
	mic, err := devices.OpenMicrophone(context.Background())
	if err != nil {
		t.Fatalf("open microphone failed: %v", err)
	}
	stream := ports.NewStream(append(display.Tracks, mic.Tracks...)...)

	rec, err := devices.NewRecorder(stream, "video/webm")
	if err != nil {
		t.Fatalf("new recorder failed: %v", err)
	}
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	chunks, err := rec.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if got := string(bytes.Join(chunks, nil)); got != "chunk" {
		t.Fatalf("unexpected output: %q", got)
	}
	for _, track := range stream.Tracks {
		if !track.Live() {
			t.Fatalf("stop must not release %s", track.ID())
		}
	}
	stream.Stop()
}

func TestRecorderStartEarlyExit(t *testing.T) {
	t.Parallel()

	devices := NewDevices(Options{Command: writeScript(t, "fail.sh", "#!/usr/bin/env bash\necho 'boom' 1>&2\nexit 1\n")}, nil)
	mic, _ := devices.OpenMicrophone(context.Background())
	rec, err := devices.NewRecorder(mic, "audio/webm")
	if err != nil {
		t.Fatalf("new recorder failed: %v", err)
	}

	err = rec.Start(context.Background())
	if err == nil {
		t.Fatalf("expected early exit error")
	}
	if !strings.Contains(err.Error(), "exited before recording started") || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRecorderProcessExitEndsTracks(t *testing.T) {
	t.Parallel()

	devices := NewDevices(Options{Command: writeScript(t, "short.sh", "#!/usr/bin/env bash\nprintf 'x'\nsleep 0.4\n"), Display: ":0"}, nil)
	display, _ := devices.OpenDisplay(context.Background())
	rec, err := devices.NewRecorder(display, "video/webm")
	if err != nil {
		t.Fatalf("new recorder failed: %v", err)
	}
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	select {
	case <-display.Tracks[0].Ended():
	case <-time.After(3 * time.Second):
		t.Fatalf("display track should end when ffmpeg exits")
	}

	chunks, err := rec.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if got := string(bytes.Join(chunks, nil)); got != "x" {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestReleasingTrackTerminatesRecorder(t *testing.T) {
	t.Parallel()

	devices := NewDevices(Options{Command: writeScript(t, "rec.sh", interruptibleScript)}, nil)
	mic, _ := devices.OpenMicrophone(context.Background())
	created, err := devices.NewRecorder(mic, "")
	if err != nil {
		t.Fatalf("new recorder failed: %v", err)
	}
	rec := created.(*Recorder)
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	mic.Stop()
	select {
	case <-rec.exited:
	case <-time.After(3 * time.Second):
		t.Fatalf("ffmpeg should exit once its track is released")
	}
}

func TestStopBeforeStart(t *testing.T) {
	t.Parallel()

	devices := NewDevices(Options{Command: "ffmpeg"}, nil)
	mic, _ := devices.OpenMicrophone(context.Background())
	rec, err := devices.NewRecorder(mic, "audio/webm")
	if err != nil {
		t.Fatalf("new recorder failed: %v", err)
	}
	if _, err := rec.Stop(context.Background()); err == nil {
		t.Fatalf("expected stop before start to fail")
	}
}

func TestIsTypeSupported(t *testing.T) {
	t.Parallel()

	listing := `Encoders:
 V..... = Video
 ------
 V....D libvpx               libvpx VP8 (codec vp8)
 V....D libvpx-vp9           libvpx VP9 (codec vp9)
 A....D libopus              libopus Opus (codec opus)
`
	script := writeScript(t, "encoders.sh", "#!/usr/bin/env bash\ncat <<'EOF'\n"+listing+"EOF\n")
	devices := NewDevices(Options{Command: script}, nil)

	cases := map[string]bool{
		"video/mp4":                  false,
		"video/webm;codecs=vp9,opus": true,
		"video/webm;codecs=vp8,opus": true,
		"video/webm;codecs=h264":     false,
		"video/webm":                 true,
		"audio/webm":                 true,
		"audio/ogg":                  true,
		"video/x-matroska":           false,
		"video/webm;codecs=theora":   false,
	}
	for mimeType, want := range cases {
		if got := devices.IsTypeSupported(mimeType); got != want {
			t.Fatalf("IsTypeSupported(%q) = %v, want %v", mimeType, got, want)
		}
	}
}

func TestRecorderArgsForMP4(t *testing.T) {
	t.Parallel()

	devices := NewDevices(Options{Display: ":1", FrameRate: 15}, nil)
	display, _ := devices.OpenDisplay(context.Background())
	mic, _ := devices.OpenMicrophone(context.Background())
	stream := ports.NewStream(append(display.Tracks, mic.Tracks...)...)

	created, err := devices.NewRecorder(stream, "video/mp4")
	if err != nil {
		t.Fatalf("new recorder failed: %v", err)
	}
	got := strings.Join(created.(*Recorder).args, " ")
	for _, want := range []string{
		"-f x11grab -framerate 15 -i :1",
		"-f pulse -i default",
		"-map 0 -map 1",
		"-c:v libx264",
		"-c:a aac",
		"-movflags frag_keyframe+empty_moov",
		"-f mp4 pipe:1",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("args %q missing %q", got, want)
		}
	}
}

func TestAudioContainerDropsVideo(t *testing.T) {
	t.Parallel()

	devices := NewDevices(Options{Display: ":1"}, nil)
	display, _ := devices.OpenDisplay(context.Background())
	mic, _ := devices.OpenMicrophone(context.Background())
	stream := ports.NewStream(append(display.Tracks, mic.Tracks...)...)

	created, err := devices.NewRecorder(stream, "audio/webm;codecs=opus")
	if err != nil {
		t.Fatalf("new recorder failed: %v", err)
	}
	got := strings.Join(created.(*Recorder).args, " ")
	if strings.Contains(got, "x11grab") || strings.Contains(got, "-c:v") {
		t.Fatalf("audio container must not record video: %q", got)
	}
	if !strings.Contains(got, "-c:a libopus") {
		t.Fatalf("expected opus audio: %q", got)
	}
}

func TestOpenDisplayWithoutDisplay(t *testing.T) {
	t.Parallel()

	_, err := NewDevices(Options{}, nil).OpenDisplay(context.Background())
	if !errors.Is(err, domain.ErrUnsupportedCapability) {
		t.Fatalf("expected unsupported capability, got %v", err)
	}
}

func TestOpenMicrophoneProbeFailure(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "probe.sh", "#!/usr/bin/env bash\necho 'Connection refused' 1>&2\nexit 1\n")
	_, err := NewDevices(Options{Command: script, ProbeMicrophone: true}, nil).OpenMicrophone(context.Background())
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if !strings.Contains(err.Error(), "Connection refused") {
		t.Fatalf("expected probe output in error: %v", err)
	}
}

func TestNormalizeStopErrExitErrorIsIgnored(t *testing.T) {
	t.Parallel()

	err := exec.Command("bash", "-c", "exit 1").Run()
	if err == nil {
		t.Fatalf("expected command to fail")
	}
	if got := normalizeStopErr(err); got != nil {
		t.Fatalf("expected nil for exit error, got %v", got)
	}
}

func TestSplitMIME(t *testing.T) {
	t.Parallel()

	base, codecs := splitMIME(` Video/WebM; codecs="VP9, opus"`)
	if base != "video/webm" {
		t.Fatalf("unexpected base: %q", base)
	}
	if strings.Join(codecs, ",") != "vp9,opus" {
		t.Fatalf("unexpected codecs: %v", codecs)
	}

	_, codecs = splitMIME("video/mp4;codecs=avc1.42E01E,mp4a.40.2")
	if strings.Join(codecs, ",") != "avc1,mp4a" {
		t.Fatalf("unexpected codecs: %v", codecs)
	}
}

func writeScript(t *testing.T, name string, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o700); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}
