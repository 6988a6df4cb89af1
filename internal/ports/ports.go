package ports

import (
	"context"

	"socialgarden/internal/domain"
)

// TrackKind is the media kind carried by a track.
type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// Track is one hardware source acquired from a device.
type Track interface {
	ID() string
	Kind() TrackKind
	// Stop releases the underlying source. It is idempotent.
	Stop()
	Live() bool
	// Ended is closed once the source has ended, whether stopped locally
	// or torn down by the platform (e.g. the user revoked screen sharing).
	Ended() <-chan struct{}
}

// Stream groups tracks recorded together.
type Stream struct {
	Tracks []Track
}

// NewStream combines the given tracks into one stream.
func NewStream(tracks ...Track) *Stream {
	return &Stream{Tracks: tracks}
}

// VideoTracks returns the video tracks of s.
func (s *Stream) VideoTracks() []Track {
	return s.byKind(TrackVideo)
}

// AudioTracks returns the audio tracks of s.
func (s *Stream) AudioTracks() []Track {
	return s.byKind(TrackAudio)
}

// Stop stops every track of s.
func (s *Stream) Stop() {
	if s == nil {
		return
	}
	for _, track := range s.Tracks {
		track.Stop()
	}
}

func (s *Stream) byKind(kind TrackKind) []Track {
	if s == nil {
		return nil
	}
	var out []Track
	for _, track := range s.Tracks {
		if track.Kind() == kind {
			out = append(out, track)
		}
	}
	return out
}

// MediaDevices acquires hardware streams.
type MediaDevices interface {
	// OpenMicrophone returns an audio-only stream or domain.ErrPermissionDenied.
	OpenMicrophone(ctx context.Context) (*Stream, error)
	// OpenDisplay returns a video-only stream. It fails with
	// domain.ErrUnsupportedCapability when display capture is unavailable and
	// domain.ErrCaptureCancelled when the user dismissed the source picker.
	OpenDisplay(ctx context.Context) (*Stream, error)
}

// Recorder encodes a stream into a container.
type Recorder interface {
	Start(ctx context.Context) error
	// Stop finalizes the recording and returns the buffered chunks in order.
	Stop(ctx context.Context) ([][]byte, error)
	MIMEType() string
}

// RecorderFactory creates recorders for a stream.
type RecorderFactory interface {
	IsTypeSupported(mimeType string) bool
	// NewRecorder opens a recorder; an empty mimeType lets the platform decide.
	NewRecorder(stream *Stream, mimeType string) (Recorder, error)
}

// PreviewSurface displays a live stream before recording starts.
type PreviewSurface interface {
	Bind(stream *Stream)
	Unbind()
}

// Analyzer is the external reasoning engine contract.
type Analyzer interface {
	ClassifyCheckIn(ctx context.Context, clip domain.Media) (domain.CheckIn, error)
	AnalyzeEvidence(ctx context.Context, mode domain.Mode, media *domain.Media, audio *domain.Media, profile domain.UserProfile) (domain.AnalysisResult, error)
	AnalyzeFollowUp(ctx context.Context, priorAdvice string, reaction string, reactionAudio *domain.Media, profile domain.UserProfile) (domain.AnalysisResult, error)
}

// Clipboard writes text into the system clipboard.
type Clipboard interface {
	SetText(ctx context.Context, text string) error
}

// CaptureSink receives capture unit lifecycle events.
type CaptureSink interface {
	CaptureStateChanged(unit domain.CaptureUnit, state domain.CaptureState)
	CaptureError(unit domain.CaptureUnit, code domain.ErrorCode, detail string)
}

// EventSink emits session state/events to the UI. The session controller
// calls it with its lock held, so implementations must not call back into it.
type EventSink interface {
	CaptureSink
	StatusChanged(status domain.Status)
	PhaseChanged(phase domain.SessionPhase, reason domain.PhaseReason)
	ResultChanged(result *domain.AnalysisResult)
	GardenChanged(garden domain.GardenState)
	ProfileChanged(profile domain.UserProfile)
	MissionChanged(mission string)
	SessionError(code domain.ErrorCode, message string)
}
