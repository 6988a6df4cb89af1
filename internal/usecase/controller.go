package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"socialgarden/internal/domain"
	"socialgarden/internal/ports"
)

var (
	ErrBusy                 = errors.New("an analysis call is already in flight")
	ErrInvalidPhase         = errors.New("operation not allowed in the current phase")
	ErrNoEvidence           = errors.New("no evidence staged")
	ErrProfileNotConfigured = errors.New("profile is not configured")
	ErrMissionRequired      = errors.New("generate a mission before submitting evidence")
	ErrEmptyFollowUp        = errors.New("follow-up needs text or audio")
	ErrNoSuggestedAction    = errors.New("no suggested action to copy")
	ErrUnsupportedUpload    = fmt.Errorf("%w: only images and videos can be uploaded", domain.ErrUnsupportedCapability)
	// ErrSessionReset is returned when a reset overtook the call's reply.
	ErrSessionReset = errors.New("session was reset while the analysis was in flight")
)

// ThinkingPlaceholder replaces the advisory text while a follow-up is in flight.
const ThinkingPlaceholder = "Réflexion en cours..."

const followUpErrorPrefix = "Impossible de continuer la discussion : "

// ProfileStore is the single mutator of the user profile.
type ProfileStore interface {
	Get() domain.UserProfile
	Replace(profile domain.UserProfile) domain.UserProfile
	MergeTraits(detected []string) (domain.UserProfile, bool)
}

// MissionSource draws social missions.
type MissionSource interface {
	Next() string
}

// SessionController is the check-in -> evidence -> result state machine.
type SessionController struct {
	analyzer  ports.Analyzer
	profiles  ProfileStore
	missions  MissionSource
	clipboard ports.Clipboard
	events    ports.EventSink
	logger    *zap.Logger
	newID     func() string

	// calls admits a single analysis call at a time. It is acquired and
	// released only by beginCallLocked and endCallLocked, which also keep
	// busy in step so readers need not probe the semaphore.
	calls *semaphore.Weighted

	mu      sync.Mutex
	session sessionData
	garden  domain.GardenState
	epoch   uint64
	busy    bool
}

func NewSessionController(
	analyzer ports.Analyzer,
	profiles ProfileStore,
	missions MissionSource,
	clipboard ports.Clipboard,
	events ports.EventSink,
	logger *zap.Logger,
) *SessionController {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &SessionController{
		analyzer:  analyzer,
		profiles:  profiles,
		missions:  missions,
		clipboard: clipboard,
		events:    events,
		logger:    logger.Named("session"),
		newID:     uuid.NewString,
		calls:     semaphore.NewWeighted(1),
		garden:    domain.DefaultGarden(),
	}
	c.session = newSessionData(c.newID())
	return c
}

// SubmitCheckIn classifies the check-in clip and selects the session mode.
func (c *SessionController) SubmitCheckIn(ctx context.Context, clip domain.Media) error {
	c.mu.Lock()
	if err := c.requireProfileLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.session.phase != domain.PhaseIdle {
		c.mu.Unlock()
		return fmt.Errorf("%w: check-in from %s", ErrInvalidPhase, c.session.phase)
	}
	if clip.Size() == 0 {
		c.mu.Unlock()
		c.logger.Warn("empty check-in clip ignored", zap.Error(domain.ErrEmptyCapture))
		return nil
	}
	epoch, err := c.beginCallLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.session.clearError()
	c.transitionLocked(domain.PhaseCheckingIn, domain.ReasonCheckInSubmitted)
	c.mu.Unlock()

	checkIn, callErr := c.analyzer.ClassifyCheckIn(ctx, clip)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.endCallLocked()
	if c.epoch != epoch {
		c.logger.Info("check-in reply discarded after reset", zap.Error(callErr))
		return ErrSessionReset
	}
	if callErr != nil {
		c.logger.Warn("check-in classification failed", zap.Error(callErr))
		c.failLocked(callErr, domain.UserMessage(callErr))
		c.transitionLocked(domain.PhaseIdle, domain.ReasonCheckInFailed)
		return callErr
	}

	c.session.mode = checkIn.Mode
	c.session.sentiment = checkIn.Sentiment
	c.session.mission = ""
	c.logger.Info("check-in classified", zap.String("session", c.session.id), zap.String("mode", string(checkIn.Mode)))
	c.events.MissionChanged("")
	c.transitionLocked(domain.PhaseAwaitingEvidence, domain.ReasonModeSelected)
	return nil
}

// GenerateMission draws a new social mission. Growth sessions only.
func (c *SessionController) GenerateMission() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireProfileLocked(); err != nil {
		return "", err
	}
	if c.session.phase != domain.PhaseAwaitingEvidence || c.session.mode != domain.ModeGrowth {
		return "", fmt.Errorf("%w: missions belong to growth sessions awaiting evidence", ErrInvalidPhase)
	}
	c.session.mission = c.missions.Next()
	c.events.MissionChanged(c.session.mission)
	c.publishLocked()
	return c.session.mission, nil
}

// StageScreenRecording stages a recording as evidence. It replaces any
// staged audio note.
func (c *SessionController) StageScreenRecording(media domain.Media) error {
	return c.stage(func(s *sessionData) error {
		s.evidence.Media = &media
		s.evidence.Audio = nil
		return nil
	}, media)
}

// StageUpload stages an uploaded image or video as evidence.
func (c *SessionController) StageUpload(file domain.Media) error {
	return c.stage(func(s *sessionData) error {
		mimeType := strings.ToLower(file.MIMEType)
		if !strings.HasPrefix(mimeType, "image/") && !strings.HasPrefix(mimeType, "video/") {
			return ErrUnsupportedUpload
		}
		s.evidence.Media = &file
		return nil
	}, file)
}

// StageAudio stages an audio note as evidence.
func (c *SessionController) StageAudio(clip domain.Media) error {
	return c.stage(func(s *sessionData) error {
		s.evidence.Audio = &clip
		return nil
	}, clip)
}

// ClearEvidence drops every staged input without leaving the phase.
func (c *SessionController) ClearEvidence() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.phase != domain.PhaseAwaitingEvidence {
		return fmt.Errorf("%w: no evidence step in %s", ErrInvalidPhase, c.session.phase)
	}
	c.session.evidence = domain.Evidence{}
	c.publishLocked()
	return nil
}

func (c *SessionController) stage(apply func(*sessionData) error, media domain.Media) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.phase != domain.PhaseAwaitingEvidence {
		return fmt.Errorf("%w: no evidence step in %s", ErrInvalidPhase, c.session.phase)
	}
	if media.Size() == 0 {
		c.logger.Warn("empty evidence ignored", zap.String("name", media.Name), zap.Error(domain.ErrEmptyCapture))
		return nil
	}
	if err := apply(&c.session); err != nil {
		return err
	}
	c.logger.Debug("evidence staged", zap.String("name", media.Name), zap.String("mime", media.MIMEType), zap.Int("bytes", media.Size()))
	c.publishLocked()
	return nil
}

// SubmitEvidence runs the full analysis of the staged evidence.
func (c *SessionController) SubmitEvidence(ctx context.Context) error {
	c.mu.Lock()
	if err := c.requireProfileLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	switch {
	case c.session.phase != domain.PhaseAwaitingEvidence:
		c.mu.Unlock()
		return fmt.Errorf("%w: evidence from %s", ErrInvalidPhase, c.session.phase)
	case c.session.evidence.Empty():
		c.mu.Unlock()
		return ErrNoEvidence
	case c.session.mode == domain.ModeGrowth && c.session.mission == "":
		c.mu.Unlock()
		return ErrMissionRequired
	}
	epoch, err := c.beginCallLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	mode := c.session.mode
	media := cloneMedia(c.session.evidence.Media)
	audio := cloneMedia(c.session.evidence.Audio)
	profile := c.profiles.Get()
	c.session.clearError()
	c.transitionLocked(domain.PhaseAnalyzing, domain.ReasonEvidenceSubmitted)
	c.mu.Unlock()

	result, callErr := c.analyzer.AnalyzeEvidence(ctx, mode, media, audio, profile)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.endCallLocked()
	if c.epoch != epoch {
		c.logger.Info("analysis reply discarded after reset", zap.Error(callErr))
		return ErrSessionReset
	}
	if callErr != nil {
		c.logger.Warn("evidence analysis failed", zap.Error(callErr))
		c.failLocked(callErr, domain.UserMessage(callErr))
		c.transitionLocked(domain.PhaseAwaitingEvidence, domain.ReasonAnalysisFailed)
		return callErr
	}

	c.applyResultLocked(result)
	c.transitionLocked(domain.PhaseShowingResult, domain.ReasonResultReady)
	return nil
}

// SetFollowUpText stages the reaction text of the next follow-up.
func (c *SessionController) SetFollowUpText(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.phase != domain.PhaseShowingResult {
		return fmt.Errorf("%w: follow-up from %s", ErrInvalidPhase, c.session.phase)
	}
	c.session.followUpText = text
	c.publishLocked()
	return nil
}

// StageFollowUpAudio stages a spoken reaction for the next follow-up.
func (c *SessionController) StageFollowUpAudio(clip domain.Media) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.phase != domain.PhaseShowingResult {
		return fmt.Errorf("%w: follow-up from %s", ErrInvalidPhase, c.session.phase)
	}
	if clip.Size() == 0 {
		c.logger.Warn("empty follow-up audio ignored", zap.Error(domain.ErrEmptyCapture))
		return nil
	}
	c.session.followUpAudio = &clip
	c.publishLocked()
	return nil
}

// DiscardFollowUpAudio drops the staged spoken reaction.
func (c *SessionController) DiscardFollowUpAudio() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.followUpAudio == nil {
		return
	}
	c.session.followUpAudio = nil
	c.publishLocked()
}

// SubmitFollowUp continues the conversation without leaving ShowingResult.
// The advisory text shows a placeholder until the reply lands; on failure
// the previous result is restored untouched.
func (c *SessionController) SubmitFollowUp(ctx context.Context) error {
	c.mu.Lock()
	if err := c.requireProfileLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.session.phase != domain.PhaseShowingResult || c.session.result == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: follow-up from %s", ErrInvalidPhase, c.session.phase)
	}
	if !c.session.hasFollowUp() {
		c.mu.Unlock()
		return ErrEmptyFollowUp
	}
	epoch, err := c.beginCallLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	prior := c.session.result.Clone()
	reaction := c.session.followUpText
	audio := cloneMedia(c.session.followUpAudio)
	profile := c.profiles.Get()

	placeholder := prior.Clone()
	placeholder.AdvisoryText = ThinkingPlaceholder
	c.session.result = &placeholder
	c.session.clearError()
	c.events.ResultChanged(cloneResult(placeholder))
	c.publishLocked()
	c.mu.Unlock()

	result, callErr := c.analyzer.AnalyzeFollowUp(ctx, prior.AdvisoryText, reaction, audio, profile)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.endCallLocked()
	if c.epoch != epoch {
		c.logger.Info("follow-up reply discarded after reset", zap.Error(callErr))
		return ErrSessionReset
	}
	if callErr != nil {
		c.logger.Warn("follow-up failed", zap.Error(callErr))
		c.session.result = &prior
		c.events.ResultChanged(cloneResult(prior))
		c.failLocked(callErr, followUpErrorPrefix+domain.UserMessage(callErr))
		c.publishLocked()
		return callErr
	}

	c.session.followUpText = ""
	c.session.followUpAudio = nil
	c.applyResultLocked(result)
	c.transitionLocked(domain.PhaseShowingResult, domain.ReasonFollowUpAnswered)
	return nil
}

// Reset returns to Idle from any phase. The profile and the garden are
// kept. A reply still in flight is discarded when it arrives.
func (c *SessionController) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.session = newSessionData(c.newID())
	c.logger.Info("session reset", zap.String("session", c.session.id))
	c.events.ResultChanged(nil)
	c.events.MissionChanged("")
	c.transitionLocked(domain.PhaseIdle, domain.ReasonSessionReset)
}

// DismissError clears the surfaced error.
func (c *SessionController) DismissError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.errMessage == "" {
		return
	}
	c.session.clearError()
	c.publishLocked()
}

// UpdateProfile replaces the whole profile record.
func (c *SessionController) UpdateProfile(profile domain.UserProfile) domain.UserProfile {
	c.mu.Lock()
	defer c.mu.Unlock()
	updated := c.profiles.Replace(profile)
	c.events.ProfileChanged(updated)
	c.publishLocked()
	return updated
}

// Profile returns the current profile.
func (c *SessionController) Profile() domain.UserProfile {
	return c.profiles.Get()
}

// CopySuggestedAction puts the suggested action of the current result on
// the clipboard and returns it.
func (c *SessionController) CopySuggestedAction(ctx context.Context) (string, error) {
	c.mu.Lock()
	var action string
	if c.session.result != nil {
		action = c.session.result.SuggestedAction
	}
	c.mu.Unlock()
	if action == "" {
		return "", ErrNoSuggestedAction
	}

	if err := c.clipboard.SetText(ctx, action); err != nil {
		err = fmt.Errorf("failed to copy suggested action: %w", err)
		c.logger.Warn("clipboard write failed", zap.Error(err))
		c.events.SessionError(domain.ErrorCodeClipboard, err.Error())
		return "", err
	}
	return action, nil
}

// Busy reports whether an analysis call is in flight.
func (c *SessionController) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// Status returns a snapshot for the UI.
func (c *SessionController) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *SessionController) statusLocked() domain.Status {
	s := &c.session
	status := domain.Status{
		SessionID:         s.id,
		Phase:             s.phase,
		Mode:              s.mode,
		Sentiment:         s.sentiment,
		Mission:           s.mission,
		HasMedia:          s.evidence.Media != nil,
		HasAudio:          s.evidence.Audio != nil,
		CanSubmitEvidence: s.canSubmitEvidence() && !c.busy,
		FollowUpText:      s.followUpText,
		HasFollowUpAudio:  s.followUpAudio != nil,
		Garden:            c.garden.Clone(),
		Error:             s.errMessage,
		ErrorCode:         s.errCode,
		ProfileConfigured: c.profiles.Get().Configured(),
	}
	if s.result != nil {
		status.Result = cloneResult(*s.result)
	}
	return status
}

func (c *SessionController) requireProfileLocked() error {
	if !c.profiles.Get().Configured() {
		return ErrProfileNotConfigured
	}
	return nil
}

// beginCallLocked takes the single call slot and returns the epoch the
// reply must still match.
func (c *SessionController) beginCallLocked() (uint64, error) {
	if !c.calls.TryAcquire(1) {
		return 0, ErrBusy
	}
	c.busy = true
	return c.epoch, nil
}

func (c *SessionController) endCallLocked() {
	c.busy = false
	c.calls.Release(1)
}

func (c *SessionController) applyResultLocked(result domain.AnalysisResult) {
	c.session.result = &result
	c.garden = result.Garden.Clone()
	c.events.ResultChanged(cloneResult(result))
	c.events.GardenChanged(c.garden.Clone())

	if len(result.DetectedTraits) > 0 {
		if profile, changed := c.profiles.MergeTraits(result.DetectedTraits); changed {
			c.logger.Info("profile traits updated", zap.Strings("traits", profile.Traits))
			c.events.ProfileChanged(profile)
		}
	}
}

func (c *SessionController) failLocked(err error, message string) {
	code := domain.CodeOf(err)
	c.session.setError(code, message)
	c.events.SessionError(code, message)
}

func (c *SessionController) transitionLocked(phase domain.SessionPhase, reason domain.PhaseReason) {
	c.session.phase = phase
	c.events.PhaseChanged(phase, reason)
	c.publishLocked()
}

func (c *SessionController) publishLocked() {
	c.events.StatusChanged(c.statusLocked())
}
