package usecase

import (
	"strings"

	"socialgarden/internal/domain"
)

// sessionData is everything reset clears. The garden and the profile live
// outside it on purpose: they survive a reset.
type sessionData struct {
	id        string
	phase     domain.SessionPhase
	mode      domain.Mode
	sentiment string
	mission   string
	evidence  domain.Evidence

	followUpText  string
	followUpAudio *domain.Media

	result *domain.AnalysisResult

	errMessage string
	errCode    domain.ErrorCode
}

func newSessionData(id string) sessionData {
	return sessionData{id: id, phase: domain.PhaseIdle}
}

func (s *sessionData) canSubmitEvidence() bool {
	if s.phase != domain.PhaseAwaitingEvidence || s.evidence.Empty() {
		return false
	}
	return s.mode != domain.ModeGrowth || s.mission != ""
}

func (s *sessionData) hasFollowUp() bool {
	return strings.TrimSpace(s.followUpText) != "" || s.followUpAudio != nil
}

func (s *sessionData) setError(code domain.ErrorCode, message string) {
	s.errCode = code
	s.errMessage = message
}

func (s *sessionData) clearError() {
	s.errCode = ""
	s.errMessage = ""
}

func cloneMedia(media *domain.Media) *domain.Media {
	if media == nil {
		return nil
	}
	clone := *media
	return &clone
}

func cloneResult(result domain.AnalysisResult) *domain.AnalysisResult {
	clone := result.Clone()
	return &clone
}
