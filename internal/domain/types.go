package domain

import "strings"

// SessionPhase models the check-in/analysis lifecycle.
type SessionPhase string

const (
	PhaseIdle             SessionPhase = "idle"
	PhaseCheckingIn       SessionPhase = "checking_in"
	PhaseAwaitingEvidence SessionPhase = "awaiting_evidence"
	PhaseAnalyzing        SessionPhase = "analyzing"
	PhaseShowingResult    SessionPhase = "showing_result"
)

// PhaseReason provides a structured reason for phase transitions.
type PhaseReason string

const (
	ReasonSessionReady      PhaseReason = "session_ready"
	ReasonCheckInSubmitted  PhaseReason = "checkin_submitted"
	ReasonModeSelected      PhaseReason = "mode_selected"
	ReasonCheckInFailed     PhaseReason = "checkin_failed"
	ReasonEvidenceSubmitted PhaseReason = "evidence_submitted"
	ReasonResultReady       PhaseReason = "result_ready"
	ReasonAnalysisFailed    PhaseReason = "analysis_failed"
	ReasonFollowUpAnswered  PhaseReason = "followup_answered"
	ReasonSessionReset      PhaseReason = "session_reset"
)

// Mode is the branch of a session chosen by the check-in.
type Mode string

const (
	ModeNone        Mode = ""
	ModeTherapeutic Mode = "clinique"
	ModeGrowth      Mode = "serre"
)

// ParseMode maps a wire value onto a Mode.
func ParseMode(value string) (Mode, bool) {
	switch Mode(value) {
	case ModeTherapeutic:
		return ModeTherapeutic, true
	case ModeGrowth:
		return ModeGrowth, true
	default:
		return ModeNone, false
	}
}

// Weather is the garden's sky.
type Weather string

const (
	WeatherSun    Weather = "soleil"
	WeatherClouds Weather = "nuages"
	WeatherRain   Weather = "pluie"
	WeatherStorm  Weather = "orage"
)

// ParseWeather maps a wire value onto a Weather.
func ParseWeather(value string) (Weather, bool) {
	switch Weather(value) {
	case WeatherSun, WeatherClouds, WeatherRain, WeatherStorm:
		return Weather(value), true
	default:
		return "", false
	}
}

// GardenState is display data derived from the latest analysis result.
type GardenState struct {
	Weather           Weather  `json:"weather"`
	Plants            []string `json:"plants"`
	ConflictComposted bool     `json:"conflictComposted"`
}

// DefaultGarden is shown before any analysis has completed.
func DefaultGarden() GardenState {
	return GardenState{Weather: WeatherSun, Plants: []string{}}
}

// Clone returns a copy that shares no slices with g.
func (g GardenState) Clone() GardenState {
	plants := make([]string, len(g.Plants))
	copy(plants, g.Plants)
	g.Plants = plants
	return g
}

// CheckIn is the classification of the initial voice sample.
type CheckIn struct {
	Mode      Mode   `json:"mode"`
	Sentiment string `json:"sentiment"`
}

// AnalysisResult is one full reply of the reasoning engine.
type AnalysisResult struct {
	ActiveMode      Mode        `json:"activeMode"`
	EmotionAnalysis string      `json:"emotionAnalysis"`
	AdvisoryText    string      `json:"advisoryText"`
	SuggestedAction string      `json:"suggestedAction,omitempty"`
	Garden          GardenState `json:"garden"`
	DetectedTraits  []string    `json:"detectedTraits,omitempty"`
}

// Clone returns a deep copy of r.
func (r AnalysisResult) Clone() AnalysisResult {
	r.Garden = r.Garden.Clone()
	if r.DetectedTraits != nil {
		traits := make([]string, len(r.DetectedTraits))
		copy(traits, r.DetectedTraits)
		r.DetectedTraits = traits
	}
	return r
}

// UserProfile steers the tone of the reasoning engine.
type UserProfile struct {
	Pseudonym     string   `json:"pseudonym" yaml:"pseudonym"`
	AgeRange      string   `json:"ageRange" yaml:"ageRange"`
	Traits        []string `json:"traits" yaml:"traits"`
	Sensitivities []string `json:"sensitivities" yaml:"sensitivities"`
}

// Configured reports whether the profile has been filled in.
func (p UserProfile) Configured() bool {
	return p.Pseudonym != ""
}

// Clone returns a deep copy of p.
func (p UserProfile) Clone() UserProfile {
	p.Traits = cloneStrings(p.Traits)
	p.Sensitivities = cloneStrings(p.Sensitivities)
	return p
}

// cloneStrings copies in, never returning nil.
func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// Media is one captured or uploaded piece of evidence.
type Media struct {
	Name     string `json:"name"`
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"-"`
}

// ExtensionFor returns the file extension matching a container MIME type.
func ExtensionFor(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "mp4"):
		return "mp4"
	case strings.Contains(mimeType, "ogg"):
		return "ogg"
	case strings.Contains(mimeType, "wav"):
		return "wav"
	default:
		return "webm"
	}
}

// Size returns the payload length in bytes.
func (m Media) Size() int {
	return len(m.Data)
}

// Evidence is the staged input of an evidence-collection step.
type Evidence struct {
	Media *Media
	Audio *Media
}

// Empty reports whether nothing is staged.
func (e Evidence) Empty() bool {
	return e.Media == nil && e.Audio == nil
}

// Status summarizes the orchestrator for the UI.
type Status struct {
	SessionID         string          `json:"sessionId"`
	Phase             SessionPhase    `json:"phase"`
	Mode              Mode            `json:"mode"`
	Sentiment         string          `json:"sentiment,omitempty"`
	Mission           string          `json:"mission,omitempty"`
	HasMedia          bool            `json:"hasMedia"`
	HasAudio          bool            `json:"hasAudio"`
	CanSubmitEvidence bool            `json:"canSubmitEvidence"`
	FollowUpText      string          `json:"followUpText,omitempty"`
	HasFollowUpAudio  bool            `json:"hasFollowUpAudio"`
	Result            *AnalysisResult `json:"result,omitempty"`
	Garden            GardenState     `json:"garden"`
	Error             string          `json:"error,omitempty"`
	ErrorCode         ErrorCode       `json:"errorCode,omitempty"`
	ProfileConfigured bool            `json:"profileConfigured"`
}

// CaptureUnit names a capture unit instance in events.
type CaptureUnit string

// CaptureState is the lifecycle of a capture unit.
type CaptureState string

const (
	CaptureIdle       CaptureState = "idle"
	CapturePreparing  CaptureState = "preparing"
	CapturePreviewing CaptureState = "previewing"
	CaptureRecording  CaptureState = "recording"
)
