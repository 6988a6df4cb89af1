package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"socialgarden/internal/domain"
)

// StripFences removes markdown code-fence markup around a reply.
func StripFences(reply string) string {
	cleaned := strings.ReplaceAll(reply, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	return strings.TrimSpace(cleaned)
}

type checkInReply struct {
	Mode      *string `json:"mode"`
	Sentiment *string `json:"sentiment"`
}

type gardenReply struct {
	Weather   *string   `json:"meteo"`
	Plants    *[]string `json:"plantes"`
	Composted *bool     `json:"mauvaises_herbes_compostees"`
}

type analysisReply struct {
	ActiveMode      *string      `json:"mode_actif"`
	EmotionAnalysis *string      `json:"analyse_emotion"`
	AdvisoryText    *string      `json:"conseil_textuel"`
	SuggestedAction *string      `json:"action_suggeree"`
	Garden          *gardenReply `json:"etat_jardin_visuel"`
	DetectedTraits  []string     `json:"nouveaux_traits_detectes"`
}

// ParseCheckIn validates a check-in reply.
func ParseCheckIn(reply string) (domain.CheckIn, error) {
	var wire checkInReply
	if err := decode(reply, &wire); err != nil {
		return domain.CheckIn{}, err
	}
	switch {
	case wire.Mode == nil:
		return domain.CheckIn{}, errors.New(`missing "mode"`)
	case wire.Sentiment == nil:
		return domain.CheckIn{}, errors.New(`missing "sentiment"`)
	}
	mode, ok := domain.ParseMode(*wire.Mode)
	if !ok {
		return domain.CheckIn{}, fmt.Errorf("unknown mode %q", *wire.Mode)
	}
	return domain.CheckIn{Mode: mode, Sentiment: *wire.Sentiment}, nil
}

// ParseAnalysis validates an analysis or follow-up reply.
func ParseAnalysis(reply string) (domain.AnalysisResult, error) {
	var wire analysisReply
	if err := decode(reply, &wire); err != nil {
		return domain.AnalysisResult{}, err
	}

	switch {
	case wire.ActiveMode == nil:
		return domain.AnalysisResult{}, errors.New(`missing "mode_actif"`)
	case wire.EmotionAnalysis == nil:
		return domain.AnalysisResult{}, errors.New(`missing "analyse_emotion"`)
	case wire.AdvisoryText == nil:
		return domain.AnalysisResult{}, errors.New(`missing "conseil_textuel"`)
	case wire.Garden == nil:
		return domain.AnalysisResult{}, errors.New(`missing "etat_jardin_visuel"`)
	case wire.Garden.Weather == nil:
		return domain.AnalysisResult{}, errors.New(`missing "etat_jardin_visuel.meteo"`)
	case wire.Garden.Plants == nil:
		return domain.AnalysisResult{}, errors.New(`missing "etat_jardin_visuel.plantes"`)
	case wire.Garden.Composted == nil:
		return domain.AnalysisResult{}, errors.New(`missing "etat_jardin_visuel.mauvaises_herbes_compostees"`)
	}

	mode, ok := domain.ParseMode(*wire.ActiveMode)
	if !ok {
		return domain.AnalysisResult{}, fmt.Errorf("unknown mode %q", *wire.ActiveMode)
	}
	weather, ok := domain.ParseWeather(*wire.Garden.Weather)
	if !ok {
		return domain.AnalysisResult{}, fmt.Errorf("unknown weather %q", *wire.Garden.Weather)
	}

	result := domain.AnalysisResult{
		ActiveMode:      mode,
		EmotionAnalysis: *wire.EmotionAnalysis,
		AdvisoryText:    *wire.AdvisoryText,
		Garden: domain.GardenState{
			Weather:           weather,
			Plants:            append([]string{}, (*wire.Garden.Plants)...),
			ConflictComposted: *wire.Garden.Composted,
		},
		DetectedTraits: wire.DetectedTraits,
	}
	if wire.SuggestedAction != nil {
		result.SuggestedAction = *wire.SuggestedAction
	}
	return result, nil
}

func decode(reply string, out any) error {
	cleaned := StripFences(reply)
	if cleaned == "" {
		return errors.New("empty reply")
	}
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}
