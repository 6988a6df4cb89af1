// Package events fans session events out to several sinks.
package events

import (
	"go.uber.org/zap"

	"socialgarden/internal/domain"
	"socialgarden/internal/ports"
)

// Multi forwards every event to each sink in order. Nil sinks are skipped.
type Multi []ports.EventSink

func NewMulti(sinks ...ports.EventSink) Multi {
	out := make(Multi, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			out = append(out, sink)
		}
	}
	return out
}

func (m Multi) CaptureStateChanged(unit domain.CaptureUnit, state domain.CaptureState) {
	for _, sink := range m {
		sink.CaptureStateChanged(unit, state)
	}
}

func (m Multi) CaptureError(unit domain.CaptureUnit, code domain.ErrorCode, detail string) {
	for _, sink := range m {
		sink.CaptureError(unit, code, detail)
	}
}

func (m Multi) StatusChanged(status domain.Status) {
	for _, sink := range m {
		sink.StatusChanged(status)
	}
}

func (m Multi) PhaseChanged(phase domain.SessionPhase, reason domain.PhaseReason) {
	for _, sink := range m {
		sink.PhaseChanged(phase, reason)
	}
}

func (m Multi) ResultChanged(result *domain.AnalysisResult) {
	for _, sink := range m {
		sink.ResultChanged(result)
	}
}

func (m Multi) GardenChanged(garden domain.GardenState) {
	for _, sink := range m {
		sink.GardenChanged(garden)
	}
}

func (m Multi) ProfileChanged(profile domain.UserProfile) {
	for _, sink := range m {
		sink.ProfileChanged(profile)
	}
}

func (m Multi) MissionChanged(mission string) {
	for _, sink := range m {
		sink.MissionChanged(mission)
	}
}

func (m Multi) SessionError(code domain.ErrorCode, message string) {
	for _, sink := range m {
		sink.SessionError(code, message)
	}
}

// LogSink records events in the structured log. Status snapshots are
// logged at debug level only.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("events")}
}

func (s *LogSink) CaptureStateChanged(unit domain.CaptureUnit, state domain.CaptureState) {
	s.logger.Debug("capture state changed", zap.String("unit", string(unit)), zap.String("state", string(state)))
}

func (s *LogSink) CaptureError(unit domain.CaptureUnit, code domain.ErrorCode, detail string) {
	s.logger.Warn("capture error", zap.String("unit", string(unit)), zap.String("code", string(code)), zap.String("detail", detail))
}

func (s *LogSink) StatusChanged(status domain.Status) {
	s.logger.Debug("status changed",
		zap.String("session", status.SessionID),
		zap.String("phase", string(status.Phase)),
		zap.Bool("canSubmitEvidence", status.CanSubmitEvidence))
}

func (s *LogSink) PhaseChanged(phase domain.SessionPhase, reason domain.PhaseReason) {
	s.logger.Info("phase changed", zap.String("phase", string(phase)), zap.String("reason", string(reason)))
}

func (s *LogSink) ResultChanged(result *domain.AnalysisResult) {
	if result == nil {
		s.logger.Debug("result cleared")
		return
	}
	s.logger.Debug("result changed", zap.String("mode", string(result.ActiveMode)), zap.Strings("traits", result.DetectedTraits))
}

func (s *LogSink) GardenChanged(garden domain.GardenState) {
	s.logger.Info("garden changed",
		zap.String("weather", string(garden.Weather)),
		zap.Strings("plants", garden.Plants),
		zap.Bool("composted", garden.ConflictComposted))
}

func (s *LogSink) ProfileChanged(profile domain.UserProfile) {
	s.logger.Info("profile changed", zap.Strings("traits", profile.Traits))
}

func (s *LogSink) MissionChanged(mission string) {
	if mission == "" {
		return
	}
	s.logger.Info("mission drawn", zap.String("mission", mission))
}

func (s *LogSink) SessionError(code domain.ErrorCode, message string) {
	s.logger.Warn("session error", zap.String("code", string(code)), zap.String("message", message))
}
