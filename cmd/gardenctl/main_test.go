package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialgarden/internal/analysis"
	"socialgarden/internal/domain"
	"socialgarden/internal/events"
	"socialgarden/internal/mission"
	"socialgarden/internal/profile"
	"socialgarden/internal/usecase"
)

const (
	growthCheckIn = `{"mode":"serre","sentiment":"enthousiaste"}`
	firstAdvice   = "```json\n" + `{
  "mode_actif": "serre",
  "analyse_emotion": "Belle énergie.",
  "conseil_textuel": "Lance-toi.",
  "action_suggeree": "Envoie: on se voit jeudi ?",
  "etat_jardin_visuel": {"meteo": "soleil", "plantes": ["tournesol"], "mauvaises_herbes_compostees": false},
  "nouveaux_traits_detectes": ["Optimiste"]
}` + "\n```"
	secondAdvice = `{
  "mode_actif": "serre",
  "analyse_emotion": "Hésitation.",
  "conseil_textuel": "Commence petit.",
  "etat_jardin_visuel": {"meteo": "nuages", "plantes": ["tournesol", "bambou"], "mauvaises_herbes_compostees": false}
}`
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

type scriptedTransport struct {
	mu       sync.Mutex
	replies  []string
	err      error
	requests []analysis.Request
}

func (s *scriptedTransport) Generate(_ context.Context, req analysis.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return "", s.err
	}
	if len(s.replies) == 0 {
		return "", nil
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return reply, nil
}

func testBuilder(transport analysis.Transport, seed domain.UserProfile) runtimeBuilder {
	return func(context.Context) (*runtimeDeps, error) {
		analyzer := analysis.NewClient(transport, nil, analysis.Options{})
		controller := usecase.NewSessionController(
			analyzer,
			profile.NewStore(seed),
			mission.NewGenerator(nil),
			nil,
			events.NewLogSink(nil),
			nil,
		)
		return &runtimeDeps{analyzer: analyzer, controller: controller, close: func() {}}, nil
	}
}

func run(t *testing.T, build runtimeBuilder, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(build)
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestMissionsCommand(t *testing.T) {
	stdout, _, err := run(t, nil, "missions", "-n", "3", "-o", "json")
	require.NoError(t, err)

	var drawn []string
	require.NoError(t, json.Unmarshal([]byte(stdout), &drawn))
	require.Len(t, drawn, 3)
	for _, m := range drawn {
		assert.Contains(t, mission.Missions, m)
	}

	_, _, err = run(t, nil, "missions", "-n", "0")
	assert.Error(t, err)
}

func TestUnknownOutputFormat(t *testing.T) {
	_, _, err := run(t, nil, "missions", "-o", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
}

func TestCheckInCommand(t *testing.T) {
	transport := &scriptedTransport{replies: []string{growthCheckIn}}
	voice := writeFile(t, "voice.webm", []byte("voice"))

	stdout, _, err := run(t, testBuilder(transport, domain.UserProfile{Pseudonym: "Sam"}), "checkin", voice, "--mime", "audio/webm", "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, stdout, "mode: serre")
	assert.Contains(t, stdout, "sentiment: enthousiaste")

	require.Len(t, transport.requests, 1)
	assert.Equal(t, "audio/webm", transport.requests[0].Parts[0].MIMEType)
}

func TestCommandsRequireProfile(t *testing.T) {
	transport := &scriptedTransport{replies: []string{growthCheckIn}}
	voice := writeFile(t, "voice.webm", []byte("voice"))

	_, _, err := run(t, testBuilder(transport, domain.UserProfile{}), "checkin", voice)
	require.ErrorIs(t, err, usecase.ErrProfileNotConfigured)
	assert.Empty(t, transport.requests)

	_, _, err = run(t, testBuilder(transport, domain.UserProfile{}), "checkin", voice, "--pseudonym", "Alex")
	require.NoError(t, err)
}

func TestAnalyzeCommand(t *testing.T) {
	transport := &scriptedTransport{replies: []string{firstAdvice}}
	chat := writeFile(t, "chat.png", pngHeader)

	stdout, _, err := run(t, testBuilder(transport, domain.UserProfile{Pseudonym: "Sam"}), "analyze", "--mode", "serre", "--media", chat)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Lance-toi.")
	assert.Contains(t, stdout, "Action suggérée: Envoie: on se voit jeudi ?")
	assert.Contains(t, stdout, "Jardin: soleil, tournesol")

	require.Len(t, transport.requests, 1)
	parts := transport.requests[0].Parts
	require.Len(t, parts, 2)
	assert.Equal(t, "image/png", parts[1].MIMEType)

	_, _, err = run(t, testBuilder(transport, domain.UserProfile{Pseudonym: "Sam"}), "analyze", "--mode", "jardin", "--media", chat)
	assert.Error(t, err)
	_, _, err = run(t, testBuilder(transport, domain.UserProfile{Pseudonym: "Sam"}), "analyze")
	assert.ErrorIs(t, err, usecase.ErrNoEvidence)
}

func TestFollowUpCommandReportsThrottling(t *testing.T) {
	transport := &scriptedTransport{err: analysis.ErrRateLimited}

	_, _, err := run(t, testBuilder(transport, domain.UserProfile{Pseudonym: "Sam"}), "followup", "--advice", "Respire.", "--text", "non")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrThrottled)
	assert.Contains(t, err.Error(), "Trop de demandes. Pause café requise.")

	_, _, err = run(t, testBuilder(transport, domain.UserProfile{Pseudonym: "Sam"}), "followup", "--advice", "Respire.")
	assert.ErrorIs(t, err, usecase.ErrEmptyFollowUp)
}

func TestSessionCommandRunsFullFlow(t *testing.T) {
	transport := &scriptedTransport{replies: []string{growthCheckIn, firstAdvice, secondAdvice}}
	voice := writeFile(t, "voice.webm", []byte("voice"))
	chat := writeFile(t, "chat.png", pngHeader)

	stdout, stderr, err := run(t, testBuilder(transport, domain.UserProfile{Pseudonym: "Sam"}),
		"session", "--checkin", voice, "--media", chat, "--followup", "J'ai peur", "-o", "json")
	require.NoError(t, err)

	assert.Contains(t, stderr, "Mode: serre (enthousiaste)")
	assert.Contains(t, stderr, "Mission: ")

	var result domain.AnalysisResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.Equal(t, "Commence petit.", result.AdvisoryText)
	assert.Equal(t, domain.WeatherClouds, result.Garden.Weather)
	assert.Len(t, transport.requests, 3)
}

func TestSessionCommandStopsOnCheckInFailure(t *testing.T) {
	transport := &scriptedTransport{replies: []string{`{"mode":"jardin"}`}}
	voice := writeFile(t, "voice.webm", []byte("voice"))
	chat := writeFile(t, "chat.png", pngHeader)

	_, _, err := run(t, testBuilder(transport, domain.UserProfile{Pseudonym: "Sam"}), "session", "--checkin", voice, "--media", chat)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMalformedReply)
	assert.Len(t, transport.requests, 1)

	_, _, err = run(t, testBuilder(transport, domain.UserProfile{Pseudonym: "Sam"}), "session", "--media", chat)
	assert.Error(t, err)
}

func TestSessionRecordWithoutMicrophone(t *testing.T) {
	transport := &scriptedTransport{}
	chat := writeFile(t, "chat.png", pngHeader)

	_, _, err := run(t, testBuilder(transport, domain.UserProfile{Pseudonym: "Sam"}), "session", "--record", "1s", "--media", chat)
	assert.ErrorIs(t, err, domain.ErrUnsupportedCapability)
}
