package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"socialgarden/internal/domain"
	"socialgarden/internal/mission"
	"socialgarden/internal/usecase"
)

type rootOptions struct {
	output    string
	pseudonym string
}

func newRootCmd(build runtimeBuilder) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "gardenctl",
		Short: "Headless social garden sessions",
		Long: `Run social garden check-ins and analyses from the terminal.

Media is read from files (the MIME type is sniffed unless given) or, for the
check-in, recorded from the configured microphone.

Examples:
  gardenctl checkin voice.webm
  gardenctl analyze --mode clinique --media chat.png --audio note.webm
  gardenctl session --record 5s --media chat.png --followup "Ça ne marche pas"
  gardenctl missions -n 3`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch opts.output {
			case "text", "json", "yaml":
				return nil
			default:
				return fmt.Errorf("unknown output format %q (text, json, yaml)", opts.output)
			}
		},
	}
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", "text", "Output format: text, json or yaml")
	root.PersistentFlags().StringVar(&opts.pseudonym, "pseudonym", "", "Profile pseudonym for this run (overrides config)")

	root.AddCommand(
		newCheckInCmd(build, opts),
		newAnalyzeCmd(build, opts),
		newFollowUpCmd(build, opts),
		newSessionCmd(build, opts),
		newMissionsCmd(opts),
	)
	return root
}

// open builds the runtime and applies the pseudonym override.
func open(ctx context.Context, build runtimeBuilder, opts *rootOptions) (*runtimeDeps, domain.UserProfile, error) {
	deps, err := build(ctx)
	if err != nil {
		return nil, domain.UserProfile{}, err
	}
	current := deps.controller.Profile()
	if opts.pseudonym != "" {
		current.Pseudonym = opts.pseudonym
		current = deps.controller.UpdateProfile(current)
	}
	if !current.Configured() {
		deps.close()
		return nil, domain.UserProfile{}, fmt.Errorf("%w: pass --pseudonym or set profile.pseudonym in the config file", usecase.ErrProfileNotConfigured)
	}
	return deps, current, nil
}

func newCheckInCmd(build runtimeBuilder, opts *rootOptions) *cobra.Command {
	var mimeType string
	cmd := &cobra.Command{
		Use:   "checkin <audio-file>",
		Short: "Classify a voice check-in into a session mode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			clip, err := readMedia(args[0], mimeType)
			if err != nil {
				return err
			}
			deps, _, err := open(cmd.Context(), build, opts)
			if err != nil {
				return err
			}
			defer deps.close()

			checkIn, err := deps.analyzer.ClassifyCheckIn(cmd.Context(), clip)
			if err != nil {
				return userError(err)
			}
			return render(cmd.OutOrStdout(), opts.output, checkIn, func(w io.Writer) {
				fmt.Fprintf(w, "Mode: %s\n", modeLabel(checkIn.Mode))
				fmt.Fprintf(w, "Sentiment: %s\n", checkIn.Sentiment)
			})
		},
	}
	cmd.Flags().StringVar(&mimeType, "mime", "", "MIME type of the audio file")
	return cmd
}

func newAnalyzeCmd(build runtimeBuilder, opts *rootOptions) *cobra.Command {
	var (
		modeName  string
		mediaPath string
		audioPath string
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze evidence (screenshot, recording and/or audio note)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, ok := domain.ParseMode(modeName)
			if !ok {
				return fmt.Errorf("unknown mode %q (clinique, serre)", modeName)
			}
			if mediaPath == "" && audioPath == "" {
				return usecase.ErrNoEvidence
			}
			media, audioNote, err := readEvidence(mediaPath, audioPath)
			if err != nil {
				return err
			}
			deps, current, err := open(cmd.Context(), build, opts)
			if err != nil {
				return err
			}
			defer deps.close()

			result, err := deps.analyzer.AnalyzeEvidence(cmd.Context(), mode, media, audioNote, current)
			if err != nil {
				return userError(err)
			}
			return renderResult(cmd.OutOrStdout(), opts.output, result)
		},
	}
	cmd.Flags().StringVar(&modeName, "mode", string(domain.ModeTherapeutic), "Session mode: clinique or serre")
	cmd.Flags().StringVar(&mediaPath, "media", "", "Image or video evidence")
	cmd.Flags().StringVar(&audioPath, "audio", "", "Audio note")
	return cmd
}

func newFollowUpCmd(build runtimeBuilder, opts *rootOptions) *cobra.Command {
	var (
		advice    string
		reaction  string
		audioPath string
	)
	cmd := &cobra.Command{
		Use:   "followup",
		Short: "Continue the conversation about a previous advice",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(advice) == "" {
				return errors.New("--advice is required")
			}
			if strings.TrimSpace(reaction) == "" && audioPath == "" {
				return usecase.ErrEmptyFollowUp
			}
			var audioNote *domain.Media
			if audioPath != "" {
				clip, err := readMedia(audioPath, "")
				if err != nil {
					return err
				}
				audioNote = &clip
			}
			deps, current, err := open(cmd.Context(), build, opts)
			if err != nil {
				return err
			}
			defer deps.close()

			result, err := deps.analyzer.AnalyzeFollowUp(cmd.Context(), advice, reaction, audioNote, current)
			if err != nil {
				return userError(err)
			}
			return renderResult(cmd.OutOrStdout(), opts.output, result)
		},
	}
	cmd.Flags().StringVar(&advice, "advice", "", "The advice being discussed")
	cmd.Flags().StringVar(&reaction, "text", "", "Your reaction")
	cmd.Flags().StringVar(&audioPath, "audio", "", "Spoken reaction")
	return cmd
}

func newSessionCmd(build runtimeBuilder, opts *rootOptions) *cobra.Command {
	var (
		checkInPath string
		record      time.Duration
		mediaPath   string
		audioPath   string
		followUp    string
	)
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Run a full session: check-in, evidence, result and optional follow-up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if checkInPath == "" && record <= 0 {
				return errors.New("either --checkin or --record is required")
			}
			if mediaPath == "" && audioPath == "" {
				return usecase.ErrNoEvidence
			}
			media, audioNote, err := readEvidence(mediaPath, audioPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			deps, _, err := open(ctx, build, opts)
			if err != nil {
				return err
			}
			defer deps.close()
			controller := deps.controller
			out := cmd.ErrOrStderr()

			if checkInPath != "" {
				clip, err := readMedia(checkInPath, "")
				if err != nil {
					return err
				}
				if err := controller.SubmitCheckIn(ctx, clip); err != nil {
					return userError(err)
				}
			} else if err := recordCheckIn(ctx, deps, record, out); err != nil {
				return err
			}

			status := controller.Status()
			if status.Phase != domain.PhaseAwaitingEvidence {
				return sessionError(status, "check-in did not select a mode")
			}
			fmt.Fprintf(out, "Mode: %s (%s)\n", modeLabel(status.Mode), status.Sentiment)
			if status.Mode == domain.ModeGrowth {
				drawn, err := controller.GenerateMission()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Mission: %s\n", drawn)
			}

			if media != nil {
				if err := controller.StageUpload(*media); err != nil {
					return err
				}
			}
			if audioNote != nil {
				if err := controller.StageAudio(*audioNote); err != nil {
					return err
				}
			}
			if err := controller.SubmitEvidence(ctx); err != nil {
				return userError(err)
			}

			if strings.TrimSpace(followUp) != "" {
				if err := controller.SetFollowUpText(followUp); err != nil {
					return err
				}
				if err := controller.SubmitFollowUp(ctx); err != nil {
					return userError(err)
				}
			}

			status = controller.Status()
			if status.Result == nil {
				return sessionError(status, "no result")
			}
			return renderResult(cmd.OutOrStdout(), opts.output, *status.Result)
		},
	}
	cmd.Flags().StringVar(&checkInPath, "checkin", "", "Check-in audio file")
	cmd.Flags().DurationVar(&record, "record", 0, "Record the check-in from the microphone for this long instead")
	cmd.Flags().StringVar(&mediaPath, "media", "", "Image or video evidence")
	cmd.Flags().StringVar(&audioPath, "audio", "", "Audio note")
	cmd.Flags().StringVar(&followUp, "followup", "", "Follow-up reaction sent after the first result")
	return cmd
}

func newMissionsCmd(opts *rootOptions) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "missions",
		Short: "Draw social missions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count <= 0 {
				return fmt.Errorf("count must be positive, got %d", count)
			}
			generator := mission.NewGenerator(nil)
			drawn := make([]string, 0, count)
			for i := 0; i < count; i++ {
				drawn = append(drawn, generator.Next())
			}
			return render(cmd.OutOrStdout(), opts.output, drawn, func(w io.Writer) {
				for _, m := range drawn {
					fmt.Fprintf(w, "- %s\n", m)
				}
			})
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of missions")
	return cmd
}

// recordCheckIn toggles the check-in unit around a fixed duration. The clip
// is submitted to the controller when the second toggle finishes it.
func recordCheckIn(ctx context.Context, deps *runtimeDeps, d time.Duration, out io.Writer) error {
	if deps.checkIn == nil {
		return fmt.Errorf("%w: microphone recording", domain.ErrUnsupportedCapability)
	}
	if err := deps.checkIn.Toggle(ctx); err != nil {
		return userError(err)
	}
	fmt.Fprintf(out, "Recording check-in for %s...\n", d)

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
	// A cancelled ctx still needs the toggle to release the microphone.
	if err := deps.checkIn.Toggle(context.WithoutCancel(ctx)); err != nil {
		return userError(err)
	}
	return ctx.Err()
}

func readEvidence(mediaPath string, audioPath string) (*domain.Media, *domain.Media, error) {
	var media, audioNote *domain.Media
	if mediaPath != "" {
		m, err := readMedia(mediaPath, "")
		if err != nil {
			return nil, nil, err
		}
		media = &m
	}
	if audioPath != "" {
		a, err := readMedia(audioPath, "")
		if err != nil {
			return nil, nil, err
		}
		audioNote = &a
	}
	return media, audioNote, nil
}

func renderResult(w io.Writer, format string, result domain.AnalysisResult) error {
	return render(w, format, result, func(w io.Writer) {
		fmt.Fprintf(w, "Mode: %s\n", modeLabel(result.ActiveMode))
		fmt.Fprintf(w, "Émotions: %s\n", result.EmotionAnalysis)
		fmt.Fprintf(w, "\n%s\n", result.AdvisoryText)
		if result.SuggestedAction != "" {
			fmt.Fprintf(w, "\nAction suggérée: %s\n", result.SuggestedAction)
		}
		fmt.Fprintf(w, "\nJardin: %s", result.Garden.Weather)
		if len(result.Garden.Plants) > 0 {
			fmt.Fprintf(w, ", %s", strings.Join(result.Garden.Plants, ", "))
		}
		if result.Garden.ConflictComposted {
			fmt.Fprint(w, " (conflit composté)")
		}
		fmt.Fprintln(w)
		if len(result.DetectedTraits) > 0 {
			fmt.Fprintf(w, "Traits détectés: %s\n", strings.Join(result.DetectedTraits, ", "))
		}
	})
}

func render(w io.Writer, format string, value any, text func(io.Writer)) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(value)
	case "yaml":
		// Round-trip through JSON so YAML keys follow the json tags.
		raw, err := json.Marshal(value)
		if err != nil {
			return err
		}
		var generic any
		if err := yaml.Unmarshal(raw, &generic); err != nil {
			return err
		}
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(generic); err != nil {
			return err
		}
		return encoder.Close()
	default:
		text(w)
		return nil
	}
}

func modeLabel(mode domain.Mode) string {
	switch mode {
	case domain.ModeTherapeutic:
		return "clinique"
	case domain.ModeGrowth:
		return "serre"
	default:
		return "inconnu"
	}
}

// userError keeps the cause for errors.Is but leads with the display text.
func userError(err error) error {
	message := domain.UserMessage(err)
	if message == err.Error() {
		return err
	}
	return fmt.Errorf("%s: %w", message, err)
}

func sessionError(status domain.Status, fallback string) error {
	if status.Error != "" {
		return errors.New(status.Error)
	}
	return errors.New(fallback)
}
