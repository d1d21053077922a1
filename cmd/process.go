package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/penf-meetings/pkg/logging"
)

// meetingCreator is implemented by stores that can insert a queued meeting.
type meetingCreator interface {
	Create(ctx context.Context, id, audioURL string) error
}

// NewProcessCommand creates the 'process' command.
func NewProcessCommand(deps *CommandDeps) *cobra.Command {
	var (
		pushToken string
		create    bool
	)

	cmd := &cobra.Command{
		Use:   "process <meeting-id> <audio-url>",
		Short: "Run the meeting pipeline once",
		Long: `Run the meeting pipeline for one recording and print the result.

The meeting record must already exist unless --create is given. The result
is printed as JSON; the command exits non-zero when the meeting ends in
processing_failed.`,
		Example: `  penf-meetings process 3f2a... https://cdn.example.com/rec.m4a
  penf-meetings process 3f2a... https://cdn.example.com/rec.m4a --create --push-token 'ExponentPushToken[...]'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcess(cmd.Context(), deps, args[0], args[1], pushToken, create)
		},
	}

	cmd.Flags().StringVar(&pushToken, "push-token", "", "Expo push token to notify when ready")
	cmd.Flags().BoolVar(&create, "create", false, "Create the meeting record first")

	return cmd
}

func runProcess(ctx context.Context, deps *CommandDeps, meetingID, audioURL, pushToken string, create bool) error {
	app, err := loadApp(ctx, deps)
	if err != nil {
		return err
	}
	defer app.Close()

	if create {
		creator, ok := app.Store.(meetingCreator)
		if !ok {
			return fmt.Errorf("store does not support creating meetings")
		}
		if err := creator.Create(ctx, meetingID, audioURL); err != nil {
			return fmt.Errorf("creating meeting: %w", err)
		}
	}

	result := app.Pipeline.Process(ctx, meetingID, audioURL, pushToken)
	if err := writeJSON(deps, result); err != nil {
		return err
	}
	if !result.OK {
		return fmt.Errorf("meeting %s failed: %s", meetingID, result.Error)
	}
	return nil
}

// NewDiarizeCommand creates the 'diarize' command.
func NewDiarizeCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "diarize <meeting-id>",
		Short: "Speaker-label a stored transcript",
		Long: `Produce the speaker-labelled transcript for a meeting that has been
processed. A stored diarization is returned without calling the model.`,
		Example: `  penf-meetings diarize 3f2a...`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiarize(cmd.Context(), deps, args[0])
		},
	}
}

func runDiarize(ctx context.Context, deps *CommandDeps, meetingID string) error {
	app, err := loadApp(ctx, deps)
	if err != nil {
		return err
	}
	defer app.Close()

	result, err := app.Diarizer.Diarize(ctx, meetingID)
	if err != nil {
		return err
	}
	return writeJSON(deps, result)
}

func loadApp(ctx context.Context, deps *CommandDeps) (*App, error) {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	logger := NewLogger(cfg)
	logging.SetGlobal(logger)
	return deps.BuildApp(ctx, cfg, logger)
}

func writeJSON(deps *CommandDeps, v any) error {
	enc := json.NewEncoder(deps.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
