package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"blueberry-voice/audio_device"
	"blueberry-voice/config"
	"blueberry-voice/logging"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var configFile string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "blueberry",
		Short:         "Wake-word voice assistant for a microphone array",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runCmd,
	}

	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default ./blueberry.yaml or /etc/blueberry/blueberry.yaml)")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Listen for the wake word and handle commands",
			RunE:  runCmd,
		},
		&cobra.Command{
			Use:   "devices",
			Short: "List audio input devices",
			RunE:  devicesCmd,
		},
		&cobra.Command{
			Use:   "calibrate",
			Short: "Measure the silence level of the microphones",
			RunE:  calibrateCmd,
		},
		&cobra.Command{
			Use:   "transcribe <file.wav>",
			Short: "Beamform and transcribe a recorded utterance and show the command it matches",
			Args:  cobra.ExactArgs(1),
			RunE:  transcribeCmd,
		},
	)

	return root
}

func setup() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(afero.NewOsFs(), configFile)
	if err != nil {
		return nil, zerolog.Nop(), err
	}

	logger, err := logging.New(&logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		return nil, zerolog.Nop(), err
	}

	return cfg, logger, nil
}

func runCmd(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}

	err = run(cmd.Context(), cfg, logger)

	var devErr *audio_device.DeviceError
	switch {
	case errors.As(err, &devErr):
		logger.Error().Err(err).Msg("no usable sound card")
	case err != nil:
		logger.Error().Err(err).Msg("assistant stopped")
	default:
		logger.Info().Msg("good bye")
	}

	return err
}

func devicesCmd(cmd *cobra.Command, _ []string) error {
	devices, err := audio_device.Devices()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}

	out := cmd.OutOrStdout()
	for _, d := range devices {
		fmt.Fprintf(out, "%3d  %-40s  %d ch  %.0f Hz\n", d.Index, d.Name, d.MaxInputChannels, d.DefaultSampleRate)
	}

	return nil
}

func calibrateCmd(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}

	level, err := calibrate(cmd.Context(), cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("calibration failed")
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "silence level %.1f, recording stops at or below %.1f\n", level, level+cfg.Silence.Margin)

	return nil
}

func transcribeCmd(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}

	res, err := transcribeFile(cmd.Context(), afero.NewOsFs(), args[0], cfg, logger)
	if err != nil {
		logger.Error().Err(err).Str("file", args[0]).Msg("transcription failed")
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "lags:     %v\n", res.Lags)
	fmt.Fprintf(out, "text:     %q\n", res.Text)
	fmt.Fprintf(out, "command:  %s\n", orNone(res.Command))
	fmt.Fprintf(out, "activity: %s\n", orNone(res.Activity))

	return nil
}

func orNone(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
