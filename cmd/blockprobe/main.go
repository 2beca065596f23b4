package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/torosent/blockprobe/internal/config"
	"github.com/torosent/blockprobe/internal/logging"
	"github.com/torosent/blockprobe/internal/output"
	"github.com/torosent/blockprobe/internal/threshold"
	"github.com/torosent/blockprobe/internal/tracing"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	root := newRootCommand(os.Stdout, os.Stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}
	root := &cobra.Command{
		Use:   "blockprobe",
		Short: "Probe the capacity and inclusion throughput of a ledger",
		Long: `blockprobe finds the largest unit a ledger accepts, submits a batch of
units and tracks their inclusion, or samples the throughput public
explorers report for well-known data-availability networks.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	config.RegisterFlags(root)
	root.AddCommand(a.probeCommand(), a.runCommand(), a.tpsCommand())
	return root
}

// app carries the writers shared by every subcommand.
type app struct {
	stdout io.Writer
	stderr io.Writer
}

// session is the state one subcommand invocation builds from its flags.
type session struct {
	cfg        *config.Config
	format     output.Format
	thresholds []threshold.Threshold
	logger     zerolog.Logger
	tracer     *tracing.Provider
	runID      string
}

func (a *app) setup(cmd *cobra.Command) (*session, error) {
	cfg, err := config.NewLoader().Load(cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return nil, fmt.Errorf("thresholds: %w", err)
	}
	format, err := output.ParseFormat(cfg.Output.Format)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: logging.Format(cfg.Log.Format),
		Writer: a.stderr,
	})
	if err != nil {
		return nil, err
	}
	tp, err := tracing.Init(cmd.Context(), cfg.Tracing, logger)
	if err != nil {
		return nil, err
	}

	s := &session{
		cfg:        cfg,
		format:     format,
		thresholds: thresholds,
		tracer:     tp,
		runID:      ulid.Make().String(),
	}
	s.logger = logger.With().Str("run_id", s.runID).Str("target", string(cfg.Target)).Logger()
	if cfg.ConfigFile != "" {
		s.logger.Debug().Str("path", cfg.ConfigFile).Msg("loaded config file")
	}
	return s, nil
}

func (s *session) close(ctx context.Context) {
	if err := s.tracer.Shutdown(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn().Err(err).Msg("tracing shutdown")
	}
}

// reportLockTimeout bounds the wait for the output file lock once the run
// itself has been interrupted.
const reportLockTimeout = 10 * time.Second

// emit renders a document to w and, when configured, to the output file.
// The file is written even after ctx is cancelled so an interrupted run
// still leaves its partial report behind.
func (a *app) emit(ctx context.Context, s *session, render func(io.Writer) error) error {
	if err := render(a.stdout); err != nil {
		return err
	}
	if s.cfg.Output.File == "" {
		return nil
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportLockTimeout)
	defer cancel()
	if err := output.WriteFile(writeCtx, s.cfg.Output.File, render); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	s.logger.Info().Str("path", s.cfg.Output.File).Msg("report written")
	return nil
}

func isCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
