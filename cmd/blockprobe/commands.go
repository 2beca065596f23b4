package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/torosent/blockprobe/internal/fetcher"
	"github.com/torosent/blockprobe/internal/httpclient"
	"github.com/torosent/blockprobe/internal/ledger"
	"github.com/torosent/blockprobe/internal/metrics"
	"github.com/torosent/blockprobe/internal/output"
	"github.com/torosent/blockprobe/internal/probe"
	"github.com/torosent/blockprobe/internal/runner"
	"github.com/torosent/blockprobe/internal/threshold"
	"github.com/torosent/blockprobe/internal/unit"
)

const progressInterval = time.Second

func (a *app) probeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Find the largest payload size and batch count the target accepts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := a.setup(cmd)
			if err != nil {
				return err
			}
			defer s.close(ctx)

			oracle, closeOracle, err := newOracle(s.cfg, s.tracer.ShouldPropagate(), s.logger)
			if err != nil {
				return err
			}
			defer closeOracle()

			res, probeErr := runProbe(ctx, s, oracle)
			doc := output.ProbeDocument{Target: string(s.cfg.Target), Result: res}
			if probeErr != nil {
				doc.Error = probeErr.Error()
			}
			if err := a.emit(ctx, s, func(w io.Writer) error {
				if s.format == output.FormatText {
					output.PrintProbeResult(w, res, probeErr)
					return nil
				}
				return output.Encode(w, s.format, doc)
			}); err != nil {
				return err
			}
			if probeErr != nil {
				return fmt.Errorf("probe: %w", probeErr)
			}
			return nil
		},
	}
}

func runProbe(ctx context.Context, s *session, oracle ledger.Submitter) (probe.Result, error) {
	p, err := probe.New(oracle, probeOptions(s.cfg, newFactory(s.cfg, s.runID), s.logger))
	if err != nil {
		return probe.Result{}, err
	}
	res, err := p.Run(ctx)
	if err != nil {
		s.logger.Error().Err(err).Int("attempts", res.Attempts).Msg("probe failed")
		return res, err
	}
	s.logger.Info().Int("size", res.Size).Int("count", res.Count).Int("attempts", res.Attempts).Msg("probe finished")
	return res, nil
}

func (a *app) runCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Submit units concurrently and track their inclusion",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := a.setup(cmd)
			if err != nil {
				return err
			}
			defer s.close(ctx)

			oracle, closeOracle, err := newOracle(s.cfg, s.tracer.ShouldPropagate(), s.logger)
			if err != nil {
				return err
			}
			defer closeOracle()

			size, count := s.cfg.Submit.Size, s.cfg.Submit.Count
			if s.cfg.Submit.Calibrate {
				res, err := runProbe(ctx, s, oracle)
				if err != nil {
					return fmt.Errorf("calibrate: %w", err)
				}
				size, count = res.Size, res.Count
			}

			collector := metrics.NewCollector()
			observer := runner.Observers(collector, outcomeLogger{logger: s.logger})

			stopProgress := func() {}
			if s.cfg.Output.Progress {
				progress := output.NewProgressReporter(collector, progressInterval, a.stderr)
				progress.Start()
				stopProgress = progress.Stop
				defer stopProgress()
			}

			s.logger.Info().
				Int("units", s.cfg.Submit.Units).
				Int("size", size).
				Int("count", count).
				Int("concurrency", s.cfg.Submit.Concurrency).
				Msg("run started")

			opts := runOptions(s.cfg, newFactory(s.cfg, s.runID), observer, s)
			if err := opts.Validate(); err != nil {
				return err
			}
			specs := unit.Sequence(s.cfg.Submit.Units, size, count)
			collector.Start()
			outcomes := runner.NewPipeline(oracle).Run(ctx, specs, opts)
			stopProgress()

			report := metrics.Aggregate(outcomes)
			report.RunID = s.runID
			results := threshold.NewEvaluator(s.thresholds).Evaluate(report)
			passed := threshold.AllPassed(results)

			doc := output.RunDocument{
				Target:     string(s.cfg.Target),
				Report:     report,
				Thresholds: results,
				Passed:     passed,
			}
			if err := a.emit(ctx, s, func(w io.Writer) error {
				if s.format == output.FormatText {
					output.PrintReport(w, report, results)
					return nil
				}
				return output.Encode(w, s.format, doc)
			}); err != nil {
				return err
			}

			if err := ctx.Err(); err != nil && isCancelled(err) {
				return fmt.Errorf("run interrupted: %w", err)
			}
			if !passed {
				failed := 0
				for _, r := range results {
					if !r.Pass {
						failed++
					}
				}
				return fmt.Errorf("%d of %d thresholds failed", failed, len(results))
			}
			return nil
		},
	}
}

func (a *app) tpsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tps [protocol...]",
		Short: "Sample observed throughput from public explorers",
		Long: `tps fetches recent blocks from the explorers of espresso, celestia, avail
and near and reports transactions per second over that window. Protocols
given as arguments take precedence over --protocols.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.setup(cmd)
			if err != nil {
				return err
			}
			defer s.close(ctx)

			names := s.cfg.TPS.Protocols
			if len(args) > 0 {
				names = args
			}
			client := httpclient.NewClient(s.cfg.TPS.Timeout)
			registry := fetcher.Default(client, fetcher.DefaultEndpoints(), s.logger)
			snap, err := registry.Collect(ctx, names)
			if err != nil {
				return err
			}
			return a.emit(ctx, s, func(w io.Writer) error {
				if s.format == output.FormatText {
					output.PrintSnapshot(w, snap)
					return nil
				}
				return output.Encode(w, s.format, snap)
			})
		},
	}
}
