package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/torosent/blockprobe/internal/auth"
	"github.com/torosent/blockprobe/internal/config"
	"github.com/torosent/blockprobe/internal/extractor"
	"github.com/torosent/blockprobe/internal/ledger"
	"github.com/torosent/blockprobe/internal/oracle/httpjson"
	"github.com/torosent/blockprobe/internal/oracle/simulated"
	"github.com/torosent/blockprobe/internal/oracle/tendermint"
	"github.com/torosent/blockprobe/internal/probe"
	"github.com/torosent/blockprobe/internal/runner"
	"github.com/torosent/blockprobe/internal/unit"
)

// newOracle builds the ledger adapter selected by cfg.Target. The returned
// close func releases adapter connections.
func newOracle(cfg *config.Config, propagate bool, logger zerolog.Logger) (ledger.Oracle, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Target {
	case config.TargetSimulated:
		sc := cfg.Simulated
		return simulated.New(simulated.Config{
			MaxBytes:       sc.MaxBytes,
			MaxCount:       sc.MaxCount,
			BlockInterval:  sc.BlockInterval,
			BlockCapacity:  sc.BlockCapacity,
			SubmitLatency:  sc.SubmitLatency,
			RateLimitEvery: sc.RateLimitEvery,
			DropEvery:      sc.DropEvery,
			Seed:           sc.Seed,
		}), noop, nil

	case config.TargetHTTPJSON:
		hc := cfg.HTTPJSON
		oc := httpjson.EspressoDefaults()
		oc.SubmitURL = hc.SubmitURL
		oc.StatusURL = hc.StatusURL
		oc.Namespace = hc.Namespace
		oc.Headers = hc.Headers
		oc.Propagate = propagate
		oc.Logger = logger
		if hc.Timeout > 0 {
			oc.Timeout = hc.Timeout
		}
		if len(hc.HashPaths) > 0 {
			oc.HashField = extractor.Field{Paths: hc.HashPaths}
		}
		if len(hc.HeightPaths) > 0 {
			oc.HeightField = extractor.Field{Paths: hc.HeightPaths}
		}
		if len(hc.ErrorPaths) > 0 {
			oc.ErrorField = extractor.Field{Paths: hc.ErrorPaths}
		}
		if len(hc.SizeLimitPatterns) > 0 {
			oc.SizeLimitPatterns = hc.SizeLimitPatterns
		}
		provider, err := newAuthProvider(hc.Auth)
		if err != nil {
			return nil, nil, err
		}
		closeAuth := noop
		if provider != nil {
			oc.Auth = provider
			closeAuth = provider.Close
		}
		o, err := httpjson.New(oc, nil)
		if err != nil {
			_ = closeAuth()
			return nil, nil, err
		}
		return o, closeAuth, nil

	case config.TargetTendermint:
		tc := cfg.Tendermint
		headers := make(http.Header, len(tc.Headers))
		for k, v := range tc.Headers {
			headers.Set(k, v)
		}
		o, err := tendermint.New(tendermint.Config{
			URL:              tc.URL,
			Headers:          headers,
			PoolSize:         tc.PoolSize,
			HandshakeTimeout: tc.HandshakeTimeout,
			ReadTimeout:      tc.ReadTimeout,
			Logger:           logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return o, o.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown target %q", cfg.Target)
	}
}

// newAuthProvider returns nil when requests go out unauthenticated.
func newAuthProvider(ac config.AuthConfig) (auth.Provider, error) {
	switch ac.Type {
	case config.AuthTypeNone:
		return nil, nil
	case config.AuthTypeBearer:
		return auth.NewStaticToken(ac.Token)
	case config.AuthTypeOAuth2:
		return auth.NewClientCredentials(auth.ClientCredentialsConfig{
			TokenURL:      ac.TokenURL,
			ClientID:      ac.ClientID,
			ClientSecret:  ac.ClientSecret,
			Scopes:        ac.Scopes,
			RefreshBefore: ac.RefreshBefore,
		}, nil)
	default:
		return nil, fmt.Errorf("unsupported auth type %q", ac.Type)
	}
}

// newFactory stamps every payload with the configured run prefix, or with
// the run id so repeated runs never resubmit identical bytes.
func newFactory(cfg *config.Config, runID string) unit.Factory {
	prefix := strings.TrimSpace(cfg.RunPrefix)
	if prefix == "" {
		prefix = runID
	}
	return unit.Factory{Prefix: []byte(prefix)}
}

func probeOptions(cfg *config.Config, factory unit.Factory, logger zerolog.Logger) probe.Options {
	pc := cfg.Probe
	byReason := probe.SizeLimitedByReason(pc.SizeLimitPatterns...)
	return probe.Options{
		StartSize:      pc.StartSize,
		MinSize:        pc.MinSize,
		StartCount:     pc.StartCount,
		MinCount:       pc.MinCount,
		MaxCount:       pc.MaxCount,
		GrowthFactor:   pc.GrowthFactor,
		ShrinkDivisor:  pc.ShrinkDivisor,
		AttemptTimeout: pc.AttemptTimeout,
		IsSizeLimited: func(r *ledger.Rejection) bool {
			return probe.SizeLimitedByClass(r) || byReason(r)
		},
		Factory: factory,
		Logger:  logger,
	}
}

func runOptions(cfg *config.Config, factory unit.Factory, observer runner.Observer, s *session) runner.RunOptions {
	sc, tc := cfg.Submit, cfg.Track
	pollConcurrency := tc.Concurrency
	if pollConcurrency == 0 {
		pollConcurrency = sc.Concurrency
	}
	tracer := s.tracer.Tracer()
	return runner.RunOptions{
		Submit: runner.SubmitOptions{
			Concurrency:    sc.Concurrency,
			PerUnitTimeout: sc.Timeout,
			Retry: runner.RetryPolicy{
				MaxRetries:  sc.Retries,
				BackoffBase: sc.BackoffBase,
				MaxBackoff:  sc.MaxBackoff,
			},
			RatePerSecond: sc.Rate,
			ArrivalModel:  toRunnerArrivalModel(sc.ArrivalModel),
			Factory:       factory,
			Observer:      observer,
			Tracer:        tracer,
			Logger:        s.logger,
		},
		Track: runner.TrackOptions{
			Concurrency:      pollConcurrency,
			PollInterval:     tc.PollInterval,
			PerHandleTimeout: tc.Timeout,
			OverallDeadline:  tc.Deadline,
			Observer:         observer,
			Tracer:           tracer,
			Logger:           s.logger,
		},
	}
}

func toRunnerArrivalModel(model config.ArrivalModel) runner.ArrivalModel {
	switch strings.ToLower(string(model)) {
	case string(config.ArrivalModelPoisson):
		return runner.ArrivalModelPoisson
	default:
		return runner.ArrivalModelUniform
	}
}

// outcomeLogger reports every unit that did not make it into a block.
type outcomeLogger struct {
	logger zerolog.Logger
}

func (l outcomeLogger) ObserveSubmit(e runner.SubmitEvent) {
	if e.Err != nil && e.Class.Retryable() {
		l.logger.Debug().Int("unit", e.Unit.ID).Int("attempt", e.Attempt).Err(e.Err).Msg("submit attempt failed")
	}
}

func (l outcomeLogger) ObservePoll(runner.PollEvent) {}

func (l outcomeLogger) ObserveOutcome(out ledger.Outcome) {
	switch out.Kind {
	case ledger.OutcomeRejected:
		l.logger.Warn().
			Int("unit", out.UnitID).
			Str("stage", string(out.Stage)).
			Str("reason", out.Reason).
			Msg("unit rejected")
	case ledger.OutcomeTimedOut:
		l.logger.Warn().Int("unit", out.UnitID).Str("handle", out.HandleID).Int("polls", out.Polls).Msg("unit timed out")
	}
}
