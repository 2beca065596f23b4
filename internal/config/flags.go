package config

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags as persistent flags of cmd so every
// subcommand shares them.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.PersistentFlags())
}

// configureFlags sets up all CLI flags on the provided flag set. Defaults
// shown here are informational; values only override the configuration when
// a flag is set explicitly.
func configureFlags(flags *pflag.FlagSet) {
	d := Default()

	flags.String("config", "", "Path to configuration file (YAML, JSON or TOML)")
	flags.String("target", string(d.Target), "Ledger adapter: 'simulated', 'httpjson' or 'tendermint'")
	flags.String("run-prefix", "", "Fixed prefix for every payload (defaults to a fresh ULID per run)")

	// Probe flags
	flags.Int("start-size", d.Probe.StartSize, "Probe: payload bytes tried first")
	flags.Int("min-size", d.Probe.MinSize, "Probe: payload floor in bytes")
	flags.Int("start-count", d.Probe.StartCount, "Probe: calls per batch tried first")
	flags.Int("min-count", d.Probe.MinCount, "Probe: count floor for the halving search")
	flags.Int("max-count", d.Probe.MaxCount, "Probe: count ceiling for greedy growth")
	flags.Float64("growth-factor", d.Probe.GrowthFactor, "Probe: growth step after an accepted count")
	flags.Int("shrink-divisor", d.Probe.ShrinkDivisor, "Probe: payload shrink divisor")
	flags.Duration("attempt-timeout", d.Probe.AttemptTimeout, "Probe: bound on each submit attempt")

	// Submit flags
	flags.IntP("units", "n", d.Submit.Units, "Number of units to submit")
	flags.Int("size", d.Submit.Size, "Payload bytes per unit")
	flags.Int("count", d.Submit.Count, "Calls per unit")
	flags.Bool("calibrate", false, "Run the capacity probe first and submit units at the size it finds")
	flags.IntP("concurrency", "c", d.Submit.Concurrency, "Max submits in flight")
	flags.Duration("timeout", d.Submit.Timeout, "Per-unit submit timeout covering all retries")
	flags.Int("retries", d.Submit.Retries, "Retries for rate-limited and transient rejections")
	flags.Duration("backoff-base", d.Submit.BackoffBase, "First retry delay; doubles per retry")
	flags.Duration("max-backoff", d.Submit.MaxBackoff, "Cap on the retry delay")
	flags.Float64P("rate", "r", 0, "Submits per second (0 means unlimited)")
	flags.String("arrival-model", string(ArrivalModelUniform), "Arrival model used when pacing submits (uniform or poisson)")

	// Track flags
	flags.Int("poll-concurrency", 0, "Max polls in flight (0 means same as --concurrency)")
	flags.Duration("poll-interval", d.Track.PollInterval, "Wait between polls of one handle")
	flags.Duration("poll-timeout", d.Track.Timeout, "Per-handle inclusion timeout")
	flags.Duration("deadline", d.Track.Deadline, "Overall tracking deadline")

	// Adapter flags
	flags.String("submit-url", "", "httpjson: submit endpoint")
	flags.String("status-url", "", "httpjson: status endpoint template containing {hash}")
	flags.Int64("namespace", 0, "httpjson: namespace id sent with every payload")
	flags.StringSliceP("header", "H", nil, "httpjson/tendermint: request header in key=value form (repeatable)")
	flags.String("auth-type", "", "httpjson: 'bearer' or 'oauth2_client_credentials'")
	flags.String("auth-token", "", "httpjson: static bearer token")
	flags.String("auth-token-url", "", "httpjson: OAuth2 token endpoint")
	flags.String("auth-client-id", "", "httpjson: OAuth2 client id")
	flags.String("auth-client-secret", "", "httpjson: OAuth2 client secret")
	flags.StringSlice("auth-scopes", nil, "httpjson: OAuth2 scopes")
	flags.String("rpc-url", "", "tendermint: websocket endpoint, e.g. ws://localhost:26657/websocket")
	flags.Int("sim-max-bytes", d.Simulated.MaxBytes, "simulated: largest accepted payload")
	flags.Int("sim-max-count", d.Simulated.MaxCount, "simulated: largest accepted batch")
	flags.Duration("sim-block-interval", d.Simulated.BlockInterval, "simulated: time between blocks")
	flags.Int("sim-block-capacity", d.Simulated.BlockCapacity, "simulated: units per block")
	flags.Int("sim-drop-every", 0, "simulated: drop every Nth accepted unit")
	flags.Int("sim-rate-limit-every", 0, "simulated: rate limit every Nth submit")
	flags.Int64("sim-seed", 0, "simulated: seed for handle ids")

	// TPS flags
	flags.StringSlice("protocols", nil, "tps: protocols to fetch (default all)")

	// Output flags
	flags.StringP("output", "o", d.Output.Format, "Output format: text, json or yaml")
	flags.String("output-file", "", "Also write the report to this file")
	flags.Bool("progress", false, "Show a live progress line on stderr")
	flags.String("log-level", d.Log.Level, "Log level: debug, info, warn, error")
	flags.String("log-format", d.Log.Format, "Log format: console or json")

	// Tracing flags
	flags.String("tracing-endpoint", "", "OTLP collector endpoint (enables tracing)")
	flags.String("tracing-protocol", d.Tracing.Protocol, "OTLP protocol: grpc or http")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")
	flags.Float64("tracing-sample-rate", d.Tracing.SampleRate, "Trace sample rate between 0.0 and 1.0")
	flags.String("tracing-service-name", "", "Service name reported on spans")

	// Threshold flags
	flags.StringSlice("threshold", nil, "Pass/fail thresholds (repeatable, e.g., 'inclusion_latency:p99 < 30000')")
}

// applyFlagOverrides applies command-line flag values to the config,
// overriding values from the config file and environment.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	var err error
	str := func(name string, dst *string) {
		if err == nil && fs.Changed(name) {
			var v string
			if v, err = fs.GetString(name); err == nil {
				*dst = strings.TrimSpace(v)
			}
		}
	}
	integer := func(name string, dst *int) {
		if err == nil && fs.Changed(name) {
			*dst, err = fs.GetInt(name)
		}
	}
	integer64 := func(name string, dst *int64) {
		if err == nil && fs.Changed(name) {
			*dst, err = fs.GetInt64(name)
		}
	}
	float := func(name string, dst *float64) {
		if err == nil && fs.Changed(name) {
			*dst, err = fs.GetFloat64(name)
		}
	}
	boolean := func(name string, dst *bool) {
		if err == nil && fs.Changed(name) {
			*dst, err = fs.GetBool(name)
		}
	}
	duration := func(name string, dst *time.Duration) {
		if err == nil && fs.Changed(name) {
			*dst, err = fs.GetDuration(name)
		}
	}
	slice := func(name string, dst *[]string) {
		if err == nil && fs.Changed(name) {
			*dst, err = fs.GetStringSlice(name)
		}
	}

	var target, arrival string
	str("target", &target)
	if target != "" {
		cfg.Target = Target(strings.ToLower(target))
	}
	str("run-prefix", &cfg.RunPrefix)

	integer("start-size", &cfg.Probe.StartSize)
	integer("min-size", &cfg.Probe.MinSize)
	integer("start-count", &cfg.Probe.StartCount)
	integer("min-count", &cfg.Probe.MinCount)
	integer("max-count", &cfg.Probe.MaxCount)
	float("growth-factor", &cfg.Probe.GrowthFactor)
	integer("shrink-divisor", &cfg.Probe.ShrinkDivisor)
	duration("attempt-timeout", &cfg.Probe.AttemptTimeout)

	integer("units", &cfg.Submit.Units)
	integer("size", &cfg.Submit.Size)
	integer("count", &cfg.Submit.Count)
	boolean("calibrate", &cfg.Submit.Calibrate)
	integer("concurrency", &cfg.Submit.Concurrency)
	duration("timeout", &cfg.Submit.Timeout)
	integer("retries", &cfg.Submit.Retries)
	duration("backoff-base", &cfg.Submit.BackoffBase)
	duration("max-backoff", &cfg.Submit.MaxBackoff)
	float("rate", &cfg.Submit.Rate)
	str("arrival-model", &arrival)
	if arrival != "" {
		cfg.Submit.ArrivalModel = ArrivalModel(strings.ToLower(arrival))
	}

	integer("poll-concurrency", &cfg.Track.Concurrency)
	duration("poll-interval", &cfg.Track.PollInterval)
	duration("poll-timeout", &cfg.Track.Timeout)
	duration("deadline", &cfg.Track.Deadline)

	str("submit-url", &cfg.HTTPJSON.SubmitURL)
	str("status-url", &cfg.HTTPJSON.StatusURL)
	integer64("namespace", &cfg.HTTPJSON.Namespace)
	var authType string
	str("auth-type", &authType)
	if authType != "" {
		cfg.HTTPJSON.Auth.Type = AuthType(strings.ToLower(authType))
	}
	str("auth-token", &cfg.HTTPJSON.Auth.Token)
	str("auth-token-url", &cfg.HTTPJSON.Auth.TokenURL)
	str("auth-client-id", &cfg.HTTPJSON.Auth.ClientID)
	str("auth-client-secret", &cfg.HTTPJSON.Auth.ClientSecret)
	slice("auth-scopes", &cfg.HTTPJSON.Auth.Scopes)
	str("rpc-url", &cfg.Tendermint.URL)

	integer("sim-max-bytes", &cfg.Simulated.MaxBytes)
	integer("sim-max-count", &cfg.Simulated.MaxCount)
	duration("sim-block-interval", &cfg.Simulated.BlockInterval)
	integer("sim-block-capacity", &cfg.Simulated.BlockCapacity)
	integer("sim-drop-every", &cfg.Simulated.DropEvery)
	integer("sim-rate-limit-every", &cfg.Simulated.RateLimitEvery)
	integer64("sim-seed", &cfg.Simulated.Seed)

	slice("protocols", &cfg.TPS.Protocols)

	str("output", &cfg.Output.Format)
	str("output-file", &cfg.Output.File)
	boolean("progress", &cfg.Output.Progress)
	str("log-level", &cfg.Log.Level)
	str("log-format", &cfg.Log.Format)

	str("tracing-endpoint", &cfg.Tracing.Endpoint)
	str("tracing-protocol", &cfg.Tracing.Protocol)
	boolean("tracing-insecure", &cfg.Tracing.Insecure)
	float("tracing-sample-rate", &cfg.Tracing.SampleRate)
	str("tracing-service-name", &cfg.Tracing.ServiceName)

	var thresholds []string
	slice("threshold", &thresholds)
	if len(thresholds) > 0 {
		cfg.Thresholds = append(cfg.Thresholds, thresholds...)
	}
	if err != nil {
		return err
	}

	if !fs.Changed("header") {
		return nil
	}
	vals, err := fs.GetStringSlice("header")
	if err != nil {
		return err
	}
	for _, entry := range vals {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("header must be in key=value format: %s", entry)
		}
		key := http.CanonicalHeaderKey(strings.TrimSpace(parts[0]))
		if key == "" {
			return fmt.Errorf("header key cannot be empty")
		}
		value := strings.TrimSpace(parts[1])
		cfg.HTTPJSON.Headers[key] = value
		cfg.Tendermint.Headers[key] = value
	}
	return nil
}
