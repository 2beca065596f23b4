package config

import (
	"fmt"
	"strings"
	"time"
)

type Target string

const (
	TargetSimulated  Target = "simulated"
	TargetHTTPJSON   Target = "httpjson"
	TargetTendermint Target = "tendermint"
)

type ArrivalModel string

const (
	ArrivalModelUniform ArrivalModel = "uniform"
	ArrivalModelPoisson ArrivalModel = "poisson"
)

type Config struct {
	Target     Target           `mapstructure:"target"`
	RunPrefix  string           `mapstructure:"run_prefix"`
	ConfigFile string           `mapstructure:"-"`
	Probe      ProbeConfig      `mapstructure:"probe"`
	Submit     SubmitConfig     `mapstructure:"submit"`
	Track      TrackConfig      `mapstructure:"track"`
	HTTPJSON   HTTPJSONConfig   `mapstructure:"httpjson"`
	Tendermint TendermintConfig `mapstructure:"tendermint"`
	Simulated  SimulatedConfig  `mapstructure:"simulated"`
	TPS        TPSConfig        `mapstructure:"tps"`
	Output     OutputConfig     `mapstructure:"output"`
	Log        LogConfig        `mapstructure:"log"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Thresholds []string         `mapstructure:"thresholds"`
}

type ProbeConfig struct {
	StartSize      int           `mapstructure:"start_size"`
	MinSize        int           `mapstructure:"min_size"`
	StartCount     int           `mapstructure:"start_count"`
	MinCount       int           `mapstructure:"min_count"`
	MaxCount       int           `mapstructure:"max_count"`
	GrowthFactor   float64       `mapstructure:"growth_factor"`
	ShrinkDivisor  int           `mapstructure:"shrink_divisor"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	// SizeLimitPatterns are reason fragments that mean "payload too large".
	SizeLimitPatterns []string `mapstructure:"size_limit_patterns"`
}

type SubmitConfig struct {
	Units        int           `mapstructure:"units"`
	Size         int           `mapstructure:"size"`
	Count        int           `mapstructure:"count"`
	Calibrate    bool          `mapstructure:"calibrate"` // run the probe first and submit at its result
	Concurrency  int           `mapstructure:"concurrency"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Retries      int           `mapstructure:"retries"`
	BackoffBase  time.Duration `mapstructure:"backoff_base"`
	MaxBackoff   time.Duration `mapstructure:"max_backoff"`
	Rate         float64       `mapstructure:"rate"`
	ArrivalModel ArrivalModel  `mapstructure:"arrival_model"`
}

type TrackConfig struct {
	Concurrency  int           `mapstructure:"concurrency"` // 0 means same as submit
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Deadline     time.Duration `mapstructure:"deadline"`
}

type HTTPJSONConfig struct {
	SubmitURL         string            `mapstructure:"submit_url"`
	StatusURL         string            `mapstructure:"status_url"`
	Namespace         int64             `mapstructure:"namespace"`
	Headers           map[string]string `mapstructure:"headers"`
	Timeout           time.Duration     `mapstructure:"timeout"`
	HashPaths         []string          `mapstructure:"hash_paths"`
	HeightPaths       []string          `mapstructure:"height_paths"`
	ErrorPaths        []string          `mapstructure:"error_paths"`
	SizeLimitPatterns []string          `mapstructure:"size_limit_patterns"`
	Auth              AuthConfig        `mapstructure:"auth"`
}

// AuthType selects how adapter requests are authorized.
type AuthType string

const (
	AuthTypeNone   AuthType = ""
	AuthTypeBearer AuthType = "bearer"
	AuthTypeOAuth2 AuthType = "oauth2_client_credentials"
)

type AuthConfig struct {
	Type          AuthType      `mapstructure:"type"`
	Token         string        `mapstructure:"token"`
	TokenURL      string        `mapstructure:"token_url"`
	ClientID      string        `mapstructure:"client_id"`
	ClientSecret  string        `mapstructure:"client_secret"`
	Scopes        []string      `mapstructure:"scopes"`
	RefreshBefore time.Duration `mapstructure:"refresh_before"`
}

type TendermintConfig struct {
	URL              string            `mapstructure:"url"`
	Headers          map[string]string `mapstructure:"headers"`
	PoolSize         int               `mapstructure:"pool_size"`
	HandshakeTimeout time.Duration     `mapstructure:"handshake_timeout"`
	ReadTimeout      time.Duration     `mapstructure:"read_timeout"`
}

type SimulatedConfig struct {
	MaxBytes       int           `mapstructure:"max_bytes"`
	MaxCount       int           `mapstructure:"max_count"`
	BlockInterval  time.Duration `mapstructure:"block_interval"`
	BlockCapacity  int           `mapstructure:"block_capacity"`
	SubmitLatency  time.Duration `mapstructure:"submit_latency"`
	RateLimitEvery int           `mapstructure:"rate_limit_every"`
	DropEvery      int           `mapstructure:"drop_every"`
	Seed           int64         `mapstructure:"seed"`
}

type TPSConfig struct {
	Protocols []string      `mapstructure:"protocols"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type OutputConfig struct {
	Format   string `mapstructure:"format"` // text, json or yaml
	File     string `mapstructure:"file"`
	Progress bool   `mapstructure:"progress"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // console or json
}

type TracingConfig struct {
	Enable             bool    `mapstructure:"enable"`
	Endpoint           string  `mapstructure:"endpoint"`
	Protocol           string  `mapstructure:"protocol"` // grpc or http
	Insecure           bool    `mapstructure:"insecure"`
	ServiceName        string  `mapstructure:"service_name"`
	SampleRate         float64 `mapstructure:"sample_rate"`
	DisablePropagation bool    `mapstructure:"disable_propagation"`
}

// Enabled reports whether spans should be exported.
func (t TracingConfig) Enabled() bool {
	return t.Enable || strings.TrimSpace(t.Endpoint) != ""
}

// ShouldPropagate reports whether W3C trace headers go out with requests.
func (t TracingConfig) ShouldPropagate() bool {
	return t.Enabled() && !t.DisablePropagation
}

// Default returns the configuration used before files, environment and
// flags are applied.
func Default() *Config {
	return &Config{
		Target: TargetSimulated,
		Probe: ProbeConfig{
			StartSize:         128 << 10,
			MinSize:           1 << 10,
			StartCount:        100,
			MinCount:          1,
			MaxCount:          1000,
			GrowthFactor:      1.1,
			ShrinkDivisor:     2,
			AttemptTimeout:    30 * time.Second,
			SizeLimitPatterns: []string{"too large"},
		},
		Submit: SubmitConfig{
			Units:        100,
			Size:         1 << 10,
			Count:        1,
			Concurrency:  10,
			Timeout:      time.Minute,
			Retries:      3,
			BackoffBase:  200 * time.Millisecond,
			MaxBackoff:   5 * time.Second,
			ArrivalModel: ArrivalModelUniform,
		},
		Track: TrackConfig{
			PollInterval: 2 * time.Second,
			Timeout:      2 * time.Minute,
			Deadline:     10 * time.Minute,
		},
		HTTPJSON: HTTPJSONConfig{
			Headers:           map[string]string{},
			Timeout:           30 * time.Second,
			SizeLimitPatterns: []string{"too large"},
		},
		Tendermint: TendermintConfig{
			Headers:          map[string]string{},
			PoolSize:         10,
			HandshakeTimeout: 10 * time.Second,
			ReadTimeout:      30 * time.Second,
		},
		Simulated: SimulatedConfig{
			MaxBytes:      64 << 10,
			MaxCount:      500,
			BlockInterval: time.Second,
			BlockCapacity: 200,
		},
		TPS:     TPSConfig{Timeout: 15 * time.Second},
		Output:  OutputConfig{Format: "text"},
		Log:     LogConfig{Level: "info", Format: "console"},
		Tracing: TracingConfig{Protocol: "grpc", SampleRate: 1.0},
	}
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	switch c.Target {
	case TargetSimulated, TargetHTTPJSON, TargetTendermint:
	default:
		issues = append(issues, fmt.Sprintf("target must be simulated, httpjson or tendermint (got %q)", c.Target))
	}

	issues = append(issues, validateProbe(c.Probe)...)
	issues = append(issues, validateSubmit(c.Submit)...)
	issues = append(issues, validateTrack(c.Track)...)

	if c.Target == TargetHTTPJSON {
		if strings.TrimSpace(c.HTTPJSON.SubmitURL) == "" {
			issues = append(issues, "httpjson.submit_url is required for the httpjson target")
		}
		if !strings.Contains(c.HTTPJSON.StatusURL, "{hash}") {
			issues = append(issues, "httpjson.status_url must contain {hash}")
		}
	}
	if c.HTTPJSON.Timeout < 0 {
		issues = append(issues, "httpjson.timeout must be >= 0")
	}
	issues = append(issues, validateAuth(c.HTTPJSON.Auth)...)

	if c.Target == TargetTendermint {
		u := strings.TrimSpace(c.Tendermint.URL)
		if !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
			issues = append(issues, "tendermint.url must be a ws:// or wss:// endpoint")
		}
	}
	if c.Tendermint.PoolSize < 0 {
		issues = append(issues, "tendermint.pool_size must be >= 0")
	}

	if c.Simulated.MaxBytes < 0 || c.Simulated.MaxCount < 0 || c.Simulated.BlockCapacity < 0 {
		issues = append(issues, "simulated limits must be >= 0")
	}
	if c.Simulated.BlockInterval < 0 || c.Simulated.SubmitLatency < 0 {
		issues = append(issues, "simulated durations must be >= 0")
	}

	if c.TPS.Timeout < 0 {
		issues = append(issues, "tps.timeout must be >= 0")
	}

	switch strings.ToLower(c.Output.Format) {
	case "", "text", "json", "yaml":
	default:
		issues = append(issues, fmt.Sprintf("output.format must be text, json or yaml (got %q)", c.Output.Format))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "console", "json":
	default:
		issues = append(issues, fmt.Sprintf("log.format must be console or json (got %q)", c.Log.Format))
	}

	issues = append(issues, validateTracing(c.Tracing)...)

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validateProbe(p ProbeConfig) []string {
	var issues []string
	if p.StartSize <= 0 {
		issues = append(issues, "probe.start_size must be > 0")
	}
	if p.MinSize > p.StartSize {
		issues = append(issues, fmt.Sprintf("probe.min_size %d exceeds probe.start_size %d", p.MinSize, p.StartSize))
	}
	if p.MaxCount > 0 && p.MinCount > p.MaxCount {
		issues = append(issues, fmt.Sprintf("probe.min_count %d exceeds probe.max_count %d", p.MinCount, p.MaxCount))
	}
	if p.GrowthFactor != 0 && p.GrowthFactor < 1 {
		issues = append(issues, "probe.growth_factor must be >= 1")
	}
	if p.ShrinkDivisor != 0 && p.ShrinkDivisor < 2 {
		issues = append(issues, "probe.shrink_divisor must be >= 2")
	}
	if p.AttemptTimeout < 0 {
		issues = append(issues, "probe.attempt_timeout must be >= 0")
	}
	return issues
}

func validateSubmit(s SubmitConfig) []string {
	var issues []string
	if s.Concurrency <= 0 {
		issues = append(issues, "submit.concurrency must be > 0")
	}
	if s.Units < 0 {
		issues = append(issues, "submit.units must be >= 0")
	}
	if s.Size < 0 {
		issues = append(issues, "submit.size must be >= 0")
	}
	if s.Count < 1 {
		issues = append(issues, "submit.count must be >= 1")
	}
	if s.Timeout < 0 {
		issues = append(issues, "submit.timeout must be >= 0")
	}
	if s.Retries < 0 {
		issues = append(issues, "submit.retries must be >= 0")
	}
	if s.BackoffBase < 0 || s.MaxBackoff < 0 {
		issues = append(issues, "submit backoff durations must be >= 0")
	}
	if s.Rate < 0 {
		issues = append(issues, "submit.rate must be >= 0")
	}
	switch s.ArrivalModel {
	case "", ArrivalModelUniform, ArrivalModelPoisson:
	default:
		issues = append(issues, fmt.Sprintf("submit.arrival_model must be uniform or poisson (got %q)", s.ArrivalModel))
	}
	return issues
}

func validateTrack(t TrackConfig) []string {
	var issues []string
	if t.Concurrency < 0 {
		issues = append(issues, "track.concurrency must be >= 0")
	}
	if t.PollInterval < 0 || t.Timeout < 0 || t.Deadline < 0 {
		issues = append(issues, "track durations must be >= 0")
	}
	return issues
}

func validateAuth(a AuthConfig) []string {
	var issues []string
	switch a.Type {
	case AuthTypeNone:
	case AuthTypeBearer:
		if a.Token == "" {
			issues = append(issues, "httpjson.auth.token is required for bearer auth")
		}
	case AuthTypeOAuth2:
		if a.TokenURL == "" {
			issues = append(issues, "httpjson.auth.token_url is required for oauth2_client_credentials")
		}
		if a.ClientID == "" || a.ClientSecret == "" {
			issues = append(issues, "httpjson.auth.client_id and client_secret are required for oauth2_client_credentials")
		}
	default:
		issues = append(issues, fmt.Sprintf("httpjson.auth.type must be bearer or oauth2_client_credentials (got %q)", a.Type))
	}
	if a.RefreshBefore < 0 {
		issues = append(issues, "httpjson.auth.refresh_before must be >= 0")
	}
	return issues
}

func validateTracing(t TracingConfig) []string {
	var issues []string
	switch strings.ToLower(t.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing.protocol must be grpc or http (got %q)", t.Protocol))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, fmt.Sprintf("tracing.sample_rate must be between 0.0 and 1.0 (got %g)", t.SampleRate))
	}
	return issues
}
