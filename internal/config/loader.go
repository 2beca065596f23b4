package config

import (
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. BLOCKPROBE_SUBMIT_CONCURRENCY.
const EnvPrefix = "BLOCKPROBE"

// Loader handles loading configuration from files, the environment and
// command-line flags, in increasing order of precedence.
type Loader struct{}

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load builds a Config from the defaults, the file named by --config, the
// BLOCKPROBE_* environment and finally the flags that were set explicitly.
func (Loader) Load(fs *pflag.FlagSet) (*Config, error) {
	configPath := ""
	if f := fs.Lookup("config"); f != nil {
		configPath = strings.TrimSpace(f.Value.String())
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range settingKeys() {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	cfg := Default()
	cfg.ConfigFile = configPath
	if err := applyConfigSettings(cfg, v.AllSettings()); err != nil {
		return nil, err
	}
	if cfg.HTTPJSON.Headers == nil {
		cfg.HTTPJSON.Headers = map[string]string{}
	}
	if cfg.Tendermint.Headers == nil {
		cfg.Tendermint.Headers = map[string]string{}
	}
	if err := applyFlagOverrides(cfg, fs); err != nil {
		return nil, err
	}

	cfg.Target = Target(strings.ToLower(strings.TrimSpace(string(cfg.Target))))
	cfg.Output.Format = strings.ToLower(cfg.Output.Format)
	return cfg, nil
}

// settingKeys lists every dotted config key, derived from the mapstructure
// tags of Config, so each one can be overridden from the environment.
func settingKeys() []string {
	var keys []string
	var walk func(t reflect.Type, prefix string)
	walk = func(t reflect.Type, prefix string) {
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			tag := field.Tag.Get("mapstructure")
			if tag == "" || tag == "-" {
				continue
			}
			key := prefix + tag
			if field.Type.Kind() == reflect.Struct && field.Type.PkgPath() != "time" {
				walk(field.Type, key+".")
				continue
			}
			keys = append(keys, key)
		}
	}
	walk(reflect.TypeOf(Config{}), "")
	return keys
}

// applyConfigSettings applies settings from a config file or the
// environment to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	r := &settingReader{settings: settings}
	var target, arrival string
	r.str(&target, "target")
	if target != "" {
		cfg.Target = Target(target)
	}
	r.str(&cfg.RunPrefix, "run_prefix", "runprefix")
	r.strings(&cfg.Thresholds, "thresholds")

	if p := r.section("probe"); p != nil {
		p.int(&cfg.Probe.StartSize, "start_size")
		p.int(&cfg.Probe.MinSize, "min_size")
		p.int(&cfg.Probe.StartCount, "start_count")
		p.int(&cfg.Probe.MinCount, "min_count")
		p.int(&cfg.Probe.MaxCount, "max_count")
		p.float(&cfg.Probe.GrowthFactor, "growth_factor")
		p.int(&cfg.Probe.ShrinkDivisor, "shrink_divisor")
		p.duration(&cfg.Probe.AttemptTimeout, "attempt_timeout")
		p.strings(&cfg.Probe.SizeLimitPatterns, "size_limit_patterns")
		r.absorb(p)
	}

	if s := r.section("submit"); s != nil {
		s.int(&cfg.Submit.Units, "units")
		s.int(&cfg.Submit.Size, "size")
		s.int(&cfg.Submit.Count, "count")
		s.bool(&cfg.Submit.Calibrate, "calibrate")
		s.int(&cfg.Submit.Concurrency, "concurrency")
		s.duration(&cfg.Submit.Timeout, "timeout")
		s.int(&cfg.Submit.Retries, "retries")
		s.duration(&cfg.Submit.BackoffBase, "backoff_base")
		s.duration(&cfg.Submit.MaxBackoff, "max_backoff")
		s.float(&cfg.Submit.Rate, "rate")
		s.str(&arrival, "arrival_model")
		if arrival != "" {
			cfg.Submit.ArrivalModel = ArrivalModel(strings.ToLower(arrival))
		}
		r.absorb(s)
	}

	if t := r.section("track"); t != nil {
		t.int(&cfg.Track.Concurrency, "concurrency")
		t.duration(&cfg.Track.PollInterval, "poll_interval")
		t.duration(&cfg.Track.Timeout, "timeout")
		t.duration(&cfg.Track.Deadline, "deadline")
		r.absorb(t)
	}

	if h := r.section("httpjson"); h != nil {
		h.str(&cfg.HTTPJSON.SubmitURL, "submit_url")
		h.str(&cfg.HTTPJSON.StatusURL, "status_url")
		h.int64(&cfg.HTTPJSON.Namespace, "namespace")
		h.headers(&cfg.HTTPJSON.Headers, "headers")
		h.duration(&cfg.HTTPJSON.Timeout, "timeout")
		h.strings(&cfg.HTTPJSON.HashPaths, "hash_paths")
		h.strings(&cfg.HTTPJSON.HeightPaths, "height_paths")
		h.strings(&cfg.HTTPJSON.ErrorPaths, "error_paths")
		h.strings(&cfg.HTTPJSON.SizeLimitPatterns, "size_limit_patterns")
		if a := h.section("auth"); a != nil {
			var authType string
			a.str(&authType, "type")
			if authType != "" {
				cfg.HTTPJSON.Auth.Type = AuthType(strings.ToLower(authType))
			}
			a.str(&cfg.HTTPJSON.Auth.Token, "token")
			a.str(&cfg.HTTPJSON.Auth.TokenURL, "token_url")
			a.str(&cfg.HTTPJSON.Auth.ClientID, "client_id")
			a.str(&cfg.HTTPJSON.Auth.ClientSecret, "client_secret")
			a.strings(&cfg.HTTPJSON.Auth.Scopes, "scopes")
			a.duration(&cfg.HTTPJSON.Auth.RefreshBefore, "refresh_before")
			h.absorb(a)
		}
		r.absorb(h)
	}

	if t := r.section("tendermint"); t != nil {
		t.str(&cfg.Tendermint.URL, "url")
		t.headers(&cfg.Tendermint.Headers, "headers")
		t.int(&cfg.Tendermint.PoolSize, "pool_size")
		t.duration(&cfg.Tendermint.HandshakeTimeout, "handshake_timeout")
		t.duration(&cfg.Tendermint.ReadTimeout, "read_timeout")
		r.absorb(t)
	}

	if s := r.section("simulated"); s != nil {
		s.int(&cfg.Simulated.MaxBytes, "max_bytes")
		s.int(&cfg.Simulated.MaxCount, "max_count")
		s.duration(&cfg.Simulated.BlockInterval, "block_interval")
		s.int(&cfg.Simulated.BlockCapacity, "block_capacity")
		s.duration(&cfg.Simulated.SubmitLatency, "submit_latency")
		s.int(&cfg.Simulated.RateLimitEvery, "rate_limit_every")
		s.int(&cfg.Simulated.DropEvery, "drop_every")
		s.int64(&cfg.Simulated.Seed, "seed")
		r.absorb(s)
	}

	if t := r.section("tps"); t != nil {
		t.strings(&cfg.TPS.Protocols, "protocols")
		t.duration(&cfg.TPS.Timeout, "timeout")
		r.absorb(t)
	}

	if o := r.section("output"); o != nil {
		o.str(&cfg.Output.Format, "format")
		o.str(&cfg.Output.File, "file")
		o.bool(&cfg.Output.Progress, "progress")
		r.absorb(o)
	}

	if l := r.section("log"); l != nil {
		l.str(&cfg.Log.Level, "level")
		l.str(&cfg.Log.Format, "format")
		r.absorb(l)
	}

	if t := r.section("tracing"); t != nil {
		t.bool(&cfg.Tracing.Enable, "enable")
		t.str(&cfg.Tracing.Endpoint, "endpoint")
		t.str(&cfg.Tracing.Protocol, "protocol")
		t.bool(&cfg.Tracing.Insecure, "insecure")
		t.str(&cfg.Tracing.ServiceName, "service_name")
		t.float(&cfg.Tracing.SampleRate, "sample_rate")
		t.bool(&cfg.Tracing.DisablePropagation, "disable_propagation")
		r.absorb(t)
	}

	return r.err
}

// settingReader reads typed values out of a viper settings map and keeps
// the first conversion error, qualified with the setting's path.
type settingReader struct {
	settings map[string]interface{}
	path     string
	err      error
}

func (r *settingReader) section(name string) *settingReader {
	raw, ok := lookupSetting(r.settings, name)
	if !ok || r.err != nil || raw == nil {
		return nil
	}
	m, err := toStringKeyMap(raw)
	if err != nil {
		r.err = fmt.Errorf("%s: %w", r.qualify(name), err)
		return nil
	}
	return &settingReader{settings: m, path: r.qualify(name)}
}

func (r *settingReader) absorb(child *settingReader) {
	if r.err == nil {
		r.err = child.err
	}
}

func (r *settingReader) qualify(key string) string {
	if r.path == "" {
		return key
	}
	return r.path + "." + key
}

func (r *settingReader) read(key string, convert func(interface{}) error) {
	if r.err != nil {
		return
	}
	raw, ok := lookupSetting(r.settings, key, strings.ReplaceAll(key, "_", ""))
	if !ok || raw == nil {
		return
	}
	if err := convert(raw); err != nil {
		r.err = fmt.Errorf("%s: %w", r.qualify(key), err)
	}
}

func (r *settingReader) str(dst *string, keys ...string) {
	for _, key := range keys {
		r.read(key, func(raw interface{}) error {
			v, err := asString(raw)
			*dst = strings.TrimSpace(v)
			return err
		})
	}
}

func (r *settingReader) int(dst *int, key string) {
	r.read(key, func(raw interface{}) (err error) {
		*dst, err = asInt(raw)
		return err
	})
}

func (r *settingReader) int64(dst *int64, key string) {
	r.read(key, func(raw interface{}) error {
		v, err := asInt(raw)
		*dst = int64(v)
		return err
	})
}

func (r *settingReader) float(dst *float64, key string) {
	r.read(key, func(raw interface{}) (err error) {
		*dst, err = asFloat64(raw)
		return err
	})
}

func (r *settingReader) bool(dst *bool, key string) {
	r.read(key, func(raw interface{}) (err error) {
		*dst, err = asBool(raw)
		return err
	})
}

func (r *settingReader) duration(dst *time.Duration, key string) {
	r.read(key, func(raw interface{}) (err error) {
		*dst, err = asDuration(raw)
		return err
	})
}

func (r *settingReader) strings(dst *[]string, key string) {
	r.read(key, func(raw interface{}) error {
		v, err := asStringSlice(raw)
		if err != nil {
			return err
		}
		*dst = v
		return nil
	})
}

func (r *settingReader) headers(dst *map[string]string, key string) {
	r.read(key, func(raw interface{}) error {
		hdrs, err := asStringMap(raw)
		if err != nil {
			return err
		}
		if *dst == nil {
			*dst = map[string]string{}
		}
		for k, v := range hdrs {
			(*dst)[http.CanonicalHeaderKey(strings.TrimSpace(k))] = v
		}
		return nil
	})
}
