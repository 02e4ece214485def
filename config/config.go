package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/stagegraph/errors"
)

// Executor kinds
const (
	ExecutorInline    = "inline"    // Drain on the signaling goroutine
	ExecutorGoroutine = "goroutine" // Drain on a fresh goroutine
	ExecutorPool      = "pool"      // Drain on a shared worker pool
)

// Source kinds
const (
	SourceRange = "range"
	SourceNATS  = "nats"
)

// Sink kinds
const (
	SinkSum  = "sum"
	SinkLog  = "log"
	SinkNATS = "nats"
)

// Stage kinds accepted in a pipeline
const (
	StageMap       = "map"
	StageFilter    = "filter"
	StageTake      = "take"
	StageDrop      = "drop"
	StageTakeWhile = "take_while"
	StagePeek      = "peek"
	StageThrottle  = "throttle"
)

// Config is the complete stagerun configuration: engine tuning, the NATS
// connection and the pipeline to run.
type Config struct {
	Engine   EngineConfig   `json:"engine" yaml:"engine"`
	NATS     NATSConfig     `json:"nats" yaml:"nats"`
	Pipeline PipelineConfig `json:"pipeline" yaml:"pipeline"`
}

// EngineConfig tunes graph runs.
type EngineConfig struct {
	HighWatermark int    `json:"high_watermark" yaml:"high_watermark"`
	LowWatermark  int    `json:"low_watermark" yaml:"low_watermark"`
	Executor      string `json:"executor" yaml:"executor"`
	Workers       int    `json:"workers,omitempty" yaml:"workers,omitempty"`     // pool executor only
	QueueSize     int    `json:"queue_size,omitempty" yaml:"queue_size,omitempty"` // pool executor only
	MetricsAddr   string `json:"metrics_addr,omitempty" yaml:"metrics_addr,omitempty"`
	MetricsPath   string `json:"metrics_path,omitempty" yaml:"metrics_path,omitempty"`
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URLs          []string  `json:"urls,omitempty" yaml:"urls,omitempty"`
	MaxReconnects int       `json:"max_reconnects,omitempty" yaml:"max_reconnects,omitempty"`
	ReconnectWait Duration  `json:"reconnect_wait,omitempty" yaml:"reconnect_wait,omitempty"`
	Timeout       Duration  `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	DrainTimeout  Duration  `json:"drain_timeout,omitempty" yaml:"drain_timeout,omitempty"`
	Username      string    `json:"username,omitempty" yaml:"username,omitempty"`
	Password      string    `json:"password,omitempty" yaml:"password,omitempty"`
	Token         string    `json:"token,omitempty" yaml:"token,omitempty"`
	TLS           TLSConfig `json:"tls" yaml:"tls"`
}

// TLSConfig points the NATS connection at PEM files. CertFile and KeyFile go
// together; with neither set the server is verified against CAFile or the
// system roots.
type TLSConfig struct {
	Enabled  bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	CertFile string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty" yaml:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty" yaml:"ca_file,omitempty"`
}

// PipelineConfig describes a linear pipeline: one source, a chain of stages
// and one sink. Elements are int64; NATS payloads carry them as decimal text.
type PipelineConfig struct {
	Name   string        `json:"name,omitempty" yaml:"name,omitempty"`
	Source SourceConfig  `json:"source" yaml:"source"`
	Stages []StageConfig `json:"stages,omitempty" yaml:"stages,omitempty"`
	Sink   SinkConfig    `json:"sink" yaml:"sink"`
}

// SourceConfig selects where elements come from.
type SourceConfig struct {
	Type    string `json:"type" yaml:"type"`
	Start   int64  `json:"start,omitempty" yaml:"start,omitempty"` // range
	Count   int64  `json:"count,omitempty" yaml:"count,omitempty"` // range
	Subject string `json:"subject,omitempty" yaml:"subject,omitempty"`
}

// StageConfig is one processing step. Op and Value parameterize map, filter
// and take_while ("add", "mul", "even", "odd", "lt", "gt"); Value is the count
// for take and drop; Rate and Burst configure throttle.
type StageConfig struct {
	Type  string  `json:"type" yaml:"type"`
	Name  string  `json:"name,omitempty" yaml:"name,omitempty"`
	Op    string  `json:"op,omitempty" yaml:"op,omitempty"`
	Value int64   `json:"value,omitempty" yaml:"value,omitempty"`
	Rate  float64 `json:"rate,omitempty" yaml:"rate,omitempty"`
	Burst int     `json:"burst,omitempty" yaml:"burst,omitempty"`
}

// SinkConfig selects where elements go.
type SinkConfig struct {
	Type    string `json:"type" yaml:"type"`
	Subject string `json:"subject,omitempty" yaml:"subject,omitempty"`
}

// Duration is a time.Duration read from "2s" style strings or integer
// nanoseconds.
type Duration time.Duration

// Std returns the time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n int64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("duration must be a string or integer: %w", err)
		}
		*d = Duration(n)
		return nil
	}
	return d.parse(s)
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if n, err := strconv.ParseInt(node.Value, 10, 64); err == nil {
		*d = Duration(n)
		return nil
	}
	return d.parse(node.Value)
}

func (d *Duration) parse(s string) error {
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			HighWatermark: 8,
			LowWatermark:  4,
			Executor:      ExecutorInline,
			Workers:       4,
			QueueSize:     64,
			MetricsPath:   "/metrics",
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
		},
		Pipeline: PipelineConfig{
			Source: SourceConfig{Type: SourceRange, Start: 1, Count: 10},
			Sink:   SinkConfig{Type: SinkSum},
		},
	}
}

// Validate checks semantic rules the schema cannot express.
func (c *Config) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	if err := c.Pipeline.Validate(); err != nil {
		return err
	}
	if c.Pipeline.UsesNATS() && len(c.NATS.URLs) == 0 {
		return invalid("nats.urls", "required when the pipeline uses NATS")
	}
	return c.NATS.Validate()
}

// Validate checks timeouts and TLS files.
func (n NATSConfig) Validate() error {
	if n.Timeout < 0 {
		return invalid("nats.timeout", "must not be negative")
	}
	if n.DrainTimeout < 0 {
		return invalid("nats.drain_timeout", "must not be negative")
	}
	return n.TLS.Validate()
}

// Validate requires paired client certificate files and readable PEM files.
func (t TLSConfig) Validate() error {
	files := []struct{ field, path string }{
		{"nats.tls.cert_file", t.CertFile},
		{"nats.tls.key_file", t.KeyFile},
		{"nats.tls.ca_file", t.CAFile},
	}
	if !t.Enabled {
		for _, f := range files {
			if f.path != "" {
				return invalid(f.field, "set nats.tls.enabled to use TLS files")
			}
		}
		return nil
	}
	if (t.CertFile == "") != (t.KeyFile == "") {
		return invalid("nats.tls", "cert_file and key_file must be set together")
	}
	for _, f := range files {
		if f.path == "" {
			continue
		}
		if err := checkFile(f.path, pemFile); err != nil {
			return invalid(f.field, err.Error())
		}
	}
	return nil
}

// Validate checks watermarks and executor settings.
func (e EngineConfig) Validate() error {
	if e.HighWatermark < 1 {
		return invalid("engine.high_watermark", "must be at least 1")
	}
	if e.LowWatermark < 0 || e.LowWatermark >= e.HighWatermark {
		return invalid("engine.low_watermark",
			fmt.Sprintf("must be in [0, %d), got %d", e.HighWatermark, e.LowWatermark))
	}
	switch e.Executor {
	case ExecutorInline, ExecutorGoroutine:
	case ExecutorPool:
		if e.Workers < 1 {
			return invalid("engine.workers", "pool executor needs at least one worker")
		}
		if e.QueueSize < 1 {
			return invalid("engine.queue_size", "pool executor needs a queue")
		}
	default:
		return invalid("engine.executor", fmt.Sprintf("unknown executor %q", e.Executor))
	}
	return nil
}

// Validate checks the source, every stage and the sink.
func (p PipelineConfig) Validate() error {
	switch p.Source.Type {
	case SourceRange:
		if p.Source.Count < 0 {
			return invalid("pipeline.source.count", "must not be negative")
		}
	case SourceNATS:
		if err := validSubject(p.Source.Subject); err != nil {
			return invalid("pipeline.source.subject", err.Error())
		}
	case "":
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "pipeline.source.type")
	default:
		return invalid("pipeline.source.type", fmt.Sprintf("unknown source %q", p.Source.Type))
	}

	for i, st := range p.Stages {
		if err := st.Validate(); err != nil {
			return fmt.Errorf("pipeline.stages[%d]: %w", i, err)
		}
	}

	switch p.Sink.Type {
	case SinkSum, SinkLog:
	case SinkNATS:
		if err := validSubject(p.Sink.Subject); err != nil {
			return invalid("pipeline.sink.subject", err.Error())
		}
	case "":
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "pipeline.sink.type")
	default:
		return invalid("pipeline.sink.type", fmt.Sprintf("unknown sink %q", p.Sink.Type))
	}
	return nil
}

// UsesNATS reports whether the source or the sink talks to NATS.
func (p PipelineConfig) UsesNATS() bool {
	return p.Source.Type == SourceNATS || p.Sink.Type == SinkNATS
}

// Validate checks that the stage parameters fit its type.
func (s StageConfig) Validate() error {
	switch s.Type {
	case StageMap:
		if s.Op != "add" && s.Op != "mul" {
			return invalid("op", fmt.Sprintf("map supports add and mul, got %q", s.Op))
		}
	case StageFilter, StageTakeWhile:
		switch s.Op {
		case "even", "odd", "lt", "gt":
		default:
			return invalid("op", fmt.Sprintf("%s supports even, odd, lt and gt, got %q", s.Type, s.Op))
		}
	case StageTake, StageDrop:
		if s.Value < 0 {
			return invalid("value", "count must not be negative")
		}
	case StagePeek:
	case StageThrottle:
		if s.Rate <= 0 {
			return invalid("rate", "must be positive")
		}
		if s.Burst < 1 {
			return invalid("burst", "must be at least 1")
		}
	default:
		return invalid("type", fmt.Sprintf("unknown stage %q", s.Type))
	}
	return nil
}

func invalid(field, detail string) error {
	return errors.WrapInvalid(fmt.Errorf("%s: %s: %w", field, detail, errors.ErrInvalidConfig),
		"Config", "Validate", "check "+field)
}

// validSubject accepts literal NATS subjects: dot separated tokens without
// whitespace or wildcards.
func validSubject(subject string) error {
	if subject == "" {
		return fmt.Errorf("subject is required")
	}
	for _, token := range strings.Split(subject, ".") {
		if token == "" {
			return fmt.Errorf("subject %q has an empty token", subject)
		}
		if strings.ContainsAny(token, " \t\r\n*>") {
			return fmt.Errorf("subject %q must be a literal subject", subject)
		}
	}
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}
	clone := *c
	clone.NATS.URLs = append([]string(nil), c.NATS.URLs...)
	clone.Pipeline.Stages = append([]StageConfig(nil), c.Pipeline.Stages...)
	return &clone
}

// String returns a JSON representation with credentials redacted.
func (c *Config) String() string {
	redacted := c.Clone()
	if redacted.NATS.Password != "" {
		redacted.NATS.Password = "***"
	}
	if redacted.NATS.Token != "" {
		redacted.NATS.Token = "***"
	}
	data, err := json.MarshalIndent(redacted, "", "  ")
	if err != nil {
		return fmt.Sprintf("<config: %v>", err)
	}
	return string(data)
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{config: cfg.Clone()}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SafeConfig", "Update", "replace config")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg.Clone()
	return nil
}
