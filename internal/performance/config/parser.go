package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/matchload/internal/driver"
	"github.com/wesleyorama2/matchload/internal/fixture"
	"github.com/wesleyorama2/matchload/internal/performance"
	"github.com/wesleyorama2/matchload/internal/performance/executor"
)

// DefaultUserAgent is sent when settings.userAgent is empty.
const DefaultUserAgent = "matchload/1.0"

// LoadConfig loads a test configuration from a file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
func LoadConfig(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data, path)
}

// ParseConfig parses configuration data. Unknown or missing extensions are
// parsed as YAML.
func ParseConfig(data []byte, path string) (*TestConfig, error) {
	var config TestConfig

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config (unknown format %s): %w", ext, err)
		}
	}

	return &config, nil
}

// ParseDurationString parses a Go duration ("30s", "1h30m") or a bare
// integer number of seconds. Empty is zero.
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if seconds, err := strconv.Atoi(s); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	return 0, fmt.Errorf("invalid duration format: %s", s)
}

// ApplyDefaults fills unset values.
func ApplyDefaults(config *TestConfig) {
	s := &config.Settings
	if s.Timeout == 0 {
		s.Timeout = Duration(30 * time.Second)
	}
	if s.Fixture == "" {
		s.Fixture = fixture.DefaultPath
	}
	if s.MaxIdleConnsPerHost == 0 {
		s.MaxIdleConnsPerHost = 100
	}
	if s.UserAgent == "" {
		s.UserAgent = DefaultUserAgent
	}

	if config.Options == nil {
		config.Options = &ExecutionOptions{}
	}

	for _, sc := range config.Scenarios {
		if sc != nil {
			applyScenarioDefaults(sc)
		}
	}
}

func applyScenarioDefaults(sc *ScenarioConfig) {
	if sc.Driver == "" {
		sc.Driver = string(driver.KindLocal)
	}
	if sc.Executor == "" {
		sc.Executor = string(executor.TypeConstantVUs)
	}

	switch executor.Type(sc.Executor) {
	case executor.TypeConstantVUs:
		if sc.VUs == 0 {
			sc.VUs = 1
		}
	case executor.TypeConstantArrivalRate, executor.TypeRampingArrivalRate:
		if sc.PreAllocatedVUs == 0 {
			sc.PreAllocatedVUs = 1
		}
		if sc.MaxVUs == 0 {
			sc.MaxVUs = sc.PreAllocatedVUs * 10
		}
	}

	if sc.Driver == string(driver.KindRemote) && sc.MaxBatch == 0 {
		sc.MaxBatch = driver.DefaultMaxBatch
	}
}

// ExecutorConfig converts a scenario into an executor configuration.
func ExecutorConfig(name string, sc *ScenarioConfig) (*executor.Config, error) {
	cfg := &executor.Config{
		Name:            name,
		Type:            executor.Type(sc.Executor),
		VUs:             sc.VUs,
		Rate:            sc.Rate,
		PreAllocatedVUs: sc.PreAllocatedVUs,
		MaxVUs:          sc.MaxVUs,
	}

	var err error
	if cfg.Duration, err = ParseDurationString(sc.Duration); err != nil {
		return nil, fmt.Errorf("invalid duration: %w", err)
	}
	if cfg.GracefulStop, err = ParseDurationString(sc.GracefulStop); err != nil {
		return nil, fmt.Errorf("invalid gracefulStop: %w", err)
	}

	for i, stage := range sc.Stages {
		d, err := ParseDurationString(stage.Duration)
		if err != nil {
			return nil, fmt.Errorf("invalid duration of stage %d: %w", i, err)
		}
		cfg.Stages = append(cfg.Stages, executor.Stage{Duration: d, Target: stage.Target, Name: stage.Name})
	}

	if sc.Pacing != nil {
		p, err := parsePacing(sc.Pacing)
		if err != nil {
			return nil, err
		}
		cfg.Pacing = &p
	}

	return cfg, nil
}

func parsePacing(pc *PacingConfig) (performance.Pacing, error) {
	p := performance.Pacing{Type: performance.PacingType(pc.Type)}

	var err error
	if p.Duration, err = ParseDurationString(pc.Duration); err != nil {
		return p, fmt.Errorf("invalid pacing duration: %w", err)
	}
	if p.Min, err = ParseDurationString(pc.Min); err != nil {
		return p, fmt.Errorf("invalid pacing min: %w", err)
	}
	if p.Max, err = ParseDurationString(pc.Max); err != nil {
		return p, fmt.Errorf("invalid pacing max: %w", err)
	}
	return p, nil
}

// DriverConfig builds the driver configuration of a scenario.
func DriverConfig(sc *ScenarioConfig, settings *GlobalSettings) (driver.Config, error) {
	kind, err := driver.ParseKind(sc.Driver)
	if err != nil {
		return driver.Config{}, err
	}

	fields, err := ParseFields(sc.Fields)
	if err != nil {
		return driver.Config{}, err
	}

	host := sc.Host
	if host == "" {
		host = settings.Host
	}

	headers := make(map[string]string, len(settings.Headers)+1)
	if settings.UserAgent != "" {
		headers["User-Agent"] = settings.UserAgent
	}
	for k, v := range settings.Headers {
		headers[k] = v
	}

	return driver.Config{
		Kind:       kind,
		Host:       strings.TrimRight(host, "/"),
		Fields:     fields,
		MaxBatch:   sc.MaxBatch,
		Headers:    headers,
		RequestIDs: settings.RequestIDs,
	}, nil
}

// ParseFields parses identifier column names. Empty input yields nil.
func ParseFields(names []string) ([]fixture.Field, error) {
	var fields []fixture.Field
	for _, name := range names {
		f, err := fixture.ParseField(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// HTTPClientConfig builds the client configuration from settings.
func HTTPClientConfig(settings *GlobalSettings) performance.HTTPClientConfig {
	cfg := performance.DefaultHTTPClientConfig()
	cfg.Timeout = settings.Timeout.GetDuration(cfg.Timeout)
	cfg.MaxConnsPerHost = settings.MaxConnectionsPerHost
	if settings.MaxIdleConnsPerHost > 0 {
		cfg.MaxIdleConnsPerHost = settings.MaxIdleConnsPerHost
	}
	cfg.InsecureSkipVerify = settings.InsecureSkipVerify
	return cfg
}
