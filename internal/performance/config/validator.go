package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/wesleyorama2/matchload/internal/driver"
	"github.com/wesleyorama2/matchload/internal/performance"
	"github.com/wesleyorama2/matchload/internal/performance/executor"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Has reports whether an error was recorded for field.
func (e *ValidationErrors) Has(field string) bool {
	for _, err := range e.Errors {
		if err.Field == field {
			return true
		}
	}
	return false
}

// Validate validates the entire test configuration.
//
// Returns nil if valid, or a ValidationErrors containing all validation errors.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	if len(c.Scenarios) == 0 {
		errs.Add("scenarios", "at least one scenario is required")
	}

	for name, scenario := range c.Scenarios {
		if scenario == nil {
			errs.Add("scenarios."+name, "scenario is empty")
			continue
		}
		validateScenario(name, scenario, errs)
	}

	if c.Thresholds != nil {
		validateThresholds(c.Thresholds, errs)
	}

	validateSettings(&c.Settings, errs)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateScenario(name string, sc *ScenarioConfig, errs *ValidationErrors) {
	prefix := fmt.Sprintf("scenarios.%s", name)

	kind, err := driver.ParseKind(sc.Driver)
	if err != nil {
		errs.Add(prefix+".driver", err.Error())
	}

	if sc.Host != "" {
		validateHost(prefix+".host", sc.Host, errs)
	}

	if sc.Executor == "" {
		errs.Add(prefix+".executor", "executor type is required")
	} else if !executor.IsValidExecutorType(sc.Executor) {
		errs.Add(prefix+".executor", fmt.Sprintf("unknown executor type: %s", sc.Executor))
	}

	switch executor.Type(sc.Executor) {
	case executor.TypeConstantVUs:
		validateConstantVUs(prefix, sc, errs)
	case executor.TypeRampingVUs:
		validateRampingVUs(prefix, sc, errs)
	case executor.TypeConstantArrivalRate:
		validateConstantArrivalRate(prefix, sc, errs)
	case executor.TypeRampingArrivalRate:
		validateRampingArrivalRate(prefix, sc, errs)
	}

	if sc.GracefulStop != "" {
		if _, err := ParseDurationString(sc.GracefulStop); err != nil {
			errs.Add(prefix+".gracefulStop", fmt.Sprintf("invalid gracefulStop: %v", err))
		}
	}

	if sc.Pacing != nil {
		validatePacing(prefix+".pacing", sc.Pacing, errs)
	}

	for i, stage := range sc.Stages {
		validateStage(fmt.Sprintf("%s.stages[%d]", prefix, i), &stage, errs)
	}

	if _, err := ParseFields(sc.Fields); err != nil {
		errs.Add(prefix+".fields", err.Error())
	}

	if sc.MaxBatch < 0 {
		errs.Add(prefix+".maxBatch", "maxBatch cannot be negative")
	} else if sc.MaxBatch > 0 && kind == driver.KindLocal {
		errs.Add(prefix+".maxBatch", "maxBatch only applies to the remote driver")
	}

	for i, check := range sc.Checks {
		validateCheck(fmt.Sprintf("%s.checks[%d]", prefix, i), check, errs)
	}
}

func validateConstantVUs(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if sc.VUs <= 0 {
		errs.Add(prefix+".vus", "vus must be greater than 0")
	}
	validateRequiredDuration(prefix, sc, errs)
}

func validateRampingVUs(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if len(sc.Stages) == 0 {
		errs.Add(prefix+".stages", "at least one stage is required for ramping-vus executor")
	}
}

func validateConstantArrivalRate(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if sc.Rate <= 0 {
		errs.Add(prefix+".rate", "rate must be greater than 0")
	}
	validateRequiredDuration(prefix, sc, errs)
	validatePool(prefix, sc, errs)
}

func validateRampingArrivalRate(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if len(sc.Stages) == 0 {
		errs.Add(prefix+".stages", "at least one stage is required for ramping-arrival-rate executor")
	}
	if sc.Rate < 0 {
		errs.Add(prefix+".rate", "rate cannot be negative")
	}
	validatePool(prefix, sc, errs)
}

func validateRequiredDuration(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if sc.Duration == "" {
		errs.Add(prefix+".duration", fmt.Sprintf("duration is required for %s executor", sc.Executor))
		return
	}
	d, err := ParseDurationString(sc.Duration)
	if err != nil {
		errs.Add(prefix+".duration", fmt.Sprintf("invalid duration: %v", err))
	} else if d <= 0 {
		errs.Add(prefix+".duration", "duration must be greater than 0")
	}
}

func validatePool(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if sc.PreAllocatedVUs < 0 {
		errs.Add(prefix+".preAllocatedVUs", "preAllocatedVUs cannot be negative")
	}
	if sc.MaxVUs > 0 && sc.PreAllocatedVUs > sc.MaxVUs {
		errs.Add(prefix+".preAllocatedVUs", "preAllocatedVUs cannot be greater than maxVUs")
	}
}

func validatePacing(prefix string, pacing *PacingConfig, errs *ValidationErrors) {
	p, err := parsePacing(pacing)
	if err != nil {
		errs.Add(prefix, err.Error())
		return
	}

	switch p.Type {
	case performance.PacingConstant:
		if pacing.Duration == "" {
			errs.Add(prefix+".duration", "duration is required for constant pacing")
			return
		}
	case performance.PacingRandom:
		if pacing.Min == "" {
			errs.Add(prefix+".min", "min is required for random pacing")
		}
		if pacing.Max == "" {
			errs.Add(prefix+".max", "max is required for random pacing")
		}
		if pacing.Min == "" || pacing.Max == "" {
			return
		}
	}

	if err := p.Validate(); err != nil {
		errs.Add(prefix, err.Error())
	}
}

func validateStage(prefix string, stage *StageConfig, errs *ValidationErrors) {
	if stage.Duration == "" {
		errs.Add(prefix+".duration", "duration is required")
	} else if _, err := ParseDurationString(stage.Duration); err != nil {
		errs.Add(prefix+".duration", fmt.Sprintf("invalid duration: %v", err))
	}

	if stage.Target < 0 {
		errs.Add(prefix+".target", "target cannot be negative")
	}
}

func validateCheck(prefix string, check driver.CheckConfig, errs *ValidationErrors) {
	switch check.Type {
	case driver.CheckMatchHits:
		if check.SchemaFile != "" {
			errs.Add(prefix+".schemaFile", "schemaFile only applies to the schema check")
		}
	case driver.CheckSchema:
		if check.SchemaFile != "" {
			if _, err := os.Stat(check.SchemaFile); err != nil {
				errs.Add(prefix+".schemaFile", fmt.Sprintf("schema file not readable: %v", err))
			}
		}
	case "":
		errs.Add(prefix+".type", "type is required")
	default:
		errs.Add(prefix+".type", fmt.Sprintf("unknown check type: %s", check.Type))
	}
}

func validateThresholds(t *ThresholdsConfig, errs *ValidationErrors) {
	for _, g := range t.groups() {
		for i, expr := range g.exprs {
			if _, err := ParseThreshold(g.metric, expr); err != nil {
				errs.Add(fmt.Sprintf("thresholds.%s[%d]", g.metric, i), err.Error())
			}
		}
	}
}

func validateSettings(s *GlobalSettings, errs *ValidationErrors) {
	if s.Host != "" {
		validateHost("settings.host", s.Host, errs)
	}

	if s.Timeout < 0 {
		errs.Add("settings.timeout", "cannot be negative")
	}
	if s.MaxConnectionsPerHost < 0 {
		errs.Add("settings.maxConnectionsPerHost", "cannot be negative")
	}
	if s.MaxIdleConnsPerHost < 0 {
		errs.Add("settings.maxIdleConnsPerHost", "cannot be negative")
	}
}

func validateHost(field, host string, errs *ValidationErrors) {
	u, err := url.Parse(host)
	if err != nil {
		errs.Add(field, fmt.Sprintf("invalid URL: %v", err))
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		errs.Add(field, "host must start with http:// or https://")
	} else if u.Host == "" {
		errs.Add(field, "host is missing an authority")
	}
}
