package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wesleyorama2/matchload/internal/driver"
	"github.com/wesleyorama2/matchload/internal/fixture"
	"github.com/wesleyorama2/matchload/internal/performance"
	"github.com/wesleyorama2/matchload/internal/performance/config"
	"github.com/wesleyorama2/matchload/internal/performance/engine"
	"github.com/wesleyorama2/matchload/internal/performance/executor"
	"github.com/wesleyorama2/matchload/internal/performance/output"
	"github.com/wesleyorama2/matchload/internal/performance/report"
)

// preset is a single-driver quick mode.
type preset struct {
	name  string
	host  string
	short string
	long  string
}

var (
	presetLocal = preset{
		name:  string(driver.KindLocal),
		host:  driver.LocalHost,
		short: "Load test a local match service with one identifier per request",
		long: `Each virtual user picks a random compound and identifier column from the
fixture and sends it as POST /match {"queries": "<id>"}.

  matchload local --vus 20 --duration 5m
  matchload local --host http://localhost:9000 --fields InChIKey,SMILES`,
	}

	presetRemote = preset{
		name:  string(driver.KindRemote),
		host:  driver.RemoteHost,
		short: "Load test a remote match deployment with batched queries",
		long: `Each virtual user sends a batch of 1 to --max-batch identifiers, drawn from
random compounds, as GET /match?q=<space-joined ids>.

  matchload remote --vus 5 --duration 10m
  matchload remote --executor constant-arrival-rate --rate 20 --max-vus 50`,
	}
)

// outputOptions controls console and report output.
type outputOptions struct {
	outputPath string
	jsonOutput bool
	htmlOutput bool
	quiet      bool
}

func newPresetCmd(p preset) *cobra.Command {
	cmd := &cobra.Command{
		Use:   p.name,
		Short: p.short,
		Long:  p.long,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfigFromFlags(cmd, p)
			if err != nil {
				return err
			}
			return runTest(cmd, cfg, outputOptionsFromFlags(cmd))
		},
	}

	flags := cmd.Flags()
	flags.String("host", p.host, "Base URL of the match service")
	flags.String("fixture", fixture.DefaultPath, "CSV fixture of compounds")
	flags.Bool("skip-incomplete", false, "Drop fixture rows with an empty identifier instead of failing")
	flags.StringSlice("fields", nil, "Identifier columns to sample from (default: all)")
	flags.Int("vus", 10, "Number of virtual users")
	flags.String("duration", "1m", "Test duration")
	flags.String("wait-min", "1s", "Minimum think time between requests")
	flags.String("wait-max", "5s", "Maximum think time between requests")
	flags.String("timeout", "30s", "HTTP request timeout")
	flags.Uint64("seed", 0, "Seed for reproducible sampling (0 = random)")
	flags.String("executor", "", "Executor type (constant-vus, ramping-vus, constant-arrival-rate, ramping-arrival-rate)")
	flags.String("stages", "", `Stages as "duration:target" pairs, e.g. "30s:10,2m:10,30s:0"`)
	flags.Float64("rate", 0, "Iterations per second for constant-arrival-rate")
	flags.Int("max-vus", 0, "Maximum VUs for arrival-rate executors")
	flags.Int("pre-allocated-vus", 0, "Pre-allocated VUs for arrival-rate executors")
	flags.Float64("max-error-rate", 0, "Fail the run when the request failure rate exceeds this value")
	if p.name == presetRemote.name {
		flags.Int("max-batch", driver.DefaultMaxBatch, "Maximum identifiers per request")
	}
	addOutputFlags(cmd)

	return cmd
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run load test scenarios from a configuration file",
		Long: `Run one or more scenarios described by a YAML or JSON file.

  matchload run --config loadtest.yaml --html`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.LoadConfig(path)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cmd.Flags().Changed("fixture") {
				cfg.Settings.Fixture, _ = cmd.Flags().GetString("fixture")
			}
			return runTest(cmd, cfg, outputOptionsFromFlags(cmd))
		},
	}

	cmd.Flags().StringP("config", "c", "", "Path to the test configuration file")
	cmd.Flags().String("fixture", "", "Override the fixture path from the config file")
	_ = cmd.MarkFlagRequired("config")
	addOutputFlags(cmd)

	return cmd
}

func addOutputFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.Bool("json", false, "Write the result as JSON (to --output or stdout)")
	flags.Bool("html", false, "Write an HTML report (to --output or a generated path)")
	flags.StringP("output", "o", "", "Report path; without an extension both .json and .html are written")
	flags.BoolP("quiet", "q", false, "Only print PASSED or FAILED")
}

func outputOptionsFromFlags(cmd *cobra.Command) outputOptions {
	var o outputOptions
	o.outputPath, _ = cmd.Flags().GetString("output")
	o.jsonOutput, _ = cmd.Flags().GetBool("json")
	o.htmlOutput, _ = cmd.Flags().GetBool("html")
	o.quiet, _ = cmd.Flags().GetBool("quiet")
	return o
}

// buildConfigFromFlags builds a one-scenario TestConfig for a preset.
func buildConfigFromFlags(cmd *cobra.Command, p preset) (*config.TestConfig, error) {
	flags := cmd.Flags()
	host, _ := flags.GetString("host")
	fixturePath, _ := flags.GetString("fixture")
	skipIncomplete, _ := flags.GetBool("skip-incomplete")
	fields, _ := flags.GetStringSlice("fields")
	vus, _ := flags.GetInt("vus")
	duration, _ := flags.GetString("duration")
	waitMin, _ := flags.GetString("wait-min")
	waitMax, _ := flags.GetString("wait-max")
	timeout, _ := flags.GetString("timeout")
	seed, _ := flags.GetUint64("seed")
	executorType, _ := flags.GetString("executor")
	stages, _ := flags.GetString("stages")
	rate, _ := flags.GetFloat64("rate")
	maxVUs, _ := flags.GetInt("max-vus")
	preAllocatedVUs, _ := flags.GetInt("pre-allocated-vus")
	maxErrorRate, _ := flags.GetFloat64("max-error-rate")

	timeoutDur, err := config.ParseDurationString(timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid --timeout: %w", err)
	}

	if executorType == "" {
		executorType = string(executor.TypeConstantVUs)
		if stages != "" {
			executorType = string(executor.TypeRampingVUs)
		}
	}

	scenario := &config.ScenarioConfig{
		Driver:          p.name,
		Executor:        executorType,
		Rate:            rate,
		MaxVUs:          maxVUs,
		PreAllocatedVUs: preAllocatedVUs,
		Fields:          fields,
		Pacing:          pacingFromFlags(waitMin, waitMax),
	}
	if flags.Lookup("max-batch") != nil {
		scenario.MaxBatch, _ = flags.GetInt("max-batch")
	}

	switch executor.Type(executorType) {
	case executor.TypeConstantVUs:
		scenario.VUs = vus
		scenario.Duration = duration
	case executor.TypeConstantArrivalRate:
		scenario.Duration = duration
		if preAllocatedVUs == 0 {
			scenario.PreAllocatedVUs = vus
		}
	case executor.TypeRampingArrivalRate:
		if preAllocatedVUs == 0 {
			scenario.PreAllocatedVUs = vus
		}
	}

	if stages != "" {
		parsed, err := parseStages(stages)
		if err != nil {
			return nil, fmt.Errorf("invalid stages format: %w", err)
		}
		scenario.Stages = parsed
	}

	cfg := &config.TestConfig{
		Name:        fmt.Sprintf("matchload %s", p.name),
		Description: fmt.Sprintf("%s load test against %s", p.name, host),
		Settings: config.GlobalSettings{
			Host:           host,
			Timeout:        config.Duration(timeoutDur),
			Fixture:        fixturePath,
			SkipIncomplete: skipIncomplete,
			Seed:           seed,
		},
		Scenarios: map[string]*config.ScenarioConfig{p.name: scenario},
	}
	if flags.Changed("max-error-rate") {
		cfg.Thresholds = &config.ThresholdsConfig{
			HTTPReqFailed: []string{fmt.Sprintf("rate <= %g", maxErrorRate)},
		}
	}
	return cfg, nil
}

// pacingFromFlags maps the think-time flags to a pacing block. Equal bounds
// give constant pacing and zero bounds disable it.
func pacingFromFlags(waitMin, waitMax string) *config.PacingConfig {
	minDur, errMin := config.ParseDurationString(waitMin)
	maxDur, errMax := config.ParseDurationString(waitMax)
	if errMin == nil && errMax == nil {
		switch {
		case minDur == 0 && maxDur == 0:
			return &config.PacingConfig{Type: string(performance.PacingNone)}
		case minDur == maxDur:
			return &config.PacingConfig{Type: string(performance.PacingConstant), Duration: waitMin}
		}
	}
	return &config.PacingConfig{Type: string(performance.PacingRandom), Min: waitMin, Max: waitMax}
}

// parseStages parses stages from CLI format "30s:10,2m:10,30s:0".
func parseStages(stagesStr string) ([]config.StageConfig, error) {
	var stages []config.StageConfig

	for i, part := range strings.Split(stagesStr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		colonIdx := strings.LastIndex(part, ":")
		if colonIdx == -1 {
			return nil, fmt.Errorf("stage %d: expected 'duration:target' format, got '%s'", i+1, part)
		}

		durationStr := part[:colonIdx]
		targetStr := part[colonIdx+1:]

		if _, err := time.ParseDuration(durationStr); err != nil {
			return nil, fmt.Errorf("stage %d: invalid duration '%s': %w", i+1, durationStr, err)
		}

		target, err := strconv.Atoi(targetStr)
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid target '%s': %w", i+1, targetStr, err)
		}

		stages = append(stages, config.StageConfig{
			Duration: durationStr,
			Target:   target,
			Name:     fmt.Sprintf("stage-%d", i+1),
		})
	}

	if len(stages) == 0 {
		return nil, fmt.Errorf("at least one stage is required")
	}

	return stages, nil
}

// runTest runs cfg with live console output and writes the requested reports.
func runTest(cmd *cobra.Command, cfg *config.TestConfig, opts outputOptions) error {
	eng, err := engine.NewEngine(cfg)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	totalDuration := calculateTotalDuration(eng)
	targetVUs := getTargetVUs(eng)

	console := output.NewConsoleOutput(output.ConsoleOutputConfig{
		TestName:      cfg.Name,
		RunID:         eng.RunID(),
		FixturePath:   eng.Fixture().Path(),
		FixtureRows:   eng.Fixture().Len(),
		Scenarios:     scenarioInfos(eng),
		TotalDuration: totalDuration,
		Writer:        cmd.OutOrStdout(),
		Quiet:         opts.quiet,
	})
	console.PrintHeader()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	monitorCtx, cancelMonitor := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		output.Monitor(monitorCtx, console, eng, totalDuration, targetVUs)
	}()

	result, runErr := eng.Run(ctx)
	cancelMonitor()
	wg.Wait()

	if runErr != nil {
		log.WithError(runErr).Error("Test did not complete")
	}

	console.PrintSummary(result)

	if result != nil {
		if err := writeReports(cmd.OutOrStdout(), result, cfg.Name, opts); err != nil {
			return err
		}
	}

	if runErr != nil {
		return fmt.Errorf("failed to run test: %w", runErr)
	}
	if !result.Passed {
		return ErrTestFailed
	}
	return nil
}

func scenarioInfos(eng *engine.Engine) []output.ScenarioInfo {
	runners := eng.Scenarios()
	infos := make([]output.ScenarioInfo, 0, len(runners))
	for _, r := range runners {
		infos = append(infos, output.ScenarioInfo{
			Name:     r.Name,
			Request:  r.Driver.Name(),
			Host:     r.Host,
			Executor: string(r.ExecCfg.Type),
			Pacing:   r.ExecCfg.PacingOrDefault().String(),
		})
	}
	return infos
}

// calculateTotalDuration returns the expected wall time of the run.
func calculateTotalDuration(eng *engine.Engine) time.Duration {
	sequential := eng.GetConfig().Options != nil && eng.GetConfig().Options.Sequential

	var total time.Duration
	for _, r := range eng.Scenarios() {
		d := r.ExecCfg.TotalDuration()
		if sequential {
			total += d
		} else {
			total = max(total, d)
		}
	}
	return total
}

// getTargetVUs returns the most VUs the run can have at once.
func getTargetVUs(eng *engine.Engine) int {
	sequential := eng.GetConfig().Options != nil && eng.GetConfig().Options.Sequential

	total := 0
	for _, r := range eng.Scenarios() {
		n := executor.CalculateMaxVUs(r.ExecCfg)
		if sequential {
			total = max(total, n)
		} else {
			total += n
		}
	}
	return total
}

// writeReports writes the JSON and HTML outputs selected by opts.
func writeReports(w io.Writer, result *engine.TestResult, testName string, opts outputOptions) error {
	lower := strings.ToLower(opts.outputPath)
	outputIsJSON := opts.jsonOutput || strings.HasSuffix(lower, ".json")
	outputIsHTML := opts.htmlOutput || strings.HasSuffix(lower, ".html")

	switch {
	case outputIsJSON && opts.outputPath == "":
		if err := report.WriteJSON(w, result); err != nil {
			return fmt.Errorf("failed to write JSON result: %w", err)
		}
	case outputIsJSON:
		if err := report.GenerateJSON(result, opts.outputPath); err != nil {
			return err
		}
		reportWritten(w, opts, opts.outputPath)
	case outputIsHTML:
		path := opts.outputPath
		if path == "" {
			path = generateDefaultHTMLPath(testName, time.Now())
		}
		if err := report.GenerateHTML(result, path); err != nil {
			return err
		}
		reportWritten(w, opts, path)
	case opts.outputPath != "":
		htmlPath := opts.outputPath + ".html"
		jsonPath := opts.outputPath + ".json"
		if err := report.GenerateHTML(result, htmlPath); err != nil {
			return err
		}
		if err := report.GenerateJSON(result, jsonPath); err != nil {
			return err
		}
		reportWritten(w, opts, htmlPath)
		reportWritten(w, opts, jsonPath)
	}
	return nil
}

func reportWritten(w io.Writer, opts outputOptions, path string) {
	if !opts.quiet {
		fmt.Fprintf(w, "Report: %s\n", path)
	}
}

// generateDefaultHTMLPath creates a default HTML report path based on test name.
func generateDefaultHTMLPath(testName string, now time.Time) string {
	safeName := strings.ReplaceAll(testName, " ", "-")
	safeName = strings.ReplaceAll(safeName, string(filepath.Separator), "-")
	safeName = strings.ReplaceAll(safeName, "/", "-")
	safeName = strings.ToLower(safeName)

	return fmt.Sprintf("matchload-report-%s-%s.html", safeName, now.Format("20060102-150405"))
}
