// Package output renders live progress and the final summary of a run.
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/wesleyorama2/matchload/internal/performance/engine"
	"github.com/wesleyorama2/matchload/internal/performance/metrics"
)

// Cursor control sequences for the live display.
const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"
)

const (
	boxHorizontal  = "━"
	boxVertical    = "│"
	boxTopLeft     = "┌"
	boxTopRight    = "┐"
	boxBottomLeft  = "└"
	boxBottomRight = "┘"

	progressFilled = "█"
	progressEmpty  = "░"
)

// maxFailureRows bounds the failure table in the summary.
const maxFailureRows = 10

// maxMessageWidth truncates failure messages in the summary.
const maxMessageWidth = 80

// LiveStats contains real-time statistics for display.
type LiveStats struct {
	Progress  float64
	Elapsed   time.Duration
	Remaining time.Duration

	ActiveVUs int
	TargetVUs int

	CurrentRPS    float64
	TotalRequests int64
	Errors        int64
	ErrorRate     float64
	Dropped       int64

	LatencyP95 time.Duration
	LatencyAvg time.Duration

	CurrentPhase string
	CurrentStage int // 1-indexed
	TotalStages  int
}

// ScenarioInfo describes a scenario in the header.
type ScenarioInfo struct {
	Name     string
	Request  string
	Host     string
	Executor string
	Pacing   string
}

// ConsoleOutput manages live console output during test execution.
type ConsoleOutput struct {
	testName       string
	runID          string
	fixturePath    string
	fixtureRows    int
	scenarios      []ScenarioInfo
	totalDuration  time.Duration
	updateInterval time.Duration
	writer         io.Writer
	isTTY          bool
	quiet          bool
	colors         palette

	mu          sync.Mutex
	lastStats   *LiveStats
	linesOutput int
}

// ConsoleOutputConfig contains configuration for ConsoleOutput.
type ConsoleOutputConfig struct {
	TestName       string
	RunID          string
	FixturePath    string
	FixtureRows    int
	Scenarios      []ScenarioInfo
	TotalDuration  time.Duration
	UpdateInterval time.Duration
	Writer         io.Writer
	Quiet          bool
	ForceColors    bool
	ForceTTY       bool
}

type palette struct {
	bold, dim, red, green, yellow, blue, magenta, cyan *color.Color
}

func newPalette(enabled bool) palette {
	mk := func(attrs ...color.Attribute) *color.Color {
		c := color.New(attrs...)
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c
	}
	return palette{
		bold:    mk(color.Bold),
		dim:     mk(color.Faint),
		red:     mk(color.FgRed),
		green:   mk(color.FgGreen),
		yellow:  mk(color.FgYellow),
		blue:    mk(color.FgBlue),
		magenta: mk(color.FgMagenta),
		cyan:    mk(color.FgCyan),
	}
}

// NewConsoleOutput creates a new console output handler.
func NewConsoleOutput(config ConsoleOutputConfig) *ConsoleOutput {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}
	if config.UpdateInterval == 0 {
		config.UpdateInterval = time.Second
	}

	isTTY := config.ForceTTY || isTerminal(config.Writer)
	useColors := config.ForceColors || (isTTY && !color.NoColor)

	return &ConsoleOutput{
		testName:       config.TestName,
		runID:          config.RunID,
		fixturePath:    config.FixturePath,
		fixtureRows:    config.FixtureRows,
		scenarios:      config.Scenarios,
		totalDuration:  config.TotalDuration,
		updateInterval: config.UpdateInterval,
		writer:         config.Writer,
		isTTY:          isTTY,
		quiet:          config.Quiet,
		colors:         newPalette(useColors),
	}
}

// isTerminal checks if the writer is a terminal.
func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return checkIsTerminal(f)
	}
	return false
}

// PrintHeader prints the test header.
func (c *ConsoleOutput) PrintHeader() {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line := strings.Repeat(boxHorizontal, 56)
	c.writeln(c.colors.cyan.Sprint(line))
	c.writeln(c.colors.bold.Sprintf("%s - Running", c.testName))
	c.writeln(c.colors.cyan.Sprint(line))

	if c.runID != "" {
		c.writeln(fmt.Sprintf("Run:       %s", c.colors.dim.Sprint(c.runID)))
	}
	if c.fixturePath != "" {
		c.writeln(fmt.Sprintf("Fixture:   %s (%s rows)", c.fixturePath, formatNumber(int64(c.fixtureRows))))
	}
	for _, s := range c.scenarios {
		c.writeln(fmt.Sprintf("Scenario:  %s  %s %s  [%s, pacing %s]",
			c.colors.bold.Sprint(s.Name),
			s.Request,
			c.colors.cyan.Sprint(s.Host),
			s.Executor,
			s.Pacing))
	}
	c.writeln("")
}

// Update redraws the live display. It is a no-op unless writing to a TTY.
func (c *ConsoleOutput) Update(stats *LiveStats) {
	if c.quiet || !c.isTTY {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastStats = stats
	c.clearLive()

	lines := c.renderLiveStats(stats)
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

func (c *ConsoleOutput) clearLive() {
	if c.linesOutput == 0 {
		return
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	for i := 0; i < c.linesOutput; i++ {
		c.write(clearLine)
		if i < c.linesOutput-1 {
			c.write("\n")
		}
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput-1))
	c.write("\r")
	c.linesOutput = 0
}

func (c *ConsoleOutput) renderLiveStats(stats *LiveStats) []string {
	var lines []string

	progressBar := c.renderProgressBar(stats.Progress, 40)
	timeInfo := fmt.Sprintf("%s / %s", formatDuration(stats.Elapsed), formatDuration(stats.Elapsed+stats.Remaining))
	lines = append(lines, fmt.Sprintf("Progress: %s %s | %s",
		c.colors.green.Sprint(progressBar),
		c.colors.bold.Sprintf("%.0f%%", stats.Progress*100),
		c.colors.dim.Sprint(timeInfo)))

	phaseInfo := stats.CurrentPhase
	if stats.TotalStages > 0 {
		phaseInfo = fmt.Sprintf("%s (%d/%d)", stats.CurrentPhase, stats.CurrentStage, stats.TotalStages)
	}
	lines = append(lines, fmt.Sprintf("Stage:    %s", c.colors.magenta.Sprint(phaseInfo)))
	lines = append(lines, "")

	boxWidth := 55
	lines = append(lines, c.colors.dim.Sprint(boxTopLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxTopRight))

	vusStr := fmt.Sprintf("VUs:     %s / %d", c.colors.cyan.Sprint(stats.ActiveVUs), stats.TargetVUs)
	reqsStr := fmt.Sprintf("Requests:    %s", c.colors.cyan.Sprint(formatNumber(stats.TotalRequests)))
	lines = append(lines, c.formatBoxRow(vusStr, reqsStr, boxWidth))

	errColor := c.rateColor(stats.ErrorRate)
	rpsStr := fmt.Sprintf("RPS:     %s", c.colors.green.Sprintf("%.1f", stats.CurrentRPS))
	errStr := fmt.Sprintf("Failures:    %s (%s)",
		errColor.Sprint(formatNumber(stats.Errors)),
		errColor.Sprintf("%.1f%%", stats.ErrorRate*100))
	lines = append(lines, c.formatBoxRow(rpsStr, errStr, boxWidth))

	p95Str := fmt.Sprintf("P95:     %s", c.colors.blue.Sprint(formatDurationShort(stats.LatencyP95)))
	avgStr := fmt.Sprintf("Avg:         %s", c.colors.blue.Sprint(formatDurationShort(stats.LatencyAvg)))
	lines = append(lines, c.formatBoxRow(p95Str, avgStr, boxWidth))

	if stats.Dropped > 0 {
		dropStr := fmt.Sprintf("Dropped: %s", c.colors.yellow.Sprint(formatNumber(stats.Dropped)))
		lines = append(lines, c.formatBoxRow(dropStr, "", boxWidth))
	}

	lines = append(lines, c.colors.dim.Sprint(boxBottomLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxBottomRight))
	return lines
}

func (c *ConsoleOutput) rateColor(errorRate float64) *color.Color {
	switch {
	case errorRate > 0.05:
		return c.colors.red
	case errorRate > 0.01:
		return c.colors.yellow
	default:
		return c.colors.green
	}
}

// formatBoxRow formats a row inside the stats box with two columns.
func (c *ConsoleOutput) formatBoxRow(left, right string, boxWidth int) string {
	colWidth := (boxWidth - 4) / 2

	leftPadding := max(colWidth-visibleLen(left), 0)
	rightPadding := max(colWidth-visibleLen(right), 0)

	bar := c.colors.dim.Sprint(boxVertical)
	return fmt.Sprintf("%s %s%s%s %s%s %s",
		bar, left, strings.Repeat(" ", leftPadding),
		bar, right, strings.Repeat(" ", rightPadding),
		bar)
}

func (c *ConsoleOutput) renderProgressBar(progress float64, width int) string {
	progress = min(max(progress, 0), 1)
	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

// PrintSummary prints the final test summary.
func (c *ConsoleOutput) PrintSummary(result *engine.TestResult) {
	if result == nil {
		return
	}
	if c.quiet {
		if result.Passed {
			c.writeln(c.colors.green.Sprint("PASSED"))
		} else {
			c.writeln(c.colors.red.Sprint("FAILED"))
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isTTY {
		c.clearLive()
	}

	line := strings.Repeat(boxHorizontal, 56)
	status := c.colors.green.Sprint("Completed ✓")
	if !result.Passed {
		status = c.colors.red.Sprint("Failed ✗")
	}

	c.writeln("")
	c.writeln(c.colors.cyan.Sprint(line))
	c.writeln(fmt.Sprintf("%s - %s", c.colors.bold.Sprint(result.Name), status))
	c.writeln(c.colors.cyan.Sprint(line))
	c.writeln("")

	c.writeln(fmt.Sprintf("Duration:      %s", c.colors.cyan.Sprint(formatDuration(result.Duration))))
	if m := result.Metrics; m != nil {
		c.printTotals(m)
		c.printLatency(m.Latency)
	}
	c.printRequests(result)
	c.printScenarios(result)
	if m := result.Metrics; m != nil {
		c.printChecks(m)
		c.printFailures(m.Failures)
	}
	c.printThresholds(result.Thresholds)

	if result.Error != "" {
		c.writeln(c.colors.red.Sprintf("Error: %s", result.Error))
		c.writeln("")
	}
}

func (c *ConsoleOutput) printTotals(m *metrics.Snapshot) {
	c.writeln(fmt.Sprintf("Total Reqs:    %s", c.colors.cyan.Sprint(formatNumber(m.TotalRequests))))
	c.writeln(fmt.Sprintf("Failures:      %s", c.rateColor(m.ErrorRate).Sprint(formatNumber(m.FailedRequests))))

	successRate := 1.0 - m.ErrorRate
	c.writeln(fmt.Sprintf("Success Rate:  %s", c.rateColor(m.ErrorRate).Sprintf("%.1f%%", successRate*100)))
	c.writeln(fmt.Sprintf("Throughput:    %s", c.colors.cyan.Sprintf("%.2f req/s", m.RPS)))
	c.writeln(fmt.Sprintf("Received:      %s", humanize.Bytes(uint64(max(m.TotalBytes, 0)))))
	c.writeln("")
}

func (c *ConsoleOutput) printLatency(l metrics.LatencyStats) {
	c.writeln(c.colors.bold.Sprint("Latency Distribution:"))
	c.writeln(fmt.Sprintf("  Min:       %s", formatDurationShort(l.Min)))
	c.writeln(fmt.Sprintf("  Avg:       %s", formatDurationShort(l.Mean)))
	c.writeln(fmt.Sprintf("  P50:       %s", formatDurationShort(l.P50)))
	c.writeln(fmt.Sprintf("  P90:       %s", formatDurationShort(l.P90)))
	c.writeln(fmt.Sprintf("  P95:       %s", formatDurationShort(l.P95)))
	c.writeln(fmt.Sprintf("  P99:       %s", formatDurationShort(l.P99)))
	c.writeln(fmt.Sprintf("  Max:       %s", formatDurationShort(l.Max)))
	c.writeln("")
}

func (c *ConsoleOutput) printRequests(result *engine.TestResult) {
	names := result.RequestNames()
	if len(names) == 0 {
		return
	}
	c.writeln(c.colors.bold.Sprint("Requests:"))
	for _, name := range names {
		rs := result.RequestStats[name]
		c.writeln(fmt.Sprintf("  %-14s %10s reqs  avg %-8s p95 %-8s max %s",
			name,
			formatNumber(rs.Count),
			formatDurationShort(rs.Latency.Mean),
			formatDurationShort(rs.Latency.P95),
			formatDurationShort(rs.Latency.Max)))
	}
	c.writeln("")
}

func (c *ConsoleOutput) printScenarios(result *engine.TestResult) {
	names := result.ScenarioNames()
	if len(names) < 2 {
		for _, name := range names {
			if s := result.Scenarios[name]; s.DroppedIterations > 0 {
				c.writeln(c.colors.yellow.Sprintf("Dropped iterations: %s", formatNumber(s.DroppedIterations)))
				c.writeln("")
			}
		}
		return
	}

	c.writeln(c.colors.bold.Sprint("Scenarios:"))
	for _, name := range names {
		s := result.Scenarios[name]
		row := fmt.Sprintf("  %-12s %-11s %-22s %8s iterations",
			name, s.Request, s.Executor, formatNumber(s.Iterations))
		if s.DroppedIterations > 0 {
			row += c.colors.yellow.Sprintf(" (%s dropped)", formatNumber(s.DroppedIterations))
		}
		c.writeln(row)
	}
	c.writeln("")
}

func (c *ConsoleOutput) printChecks(m *metrics.Snapshot) {
	if len(m.Checks) == 0 {
		return
	}

	names := make([]string, 0, len(m.Checks))
	for name := range m.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	c.writeln(c.colors.bold.Sprintf("Checks: %.1f%% passed", m.CheckRate*100))
	for _, name := range names {
		cs := m.Checks[name]
		mark := c.colors.green.Sprint("✓")
		if cs.Failed > 0 {
			mark = c.colors.red.Sprint("✗")
		}
		c.writeln(fmt.Sprintf("  %s %-10s %s passed, %s failed",
			mark, name, formatNumber(cs.Passed), formatNumber(cs.Failed)))
	}
	c.writeln("")
}

func (c *ConsoleOutput) printFailures(failures []metrics.FailureStats) {
	if len(failures) == 0 {
		return
	}

	c.writeln(c.colors.bold.Sprint("Failures:"))
	c.writeln(c.colors.dim.Sprintf("  %10s  %-14s %s", "# Occur.", "Request", "Message"))
	for i, f := range failures {
		if i == maxFailureRows {
			c.writeln(c.colors.dim.Sprintf("  ... and %d more", len(failures)-maxFailureRows))
			break
		}
		c.writeln(fmt.Sprintf("  %10s  %-14s %s",
			c.colors.red.Sprint(formatNumber(f.Occurrences)),
			f.Request,
			truncate(f.Message, maxMessageWidth)))
	}
	c.writeln("")
}

func (c *ConsoleOutput) printThresholds(thresholds []engine.ThresholdResult) {
	if len(thresholds) == 0 {
		return
	}

	c.writeln(c.colors.bold.Sprint("Thresholds:"))
	for _, t := range thresholds {
		mark := c.colors.green.Sprint("✓")
		if !t.Passed {
			mark = c.colors.red.Sprint("✗")
		}
		c.writeln(fmt.Sprintf("  %s %s %s (actual: %s)", mark, t.Metric, t.Expression, t.Value))
	}
	c.writeln("")
}

// PrintNonInteractiveUpdate prints a one-line status update for non-TTY
// output such as CI logs.
func (c *ConsoleOutput) PrintNonInteractiveUpdate(stats *LiveStats) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln(fmt.Sprintf("[%s] Progress: %.0f%% | VUs: %d | Reqs: %d | RPS: %.1f | Failures: %d (%.1f%%) | P95: %s",
		formatDuration(stats.Elapsed),
		stats.Progress*100,
		stats.ActiveVUs,
		stats.TotalRequests,
		stats.CurrentRPS,
		stats.Errors,
		stats.ErrorRate*100,
		formatDurationShort(stats.LatencyP95)))
}

// IsTTY returns whether the output is a terminal.
func (c *ConsoleOutput) IsTTY() bool {
	return c.isTTY
}

func (c *ConsoleOutput) write(s string) {
	fmt.Fprint(c.writer, s)
}

func (c *ConsoleOutput) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
}

// formatDurationShort formats a latency.
func formatDurationShort(d time.Duration) string {
	if d < time.Microsecond {
		return "0ms"
	}
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}

func formatNumber(n int64) string {
	return humanize.Comma(n)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}

// visibleLen returns the printed width of s, ignoring ANSI escapes.
func visibleLen(s string) int {
	return len([]rune(stripANSI(s)))
}

// stripANSI removes ANSI escape codes from a string.
func stripANSI(s string) string {
	var result strings.Builder
	inEscape := false

	for i := 0; i < len(s); i++ {
		if s[i] == '\033' {
			inEscape = true
			continue
		}
		if inEscape {
			if (s[i] >= 'a' && s[i] <= 'z') || (s[i] >= 'A' && s[i] <= 'Z') {
				inEscape = false
			}
			continue
		}
		result.WriteByte(s[i])
	}

	return result.String()
}

// StatsFromMetrics creates LiveStats from a metrics snapshot.
func StatsFromMetrics(
	snapshot *metrics.Snapshot,
	progress float64,
	totalDuration time.Duration,
	activeVUs, targetVUs int,
	currentStage, totalStages int,
) *LiveStats {
	if snapshot == nil {
		return &LiveStats{
			Progress:     progress,
			TargetVUs:    targetVUs,
			CurrentStage: currentStage,
			TotalStages:  totalStages,
			CurrentPhase: "initializing",
		}
	}

	elapsed := snapshot.Elapsed
	remaining := time.Duration(0)
	if totalDuration > 0 {
		remaining = max(totalDuration-elapsed, 0)
	} else if progress > 0 && progress < 1 {
		remaining = time.Duration(float64(elapsed) * (1 - progress) / progress)
	}

	return &LiveStats{
		Progress:      progress,
		Elapsed:       elapsed,
		Remaining:     remaining,
		ActiveVUs:     activeVUs,
		TargetVUs:     targetVUs,
		CurrentRPS:    snapshot.RPS,
		TotalRequests: snapshot.TotalRequests,
		Errors:        snapshot.FailedRequests,
		ErrorRate:     snapshot.ErrorRate,
		LatencyP95:    snapshot.Latency.P95,
		LatencyAvg:    snapshot.Latency.Mean,
		CurrentPhase:  string(snapshot.CurrentPhase),
		CurrentStage:  currentStage,
		TotalStages:   totalStages,
	}
}
