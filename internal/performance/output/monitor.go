package output

import (
	"context"
	"time"

	"github.com/wesleyorama2/matchload/internal/performance/executor"
	"github.com/wesleyorama2/matchload/internal/performance/metrics"
)

// Source is the view of a running test the monitor polls.
type Source interface {
	GetMetrics() *metrics.Snapshot
	GetProgress() float64
	GetScenarioStats() map[string]*executor.Stats
	ActiveVUs() int
}

// Monitor refreshes the console from a running test until ctx is done.
func Monitor(ctx context.Context, console *ConsoleOutput, src Source, totalDuration time.Duration, targetVUs int) {
	ticker := time.NewTicker(console.updateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stage, stages := stageInfo(src.GetScenarioStats())
			stats := StatsFromMetrics(src.GetMetrics(), src.GetProgress(), totalDuration,
				src.ActiveVUs(), targetVUs, stage, stages)
			stats.Dropped = droppedIterations(src.GetScenarioStats())

			if console.IsTTY() {
				console.Update(stats)
			} else {
				console.PrintNonInteractiveUpdate(stats)
			}
		}
	}
}

// stageInfo reports the stage of the first staged scenario.
func stageInfo(stats map[string]*executor.Stats) (int, int) {
	best := ""
	for name, s := range stats {
		if s == nil || s.TotalStages == 0 {
			continue
		}
		if best == "" || name < best {
			best = name
		}
	}
	if best == "" {
		return 0, 0
	}
	s := stats[best]
	return s.CurrentStage + 1, s.TotalStages
}

func droppedIterations(stats map[string]*executor.Stats) int64 {
	var total int64
	for _, s := range stats {
		if s != nil {
			total += s.DroppedIterations
		}
	}
	return total
}
