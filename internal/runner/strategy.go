package runner

import (
	"fmt"
	"strings"

	"github.com/alexisbeaulieu97/sqlflow/internal/graph"
	"github.com/alexisbeaulieu97/sqlflow/internal/planner"
)

// Strategy selects how aggressively a run parallelizes and chunks.
type Strategy string

const (
	// StrategyCompatibility runs one step at a time. Safest, slowest.
	StrategyCompatibility Strategy = "compatibility"
	// StrategyAuto balances parallelism against graph width.
	StrategyAuto Strategy = "auto"
	// StrategyMemoryOptimized trades speed for small chunks and few workers.
	StrategyMemoryOptimized Strategy = "memory_optimized"
	// StrategySpeedOptimized maximizes workers and chunk size.
	StrategySpeedOptimized Strategy = "speed_optimized"
	// StrategyHybrid splits IO-bound and CPU-bound steps into separate pools.
	StrategyHybrid Strategy = "hybrid"
)

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyCompatibility:
		return StrategyCompatibility, nil
	case StrategyAuto, "":
		return StrategyAuto, nil
	case StrategyMemoryOptimized:
		return StrategyMemoryOptimized, nil
	case StrategySpeedOptimized:
		return StrategySpeedOptimized, nil
	case StrategyHybrid:
		return StrategyHybrid, nil
	default:
		return "", fmt.Errorf("unknown execution strategy %q (want compatibility, auto, memory_optimized, speed_optimized or hybrid)", s)
	}
}

// Settings are the concrete knobs a strategy resolves to for one graph.
type Settings struct {
	// Workers bounds concurrently running steps (the IO pool under hybrid).
	Workers int
	// CPUWorkers bounds concurrently running CPU-heavy steps under hybrid;
	// zero means no separate pool.
	CPUWorkers int
	// ChunkSize is the connector read chunk size in rows.
	ChunkSize int
}

// Resolve maps a strategy to settings for the given graph. Auto caps the
// worker count at the widest level, never exceeding 5.
func (s Strategy) Resolve(g *graph.Graph) Settings {
	switch s {
	case StrategyCompatibility:
		return Settings{Workers: 1, ChunkSize: 1000}
	case StrategyMemoryOptimized:
		return Settings{Workers: 2, ChunkSize: 500}
	case StrategySpeedOptimized:
		return Settings{Workers: 10, ChunkSize: 2000}
	case StrategyHybrid:
		return Settings{Workers: 6, CPUWorkers: 2, ChunkSize: 1000}
	default:
		width := 1
		for _, level := range g.TopologicalLevels() {
			if len(level) > width {
				width = len(level)
			}
		}
		if width > 5 {
			width = 5
		}
		return Settings{Workers: width, ChunkSize: 1000}
	}
}

// cpuHeavy reports whether a step is dominated by engine compute rather
// than connector IO. Window functions, recursive CTEs and cross joins are
// the usual offenders.
func cpuHeavy(op *planner.Operation) bool {
	if op.Transform == nil {
		return false
	}
	upper := strings.ToUpper(op.Transform.SQL)
	return strings.Contains(upper, "OVER (") ||
		strings.Contains(upper, "OVER(") ||
		strings.Contains(upper, "RECURSIVE") ||
		strings.Contains(upper, "CROSS JOIN")
}
