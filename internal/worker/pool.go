package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/example/qubectalk/internal/qubectalk/compiler"
	"github.com/example/qubectalk/internal/qubectalk/simulate"
)

// TrialPoolConfig bounds how many trials of one simulation run run
// concurrently. This is distinct from jobqueue.Worker, which parallelizes
// across queued jobs: TrialPool parallelizes the trials *within* a single
// job, fanning (simulation, trial) pairs out across a fixed worker pool.
type TrialPoolConfig struct {
	PoolSize int
}

// DefaultTrialPoolConfig bounds concurrency to a modest worker count so a
// single large trial count can't starve the rest of a worker process.
func DefaultTrialPoolConfig() TrialPoolConfig {
	return TrialPoolConfig{PoolSize: 8}
}

// TrialPool executes simulate.RunTrial calls for one compiler.Simulation
// concurrently, bounded by a semaphore channel.
type TrialPool struct {
	logger *slog.Logger
	config TrialPoolConfig
	tokens chan struct{}
}

// NewTrialPool creates a TrialPool with the given config.
func NewTrialPool(config TrialPoolConfig, logger *slog.Logger) *TrialPool {
	if config.PoolSize <= 0 {
		config = DefaultTrialPoolConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TrialPool{
		logger: logger.With("component", "trial-pool"),
		config: config,
		tokens: make(chan struct{}, config.PoolSize),
	}
}

// Run executes every trial of sim concurrently (bounded by PoolSize) and
// returns a simulate.SimulationResult with trials in their original
// trial-number order, matching simulate.Run's sequential ordering.
func (p *TrialPool) Run(ctx context.Context, prog *compiler.Program, sim *compiler.Simulation, opts simulate.Options) (simulate.SimulationResult, error) {
	stanzaNames := make([]string, 0, len(sim.StanzaNames)+1)
	stanzaNames = append(stanzaNames, "default")
	stanzaNames = append(stanzaNames, sim.StanzaNames...)

	results := make([]simulate.TrialResult, sim.Trials)

	var wg sync.WaitGroup
	for trial := 1; trial <= sim.Trials; trial++ {
		trial := trial

		select {
		case p.tokens <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return simulate.SimulationResult{}, fmt.Errorf("trial pool: %w", ctx.Err())
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-p.tokens }()

			results[trial-1] = simulate.RunTrial(prog, sim, stanzaNames, trial, opts)
		}()
	}

	wg.Wait()

	if ctx.Err() != nil {
		return simulate.SimulationResult{}, fmt.Errorf("trial pool: %w", ctx.Err())
	}

	p.logger.Info("trial pool completed run", "simulation", sim.Name, "trials", sim.Trials, "pool_size", p.config.PoolSize)
	return simulate.SimulationResult{Name: sim.Name, Trials: results}, nil
}

// RunProgram fans every simulation in prog out through Run, preserving
// declaration order across simulations the same way simulate.Run does.
func (p *TrialPool) RunProgram(ctx context.Context, prog *compiler.Program, opts simulate.Options) ([]simulate.SimulationResult, error) {
	out := make([]simulate.SimulationResult, 0, len(prog.Simulations))
	for _, sim := range prog.Simulations {
		sr, err := p.Run(ctx, prog, sim, opts)
		if err != nil {
			return nil, fmt.Errorf("trial pool: simulation %q: %w", sim.Name, err)
		}
		out = append(out, sr)
	}
	return out, nil
}
