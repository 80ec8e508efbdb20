package worker

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/djkazic/cpuminer-go/internal/event"
	"github.com/djkazic/cpuminer-go/internal/kernel"
	"github.com/djkazic/cpuminer-go/internal/work"

	"github.com/remeh/sizedwaitgroup"
	"go.uber.org/zap"
)

// ErrNoBackend is returned when no worker could be started.
var ErrNoBackend = errors.New("no miner backend enabled")

// StartOptions controls how workers are brought up.
type StartOptions struct {
	// TolerateLowMemory lets a worker fall back to a single lane when the
	// kernel cannot allocate scratch memory for all of them.
	TolerateLowMemory bool
}

// StartAll allocates kernel contexts for every configured worker, verifies
// the kernel once per batch factor, and starts the workers that are usable.
// Returned workers are numbered from 0 in configuration order.
func StartAll(cfgs []Config, state *work.State, k kernel.Kernel, sink event.Sink, opts StartOptions, logger *zap.Logger) ([]*Worker, error) {
	logger = logger.Named("worker")

	tested := selfTestFactors(cfgs, k, opts, logger)

	batches := make([]*kernel.Batch, len(cfgs))
	var mu sync.Mutex
	swg := sizedwaitgroup.New(runtime.NumCPU())
	for i, cfg := range cfgs {
		if !tested[cfg.BatchFactor] {
			continue
		}
		swg.Add()
		go func(i int, cfg Config) {
			defer swg.Done()
			b, err := allocBatch(k, cfg, opts, logger)
			if err != nil {
				logger.Error("worker disabled", zap.Int("config", i), zap.Error(err))
				return
			}
			mu.Lock()
			batches[i] = b
			mu.Unlock()
		}(i, cfg)
	}
	swg.Wait()

	var workers []*Worker
	for i, cfg := range cfgs {
		if batches[i] == nil {
			continue
		}
		cfg.ID = len(workers)
		w := New(cfg, state, batches[i], sink, logger)
		if cfg.Affinity >= 0 {
			logger.Info("starting worker",
				zap.Int("worker", cfg.ID),
				zap.Int("batch", w.BatchFactor()),
				zap.Int("affinity", cfg.Affinity),
			)
		} else {
			logger.Info("starting worker, no affinity",
				zap.Int("worker", cfg.ID),
				zap.Int("batch", w.BatchFactor()),
			)
		}
		workers = append(workers, w)
	}

	if len(workers) == 0 {
		return nil, fmt.Errorf("%w: kernel %s", ErrNoBackend, k.Name())
	}
	for _, w := range workers {
		w.Start()
	}
	return workers, nil
}

// selfTestFactors runs the kernel self test for every distinct batch factor
// in cfgs and reports which ones passed. A factor that only fails for lack of
// memory passes if low memory is tolerated and the single lane test passes.
func selfTestFactors(cfgs []Config, k kernel.Kernel, opts StartOptions, logger *zap.Logger) map[int]bool {
	seen := make(map[int]bool)
	for _, cfg := range cfgs {
		seen[cfg.BatchFactor] = false
	}
	factors := make([]int, 0, len(seen))
	for n := range seen {
		factors = append(factors, n)
	}
	sort.Ints(factors)

	for _, n := range factors {
		err := kernel.SelfTest(k, n)
		if errors.Is(err, kernel.ErrInsufficientMemory) && opts.TolerateLowMemory && n > 1 {
			err = kernel.SelfTest(k, 1)
		}
		if err != nil {
			logger.Error("kernel self test failed", zap.Int("batch", n), zap.Error(err))
			continue
		}
		seen[n] = true
	}
	return seen
}

func allocBatch(k kernel.Kernel, cfg Config, opts StartOptions, logger *zap.Logger) (*kernel.Batch, error) {
	b, err := kernel.NewBatch(k, cfg.BatchFactor)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, kernel.ErrInsufficientMemory) || !opts.TolerateLowMemory || cfg.BatchFactor == 1 {
		return nil, err
	}

	logger.Warn("not enough memory for all lanes, falling back to a single lane",
		zap.Int("batch", cfg.BatchFactor),
		zap.Error(err),
	)
	return kernel.NewBatch(k, 1)
}

// StopAll stops every worker and waits for them to exit.
func StopAll(workers []*Worker) {
	for _, w := range workers {
		w.Stop()
	}
	for _, w := range workers {
		w.Wait()
	}
}
