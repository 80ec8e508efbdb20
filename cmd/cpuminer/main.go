package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/djkazic/cpuminer-go/internal/api"
	"github.com/djkazic/cpuminer-go/internal/config"
	"github.com/djkazic/cpuminer-go/internal/event"
	"github.com/djkazic/cpuminer-go/internal/executor"
	"github.com/djkazic/cpuminer-go/internal/kernel"
	"github.com/djkazic/cpuminer-go/internal/metrics"
	"github.com/djkazic/cpuminer-go/internal/pool"
	"github.com/djkazic/cpuminer-go/internal/tuning"
	"github.com/djkazic/cpuminer-go/internal/work"
	"github.com/djkazic/cpuminer-go/internal/worker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	os.Exit(run())
}

func run() int {
	configFlag := flag.String("config", "cpuminer.toml", "path to config file")
	poolFlag := flag.String("pool", "", "override pool address (host:port or /dns4/host/tcp/port)")
	userFlag := flag.String("user", "", "override pool login")
	passFlag := flag.String("pass", "", "override pool password")
	threadsFlag := flag.Int("threads", 0, "limit or extend the thread layout to n threads (0 keeps layout)")
	kernelFlag := flag.String("kernel", "", "override hash kernel ("+strings.Join(kernel.Names(), ", ")+")")
	httpFlag := flag.String("http", "", "override metrics/report HTTP listen address")
	dataDirFlag := flag.String("data-dir", "", "override data directory")
	debugFlag := flag.Bool("debug", false, "enable debug logging")
	exampleFlag := flag.Bool("example-config", false, "print an example config and exit")
	flag.Parse()

	if *exampleFlag {
		data, err := config.ExampleTOML()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		os.Stdout.Write(data)
		return 0
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if *poolFlag != "" {
		cfg.Pool.Address = *poolFlag
	}
	if *userFlag != "" {
		cfg.Pool.Login = *userFlag
	}
	if *passFlag != "" {
		cfg.Pool.Pass = *passFlag
	}
	if *kernelFlag != "" {
		cfg.CPU.Kernel = *kernelFlag
	}
	if *httpFlag != "" {
		cfg.Metrics.Listen = *httpFlag
	}
	if *dataDirFlag != "" {
		cfg.DataDir = *dataDirFlag
	}

	logger, err := newLogger(*debugFlag, cfg.Report.Verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := mine(ctx, cfg, *threadsFlag, logger); err != nil {
		if !errors.Is(err, executor.ErrGaveUp) {
			logger.Error("fatal", zap.Error(err))
		}
		return 1
	}
	return 0
}

func newLogger(debug bool, verbose int) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	level := zapcore.InfoLevel
	if verbose <= 0 {
		level = zapcore.WarnLevel
	}
	if debug {
		zcfg = zap.NewDevelopmentConfig()
		level = zapcore.DebugLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func mine(ctx context.Context, cfg *config.Config, threads int, logger *zap.Logger) error {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	machineID, err := metrics.LoadOrCreateMachineID(cfg.DataDir)
	if err != nil {
		return err
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := metrics.Register(reg, machineID); err != nil {
		return err
	}

	k, err := kernel.Lookup(cfg.CPU.Kernel, kernel.Options{Argon2MemoryKB: cfg.CPU.Argon2MemoryKB})
	if err != nil {
		return err
	}

	layout, err := resolveLayout(cfg, k, logger)
	if err != nil {
		return err
	}
	layout = tuning.Limit(layout, threads)

	state := work.NewState(logger)
	queue := event.NewQueue()

	wcfgs := make([]worker.Config, len(layout))
	for i, t := range layout {
		wcfgs[i] = worker.Config{
			ID:           i,
			BatchFactor:  t.BatchFactor,
			Affinity:     t.Affinity,
			PollInterval: cfg.PollInterval(),
			NonceChunk:   cfg.CPU.NonceChunk,
		}
	}
	workers, err := worker.StartAll(wcfgs, state, k, queue, worker.StartOptions{
		TolerateLowMemory: cfg.CPU.TolerateLowMemory,
	}, logger)
	if err != nil {
		return err
	}
	defer worker.StopAll(workers)
	metrics.WorkersRunning.Set(float64(len(workers)))
	logger.Info("workers started",
		zap.String("kernel", k.Name()),
		zap.Int("threads", len(workers)),
		zap.String("machine_id", machineID))

	session := pool.NewSession(pool.Config{
		Address:     cfg.Pool.Address,
		Login:       cfg.Pool.Login,
		Pass:        cfg.Pool.Pass,
		Agent:       cfg.Pool.Agent + " " + machineID[:8],
		CallTimeout: cfg.CallTimeout(),
	}, queue, logger)

	execWorkers := make([]executor.Worker, len(workers))
	for i, w := range workers {
		execWorkers[i] = w
	}
	exec := executor.New(executor.Config{
		NetRetry:    cfg.NetRetry(),
		MaxBackoff:  cfg.MaxBackoff(),
		GiveUpLimit: cfg.Network.GiveUpLimit,
		Verbose:     cfg.Report.Verbose,
		Autohash:    cfg.Autohash(),
		PrintMotd:   cfg.Report.PrintMotd,
	}, queue, state, session, execWorkers, os.Stdout, logger)

	if cfg.Metrics.Listen != "" {
		srv := api.New(exec, reg, logger)
		if err := srv.Start(cfg.Metrics.Listen); err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(sctx)
		}()
	}

	go console(os.Stdin, exec)

	return exec.Run(ctx)
}

// resolveLayout picks the thread layout, caching detected layouts in the
// data dir. A store that cannot be opened only disables caching.
func resolveLayout(cfg *config.Config, k kernel.Kernel, logger *zap.Logger) ([]tuning.ThreadConfig, error) {
	store, err := tuning.OpenStore(filepath.Join(cfg.DataDir, "tuning.db"), logger)
	if err != nil {
		logger.Warn("layout cache unavailable", zap.Error(err))
		store = nil
	} else {
		defer store.Close()
	}

	layout, src, err := tuning.Resolve(cfg.CPU.Threads, store, tuning.HostDetector{}, k.Name(), k.MemoryPerLane(), logger)
	if err != nil {
		return nil, err
	}
	logger.Info("thread layout", zap.String("source", string(src)), zap.Int("threads", len(layout)))
	return layout, nil
}

// console maps h, r and c to the hashrate, result and connection reports.
func console(r io.Reader, sink event.Sink) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		switch line[0] {
		case 'h':
			sink.Push(event.UserHashrate{})
		case 'r':
			sink.Push(event.UserResults{})
		case 'c':
			sink.Push(event.UserConnStat{})
		}
	}
}
