package tuning

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Source says where a resolved layout came from.
type Source string

const (
	SourceConfig   Source = "config"
	SourceStored   Source = "stored"
	SourceDetected Source = "detected"
)

// Resolve picks the thread layout: explicit configuration first, then a
// layout stored for this host, then a freshly planned one, which is saved.
// store may be nil.
func Resolve(explicit []ThreadConfig, store *Store, det Detector, kernelName string, memPerLane uint64, logger *zap.Logger) ([]ThreadConfig, Source, error) {
	if len(explicit) > 0 {
		if !validLayout(explicit) {
			return nil, "", fmt.Errorf("configured thread layout has a batch factor outside 1..%d", maxBatch)
		}
		return explicit, SourceConfig, nil
	}

	info, err := det.CPUInfo()
	if err != nil {
		return nil, "", fmt.Errorf("detect cpu: %w", err)
	}
	fp := Fingerprint(info, kernelName)

	if store != nil {
		l, ok, err := store.Load(fp)
		switch {
		case err != nil:
			logger.Warn("ignoring unreadable stored layout", zap.Error(err))
		case ok && validLayout(l.Threads):
			return l.Threads, SourceStored, nil
		case ok:
			logger.Warn("ignoring invalid stored layout", zap.String("fingerprint", fp))
		}
	}

	threads := Plan(info, memPerLane)
	logger.Info("detected thread layout",
		zap.String("cpu", info.ModelName),
		zap.Int("threads", len(threads)),
		zap.Int("batch", threads[0].BatchFactor),
		zap.Int("l3_kb", info.L3CacheKB))

	if store != nil {
		if err := store.Save(fp, &Layout{Threads: threads, CreatedAt: time.Now().Unix()}); err != nil {
			logger.Warn("could not save layout", zap.Error(err))
		}
	}
	return threads, SourceDetected, nil
}

// Limit returns at most n threads of layout. Extra threads beyond the layout
// reuse the last batch factor and run unpinned. n <= 0 returns layout as is.
func Limit(layout []ThreadConfig, n int) []ThreadConfig {
	if n <= 0 || len(layout) == 0 {
		return layout
	}
	if n <= len(layout) {
		return layout[:n]
	}
	out := make([]ThreadConfig, n)
	copy(out, layout)
	last := layout[len(layout)-1].BatchFactor
	for i := len(layout); i < n; i++ {
		out[i] = ThreadConfig{BatchFactor: last, Affinity: -1}
	}
	return out
}
