package executor

import (
	"slices"
	"time"

	"github.com/djkazic/cpuminer-go/internal/event"
	"github.com/djkazic/cpuminer-go/internal/metrics"

	"go.uber.org/zap"
)

const (
	resultOK           = "[OK]"
	resultNetworkError = "[NETWORK ERROR]"

	topResults = 10
	maxSockLog = 1000

	// maxReasonLabel bounds the rejection text used as a metric label.
	maxReasonLabel = 64
)

type resultTally struct {
	msg   string
	count uint64
	last  time.Time
}

type sockError struct {
	at  time.Time
	msg string
}

func (e *Executor) logResultOK(diff uint64) {
	e.poolHashes += e.poolDiff

	if last := len(e.topDiff) - 1; diff > e.topDiff[last] {
		e.topDiff[last] = diff
		slices.Sort(e.topDiff[:])
		slices.Reverse(e.topDiff[:])
	}

	e.results[0].count++
	e.results[0].last = e.now()
}

func (e *Executor) logResultError(msg string) {
	label := msg
	if len(label) > maxReasonLabel {
		label = label[:maxReasonLabel]
	}
	metrics.SharesRejected.WithLabelValues(label).Inc()

	for i := 1; i < len(e.results); i++ {
		if e.results[i].msg == msg {
			e.results[i].count++
			e.results[i].last = e.now()
			return
		}
	}
	e.results = append(e.results, resultTally{msg: msg, count: 1, last: e.now()})
}

// logSocketError records a connection failure and asks for the pool choice
// to be re-evaluated.
func (e *Executor) logSocketError(msg string) {
	entry := sockError{at: e.now(), msg: "[" + e.pool.Address() + "] " + msg}
	if len(e.sockLog) >= maxSockLog {
		copy(e.sockLog, e.sockLog[1:])
		e.sockLog = e.sockLog[:len(e.sockLog)-1]
	}
	e.sockLog = append(e.sockLog, entry)

	e.logger.Warn("socket error", zap.String("error", entry.msg))
	e.queue.Push(event.EvalPoolChoice{})
}
