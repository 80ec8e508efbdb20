package executor

import (
	"context"
	"time"

	"github.com/djkazic/cpuminer-go/internal/event"
)

// clock feeds the loop: PerfTick on every tick, EvalPoolChoice on every
// fourth, and any timed event whose countdown reaches zero.
func (e *Executor) clock(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Tick)
	defer ticker.Stop()

	var n uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(n)
			n++
		}
	}
}

func (e *Executor) tick(n uint64) {
	e.queue.Push(event.PerfTick{})
	if n&3 == 0 {
		e.queue.Push(event.EvalPoolChoice{})
	}

	e.timedMu.Lock()
	kept := e.timed[:0]
	for _, te := range e.timed {
		te.ticksLeft--
		if te.ticksLeft <= 0 {
			e.queue.Push(te.ev)
			continue
		}
		kept = append(kept, te)
	}
	for i := len(kept); i < len(e.timed); i++ {
		e.timed[i] = timedEvent{}
	}
	e.timed = kept
	e.timedMu.Unlock()
}

// pushTimed queues ev for delivery after the given delay, rounded down to
// whole ticks and at least one.
func (e *Executor) pushTimed(ev event.Event, after time.Duration) {
	ticks := int(after / e.cfg.Tick)
	if ticks < 1 {
		ticks = 1
	}
	e.timedMu.Lock()
	e.timed = append(e.timed, timedEvent{ev: ev, ticksLeft: ticks})
	e.timedMu.Unlock()
}

func (e *Executor) pendingTimed() int {
	e.timedMu.Lock()
	defer e.timedMu.Unlock()
	return len(e.timed)
}
