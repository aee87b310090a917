package sim

import (
	"context"
	"log"
	"time"

	"github.com/rail-mind/railmind/internal/timeutil"
)

// RunRealtime paces tick execution on a wall clock until the context is
// cancelled or the configured tick budget is exhausted. step runs one tick
// and hands back its change record; a nil step uses the engine's own Tick,
// a nil clock the real one. The callback observes each change record;
// callback errors are logged and swallowed so a failing observer cannot
// stop the loop. The cadence parameters are fixed when the loop starts.
func (e *Engine) RunRealtime(ctx context.Context, clock timeutil.Clock, step func() *ChangeRecord, fn func(*ChangeRecord) error) error {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if step == nil {
		step = e.Tick
	}
	pause := time.Duration(e.cfg.TickRealSeconds * float64(time.Second))
	max := e.cfg.MaxTicks
	if max > 0 && e.tick >= max {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		rec := step()
		if fn != nil {
			if err := fn(rec); err != nil {
				log.Printf("[sim] tick %d: observer error: %v", rec.Tick, err)
			}
		}
		if max > 0 && rec.Tick >= max {
			return nil
		}
		if pause <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(pause):
		}
	}
}
