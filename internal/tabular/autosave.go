package tabular

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultQuietPeriod is how long the grid must stay untouched before an
// auto-save runs.
const DefaultQuietPeriod = 2 * time.Second

const saveTimeout = 2 * time.Minute

// ErrSaveInFlight is reported when an auto-save fires while the previous
// one is still running.
var ErrSaveInFlight = errors.New("auto-save already running")

// AutoSaver debounces saves: every Touch restarts the quiet period and the
// save runs once the period elapses without further edits.
type AutoSaver struct {
	quiet   time.Duration
	pending func() bool
	save    func(ctx context.Context) error
	done    func(error)

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	stopped bool
	running atomic.Bool
}

// NewAutoSaver returns a saver that calls save when pending reports work.
// done, when set, receives the outcome of every attempted save.
func NewAutoSaver(quiet time.Duration, pending func() bool, save func(ctx context.Context) error, done func(error)) *AutoSaver {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	return &AutoSaver{quiet: quiet, pending: pending, save: save, done: done}
}

// Touch (re)starts the quiet period.
func (a *AutoSaver) Touch() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	if a.timer != nil {
		a.timer.Stop()
	}
	a.gen++
	gen := a.gen
	a.timer = time.AfterFunc(a.quiet, func() { a.fire(gen) })
}

// Scheduled reports whether a save is waiting for the quiet period.
func (a *AutoSaver) Scheduled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.timer != nil
}

// Cancel drops a scheduled save without stopping the saver.
func (a *AutoSaver) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dropTimerLocked()
}

// Stop cancels any scheduled save; later Touch calls are ignored.
func (a *AutoSaver) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	a.dropTimerLocked()
}

func (a *AutoSaver) dropTimerLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.gen++
}

// fire runs when the timer of generation gen elapses. A timer that was
// replaced or cancelled after it started firing does nothing.
func (a *AutoSaver) fire(gen uint64) {
	a.mu.Lock()
	if gen != a.gen {
		a.mu.Unlock()
		return
	}
	a.timer = nil
	a.mu.Unlock()

	if !a.pending() {
		return
	}
	if !a.running.CompareAndSwap(false, true) {
		log.Printf("tabular: auto-save skipped, previous save still running")
		a.report(ErrSaveInFlight)
		return
	}
	defer a.running.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	err := a.save(ctx)
	if err != nil {
		log.Printf("tabular: auto-save failed: %v", err)
	}
	a.report(err)
}

func (a *AutoSaver) report(err error) {
	if a.done != nil {
		a.done(err)
	}
}
