package abpfilter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// Default values of the auto-saver.
const (
	defaultSaveDebounce = 3 * time.Second
	defaultSaveMaxWait  = 15 * time.Second
)

// autoSaver calls save after the changes stop for the debounce period, but no
// later than maxWait after the first unsaved change.
type autoSaver struct {
	logger *slog.Logger
	save   func(ctx context.Context) (err error)

	// mu protects timer, firstChange, and closed.
	mu          *sync.Mutex
	timer       *time.Timer
	firstChange time.Time

	debounce time.Duration
	maxWait  time.Duration
	closed   bool
}

// newAutoSaver returns a new *autoSaver.  Zero durations are replaced with
// the defaults.
func newAutoSaver(
	logger *slog.Logger,
	save func(ctx context.Context) (err error),
	debounce time.Duration,
	maxWait time.Duration,
) (a *autoSaver) {
	if debounce <= 0 {
		debounce = defaultSaveDebounce
	}

	if maxWait <= 0 {
		maxWait = defaultSaveMaxWait
	}

	return &autoSaver{
		logger:   logger,
		save:     save,
		mu:       &sync.Mutex{},
		debounce: debounce,
		maxWait:  maxWait,
	}
}

// changeOccurred schedules a save.
func (a *autoSaver) changeOccurred() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()

		return
	}

	now := time.Now()
	if a.firstChange.IsZero() {
		a.firstChange = now
	}

	if now.Sub(a.firstChange) < a.maxWait {
		if a.timer == nil {
			a.timer = time.AfterFunc(a.debounce, a.onTimer)
		} else {
			a.timer.Reset(a.debounce)
		}

		a.mu.Unlock()

		return
	}
	a.mu.Unlock()

	a.saveIfNecessary(context.Background())
}

// onTimer is called by the timer.
func (a *autoSaver) onTimer() {
	a.saveIfNecessary(context.Background())
}

// saveIfNecessary saves the changes, if there are any.
func (a *autoSaver) saveIfNecessary(ctx context.Context) (err error) {
	a.mu.Lock()
	pending := !a.firstChange.IsZero()
	a.firstChange = time.Time{}
	if a.timer != nil {
		a.timer.Stop()
	}
	a.mu.Unlock()

	if !pending {
		return nil
	}

	err = a.save(ctx)
	if err != nil {
		a.logger.ErrorContext(ctx, "saving", slogutil.KeyError, err)
	}

	return err
}

// close saves the pending changes and stops scheduling saves.
func (a *autoSaver) close(ctx context.Context) (err error) {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	return a.saveIfNecessary(ctx)
}
