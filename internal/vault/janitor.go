package vault

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Janitor runs CleanupExpired on a fixed interval in its own goroutine. It
// never holds foreground calls up: each sweep is an ordinary store call on
// its own context.
type Janitor struct {
	store    Store
	interval time.Duration
	audit    func(removed int)
	logger   *zap.Logger
	stop     chan struct{}
	done     chan struct{}
}

// NewJanitor builds a janitor. audit may be nil; a non-positive interval
// disables the sweep loop.
func NewJanitor(store Store, interval time.Duration, audit func(removed int), logger *zap.Logger) *Janitor {
	return &Janitor{
		store:    store,
		interval: interval,
		audit:    audit,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop. With a non-positive interval nothing runs
// and Stop remains safe to call.
func (j *Janitor) Start() {
	if j.interval <= 0 {
		close(j.done)
		j.logger.Info("Vault janitor disabled")
		return
	}
	go j.run()
	j.logger.Info("Vault janitor started", zap.Duration("interval", j.interval))
}

func (j *Janitor) run() {
	defer close(j.done)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.sweep()
		case <-j.stop:
			return
		}
	}
}

func (j *Janitor) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	removed, err := j.store.CleanupExpired(ctx)
	if err != nil {
		j.logger.Warn("Vault cleanup sweep failed", zap.Error(err))
		return
	}
	if removed > 0 {
		j.logger.Info("Vault cleanup sweep complete", zap.Int("removed", removed))
		if j.audit != nil {
			j.audit(removed)
		}
	}
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (j *Janitor) Stop() {
	close(j.stop)
	<-j.done
}
