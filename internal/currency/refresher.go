package currency

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Centace/centace/pkg/logger"
)

// Refresher keeps the rate cache warm on a cron schedule.
type Refresher struct {
	converter *Converter
	schedule  string
	log       *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
	warm    sync.WaitGroup
}

// NewRefresher creates a refresher. schedule uses robfig/cron syntax,
// including descriptors such as "@every 4h".
func NewRefresher(converter *Converter, schedule string, log *logger.Logger) *Refresher {
	if schedule == "" {
		schedule = "@every 4h"
	}
	if log == nil {
		log = logger.NewDefault("currency-refresher")
	}
	return &Refresher{converter: converter, schedule: schedule, log: log}
}

func (r *Refresher) Name() string { return "currency-refresher" }

// Start warms the cache once and schedules further refreshes.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := cron.New()
	if _, err := c.AddFunc(r.schedule, func() { r.tick(runCtx) }); err != nil {
		cancel()
		return err
	}

	r.cron = c
	r.cancel = cancel
	r.running = true
	c.Start()
	r.warm.Add(1)
	go func() {
		defer r.warm.Done()
		r.tick(runCtx)
	}()

	r.log.WithField("schedule", r.schedule).Info("currency refresher started")
	return nil
}

// Stop cancels in-flight fetches and waits for running jobs.
func (r *Refresher) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	c, cancel := r.cron, r.cancel
	r.running = false
	r.cron, r.cancel = nil, nil
	r.mu.Unlock()

	cancel()
	done := make(chan struct{})
	go func() {
		<-c.Stop().Done()
		r.warm.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.log.Info("currency refresher stopped")
	return nil
}

func (r *Refresher) tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rates, err := r.converter.Refresh(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.log.WithError(err).Warn("exchange rate refresh failed")
		}
		return
	}
	r.log.WithField("currencies", len(rates.Rates)).Debug("exchange rates refreshed")
}
