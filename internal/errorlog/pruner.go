package errorlog

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Centace/centace/pkg/logger"
)

// DefaultRetention is how long error reports are kept.
const DefaultRetention = 30 * 24 * time.Hour

// Pruner deletes reports older than the retention period once a day.
type Pruner struct {
	store     Store
	retention time.Duration
	schedule  string
	log       *logger.Logger
	now       func() time.Time

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

// NewPruner creates a pruner.
func NewPruner(store Store, retention time.Duration, log *logger.Logger) *Pruner {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if log == nil {
		log = logger.NewDefault("error-log-pruner")
	}
	return &Pruner{store: store, retention: retention, schedule: "@daily", log: log, now: time.Now}
}

func (p *Pruner) Name() string { return "error-log-pruner" }

func (p *Pruner) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cron != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	c := cron.New()
	if _, err := c.AddFunc(p.schedule, func() { _, _ = p.PruneOnce(runCtx) }); err != nil {
		cancel()
		return err
	}
	c.Start()
	p.cron, p.cancel = c, cancel
	p.log.WithField("retention", p.retention.String()).Info("error log pruner started")
	return nil
}

func (p *Pruner) Stop(ctx context.Context) error {
	p.mu.Lock()
	c, cancel := p.cron, p.cancel
	p.cron, p.cancel = nil, nil
	p.mu.Unlock()
	if c == nil {
		return nil
	}
	cancel()
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PruneOnce deletes expired reports and returns how many were removed.
func (p *Pruner) PruneOnce(ctx context.Context) (int64, error) {
	cutoff := p.now().Add(-p.retention)
	n, err := p.store.Prune(ctx, cutoff)
	if err != nil {
		p.log.WithError(err).Warn("error log prune failed")
		return 0, err
	}
	if n > 0 {
		p.log.WithField("deleted", n).Info("pruned error logs")
	}
	return n, nil
}
