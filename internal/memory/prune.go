package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultPruneSchedule runs retention cleanup daily at 03:00.
const DefaultPruneSchedule = "0 3 * * *"

// Pruner periodically deletes memory older than the retention window.
type Pruner struct {
	store     *Store
	retention time.Duration
	cron      *cron.Cron
	log       zerolog.Logger
}

// NewPruner schedules retention cleanup on store. A zero retention
// disables pruning and Start becomes a no-op.
func NewPruner(store *Store, schedule string, retention time.Duration) (*Pruner, error) {
	if schedule == "" {
		schedule = DefaultPruneSchedule
	}
	p := &Pruner{
		store:     store,
		retention: retention,
		cron:      cron.New(),
		log:       log.With().Str("component", "memory-pruner").Logger(),
	}
	if retention <= 0 {
		return p, nil
	}
	if _, err := p.cron.AddFunc(schedule, p.run); err != nil {
		return nil, fmt.Errorf("schedule memory prune %q: %w", schedule, err)
	}
	return p, nil
}

// Start begins the schedule.
func (p *Pruner) Start() {
	if p.retention <= 0 {
		p.log.Info().Msg("memory retention disabled")
		return
	}
	p.cron.Start()
	p.log.Info().Dur("retention", p.retention).Msg("memory pruner started")
}

// Stop halts the schedule and waits for a running prune to finish.
func (p *Pruner) Stop() {
	ctx := p.cron.Stop()
	<-ctx.Done()
}

// Run blocks until ctx is cancelled.
func (p *Pruner) Run(ctx context.Context) error {
	p.Start()
	<-ctx.Done()
	p.Stop()
	return nil
}

func (p *Pruner) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := p.store.Prune(ctx, p.retention)
	if err != nil {
		p.log.Error().Err(err).Msg("prune failed")
		return
	}
	p.log.Info().Int64("deleted", n).Msg("pruned old memory")
}
