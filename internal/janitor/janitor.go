// Package janitor runs scheduled maintenance: message log retention and
// idle session expiry.
package janitor

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/twinelabs/twine/internal/registry"
	"github.com/twinelabs/twine/internal/store"
)

// sweepTimeout bounds a single pruning pass.
const sweepTimeout = time.Minute

// Janitor prunes old messages and expires idle sessions on a cron
// schedule. Retention only applies when the message log implements
// store.Pruner; backends with native TTL skip it.
type Janitor struct {
	cron       *cron.Cron
	log        store.MessageLog
	registry   *registry.Registry
	retention  time.Duration
	sessionTTL time.Duration
}

// New creates a janitor. A zero retention or session TTL disables that
// sweep.
func New(msgLog store.MessageLog, reg *registry.Registry, retention, sessionTTL time.Duration) *Janitor {
	return &Janitor{
		cron:       cron.New(),
		log:        msgLog,
		registry:   reg,
		retention:  retention,
		sessionTTL: sessionTTL,
	}
}

// Start schedules the sweep and starts the cron runner.
func (j *Janitor) Start(schedule string) error {
	if _, err := j.cron.AddFunc(schedule, func() {
		j.Sweep(context.Background(), time.Now())
	}); err != nil {
		return err
	}
	j.cron.Start()

	log.Info().Str("schedule", schedule).Msg("janitor started")
	return nil
}

// Stop halts the cron runner and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// Sweep runs one maintenance pass.
func (j *Janitor) Sweep(ctx context.Context, now time.Time) {
	if j.sessionTTL > 0 {
		if expired := j.registry.ExpireIdle(now.Add(-j.sessionTTL)); expired > 0 {
			log.Info().Int("expired", expired).Msg("expired idle sessions")
		}
	}

	if j.retention <= 0 {
		return
	}
	pruner, ok := j.log.(store.Pruner)
	if !ok {
		return
	}

	sweepCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	pruned, err := pruner.PruneBefore(sweepCtx, now.Add(-j.retention))
	if err != nil {
		log.Error().Err(err).Msg("message retention sweep failed")
		return
	}
	if pruned > 0 {
		log.Info().Int("pruned", pruned).Msg("pruned expired messages")
	}
}
