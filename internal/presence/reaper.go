// Package presence runs the scheduled housekeeping job that reaps stale
// choosee_presence rows. This has no counterpart in the distilled
// per-connection core; it exists because a liveness stamp that is never
// pruned grows without bound, and the teacher's own stack carries
// robfig/cron/v3 for exactly this kind of periodic job.
package presence

import (
	"context"
	"database/sql"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/streamspace/realtime-gateway/internal/logger"
)

// Reaper periodically deletes choosee_presence rows older than retention.
type Reaper struct {
	db        *sql.DB
	retention time.Duration
	cron      *cron.Cron
}

// NewReaper builds a Reaper against the raw *sql.DB connection (reaping is
// a bulk maintenance statement, not one of the per-connection prepared
// statements the gateway facade exposes).
func NewReaper(db *sql.DB, retention time.Duration) *Reaper {
	return &Reaper{db: db, retention: retention, cron: cron.New()}
}

// Start schedules the reap to run on the given cron spec (e.g. "0 * * * *"
// for hourly) and begins the cron scheduler's own goroutine.
func (r *Reaper) Start(spec string) error {
	_, err := r.cron.AddFunc(spec, r.reapOnce)
	if err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any in-flight run to finish.
func (r *Reaper) Stop() {
	<-r.cron.Stop().Done()
}

func (r *Reaper) reapOnce() {
	cutoff := time.Now().UTC().Add(-r.retention)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := r.db.ExecContext(ctx, `DELETE FROM choosee_presence WHERE occurred_at < $1`, cutoff)
	if err != nil {
		logger.Presence().Error().Err(err).Msg("presence reap failed")
		return
	}

	rows, _ := result.RowsAffected()
	logger.Presence().Info().Int64("rows_deleted", rows).Time("cutoff", cutoff).Msg("reaped stale presence rows")
}
