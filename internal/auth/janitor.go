package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// TokenPurger deletes expired refresh tokens.
type TokenPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Janitor periodically removes expired refresh tokens.
type Janitor struct {
	purger   TokenPurger
	schedule string
	cron     *cron.Cron
	logger   zerolog.Logger
	mu       sync.Mutex
	running  bool
}

func NewJanitor(purger TokenPurger, schedule string, logger zerolog.Logger) *Janitor {
	if schedule == "" {
		schedule = "@every 1h"
	}
	return &Janitor{
		purger:   purger,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger.With().Str("component", "token-janitor").Logger(),
	}
}

func (j *Janitor) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return errors.New("token janitor already running")
	}
	if _, err := j.cron.AddFunc(j.schedule, j.run); err != nil {
		return err
	}
	j.cron.Start()
	j.running = true
	j.logger.Info().Str("schedule", j.schedule).Msg("token janitor started")
	return nil
}

// Stop halts the schedule. The returned context is done once a running purge finishes.
func (j *Janitor) Stop() context.Context {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	j.running = false
	return j.cron.Stop()
}

func (j *Janitor) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	deleted, err := j.purger.PurgeExpired(ctx)
	if err != nil {
		j.logger.Error().Err(err).Msg("refresh token purge failed")
		return
	}
	if deleted > 0 {
		j.logger.Info().Int64("deleted", deleted).Msg("expired refresh tokens purged")
	}
}

// RunNow purges immediately.
func (j *Janitor) RunNow() {
	j.run()
}
