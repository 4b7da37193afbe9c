package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Recovery resumes sagas whose driving process went away. A saga is stale
// once its record has not been touched for staleAfter, which a live driver
// prevents by renewing its lease. The claim hands the lease to a new driver
// and moves updated_at so only one instance picks it up.
type Recovery struct {
	repo         Repository
	orchestrator *Orchestrator
	staleAfter   time.Duration
	batch        int
	logger       zerolog.Logger
	now          func() time.Time
}

func NewRecovery(repo Repository, orchestrator *Orchestrator, staleAfter time.Duration, logger zerolog.Logger) *Recovery {
	return &Recovery{
		repo:         repo,
		orchestrator: orchestrator,
		staleAfter:   staleAfter,
		batch:        50,
		logger:       logger,
		now:          orchestrator.now,
	}
}

// ResumeStale drives every stale saga to COMMITTED or ROLLED_BACK and
// returns how many it picked up. STARTED sagas go forward: the remote cancel
// may or may not have run, and repeating it is safe.
func (r *Recovery) ResumeStale(ctx context.Context) (int, error) {
	now := r.now()
	stale, err := r.repo.ListStaleSagas(ctx, now.Add(-r.staleAfter), r.batch)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, rec := range stale {
		claimed, err := r.repo.ClaimSaga(ctx, rec.ID, rec.UpdatedAt, uuid.New(), now)
		if err != nil {
			if errors.Is(err, ErrSagaPhaseConflict) {
				continue
			}
			r.logger.Error().Err(err).Str("saga_id", rec.ID.String()).Msg("failed to claim saga")
			continue
		}

		r.logger.Info().
			Str("saga_id", claimed.ID.String()).
			Str("phase", string(claimed.Phase)).
			Int("attempts", claimed.Attempts).
			Msg("resuming stale saga")

		out, err := r.orchestrator.drive(ctx, claimed)
		if err != nil {
			r.logger.Warn().Err(err).Str("saga_id", claimed.ID.String()).Msg("resumed saga did not commit")
		} else {
			r.logger.Info().Str("saga_id", out.ID.String()).Str("phase", string(out.Phase)).Msg("resumed saga finished")
		}
		resumed++
	}

	return resumed, nil
}

// Run calls ResumeStale every interval until ctx is done.
func (r *Recovery) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("saga recovery stopping")
			return
		case <-ticker.C:
			n, err := r.ResumeStale(ctx)
			if err != nil {
				r.logger.Error().Err(err).Msg("saga recovery sweep failed")
				continue
			}
			if n > 0 {
				r.logger.Info().Int("resumed", n).Msg("saga recovery sweep")
			}
		}
	}
}
