package appointment

import (
	"context"
	"errors"
	"fmt"
)

// SweepNoShows is intended to be called by the worker periodically. It
// returns how many appointments it moved to NO_SHOW.
func (s *Service) SweepNoShows(ctx context.Context) (int, error) {
	now := s.now()
	candidates, err := s.repo.FindOverdueScheduled(ctx, now.Add(-s.noShowGrace), DayOf(now))
	if err != nil {
		return 0, fmt.Errorf("find overdue appointments: %w", err)
	}

	marked := 0
	for _, appt := range candidates {
		_, err := s.MarkNoShow(ctx, appt.ID)
		if err != nil {
			// started or cancelled since the scan
			if errors.Is(err, ErrInvalidStatusTransition) || errors.Is(err, ErrNoShowTooEarly) {
				continue
			}
			s.logger.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("failed to mark no-show")
			continue
		}
		marked++
	}

	return marked, nil
}
