package outbox

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ReplayStore is the subset of Repository replays need.
type ReplayStore interface {
	GetFailedEvents(ctx context.Context, limit int) ([]*Event, error)
	ReplayEvent(ctx context.Context, eventID int64) error
}

// ReplayService re-queues events the dispatcher gave up on.
type ReplayService struct {
	repo   ReplayStore
	logger *zap.Logger
}

func NewReplayService(repo ReplayStore, logger *zap.Logger) *ReplayService {
	return &ReplayService{repo: repo, logger: logger}
}

// ReplayFailedEvents resets up to limit failed events to pending so the
// dispatcher picks them up on its next tick.
func (s *ReplayService) ReplayFailedEvents(ctx context.Context, limit int) (int, error) {
	events, err := s.repo.GetFailedEvents(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to get failed events: %w", err)
	}

	replayed := 0
	for _, event := range events {
		if err := s.repo.ReplayEvent(ctx, event.ID); err != nil {
			s.logger.Warn("Failed to replay outbox event",
				zap.Int64("event_id", event.ID),
				zap.Error(err),
			)
			continue
		}
		replayed++
	}

	s.logger.Info("Replayed failed outbox events",
		zap.Int("replayed", replayed),
		zap.Int("candidates", len(events)),
	)
	return replayed, nil
}
