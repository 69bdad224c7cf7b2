package services

import (
	"context"

	"log/slog"
)

const (
	StatusProcessing = "processing"
	StatusDelivered  = "delivered"
	StatusFailed     = "failed"
)

// StatusStore persists per-request delivery state.
type StatusStore interface {
	UpdateStatus(ctx context.Context, requestID, status, detail string) error
}

type StatusUpdater struct {
	store  StatusStore
	logger *slog.Logger
}

func NewStatusUpdater(store StatusStore, logger *slog.Logger) *StatusUpdater {
	return &StatusUpdater{
		store:  store,
		logger: logger,
	}
}

func (s *StatusUpdater) MarkProcessing(ctx context.Context, requestID string) {
	if err := s.store.UpdateStatus(ctx, requestID, StatusProcessing, ""); err != nil {
		s.logger.Error("failed to update processing status", slog.String("request_id", requestID), slog.Any("error", err))
	}
}

func (s *StatusUpdater) MarkDelivered(ctx context.Context, requestID string) {
	if err := s.store.UpdateStatus(ctx, requestID, StatusDelivered, ""); err != nil {
		s.logger.Error("failed to update delivered status", slog.String("request_id", requestID), slog.Any("error", err))
	}
}

func (s *StatusUpdater) MarkFailed(ctx context.Context, requestID, detail string) {
	if err := s.store.UpdateStatus(ctx, requestID, StatusFailed, detail); err != nil {
		s.logger.Error("failed to update failed status", slog.String("request_id", requestID), slog.Any("error", err))
	}
}
