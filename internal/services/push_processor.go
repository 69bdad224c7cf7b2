package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/angelicas/grocer/internal/apns"
	"github.com/angelicas/grocer/internal/gateway"
	"github.com/angelicas/grocer/internal/models"
	"github.com/angelicas/grocer/pkg/metrics"
	"github.com/angelicas/grocer/pkg/retry"
)

// TokenCache tracks device tokens known to be undeliverable.
type TokenCache interface {
	IsTokenSuppressed(ctx context.Context, token string) (bool, error)
	SuppressToken(ctx context.Context, token string, ttl time.Duration) error
}

// PushProcessor turns one envelope into binary frames and writes them to
// the gateway, one notification per device token.
type PushProcessor struct {
	gateway       gateway.Sender
	statusUpdater *StatusUpdater
	cache         TokenCache
	metrics       *metrics.Metrics
	logger        *slog.Logger
	retryCfg      retry.Config

	// identifier is the frame correlation sequence, shared across workers.
	identifier atomic.Uint32
}

func NewPushProcessor(
	gw gateway.Sender,
	statusUpdater *StatusUpdater,
	cache TokenCache,
	metrics *metrics.Metrics,
	logger *slog.Logger,
	retryCfg retry.Config,
) *PushProcessor {
	return &PushProcessor{
		gateway:       gw,
		statusUpdater: statusUpdater,
		cache:         cache,
		metrics:       metrics,
		logger:        logger,
		retryCfg:      retryCfg,
	}
}

func (p *PushProcessor) Process(ctx context.Context, envelope *models.PushEnvelope) error {
	p.metrics.IncConsumed()

	tokens, err := p.filterTokens(ctx, envelope.DeviceTokens)
	if err != nil {
		p.logger.Error("failed to filter tokens", slog.Any("error", err))
		return err
	}
	if len(tokens) == 0 {
		err := fmt.Errorf("no deliverable device tokens")
		p.statusUpdater.MarkFailed(ctx, envelope.RequestID, err.Error())
		p.metrics.IncFailed()
		return err
	}

	alert := envelope.Alert
	if text, ok := alert.(string); ok {
		alert = RenderAlert(text, envelope.Variables)
	}

	p.statusUpdater.MarkProcessing(ctx, envelope.RequestID)

	var results []models.PushResult
	for _, token := range tokens {
		results = append(results, p.deliver(ctx, envelope, alert, token))
	}

	return p.handleResults(ctx, envelope, results)
}

func (p *PushProcessor) deliver(ctx context.Context, envelope *models.PushEnvelope, alert any, token string) models.PushResult {
	result := models.PushResult{Token: token, Status: models.ResultDelivered}

	notification, err := p.buildNotification(envelope, alert, token)
	if err != nil {
		result.Status = models.ResultFailed
		result.Error = err.Error()
		return result
	}
	result.Identifier = notification.Identifier()

	frame, err := p.encode(ctx, notification, token)
	if err != nil {
		result.Status = models.ResultFailed
		result.Error = err.Error()
		return result
	}

	sendErr := retry.Do(ctx, p.retryCfg, func() error {
		if err := p.gateway.Send(ctx, frame); err != nil {
			p.metrics.IncRetried()
			p.logger.Warn("gateway send failed",
				slog.String("request_id", envelope.RequestID),
				slog.Any("error", err))
			return err
		}
		return nil
	})
	if sendErr != nil {
		result.Status = models.ResultFailed
		result.Error = sendErr.Error()
	}
	return result
}

func (p *PushProcessor) buildNotification(envelope *models.PushEnvelope, alert any, token string) (*apns.Notification, error) {
	fields := map[string]any{
		"device_token": token,
		"identifier":   p.identifier.Add(1),
	}
	if alert != nil {
		fields["alert"] = alert
	}
	if envelope.Badge != 0 {
		fields["badge"] = envelope.Badge
	}
	if envelope.Sound != "" {
		fields["sound"] = envelope.Sound
	}
	if envelope.Category != "" {
		fields["category"] = envelope.Category
	}
	if envelope.ContentAvailable {
		fields["content_available"] = true
	}
	if envelope.Expiry > 0 {
		fields["expiry"] = envelope.Expiry
	}
	if len(envelope.Custom) > 0 {
		fields["custom"] = envelope.Custom
	}
	return apns.New(fields)
}

// encode serializes the notification, shortening the alert once when the
// body exceeds the ceiling. Tokens the encoder rejects are suppressed so
// later envelopes skip them.
func (p *PushProcessor) encode(ctx context.Context, notification *apns.Notification, token string) ([]byte, error) {
	frame, err := notification.ToBytes()
	if errors.Is(err, apns.ErrPayloadTooLarge) {
		if truncErr := notification.Truncate("alert"); truncErr != nil {
			return nil, err
		}
		p.metrics.IncTruncated()
		frame, err = notification.ToBytes()
	}
	if errors.Is(err, apns.ErrInvalidDeviceToken) {
		p.suppress(ctx, token)
	}
	return frame, err
}

func (p *PushProcessor) suppress(ctx context.Context, token string) {
	if p.cache == nil {
		return
	}
	if err := p.cache.SuppressToken(ctx, models.NormalizeToken(token), 0); err != nil {
		p.logger.Error("failed to suppress token", slog.Any("error", err))
		return
	}
	p.metrics.IncSuppressed()
}

func (p *PushProcessor) filterTokens(ctx context.Context, tokens []string) ([]string, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	filtered := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if token == "" {
			continue
		}
		if p.cache != nil {
			suppressed, err := p.cache.IsTokenSuppressed(ctx, models.NormalizeToken(token))
			if err != nil {
				return nil, err
			}
			if suppressed {
				continue
			}
		}
		filtered = append(filtered, token)
	}
	return filtered, nil
}

func (p *PushProcessor) handleResults(ctx context.Context, envelope *models.PushEnvelope, results []models.PushResult) error {
	var failures []string
	for _, res := range results {
		if res.Status == models.ResultDelivered {
			continue
		}
		failures = append(failures, fmt.Sprintf("%s:%s", res.Token, res.Error))
	}

	if len(failures) > 0 {
		err := fmt.Errorf("failed tokens: %s", strings.Join(failures, ", "))
		p.metrics.IncFailed()
		p.statusUpdater.MarkFailed(ctx, envelope.RequestID, err.Error())
		return err
	}

	p.metrics.IncDelivered()
	p.statusUpdater.MarkDelivered(ctx, envelope.RequestID)
	return nil
}
