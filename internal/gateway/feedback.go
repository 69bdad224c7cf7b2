package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/angelicas/grocer/internal/apns"
)

// TokenSuppressor records tokens the feedback service reported.
type TokenSuppressor interface {
	SuppressToken(ctx context.Context, token string, ttl time.Duration) error
}

// FeedbackPoller periodically drains the feedback service. The gateway
// streams (timestamp, token) tuples for devices it gave up on and closes
// the connection when the backlog is empty.
type FeedbackPoller struct {
	addr      string
	tlsConfig *tls.Config
	interval  time.Duration
	timeout   time.Duration
	store     TokenSuppressor
	logger    *slog.Logger
}

func NewFeedbackPoller(addr string, tlsConfig *tls.Config, interval, timeout time.Duration, store TokenSuppressor, logger *slog.Logger) *FeedbackPoller {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &FeedbackPoller{
		addr:      addr,
		tlsConfig: tlsConfig,
		interval:  interval,
		timeout:   timeout,
		store:     store,
		logger:    logger,
	}
}

// Run polls until the context is cancelled.
func (p *FeedbackPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.poll(ctx); err != nil {
				p.logger.Warn("feedback poll failed", slog.Any("error", err))
			}
		}
	}
}

func (p *FeedbackPoller) poll(ctx context.Context) error {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: p.timeout},
		Config:    p.tlsConfig,
	}
	conn, err := dialer.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(p.timeout))
	data, err := io.ReadAll(conn)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	tuples, err := apns.ParseFeedback(data)
	if err != nil {
		return err
	}
	for _, tuple := range tuples {
		if err := p.store.SuppressToken(ctx, tuple.DeviceToken, 0); err != nil {
			p.logger.Error("failed to suppress token",
				slog.String("token", tuple.DeviceToken),
				slog.Any("error", err))
			continue
		}
		p.logger.Info("token reported by feedback service",
			slog.String("token", tuple.DeviceToken),
			slog.Time("failed_at", tuple.Timestamp))
	}
	return nil
}
