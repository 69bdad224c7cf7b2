// Package gateway maintains client connections to the legacy binary push
// gateway and its feedback service.
package gateway

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/angelicas/grocer/pkg/retry"
)

// Sender delivers one encoded frame to the push gateway.
type Sender interface {
	Name() string
	Send(ctx context.Context, frame []byte) error
}

// Conn is a lazily-dialed TLS connection to the gateway. Frames are written
// verbatim; a failed write drops the connection so the next send redials.
type Conn struct {
	addr      string
	tlsConfig *tls.Config
	timeout   time.Duration
	logger    *slog.Logger

	mu   sync.Mutex
	conn net.Conn
}

func NewConn(addr string, tlsConfig *tls.Config, timeout time.Duration, logger *slog.Logger) *Conn {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Conn{
		addr:      addr,
		tlsConfig: tlsConfig,
		timeout:   timeout,
		logger:    logger,
	}
}

func (c *Conn) Name() string {
	return "apns-binary"
}

func (c *Conn) Send(ctx context.Context, frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		if err := c.dialLocked(ctx); err != nil {
			err = fmt.Errorf("gateway dial %s: %w", c.addr, err)
			if isCertificateError(err) {
				// The gateway rejects the client certificate itself;
				// redialing with the same credentials can never succeed.
				return retry.Permanent(err)
			}
			return err
		}
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if _, err := c.conn.Write(frame); err != nil {
		c.conn.Close()
		c.conn = nil
		return fmt.Errorf("gateway write: %w", err)
	}
	return nil
}

func (c *Conn) dialLocked(ctx context.Context) error {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: c.timeout},
		Config:    c.tlsConfig,
	}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return err
	}
	c.logger.Info("connected to push gateway", slog.String("addr", c.addr))
	c.conn = conn
	return nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// isCertificateError reports whether err stems from TLS certificate
// verification rather than a transient network failure.
func isCertificateError(err error) bool {
	var (
		verifyErr    *tls.CertificateVerificationError
		authorityErr x509.UnknownAuthorityError
		invalidErr   x509.CertificateInvalidError
		hostnameErr  x509.HostnameError
	)
	return errors.As(err, &verifyErr) ||
		errors.As(err, &authorityErr) ||
		errors.As(err, &invalidErr) ||
		errors.As(err, &hostnameErr)
}

// NewTLSConfig loads the client certificate the gateway authenticates by.
func NewTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load gateway certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
