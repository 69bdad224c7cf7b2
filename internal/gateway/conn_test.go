package gateway

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelicas/grocer/pkg/retry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIsCertificateError(t *testing.T) {
	assert.True(t, isCertificateError(fmt.Errorf("dial: %w", x509.UnknownAuthorityError{})))
	assert.True(t, isCertificateError(&tls.CertificateVerificationError{Err: x509.UnknownAuthorityError{}}))
	assert.True(t, isCertificateError(fmt.Errorf("dial: %w", x509.CertificateInvalidError{Reason: x509.Expired})))
	assert.True(t, isCertificateError(x509.HostnameError{Certificate: &x509.Certificate{}, Host: "gateway.test"}))

	assert.False(t, isCertificateError(errors.New("connection refused")))
	assert.False(t, isCertificateError(net.ErrClosed))
	assert.False(t, isCertificateError(nil))
}

func TestSendUntrustedCertificateStopsRetrying(t *testing.T) {
	ln := newSelfSignedListener(t)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				_, _ = io.Copy(io.Discard, c)
				c.Close()
			}(conn)
		}
	}()

	conn := NewConn(ln.Addr().String(), &tls.Config{MinVersion: tls.VersionTLS12}, time.Second, discardLogger())
	defer conn.Close()

	attempts := 0
	err := retry.Do(context.Background(), retry.Config{MaxAttempts: 3, InitialBackoff: time.Millisecond}, func() error {
		attempts++
		return conn.Send(context.Background(), []byte{0x01})
	})
	require.Error(t, err)
	assert.True(t, isCertificateError(err))
	assert.Equal(t, 1, attempts)
}

func TestSendTransientDialFailureKeepsRetrying(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	conn := NewConn(addr, &tls.Config{MinVersion: tls.VersionTLS12}, time.Second, discardLogger())
	defer conn.Close()

	attempts := 0
	err = retry.Do(context.Background(), retry.Config{MaxAttempts: 2, InitialBackoff: time.Millisecond}, func() error {
		attempts++
		return conn.Send(context.Background(), []byte{0x01})
	})
	require.Error(t, err)
	assert.False(t, isCertificateError(err))
	assert.Equal(t, 2, attempts)
}

func newSelfSignedListener(t *testing.T) net.Listener {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "gateway.test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1)},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	serverConfig := &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
		MinVersion:   tls.VersionTLS12,
	}
	ln, err := tls.Listen("tcp", "127.0.0.1:0", serverConfig)
	require.NoError(t, err)
	return ln
}
