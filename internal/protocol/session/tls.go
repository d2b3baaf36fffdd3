package session

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	ErrTLSCertFileRequired = errors.New("session: tls cert file required")
	ErrTLSKeyFileRequired  = errors.New("session: tls key file required")
	ErrTLSCAFileInvalid    = errors.New("session: tls ca file has no certificates")
)

// TLSConfig holds wss settings. The server side serves TLS when CertFile
// and KeyFile are set; the client side trusts CAFile in addition to the
// system pool.
type TLSConfig struct {
	CertFile           string
	KeyFile            string
	CAFile             string
	InsecureSkipVerify bool
}

// ServerEnabled reports whether a key pair is configured.
func (c TLSConfig) ServerEnabled() bool {
	return strings.TrimSpace(c.CertFile) != "" || strings.TrimSpace(c.KeyFile) != ""
}

func (c TLSConfig) Validate() error {
	cert, key := strings.TrimSpace(c.CertFile), strings.TrimSpace(c.KeyFile)
	if cert != "" && key == "" {
		return ErrTLSKeyFileRequired
	}
	if key != "" && cert == "" {
		return ErrTLSCertFileRequired
	}
	return nil
}

// ServerTLS loads the key pair. It returns nil, nil when TLS is off.
func (c TLSConfig) ServerTLS() (*tls.Config, error) {
	if !c.ServerEnabled() {
		return nil, nil
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	pair, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("session: load key pair: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{pair}, MinVersion: tls.VersionTLS12}, nil
}

// ClientTLS builds the dialer config for wss endpoints. It returns nil, nil
// when neither a CA file nor InsecureSkipVerify is set, leaving the
// websocket defaults in place.
func (c TLSConfig) ClientTLS() (*tls.Config, error) {
	caFile := strings.TrimSpace(c.CAFile)
	if caFile == "" && !c.InsecureSkipVerify {
		return nil, nil
	}
	out := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: c.InsecureSkipVerify}
	if caFile == "" {
		return out, nil
	}
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("session: read ca file: %w", err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("%w: %s", ErrTLSCAFileInvalid, caFile)
	}
	out.RootCAs = pool
	return out, nil
}
