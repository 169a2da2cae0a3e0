package agent

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TLSOptions selects how the agent verifies the server certificate.
type TLSOptions struct {
	CACertPath         string // PEM bundle for an internal PKI
	InsecureSkipVerify bool   // Testing only
}

// BuildTLSConfig creates a *tls.Config from opts.
// Returns nil if no custom TLS configuration is needed.
func BuildTLSConfig(opts TLSOptions) (*tls.Config, error) {
	if opts.InsecureSkipVerify {
		return &tls.Config{InsecureSkipVerify: true}, nil
	}

	if opts.CACertPath == "" {
		return nil, nil // Use system CA pool
	}

	caCert, err := os.ReadFile(opts.CACertPath)
	if err != nil {
		return nil, fmt.Errorf("read CA cert %s: %w", opts.CACertPath, err)
	}

	certPool := x509.NewCertPool()
	if !certPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA cert %s", opts.CACertPath)
	}

	return &tls.Config{
		RootCAs: certPool,
	}, nil
}
