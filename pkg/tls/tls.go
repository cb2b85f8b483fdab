// Package tls provides mutual-TLS configuration for the rackguard API
// surface. Mode control and the action audit log are operational controls,
// so the server requires client certificates when TLS is enabled.
//
// All configurations enforce TLS 1.3 and AEAD cipher suites only.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// Config holds TLS certificate file paths.
type Config struct {
	Enabled  bool
	CertFile string
	KeyFile  string
	CAFile   string
}

// Validate checks the configuration. Returns an error if TLS is enabled but
// certificate files are missing or inaccessible.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.CertFile == "" || c.KeyFile == "" || c.CAFile == "" {
		return errors.New("tls enabled but cert/key/ca files not specified")
	}
	for _, path := range []string{c.CertFile, c.KeyFile, c.CAFile} {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("tls file %q: %w", path, err)
		}
	}
	return nil
}

// NewServerTLSConfig creates a server-side mTLS configuration: client
// certificates are required and verified against the CA.
func NewServerTLSConfig(certFile, keyFile, caFile string) (*tls.Config, error) {
	caCertPool, err := loadCAPool(certFile, keyFile, caFile)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		ClientCAs:  caCertPool,
		ClientAuth: tls.RequireAndVerifyClientCert,
		MinVersion: tls.VersionTLS13,
		CipherSuites: []uint16{
			tls.TLS_AES_128_GCM_SHA256,
			tls.TLS_AES_256_GCM_SHA384,
			tls.TLS_CHACHA20_POLY1305_SHA256,
		},
		PreferServerCipherSuites: true,
	}, nil
}

// NewClientTLSConfig creates a client-side mTLS configuration: the client
// certificate is presented and the server verified against the CA.
func NewClientTLSConfig(certFile, keyFile, caFile string) (*tls.Config, error) {
	caCertPool, err := loadCAPool(certFile, keyFile, caFile)
	if err != nil {
		return nil, err
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load client certificate: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      caCertPool,
		MinVersion:   tls.VersionTLS13,
		CipherSuites: []uint16{
			tls.TLS_AES_128_GCM_SHA256,
			tls.TLS_AES_256_GCM_SHA384,
			tls.TLS_CHACHA20_POLY1305_SHA256,
		},
	}, nil
}

func loadCAPool(certFile, keyFile, caFile string) (*x509.CertPool, error) {
	if certFile == "" || keyFile == "" || caFile == "" {
		return nil, errors.New("cert, key and CA file paths are all required")
	}
	for _, path := range []string{certFile, keyFile, caFile} {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("certificate file %q: %w", path, err)
		}
	}

	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read CA certificate: %w", err)
	}
	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, errors.New("failed to parse CA certificate")
	}
	return caCertPool, nil
}
