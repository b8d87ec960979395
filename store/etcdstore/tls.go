package etcdstore

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// tlsInfo holds the certificate paths of an enabled TLSConfig.
type tlsInfo struct {
	CertFile string
	KeyFile  string
	CAFile   string
}

// newTLSInfo validates cfg. It returns nil when TLS is disabled.
func newTLSInfo(cfg *TLSConfig) (*tlsInfo, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	for field, value := range map[string]string{
		"cert": cfg.CertFile,
		"key":  cfg.KeyFile,
		"CA":   cfg.CAFile,
	} {
		if value == "" {
			return nil, fmt.Errorf("TLS %s file is required when TLS is enabled", field)
		}
	}

	return &tlsInfo{
		CertFile: cfg.CertFile,
		KeyFile:  cfg.KeyFile,
		CAFile:   cfg.CAFile,
	}, nil
}

// ClientConfig loads the key pair and CA pool into a tls.Config.
func (info *tlsInfo) ClientConfig() (*tls.Config, error) {
	if info == nil {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(info.CertFile, info.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}

	caData, err := os.ReadFile(info.CAFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caData) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      caPool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}
