package signalservice

import (
	"crypto/tls"
	"crypto/x509"
)

// TLSConfig returns a *tls.Config for talking to a message-relay server.
// With no pinned CA it trusts the system root pool. pinnedCA, if non-nil
// (PEM-encoded), is added to a private pool instead, for deployments that
// front their relay with a self-issued certificate.
func TLSConfig(pinnedCA []byte) *tls.Config {
	if len(pinnedCA) == 0 {
		return &tls.Config{}
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(pinnedCA)
	return &tls.Config{RootCAs: pool}
}
