package auth

import (
	"crypto/tls"
	"time"
)

// Mode distinguishes the two closed auth variants. Provider is
// deliberately a tagged sum rather than an open interface: the session
// engine only ever needs one of two observable capabilities from it
// (produce a TLS client config, or produce a header list), and a closed
// set keeps that decision exhaustive at the call site.
type Mode int

const (
	// ModeMtls authenticates via a mutual-TLS client certificate.
	ModeMtls Mode = iota
	// ModeSharedSecret authenticates via signed request headers.
	ModeSharedSecret
)

// Provider produces connection credentials for one of the two auth
// modes, holding both variants but exposing only the one selected by
// mode. This mirrors a closed tagged union rather than an interface
// with open-ended implementations, since no third auth mode exists.
type Provider struct {
	mode   Mode
	mtls   MtlsCredentials
	shared SharedSecret
}

// NewMtlsProvider builds a Provider for the mutual-TLS variant.
func NewMtlsProvider(creds MtlsCredentials) Provider {
	return Provider{mode: ModeMtls, mtls: creds}
}

// NewSharedSecretProvider builds a Provider for the shared-secret variant.
func NewSharedSecretProvider(key, secret string) Provider {
	return Provider{mode: ModeSharedSecret, shared: SharedSecret{Key: key, Secret: secret}}
}

// Mode reports which variant this Provider was built with.
func (p Provider) Mode() Mode { return p.mode }

// TLSConfig returns the mTLS client configuration. Only valid when
// Mode() == ModeMtls; called on the other variant it returns a nil
// config and an IO error, since no certificate paths are set (the
// transport layer never calls it outside that branch).
func (p Provider) TLSConfig() (*tls.Config, error) {
	return p.mtls.TLSConfig()
}

// ConnectHeaders returns the x-nh-* signed headers for identifier at the
// current wall-clock time. Only valid when Mode() == ModeSharedSecret.
func (p Provider) ConnectHeaders(identifier string) (map[string]string, error) {
	return p.shared.Headers(identifier, func() int64 { return time.Now().Unix() })
}
