package auth

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
)

// MtlsCredentials holds the paths to the PEM-encoded client certificate
// chain, private key, and CA bundle used for mutual-TLS authentication.
type MtlsCredentials struct {
	CertPath   string
	KeyPath    string
	CACertPath string
}

// TLSConfig builds a *tls.Config whose trust anchors are the CA bundle
// and whose client credentials are the (chain, key) pair. It accepts
// PKCS#8, PKCS#1, and SEC1 key encodings, using the first acceptable key
// block found while scanning the key file's PEM blocks.
func (m MtlsCredentials) TLSConfig() (*tls.Config, error) {
	certPEM, err := os.ReadFile(m.CertPath)
	if err != nil {
		return nil, errIO("failed to read cert file", err)
	}
	if len(certPEM) == 0 {
		return nil, errNoCerts(m.CertPath)
	}

	keyPEM, err := os.ReadFile(m.KeyPath)
	if err != nil {
		return nil, errIO("failed to read key file", err)
	}
	key, err := findPrivateKey(keyPEM)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, errNoKey(m.KeyPath)
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, errTLS("failed to build client certificate", err)
	}

	caPEM, err := os.ReadFile(m.CACertPath)
	if err != nil {
		return nil, errIO("failed to read CA cert file", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, errNoCerts(m.CACertPath)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// findPrivateKey scans every PEM block in data and returns the bytes of
// the first block whose type names a PKCS#8, PKCS#1, or SEC1 key, nil if
// none is found. It only validates that the block is parseable as one of
// those forms; tls.X509KeyPair does the actual key construction.
func findPrivateKey(data []byte) ([]byte, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, nil
		}
		switch block.Type {
		case "PRIVATE KEY":
			if _, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
				return block.Bytes, nil
			}
		case "RSA PRIVATE KEY":
			if _, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
				return block.Bytes, nil
			}
		case "EC PRIVATE KEY":
			if _, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
				return block.Bytes, nil
			}
		}
	}
}
