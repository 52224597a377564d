package httpx

import "golang.org/x/crypto/acme/autocert"

type TLS struct {
	CertManager *autocert.Manager
}

// NewTLSConfig makes a Let's Encrypt cert manager limited to the domain.
// Certificates are cached in the certs dir between restarts.
func NewTLSConfig(domain string) *TLS {
	m := &autocert.Manager{Prompt: autocert.AcceptTOS, Cache: autocert.DirCache("certs")}
	if domain != "" {
		m.HostPolicy = autocert.HostWhitelist(domain)
	}
	return &TLS{CertManager: m}
}
