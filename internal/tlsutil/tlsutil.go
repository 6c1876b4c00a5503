package tlsutil

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

var aeadSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
}

// DefaultTLSConfig returns a hardened client TLS configuration.
func DefaultTLSConfig() *tls.Config {
	suites := make([]uint16, len(aeadSuites))
	copy(suites, aeadSuites)
	return &tls.Config{MinVersion: tls.VersionTLS12, CipherSuites: suites}
}

// RedisTLSConfig returns the Redis TLS config, or nil when TLS is off.
func RedisTLSConfig(enabled bool) *tls.Config {
	if !enabled {
		return nil
	}
	return DefaultTLSConfig()
}

func transport(http2 bool) *http.Transport {
	return &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: DefaultTLSConfig(),
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     http2,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// SecureTransport returns an HTTP/2-capable transport with TLS hardening.
func SecureTransport() *http.Transport {
	return transport(true)
}

// SecureHTTPClient returns a hardened client with the given timeout.
func SecureHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout, Transport: SecureTransport()}
}

// UpgradeHTTPClient returns a hardened HTTP/1.1-only client without a
// timeout, as required for websocket upgrades. Use contexts for deadlines.
func UpgradeHTTPClient() *http.Client {
	return &http.Client{Transport: transport(false)}
}
