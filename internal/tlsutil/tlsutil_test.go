package tlsutil

import (
	"crypto/tls"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTLSConfig(t *testing.T) {
	cfg := DefaultTLSConfig()
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.ElementsMatch(t, aeadSuites, cfg.CipherSuites)

	// 每次返回独立副本
	cfg.CipherSuites[0] = 0
	assert.NotEqual(t, uint16(0), DefaultTLSConfig().CipherSuites[0])
}

func TestRedisTLSConfig(t *testing.T) {
	assert.Nil(t, RedisTLSConfig(false))
	require.NotNil(t, RedisTLSConfig(true))
}

func TestClients(t *testing.T) {
	c := SecureHTTPClient(15 * time.Second)
	assert.Equal(t, 15*time.Second, c.Timeout)
	require.NotNil(t, c.Transport)

	u := UpgradeHTTPClient()
	assert.Zero(t, u.Timeout)
	tr, ok := u.Transport.(*http.Transport)
	require.True(t, ok)
	assert.False(t, tr.ForceAttemptHTTP2)
	assert.True(t, SecureTransport().ForceAttemptHTTP2)
}
