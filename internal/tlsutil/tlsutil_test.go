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
	require.NotEmpty(t, cfg.CipherSuites)

	aead := map[uint16]bool{
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384: true,
		tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384:   true,
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256: true,
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256:   true,
		tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305:  true,
		tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305:    true,
	}
	for _, cs := range cfg.CipherSuites {
		assert.True(t, aead[cs], "unexpected non-AEAD cipher suite %d", cs)
	}
}

func TestDefaultTLSConfig_FreshCopies(t *testing.T) {
	a := DefaultTLSConfig()
	a.CipherSuites[0] = 0
	assert.NotZero(t, DefaultTLSConfig().CipherSuites[0])
}

func TestRedisTLSConfig(t *testing.T) {
	assert.Equal(t, "redis.internal", RedisTLSConfig("redis.internal:6380").ServerName)
	assert.Empty(t, RedisTLSConfig("no-port").ServerName)
	assert.Equal(t, uint16(tls.VersionTLS12), RedisTLSConfig("r:6379").MinVersion)
}

func TestSecureHTTPClient(t *testing.T) {
	client := SecureHTTPClient(15 * time.Second)
	assert.Equal(t, 15*time.Second, client.Timeout)

	tr, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, uint16(tls.VersionTLS12), tr.TLSClientConfig.MinVersion)
	assert.True(t, tr.ForceAttemptHTTP2)
}

func TestWebSocketClient(t *testing.T) {
	tr, ok := WebSocketClient().Transport.(*http.Transport)
	require.True(t, ok)
	assert.False(t, tr.ForceAttemptHTTP2)
	assert.Equal(t, []string{"http/1.1"}, tr.TLSClientConfig.NextProtos)
}
