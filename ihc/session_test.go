package ihc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalEnvelope = `<?xml version="1.0"?>
<SOAP-ENV:Envelope xmlns:SOAP-ENV="http://schemas.xmlsoap.org/soap/envelope/">
<SOAP-ENV:Body><ok/></SOAP-ENV:Body>
</SOAP-ENV:Envelope>`

func TestPostWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(minimalEnvelope))
	}))
	defer srv.Close()

	s, err := NewSession(srv.URL, WithInsecureSkipVerify(), WithMinInterval(0))
	require.NoError(t, err)

	root, err := s.soapAction(context.Background(), "ControllerService", "getState", "<x/>")
	require.NoError(t, err)
	require.NotNil(t, root)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestPostWithRetryExhaustsBudgetOnPersistentFailures(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s, err := NewSession(srv.URL, WithInsecureSkipVerify(), WithMinInterval(0))
	require.NoError(t, err)

	_, err = s.soapAction(context.Background(), "ControllerService", "getState", "<x/>")
	require.Error(t, err)
	assert.True(t, IsTransportError(err))
	// One initial attempt plus maxTransientRetries retries.
	assert.Equal(t, int32(1+maxTransientRetries), atomic.LoadInt32(&attempts))
}

func TestPostWithRetryDoesNotRetryNonTransientStatus(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s, err := NewSession(srv.URL, WithInsecureSkipVerify(), WithMinInterval(0))
	require.NoError(t, err)

	_, err = s.soapAction(context.Background(), "ControllerService", "getState", "<x/>")
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestRateLimitEnforcesMinimumSpacing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(minimalEnvelope))
	}))
	defer srv.Close()

	const minInterval = 100 * time.Millisecond
	s, err := NewSession(srv.URL, WithInsecureSkipVerify(), WithMinInterval(minInterval))
	require.NoError(t, err)

	start := time.Now()
	_, err = s.soapAction(context.Background(), "ControllerService", "getState", "<x/>")
	require.NoError(t, err)
	_, err = s.soapAction(context.Background(), "ControllerService", "getState", "<x/>")
	require.NoError(t, err)
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, minInterval)
}

func TestFingerprintFromPEM(t *testing.T) {
	pemBytes := []byte("-----BEGIN CERTIFICATE-----\n" +
		"aGVsbG8gd29ybGQ=\n" +
		"-----END CERTIFICATE-----\n")
	fp, err := fingerprintFromPEM(pemBytes)
	require.NoError(t, err)
	assert.Len(t, fp, 20) // SHA-1 is 20 bytes
}

func TestFingerprintFromPEMRejectsGarbage(t *testing.T) {
	_, err := fingerprintFromPEM([]byte("not a pem block"))
	require.Error(t, err)
	assert.True(t, IsProtocolError(err))
}
