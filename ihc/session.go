package ihc

import (
	"bytes"
	"context"
	"crypto/sha1"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	defaultMinInterval  = 300 * time.Millisecond
	defaultTimeout      = 30 * time.Second
	maxTransientRetries = 3
)

// Session owns the transport concerns shared by every SOAP call this SDK
// makes: a cookie-bearing HTTP client, a rate limiter, a transient-error
// retry policy, and (optionally) certificate-fingerprint pinning in place of
// chain verification. It is grounded in the Python source's IHCConnection,
// which wraps a requests.Session the same way.
type Session struct {
	baseURL string
	client  *http.Client
	log     *zap.Logger

	mu           sync.Mutex
	minInterval  time.Duration
	lastCallTime time.Time
}

// SessionOption configures a Session at construction time, in the functional
// options idiom the teacher's SoapClient uses (ClientOption).
type SessionOption func(*sessionConfig)

type sessionConfig struct {
	timeout        time.Duration
	minInterval    time.Duration
	logger         *zap.Logger
	pinnedSHA1     []byte
	skipCertVerify bool
}

// WithTimeout overrides the per-request HTTP timeout (default 30s).
func WithTimeout(d time.Duration) SessionOption {
	return func(c *sessionConfig) { c.timeout = d }
}

// WithMinInterval overrides the minimum spacing enforced between successive
// requests on this session (default 300ms).
func WithMinInterval(d time.Duration) SessionOption {
	return func(c *sessionConfig) { c.minInterval = d }
}

// WithLogger attaches a structured logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) SessionOption {
	return func(c *sessionConfig) { c.logger = l }
}

// WithPinnedCertificate pins the controller's certificate by its SHA-1
// fingerprint, taken from a PEM-encoded certificate, and disables Go's
// ordinary chain verification in favor of that single fingerprint check --
// mirroring the self-signed certificates these controllers ship with.
func WithPinnedCertificate(pemBytes []byte) SessionOption {
	return func(c *sessionConfig) {
		if fp, err := fingerprintFromPEM(pemBytes); err == nil {
			c.pinnedSHA1 = fp
		}
	}
}

// WithInsecureSkipVerify disables both chain verification and fingerprint
// pinning. Intended for tests against an httptest.Server, not production use.
func WithInsecureSkipVerify() SessionOption {
	return func(c *sessionConfig) { c.skipCertVerify = true }
}

// NewSession builds a Session that talks to baseURL (e.g.
// "https://192.168.1.1"). baseURL's scheme and host are used as-is; callers
// that want TLS fingerprint pinning should pass an https:// URL along with
// WithPinnedCertificate.
func NewSession(baseURL string, opts ...SessionOption) (*Session, error) {
	cfg := sessionConfig{
		timeout:     defaultTimeout,
		minInterval: defaultMinInterval,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, &TransportError{Msg: "failed to create cookie jar", Err: err}
	}

	transport := &http.Transport{}
	if cfg.skipCertVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	} else if cfg.pinnedSHA1 != nil {
		transport.TLSClientConfig = pinnedTLSConfig(cfg.pinnedSHA1)
	}

	return &Session{
		baseURL: baseURL,
		client: &http.Client{
			Jar:       jar,
			Timeout:   cfg.timeout,
			Transport: transport,
		},
		log:         cfg.logger,
		minInterval: cfg.minInterval,
	}, nil
}

// pinnedTLSConfig builds a tls.Config that skips normal chain verification
// and instead accepts the server's leaf certificate only if its SHA-1
// fingerprint matches want. This is the only verification step performed,
// matching the Python source's CERT_REQUIRED-disabled, fingerprint-pinned
// connection (no pack example implements this; see DESIGN.md).
func pinnedTLSConfig(want []byte) *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return &TransportError{Msg: "server presented no certificate"}
			}
			got := sha1.Sum(rawCerts[0])
			if !bytes.Equal(got[:], want) {
				return &TransportError{Msg: "server certificate fingerprint does not match pinned certificate"}
			}
			return nil
		},
	}
}

// fingerprintFromPEM decodes the first certificate block in pemBytes and
// returns its SHA-1 fingerprint. It deliberately does not parse the
// certificate as X.509 -- only the raw DER bytes feed the fingerprint, the
// same bytes TLS handshakes present in VerifyPeerCertificate.
func fingerprintFromPEM(pemBytes []byte) ([]byte, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, &ProtocolError{Msg: "no PEM block found in pinned certificate"}
	}
	sum := sha1.Sum(block.Bytes)
	return sum[:], nil
}

// rateLimit blocks until at least minInterval has elapsed since the previous
// call passed this gate (lastCallTime is stamped before the request is sent,
// not when it returns), gate-then-sleep-then-update in the same order as the
// Python source's rate_limit().
func (s *Session) rateLimit() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.minInterval <= 0 {
		return
	}
	elapsed := time.Since(s.lastCallTime)
	if s.lastCallTime.IsZero() || elapsed >= s.minInterval {
		s.lastCallTime = time.Now()
		return
	}
	time.Sleep(s.minInterval - elapsed)
	s.lastCallTime = time.Now()
}

// soapAction performs one SOAP 1.1 call: service selects the URL path
// ("/ws/AuthenticationService", etc.), action is the bare SOAPAction header
// value the controller routes on (e.g. "getResourceValue"), and payload is
// the inner body fragment (already XML, not yet enveloped).
func (s *Session) soapAction(ctx context.Context, service, action, payload string) (*element, error) {
	s.rateLimit()

	url := fmt.Sprintf("%s/ws/%s", s.baseURL, service)
	body := wrapEnvelope(payload)

	respBody, err := s.postWithRetry(ctx, url, body, action)
	if err != nil {
		return nil, err
	}

	root, err := parseXML(respBody)
	if err != nil {
		return nil, err
	}
	return root, nil
}

// postWithRetry issues the HTTP POST, retrying on {502,503,504} responses up
// to maxTransientRetries times with exponential backoff (200ms, 400ms, 800ms)
// -- bit-exact with the Python source's urllib3.util.Retry(total=3,
// backoff_factor=0.2, status_forcelist=[502,503,504], allowed_methods={"POST"}).
func (s *Session) postWithRetry(ctx context.Context, url, body, soapAction string) ([]byte, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	policy := backoff.WithMaxRetries(bo, maxTransientRetries)

	var result []byte
	attempt := 0
	op := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte(body)))
		if err != nil {
			return backoff.Permanent(&TransportError{Msg: "failed to build request", Err: err})
		}
		req.Host = req.URL.Host
		req.Header.Set("Content-Type", "text/xml; charset=UTF-8")
		req.Header.Set("Cache-Control", "no-cache")
		req.Header.Set("SOAPAction", soapAction)

		resp, err := s.client.Do(req)
		if err != nil {
			s.log.Debug("ihc: transient request error", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		defer resp.Body.Close()

		if isRetryableStatus(resp.StatusCode) {
			s.log.Debug("ihc: retryable status", zap.Int("attempt", attempt), zap.Int("status", resp.StatusCode))
			return fmt.Errorf("retryable status %d", resp.StatusCode)
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(&TransportError{Msg: "failed to read response body", Err: err})
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(&TransportError{Msg: fmt.Sprintf("unexpected status %d", resp.StatusCode)})
		}
		result = data
		return nil
	}

	if err := backoff.Retry(op, policy); err != nil {
		var perm *TransportError
		if ok := asTransportError(err, &perm); ok {
			return nil, perm
		}
		return nil, &TransportError{Msg: "request failed after retries", Err: err}
	}
	return result, nil
}

func asTransportError(err error, target **TransportError) bool {
	te, ok := err.(*TransportError)
	if !ok {
		return false
	}
	*target = te
	return true
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// Close releases resources held by the session's transport.
func (s *Session) Close() {
	if t, ok := s.client.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}
