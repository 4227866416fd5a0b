package remote

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/oneiric/oneiric/internal/errs"
	"github.com/oneiric/oneiric/internal/resilience"
)

// LoaderConfig configures a Loader (§4.7 Loader, §6.1 remote.*).
type LoaderConfig struct {
	HTTPTimeout     time.Duration
	AllowPrivateIPs bool
	// RateLimitPerSecond bounds requests with one limiter shared by every
	// target this Loader fetches; 0 disables limiting.
	RateLimitPerSecond float64
	RateLimitBurst     int
	// Retry seeds the Retry/Backoff policy with jitter that every HTTP GET
	// (manifest fetch and artifact download alike, since ArtifactManager
	// downloads through this same Loader) is wrapped in (§4.7.1, §6.1
	// remote.max_retries/retry_base_delay/retry_max_delay/retry_jitter).
	// The zero value falls back to resilience.DefaultRetryConfig.
	Retry resilience.RetryConfig
}

// Loader fetches a manifest resource, local path or https:// URL (§4.7.1),
// grounded on the teacher's fetchBytes local-vs-HTTP dispatch.
type Loader struct {
	cfg     LoaderConfig
	client  *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewLoader constructs a Loader. A nil/zero RateLimitPerSecond disables
// rate limiting (unbounded); a zero-value cfg.Retry falls back to
// resilience.DefaultRetryConfig.
func NewLoader(cfg LoaderConfig) *Loader {
	retry := cfg.Retry
	if retry.MaxAttempts <= 0 {
		retry = resilience.DefaultRetryConfig()
	}
	l := &Loader{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
		retry:  retry,
	}
	if cfg.RateLimitPerSecond > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), burst)
	}
	return l
}

// Fetch retrieves target, a local filesystem path or an http(s):// URL.
// Remote fetches are blocked from reaching private, loopback, and
// link-local addresses unless AllowPrivateIPs is set (§4.7.1 SSRF
// blocking).
func (l *Loader) Fetch(ctx context.Context, target string) ([]byte, error) {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return l.fetchHTTP(ctx, target)
	}
	return os.ReadFile(target)
}

func (l *Loader) fetchHTTP(ctx context.Context, target string) ([]byte, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return nil, errs.Wrap(errs.UnsafeArtifactURI, "", "", "malformed manifest URL", err)
	}
	if err := l.guardHost(ctx, parsed.Hostname()); err != nil {
		return nil, err
	}

	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var body []byte
	err = resilience.Retry(ctx, l.retry, func(ctx context.Context) error {
		b, fetchErr := l.doGet(ctx, target)
		if fetchErr != nil {
			return fetchErr
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (l *Loader) doGet(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("fetch %s: %d %s", target, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return io.ReadAll(resp.Body)
}

// guardHost resolves host and rejects it if it names a private, loopback,
// or link-local address, unless AllowPrivateIPs is set (§4.7.1, §8
// "Allow-list soundness" analog for network egress).
func (l *Loader) guardHost(ctx context.Context, host string) error {
	if l.cfg.AllowPrivateIPs || host == "" {
		return nil
	}

	if ip := net.ParseIP(host); ip != nil {
		return checkIP(ip)
	}

	var resolver net.Resolver
	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("resolving manifest host %s: %w", host, err)
	}
	for _, addr := range addrs {
		if err := checkIP(addr.IP); err != nil {
			return err
		}
	}
	return nil
}

func checkIP(ip net.IP) error {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return errs.New(errs.UnsafeArtifactURI, "", "", "manifest host resolves to a private/loopback/link-local address: "+ip.String())
	}
	return nil
}
