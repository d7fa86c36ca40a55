package urlresolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mikey/phish-gateway/internal/config"
	"go.uber.org/zap"
)

// Resolution is the outcome of resolving one URL
type Resolution struct {
	Original string
	// Final is the terminal destination; empty when resolution failed
	Final string
	// Blocked is the hop rejected by the SSRF checks, if any
	Blocked string
	Hops    int
	OK      bool
	Reason  string
}

// LookupFunc resolves a hostname to its addresses
type LookupFunc func(ctx context.Context, host string) ([]net.IP, error)

// Option customizes a Resolver
type Option func(*Resolver)

// WithHTTPClient replaces the HTTP client; redirects are never followed automatically
func WithHTTPClient(client *http.Client) Option {
	return func(r *Resolver) {
		c := *client
		c.CheckRedirect = noFollow
		r.client = &c
	}
}

// WithLookup replaces the DNS lookup function
func WithLookup(fn LookupFunc) Option {
	return func(r *Resolver) {
		r.lookup = fn
	}
}

// Resolver follows redirects of shortened URLs with SSRF protection
type Resolver struct {
	client     *http.Client
	lookup     LookupFunc
	maxHops    int
	hopTimeout time.Duration
	userAgent  string
	logger     *zap.Logger
}

// New creates a new URL resolver
func New(cfg config.ResolverConfig, logger *zap.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		maxHops:    cfg.MaxHops,
		hopTimeout: cfg.HopTimeout,
		userAgent:  cfg.UserAgent,
		logger:     logger,
		lookup:     defaultLookup,
	}
	if r.maxHops <= 0 {
		r.maxHops = 3
	}
	if r.hopTimeout <= 0 {
		r.hopTimeout = 3 * time.Second
	}

	dialer := &net.Dialer{Timeout: r.hopTimeout, Control: guardControl}
	r.client = &http.Client{
		Transport: &http.Transport{
			Proxy:                 nil,
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   r.hopTimeout,
			ResponseHeaderTimeout: r.hopTimeout,
			MaxIdleConns:          10,
			IdleConnTimeout:       30 * time.Second,
			DisableKeepAlives:     true,
		},
		CheckRedirect: noFollow,
	}

	for _, opt := range opts {
		opt(r)
	}
	return r
}

func noFollow(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}

func defaultLookup(ctx context.Context, host string) ([]net.IP, error) {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		ips = append(ips, a.IP)
	}
	return ips, nil
}

// Resolve follows rawURL to its terminal destination. It never returns an
// error: failures are reported through Resolution.Reason.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) Resolution {
	res := Resolution{Original: rawURL}

	current, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || current.Hostname() == "" {
		res.Reason = "invalid url"
		return res
	}
	if current.Scheme != "http" && current.Scheme != "https" {
		res.Reason = fmt.Sprintf("unsupported scheme %q", current.Scheme)
		return res
	}

	for hop := 0; hop < r.maxHops; hop++ {
		if reason := r.checkHost(ctx, current.Hostname()); reason != "" {
			res.Blocked = current.String()
			res.Reason = reason
			r.logger.Debug("URL resolution blocked",
				zap.String("url", rawURL),
				zap.String("hop", current.String()),
				zap.String("reason", reason))
			return res
		}

		next, err := r.head(ctx, current)
		if err != nil {
			res.Reason = describe(err)
			return res
		}
		if next == nil {
			res.Final = current.String()
			res.OK = true
			return res
		}

		if next.Scheme != "http" && next.Scheme != "https" {
			res.Reason = fmt.Sprintf("redirect to unsupported scheme %q", next.Scheme)
			return res
		}
		current = next
		res.Hops++
	}

	res.Reason = fmt.Sprintf("hop limit of %d exceeded", r.maxHops)
	return res
}

// checkHost returns a non-empty reason if the host must not be contacted
func (r *Resolver) checkHost(ctx context.Context, host string) string {
	if ip := net.ParseIP(host); ip != nil {
		if IsBlocked(ip) {
			return "blocked address " + ip.String()
		}
		return ""
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.hopTimeout)
	defer cancel()

	ips, err := r.lookup(lookupCtx, host)
	if err != nil {
		return "dns lookup failed: " + describe(err)
	}
	if len(ips) == 0 {
		return "dns lookup returned no addresses"
	}
	for _, ip := range ips {
		if IsBlocked(ip) {
			return fmt.Sprintf("host %s resolves to blocked address %s", host, ip)
		}
	}
	return ""
}

// head issues a HEAD request and returns the redirect target, or nil when the
// response terminates resolution.
func (r *Resolver) head(ctx context.Context, target *url.URL) (*url.URL, error) {
	hopCtx, cancel := context.WithTimeout(ctx, r.hopTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(hopCtx, http.MethodHead, target.String(), nil)
	if err != nil {
		return nil, err
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()

	if resp.StatusCode < 300 || resp.StatusCode > 399 {
		return nil, nil
	}
	loc := resp.Header.Get("Location")
	if loc == "" {
		return nil, nil
	}
	next, err := target.Parse(loc)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect location %q: %w", loc, err)
	}
	return next, nil
}

func describe(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrBlockedAddress):
		return "blocked address at connect time"
	default:
		var urlErr *url.Error
		if errors.As(err, &urlErr) && urlErr.Timeout() {
			return "timeout"
		}
		return err.Error()
	}
}
