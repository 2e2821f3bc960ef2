// Package coingecko fetches historical market-chart series from a
// CoinGecko-compatible REST API.
package coingecko

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"CoinPull/internal/domain/errs"
	"CoinPull/internal/domain/models"
	domrepo "CoinPull/internal/domain/repository"
	"CoinPull/internal/service/ratelimit"
	pkghttp "CoinPull/pkg/http"
	applogger "CoinPull/pkg/logger"

	"github.com/cenkalti/backoff/v4"
)

const (
	sourceName       = "coingecko"
	limiterKey       = "coingecko"
	defaultBase      = "https://api.coingecko.com/api/v3"
	defaultVs        = "usd"
	defaultKeyHeader = "x-cg-demo-api-key"
	defaultUserAgent = "CoinPull/1.0"
)

// Config holds client settings.
type Config struct {
	BaseURL           string
	APIKey            string
	APIKeyHeader      string
	VsCurrency        string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             float64
	MaxRetries        int
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	UserAgent         string
}

// Option configures Client.
type Option func(*Client)

// WithLogger injects a structured logger.
func WithLogger(l *applogger.Logger) Option {
	return func(c *Client) { c.l = l }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *pkghttp.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLimiter shares a limiter between clients.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// Client implements domrepo.SeriesFetcher. Every request first waits on the
// token bucket; 429, 5xx and transport errors are retried with exponential
// backoff, other statuses fail immediately.
type Client struct {
	cfg     Config
	http    *pkghttp.Client
	limiter *ratelimit.Limiter
	l       *applogger.Logger
}

var _ domrepo.SeriesFetcher = (*Client)(nil)

func New(cfg Config, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBase
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.VsCurrency == "" {
		cfg.VsCurrency = defaultVs
	}
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = defaultKeyHeader
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 0.5
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	c := &Client{cfg: cfg, l: applogger.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = pkghttp.NewClient(
			pkghttp.WithTimeout(cfg.Timeout),
			pkghttp.WithUserAgent(cfg.UserAgent),
		)
	}
	if c.limiter == nil {
		c.limiter = ratelimit.New()
	}
	return c
}

func (c *Client) Name() string { return sourceName }

// FetchSeries returns the market chart of assetID over the last days. Any
// failure is an errs.SourceError.
func (c *Client) FetchSeries(ctx context.Context, assetID string, days int) (models.SeriesFragment, error) {
	var frag models.SeriesFragment

	opts := &pkghttp.RequestOptions{
		Method: pkghttp.MethodGet,
		URL:    fmt.Sprintf("%s/coins/%s/market_chart", c.cfg.BaseURL, url.PathEscape(assetID)),
		QueryParams: map[string][]string{
			"vs_currency": {c.cfg.VsCurrency},
			"days":        {strconv.Itoa(days)},
		},
		Headers: map[string]string{"Accept": "application/json"},
	}
	if c.cfg.APIKey != "" {
		opts.Headers[c.cfg.APIKeyHeader] = c.cfg.APIKey
	}

	pol := c.policy()
	attempt := 0
	op := func() error {
		attempt++
		if err := c.limiter.Wait(ctx, limiterKey, c.cfg.Burst, c.cfg.RequestsPerSecond); err != nil {
			return backoff.Permanent(err)
		}
		frag = models.SeriesFragment{}
		err := c.http.SendAndParse(ctx, opts, &frag)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		var se *pkghttp.StatusError
		if errors.As(err, &se) {
			if !se.Temporary() {
				return backoff.Permanent(err)
			}
			pol.hint = se.RetryAfter
			return err
		}
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		c.l.Warn("coingecko request failed, retrying",
			applogger.String("asset_id", assetID),
			applogger.Int("attempt", attempt),
			applogger.Duration("wait_ms", wait),
			applogger.Error(err),
		)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(pol, ctx), notify); err != nil {
		return models.SeriesFragment{}, &errs.SourceError{Source: sourceName, AssetID: assetID, Err: err}
	}
	frag.AssetID = assetID
	return frag, nil
}

func (c *Client) policy() *retryAfterBackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.cfg.BackoffInitial
	exp.MaxInterval = c.cfg.BackoffMax
	exp.MaxElapsedTime = 0
	// NewExponentialBackOff resets with the library's 500ms default.
	exp.Reset()
	return &retryAfterBackOff{
		BackOff: backoff.WithMaxRetries(exp, uint64(c.cfg.MaxRetries)),
		max:     c.cfg.BackoffMax,
	}
}

// retryAfterBackOff stretches the next interval to the server's Retry-After
// hint when one was sent. Intervals never exceed max, jitter included.
type retryAfterBackOff struct {
	backoff.BackOff
	hint time.Duration
	max  time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	if b.hint > next {
		next = b.hint
	}
	b.hint = 0
	return min(next, b.max)
}
