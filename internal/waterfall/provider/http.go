package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/skiptrace/internal/model"
	"github.com/sells-group/skiptrace/internal/resilience"
)

const (
	defaultTimeout  = 10 * time.Second
	maxResponseBody = 1 << 20
)

// Spec describes one chain entry.
type Spec struct {
	Name      string
	Tier      model.ProviderTier
	CostCents int64
	BaseURL   string
	APIKey    string
	// EmptyIsMiss turns a well-formed response with no contacts into a
	// no_match failure so the chain advances.
	EmptyIsMiss bool
}

// Option configures an HTTP adapter.
type Option func(*client)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.http = hc
	}
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRateLimit caps requests per second against the provider. Zero
// disables limiting.
func WithRateLimit(perSec float64) Option {
	return func(c *client) {
		if perSec <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSec), max(1, int(perSec)))
	}
}

// WithRetry sets the retry policy applied within one invocation.
func WithRetry(p resilience.Policy) Option {
	return func(c *client) {
		c.policy = p
	}
}

// client is the HTTP plumbing shared by the adapters.
type client struct {
	spec    Spec
	http    *http.Client
	timeout time.Duration
	limiter *rate.Limiter
	policy  resilience.Policy
}

func newClient(spec Spec, opts ...Option) *client {
	spec.BaseURL = strings.TrimRight(spec.BaseURL, "/")
	c := &client{
		spec:    spec,
		timeout: defaultTimeout,
		policy:  resilience.Policy{MaxAttempts: 1},
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *client) Name() string             { return c.spec.Name }
func (c *client) Tier() model.ProviderTier { return c.spec.Tier }
func (c *client) CostCents() int64         { return c.spec.CostCents }

type request struct {
	method string
	path   string
	query  url.Values
	body   any
}

// do sends req with retry and decodes a 2xx body into out. Every error
// returned is a *Failure.
func (c *client) do(ctx context.Context, req request, out any) error {
	_, attempts, err := resilience.Retry(ctx, c.policy, retryable, func(ctx context.Context, attempt int) (struct{}, error) {
		if attempt > 1 {
			zap.L().Debug("provider: retrying lookup",
				zap.String("provider", c.spec.Name),
				zap.Int("attempt", attempt),
			)
		}
		return struct{}{}, c.attempt(ctx, req, out)
	})
	if err != nil && attempts > 1 {
		zap.L().Warn("provider: lookup failed after retries",
			zap.String("provider", c.spec.Name),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
	}
	return err
}

func (c *client) attempt(ctx context.Context, req request, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return classify(c.spec.Name, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqURL := c.spec.BaseURL + req.path
	if len(req.query) > 0 {
		reqURL += "?" + req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		data, err := json.Marshal(req.body)
		if err != nil {
			return &Failure{Provider: c.spec.Name, Kind: KindTransport, Err: eris.Wrap(err, "marshal request")}
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, reqURL, body)
	if err != nil {
		return &Failure{Provider: c.spec.Name, Kind: KindTransport, Err: eris.Wrap(err, "create request")}
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.spec.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.spec.APIKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return classify(c.spec.Name, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return classify(c.spec.Name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Failure{
			Provider:   c.spec.Name,
			Kind:       KindHTTP,
			StatusCode: resp.StatusCode,
			Err:        eris.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(string(respBody), 200)),
		}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &Failure{Provider: c.spec.Name, Kind: KindMalformed, Err: eris.Wrap(err, "decode response")}
	}
	return nil
}

// finish normalizes a decoded result and applies the empty-response policy.
func (c *client) finish(res *LookupResult) (*LookupResult, error) {
	res.Phones = NormalizePhones(res.Phones)
	res.Emails = NormalizeEmails(res.Emails)
	if res.Empty() && c.spec.EmptyIsMiss {
		return nil, &Failure{Provider: c.spec.Name, Kind: KindNoMatch}
	}
	return res, nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
