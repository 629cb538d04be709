package gitlab_http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/davarch/buildlight/internal/domain"
	"go.uber.org/zap"
)

const (
	DefaultAttempts = 5
	DefaultDelay    = 5 * time.Second

	maxErrorBody = 4 << 10
)

type Client struct {
	baseUrl  string
	token    string
	hc       *http.Client
	log      *zap.Logger
	attempts int
	delay    time.Duration
}

type Option func(*Client)

func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.log = l } }

// WithRetry sets the total attempt count (first try included) and the fixed
// pause between attempts.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.attempts = attempts
		}
		if delay >= 0 {
			c.delay = delay
		}
	}
}

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.hc = hc } }

func New(baseUrl string, token string, timeout time.Duration, opts ...Option) *Client {
	tr := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		TLSHandshakeTimeout: 5 * time.Second,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
	}

	c := &Client{
		baseUrl:  trimSlash(baseUrl),
		token:    token,
		hc:       &http.Client{Transport: tr, Timeout: timeout},
		log:      zap.NewNop(),
		attempts: DefaultAttempts,
		delay:    DefaultDelay,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ProjectFetcher is the fetcher bound to one tracked project.
type ProjectFetcher struct {
	c  *Client
	pr domain.ProjectRef
}

func (c *Client) ForProject(pr domain.ProjectRef) *ProjectFetcher {
	return &ProjectFetcher{c: c, pr: pr}
}

func (f *ProjectFetcher) LatestBuild(ctx context.Context) (domain.Build, error) {
	return f.c.LatestBuild(ctx, f.pr)
}

type pipelineDTO struct {
	ID     int64  `json:"id"`
	Ref    string `json:"ref"`
	Status string `json:"status"`
	SHA    string `json:"sha"`
	WebURL string `json:"web_url"`
	User   *struct {
		Name string `json:"name"`
	} `json:"user"`
}

// LatestBuild resolves the newest pipeline of pr.Ref and returns its detail
// record. Transport failures are retried with a fixed delay; HTTP error
// statuses, decode failures and a missing pipeline are returned at once.
func (c *Client) LatestBuild(ctx context.Context, pr domain.ProjectRef) (domain.Build, error) {
	var (
		out     domain.Build
		attempt int
	)

	op := func() error {
		attempt++
		b, err := c.fetchLatest(ctx, pr)
		if err != nil {
			return err
		}
		out = b
		return nil
	}

	notify := func(err error, d time.Duration) {
		c.log.Warn("retrying pipeline fetch",
			zap.String("project", pr.ProjectID),
			zap.String("ref", pr.Ref),
			zap.Int("attempt", attempt),
			zap.Duration("delay", d),
			zap.Error(err),
		)
	}

	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(c.delay), uint64(c.attempts-1))
	if err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify); err != nil {
		if ne, ok := err.(*domain.NetworkError); ok {
			ne.Attempts = attempt
		}
		return domain.Build{}, err
	}

	return out, nil
}

func (c *Client) fetchLatest(ctx context.Context, pr domain.ProjectRef) (domain.Build, error) {
	pipelinesURL := fmt.Sprintf("%s/api/v4/projects/%s/pipelines", c.baseUrl, url.QueryEscape(pr.ProjectID))

	var list []pipelineDTO
	if err := c.getJSON(ctx, pipelinesURL+"?ref="+url.QueryEscape(pr.Ref), &list); err != nil {
		return domain.Build{}, err
	}

	// the list is sorted newest first
	var latest *pipelineDTO
	for i := range list {
		if list[i].Ref == pr.Ref {
			latest = &list[i]
			break
		}
	}
	if latest == nil {
		return domain.Build{}, backoff.Permanent(fmt.Errorf("%w %q of %s", domain.ErrNoPipeline, pr.Ref, pr.ProjectID))
	}

	var d pipelineDTO
	if err := c.getJSON(ctx, fmt.Sprintf("%s/%d", pipelinesURL, latest.ID), &d); err != nil {
		return domain.Build{}, err
	}

	c.log.Debug("latest build",
		zap.String("project", pr.ProjectID),
		zap.Int64("pipeline", d.ID),
		zap.String("status", d.Status),
	)

	return toBuild(d), nil
}

func (c *Client) getJSON(ctx context.Context, u string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("PRIVATE-TOKEN", c.token)

	resp, err := c.hc.Do(req)
	if err != nil {
		return &domain.NetworkError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return backoff.Permanent(&domain.ServerError{
			StatusCode: resp.StatusCode,
			Status:     http.StatusText(resp.StatusCode),
			Body:       string(body),
		})
	}

	// timeouts and resets can still fire while the body streams in
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.NetworkError{Err: err}
	}
	if err := json.Unmarshal(body, v); err != nil {
		return backoff.Permanent(fmt.Errorf("decode %s: %w", req.URL.Path, err))
	}
	return nil
}

func toBuild(d pipelineDTO) domain.Build {
	b := domain.Build{
		ID:        d.ID,
		Status:    d.Status,
		Ref:       d.Ref,
		CommitSHA: d.SHA,
		WebURL:    d.WebURL,
	}
	if d.User != nil {
		b.AuthorName = d.User.Name
	}
	return b
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
