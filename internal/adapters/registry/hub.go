package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/melih/lighthouse-updater/internal/core/domain"
	"github.com/melih/lighthouse-updater/internal/metrics"
	log "github.com/sirupsen/logrus"
)

const (
	// DefaultHubURL is the Docker Hub API base.
	DefaultHubURL = "https://hub.docker.com"

	defaultTimeout   = 10 * time.Second
	defaultAttempts  = 3
	defaultRetryUnit = time.Second
)

// HubOptions tunes the hub client. Zero values select the defaults.
type HubOptions struct {
	// Timeout bounds a single attempt.
	Timeout time.Duration
	// Attempts is the total number of tries, including the first.
	Attempts int
	// RetryUnit is multiplied by the attempt number to get the linear backoff.
	RetryUnit  time.Duration
	HTTPClient *http.Client
}

// HubClient implements ports.TagLister against the Docker Hub tag-listing API.
type HubClient struct {
	baseURL   string
	http      *http.Client
	timeout   time.Duration
	attempts  int
	retryUnit time.Duration
}

// NewHubClient creates a tag lister for the given API base URL.
func NewHubClient(baseURL string, opts HubOptions) *HubClient {
	if baseURL == "" {
		baseURL = DefaultHubURL
	}
	c := &HubClient{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		http:      opts.HTTPClient,
		timeout:   opts.Timeout,
		attempts:  opts.Attempts,
		retryUnit: opts.RetryUnit,
	}
	if c.http == nil {
		c.http = http.DefaultClient
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.attempts <= 0 {
		c.attempts = defaultAttempts
	}
	if c.retryUnit <= 0 {
		c.retryUnit = defaultRetryUnit
	}
	return c
}

// BaseURL returns the API base the client talks to.
func (c *HubClient) BaseURL() string {
	return c.baseURL
}

type hubTagPage struct {
	Count    int      `json:"count"`
	Next     *string  `json:"next"`
	Previous *string  `json:"previous"`
	Results  []hubTag `json:"results"`
}

type hubTag struct {
	Name        string `json:"name"`
	FullSize    int64  `json:"full_size"`
	LastUpdated string `json:"last_updated"`
	Digest      string `json:"digest"`
}

// StatusError is a non-2xx answer from the registry.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("registry returned status %d for %s", e.Code, e.URL)
}

// ListTags fetches the first page of tags. Server errors and transport
// failures are retried with a linear backoff; client errors fail at once.
func (c *HubClient) ListTags(ctx context.Context, repository string, pageSize int) ([]domain.Tag, error) {
	q := url.Values{}
	q.Set("page_size", strconv.Itoa(pageSize))
	q.Set("page", "1")
	endpoint := fmt.Sprintf("%s/v2/repositories/%s/tags?%s", c.baseURL, repository, q.Encode())

	var page hubTagPage
	attempt := 0
	op := func() error {
		attempt++
		p, err := c.fetch(ctx, endpoint)
		if err != nil {
			if isPermanent(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		page = p
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(&linearBackOff{unit: c.retryUnit}, uint64(c.attempts-1)), ctx)
	notify := func(err error, next time.Duration) {
		log.Debugf("Registry request attempt %d/%d failed: %v, retrying in %v", attempt, c.attempts, err, next)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		if isPermanent(err) {
			return nil, err
		}
		netErr := classify(err)
		log.WithError(err).Warnf("Registry unreachable after %d attempt(s): %s", attempt, netErr.Cause)
		return nil, netErr
	}

	tags := make([]domain.Tag, 0, len(page.Results))
	for _, r := range page.Results {
		tag := domain.Tag{Name: r.Name, FullSize: r.FullSize, Digest: r.Digest}
		if ts, err := time.Parse(time.RFC3339Nano, r.LastUpdated); err == nil {
			tag.LastUpdated = ts
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

func (c *HubClient) fetch(ctx context.Context, endpoint string) (hubTagPage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return hubTagPage{}, &malformedError{fmt.Errorf("failed to create registry request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "lighthouse-updater")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RegistryRequests.WithLabelValues(classify(err).Cause).Inc()
		return hubTagPage{}, err
	}
	defer resp.Body.Close()
	metrics.RegistryRequests.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return hubTagPage{}, &StatusError{Code: resp.StatusCode, URL: endpoint}
	}

	var page hubTagPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return hubTagPage{}, &malformedError{fmt.Errorf("failed to decode tag listing: %w", err)}
	}
	return page, nil
}

// malformedError is a request or response that retrying cannot fix.
type malformedError struct{ err error }

func (e *malformedError) Error() string { return e.err.Error() }

func (e *malformedError) Unwrap() error { return e.err }

// isPermanent reports whether err must not be retried: client errors and
// malformed exchanges. Server errors and transport failures are retried.
func isPermanent(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code < http.StatusInternalServerError
	}
	var malformed *malformedError
	return errors.As(err, &malformed)
}

// linearBackOff waits attempt*unit between tries.
type linearBackOff struct {
	unit    time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(b.attempt) * b.unit
}

func (b *linearBackOff) Reset() { b.attempt = 0 }

// classify maps a transport failure to the small set of causes shown to users.
func classify(err error) *domain.NetworkError {
	cause := domain.CauseUnavailable

	var dnsErr *net.DNSError
	var netErr net.Error
	switch {
	case errors.As(err, &dnsErr):
		cause = domain.CauseDNS
	case errors.Is(err, syscall.ECONNREFUSED):
		cause = domain.CauseConnectionRefused
	case errors.Is(err, context.DeadlineExceeded):
		cause = domain.CauseTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		cause = domain.CauseTimeout
	}
	return &domain.NetworkError{Cause: cause, Err: err}
}
