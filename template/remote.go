package template

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	openfhir "github.com/vitagroupag/openFHIR-sub001"
	"github.com/vitagroupag/openFHIR-sub001/pkg/logger"
)

// WebTemplateMediaType is the Accept header value for web templates.
const WebTemplateMediaType = "application/openehr.wt+json"

// RemoteStore fetches web templates from an openEHR server's definition API.
type RemoteStore struct {
	baseURL string
	client  *retryablehttp.Client
	header  http.Header
}

// RemoteOption configures a RemoteStore.
type RemoteOption func(*RemoteStore)

// WithRetryMax sets the maximum number of retries.
func WithRetryMax(n int) RemoteOption {
	return func(s *RemoteStore) {
		if n >= 0 {
			s.client.RetryMax = n
		}
	}
}

// WithTimeout sets the timeout of each HTTP attempt.
func WithTimeout(d time.Duration) RemoteOption {
	return func(s *RemoteStore) {
		if d > 0 {
			s.client.HTTPClient.Timeout = d
		}
	}
}

// WithHeader adds a header, e.g. Authorization, to every request.
func WithHeader(key, value string) RemoteOption {
	return func(s *RemoteStore) {
		s.header.Set(key, value)
	}
}

// NewRemoteStore creates a store for the openEHR REST API rooted at baseURL
// (e.g. "http://localhost:8080/ehrbase/rest/openehr/v1").
func NewRemoteStore(baseURL string, opts ...RemoteOption) *RemoteStore {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	client.Logger = nil

	s := &RemoteStore{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
		header:  make(http.Header),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WebTemplate fetches the web template of templateID. A 404 response is
// reported as openfhir.ErrNoTemplate.
func (s *RemoteStore) WebTemplate(ctx context.Context, templateID string) ([]byte, error) {
	endpoint := s.baseURL + "/definition/template/adl1.4/" + url.PathEscape(templateID)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build template request: %w", err)
	}
	req.Header.Set("Accept", WebTemplateMediaType)
	for k, v := range s.header {
		req.Header[k] = v
	}

	logger.Debug("fetching web template %q from %s", templateID, endpoint)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch template %q: %w", templateID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read template %q: %w", templateID, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", openfhir.ErrNoTemplate, templateID)
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("fetch template %q: unexpected status %d", templateID, resp.StatusCode)
	}
	return body, nil
}
