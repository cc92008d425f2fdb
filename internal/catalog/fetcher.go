package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const DefaultPluglistURL = "https://download.moodle.org/api/1.3/pluglist.php"

var ErrFetchFailed = errors.New("failed to fetch pluglist")

// Fetcher retrieves the raw plugin directory document.
type Fetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
}

type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("failed to fetch pluglist: %d", e.StatusCode)
	}
	return fmt.Sprintf("failed to fetch pluglist: %v", e.Err)
}

func (e *FetchError) Unwrap() []error {
	return []error{ErrFetchFailed, e.Err}
}

type HTTPFetcher struct {
	url    string
	client *retryablehttp.Client
}

type FetcherOption func(c *retryablehttp.Client)

// WithRetryMax sets how many times a failed request is retried. Zero disables
// retries.
func WithRetryMax(n int) FetcherOption {
	return func(c *retryablehttp.Client) {
		c.RetryMax = n
	}
}

func WithRetryWait(minWait, maxWait time.Duration) FetcherOption {
	return func(c *retryablehttp.Client) {
		c.RetryWaitMin = minWait
		c.RetryWaitMax = maxWait
	}
}

func WithTimeout(d time.Duration) FetcherOption {
	return func(c *retryablehttp.Client) {
		c.HTTPClient.Timeout = d
	}
}

func NewHTTPFetcher(url string, opts ...FetcherOption) *HTTPFetcher {
	if url == "" {
		url = DefaultPluglistURL
	}
	client := retryablehttp.NewClient()
	client.Logger = nil
	client.HTTPClient.Timeout = time.Minute
	for _, o := range opts {
		o(client)
	}
	return &HTTPFetcher{url: url, client: client}
}

func (f *HTTPFetcher) URL() string {
	return f.url
}

func (f *HTTPFetcher) Fetch(ctx context.Context) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, &FetchError{URL: f.url, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	res, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: f.url, Err: err}
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &FetchError{URL: f.url, StatusCode: res.StatusCode, Err: fmt.Errorf("unexpected status code: %d", res.StatusCode)}
	}
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &FetchError{URL: f.url, Err: err}
	}
	return data, nil
}
