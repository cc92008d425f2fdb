package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pluglist-tools/moodle-plugin-lookup/pkg/api"
)

type ErrorResponse struct {
	StatusCode int
	ErrorMsg   string `json:"error"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("unexpected status code: %d, error: %s", e.StatusCode, e.ErrorMsg)
}

// IsNotFound reports whether err is a 404 response, e.g. an unknown plugin or
// a plugin without a compatible release.
func IsNotFound(err error) bool {
	var errResp *ErrorResponse
	return errors.As(err, &errResp) && errResp.StatusCode == http.StatusNotFound
}

// Target selects the Moodle platform of a lookup. Exactly one of the fields
// must be set.
type Target struct {
	Version int64
	Release string
}

func (t Target) query() url.Values {
	q := url.Values{}
	if t.Version != 0 {
		q.Set("moodle_version", strconv.FormatInt(t.Version, 10))
	}
	if t.Release != "" {
		q.Set("moodle_release", t.Release)
	}
	return q
}

type Client struct {
	serverURL  string
	httpClient *http.Client
}

func New(serverURL string) *Client {
	return &Client{
		serverURL: serverURL,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

func setAuth(adminAccessToken string) func(r *http.Request) {
	return func(r *http.Request) {
		r.Header.Set("Authorization", adminAccessToken)
	}
}

func getPluginURL(pluginName string) string {
	return fmt.Sprintf("plugins/%s", url.PathEscape(pluginName))
}

func (c *Client) sendRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader, modifyRequestFns ...func(r *http.Request)) (*http.Response, error) {
	apiEndpoint, err := url.JoinPath(c.serverURL, "api/v1", endpoint)
	if err != nil {
		return nil, err
	}
	if len(query) > 0 {
		apiEndpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, apiEndpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json; charset=utf-8")
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	for _, f := range modifyRequestFns {
		f(req)
	}
	return c.httpClient.Do(req)
}

func (c *Client) checkResponse(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	errResp := &ErrorResponse{StatusCode: resp.StatusCode}
	if err := json.NewDecoder(resp.Body).Decode(errResp); err != nil || errResp.ErrorMsg == "" {
		errResp.ErrorMsg = http.StatusText(resp.StatusCode)
	}
	return errResp
}

func (c *Client) decodeResponse(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if err := c.checkResponse(resp); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) RawPluglist(ctx context.Context) ([]byte, error) {
	resp, err := c.sendRequest(ctx, http.MethodGet, "pluglist", nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := c.checkResponse(resp); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) FindLatestVersion(ctx context.Context, pluginName string, target Target) (*api.FindResponse, error) {
	resp, err := c.sendRequest(ctx, http.MethodGet, getPluginURL(pluginName)+"/latest", target.query(), nil)
	if err != nil {
		return nil, err
	}
	var res api.FindResponse
	if err := c.decodeResponse(resp, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) FindLatestVersions(ctx context.Context, pluginNames []string, target Target) (*api.BatchResponse, error) {
	batch := &api.BatchRequest{Plugins: pluginNames}
	if target.Version != 0 {
		batch.MoodleVersion = &target.Version
	}
	if target.Release != "" {
		batch.MoodleRelease = &target.Release
	}
	var bodyBuffer bytes.Buffer
	if err := json.NewEncoder(&bodyBuffer).Encode(batch); err != nil {
		return nil, err
	}
	resp, err := c.sendRequest(ctx, http.MethodPost, "plugins/_batch", nil, &bodyBuffer)
	if err != nil {
		return nil, err
	}
	var br api.BatchResponse
	if err := c.decodeResponse(resp, &br); err != nil {
		return nil, err
	}
	return &br, nil
}

func (c *Client) ListVersions(ctx context.Context, pluginName string) (*api.VersionsResponse, error) {
	resp, err := c.sendRequest(ctx, http.MethodGet, getPluginURL(pluginName)+"/versions", nil, nil)
	if err != nil {
		return nil, err
	}
	var res api.VersionsResponse
	if err := c.decodeResponse(resp, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) CacheStatus(ctx context.Context) (*api.CacheStatusResponse, error) {
	resp, err := c.sendRequest(ctx, http.MethodGet, "cache", nil, nil)
	if err != nil {
		return nil, err
	}
	var st api.CacheStatusResponse
	if err := c.decodeResponse(resp, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) ClearCache(ctx context.Context, adminAccessToken string) error {
	resp, err := c.sendRequest(ctx, http.MethodDelete, "cache", nil, nil, setAuth(adminAccessToken))
	if err != nil {
		return err
	}
	var clearResponse map[string]bool
	if err := c.decodeResponse(resp, &clearResponse); err != nil {
		return err
	}
	if !clearResponse["ok"] {
		return fmt.Errorf("clear cache failed: reason unknown")
	}
	return nil
}
