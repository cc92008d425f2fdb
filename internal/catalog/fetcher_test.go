package catalog

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func getPluglistServer(failingRequests int32, status int) (*httptest.Server, *atomic.Int32) {
	var cnt atomic.Int32
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cnt.Add(1) <= failingRequests {
			w.WriteHeader(status)
			return
		}
		_, _ = io.WriteString(w, `{"plugins":[]}`)
	})), &cnt
}

func TestFetch(t *testing.T) {
	ts, cnt := getPluglistServer(0, 0)
	defer ts.Close()
	f := NewHTTPFetcher(ts.URL)
	data, err := f.Fetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, `{"plugins":[]}`, string(data))
	require.Equal(t, int32(1), cnt.Load())
}

func TestFetchRetry(t *testing.T) {
	ts, cnt := getPluglistServer(1, http.StatusInternalServerError)
	defer ts.Close()
	f := NewHTTPFetcher(ts.URL, WithRetryWait(time.Millisecond, 5*time.Millisecond))
	data, err := f.Fetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, `{"plugins":[]}`, string(data))
	require.Equal(t, int32(2), cnt.Load())
}

func TestFetchServerError(t *testing.T) {
	ts, _ := getPluglistServer(100, http.StatusBadGateway)
	defer ts.Close()
	f := NewHTTPFetcher(ts.URL, WithRetryMax(0))
	_, err := f.Fetch(context.Background())
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrFetchFailed))
}

func TestFetchNotFound(t *testing.T) {
	ts, cnt := getPluglistServer(100, http.StatusNotFound)
	defer ts.Close()
	f := NewHTTPFetcher(ts.URL)
	_, err := f.Fetch(context.Background())
	require.True(t, errors.Is(err, ErrFetchFailed))
	require.ErrorContains(t, err, "failed to fetch pluglist: 404")
	// 4xx responses are not retried
	require.Equal(t, int32(1), cnt.Load())
}

func TestFetchUnreachable(t *testing.T) {
	ts, _ := getPluglistServer(0, 0)
	url := ts.URL
	ts.Close()
	f := NewHTTPFetcher(url, WithRetryMax(0))
	_, err := f.Fetch(context.Background())
	require.True(t, errors.Is(err, ErrFetchFailed))
}

func TestDefaultURL(t *testing.T) {
	require.Equal(t, DefaultPluglistURL, NewHTTPFetcher("").URL())
}
