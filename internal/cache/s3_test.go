package cache

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
)

type fakeObject struct {
	data    []byte
	modTime time.Time
}

// fakeBucket is a minimal path style S3 endpoint for a single bucket
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string]*fakeObject
	now     func() time.Time
	gets    int
}

func (b *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch r.Method {
	case http.MethodHead:
		obj, ok := b.objects[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Last-Modified", obj.modTime.UTC().Format(http.TimeFormat))
		w.Header().Set("Content-Length", strconv.Itoa(len(obj.data)))
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		b.gets++
		obj, ok := b.objects[r.URL.Path]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			return
		}
		w.Header().Set("Last-Modified", obj.modTime.UTC().Format(http.TimeFormat))
		w.Header().Set("Content-Length", strconv.Itoa(len(obj.data)))
		_, _ = w.Write(obj.data)
	case http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		b.objects[r.URL.Path] = &fakeObject{data: data, modTime: b.now()}
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		delete(b.objects, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (b *fakeBucket) getCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gets
}

func (b *fakeBucket) has(path string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[path]
	return ok
}

func createS3Client(t *testing.T, handler http.Handler) (*s3.Client, func()) {
	ts := httptest.NewServer(handler)
	s3Cfg, err := awsConfig.LoadDefaultConfig(context.TODO(),
		awsConfig.WithRegion("auto"),
		awsConfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               ts.URL,
				HostnameImmutable: true,
			}, nil
		})),
		awsConfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
	)
	require.NoError(t, err)
	return s3.NewFromConfig(s3Cfg), ts.Close
}

func TestS3BackendRoundTrip(t *testing.T) {
	modTime := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	bucket := &fakeBucket{objects: map[string]*fakeObject{}, now: func() time.Time { return modTime }}
	client, closeFn := createS3Client(t, bucket)
	defer closeFn()

	b := NewS3Backend(client, "test", "cache/")
	require.Equal(t, "cache/"+FileName, b.Key())
	ctx := context.Background()

	_, err := b.Load(ctx)
	require.ErrorIs(t, err, ErrNoEntry)
	_, err = b.Stat(ctx)
	require.ErrorIs(t, err, ErrNoEntry)

	require.NoError(t, b.Store(ctx, &Entry{Data: []byte(`{"plugins":[]}`)}))
	require.True(t, bucket.has("/test/cache/"+FileName))

	e, err := b.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, `{"plugins":[]}`, string(e.Data))
	require.True(t, modTime.Equal(e.StoredAt))

	gets := bucket.getCount()
	storedAt, err := b.Stat(ctx)
	require.NoError(t, err)
	require.True(t, modTime.Equal(storedAt))
	require.Equal(t, gets, bucket.getCount())

	require.NoError(t, b.Delete(ctx))
	require.NoError(t, b.Delete(ctx))
	_, err = b.Load(ctx)
	require.ErrorIs(t, err, ErrNoEntry)
}

func TestS3BackendCache(t *testing.T) {
	clock := newFakeClock()
	bucket := &fakeBucket{objects: map[string]*fakeObject{}, now: clock.Now}
	client, closeFn := createS3Client(t, bucket)
	defer closeFn()

	f := &fakeFetcher{data: "v1"}
	c := New(NewS3Backend(client, "test", ""), f, WithClock(clock.Now))
	ctx := context.Background()

	data, err := c.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, "v1", string(data))

	clock.Advance(30 * time.Minute)
	f.set("v2", nil)
	data, err = c.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, "v1", string(data))
	require.Equal(t, 1, f.count())

	clock.Advance(time.Hour)
	f.set("", errUpstream)
	data, err = c.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, "v1", string(data))
	require.Equal(t, 2, f.count())

	require.NoError(t, c.Invalidate(ctx))
	st, err := c.Status(ctx)
	require.NoError(t, err)
	require.False(t, st.Present)
}
