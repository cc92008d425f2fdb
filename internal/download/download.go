package download

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pluglist-tools/moodle-plugin-lookup/pkg/api"
	"golang.org/x/sync/errgroup"
)

var ErrChecksumMismatch = errors.New("checksum verification failed")

var (
	defaultRetryableClient     *retryablehttp.Client
	defaultRetryableClientInit sync.Once
)

func getDefaultRetryableClient() *retryablehttp.Client {
	defaultRetryableClientInit.Do(func() {
		defaultRetryableClient = retryablehttp.NewClient()
		defaultRetryableClient.Logger = nil
		defaultRetryableClient.HTTPClient.Timeout = 3 * time.Minute
	})
	return defaultRetryableClient
}

// Release identifies a single plugin release archive.
type Release struct {
	Component string
	Version   int64
	URL       string
	MD5       string
}

func FromFindResponse(r *api.FindResponse) *Release {
	return &Release{
		Component: r.PluginName,
		Version:   r.LatestVersion.Version,
		URL:       r.LatestVersion.DownloadURL,
		MD5:       r.LatestVersion.DownloadMD5,
	}
}

// FileName is the name the archive is stored under.
func (r *Release) FileName() string {
	return fmt.Sprintf("%s_%d.zip", r.Component, r.Version)
}

// fetch streams the archive into w and verifies its MD5 checksum if the
// release has one.
func fetch(ctx context.Context, w io.Writer, r *Release) (int64, error) {
	if r.URL == "" {
		return 0, fmt.Errorf("%s has no download url", r.Component)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := getDefaultRetryableClient().Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	checksumHash := md5.New()
	n, err := io.Copy(io.MultiWriter(w, checksumHash), resp.Body)
	if err != nil {
		return n, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return n, fmt.Errorf("unexpected content length: %d (should be %d)", n, resp.ContentLength)
	}
	if r.MD5 != "" && !strings.EqualFold(hex.EncodeToString(checksumHash.Sum(nil)), r.MD5) {
		return n, fmt.Errorf("%s: %w", r.FileName(), ErrChecksumMismatch)
	}
	return n, nil
}

// ToDir downloads the release archive into dir and returns its path. The
// file only appears once it has been fully written and verified.
func ToDir(ctx context.Context, r *Release, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, r.FileName()+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := fetch(ctx, tmp, r); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	dst := filepath.Join(dir, r.FileName())
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("failed to move archive into place: %w", err)
	}
	return dst, nil
}

// Bundle downloads all releases concurrently and packs them into a single
// .tar.gz file. It returns the archive path and its SHA-256 checksum.
func Bundle(ctx context.Context, releases []*Release) (string, string, error) {
	archives := make([][]byte, len(releases))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, r := range releases {
		g.Go(func() error {
			var buf bytes.Buffer
			if _, err := fetch(gctx, &buf, r); err != nil {
				return fmt.Errorf("failed to download %s: %w", r.Component, err)
			}
			archives[i] = buf.Bytes()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", "", err
	}

	tgzFile, err := os.CreateTemp("", "moodle-plugins-*.tar.gz")
	if err != nil {
		return "", "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer tgzFile.Close()

	tgzHash := sha256.New()
	gzipWriter := gzip.NewWriter(io.MultiWriter(tgzFile, tgzHash))
	tarWriter := tar.NewWriter(gzipWriter)
	for i, r := range releases {
		err = tarWriter.WriteHeader(&tar.Header{
			Name: fmt.Sprintf("%s/%s", r.Component, r.FileName()),
			Mode: 0o644,
			Size: int64(len(archives[i])),
		})
		if err != nil {
			os.Remove(tgzFile.Name())
			return "", "", fmt.Errorf("failed to write tar header: %w", err)
		}
		if _, err := tarWriter.Write(archives[i]); err != nil {
			os.Remove(tgzFile.Name())
			return "", "", fmt.Errorf("failed to write tar file: %w", err)
		}
	}
	if err := tarWriter.Close(); err != nil {
		os.Remove(tgzFile.Name())
		return "", "", fmt.Errorf("failed to close tar writer: %w", err)
	}
	if err := gzipWriter.Close(); err != nil {
		os.Remove(tgzFile.Name())
		return "", "", fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return tgzFile.Name(), hex.EncodeToString(tgzHash.Sum(nil)), nil
}
