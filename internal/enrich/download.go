package enrich

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"
)

// maxDownloadBytes bounds a single artwork download. Posters and thumbnails
// are well under this; anything larger is not an image we want.
const maxDownloadBytes = 32 << 20

// Downloader fetches remote artwork bytes.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// HTTPDownloader is the production Downloader backed by net/http.
type HTTPDownloader struct {
	client *http.Client
}

// NewHTTPDownloader builds a downloader. A nil client gets a 30 second
// timeout default.
func NewHTTPDownloader(client *http.Client) *HTTPDownloader {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPDownloader{client: client}
}

// Download fetches the URL and returns the body bytes.
func (d *HTTPDownloader) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s after %s: %w", url, time.Since(start).Round(time.Millisecond), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: unexpected status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", url, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("download %s: empty body", url)
	}
	return data, nil
}

// extFromURL derives a storage extension from the URL path, defaulting to
// jpg for extensionless provider URLs.
func extFromURL(url string) string {
	ext := strings.TrimPrefix(path.Ext(url), ".")
	if idx := strings.IndexAny(ext, "?#"); idx >= 0 {
		ext = ext[:idx]
	}
	if ext == "" {
		return "jpg"
	}
	return strings.ToLower(ext)
}
