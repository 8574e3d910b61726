package fetch

import (
	"context"
	"io"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

// Fetcher downloads a remote evidence archive.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// Options configures fetchers.
type Options struct {
	UserAgent         string
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerSecond float64
}

// For returns the fetcher for the URL's scheme.
func For(rawURL string, opts Options) (Fetcher, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrap(err, "fetch: parse url")
	}
	switch u.Scheme {
	case "http", "https":
		return NewHTTPFetcher(opts), nil
	case "ftp":
		return NewFTPFetcher(opts), nil
	default:
		return nil, eris.Errorf("fetch: unsupported scheme %q", u.Scheme)
	}
}
