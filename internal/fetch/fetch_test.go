package fetch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastOptions() Options {
	return Options{
		Timeout:           5 * time.Second,
		MaxRetries:        3,
		RequestsPerSecond: 1000,
	}
}

func TestFor(t *testing.T) {
	f, err := For("https://evidence.example.com/export.mbox", Options{})
	require.NoError(t, err)
	assert.IsType(t, &HTTPFetcher{}, f)

	f, err = For("http://evidence.example.com/export.mbox", Options{})
	require.NoError(t, err)
	assert.IsType(t, &HTTPFetcher{}, f)

	f, err = For("ftp://drop.example.com/backup.db", Options{})
	require.NoError(t, err)
	assert.IsType(t, &FTPFetcher{}, f)

	_, err = For("gopher://example.com/x", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported scheme")
}

func TestHTTPFetcher_Download(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "forensics-test/1.0", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("archive bytes"))
	}))
	defer srv.Close()

	opts := fastOptions()
	opts.UserAgent = "forensics-test/1.0"
	f := NewHTTPFetcher(opts)

	rc, err := f.Download(context.Background(), srv.URL)
	require.NoError(t, err)
	defer rc.Close()

	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "archive bytes", string(body))
}

func TestHTTPFetcher_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("finally"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(fastOptions())
	rc, err := f.Download(context.Background(), srv.URL)
	require.NoError(t, err)
	defer rc.Close()

	body, _ := io.ReadAll(rc)
	assert.Equal(t, "finally", string(body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPFetcher_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(fastOptions())
	_, err := f.Download(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http 404")
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPFetcher_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	opts := fastOptions()
	opts.MaxRetries = 2
	f := NewHTTPFetcher(opts)

	_, err := f.Download(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPFetcher_DownloadToFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("saved to disk"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(fastOptions())
	path := filepath.Join(t.TempDir(), "archive.mbox")

	n, err := f.DownloadToFile(context.Background(), srv.URL, path)
	require.NoError(t, err)
	assert.Equal(t, int64(len("saved to disk")), n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "saved to disk", string(data))
}

func TestParseFTPURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		wantHost string
		wantPath string
		wantErr  bool
	}{
		{"default port", "ftp://drop.example.com/exports/backup.db", "drop.example.com:21", "/exports/backup.db", false},
		{"explicit port", "ftp://drop.example.com:2121/backup.db", "drop.example.com:2121", "/backup.db", false},
		{"wrong scheme", "http://example.com/x", "", "", true},
		{"empty path", "ftp://drop.example.com", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, path, err := parseFTPURL(tt.url)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, host)
			assert.Equal(t, tt.wantPath, path)
		})
	}
}
