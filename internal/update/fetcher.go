package update

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// ArchiveName is the file the artifact is streamed into.
const ArchiveName = "update.archive"

// progressInterval throttles progress callbacks.
const progressInterval = 200 * time.Millisecond

// Fetcher streams release artifacts to disk.
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	timeout    time.Duration
	progress   ProgressFunc
	logger     *log.Logger
}

// NewFetcher creates an artifact fetcher.
func NewFetcher(opts ...Option) *Fetcher {
	o := buildOptions(opts)
	return &Fetcher{
		httpClient: o.httpClient,
		userAgent:  o.userAgent,
		timeout:    o.timeout,
		progress:   o.progress,
		logger:     o.logger,
	}
}

// Download streams the artifact at rawURL into dir and returns the local
// path. The body is never buffered in memory. A non-success status or a
// stream shorter than the advertised Content-Length is an error, and no
// partial file is left behind.
func (f *Fetcher) Download(ctx context.Context, rawURL, dir string) (string, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading %s: %w", redactURL(rawURL), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("downloading %s: unexpected status %d", redactURL(rawURL), resp.StatusCode)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}
	dest := filepath.Join(dir, ArchiveName)
	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("failed to create archive file: %w", err)
	}

	total := resp.ContentLength
	body := newProgressReader(resp.Body, total, f.progress)

	f.logger.Debug("downloading artifact", "url", redactURL(rawURL), "size", total)
	buf := make([]byte, 256*1024)
	written, copyErr := io.CopyBuffer(out, body, buf)
	closeErr := out.Close()
	body.finish()

	switch {
	case copyErr != nil:
		err = fmt.Errorf("downloading %s: %w", redactURL(rawURL), copyErr)
		if errors.Is(copyErr, io.ErrUnexpectedEOF) {
			err = fmt.Errorf("downloading %s: %w (%d of %d bytes)", redactURL(rawURL), ErrShortDownload, written, total)
		}
	case closeErr != nil:
		err = fmt.Errorf("failed to close archive file: %w", closeErr)
	case total >= 0 && written != total:
		err = fmt.Errorf("downloading %s: %w (%d of %d bytes)", redactURL(rawURL), ErrShortDownload, written, total)
	}
	if err != nil {
		_ = os.Remove(dest)
		return "", err
	}

	f.logger.Debug("artifact downloaded", "path", dest, "bytes", written)
	return dest, nil
}

// progressReader reports bytes read through a throttled callback.
type progressReader struct {
	r        io.Reader
	total    int64
	fn       ProgressFunc
	mu       sync.Mutex
	read     int64
	lastCall time.Time
}

func newProgressReader(r io.Reader, total int64, fn ProgressFunc) *progressReader {
	return &progressReader{r: r, total: total, fn: fn}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.mu.Lock()
		p.read += int64(n)
		now := time.Now()
		if p.fn != nil && now.Sub(p.lastCall) >= progressInterval {
			p.fn(p.read, p.total)
			p.lastCall = now
		}
		p.mu.Unlock()
	}
	return n, err
}

// finish emits the final progress value.
func (p *progressReader) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fn != nil {
		p.fn(p.read, p.total)
	}
}
