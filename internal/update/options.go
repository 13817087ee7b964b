package update

import (
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
)

// options collects the settings shared by the pipeline components.
type options struct {
	logger     *log.Logger
	httpClient *http.Client
	token      string
	userAgent  string
	timeout    time.Duration
	progress   ProgressFunc
	scratchDir string
	maxEntry   int64
	lockStale  time.Duration
	lockFile   string
	recorder   Recorder
	now        func() time.Time
}

// Option configures an update component.
type Option func(*options)

func defaultOptions() options {
	return options{
		logger:     log.New(io.Discard),
		httpClient: http.DefaultClient,
		userAgent:  "elevupd",
		maxEntry:   defaultMaxEntryBytes,
		lockStale:  time.Hour,
		now:        time.Now,
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithHTTPClient sets a custom HTTP client, useful for tests or proxies.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithToken sets a bearer token sent with release metadata requests.
func WithToken(token string) Option {
	return func(o *options) { o.token = token }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(o *options) { o.userAgent = ua }
}

// WithTimeout bounds a network operation. Zero means no extra bound.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithProgress sets the download progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(o *options) { o.progress = fn }
}

// WithScratchDir sets the parent directory for per-attempt scratch space.
// Empty means the OS temp dir.
func WithScratchDir(dir string) Option {
	return func(o *options) { o.scratchDir = dir }
}

// WithMaxEntrySize bounds the size of a single extracted archive entry.
func WithMaxEntrySize(n int64) Option {
	return func(o *options) { o.maxEntry = n }
}

// WithLockStaleAfter sets the age after which an installation lock is
// considered abandoned.
func WithLockStaleAfter(d time.Duration) Option {
	return func(o *options) { o.lockStale = d }
}

// WithLockFile sets the installation lock file. Empty means
// <install dir>/.update/lock.
func WithLockFile(path string) Option {
	return func(o *options) { o.lockFile = path }
}

// WithRecorder sets the attempt recorder.
func WithRecorder(r Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}
