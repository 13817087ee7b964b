package output

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

// writerIsTTY returns true if the given writer exposes an Fd() method
// (e.g. *os.File) and that fd is a terminal.
func writerIsTTY(w io.Writer) bool {
	type fder interface {
		Fd() uintptr
	}
	if f, ok := w.(fder); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// Bytes formats a byte count for humans, e.g. "12 MB".
func Bytes(n int64) string {
	if n < 0 {
		return "?"
	}
	return humanize.Bytes(uint64(n))
}

// DownloadProgress renders byte progress. On a terminal it redraws a bar in
// place; elsewhere it prints a single summary line on Finish.
// Example: [=========>          ]  45% 18 MB / 40 MB
type DownloadProgress struct {
	mu       sync.Mutex
	w        io.Writer
	tty      bool
	width    int
	received int64
	total    int64
	drawn    bool
}

// NewDownloadProgress creates a progress display writing to w.
func NewDownloadProgress(w io.Writer) *DownloadProgress {
	return &DownloadProgress{w: w, tty: writerIsTTY(w), width: 30, total: -1}
}

// Update records progress. It matches update.ProgressFunc.
func (p *DownloadProgress) Update(received, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.received = received
	p.total = total
	if p.tty {
		p.render()
	}
}

// Finish completes the display and moves to a new line.
func (p *DownloadProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tty {
		if p.drawn {
			p.render()
			_, _ = fmt.Fprintln(p.w)
		}
		return
	}
	if p.received > 0 {
		_, _ = fmt.Fprintf(p.w, "Downloaded %s\n", Bytes(p.received))
	}
}

// render draws the bar (must be called with lock held).
func (p *DownloadProgress) render() {
	p.drawn = true
	if p.total <= 0 {
		_, _ = fmt.Fprintf(p.w, "\rDownloading %s", Bytes(p.received))
		return
	}

	received := p.received
	if received > p.total {
		received = p.total
	}
	percentage := int(received * 100 / p.total)
	filled := int(received * int64(p.width) / p.total)

	var bar strings.Builder
	bar.WriteString("[")
	for i := 0; i < p.width; i++ {
		switch {
		case i < filled-1:
			bar.WriteString("=")
		case i == filled-1:
			bar.WriteString(">")
		default:
			bar.WriteString(" ")
		}
	}
	bar.WriteString("]")

	_, _ = fmt.Fprintf(p.w, "\r%s %3d%% %s / %s", bar.String(), percentage, Bytes(received), Bytes(p.total))
}
