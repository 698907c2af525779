package download

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/pterm/pterm"

	"github.com/aurora-linux/aurora/internal/logger"
)

// progressInterval is how often transfer progress is pushed to the display.
const progressInterval = 500 * time.Millisecond

// Display renders download progress. A terminal gets a live multi-bar; plain
// output gets per-job begin/end log lines.
type Display interface {
	JobStarted(name string, total int64)
	JobProgress(name string, downloaded, total int64)
	JobDone(name string, err error)
	Close()
}

func newDisplay() Display {
	if isatty.IsTerminal(os.Stdout.Fd()) {
		return newBarDisplay()
	}
	return &logDisplay{}
}

// logDisplay is the non-interactive fallback.
type logDisplay struct{}

func (d *logDisplay) JobStarted(name string, total int64) {
	if total > 0 {
		logger.Infof("downloading %s (%s)", name, formatBytes(total))
		return
	}
	logger.Infof("downloading %s", name)
}

func (d *logDisplay) JobProgress(string, int64, int64) {}

func (d *logDisplay) JobDone(name string, err error) {
	if err != nil {
		logger.Errorf("download of %s failed: %v", name, err)
		return
	}
	logger.Infof("finished %s", name)
}

func (d *logDisplay) Close() {}

// barDisplay renders one pterm progress bar per job inside a multi printer.
type barDisplay struct {
	mu    sync.Mutex
	multi *pterm.MultiPrinter
	bars  map[string]*pterm.ProgressbarPrinter
}

func newBarDisplay() *barDisplay {
	multi := pterm.DefaultMultiPrinter
	_, _ = multi.Start()
	return &barDisplay{
		multi: &multi,
		bars:  make(map[string]*pterm.ProgressbarPrinter),
	}
}

func (d *barDisplay) JobStarted(name string, total int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.bars[name]; exists {
		return
	}
	barTotal := int(total)
	if barTotal <= 0 {
		barTotal = 1
	}
	bar, err := pterm.DefaultProgressbar.
		WithTotal(barTotal).
		WithTitle(name).
		WithWriter(d.multi.NewWriter()).
		Start()
	if err != nil {
		return
	}
	d.bars[name] = bar
}

func (d *barDisplay) JobProgress(name string, downloaded, total int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	bar, ok := d.bars[name]
	if !ok || total <= 0 {
		return
	}
	if delta := int(downloaded) - bar.Current; delta > 0 {
		bar.Add(delta)
	}
}

func (d *barDisplay) JobDone(name string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	bar, ok := d.bars[name]
	if !ok {
		return
	}
	if err == nil && bar.Total > bar.Current {
		bar.Add(bar.Total - bar.Current)
	}
	_, _ = bar.Stop()
}

func (d *barDisplay) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, _ = d.multi.Stop()
}

// countingWriter forwards progress to the display at a bounded rate.
type countingWriter struct {
	name       string
	total      int64
	written    int64
	lastReport time.Time
	display    Display
}

func (c *countingWriter) copy(dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return c.written, err
			}
			c.written += int64(n)
			if time.Since(c.lastReport) >= progressInterval {
				c.display.JobProgress(c.name, c.written, c.total)
				c.lastReport = time.Now()
			}
		}
		if readErr == io.EOF {
			c.display.JobProgress(c.name, c.written, c.total)
			return c.written, nil
		}
		if readErr != nil {
			return c.written, readErr
		}
	}
}

// formatBytes renders a byte count as a human-readable string.
func formatBytes(bytes int64) string {
	value := float64(bytes)
	suffixes := []string{"B", "KB", "MB", "GB"}
	idx := 0
	for value >= 1024 && idx < len(suffixes)-1 {
		value /= 1024
		idx++
	}
	return fmt.Sprintf("%.1f %s", value, suffixes[idx])
}
