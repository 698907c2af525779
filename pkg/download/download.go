// Package download implements the parallel multi-source fetcher. Every job
// carries an ordered mirror list; a failing mirror truncates the partial file
// and the job restarts on the next one. Jobs whose mirrors are all exhausted
// are failed and their partial downloads deleted.
package download

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/aurora-linux/aurora/internal/logger"
	"github.com/aurora-linux/aurora/pkg/errors"
)

// Job describes one download: candidate mirror URLs in fallback order, the
// destination path, and a name for display purposes.
type Job struct {
	URLs        []string
	Dest        string
	DisplayName string
}

// Manager is the downloader contract consumed by the engine.
type Manager interface {
	// FetchAll downloads all jobs in parallel. It returns an error if any job
	// exhausted its mirrors; all jobs settle before it returns.
	FetchAll(ctx context.Context, jobs []Job) error

	// TotalDownloadSize sums the announced sizes of all jobs via HEAD
	// requests. It returns -1 when any size cannot be determined.
	TotalDownloadSize(ctx context.Context, jobs []Job) int64
}

// ManagerImpl is the HTTP implementation of Manager.
type ManagerImpl struct {
	client      *http.Client
	userAgent   string
	concurrency int
}

// NewManager creates a download manager with the given timeout and user agent.
func NewManager(timeout time.Duration, userAgent string) *ManagerImpl {
	if userAgent == "" {
		userAgent = "aurora/1.0"
	}
	return &ManagerImpl{
		client:      &http.Client{Timeout: timeout},
		userAgent:   userAgent,
		concurrency: max(2, runtime.NumCPU()/2),
	}
}

// FetchAll downloads all jobs in parallel with bounded workers.
func (m *ManagerImpl) FetchAll(ctx context.Context, jobs []Job) error {
	if len(jobs) == 0 {
		return nil
	}

	display := newDisplay()
	defer display.Close()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	tasks := make(chan int)

	workers := min(m.concurrency, len(jobs))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range tasks {
				err := m.fetchJob(ctx, jobs[idx], display)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
				}
			}
		}()
	}

	for i := range jobs {
		tasks <- i
	}
	close(tasks)
	wg.Wait()

	return firstErr
}

// fetchJob walks the job's mirror list until one succeeds. A transport error
// or an HTTP status >= 400 truncates the destination and advances to the next
// mirror; exhaustion deletes the partial file and fails the job.
func (m *ManagerImpl) fetchJob(ctx context.Context, job Job, display Display) error {
	if err := os.MkdirAll(filepath.Dir(job.Dest), 0o755); err != nil {
		return errors.Wrap(err, "cannot create download directory")
	}

	var lastErr error
	for _, mirror := range job.URLs {
		err := m.fetchOnce(ctx, mirror, job, display)
		if err == nil {
			display.JobDone(job.DisplayName, nil)
			return nil
		}
		lastErr = err
		logger.Warn("mirror failed, trying next", logger.Fields{
			"job":    job.DisplayName,
			"mirror": mirror,
			"error":  err.Error(),
		})
	}

	_ = os.Remove(job.Dest)
	err := errors.Wrapf(errors.ErrDownloadFailed, "all mirrors exhausted for %s: %v", job.DisplayName, lastErr)
	display.JobDone(job.DisplayName, err)
	return err
}

// fetchOnce performs a single transfer attempt, truncating any previous
// partial content.
func (m *ManagerImpl) fetchOnce(ctx context.Context, rawURL string, job Job, display Display) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return errors.Wrapf(err, "invalid URL %s", rawURL)
	}
	req.Header.Set("User-Agent", m.userAgent)

	resp, err := m.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "request to %s failed", rawURL)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, rawURL)
	}

	dest, err := os.OpenFile(job.Dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrapf(err, "cannot open %s", job.Dest)
	}
	defer func() { _ = dest.Close() }()

	display.JobStarted(job.DisplayName, resp.ContentLength)
	counter := &countingWriter{
		name:    job.DisplayName,
		total:   resp.ContentLength,
		display: display,
	}
	if _, err := counter.copy(dest, resp.Body); err != nil {
		return errors.Wrapf(err, "transfer from %s failed", rawURL)
	}
	return dest.Sync()
}

// TotalDownloadSize issues HEAD requests to compute the aggregate announced
// byte count of all jobs. Any failure makes the aggregate unknown (-1).
func (m *ManagerImpl) TotalDownloadSize(ctx context.Context, jobs []Job) int64 {
	var total int64
	for _, job := range jobs {
		size := m.headSize(ctx, job)
		if size < 0 {
			return -1
		}
		total += size
	}
	return total
}

func (m *ManagerImpl) headSize(ctx context.Context, job Job) int64 {
	for _, mirror := range job.URLs {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, mirror, http.NoBody)
		if err != nil {
			continue
		}
		req.Header.Set("User-Agent", m.userAgent)
		resp, err := m.client.Do(req)
		if err != nil {
			continue
		}
		_ = resp.Body.Close()
		if resp.StatusCode >= http.StatusBadRequest || resp.ContentLength < 0 {
			continue
		}
		return resp.ContentLength
	}
	return -1
}
