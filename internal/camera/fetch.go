package camera

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"firewatch/internal/config"
	"firewatch/internal/model"
)

// Fetcher retrieves the current frame from a camera's HTTP endpoint into a
// local file. Transient failures are retried a bounded number of times with
// exponential backoff; the terminal error carries the camera id.
type Fetcher struct {
	client   *http.Client
	attempts int
	backoff  time.Duration
	logger   *slog.Logger
}

func NewFetcher(cfg config.FetchConfig, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		client:   &http.Client{Timeout: cfg.Timeout},
		attempts: cfg.Attempts,
		backoff:  cfg.Backoff,
		logger:   logger,
	}
}

func (f *Fetcher) Fetch(ctx context.Context, cam model.Camera, destPath string) error {
	backoff := f.backoff
	var lastErr error
	for attempt := 1; attempt <= f.attempts; attempt++ {
		if err := f.fetchOnce(ctx, cam, destPath); err != nil {
			lastErr = err
			if f.logger != nil {
				f.logger.Warn("frame fetch failed",
					"camera_id", cam.ID,
					"attempt", attempt,
					"err", err,
				)
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if attempt < f.attempts && !sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff *= 2
			continue
		}
		return nil
	}
	return fmt.Errorf("fetch frame from camera %s after %d attempts: %w", cam.ID, f.attempts, lastErr)
}

func (f *Fetcher) fetchOnce(ctx context.Context, cam model.Camera, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cam.URL, nil)
	if err != nil {
		return err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("camera returned %s", resp.Status)
	}
	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		_ = os.Remove(destPath)
		return err
	}
	return out.Close()
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
