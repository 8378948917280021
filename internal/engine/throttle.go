package engine

import (
	"context"
	"sync"
	"time"

	"firewatch/internal/model"
)

// AlertStore is the slice of the store the throttle needs.
type AlertStore interface {
	HasRecentAlert(ctx context.Context, cameraID string, since int64) (bool, error)
	SaveAlert(ctx context.Context, rec model.AlertRecord) error
}

// Throttle allows at most one alert per camera per rolling window. The
// check-then-write is guarded so concurrent callers for the same camera
// cannot double-alert inside the window.
type Throttle struct {
	mu     sync.Mutex
	store  AlertStore
	window time.Duration
}

func NewThrottle(store AlertStore, window time.Duration) *Throttle {
	if window <= 0 {
		window = 12 * time.Hour
	}
	return &Throttle{store: store, window: window}
}

// Allow reports whether a detection at the given timestamp should surface a
// new alert, and records the alert when it should. Suppression records
// nothing.
func (t *Throttle) Allow(ctx context.Context, cameraID string, timestamp int64, imageRef string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	since := timestamp - int64(t.window.Seconds())
	recent, err := t.store.HasRecentAlert(ctx, cameraID, since)
	if err != nil {
		return false, err
	}
	if recent {
		return false, nil
	}
	if err := t.store.SaveAlert(ctx, model.AlertRecord{
		CameraID:  cameraID,
		Timestamp: timestamp,
		ImageRef:  imageRef,
	}); err != nil {
		return false, err
	}
	return true, nil
}
