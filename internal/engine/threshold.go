package engine

import (
	"context"
	"log/slog"
	"time"

	"firewatch/internal/config"
	"firewatch/internal/model"
	"firewatch/internal/storage"
)

// HistoryStore is the slice of the score store the thresholder needs.
type HistoryStore interface {
	SegmentHistory(ctx context.Context, q storage.HistoryQuery) ([]model.SegmentStats, error)
}

// Thresholder implements the adaptive historical filter. Smoke classifiers
// score haze and glare above the floor fairly often, and both tend to recur
// at similar times of day across several days. The filter raises the bar for
// each bounding box based on the box's own max score at the same time of day
// over the lookback window.
type Thresholder struct {
	store  HistoryStore
	cfg    config.DetectionConfig
	logger *slog.Logger
}

func NewThresholder(store HistoryStore, cfg config.DetectionConfig, logger *slog.Logger) *Thresholder {
	return &Thresholder{store: store, cfg: cfg, logger: logger}
}

// AdaptiveThreshold returns the score a segment must exceed given the
// historical max for its box: halfway between that max and certainty, but at
// least margin above it. The margin term matters when the historical max is
// already close to 1.0 and the halfway rule would barely raise the bar.
func AdaptiveThreshold(histMax, margin float64) float64 {
	threshold := (histMax + 1) / 2
	if t := histMax + margin; t > threshold {
		threshold = t
	}
	return threshold
}

// FindFireSegment returns the segment most likely to be a genuine new fire,
// or nil. The input must be sorted descending by score. A segment with no
// historical baseline for its exact bounding box never qualifies here.
func (t *Thresholder) FindFireSegment(ctx context.Context, cameraID string, timestamp int64, segments []model.Segment) (*model.Detection, error) {
	if len(segments) == 0 {
		return nil, nil
	}
	// Sorted input, so nothing can reach the floor if the top score misses it.
	// Skipping here also avoids the history query entirely.
	if segments[0].Score < t.cfg.MinScore {
		return nil, nil
	}

	captured := time.Unix(timestamp, 0)
	secondsInDay := model.SecondsInDay(captured)
	band := int(t.cfg.DayBand.Seconds())
	history, err := t.store.SegmentHistory(ctx, storage.HistoryQuery{
		CameraID:  cameraID,
		After:     timestamp - int64(t.cfg.LookbackStart.Seconds()),
		Before:    timestamp - int64(t.cfg.LookbackEnd.Seconds()),
		DayAfter:  secondsInDay - band,
		DayBefore: secondsInDay + band,
	})
	if err != nil {
		return nil, err
	}

	var best *model.Detection
	for _, seg := range segments {
		if seg.Score < t.cfg.MinScore {
			break
		}
		for _, stats := range history {
			if !seg.SameBox(stats) {
				continue
			}
			threshold := AdaptiveThreshold(stats.MaxScore, t.cfg.Margin)
			if seg.Score > threshold && (best == nil || seg.Score > best.Segment.Score) {
				best = &model.Detection{
					CameraID:    cameraID,
					Timestamp:   timestamp,
					Segment:     seg,
					HistAvg:     stats.AvgScore,
					HistMax:     stats.MaxScore,
					HistSamples: stats.Count,
				}
			}
		}
	}
	if best != nil && t.logger != nil {
		t.logger.Info("segment passed adaptive threshold",
			"camera_id", cameraID,
			"score", best.Segment.Score,
			"hist_max", best.HistMax,
			"hist_samples", best.HistSamples,
		)
	}
	return best, nil
}
