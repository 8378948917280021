package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"firewatch/internal/alerts"
	"firewatch/internal/config"
	"firewatch/internal/engine"
	"firewatch/internal/imaging"
	"firewatch/internal/model"
	"firewatch/internal/storage"
)

type Classifier interface {
	Classify(ctx context.Context, imagePath string) ([]model.Segment, error)
}

type FrameFetcher interface {
	Fetch(ctx context.Context, cam model.Camera, destPath string) error
}

type ObjectUploader interface {
	Upload(ctx context.Context, path string) (string, error)
}

type AlertNotifier interface {
	Alert(ctx context.Context, det model.Detection, rec model.AlertRecord, attachments []string)
}

type Deps struct {
	Store      storage.Store
	Fetcher    FrameFetcher
	Classifier Classifier
	Uploader   ObjectUploader
	Notifier   AlertNotifier
	Session    *imaging.Session
	Recent     *alerts.Store
	Logger     *slog.Logger
}

// Pipeline drives the sampling loop: select a source, acquire a frame,
// optionally pair it into a temporal diff, classify, persist, decide, alert,
// clean up. One cycle completes fully before the next begins.
type Pipeline struct {
	cfg         *config.Config
	store       storage.Store
	fetcher     FrameFetcher
	classifier  Classifier
	uploader    ObjectUploader
	notifier    AlertNotifier
	queue       *engine.DeferredQueue
	thresholder *engine.Thresholder
	throttle    *engine.Throttle
	session     *imaging.Session
	recent      *alerts.Store
	replay      *replaySource
	cameras     []model.Camera
	logger      *slog.Logger
	now         func() time.Time
}

func New(cfg *config.Config, deps Deps) (*Pipeline, error) {
	p := &Pipeline{
		cfg:         cfg,
		store:       deps.Store,
		fetcher:     deps.Fetcher,
		classifier:  deps.Classifier,
		uploader:    deps.Uploader,
		notifier:    deps.Notifier,
		queue:       engine.NewDeferredQueue(cfg.Scheduler.MinusMinutes, cfg.Scheduler.DrainItemCost),
		thresholder: engine.NewThresholder(deps.Store, cfg.Detection, deps.Logger),
		throttle:    engine.NewThrottle(deps.Store, cfg.Alerts.Cooldown),
		session:     deps.Session,
		recent:      deps.Recent,
		logger:      deps.Logger,
		now:         time.Now,
	}
	if cfg.Replay.Dir != "" {
		replay, err := newReplaySource(cfg.Replay.Dir)
		if err != nil {
			return nil, fmt.Errorf("scan replay directory: %w", err)
		}
		p.replay = replay
	}
	return p, nil
}

// Queue exposes the deferred queue for the status API.
func (p *Pipeline) Queue() *engine.DeferredQueue {
	return p.queue
}

// Run loops cycles until the context is cancelled or, in replay mode, the
// directory is exhausted. A failed cycle is logged and the loop continues.
func (p *Pipeline) Run(ctx context.Context) error {
	cams, err := p.store.ListCameras(ctx)
	if err != nil {
		return fmt.Errorf("list cameras: %w", err)
	}
	p.cameras = cams
	if len(p.cameras) == 0 && p.replay == nil {
		return errors.New("no cameras registered and no replay directory configured")
	}
	if p.logger != nil {
		p.logger.Info("pipeline started",
			"cameras", len(p.cameras),
			"minus_minutes", p.cfg.Scheduler.MinusMinutes,
			"replay", p.replay != nil,
		)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		err := p.runCycle(ctx)
		switch {
		case errors.Is(err, ErrReplayDone):
			if p.logger != nil {
				p.logger.Info("finished processing replay directory")
			}
			return nil
		case err != nil && ctx.Err() != nil:
			return nil
		case err != nil:
			if p.logger != nil {
				p.logger.Error("cycle failed", "err", err)
			}
			sleepCtx(ctx, time.Second)
		}
	}
}

func (p *Pipeline) runCycle(ctx context.Context) error {
	cycleStart := p.now()
	now := cycleStart.Unix()

	var sample model.ImageSample
	var pairPath string

	if job, ok := p.queue.NextReady(now); ok {
		if _, err := os.Stat(job.ImagePath); err != nil {
			// baseline vanished mid-wait (camera reconfigured, manual wipe):
			// drop the pairing rather than diff against the wrong scene
			if p.logger != nil {
				p.logger.Warn("dropping deferred job, baseline frame missing",
					"camera_id", job.CameraID, "path", job.ImagePath)
			}
			return nil
		}
		cam, found := p.cameraByID(job.CameraID)
		if !found {
			_ = os.Remove(job.ImagePath)
			if p.logger != nil {
				p.logger.Warn("dropping deferred job, camera no longer registered", "camera_id", job.CameraID)
			}
			return nil
		}
		fresh, err := p.fetchFrame(ctx, cam)
		if err != nil {
			_ = os.Remove(job.ImagePath)
			return err
		}
		sample = fresh
		pairPath = job.ImagePath
	} else if p.replay != nil {
		next, err := p.replay.Next(p.session, p.logger)
		if err != nil {
			return err
		}
		sample = next
	} else {
		cam, err := p.nextCamera(ctx)
		if err != nil {
			return err
		}
		fresh, err := p.fetchFrame(ctx, cam)
		if err != nil {
			return err
		}
		sample = fresh
	}

	minusMinutes := p.cfg.Scheduler.MinusMinutes
	if minusMinutes > 0 && pairPath == "" {
		// frame becomes the baseline of a future diff; no scoring this cycle
		if err := p.queue.Enqueue(sample.CameraID, sample.Path, now); err != nil {
			_ = os.Remove(sample.Path)
			if errors.Is(err, engine.ErrCameraQueued) {
				if p.logger != nil {
					p.logger.Warn("camera already awaiting its paired diff",
						"camera_id", sample.CameraID, "queue_depth", p.queue.Len())
				}
				sleepCtx(ctx, 2*time.Second)
				return nil
			}
			return err
		}
		if p.logger != nil {
			p.logger.Debug("frame deferred", "camera_id", sample.CameraID, "queue_depth", p.queue.Len())
		}
		return nil
	}

	toRemove := []string{sample.Path}
	if pairPath != "" {
		toRemove = append(toRemove, pairPath)
	}
	defer func() {
		for _, path := range toRemove {
			_ = os.Remove(path)
		}
	}()

	classifyPath := sample.Path
	if pairPath != "" {
		diffPath := p.session.Path(imaging.DiffName(sample.CameraID, sample.Timestamp, minusMinutes))
		if err := imaging.Diff(sample.Path, pairPath, diffPath); err != nil {
			return fmt.Errorf("diff frames: %w", err)
		}
		toRemove = append(toRemove, diffPath)
		classifyPath = diffPath
	}

	segments, err := p.classifier.Classify(ctx, classifyPath)
	if err != nil {
		return fmt.Errorf("classify: %w", err)
	}
	if len(segments) == 0 {
		if p.logger != nil {
			p.logger.Warn("classifier returned no segments", "camera_id", sample.CameraID)
		}
		return nil
	}
	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].Score > segments[j].Score
	})

	secondsInDay := model.SecondsInDay(time.Unix(sample.Timestamp, 0))
	records := make([]model.ScoreRecord, 0, len(segments))
	for _, seg := range segments {
		records = append(records, model.ScoreRecord{
			CameraID:     sample.CameraID,
			Timestamp:    sample.Timestamp,
			Segment:      seg,
			MinusMinutes: minusMinutes,
			SecondsInDay: secondsInDay,
		})
	}
	if err := p.store.SaveScores(ctx, records); err != nil {
		return fmt.Errorf("save scores: %w", err)
	}

	if p.cfg.Collector.Enabled {
		p.collectPositives(sample, segments)
	}

	det, err := p.thresholder.FindFireSegment(ctx, sample.CameraID, sample.Timestamp, segments)
	if err != nil {
		return fmt.Errorf("adaptive threshold: %w", err)
	}
	if det != nil {
		if err := p.reportDetection(ctx, sample, det, &toRemove); err != nil {
			return err
		}
	}

	p.touchHeartbeat()
	if p.cfg.Heartbeat.LogTimings && p.logger != nil {
		p.logger.Info("cycle complete",
			"camera_id", sample.CameraID,
			"top_score", segments[0].Score,
			"elapsed", time.Since(cycleStart).Round(time.Millisecond),
		)
	}
	return nil
}

func (p *Pipeline) reportDetection(ctx context.Context, sample model.ImageSample, det *model.Detection, toRemove *[]string) error {
	annotated, err := imaging.Annotate(sample.Path, det.Segment, det.HistMax)
	if err != nil {
		return fmt.Errorf("annotate frame: %w", err)
	}
	*toRemove = append(*toRemove, annotated)

	det.ImageRef = p.uploadBestEffort(ctx, sample.Path, annotated)
	if err := p.store.SaveDetection(ctx, *det); err != nil {
		return fmt.Errorf("save detection: %w", err)
	}
	if p.logger != nil {
		p.logger.Warn("fire detected",
			"camera_id", det.CameraID,
			"score", det.Segment.Score,
			"hist_max", det.HistMax,
			"hist_samples", det.HistSamples,
			"image_ref", det.ImageRef,
		)
	}

	allowed, err := p.throttle.Allow(ctx, det.CameraID, det.Timestamp, det.ImageRef)
	if err != nil {
		return fmt.Errorf("alert throttle: %w", err)
	}
	if !allowed {
		if p.logger != nil {
			p.logger.Info("suppressing alert inside cooldown window", "camera_id", det.CameraID)
		}
		return nil
	}
	rec := model.AlertRecord{CameraID: det.CameraID, Timestamp: det.Timestamp, ImageRef: det.ImageRef}
	if p.recent != nil {
		p.recent.Add(rec)
	}
	if p.notifier != nil {
		p.notifier.Alert(ctx, *det, rec, []string{sample.Path, annotated})
	}
	return nil
}

// uploadBestEffort stores the raw and annotated frames, returning the raw
// frame's ref. Upload failure must not abort the detection record.
func (p *Pipeline) uploadBestEffort(ctx context.Context, rawPath, annotatedPath string) string {
	if p.uploader == nil {
		return ""
	}
	ref, err := p.uploader.Upload(ctx, rawPath)
	if err != nil {
		if p.logger != nil {
			p.logger.Error("frame upload failed", "path", rawPath, "err", err)
		}
		ref = ""
	}
	if _, err := p.uploader.Upload(ctx, annotatedPath); err != nil {
		if p.logger != nil {
			p.logger.Error("annotated frame upload failed", "path", annotatedPath, "err", err)
		}
	}
	return ref
}

func (p *Pipeline) collectPositives(sample model.ImageSample, segments []model.Segment) {
	collected := 0
	for _, seg := range segments {
		if seg.Score <= p.cfg.Detection.MinScore {
			break
		}
		if _, err := imaging.CropSegment(sample.Path, p.cfg.Collector.Dir, seg); err != nil {
			if p.logger != nil {
				p.logger.Warn("positive segment collection failed", "camera_id", sample.CameraID, "err", err)
			}
			continue
		}
		collected++
	}
	if collected > 0 && p.logger != nil {
		p.logger.Info("collected positive segments", "camera_id", sample.CameraID, "count", collected)
	}
}

func (p *Pipeline) fetchFrame(ctx context.Context, cam model.Camera) (model.ImageSample, error) {
	ts := p.now().Unix()
	dest := p.session.Path(imaging.EncodeName(cam.ID, ts))
	if err := p.fetcher.Fetch(ctx, cam, dest); err != nil {
		return model.ImageSample{}, err
	}
	return model.ImageSample{CameraID: cam.ID, Timestamp: ts, Path: dest}, nil
}

func (p *Pipeline) nextCamera(ctx context.Context) (model.Camera, error) {
	if len(p.cameras) == 0 {
		return model.Camera{}, errors.New("no cameras registered")
	}
	idx, err := p.store.NextSourceIndex(ctx)
	if err != nil {
		return model.Camera{}, fmt.Errorf("advance source counter: %w", err)
	}
	return p.cameras[int(idx%int64(len(p.cameras)))], nil
}

func (p *Pipeline) cameraByID(id string) (model.Camera, bool) {
	for _, cam := range p.cameras {
		if cam.ID == id {
			return cam, true
		}
	}
	return model.Camera{}, false
}

func (p *Pipeline) touchHeartbeat() {
	file := p.cfg.Heartbeat.File
	if file == "" {
		return
	}
	now := p.now()
	if err := os.Chtimes(file, now, now); err != nil {
		if f, createErr := os.OpenFile(file, os.O_CREATE|os.O_WRONLY, 0o644); createErr == nil {
			_ = f.Close()
		} else if p.logger != nil {
			p.logger.Warn("heartbeat touch failed", "file", file, "err", createErr)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
