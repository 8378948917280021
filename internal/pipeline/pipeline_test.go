package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"firewatch/internal/alerts"
	"firewatch/internal/config"
	"firewatch/internal/imaging"
	"firewatch/internal/model"
	"firewatch/internal/storage"
)

type memStore struct {
	cameras    []model.Camera
	counter    int64
	history    []model.SegmentStats
	scores     []model.ScoreRecord
	detections []model.Detection
	alerts     []model.AlertRecord
}

func (m *memStore) Init(ctx context.Context) error { return nil }
func (m *memStore) Close() error                   { return nil }

func (m *memStore) ListCameras(ctx context.Context) ([]model.Camera, error) {
	return m.cameras, nil
}

func (m *memStore) NextSourceIndex(ctx context.Context) (int64, error) {
	v := m.counter
	m.counter++
	return v, nil
}

func (m *memStore) SaveScores(ctx context.Context, records []model.ScoreRecord) error {
	m.scores = append(m.scores, records...)
	return nil
}

func (m *memStore) SegmentHistory(ctx context.Context, q storage.HistoryQuery) ([]model.SegmentStats, error) {
	return m.history, nil
}

func (m *memStore) LatestScoredCamera(ctx context.Context) (string, error) {
	if len(m.scores) == 0 {
		return "", nil
	}
	return m.scores[len(m.scores)-1].CameraID, nil
}

func (m *memStore) SaveDetection(ctx context.Context, det model.Detection) error {
	m.detections = append(m.detections, det)
	return nil
}

func (m *memStore) HasRecentAlert(ctx context.Context, cameraID string, since int64) (bool, error) {
	for _, rec := range m.alerts {
		if rec.CameraID == cameraID && rec.Timestamp > since {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) SaveAlert(ctx context.Context, rec model.AlertRecord) error {
	m.alerts = append(m.alerts, rec)
	return nil
}

type fakeFetcher struct {
	seen []string
	fail error
}

func (f *fakeFetcher) Fetch(ctx context.Context, cam model.Camera, destPath string) error {
	if f.fail != nil {
		return f.fail
	}
	f.seen = append(f.seen, cam.ID)
	return writeJPEG(destPath, 64, 64)
}

type fakeClassifier struct {
	segments []model.Segment
	paths    []string
}

func (f *fakeClassifier) Classify(ctx context.Context, imagePath string) ([]model.Segment, error) {
	f.paths = append(f.paths, imagePath)
	return f.segments, nil
}

type fakeUploader struct {
	calls int
	ref   string
}

func (f *fakeUploader) Upload(ctx context.Context, path string) (string, error) {
	f.calls++
	return f.ref, nil
}

type fakeNotifier struct {
	detections  []model.Detection
	attachments [][]string
}

func (f *fakeNotifier) Alert(ctx context.Context, det model.Detection, rec model.AlertRecord, attachments []string) {
	f.detections = append(f.detections, det)
	f.attachments = append(f.attachments, attachments)
}

func writeJPEG(path string, w, h int) error {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 60, G: 100, B: 140, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return jpeg.Encode(f, img, nil)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPipeline(t *testing.T, cfg *config.Config, st *memStore, fetcher *fakeFetcher, classifier *fakeClassifier, uploader *fakeUploader, notifier *fakeNotifier) (*Pipeline, *imaging.Session) {
	t.Helper()
	sess, err := imaging.NewSession()
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() { sess.Close() })

	deps := Deps{
		Store:      st,
		Fetcher:    fetcher,
		Classifier: classifier,
		Session:    sess,
		Recent:     alerts.NewStore(10),
		Logger:     discardLogger(),
	}
	if uploader != nil {
		deps.Uploader = uploader
	}
	if notifier != nil {
		deps.Notifier = notifier
	}
	p, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.cameras = st.cameras
	return p, sess
}

func sessionFiles(t *testing.T, sess *imaging.Session) []string {
	t.Helper()
	entries, err := os.ReadDir(sess.Dir())
	if err != nil {
		t.Fatalf("read session dir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestCycleDetectsAndAlerts(t *testing.T) {
	st := &memStore{
		cameras: []model.Camera{{ID: "ridge-1", URL: "http://cam/ridge-1"}},
		history: []model.SegmentStats{{MinX: 10, MinY: 10, MaxX: 50, MaxY: 50, Count: 3, AvgScore: 0.4, MaxScore: 0.5}},
	}
	classifier := &fakeClassifier{segments: []model.Segment{
		{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10, Score: 0.2},
		{MinX: 10, MinY: 10, MaxX: 50, MaxY: 50, Score: 0.9},
	}}
	uploader := &fakeUploader{ref: "detections/ridge-1.jpg"}
	notifier := &fakeNotifier{}
	p, sess := newTestPipeline(t, config.DefaultConfig(), st, &fakeFetcher{}, classifier, uploader, notifier)

	if err := p.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}

	if len(st.scores) != 2 {
		t.Fatalf("expected 2 score records, got %d", len(st.scores))
	}
	if len(st.detections) != 1 {
		t.Fatalf("expected 1 detection, got %d", len(st.detections))
	}
	det := st.detections[0]
	if det.Segment.Score != 0.9 || det.HistMax != 0.5 || det.HistSamples != 3 {
		t.Fatalf("unexpected detection %+v", det)
	}
	if det.ImageRef != "detections/ridge-1.jpg" {
		t.Fatalf("expected uploaded ref on detection, got %q", det.ImageRef)
	}
	if uploader.calls != 2 {
		t.Fatalf("expected raw and annotated uploads, got %d", uploader.calls)
	}
	if len(st.alerts) != 1 {
		t.Fatalf("expected 1 alert record, got %d", len(st.alerts))
	}
	if len(notifier.detections) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notifier.detections))
	}
	if len(notifier.attachments[0]) != 2 {
		t.Fatalf("expected frame and annotated attachments, got %v", notifier.attachments[0])
	}
	if files := sessionFiles(t, sess); len(files) != 0 {
		t.Fatalf("expected clean session dir, found %v", files)
	}
}

func TestCycleSuppressesRepeatAlert(t *testing.T) {
	now := time.Now().Unix()
	st := &memStore{
		cameras: []model.Camera{{ID: "ridge-1", URL: "http://cam/ridge-1"}},
		history: []model.SegmentStats{{MinX: 10, MinY: 10, MaxX: 50, MaxY: 50, Count: 3, AvgScore: 0.4, MaxScore: 0.5}},
		alerts:  []model.AlertRecord{{CameraID: "ridge-1", Timestamp: now - 3600}},
	}
	classifier := &fakeClassifier{segments: []model.Segment{
		{MinX: 10, MinY: 10, MaxX: 50, MaxY: 50, Score: 0.9},
	}}
	notifier := &fakeNotifier{}
	p, _ := newTestPipeline(t, config.DefaultConfig(), st, &fakeFetcher{}, classifier, nil, notifier)

	if err := p.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}

	if len(st.detections) != 1 {
		t.Fatalf("detection should be recorded even when suppressed, got %d", len(st.detections))
	}
	if len(st.alerts) != 1 {
		t.Fatalf("no new alert record expected inside cooldown, got %d", len(st.alerts))
	}
	if len(notifier.detections) != 0 {
		t.Fatalf("no notification expected inside cooldown, got %d", len(notifier.detections))
	}
}

func TestCycleRoundRobin(t *testing.T) {
	st := &memStore{cameras: []model.Camera{
		{ID: "cam-a"}, {ID: "cam-b"}, {ID: "cam-c"},
	}}
	classifier := &fakeClassifier{segments: []model.Segment{{MaxX: 10, MaxY: 10, Score: 0.1}}}
	fetcher := &fakeFetcher{}
	p, _ := newTestPipeline(t, config.DefaultConfig(), st, fetcher, classifier, nil, nil)

	for i := 0; i < 3; i++ {
		if err := p.runCycle(context.Background()); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}

	want := []string{"cam-a", "cam-b", "cam-c"}
	if len(fetcher.seen) != len(want) {
		t.Fatalf("expected %d fetches, got %v", len(want), fetcher.seen)
	}
	for i, id := range want {
		if fetcher.seen[i] != id {
			t.Fatalf("fetch %d: expected %s, got %s", i, id, fetcher.seen[i])
		}
	}
}

func TestCycleDefersFirstFrame(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Scheduler.MinusMinutes = 5
	st := &memStore{cameras: []model.Camera{{ID: "cam-a"}}}
	classifier := &fakeClassifier{segments: []model.Segment{{MaxX: 10, MaxY: 10, Score: 0.1}}}
	p, sess := newTestPipeline(t, cfg, st, &fakeFetcher{}, classifier, nil, nil)

	if err := p.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}

	if len(classifier.paths) != 0 {
		t.Fatalf("deferred frame must not be classified, got %v", classifier.paths)
	}
	if len(st.scores) != 0 {
		t.Fatalf("deferred cycle must not record scores, got %d", len(st.scores))
	}
	if p.queue.Len() != 1 {
		t.Fatalf("expected 1 queued job, got %d", p.queue.Len())
	}
	if files := sessionFiles(t, sess); len(files) != 1 {
		t.Fatalf("baseline frame must survive the cycle, found %v", files)
	}
}

func TestCycleClassifiesTemporalDiff(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Scheduler.MinusMinutes = 5
	// one queued item drains in more than five minutes, so the pair is ready
	// on the very next cycle
	cfg.Scheduler.DrainItemCost = 10 * time.Minute
	st := &memStore{cameras: []model.Camera{{ID: "cam-a"}}}
	classifier := &fakeClassifier{segments: []model.Segment{{MaxX: 10, MaxY: 10, Score: 0.1}}}
	p, sess := newTestPipeline(t, cfg, st, &fakeFetcher{}, classifier, nil, nil)

	// step the clock so the baseline and the fresh frame get distinct names
	base := time.Now()
	tick := 0
	p.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	if err := p.runCycle(context.Background()); err != nil {
		t.Fatalf("baseline cycle: %v", err)
	}
	if err := p.runCycle(context.Background()); err != nil {
		t.Fatalf("diff cycle: %v", err)
	}

	if len(classifier.paths) != 1 {
		t.Fatalf("expected exactly the diff to be classified, got %v", classifier.paths)
	}
	if !strings.Contains(filepath.Base(classifier.paths[0]), "__d5") {
		t.Fatalf("expected a diff image path, got %s", classifier.paths[0])
	}
	if len(st.scores) != 1 || st.scores[0].MinusMinutes != 5 {
		t.Fatalf("expected one score record carrying the diff offset, got %+v", st.scores)
	}
	if p.queue.Len() != 0 {
		t.Fatalf("queue should be drained, got %d", p.queue.Len())
	}
	if files := sessionFiles(t, sess); len(files) != 0 {
		t.Fatalf("expected clean session dir after diff cycle, found %v", files)
	}
}

func TestCycleDropsStaleDeferredJob(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Scheduler.MinusMinutes = 5
	cfg.Scheduler.DrainItemCost = 10 * time.Minute
	st := &memStore{cameras: []model.Camera{{ID: "cam-a"}}}
	classifier := &fakeClassifier{segments: []model.Segment{{MaxX: 10, MaxY: 10, Score: 0.1}}}
	fetcher := &fakeFetcher{}
	p, _ := newTestPipeline(t, cfg, st, fetcher, classifier, nil, nil)

	if err := p.runCycle(context.Background()); err != nil {
		t.Fatalf("baseline cycle: %v", err)
	}
	job, ok := p.queue.NextReady(time.Now().Unix())
	if !ok {
		t.Fatal("expected a ready job")
	}
	if err := os.Remove(job.ImagePath); err != nil {
		t.Fatalf("remove baseline: %v", err)
	}
	if err := p.queue.Enqueue(job.CameraID, job.ImagePath, time.Now().Unix()); err != nil {
		t.Fatalf("requeue: %v", err)
	}

	if err := p.runCycle(context.Background()); err != nil {
		t.Fatalf("stale cycle: %v", err)
	}
	if len(classifier.paths) != 0 {
		t.Fatalf("stale pair must not be classified, got %v", classifier.paths)
	}
	if p.queue.Len() != 0 {
		t.Fatalf("stale job should be dropped, queue depth %d", p.queue.Len())
	}
}

func TestReplaySourceSkipsUnparseable(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"cam1__1700000000.jpg", "notes.txt", "cam1__1700000100_score.jpg"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("frame"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	src, err := newReplaySource(dir)
	if err != nil {
		t.Fatalf("newReplaySource: %v", err)
	}
	sess, err := imaging.NewSession()
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	sample, err := src.Next(sess, nil)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if sample.CameraID != "cam1" || sample.Timestamp != 1700000000 {
		t.Fatalf("unexpected sample %+v", sample)
	}
	if _, err := src.Next(sess, nil); !errors.Is(err, ErrReplayDone) {
		t.Fatalf("expected ErrReplayDone, got %v", err)
	}
}

func TestRunEndsWhenReplayExhausted(t *testing.T) {
	dir := t.TempDir()
	frame := filepath.Join(dir, "cam1__1700000000.jpg")
	if err := writeJPEG(frame, 32, 32); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	cfg := config.DefaultConfig()
	cfg.Replay.Dir = dir
	st := &memStore{}
	classifier := &fakeClassifier{segments: []model.Segment{{MaxX: 10, MaxY: 10, Score: 0.1}}}
	p, _ := newTestPipeline(t, cfg, st, &fakeFetcher{}, classifier, nil, nil)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(st.scores) != 1 {
		t.Fatalf("expected the replayed frame to be scored, got %d records", len(st.scores))
	}
	if st.scores[0].CameraID != "cam1" {
		t.Fatalf("unexpected camera %s", st.scores[0].CameraID)
	}
}
