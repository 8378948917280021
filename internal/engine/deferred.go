package engine

import (
	"errors"
	"sync"
	"time"
)

// ErrCameraQueued is returned when a camera already has a pending diff job.
var ErrCameraQueued = errors.New("camera already has a deferred job")

// DeferredJob pairs a baseline frame with the camera it came from, to be
// diffed against a fresh frame once the configured offset has passed.
type DeferredJob struct {
	CameraID  string
	ImagePath string
	RunAt     int64
}

// DeferredQueue holds at most one pending diff job per camera, in insertion
// order. This is a rate-matching heuristic rather than a strict scheduler:
// a job becomes ready either when its run time has elapsed or when the queue
// is long enough that draining it would already take the full offset.
type DeferredQueue struct {
	mu           sync.Mutex
	jobs         []DeferredJob
	minusMinutes int
	itemCost     time.Duration
}

func NewDeferredQueue(minusMinutes int, itemCost time.Duration) *DeferredQueue {
	if itemCost <= 0 {
		itemCost = 3 * time.Second
	}
	return &DeferredQueue{minusMinutes: minusMinutes, itemCost: itemCost}
}

func (q *DeferredQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

func (q *DeferredQueue) Has(cameraID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.indexOf(cameraID) >= 0
}

// Enqueue schedules a baseline frame for diffing minusMinutes from now.
// A second job for a camera still waiting is rejected, not queued: the
// caller must keep the single-slot invariant or the pairing would skew.
func (q *DeferredQueue) Enqueue(cameraID, imagePath string, now int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.indexOf(cameraID) >= 0 {
		return ErrCameraQueued
	}
	q.jobs = append(q.jobs, DeferredJob{
		CameraID:  cameraID,
		ImagePath: imagePath,
		RunAt:     now + int64(q.minusMinutes)*60,
	})
	return nil
}

// NextReady dequeues and returns the head job if processing it now is due:
// either its run time has elapsed, or the estimated drain time of the whole
// queue has reached the offset and waiting longer would fall behind.
func (q *DeferredQueue) NextReady(now int64) (DeferredJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.minusMinutes == 0 || len(q.jobs) == 0 {
		return DeferredJob{}, false
	}
	if q.estimateDrainSeconds() >= q.minusMinutes*60 || q.jobs[0].RunAt < now {
		job := q.jobs[0]
		q.jobs = q.jobs[1:]
		return job, true
	}
	return DeferredJob{}, false
}

// EstimateDrainSeconds is a rough fixed-cost estimate of how long emptying
// the queue would take, not derived from measured throughput.
func (q *DeferredQueue) EstimateDrainSeconds() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.estimateDrainSeconds()
}

func (q *DeferredQueue) estimateDrainSeconds() int {
	return len(q.jobs) * int(q.itemCost.Seconds())
}

func (q *DeferredQueue) indexOf(cameraID string) int {
	for i, job := range q.jobs {
		if job.CameraID == cameraID {
			return i
		}
	}
	return -1
}
