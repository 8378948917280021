package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"firewatch/internal/config"
	"firewatch/internal/model"
)

// HistoryQuery scopes a historical aggregate lookup: one camera, a timestamp
// window, and a day-cyclic seconds-into-day band. Bounds are exclusive.
type HistoryQuery struct {
	CameraID  string
	After     int64
	Before    int64
	DayAfter  int
	DayBefore int
}

type Store interface {
	Init(ctx context.Context) error
	Close() error

	ListCameras(ctx context.Context) ([]model.Camera, error)
	// NextSourceIndex advances and returns the shared round-robin counter.
	NextSourceIndex(ctx context.Context) (int64, error)

	SaveScores(ctx context.Context, records []model.ScoreRecord) error
	// SegmentHistory aggregates past scores grouped by exact bounding box.
	SegmentHistory(ctx context.Context, q HistoryQuery) ([]model.SegmentStats, error)
	LatestScoredCamera(ctx context.Context) (string, error)

	SaveDetection(ctx context.Context, det model.Detection) error

	HasRecentAlert(ctx context.Context, cameraID string, since int64) (bool, error)
	SaveAlert(ctx context.Context, rec model.AlertRecord) error
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func scanCameras(rows *sql.Rows) ([]model.Camera, error) {
	defer rows.Close()
	var out []model.Camera
	for rows.Next() {
		var cam model.Camera
		if err := rows.Scan(&cam.ID, &cam.URL); err != nil {
			return nil, err
		}
		out = append(out, cam)
	}
	return out, rows.Err()
}

func scanSegmentStats(rows *sql.Rows) ([]model.SegmentStats, error) {
	defer rows.Close()
	var out []model.SegmentStats
	for rows.Next() {
		var st model.SegmentStats
		if err := rows.Scan(&st.MinX, &st.MinY, &st.MaxX, &st.MaxY, &st.Count, &st.AvgScore, &st.MaxScore); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
