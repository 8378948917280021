package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"firewatch/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/firewatch?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cameras (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS counters (
			name TEXT PRIMARY KEY,
			value BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS scores (
			id BIGSERIAL PRIMARY KEY,
			camera_id TEXT NOT NULL,
			ts BIGINT NOT NULL,
			min_x INTEGER NOT NULL,
			min_y INTEGER NOT NULL,
			max_x INTEGER NOT NULL,
			max_y INTEGER NOT NULL,
			score DOUBLE PRECISION NOT NULL,
			minus_minutes INTEGER NOT NULL,
			seconds_in_day INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scores_camera_ts ON scores(camera_id, ts)`,
		`CREATE TABLE IF NOT EXISTS detections (
			id BIGSERIAL PRIMARY KEY,
			camera_id TEXT NOT NULL,
			ts BIGINT NOT NULL,
			min_x INTEGER NOT NULL,
			min_y INTEGER NOT NULL,
			max_x INTEGER NOT NULL,
			max_y INTEGER NOT NULL,
			score DOUBLE PRECISION NOT NULL,
			hist_avg DOUBLE PRECISION NOT NULL,
			hist_max DOUBLE PRECISION NOT NULL,
			hist_samples INTEGER NOT NULL,
			image_ref TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id BIGSERIAL PRIMARY KEY,
			camera_id TEXT NOT NULL,
			ts BIGINT NOT NULL,
			image_ref TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_camera_ts ON alerts(camera_id, ts)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) ListCameras(ctx context.Context) ([]model.Camera, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, url FROM cameras ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return scanCameras(rows)
}

func (s *postgresStore) NextSourceIndex(ctx context.Context) (int64, error) {
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO counters (name, value) VALUES ('sources', 0)
		ON CONFLICT (name) DO UPDATE SET value = counters.value + 1
		RETURNING value`)
	var v int64
	if err := row.Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

func (s *postgresStore) SaveScores(ctx context.Context, records []model.ScoreRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO scores (camera_id, ts, min_x, min_y, max_x, max_y, score, minus_minutes, seconds_in_day)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx,
			rec.CameraID,
			rec.Timestamp,
			rec.Segment.MinX,
			rec.Segment.MinY,
			rec.Segment.MaxX,
			rec.Segment.MaxY,
			rec.Segment.Score,
			rec.MinusMinutes,
			rec.SecondsInDay,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *postgresStore) SegmentHistory(ctx context.Context, q HistoryQuery) ([]model.SegmentStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT min_x, min_y, max_x, max_y, COUNT(*), AVG(score), MAX(score) FROM scores
		WHERE camera_id = $1 AND ts > $2 AND ts < $3 AND seconds_in_day > $4 AND seconds_in_day < $5
		GROUP BY min_x, min_y, max_x, max_y`,
		q.CameraID, q.After, q.Before, q.DayAfter, q.DayBefore)
	if err != nil {
		return nil, err
	}
	return scanSegmentStats(rows)
}

func (s *postgresStore) LatestScoredCamera(ctx context.Context) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT camera_id FROM scores ORDER BY ts DESC LIMIT 1`)
	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return id, nil
}

func (s *postgresStore) SaveDetection(ctx context.Context, det model.Detection) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO detections (camera_id, ts, min_x, min_y, max_x, max_y, score, hist_avg, hist_max, hist_samples, image_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		det.CameraID,
		det.Timestamp,
		det.Segment.MinX,
		det.Segment.MinY,
		det.Segment.MaxX,
		det.Segment.MaxY,
		det.Segment.Score,
		det.HistAvg,
		det.HistMax,
		det.HistSamples,
		det.ImageRef,
	)
	return err
}

func (s *postgresStore) HasRecentAlert(ctx context.Context, cameraID string, since int64) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM alerts WHERE camera_id = $1 AND ts > $2`, cameraID, since)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *postgresStore) SaveAlert(ctx context.Context, rec model.AlertRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (camera_id, ts, image_ref) VALUES ($1, $2, $3)`,
		rec.CameraID, rec.Timestamp, rec.ImageRef)
	return err
}
