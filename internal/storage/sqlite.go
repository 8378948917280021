package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"firewatch/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:firewatch.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cameras (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS counters (
			name TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS scores (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			camera_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			min_x INTEGER NOT NULL,
			min_y INTEGER NOT NULL,
			max_x INTEGER NOT NULL,
			max_y INTEGER NOT NULL,
			score REAL NOT NULL,
			minus_minutes INTEGER NOT NULL,
			seconds_in_day INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scores_camera_ts ON scores(camera_id, ts)`,
		`CREATE TABLE IF NOT EXISTS detections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			camera_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			min_x INTEGER NOT NULL,
			min_y INTEGER NOT NULL,
			max_x INTEGER NOT NULL,
			max_y INTEGER NOT NULL,
			score REAL NOT NULL,
			hist_avg REAL NOT NULL,
			hist_max REAL NOT NULL,
			hist_samples INTEGER NOT NULL,
			image_ref TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			camera_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
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

func (s *sqliteStore) ListCameras(ctx context.Context) ([]model.Camera, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, url FROM cameras ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return scanCameras(rows)
}

func (s *sqliteStore) NextSourceIndex(ctx context.Context) (int64, error) {
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO counters (name, value) VALUES ('sources', 0)
		ON CONFLICT(name) DO UPDATE SET value = value + 1
		RETURNING value`)
	var v int64
	if err := row.Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

func (s *sqliteStore) SaveScores(ctx context.Context, records []model.ScoreRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO scores (camera_id, ts, min_x, min_y, max_x, max_y, score, minus_minutes, seconds_in_day)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
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

func (s *sqliteStore) SegmentHistory(ctx context.Context, q HistoryQuery) ([]model.SegmentStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT min_x, min_y, max_x, max_y, COUNT(*), AVG(score), MAX(score) FROM scores
		WHERE camera_id = ? AND ts > ? AND ts < ? AND seconds_in_day > ? AND seconds_in_day < ?
		GROUP BY min_x, min_y, max_x, max_y`,
		q.CameraID, q.After, q.Before, q.DayAfter, q.DayBefore)
	if err != nil {
		return nil, err
	}
	return scanSegmentStats(rows)
}

func (s *sqliteStore) LatestScoredCamera(ctx context.Context) (string, error) {
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

func (s *sqliteStore) SaveDetection(ctx context.Context, det model.Detection) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO detections (camera_id, ts, min_x, min_y, max_x, max_y, score, hist_avg, hist_max, hist_samples, image_ref)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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

func (s *sqliteStore) HasRecentAlert(ctx context.Context, cameraID string, since int64) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM alerts WHERE camera_id = ? AND ts > ?`, cameraID, since)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) SaveAlert(ctx context.Context, rec model.AlertRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (camera_id, ts, image_ref) VALUES (?, ?, ?)`,
		rec.CameraID, rec.Timestamp, rec.ImageRef)
	return err
}
