package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"firewatch/internal/alerts"
	"firewatch/internal/config"
	"firewatch/internal/storage"
)

// QueueInfo is the slice of the deferred queue the status API reports on.
type QueueInfo interface {
	Len() int
	EstimateDrainSeconds() int
}

type Server struct {
	cfg     *config.Config
	store   storage.Store
	alerts  *alerts.Store
	queue   QueueInfo
	logger  *slog.Logger
	started time.Time
	version string
}

type statusResponse struct {
	Status            string `json:"status"`
	Time              string `json:"time"`
	Version           string `json:"version"`
	UptimeSec         int64  `json:"uptime_sec"`
	QueueDepth        int    `json:"queue_depth"`
	QueueDrainSec     int    `json:"queue_drain_sec"`
	MinusMinutes      int    `json:"minus_minutes"`
	LastScoredCamera  string `json:"last_scored_camera"`
	AlertCooldownSec  int    `json:"alert_cooldown_sec"`
	ReplayDir         string `json:"replay_dir,omitempty"`
	ClassifierAddress string `json:"classifier_address"`
}

func Start(ctx context.Context, cfg *config.Config, store storage.Store, alertsStore *alerts.Store, queue QueueInfo, logger *slog.Logger, version string) *http.Server {
	if cfg == nil || !cfg.API.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", cfg.API.Addr)
	}
	server := &Server{
		cfg:     cfg,
		store:   store,
		alerts:  alertsStore,
		queue:   queue,
		logger:  logger,
		started: time.Now().UTC(),
		version: version,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", server.handleHealth)
	mux.HandleFunc("/status", server.handleStatus)
	mux.HandleFunc("/alerts", server.handleAlerts)

	httpServer := &http.Server{Addr: cfg.API.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	lastCamera := ""
	if s.store != nil {
		if cam, err := s.store.LatestScoredCamera(r.Context()); err == nil {
			lastCamera = cam
		} else if s.logger != nil {
			s.logger.Warn("status query failed", "err", err)
		}
	}
	resp := statusResponse{
		Status:            "ok",
		Time:              time.Now().UTC().Format(time.RFC3339),
		Version:           s.version,
		UptimeSec:         int64(time.Since(s.started).Seconds()),
		QueueDepth:        s.queue.Len(),
		QueueDrainSec:     s.queue.EstimateDrainSeconds(),
		MinusMinutes:      s.cfg.Scheduler.MinusMinutes,
		LastScoredCamera:  lastCamera,
		AlertCooldownSec:  int(s.cfg.Alerts.Cooldown.Seconds()),
		ReplayDir:         s.cfg.Replay.Dir,
		ClassifierAddress: s.cfg.Classifier.Endpoint,
	}
	writeJSON(w, resp)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	writeJSON(w, s.alerts.List(limit))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
