package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-pooling/internal/models"
	"github.com/example/ride-pooling/internal/notify"
	"github.com/example/ride-pooling/internal/observability"
	"github.com/example/ride-pooling/internal/pipeline"
	"github.com/example/ride-pooling/internal/storage"
	"github.com/example/ride-pooling/internal/ticket"
)

const (
	serviceName    = "Ride Pooling API"
	serviceVersion = "1.0.0"
)

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context, reqs []models.RideRequest) (*pipeline.Result, error)
}

// Publisher hands a single request to the batch consumer.
type Publisher interface {
	PublishRequest(ctx context.Context, r models.RideRequest) error
}

type Server struct {
	Store    storage.PoolStore
	Pipeline Runner
	// Requests is optional; without it POST /api/requests answers 503.
	Requests Publisher
	WSReg    *notify.WSRegistry
	// RunTimeout bounds POST /api/pipeline/run. Zero leaves it to the
	// client connection.
	RunTimeout time.Duration

	logger *slog.Logger
	now    func() time.Time
	mux    *mux.Router
}

func NewServer(store storage.PoolStore, runner Runner, requests Publisher, wsreg *notify.WSRegistry, logger *slog.Logger) *Server {
	if wsreg == nil {
		wsreg = notify.NewWSRegistry()
	}
	s := &Server{Store: store, Pipeline: runner, Requests: requests, WSReg: wsreg, logger: logger, now: time.Now, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/", s.handleRoot).Methods("GET")
	s.mux.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.mux.HandleFunc("/api/pools/today", s.handleDay(storage.Today)).Methods("GET")
	s.mux.HandleFunc("/api/pools/yesterday", s.handleDay(storage.Yesterday)).Methods("GET")
	s.mux.HandleFunc("/api/pools/{id}", s.handlePool).Methods("GET")
	s.mux.HandleFunc("/api/pools/{id}/qr/{rider}", s.handleRiderQR).Methods("GET")
	s.mux.HandleFunc("/api/pipeline/run", s.handleRun).Methods("POST")
	s.mux.HandleFunc("/api/requests", s.handleSubmit).Methods("POST")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{rider}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": serviceName,
		"version": serviceVersion,
		"endpoints": map[string]string{
			"today_pools":     "/api/pools/today",
			"yesterday_pools": "/api/pools/yesterday",
			"pool":            "/api/pools/{id}",
			"rider_qr":        "/api/pools/{id}/qr/{rider}",
			"run_pipeline":    "/api/pipeline/run",
			"submit_request":  "/api/requests",
			"health":          "/health",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "timestamp": s.now().Format(time.RFC3339)})
}

func (s *Server) handleDay(day storage.Day) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pools, err := s.Store.Pools(r.Context(), day)
		if err != nil {
			s.storeError(w, err)
			return
		}
		observability.PoolsServed.WithLabelValues(string(day)).Add(float64(len(pools)))
		writeJSON(w, http.StatusOK, map[string]any{
			"pools":        pools,
			"count":        len(pools),
			"generated_at": s.now().Format(time.RFC3339),
		})
	}
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	pool, err := s.Store.Pool(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pool": pool})
}

func (s *Server) handleRiderQR(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	pool, err := s.Store.Pool(r.Context(), vars["id"])
	if err != nil {
		s.storeError(w, err)
		return
	}
	rider, ok := pool.FindRider(vars["rider"])
	if !ok {
		writeDetail(w, http.StatusNotFound, "Rider not found in pool")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"qr_data": ticket.QRData(pool.ID, rider),
		"rider":   rider,
		"pool":    pool.Summary(),
	})
}

type runRequest struct {
	Requests []models.RideRequest `json:"requests"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var in runRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()
	if s.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.RunTimeout)
		defer cancel()
	}
	res, err := s.Pipeline.Run(ctx, in.Requests)
	if err != nil {
		s.pipelineError(w, err)
		return
	}
	pools := make([]models.Pool, 0, len(res.Pools))
	for _, p := range res.Pools {
		pools = append(pools, *p)
	}
	if err := s.Store.SavePools(r.Context(), storage.Today, pools); err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id": res.RunID,
		"pools":  pools,
		"count":  len(pools),
		"stages": res.Stages,
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.Requests == nil {
		writeDetail(w, http.StatusServiceUnavailable, "request queue not configured")
		return
	}
	var rr models.RideRequest
	if err := json.NewDecoder(r.Body).Decode(&rr); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.Requests.PublishRequest(r.Context(), rr); err != nil {
		s.logger.Error("publish request failed", "error", err)
		writeDetail(w, http.StatusBadGateway, "could not queue request")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": true})
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	rider := mux.Vars(r)["rider"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.WSReg.Add(rider, conn)
	go func() {
		// drain until the client goes away so the session can be dropped
		defer s.WSReg.Remove(rider, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeDetail(w, http.StatusNotFound, "Pool not found")
		return
	}
	s.logger.Error("store error", "error", err)
	writeDetail(w, http.StatusInternalServerError, "storage error")
}

func (s *Server) pipelineError(w http.ResponseWriter, err error) {
	var pe *pipeline.PipelineError
	if !errors.As(err, &pe) {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusInternalServerError
	var te *pipeline.StageTimeoutError
	if errors.As(err, &te) || errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, map[string]any{"detail": pe.Error(), "stage": pe.Stage})
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
