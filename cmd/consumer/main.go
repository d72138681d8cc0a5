package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-pooling/internal/app"
	"github.com/example/ride-pooling/internal/config"
	"github.com/example/ride-pooling/internal/ingest"
	"github.com/example/ride-pooling/internal/logging"
	"github.com/example/ride-pooling/internal/models"
	"github.com/example/ride-pooling/internal/pipeline"
	"github.com/example/ride-pooling/internal/storage"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total ride request messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	batchesRun = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_batches_total",
		Help: "Pipeline runs started by the consumer, by outcome",
	}, []string{"outcome"})
	storeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_store_errors_total",
		Help: "Total failed attempts to persist pools",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, batchesRun, storeErrors)
}

// MessageReader is the part of *kafka.Reader the batch loop needs.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

type Runner interface {
	Run(ctx context.Context, reqs []models.RideRequest) (*pipeline.Result, error)
}

func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger("ride-pooling-consumer", cfg.LogLevel)
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}
	// batches accumulate in one day, so pool IDs must not repeat across runs
	cfg.RunScopedPoolIDs = true
	brokers := cfg.KafkaBrokers
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("build", "error", err)
		os.Exit(1)
	}
	defer c.Close()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if _, err := c.Store.Pools(r.Context(), storage.Today); err != nil {
				http.Error(w, "store not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: cfg.KafkaRequestTopic, GroupID: cfg.KafkaGroup, MinBytes: 10e3, MaxBytes: 10e6})
	defer r.Close()

	logger.Info("consumer listening", "topic", cfg.KafkaRequestTopic, "brokers", brokers, "group", cfg.KafkaGroup)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		reqs, err := collectBatch(ctx, r, cfg.BatchSize, cfg.BatchFlushInterval, logger)
		if ctx.Err() != nil {
			if len(reqs) > 0 {
				// drain what was read using a fresh context
				dctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
				runBatch(dctx, c.Pipeline, c.Store, reqs, logger)
				cancel()
			}
			logger.Info("shutting down consumer")
			return
		}
		if err != nil {
			logger.Warn("kafka read error", "error", err, "backoff", backoff.String())
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		} else {
			backoff = time.Second
		}
		if len(reqs) > 0 {
			runBatch(ctx, c.Pipeline, c.Store, reqs, logger)
		}
	}
}

// collectBatch reads until size requests are buffered or flush elapses
// after the first one. A read error returns whatever was buffered so far.
func collectBatch(ctx context.Context, r MessageReader, size int, flush time.Duration, logger *slog.Logger) ([]models.RideRequest, error) {
	var (
		batch    []models.RideRequest
		deadline time.Time
	)
	for len(batch) < size {
		rctx, cancel := ctx, context.CancelFunc(func() {})
		if !deadline.IsZero() {
			rctx, cancel = context.WithDeadline(ctx, deadline)
		}
		m, err := r.ReadMessage(rctx)
		cancel()
		if err != nil {
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				return batch, nil
			}
			return batch, err
		}
		msgsConsumed.Inc()
		req, err := ingest.DecodeRequest(m)
		if err != nil {
			msgsInvalid.Inc()
			logger.Warn("invalid message", "error", err, "offset", m.Offset)
			continue
		}
		if deadline.IsZero() {
			deadline = time.Now().Add(flush)
		}
		batch = append(batch, req)
	}
	return batch, nil
}

func runBatch(ctx context.Context, runner Runner, store storage.PoolStore, reqs []models.RideRequest, logger *slog.Logger) {
	res, err := runner.Run(ctx, reqs)
	if err != nil {
		batchesRun.WithLabelValues("failed").Inc()
		logger.Error("batch failed", "requests", len(reqs), "error", err)
		return
	}
	pools := make([]models.Pool, 0, len(res.Pools))
	for _, p := range res.Pools {
		pools = append(pools, *p)
	}
	if err := appendPoolsWithRetry(ctx, store, storage.Today, pools, 3, 200*time.Millisecond); err != nil {
		batchesRun.WithLabelValues("unsaved").Inc()
		logger.Error("persist failed", "run_id", res.RunID, "error", err)
		return
	}
	batchesRun.WithLabelValues("ok").Inc()
	logger.Info("batch stored", "run_id", res.RunID, "requests", len(reqs), "pools", len(pools))
}

// appendPoolsWithRetry adds a batch to the stored day, retrying with a
// doubling delay between attempts.
func appendPoolsWithRetry(ctx context.Context, store storage.PoolStore, day storage.Day, pools []models.Pool, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = store.AppendPools(ctx, day, pools); err == nil {
			return nil
		}
		storeErrors.Inc()
		if i == attempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		}
		delay *= 2
	}
	return err
}
