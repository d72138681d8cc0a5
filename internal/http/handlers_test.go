package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-pooling/internal/intake"
	"github.com/example/ride-pooling/internal/matcher"
	"github.com/example/ride-pooling/internal/models"
	"github.com/example/ride-pooling/internal/pipeline"
	"github.com/example/ride-pooling/internal/pricing"
	"github.com/example/ride-pooling/internal/route"
	"github.com/example/ride-pooling/internal/storage"
	"github.com/example/ride-pooling/internal/ticket"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func newPipeline(t *testing.T, pricer pipeline.PricingEngine, timeout time.Duration) *pipeline.Orchestrator {
	t.Helper()
	if pricer == nil {
		pricer = pricing.PerKm{}
	}
	o, err := pipeline.New(pipeline.Stages{
		Parser:  intake.NewValidator(),
		Matcher: matcher.Sequential{},
		Router:  route.Fixed{},
		Pricer:  pricer,
		Tickets: ticket.Issuer{},
	}, pipeline.Options{Logger: discard, StageTimeout: timeout})
	if err != nil {
		t.Fatal(err)
	}
	return o
}

func newTestServer(t *testing.T, runner Runner, pub Publisher) *Server {
	t.Helper()
	if runner == nil {
		runner = newPipeline(t, nil, 0)
	}
	return NewServer(storage.NewSeededMemoryStore(time.Now()), runner, pub, nil, discard)
}

func do(t *testing.T, s *Server, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func TestRootAndHealth(t *testing.T) {
	s := newTestServer(t, nil, nil)
	rec, out := do(t, s, "GET", "/", nil)
	if rec.Code != 200 || out["version"] != "1.0.0" {
		t.Fatalf("unexpected root response %d %v", rec.Code, out)
	}
	if _, ok := out["endpoints"].(map[string]any)["today_pools"]; !ok {
		t.Fatalf("missing endpoint map: %v", out)
	}
	rec, out = do(t, s, "GET", "/health", nil)
	if rec.Code != 200 || out["status"] != "healthy" || out["timestamp"] == "" {
		t.Fatalf("unexpected health response %d %v", rec.Code, out)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected a generated request id")
	}
}

func TestListPools(t *testing.T) {
	s := newTestServer(t, nil, nil)
	for _, path := range []string{"/api/pools/today", "/api/pools/yesterday"} {
		rec, out := do(t, s, "GET", path, nil)
		if rec.Code != 200 {
			t.Fatalf("%s: status %d", path, rec.Code)
		}
		if out["count"] != float64(3) || len(out["pools"].([]any)) != 3 {
			t.Fatalf("%s: unexpected body %v", path, out)
		}
		if _, ok := out["generated_at"].(string); !ok {
			t.Fatalf("%s: missing generated_at", path)
		}
	}
}

func TestGetPool(t *testing.T) {
	s := newTestServer(t, nil, nil)
	rec, out := do(t, s, "GET", "/api/pools/pool-y003", nil)
	if rec.Code != 200 {
		t.Fatalf("status %d", rec.Code)
	}
	if out["pool"].(map[string]any)["route_name"] != "Pune IT Corridor" {
		t.Fatalf("unexpected pool %v", out)
	}

	rec, out = do(t, s, "GET", "/api/pools/unknown-id", nil)
	if rec.Code != http.StatusNotFound || out["detail"] != "Pool not found" {
		t.Fatalf("expected 404, got %d %v", rec.Code, out)
	}
}

func TestRiderQR(t *testing.T) {
	s := newTestServer(t, nil, nil)
	rec, out := do(t, s, "GET", "/api/pools/pool-001/qr/Priya%20Sharma", nil)
	if rec.Code != 200 {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if out["qr_data"] != "RIDE:pool-001|RIDER:Priya Sharma|PICKUP:Electronic City|TIME:8:15 AM" {
		t.Fatalf("unexpected qr_data %v", out["qr_data"])
	}
	summary := out["pool"].(map[string]any)
	if summary["destination"] != "Kempegowda Airport Terminal 2" || summary["riders"] != nil {
		t.Fatalf("unexpected pool summary %v", summary)
	}

	rec, out = do(t, s, "GET", "/api/pools/pool-001/qr/UnknownName", nil)
	if rec.Code != http.StatusNotFound || out["detail"] != "Rider not found in pool" {
		t.Fatalf("expected rider 404, got %d %v", rec.Code, out)
	}
	rec, _ = do(t, s, "GET", "/api/pools/nope/qr/Priya%20Sharma", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected pool 404, got %d", rec.Code)
	}
}

func TestRunPipelinePersistsToday(t *testing.T) {
	s := newTestServer(t, nil, nil)
	body := runRequest{Requests: []models.RideRequest{{Name: "A", Pickup: "X", Destination: "Airport", Time: "8:00"}}}
	rec, out := do(t, s, "POST", "/api/pipeline/run", body)
	if rec.Code != 200 {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if out["count"] != float64(1) || out["run_id"] == "" || len(out["stages"].([]any)) != 6 {
		t.Fatalf("unexpected run response %v", out)
	}

	rec, out = do(t, s, "GET", "/api/pools/today", nil)
	if out["count"] != float64(1) {
		t.Fatalf("today should hold the new run, got %v", out)
	}
	rec, out = do(t, s, "GET", "/api/pools/pool-001/qr/A", nil)
	if rec.Code != 200 || out["qr_data"] != "RIDE:pool-001|RIDER:A|PICKUP:X|TIME:8:00" {
		t.Fatalf("unexpected qr for new pool %d %v", rec.Code, out)
	}
}

func TestRunPipelineBadBody(t *testing.T) {
	s := newTestServer(t, nil, nil)
	req := httptest.NewRequest("POST", "/api/pipeline/run", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRunPipelineParseFailure(t *testing.T) {
	s := newTestServer(t, nil, nil)
	body := runRequest{Requests: []models.RideRequest{{Name: "A"}}}
	rec, out := do(t, s, "POST", "/api/pipeline/run", body)
	if rec.Code != http.StatusInternalServerError || out["stage"] != "parse" {
		t.Fatalf("expected 500 at parse, got %d %v", rec.Code, out)
	}
}

type brokenPricer struct{}

func (brokenPricer) Price(ctx context.Context, p *models.Pool) error {
	return &pipeline.PricingError{PoolID: p.ID, Reason: "rate service down"}
}

type slowPricer struct{}

func (slowPricer) Price(ctx context.Context, p *models.Pool) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRunPipelineStageFailures(t *testing.T) {
	body := runRequest{Requests: []models.RideRequest{{Name: "A", Pickup: "X", Destination: "Airport", Time: "8:00"}}}

	s := newTestServer(t, newPipeline(t, brokenPricer{}, 0), nil)
	rec, out := do(t, s, "POST", "/api/pipeline/run", body)
	if rec.Code != http.StatusInternalServerError || out["stage"] != "price" {
		t.Fatalf("expected 500 at price, got %d %v", rec.Code, out)
	}

	s = newTestServer(t, newPipeline(t, slowPricer{}, 20*time.Millisecond), nil)
	rec, out = do(t, s, "POST", "/api/pipeline/run", body)
	if rec.Code != http.StatusGatewayTimeout || out["stage"] != "price" {
		t.Fatalf("expected 504 at price, got %d %v", rec.Code, out)
	}

	// failed runs leave stored pools alone
	_, out = do(t, s, "GET", "/api/pools/today", nil)
	if out["count"] != float64(3) {
		t.Fatalf("expected fixtures to survive, got %v", out["count"])
	}
}

func TestRunPipelineRunTimeout(t *testing.T) {
	s := newTestServer(t, newPipeline(t, slowPricer{}, 0), nil)
	s.RunTimeout = 20 * time.Millisecond
	body := runRequest{Requests: []models.RideRequest{{Name: "A", Pickup: "X", Destination: "Airport", Time: "8:00"}}}

	start := time.Now()
	rec, out := do(t, s, "POST", "/api/pipeline/run", body)
	if rec.Code != http.StatusGatewayTimeout || out["stage"] != "price" {
		t.Fatalf("expected 504 at price, got %d %v", rec.Code, out)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("run deadline not applied")
	}
}

type fakePublisher struct {
	got []models.RideRequest
	err error
}

func (f *fakePublisher) PublishRequest(ctx context.Context, r models.RideRequest) error {
	f.got = append(f.got, r)
	return f.err
}

func TestSubmitRequest(t *testing.T) {
	rr := models.RideRequest{Name: "A", Pickup: "X", Destination: "Airport", Time: "8:00"}

	rec, _ := do(t, newTestServer(t, nil, nil), "POST", "/api/requests", rr)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without queue, got %d", rec.Code)
	}

	pub := &fakePublisher{}
	rec, _ = do(t, newTestServer(t, nil, pub), "POST", "/api/requests", rr)
	if rec.Code != http.StatusAccepted || len(pub.got) != 1 || pub.got[0].Name != "A" {
		t.Fatalf("expected request queued, got %d %+v", rec.Code, pub.got)
	}

	rec, _ = do(t, newTestServer(t, nil, &fakePublisher{err: errors.New("broker down")}), "POST", "/api/requests", rr)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestWebsocketThroughMiddleware(t *testing.T) {
	s := newTestServer(t, nil, nil)
	srv := httptest.NewServer(s)
	defer srv.Close()

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/A", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
}
