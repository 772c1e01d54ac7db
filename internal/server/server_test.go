package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raysh454/zapctl/internal/app"
	"github.com/raysh454/zapctl/internal/history"
	"github.com/raysh454/zapctl/internal/server"
	"github.com/raysh454/zapctl/internal/testutil"
	"github.com/raysh454/zapctl/internal/zap"
)

func fastConfig() *app.Config {
	cfg := app.DefaultConfig()
	cfg.Scan.SettleDelay = time.Millisecond
	cfg.Scan.SpiderInterval = time.Millisecond
	cfg.Scan.AscanInterval = time.Millisecond
	return cfg
}

func newTestServer(t *testing.T, scanner *testutil.DummyScanner, withHistory bool) (*server.Server, *history.Store) {
	t.Helper()
	logger := &testutil.DummyLogger{}

	comps := &app.Components{Scanner: scanner}
	if withHistory {
		store, err := history.Open(filepath.Join(t.TempDir(), "history.db"), logger)
		if err != nil {
			t.Fatalf("open history: %v", err)
		}
		t.Cleanup(func() { store.Close() })
		comps.History = store
	}

	application, err := app.NewApplication(fastConfig(), comps, logger)
	if err != nil {
		t.Fatalf("NewApplication: %v", err)
	}

	s, err := server.NewServer(server.Config{ListenAddr: ":0", Logger: logger}, application)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(s.Close)
	return s, comps.History
}

func doJSON(t *testing.T, s http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON response: %v (body: %s)", err, rec.Body.String())
	}
}

// waitJob polls GET /scans/{id} until the job is finished.
func waitJob(t *testing.T, s http.Handler, id string) app.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec := doJSON(t, s, "GET", "/scans/"+id, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("GET /scans/%s: %d %s", id, rec.Code, rec.Body.String())
		}
		var job app.Job
		decodeJSON(t, rec, &job)
		if job.Status.Finished() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return app.Job{}
}

func startJob(t *testing.T, s http.Handler, target string) app.Job {
	t.Helper()
	rec := doJSON(t, s, "POST", "/scans", `{"target":"`+target+`"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST /scans: expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var job app.Job
	decodeJSON(t, rec, &job)
	return waitJob(t, s, job.ID)
}

// ─── CORS ──────────────────────────────────────────────────────────────

func TestServer_CORS_HeaderPresent(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, &testutil.DummyScanner{}, false)

	rec := doJSON(t, s, "GET", "/scans", "")
	if origin := rec.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("expected CORS origin *, got %q", origin)
	}
}

func TestServer_CORS_Preflight(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, &testutil.DummyScanner{}, false)

	rec := doJSON(t, s, "OPTIONS", "/scans/abc", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "GET, DELETE" {
		t.Errorf("unexpected allow methods %q", got)
	}
}

// ─── Scans ─────────────────────────────────────────────────────────────

func TestServer_StartScan_RunsToCompletion(t *testing.T) {
	t.Parallel()
	scanner := &testutil.DummyScanner{
		HostList:  []string{"localhost"},
		AlertList: []zap.Alert{{Alert: "Missing CSP", Risk: zap.RiskMedium}},
	}
	s, store := newTestServer(t, scanner, true)

	job := startJob(t, s, "http://localhost:3000")
	if job.Status != app.JobDone || job.Result == nil || len(job.Result.Alerts) != 1 {
		t.Fatalf("unexpected finished job %+v", job)
	}

	if _, err := store.GetRun(context.Background(), job.ID); err != nil {
		t.Errorf("run should be recorded under the job id: %v", err)
	}

	rec := doJSON(t, s, "GET", "/scans", "")
	var jobs []app.Job
	decodeJSON(t, rec, &jobs)
	if len(jobs) != 1 || jobs[0].ID != job.ID {
		t.Errorf("unexpected job list %+v", jobs)
	}
}

func TestServer_StartScan_DefaultTarget(t *testing.T) {
	t.Parallel()
	scanner := &testutil.DummyScanner{}
	s, _ := newTestServer(t, scanner, false)

	rec := doJSON(t, s, "POST", "/scans", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var job app.Job
	decodeJSON(t, rec, &job)
	if job.Target != "http://localhost:3000" {
		t.Errorf("expected default target, got %q", job.Target)
	}
	waitJob(t, s, job.ID)
}

func TestServer_StartScan_BadRequests(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, &testutil.DummyScanner{}, false)

	if rec := doJSON(t, s, "POST", "/scans", `{"target":`); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid JSON: expected 400, got %d", rec.Code)
	}
	rec := doJSON(t, s, "POST", "/scans", `{"target":"ftp://nope"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid target: expected 400, got %d", rec.Code)
	}
	var body server.ErrorResponse
	decodeJSON(t, rec, &body)
	if !strings.Contains(body.Error, "invalid target") {
		t.Errorf("unexpected error body %+v", body)
	}
}

func TestServer_UnknownJob(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, &testutil.DummyScanner{}, false)

	if rec := doJSON(t, s, "GET", "/scans/missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("GET: expected 404, got %d", rec.Code)
	}
	if rec := doJSON(t, s, "DELETE", "/scans/missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("DELETE: expected 404, got %d", rec.Code)
	}
}

func TestServer_CancelScan(t *testing.T) {
	t.Parallel()
	progress := make([]int, 10000)
	for i := range progress {
		progress[i] = 5
	}
	s, _ := newTestServer(t, &testutil.DummyScanner{SpiderProgress: progress}, false)

	rec := doJSON(t, s, "POST", "/scans", `{"target":"http://localhost:3000"}`)
	var job app.Job
	decodeJSON(t, rec, &job)

	if rec := doJSON(t, s, "DELETE", "/scans/"+job.ID, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got := waitJob(t, s, job.ID); got.Status != app.JobCanceled {
		t.Errorf("expected canceled job, got %+v", got)
	}
}

// ─── WebSocket ─────────────────────────────────────────────────────────

func TestServer_ScanWS_StreamsEvents(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, &testutil.DummyScanner{SpiderProgress: []int{30}}, false)
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/scans?target=http://localhost:3000"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var job app.Job
	if err := conn.ReadJSON(&job); err != nil {
		t.Fatalf("read job: %v", err)
	}
	if job.ID == "" {
		t.Fatal("expected job as first message")
	}

	var events []app.JobEvent
	for {
		var ev app.JobEvent
		if err := conn.ReadJSON(&ev); err != nil {
			var ce *websocket.CloseError
			if !errors.As(err, &ce) || ce.Code != websocket.CloseNormalClosure {
				t.Fatalf("unexpected read error: %v", err)
			}
			break
		}
		events = append(events, ev)
	}

	var sawProgress bool
	for _, ev := range events {
		if ev.Type == app.JobEventProgress && ev.Percent == 30 {
			sawProgress = true
		}
	}
	if !sawProgress {
		t.Errorf("expected spider progress event in %+v", events)
	}
	if last := events[len(events)-1]; last.Type != app.JobEventResult || last.Status != app.JobDone {
		t.Errorf("unexpected last event %+v", last)
	}
}

func TestServer_ScanWS_InvalidTarget(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, &testutil.DummyScanner{}, false)
	if rec := doJSON(t, s, "GET", "/ws/scans?target=nope", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

// ─── History ───────────────────────────────────────────────────────────

func TestServer_History_ListGetDiff(t *testing.T) {
	t.Parallel()
	scanner := &testutil.DummyScanner{AlertList: []zap.Alert{{Alert: "Missing CSP", Risk: zap.RiskMedium}}}
	s, store := newTestServer(t, scanner, true)
	ctx := context.Background()

	base := &history.Run{ID: "base", Target: "http://localhost:3000", Status: history.StatusDone,
		StartedAt: time.Now().Add(-time.Hour),
		Alerts:    []zap.Alert{{Alert: "Cookie Without Secure Flag", Risk: zap.RiskLow}}}
	if err := store.SaveRun(ctx, base); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	head := startJob(t, s, "http://localhost:3000")

	rec := doJSON(t, s, "GET", "/history?limit=10", "")
	var runs []history.Run
	decodeJSON(t, rec, &runs)
	if len(runs) != 2 || runs[0].ID != head.ID {
		t.Fatalf("unexpected history %+v", runs)
	}

	rec = doJSON(t, s, "GET", "/history/"+head.ID, "")
	var run history.Run
	decodeJSON(t, rec, &run)
	if len(run.Alerts) != 1 || run.Alerts[0].Title() != "Missing CSP" {
		t.Errorf("unexpected run %+v", run)
	}

	rec = doJSON(t, s, "GET", "/history/diff?head="+head.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("diff: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var d history.RunDiff
	decodeJSON(t, rec, &d)
	if d.BaseID != "base" || len(d.Added) != 1 || len(d.Removed) != 1 {
		t.Errorf("unexpected diff %+v", d)
	}

	if rec := doJSON(t, s, "GET", "/history/diff", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("missing head: expected 400, got %d", rec.Code)
	}
	if rec := doJSON(t, s, "GET", "/history/missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing run: expected 404, got %d", rec.Code)
	}
}

func TestServer_History_Disabled(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, &testutil.DummyScanner{}, false)
	if rec := doJSON(t, s, "GET", "/history", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

// ─── Health & docs ─────────────────────────────────────────────────────

func TestServer_Health(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, &testutil.DummyScanner{VersionString: "2.16.1"}, false)

	rec := doJSON(t, s, "GET", "/health", "")
	var body server.HealthResponse
	decodeJSON(t, rec, &body)
	if rec.Code != http.StatusOK || body.ZapVersion != "2.16.1" {
		t.Errorf("unexpected health %d %+v", rec.Code, body)
	}

	down, _ := newTestServer(t, &testutil.DummyScanner{VersionErr: errors.New("connection refused")}, false)
	rec = doJSON(t, down, "GET", "/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when the scanner is down, got %d", rec.Code)
	}
}

func TestServer_SwaggerDoc(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, &testutil.DummyScanner{}, false)

	rec := doJSON(t, s, "GET", "/swagger/doc.json", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "zapctl API") || !strings.Contains(rec.Body.String(), "/history/diff") {
		t.Errorf("unexpected swagger doc: %s", rec.Body.String())
	}
}
