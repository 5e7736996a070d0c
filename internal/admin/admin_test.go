package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"jobsched/internal/scheduler"
	"jobsched/internal/storage"
	logx "jobsched/pkg/logx"
)

type fakeScheduler struct{ snap scheduler.Snapshot }

func (f fakeScheduler) Snapshot() scheduler.Snapshot { return f.snap }

type fakeRuns struct {
	runs      []storage.RunRecord
	err       error
	lastLimit int
}

func (f *fakeRuns) RecentRuns(_ context.Context, limit int) ([]storage.RunRecord, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.runs, nil
}

func newTestServer(t *testing.T, cfg Config, running bool, runs RunLister) *Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "jobsched_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()
	snap := scheduler.Snapshot{
		Name:    "main",
		Running: running,
		Pending: []scheduler.PendingJob{{ID: 1, Name: "rotate", Next: time.Date(2024, 6, 3, 2, 0, 0, 0, time.UTC)}},
	}
	return New(cfg, Deps{Gatherer: reg, Scheduler: fakeScheduler{snap: snap}, Runs: runs}, logx.Nop())
}

func get(t *testing.T, h http.Handler, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	t.Parallel()
	if rr := get(t, newTestServer(t, Config{}, true, nil).Handler(), "/healthz", ""); rr.Code != http.StatusOK {
		t.Fatalf("running: status = %d", rr.Code)
	}
	if rr := get(t, newTestServer(t, Config{}, false, nil).Handler(), "/healthz", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("stopped: status = %d", rr.Code)
	}
}

func TestSnapshotAndMetrics(t *testing.T) {
	t.Parallel()
	h := newTestServer(t, Config{}, true, nil).Handler()

	rr := get(t, h, "/snapshot", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("snapshot status = %d", rr.Code)
	}
	var snap scheduler.Snapshot
	if err := json.NewDecoder(rr.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Name != "main" || len(snap.Pending) != 1 || snap.Pending[0].Name != "rotate" {
		t.Fatalf("snapshot = %+v", snap)
	}

	rr = get(t, h, "/metrics", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "jobsched_test_total 1") {
		t.Fatalf("metrics status = %d body:\n%s", rr.Code, rr.Body.String())
	}
}

func TestRuns(t *testing.T) {
	t.Parallel()
	if rr := get(t, newTestServer(t, Config{}, true, nil).Handler(), "/runs", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("no storage: status = %d", rr.Code)
	}

	fr := &fakeRuns{runs: []storage.RunRecord{{ID: "a", Job: "rotate"}, {ID: "b", Job: "ping", Error: "exit status 1"}}}
	h := newTestServer(t, Config{}, true, fr).Handler()

	rr := get(t, h, "/runs?limit=5000", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if fr.lastLimit != maxRunsLimit {
		t.Fatalf("limit = %d, want %d", fr.lastLimit, maxRunsLimit)
	}
	var got []storage.RunRecord
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[1].OK() {
		t.Fatalf("runs = %+v", got)
	}

	if rr := get(t, h, "/runs?limit=-1", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: status = %d", rr.Code)
	}
	fr.err = errors.New("disk gone")
	if rr := get(t, h, "/runs", ""); rr.Code != http.StatusInternalServerError {
		t.Fatalf("storage error: status = %d", rr.Code)
	}
}

func TestTokenProtectsEverythingButHealth(t *testing.T) {
	t.Parallel()
	h := newTestServer(t, Config{Token: "s3cret"}, true, nil).Handler()

	if rr := get(t, h, "/healthz", ""); rr.Code != http.StatusOK {
		t.Fatalf("healthz: status = %d", rr.Code)
	}
	for _, path := range []string{"/snapshot", "/metrics"} {
		if rr := get(t, h, path, ""); rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s without token: status = %d", path, rr.Code)
		}
		if rr := get(t, h, path, "wrong"); rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s wrong token: status = %d", path, rr.Code)
		}
		if rr := get(t, h, path, "s3cret"); rr.Code != http.StatusOK {
			t.Fatalf("%s with token: status = %d", path, rr.Code)
		}
	}
}

func TestBearerMatches(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		header string
		want   bool
	}{
		{"Bearer s3cret", true},
		{"Bearer  s3cret ", true},
		{"Bearer s3c", false},
		{"Bearer s3cret2", false},
		{"bearer s3cret", false},
		{"Basic s3cret", false},
		{"s3cret", false},
		{"", false},
	} {
		if got := bearerMatches(tc.header, "s3cret"); got != tc.want {
			t.Errorf("bearerMatches(%q) = %v, want %v", tc.header, got, tc.want)
		}
	}
}

func TestPprofMountedOnlyWhenEnabled(t *testing.T) {
	t.Parallel()
	if rr := get(t, newTestServer(t, Config{}, true, nil).Handler(), "/debug/pprof/", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("disabled: status = %d", rr.Code)
	}
	if rr := get(t, newTestServer(t, Config{Pprof: true}, true, nil).Handler(), "/debug/pprof/", ""); rr.Code != http.StatusOK {
		t.Fatalf("enabled: status = %d", rr.Code)
	}
}

func TestStartServesAndStops(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Config{Enabled: true, Addr: "127.0.0.1:0"}, true, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for s.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("server did not bind")
		}
		time.Sleep(10 * time.Millisecond)
	}
	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer stopCancel()
	s.Stop(stopCtx)
	if s.Addr() != "" {
		t.Fatalf("addr after stop = %q", s.Addr())
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	tests := map[string]bool{
		"127.0.0.1:9477": true,
		"localhost:80":   true,
		"[::1]:9477":     true,
		":9477":          false,
		"0.0.0.0:9477":   false,
		"10.0.0.5:9477":  false,
		"garbage":        false,
	}
	for addr, want := range tests {
		if got := isLoopbackAddr(addr); got != want {
			t.Errorf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}
