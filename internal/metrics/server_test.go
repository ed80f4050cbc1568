package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dray-io/bulkgc/internal/bulk"
)

func TestNewServer(t *testing.T) {
	s := NewServer(":0")
	if s.addr != ":0" {
		t.Errorf("addr = %q, want %q", s.addr, ":0")
	}
	if s.Addr() != ":0" {
		t.Errorf("Addr() before Start = %q, want %q", s.Addr(), ":0")
	}
}

func TestServerWithCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBulkMetrics(reg)
	m.RecordCommandState("delete", bulk.StateScheduled)
	m.RecordBucketCommit("delete", 0.002, true)
	m.RecordBucketCommit("delete", 0.008, false)

	s := NewServerWithRegistry("127.0.0.1:0", reg)
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Close()

	if !strings.Contains(s.Addr(), ":") || strings.HasSuffix(s.Addr(), ":0") {
		t.Errorf("Addr() = %q, expected bound host:port", s.Addr())
	}

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/plain") {
		t.Errorf("Content-Type = %q, expected text/plain", ct)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	bodyStr := string(body)

	for _, want := range []string{
		"bulkgc_bulk_command_states_total",
		"bulkgc_bulk_bucket_commit_latency_seconds",
		`status="success"`,
		`status="failure"`,
	} {
		if !strings.Contains(bodyStr, want) {
			t.Errorf("expected %s in metrics output", want)
		}
	}
}

func TestServer_Handler(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewGCMetrics(reg).RecordDeleted("main", 12)

	rec := httptest.NewRecorder()
	NewServerWithRegistry(":0", reg).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), `bulkgc_gc_deleted_bytes_total{provider="main"} 12`) {
		t.Errorf("unexpected body:\n%s", rec.Body.String())
	}
}

func TestServer_Close(t *testing.T) {
	s := NewServerWithRegistry("127.0.0.1:0", prometheus.NewRegistry())
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	addr := s.Addr()

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Give server time to close
	time.Sleep(10 * time.Millisecond)

	_, err := http.Get("http://" + addr + "/metrics")
	if err == nil {
		t.Error("expected error after server close")
	}
}

func TestServer_CloseWithoutStart(t *testing.T) {
	s := NewServer(":0")
	// Should not panic or error
	if err := s.Close(); err != nil {
		t.Errorf("Close on unstarted server returned error: %v", err)
	}
}
