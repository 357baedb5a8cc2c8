package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goclaw/sagaflow/pkg/api/models"
	"github.com/goclaw/sagaflow/pkg/eventstore/memory"
	"github.com/goclaw/sagaflow/pkg/logger"
)

func benchmarkRouter(b *testing.B) http.Handler {
	b.Helper()
	return NewRouter(testConfig(), logger.Nop(), newTestHandlers(b, memory.New()))
}

// BenchmarkProcessEvent measures one enqueue per request on distinct instances.
func BenchmarkProcessEvent(b *testing.B) {
	router := benchmarkRouter(b)
	body, err := json.Marshal(models.ProcessEventRequest{EventType: "ItemPacked", Payload: json.RawMessage(`{"sku":"A-1"}`)})
	if err != nil {
		b.Fatalf("json.Marshal() error = %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		path := fmt.Sprintf("/api/v1/processes/shipping/instances/b-%d/events", i)
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			b.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
		}
	}
}

// BenchmarkProcessEvent_GrowingStream replays one ever-longer stream.
func BenchmarkProcessEvent_GrowingStream(b *testing.B) {
	router := benchmarkRouter(b)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		body, _ := json.Marshal(models.ProcessEventRequest{EventID: fmt.Sprintf("e-%d", i), EventType: "ItemPacked"})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/processes/shipping/instances/hot/events", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			b.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
		}
	}
}

func BenchmarkGetInstance(b *testing.B) {
	router := benchmarkRouter(b)
	body, _ := json.Marshal(models.ProcessEventRequest{EventType: "ItemPacked"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/processes/shipping/instances/r-1/events", bytes.NewReader(body)))
	if rec.Code != http.StatusOK {
		b.Fatalf("seed status = %d", rec.Code)
	}

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/processes/shipping/instances/r-1", nil))
			if rec.Code != http.StatusOK {
				b.Errorf("status = %d", rec.Code)
				return
			}
		}
	})
}
