package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/goclaw/sagaflow/pkg/eventstore/memory"
	"github.com/goclaw/sagaflow/pkg/logger"
)

func TestNewHTTPServer(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Port = 8080

	server := NewHTTPServer(cfg, logger.Nop(), newTestHandlers(t, memory.New()))
	if server.server == nil || server.router == nil {
		t.Fatal("server not initialized")
	}
	if got := server.Addr(); got != "127.0.0.1:8080" {
		t.Errorf("Addr() = %q, want 127.0.0.1:8080", got)
	}
	if server.server.ReadTimeout != cfg.Server.HTTP.ReadTimeout {
		t.Errorf("ReadTimeout = %v, want %v", server.server.ReadTimeout, cfg.Server.HTTP.ReadTimeout)
	}
	if server.server.MaxHeaderBytes != cfg.Server.HTTP.MaxHeaderBytes {
		t.Errorf("MaxHeaderBytes = %d, want %d", server.server.MaxHeaderBytes, cfg.Server.HTTP.MaxHeaderBytes)
	}
	if server.Handler() == nil {
		t.Error("Handler() returned nil")
	}
}

func TestHTTPServer_ServeAndShutdown(t *testing.T) {
	server := NewHTTPServer(testConfig(), logger.Nop(), newTestHandlers(t, memory.New()))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- server.Serve(ln) }()

	resp, err := http.Get(fmt.Sprintf("http://%s/health", ln.Addr()))
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /health status = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after Shutdown")
	}
}

func TestHTTPServer_StartFailsOnBusyPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	defer ln.Close()

	cfg := testConfig()
	cfg.Server.Port = ln.Addr().(*net.TCPAddr).Port
	server := NewHTTPServer(cfg, logger.Nop(), &Handlers{})
	if err := server.Start(); err == nil {
		t.Fatal("Start() on a busy port should fail")
	}
}
