package main

import (
	"io"
	"os"
	"strings"
	"testing"
)

func TestBuildOverrides(t *testing.T) {
	origAppName := *appName
	origServerPort := *serverPort
	origLogLevel := *logLevel
	origStorage := *storageType
	origDebugMode := *debugMode
	defer func() {
		*appName = origAppName
		*serverPort = origServerPort
		*logLevel = origLogLevel
		*storageType = origStorage
		*debugMode = origDebugMode
	}()

	*appName = ""
	*serverPort = 0
	*logLevel = ""
	*storageType = ""
	*debugMode = false

	overrides := buildOverrides()
	if len(overrides) != 0 {
		t.Errorf("Expected empty overrides, got %d items", len(overrides))
	}

	*appName = "test-app"
	*serverPort = 9090
	*logLevel = "debug"
	*storageType = "badger"
	*debugMode = true

	overrides = buildOverrides()
	if len(overrides) != 5 {
		t.Errorf("Expected 5 overrides, got %d", len(overrides))
	}
	if overrides["app.name"] != "test-app" {
		t.Errorf("Expected app.name=test-app, got %v", overrides["app.name"])
	}
	if overrides["server.port"] != 9090 {
		t.Errorf("Expected server.port=9090, got %v", overrides["server.port"])
	}
	if overrides["log.level"] != "debug" {
		t.Errorf("Expected log.level=debug, got %v", overrides["log.level"])
	}
	if overrides["storage.type"] != "badger" {
		t.Errorf("Expected storage.type=badger, got %v", overrides["storage.type"])
	}
	if overrides["app.debug"] != true {
		t.Errorf("Expected app.debug=true, got %v", overrides["app.debug"])
	}
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe() error = %v", err)
	}
	os.Stdout = w
	fn()
	w.Close()
	os.Stdout = oldStdout

	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("io.ReadAll() error = %v", err)
	}
	return string(out)
}

func TestPrintVersion(t *testing.T) {
	output := captureStdout(t, printVersion)
	for _, expected := range []string{"Sagaflow", "Version:", "Build Time:", "Git Commit:", "Go Version:"} {
		if !strings.Contains(output, expected) {
			t.Errorf("Expected output to contain %q, but it didn't. Output: %s", expected, output)
		}
	}
}

func TestPrintHelp(t *testing.T) {
	output := captureStdout(t, printHelp)
	for _, expected := range []string{"Sagaflow", "Usage:", "Options:", "Examples:"} {
		if !strings.Contains(output, expected) {
			t.Errorf("Expected output to contain %q, but it didn't. Output: %s", expected, output)
		}
	}
}
