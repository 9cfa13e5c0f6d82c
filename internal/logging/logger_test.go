package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeLoggingConfig(t *testing.T, ws, raw string) {
	t.Helper()
	dir := filepath.Join(ws, ".sheriff")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(raw), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func resetLogging() {
	CloseAll()
	logsDir = ""
	workspace = ""
	config = loggingConfig{}
	configLoaded = false
	logLevel = LevelInfo
}

func TestInitializeWithoutConfigDisablesLogging(t *testing.T) {
	defer resetLogging()
	ws := t.TempDir()

	if err := Initialize(ws); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if IsDebugMode() {
		t.Error("expected debug mode off without config")
	}
	if _, err := os.Stat(filepath.Join(ws, ".sheriff", "logs")); !os.IsNotExist(err) {
		t.Error("logs directory should not exist in production mode")
	}
}

func TestDebugModeWritesCategoryFile(t *testing.T) {
	defer resetLogging()
	ws := t.TempDir()
	writeLoggingConfig(t, ws, `{"logging": {"debug_mode": true, "level": "debug"}}`)

	if err := Initialize(ws); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	Mission("mission %s started", "m-001")
	CloseAll()

	entries, err := os.ReadDir(filepath.Join(ws, ".sheriff", "logs"))
	if err != nil {
		t.Fatalf("read logs dir: %v", err)
	}

	var found bool
	for _, e := range entries {
		if strings.Contains(e.Name(), "mission") {
			found = true
			data, _ := os.ReadFile(filepath.Join(ws, ".sheriff", "logs", e.Name()))
			if !strings.Contains(string(data), "mission m-001 started") {
				t.Errorf("log file missing message, got: %s", data)
			}
		}
	}
	if !found {
		t.Error("no mission log file created")
	}
}

func TestCategoryFilter(t *testing.T) {
	defer resetLogging()
	ws := t.TempDir()
	writeLoggingConfig(t, ws, `{"logging": {"debug_mode": true, "categories": {"sandbox": false}}}`)

	if err := Initialize(ws); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if IsCategoryEnabled(CategorySandbox) {
		t.Error("sandbox category should be disabled")
	}
	if !IsCategoryEnabled(CategoryGate) {
		t.Error("unlisted categories default to enabled")
	}

	// Disabled category logging is a no-op, not a crash.
	Sandbox("should go nowhere")
}

func TestJSONFormat(t *testing.T) {
	defer resetLogging()
	ws := t.TempDir()
	writeLoggingConfig(t, ws, `{"logging": {"debug_mode": true, "json_format": true}}`)

	if err := Initialize(ws); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	Gate("tier one passed")
	CloseAll()

	entries, _ := os.ReadDir(filepath.Join(ws, ".sheriff", "logs"))
	for _, e := range entries {
		if strings.Contains(e.Name(), "gate") {
			data, _ := os.ReadFile(filepath.Join(ws, ".sheriff", "logs", e.Name()))
			if !strings.Contains(string(data), `"cat":"gate"`) {
				t.Errorf("expected JSON entry, got: %s", data)
			}
		}
	}
}
