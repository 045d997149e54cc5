package transform

import (
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	"trv-manager/internal/directory"
)

func loadScript(t *testing.T, src string) *Lua {
	t.Helper()
	path := filepath.Join(t.TempDir(), "adjust.lua")
	if err := os.WriteFile(path, []byte(src), 0644); err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l, err := NewLua(path, logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(l.Close)
	return l
}

func TestAdjustAppliesOffset(t *testing.T) {
	l := loadScript(t, `
function adjust(area, kind, value)
	if area == "Living Room" and kind == "temperature" then
		return value - 0.5
	end
	return value
end
`)

	got := l.Adjust("Living Room", directory.KindTemperature, 21.0)
	if math.Abs(got-20.5) > 1e-9 {
		t.Errorf("adjusted = %v, want 20.5", got)
	}

	got = l.Adjust("Bedroom", directory.KindTemperature, 21.0)
	if got != 21.0 {
		t.Errorf("other area adjusted = %v, want 21.0", got)
	}

	got = l.Adjust("Living Room", directory.KindHumidity, 50.0)
	if got != 50.0 {
		t.Errorf("humidity adjusted = %v, want 50.0", got)
	}
}

func TestAdjustMissingFunctionIsIdentity(t *testing.T) {
	l := loadScript(t, `-- no adjust defined`)
	if got := l.Adjust("Hall", directory.KindTemperature, 19.5); got != 19.5 {
		t.Errorf("value = %v, want 19.5", got)
	}
}

func TestAdjustErrorFallsBackToInput(t *testing.T) {
	l := loadScript(t, `
function adjust(area, kind, value)
	error("boom")
end
`)
	if got := l.Adjust("Hall", directory.KindTemperature, 19.5); got != 19.5 {
		t.Errorf("value = %v, want 19.5 after script error", got)
	}
}

func TestAdjustNonNumberFallsBackToInput(t *testing.T) {
	l := loadScript(t, `
function adjust(area, kind, value)
	return "warm"
end
`)
	if got := l.Adjust("Hall", directory.KindTemperature, 19.5); got != 19.5 {
		t.Errorf("value = %v, want 19.5 for non-number return", got)
	}
}

func TestScriptLoadErrorReported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.lua")
	if err := os.WriteFile(path, []byte("function adjust("), 0644); err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := NewLua(path, logger); err == nil {
		t.Fatal("expected error for unparsable script")
	}
}

func TestSandboxBlocksOS(t *testing.T) {
	l := loadScript(t, `
function adjust(area, kind, value)
	return os.time()
end
`)
	// os is nil inside the sandbox, so the call errors and the input wins.
	if got := l.Adjust("Hall", directory.KindTemperature, 19.5); got != 19.5 {
		t.Errorf("value = %v, want 19.5", got)
	}
}
