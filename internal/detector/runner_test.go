package detector

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/seatwatch/internal/seat"
)

// fakeRunner writes a shell script that stands in for seat_runner.py.
func fakeRunner(t *testing.T, body string) RunnerConfig {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("requires /bin/sh")
	}
	script := filepath.Join(t.TempDir(), "runner.sh")
	if err := os.WriteFile(script, []byte(body), 0755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return RunnerConfig{
		ScriptPath:   script,
		PythonPath:   "/bin/sh",
		ModelPath:    "model_1.pt",
		Loader:       LoaderTorch,
		Confidence:   0.5,
		IOU:          0.4,
		StartTimeout: 2 * time.Second,
	}
}

func TestRunner_Detect(t *testing.T) {
	config := fakeRunner(t, `echo '{"ready":true}'
echo '{"detections":[{"label":"sleeping","score":0.8,"box":[1,2,3,4]}]}'
cat > /dev/null
`)

	r, err := StartRunner(KindPyTorch, config, quietLogger())
	if err != nil {
		t.Fatalf("StartRunner() error: %v", err)
	}
	defer r.Close()

	if r.Kind() != KindPyTorch {
		t.Errorf("Kind() = %s, want pytorch", r.Kind())
	}

	region := gocv.NewMatWithSize(32, 32, gocv.MatTypeCV8UC3)
	defer region.Close()

	raw, err := r.Detect(region)
	if err != nil {
		t.Fatalf("Detect() error: %v", err)
	}
	if raw.Format != FormatTorch || len(raw.Candidates) != 1 {
		t.Fatalf("unexpected raw %+v", raw)
	}
	c := raw.Candidates[0]
	if c.ClassName != "sleeping" || *c.Box != (seat.BBox{X: 1, Y: 2, Width: 3, Height: 4}) {
		t.Errorf("unexpected candidate %+v", c)
	}
}

func TestRunner_HandshakeFailures(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		wantErr string
	}{
		{"load error", `echo '{"error":"No module named torch"}'`, "No module named torch"},
		{"not ready", `echo '{}'`, "did not report ready"},
		{"garbage", `echo 'Traceback'`, "parse runner handshake"},
		{"exits silently", `exit 1`, "read runner handshake"},
		{"too slow", `sleep 5`, "did not load model"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := fakeRunner(t, tt.script+"\n")
			config.StartTimeout = 200 * time.Millisecond

			r, err := StartRunner(KindCustom, config, quietLogger())
			if err == nil {
				r.Close()
				t.Fatal("expected handshake error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestRunner_MissingScript(t *testing.T) {
	_, err := StartRunner(KindCustom, RunnerConfig{
		ScriptPath: filepath.Join(t.TempDir(), "missing.py"),
		PythonPath: "/bin/sh",
	}, quietLogger())
	if err == nil {
		t.Fatal("expected error for missing script")
	}
}

func TestRunner_DetectAfterClose(t *testing.T) {
	config := fakeRunner(t, `echo '{"ready":true}'
cat > /dev/null
`)
	r, err := StartRunner(KindCustom, config, quietLogger())
	if err != nil {
		t.Fatalf("StartRunner() error: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
	if _, err := r.Detect(gocv.NewMat()); err == nil {
		t.Error("expected error after Close")
	}
}

func TestRunner_CloseKillsStuckProcess(t *testing.T) {
	config := fakeRunner(t, `echo '{"ready":true}'
exec sleep 30
`)
	config.StopTimeout = 200 * time.Millisecond

	r, err := StartRunner(KindCustom, config, quietLogger())
	if err != nil {
		t.Fatalf("StartRunner() error: %v", err)
	}

	start := time.Now()
	err = r.Close()
	if err == nil || !strings.Contains(err.Error(), "did not exit") {
		t.Errorf("Close() error = %v, want timeout error", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Close() took %s, want it bounded by the stop timeout", elapsed)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
}
