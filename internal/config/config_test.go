package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ayusman/seatwatch/internal/detector"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"), "")
	if err != nil {
		t.Fatalf("LoadFrom() error: %v", err)
	}

	if cfg.HTTPAddr != DefaultHTTPAddr {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, DefaultHTTPAddr)
	}
	if cfg.ModelsDir != DefaultModelsDir {
		t.Errorf("ModelsDir = %q, want %q", cfg.ModelsDir, DefaultModelsDir)
	}
	if strings.Join(cfg.AllowedModels, ",") != "model_1,model_2" {
		t.Errorf("AllowedModels = %v", cfg.AllowedModels)
	}
	if cfg.DefaultConfidence != 0.5 || cfg.DefaultIOU != 0.4 {
		t.Errorf("thresholds = %v/%v, want 0.5/0.4", cfg.DefaultConfidence, cfg.DefaultIOU)
	}
	if cfg.GestureTieBreak != "deterministic" {
		t.Errorf("GestureTieBreak = %q", cfg.GestureTieBreak)
	}
	if cfg.DetectWorkers != runtime.NumCPU() {
		t.Errorf("DetectWorkers = %d, want %d", cfg.DetectWorkers, runtime.NumCPU())
	}
	if !cfg.Restore() {
		t.Error("restore_on_start should default to true")
	}
	if cfg.RunnerStartTimeout != detector.DefaultStartTimeout {
		t.Errorf("RunnerStartTimeout = %s", cfg.RunnerStartTimeout)
	}
	if !strings.HasSuffix(cfg.DBPath, "seatwatch.db") {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.Watch.Schedule != DefaultWatchSchedule || cfg.Watch.Camera != "0" {
		t.Errorf("watch defaults = %+v", cfg.Watch)
	}
}

func TestLoadFrom_YAML(t *testing.T) {
	path := writeConfig(t, `
http_addr: ":8080"
models_dir: /srv/models
allowed_models: [model_1, model_2, model_3]
log_level: debug
log_format: json
default_confidence: 0.6
gesture_tie_break: random
simulation_seed: 42
restore_on_start: false
detect_workers: 2
runner_start_timeout: 45s
watch:
  enabled: true
  camera: rtsp://10.0.0.5/stream
  schedule: "@every 10s"
  motion_threshold: 1.5
  seats:
    - seat_id: A1
      x: 0
      y: 0
      width: 120
      height: 160
      student_name: Budi
    - seat_id: A2
      x: 130
      y: 0
      width: 120
      height: 160
`)

	cfg, err := LoadFrom(path, "")
	if err != nil {
		t.Fatalf("LoadFrom() error: %v", err)
	}

	if cfg.HTTPAddr != ":8080" || cfg.ModelsDir != "/srv/models" {
		t.Errorf("unexpected addr/models: %q %q", cfg.HTTPAddr, cfg.ModelsDir)
	}
	if len(cfg.AllowedModels) != 3 {
		t.Errorf("AllowedModels = %v", cfg.AllowedModels)
	}
	if cfg.Restore() {
		t.Error("restore_on_start: false should be respected")
	}
	if cfg.RunnerStartTimeout != 45*time.Second {
		t.Errorf("RunnerStartTimeout = %s, want 45s", cfg.RunnerStartTimeout)
	}
	if cfg.DefaultIOU != DefaultIOU {
		t.Errorf("unset default_iou should default, got %v", cfg.DefaultIOU)
	}

	dc := cfg.Detector()
	if dc.ConfidenceThreshold != 0.6 || dc.TieBreak != detector.TieBreakRandom || dc.Seed != 42 || dc.Workers != 2 {
		t.Errorf("Detector() = %+v", dc)
	}

	regions := cfg.Watch.Regions()
	if len(regions) != 2 {
		t.Fatalf("expected 2 regions, got %d", len(regions))
	}
	if regions[0].SeatID != "A1" || regions[0].Width != 120 || regions[0].StudentName != "Budi" {
		t.Errorf("unexpected region %+v", regions[0])
	}
	if regions[1].X != 130 {
		t.Errorf("unexpected region %+v", regions[1])
	}
}

func TestLoadFrom_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "http_addr: \":8080\"\ndefault_confidence: 0.6\n")

	t.Setenv("SEATWATCH_HTTP_ADDR", ":9000")
	t.Setenv("SEATWATCH_DEFAULT_CONFIDENCE", "0.7")
	t.Setenv("SEATWATCH_ALLOWED_MODELS", " model_1 , yolo ,")
	t.Setenv("SEATWATCH_RESTORE_ON_START", "false")
	t.Setenv("SEATWATCH_DETECT_WORKERS", "3")

	cfg, err := LoadFrom(path, "")
	if err != nil {
		t.Fatalf("LoadFrom() error: %v", err)
	}

	if cfg.HTTPAddr != ":9000" {
		t.Errorf("HTTPAddr = %q, want :9000", cfg.HTTPAddr)
	}
	if cfg.DefaultConfidence != 0.7 {
		t.Errorf("DefaultConfidence = %v, want 0.7", cfg.DefaultConfidence)
	}
	if strings.Join(cfg.AllowedModels, ",") != "model_1,yolo" {
		t.Errorf("AllowedModels = %v", cfg.AllowedModels)
	}
	if cfg.Restore() {
		t.Error("SEATWATCH_RESTORE_ON_START=false should disable restore")
	}
	if cfg.DetectWorkers != 3 {
		t.Errorf("DetectWorkers = %d, want 3", cfg.DetectWorkers)
	}
}

func TestLoadFrom_DotEnv(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envPath, []byte("SEATWATCH_MODELS_DIR=/from/dotenv\n"), 0644); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("SEATWATCH_MODELS_DIR") })

	cfg, err := LoadFrom("", envPath)
	if err != nil {
		t.Fatalf("LoadFrom() error: %v", err)
	}
	if cfg.ModelsDir != "/from/dotenv" {
		t.Errorf("ModelsDir = %q, want /from/dotenv", cfg.ModelsDir)
	}
}

func TestLoadFrom_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "malformed yaml",
			yaml:    "http_addr: [",
			wantErr: "parse",
		},
		{
			name:    "confidence out of range",
			yaml:    "default_confidence: 1.5",
			wantErr: "default_confidence",
		},
		{
			name:    "negative iou",
			yaml:    "default_iou: -0.1",
			wantErr: "default_iou",
		},
		{
			name:    "unknown tie break",
			yaml:    "gesture_tie_break: coin",
			wantErr: "gesture_tie_break",
		},
		{
			name:    "bad log level",
			yaml:    "log_level: loud",
			wantErr: "log_level",
		},
		{
			name:    "bad log format",
			yaml:    "log_format: xml",
			wantErr: "log_format",
		},
		{
			name:    "watch without seats",
			yaml:    "watch:\n  enabled: true\n",
			wantErr: "watch.seats",
		},
		{
			name:    "watch bad schedule",
			yaml:    "watch:\n  enabled: true\n  schedule: every now and then\n  seats: [{seat_id: A, width: 1, height: 1}]\n",
			wantErr: "watch.schedule",
		},
		{
			name:    "watch duplicate seats",
			yaml:    "watch:\n  enabled: true\n  seats: [{seat_id: A}, {seat_id: A}]\n",
			wantErr: "duplicate seat_id",
		},
		{
			name:    "bad env number",
			env:     map[string]string{"SEATWATCH_DETECT_WORKERS": "many"},
			wantErr: "SEATWATCH_DETECT_WORKERS",
		},
		{
			name:    "bad env bool",
			env:     map[string]string{"SEATWATCH_RESTORE_ON_START": "sometimes"},
			wantErr: "SEATWATCH_RESTORE_ON_START",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadFrom(writeConfig(t, tt.yaml), "")
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	cfg := Config{LogLevel: "warn", LogFormat: "json"}
	log := cfg.NewLogger()
	if log.GetLevel().String() != "warning" {
		t.Errorf("level = %s, want warning", log.GetLevel())
	}
	if _, ok := log.Formatter.(*logrus.JSONFormatter); !ok {
		t.Errorf("formatter = %T, want JSON", log.Formatter)
	}
}
