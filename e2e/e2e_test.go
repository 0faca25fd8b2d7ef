package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/ayusman/seatwatch/internal/app"
	"github.com/ayusman/seatwatch/internal/capture"
	"github.com/ayusman/seatwatch/internal/config"
	"github.com/ayusman/seatwatch/internal/detector"
	"github.com/ayusman/seatwatch/internal/fixture"
	"github.com/ayusman/seatwatch/internal/registry"
	"github.com/ayusman/seatwatch/internal/seat"
	"github.com/ayusman/seatwatch/internal/server"
	"github.com/ayusman/seatwatch/internal/store"
)

const configYAML = `
models_dir: %s
db_path: %s
log_level: warn
simulation_seed: 7
detect_workers: 2
watch:
  enabled: true
  schedule: "@every 1h"
  seats:
    - {seat_id: front-left, x: 20, y: 20, width: 180, height: 200, student_name: Dewi}
    - {seat_id: front-mid, x: 220, y: 20, width: 180, height: 200}
`

type stack struct {
	cfg      config.Config
	store    *store.Store
	manager  *app.Manager
	pipeline *app.Pipeline
	watcher  *app.Watcher
	server   *server.Server
}

// newStack wires the service the way cmd/seatwatch does, with the real model
// loader and a mock camera.
func newStack(t *testing.T) *stack {
	t.Helper()

	dir := t.TempDir()
	modelsDir := filepath.Join(dir, "models")
	// A Keras container exists but no runtime can load it.
	if _, err := fixture.WriteModel(modelsDir, "model_1.h5"); err != nil {
		t.Fatalf("WriteModel() error: %v", err)
	}

	cfgPath := filepath.Join(dir, "config.yaml")
	yml := fmt.Sprintf(configYAML, modelsDir, filepath.Join(dir, "data.db"))
	if err := os.WriteFile(cfgPath, []byte(yml), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.LoadFrom(cfgPath, "")
	if err != nil {
		t.Fatalf("config.LoadFrom() error: %v", err)
	}

	log := cfg.NewLogger()
	log.SetOutput(io.Discard)

	st, err := store.New(cfg.DBPath)
	if err != nil {
		t.Fatalf("store.New() error: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	reg := registry.New(cfg.ModelsDir, cfg.AllowedModels)
	manager := app.NewManager(app.Config{
		Registry:  reg,
		Loader:    detector.NewLoader(log),
		Store:     st,
		Detection: cfg.Detector(),
		Log:       log,
	})
	t.Cleanup(func() { manager.Close() })

	pipeline := app.NewPipeline(manager, log)

	frames := fixture.Sequence(3)
	t.Cleanup(func() {
		for _, f := range frames {
			f.Close()
		}
	})
	watcher, err := app.NewWatcher(pipeline, capture.NewMockCamera(frames, true), app.WatchConfig{
		Schedule: cfg.Watch.Schedule,
		Seats:    cfg.Watch.Regions(),
	}, log)
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	if err := watcher.Start(); err != nil {
		t.Fatalf("watcher.Start() error: %v", err)
	}
	t.Cleanup(func() { watcher.Stop(context.Background()) })

	srv := server.New(server.Config{
		Manager:  manager,
		Pipeline: pipeline,
		Registry: reg,
		Store:    st,
		Watch:    watcher,
		Log:      log,
	})
	t.Cleanup(srv.Close)

	return &stack{cfg: cfg, store: st, manager: manager, pipeline: pipeline, watcher: watcher, server: srv}
}

func TestE2E_CompleteWorkflow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	s := newStack(t)
	ts := httptest.NewServer(s.server)
	defer ts.Close()
	client := ts.Client()

	post := func(t *testing.T, path, body string, v interface{}) int {
		t.Helper()
		resp, err := client.Post(ts.URL+path, "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("POST %s error = %v", path, err)
		}
		defer resp.Body.Close()
		if v != nil {
			if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
				t.Fatalf("decode %s: %v", path, err)
			}
		}
		return resp.StatusCode
	}

	t.Run("MissingModelRejected", func(t *testing.T) {
		if code := post(t, "/api/initialize-model", `{"detection_model_type": "model_2"}`, nil); code != http.StatusBadRequest {
			t.Fatalf("status = %d, want %d", code, http.StatusBadRequest)
		}
		if s.manager.Status().Status != app.StatusInactive {
			t.Error("manager became active after rejected initialize")
		}
	})

	t.Run("WatchSkipsWhileInactive", func(t *testing.T) {
		if _, ok := s.watcher.Tick(context.Background()); ok {
			t.Error("watch tick ran without a detector")
		}
	})

	t.Run("InitializeDegrades", func(t *testing.T) {
		var resp struct {
			Success bool `json:"success"`
			Config  struct {
				ModelType  string   `json:"model_type"`
				Degraded   bool     `json:"degraded"`
				LoadErrors []string `json:"load_errors"`
			} `json:"config"`
		}
		if code := post(t, "/api/initialize-model", `{"detection_model_type": "model_1"}`, &resp); code != http.StatusOK {
			t.Fatalf("status = %d, want %d", code, http.StatusOK)
		}
		if resp.Config.ModelType != "mock" || !resp.Config.Degraded || len(resp.Config.LoadErrors) == 0 {
			t.Errorf("config = %+v, want degraded mock with load errors", resp.Config)
		}
	})

	t.Run("DetectFrame", func(t *testing.T) {
		payload, err := fixture.EncodedFrame(150)
		if err != nil {
			t.Fatalf("EncodedFrame() error: %v", err)
		}
		seats, _ := json.Marshal(append(fixture.Seats(), seat.Region{SeatID: "aisle", X: 0, Y: 0, Width: 0, Height: 10}))
		body := fmt.Sprintf(`{"frame_data": %q, "seat_positions": %s, "session_id": "e2e"}`, payload, seats)

		var resp struct {
			Success         bool                `json:"success"`
			Detections      []seat.Detection    `json:"detections"`
			Summary         seat.Summary        `json:"summary"`
			GestureAnalysis []seat.GestureCount `json:"gesture_analysis"`
		}
		if code := post(t, "/api/detect-frame", body, &resp); code != http.StatusOK {
			t.Fatalf("status = %d, want %d", code, http.StatusOK)
		}

		if len(resp.Detections) != 7 {
			t.Fatalf("got %d detections, want 7", len(resp.Detections))
		}
		if !resp.Detections[6].IsEmpty() {
			t.Errorf("zero-width seat = %+v, want empty detection", resp.Detections[6])
		}
		var total int
		for _, g := range resp.GestureAnalysis {
			total += g.Count
		}
		if total != 7 {
			t.Errorf("histogram total = %d, want 7", total)
		}
		for _, d := range resp.Detections {
			if d.FaceDetected != (d.AttendanceTime != nil) {
				t.Errorf("seat %s: face=%v attendance=%v", d.SeatID, d.FaceDetected, d.AttendanceTime)
			}
		}
	})

	t.Run("WatchTick", func(t *testing.T) {
		result, ok := s.watcher.Tick(context.Background())
		if !ok {
			t.Fatal("watch tick skipped with an active detector")
		}
		if result.Summary.TotalSeats != 2 {
			t.Errorf("watch total seats = %d, want 2", result.Summary.TotalSeats)
		}

		resp, err := client.Get(ts.URL + "/api/snapshot.jpg")
		if err != nil {
			t.Fatalf("GET snapshot error = %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("snapshot status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
	})

	t.Run("RestoreAfterRestart", func(t *testing.T) {
		log := logrus.New()
		log.SetOutput(io.Discard)
		next := app.NewManager(app.Config{
			Registry:  registry.New(s.cfg.ModelsDir, s.cfg.AllowedModels),
			Loader:    detector.NewLoader(log),
			Store:     s.store,
			Detection: s.cfg.Detector(),
			Log:       log,
		})
		defer next.Close()

		restored, err := next.Restore(context.Background())
		if err != nil || !restored {
			t.Fatalf("Restore() = %v, %v", restored, err)
		}
		if got := next.Status().Config.Model; got != "model_1" {
			t.Errorf("restored model = %q, want model_1", got)
		}
	})

	t.Run("StopModel", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			if code := post(t, "/api/stop-model", ``, nil); code != http.StatusOK {
				t.Fatalf("stop #%d status = %d", i+1, code)
			}
		}
		if code := post(t, "/api/detect-frame", `{"seat_positions": []}`, nil); code != http.StatusBadRequest {
			t.Errorf("detect after stop status = %d, want %d", code, http.StatusBadRequest)
		}

		events, err := s.store.Events().Recent(10)
		if err != nil {
			t.Fatalf("Recent() error: %v", err)
		}
		if len(events) != 2 {
			t.Errorf("got %d load events, want 2", len(events))
		}
	})
}
