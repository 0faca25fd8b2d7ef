package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/ayusman/seatwatch/internal/app"
	"github.com/ayusman/seatwatch/internal/detector"
	"github.com/ayusman/seatwatch/internal/fixture"
	"github.com/ayusman/seatwatch/internal/registry"
	"github.com/ayusman/seatwatch/internal/store"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// focusedLoader loads backends that see a focused student in every seat,
// or fails every load when fail is set.
type focusedLoader struct {
	fail bool
}

func (l focusedLoader) Load(spec detector.LoadSpec) (detector.Backend, error) {
	if l.fail {
		return nil, &detector.LoadError{Path: spec.Path, Kind: detector.KindCustom}
	}
	b := detector.NewMockBackend(detector.KindCustom)
	b.SetRaw(detector.Raw{
		Format:     detector.FormatTorch,
		Candidates: []detector.Candidate{{Confidence: 0.9, ClassName: "focused"}},
	})
	return b, nil
}

type testEnv struct {
	manager  *app.Manager
	pipeline *app.Pipeline
	registry *registry.Registry
	store    *store.Store
}

func newTestEnv(t *testing.T, loader app.ModelLoader, models ...string) *testEnv {
	t.Helper()

	dir := t.TempDir()
	modelsDir := filepath.Join(dir, "models")
	for _, m := range models {
		if _, err := fixture.WriteModel(modelsDir, m); err != nil {
			t.Fatalf("WriteModel(%s) error: %v", m, err)
		}
	}

	s, err := store.New(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	reg := registry.New(modelsDir, []string{"model_1", "model_2"})
	m := app.NewManager(app.Config{
		Registry:  reg,
		Loader:    loader,
		Store:     s,
		Detection: detector.DefaultConfig(),
		Log:       quietLogger(),
	})
	t.Cleanup(func() { m.Close() })

	return &testEnv{
		manager:  m,
		pipeline: app.NewPipeline(m, quietLogger()),
		registry: reg,
		store:    s,
	}
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		r = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}
