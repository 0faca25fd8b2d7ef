package detector

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

var errNoRuntime = errors.New("runtime unavailable")

// stubLoader records the strategies a Loader tries. Runners whose loader is
// listed in working succeed; every other attempt fails.
type stubLoader struct {
	*Loader
	tried   []string
	working map[string]bool
}

func newStubLoader(working ...string) *stubLoader {
	s := &stubLoader{Loader: NewLoader(quietLogger()), working: make(map[string]bool)}
	for _, w := range working {
		s.working[w] = true
	}
	s.StartRunner = func(kind Kind, config RunnerConfig, log logrus.FieldLogger) (Backend, error) {
		s.tried = append(s.tried, config.Loader)
		if s.working[config.Loader] {
			return NewMockBackend(kind), nil
		}
		return nil, errNoRuntime
	}
	s.OpenNet = func(kind Kind, path string, config Config) (Backend, error) {
		s.tried = append(s.tried, "dnn")
		if s.working["dnn"] {
			return NewMockBackend(kind), nil
		}
		return nil, errNoRuntime
	}
	return s
}

func modelFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("weights"), 0644); err != nil {
		t.Fatalf("failed to write model file: %v", err)
	}
	return path
}

func TestLoader_Chains(t *testing.T) {
	tests := []struct {
		name      string
		file      string
		format    string
		working   []string
		wantKind  Kind
		wantTried []string
		wantErr   bool
	}{
		{
			name:      "pytorch first strategy",
			file:      "model_1.pt",
			working:   []string{LoaderUltralytics},
			wantKind:  KindPyTorch,
			wantTried: []string{LoaderUltralytics},
		},
		{
			name:      "pytorch falls back to torch",
			file:      "model_1.pth",
			working:   []string{LoaderTorch},
			wantKind:  KindPyTorch,
			wantTried: []string{LoaderUltralytics, LoaderYOLOv5, LoaderTorch},
		},
		{
			name:      "pytorch exhausted",
			file:      "model_1.pt",
			wantKind:  KindPyTorch,
			wantTried: []string{LoaderUltralytics, LoaderYOLOv5, LoaderTorch},
			wantErr:   true,
		},
		{
			name:      "onnx",
			file:      "model_2.onnx",
			working:   []string{"dnn"},
			wantKind:  KindONNX,
			wantTried: []string{"dnn"},
		},
		{
			name:      "tensorflow",
			file:      "model_2.pb",
			wantKind:  KindTensorFlow,
			wantTried: []string{"dnn"},
			wantErr:   true,
		},
		{
			name:      "custom script falls back to torch",
			file:      "model_1.py",
			working:   []string{LoaderTorch},
			wantKind:  KindCustom,
			wantTried: []string{LoaderCustom, LoaderTorch},
		},
		{
			name:      "unknown extension is custom",
			file:      "model_1.bin",
			working:   []string{LoaderCustom},
			wantKind:  KindCustom,
			wantTried: []string{LoaderCustom},
		},
		{
			name:      "declared format wins over extension",
			file:      "model_1.pt",
			format:    "onnx",
			working:   []string{"dnn"},
			wantKind:  KindONNX,
			wantTried: []string{"dnn"},
		},
		{
			name:      "auto infers",
			file:      "model_1.onnx",
			format:    "auto",
			working:   []string{"dnn"},
			wantKind:  KindONNX,
			wantTried: []string{"dnn"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newStubLoader(tt.working...)
			backend, err := l.Load(LoadSpec{Path: modelFile(t, tt.file), Format: tt.format, Config: DefaultConfig()})

			if !reflect.DeepEqual(l.tried, tt.wantTried) {
				t.Errorf("tried %v, want %v", l.tried, tt.wantTried)
			}

			if tt.wantErr {
				var loadErr *LoadError
				if !errors.As(err, &loadErr) {
					t.Fatalf("expected *LoadError, got %v", err)
				}
				if loadErr.Kind != tt.wantKind {
					t.Errorf("LoadError.Kind = %s, want %s", loadErr.Kind, tt.wantKind)
				}
				if len(loadErr.Attempts) != len(tt.wantTried) {
					t.Errorf("expected %d attempts, got %d", len(tt.wantTried), len(loadErr.Attempts))
				}
				if !errors.Is(err, errNoRuntime) {
					t.Error("expected attempt errors to be reachable with errors.Is")
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if backend.Kind() != tt.wantKind {
				t.Errorf("backend kind = %s, want %s", backend.Kind(), tt.wantKind)
			}
		})
	}
}

func TestLoader_MissingFile(t *testing.T) {
	l := newStubLoader(LoaderUltralytics)
	_, err := l.Load(LoadSpec{Path: filepath.Join(t.TempDir(), "model_1.pt")})

	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected *LoadError, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist in chain, got %v", err)
	}
	if len(l.tried) != 0 {
		t.Errorf("no strategy should run for a missing file, tried %v", l.tried)
	}
}

func TestLoader_UnsupportedFormat(t *testing.T) {
	l := newStubLoader()
	_, err := l.Load(LoadSpec{Path: modelFile(t, "m.pt"), Format: "caffe"})
	if err == nil {
		t.Fatal("expected error for unsupported format")
	}
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		t.Error("unsupported format should not be a LoadError")
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in       string
		want     Kind
		declared bool
		wantErr  bool
	}{
		{"", "", false, false},
		{"auto", "", false, false},
		{"PyTorch", KindPyTorch, true, false},
		{" onnx ", KindONNX, true, false},
		{"tensorflow", KindTensorFlow, true, false},
		{"custom", KindCustom, true, false},
		{"mock", "", false, true},
		{"keras", "", false, true},
	}
	for _, tt := range tests {
		got, declared, err := ParseKind(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseKind(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want || declared != tt.declared {
			t.Errorf("ParseKind(%q) = %s, %v; want %s, %v", tt.in, got, declared, tt.want, tt.declared)
		}
	}
}

func TestInferKind(t *testing.T) {
	tests := []struct {
		path  string
		want  Kind
		known bool
	}{
		{"a/model.py", KindCustom, true},
		{"model.PT", KindPyTorch, true},
		{"model.pth", KindPyTorch, true},
		{"model.onnx", KindONNX, true},
		{"model.pb", KindTensorFlow, true},
		{"model.h5", KindTensorFlow, true},
		{"model.keras", KindTensorFlow, true},
		{"model.tflite", KindCustom, false},
		{"model", KindCustom, false},
	}
	for _, tt := range tests {
		got, known := InferKind(tt.path)
		if got != tt.want || known != tt.known {
			t.Errorf("InferKind(%q) = %s, %v; want %s, %v", tt.path, got, known, tt.want, tt.known)
		}
	}
}

func TestLoader_RunnerConfig(t *testing.T) {
	l := NewLoader(quietLogger())
	var got RunnerConfig
	l.StartRunner = func(kind Kind, config RunnerConfig, log logrus.FieldLogger) (Backend, error) {
		got = config
		return NewMockBackend(kind), nil
	}

	path := modelFile(t, "model_1.py")
	_, err := l.Load(LoadSpec{
		Path:         path,
		Config:       Config{ConfidenceThreshold: 0.65, IOUThreshold: 0.3},
		ScriptPath:   "/opt/seat_runner.py",
		PythonPath:   "/opt/venv/bin/python",
		StartTimeout: 90 * time.Second,
	})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	want := RunnerConfig{
		ScriptPath:   "/opt/seat_runner.py",
		PythonPath:   "/opt/venv/bin/python",
		ModelPath:    path,
		Loader:       LoaderCustom,
		Confidence:   0.65,
		IOU:          0.3,
		StartTimeout: 90 * time.Second,
	}
	if got != want {
		t.Errorf("runner config = %+v, want %+v", got, want)
	}
}
