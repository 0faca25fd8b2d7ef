package detector

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LoadSpec describes a model to load.
type LoadSpec struct {
	// Path is the resolved model file.
	Path string
	// Format is the declared model format. Empty or "auto" infers it from Path.
	Format string
	// Config carries the detection thresholds.
	Config Config
	// ScriptPath and PythonPath override runner discovery.
	ScriptPath string
	PythonPath string
	// StartTimeout bounds the runner handshake. Zero uses DefaultStartTimeout.
	StartTimeout time.Duration
}

// LoadError reports that every strategy for a model failed.
type LoadError struct {
	Path     string
	Kind     Kind
	Attempts []error
}

func (e *LoadError) Error() string {
	msgs := make([]string, len(e.Attempts))
	for i, err := range e.Attempts {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("load %s model %s: %s", e.Kind, e.Path, strings.Join(msgs, "; "))
}

// Unwrap exposes the individual attempt errors to errors.Is and errors.As.
func (e *LoadError) Unwrap() []error {
	return e.Attempts
}

// Loader turns a LoadSpec into a Backend by walking the fallback chain for
// the model kind.
type Loader struct {
	// StartRunner starts a Python runner. Replaced in tests.
	StartRunner func(kind Kind, config RunnerConfig, log logrus.FieldLogger) (Backend, error)
	// OpenNet reads a DNN network. Replaced in tests.
	OpenNet func(kind Kind, path string, config Config) (Backend, error)

	log logrus.FieldLogger
}

// NewLoader creates a Loader using the real runner and DNN backends.
func NewLoader(log logrus.FieldLogger) *Loader {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Loader{
		StartRunner: func(kind Kind, config RunnerConfig, log logrus.FieldLogger) (Backend, error) {
			return StartRunner(kind, config, log)
		},
		OpenNet: func(kind Kind, path string, config Config) (Backend, error) {
			return LoadDNN(kind, path, config)
		},
		log: log,
	}
}

// Kind reports the kind a spec resolves to.
func (l *Loader) Kind(spec LoadSpec) (Kind, error) {
	kind, declared, err := ParseKind(spec.Format)
	if err != nil {
		return "", err
	}
	if declared {
		return kind, nil
	}
	kind, known := InferKind(spec.Path)
	if !known {
		l.log.WithField("path", spec.Path).Warn("unknown model format, treating as custom")
	}
	return kind, nil
}

// Load loads the model described by spec. The first strategy that succeeds
// wins; if all fail the returned error is a *LoadError.
func (l *Loader) Load(spec LoadSpec) (Backend, error) {
	kind, err := l.Kind(spec)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(spec.Path); err != nil {
		return nil, &LoadError{Path: spec.Path, Kind: kind, Attempts: []error{err}}
	}

	var attempts []error
	for _, step := range l.chain(kind) {
		backend, err := step.load(spec)
		if err == nil {
			l.log.WithFields(logrus.Fields{"kind": kind, "strategy": step.name, "path": spec.Path}).
				Info("model loaded")
			return backend, nil
		}
		l.log.WithFields(logrus.Fields{"kind": kind, "strategy": step.name}).WithError(err).
			Warn("model load strategy failed")
		attempts = append(attempts, fmt.Errorf("%s: %w", step.name, err))
	}

	if len(attempts) == 0 {
		attempts = append(attempts, errors.New("no load strategy"))
	}
	return nil, &LoadError{Path: spec.Path, Kind: kind, Attempts: attempts}
}

type loadStep struct {
	name string
	load func(spec LoadSpec) (Backend, error)
}

func (l *Loader) chain(kind Kind) []loadStep {
	runner := func(loader string) loadStep {
		return loadStep{
			name: "runner[" + loader + "]",
			load: func(spec LoadSpec) (Backend, error) {
				return l.StartRunner(kind, RunnerConfig{
					ScriptPath:   spec.ScriptPath,
					PythonPath:   spec.PythonPath,
					ModelPath:    spec.Path,
					Loader:       loader,
					Confidence:   spec.Config.ConfidenceThreshold,
					IOU:          spec.Config.IOUThreshold,
					StartTimeout: spec.StartTimeout,
				}, l.log)
			},
		}
	}
	net := loadStep{
		name: "dnn",
		load: func(spec LoadSpec) (Backend, error) {
			return l.OpenNet(kind, spec.Path, spec.Config)
		},
	}

	switch kind {
	case KindPyTorch:
		return []loadStep{runner(LoaderUltralytics), runner(LoaderYOLOv5), runner(LoaderTorch)}
	case KindONNX, KindTensorFlow:
		return []loadStep{net}
	case KindCustom:
		return []loadStep{runner(LoaderCustom), runner(LoaderTorch)}
	default:
		return nil
	}
}
