// Package app owns the active seat detector and runs frames through it.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/ayusman/seatwatch/internal/detector"
	"github.com/ayusman/seatwatch/internal/registry"
	"github.com/ayusman/seatwatch/internal/seat"
	"github.com/ayusman/seatwatch/internal/store"
)

var (
	// ErrConfiguration is returned for unresolvable model references,
	// unsupported kinds and invalid thresholds. The active detector is left
	// untouched.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotInitialized is returned when an operation needs an active detector.
	ErrNotInitialized = errors.New("model not initialized")
)

// Status is the lifecycle state of the detector slot.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// DetectorConfig describes the active detector. It is replaced wholesale on
// every initialize or swap.
type DetectorConfig struct {
	ID                  string        `json:"id"`
	Model               string        `json:"detection_model_type"`
	ModelPath           string        `json:"model_path"`
	Format              string        `json:"model_format,omitempty"`
	ConfidenceThreshold float64       `json:"confidence_threshold"`
	IOUThreshold        float64       `json:"iou_threshold"`
	BackendKind         detector.Kind `json:"backend_kind"`
	Degraded            bool          `json:"degraded"`
	LoadErrors          []string      `json:"load_errors,omitempty"`
	Status              Status        `json:"status"`
	InitializedAt       time.Time     `json:"initialized_at"`
}

// StatusReport is returned by Manager.Status. Config is nil when inactive.
type StatusReport struct {
	Status Status          `json:"status"`
	Config *DetectorConfig `json:"config,omitempty"`
}

// InitRequest selects a model and thresholds. Zero thresholds use the
// configured defaults; an empty Format is inferred.
type InitRequest struct {
	Model      string
	Format     string
	Confidence float64
	IOU        float64
}

// ModelLoader loads a backend for a resolved model file.
type ModelLoader interface {
	Load(spec detector.LoadSpec) (detector.Backend, error)
}

// Config holds the Manager's collaborators and defaults.
type Config struct {
	Registry *registry.Registry
	Loader   ModelLoader
	// Store persists settings and load events. Optional.
	Store *store.Store
	// Detection supplies default thresholds, tie-break, seed and workers.
	Detection          detector.Config
	RunnerScript       string
	PythonPath         string
	RunnerStartTimeout time.Duration
	Log                logrus.FieldLogger
}

type activeDetector struct {
	config DetectorConfig
	engine *detector.Engine
}

// Manager owns the process-wide active detector. Detection holds a read
// lock for its whole run; initialize, swap and stop take the write lock only
// to replace the slot, so a detection never sees a half-swapped detector.
type Manager struct {
	config Config
	log    logrus.FieldLogger

	// opMu serializes initialize, swap and stop.
	opMu   sync.Mutex
	mu     sync.RWMutex
	active *activeDetector
}

// NewManager creates a Manager with no active detector.
func NewManager(config Config) *Manager {
	log := config.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	if config.Loader == nil {
		config.Loader = detector.NewLoader(log)
	}
	if config.Detection.ConfidenceThreshold == 0 {
		config.Detection.ConfidenceThreshold = detector.DefaultConfig().ConfidenceThreshold
	}
	if config.Detection.IOUThreshold == 0 {
		config.Detection.IOUThreshold = detector.DefaultConfig().IOUThreshold
	}
	return &Manager{
		config: config,
		log:    log.WithField("component", "lifecycle"),
	}
}

// Initialize loads the requested model and makes it the active detector.
// Model load failures do not fail the call: the simulated backend is used
// and the config reports backend_kind "mock" with degraded set. Only
// configuration problems return an error, wrapping ErrConfiguration.
func (m *Manager) Initialize(ctx context.Context, req InitRequest) (DetectorConfig, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.initialize(ctx, req)
}

func (m *Manager) initialize(ctx context.Context, req InitRequest) (DetectorConfig, error) {
	conf, err := threshold("confidence_threshold", req.Confidence, m.config.Detection.ConfidenceThreshold)
	if err != nil {
		return DetectorConfig{}, err
	}
	iou, err := threshold("iou_threshold", req.IOU, m.config.Detection.IOUThreshold)
	if err != nil {
		return DetectorConfig{}, err
	}
	if _, _, err := detector.ParseKind(req.Format); err != nil {
		return DetectorConfig{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if m.config.Registry == nil {
		return DetectorConfig{}, fmt.Errorf("%w: no model registry", ErrConfiguration)
	}

	model, err := m.config.Registry.Lookup(req.Model)
	if err != nil {
		return DetectorConfig{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	format := req.Format
	if format == "" {
		format = model.Format
	}

	detection := m.config.Detection
	detection.ConfidenceThreshold = conf
	detection.IOUThreshold = iou

	log := m.log.WithFields(logrus.Fields{"model": req.Model, "path": model.Path})
	log.WithFields(logrus.Fields{"confidence": conf, "iou": iou, "format": format}).Info("initializing detector")

	cfg := DetectorConfig{
		ID:                  uuid.New().String(),
		Model:               req.Model,
		ModelPath:           model.Path,
		Format:              format,
		ConfidenceThreshold: conf,
		IOUThreshold:        iou,
		Status:              StatusActive,
	}

	backend, err := m.config.Loader.Load(detector.LoadSpec{
		Path:         model.Path,
		Format:       format,
		Config:       detection,
		ScriptPath:   m.config.RunnerScript,
		PythonPath:   m.config.PythonPath,
		StartTimeout: m.config.RunnerStartTimeout,
	})
	if err != nil {
		var loadErr *detector.LoadError
		if errors.As(err, &loadErr) {
			for _, attempt := range loadErr.Attempts {
				cfg.LoadErrors = append(cfg.LoadErrors, attempt.Error())
			}
		} else {
			cfg.LoadErrors = []string{err.Error()}
		}
		log.WithError(err).Warn("model load failed, using simulated detector")
		backend = detector.NewSimulated(detection.Seed)
		cfg.Degraded = true
	}

	if err := ctx.Err(); err != nil {
		backend.Close()
		return DetectorConfig{}, err
	}

	cfg.BackendKind = backend.Kind()
	cfg.InitializedAt = time.Now()

	m.swap(&activeDetector{
		config: cfg,
		engine: detector.NewEngine(backend, detection, m.log),
	})
	m.persist(cfg)

	log.WithFields(logrus.Fields{
		"id":       cfg.ID,
		"kind":     cfg.BackendKind,
		"degraded": cfg.Degraded,
	}).Info("detector active")

	return cfg, nil
}

// SetBackendKind switches the active detector to another allowed model,
// keeping the current thresholds.
func (m *Manager) SetBackendKind(ctx context.Context, model string) (DetectorConfig, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.config.Registry != nil && !m.config.Registry.Allowed(model) {
		return DetectorConfig{}, fmt.Errorf("%w: unsupported model type %q", ErrConfiguration, model)
	}

	current, ok := m.current()
	if !ok {
		return DetectorConfig{}, ErrNotInitialized
	}

	return m.initialize(ctx, InitRequest{
		Model:      model,
		Confidence: current.ConfidenceThreshold,
		IOU:        current.IOUThreshold,
	})
}

// Stop clears the active detector. Stopping an inactive manager is a no-op.
func (m *Manager) Stop() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if !m.swap(nil) {
		return nil
	}
	m.log.Info("detector stopped")

	if s := m.config.Store; s != nil {
		if err := s.Settings().ClearDetector(); err != nil {
			m.log.WithError(err).Warn("failed to clear persisted detector settings")
		}
	}
	return nil
}

// Status reports whether a detector is active and, if so, its config.
func (m *Manager) Status() StatusReport {
	cfg, ok := m.current()
	if !ok {
		return StatusReport{Status: StatusInactive}
	}
	return StatusReport{Status: StatusActive, Config: &cfg}
}

// Detect evaluates regions of frame with the active detector. The detector
// cannot be swapped or stopped while Detect runs.
func (m *Manager) Detect(ctx context.Context, frame gocv.Mat, regions []seat.Region) ([]seat.Detection, DetectorConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.active == nil {
		return nil, DetectorConfig{}, ErrNotInitialized
	}
	return m.active.engine.DetectInSeats(ctx, frame, regions), m.active.config.clone(), nil
}

// Restore re-applies persisted detector settings. It returns false when
// nothing was persisted.
func (m *Manager) Restore(ctx context.Context) (bool, error) {
	if m.config.Store == nil {
		return false, nil
	}
	saved, err := m.config.Store.Settings().Detector()
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	_, err = m.Initialize(ctx, InitRequest{
		Model:      saved.Model,
		Format:     saved.Format,
		Confidence: saved.Confidence,
		IOU:        saved.IOU,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// Close stops the active detector.
func (m *Manager) Close() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.swap(nil)
	return nil
}

// swap installs next and closes the previous detector after the write lock
// is released. It reports whether a detector was replaced.
func (m *Manager) swap(next *activeDetector) bool {
	m.mu.Lock()
	prev := m.active
	m.active = next
	m.mu.Unlock()

	if prev == nil {
		return false
	}
	if err := prev.engine.Close(); err != nil {
		m.log.WithError(err).WithField("id", prev.config.ID).Warn("failed to close previous detector")
	}
	return true
}

func (m *Manager) current() (DetectorConfig, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == nil {
		return DetectorConfig{}, false
	}
	return m.active.config.clone(), true
}

func (m *Manager) persist(cfg DetectorConfig) {
	s := m.config.Store
	if s == nil {
		return
	}

	err := s.Settings().SaveDetector(store.DetectorSettings{
		Model:      cfg.Model,
		Format:     cfg.Format,
		Confidence: cfg.ConfidenceThreshold,
		IOU:        cfg.IOUThreshold,
	})
	if err != nil {
		m.log.WithError(err).Warn("failed to persist detector settings")
	}

	err = s.Events().Create(&store.LoadEvent{
		ConfigID:    cfg.ID,
		Model:       cfg.Model,
		Path:        cfg.ModelPath,
		Format:      cfg.Format,
		BackendKind: string(cfg.BackendKind),
		Degraded:    cfg.Degraded,
		Errors:      cfg.LoadErrors,
		CreatedAt:   cfg.InitializedAt,
	})
	if err != nil {
		m.log.WithError(err).Warn("failed to record load event")
	}
}

func (c DetectorConfig) clone() DetectorConfig {
	c.LoadErrors = append([]string(nil), c.LoadErrors...)
	return c
}

func threshold(name string, v, def float64) (float64, error) {
	if v == 0 {
		return def, nil
	}
	if v != v || v < 0 || v > 1 {
		return 0, fmt.Errorf("%w: %s %v must be in (0, 1]", ErrConfiguration, name, v)
	}
	return v, nil
}
