// Package config loads seatwatch settings from config.yaml, a .env file and
// SEATWATCH_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/ayusman/seatwatch/internal/detector"
	"github.com/ayusman/seatwatch/internal/seat"
)

// Defaults.
const (
	DefaultConfigPath    = "config.yaml"
	DefaultHTTPAddr      = ":5001"
	DefaultModelsDir     = "uploads/models"
	DefaultConfidence    = 0.5
	DefaultIOU           = 0.4
	DefaultWatchSchedule = "@every 5s"
)

// DefaultAllowedModels are the model references accepted when none are configured.
var DefaultAllowedModels = []string{"model_1", "model_2"}

// Config holds all runtime settings.
type Config struct {
	HTTPAddr      string   `yaml:"http_addr"`
	ModelsDir     string   `yaml:"models_dir"`
	AllowedModels []string `yaml:"allowed_models"`
	// StaticDir serves a dashboard at /. Empty searches web/ and ~/.seatwatch/web.
	StaticDir string `yaml:"static_dir"`

	RunnerScript       string        `yaml:"runner_script"`
	PythonPath         string        `yaml:"python_path"`
	RunnerStartTimeout time.Duration `yaml:"runner_start_timeout"`

	DBPath string `yaml:"db_path"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	DefaultConfidence float64 `yaml:"default_confidence"`
	DefaultIOU        float64 `yaml:"default_iou"`
	GestureTieBreak   string  `yaml:"gesture_tie_break"`
	SimulationSeed    uint64  `yaml:"simulation_seed"`
	DetectWorkers     int     `yaml:"detect_workers"`

	// RestoreOnStart re-applies the last persisted detector settings at
	// startup. Nil means the default (true).
	RestoreOnStart *bool `yaml:"restore_on_start"`

	Watch Watch `yaml:"watch"`
}

// Watch configures the camera watch job.
type Watch struct {
	Enabled bool   `yaml:"enabled"`
	Camera  string `yaml:"camera"`
	Width   int    `yaml:"width"`
	Height  int    `yaml:"height"`
	// Schedule is a cron spec, e.g. "@every 5s" or "*/1 8-16 * * 1-5".
	Schedule string `yaml:"schedule"`
	// MotionThreshold skips ticks whose frame changed by less than this
	// percentage of pixels. Zero evaluates every tick.
	MotionThreshold float64     `yaml:"motion_threshold"`
	Seats           []WatchSeat `yaml:"seats"`
}

// WatchSeat is a seat rectangle watched by the camera job.
type WatchSeat struct {
	SeatID      string `yaml:"seat_id"`
	X           int    `yaml:"x"`
	Y           int    `yaml:"y"`
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	StudentID   string `yaml:"student_id"`
	StudentName string `yaml:"student_name"`
}

// Region converts the seat to a seat.Region.
func (s WatchSeat) Region() seat.Region {
	return seat.Region{
		SeatID:      s.SeatID,
		X:           s.X,
		Y:           s.Y,
		Width:       s.Width,
		Height:      s.Height,
		StudentID:   s.StudentID,
		StudentName: s.StudentName,
	}
}

// Regions returns the watched seats as regions.
func (w Watch) Regions() []seat.Region {
	regions := make([]seat.Region, len(w.Seats))
	for i, s := range w.Seats {
		regions[i] = s.Region()
	}
	return regions
}

// Load reads configuration from the file named by SEATWATCH_CONFIG (default
// config.yaml) and a .env file in the working directory.
func Load() (Config, error) {
	path := os.Getenv("SEATWATCH_CONFIG")
	if path == "" {
		path = DefaultConfigPath
	}
	return LoadFrom(path, ".env")
}

// LoadFrom reads configuration from a YAML file and a .env file. Either file
// may be missing. Variables already present in the environment are not
// replaced by the .env file.
func LoadFrom(configPath, envPath string) (Config, error) {
	var cfg Config

	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envPath, err)
		}
	}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", configPath, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return Config{}, fmt.Errorf("read %s: %w", configPath, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HTTPAddr == "" {
		c.HTTPAddr = DefaultHTTPAddr
	}
	if c.ModelsDir == "" {
		c.ModelsDir = DefaultModelsDir
	}
	if len(c.AllowedModels) == 0 {
		c.AllowedModels = append([]string(nil), DefaultAllowedModels...)
	}
	if c.RunnerStartTimeout == 0 {
		c.RunnerStartTimeout = detector.DefaultStartTimeout
	}
	if c.DBPath == "" {
		c.DBPath = defaultDBPath()
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.DefaultConfidence == 0 {
		c.DefaultConfidence = DefaultConfidence
	}
	if c.DefaultIOU == 0 {
		c.DefaultIOU = DefaultIOU
	}
	if c.GestureTieBreak == "" {
		c.GestureTieBreak = string(detector.TieBreakDeterministic)
	}
	if c.DetectWorkers == 0 {
		c.DetectWorkers = runtime.NumCPU()
	}
	if c.RestoreOnStart == nil {
		restore := true
		c.RestoreOnStart = &restore
	}
	if c.Watch.Camera == "" {
		c.Watch.Camera = "0"
	}
	if c.Watch.Schedule == "" {
		c.Watch.Schedule = DefaultWatchSchedule
	}
}

// Validate checks that the settings are usable.
func (c Config) Validate() error {
	var errs []error

	if c.DefaultConfidence <= 0 || c.DefaultConfidence > 1 {
		errs = append(errs, fmt.Errorf("default_confidence %v must be in (0, 1]", c.DefaultConfidence))
	}
	if c.DefaultIOU <= 0 || c.DefaultIOU > 1 {
		errs = append(errs, fmt.Errorf("default_iou %v must be in (0, 1]", c.DefaultIOU))
	}
	switch detector.TieBreak(c.GestureTieBreak) {
	case detector.TieBreakDeterministic, detector.TieBreakRandom:
	default:
		errs = append(errs, fmt.Errorf("gesture_tie_break must be %q or %q, got %q",
			detector.TieBreakDeterministic, detector.TieBreakRandom, c.GestureTieBreak))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}
	if c.DetectWorkers < 1 {
		errs = append(errs, fmt.Errorf("detect_workers %d must be >= 1", c.DetectWorkers))
	}
	if c.RunnerStartTimeout < 0 {
		errs = append(errs, fmt.Errorf("runner_start_timeout %s must not be negative", c.RunnerStartTimeout))
	}

	if c.Watch.Enabled {
		if _, err := cron.ParseStandard(c.Watch.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("watch.schedule %q: %w", c.Watch.Schedule, err))
		}
		if len(c.Watch.Seats) == 0 {
			errs = append(errs, errors.New("watch.seats must not be empty when watch is enabled"))
		}
		seen := make(map[string]bool)
		for i, s := range c.Watch.Seats {
			if s.SeatID == "" {
				errs = append(errs, fmt.Errorf("watch.seats[%d]: seat_id is required", i))
			} else if seen[s.SeatID] {
				errs = append(errs, fmt.Errorf("watch.seats[%d]: duplicate seat_id %q", i, s.SeatID))
			}
			seen[s.SeatID] = true
		}
		if c.Watch.MotionThreshold < 0 || c.Watch.MotionThreshold > 100 {
			errs = append(errs, fmt.Errorf("watch.motion_threshold %v must be in [0, 100]", c.Watch.MotionThreshold))
		}
	}

	return errors.Join(errs...)
}

// Restore reports whether persisted detector settings are re-applied at startup.
func (c Config) Restore() bool {
	return c.RestoreOnStart == nil || *c.RestoreOnStart
}

// Detector returns the detection options derived from the settings.
func (c Config) Detector() detector.Config {
	return detector.Config{
		ConfidenceThreshold: c.DefaultConfidence,
		IOUThreshold:        c.DefaultIOU,
		TieBreak:            detector.TieBreak(c.GestureTieBreak),
		Seed:                c.SimulationSeed,
		Workers:             c.DetectWorkers,
	}
}

// NewLogger builds the process logger from log_level and log_format.
func (c Config) NewLogger() *logrus.Logger {
	log := logrus.New()
	if level, err := logrus.ParseLevel(c.LogLevel); err == nil {
		log.SetLevel(level)
	}
	if c.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "seatwatch.db"
	}
	return filepath.Join(home, ".seatwatch", "seatwatch.db")
}

// applyEnv overrides settings from SEATWATCH_* environment variables.
func applyEnv(cfg *Config) error {
	var errs []error

	envString(&cfg.HTTPAddr, "SEATWATCH_HTTP_ADDR")
	envString(&cfg.ModelsDir, "SEATWATCH_MODELS_DIR")
	envString(&cfg.StaticDir, "SEATWATCH_STATIC_DIR")
	envList(&cfg.AllowedModels, "SEATWATCH_ALLOWED_MODELS")
	envString(&cfg.RunnerScript, "SEATWATCH_RUNNER_SCRIPT")
	envString(&cfg.PythonPath, "SEATWATCH_PYTHON")
	envString(&cfg.DBPath, "SEATWATCH_DB_PATH")
	envString(&cfg.LogLevel, "SEATWATCH_LOG_LEVEL")
	envString(&cfg.LogFormat, "SEATWATCH_LOG_FORMAT")
	envString(&cfg.GestureTieBreak, "SEATWATCH_GESTURE_TIE_BREAK")
	envString(&cfg.Watch.Camera, "SEATWATCH_WATCH_CAMERA")
	envString(&cfg.Watch.Schedule, "SEATWATCH_WATCH_SCHEDULE")

	errs = append(errs,
		envDuration(&cfg.RunnerStartTimeout, "SEATWATCH_RUNNER_START_TIMEOUT"),
		envFloat(&cfg.DefaultConfidence, "SEATWATCH_DEFAULT_CONFIDENCE"),
		envFloat(&cfg.DefaultIOU, "SEATWATCH_DEFAULT_IOU"),
		envUint(&cfg.SimulationSeed, "SEATWATCH_SIMULATION_SEED"),
		envInt(&cfg.DetectWorkers, "SEATWATCH_DETECT_WORKERS"),
		envBool(&cfg.Watch.Enabled, "SEATWATCH_WATCH_ENABLED"),
	)

	if val := os.Getenv("SEATWATCH_RESTORE_ON_START"); val != "" {
		restore, err := strconv.ParseBool(val)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid SEATWATCH_RESTORE_ON_START %q: %w", val, err))
		} else {
			cfg.RestoreOnStart = &restore
		}
	}

	return errors.Join(errs...)
}

func envString(field *string, key string) {
	if val := os.Getenv(key); val != "" {
		*field = val
	}
}

func envList(field *[]string, key string) {
	val := os.Getenv(key)
	if val == "" {
		return
	}
	*field = nil
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			*field = append(*field, item)
		}
	}
}

func envInt(field *int, key string) error {
	if val := os.Getenv(key); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, val, err)
		}
		*field = parsed
	}
	return nil
}

func envUint(field *uint64, key string) error {
	if val := os.Getenv(key); val != "" {
		parsed, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, val, err)
		}
		*field = parsed
	}
	return nil
}

func envFloat(field *float64, key string) error {
	if val := os.Getenv(key); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, val, err)
		}
		*field = parsed
	}
	return nil
}

func envBool(field *bool, key string) error {
	if val := os.Getenv(key); val != "" {
		parsed, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, val, err)
		}
		*field = parsed
	}
	return nil
}

func envDuration(field *time.Duration, key string) error {
	if val := os.Getenv(key); val != "" {
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, val, err)
		}
		*field = parsed
	}
	return nil
}
