package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// detectorKey is the settings key holding the active detector settings.
const detectorKey = "detector"

// DetectorSettings is the persisted form of the active detector configuration.
type DetectorSettings struct {
	Model      string  `json:"model"`
	Format     string  `json:"format"`
	Confidence float64 `json:"confidence_threshold"`
	IOU        float64 `json:"iou_threshold"`
}

// SettingsRepository reads and writes key-value settings.
type SettingsRepository struct {
	db *sql.DB
}

// Settings returns the settings repository for this store.
func (s *Store) Settings() *SettingsRepository {
	return &SettingsRepository{db: s.db}
}

// Get returns the value stored under key.
func (r *SettingsRepository) Get(key string) (string, error) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return value, nil
}

// Set stores value under key, replacing any previous value.
func (r *SettingsRepository) Set(key, value string) error {
	_, err := r.db.Exec(
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now(),
	)
	return err
}

// Delete removes key. Deleting a missing key is not an error.
func (r *SettingsRepository) Delete(key string) error {
	_, err := r.db.Exec(`DELETE FROM settings WHERE key = ?`, key)
	return err
}

// SaveDetector persists the active detector settings.
func (r *SettingsRepository) SaveDetector(d DetectorSettings) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode detector settings: %w", err)
	}
	return r.Set(detectorKey, string(data))
}

// Detector returns the persisted detector settings, or ErrNotFound.
func (r *SettingsRepository) Detector() (DetectorSettings, error) {
	value, err := r.Get(detectorKey)
	if err != nil {
		return DetectorSettings{}, err
	}
	var d DetectorSettings
	if err := json.Unmarshal([]byte(value), &d); err != nil {
		return DetectorSettings{}, fmt.Errorf("decode detector settings: %w", err)
	}
	return d, nil
}

// ClearDetector removes the persisted detector settings.
func (r *SettingsRepository) ClearDetector() error {
	return r.Delete(detectorKey)
}
