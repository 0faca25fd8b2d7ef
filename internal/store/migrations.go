package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Settings table - key-value application settings
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Load events table - one row per detector initialization or swap
		`CREATE TABLE IF NOT EXISTS load_events (
			id TEXT PRIMARY KEY,
			config_id TEXT NOT NULL,
			model TEXT NOT NULL,
			path TEXT NOT NULL,
			format TEXT NOT NULL DEFAULT '',
			backend_kind TEXT NOT NULL,
			degraded INTEGER NOT NULL DEFAULT 0,
			errors TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_load_events_created_at ON load_events(created_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
