package repository

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"ledger-engine/pkg/logger"
)

// ApplyMigrations reads .sql files from the migrations directory and
// executes them in name order.
func ApplyMigrations(db *sql.DB, migrationsDir string, l *logger.Logger) error {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) == ".sql" {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		content, err := os.ReadFile(filepath.Join(migrationsDir, name))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		l.Infof("applying migration %s", name)
		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("execute migration %s: %w", name, err)
		}
	}
	return nil
}
