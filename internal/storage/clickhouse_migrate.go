package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/portfolio-aggregator/internal/logging"
)

const clickHouseMigrationsTable = "schema_migrations"

// RunClickHouseMigrations applies the .sql files in migrationsPath in name
// order, skipping files already recorded in schema_migrations
func RunClickHouseMigrations(ctx context.Context, db *ClickHouseDB, migrationsPath string, logger *logging.Logger) ([]string, error) {
	files, err := migrationFiles(migrationsPath)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		logger.WithField("path", migrationsPath).Info("no ClickHouse migration files found")
		return nil, nil
	}

	if err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+clickHouseMigrationsTable+` (
			name String,
			applied_at DateTime64(3, 'UTC') DEFAULT now64(3)
		) ENGINE = ReplacingMergeTree ORDER BY name`); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := appliedClickHouseMigrations(ctx, db)
	if err != nil {
		return nil, err
	}

	var ran []string
	for _, name := range files {
		if applied[name] {
			continue
		}

		content, err := os.ReadFile(filepath.Join(migrationsPath, name)) // #nosec G304 - path is built from the trusted migrations dir
		if err != nil {
			return ran, fmt.Errorf("failed to read migration file %s: %w", name, err)
		}

		fileLogger := logger.WithField("file", name)
		for i, stmt := range splitSQLStatements(string(content)) {
			fileLogger.Debugf("executing statement %d: %s", i+1, truncate(stmt, 80))
			if err := db.Exec(ctx, stmt); err != nil {
				return ran, fmt.Errorf("failed to execute statement %d in %s: %w", i+1, name, err)
			}
		}

		if err := db.Exec(ctx, "INSERT INTO "+clickHouseMigrationsTable+" (name) VALUES (?)", name); err != nil {
			return ran, fmt.Errorf("failed to record migration %s: %w", name, err)
		}
		fileLogger.Info("applied ClickHouse migration")
		ran = append(ran, name)
	}

	return ran, nil
}

func migrationFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		// golang-migrate style down files are not applied here
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") || strings.HasSuffix(e.Name(), ".down.sql") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func appliedClickHouseMigrations(ctx context.Context, db *ClickHouseDB) (map[string]bool, error) {
	rows, err := db.Conn().Query(ctx, "SELECT name FROM "+clickHouseMigrationsTable+" FINAL")
	if err != nil {
		return nil, fmt.Errorf("failed to list applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan migration name: %w", err)
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

// splitSQLStatements splits a file into statements on lines ending with a
// semicolon, dropping comment-only lines and the trailing semicolon
func splitSQLStatements(content string) []string {
	var statements []string
	var current strings.Builder

	flush := func() {
		stmt := strings.TrimSuffix(strings.TrimSpace(current.String()), ";")
		if stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
		if strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}
	flush()

	return statements
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
