package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"ragweb/config"
	"ragweb/internal/adapter/analyzer"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFS embed.FS

const keyConfigHash = "config_hash"

// MigrationResult describes the result of a migration check.
type MigrationResult struct {
	NeedsMigration bool
	NeedsRebuild   bool
	OldVersion     int
	NewVersion     int
	Reason         string
}

type migration struct {
	version int
	name    string
}

// migrations lists the embedded up migrations for the store's dialect in
// version order. Files are named NNN_description.up.sql.
func (s *SQLStore) migrations() ([]migration, error) {
	dir := path.Join("migrations", s.dialect.name)
	entries, err := fs.ReadDir(migrationFS, dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	var out []migration
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		out = append(out, migration{version: version, name: path.Join(dir, name)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// SchemaVersion returns the highest applied migration version, 0 for a
// fresh database.
func (s *SQLStore) SchemaVersion(ctx context.Context) (int, error) {
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return 0, err
	}
	var version int
	row := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&version); err != nil {
		return 0, fmt.Errorf("getting current version: %w", err)
	}
	return version, nil
}

func (s *SQLStore) ensureMigrationsTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}
	return nil
}

// Migrate applies every pending migration, each in its own transaction.
func (s *SQLStore) Migrate(ctx context.Context) (int, error) {
	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return 0, err
	}
	all, err := s.migrations()
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, m := range all {
		if m.version <= current {
			continue
		}
		content, err := migrationFS.ReadFile(m.name)
		if err != nil {
			return applied, fmt.Errorf("reading migration %s: %w", m.name, err)
		}
		err = s.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, string(content)); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, s.rebind("INSERT INTO schema_migrations (version) VALUES (?)"), m.version)
			return err
		})
		if err != nil {
			return applied, fmt.Errorf("executing migration %s: %w", m.name, err)
		}
		applied++
	}
	return applied, nil
}

// ComputeConfigHash hashes the configuration that determines what is in the
// vector index. Vectors produced under a different hash are not comparable.
func ComputeConfigHash(cfg *config.Config) string {
	relevant := struct {
		Tokenizer    string `json:"tokenizer"`
		ChunkTokens  int    `json:"chunk_tokens"`
		ChunkOverlap int    `json:"chunk_overlap"`
		EmbProvider  string `json:"emb_provider"`
		EmbModel     string `json:"emb_model"`
		EmbDimension int    `json:"emb_dimension"`
	}{
		Tokenizer:    analyzer.TokenizerVersion,
		ChunkTokens:  cfg.Ingest.ChunkTokens,
		ChunkOverlap: cfg.Ingest.ChunkOverlap,
		EmbProvider:  cfg.Embedding.Provider,
		EmbModel:     cfg.Embedding.Model,
		EmbDimension: cfg.Embedding.Dimension,
	}

	data, _ := json.Marshal(relevant)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:8])
}

// CheckMigration reports pending migrations and whether the stored data was
// produced under a different index configuration.
func (s *SQLStore) CheckMigration(ctx context.Context, cfg *config.Config) (*MigrationResult, error) {
	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return nil, err
	}
	all, err := s.migrations()
	if err != nil {
		return nil, err
	}
	latest := 0
	if len(all) > 0 {
		latest = all[len(all)-1].version
	}

	result := &MigrationResult{
		OldVersion: current,
		NewVersion: latest,
	}

	switch {
	case current == 0:
		result.NeedsMigration = true
		result.Reason = "initializing schema"
	case current < latest:
		result.NeedsMigration = true
		result.Reason = fmt.Sprintf("schema upgrade from v%d to v%d", current, latest)
	case current > latest:
		result.NeedsRebuild = true
		result.Reason = fmt.Sprintf("database created by newer version (v%d > v%d)", current, latest)
		return result, nil
	}

	if current == 0 {
		return result, nil
	}
	stored, err := s.getSetting(ctx, keyConfigHash)
	if err != nil {
		return nil, err
	}
	if stored != "" && stored != ComputeConfigHash(cfg) {
		result.NeedsRebuild = true
		result.Reason = "index configuration changed"
	}
	return result, nil
}

// RecordConfig stores the index configuration hash for later checks.
func (s *SQLStore) RecordConfig(ctx context.Context, cfg *config.Config) error {
	return s.setSetting(ctx, keyConfigHash, ComputeConfigHash(cfg))
}

func (s *SQLStore) getSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, s.rebind("SELECT value FROM settings WHERE key = ?"), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading setting %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLStore) setSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`), key, value)
	if err != nil {
		return fmt.Errorf("writing setting %s: %w", key, err)
	}
	return nil
}
