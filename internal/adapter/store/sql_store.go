package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "modernc.org/sqlite"             // registers the "sqlite" driver

	"ragweb/internal/domain"
	"ragweb/internal/port"
)

// sqlitePragmas are applied to every pooled connection. foreign_keys is
// per-connection in SQLite, so it cannot be set once after Open.
const sqlitePragmas = "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_time_format=sqlite"

// idBatchSize bounds the number of bind parameters in one IN list.
const idBatchSize = 500

type dialect struct {
	name       string
	driver     string
	dollarArgs bool
}

var (
	dialectSQLite   = dialect{name: "sqlite", driver: "sqlite"}
	dialectPostgres = dialect{name: "postgres", driver: "pgx", dollarArgs: true}
)

// SQLStore is the relational metadata store. It runs on SQLite (default)
// or Postgres; queries are written with ? placeholders and rebound.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

var _ port.MetadataStore = (*SQLStore)(nil)

// Open connects to the metadata database and applies pending migrations.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	var d dialect
	switch driver {
	case "sqlite", "":
		d = dialectSQLite
		dsn = sqliteDSN(dsn)
	case "postgres":
		d = dialectPostgres
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &SQLStore{
		db:      db,
		dialect: d,
		now:     func() time.Time { return time.Now().UTC() },
	}

	if _, err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&" + sqlitePragmas
	}
	return dsn + "?" + sqlitePragmas
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver returns the dialect name, "sqlite" or "postgres".
func (s *SQLStore) Driver() string {
	return s.dialect.name
}

// rebind converts ? placeholders to $n for Postgres.
func (s *SQLStore) rebind(query string) string {
	if !s.dialect.dollarArgs {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ==================== Ingestions ====================

const ingestionColumns = "id, url, status, title, error_message, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIngestion(row rowScanner) (*domain.Ingestion, error) {
	var (
		ing          domain.Ingestion
		status       string
		title, errMs sql.NullString
	)
	if err := row.Scan(&ing.ID, &ing.URL, &status, &title, &errMs, &ing.CreatedAt, &ing.UpdatedAt); err != nil {
		return nil, err
	}
	st, err := domain.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	ing.Status = st
	ing.Title = title.String
	ing.ErrorMessage = errMs.String
	return &ing, nil
}

// CreateIngestion inserts a pending ingestion for url.
func (s *SQLStore) CreateIngestion(ctx context.Context, url string) (*domain.Ingestion, error) {
	now := s.now()
	ing := &domain.Ingestion{
		ID:        uuid.NewString(),
		URL:       url,
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO ingestions (id, url, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`), ing.ID, ing.URL, string(ing.Status), ing.CreatedAt, ing.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting ingestion: %w", err)
	}
	return ing, nil
}

// GetIngestion returns the ingestion with id or domain.ErrNotFound.
func (s *SQLStore) GetIngestion(ctx context.Context, id string) (*domain.Ingestion, error) {
	row := s.db.QueryRowContext(ctx, s.rebind("SELECT "+ingestionColumns+" FROM ingestions WHERE id = ?"), id)
	ing, err := scanIngestion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ingestion %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting ingestion: %w", err)
	}
	return ing, nil
}

// ListIngestions returns the newest ingestions, optionally filtered by
// status. An empty status lists all; a non-positive limit defaults to 100.
func (s *SQLStore) ListIngestions(ctx context.Context, status domain.Status, limit int) ([]domain.Ingestion, error) {
	if limit <= 0 {
		limit = 100
	}

	query := "SELECT " + ingestionColumns + " FROM ingestions"
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC, id LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("listing ingestions: %w", err)
	}
	defer rows.Close()

	var out []domain.Ingestion
	for rows.Next() {
		ing, err := scanIngestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning ingestion: %w", err)
		}
		out = append(out, *ing)
	}
	return out, rows.Err()
}

// Transition moves an ingestion to status in one guarded UPDATE. The WHERE
// clause only matches legal predecessor states, so concurrent workers cannot
// both claim a job and terminal states cannot be left.
func (s *SQLStore) Transition(ctx context.Context, id string, to domain.Status, errorMessage string) error {
	preds := to.Predecessors()
	if len(preds) == 0 {
		return fmt.Errorf("%w: nothing transitions to %s", domain.ErrInvalidTransition, to)
	}

	args := []any{string(to), errorMessage, s.now(), id}
	placeholders := make([]string, len(preds))
	for i, p := range preds {
		placeholders[i] = "?"
		args = append(args, string(p))
	}

	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE ingestions
		SET status = ?, error_message = NULLIF(?, ''), updated_at = ?
		WHERE id = ? AND status IN (`+strings.Join(placeholders, ", ")+`)
	`), args...)
	if err != nil {
		return fmt.Errorf("updating ingestion status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating ingestion status: %w", err)
	}
	if n == 1 {
		return nil
	}

	current, err := s.GetIngestion(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.Status, to)
}

// SetTitle records the extracted page title.
func (s *SQLStore) SetTitle(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		"UPDATE ingestions SET title = ?, updated_at = ? WHERE id = ?",
	), title, s.now(), id)
	if err != nil {
		return fmt.Errorf("updating ingestion title: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("ingestion %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// DeleteIngestion removes an ingestion and, by cascade, its chunks. The
// vectors they referenced stay in the index as orphans.
func (s *SQLStore) DeleteIngestion(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM ingestions WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("deleting ingestion: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("ingestion %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ==================== Chunks ====================

// InsertChunks writes every chunk in a single transaction. Any constraint
// violation rolls back the whole batch.
func (s *SQLStore) InsertChunks(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	now := s.now()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.rebind(`
			INSERT INTO chunks (id, ingestion_id, url, chunk_index, token_count, text, vector_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`))
		if err != nil {
			return fmt.Errorf("preparing chunk insert: %w", err)
		}
		defer stmt.Close()

		for _, c := range chunks {
			id := c.ID
			if id == "" {
				id = uuid.NewString()
			}
			created := c.CreatedAt
			if created.IsZero() {
				created = now
			}
			_, err := stmt.ExecContext(ctx, id, c.IngestionID, c.URL, c.ChunkIndex, c.TokenCount, c.Text, c.VectorID, created)
			if err != nil {
				return fmt.Errorf("inserting chunk %d: %w", c.ChunkIndex, err)
			}
		}
		return nil
	})
}

// ChunksByVectorIDs looks chunks up by vector id membership. The result is
// unordered and silently omits ids with no chunk.
func (s *SQLStore) ChunksByVectorIDs(ctx context.Context, ids []int64) ([]domain.Chunk, error) {
	var out []domain.Chunk
	for start := 0; start < len(ids); start += idBatchSize {
		end := start + idBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch, err := s.chunksByVectorIDs(ctx, ids[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (s *SQLStore) chunksByVectorIDs(ctx context.Context, ids []int64) ([]domain.Chunk, error) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, ingestion_id, url, chunk_index, token_count, text, vector_id, created_at
		FROM chunks
		WHERE vector_id IN (`+strings.Join(placeholders, ", ")+`)
	`), args...)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var out []domain.Chunk
	for rows.Next() {
		var c domain.Chunk
		if err := rows.Scan(&c.ID, &c.IngestionID, &c.URL, &c.ChunkIndex, &c.TokenCount, &c.Text, &c.VectorID, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountChunks returns the number of chunks owned by an ingestion.
func (s *SQLStore) CountChunks(ctx context.Context, ingestionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind("SELECT COUNT(*) FROM chunks WHERE ingestion_id = ?"), ingestionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return n, nil
}

// Stats counts ingestions by status and chunks overall. MaxVector is -1
// when no chunk exists.
func (s *SQLStore) Stats(ctx context.Context) (*domain.MetadataStats, error) {
	st := &domain.MetadataStats{Ingestions: make(map[domain.Status]int), MaxVector: -1}

	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM ingestions GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("counting ingestions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		st.Ingestions[domain.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var maxVector sql.NullInt64
	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*), MAX(vector_id) FROM chunks").Scan(&st.Chunks, &maxVector)
	if err != nil {
		return nil, fmt.Errorf("counting chunks: %w", err)
	}
	if maxVector.Valid {
		st.MaxVector = maxVector.Int64
	}
	return st, nil
}
