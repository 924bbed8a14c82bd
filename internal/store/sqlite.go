package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver
	log "github.com/sirupsen/logrus"

	"github.com/z3z1ma/lookervault/internal/content"
	"github.com/z3z1ma/lookervault/internal/errkind"
)

// sqliteOpenMu serializes sql.Open/Ping for newly-created SQLite files: the
// driver is fickle about racing opens of a brand-new database, often
// returning "database is locked". Grounded on the same guard in the
// teacher's go/materialize/driver/sqlite/sqlite.go.
var sqliteOpenMu sync.Mutex

// RetryConfig governs the "database busy" backoff described in spec.md §4.2.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func defaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 6, BaseDelay: 10 * time.Millisecond, MaxDelay: 500 * time.Millisecond}
}

// SQLiteStore implements Store against an embedded SQLite database, per
// spec.md §4.2/§6.
type SQLiteStore struct {
	db     *sql.DB
	retry  RetryConfig
	logger *log.Entry
}

// Open opens (and, if needed, creates and migrates) a SQLite-backed
// repository at path. path may be ":memory:" for tests.
func Open(ctx context.Context, path string, logger *log.Entry) (*SQLiteStore, error) {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}

	// _txlock=immediate makes every BeginTx issue BEGIN IMMEDIATE, so
	// withWriteTx takes the write lock up front.
	dsn := path + "?_txlock=immediate"
	if strings.Contains(path, "?") {
		dsn = path + "&_txlock=immediate"
	}

	sqliteOpenMu.Lock()
	db, err := sql.Open("sqlite3", dsn)
	if err == nil {
		err = db.PingContext(ctx)
	}
	sqliteOpenMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database %q: %w", path, err)
	}

	// One writer at a time avoids most "database is locked" churn outright;
	// the retry wrapper below handles what's left, per spec.md §4.2/§5's
	// locking discipline.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, retry: defaultRetryConfig(), logger: logger}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	// schema_version may not exist yet (fresh database) or may be empty
	// (first run of migrate on an existing 0-row table); both read as
	// current=0, which is what createTablesSQL's "IF NOT EXISTS" plus the
	// INSERT below expect.
	var current int
	row := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version ORDER BY version DESC LIMIT 1")
	_ = row.Scan(&current)

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "PRAGMA foreign_keys=OFF;"); err != nil {
		return fmt.Errorf("disabling foreign keys for migration: %w", err)
	}
	if _, err := tx.ExecContext(ctx, createTablesSQL); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	if current < schemaVersion {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_version (version, applied_at, description) VALUES (?, ?, ?)",
			schemaVersion, nowUTC().Format(time.RFC3339), "add natural-key unique constraints for upsert semantics",
		); err != nil {
			return fmt.Errorf("recording schema version: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, "PRAGMA foreign_keys=ON;"); err != nil {
		return fmt.Errorf("re-enabling foreign keys after migration: %w", err)
	}
	return tx.Commit()
}

// withWriteTx runs fn inside an immediate-mode transaction (spec.md §4.2/§5:
// the write lock is acquired up front, never mid-statement), retrying on a
// "database is locked"/"database is busy" signal with exponential backoff
// and jitter up to s.retry.MaxAttempts.
func (s *SQLiteStore) withWriteTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < s.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffWithJitter(s.retry.BaseDelay, s.retry.MaxDelay, attempt)
			select {
			case <-ctx.Done():
				return errkind.New(errkind.Cancelled, "withWriteTx", ctx.Err())
			case <-time.After(delay):
			}
		}

		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
		if err != nil {
			if isBusy(err) {
				lastErr = err
				continue
			}
			return errkind.New(errkind.Storage, "begin transaction", err)
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			if isBusy(err) {
				lastErr = err
				continue
			}
			return err
		}

		if err := tx.Commit(); err != nil {
			if isBusy(err) {
				lastErr = err
				continue
			}
			return errkind.New(errkind.Storage, "commit transaction", err)
		}
		return nil
	}
	return errkind.New(errkind.Transient, "withWriteTx", fmt.Errorf("storage busy after %d attempts: %w", s.retry.MaxAttempts, lastErr))
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database is busy") || strings.Contains(msg, "SQLITE_BUSY")
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	d := base << uint(attempt-1)
	if d > max || d <= 0 {
		d = max
	}
	jitter := time.Duration(rand.Int63n(int64(d) + 1))
	return d/2 + jitter/2
}

// ---- content_items ----

func (s *SQLiteStore) SaveContent(ctx context.Context, item content.Item) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		return execSaveContent(ctx, tx, item)
	})
}

// SaveContentBatch upserts every item in one transaction; callers (the
// pack engine) are responsible for chunking into ≤100-item batches per
// spec.md §4.6 step 5.
func (s *SQLiteStore) SaveContentBatch(ctx context.Context, items []content.Item) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		for _, item := range items {
			if err := execSaveContent(ctx, tx, item); err != nil {
				return err
			}
		}
		return nil
	})
}

func execSaveContent(ctx context.Context, tx *sql.Tx, item content.Item) error {
	now := nowUTC()
	createdAt := item.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO content_items (id, content_type, name, owner_id, folder_id, parent_id, created_at, updated_at, deleted, content_data, content_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_type, id) DO UPDATE SET
			name=excluded.name,
			owner_id=excluded.owner_id,
			folder_id=excluded.folder_id,
			parent_id=excluded.parent_id,
			updated_at=excluded.updated_at,
			deleted=excluded.deleted,
			content_data=excluded.content_data,
			content_size=excluded.content_size
		WHERE content_items.name IS NOT excluded.name
			OR content_items.owner_id IS NOT excluded.owner_id
			OR content_items.folder_id IS NOT excluded.folder_id
			OR content_items.parent_id IS NOT excluded.parent_id
			OR content_items.deleted IS NOT excluded.deleted
			OR content_items.content_data IS NOT excluded.content_data
			OR content_items.content_size IS NOT excluded.content_size
	`, item.ID, item.ContentType.String(), item.Name, item.OwnerID, item.FolderID, item.ParentID,
		createdAt.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), boolToInt(item.Deleted), item.ContentData, item.ContentSize)
	if err != nil {
		return errkind.New(errkind.Storage, "SaveContent", err)
	}
	return nil
}

func (s *SQLiteStore) GetContent(ctx context.Context, ct content.Type, id string) (content.Item, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, content_type, name, owner_id, folder_id, parent_id, created_at, updated_at, deleted, content_data, content_size
		FROM content_items WHERE content_type = ? AND id = ?
	`, ct.String(), id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return content.Item{}, false, nil
	}
	if err != nil {
		return content.Item{}, false, errkind.New(errkind.Storage, "GetContent", err)
	}
	return item, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (content.Item, error) {
	var it content.Item
	var ctName, createdAt, updatedAt string
	var deleted int
	if err := row.Scan(&it.ID, &ctName, &it.Name, &it.OwnerID, &it.FolderID, &it.ParentID,
		&createdAt, &updatedAt, &deleted, &it.ContentData, &it.ContentSize); err != nil {
		return content.Item{}, err
	}
	ct, _ := content.ParseType(ctName)
	it.ContentType = ct
	it.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	it.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	it.Deleted = deleted != 0
	return it, nil
}

func (s *SQLiteStore) ListContent(ctx context.Context, ct content.Type, filter ListFilter) ([]content.Item, error) {
	q := strings.Builder{}
	q.WriteString(`SELECT id, content_type, name, owner_id, folder_id, parent_id, created_at, updated_at, deleted, content_data, content_size FROM content_items WHERE content_type = ?`)
	args := []any{ct.String()}
	if !filter.IncludeDeleted {
		q.WriteString(" AND deleted = 0")
	}
	if len(filter.FolderIDs) > 0 {
		q.WriteString(" AND folder_id IN (" + placeholders(len(filter.FolderIDs)) + ")")
		for _, f := range filter.FolderIDs {
			args = append(args, f)
		}
	}
	q.WriteString(" ORDER BY id ASC")
	if filter.Limit > 0 {
		q.WriteString(" LIMIT " + strconv.Itoa(filter.Limit))
		if filter.Offset > 0 {
			q.WriteString(" OFFSET " + strconv.Itoa(filter.Offset))
		}
	}

	rows, err := s.db.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, errkind.New(errkind.Storage, "ListContent", err)
	}
	defer rows.Close()

	var out []content.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, errkind.New(errkind.Storage, "ListContent scan", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CountContent(ctx context.Context, ct content.Type, filter ListFilter) (int, error) {
	q := strings.Builder{}
	q.WriteString(`SELECT COUNT(*) FROM content_items WHERE content_type = ?`)
	args := []any{ct.String()}
	if !filter.IncludeDeleted {
		q.WriteString(" AND deleted = 0")
	}
	if len(filter.FolderIDs) > 0 {
		q.WriteString(" AND folder_id IN (" + placeholders(len(filter.FolderIDs)) + ")")
		for _, f := range filter.FolderIDs {
			args = append(args, f)
		}
	}
	var n int
	if err := s.db.QueryRowContext(ctx, q.String(), args...).Scan(&n); err != nil {
		return 0, errkind.New(errkind.Storage, "CountContent", err)
	}
	return n, nil
}

func (s *SQLiteStore) DeleteContentNotIn(ctx context.Context, ct content.Type, keep []string) (int, error) {
	var affected int
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		q := `UPDATE content_items SET deleted = 1, updated_at = ? WHERE content_type = ? AND deleted = 0`
		args := []any{nowUTC().Format(time.RFC3339Nano), ct.String()}
		if len(keep) > 0 {
			q += " AND id NOT IN (" + placeholders(len(keep)) + ")"
			for _, id := range keep {
				args = append(args, id)
			}
		}
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return errkind.New(errkind.Storage, "DeleteContentNotIn", err)
		}
		n, _ := res.RowsAffected()
		affected = int(n)
		return nil
	})
	return affected, err
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ---- sessions ----

func (s *SQLiteStore) CreateExtractionSession(ctx context.Context, sess content.ExtractionSession) error {
	return s.upsertExtractionSession(ctx, sess)
}
func (s *SQLiteStore) UpdateExtractionSession(ctx context.Context, sess content.ExtractionSession) error {
	return s.upsertExtractionSession(ctx, sess)
}

func (s *SQLiteStore) upsertExtractionSession(ctx context.Context, sess content.ExtractionSession) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		startedAt := sess.StartedAt
		if startedAt.IsZero() {
			startedAt = nowUTC()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO extraction_sessions (id, started_at, completed_at, status, total_items, success_count, error_count, config, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				completed_at=excluded.completed_at,
				status=excluded.status,
				total_items=excluded.total_items,
				success_count=excluded.success_count,
				error_count=excluded.error_count,
				config=excluded.config,
				metadata=excluded.metadata
		`, sess.ID, startedAt.Format(time.RFC3339Nano), formatNullableTime(sess.CompletedAt), string(sess.Status),
			sess.TotalItems, sess.SuccessCount, sess.ErrorCount, string(sess.Config), string(sess.Metadata))
		if err != nil {
			return errkind.New(errkind.Storage, "upsertExtractionSession", err)
		}
		return nil
	})
}

func (s *SQLiteStore) GetExtractionSession(ctx context.Context, id string) (content.ExtractionSession, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, completed_at, status, total_items, success_count, error_count, config, metadata
		FROM extraction_sessions WHERE id = ?
	`, id)
	var sess content.ExtractionSession
	var startedAt string
	var completedAt sql.NullString
	var cfg, meta sql.NullString
	var status string
	if err := row.Scan(&sess.ID, &startedAt, &completedAt, &status, &sess.TotalItems, &sess.SuccessCount, &sess.ErrorCount, &cfg, &meta); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return content.ExtractionSession{}, false, nil
		}
		return content.ExtractionSession{}, false, errkind.New(errkind.Storage, "GetExtractionSession", err)
	}
	sess.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	sess.CompletedAt = parseNullableTime(completedAt)
	sess.Status = content.SessionStatus(status)
	sess.Config = []byte(cfg.String)
	sess.Metadata = []byte(meta.String)
	return sess, true, nil
}

func (s *SQLiteStore) CreateRestorationSession(ctx context.Context, sess content.RestorationSession) error {
	return s.upsertRestorationSession(ctx, sess)
}
func (s *SQLiteStore) UpdateRestorationSession(ctx context.Context, sess content.RestorationSession) error {
	return s.upsertRestorationSession(ctx, sess)
}

func (s *SQLiteStore) upsertRestorationSession(ctx context.Context, sess content.RestorationSession) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		startedAt := sess.StartedAt
		if startedAt.IsZero() {
			startedAt = nowUTC()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO restoration_sessions (id, started_at, completed_at, status, total_items, success_count, error_count, source_instance, destination_instance, config, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				completed_at=excluded.completed_at,
				status=excluded.status,
				total_items=excluded.total_items,
				success_count=excluded.success_count,
				error_count=excluded.error_count,
				source_instance=excluded.source_instance,
				destination_instance=excluded.destination_instance,
				config=excluded.config,
				metadata=excluded.metadata
		`, sess.ID, startedAt.Format(time.RFC3339Nano), formatNullableTime(sess.CompletedAt), string(sess.Status),
			sess.TotalItems, sess.SuccessCount, sess.ErrorCount, sess.SourceInstance, sess.DestinationInstance,
			string(sess.Config), string(sess.Metadata))
		if err != nil {
			return errkind.New(errkind.Storage, "upsertRestorationSession", err)
		}
		return nil
	})
}

func (s *SQLiteStore) GetRestorationSession(ctx context.Context, id string) (content.RestorationSession, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, completed_at, status, total_items, success_count, error_count, source_instance, destination_instance, config, metadata
		FROM restoration_sessions WHERE id = ?
	`, id)
	var sess content.RestorationSession
	var startedAt string
	var completedAt, cfg, meta sql.NullString
	var status string
	if err := row.Scan(&sess.ID, &startedAt, &completedAt, &status, &sess.TotalItems, &sess.SuccessCount, &sess.ErrorCount,
		&sess.SourceInstance, &sess.DestinationInstance, &cfg, &meta); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return content.RestorationSession{}, false, nil
		}
		return content.RestorationSession{}, false, errkind.New(errkind.Storage, "GetRestorationSession", err)
	}
	sess.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	sess.CompletedAt = parseNullableTime(completedAt)
	sess.Status = content.SessionStatus(status)
	sess.Config = []byte(cfg.String)
	sess.Metadata = []byte(meta.String)
	return sess, true, nil
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func parseNullableTime(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil
	}
	return &t
}

// ---- checkpoints ----

func checkpointTable(kind SessionKind) string {
	if kind == KindRestoration {
		return "restoration_checkpoints"
	}
	return "sync_checkpoints"
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, kind SessionKind, cp content.Checkpoint) error {
	table := checkpointTable(kind)
	data, err := json.Marshal(cp.Data)
	if err != nil {
		return errkind.New(errkind.Validation, "marshal checkpoint data", err)
	}
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		startedAt := cp.StartedAt
		if startedAt.IsZero() {
			startedAt = nowUTC()
		}
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (session_id, content_type, checkpoint_data, started_at, completed_at, item_count, error_count)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_id, content_type) DO UPDATE SET
				checkpoint_data=excluded.checkpoint_data,
				completed_at=excluded.completed_at,
				item_count=excluded.item_count,
				error_count=excluded.error_count
		`, table), cp.SessionID, cp.ContentType.String(), string(data), startedAt.Format(time.RFC3339Nano),
			formatNullableTime(cp.CompletedAt), cp.ItemCount, cp.ErrorCount)
		if err != nil {
			return errkind.New(errkind.Storage, "SaveCheckpoint", err)
		}
		return nil
	})
}

func (s *SQLiteStore) GetLatestCheckpoint(ctx context.Context, kind SessionKind, ct content.Type, sessionID string) (content.Checkpoint, bool, error) {
	table := checkpointTable(kind)
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, session_id, content_type, checkpoint_data, started_at, completed_at, item_count, error_count
		FROM %s WHERE content_type = ? AND session_id = ?
		ORDER BY started_at DESC LIMIT 1
	`, table), ct.String(), sessionID)

	var cp content.Checkpoint
	var ctName, dataStr, startedAt string
	var completedAt sql.NullString
	if err := row.Scan(&cp.ID, &cp.SessionID, &ctName, &dataStr, &startedAt, &completedAt, &cp.ItemCount, &cp.ErrorCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return content.Checkpoint{}, false, nil
		}
		return content.Checkpoint{}, false, errkind.New(errkind.Storage, "GetLatestCheckpoint", err)
	}
	cp.ContentType, _ = content.ParseType(ctName)
	cp.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	cp.CompletedAt = parseNullableTime(completedAt)
	if err := json.Unmarshal([]byte(dataStr), &cp.Data); err != nil {
		return content.Checkpoint{}, false, errkind.New(errkind.Storage, "unmarshal checkpoint data", err)
	}
	return cp, true, nil
}

// ---- id_mappings ----

func (s *SQLiteStore) SaveIDMapping(ctx context.Context, m content.IDMapping) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		createdAt := m.CreatedAt
		if createdAt.IsZero() {
			createdAt = nowUTC()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO id_mappings (source_instance, content_type, source_id, destination_id, created_at, session_id)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(source_instance, content_type, source_id) DO UPDATE SET
				destination_id=excluded.destination_id,
				session_id=excluded.session_id
		`, m.SourceInstance, m.ContentType.String(), m.SourceID, m.DestinationID, createdAt.Format(time.RFC3339Nano), m.SessionID)
		if err != nil {
			return errkind.New(errkind.Storage, "SaveIDMapping", err)
		}
		return nil
	})
}

func (s *SQLiteStore) GetDestinationID(ctx context.Context, sourceInstance string, ct content.Type, sourceID string) (string, bool, error) {
	var destID string
	err := s.db.QueryRowContext(ctx, `
		SELECT destination_id FROM id_mappings WHERE source_instance = ? AND content_type = ? AND source_id = ?
	`, sourceInstance, ct.String(), sourceID).Scan(&destID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errkind.New(errkind.Storage, "GetDestinationID", err)
	}
	return destID, true, nil
}

// ---- dead_letter_queue ----

func (s *SQLiteStore) SaveDLQItem(ctx context.Context, d content.DeadLetterItem) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		failedAt := d.FailedAt
		if failedAt.IsZero() {
			failedAt = nowUTC()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO dead_letter_queue (session_id, content_id, content_type, content_data, error_message, error_type, stack_trace, retry_count, failed_at, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_id, content_id, content_type, retry_count) DO UPDATE SET
				content_data=excluded.content_data,
				error_message=excluded.error_message,
				error_type=excluded.error_type,
				stack_trace=excluded.stack_trace,
				failed_at=excluded.failed_at,
				metadata=excluded.metadata
		`, d.SessionID, d.ContentID, d.ContentType.String(), d.ContentData, d.ErrorMessage, d.ErrorType, d.StackTrace,
			d.RetryCount, failedAt.Format(time.RFC3339Nano), string(d.Metadata))
		if err != nil {
			return errkind.New(errkind.Storage, "SaveDLQItem", err)
		}
		return nil
	})
}

func (s *SQLiteStore) ListDLQ(ctx context.Context, sessionID string, ct *content.Type) ([]content.DeadLetterItem, error) {
	q := `SELECT id, session_id, content_id, content_type, content_data, error_message, error_type, stack_trace, retry_count, failed_at, metadata
		FROM dead_letter_queue WHERE session_id = ?`
	args := []any{sessionID}
	if ct != nil {
		q += " AND content_type = ?"
		args = append(args, ct.String())
	}
	q += " ORDER BY failed_at DESC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errkind.New(errkind.Storage, "ListDLQ", err)
	}
	defer rows.Close()

	var out []content.DeadLetterItem
	for rows.Next() {
		var d content.DeadLetterItem
		var ctName, failedAt string
		var stack, meta sql.NullString
		if err := rows.Scan(&d.ID, &d.SessionID, &d.ContentID, &ctName, &d.ContentData, &d.ErrorMessage, &d.ErrorType,
			&stack, &d.RetryCount, &failedAt, &meta); err != nil {
			return nil, errkind.New(errkind.Storage, "ListDLQ scan", err)
		}
		d.ContentType, _ = content.ParseType(ctName)
		d.FailedAt, _ = time.Parse(time.RFC3339Nano, failedAt)
		d.StackTrace = stack.String
		d.Metadata = []byte(meta.String)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteDLQItem(ctx context.Context, id int64) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM dead_letter_queue WHERE id = ?`, id)
		if err != nil {
			return errkind.New(errkind.Storage, "DeleteDLQItem", err)
		}
		return nil
	})
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, kind SessionKind, sessionID string) error {
	table := checkpointTable(kind)
	sessTable := "extraction_sessions"
	if kind == KindRestoration {
		sessTable = "restoration_sessions"
	}
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM dead_letter_queue WHERE session_id = ?`, sessionID); err != nil {
			return errkind.New(errkind.Storage, "DeleteSession dlq", err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE session_id = ?`, table), sessionID); err != nil {
			return errkind.New(errkind.Storage, "DeleteSession checkpoints", err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, sessTable), sessionID); err != nil {
			return errkind.New(errkind.Storage, "DeleteSession session row", err)
		}
		return nil
	})
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
