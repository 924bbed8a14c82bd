package store

// schemaVersion is the current repository schema version, per spec.md
// §4.2's "schema-version row". migrate (sqlite.go) creates any missing
// table and records this version when a lower one (or none) is stored; it
// does not rewrite tables that already exist, so a store created without
// the natural-key UNIQUE constraints below does not gain them.
const schemaVersion = 1

const createTablesSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL,
	applied_at TEXT NOT NULL,
	description TEXT
);

CREATE TABLE IF NOT EXISTS content_items (
	id TEXT NOT NULL,
	content_type TEXT NOT NULL,
	name TEXT,
	owner_id TEXT,
	folder_id TEXT,
	parent_id TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	deleted INTEGER NOT NULL DEFAULT 0,
	content_data BLOB,
	content_size INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (content_type, id)
);
CREATE INDEX IF NOT EXISTS idx_content_items_folder ON content_items(content_type, folder_id);

CREATE TABLE IF NOT EXISTS extraction_sessions (
	id TEXT PRIMARY KEY,
	started_at TEXT NOT NULL,
	completed_at TEXT,
	status TEXT NOT NULL,
	total_items INTEGER NOT NULL DEFAULT 0,
	success_count INTEGER NOT NULL DEFAULT 0,
	error_count INTEGER NOT NULL DEFAULT 0,
	config TEXT,
	metadata TEXT
);

CREATE TABLE IF NOT EXISTS restoration_sessions (
	id TEXT PRIMARY KEY,
	started_at TEXT NOT NULL,
	completed_at TEXT,
	status TEXT NOT NULL,
	total_items INTEGER NOT NULL DEFAULT 0,
	success_count INTEGER NOT NULL DEFAULT 0,
	error_count INTEGER NOT NULL DEFAULT 0,
	source_instance TEXT,
	destination_instance TEXT,
	config TEXT,
	metadata TEXT
);

CREATE TABLE IF NOT EXISTS sync_checkpoints (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	content_type TEXT NOT NULL,
	checkpoint_data TEXT NOT NULL,
	started_at TEXT NOT NULL,
	completed_at TEXT,
	item_count INTEGER NOT NULL DEFAULT 0,
	error_count INTEGER NOT NULL DEFAULT 0,
	UNIQUE(session_id, content_type)
);
CREATE INDEX IF NOT EXISTS idx_sync_checkpoints_session ON sync_checkpoints(session_id);

CREATE TABLE IF NOT EXISTS restoration_checkpoints (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	content_type TEXT NOT NULL,
	checkpoint_data TEXT NOT NULL,
	started_at TEXT NOT NULL,
	completed_at TEXT,
	item_count INTEGER NOT NULL DEFAULT 0,
	error_count INTEGER NOT NULL DEFAULT 0,
	UNIQUE(session_id, content_type)
);
CREATE INDEX IF NOT EXISTS idx_restoration_checkpoints_session ON restoration_checkpoints(session_id);

CREATE TABLE IF NOT EXISTS id_mappings (
	source_instance TEXT NOT NULL,
	content_type TEXT NOT NULL,
	source_id TEXT NOT NULL,
	destination_id TEXT NOT NULL,
	created_at TEXT NOT NULL,
	session_id TEXT,
	PRIMARY KEY (source_instance, content_type, source_id)
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	content_id TEXT NOT NULL,
	content_type TEXT NOT NULL,
	content_data BLOB,
	error_message TEXT,
	error_type TEXT,
	stack_trace TEXT,
	retry_count INTEGER NOT NULL DEFAULT 0,
	failed_at TEXT NOT NULL,
	metadata TEXT,
	UNIQUE(session_id, content_id, content_type, retry_count)
);
CREATE INDEX IF NOT EXISTS idx_dlq_failed_at ON dead_letter_queue(failed_at DESC);
CREATE INDEX IF NOT EXISTS idx_dlq_session ON dead_letter_queue(session_id);
`
