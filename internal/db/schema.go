package db

// SchemaVersion is the current database schema version
const SchemaVersion = 2

const schema = `
-- Cached checklist definitions
CREATE TABLE IF NOT EXISTS checklists (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    server_id INTEGER,
    title TEXT NOT NULL DEFAULT '',
    fields TEXT NOT NULL DEFAULT '[]',
    sync_status TEXT NOT NULL DEFAULT 'local_only',
    last_modified INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);

-- Answer sets, one or more per checklist
CREATE TABLE IF NOT EXISTS form_responses (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    checklist_id INTEGER NOT NULL,
    server_checklist_id INTEGER,
    server_response_id INTEGER,
    form_server_id INTEGER,
    form_values TEXT NOT NULL DEFAULT '{}',
    is_complete INTEGER NOT NULL DEFAULT 0,
    sync_status TEXT NOT NULL DEFAULT 'local_only',
    last_modified INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (checklist_id) REFERENCES checklists(id)
);

-- Per-field answers still waiting for the server
CREATE TABLE IF NOT EXISTS field_responses (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    response_id INTEGER NOT NULL,
    field_id INTEGER NOT NULL,
    server_field_id INTEGER,
    server_response_id INTEGER,
    value TEXT NOT NULL,
    sync_status TEXT NOT NULL DEFAULT 'local_only',
    last_modified INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    UNIQUE (response_id, field_id),
    FOREIGN KEY (response_id) REFERENCES form_responses(id)
);

-- Deferred remote operations
CREATE TABLE IF NOT EXISTS sync_queue (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    type TEXT NOT NULL,
    payload TEXT NOT NULL,
    request_key TEXT NOT NULL DEFAULT '',
    retry_count INTEGER NOT NULL DEFAULT 0,
    max_retries INTEGER NOT NULL DEFAULT 3,
    priority INTEGER NOT NULL DEFAULT 10,
    status TEXT NOT NULL DEFAULT 'pending',
    last_error TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    last_attempt INTEGER
);

-- Binary uploads
CREATE TABLE IF NOT EXISTS file_queue (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    field_response_id INTEGER NOT NULL,
    response_id INTEGER NOT NULL,
    field_id INTEGER NOT NULL,
    file_name TEXT NOT NULL DEFAULT '',
    mime_type TEXT NOT NULL DEFAULT '',
    data BLOB,
    status TEXT NOT NULL DEFAULT 'pending',
    retry_count INTEGER NOT NULL DEFAULT 0,
    max_retries INTEGER NOT NULL DEFAULT 3,
    last_error TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    last_attempt INTEGER
);

CREATE INDEX IF NOT EXISTS idx_checklists_server_id ON checklists(server_id);
CREATE INDEX IF NOT EXISTS idx_checklists_sync_status ON checklists(sync_status);
CREATE INDEX IF NOT EXISTS idx_form_responses_checklist ON form_responses(checklist_id);
CREATE INDEX IF NOT EXISTS idx_form_responses_server_response ON form_responses(server_response_id);
CREATE INDEX IF NOT EXISTS idx_form_responses_sync_status ON form_responses(sync_status);
CREATE INDEX IF NOT EXISTS idx_field_responses_response ON field_responses(response_id);
CREATE INDEX IF NOT EXISTS idx_field_responses_field ON field_responses(field_id);
CREATE INDEX IF NOT EXISTS idx_field_responses_sync_status ON field_responses(sync_status);
CREATE INDEX IF NOT EXISTS idx_sync_queue_status_priority ON sync_queue(status, priority, id);
CREATE INDEX IF NOT EXISTS idx_file_queue_status ON file_queue(status);
CREATE INDEX IF NOT EXISTS idx_file_queue_field_response ON file_queue(field_response_id);
`

// Migration defines a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations is the list of all migrations in order
var Migrations = []Migration{
	{
		Version:     2,
		Description: "Add cached form definitions",
		SQL: `CREATE TABLE IF NOT EXISTS form_definitions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    server_id INTEGER NOT NULL UNIQUE,
    name TEXT NOT NULL DEFAULT '',
    fields TEXT NOT NULL DEFAULT '[]',
    last_modified INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);`,
	},
}
