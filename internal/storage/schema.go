package storage

// Schema bootstrap is an ordered list of idempotent migrations, each gated
// by the recorded version in schema_version. A fresh store applies all of
// them inside one transaction; an existing store applies only those above
// its recorded version. Every statement tolerates re-application.

// migration is one structural revision of the store.
type migration struct {
	Version     int
	Description string
	Statements  []string
	// Tables introduced by this revision; validation checks them and
	// self-repair re-applies the owning migration when one goes missing.
	Tables []string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "baseline: sessions, messages, agent_memory, audit_log",
		Tables:      []string{"sessions", "messages", "agent_memory", "audit_log"},
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS sessions (
				id         TEXT PRIMARY KEY,
				purpose    TEXT NOT NULL,
				created_by TEXT NOT NULL,
				metadata   TEXT,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				active     INTEGER NOT NULL DEFAULT 1
			)`,
			`CREATE TABLE IF NOT EXISTS messages (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
				sender      TEXT NOT NULL,
				sender_type TEXT NOT NULL,
				content     TEXT NOT NULL,
				visibility  TEXT NOT NULL CHECK (visibility IN ('public','private','agent_only')),
				metadata    TEXT,
				parent_id   INTEGER REFERENCES messages(id) ON DELETE SET NULL,
				timestamp   DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_session_time
				ON messages(session_id, timestamp, id)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_session_sender
				ON messages(session_id, sender, visibility)`,
			`CREATE TABLE IF NOT EXISTS agent_memory (
				agent_id   TEXT NOT NULL,
				session_id TEXT REFERENCES sessions(id) ON DELETE CASCADE,
				key        TEXT NOT NULL,
				value      TEXT NOT NULL,
				metadata   TEXT,
				expires_at DATETIME,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			)`,
			// NULL session ids compare distinct under plain UNIQUE, so the
			// composite key goes through COALESCE.
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_memory_identity
				ON agent_memory(agent_id, COALESCE(session_id, ''), key)`,
			`CREATE INDEX IF NOT EXISTS idx_memory_expiry
				ON agent_memory(expires_at) WHERE expires_at IS NOT NULL`,
			`CREATE TABLE IF NOT EXISTS audit_log (
				id         TEXT PRIMARY KEY,
				event_type TEXT NOT NULL,
				agent_id   TEXT NOT NULL,
				session_id TEXT,
				metadata   TEXT,
				timestamp  DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_audit_time ON audit_log(timestamp)`,
			`CREATE INDEX IF NOT EXISTS idx_audit_agent ON audit_log(agent_id, timestamp)`,
			`CREATE TRIGGER IF NOT EXISTS trg_sessions_touch
				AFTER UPDATE ON sessions
				FOR EACH ROW WHEN NEW.updated_at = OLD.updated_at
			BEGIN
				UPDATE sessions SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
			END`,
			`CREATE TRIGGER IF NOT EXISTS trg_sessions_touch_on_message
				AFTER INSERT ON messages
			BEGIN
				UPDATE sessions SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.session_id;
			END`,
			`CREATE TRIGGER IF NOT EXISTS trg_memory_touch
				AFTER UPDATE ON agent_memory
				FOR EACH ROW WHEN NEW.updated_at = OLD.updated_at
			BEGIN
				UPDATE agent_memory SET updated_at = CURRENT_TIMESTAMP WHERE rowid = NEW.rowid;
			END`,
		},
	},
	{
		Version:     2,
		Description: "token-at-rest storage: secure_tokens",
		Tables:      []string{"secure_tokens"},
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS secure_tokens (
				token_id   TEXT PRIMARY KEY,
				agent_id   TEXT NOT NULL,
				payload    BLOB NOT NULL,
				expires_at DATETIME NOT NULL,
				created_at DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_secure_tokens_agent ON secure_tokens(agent_id)`,
			`CREATE INDEX IF NOT EXISTS idx_secure_tokens_expiry ON secure_tokens(expires_at)`,
		},
	},
}

// latestVersion is the highest migration this build knows about.
func latestVersion() int { return migrations[len(migrations)-1].Version }

// requiredTables returns every table the applied revisions expect,
// including the version-tracking table itself.
func requiredTables() []string {
	tables := []string{"schema_version"}
	for _, m := range migrations {
		tables = append(tables, m.Tables...)
	}
	return tables
}

// migrationOwning returns the migration that introduced the given table.
func migrationOwning(table string) (migration, bool) {
	for _, m := range migrations {
		for _, t := range m.Tables {
			if t == table {
				return m, true
			}
		}
	}
	return migration{}, false
}

const createVersionTable = `CREATE TABLE IF NOT EXISTS schema_version (
	version     INTEGER PRIMARY KEY,
	description TEXT NOT NULL,
	applied_at  DATETIME NOT NULL
)`
