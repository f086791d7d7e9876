package sqlite

// Schema creates the entry table. One row per conversational exchange,
// keyed by (session_id, seq). The embedding rides in the same row as a
// little-endian float64 BLOB so that an insert is atomic across payload and
// vector: there is no window where an entry is discoverable in one index
// view but not the other.
const Schema = `
CREATE TABLE IF NOT EXISTS entries (
	session_id   TEXT NOT NULL,
	seq          INTEGER NOT NULL,
	created_at   TIMESTAMP NOT NULL,
	user_query   TEXT NOT NULL,
	sql_query    TEXT NOT NULL DEFAULT '',
	analysis     TEXT NOT NULL DEFAULT '',
	data_preview TEXT NOT NULL DEFAULT '',
	embedding    BLOB NOT NULL,
	dimension    INTEGER NOT NULL,
	PRIMARY KEY (session_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_entries_session_created ON entries(session_id, created_at);
CREATE INDEX IF NOT EXISTS idx_entries_created ON entries(created_at DESC);
`
