// Package postgres provides a PostgreSQL implementation of the memory store.
package postgres

// Schema creates the entry table. Mirrors the SQLite layout: one row per
// conversational exchange, keyed by (session_id, seq), with the packed
// embedding in the same row so inserts are atomic across payload and vector.
const Schema = `
CREATE TABLE IF NOT EXISTS entries (
    session_id   TEXT NOT NULL,
    seq          BIGINT NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL,
    user_query   TEXT NOT NULL,
    sql_query    TEXT NOT NULL DEFAULT '',
    analysis     TEXT NOT NULL DEFAULT '',
    data_preview TEXT NOT NULL DEFAULT '',
    embedding    BYTEA NOT NULL,
    dimension    INTEGER NOT NULL,

    PRIMARY KEY (session_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_entries_session_created ON entries(session_id, created_at);
CREATE INDEX IF NOT EXISTS idx_entries_created ON entries(created_at DESC);
`

// MigrationPgvector adds a native vector column so similarity ranking can run
// server-side. Applied only when the vector extension is available; the BYTEA
// column stays authoritative so the store keeps working without it.
// Safe to run multiple times.
const MigrationPgvector = `
DO $$
BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns
        WHERE table_name = 'entries' AND column_name = 'embedding_vec'
    ) THEN
        ALTER TABLE entries ADD COLUMN embedding_vec vector;
    END IF;
END
$$;

-- ivfflat needs at least one row before the index is worth creating.
DO $$
BEGIN
  IF NOT EXISTS (
    SELECT 1 FROM pg_indexes WHERE indexname = 'idx_entries_vec_cosine'
  ) THEN
    IF EXISTS (SELECT 1 FROM entries LIMIT 1) THEN
      EXECUTE 'CREATE INDEX idx_entries_vec_cosine ON entries USING ivfflat (embedding_vec vector_cosine_ops) WITH (lists = 100)';
    END IF;
  END IF;
END$$;
`
