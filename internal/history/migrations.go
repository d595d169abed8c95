package history

const schema = `
CREATE TABLE IF NOT EXISTS batch_runs (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    network TEXT,
    signer TEXT,
    started_at TIMESTAMP,
    finished_at TIMESTAMP,
    succeeded INTEGER DEFAULT 0,
    failed INTEGER DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_batch_runs_session ON batch_runs(session_id);

CREATE TABLE IF NOT EXISTS unit_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    batch_run_id TEXT NOT NULL REFERENCES batch_runs(id),
    unit_index INTEGER NOT NULL,
    name TEXT,
    status TEXT NOT NULL,
    attempts INTEGER DEFAULT 0,
    address TEXT,
    tx_hash TEXT,
    error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_unit_runs_batch ON unit_runs(batch_run_id);
`
