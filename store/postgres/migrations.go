package postgres

// migrations holds the ordered DDL applied by Migrate. Each statement is
// idempotent so re-running a migration is safe.
var migrations = []struct {
	name string
	up   string
}{
	{
		name: "create_settle_sources",
		up: `
CREATE TABLE IF NOT EXISTS settle_sources (
    id         TEXT PRIMARY KEY,
    owner_id   TEXT NOT NULL,
    type       TEXT NOT NULL,
    name       TEXT NOT NULL DEFAULT '',
    currency   TEXT NOT NULL,
    balance    NUMERIC(30,8) NOT NULL DEFAULT 0,
    status     TEXT NOT NULL DEFAULT 'active',
    card       JSONB,
    wallet     JSONB,
    metadata   JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_settle_sources_owner ON settle_sources (owner_id, created_at);
`,
	},
	{
		name: "create_settle_obligations",
		up: `
CREATE TABLE IF NOT EXISTS settle_obligations (
    id          TEXT PRIMARY KEY,
    owner_id    TEXT NOT NULL,
    name        TEXT NOT NULL DEFAULT '',
    amount_due  NUMERIC(30,8) NOT NULL,
    currency    TEXT NOT NULL,
    due_date    TIMESTAMPTZ NOT NULL,
    source_id   TEXT NOT NULL DEFAULT '',
    source_type TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL DEFAULT 'pending',
    recurring   JSONB,
    payments    JSONB NOT NULL DEFAULT '[]',
    metadata    JSONB NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_settle_obls_owner ON settle_obligations (owner_id, created_at);
CREATE INDEX IF NOT EXISTS idx_settle_obls_autopay ON settle_obligations (due_date)
    WHERE status = 'pending' AND (recurring->>'autopay')::boolean;
`,
	},
	{
		name: "create_settle_transactions",
		up: `
CREATE TABLE IF NOT EXISTS settle_transactions (
    id               TEXT PRIMARY KEY,
    type             TEXT NOT NULL,
    amount           NUMERIC(30,8) NOT NULL,
    currency         TEXT NOT NULL,
    source_id        TEXT NOT NULL DEFAULT '',
    source_kind      TEXT NOT NULL,
    destination_id   TEXT NOT NULL DEFAULT '',
    destination_kind TEXT NOT NULL,
    status           TEXT NOT NULL,
    reference        TEXT NOT NULL,
    idempotency_key  TEXT NOT NULL DEFAULT '',
    description      TEXT NOT NULL DEFAULT '',
    metadata         JSONB NOT NULL DEFAULT '{}',
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_settle_txns_reference ON settle_transactions (reference);
CREATE UNIQUE INDEX IF NOT EXISTS idx_settle_txns_idem_key ON settle_transactions (idempotency_key)
    WHERE idempotency_key != '';
CREATE INDEX IF NOT EXISTS idx_settle_txns_source ON settle_transactions (source_id, created_at);
CREATE INDEX IF NOT EXISTS idx_settle_txns_destination ON settle_transactions (destination_id, created_at);
`,
	},
}

// Unique index names, matched against unique violation errors to pick the
// right sentinel.
const (
	idxUniqReference = "idx_settle_txns_reference"
	idxUniqIdemKey   = "idx_settle_txns_idem_key"
)
