// Package repository stores transaction records.
//
// Postgres is the source of truth. The table is owned by the migration tooling
// and is expected to look like:
//
//	CREATE TABLE transactions (
//	    id                      BIGSERIAL PRIMARY KEY,
//	    transaction_id          VARCHAR(64) UNIQUE NOT NULL,
//	    user_id                 VARCHAR(64) NOT NULL,
//	    from_account_id         VARCHAR(64),
//	    to_account_id           VARCHAR(64),
//	    transaction_type        VARCHAR(20) NOT NULL,
//	    amount                  NUMERIC(15, 2) NOT NULL CHECK (amount > 0),
//	    currency                VARCHAR(3) NOT NULL DEFAULT 'USD',
//	    status                  VARCHAR(20) NOT NULL,
//	    description             TEXT,
//	    failure_reason          TEXT,
//	    reconciliation_required BOOLEAN NOT NULL DEFAULT FALSE,
//	    created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//	    completed_at            TIMESTAMPTZ
//	);
//	CREATE INDEX idx_transactions_user_created ON transactions (user_id, created_at DESC, id DESC);
//	CREATE INDEX idx_transactions_from_account ON transactions (from_account_id);
//	CREATE INDEX idx_transactions_to_account ON transactions (to_account_id);
//
// Rows are inserted once with a terminal status and never updated.
package repository
