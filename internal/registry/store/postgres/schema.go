package postgres

import (
	"context"
	"fmt"
)

// Schema statements are idempotent so EnsureSchema can run at every startup.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS organizations (
    name          VARCHAR(191) PRIMARY KEY,
    created_at    TIMESTAMPTZ NOT NULL,
    last_modified TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS domains (
    domain        VARCHAR(128) PRIMARY KEY,
    is_top_domain BOOLEAN NOT NULL DEFAULT FALSE,
    organization  VARCHAR(191) NOT NULL REFERENCES organizations (name) ON DELETE CASCADE,
    created_at    TIMESTAMPTZ NOT NULL,
    last_modified TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS countries (
    code   CHAR(2) PRIMARY KEY,
    name   VARCHAR(191) NOT NULL,
    alpha3 CHAR(3) NOT NULL
);

CREATE TABLE IF NOT EXISTS unique_identities (
    uuid          VARCHAR(128) PRIMARY KEY,
    created_at    TIMESTAMPTZ NOT NULL,
    last_modified TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS profiles (
    uuid          VARCHAR(128) PRIMARY KEY REFERENCES unique_identities (uuid) ON DELETE CASCADE,
    name          VARCHAR(128),
    email         VARCHAR(128),
    gender        VARCHAR(32),
    gender_acc    INTEGER,
    is_bot        BOOLEAN NOT NULL DEFAULT FALSE,
    country_code  CHAR(2) REFERENCES countries (code) ON DELETE SET NULL,
    created_at    TIMESTAMPTZ NOT NULL,
    last_modified TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS identities (
    id            VARCHAR(128) PRIMARY KEY,
    name          VARCHAR(128),
    email         VARCHAR(128),
    username      VARCHAR(128),
    source        VARCHAR(32) NOT NULL,
    uuid          VARCHAR(128) NOT NULL REFERENCES unique_identities (uuid) ON DELETE CASCADE,
    created_at    TIMESTAMPTZ NOT NULL,
    last_modified TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS identities_tuple_idx
    ON identities (source, COALESCE(name, ''), COALESCE(email, ''), COALESCE(username, ''));

CREATE TABLE IF NOT EXISTS enrollments (
    id            BIGSERIAL PRIMARY KEY,
    uuid          VARCHAR(128) NOT NULL REFERENCES unique_identities (uuid) ON DELETE CASCADE,
    organization  VARCHAR(191) NOT NULL REFERENCES organizations (name) ON DELETE CASCADE,
    start_date    TIMESTAMPTZ NOT NULL,
    end_date      TIMESTAMPTZ NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL,
    last_modified TIMESTAMPTZ NOT NULL,
    UNIQUE (uuid, organization, start_date, end_date)
);

CREATE TABLE IF NOT EXISTS matching_exclusions (
    excluded      VARCHAR(128) PRIMARY KEY,
    created_at    TIMESTAMPTZ NOT NULL,
    last_modified TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS contexts (
    cuid      VARCHAR(128) PRIMARY KEY,
    operation VARCHAR(64) NOT NULL,
    ts        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS contexts_ts_idx ON contexts (ts);

CREATE TABLE IF NOT EXISTS transactions (
    tuid       VARCHAR(128) PRIMARY KEY,
    change     VARCHAR(16) NOT NULL,
    entity     VARCHAR(32) NOT NULL,
    context_id VARCHAR(128) REFERENCES contexts (cuid) ON DELETE SET NULL,
    ts         TIMESTAMPTZ NOT NULL,
    args       JSONB NOT NULL DEFAULT '{}'::jsonb
);
CREATE INDEX IF NOT EXISTS transactions_context_idx ON transactions (context_id);
CREATE INDEX IF NOT EXISTS transactions_ts_idx ON transactions (ts);
`

// EnsureSchema creates the registry tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
