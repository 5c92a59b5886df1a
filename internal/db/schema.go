package db

import (
	"context"

	"smsrelay/internal/types"
)

// schemaDDL creates the document tables if they do not exist. It is idempotent.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS sms_queue_items (
    user_id         TEXT          NOT NULL,
    queue_id        TEXT          NOT NULL,
    transaction_id  TEXT          NOT NULL,
    member_id       TEXT,
    to_number       TEXT,
    donor_name      TEXT,
    amount          NUMERIC(12,2) NOT NULL DEFAULT 0,
    date            TEXT          NOT NULL DEFAULT '',
    category        TEXT,
    opt_in_sms      BOOLEAN,
    status          TEXT          NOT NULL DEFAULT 'queued',
    attempts        INTEGER       NOT NULL DEFAULT 0 CHECK (attempts >= 0),
    last_error      TEXT,
    message_sid     TEXT,
    delivery_status TEXT,
    error_code      TEXT,
    created_at      TIMESTAMPTZ   NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ   NOT NULL DEFAULT NOW(),
    PRIMARY KEY (user_id, queue_id)
);

CREATE TABLE IF NOT EXISTS user_sms_settings (
    user_id           TEXT PRIMARY KEY,
    enabled           BOOLEAN,
    template_text     TEXT,
    send_window_start TEXT,
    send_window_end   TEXT
);
`

// EnsureSchema applies schemaDDL. Used by the operator tool and local setups;
// deployed environments provision the tables ahead of time.
func EnsureSchema(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, schemaDDL); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to apply schema", err)
	}
	return nil
}
