package database

const schema = `
CREATE TABLE IF NOT EXISTS user_sessions (
    user_id INTEGER PRIMARY KEY,
    address TEXT NOT NULL,
    secret TEXT NOT NULL,
    token TEXT NOT NULL DEFAULT '',
    recovery_address TEXT NOT NULL DEFAULT '',
    is_active BOOLEAN DEFAULT true,
    last_access DATETIME DEFAULT CURRENT_TIMESTAMP,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS mailbox_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    address TEXT NOT NULL,
    secret TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(user_id, address)
);

CREATE INDEX IF NOT EXISTS idx_sessions_active ON user_sessions(is_active);
CREATE INDEX IF NOT EXISTS idx_sessions_address ON user_sessions(address);
CREATE INDEX IF NOT EXISTS idx_history_user ON mailbox_history(user_id);
`
