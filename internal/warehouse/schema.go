package warehouse

// schemaSQL is the warehouse DDL. Statements are idempotent so migrate can be
// re-run safely.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS players (
    player_id      BIGSERIAL PRIMARY KEY,
    username       TEXT NOT NULL UNIQUE,
    highest_rating INTEGER
);

CREATE TABLE IF NOT EXISTS openings (
    opening_id BIGSERIAL PRIMARY KEY,
    eco        TEXT NOT NULL,
    name       TEXT NOT NULL,
    family     TEXT,
    UNIQUE (eco, name)
);

CREATE TABLE IF NOT EXISTS games (
    game_id      TEXT PRIMARY KEY,
    played_at    TIMESTAMPTZ NOT NULL,
    white_id     BIGINT NOT NULL REFERENCES players(player_id),
    black_id     BIGINT NOT NULL REFERENCES players(player_id),
    white_rating INTEGER,
    black_rating INTEGER,
    winner       TEXT NOT NULL,
    termination  TEXT,
    ply_count    INTEGER NOT NULL,
    opening_id   BIGINT REFERENCES openings(opening_id),
    rating_diff  INTEGER
);

CREATE INDEX IF NOT EXISTS idx_games_opening_id ON games (opening_id);
CREATE INDEX IF NOT EXISTS idx_games_played_at  ON games (played_at);
`
