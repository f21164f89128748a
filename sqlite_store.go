package botguard

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS actor_records (
	fingerprint  TEXT PRIMARY KEY,
	address      TEXT NOT NULL,
	client_id    TEXT NOT NULL DEFAULT '',
	first_seen   TIMESTAMP NOT NULL,
	last_seen    TIMESTAMP NOT NULL,
	attack_count INTEGER NOT NULL DEFAULT 1,
	score        INTEGER NOT NULL DEFAULT 0,
	tier         INTEGER NOT NULL DEFAULT 0,
	neutralized  BOOLEAN NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS response_attempts (
	id          TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL REFERENCES actor_records(fingerprint),
	channel     TEXT NOT NULL,
	timestamp   TIMESTAMP NOT NULL,
	success     BOOLEAN NOT NULL,
	reason      TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_response_attempts_fingerprint
	ON response_attempts(fingerprint);
`

// SQLiteActorStore implements ActorStore on an embedded SQLite database.
type SQLiteActorStore struct {
	db *sqlx.DB
}

// NewSQLiteActorStore opens (creating if needed) the database at path and
// ensures the schema exists. A failure here is a startup-abort condition for
// the caller.
func NewSQLiteActorStore(path string) (*SQLiteActorStore, error) {
	db, err := sqlx.Connect("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open actor database: %v", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize actor schema: %v", err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY
	// churn under concurrent upserts.
	db.SetMaxOpenConns(1)
	return &SQLiteActorStore{db: db}, nil
}

func (s *SQLiteActorStore) SaveActor(ctx context.Context, record *ActorRecord) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO actor_records
			(fingerprint, address, client_id, first_seen, last_seen, attack_count, score, tier, neutralized)
		VALUES
			(:fingerprint, :address, :client_id, :first_seen, :last_seen, :attack_count, :score, :tier, :neutralized)
		ON CONFLICT(fingerprint) DO UPDATE SET
			address      = excluded.address,
			client_id    = excluded.client_id,
			last_seen    = excluded.last_seen,
			attack_count = excluded.attack_count,
			score        = excluded.score,
			tier         = excluded.tier,
			neutralized  = excluded.neutralized
	`, record)
	if err != nil {
		return fmt.Errorf("failed to save actor %s: %v", record.Fingerprint, err)
	}
	return nil
}

func (s *SQLiteActorStore) GetActor(ctx context.Context, fp Fingerprint) (*ActorRecord, error) {
	var record ActorRecord
	err := s.db.GetContext(ctx, &record, `
		SELECT fingerprint, address, client_id, first_seen, last_seen, attack_count, score, tier, neutralized
		FROM actor_records WHERE fingerprint = ?
	`, fp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load actor %s: %v", fp, err)
	}
	return &record, nil
}

func (s *SQLiteActorStore) ListActors(ctx context.Context) ([]*ActorRecord, error) {
	var records []*ActorRecord
	err := s.db.SelectContext(ctx, &records, `
		SELECT fingerprint, address, client_id, first_seen, last_seen, attack_count, score, tier, neutralized
		FROM actor_records ORDER BY first_seen
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list actors: %v", err)
	}
	return records, nil
}

func (s *SQLiteActorStore) AppendAttempt(ctx context.Context, attempt *ResponseAttempt) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO response_attempts (id, fingerprint, channel, timestamp, success, reason)
		VALUES (:id, :fingerprint, :channel, :timestamp, :success, :reason)
	`, attempt)
	if err != nil {
		return fmt.Errorf("failed to append response attempt for %s: %v", attempt.Fingerprint, err)
	}
	return nil
}

func (s *SQLiteActorStore) ListAttempts(ctx context.Context, fp Fingerprint) ([]*ResponseAttempt, error) {
	var attempts []*ResponseAttempt
	err := s.db.SelectContext(ctx, &attempts, `
		SELECT id, fingerprint, channel, timestamp, success, reason
		FROM response_attempts WHERE fingerprint = ? ORDER BY timestamp
	`, fp)
	if err != nil {
		return nil, fmt.Errorf("failed to list response attempts for %s: %v", fp, err)
	}
	return attempts, nil
}

func (s *SQLiteActorStore) HealthCheck() error {
	return s.db.Ping()
}

func (s *SQLiteActorStore) Close() error {
	return s.db.Close()
}
