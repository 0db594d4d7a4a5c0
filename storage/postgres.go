package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"verivote-backend/models"
)

// PostgresStore implements Store on a pgx connection pool. Uniqueness is
// enforced by the database: the (event_id, voter_id) unique index makes
// InsertBallot the required atomic conditional write, and unique-violation
// errors are mapped back to the store sentinels by constraint name.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to databaseURL and ensures the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	config.MaxConns = 10
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS vote_events (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	opens_at        TIMESTAMPTZ NOT NULL,
	closes_at       TIMESTAMPTZ NOT NULL,
	selection_limit INT NOT NULL,
	status          TEXT NOT NULL,
	manifest_handle BYTEA NOT NULL,
	public_key      BYTEA NOT NULL,
	crypto_context  BYTEA NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	ended_at        TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS candidates (
	id       TEXT PRIMARY KEY,
	event_id TEXT NOT NULL REFERENCES vote_events(id),
	name     TEXT NOT NULL,
	idx      INT NOT NULL,
	CONSTRAINT candidates_event_name_key UNIQUE (event_id, name)
);
CREATE TABLE IF NOT EXISTS voters (
	id         TEXT PRIMARY KEY,
	secret     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	CONSTRAINT voters_secret_key UNIQUE (secret)
);
CREATE TABLE IF NOT EXISTS ballots (
	event_id          TEXT NOT NULL REFERENCES vote_events(id),
	voter_id          TEXT NOT NULL REFERENCES voters(id),
	ciphertext        BYTEA NOT NULL,
	proof             BYTEA NOT NULL,
	verification_code TEXT NOT NULL,
	vote_secret       TEXT NOT NULL,
	selected_ids      JSONB NOT NULL,
	cast_at           TIMESTAMPTZ NOT NULL,
	CONSTRAINT ballots_event_voter_key UNIQUE (event_id, voter_id),
	CONSTRAINT ballots_code_key UNIQUE (verification_code),
	CONSTRAINT ballots_secret_key UNIQUE (vote_secret)
);
CREATE TABLE IF NOT EXISTS tallies (
	event_id    TEXT PRIMARY KEY REFERENCES vote_events(id),
	snapshot    JSONB NOT NULL,
	computed_at TIMESTAMPTZ NOT NULL
);`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateEvent(ctx context.Context, event *models.VotingEvent) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create event: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO vote_events
			(id, name, opens_at, closes_at, selection_limit, status,
			 manifest_handle, public_key, crypto_context, created_at, ended_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		event.ID, event.Name, event.OpensAt, event.ClosesAt, event.SelectionLimit,
		string(event.Status), event.ManifestHandle, event.PublicKey, event.CryptoContext,
		event.CreatedAt, event.EndedAt)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	for _, c := range event.Candidates {
		if _, err := tx.Exec(ctx, `
			INSERT INTO candidates (id, event_id, name, idx) VALUES ($1,$2,$3,$4)`,
			c.ID, c.EventID, c.Name, c.Index); err != nil {
			return fmt.Errorf("insert candidate: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetEvent(ctx context.Context, eventID string) (*models.VotingEvent, error) {
	event := &models.VotingEvent{}
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, opens_at, closes_at, selection_limit, status,
		       manifest_handle, public_key, crypto_context, created_at, ended_at
		FROM vote_events WHERE id = $1`, eventID).Scan(
		&event.ID, &event.Name, &event.OpensAt, &event.ClosesAt, &event.SelectionLimit,
		&status, &event.ManifestHandle, &event.PublicKey, &event.CryptoContext,
		&event.CreatedAt, &event.EndedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("select event: %w", err)
	}
	event.Status = models.EventStatus(status)

	rows, err := s.pool.Query(ctx, `
		SELECT id, event_id, name, idx FROM candidates
		WHERE event_id = $1 ORDER BY idx`, eventID)
	if err != nil {
		return nil, fmt.Errorf("select candidates: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c models.Candidate
		if err := rows.Scan(&c.ID, &c.EventID, &c.Name, &c.Index); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		event.Candidates = append(event.Candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return event, nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, offset, limit int) ([]*models.VotingEvent, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM vote_events`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}
	if limit <= 0 {
		limit = total
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM vote_events ORDER BY created_at OFFSET $1 LIMIT $2`, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("select events: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, 0, fmt.Errorf("scan event id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate events: %w", err)
	}
	events := make([]*models.VotingEvent, 0, len(ids))
	for _, id := range ids {
		event, err := s.GetEvent(ctx, id)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, event)
	}
	return events, total, nil
}

func (s *PostgresStore) CloseEvent(ctx context.Context, eventID string) (*models.VotingEvent, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE vote_events SET status = $1, ended_at = NOW()
		WHERE id = $2 AND status = $3`,
		string(models.StatusEnded), eventID, string(models.StatusInVoting))
	if err != nil {
		return nil, fmt.Errorf("close event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either missing or already ended; look to tell which.
		if _, err := s.GetEvent(ctx, eventID); err != nil {
			return nil, err
		}
		return nil, ErrEventAlreadyOver
	}
	return s.GetEvent(ctx, eventID)
}

func (s *PostgresStore) CreateVoter(ctx context.Context, voter *models.Voter) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO voters (id, secret, created_at) VALUES ($1,$2,$3)`,
		voter.ID, voter.Secret, voter.CreatedAt)
	if err != nil {
		switch constraintName(err) {
		case "voters_pkey":
			return ErrDuplicateVoter
		case "voters_secret_key":
			return ErrDuplicateSecret
		}
		return fmt.Errorf("insert voter: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetVoterBySecret(ctx context.Context, secret string) (*models.Voter, error) {
	return s.voterQuery(ctx, `SELECT id, secret, created_at FROM voters WHERE secret = $1`, secret)
}

func (s *PostgresStore) GetVoter(ctx context.Context, voterID string) (*models.Voter, error) {
	return s.voterQuery(ctx, `SELECT id, secret, created_at FROM voters WHERE id = $1`, voterID)
}

func (s *PostgresStore) voterQuery(ctx context.Context, query, arg string) (*models.Voter, error) {
	voter := &models.Voter{}
	err := s.pool.QueryRow(ctx, query, arg).Scan(&voter.ID, &voter.Secret, &voter.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVoterNotFound
		}
		return nil, fmt.Errorf("select voter: %w", err)
	}
	return voter, nil
}

func (s *PostgresStore) InsertBallot(ctx context.Context, ballot *models.BallotRecord) error {
	selected, err := json.Marshal(ballot.SelectedCandidateIDs)
	if err != nil {
		return fmt.Errorf("marshal selected ids: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO ballots
			(event_id, voter_id, ciphertext, proof, verification_code,
			 vote_secret, selected_ids, cast_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		ballot.EventID, ballot.VoterID, ballot.Ciphertext, ballot.Proof,
		ballot.VerificationCode, ballot.VoteSecret, selected, ballot.CastAt)
	if err != nil {
		switch constraintName(err) {
		case "ballots_event_voter_key":
			return ErrDuplicateBallot
		case "ballots_code_key":
			return ErrDuplicateCode
		case "ballots_secret_key":
			return ErrDuplicateSecret
		}
		return fmt.Errorf("insert ballot: %w", err)
	}
	return nil
}

func (s *PostgresStore) HasBallot(ctx context.Context, eventID, voterID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM ballots WHERE event_id = $1 AND voter_id = $2)`,
		eventID, voterID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check ballot: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ListBallots(ctx context.Context, eventID string) ([]*models.BallotRecord, error) {
	if _, err := s.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, voter_id, ciphertext, proof, verification_code,
		       vote_secret, selected_ids, cast_at
		FROM ballots WHERE event_id = $1 ORDER BY cast_at`, eventID)
	if err != nil {
		return nil, fmt.Errorf("select ballots: %w", err)
	}
	defer rows.Close()
	var ballots []*models.BallotRecord
	for rows.Next() {
		b, err := scanBallot(rows)
		if err != nil {
			return nil, err
		}
		ballots = append(ballots, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ballots: %w", err)
	}
	return ballots, nil
}

func (s *PostgresStore) GetBallotByCode(ctx context.Context, verificationCode string) (*models.BallotRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, voter_id, ciphertext, proof, verification_code,
		       vote_secret, selected_ids, cast_at
		FROM ballots WHERE verification_code = $1`, verificationCode)
	if err != nil {
		return nil, fmt.Errorf("select ballot: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("select ballot: %w", err)
		}
		return nil, ErrBallotNotFound
	}
	return scanBallot(rows)
}

func scanBallot(rows pgx.Rows) (*models.BallotRecord, error) {
	b := &models.BallotRecord{}
	var selected []byte
	if err := rows.Scan(&b.EventID, &b.VoterID, &b.Ciphertext, &b.Proof,
		&b.VerificationCode, &b.VoteSecret, &selected, &b.CastAt); err != nil {
		return nil, fmt.Errorf("scan ballot: %w", err)
	}
	if err := json.Unmarshal(selected, &b.SelectedCandidateIDs); err != nil {
		return nil, fmt.Errorf("unmarshal selected ids: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) SaveTally(ctx context.Context, snapshot *models.TallySnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal tally snapshot: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO tallies (event_id, snapshot, computed_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (event_id) DO UPDATE
		SET snapshot = EXCLUDED.snapshot, computed_at = EXCLUDED.computed_at`,
		snapshot.EventID, data, snapshot.ComputedAt)
	if err != nil {
		return fmt.Errorf("save tally: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTally(ctx context.Context, eventID string) (*models.TallySnapshot, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT snapshot FROM tallies WHERE event_id = $1`, eventID).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTallyNotFound
		}
		return nil, fmt.Errorf("select tally: %w", err)
	}
	snapshot := &models.TallySnapshot{}
	if err := json.Unmarshal(data, snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal tally snapshot: %w", err)
	}
	return snapshot, nil
}

// constraintName extracts the violated unique constraint from a pg error,
// or returns "" when the error is not a unique violation.
func constraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName
	}
	return ""
}
