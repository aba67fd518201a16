package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"gatepass/internal/domain"
	"gatepass/pkg/sentinel"
)

// PostgresPassStore persists passes as one row per pass with the full record
// as JSONB plus the columns the registry queries on. Scans and extensions are
// bounded per pass (a group rescans a handful of times), so the document
// shape stays small and the lifecycle update stays a single-row write.
type PostgresPassStore struct {
	db *sql.DB
}

func NewPostgresPassStore(db *sql.DB) *PostgresPassStore {
	return &PostgresPassStore{db: db}
}

// Open connects with the lib/pq driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the tables when they do not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS passes (
	pass_id       TEXT PRIMARY KEY,
	status        TEXT NOT NULL,
	exit_deadline TIMESTAMPTZ NOT NULL,
	doc           JSONB NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS passes_status_idx ON passes (status);
CREATE INDEX IF NOT EXISTS passes_deadline_idx ON passes (exit_deadline);

CREATE TABLE IF NOT EXISTS penalties (
	id          BIGSERIAL PRIMARY KEY,
	pass_id     TEXT NOT NULL,
	hours_late  INT NOT NULL,
	amount      INT NOT NULL,
	paid        BOOLEAN NOT NULL DEFAULT FALSE,
	assessed_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS penalties_pass_idx ON penalties (pass_id);`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// passDoc mirrors domain.Pass for persistence, with the holder identifier
// included; it never crosses the API boundary.
type passDoc struct {
	domain.Pass
	HolderID string `json:"holder_id"`
}

func (s *PostgresPassStore) Save(ctx context.Context, pass domain.Pass) error {
	doc, err := json.Marshal(passDoc{Pass: pass, HolderID: pass.HolderID})
	if err != nil {
		return fmt.Errorf("marshal pass: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO passes (pass_id, status, exit_deadline, doc, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (pass_id) DO UPDATE
SET status = EXCLUDED.status,
    exit_deadline = EXCLUDED.exit_deadline,
    doc = EXCLUDED.doc,
    updated_at = now()`,
		pass.ID, pass.Status, pass.ExitDeadline, doc)
	if err != nil {
		return fmt.Errorf("save pass %s: %w", pass.ID, err)
	}
	return nil
}

func (s *PostgresPassStore) FindByID(ctx context.Context, id string) (domain.Pass, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM passes WHERE pass_id = $1`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Pass{}, sentinel.ErrNotFound
	}
	if err != nil {
		return domain.Pass{}, fmt.Errorf("find pass %s: %w", id, err)
	}
	return unmarshalPass(raw)
}

func (s *PostgresPassStore) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM passes WHERE pass_id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("pass exists %s: %w", id, err)
	}
	return exists, nil
}

func (s *PostgresPassStore) ListActive(ctx context.Context) ([]domain.Pass, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM passes WHERE status = $1`, domain.PassActive)
	if err != nil {
		return nil, fmt.Errorf("list active passes: %w", err)
	}
	defer rows.Close()

	var passes []domain.Pass
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan pass row: %w", err)
		}
		pass, err := unmarshalPass(raw)
		if err != nil {
			return nil, err
		}
		passes = append(passes, pass)
	}
	return passes, rows.Err()
}

func unmarshalPass(raw []byte) (domain.Pass, error) {
	var doc passDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.Pass{}, fmt.Errorf("unmarshal pass: %w", err)
	}
	pass := doc.Pass
	pass.HolderID = doc.HolderID
	return pass, nil
}

// PostgresPenaltyStore is the relational penalty ledger.
type PostgresPenaltyStore struct {
	db *sql.DB
}

func NewPostgresPenaltyStore(db *sql.DB) *PostgresPenaltyStore {
	return &PostgresPenaltyStore{db: db}
}

func (s *PostgresPenaltyStore) Append(ctx context.Context, penalty domain.Penalty) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO penalties (pass_id, hours_late, amount, paid, assessed_at)
VALUES ($1, $2, $3, $4, $5)`,
		penalty.PassID, penalty.HoursLate, penalty.Amount, penalty.Paid, penalty.AssessedAt)
	if err != nil {
		return fmt.Errorf("append penalty for %s: %w", penalty.PassID, err)
	}
	return nil
}

func (s *PostgresPenaltyStore) ListByPass(ctx context.Context, passID string) ([]domain.Penalty, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT pass_id, hours_late, amount, paid, assessed_at
FROM penalties WHERE pass_id = $1 ORDER BY assessed_at`, passID)
	if err != nil {
		return nil, fmt.Errorf("list penalties for %s: %w", passID, err)
	}
	defer rows.Close()

	var penalties []domain.Penalty
	for rows.Next() {
		var p domain.Penalty
		if err := rows.Scan(&p.PassID, &p.HoursLate, &p.Amount, &p.Paid, &p.AssessedAt); err != nil {
			return nil, fmt.Errorf("scan penalty row: %w", err)
		}
		penalties = append(penalties, p)
	}
	return penalties, rows.Err()
}

func (s *PostgresPenaltyStore) MarkPaid(ctx context.Context, passID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE penalties SET paid = TRUE WHERE pass_id = $1`, passID)
	if err != nil {
		return fmt.Errorf("mark penalties paid for %s: %w", passID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
