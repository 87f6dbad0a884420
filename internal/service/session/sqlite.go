package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/loandesk/backend/internal/model/loan"
)

// SQLiteStore persists sessions in a SQLite database so they survive restarts.
type SQLiteStore struct {
	db    *sql.DB
	ttl   time.Duration
	now   func() time.Time
	locks *keyedLocker
}

// NewSQLiteStore opens (and if needed creates) the database at dbPath.
func NewSQLiteStore(dbPath string, ttl time.Duration, opts ...Option) (*SQLiteStore, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection serializes writers and avoids SQLITE_BUSY between transactions.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	o := buildOptions(opts)
	store := &SQLiteStore{db: db, ttl: ttl, now: o.now, locks: newKeyedLocker()}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		phase TEXT NOT NULL,
		fields_json TEXT NOT NULL,
		decision_json TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);

	CREATE TABLE IF NOT EXISTS turns (
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		speaker TEXT NOT NULL,
		text TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, seq)
	);

	CREATE TABLE IF NOT EXISTS findings (
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		verdict TEXT NOT NULL,
		score INTEGER NOT NULL,
		rationale TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, role)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Create provisions a new session in the collecting phase.
func (s *SQLiteStore) Create(ctx context.Context, id string) (loan.Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}
	now := s.now().UTC()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, id).Scan(&exists)
		if err == nil {
			return ErrSessionExists
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check session: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO sessions (id, phase, fields_json, decision_json, created_at, updated_at)
			 VALUES (?, ?, '{}', NULL, ?, ?)`,
			id, string(loan.PhaseCollecting), now.UnixNano(), now.UnixNano())
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return nil
	})
	if err != nil {
		return loan.Session{}, err
	}

	return loan.Session{
		ID:         id,
		Phase:      loan.PhaseCollecting,
		Transcript: []loan.Turn{},
		Fields:     map[string]string{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Get loads the session with its transcript and findings.
func (s *SQLiteStore) Get(ctx context.Context, id string) (loan.Session, error) {
	var session loan.Session
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		session, err = loadSession(ctx, tx, id)
		return err
	})
	return session, err
}

func loadSession(ctx context.Context, tx *sql.Tx, id string) (loan.Session, error) {
	var (
		session              loan.Session
		phase, fieldsJSON    string
		decisionJSON         sql.NullString
		createdAt, updatedAt int64
	)
	err := tx.QueryRowContext(ctx,
		`SELECT id, phase, fields_json, decision_json, created_at, updated_at FROM sessions WHERE id = ?`, id).
		Scan(&session.ID, &phase, &fieldsJSON, &decisionJSON, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return loan.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return loan.Session{}, fmt.Errorf("scan session row: %w", err)
	}

	session.Phase = loan.Phase(phase)
	session.CreatedAt = fromNanos(createdAt)
	session.UpdatedAt = fromNanos(updatedAt)
	session.Fields = map[string]string{}
	if err := json.Unmarshal([]byte(fieldsJSON), &session.Fields); err != nil {
		return loan.Session{}, fmt.Errorf("decode fields: %w", err)
	}
	if decisionJSON.Valid {
		var decision loan.Decision
		if err := json.Unmarshal([]byte(decisionJSON.String), &decision); err != nil {
			return loan.Session{}, fmt.Errorf("decode decision: %w", err)
		}
		session.Decision = &decision
	}

	session.Transcript, err = loadTurns(ctx, tx, id)
	if err != nil {
		return loan.Session{}, err
	}
	session.Findings, err = loadFindings(ctx, tx, id)
	if err != nil {
		return loan.Session{}, err
	}
	return session, nil
}

func loadTurns(ctx context.Context, tx *sql.Tx, id string) ([]loan.Turn, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT speaker, text, created_at FROM turns WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	turns := make([]loan.Turn, 0, 16)
	for rows.Next() {
		var (
			turn    loan.Turn
			created int64
		)
		if err := rows.Scan(&turn.Speaker, &turn.Text, &created); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		turn.CreatedAt = fromNanos(created)
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

func loadFindings(ctx context.Context, tx *sql.Tx, id string) ([]loan.Finding, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT role, verdict, score, rationale, created_at FROM findings WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query findings: %w", err)
	}
	defer rows.Close()

	var findings []loan.Finding
	for rows.Next() {
		var (
			finding loan.Finding
			verdict string
			created int64
		)
		if err := rows.Scan(&finding.Role, &verdict, &finding.Score, &finding.Rationale, &created); err != nil {
			return nil, fmt.Errorf("scan finding row: %w", err)
		}
		finding.Verdict = loan.Verdict(verdict)
		finding.CreatedAt = fromNanos(created)
		findings = append(findings, finding)
	}
	return findings, rows.Err()
}

// touch bumps last activity and reports ErrSessionNotFound for unknown ids.
func touch(ctx context.Context, tx *sql.Tx, id string, now time.Time) error {
	res, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, now.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// AppendTurn appends turns to the transcript in one transaction.
func (s *SQLiteStore) AppendTurn(ctx context.Context, id string, turns ...loan.Turn) error {
	now := s.now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := touch(ctx, tx, id, now); err != nil {
			return err
		}
		return appendTurns(ctx, tx, id, now, turns)
	})
}

func appendTurns(ctx context.Context, tx *sql.Tx, id string, now time.Time, turns []loan.Turn) error {
	var last int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM turns WHERE session_id = ?`, id).Scan(&last); err != nil {
		return fmt.Errorf("read transcript length: %w", err)
	}

	for i, turn := range turns {
		created := turn.CreatedAt
		if created.IsZero() {
			created = now
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO turns (session_id, seq, speaker, text, created_at) VALUES (?, ?, ?, ?, ?)`,
			id, last+int64(i)+1, turn.Speaker, turn.Text, created.UnixNano()); err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
	}
	return nil
}

func currentPhase(ctx context.Context, tx *sql.Tx, id string) (loan.Phase, error) {
	var phase string
	err := tx.QueryRowContext(ctx, `SELECT phase FROM sessions WHERE id = ?`, id).Scan(&phase)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read phase: %w", err)
	}
	return loan.Phase(phase), nil
}

// SetPhase moves the session forward; regressions are rejected.
func (s *SQLiteStore) SetPhase(ctx context.Context, id string, phase loan.Phase) error {
	now := s.now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return setPhase(ctx, tx, id, phase, now)
	})
}

func setPhase(ctx context.Context, tx *sql.Tx, id string, phase loan.Phase, now time.Time) error {
	current, err := currentPhase(ctx, tx, id)
	if err != nil {
		return err
	}
	if !current.CanMoveTo(phase) {
		return fmt.Errorf("%w: %s -> %s", ErrPhaseRegression, current, phase)
	}
	_, err = tx.ExecContext(ctx, `UPDATE sessions SET phase = ?, updated_at = ? WHERE id = ?`,
		string(phase), now.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("update phase: %w", err)
	}
	return nil
}

// SetField stores one collected application field.
func (s *SQLiteStore) SetField(ctx context.Context, id, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("field key is required")
	}
	now := s.now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return mergeFields(ctx, tx, id, map[string]string{key: value}, now)
	})
}

func mergeFields(ctx context.Context, tx *sql.Tx, id string, updates map[string]string, now time.Time) error {
	var raw string
	err := tx.QueryRowContext(ctx, `SELECT fields_json FROM sessions WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("read fields: %w", err)
	}

	fields := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return fmt.Errorf("decode fields: %w", err)
	}
	for key, value := range updates {
		fields[key] = value
	}
	encoded, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}

	_, err = tx.ExecContext(ctx, `UPDATE sessions SET fields_json = ?, updated_at = ? WHERE id = ?`,
		string(encoded), now.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("update fields: %w", err)
	}
	return nil
}

// Commit applies a whole turn in one transaction.
func (s *SQLiteStore) Commit(ctx context.Context, id string, update TurnUpdate) error {
	fields, err := update.fields()
	if err != nil {
		return err
	}
	now := s.now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := touch(ctx, tx, id, now); err != nil {
			return err
		}
		if len(fields) > 0 {
			if err := mergeFields(ctx, tx, id, fields, now); err != nil {
				return err
			}
		}
		if err := appendTurns(ctx, tx, id, now, update.Turns); err != nil {
			return err
		}
		if update.Phase != "" {
			return setPhase(ctx, tx, id, update.Phase, now)
		}
		return nil
	})
}

// RecordFinding stores a specialist finding once per role.
func (s *SQLiteStore) RecordFinding(ctx context.Context, id string, finding loan.Finding) error {
	now := s.now().UTC()
	if finding.CreatedAt.IsZero() {
		finding.CreatedAt = now
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := touch(ctx, tx, id, now); err != nil {
			return err
		}

		var exists, count int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(role = ?), 0), COUNT(*) FROM findings WHERE session_id = ?`,
			finding.Role, id).Scan(&exists, &count); err != nil {
			return fmt.Errorf("read findings: %w", err)
		}
		if exists > 0 {
			return fmt.Errorf("%w: %s", ErrFindingExists, finding.Role)
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO findings (session_id, seq, role, verdict, score, rationale, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, count+1, finding.Role, string(finding.Verdict), finding.Score, finding.Rationale,
			finding.CreatedAt.UnixNano())
		if err != nil {
			return fmt.Errorf("insert finding: %w", err)
		}
		return nil
	})
}

// SetDecision stores the final decision and completes the session.
func (s *SQLiteStore) SetDecision(ctx context.Context, id string, decision loan.Decision) error {
	now := s.now().UTC()
	if decision.DecidedAt.IsZero() {
		decision.DecidedAt = now
	}
	encoded, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("encode decision: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			phase    string
			existing sql.NullString
		)
		err := tx.QueryRowContext(ctx, `SELECT phase, decision_json FROM sessions WHERE id = ?`, id).
			Scan(&phase, &existing)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("read decision: %w", err)
		}
		if existing.Valid {
			return ErrDecisionExists
		}
		if !loan.Phase(phase).CanMoveTo(loan.PhaseComplete) {
			return fmt.Errorf("%w: %s -> %s", ErrPhaseRegression, phase, loan.PhaseComplete)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE sessions SET decision_json = ?, phase = ?, updated_at = ? WHERE id = ?`,
			string(encoded), string(loan.PhaseComplete), now.UnixNano(), id)
		if err != nil {
			return fmt.Errorf("update decision: %w", err)
		}
		return nil
	})
}

// EvictExpired removes idle sessions that nobody is working on.
func (s *SQLiteStore) EvictExpired(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.ttl).UnixNano()

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("query expired sessions: %w", err)
	}
	var candidates []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan expired session: %w", err)
		}
		candidates = append(candidates, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate expired sessions: %w", err)
	}

	evicted := 0
	for _, id := range candidates {
		unlock, ok := s.locks.TryLock(id)
		if !ok {
			continue
		}
		err := s.withTx(ctx, func(tx *sql.Tx) error {
			res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ? AND updated_at < ?`, id, cutoff)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return nil
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, id); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM findings WHERE session_id = ?`, id); err != nil {
				return err
			}
			evicted++
			return nil
		})
		unlock()
		if err != nil {
			return evicted, fmt.Errorf("evict session %s: %w", id, err)
		}
	}
	return evicted, nil
}

// Lock serializes work on one session within this process.
func (s *SQLiteStore) Lock(ctx context.Context, id string) (func(), error) {
	return s.locks.Lock(ctx, id)
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
