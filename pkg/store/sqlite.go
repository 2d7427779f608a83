package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/concordhq/concord/pkg/contracts"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (or creates) the engine's SQLite database.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	return db, nil
}

// SQLiteProposalStore persists proposals in SQLite. The full proposal is
// stored as JSON with the queryable columns extracted.
type SQLiteProposalStore struct {
	db *sql.DB
}

func NewSQLiteProposalStore(db *sql.DB) (*SQLiteProposalStore, error) {
	s := &SQLiteProposalStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteProposalStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS proposals (
		id TEXT PRIMARY KEY,
		agent_name TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT NOT NULL,
		target_key TEXT NOT NULL DEFAULT '',
		originating_event_id TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		body JSON NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_proposals_target ON proposals (target_type, target_id, status);
	CREATE INDEX IF NOT EXISTS idx_proposals_agent ON proposals (agent_name);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteProposalStore) Save(ctx context.Context, p *contracts.Proposal) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal proposal %s: %w", p.ID, err)
	}
	query := `
	INSERT INTO proposals (id, agent_name, target_type, target_id, target_key, originating_event_id, status, created_at, body)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET status = excluded.status, body = excluded.body`
	_, err = s.db.ExecContext(ctx, query,
		p.ID, p.AgentName, p.Target.Type, p.Target.ID, p.Target.Key,
		p.OriginatingEventID, string(p.Status), p.CreatedAt, body)
	if err != nil {
		return fmt.Errorf("save proposal %s: %w", p.ID, err)
	}
	return nil
}

func (s *SQLiteProposalStore) Get(ctx context.Context, id string) (*contracts.Proposal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT body FROM proposals WHERE id = ?`, id)
	return scanProposal(row)
}

func (s *SQLiteProposalStore) ByAgent(ctx context.Context, agentName string) ([]*contracts.Proposal, error) {
	return s.query(ctx, `SELECT body FROM proposals WHERE agent_name = ? ORDER BY created_at`, agentName)
}

func (s *SQLiteProposalStore) ByOriginatingEvent(ctx context.Context, eventID string) ([]*contracts.Proposal, error) {
	return s.query(ctx, `SELECT body FROM proposals WHERE originating_event_id = ? ORDER BY created_at`, eventID)
}

func (s *SQLiteProposalStore) Pending(ctx context.Context) ([]*contracts.Proposal, error) {
	return s.query(ctx, `SELECT body FROM proposals WHERE status = ? ORDER BY created_at`, string(contracts.ProposalPending))
}

func (s *SQLiteProposalStore) PendingForTarget(ctx context.Context, q TargetQuery) ([]*contracts.Proposal, error) {
	if q.Key != "" {
		return s.query(ctx,
			`SELECT body FROM proposals WHERE status = ? AND target_type = ? AND target_id = ? AND target_key = ? ORDER BY created_at`,
			string(contracts.ProposalPending), q.Type, q.ID, q.Key)
	}
	return s.query(ctx,
		`SELECT body FROM proposals WHERE status = ? AND target_type = ? AND target_id = ? ORDER BY created_at`,
		string(contracts.ProposalPending), q.Type, q.ID)
}

func (s *SQLiteProposalStore) query(ctx context.Context, query string, args ...any) ([]*contracts.Proposal, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.Proposal
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var p contracts.Proposal
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// SQLiteDecisionStore persists arbitration decisions in SQLite.
type SQLiteDecisionStore struct {
	db *sql.DB
}

func NewSQLiteDecisionStore(db *sql.DB) (*SQLiteDecisionStore, error) {
	s := &SQLiteDecisionStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteDecisionStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS decisions (
		id TEXT PRIMARY KEY,
		conflict_id TEXT NOT NULL,
		outcome TEXT NOT NULL,
		requires_human_approval INTEGER NOT NULL DEFAULT 0,
		executed INTEGER NOT NULL DEFAULT 0,
		resolved_at DATETIME NOT NULL,
		content_hash TEXT NOT NULL DEFAULT '',
		body JSON NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_decisions_escalated ON decisions (requires_human_approval, executed);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteDecisionStore) Save(ctx context.Context, d *contracts.Decision) error {
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal decision %s: %w", d.ID, err)
	}
	query := `
	INSERT INTO decisions (id, conflict_id, outcome, requires_human_approval, executed, resolved_at, content_hash, body)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		outcome = excluded.outcome,
		requires_human_approval = excluded.requires_human_approval,
		executed = excluded.executed,
		content_hash = excluded.content_hash,
		body = excluded.body`
	_, err = s.db.ExecContext(ctx, query,
		d.ID, d.ConflictID, string(d.Outcome), boolInt(d.RequiresHumanApproval),
		boolInt(d.Executed), d.ResolvedAt, d.ContentHash, body)
	if err != nil {
		return fmt.Errorf("save decision %s: %w", d.ID, err)
	}
	return nil
}

func (s *SQLiteDecisionStore) Get(ctx context.Context, id string) (*contracts.Decision, error) {
	row := s.db.QueryRowContext(ctx, `SELECT body FROM decisions WHERE id = ?`, id)
	var body []byte
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var d contracts.Decision
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *SQLiteDecisionStore) PendingEscalations(ctx context.Context) ([]*contracts.Decision, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM decisions WHERE requires_human_approval = 1 AND executed = 0 ORDER BY resolved_at`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.Decision
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var d contracts.Decision
		if err := json.Unmarshal(body, &d); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func scanProposal(row *sql.Row) (*contracts.Proposal, error) {
	var body []byte
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var p contracts.Proposal
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
