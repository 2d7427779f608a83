package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/concordhq/concord/pkg/contracts"

	_ "github.com/lib/pq" // Postgres driver
)

// PostgresProfileStore persists learning profiles in Postgres, one JSONB
// document per agent. The whole profile is replaced on save, which
// preserves the append-only change-history semantics: history entries are
// only ever added before saving.
type PostgresProfileStore struct {
	db *sql.DB
}

func NewPostgresProfileStore(db *sql.DB) (*PostgresProfileStore, error) {
	s := &PostgresProfileStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresProfileStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS learning_profiles (
		agent_name TEXT PRIMARY KEY,
		body JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *PostgresProfileStore) Save(ctx context.Context, p *contracts.LearningProfile) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal profile %s: %w", p.AgentName, err)
	}
	query := `
	INSERT INTO learning_profiles (agent_name, body, updated_at)
	VALUES ($1, $2, now())
	ON CONFLICT (agent_name) DO UPDATE SET body = EXCLUDED.body, updated_at = now()`
	if _, err := s.db.ExecContext(ctx, query, p.AgentName, body); err != nil {
		return fmt.Errorf("save profile %s: %w", p.AgentName, err)
	}
	return nil
}

func (s *PostgresProfileStore) Get(ctx context.Context, agentName string) (*contracts.LearningProfile, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM learning_profiles WHERE agent_name = $1`, agentName).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load profile %s: %w", agentName, err)
	}
	var p contracts.LearningProfile
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", agentName, err)
	}
	return &p, nil
}

func (s *PostgresProfileStore) Delete(ctx context.Context, agentName string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM learning_profiles WHERE agent_name = $1`, agentName)
	if err != nil {
		return fmt.Errorf("delete profile %s: %w", agentName, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
