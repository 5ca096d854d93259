package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/malamar-dev/malamar/internal/model"
	"github.com/malamar-dev/malamar/internal/repo"
	"github.com/malamar-dev/malamar/internal/runnererr"
)

// AgentStore implements repo.AgentRepo.
type AgentStore struct {
	db *sql.DB
}

var _ repo.AgentRepo = (*AgentStore)(nil)

func NewAgentStore(db *sql.DB) *AgentStore {
	return &AgentStore{db: db}
}

func (s *AgentStore) FindByWorkspaceID(ctx context.Context, workspaceID string) ([]model.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, name, instruction, cli_type, agent_order, created_at, updated_at
		FROM agents WHERE workspace_id = ? ORDER BY agent_order ASC`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("find agents for workspace %s: %w", workspaceID, err)
	}
	defer rows.Close()

	var out []model.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *AgentStore) FindByID(ctx context.Context, id string) (*model.Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, name, instruction, cli_type, agent_order, created_at, updated_at
		FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, runnererr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find agent %s: %w", id, err)
	}
	return &a, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(r rowScanner) (model.Agent, error) {
	var a model.Agent
	var createdAt, updatedAt string
	err := r.Scan(&a.ID, &a.WorkspaceID, &a.Name, &a.Instruction, &a.CLIType, &a.Order, &createdAt, &updatedAt)
	if err != nil {
		return model.Agent{}, err
	}
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return a, nil
}

func (s *AgentStore) Create(ctx context.Context, agent *model.Agent) error {
	exists, err := s.ExistsByNameInWorkspace(ctx, agent.WorkspaceID, agent.Name, "")
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("agent name %q in workspace %s: %w", agent.Name, agent.WorkspaceID, runnererr.ErrConflict)
	}

	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	now := nowRFC3339()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agents (id, workspace_id, name, instruction, cli_type, agent_order, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		agent.ID, agent.WorkspaceID, agent.Name, agent.Instruction, agent.CLIType, agent.Order, now, now)
	if err != nil {
		return fmt.Errorf("create agent %s: %w", agent.Name, err)
	}
	return nil
}

func (s *AgentStore) Update(ctx context.Context, agent *model.Agent) error {
	exists, err := s.ExistsByNameInWorkspace(ctx, agent.WorkspaceID, agent.Name, agent.ID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("agent name %q in workspace %s: %w", agent.Name, agent.WorkspaceID, runnererr.ErrConflict)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE agents SET name = ?, instruction = ?, cli_type = ?, agent_order = ?, updated_at = ?
		WHERE id = ?`,
		agent.Name, agent.Instruction, agent.CLIType, agent.Order, nowRFC3339(), agent.ID)
	if err != nil {
		return fmt.Errorf("update agent %s: %w", agent.ID, err)
	}
	return checkAffected(res, runnererr.ErrNotFound)
}

func (s *AgentStore) DeleteByID(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete agent %s: %w", id, err)
	}
	return checkAffected(res, runnererr.ErrNotFound)
}

func (s *AgentStore) ExistsByNameInWorkspace(ctx context.Context, workspaceID, name string, excludeID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM agents WHERE workspace_id = ? AND name = ? AND id != ?`,
		workspaceID, name, excludeID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check agent name %q: %w", name, err)
	}
	return count > 0, nil
}

func (s *AgentStore) GetMaxOrder(ctx context.Context, workspaceID string) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(agent_order) FROM agents WHERE workspace_id = ?`, workspaceID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max agent order for workspace %s: %w", workspaceID, err)
	}
	if !max.Valid {
		return 0, nil
	}
	return int(max.Int64), nil
}

// Reorder rewrites agent_order to 1..N following orderedAgentIDs, validating
// first that the id set is exactly the workspace's current agents (spec.md
// §3 invariant: order values form a permutation of 1..N after any reorder).
func (s *AgentStore) Reorder(ctx context.Context, workspaceID string, orderedAgentIDs []string) error {
	if err := s.ValidateAgentIDs(ctx, workspaceID, orderedAgentIDs); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reorder tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Stage through a negative offset so the UNIQUE(workspace_id, agent_order)
	// constraint never collides mid-update.
	now := nowRFC3339()
	for i, id := range orderedAgentIDs {
		if _, err := tx.ExecContext(ctx, `UPDATE agents SET agent_order = ?, updated_at = ? WHERE id = ? AND workspace_id = ?`,
			-(i + 1), now, id, workspaceID); err != nil {
			return fmt.Errorf("stage reorder of agent %s: %w", id, err)
		}
	}
	for i, id := range orderedAgentIDs {
		if _, err := tx.ExecContext(ctx, `UPDATE agents SET agent_order = ?, updated_at = ? WHERE id = ? AND workspace_id = ?`,
			i+1, now, id, workspaceID); err != nil {
			return fmt.Errorf("commit reorder of agent %s: %w", id, err)
		}
	}

	return tx.Commit()
}

func (s *AgentStore) ValidateAgentIDs(ctx context.Context, workspaceID string, agentIDs []string) error {
	current, err := s.FindByWorkspaceID(ctx, workspaceID)
	if err != nil {
		return err
	}

	want := make([]string, len(agentIDs))
	copy(want, agentIDs)
	sort.Strings(want)

	have := make([]string, len(current))
	for i, a := range current {
		have[i] = a.ID
	}
	sort.Strings(have)

	if len(want) != len(have) {
		return fmt.Errorf("reorder agent id set mismatch for workspace %s: %w", workspaceID, runnererr.ErrConflict)
	}
	for i := range want {
		if want[i] != have[i] {
			return fmt.Errorf("reorder agent id set mismatch for workspace %s: %w", workspaceID, runnererr.ErrConflict)
		}
	}
	return nil
}
