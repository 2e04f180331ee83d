// File: internal/store/store.go
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/AGmitmanipal/MINDMESH/api/schemas"
)

// DBPool abstracts pgxpool.Pool so the store can be tested with pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Store is the PostgreSQL implementation of the Storage collaborator. Memory
// nodes and embeddings are append-only; settings live in a single keyed row.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.Storage = (*Store)(nil)

// New creates a store and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the agent tables when they do not exist yet. Called
// once at service startup; safe to repeat.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS agent_settings (
            id                 INT PRIMARY KEY DEFAULT 1,
            enabled            BOOLEAN NOT NULL DEFAULT TRUE,
            dry_run            BOOLEAN NOT NULL DEFAULT FALSE,
            max_depth          INT NOT NULL DEFAULT 0,
            max_actions        INT NOT NULL DEFAULT 0,
            navigation_budget  INT NOT NULL DEFAULT 0,
            click_budget       INT NOT NULL DEFAULT 0,
            allowlist_domains  TEXT[] NOT NULL DEFAULT '{}',
            per_step_timeout_ms INT NOT NULL DEFAULT 0,
            retries            INT NOT NULL DEFAULT 0
        );`,
		`CREATE TABLE IF NOT EXISTS agent_logs (
            id         BIGSERIAL PRIMARY KEY,
            run_id     TEXT NOT NULL,
            level      TEXT NOT NULL,
            message    TEXT NOT NULL,
            url        TEXT,
            step       INT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS agent_memory_nodes (
            id         TEXT PRIMARY KEY,
            run_id     TEXT NOT NULL,
            step       INT NOT NULL,
            url        TEXT NOT NULL,
            title      TEXT,
            summary    TEXT,
            action     JSONB NOT NULL DEFAULT '{}',
            keywords   TEXT[] NOT NULL DEFAULT '{}',
            created_at TIMESTAMPTZ NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS agent_embeddings (
            node_id    TEXT PRIMARY KEY REFERENCES agent_memory_nodes(id),
            vector     REAL[] NOT NULL,
            metadata   JSONB NOT NULL DEFAULT '{}'
        );`,
	}

	for _, stmt := range ddl {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure agent schema: %w", err)
		}
	}
	return nil
}

// GetAgentSettings returns the stored per-installation settings. An
// installation without a settings row gets permissive defaults so the
// configured values apply unchanged.
func (s *Store) GetAgentSettings(ctx context.Context) (schemas.AgentSettings, error) {
	query := `
        SELECT enabled, dry_run, max_depth, max_actions, navigation_budget,
               click_budget, allowlist_domains, per_step_timeout_ms, retries
        FROM agent_settings
        WHERE id = 1;
    `

	var out schemas.AgentSettings
	err := s.pool.QueryRow(ctx, query).Scan(
		&out.Enabled, &out.DryRun, &out.MaxDepth, &out.MaxActions,
		&out.NavigationBudget, &out.ClickBudget, &out.AllowlistDomains,
		&out.PerStepTimeoutMs, &out.Retries,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		s.log.Debug("no stored agent settings, using configuration")
		return schemas.AgentSettings{Enabled: true}, nil
	}
	if err != nil {
		return schemas.AgentSettings{}, fmt.Errorf("failed to query agent settings: %w", err)
	}
	return out, nil
}

// AddAgentLog appends one structured log row.
func (s *Store) AddAgentLog(ctx context.Context, entry schemas.AgentLogEntry) error {
	query := `
        INSERT INTO agent_logs (run_id, level, message, url, step, created_at)
        VALUES ($1, $2, $3, $4, $5, $6);
    `

	_, err := s.pool.Exec(ctx, query,
		entry.RunID, entry.Level, entry.Message, entry.URL, entry.Step,
		entry.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert agent log: %w", err)
	}
	return nil
}

// AddMemoryNode persists one step's memory record. The action payload is
// stored as JSONB so it survives changes to the action grammar.
func (s *Store) AddMemoryNode(ctx context.Context, node schemas.MemoryRecord) error {
	actionJSON := []byte("{}")
	if node.Action != nil {
		b, err := json.Marshal(node.Action)
		if err != nil {
			return fmt.Errorf("failed to marshal memory node action: %w", err)
		}
		actionJSON = b
	}

	keywords := node.Keywords
	if keywords == nil {
		keywords = []string{}
	}

	query := `
        INSERT INTO agent_memory_nodes (id, run_id, step, url, title, summary, action, keywords, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
    `

	_, err := s.pool.Exec(ctx, query,
		node.ID, node.RunID, node.Step, node.URL, node.Title, node.Summary,
		actionJSON, keywords, node.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert memory node %s: %w", node.ID, err)
	}
	return nil
}

// StoreEmbedding attaches an embedding vector to an existing memory node.
func (s *Store) StoreEmbedding(ctx context.Context, nodeID string, emb schemas.Embedding) error {
	metadata := []byte("{}")
	if len(emb.Metadata) > 0 {
		b, err := json.Marshal(emb.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal embedding metadata: %w", err)
		}
		metadata = b
	}

	query := `
        INSERT INTO agent_embeddings (node_id, vector, metadata)
        VALUES ($1, $2, $3)
        ON CONFLICT (node_id) DO UPDATE SET
            vector = EXCLUDED.vector,
            metadata = EXCLUDED.metadata;
    `

	_, err := s.pool.Exec(ctx, query, nodeID, emb.Vector, metadata)
	if err != nil {
		return fmt.Errorf("failed to store embedding for node %s: %w", nodeID, err)
	}
	return nil
}

// GetMemoryNodes returns a run's memory records in step order.
func (s *Store) GetMemoryNodes(ctx context.Context, runID string) ([]schemas.MemoryRecord, error) {
	query := `
        SELECT id, step, url, title, summary, action, keywords, created_at
        FROM agent_memory_nodes
        WHERE run_id = $1
        ORDER BY step ASC;
    `

	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query memory nodes: %w", err)
	}
	defer rows.Close()

	var nodes []schemas.MemoryRecord
	for rows.Next() {
		var n schemas.MemoryRecord
		var actionJSON []byte

		if err := rows.Scan(&n.ID, &n.Step, &n.URL, &n.Title, &n.Summary, &actionJSON, &n.Keywords, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan memory node row: %w", err)
		}

		if len(actionJSON) > 0 && string(actionJSON) != "{}" {
			var a schemas.Action
			if err := json.Unmarshal(actionJSON, &a); err != nil {
				return nil, fmt.Errorf("failed to decode action for node %s: %w", n.ID, err)
			}
			n.Action = &a
		}

		n.RunID = runID
		nodes = append(nodes, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return nodes, nil
}
