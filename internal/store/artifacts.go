// ABOUTME: Typed loaders/writers for PhaseArtifact rows.
// ABOUTME: Artifacts accumulate historically per node; callers select "latest" by created_at/id.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hansjm10/alphred/internal/workflow"
)

const phaseArtifactColumns = `id, workflow_run_id, run_node_id, artifact_type, content_type, content, metadata, created_at`

func scanPhaseArtifact(row interface{ Scan(dest ...any) error }) (*workflow.PhaseArtifact, error) {
	var (
		a            workflow.PhaseArtifact
		artifactType string
		metadataRaw  string
		createdAt    string
	)
	if err := row.Scan(&a.ID, &a.WorkflowRunID, &a.RunNodeID, &artifactType, &a.ContentType, &a.Content, &metadataRaw, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, workflow.NewErrNotFound("phase_artifact", "")
		}
		return nil, fmt.Errorf("scan phase artifact: %w", err)
	}
	a.ArtifactType = workflow.ArtifactType(artifactType)
	if metadataRaw != "" {
		if err := json.Unmarshal([]byte(metadataRaw), &a.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal artifact metadata: %w", err)
		}
	}
	t, err := parseTime(sql.NullString{String: createdAt, Valid: true})
	if err != nil {
		return nil, err
	}
	a.CreatedAt = *t
	return &a, nil
}

// InsertArtifact inserts a new phase-artifact row.
func (tx *Tx) InsertArtifact(ctx context.Context, a *workflow.PhaseArtifact) error {
	metadataRaw := "{}"
	if a.Metadata != nil {
		b, err := json.Marshal(a.Metadata)
		if err != nil {
			return fmt.Errorf("marshal artifact metadata: %w", err)
		}
		metadataRaw = string(b)
	}
	createdAt := a.CreatedAt
	_, err := tx.tx.ExecContext(ctx,
		`INSERT INTO phase_artifacts (id, workflow_run_id, run_node_id, artifact_type, content_type, content, metadata, created_at)
		 VALUES (?,?,?,?,?,?,?,?)`,
		a.ID, a.WorkflowRunID, a.RunNodeID, string(a.ArtifactType), a.ContentType, a.Content, metadataRaw, formatTime(&createdAt))
	if err != nil {
		return fmt.Errorf("insert phase artifact: %w", err)
	}
	return nil
}

// GetArtifact loads a single artifact by id within a transaction.
func (tx *Tx) GetArtifact(ctx context.Context, id string) (*workflow.PhaseArtifact, error) {
	row := tx.tx.QueryRowContext(ctx, "SELECT "+phaseArtifactColumns+" FROM phase_artifacts WHERE id = ?", id)
	a, err := scanPhaseArtifact(row)
	if err != nil {
		if nf, ok := err.(*workflow.ErrNotFound); ok {
			nf.ID = id
		}
		return nil, err
	}
	return a, nil
}

// ListArtifactsByNode loads all artifacts for a run-node, oldest first.
func (s *Store) ListArtifactsByNode(ctx context.Context, runNodeID string) ([]*workflow.PhaseArtifact, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+phaseArtifactColumns+" FROM phase_artifacts WHERE run_node_id = ? ORDER BY created_at ASC, id ASC", runNodeID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts by node: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectArtifacts(rows)
}

// ListArtifactsByNode loads all artifacts for a run-node within a transaction.
func (tx *Tx) ListArtifactsByNode(ctx context.Context, runNodeID string) ([]*workflow.PhaseArtifact, error) {
	rows, err := tx.tx.QueryContext(ctx,
		"SELECT "+phaseArtifactColumns+" FROM phase_artifacts WHERE run_node_id = ? ORDER BY created_at ASC, id ASC", runNodeID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts by node: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectArtifacts(rows)
}

func collectArtifacts(rows *sql.Rows) ([]*workflow.PhaseArtifact, error) {
	var out []*workflow.PhaseArtifact
	for rows.Next() {
		a, err := scanPhaseArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// LatestArtifactByNodeAndType returns the most recently created artifact of
// the given type for a run-node, or nil if none exists.
func (tx *Tx) LatestArtifactByNodeAndType(ctx context.Context, runNodeID string, artifactType workflow.ArtifactType) (*workflow.PhaseArtifact, error) {
	row := tx.tx.QueryRowContext(ctx,
		"SELECT "+phaseArtifactColumns+` FROM phase_artifacts WHERE run_node_id = ? AND artifact_type = ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`, runNodeID, string(artifactType))
	a, err := scanPhaseArtifact(row)
	if err != nil {
		if _, ok := err.(*workflow.ErrNotFound); ok {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}
