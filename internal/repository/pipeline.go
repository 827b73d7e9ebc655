package repository

import (
	"context"

	"github.com/OrtobomPatricio/crmpro/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PipelineRepository handles pipelines and their ordered stages
type PipelineRepository struct {
	db *pgxpool.Pool
}

func (r *PipelineRepository) GetByAccountID(ctx context.Context, accountID uuid.UUID) ([]*domain.Pipeline, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, account_id, name, is_default, created_at, updated_at
		FROM pipelines WHERE account_id = $1 ORDER BY created_at ASC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pipelines []*domain.Pipeline
	for rows.Next() {
		p := &domain.Pipeline{}
		if err := rows.Scan(&p.ID, &p.AccountID, &p.Name, &p.IsDefault, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		pipelines = append(pipelines, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, p := range pipelines {
		stages, err := r.GetStages(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		p.Stages = stages
	}
	return pipelines, nil
}

func (r *PipelineRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Pipeline, error) {
	p := &domain.Pipeline{}
	err := r.db.QueryRow(ctx, `
		SELECT id, account_id, name, is_default, created_at, updated_at
		FROM pipelines WHERE id = $1
	`, id).Scan(&p.ID, &p.AccountID, &p.Name, &p.IsDefault, &p.CreatedAt, &p.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Stages, err = r.GetStages(ctx, p.ID)
	return p, err
}

// FirstStage returns the entry stage of the account's default pipeline.
func (r *PipelineRepository) FirstStage(ctx context.Context, accountID uuid.UUID) (*domain.PipelineStage, error) {
	s := &domain.PipelineStage{}
	err := r.db.QueryRow(ctx, `
		SELECT s.id, s.pipeline_id, s.name, s.color, s.position, s.created_at
		FROM pipeline_stages s
		JOIN pipelines p ON p.id = s.pipeline_id
		WHERE p.account_id = $1 AND p.is_default = TRUE
		ORDER BY s.position ASC LIMIT 1
	`, accountID).Scan(&s.ID, &s.PipelineID, &s.Name, &s.Color, &s.Position, &s.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *PipelineRepository) GetStages(ctx context.Context, pipelineID uuid.UUID) ([]domain.PipelineStage, error) {
	rows, err := r.db.Query(ctx, `
		SELECT s.id, s.pipeline_id, s.name, s.color, s.position, s.created_at,
		       (SELECT COUNT(*) FROM leads l WHERE l.pipeline_stage_id = s.id)
		FROM pipeline_stages s
		WHERE s.pipeline_id = $1 ORDER BY s.position ASC
	`, pipelineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stages []domain.PipelineStage
	for rows.Next() {
		s := domain.PipelineStage{}
		if err := rows.Scan(&s.ID, &s.PipelineID, &s.Name, &s.Color, &s.Position, &s.CreatedAt, &s.LeadCount); err != nil {
			return nil, err
		}
		stages = append(stages, s)
	}
	return stages, rows.Err()
}

func (r *PipelineRepository) GetStageByID(ctx context.Context, stageID uuid.UUID) (*domain.PipelineStage, error) {
	s := &domain.PipelineStage{}
	err := r.db.QueryRow(ctx, `
		SELECT id, pipeline_id, name, color, position, created_at
		FROM pipeline_stages WHERE id = $1
	`, stageID).Scan(&s.ID, &s.PipelineID, &s.Name, &s.Color, &s.Position, &s.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *PipelineRepository) Create(ctx context.Context, pipeline *domain.Pipeline) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO pipelines (account_id, name, is_default)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`, pipeline.AccountID, pipeline.Name, pipeline.IsDefault).Scan(
		&pipeline.ID, &pipeline.CreatedAt, &pipeline.UpdatedAt,
	)
}

func (r *PipelineRepository) Update(ctx context.Context, pipeline *domain.Pipeline) error {
	_, err := r.db.Exec(ctx, `
		UPDATE pipelines SET name = $2, updated_at = NOW() WHERE id = $1
	`, pipeline.ID, pipeline.Name)
	return err
}

func (r *PipelineRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM pipelines WHERE id = $1 AND is_default = FALSE`, id)
	return err
}

func (r *PipelineRepository) CreateStage(ctx context.Context, stage *domain.PipelineStage) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO pipeline_stages (pipeline_id, name, color, position)
		VALUES ($1, $2, $3, (SELECT COALESCE(MAX(position), -1) + 1 FROM pipeline_stages WHERE pipeline_id = $1))
		RETURNING id, position, created_at
	`, stage.PipelineID, stage.Name, stage.Color).Scan(&stage.ID, &stage.Position, &stage.CreatedAt)
}

func (r *PipelineRepository) UpdateStage(ctx context.Context, stage *domain.PipelineStage) error {
	_, err := r.db.Exec(ctx, `
		UPDATE pipeline_stages SET name = $2, color = $3 WHERE id = $1
	`, stage.ID, stage.Name, stage.Color)
	return err
}

// ReorderStages rewrites positions to match the given stage id order.
func (r *PipelineRepository) ReorderStages(ctx context.Context, pipelineID uuid.UUID, stageIDs []uuid.UUID) error {
	for i, stageID := range stageIDs {
		if _, err := r.db.Exec(ctx, `
			UPDATE pipeline_stages SET position = $3 WHERE id = $1 AND pipeline_id = $2
		`, stageID, pipelineID, i); err != nil {
			return err
		}
	}
	return nil
}

func (r *PipelineRepository) DeleteStage(ctx context.Context, stageID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM pipeline_stages WHERE id = $1`, stageID)
	return err
}
