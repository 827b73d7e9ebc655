package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/OrtobomPatricio/crmpro/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LeadRepository handles lead data access. Leads are deduplicated by
// (account_id, phone); Create is an upsert against that key.
type LeadRepository struct {
	db *pgxpool.Pool
}

const leadColumns = `l.id, l.account_id, l.name, l.phone, l.email, l.pipeline_stage_id, l.kanban_order,
	l.status, l.source, l.assigned_user_id, l.notes, l.custom_fields, l.avatar_url, l.last_contact_at,
	l.created_at, l.updated_at,
	COALESCE(s.name, ''), COALESCE(u.display_name, '')`

const leadJoins = `FROM leads l
	LEFT JOIN pipeline_stages s ON s.id = l.pipeline_stage_id
	LEFT JOIN users u ON u.id = l.assigned_user_id`

func scanLead(row pgx.Row) (*domain.Lead, error) {
	lead := &domain.Lead{}
	var customFields []byte
	err := row.Scan(
		&lead.ID, &lead.AccountID, &lead.Name, &lead.Phone, &lead.Email, &lead.PipelineStageID,
		&lead.KanbanOrder, &lead.Status, &lead.Source, &lead.AssignedUserID, &lead.Notes,
		&customFields, &lead.AvatarURL, &lead.LastContactAt, &lead.CreatedAt, &lead.UpdatedAt,
		&lead.StageName, &lead.AssignedName,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(customFields) > 0 {
		_ = json.Unmarshal(customFields, &lead.CustomFields)
	}
	return lead, nil
}

// Create inserts a lead or, when the phone already exists for the account,
// merges the non-empty fields into the existing row and returns it.
func (r *LeadRepository) Create(ctx context.Context, lead *domain.Lead) error {
	customFields, err := json.Marshal(lead.CustomFields)
	if err != nil {
		return fmt.Errorf("failed to marshal custom fields: %w", err)
	}
	if string(customFields) == "null" {
		customFields = []byte("{}")
	}

	return r.db.QueryRow(ctx, `
		INSERT INTO leads (account_id, name, phone, email, pipeline_stage_id, kanban_order, status, source, assigned_user_id, notes, custom_fields, avatar_url, last_contact_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (account_id, phone) DO UPDATE SET
			name = COALESCE(NULLIF(EXCLUDED.name, ''), leads.name),
			email = COALESCE(EXCLUDED.email, leads.email),
			notes = COALESCE(EXCLUDED.notes, leads.notes),
			custom_fields = leads.custom_fields || EXCLUDED.custom_fields,
			last_contact_at = COALESCE(EXCLUDED.last_contact_at, leads.last_contact_at),
			updated_at = NOW()
		RETURNING id, pipeline_stage_id, kanban_order, status, created_at, updated_at
	`, lead.AccountID, lead.Name, lead.Phone, lead.Email, lead.PipelineStageID, lead.KanbanOrder,
		lead.Status, lead.Source, lead.AssignedUserID, lead.Notes, customFields, lead.AvatarURL,
		lead.LastContactAt).Scan(
		&lead.ID, &lead.PipelineStageID, &lead.KanbanOrder, &lead.Status, &lead.CreatedAt, &lead.UpdatedAt,
	)
}

func (r *LeadRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Lead, error) {
	return scanLead(r.db.QueryRow(ctx, `SELECT `+leadColumns+` `+leadJoins+` WHERE l.id = $1`, id))
}

func (r *LeadRepository) GetByPhone(ctx context.Context, accountID uuid.UUID, phone string) (*domain.Lead, error) {
	return scanLead(r.db.QueryRow(ctx, `
		SELECT `+leadColumns+` `+leadJoins+`
		WHERE l.account_id = $1 AND l.phone = $2
	`, accountID, phone))
}

func (r *LeadRepository) List(ctx context.Context, accountID uuid.UUID, filter *domain.LeadFilter) ([]*domain.Lead, error) {
	query := `SELECT ` + leadColumns + ` ` + leadJoins + ` WHERE l.account_id = $1`
	args := []interface{}{accountID}
	argNum := 1

	if filter != nil {
		if filter.StageID != nil {
			argNum++
			query += fmt.Sprintf(" AND l.pipeline_stage_id = $%d", argNum)
			args = append(args, *filter.StageID)
		}
		if filter.Status != nil && *filter.Status != "" {
			argNum++
			query += fmt.Sprintf(" AND l.status = $%d", argNum)
			args = append(args, *filter.Status)
		}
		if filter.AssignedUserID != nil {
			argNum++
			query += fmt.Sprintf(" AND l.assigned_user_id = $%d", argNum)
			args = append(args, *filter.AssignedUserID)
		}
		if filter.Source != nil && *filter.Source != "" {
			argNum++
			query += fmt.Sprintf(" AND l.source = $%d", argNum)
			args = append(args, *filter.Source)
		}
		if filter.Search != nil && *filter.Search != "" {
			argNum++
			query += fmt.Sprintf(" AND (l.name ILIKE $%d OR l.phone ILIKE $%d OR l.email ILIKE $%d)", argNum, argNum, argNum)
			args = append(args, "%"+*filter.Search+"%")
		}
	}

	query += " ORDER BY l.kanban_order ASC, l.created_at DESC"

	if filter != nil && filter.Limit > 0 {
		argNum++
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			argNum++
			query += fmt.Sprintf(" OFFSET $%d", argNum)
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var leads []*domain.Lead
	for rows.Next() {
		lead := &domain.Lead{}
		var customFields []byte
		if err := rows.Scan(
			&lead.ID, &lead.AccountID, &lead.Name, &lead.Phone, &lead.Email, &lead.PipelineStageID,
			&lead.KanbanOrder, &lead.Status, &lead.Source, &lead.AssignedUserID, &lead.Notes,
			&customFields, &lead.AvatarURL, &lead.LastContactAt, &lead.CreatedAt, &lead.UpdatedAt,
			&lead.StageName, &lead.AssignedName,
		); err != nil {
			return nil, err
		}
		if len(customFields) > 0 {
			_ = json.Unmarshal(customFields, &lead.CustomFields)
		}
		leads = append(leads, lead)
	}
	return leads, rows.Err()
}

func (r *LeadRepository) Update(ctx context.Context, lead *domain.Lead) error {
	customFields, err := json.Marshal(lead.CustomFields)
	if err != nil {
		return fmt.Errorf("failed to marshal custom fields: %w", err)
	}
	if string(customFields) == "null" {
		customFields = []byte("{}")
	}

	_, err = r.db.Exec(ctx, `
		UPDATE leads SET name = $2, phone = $3, email = $4, status = $5, source = $6,
			assigned_user_id = $7, notes = $8, custom_fields = $9, avatar_url = $10, updated_at = NOW()
		WHERE id = $1
	`, lead.ID, lead.Name, lead.Phone, lead.Email, lead.Status, lead.Source,
		lead.AssignedUserID, lead.Notes, customFields, lead.AvatarURL)
	return err
}

func (r *LeadRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := r.db.Exec(ctx, `UPDATE leads SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	return err
}

// UpdateStage moves a lead to a stage, appending it at the end of that
// stage's kanban column.
func (r *LeadRepository) UpdateStage(ctx context.Context, id, stageID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE leads SET pipeline_stage_id = $2,
			kanban_order = (SELECT COALESCE(MAX(kanban_order), 0) + 1 FROM leads WHERE pipeline_stage_id = $2),
			updated_at = NOW()
		WHERE id = $1
	`, id, stageID)
	return err
}

// UpdateKanbanOrder sets an explicit position within the current stage.
func (r *LeadRepository) UpdateKanbanOrder(ctx context.Context, id uuid.UUID, order int) error {
	_, err := r.db.Exec(ctx, `UPDATE leads SET kanban_order = $2, updated_at = NOW() WHERE id = $1`, id, order)
	return err
}

// NextKanbanOrder returns the next free position at the end of a stage.
func (r *LeadRepository) NextKanbanOrder(ctx context.Context, stageID uuid.UUID) (int, error) {
	var next int
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(MAX(kanban_order), 0) + 1 FROM leads WHERE pipeline_stage_id = $1
	`, stageID).Scan(&next)
	return next, err
}

func (r *LeadRepository) TouchLastContact(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `UPDATE leads SET last_contact_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	return err
}

func (r *LeadRepository) UpdateAvatar(ctx context.Context, id uuid.UUID, avatarURL string) error {
	_, err := r.db.Exec(ctx, `UPDATE leads SET avatar_url = $2, updated_at = NOW() WHERE id = $1`, id, avatarURL)
	return err
}

func (r *LeadRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM leads WHERE id = $1`, id)
	return err
}

func (r *LeadRepository) DeleteBatch(ctx context.Context, accountID uuid.UUID, ids []uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM leads WHERE account_id = $1 AND id = ANY($2)`, accountID, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *LeadRepository) CountByAccount(ctx context.Context, accountID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM leads WHERE account_id = $1`, accountID).Scan(&count)
	return count, err
}
