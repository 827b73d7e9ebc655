package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/OrtobomPatricio/crmpro/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CampaignRepository handles campaigns and their recipient fan-out
type CampaignRepository struct {
	db *pgxpool.Pool
}

const campaignColumns = `id, account_id, device_id, name, message_template, media_url, media_type, status,
	scheduled_at, started_at, completed_at, total_recipients, sent_count, failed_count, settings, created_at, updated_at`

func scanCampaign(row pgx.Row) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	var settings []byte
	err := row.Scan(
		&c.ID, &c.AccountID, &c.DeviceID, &c.Name, &c.MessageTemplate, &c.MediaURL, &c.MediaType,
		&c.Status, &c.ScheduledAt, &c.StartedAt, &c.CompletedAt, &c.TotalRecipients,
		&c.SentCount, &c.FailedCount, &settings, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(settings) > 0 {
		_ = json.Unmarshal(settings, &c.Settings)
	}
	return c, nil
}

func (r *CampaignRepository) Create(ctx context.Context, campaign *domain.Campaign) error {
	settings, err := json.Marshal(campaign.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	if string(settings) == "null" {
		settings = []byte("{}")
	}

	return r.db.QueryRow(ctx, `
		INSERT INTO campaigns (account_id, device_id, name, message_template, media_url, media_type, status, scheduled_at, settings)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`, campaign.AccountID, campaign.DeviceID, campaign.Name, campaign.MessageTemplate,
		campaign.MediaURL, campaign.MediaType, campaign.Status, campaign.ScheduledAt, settings).Scan(
		&campaign.ID, &campaign.CreatedAt, &campaign.UpdatedAt,
	)
}

func (r *CampaignRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	return scanCampaign(r.db.QueryRow(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id))
}

func (r *CampaignRepository) List(ctx context.Context, accountID uuid.UUID, filter *domain.CampaignFilter) ([]*domain.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE account_id = $1`
	args := []interface{}{accountID}
	argNum := 1

	if filter != nil && filter.Status != nil && *filter.Status != "" {
		argNum++
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, *filter.Status)
	}

	query += " ORDER BY created_at DESC"

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

	var campaigns []*domain.Campaign
	for rows.Next() {
		c := &domain.Campaign{}
		var settings []byte
		if err := rows.Scan(
			&c.ID, &c.AccountID, &c.DeviceID, &c.Name, &c.MessageTemplate, &c.MediaURL, &c.MediaType,
			&c.Status, &c.ScheduledAt, &c.StartedAt, &c.CompletedAt, &c.TotalRecipients,
			&c.SentCount, &c.FailedCount, &settings, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if len(settings) > 0 {
			_ = json.Unmarshal(settings, &c.Settings)
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// ListScheduledDue returns scheduled campaigns whose start time has passed.
func (r *CampaignRepository) ListScheduledDue(ctx context.Context, now time.Time) ([]*domain.Campaign, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+campaignColumns+` FROM campaigns
		WHERE status = $1 AND scheduled_at IS NOT NULL AND scheduled_at <= $2
	`, domain.CampaignStatusScheduled, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var campaigns []*domain.Campaign
	for rows.Next() {
		c := &domain.Campaign{}
		var settings []byte
		if err := rows.Scan(
			&c.ID, &c.AccountID, &c.DeviceID, &c.Name, &c.MessageTemplate, &c.MediaURL, &c.MediaType,
			&c.Status, &c.ScheduledAt, &c.StartedAt, &c.CompletedAt, &c.TotalRecipients,
			&c.SentCount, &c.FailedCount, &settings, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if len(settings) > 0 {
			_ = json.Unmarshal(settings, &c.Settings)
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// ListRunning returns campaigns currently being drained by the worker.
func (r *CampaignRepository) ListRunning(ctx context.Context) ([]*domain.Campaign, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+campaignColumns+` FROM campaigns WHERE status = $1
	`, domain.CampaignStatusRunning)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var campaigns []*domain.Campaign
	for rows.Next() {
		c := &domain.Campaign{}
		var settings []byte
		if err := rows.Scan(
			&c.ID, &c.AccountID, &c.DeviceID, &c.Name, &c.MessageTemplate, &c.MediaURL, &c.MediaType,
			&c.Status, &c.ScheduledAt, &c.StartedAt, &c.CompletedAt, &c.TotalRecipients,
			&c.SentCount, &c.FailedCount, &settings, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if len(settings) > 0 {
			_ = json.Unmarshal(settings, &c.Settings)
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

func (r *CampaignRepository) Update(ctx context.Context, campaign *domain.Campaign) error {
	settings, err := json.Marshal(campaign.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	if string(settings) == "null" {
		settings = []byte("{}")
	}

	_, err = r.db.Exec(ctx, `
		UPDATE campaigns SET device_id = $2, name = $3, message_template = $4, media_url = $5,
			media_type = $6, scheduled_at = $7, settings = $8, updated_at = NOW()
		WHERE id = $1
	`, campaign.ID, campaign.DeviceID, campaign.Name, campaign.MessageTemplate,
		campaign.MediaURL, campaign.MediaType, campaign.ScheduledAt, settings)
	return err
}

func (r *CampaignRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	var err error
	switch status {
	case domain.CampaignStatusRunning:
		_, err = r.db.Exec(ctx, `
			UPDATE campaigns SET status = $2, started_at = COALESCE(started_at, NOW()), updated_at = NOW() WHERE id = $1
		`, id, status)
	case domain.CampaignStatusCompleted, domain.CampaignStatusFailed:
		_, err = r.db.Exec(ctx, `
			UPDATE campaigns SET status = $2, completed_at = NOW(), updated_at = NOW() WHERE id = $1
		`, id, status)
	default:
		_, err = r.db.Exec(ctx, `
			UPDATE campaigns SET status = $2, updated_at = NOW() WHERE id = $1
		`, id, status)
	}
	return err
}

func (r *CampaignRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM campaigns WHERE id = $1`, id)
	return err
}

// AddRecipients inserts recipients, skipping leads already in the campaign,
// and refreshes the total counter. Returns how many rows were added.
func (r *CampaignRepository) AddRecipients(ctx context.Context, campaignID uuid.UUID, recipients []*domain.CampaignRecipient) (int, error) {
	added := 0
	for _, rec := range recipients {
		tag, err := r.db.Exec(ctx, `
			INSERT INTO campaign_recipients (campaign_id, lead_id, phone, name)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (campaign_id, lead_id) DO NOTHING
		`, campaignID, rec.LeadID, rec.Phone, rec.Name)
		if err != nil {
			return added, err
		}
		added += int(tag.RowsAffected())
	}

	_, err := r.db.Exec(ctx, `
		UPDATE campaigns SET total_recipients = (SELECT COUNT(*) FROM campaign_recipients WHERE campaign_id = $1), updated_at = NOW()
		WHERE id = $1
	`, campaignID)
	return added, err
}

func (r *CampaignRepository) GetRecipients(ctx context.Context, campaignID uuid.UUID) ([]*domain.CampaignRecipient, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, campaign_id, lead_id, phone, name, status, sent_at, error_message, created_at
		FROM campaign_recipients WHERE campaign_id = $1 ORDER BY created_at ASC
	`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recipients []*domain.CampaignRecipient
	for rows.Next() {
		rec := &domain.CampaignRecipient{}
		if err := rows.Scan(&rec.ID, &rec.CampaignID, &rec.LeadID, &rec.Phone, &rec.Name,
			&rec.Status, &rec.SentAt, &rec.Error, &rec.CreatedAt); err != nil {
			return nil, err
		}
		recipients = append(recipients, rec)
	}
	return recipients, rows.Err()
}

// GetNextPendingRecipient pops the oldest unsent recipient, or nil when the
// campaign is drained.
func (r *CampaignRepository) GetNextPendingRecipient(ctx context.Context, campaignID uuid.UUID) (*domain.CampaignRecipient, error) {
	rec := &domain.CampaignRecipient{}
	err := r.db.QueryRow(ctx, `
		SELECT id, campaign_id, lead_id, phone, name, status, sent_at, error_message, created_at
		FROM campaign_recipients
		WHERE campaign_id = $1 AND status = $2
		ORDER BY created_at ASC LIMIT 1
	`, campaignID, domain.RecipientStatusPending).Scan(
		&rec.ID, &rec.CampaignID, &rec.LeadID, &rec.Phone, &rec.Name,
		&rec.Status, &rec.SentAt, &rec.Error, &rec.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *CampaignRepository) UpdateRecipientStatus(ctx context.Context, recipientID uuid.UUID, status string, errorMessage *string) error {
	if status == domain.RecipientStatusSent {
		_, err := r.db.Exec(ctx, `
			UPDATE campaign_recipients SET status = $2, sent_at = NOW(), error_message = NULL WHERE id = $1
		`, recipientID, status)
		return err
	}
	_, err := r.db.Exec(ctx, `
		UPDATE campaign_recipients SET status = $2, error_message = $3 WHERE id = $1
	`, recipientID, status, errorMessage)
	return err
}

func (r *CampaignRepository) IncrementSent(ctx context.Context, campaignID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `UPDATE campaigns SET sent_count = sent_count + 1, updated_at = NOW() WHERE id = $1`, campaignID)
	return err
}

func (r *CampaignRepository) IncrementFailed(ctx context.Context, campaignID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `UPDATE campaigns SET failed_count = failed_count + 1, updated_at = NOW() WHERE id = $1`, campaignID)
	return err
}

// SentInBatch counts sends since the given time, used for batch pacing.
func (r *CampaignRepository) SentSince(ctx context.Context, campaignID uuid.UUID, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM campaign_recipients
		WHERE campaign_id = $1 AND status = $2 AND sent_at >= $3
	`, campaignID, domain.RecipientStatusSent, since).Scan(&count)
	return count, err
}

// LastSentAt returns the time of the most recent send for the campaign.
func (r *CampaignRepository) LastSentAt(ctx context.Context, campaignID uuid.UUID) (*time.Time, error) {
	var at *time.Time
	err := r.db.QueryRow(ctx, `
		SELECT MAX(sent_at) FROM campaign_recipients WHERE campaign_id = $1
	`, campaignID).Scan(&at)
	return at, err
}
