package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/OrtobomPatricio/crmpro/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SettingsRepository handles the per-account settings singleton row
type SettingsRepository struct {
	db *pgxpool.Pool
}

// Get returns the account's settings, creating the default row on first use.
func (r *SettingsRepository) Get(ctx context.Context, accountID uuid.UUID) (*domain.AppSettings, error) {
	defaults, err := json.Marshal(domain.DefaultAppSettings())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal default settings: %w", err)
	}

	settings := &domain.AppSettings{}
	var data []byte
	err = r.db.QueryRow(ctx, `
		INSERT INTO app_settings (account_id, data)
		VALUES ($1, $2)
		ON CONFLICT (account_id) DO UPDATE SET account_id = EXCLUDED.account_id
		RETURNING account_id, data, updated_at
	`, accountID, defaults).Scan(&settings.AccountID, &data, &settings.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &settings.Data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	return settings, nil
}

// Update merges the given keys into the stored JSON document.
func (r *SettingsRepository) Update(ctx context.Context, accountID uuid.UUID, patch map[string]interface{}) (*domain.AppSettings, error) {
	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settings patch: %w", err)
	}

	settings := &domain.AppSettings{}
	var data []byte
	err = r.db.QueryRow(ctx, `
		INSERT INTO app_settings (account_id, data)
		VALUES ($1, $2)
		ON CONFLICT (account_id) DO UPDATE SET data = app_settings.data || EXCLUDED.data, updated_at = NOW()
		RETURNING account_id, data, updated_at
	`, accountID, patchJSON).Scan(&settings.AccountID, &data, &settings.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &settings.Data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	return settings, nil
}
