package database

import (
	"context"
	"fmt"
	"time"

	"github.com/OrtobomPatricio/crmpro/pkg/config"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

func Connect(databaseURL string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

func Migrate(db *pgxpool.Pool) error {
	ctx := context.Background()

	migrations := []string{
		// Accounts table (multi-tenant)
		`CREATE TABLE IF NOT EXISTS accounts (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name VARCHAR(255) NOT NULL,
			slug VARCHAR(255),
			plan VARCHAR(50) DEFAULT 'free',
			max_devices INT DEFAULT 5,
			is_active BOOLEAN DEFAULT TRUE,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,

		// Users table
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			account_id UUID NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			username VARCHAR(255) UNIQUE NOT NULL,
			email VARCHAR(255) UNIQUE NOT NULL,
			password_hash VARCHAR(255) NOT NULL,
			display_name VARCHAR(255),
			role VARCHAR(50) DEFAULT 'agent',
			is_active BOOLEAN DEFAULT TRUE,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,

		// Devices table (WhatsApp channel sessions)
		`CREATE TABLE IF NOT EXISTS devices (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			account_id UUID NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			name VARCHAR(255),
			phone VARCHAR(50),
			jid VARCHAR(255),
			status VARCHAR(50) DEFAULT 'disconnected',
			qr_code TEXT,
			last_seen_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,

		// Pipelines table
		`CREATE TABLE IF NOT EXISTS pipelines (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			account_id UUID NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			name VARCHAR(255) NOT NULL,
			is_default BOOLEAN DEFAULT FALSE,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,

		// Pipeline stages table
		`CREATE TABLE IF NOT EXISTS pipeline_stages (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			pipeline_id UUID NOT NULL REFERENCES pipelines(id) ON DELETE CASCADE,
			name VARCHAR(255) NOT NULL,
			color VARCHAR(50) DEFAULT '#6366f1',
			position INT DEFAULT 0,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,

		// Leads table (contact + funnel position; phone is the dedup key)
		`CREATE TABLE IF NOT EXISTS leads (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			account_id UUID NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			name VARCHAR(255),
			phone VARCHAR(50) NOT NULL,
			email VARCHAR(255),
			pipeline_stage_id UUID REFERENCES pipeline_stages(id) ON DELETE SET NULL,
			kanban_order INT DEFAULT 0,
			status VARCHAR(50) DEFAULT 'new',
			source VARCHAR(100),
			assigned_user_id UUID REFERENCES users(id) ON DELETE SET NULL,
			notes TEXT,
			custom_fields JSONB DEFAULT '{}',
			avatar_url TEXT,
			last_contact_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(account_id, phone)
		)`,

		// Conversations table (channel threads)
		`CREATE TABLE IF NOT EXISTS conversations (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			account_id UUID NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			device_id UUID REFERENCES devices(id) ON DELETE SET NULL,
			lead_id UUID REFERENCES leads(id) ON DELETE SET NULL,
			channel_jid VARCHAR(255) NOT NULL,
			last_message TEXT,
			last_message_at TIMESTAMPTZ,
			unread_count INT DEFAULT 0,
			is_archived BOOLEAN DEFAULT FALSE,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(account_id, channel_jid)
		)`,

		// Messages table
		`CREATE TABLE IF NOT EXISTS messages (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			account_id UUID NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			device_id UUID REFERENCES devices(id) ON DELETE SET NULL,
			conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			message_id VARCHAR(255) NOT NULL,
			direction VARCHAR(10) NOT NULL DEFAULT 'in',
			from_jid VARCHAR(255),
			from_name VARCHAR(255),
			body TEXT,
			message_type VARCHAR(50) DEFAULT 'text',
			media_url TEXT,
			media_mimetype VARCHAR(100),
			media_size BIGINT,
			status VARCHAR(50) DEFAULT 'sent',
			timestamp TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(account_id, device_id, message_id)
		)`,

		// Campaigns (mass messaging)
		`CREATE TABLE IF NOT EXISTS campaigns (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			account_id UUID NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			device_id UUID REFERENCES devices(id) ON DELETE SET NULL,
			name VARCHAR(255) NOT NULL,
			message_template TEXT NOT NULL DEFAULT '',
			media_url TEXT,
			media_type VARCHAR(50),
			status VARCHAR(50) DEFAULT 'draft',
			scheduled_at TIMESTAMPTZ,
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			total_recipients INT DEFAULT 0,
			sent_count INT DEFAULT 0,
			failed_count INT DEFAULT 0,
			settings JSONB DEFAULT '{}',
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS campaign_recipients (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			campaign_id UUID NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
			lead_id UUID NOT NULL REFERENCES leads(id) ON DELETE CASCADE,
			phone VARCHAR(50) NOT NULL,
			name VARCHAR(255),
			status VARCHAR(50) DEFAULT 'pending',
			sent_at TIMESTAMPTZ,
			error_message TEXT,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(campaign_id, lead_id)
		)`,

		// App settings singleton (one row per account)
		`CREATE TABLE IF NOT EXISTS app_settings (
			account_id UUID PRIMARY KEY REFERENCES accounts(id) ON DELETE CASCADE,
			data JSONB NOT NULL DEFAULT '{}',
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,

		// Indexes for performance
		`CREATE INDEX IF NOT EXISTS idx_users_account ON users(account_id)`,
		`CREATE INDEX IF NOT EXISTS idx_devices_account ON devices(account_id)`,
		`CREATE INDEX IF NOT EXISTS idx_leads_account ON leads(account_id)`,
		`CREATE INDEX IF NOT EXISTS idx_leads_status ON leads(status)`,
		`CREATE INDEX IF NOT EXISTS idx_leads_stage ON leads(pipeline_stage_id)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_account ON conversations(account_id)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_lead ON conversations(lead_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_campaigns_account ON campaigns(account_id)`,
		`CREATE INDEX IF NOT EXISTS idx_campaigns_status ON campaigns(status)`,
		`CREATE INDEX IF NOT EXISTS idx_campaign_recipients_campaign ON campaign_recipients(campaign_id)`,
		`CREATE INDEX IF NOT EXISTS idx_campaign_recipients_status ON campaign_recipients(status)`,
	}

	for _, migration := range migrations {
		if _, err := db.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, migration)
		}
	}

	return nil
}

func SeedAdmin(db *pgxpool.Pool, cfg *config.Config) error {
	ctx := context.Background()

	// Check if admin exists
	var count int
	err := db.QueryRow(ctx, "SELECT COUNT(*) FROM users WHERE username = $1", cfg.AdminUser).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check admin existence: %w", err)
	}

	if count > 0 {
		return nil // Admin already exists
	}

	// Create default account
	var accountID string
	err = db.QueryRow(ctx, `
		INSERT INTO accounts (name, slug, plan, max_devices)
		VALUES ('Default Account', 'default', 'enterprise', 200)
		ON CONFLICT DO NOTHING
		RETURNING id
	`).Scan(&accountID)
	if err != nil {
		// Try to get existing account
		err = db.QueryRow(ctx, "SELECT id FROM accounts WHERE name = 'Default Account'").Scan(&accountID)
		if err != nil {
			return fmt.Errorf("failed to create/get default account: %w", err)
		}
	}

	// Hash password
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	// Create or update admin user (super_admin)
	_, err = db.Exec(ctx, `
		INSERT INTO users (account_id, username, email, password_hash, display_name, role)
		VALUES ($1, $2, $3, $4, 'Administrador', 'super_admin')
		ON CONFLICT (email) DO UPDATE SET password_hash = EXCLUDED.password_hash, account_id = EXCLUDED.account_id, role = 'super_admin'
	`, accountID, cfg.AdminUser, cfg.AdminEmail, string(hashedPassword))
	if err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	// Create default pipeline (idempotent)
	var pipelineID string
	err = db.QueryRow(ctx, `
		SELECT id FROM pipelines WHERE account_id = $1 AND is_default = TRUE LIMIT 1
	`, accountID).Scan(&pipelineID)
	if err != nil {
		// No default pipeline exists, create one
		err = db.QueryRow(ctx, `
			INSERT INTO pipelines (account_id, name, is_default)
			VALUES ($1, 'Pipeline Principal', TRUE)
			RETURNING id
		`, accountID).Scan(&pipelineID)
		if err != nil {
			return fmt.Errorf("failed to create default pipeline: %w", err)
		}

		// Create default stages
		stages := []struct {
			name  string
			color string
		}{
			{"Nuevo", "#6366f1"},
			{"Contactado", "#f59e0b"},
			{"En Negociación", "#3b82f6"},
			{"Propuesta", "#8b5cf6"},
			{"Cerrado", "#10b981"},
			{"Perdido", "#ef4444"},
		}

		for i, stage := range stages {
			_, err = db.Exec(ctx, `
				INSERT INTO pipeline_stages (pipeline_id, name, color, position)
				VALUES ($1, $2, $3, $4)
			`, pipelineID, stage.name, stage.color, i)
			if err != nil {
				return fmt.Errorf("failed to create stage %s: %w", stage.name, err)
			}
		}
	}

	// Default settings row for the account
	_, err = db.Exec(ctx, `
		INSERT INTO app_settings (account_id, data)
		VALUES ($1, '{"timezone":"America/Lima","notification_email":"","min_delay_seconds":8,"max_delay_seconds":15,"batch_size":25,"batch_pause_minutes":5}')
		ON CONFLICT (account_id) DO NOTHING
	`, accountID)
	if err != nil {
		return fmt.Errorf("failed to seed app settings: %w", err)
	}

	// Attach existing stage-less leads to the default pipeline's first stage
	var firstStageID string
	err = db.QueryRow(ctx, `
		SELECT id FROM pipeline_stages WHERE pipeline_id = $1 ORDER BY position LIMIT 1
	`, pipelineID).Scan(&firstStageID)
	if err == nil {
		_, _ = db.Exec(ctx, `
			UPDATE leads SET pipeline_stage_id = $1
			WHERE account_id = $2 AND pipeline_stage_id IS NULL
		`, firstStageID, accountID)
	}

	return nil
}
