package repository

import (
	"context"
	"time"

	"github.com/OrtobomPatricio/crmpro/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DeviceRepository handles WhatsApp channel sessions
type DeviceRepository struct {
	db *pgxpool.Pool
}

func (r *DeviceRepository) GetAll(ctx context.Context) ([]*domain.Device, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, account_id, name, phone, jid, status, qr_code, last_seen_at, created_at, updated_at
		FROM devices ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDevices(rows)
}

func (r *DeviceRepository) GetByAccountID(ctx context.Context, accountID uuid.UUID) ([]*domain.Device, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, account_id, name, phone, jid, status, qr_code, last_seen_at, created_at, updated_at
		FROM devices WHERE account_id = $1 ORDER BY created_at ASC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDevices(rows)
}

func collectDevices(rows pgx.Rows) ([]*domain.Device, error) {
	var devices []*domain.Device
	for rows.Next() {
		d := &domain.Device{}
		if err := rows.Scan(&d.ID, &d.AccountID, &d.Name, &d.Phone, &d.JID, &d.Status,
			&d.QRCode, &d.LastSeenAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

func (r *DeviceRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Device, error) {
	d := &domain.Device{}
	err := r.db.QueryRow(ctx, `
		SELECT id, account_id, name, phone, jid, status, qr_code, last_seen_at, created_at, updated_at
		FROM devices WHERE id = $1
	`, id).Scan(&d.ID, &d.AccountID, &d.Name, &d.Phone, &d.JID, &d.Status,
		&d.QRCode, &d.LastSeenAt, &d.CreatedAt, &d.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (r *DeviceRepository) Create(ctx context.Context, device *domain.Device) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO devices (account_id, name, status)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`, device.AccountID, device.Name, domain.DeviceStatusDisconnected).Scan(
		&device.ID, &device.CreatedAt, &device.UpdatedAt,
	)
}

func (r *DeviceRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE devices SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, status)
	return err
}

func (r *DeviceRepository) UpdateConnection(ctx context.Context, id uuid.UUID, jid, phone string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE devices SET jid = $2, phone = $3, status = $4, last_seen_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, id, jid, phone, domain.DeviceStatusConnected)
	return err
}

func (r *DeviceRepository) UpdateQRCode(ctx context.Context, id uuid.UUID, qrCode string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE devices SET qr_code = $2, status = $3, updated_at = NOW() WHERE id = $1
	`, id, qrCode, domain.DeviceStatusQRPending)
	return err
}

func (r *DeviceRepository) TouchLastSeen(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE devices SET last_seen_at = $2, updated_at = NOW() WHERE id = $1`, id, at)
	return err
}

func (r *DeviceRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM devices WHERE id = $1`, id)
	return err
}
