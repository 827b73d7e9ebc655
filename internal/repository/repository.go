package repository

import (
	"context"

	"github.com/OrtobomPatricio/crmpro/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repositories struct {
	db           *pgxpool.Pool
	User         *UserRepository
	Account      *AccountRepository
	Device       *DeviceRepository
	Lead         *LeadRepository
	Pipeline     *PipelineRepository
	Conversation *ConversationRepository
	Message      *MessageRepository
	Campaign     *CampaignRepository
	Settings     *SettingsRepository
}

func NewRepositories(db *pgxpool.Pool) *Repositories {
	return &Repositories{
		db:           db,
		User:         &UserRepository{db: db},
		Account:      &AccountRepository{db: db},
		Device:       &DeviceRepository{db: db},
		Lead:         &LeadRepository{db: db},
		Pipeline:     &PipelineRepository{db: db},
		Conversation: &ConversationRepository{db: db},
		Message:      &MessageRepository{db: db},
		Campaign:     &CampaignRepository{db: db},
		Settings:     &SettingsRepository{db: db},
	}
}

// UserRepository handles user data access
type UserRepository struct {
	db *pgxpool.Pool
}

const userColumns = `u.id, u.account_id, u.username, u.email, u.password_hash, u.display_name, u.role, u.is_active, u.created_at, u.updated_at, a.name`

func scanUser(row pgx.Row) (*domain.User, error) {
	user := &domain.User{}
	err := row.Scan(
		&user.ID, &user.AccountID, &user.Username, &user.Email, &user.PasswordHash,
		&user.DisplayName, &user.Role, &user.IsActive, &user.CreatedAt, &user.UpdatedAt, &user.AccountName,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return scanUser(r.db.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users u JOIN accounts a ON a.id = u.account_id
		WHERE u.username = $1 AND u.is_active = TRUE
	`, username))
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return scanUser(r.db.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users u JOIN accounts a ON a.id = u.account_id
		WHERE u.id = $1
	`, id))
}

func (r *UserRepository) GetByAccountID(ctx context.Context, accountID uuid.UUID) ([]*domain.User, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+userColumns+`
		FROM users u JOIN accounts a ON a.id = u.account_id
		WHERE u.account_id = $1 ORDER BY u.created_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectUsers(rows)
}

func (r *UserRepository) GetAll(ctx context.Context) ([]*domain.User, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+userColumns+`
		FROM users u JOIN accounts a ON a.id = u.account_id
		ORDER BY u.created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectUsers(rows)
}

func collectUsers(rows pgx.Rows) ([]*domain.User, error) {
	var users []*domain.User
	for rows.Next() {
		user := &domain.User{}
		if err := rows.Scan(
			&user.ID, &user.AccountID, &user.Username, &user.Email, &user.PasswordHash,
			&user.DisplayName, &user.Role, &user.IsActive, &user.CreatedAt, &user.UpdatedAt, &user.AccountName,
		); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO users (account_id, username, email, password_hash, display_name, role)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, is_active, created_at, updated_at
	`, user.AccountID, user.Username, user.Email, user.PasswordHash, user.DisplayName, user.Role).Scan(
		&user.ID, &user.IsActive, &user.CreatedAt, &user.UpdatedAt,
	)
}

func (r *UserRepository) Update(ctx context.Context, user *domain.User) error {
	_, err := r.db.Exec(ctx, `
		UPDATE users SET username = $2, email = $3, display_name = $4, role = $5, updated_at = NOW()
		WHERE id = $1
	`, user.ID, user.Username, user.Email, user.DisplayName, user.Role)
	return err
}

func (r *UserRepository) UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string) error {
	_, err := r.db.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, userID, passwordHash)
	return err
}

func (r *UserRepository) ToggleActive(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `UPDATE users SET is_active = NOT is_active, updated_at = NOW() WHERE id = $1`, userID)
	return err
}

func (r *UserRepository) Delete(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
	return err
}

// AccountRepository handles tenant accounts
type AccountRepository struct {
	db *pgxpool.Pool
}

func (r *AccountRepository) GetAll(ctx context.Context) ([]*domain.Account, error) {
	rows, err := r.db.Query(ctx, `
		SELECT a.id, a.name, COALESCE(a.slug, ''), a.plan, a.max_devices, a.is_active, a.created_at, a.updated_at,
		       (SELECT COUNT(*) FROM users u WHERE u.account_id = a.id),
		       (SELECT COUNT(*) FROM leads l WHERE l.account_id = a.id)
		FROM accounts a
		ORDER BY a.created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*domain.Account
	for rows.Next() {
		acc := &domain.Account{}
		if err := rows.Scan(&acc.ID, &acc.Name, &acc.Slug, &acc.Plan, &acc.MaxDevices, &acc.IsActive,
			&acc.CreatedAt, &acc.UpdatedAt, &acc.UserCount, &acc.LeadCount); err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	acc := &domain.Account{}
	err := r.db.QueryRow(ctx, `
		SELECT id, name, COALESCE(slug, ''), plan, max_devices, is_active, created_at, updated_at
		FROM accounts WHERE id = $1
	`, id).Scan(&acc.ID, &acc.Name, &acc.Slug, &acc.Plan, &acc.MaxDevices, &acc.IsActive, &acc.CreatedAt, &acc.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return acc, nil
}

func (r *AccountRepository) Create(ctx context.Context, account *domain.Account) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO accounts (name, slug, plan, max_devices)
		VALUES ($1, $2, $3, $4)
		RETURNING id, is_active, created_at, updated_at
	`, account.Name, account.Slug, account.Plan, account.MaxDevices).Scan(
		&account.ID, &account.IsActive, &account.CreatedAt, &account.UpdatedAt,
	)
}

func (r *AccountRepository) Update(ctx context.Context, account *domain.Account) error {
	_, err := r.db.Exec(ctx, `
		UPDATE accounts SET name = $2, slug = $3, plan = $4, max_devices = $5, updated_at = NOW()
		WHERE id = $1
	`, account.ID, account.Name, account.Slug, account.Plan, account.MaxDevices)
	return err
}

func (r *AccountRepository) ToggleActive(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `UPDATE accounts SET is_active = NOT is_active, updated_at = NOW() WHERE id = $1`, id)
	return err
}

func (r *AccountRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	return err
}
