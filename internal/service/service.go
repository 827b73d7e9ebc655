package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/OrtobomPatricio/crmpro/internal/domain"
	"github.com/OrtobomPatricio/crmpro/internal/metrics"
	"github.com/OrtobomPatricio/crmpro/internal/notify"
	"github.com/OrtobomPatricio/crmpro/internal/repository"
	"github.com/OrtobomPatricio/crmpro/internal/whatsapp"
	"github.com/OrtobomPatricio/crmpro/internal/ws"
	"github.com/OrtobomPatricio/crmpro/pkg/cache"
	"github.com/OrtobomPatricio/crmpro/pkg/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type Services struct {
	Auth         *AuthService
	Account      *AccountService
	Device       *DeviceService
	Lead         *LeadService
	Pipeline     *PipelineService
	Conversation *ConversationService
	Campaign     *CampaignService
	Settings     *SettingsService
}

func NewServices(cfg *config.Config, repos *repository.Repositories, pool *whatsapp.DevicePool, hub *ws.Hub, c *cache.Cache, notifier *notify.Notifier) *Services {
	settings := &SettingsService{repos: repos, cache: c}
	return &Services{
		Auth:         &AuthService{repos: repos, cfg: cfg},
		Account:      &AccountService{repos: repos},
		Device:       &DeviceService{repos: repos, pool: pool},
		Lead:         &LeadService{repos: repos, hub: hub},
		Pipeline:     &PipelineService{repos: repos},
		Conversation: &ConversationService{repos: repos, pool: pool},
		Campaign:     &CampaignService{repos: repos, pool: pool, hub: hub, settings: settings, notifier: notifier},
		Settings:     settings,
	}
}

// AuthService handles authentication and user administration
type AuthService struct {
	repos *repository.Repositories
	cfg   *config.Config
}

type JWTClaims struct {
	UserID    uuid.UUID `json:"user_id"`
	AccountID uuid.UUID `json:"account_id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	jwt.RegisteredClaims
}

func (s *AuthService) Login(ctx context.Context, username, password string) (string, *domain.User, error) {
	user, err := s.repos.User.GetByUsername(ctx, username)
	if err != nil {
		return "", nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil || !user.IsActive {
		return "", nil, fmt.Errorf("invalid credentials")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, fmt.Errorf("invalid credentials")
	}

	claims := &JWTClaims{
		UserID:    user.ID,
		AccountID: user.AccountID,
		Username:  user.Username,
		Role:      user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * 7 * time.Hour)), // 7 days
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "crmpro",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, user, nil
}

func (s *AuthService) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}

func (s *AuthService) GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	return s.repos.User.GetByID(ctx, userID)
}

func (s *AuthService) ListUsers(ctx context.Context, accountID uuid.UUID) ([]*domain.User, error) {
	return s.repos.User.GetByAccountID(ctx, accountID)
}

func (s *AuthService) ListAllUsers(ctx context.Context) ([]*domain.User, error) {
	return s.repos.User.GetAll(ctx)
}

func (s *AuthService) CreateUser(ctx context.Context, user *domain.User, password string) error {
	if len(password) < 6 {
		return fmt.Errorf("password must be at least 6 characters")
	}
	switch user.Role {
	case domain.RoleSuperAdmin, domain.RoleAdmin, domain.RoleAgent:
	default:
		return fmt.Errorf("invalid role: %s", user.Role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	user.PasswordHash = string(hash)
	user.IsActive = true

	return s.repos.User.Create(ctx, user)
}

func (s *AuthService) UpdateUser(ctx context.Context, user *domain.User) error {
	return s.repos.User.Update(ctx, user)
}

func (s *AuthService) ChangePassword(ctx context.Context, userID uuid.UUID, password string) error {
	if len(password) < 6 {
		return fmt.Errorf("password must be at least 6 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	return s.repos.User.UpdatePassword(ctx, userID, string(hash))
}

func (s *AuthService) ToggleUserActive(ctx context.Context, userID uuid.UUID) error {
	return s.repos.User.ToggleActive(ctx, userID)
}

func (s *AuthService) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	return s.repos.User.Delete(ctx, userID)
}

// AccountService handles tenant administration
type AccountService struct {
	repos *repository.Repositories
}

func (s *AccountService) GetAll(ctx context.Context) ([]*domain.Account, error) {
	return s.repos.Account.GetAll(ctx)
}

func (s *AccountService) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return s.repos.Account.GetByID(ctx, id)
}

func (s *AccountService) Create(ctx context.Context, account *domain.Account) error {
	if account.Name == "" {
		return fmt.Errorf("account name is required")
	}
	if account.Slug == "" {
		account.Slug = strings.ToLower(strings.ReplaceAll(account.Name, " ", "-"))
	}
	return s.repos.Account.Create(ctx, account)
}

func (s *AccountService) Update(ctx context.Context, account *domain.Account) error {
	return s.repos.Account.Update(ctx, account)
}

func (s *AccountService) ToggleActive(ctx context.Context, id uuid.UUID) error {
	return s.repos.Account.ToggleActive(ctx, id)
}

func (s *AccountService) Delete(ctx context.Context, id uuid.UUID) error {
	account, err := s.repos.Account.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("account not found")
	}
	if account.UserCount > 0 || account.LeadCount > 0 {
		return fmt.Errorf("account has users or leads, remove them first")
	}
	return s.repos.Account.Delete(ctx, id)
}

// DeviceService handles WhatsApp devices
type DeviceService struct {
	repos *repository.Repositories
	pool  *whatsapp.DevicePool
}

func (s *DeviceService) Create(ctx context.Context, accountID uuid.UUID, name string) (*domain.Device, error) {
	return s.pool.CreateDevice(ctx, accountID, name)
}

func (s *DeviceService) Connect(ctx context.Context, deviceID uuid.UUID) error {
	return s.pool.ConnectDevice(ctx, deviceID)
}

func (s *DeviceService) Disconnect(ctx context.Context, deviceID uuid.UUID) error {
	return s.pool.DisconnectDevice(ctx, deviceID)
}

func (s *DeviceService) Delete(ctx context.Context, deviceID uuid.UUID) error {
	return s.pool.DeleteDevice(ctx, deviceID)
}

func (s *DeviceService) GetByAccountID(ctx context.Context, accountID uuid.UUID) ([]*domain.Device, error) {
	devices, err := s.repos.Device.GetByAccountID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	// Overlay live status from the pool
	for _, device := range devices {
		status := s.pool.GetDeviceStatus(device.ID)
		device.Status = &status
		qr := s.pool.GetQRCode(device.ID)
		if qr != "" {
			device.QRCode = &qr
		}
	}

	return devices, nil
}

func (s *DeviceService) GetByID(ctx context.Context, deviceID uuid.UUID) (*domain.Device, error) {
	device, err := s.repos.Device.GetByID(ctx, deviceID)
	if err != nil || device == nil {
		return nil, err
	}

	status := s.pool.GetDeviceStatus(device.ID)
	device.Status = &status
	qr := s.pool.GetQRCode(device.ID)
	if qr != "" {
		device.QRCode = &qr
	}

	return device, nil
}

// LeadService handles lead operations
type LeadService struct {
	repos *repository.Repositories
	hub   *ws.Hub
}

func (s *LeadService) List(ctx context.Context, accountID uuid.UUID, filter *domain.LeadFilter) ([]*domain.Lead, error) {
	return s.repos.Lead.List(ctx, accountID, filter)
}

func (s *LeadService) GetByID(ctx context.Context, leadID uuid.UUID) (*domain.Lead, error) {
	return s.repos.Lead.GetByID(ctx, leadID)
}

func (s *LeadService) GetByPhone(ctx context.Context, accountID uuid.UUID, phone string) (*domain.Lead, error) {
	return s.repos.Lead.GetByPhone(ctx, accountID, phone)
}

func (s *LeadService) Create(ctx context.Context, lead *domain.Lead) error {
	lead.Phone = normalizePhone(lead.Phone)
	if lead.Phone == "" {
		return fmt.Errorf("phone is required")
	}
	if lead.Status == "" {
		lead.Status = domain.LeadStatusNew
	}
	if lead.PipelineStageID == nil {
		stage, err := s.repos.Pipeline.FirstStage(ctx, lead.AccountID)
		if err != nil {
			return err
		}
		if stage != nil {
			lead.PipelineStageID = &stage.ID
			order, err := s.repos.Lead.NextKanbanOrder(ctx, stage.ID)
			if err != nil {
				return err
			}
			lead.KanbanOrder = order
		}
	}

	if err := s.repos.Lead.Create(ctx, lead); err != nil {
		return err
	}

	metrics.LeadsCreatedTotal.WithLabelValues("manual").Inc()
	s.hub.BroadcastLeadCreated(lead.AccountID, lead)
	return nil
}

func (s *LeadService) Update(ctx context.Context, lead *domain.Lead) error {
	if err := s.repos.Lead.Update(ctx, lead); err != nil {
		return err
	}
	s.hub.BroadcastToAccount(lead.AccountID, ws.EventLeadUpdate, lead)
	return nil
}

func (s *LeadService) UpdateStatus(ctx context.Context, leadID uuid.UUID, status string) error {
	switch status {
	case domain.LeadStatusNew, domain.LeadStatusContacted, domain.LeadStatusQualified,
		domain.LeadStatusProposal, domain.LeadStatusWon, domain.LeadStatusLost:
	default:
		return fmt.Errorf("invalid status: %s", status)
	}
	return s.repos.Lead.UpdateStatus(ctx, leadID, status)
}

// MoveToStage moves a lead to a stage, appending it at the end of the
// stage's kanban column.
func (s *LeadService) MoveToStage(ctx context.Context, leadID, stageID uuid.UUID) error {
	stage, err := s.repos.Pipeline.GetStageByID(ctx, stageID)
	if err != nil {
		return err
	}
	if stage == nil {
		return fmt.Errorf("stage not found: %s", stageID)
	}
	return s.repos.Lead.UpdateStage(ctx, leadID, stageID)
}

func (s *LeadService) Reorder(ctx context.Context, leadID uuid.UUID, order int) error {
	return s.repos.Lead.UpdateKanbanOrder(ctx, leadID, order)
}

func (s *LeadService) CountByAccount(ctx context.Context, accountID uuid.UUID) (int, error) {
	return s.repos.Lead.CountByAccount(ctx, accountID)
}

func (s *LeadService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repos.Lead.Delete(ctx, id)
}

func (s *LeadService) DeleteBatch(ctx context.Context, accountID uuid.UUID, ids []uuid.UUID) (int64, error) {
	return s.repos.Lead.DeleteBatch(ctx, accountID, ids)
}

// Import upserts a batch of leads, typically from a CSV upload. Rows
// without a phone are skipped. Returns how many rows were written.
func (s *LeadService) Import(ctx context.Context, accountID uuid.UUID, leads []*domain.Lead) (int, error) {
	stage, err := s.repos.Pipeline.FirstStage(ctx, accountID)
	if err != nil {
		return 0, err
	}

	imported := 0
	for _, lead := range leads {
		lead.AccountID = accountID
		lead.Phone = normalizePhone(lead.Phone)
		if lead.Phone == "" {
			continue
		}
		if lead.Status == "" {
			lead.Status = domain.LeadStatusNew
		}
		if lead.Source == nil {
			src := "import"
			lead.Source = &src
		}
		if lead.PipelineStageID == nil && stage != nil {
			lead.PipelineStageID = &stage.ID
		}
		if err := s.repos.Lead.Create(ctx, lead); err != nil {
			log.Printf("[LeadImport] Failed to upsert %s: %v", lead.Phone, err)
			continue
		}
		imported++
	}

	if imported > 0 {
		metrics.LeadsCreatedTotal.WithLabelValues("import").Add(float64(imported))
	}
	return imported, nil
}

// PipelineService handles pipeline and stage operations
type PipelineService struct {
	repos *repository.Repositories
}

func (s *PipelineService) GetByAccountID(ctx context.Context, accountID uuid.UUID) ([]*domain.Pipeline, error) {
	return s.repos.Pipeline.GetByAccountID(ctx, accountID)
}

func (s *PipelineService) GetByID(ctx context.Context, id uuid.UUID) (*domain.Pipeline, error) {
	return s.repos.Pipeline.GetByID(ctx, id)
}

func (s *PipelineService) GetStages(ctx context.Context, pipelineID uuid.UUID) ([]domain.PipelineStage, error) {
	return s.repos.Pipeline.GetStages(ctx, pipelineID)
}

func (s *PipelineService) Create(ctx context.Context, pipeline *domain.Pipeline) error {
	if strings.TrimSpace(pipeline.Name) == "" {
		return fmt.Errorf("pipeline name is required")
	}
	if err := s.repos.Pipeline.Create(ctx, pipeline); err != nil {
		return err
	}
	for i := range pipeline.Stages {
		pipeline.Stages[i].PipelineID = pipeline.ID
		if err := s.repos.Pipeline.CreateStage(ctx, &pipeline.Stages[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *PipelineService) Update(ctx context.Context, pipeline *domain.Pipeline) error {
	return s.repos.Pipeline.Update(ctx, pipeline)
}

func (s *PipelineService) Delete(ctx context.Context, id uuid.UUID) error {
	pipeline, err := s.repos.Pipeline.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if pipeline == nil {
		return nil
	}
	if pipeline.IsDefault {
		return fmt.Errorf("default pipeline cannot be deleted")
	}
	return s.repos.Pipeline.Delete(ctx, id)
}

func (s *PipelineService) CreateStage(ctx context.Context, stage *domain.PipelineStage) error {
	if strings.TrimSpace(stage.Name) == "" {
		return fmt.Errorf("stage name is required")
	}
	return s.repos.Pipeline.CreateStage(ctx, stage)
}

func (s *PipelineService) UpdateStage(ctx context.Context, stage *domain.PipelineStage) error {
	return s.repos.Pipeline.UpdateStage(ctx, stage)
}

func (s *PipelineService) ReorderStages(ctx context.Context, pipelineID uuid.UUID, stageIDs []uuid.UUID) error {
	return s.repos.Pipeline.ReorderStages(ctx, pipelineID, stageIDs)
}

func (s *PipelineService) DeleteStage(ctx context.Context, stageID uuid.UUID) error {
	return s.repos.Pipeline.DeleteStage(ctx, stageID)
}

// ConversationService handles messaging threads
type ConversationService struct {
	repos *repository.Repositories
	pool  *whatsapp.DevicePool
}

func (s *ConversationService) List(ctx context.Context, accountID uuid.UUID, filter *domain.ConversationFilter) ([]*domain.Conversation, error) {
	return s.repos.Conversation.List(ctx, accountID, filter)
}

func (s *ConversationService) GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	return s.repos.Conversation.GetByID(ctx, id)
}

// Start opens (or returns) a conversation with a phone number
func (s *ConversationService) Start(ctx context.Context, accountID, deviceID uuid.UUID, phone string) (*domain.Conversation, error) {
	jid := phone
	if !strings.Contains(phone, "@") {
		digits := normalizePhone(phone)
		if digits == "" {
			return nil, fmt.Errorf("invalid phone: %s", phone)
		}
		jid = digits + "@s.whatsapp.net"
	}

	var leadID *uuid.UUID
	if lead, _ := s.repos.Lead.GetByPhone(ctx, accountID, normalizePhone(phone)); lead != nil {
		leadID = &lead.ID
	}

	return s.repos.Conversation.GetOrCreate(ctx, accountID, deviceID, jid, leadID)
}

func (s *ConversationService) GetMessages(ctx context.Context, conversationID uuid.UUID, limit int, before *time.Time) ([]*domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repos.Message.ListByConversation(ctx, conversationID, limit, before)
}

// SendText sends a text message into a conversation through its device
func (s *ConversationService) SendText(ctx context.Context, conversationID uuid.UUID, body string) (*domain.Message, error) {
	conv, err := s.repos.Conversation.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, fmt.Errorf("conversation not found: %s", conversationID)
	}
	if conv.DeviceID == nil {
		return nil, fmt.Errorf("conversation has no device")
	}

	return s.pool.SendTextMessage(ctx, *conv.DeviceID, conv.ChannelJID, body)
}

// SendMedia sends a media message into a conversation
func (s *ConversationService) SendMedia(ctx context.Context, conversationID uuid.UUID, caption, mediaURL, mediaType string) (*domain.Message, error) {
	conv, err := s.repos.Conversation.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, fmt.Errorf("conversation not found: %s", conversationID)
	}
	if conv.DeviceID == nil {
		return nil, fmt.Errorf("conversation has no device")
	}

	return s.pool.SendMediaMessage(ctx, *conv.DeviceID, conv.ChannelJID, caption, mediaURL, mediaType)
}

func (s *ConversationService) MarkRead(ctx context.Context, conversationID uuid.UUID) error {
	return s.repos.Conversation.MarkRead(ctx, conversationID)
}

func (s *ConversationService) SetArchived(ctx context.Context, conversationID uuid.UUID, archived bool) error {
	return s.repos.Conversation.SetArchived(ctx, conversationID, archived)
}

func (s *ConversationService) Delete(ctx context.Context, conversationID uuid.UUID) error {
	return s.repos.Conversation.Delete(ctx, conversationID)
}

func (s *ConversationService) DeleteBatch(ctx context.Context, accountID uuid.UUID, ids []uuid.UUID) (int64, error) {
	return s.repos.Conversation.DeleteBatch(ctx, accountID, ids)
}

// CampaignService handles broadcast campaigns
type CampaignService struct {
	repos    *repository.Repositories
	pool     *whatsapp.DevicePool
	hub      *ws.Hub
	settings *SettingsService
	notifier *notify.Notifier
}

func (s *CampaignService) Create(ctx context.Context, campaign *domain.Campaign) error {
	if strings.TrimSpace(campaign.Name) == "" {
		return fmt.Errorf("campaign name is required")
	}
	if strings.TrimSpace(campaign.MessageTemplate) == "" {
		return fmt.Errorf("message template is required")
	}
	if campaign.Status == "" {
		campaign.Status = domain.CampaignStatusDraft
	}
	if campaign.ScheduledAt != nil {
		campaign.Status = domain.CampaignStatusScheduled
	}
	if campaign.Settings == nil {
		campaign.Settings = domain.DefaultCampaignSettings()
	}
	return s.repos.Campaign.Create(ctx, campaign)
}

func (s *CampaignService) List(ctx context.Context, accountID uuid.UUID, filter *domain.CampaignFilter) ([]*domain.Campaign, error) {
	return s.repos.Campaign.List(ctx, accountID, filter)
}

func (s *CampaignService) GetByID(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	return s.repos.Campaign.GetByID(ctx, id)
}

func (s *CampaignService) Update(ctx context.Context, campaign *domain.Campaign) error {
	existing, err := s.repos.Campaign.GetByID(ctx, campaign.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("campaign not found: %s", campaign.ID)
	}
	if existing.Status == domain.CampaignStatusRunning {
		return fmt.Errorf("running campaign cannot be edited")
	}
	return s.repos.Campaign.Update(ctx, campaign)
}

func (s *CampaignService) Delete(ctx context.Context, id uuid.UUID) error {
	campaign, err := s.repos.Campaign.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if campaign != nil && campaign.Status == domain.CampaignStatusRunning {
		return fmt.Errorf("running campaign cannot be deleted; pause it first")
	}
	return s.repos.Campaign.Delete(ctx, id)
}

// AddRecipients resolves leads into campaign recipients. Leads already
// attached to the campaign are skipped by the unique constraint.
func (s *CampaignService) AddRecipients(ctx context.Context, campaignID uuid.UUID, leadIDs []uuid.UUID) (int, error) {
	recipients := make([]*domain.CampaignRecipient, 0, len(leadIDs))
	for _, leadID := range leadIDs {
		lead, err := s.repos.Lead.GetByID(ctx, leadID)
		if err != nil {
			return 0, err
		}
		if lead == nil {
			continue
		}
		recipients = append(recipients, &domain.CampaignRecipient{
			CampaignID: campaignID,
			LeadID:     lead.ID,
			Phone:      lead.Phone,
			Name:       lead.Name,
			Status:     domain.RecipientStatusPending,
		})
	}
	return s.repos.Campaign.AddRecipients(ctx, campaignID, recipients)
}

func (s *CampaignService) GetRecipients(ctx context.Context, campaignID uuid.UUID) ([]*domain.CampaignRecipient, error) {
	return s.repos.Campaign.GetRecipients(ctx, campaignID)
}

// Duplicate creates a draft copy of a campaign with its recipient list
// reset to pending. An optional template override replaces the body.
func (s *CampaignService) Duplicate(ctx context.Context, id uuid.UUID, messageTemplate *string) (*domain.Campaign, error) {
	src, err := s.repos.Campaign.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, fmt.Errorf("campaign not found: %s", id)
	}

	dup := &domain.Campaign{
		AccountID:       src.AccountID,
		DeviceID:        src.DeviceID,
		Name:            src.Name + " (copy)",
		MessageTemplate: src.MessageTemplate,
		MediaURL:        src.MediaURL,
		MediaType:       src.MediaType,
		Status:          domain.CampaignStatusDraft,
		Settings:        src.Settings,
	}
	if messageTemplate != nil && strings.TrimSpace(*messageTemplate) != "" {
		dup.MessageTemplate = *messageTemplate
	}
	if err := s.repos.Campaign.Create(ctx, dup); err != nil {
		return nil, err
	}

	recipients, err := s.repos.Campaign.GetRecipients(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(recipients) > 0 {
		fresh := make([]*domain.CampaignRecipient, 0, len(recipients))
		for _, r := range recipients {
			fresh = append(fresh, &domain.CampaignRecipient{
				CampaignID: dup.ID,
				LeadID:     r.LeadID,
				Phone:      r.Phone,
				Name:       r.Name,
				Status:     domain.RecipientStatusPending,
			})
		}
		if _, err := s.repos.Campaign.AddRecipients(ctx, dup.ID, fresh); err != nil {
			return nil, err
		}
	}
	return dup, nil
}

// validateCampaignStart checks the static preconditions for starting a
// campaign. Device connectivity is checked separately against the pool.
func validateCampaignStart(campaign *domain.Campaign) error {
	switch campaign.Status {
	case domain.CampaignStatusDraft, domain.CampaignStatusPaused, domain.CampaignStatusScheduled:
	default:
		return fmt.Errorf("campaign cannot be started from status: %s", campaign.Status)
	}
	if campaign.DeviceID == nil {
		return fmt.Errorf("campaign has no device assigned")
	}
	if campaign.TotalRecipients == 0 {
		return fmt.Errorf("campaign has no recipients")
	}
	return nil
}

func (s *CampaignService) Start(ctx context.Context, campaignID uuid.UUID) error {
	campaign, err := s.repos.Campaign.GetByID(ctx, campaignID)
	if err != nil {
		return err
	}
	if campaign == nil {
		return fmt.Errorf("campaign not found: %s", campaignID)
	}
	if err := validateCampaignStart(campaign); err != nil {
		return err
	}
	if !s.pool.IsConnected(*campaign.DeviceID) {
		return fmt.Errorf("campaign device is not connected")
	}

	if err := s.repos.Campaign.UpdateStatus(ctx, campaignID, domain.CampaignStatusRunning); err != nil {
		return err
	}
	s.broadcastUpdate(ctx, campaignID)
	return nil
}

func (s *CampaignService) Pause(ctx context.Context, campaignID uuid.UUID) error {
	campaign, err := s.repos.Campaign.GetByID(ctx, campaignID)
	if err != nil {
		return err
	}
	if campaign == nil {
		return fmt.Errorf("campaign not found: %s", campaignID)
	}
	if campaign.Status != domain.CampaignStatusRunning {
		return fmt.Errorf("campaign is not running")
	}

	if err := s.repos.Campaign.UpdateStatus(ctx, campaignID, domain.CampaignStatusPaused); err != nil {
		return err
	}
	s.broadcastUpdate(ctx, campaignID)
	return nil
}

func (s *CampaignService) ListRunning(ctx context.Context) ([]*domain.Campaign, error) {
	return s.repos.Campaign.ListRunning(ctx)
}

// StartDueScheduled promotes scheduled campaigns whose time has arrived
func (s *CampaignService) StartDueScheduled(ctx context.Context, now time.Time) {
	due, err := s.repos.Campaign.ListScheduledDue(ctx, now)
	if err != nil {
		log.Printf("[Campaign] Failed to list scheduled campaigns: %v", err)
		return
	}
	for _, campaign := range due {
		if err := s.Start(ctx, campaign.ID); err != nil {
			log.Printf("[Campaign] Failed to auto-start %s: %v", campaign.ID, err)
		} else {
			log.Printf("[Campaign] Auto-started scheduled campaign %s", campaign.Name)
		}
	}
}

// RenderTemplate fills the personalization placeholders of a template
func RenderTemplate(template string, rec *domain.CampaignRecipient) string {
	msg := template
	name := ""
	if rec.Name != nil {
		name = *rec.Name
	}
	msg = strings.ReplaceAll(msg, "{{nombre}}", name)
	msg = strings.ReplaceAll(msg, "{{name}}", name)
	msg = strings.ReplaceAll(msg, "{{telefono}}", rec.Phone)
	msg = strings.ReplaceAll(msg, "{{phone}}", rec.Phone)
	return strings.TrimSpace(msg)
}

// ProcessNextRecipient sends the campaign message to the next pending
// recipient. Returns false when the campaign should not be ticked again
// right away (completed, paused, or drained).
func (s *CampaignService) ProcessNextRecipient(ctx context.Context, campaignID uuid.UUID) (bool, error) {
	campaign, err := s.repos.Campaign.GetByID(ctx, campaignID)
	if err != nil {
		return false, err
	}
	if campaign == nil || campaign.Status != domain.CampaignStatusRunning {
		return false, nil
	}

	rec, err := s.repos.Campaign.GetNextPendingRecipient(ctx, campaignID)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, s.complete(ctx, campaign)
	}

	msg := RenderTemplate(campaign.MessageTemplate, rec)
	to := rec.Phone + "@s.whatsapp.net"

	var sendErr error
	if campaign.MediaURL != nil && *campaign.MediaURL != "" && campaign.MediaType != nil {
		_, sendErr = s.pool.SendMediaMessage(ctx, *campaign.DeviceID, to, msg, *campaign.MediaURL, *campaign.MediaType)
	} else {
		_, sendErr = s.pool.SendTextMessage(ctx, *campaign.DeviceID, to, msg)
	}

	if sendErr != nil {
		errMsg := sendErr.Error()
		_ = s.repos.Campaign.UpdateRecipientStatus(ctx, rec.ID, domain.RecipientStatusFailed, &errMsg)
		_ = s.repos.Campaign.IncrementFailed(ctx, campaignID)
		metrics.CampaignMessagesFailed.Inc()
		log.Printf("[Campaign] Send failed for %s: %v", rec.Phone, sendErr)
	} else {
		_ = s.repos.Campaign.UpdateRecipientStatus(ctx, rec.ID, domain.RecipientStatusSent, nil)
		_ = s.repos.Campaign.IncrementSent(ctx, campaignID)
		metrics.CampaignMessagesSent.Inc()
	}

	s.broadcastUpdate(ctx, campaignID)
	return true, nil
}

func (s *CampaignService) complete(ctx context.Context, campaign *domain.Campaign) error {
	if err := s.repos.Campaign.UpdateStatus(ctx, campaign.ID, domain.CampaignStatusCompleted); err != nil {
		return err
	}
	s.broadcastUpdate(ctx, campaign.ID)
	log.Printf("[Campaign] Completed %s (%d sent, %d failed)", campaign.Name, campaign.SentCount, campaign.FailedCount)

	if s.notifier != nil && s.notifier.Enabled() {
		settings, err := s.settings.Get(ctx, campaign.AccountID)
		if err == nil {
			if email, _ := settings.Data["notification_email"].(string); email != "" {
				go s.notifier.CampaignCompleted(email, campaign.Name, campaign.SentCount, campaign.FailedCount)
			}
		}
	}
	return nil
}

func (s *CampaignService) broadcastUpdate(ctx context.Context, campaignID uuid.UUID) {
	campaign, err := s.repos.Campaign.GetByID(ctx, campaignID)
	if err != nil || campaign == nil {
		return
	}
	s.hub.BroadcastCampaignUpdate(campaign.AccountID, campaign)
}

// SentSince returns how many recipients were sent to after a point in time
func (s *CampaignService) SentSince(ctx context.Context, campaignID uuid.UUID, since time.Time) (int, error) {
	return s.repos.Campaign.SentSince(ctx, campaignID, since)
}

// LastSentAt returns the timestamp of the most recent successful send
func (s *CampaignService) LastSentAt(ctx context.Context, campaignID uuid.UUID) (*time.Time, error) {
	return s.repos.Campaign.LastSentAt(ctx, campaignID)
}

// SettingsService handles per-account application settings with a Redis
// read-through cache.
type SettingsService struct {
	repos *repository.Repositories
	cache *cache.Cache
}

const settingsTTL = 5 * time.Minute

func settingsKey(accountID uuid.UUID) string {
	return "settings:" + accountID.String()
}

func (s *SettingsService) Get(ctx context.Context, accountID uuid.UUID) (*domain.AppSettings, error) {
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, settingsKey(accountID)); err == nil && raw != nil {
			var settings domain.AppSettings
			if err := json.Unmarshal(raw, &settings); err == nil {
				return &settings, nil
			}
		}
	}

	settings, err := s.repos.Settings.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if raw, err := json.Marshal(settings); err == nil {
			_ = s.cache.Set(ctx, settingsKey(accountID), raw, settingsTTL)
		}
	}

	return settings, nil
}

func (s *SettingsService) Update(ctx context.Context, accountID uuid.UUID, patch map[string]interface{}) (*domain.AppSettings, error) {
	settings, err := s.repos.Settings.Update(ctx, accountID, patch)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		_ = s.cache.Del(ctx, settingsKey(accountID))
	}

	return settings, nil
}

func normalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
