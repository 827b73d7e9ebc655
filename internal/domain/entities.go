package domain

import (
	"time"

	"github.com/google/uuid"
)

// Account represents a tenant in the multi-tenant system
type Account struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Slug       string    `json:"slug"`
	Plan       string    `json:"plan"`
	MaxDevices int       `json:"max_devices"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	// Populated on demand
	UserCount int `json:"user_count,omitempty"`
	LeadCount int `json:"lead_count,omitempty"`
}

// User represents a user in the system
type User struct {
	ID           uuid.UUID `json:"id"`
	AccountID    uuid.UUID `json:"account_id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	DisplayName  string    `json:"display_name"`
	Role         string    `json:"role"` // super_admin, admin, agent
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// Populated on demand
	AccountName string `json:"account_name,omitempty"`
}

// User role constants
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleAgent      = "agent"
)

// IsSuperAdmin reports whether the user can manage accounts and users globally
func (u *User) IsSuperAdmin() bool {
	return u.Role == RoleSuperAdmin
}

// Device represents a WhatsApp channel session
type Device struct {
	ID         uuid.UUID  `json:"id"`
	AccountID  uuid.UUID  `json:"account_id"`
	Name       *string    `json:"name,omitempty"`
	Phone      *string    `json:"phone,omitempty"`
	JID        *string    `json:"jid,omitempty"`
	Status     *string    `json:"status,omitempty"` // disconnected, connecting, qr_pending, connected, logged_out
	QRCode     *string    `json:"qr_code,omitempty"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// DeviceStatus constants
const (
	DeviceStatusDisconnected = "disconnected"
	DeviceStatusConnecting   = "connecting"
	DeviceStatusQRPending    = "qr_pending"
	DeviceStatusConnected    = "connected"
	DeviceStatusLoggedOut    = "logged_out"
)

// Pipeline represents a sales funnel
type Pipeline struct {
	ID        uuid.UUID `json:"id"`
	AccountID uuid.UUID `json:"account_id"`
	Name      string    `json:"name"`
	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations (populated on demand)
	Stages []PipelineStage `json:"stages,omitempty"`
}

// PipelineStage is an ordered bucket within a pipeline
type PipelineStage struct {
	ID         uuid.UUID `json:"id"`
	PipelineID uuid.UUID `json:"pipeline_id"`
	Name       string    `json:"name"`
	Color      *string   `json:"color,omitempty"`
	Position   int       `json:"position"`
	CreatedAt  time.Time `json:"created_at"`

	// Populated on demand
	LeadCount int `json:"lead_count,omitempty"`
}

// Lead is a CRM contact record with its funnel position
type Lead struct {
	ID              uuid.UUID              `json:"id"`
	AccountID       uuid.UUID              `json:"account_id"`
	Name            *string                `json:"name,omitempty"`
	Phone           string                 `json:"phone"`
	Email           *string                `json:"email,omitempty"`
	PipelineStageID *uuid.UUID             `json:"pipeline_stage_id,omitempty"`
	KanbanOrder     int                    `json:"kanban_order"`
	Status          string                 `json:"status"` // new, contacted, qualified, proposal, won, lost
	Source          *string                `json:"source,omitempty"`
	AssignedUserID  *uuid.UUID             `json:"assigned_user_id,omitempty"`
	Notes           *string                `json:"notes,omitempty"`
	CustomFields    map[string]interface{} `json:"custom_fields,omitempty"`
	AvatarURL       *string                `json:"avatar_url,omitempty"`
	LastContactAt   *time.Time             `json:"last_contact_at,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`

	// Populated on demand
	StageName    string `json:"stage_name,omitempty"`
	AssignedName string `json:"assigned_name,omitempty"`
}

// DisplayName returns the best available name for the lead
func (l *Lead) DisplayName() string {
	if l.Name != nil && *l.Name != "" {
		return *l.Name
	}
	return l.Phone
}

// Lead status constants
const (
	LeadStatusNew       = "new"
	LeadStatusContacted = "contacted"
	LeadStatusQualified = "qualified"
	LeadStatusProposal  = "proposal"
	LeadStatusWon       = "won"
	LeadStatusLost      = "lost"
)

// LeadFilter holds query filters for listing leads
type LeadFilter struct {
	StageID        *uuid.UUID
	Status         *string
	AssignedUserID *uuid.UUID
	Source         *string
	Search         *string
	Limit          int
	Offset         int
}

// Conversation is a channel thread tying a lead to a channel identity
type Conversation struct {
	ID            uuid.UUID  `json:"id"`
	AccountID     uuid.UUID  `json:"account_id"`
	DeviceID      *uuid.UUID `json:"device_id,omitempty"`
	LeadID        *uuid.UUID `json:"lead_id,omitempty"`
	ChannelJID    string     `json:"channel_jid"`
	LastMessage   *string    `json:"last_message,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	UnreadCount   int        `json:"unread_count"`
	IsArchived    bool       `json:"is_archived"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	// Populated on demand
	LeadName   string  `json:"lead_name,omitempty"`
	LeadPhone  string  `json:"lead_phone,omitempty"`
	LeadAvatar *string `json:"lead_avatar,omitempty"`
}

// ConversationFilter holds query filters for listing conversations
type ConversationFilter struct {
	DeviceID   *uuid.UUID
	Search     *string
	UnreadOnly bool
	Archived   *bool
	Limit      int
	Offset     int
}

// Message represents a single message in a conversation
type Message struct {
	ID             uuid.UUID  `json:"id"`
	AccountID      uuid.UUID  `json:"account_id"`
	DeviceID       *uuid.UUID `json:"device_id,omitempty"`
	ConversationID uuid.UUID  `json:"conversation_id"`
	MessageID      string     `json:"message_id"` // wire id from the channel
	Direction      string     `json:"direction"`  // in, out
	FromJID        *string    `json:"from_jid,omitempty"`
	FromName       *string    `json:"from_name,omitempty"`
	Body           *string    `json:"body,omitempty"`
	MessageType    string     `json:"message_type"` // text, image, video, audio, document
	MediaURL       *string    `json:"media_url,omitempty"`
	MediaMimetype  *string    `json:"media_mimetype,omitempty"`
	MediaSize      *int64     `json:"media_size,omitempty"`
	Status         string     `json:"status"` // pending, sent, delivered, read, failed
	Timestamp      time.Time  `json:"timestamp"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Message direction constants
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Message type constants
const (
	MessageTypeText     = "text"
	MessageTypeImage    = "image"
	MessageTypeVideo    = "video"
	MessageTypeAudio    = "audio"
	MessageTypeDocument = "document"
)

// Message status constants
const (
	MessageStatusPending   = "pending"
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusRead      = "read"
	MessageStatusFailed    = "failed"
)

// Campaign is a scheduled broadcast of a template message to selected leads
type Campaign struct {
	ID              uuid.UUID              `json:"id"`
	AccountID       uuid.UUID              `json:"account_id"`
	DeviceID        *uuid.UUID             `json:"device_id,omitempty"`
	Name            string                 `json:"name"`
	MessageTemplate string                 `json:"message_template"`
	MediaURL        *string                `json:"media_url,omitempty"`
	MediaType       *string                `json:"media_type,omitempty"`
	Status          string                 `json:"status"` // draft, scheduled, running, paused, completed, failed
	ScheduledAt     *time.Time             `json:"scheduled_at,omitempty"`
	StartedAt       *time.Time             `json:"started_at,omitempty"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`
	TotalRecipients int                    `json:"total_recipients"`
	SentCount       int                    `json:"sent_count"`
	FailedCount     int                    `json:"failed_count"`
	Settings        map[string]interface{} `json:"settings,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// Campaign status constants
const (
	CampaignStatusDraft     = "draft"
	CampaignStatusScheduled = "scheduled"
	CampaignStatusRunning   = "running"
	CampaignStatusPaused    = "paused"
	CampaignStatusCompleted = "completed"
	CampaignStatusFailed    = "failed"
)

// DefaultCampaignSettings returns the pacing defaults for a new campaign
func DefaultCampaignSettings() map[string]interface{} {
	return map[string]interface{}{
		"min_delay_seconds":   8,
		"max_delay_seconds":   15,
		"batch_size":          25,
		"batch_pause_minutes": 5,
	}
}

// MergeCampaignSettings layers campaign-level pacing overrides on top of
// the account's settings, which in turn override the built-in defaults.
// Account keys outside the pacing set are ignored.
func MergeCampaignSettings(accountData, campaignSettings map[string]interface{}) map[string]interface{} {
	merged := DefaultCampaignSettings()
	for key, value := range accountData {
		if _, ok := merged[key]; ok {
			merged[key] = value
		}
	}
	for key, value := range campaignSettings {
		merged[key] = value
	}
	return merged
}

// CampaignFilter holds query filters for listing campaigns
type CampaignFilter struct {
	Status *string
	Limit  int
	Offset int
}

// CampaignRecipient tracks per-lead delivery status within a campaign
type CampaignRecipient struct {
	ID         uuid.UUID  `json:"id"`
	CampaignID uuid.UUID  `json:"campaign_id"`
	LeadID     uuid.UUID  `json:"lead_id"`
	Phone      string     `json:"phone"`
	Name       *string    `json:"name,omitempty"`
	Status     string     `json:"status"` // pending, sent, failed, skipped
	SentAt     *time.Time `json:"sent_at,omitempty"`
	Error      *string    `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Recipient status constants
const (
	RecipientStatusPending = "pending"
	RecipientStatusSent    = "sent"
	RecipientStatusFailed  = "failed"
	RecipientStatusSkipped = "skipped"
)

// AppSettings is the per-account configuration singleton
type AppSettings struct {
	AccountID uuid.UUID              `json:"account_id"`
	Data      map[string]interface{} `json:"data"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// DefaultAppSettings returns the settings written for a fresh account
func DefaultAppSettings() map[string]interface{} {
	return map[string]interface{}{
		"timezone":            "America/Lima",
		"notification_email":  "",
		"min_delay_seconds":   8,
		"max_delay_seconds":   15,
		"batch_size":          25,
		"batch_pause_minutes": 5,
	}
}

// InboundEvent is a normalized inbound channel event fed to the reconciler
type InboundEvent struct {
	AccountID     uuid.UUID `json:"account_id"`
	DeviceID      uuid.UUID `json:"device_id"`
	MessageID     string    `json:"message_id"`
	ChannelJID    string    `json:"channel_jid"` // sender thread identity, e.g. 51999999999@s.whatsapp.net
	Phone         string    `json:"phone"`       // digits only
	PushName      string    `json:"push_name,omitempty"`
	Body          string    `json:"body,omitempty"`
	MessageType   string    `json:"message_type"`
	MediaURL      *string   `json:"media_url,omitempty"`
	MediaMimetype *string   `json:"media_mimetype,omitempty"`
	MediaSize     *int64    `json:"media_size,omitempty"`
	IsFromMe      bool      `json:"is_from_me"`
	Timestamp     time.Time `json:"timestamp"`
}
