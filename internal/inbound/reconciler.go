package inbound

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/OrtobomPatricio/crmpro/internal/domain"
	"github.com/OrtobomPatricio/crmpro/internal/metrics"
	"github.com/google/uuid"
)

// LeadStore is the slice of the lead repository the reconciler needs.
type LeadStore interface {
	GetByPhone(ctx context.Context, accountID uuid.UUID, phone string) (*domain.Lead, error)
	Create(ctx context.Context, lead *domain.Lead) error
	NextKanbanOrder(ctx context.Context, stageID uuid.UUID) (int, error)
	TouchLastContact(ctx context.Context, id uuid.UUID) error
}

// PipelineStore resolves the entry stage for new leads.
type PipelineStore interface {
	FirstStage(ctx context.Context, accountID uuid.UUID) (*domain.PipelineStage, error)
}

// ConversationStore is the slice of the conversation repository the
// reconciler needs.
type ConversationStore interface {
	GetOrCreate(ctx context.Context, accountID, deviceID uuid.UUID, channelJID string, leadID *uuid.UUID) (*domain.Conversation, error)
	UpdateLastMessage(ctx context.Context, id uuid.UUID, lastMessage string, at time.Time, incrementUnread bool) error
}

// MessageStore appends message rows. Create reports whether a row was
// inserted; false means the wire id was already stored.
type MessageStore interface {
	Create(ctx context.Context, message *domain.Message) (bool, error)
}

// Broadcaster pushes realtime events to connected UI clients.
type Broadcaster interface {
	BroadcastNewMessage(accountID uuid.UUID, message interface{})
	BroadcastLeadCreated(accountID uuid.UUID, lead interface{})
}

// Reconciler turns a raw inbound channel event into a deduplicated
// Lead + Conversation + Message record. Lead dedup rides on the
// (account_id, phone) uniqueness constraint; message dedup on the wire id.
// Failures are logged per event and never propagated to the transport.
type Reconciler struct {
	leads         LeadStore
	pipelines     PipelineStore
	conversations ConversationStore
	messages      MessageStore
	hub           Broadcaster
}

func NewReconciler(leads LeadStore, pipelines PipelineStore, conversations ConversationStore, messages MessageStore, hub Broadcaster) *Reconciler {
	return &Reconciler{
		leads:         leads,
		pipelines:     pipelines,
		conversations: conversations,
		messages:      messages,
		hub:           hub,
	}
}

// Ingest processes one inbound event. It returns the stored message, or
// (nil, nil) when the event was skipped or was a replayed delivery.
func (r *Reconciler) Ingest(ctx context.Context, ev *domain.InboundEvent) (*domain.Message, error) {
	if skipJID(ev.ChannelJID) {
		metrics.InboundMessagesTotal.WithLabelValues("skipped").Inc()
		return nil, nil
	}

	phone := NormalizePhone(ev.Phone)
	if phone == "" {
		phone = phoneFromJID(ev.ChannelJID)
	}
	if phone == "" {
		metrics.InboundMessagesTotal.WithLabelValues("skipped").Inc()
		return nil, nil
	}

	lead, created, err := r.resolveLead(ctx, ev, phone)
	if err != nil {
		metrics.InboundMessagesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to resolve lead: %w", err)
	}

	conv, err := r.conversations.GetOrCreate(ctx, ev.AccountID, ev.DeviceID, ev.ChannelJID, &lead.ID)
	if err != nil {
		metrics.InboundMessagesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to get/create conversation: %w", err)
	}

	direction := domain.DirectionIn
	if ev.IsFromMe {
		direction = domain.DirectionOut
	}
	fromName := ev.PushName
	if fromName == "" {
		fromName = lead.DisplayName()
	}

	message := &domain.Message{
		AccountID:      ev.AccountID,
		DeviceID:       &ev.DeviceID,
		ConversationID: conv.ID,
		MessageID:      ev.MessageID,
		Direction:      direction,
		FromJID:        &ev.ChannelJID,
		FromName:       &fromName,
		Body:           strPtr(ev.Body),
		MessageType:    ev.MessageType,
		MediaURL:       ev.MediaURL,
		MediaMimetype:  ev.MediaMimetype,
		MediaSize:      ev.MediaSize,
		Status:         domain.MessageStatusDelivered,
		Timestamp:      ev.Timestamp,
	}
	inserted, err := r.messages.Create(ctx, message)
	if err != nil {
		metrics.InboundMessagesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to save message: %w", err)
	}
	if !inserted {
		// Replayed delivery: the original row already drove the
		// conversation preview, unread counter and broadcasts
		metrics.InboundMessagesTotal.WithLabelValues("replay").Inc()
		return nil, nil
	}

	preview := ev.Body
	if preview == "" {
		preview = "[" + ev.MessageType + "]"
	}
	if err := r.conversations.UpdateLastMessage(ctx, conv.ID, preview, ev.Timestamp, !ev.IsFromMe); err != nil {
		log.Printf("[Reconciler] Failed to update conversation preview: %v", err)
	}

	if err := r.leads.TouchLastContact(ctx, lead.ID); err != nil {
		log.Printf("[Reconciler] Failed to touch lead last contact: %v", err)
	}

	if created {
		r.hub.BroadcastLeadCreated(ev.AccountID, lead)
	}
	r.hub.BroadcastNewMessage(ev.AccountID, map[string]interface{}{
		"conversation_id": conv.ID.String(),
		"message":         message,
	})

	metrics.InboundMessagesTotal.WithLabelValues("ok").Inc()
	return message, nil
}

// resolveLead finds the lead for a phone or creates it at the entry stage
// of the account's default pipeline. Returns whether the lead is new.
func (r *Reconciler) resolveLead(ctx context.Context, ev *domain.InboundEvent, phone string) (*domain.Lead, bool, error) {
	lead, err := r.leads.GetByPhone(ctx, ev.AccountID, phone)
	if err != nil {
		return nil, false, err
	}
	if lead != nil {
		return lead, false, nil
	}

	lead = &domain.Lead{
		AccountID: ev.AccountID,
		Phone:     phone,
		Status:    domain.LeadStatusNew,
		Source:    strPtr("whatsapp"),
	}
	if ev.PushName != "" {
		lead.Name = strPtr(ev.PushName)
	}

	stage, err := r.pipelines.FirstStage(ctx, ev.AccountID)
	if err != nil {
		return nil, false, err
	}
	if stage != nil {
		lead.PipelineStageID = &stage.ID
		order, err := r.leads.NextKanbanOrder(ctx, stage.ID)
		if err != nil {
			return nil, false, err
		}
		lead.KanbanOrder = order
	}

	if err := r.leads.Create(ctx, lead); err != nil {
		return nil, false, err
	}

	metrics.LeadsCreatedTotal.WithLabelValues("whatsapp").Inc()
	log.Printf("[Reconciler] Created lead %s for %s", lead.ID, phone)
	return lead, true, nil
}

// NormalizePhone strips everything but digits.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// phoneFromJID extracts the user part of a user-server JID.
func phoneFromJID(jid string) string {
	if idx := strings.Index(jid, "@"); idx > 0 {
		return NormalizePhone(jid[:idx])
	}
	return ""
}

// skipJID reports whether the thread identity belongs to a non-user server
// (groups, broadcast lists, newsletters, status).
func skipJID(jid string) bool {
	switch {
	case strings.HasSuffix(jid, "@g.us"),
		strings.HasSuffix(jid, "@broadcast"),
		strings.HasSuffix(jid, "@newsletter"),
		strings.HasPrefix(jid, "status@"):
		return true
	}
	return false
}

func strPtr(s string) *string {
	return &s
}
