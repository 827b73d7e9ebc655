package inbound

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OrtobomPatricio/crmpro/internal/domain"
)

type fakeLeadStore struct {
	leads     map[string]*domain.Lead
	created   []*domain.Lead
	touched   []uuid.UUID
	nextOrder int
	getErr    error
	createErr error
}

func (f *fakeLeadStore) GetByPhone(ctx context.Context, accountID uuid.UUID, phone string) (*domain.Lead, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.leads[phone], nil
}

func (f *fakeLeadStore) Create(ctx context.Context, lead *domain.Lead) error {
	if f.createErr != nil {
		return f.createErr
	}
	lead.ID = uuid.New()
	f.created = append(f.created, lead)
	if f.leads == nil {
		f.leads = make(map[string]*domain.Lead)
	}
	f.leads[lead.Phone] = lead
	return nil
}

func (f *fakeLeadStore) NextKanbanOrder(ctx context.Context, stageID uuid.UUID) (int, error) {
	return f.nextOrder, nil
}

func (f *fakeLeadStore) TouchLastContact(ctx context.Context, id uuid.UUID) error {
	f.touched = append(f.touched, id)
	return nil
}

type fakePipelineStore struct {
	stage *domain.PipelineStage
}

func (f *fakePipelineStore) FirstStage(ctx context.Context, accountID uuid.UUID) (*domain.PipelineStage, error) {
	return f.stage, nil
}

type fakeConversationStore struct {
	conv         *domain.Conversation
	lastLeadID   *uuid.UUID
	lastPreviews []string
	unreadBumps  []bool
}

func (f *fakeConversationStore) GetOrCreate(ctx context.Context, accountID, deviceID uuid.UUID, channelJID string, leadID *uuid.UUID) (*domain.Conversation, error) {
	f.lastLeadID = leadID
	if f.conv == nil {
		f.conv = &domain.Conversation{ID: uuid.New(), AccountID: accountID, ChannelJID: channelJID}
	}
	return f.conv, nil
}

func (f *fakeConversationStore) UpdateLastMessage(ctx context.Context, id uuid.UUID, lastMessage string, at time.Time, incrementUnread bool) error {
	f.lastPreviews = append(f.lastPreviews, lastMessage)
	f.unreadBumps = append(f.unreadBumps, incrementUnread)
	return nil
}

type fakeMessageStore struct {
	messages  []*domain.Message
	createErr error
}

// Create mirrors the ON CONFLICT DO NOTHING insert: a wire id already
// stored for the device is reported as not inserted.
func (f *fakeMessageStore) Create(ctx context.Context, message *domain.Message) (bool, error) {
	if f.createErr != nil {
		return false, f.createErr
	}
	for _, m := range f.messages {
		if m.MessageID == message.MessageID && m.AccountID == message.AccountID {
			return false, nil
		}
	}
	message.ID = uuid.New()
	f.messages = append(f.messages, message)
	return true, nil
}

type fakeBroadcaster struct {
	newMessages []interface{}
	newLeads    []interface{}
}

func (f *fakeBroadcaster) BroadcastNewMessage(accountID uuid.UUID, message interface{}) {
	f.newMessages = append(f.newMessages, message)
}

func (f *fakeBroadcaster) BroadcastLeadCreated(accountID uuid.UUID, lead interface{}) {
	f.newLeads = append(f.newLeads, lead)
}

func newTestEvent() *domain.InboundEvent {
	return &domain.InboundEvent{
		AccountID:   uuid.New(),
		DeviceID:    uuid.New(),
		MessageID:   "3EB0C431C26A1916E07E",
		ChannelJID:  "51987654321@s.whatsapp.net",
		Phone:       "51987654321",
		PushName:    "Maria",
		Body:        "hola, quiero informacion",
		MessageType: domain.MessageTypeText,
		Timestamp:   time.Now(),
	}
}

func TestIngestCreatesLeadAtEntryStage(t *testing.T) {
	stage := &domain.PipelineStage{ID: uuid.New(), Name: "Nuevo"}
	leads := &fakeLeadStore{nextOrder: 3}
	convs := &fakeConversationStore{}
	msgs := &fakeMessageStore{}
	hub := &fakeBroadcaster{}

	r := NewReconciler(leads, &fakePipelineStore{stage: stage}, convs, msgs, hub)

	ev := newTestEvent()
	msg, err := r.Ingest(context.Background(), ev)
	require.NoError(t, err)
	require.NotNil(t, msg)

	require.Len(t, leads.created, 1)
	lead := leads.created[0]
	assert.Equal(t, "51987654321", lead.Phone)
	assert.Equal(t, domain.LeadStatusNew, lead.Status)
	require.NotNil(t, lead.PipelineStageID)
	assert.Equal(t, stage.ID, *lead.PipelineStageID)
	assert.Equal(t, 3, lead.KanbanOrder)
	require.NotNil(t, lead.Name)
	assert.Equal(t, "Maria", *lead.Name)
	require.NotNil(t, lead.Source)
	assert.Equal(t, "whatsapp", *lead.Source)

	// conversation linked to the new lead
	require.NotNil(t, convs.lastLeadID)
	assert.Equal(t, lead.ID, *convs.lastLeadID)

	// message stored with the wire id
	require.Len(t, msgs.messages, 1)
	assert.Equal(t, ev.MessageID, msgs.messages[0].MessageID)
	assert.Equal(t, domain.DirectionIn, msgs.messages[0].Direction)
	assert.Equal(t, domain.MessageStatusDelivered, msgs.messages[0].Status)

	// both realtime events fired
	assert.Len(t, hub.newLeads, 1)
	assert.Len(t, hub.newMessages, 1)

	// lead activity touched
	assert.Equal(t, []uuid.UUID{lead.ID}, leads.touched)
}

func TestIngestReusesExistingLead(t *testing.T) {
	existing := &domain.Lead{
		ID:        uuid.New(),
		Phone:     "51987654321",
		Status:    domain.LeadStatusQualified,
	}
	leads := &fakeLeadStore{leads: map[string]*domain.Lead{"51987654321": existing}}
	convs := &fakeConversationStore{}
	msgs := &fakeMessageStore{}
	hub := &fakeBroadcaster{}

	r := NewReconciler(leads, &fakePipelineStore{}, convs, msgs, hub)

	msg, err := r.Ingest(context.Background(), newTestEvent())
	require.NoError(t, err)
	require.NotNil(t, msg)

	assert.Empty(t, leads.created)
	assert.Empty(t, hub.newLeads)
	require.NotNil(t, convs.lastLeadID)
	assert.Equal(t, existing.ID, *convs.lastLeadID)
}

func TestIngestReplayIsNoOp(t *testing.T) {
	leads := &fakeLeadStore{}
	convs := &fakeConversationStore{}
	msgs := &fakeMessageStore{}
	hub := &fakeBroadcaster{}

	r := NewReconciler(leads, &fakePipelineStore{}, convs, msgs, hub)

	ev := newTestEvent()
	first, err := r.Ingest(context.Background(), ev)
	require.NoError(t, err)
	require.NotNil(t, first)

	// Same wire id delivered again: no new row, no counter bump, no event
	replayed, err := r.Ingest(context.Background(), ev)
	require.NoError(t, err)
	assert.Nil(t, replayed)

	assert.Len(t, msgs.messages, 1)
	assert.Equal(t, []bool{true}, convs.unreadBumps)
	assert.Len(t, hub.newMessages, 1)
	assert.Len(t, leads.touched, 1)
}

func TestIngestSkipsNonUserThreads(t *testing.T) {
	jids := []string{
		"123456789-987654@g.us",
		"status@broadcast",
		"555@newsletter",
	}
	for _, jid := range jids {
		leads := &fakeLeadStore{}
		msgs := &fakeMessageStore{}
		r := NewReconciler(leads, &fakePipelineStore{}, &fakeConversationStore{}, msgs, &fakeBroadcaster{})

		ev := newTestEvent()
		ev.ChannelJID = jid
		msg, err := r.Ingest(context.Background(), ev)
		require.NoError(t, err, jid)
		assert.Nil(t, msg, jid)
		assert.Empty(t, leads.created, jid)
		assert.Empty(t, msgs.messages, jid)
	}
}

func TestIngestDerivesPhoneFromJID(t *testing.T) {
	leads := &fakeLeadStore{}
	r := NewReconciler(leads, &fakePipelineStore{}, &fakeConversationStore{}, &fakeMessageStore{}, &fakeBroadcaster{})

	ev := newTestEvent()
	ev.Phone = ""
	_, err := r.Ingest(context.Background(), ev)
	require.NoError(t, err)
	require.Len(t, leads.created, 1)
	assert.Equal(t, "51987654321", leads.created[0].Phone)
}

func TestIngestOutboundDoesNotBumpUnread(t *testing.T) {
	convs := &fakeConversationStore{}
	r := NewReconciler(&fakeLeadStore{}, &fakePipelineStore{}, convs, &fakeMessageStore{}, &fakeBroadcaster{})

	ev := newTestEvent()
	ev.IsFromMe = true
	msg, err := r.Ingest(context.Background(), ev)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, domain.DirectionOut, msg.Direction)
	require.Len(t, convs.unreadBumps, 1)
	assert.False(t, convs.unreadBumps[0])
}

func TestIngestMediaPreviewUsesType(t *testing.T) {
	convs := &fakeConversationStore{}
	r := NewReconciler(&fakeLeadStore{}, &fakePipelineStore{}, convs, &fakeMessageStore{}, &fakeBroadcaster{})

	ev := newTestEvent()
	ev.Body = ""
	ev.MessageType = domain.MessageTypeImage
	_, err := r.Ingest(context.Background(), ev)
	require.NoError(t, err)
	require.Len(t, convs.lastPreviews, 1)
	assert.Equal(t, "[image]", convs.lastPreviews[0])
}

func TestIngestPropagatesStoreErrors(t *testing.T) {
	boom := errors.New("db down")

	r := NewReconciler(&fakeLeadStore{getErr: boom}, &fakePipelineStore{}, &fakeConversationStore{}, &fakeMessageStore{}, &fakeBroadcaster{})
	_, err := r.Ingest(context.Background(), newTestEvent())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	r = NewReconciler(&fakeLeadStore{}, &fakePipelineStore{}, &fakeConversationStore{}, &fakeMessageStore{createErr: boom}, &fakeBroadcaster{})
	_, err = r.Ingest(context.Background(), newTestEvent())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"+51 987-654-321": "51987654321",
		"(511) 234 5678":  "5112345678",
		"abc":             "",
		"":                "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizePhone(in), in)
	}
}
