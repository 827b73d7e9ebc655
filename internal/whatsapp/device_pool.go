package whatsapp

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/OrtobomPatricio/crmpro/internal/domain"
	"github.com/OrtobomPatricio/crmpro/internal/inbound"
	"github.com/OrtobomPatricio/crmpro/internal/metrics"
	"github.com/OrtobomPatricio/crmpro/internal/repository"
	"github.com/OrtobomPatricio/crmpro/internal/storage"
	"github.com/OrtobomPatricio/crmpro/internal/ws"
	"github.com/OrtobomPatricio/crmpro/pkg/config"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for whatsmeow sqlstore
	qrcode "github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

const (
	reconnectBase = 5 * time.Second
	reconnectCap  = 5 * time.Minute
)

// strPtr returns a pointer to a string
func strPtr(s string) *string {
	return &s
}

// DeviceInstance represents a single WhatsApp connection
type DeviceInstance struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	Client    *whatsmeow.Client
	JID       string
	Status    string
	QRCode    string
	retries   int
	stopped   bool
	mu        sync.RWMutex
}

// DevicePool manages multiple WhatsApp connections
type DevicePool struct {
	devices    map[uuid.UUID]*DeviceInstance
	store      *sqlstore.Container
	repos      *repository.Repositories
	hub        *ws.Hub
	cfg        *config.Config
	storage    *storage.Storage
	reconciler *inbound.Reconciler
	mu         sync.RWMutex
}

// NewDevicePool creates a new device pool
func NewDevicePool(cfg *config.Config, repos *repository.Repositories, hub *ws.Hub, rec *inbound.Reconciler) (*DevicePool, error) {
	// Initialize whatsmeow store with PostgreSQL
	dbLog := waLog.Stdout("Database", "DEBUG", true)
	container, err := sqlstore.New(context.Background(), "pgx", cfg.DatabaseURL, dbLog)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize whatsmeow store: %w", err)
	}

	// Warm up LID mapping cache for @lid -> phone resolution
	if container.LIDMap != nil {
		if err := container.LIDMap.FillCache(context.Background()); err != nil {
			log.Printf("[DevicePool] Warning: failed to fill LID cache: %v", err)
		} else {
			log.Printf("[DevicePool] LID mapping cache loaded")
		}
	}

	return &DevicePool{
		devices:    make(map[uuid.UUID]*DeviceInstance),
		store:      container,
		repos:      repos,
		hub:        hub,
		cfg:        cfg,
		reconciler: rec,
	}, nil
}

// SetStorage sets the storage instance for media handling
func (p *DevicePool) SetStorage(s *storage.Storage) {
	p.storage = s
}

// LoadExistingDevices loads all previously paired devices and reconnects them
func (p *DevicePool) LoadExistingDevices(ctx context.Context) error {
	devices, err := p.repos.Device.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to get devices: %w", err)
	}

	for _, device := range devices {
		if device.JID != nil && *device.JID != "" {
			go func(d *domain.Device) {
				if err := p.ConnectDevice(ctx, d.ID); err != nil {
					log.Printf("[DevicePool] Failed to reconnect device %s: %v", d.ID, err)
				}
			}(device)
		}
	}

	return nil
}

// CreateDevice creates a new device entry and returns it
func (p *DevicePool) CreateDevice(ctx context.Context, accountID uuid.UUID, name string) (*domain.Device, error) {
	status := domain.DeviceStatusDisconnected
	device := &domain.Device{
		AccountID: accountID,
		Name:      &name,
		Status:    &status,
	}

	if err := p.repos.Device.Create(ctx, device); err != nil {
		return nil, fmt.Errorf("failed to create device: %w", err)
	}

	return device, nil
}

// ConnectDevice initializes and connects a WhatsApp client for a device
func (p *DevicePool) ConnectDevice(ctx context.Context, deviceID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if instance, exists := p.devices[deviceID]; exists {
		if instance.Client != nil && instance.Client.IsConnected() {
			return nil // Already connected
		}
	}

	device, err := p.repos.Device.GetByID(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("failed to get device: %w", err)
	}
	if device == nil {
		return fmt.Errorf("device not found: %s", deviceID)
	}

	_ = p.repos.Device.UpdateStatus(ctx, deviceID, domain.DeviceStatusConnecting)
	p.hub.BroadcastDeviceStatus(device.AccountID, deviceID, domain.DeviceStatusConnecting, "")

	// Get or create whatsmeow device store
	var waDevice *store.Device
	if device.JID != nil && *device.JID != "" {
		jid, _ := types.ParseJID(*device.JID)
		waDevice, err = p.store.GetDevice(ctx, jid)
		if err != nil {
			waDevice = nil // Create new if not found
		}
	}

	if waDevice == nil {
		waDevice = p.store.NewDevice()
	}

	store.DeviceProps.Os = proto.String("CRM Pro")
	store.DeviceProps.RequireFullSync = proto.Bool(false)

	clientLog := waLog.Stdout("Client", "INFO", true)
	client := whatsmeow.NewClient(waDevice, clientLog)
	// Reconnects are scheduled by the pool with capped backoff
	client.EnableAutoReconnect = false
	client.AutoTrustIdentity = true

	instance := &DeviceInstance{
		ID:        deviceID,
		AccountID: device.AccountID,
		Client:    client,
		Status:    domain.DeviceStatusConnecting,
	}
	p.devices[deviceID] = instance

	client.AddEventHandler(func(evt interface{}) {
		p.handleEvent(ctx, instance, evt)
	})

	if client.Store.ID == nil {
		// New device, needs QR pairing
		qrChan, _ := client.GetQRChannel(ctx)
		err = client.Connect()
		if err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}

		go p.handleQRChannel(ctx, instance, qrChan)
	} else {
		err = client.Connect()
		if err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
	}

	return nil
}

// handleQRChannel handles QR code events
func (p *DevicePool) handleQRChannel(ctx context.Context, instance *DeviceInstance, qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		switch evt.Event {
		case "code":
			qr, err := qrcode.Encode(evt.Code, qrcode.Medium, 256)
			if err != nil {
				log.Printf("[QR] Failed to generate QR code: %v", err)
				continue
			}
			qrBase64 := "data:image/png;base64," + base64.StdEncoding.EncodeToString(qr)

			instance.mu.Lock()
			instance.QRCode = qrBase64
			instance.Status = domain.DeviceStatusQRPending
			instance.mu.Unlock()

			_ = p.repos.Device.UpdateQRCode(ctx, instance.ID, qrBase64)

			p.hub.BroadcastQRCode(instance.AccountID, instance.ID, qrBase64)
			log.Printf("[QR] New QR code generated for device %s", instance.ID)

		case "success":
			log.Printf("[QR] Login successful for device %s", instance.ID)

		case "timeout":
			log.Printf("[QR] QR code timeout for device %s", instance.ID)
			instance.mu.Lock()
			instance.Status = domain.DeviceStatusDisconnected
			instance.QRCode = ""
			instance.mu.Unlock()
			_ = p.repos.Device.UpdateStatus(ctx, instance.ID, domain.DeviceStatusDisconnected)
			p.hub.BroadcastDeviceStatus(instance.AccountID, instance.ID, domain.DeviceStatusDisconnected, "")
		}
	}
}

// handleEvent processes WhatsApp events
func (p *DevicePool) handleEvent(ctx context.Context, instance *DeviceInstance, rawEvt interface{}) {
	switch evt := rawEvt.(type) {
	case *events.Connected:
		p.handleConnected(ctx, instance)

	case *events.LoggedOut:
		p.handleLoggedOut(ctx, instance, evt)

	case *events.Disconnected:
		p.handleDisconnected(ctx, instance)

	case *events.Message:
		p.handleMessage(ctx, instance, evt)

	case *events.Receipt:
		p.handleReceipt(ctx, instance, evt)
	}
}

// handleConnected processes connection events
func (p *DevicePool) handleConnected(ctx context.Context, instance *DeviceInstance) {
	if instance.Client.Store.ID == nil {
		return
	}

	jid := instance.Client.Store.ID.String()
	phone := strings.Split(instance.Client.Store.ID.User, "@")[0]

	instance.mu.Lock()
	instance.JID = jid
	instance.Status = domain.DeviceStatusConnected
	instance.QRCode = ""
	instance.retries = 0
	instance.mu.Unlock()

	_ = p.repos.Device.UpdateConnection(ctx, instance.ID, jid, phone)

	p.hub.BroadcastDeviceStatus(instance.AccountID, instance.ID, domain.DeviceStatusConnected, "")
	metrics.ConnectedDevices.Set(float64(p.GetConnectedCount()))

	log.Printf("[Device %s] Connected as %s", instance.ID, jid)
}

// handleLoggedOut processes logout events. A logged out device is not
// retried; it needs a fresh QR pairing.
func (p *DevicePool) handleLoggedOut(ctx context.Context, instance *DeviceInstance, evt *events.LoggedOut) {
	instance.mu.Lock()
	instance.Status = domain.DeviceStatusLoggedOut
	instance.JID = ""
	instance.stopped = true
	instance.mu.Unlock()

	_ = p.repos.Device.UpdateStatus(ctx, instance.ID, domain.DeviceStatusLoggedOut)
	p.hub.BroadcastDeviceStatus(instance.AccountID, instance.ID, domain.DeviceStatusLoggedOut, "")
	metrics.ConnectedDevices.Set(float64(p.GetConnectedCount()))

	log.Printf("[Device %s] Logged out: %s", instance.ID, evt.Reason)
}

// handleDisconnected processes disconnection events and schedules a
// reconnect attempt with capped exponential backoff.
func (p *DevicePool) handleDisconnected(ctx context.Context, instance *DeviceInstance) {
	instance.mu.Lock()
	instance.Status = domain.DeviceStatusDisconnected
	stopped := instance.stopped
	instance.mu.Unlock()

	_ = p.repos.Device.UpdateStatus(ctx, instance.ID, domain.DeviceStatusDisconnected)
	p.hub.BroadcastDeviceStatus(instance.AccountID, instance.ID, domain.DeviceStatusDisconnected, "")
	metrics.ConnectedDevices.Set(float64(p.GetConnectedCount()))

	log.Printf("[Device %s] Disconnected", instance.ID)

	if !stopped {
		p.scheduleReconnect(instance)
	}
}

// scheduleReconnect retries the connection after an exponentially growing
// delay with jitter. The delay caps at reconnectCap; the attempt counter
// resets on a successful connect.
func (p *DevicePool) scheduleReconnect(instance *DeviceInstance) {
	instance.mu.Lock()
	attempt := instance.retries
	instance.retries++
	instance.mu.Unlock()

	delay := reconnectBase << uint(attempt)
	if delay > reconnectCap || delay <= 0 {
		delay = reconnectCap
	}
	// Jitter up to 25% to avoid stampedes after a server-side drop
	delay += time.Duration(rand.Int63n(int64(delay) / 4))

	log.Printf("[Device %s] Reconnect attempt %d in %s", instance.ID, attempt+1, delay)

	time.AfterFunc(delay, func() {
		instance.mu.RLock()
		stopped := instance.stopped
		client := instance.Client
		instance.mu.RUnlock()

		if stopped || client == nil || client.IsConnected() {
			return
		}

		metrics.DeviceReconnectsTotal.Inc()
		if err := client.Connect(); err != nil {
			log.Printf("[Device %s] Reconnect failed: %v", instance.ID, err)
			p.scheduleReconnect(instance)
		}
	})
}

// handleMessage normalizes an incoming message and hands it to the
// reconciler. Groups, broadcasts and newsletters are dropped before any
// media work happens.
func (p *DevicePool) handleMessage(ctx context.Context, instance *DeviceInstance, evt *events.Message) {
	chatServer := evt.Info.Chat.Server
	if chatServer == "g.us" || chatServer == "broadcast" || chatServer == "newsletter" {
		return
	}

	body := ""
	msgType := domain.MessageTypeText
	var mediaURL, mediaMimetype *string
	var mediaSize *int64

	chatUser := evt.Info.Chat.ToNonAD().User

	if evt.Message.GetConversation() != "" {
		body = evt.Message.GetConversation()
	} else if evt.Message.GetExtendedTextMessage() != nil {
		body = evt.Message.GetExtendedTextMessage().GetText()
	} else if imgMsg := evt.Message.GetImageMessage(); imgMsg != nil {
		body = imgMsg.GetCaption()
		msgType = domain.MessageTypeImage
		mediaMimetype = strPtr(imgMsg.GetMimetype())
		if p.storage != nil {
			url, err := p.downloadAndStoreMedia(ctx, instance, imgMsg, chatUser, evt.Info.ID, imgMsg.GetMimetype(), ".jpg")
			if err == nil {
				mediaURL = &url
			}
		}
	} else if vidMsg := evt.Message.GetVideoMessage(); vidMsg != nil {
		body = vidMsg.GetCaption()
		msgType = domain.MessageTypeVideo
		mediaMimetype = strPtr(vidMsg.GetMimetype())
		if p.storage != nil {
			url, err := p.downloadAndStoreMedia(ctx, instance, vidMsg, chatUser, evt.Info.ID, vidMsg.GetMimetype(), ".mp4")
			if err == nil {
				mediaURL = &url
			}
		}
	} else if audMsg := evt.Message.GetAudioMessage(); audMsg != nil {
		msgType = domain.MessageTypeAudio
		mediaMimetype = strPtr(audMsg.GetMimetype())
		if p.storage != nil {
			url, err := p.downloadAndStoreMedia(ctx, instance, audMsg, chatUser, evt.Info.ID, audMsg.GetMimetype(), ".ogg")
			if err == nil {
				mediaURL = &url
			}
		}
	} else if docMsg := evt.Message.GetDocumentMessage(); docMsg != nil {
		body = docMsg.GetFileName()
		msgType = domain.MessageTypeDocument
		mediaMimetype = strPtr(docMsg.GetMimetype())
		if docMsg.FileLength != nil {
			size := int64(*docMsg.FileLength)
			mediaSize = &size
		}
		ext := filepath.Ext(docMsg.GetFileName())
		if ext == "" {
			ext = ".bin"
		}
		if p.storage != nil {
			url, err := p.downloadAndStoreMedia(ctx, instance, docMsg, chatUser, evt.Info.ID, docMsg.GetMimetype(), ext)
			if err == nil {
				mediaURL = &url
			}
		}
	}

	// Normalize JIDs to remove device suffix for consistent thread matching.
	// ToNonAD() converts JIDs like "user:5@s.whatsapp.net" to "user@s.whatsapp.net"
	chatJID := evt.Info.Chat.ToNonAD().String()
	phone := evt.Info.Sender.ToNonAD().User
	isFromMe := evt.Info.IsFromMe

	if evt.Info.Chat.Server == types.HiddenUserServer {
		// Chat JID is @lid, resolve to @s.whatsapp.net for consistent identity
		if pnJID, err := p.store.LIDMap.GetPNForLID(ctx, evt.Info.Chat.ToNonAD()); err == nil && !pnJID.IsEmpty() {
			chatJID = pnJID.User + "@s.whatsapp.net"
			phone = pnJID.User
			log.Printf("[Message] Resolved chat LID %s -> %s", evt.Info.Chat.ToNonAD().String(), chatJID)
		}
	}
	if !isFromMe && evt.Info.Sender.Server == types.HiddenUserServer {
		if pnJID, err := p.store.LIDMap.GetPNForLID(ctx, evt.Info.Sender.ToNonAD()); err == nil && !pnJID.IsEmpty() {
			phone = pnJID.User
		} else if evt.Info.Chat.Server == types.DefaultUserServer {
			phone = evt.Info.Chat.ToNonAD().User
		}
	}

	ev := &domain.InboundEvent{
		AccountID:     instance.AccountID,
		DeviceID:      instance.ID,
		MessageID:     evt.Info.ID,
		ChannelJID:    chatJID,
		Phone:         phone,
		PushName:      evt.Info.PushName,
		Body:          body,
		MessageType:   msgType,
		MediaURL:      mediaURL,
		MediaMimetype: mediaMimetype,
		MediaSize:     mediaSize,
		IsFromMe:      isFromMe,
		Timestamp:     evt.Info.Timestamp,
	}

	if _, err := p.reconciler.Ingest(ctx, ev); err != nil {
		log.Printf("[Message] Failed to ingest %s: %v", evt.Info.ID, err)
		return
	}

	if err := p.repos.Device.TouchLastSeen(ctx, instance.ID, time.Now()); err != nil {
		log.Printf("[Message] Failed to touch device last seen: %v", err)
	}

	// Fetch the lead avatar in the background for fresh contacts
	if !isFromMe {
		lead, _ := p.repos.Lead.GetByPhone(ctx, instance.AccountID, inbound.NormalizePhone(phone))
		if lead != nil && lead.AvatarURL == nil {
			avatarJID := evt.Info.Chat.ToNonAD()
			if avatarJID.Server == types.HiddenUserServer {
				if pnJID, err := p.store.LIDMap.GetPNForLID(ctx, avatarJID); err == nil && !pnJID.IsEmpty() {
					avatarJID = pnJID
				}
			}
			go p.fetchAndStoreAvatar(ctx, instance, lead.ID, avatarJID)
		}
	}

	log.Printf("[Message] %s -> %s: %s", evt.Info.PushName, chatJID, truncate(body, 50))
}

// fetchAndStoreAvatar fetches a WhatsApp profile picture and stores it
func (p *DevicePool) fetchAndStoreAvatar(ctx context.Context, instance *DeviceInstance, leadID uuid.UUID, jid types.JID) {
	if p.storage == nil || instance.Client == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Avatar] Panic recovering avatar for %s: %v", jid.String(), r)
		}
	}()

	picInfo, err := instance.Client.GetProfilePictureInfo(ctx, jid, &whatsmeow.GetProfilePictureParams{})
	if err != nil || picInfo == nil {
		log.Printf("[Avatar] No profile picture for %s: %v", jid.String(), err)
		return
	}

	resp, err := http.Get(picInfo.URL)
	if err != nil {
		log.Printf("[Avatar] Failed to download avatar for %s: %v", jid.String(), err)
		return
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil || len(data) == 0 {
		log.Printf("[Avatar] Failed to read avatar for %s: %v", jid.String(), err)
		return
	}

	filename := jid.ToNonAD().User + ".jpg"
	_, err = p.storage.UploadFile(ctx, instance.AccountID, "avatars", filename, data, "image/jpeg")
	if err != nil {
		log.Printf("[Avatar] Failed to store avatar for %s: %v", jid.String(), err)
		return
	}

	proxyURL := fmt.Sprintf("/api/media/file/%s/avatars/%s", instance.AccountID.String(), filename)
	if err := p.repos.Lead.UpdateAvatar(ctx, leadID, proxyURL); err != nil {
		log.Printf("[Avatar] Failed to update lead avatar: %v", err)
		return
	}

	log.Printf("[Avatar] Stored avatar for %s", jid.String())
}

// downloadAndStoreMedia downloads media from WhatsApp and stores it in MinIO
func (p *DevicePool) downloadAndStoreMedia(ctx context.Context, instance *DeviceInstance, msg whatsmeow.DownloadableMessage, chatUser, msgID, mimetype, extension string) (string, error) {
	if p.storage == nil {
		return "", fmt.Errorf("storage not configured")
	}

	data, err := instance.Client.Download(ctx, msg)
	if err != nil {
		log.Printf("[Media] Failed to download: %v", err)
		return "", err
	}

	filename := msgID + extension
	folder := "media/" + chatUser

	_, err = p.storage.UploadFile(ctx, instance.AccountID, folder, filename, data, mimetype)
	if err != nil {
		log.Printf("[Media] Failed to upload: %v", err)
		return "", err
	}

	// Return proxy URL instead of public URL for reliable frontend loading
	proxyURL := fmt.Sprintf("/api/media/file/%s/%s/%s", instance.AccountID.String(), folder, filename)
	log.Printf("[Media] Stored %s (%d bytes)", proxyURL, len(data))
	return proxyURL, nil
}

// handleReceipt processes delivery and read receipts
func (p *DevicePool) handleReceipt(ctx context.Context, instance *DeviceInstance, evt *events.Receipt) {
	status := domain.MessageStatusDelivered
	if evt.Type == types.ReceiptTypeRead {
		status = domain.MessageStatusRead
	}

	for _, id := range evt.MessageIDs {
		if err := p.repos.Message.UpdateStatusByWireID(ctx, instance.ID, id, status); err != nil {
			log.Printf("[Receipt] Failed to update message %s: %v", id, err)
		}
	}

	p.hub.BroadcastToAccount(instance.AccountID, ws.EventMessageStatus, map[string]interface{}{
		"message_ids": evt.MessageIDs,
		"channel_jid": evt.Chat.ToNonAD().String(),
		"status":      status,
		"timestamp":   evt.Timestamp,
	})
}

// resolveRecipient parses a destination into a JID, accepting either a
// full JID or a bare phone number.
func resolveRecipient(to string) (types.JID, error) {
	jid, err := types.ParseJID(to)
	if err != nil {
		if !strings.Contains(to, "@") {
			return types.NewJID(to, types.DefaultUserServer), nil
		}
		return types.JID{}, fmt.Errorf("invalid JID: %s", to)
	}
	return jid, nil
}

// normalizedJID resolves @lid thread identities to @s.whatsapp.net
func (p *DevicePool) normalizedJID(ctx context.Context, jid types.JID) string {
	normalized := jid.ToNonAD().String()
	if jid.Server == types.HiddenUserServer {
		if pnJID, err := p.store.LIDMap.GetPNForLID(ctx, jid.ToNonAD()); err == nil && !pnJID.IsEmpty() {
			normalized = pnJID.User + "@s.whatsapp.net"
		}
	}
	return normalized
}

// recordOutbound stores a sent message and updates the conversation preview
func (p *DevicePool) recordOutbound(ctx context.Context, instance *DeviceInstance, chatJID string, message *domain.Message, preview string) (*domain.Message, error) {
	var leadID *uuid.UUID
	if lead, _ := p.repos.Lead.GetByPhone(ctx, instance.AccountID, inbound.NormalizePhone(strings.Split(chatJID, "@")[0])); lead != nil {
		leadID = &lead.ID
	}

	conv, err := p.repos.Conversation.GetOrCreate(ctx, instance.AccountID, instance.ID, chatJID, leadID)
	if err != nil {
		return nil, fmt.Errorf("failed to get/create conversation: %w", err)
	}
	message.ConversationID = conv.ID

	if _, err := p.repos.Message.Create(ctx, message); err != nil {
		log.Printf("[Send] Failed to save message: %v", err)
	}

	_ = p.repos.Conversation.UpdateLastMessage(ctx, conv.ID, preview, message.Timestamp, false)

	p.hub.BroadcastToAccount(instance.AccountID, ws.EventMessageSent, map[string]interface{}{
		"conversation_id": conv.ID.String(),
		"message":         message,
	})

	return message, nil
}

// SendTextMessage sends a text message
func (p *DevicePool) SendTextMessage(ctx context.Context, deviceID uuid.UUID, to, body string) (*domain.Message, error) {
	p.mu.RLock()
	instance, exists := p.devices[deviceID]
	p.mu.RUnlock()

	if !exists || instance.Client == nil {
		return nil, fmt.Errorf("device not connected: %s", deviceID)
	}

	jid, err := resolveRecipient(to)
	if err != nil {
		return nil, err
	}

	msg := &waE2E.Message{
		Conversation: proto.String(body),
	}

	resp, err := instance.Client.SendMessage(ctx, jid, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	chatJID := p.normalizedJID(ctx, jid)
	message := &domain.Message{
		AccountID:   instance.AccountID,
		DeviceID:    &instance.ID,
		MessageID:   resp.ID,
		Direction:   domain.DirectionOut,
		FromJID:     strPtr(instance.JID),
		FromName:    strPtr("Me"),
		Body:        strPtr(body),
		MessageType: domain.MessageTypeText,
		Status:      domain.MessageStatusSent,
		Timestamp:   resp.Timestamp,
	}

	return p.recordOutbound(ctx, instance, chatJID, message, body)
}

// publicToProxyURL converts a MinIO public URL to a backend proxy URL
func (p *DevicePool) publicToProxyURL(publicURL string) string {
	if strings.HasPrefix(publicURL, "/api/media/") {
		return publicURL // Already a proxy URL
	}
	bucketPrefix := fmt.Sprintf("%s/%s/", p.cfg.MinioPublicURL, p.cfg.MinioBucket)
	if strings.HasPrefix(publicURL, bucketPrefix) {
		objectPath := strings.TrimPrefix(publicURL, bucketPrefix)
		return "/api/media/file/" + objectPath
	}
	marker := "/" + p.cfg.MinioBucket + "/"
	if idx := strings.Index(publicURL, marker); idx >= 0 {
		objectPath := publicURL[idx+len(marker):]
		return "/api/media/file/" + objectPath
	}
	return publicURL
}

// SendMediaMessage sends a media message (image, video, audio, document)
func (p *DevicePool) SendMediaMessage(ctx context.Context, deviceID uuid.UUID, to, caption, mediaURL, mediaType string) (*domain.Message, error) {
	p.mu.RLock()
	instance, exists := p.devices[deviceID]
	p.mu.RUnlock()

	if !exists || instance.Client == nil {
		return nil, fmt.Errorf("device not connected: %s", deviceID)
	}

	jid, err := resolveRecipient(to)
	if err != nil {
		return nil, err
	}

	// Load media bytes, either from our own storage or over HTTP
	var data []byte
	var mimetype string

	if strings.HasPrefix(mediaURL, "/api/media/file/") {
		objectKey := strings.TrimPrefix(mediaURL, "/api/media/file/")
		log.Printf("[SendMediaMessage] Reading from storage: %s", objectKey)
		data, err = p.storage.GetFile(ctx, objectKey)
		if err != nil {
			return nil, fmt.Errorf("failed to read media from storage: %w", err)
		}
		mimetype = mimetypeForKey(objectKey)
	} else {
		downloadURL := mediaURL
		if p.cfg.MinioPublicURL != "" && p.cfg.MinioEndpoint != "" {
			scheme := "http"
			if p.cfg.MinioUseSSL {
				scheme = "https"
			}
			internalURL := fmt.Sprintf("%s://%s", scheme, p.cfg.MinioEndpoint)
			downloadURL = strings.Replace(mediaURL, p.cfg.MinioPublicURL, internalURL, 1)
		}
		resp, err := http.Get(downloadURL)
		if err != nil {
			return nil, fmt.Errorf("failed to download media: Get %q: %w", downloadURL, err)
		}
		defer resp.Body.Close()
		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read media: %w", err)
		}
		mimetype = resp.Header.Get("Content-Type")
		if mimetype == "" {
			mimetype = "application/octet-stream"
		}
	}

	var waMediaType whatsmeow.MediaType
	switch mediaType {
	case domain.MessageTypeImage:
		waMediaType = whatsmeow.MediaImage
	case domain.MessageTypeVideo:
		waMediaType = whatsmeow.MediaVideo
	case domain.MessageTypeAudio:
		waMediaType = whatsmeow.MediaAudio
	case domain.MessageTypeDocument:
		waMediaType = whatsmeow.MediaDocument
	default:
		return nil, fmt.Errorf("unsupported media type: %s", mediaType)
	}

	uploaded, err := instance.Client.Upload(ctx, data, waMediaType)
	if err != nil {
		return nil, fmt.Errorf("failed to upload to WhatsApp: %w", err)
	}

	var msg *waE2E.Message

	switch mediaType {
	case domain.MessageTypeImage:
		msg = &waE2E.Message{
			ImageMessage: &waE2E.ImageMessage{
				URL:           proto.String(uploaded.URL),
				DirectPath:    proto.String(uploaded.DirectPath),
				MediaKey:      uploaded.MediaKey,
				Mimetype:      proto.String(mimetype),
				FileEncSHA256: uploaded.FileEncSHA256,
				FileSHA256:    uploaded.FileSHA256,
				FileLength:    proto.Uint64(uint64(len(data))),
				Caption:       proto.String(caption),
			},
		}
	case domain.MessageTypeVideo:
		msg = &waE2E.Message{
			VideoMessage: &waE2E.VideoMessage{
				URL:           proto.String(uploaded.URL),
				DirectPath:    proto.String(uploaded.DirectPath),
				MediaKey:      uploaded.MediaKey,
				Mimetype:      proto.String(mimetype),
				FileEncSHA256: uploaded.FileEncSHA256,
				FileSHA256:    uploaded.FileSHA256,
				FileLength:    proto.Uint64(uint64(len(data))),
				Caption:       proto.String(caption),
			},
		}
	case domain.MessageTypeAudio:
		msg = &waE2E.Message{
			AudioMessage: &waE2E.AudioMessage{
				URL:           proto.String(uploaded.URL),
				DirectPath:    proto.String(uploaded.DirectPath),
				MediaKey:      uploaded.MediaKey,
				Mimetype:      proto.String(mimetype),
				FileEncSHA256: uploaded.FileEncSHA256,
				FileSHA256:    uploaded.FileSHA256,
				FileLength:    proto.Uint64(uint64(len(data))),
				PTT:           proto.Bool(true),
			},
		}
	case domain.MessageTypeDocument:
		filename := filepath.Base(mediaURL)
		msg = &waE2E.Message{
			DocumentMessage: &waE2E.DocumentMessage{
				URL:           proto.String(uploaded.URL),
				DirectPath:    proto.String(uploaded.DirectPath),
				MediaKey:      uploaded.MediaKey,
				Mimetype:      proto.String(mimetype),
				FileEncSHA256: uploaded.FileEncSHA256,
				FileSHA256:    uploaded.FileSHA256,
				FileLength:    proto.Uint64(uint64(len(data))),
				FileName:      proto.String(filename),
				Caption:       proto.String(caption),
			},
		}
	}

	sendResp, err := instance.Client.SendMessage(ctx, jid, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	chatJID := p.normalizedJID(ctx, jid)
	proxyMediaURL := p.publicToProxyURL(mediaURL)
	size := int64(len(data))
	message := &domain.Message{
		AccountID:     instance.AccountID,
		DeviceID:      &instance.ID,
		MessageID:     sendResp.ID,
		Direction:     domain.DirectionOut,
		FromJID:       strPtr(instance.JID),
		FromName:      strPtr("Me"),
		Body:          strPtr(caption),
		MessageType:   mediaType,
		MediaURL:      strPtr(proxyMediaURL),
		MediaMimetype: strPtr(mimetype),
		MediaSize:     &size,
		Status:        domain.MessageStatusSent,
		Timestamp:     sendResp.Timestamp,
	}

	preview := caption
	if preview == "" {
		preview = fmt.Sprintf("[%s]", mediaType)
	}

	log.Printf("[SendMediaMessage] %s -> %s: [%s]", instance.JID, jid.String(), mediaType)
	return p.recordOutbound(ctx, instance, chatJID, message, preview)
}

// mimetypeForKey detects a content type from an object key extension
func mimetypeForKey(objectKey string) string {
	dotIdx := strings.LastIndex(objectKey, ".")
	if dotIdx < 0 {
		return "application/octet-stream"
	}
	switch strings.ToLower(objectKey[dotIdx:]) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mp3":
		return "audio/mpeg"
	case ".ogg":
		return "audio/ogg"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// GetDevice returns a device instance by ID
func (p *DevicePool) GetDevice(deviceID uuid.UUID) *DeviceInstance {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.devices[deviceID]
}

// GetDeviceStatus returns the status of a device
func (p *DevicePool) GetDeviceStatus(deviceID uuid.UUID) string {
	p.mu.RLock()
	instance, exists := p.devices[deviceID]
	p.mu.RUnlock()

	if !exists {
		return domain.DeviceStatusDisconnected
	}

	instance.mu.RLock()
	defer instance.mu.RUnlock()
	return instance.Status
}

// GetQRCode returns the current QR code for a device
func (p *DevicePool) GetQRCode(deviceID uuid.UUID) string {
	p.mu.RLock()
	instance, exists := p.devices[deviceID]
	p.mu.RUnlock()

	if !exists {
		return ""
	}

	instance.mu.RLock()
	defer instance.mu.RUnlock()
	return instance.QRCode
}

// IsConnected reports whether a device has a live session
func (p *DevicePool) IsConnected(deviceID uuid.UUID) bool {
	p.mu.RLock()
	instance, exists := p.devices[deviceID]
	p.mu.RUnlock()
	return exists && instance.Client != nil && instance.Client.IsConnected()
}

// DisconnectDevice disconnects a device without unpairing it
func (p *DevicePool) DisconnectDevice(ctx context.Context, deviceID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	instance, exists := p.devices[deviceID]
	if !exists {
		return nil
	}

	instance.mu.Lock()
	instance.stopped = true
	instance.Status = domain.DeviceStatusDisconnected
	instance.mu.Unlock()

	if instance.Client != nil {
		instance.Client.Disconnect()
	}

	_ = p.repos.Device.UpdateStatus(ctx, deviceID, domain.DeviceStatusDisconnected)

	return nil
}

// DeleteDevice removes a device completely
func (p *DevicePool) DeleteDevice(ctx context.Context, deviceID uuid.UUID) error {
	_ = p.DisconnectDevice(ctx, deviceID)

	p.mu.Lock()
	instance, exists := p.devices[deviceID]
	if exists {
		if instance.Client != nil {
			instance.Client.Logout(ctx)
		}
		delete(p.devices, deviceID)
	}
	p.mu.Unlock()

	return p.repos.Device.Delete(ctx, deviceID)
}

// Shutdown closes all connections gracefully
func (p *DevicePool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, instance := range p.devices {
		instance.mu.Lock()
		instance.stopped = true
		instance.mu.Unlock()
		if instance.Client != nil {
			instance.Client.Disconnect()
		}
		log.Printf("[DevicePool] Disconnected device %s", id)
	}
}

// GetConnectedCount returns the number of connected devices
func (p *DevicePool) GetConnectedCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	count := 0
	for _, instance := range p.devices {
		if instance.Client != nil && instance.Client.IsConnected() {
			count++
		}
	}
	return count
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
