package api

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/OrtobomPatricio/crmpro/internal/domain"
	"github.com/OrtobomPatricio/crmpro/internal/inbound"
	"github.com/OrtobomPatricio/crmpro/internal/metrics"
	"github.com/OrtobomPatricio/crmpro/internal/service"
	"github.com/OrtobomPatricio/crmpro/internal/storage"
	"github.com/OrtobomPatricio/crmpro/internal/whatsapp"
	"github.com/OrtobomPatricio/crmpro/internal/ws"
	"github.com/OrtobomPatricio/crmpro/pkg/cache"
	"github.com/OrtobomPatricio/crmpro/pkg/config"
)

// replayCache is the slice of the Redis cache used for webhook replay
// suppression.
type replayCache interface {
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
}

// deviceFinder resolves the device a webhook event claims to come from.
type deviceFinder interface {
	GetByID(ctx context.Context, deviceID uuid.UUID) (*domain.Device, error)
}

type Server struct {
	app        *fiber.App
	cfg        *config.Config
	services   *service.Services
	hub        *ws.Hub
	pool       *whatsapp.DevicePool
	storage    *storage.Storage
	reconciler *inbound.Reconciler
	cache      replayCache
	devices    deviceFinder
}

func NewServer(cfg *config.Config, services *service.Services, hub *ws.Hub, pool *whatsapp.DevicePool, store *storage.Storage, rec *inbound.Reconciler, c *cache.Cache) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "CRM Pro",
		BodyLimit:             32 * 1024 * 1024, // 32MB max upload
		DisableStartupMessage: false,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"success": false,
				"error":   err.Error(),
			})
		},
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} ${path}\n",
		TimeFormat: "15:04:05",
	}))

	// Security Headers (Helmet)
	app.Use(helmet.New(helmet.Config{
		XSSProtection:             "1; mode=block",
		ContentTypeNosniff:        "nosniff",
		XFrameOptions:             "DENY",
		ReferrerPolicy:            "strict-origin-when-cross-origin",
		CrossOriginEmbedderPolicy: "require-corp",
		CrossOriginOpenerPolicy:   "same-origin",
		CrossOriginResourcePolicy: "same-origin",
		PermissionPolicy:          "geolocation=(), microphone=(), camera=()",
	}))

	// Rate Limiting - 500 requests per minute per IP (skip media file serving)
	app.Use(limiter.New(limiter.Config{
		Max:        500,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"error":   "too many requests, please slow down",
			})
		},
		Next: func(c *fiber.Ctx) bool {
			path := c.Path()
			return strings.HasPrefix(path, "/api/media/file/") || strings.HasPrefix(path, "/ws")
		},
	}))

	// CORS Configuration
	corsOrigins := "http://localhost:3000,http://localhost:8080"
	if cfg.IsProduction() && len(cfg.CORSOrigins) > 0 {
		corsOrigins = strings.Join(cfg.CORSOrigins, ",")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,Upgrade,Connection",
		AllowCredentials: true,
	}))

	server := &Server{
		app:        app,
		cfg:        cfg,
		services:   services,
		hub:        hub,
		pool:       pool,
		storage:    store,
		reconciler: rec,
		devices:    services.Device,
	}
	if c != nil {
		server.cache = c
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	// Health check
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"time":   time.Now(),
		})
	})

	// Prometheus metrics
	s.app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	api := s.app.Group("/api")

	// Public media proxy (files carry unguessable UUID paths)
	api.Get("/media/file/*", s.handleMediaProxy)

	// Auth
	auth := api.Group("/auth")
	auth.Post("/login", s.handleLogin)
	auth.Post("/logout", s.handleLogout)

	// Inbound webhook (token-authenticated, not JWT)
	api.Post("/webhooks/inbound", s.handleInboundWebhook)

	// Protected routes
	protected := api.Group("", s.authMiddleware)
	protected.Get("/me", s.handleGetMe)
	protected.Get("/stats", s.handleGetStats)

	// Device routes
	devices := protected.Group("/devices")
	devices.Get("/", s.handleGetDevices)
	devices.Post("/", s.handleCreateDevice)
	devices.Get("/:id", s.handleGetDevice)
	devices.Post("/:id/connect", s.handleConnectDevice)
	devices.Post("/:id/disconnect", s.handleDisconnectDevice)
	devices.Delete("/:id", s.handleDeleteDevice)

	// Conversation routes
	conversations := protected.Group("/conversations")
	conversations.Get("/", s.handleGetConversations)
	conversations.Post("/", s.handleStartConversation)
	conversations.Post("/batch-delete", s.handleDeleteConversationsBatch)
	conversations.Get("/:id", s.handleGetConversation)
	conversations.Get("/:id/messages", s.handleGetMessages)
	conversations.Post("/:id/messages", s.handleSendMessage)
	conversations.Post("/:id/read", s.handleMarkAsRead)
	conversations.Patch("/:id/archive", s.handleArchiveConversation)
	conversations.Delete("/:id", s.handleDeleteConversation)

	// Lead routes
	leads := protected.Group("/leads")
	leads.Get("/", s.handleGetLeads)
	leads.Post("/", s.handleCreateLead)
	leads.Post("/batch-delete", s.handleDeleteLeadsBatch)
	leads.Get("/:id", s.handleGetLead)
	leads.Put("/:id", s.handleUpdateLead)
	leads.Delete("/:id", s.handleDeleteLead)
	leads.Patch("/:id/status", s.handleUpdateLeadStatus)
	leads.Patch("/:id/stage", s.handleMoveLeadToStage)
	leads.Patch("/:id/reorder", s.handleReorderLead)

	// CSV import
	protected.Post("/import/csv", s.handleImportCSV)

	// Pipeline routes
	pipelines := protected.Group("/pipelines")
	pipelines.Get("/", s.handleGetPipelines)
	pipelines.Post("/", s.handleCreatePipeline)
	pipelines.Get("/:id", s.handleGetPipeline)
	pipelines.Put("/:id", s.handleUpdatePipeline)
	pipelines.Delete("/:id", s.handleDeletePipeline)
	pipelines.Get("/:id/stages", s.handleGetStages)
	pipelines.Post("/:id/stages", s.handleCreateStage)
	pipelines.Put("/:id/stages/reorder", s.handleReorderStages)

	stages := protected.Group("/stages")
	stages.Put("/:id", s.handleUpdateStage)
	stages.Delete("/:id", s.handleDeleteStage)

	// Campaign routes
	campaigns := protected.Group("/campaigns")
	campaigns.Get("/", s.handleGetCampaigns)
	campaigns.Post("/", s.handleCreateCampaign)
	campaigns.Get("/:id", s.handleGetCampaign)
	campaigns.Put("/:id", s.handleUpdateCampaign)
	campaigns.Delete("/:id", s.handleDeleteCampaign)
	campaigns.Post("/:id/recipients", s.handleAddCampaignRecipients)
	campaigns.Get("/:id/recipients", s.handleGetCampaignRecipients)
	campaigns.Post("/:id/start", s.handleStartCampaign)
	campaigns.Post("/:id/pause", s.handlePauseCampaign)
	campaigns.Post("/:id/duplicate", s.handleDuplicateCampaign)

	// Settings
	protected.Get("/settings", s.handleGetSettings)
	protected.Put("/settings", s.handleUpdateSettings)

	// Media upload
	media := protected.Group("/media")
	media.Get("/upload-url", s.handleGetUploadURL)
	media.Post("/upload", s.handleDirectUpload)

	// WebSocket route
	s.app.Use("/ws", s.wsUpgrade)
	s.app.Get("/ws", websocket.New(s.handleWebSocket))

	// User management (admin within the account)
	users := protected.Group("/users", s.adminMiddleware)
	users.Get("/", s.handleGetUsers)
	users.Post("/", s.handleCreateUser)
	users.Put("/:id", s.handleUpdateUser)
	users.Patch("/:id/toggle", s.handleToggleUser)
	users.Patch("/:id/password", s.handleResetPassword)
	users.Delete("/:id", s.handleDeleteUser)

	// Super Admin routes
	admin := protected.Group("/admin", s.superAdminMiddleware)

	adminAccounts := admin.Group("/accounts")
	adminAccounts.Get("/", s.handleAdminGetAccounts)
	adminAccounts.Post("/", s.handleAdminCreateAccount)
	adminAccounts.Get("/:id", s.handleAdminGetAccount)
	adminAccounts.Put("/:id", s.handleAdminUpdateAccount)
	adminAccounts.Patch("/:id/toggle", s.handleAdminToggleAccount)
	adminAccounts.Delete("/:id", s.handleAdminDeleteAccount)

	admin.Get("/users", s.handleAdminGetAllUsers)
}

// Auth middleware
func (s *Server) authMiddleware(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		// Try cookie
		authHeader = c.Cookies("auth-token")
	}

	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return c.Status(401).JSON(fiber.Map{
			"success": false,
			"error":   "Unauthorized",
		})
	}

	claims, err := s.services.Auth.ValidateToken(token)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid token",
		})
	}

	c.Locals("claims", claims)
	c.Locals("user_id", claims.UserID)
	c.Locals("account_id", claims.AccountID)
	return c.Next()
}

/// Admin middleware: admins and super admins
func (s *Server) adminMiddleware(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*service.JWTClaims)
	if claims.Role != domain.RoleAdmin && claims.Role != domain.RoleSuperAdmin {
		return c.Status(403).JSON(fiber.Map{
			"success": false,
			"error":   "Forbidden: admin access required",
		})
	}
	return c.Next()
}

// Super admin middleware
func (s *Server) superAdminMiddleware(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*service.JWTClaims)
	if claims.Role != domain.RoleSuperAdmin {
		return c.Status(403).JSON(fiber.Map{
			"success": false,
			"error":   "Forbidden: super admin access required",
		})
	}
	return c.Next()
}

// WebSocket upgrade middleware
func (s *Server) wsUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		// Validate token from query param
		token := c.Query("token")
		if token == "" {
			return c.Status(401).JSON(fiber.Map{"error": "Missing token"})
		}

		claims, err := s.services.Auth.ValidateToken(token)
		if err != nil {
			return c.Status(401).JSON(fiber.Map{"error": "Invalid token"})
		}

		c.Locals("claims", claims)
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// --- Auth Handlers ---

func (s *Server) handleLogin(c *fiber.Ctx) error {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid request"})
	}

	token, user, err := s.services.Auth.Login(c.Context(), req.Username, req.Password)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	// Set cookie
	c.Cookie(&fiber.Cookie{
		Name:     "auth-token",
		Value:    token,
		Expires:  time.Now().Add(24 * 7 * time.Hour),
		HTTPOnly: true,
		Secure:   s.cfg.IsProduction(),
		SameSite: "Lax",
	})

	return c.JSON(fiber.Map{
		"success": true,
		"token":   token,
		"user": fiber.Map{
			"id":           user.ID,
			"username":     user.Username,
			"email":        user.Email,
			"display_name": user.DisplayName,
			"role":         user.Role,
			"account_id":   user.AccountID,
			"account_name": user.AccountName,
		},
	})
}

func (s *Server) handleLogout(c *fiber.Ctx) error {
	c.Cookie(&fiber.Cookie{
		Name:    "auth-token",
		Value:   "",
		Expires: time.Now().Add(-time.Hour),
	})
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) handleGetMe(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	user, err := s.services.Auth.GetUser(c.Context(), userID)
	if err != nil || user == nil {
		return c.Status(404).JSON(fiber.Map{"success": false, "error": "User not found"})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"user": fiber.Map{
			"id":           user.ID,
			"username":     user.Username,
			"email":        user.Email,
			"display_name": user.DisplayName,
			"role":         user.Role,
			"account_id":   user.AccountID,
			"account_name": user.AccountName,
		},
	})
}

// --- Device Handlers ---

func (s *Server) handleGetDevices(c *fiber.Ctx) error {
	accountID := c.Locals("account_id").(uuid.UUID)
	devices, err := s.services.Device.GetByAccountID(c.Context(), accountID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	return c.JSON(fiber.Map{"success": true, "devices": devices})
}

func (s *Server) handleCreateDevice(c *fiber.Ctx) error {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid request"})
	}

	accountID := c.Locals("account_id").(uuid.UUID)
	device, err := s.services.Device.Create(c.Context(), accountID, req.Name)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.Status(201).JSON(fiber.Map{"success": true, "device": device})
}

func (s *Server) handleGetDevice(c *fiber.Ctx) error {
	deviceID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid device ID"})
	}

	device, err := s.services.Device.GetByID(c.Context(), deviceID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	if device == nil {
		return c.Status(404).JSON(fiber.Map{"success": false, "error": "Device not found"})
	}

	return c.JSON(fiber.Map{"success": true, "device": device})
}

func (s *Server) handleConnectDevice(c *fiber.Ctx) error {
	deviceID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid device ID"})
	}

	if err := s.services.Device.Connect(c.Context(), deviceID); err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.JSON(fiber.Map{"success": true, "message": "Connecting device..."})
}

func (s *Server) handleDisconnectDevice(c *fiber.Ctx) error {
	deviceID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid device ID"})
	}

	if err := s.services.Device.Disconnect(c.Context(), deviceID); err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.JSON(fiber.Map{"success": true, "message": "Device disconnected"})
}

func (s *Server) handleDeleteDevice(c *fiber.Ctx) error {
	deviceID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid device ID"})
	}

	if err := s.services.Device.Delete(c.Context(), deviceID); err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.JSON(fiber.Map{"success": true, "message": "Device deleted"})
}

// --- Conversation Handlers ---

func (s *Server) handleGetConversations(c *fiber.Ctx) error {
	accountID := c.Locals("account_id").(uuid.UUID)

	filter := &domain.ConversationFilter{
		UnreadOnly: c.QueryBool("unread_only", false),
		Limit:      c.QueryInt("limit", 50),
		Offset:     c.QueryInt("offset", 0),
	}
	if search := c.Query("search"); search != "" {
		filter.Search = &search
	}
	if deviceID := c.Query("device_id"); deviceID != "" {
		if uid, err := uuid.Parse(deviceID); err == nil {
			filter.DeviceID = &uid
		}
	}
	if archived := c.Query("archived"); archived != "" {
		val := archived == "true"
		filter.Archived = &val
	}

	conversations, err := s.services.Conversation.List(c.Context(), accountID, filter)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	return c.JSON(fiber.Map{
		"success":       true,
		"conversations": conversations,
		"limit":         filter.Limit,
		"offset":        filter.Offset,
	})
}

func (s *Server) handleStartConversation(c *fiber.Ctx) error {
	accountID := c.Locals("account_id").(uuid.UUID)

	var req struct {
		DeviceID       string `json:"device_id"`
		Phone          string `json:"phone"`
		InitialMessage string `json:"initial_message,omitempty"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid request"})
	}

	deviceID, err := uuid.Parse(req.DeviceID)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid device ID"})
	}

	if req.Phone == "" {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Phone number is required"})
	}

	conversation, err := s.services.Conversation.Start(c.Context(), accountID, deviceID, req.Phone)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	// Send initial message if provided
	if req.InitialMessage != "" {
		if _, err := s.services.Conversation.SendText(c.Context(), conversation.ID, req.InitialMessage); err != nil {
			return c.Status(201).JSON(fiber.Map{
				"success":      true,
				"conversation": conversation,
				"warning":      "Conversation created but initial message failed to send",
			})
		}
	}

	return c.Status(201).JSON(fiber.Map{"success": true, "conversation": conversation})
}

func (s *Server) handleGetConversation(c *fiber.Ctx) error {
	conversationID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid conversation ID"})
	}

	conversation, err := s.services.Conversation.GetByID(c.Context(), conversationID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	if conversation == nil {
		return c.Status(404).JSON(fiber.Map{"success": false, "error": "Conversation not found"})
	}

	return c.JSON(fiber.Map{"success": true, "conversation": conversation})
}

func (s *Server) handleGetMessages(c *fiber.Ctx) error {
	conversationID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid conversation ID"})
	}

	limit := c.QueryInt("limit", 50)
	var before *time.Time
	if raw := c.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid before timestamp"})
		}
		before = &t
	}

	messages, err := s.services.Conversation.GetMessages(c.Context(), conversationID, limit, before)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.JSON(fiber.Map{"success": true, "messages": messages})
}

func (s *Server) handleSendMessage(c *fiber.Ctx) error {
	conversationID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid conversation ID"})
	}

	var req struct {
		Body      string `json:"body"`
		MediaURL  string `json:"media_url,omitempty"`
		MediaType string `json:"media_type,omitempty"` // image, video, audio, document
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid request"})
	}

	var message *domain.Message
	if req.MediaURL != "" && req.MediaType != "" {
		message, err = s.services.Conversation.SendMedia(c.Context(), conversationID, req.Body, req.MediaURL, req.MediaType)
	} else {
		message, err = s.services.Conversation.SendText(c.Context(), conversationID, req.Body)
	}

	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.JSON(fiber.Map{"success": true, "message": message})
}

func (s *Server) handleMarkAsRead(c *fiber.Ctx) error {
	conversationID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid conversation ID"})
	}

	if err := s.services.Conversation.MarkRead(c.Context(), conversationID); err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) handleArchiveConversation(c *fiber.Ctx) error {
	conversationID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid conversation ID"})
	}

	var req struct {
		Archived bool `json:"archived"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid request"})
	}

	if err := s.services.Conversation.SetArchived(c.Context(), conversationID, req.Archived); err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) handleDeleteConversation(c *fiber.Ctx) error {
	conversationID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid conversation ID"})
	}

	if err := s.services.Conversation.Delete(c.Context(), conversationID); err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.JSON(fiber.Map{"success": true, "message": "Conversation deleted"})
}

func (s *Server) handleDeleteConversationsBatch(c *fiber.Ctx) error {
	accountID := c.Locals("account_id").(uuid.UUID)

	var req struct {
		IDs []string `json:"ids"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid request"})
	}

	if len(req.IDs) == 0 {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "No IDs provided"})
	}

	var uuids []uuid.UUID
	for _, id := range req.IDs {
		if uid, err := uuid.Parse(id); err == nil {
			uuids = append(uuids, uid)
		}
	}

	if len(uuids) == 0 {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "No valid IDs provided"})
	}

	deleted, err := s.services.Conversation.DeleteBatch(c.Context(), accountID, uuids)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.JSON(fiber.Map{"success": true, "message": fmt.Sprintf("%d conversations deleted", deleted)})
}

// --- Lead Handlers ---

func (s *Server) handleGetLeads(c *fiber.Ctx) error {
	accountID := c.Locals("account_id").(uuid.UUID)

	filter := &domain.LeadFilter{
		Limit:  c.QueryInt("limit", 100),
		Offset: c.QueryInt("offset", 0),
	}
	if stageID := c.Query("stage_id"); stageID != "" {
		if uid, err := uuid.Parse(stageID); err == nil {
			filter.StageID = &uid
		}
	}
	if status := c.Query("status"); status != "" {
		filter.Status = &status
	}
	if assignedTo := c.Query("assigned_to"); assignedTo != "" {
		if uid, err := uuid.Parse(assignedTo); err == nil {
			filter.AssignedUserID = &uid
		}
	}
	if source := c.Query("source"); source != "" {
		filter.Source = &source
	}
	if search := c.Query("search"); search != "" {
		filter.Search = &search
	}

	leads, err := s.services.Lead.List(c.Context(), accountID, filter)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	return c.JSON(fiber.Map{"success": true, "leads": leads})
}

func (s *Server) handleCreateLead(c *fiber.Ctx) error {
	accountID := c.Locals("account_id").(uuid.UUID)

	var req struct {
		Name   string `json:"name"`
		Phone  string `json:"phone"`
		Email  string `json:"email"`
		Source string `json:"source"`
		Notes  string `json:"notes"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid request"})
	}

	if req.Phone == "" {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Phone number is required"})
	}

	lead := &domain.Lead{
		AccountID: accountID,
		Phone:     req.Phone,
		Name:      strPtr(req.Name),
		Email:     strPtr(req.Email),
		Source:    strPtr(req.Source),
		Notes:     strPtr(req.Notes),
	}

	if err := s.services.Lead.Create(c.Context(), lead); err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.Status(201).JSON(fiber.Map{"success": true, "lead": lead})
}

func (s *Server) handleGetLead(c *fiber.Ctx) error {
	leadID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid lead ID"})
	}

	lead, err := s.services.Lead.GetByID(c.Context(), leadID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	if lead == nil {
		return c.Status(404).JSON(fiber.Map{"success": false, "error": "Lead not found"})
	}

	return c.JSON(fiber.Map{"success": true, "lead": lead})
}

func (s *Server) handleUpdateLead(c *fiber.Ctx) error {
	leadID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid lead ID"})
	}

	lead, err := s.services.Lead.GetByID(c.Context(), leadID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	if lead == nil {
		return c.Status(404).JSON(fiber.Map{"success": false, "error": "Lead not found"})
	}

	var req struct {
		Name         *string                `json:"name"`
		Phone        *string                `json:"phone"`
		Email        *string                `json:"email"`
		Status       *string                `json:"status"`
		Source       *string                `json:"source"`
		Notes        *string                `json:"notes"`
		CustomFields map[string]interface{} `json:"custom_fields"`
		AssignedTo   *string                `json:"assigned_to"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid request"})
	}

	if req.Name != nil {
		lead.Name = req.Name
	}
	if req.Phone != nil && *req.Phone != "" {
		lead.Phone = *req.Phone
	}
	if req.Email != nil {
		lead.Email = req.Email
	}
	if req.Status != nil {
		lead.Status = *req.Status
	}
	if req.Source != nil {
		lead.Source = req.Source
	}
	if req.Notes != nil {
		lead.Notes = req.Notes
	}
	if req.CustomFields != nil {
		lead.CustomFields = req.CustomFields
	}
	if req.AssignedTo != nil {
		if *req.AssignedTo == "" {
			lead.AssignedUserID = nil
		} else if uid, err := uuid.Parse(*req.AssignedTo); err == nil {
			lead.AssignedUserID = &uid
		}
	}

	if err := s.services.Lead.Update(c.Context(), lead); err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.JSON(fiber.Map{"success": true, "lead": lead})
}

func (s *Server) handleUpdateLeadStatus(c *fiber.Ctx) error {
	leadID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid lead ID"})
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid request"})
	}

	if err := s.services.Lead.UpdateStatus(c.Context(), leadID, req.Status); err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) handleMoveLeadToStage(c *fiber.Ctx) error {
	leadID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid lead ID"})
	}

	var req struct {
		StageID string `json:"stage_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid request"})
	}

	stageID, err := uuid.Parse(req.StageID)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid stage ID"})
	}

	if err := s.services.Lead.MoveToStage(c.Context(), leadID, stageID); err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) handleReorderLead(c *fiber.Ctx) error {
	leadID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid lead ID"})
	}

	var req struct {
		Order int `json:"order"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid request"})
	}

	if err := s.services.Lead.Reorder(c.Context(), leadID, req.Order); err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) handleDeleteLead(c *fiber.Ctx) error {
	leadID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid lead ID"})
	}

	if err := s.services.Lead.Delete(c.Context(), leadID); err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.JSON(fiber.Map{"success": true, "message": "Lead deleted"})
}

func (s *Server) handleDeleteLeadsBatch(c *fiber.Ctx) error {
	accountID := c.Locals("account_id").(uuid.UUID)

	var req struct {
		IDs []string `json:"ids"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid request"})
	}

	if len(req.IDs) == 0 {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "No IDs provided"})
	}

	var uuids []uuid.UUID
	for _, id := range req.IDs {
		if uid, err := uuid.Parse(id); err == nil {
			uuids = append(uuids, uid)
		}
	}

	if len(uuids) == 0 {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "No valid IDs provided"})
	}

	deleted, err := s.services.Lead.DeleteBatch(c.Context(), accountID, uuids)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.JSON(fiber.Map{"success": true, "message": fmt.Sprintf("%d leads deleted", deleted)})
}

// --- CSV Import ---

func (s *Server) handleImportCSV(c *fiber.Ctx) error {
	accountID := c.Locals("account_id").(uuid.UUID)

	file, err := c.FormFile("file")
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "CSV file is required"})
	}

	f, err := file.Open()
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": "Cannot read file"})
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Cannot read CSV headers"})
	}

	// Map header columns (case-insensitive)
	colMap := make(map[string]int)
	for i, h := range headers {
		colMap[strings.ToLower(strings.TrimSpace(h))] = i
	}

	phoneCol := -1
	for _, key := range []string{"phone", "telefono", "celular", "número", "numero"} {
		if idx, ok := colMap[key]; ok {
			phoneCol = idx
			break
		}
	}
	if phoneCol == -1 {
		return c.Status(400).JSON(fiber.Map{
			"success": false,
			"error":   "CSV must have a phone/telefono/celular column",
		})
	}

	nameCol := -1
	for _, key := range []string{"name", "nombre", "nombre_completo"} {
		if idx, ok := colMap[key]; ok {
			nameCol = idx
			break
		}
	}
	emailCol := -1
	for _, key := range []string{"email", "correo"} {
		if idx, ok := colMap[key]; ok {
			emailCol = idx
			break
		}
	}
	notesCol := -1
	for _, key := range []string{"notes", "notas"} {
		if idx, ok := colMap[key]; ok {
			notesCol = idx
			break
		}
	}

	cell := func(row []string, col int) string {
		if col < 0 || col >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[col])
	}

	var leads []*domain.Lead
	skipped := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			continue
		}

		phone := cell(row, phoneCol)
		if phone == "" {
			skipped++
			continue
		}

		leads = append(leads, &domain.Lead{
			AccountID: accountID,
			Phone:     phone,
			Name:      strPtr(cell(row, nameCol)),
			Email:     strPtr(cell(row, emailCol)),
			Notes:     strPtr(cell(row, notesCol)),
		})
	}

	imported, err := s.services.Lead.Import(c.Context(), accountID, leads)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.JSON(fiber.Map{
		"success":  true,
		"imported": imported,
		"skipped":  skipped + len(leads) - imported,
	})
}

// --- Pipeline Handlers ---

func (s *Server) handleGetPipelines(c *fiber.Ctx) error {
	accountID := c.Locals("account_id").(uuid.UUID)
	pipelines, err := s.services.Pipeline.GetByAccountID(c.Context(), accountID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	return c.JSON(fiber.Map{"success": true, "pipelines": pipelines})
}

func (s *Server) handleCreatePipeline(c *fiber.Ctx) error {
	accountID := c.Locals("account_id").(uuid.UUID)

	var req struct {
		Name   string   `json:"name"`
		Stages []string `json:"stages"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid request"})
	}
	if req.Name == "" {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Name is required"})
	}

	pipeline := &domain.Pipeline{
		AccountID: accountID,
		Name:      req.Name,
	}
	for i, name := range req.Stages {
		pipeline.Stages = append(pipeline.Stages, domain.PipelineStage{
			Name:     name,
			Position: i,
		})
	}

	if err := s.services.Pipeline.Create(c.Context(), pipeline); err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.Status(201).JSON(fiber.Map{"success": true, "pipeline": pipeline})
}

func (s *Server) handleGetPipeline(c *fiber.Ctx) error {
	pipelineID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid pipeline ID"})
	}

	pipeline, err := s.services.Pipeline.GetByID(c.Context(), pipelineID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	if pipeline == nil {
		return c.Status(404).JSON(fiber.Map{"success": false, "error": "Pipeline not found"})
	}

	return c.JSON(fiber.Map{"success": true, "pipeline": pipeline})
}

func (s *Server) handleUpdatePipeline(c *fiber.Ctx) error {
	pipelineID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid pipeline ID"})
	}

	pipeline, err := s.services.Pipeline.GetByID(c.Context(), pipelineID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	if pipeline == nil {
		return c.Status(404).JSON(fiber.Map{"success": false, "error": "Pipeline not found"})
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid request"})
	}
	if req.Name != "" {
		pipeline.Name = req.Name
	}

	if err := s.services.Pipeline.Update(c.Context(), pipeline); err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.JSON(fiber.Map{"success": true, "pipeline": pipeline})
}

func (s *Server) handleDeletePipeline(c *fiber.Ctx) error {
	pipelineID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid pipeline ID"})
	}

	if err := s.services.Pipeline.Delete(c.Context(), pipelineID); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.JSON(fiber.Map{"success": true, "message": "Pipeline deleted"})
}

func (s *Server) handleGetStages(c *fiber.Ctx) error {
	pipelineID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid pipeline ID"})
	}

	stages, err := s.services.Pipeline.GetStages(c.Context(), pipelineID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.JSON(fiber.Map{"success": true, "stages": stages})
}

func (s *Server) handleCreateStage(c *fiber.Ctx) error {
	pipelineID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid pipeline ID"})
	}

	var req struct {
		Name     string  `json:"name"`
		Color    *string `json:"color"`
		Position int     `json:"position"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid request"})
	}
	if req.Name == "" {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Name is required"})
	}

	stage := &domain.PipelineStage{
		PipelineID: pipelineID,
		Name:       req.Name,
		Color:      req.Color,
		Position:   req.Position,
	}

	if err := s.services.Pipeline.CreateStage(c.Context(), stage); err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.Status(201).JSON(fiber.Map{"success": true, "stage": stage})
}

func (s *Server) handleReorderStages(c *fiber.Ctx) error {
	pipelineID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid pipeline ID"})
	}

	var req struct {
		StageIDs []string `json:"stage_ids"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid request"})
	}

	var stageIDs []uuid.UUID
	for _, id := range req.StageIDs {
		uid, err := uuid.Parse(id)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid stage ID: " + id})
		}
		stageIDs = append(stageIDs, uid)
	}

	if err := s.services.Pipeline.ReorderStages(c.Context(), pipelineID, stageIDs); err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) handleUpdateStage(c *fiber.Ctx) error {
	stageID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid stage ID"})
	}

	var req struct {
		Name     string  `json:"name"`
		Color    *string `json:"color"`
		Position int     `json:"position"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid request"})
	}

	stage := &domain.PipelineStage{
		ID:       stageID,
		Name:     req.Name,
		Color:    req.Color,
		Position: req.Position,
	}

	if err := s.services.Pipeline.UpdateStage(c.Context(), stage); err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.JSON(fiber.Map{"success": true, "stage": stage})
}

func (s *Server) handleDeleteStage(c *fiber.Ctx) error {
	stageID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid stage ID"})
	}

	if err := s.services.Pipeline.DeleteStage(c.Context(), stageID); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.JSON(fiber.Map{"success": true, "message": "Stage deleted"})
}

// --- Campaign Handlers ---

func (s *Server) handleGetCampaigns(c *fiber.Ctx) error {
	accountID := c.Locals("account_id").(uuid.UUID)

	filter := &domain.CampaignFilter{
		Limit:  c.QueryInt("limit", 50),
		Offset: c.QueryInt("offset", 0),
	}
	if status := c.Query("status"); status != "" {
		filter.Status = &status
	}

	campaigns, err := s.services.Campaign.List(c.Context(), accountID, filter)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	return c.JSON(fiber.Map{"success": true, "campaigns": campaigns})
}

func (s *Server) handleCreateCampaign(c *fiber.Ctx) error {
	accountID := c.Locals("account_id").(uuid.UUID)

	var req struct {
		Name            string                 `json:"name"`
		MessageTemplate string                 `json:"message_template"`
		DeviceID        string                 `json:"device_id"`
		MediaURL        *string                `json:"media_url"`
		MediaType       *string                `json:"media_type"`
		ScheduledAt     *time.Time             `json:"scheduled_at"`
		Settings        map[string]interface{} `json:"settings"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid request"})
	}

	campaign := &domain.Campaign{
		AccountID:       accountID,
		Name:            req.Name,
		MessageTemplate: req.MessageTemplate,
		MediaURL:        req.MediaURL,
		MediaType:       req.MediaType,
		ScheduledAt:     req.ScheduledAt,
		Settings:        req.Settings,
	}
	if req.DeviceID != "" {
		deviceID, err := uuid.Parse(req.DeviceID)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid device ID"})
		}
		campaign.DeviceID = &deviceID
	}

	if err := s.services.Campaign.Create(c.Context(), campaign); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.Status(201).JSON(fiber.Map{"success": true, "campaign": campaign})
}

func (s *Server) handleGetCampaign(c *fiber.Ctx) error {
	campaignID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid campaign ID"})
	}

	campaign, err := s.services.Campaign.GetByID(c.Context(), campaignID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	if campaign == nil {
		return c.Status(404).JSON(fiber.Map{"success": false, "error": "Campaign not found"})
	}

	return c.JSON(fiber.Map{"success": true, "campaign": campaign})
}

func (s *Server) handleUpdateCampaign(c *fiber.Ctx) error {
	campaignID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid campaign ID"})
	}

	campaign, err := s.services.Campaign.GetByID(c.Context(), campaignID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	if campaign == nil {
		return c.Status(404).JSON(fiber.Map{"success": false, "error": "Campaign not found"})
	}

	var req struct {
		Name            *string                `json:"name"`
		MessageTemplate *string                `json:"message_template"`
		DeviceID        *string                `json:"device_id"`
		MediaURL        *string                `json:"media_url"`
		MediaType       *string                `json:"media_type"`
		ScheduledAt     *time.Time             `json:"scheduled_at"`
		Settings        map[string]interface{} `json:"settings"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid request"})
	}

	if req.Name != nil {
		campaign.Name = *req.Name
	}
	if req.MessageTemplate != nil {
		campaign.MessageTemplate = *req.MessageTemplate
	}
	if req.DeviceID != nil {
		if *req.DeviceID == "" {
			campaign.DeviceID = nil
		} else if uid, err := uuid.Parse(*req.DeviceID); err == nil {
			campaign.DeviceID = &uid
		}
	}
	if req.MediaURL != nil {
		campaign.MediaURL = req.MediaURL
	}
	if req.MediaType != nil {
		campaign.MediaType = req.MediaType
	}
	if req.ScheduledAt != nil {
		campaign.ScheduledAt = req.ScheduledAt
	}
	if req.Settings != nil {
		campaign.Settings = req.Settings
	}

	if err := s.services.Campaign.Update(c.Context(), campaign); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.JSON(fiber.Map{"success": true, "campaign": campaign})
}

func (s *Server) handleDeleteCampaign(c *fiber.Ctx) error {
	campaignID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid campaign ID"})
	}

	campaign, err := s.services.Campaign.GetByID(c.Context(), campaignID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	if err := s.services.Campaign.Delete(c.Context(), campaignID); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	// Best-effort cleanup of attached media
	if s.storage != nil && campaign != nil && campaign.MediaURL != nil {
		if key, err := s.objectKeyFromMediaURL(*campaign.MediaURL); err == nil && key != "" {
			_ = s.storage.DeleteFile(c.Context(), key)
		}
	}

	return c.JSON(fiber.Map{"success": true, "message": "Campaign deleted"})
}

// objectKeyFromMediaURL resolves both proxy and direct MinIO URLs to an
// object key.
func (s *Server) objectKeyFromMediaURL(mediaURL string) (string, error) {
	const proxyPrefix = "/api/media/file/"
	if strings.HasPrefix(mediaURL, proxyPrefix) {
		return strings.TrimPrefix(mediaURL, proxyPrefix), nil
	}
	return s.storage.ExtractObjectKey(mediaURL)
}

func (s *Server) handleAddCampaignRecipients(c *fiber.Ctx) error {
	campaignID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid campaign ID"})
	}

	var req struct {
		LeadIDs []string `json:"lead_ids"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid request"})
	}
	if len(req.LeadIDs) == 0 {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "No lead IDs provided"})
	}

	var leadIDs []uuid.UUID
	for _, id := range req.LeadIDs {
		if uid, err := uuid.Parse(id); err == nil {
			leadIDs = append(leadIDs, uid)
		}
	}

	added, err := s.services.Campaign.AddRecipients(c.Context(), campaignID, leadIDs)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.JSON(fiber.Map{"success": true, "added": added})
}

func (s *Server) handleGetCampaignRecipients(c *fiber.Ctx) error {
	campaignID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid campaign ID"})
	}

	recipients, err := s.services.Campaign.GetRecipients(c.Context(), campaignID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.JSON(fiber.Map{"success": true, "recipients": recipients})
}

func (s *Server) handleStartCampaign(c *fiber.Ctx) error {
	campaignID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid campaign ID"})
	}

	if err := s.services.Campaign.Start(c.Context(), campaignID); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.JSON(fiber.Map{"success": true, "message": "Campaign started"})
}

func (s *Server) handlePauseCampaign(c *fiber.Ctx) error {
	campaignID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid campaign ID"})
	}

	if err := s.services.Campaign.Pause(c.Context(), campaignID); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.JSON(fiber.Map{"success": true, "message": "Campaign paused"})
}

func (s *Server) handleDuplicateCampaign(c *fiber.Ctx) error {
	campaignID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid campaign ID"})
	}

	var req struct {
		MessageTemplate *string `json:"message_template"`
	}
	c.BodyParser(&req)

	dup, err := s.services.Campaign.Duplicate(c.Context(), campaignID, req.MessageTemplate)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.Status(201).JSON(fiber.Map{"success": true, "campaign": dup})
}

// --- Settings Handlers ---

func (s *Server) handleGetSettings(c *fiber.Ctx) error {
	accountID := c.Locals("account_id").(uuid.UUID)

	settings, err := s.services.Settings.Get(c.Context(), accountID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.JSON(fiber.Map{"success": true, "settings": settings})
}

func (s *Server) handleUpdateSettings(c *fiber.Ctx) error {
	accountID := c.Locals("account_id").(uuid.UUID)

	var patch map[string]interface{}
	if err := c.BodyParser(&patch); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid request"})
	}
	if len(patch) == 0 {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "No settings provided"})
	}

	settings, err := s.services.Settings.Update(c.Context(), accountID, patch)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.JSON(fiber.Map{"success": true, "settings": settings})
}

// --- Media Handlers ---

func (s *Server) handleGetUploadURL(c *fiber.Ctx) error {
	if s.storage == nil {
		return c.Status(503).JSON(fiber.Map{"success": false, "error": "Storage not configured"})
	}

	accountID := c.Locals("account_id").(uuid.UUID)

	filename := c.Query("filename", "")
	folder := c.Query("folder", "uploads")

	if filename == "" {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Filename is required"})
	}

	// Unique filename to avoid collisions
	uniqueFilename := uuid.New().String() + "_" + filename

	uploadURL, err := s.storage.GetPresignedUploadURL(c.Context(), accountID, folder, uniqueFilename)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	publicURL := s.storage.GetPublicURL(accountID.String() + "/" + folder + "/" + uniqueFilename)

	return c.JSON(fiber.Map{
		"success":    true,
		"upload_url": uploadURL,
		"public_url": publicURL,
		"filename":   uniqueFilename,
	})
}

// handleDirectUpload handles direct file upload through the backend
func (s *Server) handleDirectUpload(c *fiber.Ctx) error {
	if s.storage == nil {
		return c.Status(503).JSON(fiber.Map{"success": false, "error": "Storage not configured"})
	}

	accountID := c.Locals("account_id").(uuid.UUID)

	file, err := c.FormFile("file")
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "No file provided"})
	}

	folder := c.FormValue("folder", "uploads")

	if file.Size > 50*1024*1024 {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "File too large (max 50MB)"})
	}

	src, err := file.Open()
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": "Failed to read file"})
	}
	defer src.Close()

	uniqueFilename := uuid.New().String() + "_" + file.Filename

	contentType := file.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	publicURL, err := s.storage.UploadReader(c.Context(), accountID, folder, uniqueFilename, src, file.Size, contentType)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": "Failed to upload: " + err.Error()})
	}

	// Return proxy URL instead of direct MinIO URL
	proxyURL := fmt.Sprintf("/api/media/file/%s/%s/%s", accountID.String(), folder, uniqueFilename)

	return c.JSON(fiber.Map{
		"success":    true,
		"public_url": publicURL,
		"proxy_url":  proxyURL,
		"filename":   uniqueFilename,
	})
}

// handleMediaProxy serves files from MinIO through the backend
func (s *Server) handleMediaProxy(c *fiber.Ctx) error {
	if s.storage == nil {
		return c.Status(503).JSON(fiber.Map{"success": false, "error": "Storage not configured"})
	}

	objectKey := c.Params("*")
	if objectKey == "" {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid path"})
	}
	// Fiber returns URL-encoded path for wildcard params, decode for MinIO lookup
	if decoded, err := url.PathUnescape(objectKey); err == nil {
		objectKey = decoded
	}

	// Detect content type from extension
	contentType := "application/octet-stream"
	if dotIdx := strings.LastIndex(objectKey, "."); dotIdx >= 0 {
		ext := strings.ToLower(objectKey[dotIdx:])
		switch ext {
		case ".jpg", ".jpeg":
			contentType = "image/jpeg"
		case ".png":
			contentType = "image/png"
		case ".gif":
			contentType = "image/gif"
		case ".webp":
			contentType = "image/webp"
		case ".mp4":
			contentType = "video/mp4"
		case ".webm":
			contentType = "video/webm"
		case ".mp3":
			contentType = "audio/mpeg"
		case ".ogg":
			contentType = "audio/ogg"
		case ".pdf":
			contentType = "application/pdf"
		}
	}

	// Range requests are needed for video streaming
	rangeHeader := c.Get("Range")
	if rangeHeader != "" {
		info, err := s.storage.GetFileInfo(c.Context(), objectKey)
		if err != nil {
			return c.Status(404).JSON(fiber.Map{"success": false, "error": "File not found"})
		}
		totalSize := info.Size

		rangeHeader = strings.TrimPrefix(rangeHeader, "bytes=")
		parts := strings.SplitN(rangeHeader, "-", 2)
		var start, end int64
		if parts[0] != "" {
			fmt.Sscanf(parts[0], "%d", &start)
		}
		if len(parts) > 1 && parts[1] != "" {
			fmt.Sscanf(parts[1], "%d", &end)
		} else {
			// Serve chunks of 1MB max for streaming
			end = start + 1024*1024 - 1
			if end >= totalSize {
				end = totalSize - 1
			}
		}
		if end >= totalSize {
			end = totalSize - 1
		}

		length := end - start + 1
		data, err := s.storage.GetFileRange(c.Context(), objectKey, start, length)
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"success": false, "error": "Failed to read file"})
		}

		c.Set("Content-Type", contentType)
		c.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, totalSize))
		c.Set("Accept-Ranges", "bytes")
		c.Set("Content-Length", fmt.Sprintf("%d", len(data)))
		c.Set("Cache-Control", "public, max-age=31536000")
		return c.Status(206).Send(data)
	}

	data, err := s.storage.GetFile(c.Context(), objectKey)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"success": false, "error": "File not found"})
	}

	c.Set("Content-Type", contentType)
	c.Set("Accept-Ranges", "bytes")
	c.Set("Content-Length", fmt.Sprintf("%d", len(data)))
	c.Set("Cache-Control", "public, max-age=31536000")
	return c.Send(data)
}

// --- Inbound Webhook ---

// handleInboundWebhook accepts channel events from external bridges.
// Replays of the same message are acknowledged without reprocessing.
func (s *Server) handleInboundWebhook(c *fiber.Ctx) error {
	if s.cfg.WebhookToken == "" {
		return c.Status(503).JSON(fiber.Map{"success": false, "error": "Webhook ingestion not configured"})
	}
	if c.Get("X-Webhook-Token") != s.cfg.WebhookToken {
		return c.Status(401).JSON(fiber.Map{"success": false, "error": "Unauthorized"})
	}

	var ev domain.InboundEvent
	if err := c.BodyParser(&ev); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid request"})
	}
	if ev.MessageID == "" || ev.ChannelJID == "" || ev.AccountID == uuid.Nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "message_id, channel_jid and account_id are required"})
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	device, err := s.devices.GetByID(c.Context(), ev.DeviceID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	if device == nil || device.AccountID != ev.AccountID {
		return c.Status(404).JSON(fiber.Map{"success": false, "error": "Unknown device"})
	}

	// Redis-side replay suppression in front of the DB unique constraint
	var dedupeKey string
	if s.cache != nil {
		dedupeKey = fmt.Sprintf("webhook:%s:%s", ev.DeviceID, ev.MessageID)
		fresh, err := s.cache.SetNX(c.Context(), dedupeKey, []byte("1"), 24*time.Hour)
		if err == nil && !fresh {
			return c.JSON(fiber.Map{"success": true, "replay": true})
		}
	}

	message, err := s.reconciler.Ingest(c.Context(), &ev)
	if err != nil {
		// Release the dedupe claim so the sender's retry is not
		// swallowed as a replay
		if s.cache != nil && dedupeKey != "" {
			if delErr := s.cache.Del(c.Context(), dedupeKey); delErr != nil {
				log.Printf("[Webhook] Failed to release dedupe key %s: %v", dedupeKey, delErr)
			}
		}
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	if message == nil {
		return c.JSON(fiber.Map{"success": true, "replay": true})
	}

	return c.JSON(fiber.Map{"success": true, "message": message})
}

// --- Stats ---

func (s *Server) handleGetStats(c *fiber.Ctx) error {
	accountID := c.Locals("account_id").(uuid.UUID)
	totalLeads, _ := s.services.Lead.CountByAccount(c.Context(), accountID)
	return c.JSON(fiber.Map{
		"success": true,
		"stats": fiber.Map{
			"connected_devices":  s.pool.GetConnectedCount(),
			"ws_clients":         s.hub.GetClientCount(),
			"account_ws_clients": s.hub.GetAccountClientCount(accountID),
			"total_leads":        totalLeads,
		},
	})
}

// --- WebSocket Handler ---

func (s *Server) handleWebSocket(c *websocket.Conn) {
	claims := c.Locals("claims").(*service.JWTClaims)

	client := &ws.Client{
		ID:        uuid.New().String(),
		AccountID: claims.AccountID,
		UserID:    claims.UserID,
		Conn:      c,
		Send:      make(chan []byte, 256),
		Hub:       s.hub,
	}

	s.hub.Register(client)

	go client.WritePump()
	client.ReadPump()
}

// --- User Management (account admins) ---

func (s *Server) handleGetUsers(c *fiber.Ctx) error {
	accountID := c.Locals("account_id").(uuid.UUID)
	users, err := s.services.Auth.ListUsers(c.Context(), accountID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	if users == nil {
		users = []*domain.User{}
	}
	return c.JSON(fiber.Map{"success": true, "users": users})
}

func (s *Server) handleCreateUser(c *fiber.Ctx) error {
	accountID := c.Locals("account_id").(uuid.UUID)

	var req struct {
		Username    string `json:"username"`
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"display_name"`
		Role        string `json:"role"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid request"})
	}

	if req.Username == "" || req.Email == "" || req.Password == "" {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "username, email, and password are required"})
	}

	if req.Role == "" {
		req.Role = domain.RoleAgent
	}

	user := &domain.User{
		AccountID:   accountID,
		Username:    req.Username,
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Role:        req.Role,
		IsActive:    true,
	}

	if err := s.services.Auth.CreateUser(c.Context(), user, req.Password); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.Status(201).JSON(fiber.Map{"success": true, "user": user})
}

func (s *Server) handleUpdateUser(c *fiber.Ctx) error {
	userID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid user ID"})
	}

	user, err := s.services.Auth.GetUser(c.Context(), userID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	if user == nil {
		return c.Status(404).JSON(fiber.Map{"success": false, "error": "User not found"})
	}

	var req struct {
		Email       *string `json:"email"`
		DisplayName *string `json:"display_name"`
		Role        *string `json:"role"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid request"})
	}

	if req.Email != nil {
		user.Email = *req.Email
	}
	if req.DisplayName != nil {
		user.DisplayName = *req.DisplayName
	}
	if req.Role != nil {
		user.Role = *req.Role
	}

	if err := s.services.Auth.UpdateUser(c.Context(), user); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.JSON(fiber.Map{"success": true, "user": user})
}

func (s *Server) handleToggleUser(c *fiber.Ctx) error {
	userID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid user ID"})
	}

	if err := s.services.Auth.ToggleUserActive(c.Context(), userID); err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) handleResetPassword(c *fiber.Ctx) error {
	userID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid user ID"})
	}

	var req struct {
		Password string `json:"password"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid request"})
	}

	if err := s.services.Auth.ChangePassword(c.Context(), userID, req.Password); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) handleDeleteUser(c *fiber.Ctx) error {
	userID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid user ID"})
	}

	selfID := c.Locals("user_id").(uuid.UUID)
	if userID == selfID {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Cannot delete your own user"})
	}

	target, err := s.services.Auth.GetUser(c.Context(), userID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	if target == nil {
		return c.Status(404).JSON(fiber.Map{"success": false, "error": "User not found"})
	}
	if target.IsSuperAdmin() {
		return c.Status(403).JSON(fiber.Map{"success": false, "error": "Cannot delete a super admin"})
	}

	if err := s.services.Auth.DeleteUser(c.Context(), userID); err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.JSON(fiber.Map{"success": true})
}

// --- Super Admin Handlers ---

func (s *Server) handleAdminGetAccounts(c *fiber.Ctx) error {
	accounts, err := s.services.Account.GetAll(c.Context())
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	if accounts == nil {
		accounts = []*domain.Account{}
	}
	return c.JSON(fiber.Map{"success": true, "accounts": accounts})
}

func (s *Server) handleAdminCreateAccount(c *fiber.Ctx) error {
	var req struct {
		Name       string `json:"name"`
		Slug       string `json:"slug"`
		Plan       string `json:"plan"`
		MaxDevices int    `json:"max_devices"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid request"})
	}
	if req.Name == "" {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Name is required"})
	}
	if req.Plan == "" {
		req.Plan = "basic"
	}
	if req.MaxDevices <= 0 {
		req.MaxDevices = 5
	}

	account := &domain.Account{
		Name:       req.Name,
		Slug:       req.Slug,
		Plan:       req.Plan,
		MaxDevices: req.MaxDevices,
		IsActive:   true,
	}

	if err := s.services.Account.Create(c.Context(), account); err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.Status(201).JSON(fiber.Map{"success": true, "account": account})
}

func (s *Server) handleAdminGetAccount(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid ID"})
	}

	account, err := s.services.Account.GetByID(c.Context(), id)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	if account == nil {
		return c.Status(404).JSON(fiber.Map{"success": false, "error": "Account not found"})
	}

	return c.JSON(fiber.Map{"success": true, "account": account})
}

func (s *Server) handleAdminUpdateAccount(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid ID"})
	}

	var req struct {
		Name       string `json:"name"`
		Slug       string `json:"slug"`
		Plan       string `json:"plan"`
		MaxDevices int    `json:"max_devices"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid request"})
	}

	account := &domain.Account{
		ID:         id,
		Name:       req.Name,
		Slug:       req.Slug,
		Plan:       req.Plan,
		MaxDevices: req.MaxDevices,
	}

	if err := s.services.Account.Update(c.Context(), account); err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.JSON(fiber.Map{"success": true, "account": account})
}

func (s *Server) handleAdminToggleAccount(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid ID"})
	}

	if err := s.services.Account.ToggleActive(c.Context(), id); err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) handleAdminDeleteAccount(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid ID"})
	}

	if err := s.services.Account.Delete(c.Context(), id); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) handleAdminGetAllUsers(c *fiber.Ctx) error {
	users, err := s.services.Auth.ListAllUsers(c.Context())
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	if users == nil {
		users = []*domain.User{}
	}
	return c.JSON(fiber.Map{"success": true, "users": users})
}

func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
