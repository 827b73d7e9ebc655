package main

import (
	"context"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OrtobomPatricio/crmpro/internal/api"
	"github.com/OrtobomPatricio/crmpro/internal/domain"
	"github.com/OrtobomPatricio/crmpro/internal/inbound"
	"github.com/OrtobomPatricio/crmpro/internal/mcp"
	"github.com/OrtobomPatricio/crmpro/internal/notify"
	"github.com/OrtobomPatricio/crmpro/internal/repository"
	"github.com/OrtobomPatricio/crmpro/internal/service"
	"github.com/OrtobomPatricio/crmpro/internal/storage"
	"github.com/OrtobomPatricio/crmpro/internal/whatsapp"
	"github.com/OrtobomPatricio/crmpro/internal/ws"
	"github.com/OrtobomPatricio/crmpro/pkg/cache"
	"github.com/OrtobomPatricio/crmpro/pkg/config"
	"github.com/OrtobomPatricio/crmpro/pkg/database"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Run migrations
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Seed admin user
	if err := database.SeedAdmin(db, cfg); err != nil {
		log.Printf("Warning: Failed to seed admin: %v", err)
	}

	// Initialize storage (MinIO)
	var store *storage.Storage
	if cfg.MinioEndpoint != "" {
		store, err = storage.New(storage.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			PublicURL: cfg.MinioPublicURL,
		})
		if err != nil {
			log.Printf("Warning: Failed to initialize storage: %v (media features will be disabled)", err)
		} else {
			log.Printf("MinIO storage initialized at %s", cfg.MinioEndpoint)
		}
	}

	// Initialize repositories
	repos := repository.NewRepositories(db)

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Inbound reconciler: events from the device pool and the webhook
	// both land here
	reconciler := inbound.NewReconciler(repos.Lead, repos.Pipeline, repos.Conversation, repos.Message, hub)

	// Initialize WhatsApp device pool
	devicePool, err := whatsapp.NewDevicePool(cfg, repos, hub, reconciler)
	if err != nil {
		log.Fatalf("Failed to initialize WhatsApp device pool: %v", err)
	}

	// Set storage on device pool for media handling
	if store != nil {
		devicePool.SetStorage(store)
	}

	// Load existing devices
	ctx := context.Background()
	if err := devicePool.LoadExistingDevices(ctx); err != nil {
		log.Printf("Warning: Failed to load existing devices: %v", err)
	}

	// Initialize Redis cache
	var redisCache *cache.Cache
	if cfg.RedisURL != "" {
		redisCache, err = cache.New(cfg.RedisURL)
		if err != nil {
			log.Printf("Warning: Failed to initialize Redis cache: %v (caching disabled)", err)
		} else {
			log.Printf("Redis cache initialized")
		}
	}

	// Email notifications (optional)
	notifier := notify.New(cfg)

	// Initialize services
	services := service.NewServices(cfg, repos, devicePool, hub, redisCache, notifier)

	// Initialize API server
	server := api.NewServer(cfg, services, hub, devicePool, store, reconciler, redisCache)

	// MCP tools server (optional)
	if cfg.MCPPort != "" {
		mcpServer := mcp.NewServer(services)
		go func() {
			log.Printf("MCP server starting on port %s", cfg.MCPPort)
			if err := mcpServer.Start(cfg.MCPPort); err != nil {
				log.Printf("MCP server error: %v", err)
			}
		}()
	}

	// Start campaign worker
	campaignDone := make(chan struct{})
	go runCampaignWorker(services, campaignDone)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")

		close(campaignDone)

		// Close all WhatsApp connections
		devicePool.Shutdown()

		if redisCache != nil {
			redisCache.Close()
		}

		if err := server.Shutdown(); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	log.Printf("CRM Pro server starting on port %s", cfg.Port)
	if err := server.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// runCampaignWorker drives scheduled starts and paced delivery for
// running campaigns. Pacing state lives in the recipient rows, so a
// restart mid-campaign picks up where it left off.
func runCampaignWorker(services *service.Services, done chan struct{}) {
	log.Println("Campaign worker started")
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ctx := context.Background()
			services.Campaign.StartDueScheduled(ctx, time.Now())

			campaigns, err := services.Campaign.ListRunning(ctx)
			if err != nil || len(campaigns) == 0 {
				continue
			}
			for _, c := range campaigns {
				processCampaignTick(ctx, services, c)
			}
		}
	}
}

func processCampaignTick(ctx context.Context, services *service.Services, campaign *domain.Campaign) {
	campaignID := campaign.ID

	// Campaign overrides sit on top of the account's pacing defaults
	var accountData map[string]interface{}
	if acct, err := services.Settings.Get(ctx, campaign.AccountID); err == nil && acct != nil {
		accountData = acct.Data
	}
	settings := domain.MergeCampaignSettings(accountData, campaign.Settings)

	// JSONB numbers decode as float64
	readInt := func(keys []string, def int) int {
		for _, key := range keys {
			if v, ok := settings[key]; ok {
				if f, ok := v.(float64); ok {
					return int(f)
				}
				if n, ok := v.(int); ok {
					return n
				}
			}
		}
		return def
	}

	minDelay := readInt([]string{"min_delay_seconds", "min_delay"}, 8)
	maxDelay := readInt([]string{"max_delay_seconds", "max_delay"}, 15)
	batchSize := readInt([]string{"batch_size"}, 25)
	batchPauseMin := readInt([]string{"batch_pause_minutes", "batch_pause"}, 5)
	if minDelay > maxDelay {
		minDelay = maxDelay
	}

	// Batch pause: if the last batch filled up within the pause window,
	// skip this campaign until the window expires
	budget := batchSize
	if batchSize > 0 && batchPauseMin > 0 {
		window := time.Now().Add(-time.Duration(batchPauseMin) * time.Minute)
		recent, err := services.Campaign.SentSince(ctx, campaignID, window)
		if err != nil {
			return
		}
		if recent >= batchSize {
			return
		}
		budget = batchSize - recent
	}

	// Respect the minimum gap since the last send, even across restarts
	if last, err := services.Campaign.LastSentAt(ctx, campaignID); err == nil && last != nil {
		if since := time.Since(*last); since < time.Duration(minDelay)*time.Second {
			return
		}
	}

	for i := 0; i < budget; i++ {
		hasMore, err := services.Campaign.ProcessNextRecipient(ctx, campaignID)
		if err != nil || !hasMore {
			return
		}
		delayRange := maxDelay - minDelay
		if delayRange < 0 {
			delayRange = 0
		}
		delay := time.Duration(minDelay+rand.Intn(delayRange+1)) * time.Second
		time.Sleep(delay)
	}
	log.Printf("[Campaign %s] Batch done: %d sent, pausing %d min", campaignID, budget, batchPauseMin)
}
