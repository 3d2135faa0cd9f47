package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appchat "marketchat/internal/app/chat"
	domainlistings "marketchat/internal/domain/listings"
	"marketchat/internal/infra/broker/kafka"
	"marketchat/internal/infra/config"
	mongodb "marketchat/internal/infra/db/mongo"
	ginserver "marketchat/internal/infra/http/gin"
	"marketchat/internal/infra/obs"
	"marketchat/internal/infra/outbox"
	"marketchat/internal/infra/security"
	"marketchat/internal/infra/storage/memory"
	"marketchat/internal/infra/ws"

	"github.com/google/uuid"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger := obs.NewLogger("dev")
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Env)

	var (
		conversations appchat.ConversationRepository
		messages      appchat.MessageRepository
		listingDir    appchat.ListingDirectory
		eventStore    outbox.Store
		ready         = func() error { return nil }
	)
	switch cfg.StorageMode {
	case "mongo":
		client, err := mongodb.New(cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			logger.Error("mongo init failed", "error", err)
			os.Exit(1)
		}
		conversationRepo := mongodb.NewConversationRepository(client.DB)
		messageRepo := mongodb.NewMessageRepository(client.DB)
		outboxStore := mongodb.NewOutboxStore(client.DB)
		indexCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		for _, ensure := range []func(context.Context) error{
			conversationRepo.EnsureIndexes,
			messageRepo.EnsureIndexes,
			outboxStore.EnsureIndexes,
		} {
			if err := ensure(indexCtx); err != nil {
				logger.Error("index creation failed", "error", err)
				os.Exit(1)
			}
		}
		conversations = conversationRepo
		messages = messageRepo
		listingDir = mongodb.NewListingRepository(client.DB)
		eventStore = outboxStore
		ready = func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return client.Ping(pingCtx)
		}
	case "memory":
		directory := memory.NewListingDirectory()
		if err := loadListingFixtures(cfg.ListingFixtures, directory, logger); err != nil {
			logger.Warn("listing fixtures load failed", "error", err, "path", cfg.ListingFixtures)
		}
		conversations = memory.NewConversationRepository()
		messages = memory.NewMessageRepository()
		listingDir = directory
		eventStore = memory.NewOutbox()
	}

	gateway := ws.NewGateway(logger, cfg.WSSendBuffer)
	service := &appchat.Service{
		Conversations: conversations,
		Messages:      messages,
		Listings:      listingDir,
		Delivery:      gateway,
		Events:        outbox.Recorder{Store: eventStore},
		Logger:        logger,
	}

	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, nil)
		if err != nil {
			logger.Error("kafka init failed", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		worker := &outbox.Worker{
			Store:       eventStore,
			Producer:    producer,
			Interval:    cfg.OutboxPollInterval,
			TopicPrefix: cfg.KafkaTopicPrefix,
			ID:          uuid.NewString(),
			Backoff:     cfg.RetryBackoff,
		}
		go func() {
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("outbox worker stopped", "error", err)
			}
		}()
	} else {
		logger.Info("event feed disabled: no kafka brokers configured")
	}

	authenticator := security.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, 24*time.Hour)
	handlers := ginserver.Handlers{
		Chat:           ginserver.ChatHandler{Service: service, Logger: logger},
		WS:             ginserver.WSHandler{Gateway: gateway, Logger: logger}.Handle,
		AuthMiddleware: ginserver.AuthMiddleware{Auth: authenticator, Logger: logger}.Handle,
	}
	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, obs.HealthHandlers{Ready: ready}, handlers)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("HTTP server starting", "addr", cfg.HTTPAddr, "storage", cfg.StorageMode)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("HTTP server stopped")
}

type listingFixture struct {
	ID     string `json:"id"`
	HostID string `json:"host_id"`
	Title  string `json:"title"`
}

func loadListingFixtures(path string, directory *memory.ListingDirectory, logger *slog.Logger) error {
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var fixtures []listingFixture
	if err := json.Unmarshal(raw, &fixtures); err != nil {
		return err
	}
	loaded := 0
	for _, f := range fixtures {
		listing := domainlistings.Listing{
			ID:        domainlistings.ListingID(f.ID),
			Host:      domainlistings.HostID(f.HostID),
			Title:     f.Title,
			State:     domainlistings.ListingActive,
			CreatedAt: time.Now().UTC(),
		}
		if err := directory.Add(listing); err != nil {
			logger.Warn("skipping invalid listing fixture", "listing_id", f.ID)
			continue
		}
		loaded++
	}
	logger.Info("listing fixtures loaded", "count", loaded, "path", path)
	return nil
}
