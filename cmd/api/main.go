package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/realchat/roomsync/internal/config"
	"github.com/realchat/roomsync/internal/database"
	"github.com/realchat/roomsync/internal/handler"
	"github.com/realchat/roomsync/internal/middleware"
	"github.com/realchat/roomsync/internal/models"
	"github.com/realchat/roomsync/internal/realtime"
	"github.com/realchat/roomsync/internal/repository"
	"github.com/realchat/roomsync/internal/router"
	"github.com/realchat/roomsync/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(&models.Room{}, &models.Participant{}, &models.Message{}, &models.Reaction{}); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	natsConn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName)
	if err != nil {
		log.Fatalf("failed to connect to nats: %v", err)
	}
	if natsConn != nil {
		defer natsConn.Close()
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	feed := realtime.NewFeed(redisClient, natsConn, cfg.ChannelBase, logger)
	presence := realtime.NewPresence(redisClient, cfg.ChannelBase, cfg.PresenceTTL, logger)

	roomRepo := repository.NewRoomRepository(db)
	participantRepo := repository.NewParticipantRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	reactionRepo := repository.NewReactionRepository(db)

	roomService := service.NewRoomService(roomRepo, participantRepo, feed, validate, cfg.RoomCapacity, cfg.PublicOrigin, logger)
	messageService := service.NewMessageService(messageRepo, reactionRepo, feed, validate, logger)
	streamService := service.NewStreamService(feed, presence, logger)

	roomHandler := handler.NewRoomHandler(roomService, logger)
	messageHandler := handler.NewMessageHandler(messageService, logger)
	streamHandler := handler.NewStreamHandler(streamService, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app)
	router.Register(app, cfg, router.Dependencies{
		RoomHandler:    roomHandler,
		MessageHandler: messageHandler,
		StreamHandler:  streamHandler,
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app)
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
