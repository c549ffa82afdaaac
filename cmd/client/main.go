// Command client is a terminal chat client. It resolves or creates a room,
// opens a synchronized session against the shared database and redis
// channels, prints the live view, and sends typed lines as messages.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/realchat/roomsync/internal/config"
	"github.com/realchat/roomsync/internal/database"
	"github.com/realchat/roomsync/internal/dto"
	"github.com/realchat/roomsync/internal/identity"
	"github.com/realchat/roomsync/internal/notify"
	"github.com/realchat/roomsync/internal/realtime"
	"github.com/realchat/roomsync/internal/repository"
	"github.com/realchat/roomsync/internal/service"
	"github.com/realchat/roomsync/internal/session"
)

func main() {
	var (
		joinCode = flag.String("join", "", "room code to join; empty creates a new room")
		name     = flag.String("name", "", "override the stored display name")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger().Level(zerolog.WarnLevel)

	store, err := identity.Open(cfg.IdentityDBPath, logger)
	if err != nil {
		log.Fatalf("failed to open identity store: %v", err)
	}

	userID, err := store.UserID()
	if err != nil {
		log.Fatalf("failed to load user id: %v", err)
	}

	userName, err := store.DisplayName()
	if err != nil {
		log.Fatalf("failed to load display name: %v", err)
	}
	if *name != "" {
		if err := store.SetDisplayName(*name); err != nil {
			log.Fatalf("failed to store display name: %v", err)
		}
		userName = *name
	}

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
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

	roomService := service.NewRoomService(
		repository.NewRoomRepository(db),
		repository.NewParticipantRepository(db),
		feed, validate, cfg.RoomCapacity, cfg.PublicOrigin, logger,
	)
	messageService := service.NewMessageService(
		repository.NewMessageRepository(db),
		repository.NewReactionRepository(db),
		feed, validate, logger,
	)
	backend := service.NewSessionBackend(roomService, messageService)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	room, err := enterRoom(ctx, roomService, *joinCode, userID, userName)
	if err != nil {
		log.Fatalf("failed to enter room: %v", err)
	}
	fmt.Printf("room %s, invite: %s\n", room.Code, room.InviteLink)

	// A terminal has no visibility signal, so every foreign message goes to
	// the log sink.
	dispatcher := notify.NewDispatcher(notify.LogSink{Log: logger}, nil, logger)

	sess, err := session.Open(ctx, session.Options{
		RoomID:           room.ID,
		RoomCode:         room.Code,
		UserID:           userID,
		UserName:         userName,
		Backend:          backend,
		Feed:             feed,
		Presence:         presence,
		Notifier:         dispatcher,
		TypingClearAfter: cfg.TypingClearAfter,
		Logger:           logger,
		OnStateChange: func(state session.ConnectionState) {
			fmt.Printf("-- %s\n", state)
		},
	})
	if err != nil {
		log.Fatalf("failed to open session: %v", err)
	}
	defer sess.Close()

	go render(ctx, sess)

	readInput(ctx, sess)
}

func enterRoom(ctx context.Context, rooms service.RoomService, code, userID, userName string) (dto.RoomResponse, error) {
	if code == "" {
		return rooms.CreateRoom(ctx, dto.RoomCreateRequest{UserID: userID, UserName: userName})
	}

	room, _, err := rooms.JoinRoom(ctx, dto.RoomJoinRequest{Code: code, UserID: userID, UserName: userName})
	return room, err
}

func render(ctx context.Context, sess *session.Session) {
	var printed int
	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Updates():
		}

		view := sess.View()
		for _, message := range view.Messages[min(printed, len(view.Messages)):] {
			suffix := ""
			if message.IsEdited {
				suffix = " (edited)"
			}
			fmt.Printf("[%s] %s: %s%s\n", message.CreatedAt.Format("15:04"), message.SenderName, message.Text, suffix)
		}
		printed = len(view.Messages)

		if text := session.TypingText(view.TypingUsers); text != "" {
			fmt.Printf("-- %s\n", text)
		}
		sess.MarkAtBottom(true)
	}
}

func readInput(ctx context.Context, sess *session.Session) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			return
		}

		sess.SetTyping(true)
		if err := sess.Send(ctx, line); err != nil {
			fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
		}
	}
}
