// Command bot is a roomchat bot that answers pings and echoes mentions.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aeolun/roomchat/pkg/botlib"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

func main() {
	_ = godotenv.Load()

	// Command-line flags
	server := flag.String("server", envOr("ROOMCHAT_BOT_SERVER", "tcp://localhost:8888"), "Server address (tcp://, ws://, wss:// or ssh://)")
	name := flag.String("name", envOr("ROOMCHAT_BOT_NAME", "eco"), "Bot user name")
	rooms := flag.String("rooms", envOr("ROOMCHAT_BOT_ROOMS", "geral"), "Comma-separated list of rooms to join")
	create := flag.Bool("create", true, "Create public rooms that do not exist")
	timeout := flag.Duration("timeout", 10*time.Second, "Reply timeout")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Str("bot", *name).Logger()

	var roomList []string
	for _, room := range strings.Split(*rooms, ",") {
		if room = strings.TrimSpace(room); room != "" {
			roomList = append(roomList, room)
		}
	}

	bot := botlib.New(botlib.Config{
		Server:          *server,
		Name:            *name,
		Rooms:           roomList,
		CreateMissing:   *create,
		Logger:          &logger,
		ResponseTimeout: *timeout,
	})

	bot.OnMessage(func(ctx *botlib.Context, msg *botlib.Message) {
		if !strings.EqualFold(strings.TrimSpace(msg.Content), "ping") {
			return
		}
		if err := ctx.Reply("pong"); err != nil {
			ctx.Log().Error().Err(err).Msg("failed to reply")
		}
	})

	bot.OnMention(func(ctx *botlib.Context, msg *botlib.Message) {
		ctx.Log().Debug().Str("author", msg.Author).Str("room", msg.Room).Msg("mentioned")
		query := msg.MentionedContent()
		if query == "" {
			query = "oi!"
		}
		if err := ctx.Reply(msg.Author + ": " + query); err != nil {
			ctx.Log().Error().Err(err).Msg("failed to reply")
		}
	})

	bot.OnEvent(func(ev botlib.Event) {
		logger.Info().Str("event", ev.Kind.String()).Str("room", ev.Room).Str("user", ev.User).Msg("room event")
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().Str("server", *server).Strs("rooms", roomList).Msg("starting bot")
	if err := bot.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("bot error")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
