// Command server runs the roomchat server.
//
// Usage: server [port]
//
// ROOMCHAT_CONFIG names an optional TOML config file (created with defaults
// when missing). ROOMCHAT_SECTION_KEY variables, also read from .env,
// override it, and the port argument overrides both.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/aeolun/roomchat/pkg/server"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

func main() {
	_ = godotenv.Load()

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [port]\n", os.Args[0])
	}
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	tomlConfig, err := server.LoadConfig(os.Getenv("ROOMCHAT_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	config, err := tomlConfig.ToServerConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	if flag.NArg() > 0 {
		port, err := strconv.Atoi(flag.Arg(0))
		if err != nil || port < 0 || port > 65535 {
			log.Fatal().Str("port", flag.Arg(0)).Msg("invalid port")
		}
		config.Port = port
	}

	if err := server.ConfigureLogging(config.LogLevel); err != nil {
		log.Fatal().Err(err).Msg("invalid log level")
	}

	srv, err := server.NewServer(config)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create server")
	}
	if err := srv.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start server")
	}
	log.Info().Str("public_key", srv.PublicKey()).Msg("server ready")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	if err := srv.Stop(); err != nil {
		log.Error().Err(err).Msg("shutdown error")
		os.Exit(1)
	}
}
