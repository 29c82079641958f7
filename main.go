package main

import (
	"context"
	"os"

	"github.com/cameroncuttingedge/wear_control/api"
	"github.com/cameroncuttingedge/wear_control/bridge"
	"github.com/cameroncuttingedge/wear_control/config"
	"github.com/cameroncuttingedge/wear_control/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	InitializeLogger(cfg)

	transport := websocket.NewTransport()
	b := bridge.New(cfg.NodeID, transport)
	transport.SetHandler(b)

	stream := websocket.NewEngineStream()
	b.AddListener(stream)

	if err := b.Initialize(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize bridge")
	}

	log.Info().Str("nodeID", cfg.NodeID).Msg("Starting App")
	router := api.NewRouter(b, transport.NodeWebSocketHandler, stream.EngineWebSocketHandler)
	if err := api.StartAPI(cfg.HTTPAddr, router); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func InitializeLogger(cfg *config.Config) {
	if !cfg.Logging {
		log.Logger = log.Output(os.Stdout)
	} else {
		runLogFile, err := os.OpenFile(
			cfg.LogFile,
			os.O_APPEND|os.O_CREATE|os.O_WRONLY,
			0664,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open log file")
		}
		multi := zerolog.MultiLevelWriter(runLogFile, os.Stdout)
		log.Logger = zerolog.New(multi).With().Timestamp().Logger()
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
