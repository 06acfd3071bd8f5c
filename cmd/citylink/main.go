package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/les2feup/CityLink/internal/adaptation"
	"github.com/les2feup/CityLink/internal/cache"
	"github.com/les2feup/CityLink/internal/controller"
	"github.com/les2feup/CityLink/internal/fetch"
	"github.com/les2feup/CityLink/internal/httpapi"
	"github.com/les2feup/CityLink/internal/registry"
	"github.com/les2feup/CityLink/internal/transport"
	"github.com/les2feup/CityLink/pkg/config"
)

func init() {
	// Configure zerolog for human-friendly console output
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func main() {
	// Load configuration
	configFile := config.FindConfigFile("citylink")
	envFile := config.FindEnvironmentFile("citylink")

	cfg, err := config.Load(configFile, envFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Configure logging based on config
	cfg.Log.ConfigureZerolog()

	log.Info().Msg("Starting CityLink Gateway")
	log.Info().Str("config_file", configFile).Msg("Configuration loaded")
	log.Info().
		Str("log_level", cfg.Log.Level).
		Bool("debug", cfg.Log.Debug).
		Msg("Log level configured")

	// Shared in-memory store
	store := cache.New()
	fetcher := fetch.New(store, cfg.Fetch.Timeout)

	// One dialer serves the registration handler, every node controller, and
	// each adaptation run's short-lived connection
	dialer := transport.NewPahoDialer(transport.Options{
		BrokerURL:        cfg.MQTT.BrokerURL,
		Username:         cfg.MQTT.Username,
		Password:         cfg.MQTT.Password,
		ConnectTimeout:   cfg.MQTT.ConnectTimeout,
		OperationTimeout: cfg.MQTT.OperationTimeout,
	})

	procedure := adaptation.New(fetcher, dialer, cfg.Adaptation.ActionTimeout)

	manager := controller.NewManager(store, dialer, procedure, controller.Options{
		PropertyQoS: cfg.MQTT.PropertyQoS,
		EventQoS:    cfg.MQTT.EventQoS,
	})

	handler := registry.New(store, fetcher, manager, cfg.MQTT.BrokerURL)
	if err := handler.Start(dialer); err != nil {
		log.Fatal().Err(err).Msg("Failed to start registration handler")
	}

	api := httpapi.New(store, fetcher)
	server := &http.Server{
		Addr:    cfg.GetListenAddress(),
		Handler: api.Handler(),
	}

	go func() {
		log.Info().Str("address", cfg.GetListenAddress()).Msg("Starting HTTP API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	log.Info().
		Str("broker", cfg.MQTT.BrokerURL).
		Msg("Gateway ready, awaiting device registrations")
	log.Info().Msgf("Health check: http://%s/health", cfg.GetListenAddress())
	log.Info().Msgf("Gateway status: http://%s/status", cfg.GetListenAddress())

	// Block until asked to shut down
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("Shutting down")
	server.Close()
	manager.StopAll()
	handler.Stop()
}
