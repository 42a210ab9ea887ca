package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sebastiankruger/factory-twin/internal/api"
	"github.com/sebastiankruger/factory-twin/internal/backend"
	"github.com/sebastiankruger/factory-twin/internal/catalog"
	"github.com/sebastiankruger/factory-twin/internal/config"
	"github.com/sebastiankruger/factory-twin/internal/dashboard"
	"github.com/sebastiankruger/factory-twin/internal/event"
	"github.com/sebastiankruger/factory-twin/internal/health"
	"github.com/sebastiankruger/factory-twin/internal/opcua"
	"github.com/sebastiankruger/factory-twin/internal/registry"
	"github.com/sebastiankruger/factory-twin/internal/review"
	"github.com/sebastiankruger/factory-twin/internal/scene"
	"github.com/sebastiankruger/factory-twin/internal/sensor"
	"github.com/sebastiankruger/factory-twin/internal/simulator"
	"github.com/sebastiankruger/factory-twin/internal/web"
)

const (
	demoSensorInterval  = time.Second
	startupGracePeriod  = 2 * time.Second
	shutdownGracePeriod = 30 * time.Second
)

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Recover from panics
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Recovered from panic")
		}
	}()

	log.Info().Msg("Starting Factory Twin")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	} else {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("Unknown log level, keeping info")
	}

	log.Info().
		Str("name", cfg.SimulatorName).
		Int("http_port", cfg.HTTPPort).
		Int("opcua_port", cfg.OPCUAPort).
		Str("backend", cfg.BackendEndpoint).
		Str("model_catalog", cfg.ModelCatalog).
		Msg("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Model catalog and machine registry
	models, err := catalog.LoadModelCatalog(cfg.ModelCatalog)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load model catalog")
	}
	reg, err := registry.Build(models)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build machine registry")
	}
	log.Info().Int("machines", reg.Len()).Msg("Machine registry built")

	client := backend.NewClient(cfg)

	var flows dashboard.FlowSource = client
	if cfg.FlowCatalog != "" {
		if _, err := os.Stat(cfg.FlowCatalog); err == nil {
			flows = catalog.FileFlowSource{Path: cfg.FlowCatalog}
			log.Info().Str("path", cfg.FlowCatalog).Msg("Using local product flow catalog")
		} else {
			log.Info().Str("path", cfg.FlowCatalog).Msg("Flow catalog not found, loading flows from backend")
		}
	}

	// Components
	bus := event.NewBus()
	runtime := config.NewRuntimeConfig()

	engine := simulator.NewEngine(simulator.Options{
		Results:                 client,
		Records:                 client,
		Lots:                    runtime,
		Bus:                     bus,
		ScriptedTickInterval:    cfg.ScriptedTickInterval,
		RealtimeElapsedInterval: cfg.RealtimeElapsedInterval,
		RealtimePollInterval:    cfg.RealtimePollInterval,
		RequestTimeout:          cfg.RequestTimeout,
	})
	defer engine.Close()

	session := dashboard.NewSession(flows, reg, runtime, engine)

	workflow := review.NewWorkflow(client, engine)
	defer workflow.Attach(bus)()

	readings := sensor.NewBuffer(sensor.DefaultCapacity, bus)

	objects := scene.FromCatalog(models, reg.Steps())
	tracker := scene.NewTracker(scene.NewResolver(scene.DefaultAliases), objects, scene.DefaultCamera(), scene.DefaultViewport)

	hub := web.NewHub()
	go hub.Run(ctx)
	defer hub.Attach(bus)()

	healthHandler := health.NewHandler(startupGracePeriod)
	healthHandler.SetReady("registry", true)

	// OPC UA mirror of the engine state
	var opcuaServer *opcua.Server
	if cfg.OPCUAEnabled {
		opcuaServer = opcua.NewServer(cfg.OPCUAPort, cfg.SimulatorName)
		defer opcua.PublishEngine(opcuaServer, bus)()
		if err := opcuaServer.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to start OPC UA server")
		}
		healthHandler.SetReady("opcua", true)
	}

	// Live sensor input
	if cfg.DemoSensors {
		names := make([]string, 0, reg.Len())
		for _, step := range reg.Steps() {
			names = append(names, step.Name)
		}
		go sensor.NewSynthetic(names, time.Now().UnixNano()).Run(ctx, demoSensorInterval, readings)
		log.Info().Int("machines", len(names)).Msg("Demo sensor stream started")
	} else {
		go sensor.Follow(ctx, client, readings, cfg.SensorRetryDelay)
	}

	// HTTP server (health + API + websocket + metrics)
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler.HandleHealth)
	mux.HandleFunc("/health/live", healthHandler.HandleLive)
	mux.HandleFunc("/health/ready", healthHandler.HandleReady)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", hub.ServeWs)

	apiHandler := api.NewHandler(cfg.SimulatorName, api.Deps{
		Engine:   engine,
		Session:  session,
		Runtime:  runtime,
		Review:   workflow,
		Readings: readings,
		Tracker:  tracker,
	}, cfg.RequestTimeout)
	apiHandler.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
		// No WriteTimeout: it would cut off websocket connections.
	}

	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()

	engine.Stop(false)

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	if opcuaServer != nil {
		if err := opcuaServer.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("OPC UA server shutdown error")
		}
	}

	log.Info().Msg("Factory twin stopped")
}
