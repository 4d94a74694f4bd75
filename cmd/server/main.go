package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/stuartshay/arrival-alarm/internal/alarm"
	"github.com/stuartshay/arrival-alarm/internal/config"
	"github.com/stuartshay/arrival-alarm/internal/database"
	grpcserver "github.com/stuartshay/arrival-alarm/internal/grpc"
	"github.com/stuartshay/arrival-alarm/internal/httpapi"
	"github.com/stuartshay/arrival-alarm/internal/location"
	"github.com/stuartshay/arrival-alarm/internal/queue"
	"github.com/stuartshay/arrival-alarm/internal/resolver"
	"github.com/stuartshay/arrival-alarm/internal/tracing"
	"github.com/stuartshay/arrival-alarm/internal/tracker"
	"github.com/stuartshay/arrival-alarm/internal/wakelock"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Initialize structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	log.Info().Str("version", version).Msg("Starting arrival-alarm service")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	setLogLevel(cfg.LogLevel)

	log.Info().
		Str("service_name", cfg.ServiceName).
		Str("environment", cfg.Environment).
		Str("grpc_port", cfg.GRPCPort).
		Str("http_port", cfg.HTTPPort).
		Str("location_source", cfg.LocationSource).
		Str("device_id", cfg.DeviceID).
		Int("default_radius_m", cfg.DefaultRadius).
		Bool("search_enabled", cfg.GeminiAPIKey != "").
		Msg("Configuration loaded")

	shutdownTracer, err := tracing.InitTracer(tracing.Config{
		ServiceName:      cfg.ServiceName,
		ServiceNamespace: "arrival-alarm",
		ServiceVersion:   version,
		Environment:      cfg.Environment,
		OTLPEndpoint:     cfg.OTELEndpoint,
		Enabled:          cfg.TracingEnabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize tracing")
	}

	// Alarm output: connected clients always, the terminal bell on request
	broadcast := alarm.NewBroadcast()
	tones := alarm.Tones{broadcast}
	if cfg.TerminalBell {
		tones = append(tones, alarm.NewBell(os.Stdout))
	}
	generator := alarm.NewGenerator(tones, alarm.Unsupported{}, cfg.AlarmInterval)

	var locker wakelock.Locker = wakelock.Nop{}
	if cfg.WakeLock == config.WakeLockInhibit {
		locker = wakelock.NewInhibitor()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var destinations resolver.Resolver
	if cfg.GeminiAPIKey != "" {
		gemini, err := resolver.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize destination resolver")
		}
		destinations = gemini
	} else {
		log.Warn().Msg("GEMINI_API_KEY not set, destination search disabled")
	}

	session, err := tracker.NewSession(tracker.Options{
		Signal:   generator,
		WakeLock: locker,
		Resolver: destinations,
		Radius:   cfg.DefaultRadius,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create session")
	}

	provider, closeProvider, err := newProvider(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize location provider")
	}
	defer closeProvider()

	if err := session.Attach(ctx, provider); err != nil {
		// The session carries a location_unavailable condition; keep serving
		log.Error().Err(err).Msg("Location provider unavailable")
	}

	var searches *queue.Queue
	if destinations != nil {
		searches = queue.NewQueue(cfg.ResolverWorkers, queue.SearchProcessor(session))
	}

	// Initialize gRPC server
	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := registerServices(grpcServer, grpcserver.NewServer(session, searches))

	listener, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create TCP listener")
	}

	go func() {
		log.Info().Str("port", cfg.GRPCPort).Msg("gRPC server listening")
		if err := grpcServer.Serve(listener); err != nil {
			log.Fatal().Err(err).Msg("gRPC server failed")
		}
	}()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:           httpapi.NewServer(cfg.ServiceName, session, searches, broadcast).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutdown signal received, gracefully stopping...")
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Closing the session ends Watch streams and WebSocket clients first
	session.Close()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown HTTP server")
	} else {
		log.Info().Msg("HTTP server stopped")
	}

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-shutdownCtx.Done():
		log.Warn().Msg("Shutdown timeout exceeded, forcing stop")
		grpcServer.Stop()
	case <-stopped:
		log.Info().Msg("gRPC server stopped")
	}

	if searches != nil {
		if err := searches.Shutdown(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown search workers")
		}
	}

	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown tracer")
	}

	log.Info().Msg("Service shutdown complete")
}

// registerServices registers the alarm, health and reflection services
func registerServices(s *grpc.Server, alarmServer grpcserver.AlarmServiceServer) *health.Server {
	grpcserver.RegisterAlarmServiceServer(s, alarmServer)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(s, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcserver.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	// Enable server reflection for debugging
	reflection.Register(s)

	return healthServer
}

// newProvider builds the configured location source. The returned func
// releases anything the provider depends on.
func newProvider(cfg *config.Config) (location.Provider, func(), error) {
	switch cfg.LocationSource {
	case config.SourcePostgres:
		// Reachability is checked by Subscribe, so an unreachable database
		// surfaces as location_unavailable instead of stopping the service
		dbClient, err := database.Open(cfg.DatabaseDSN())
		if err != nil {
			return nil, nil, err
		}

		log.Info().
			Str("db_host", cfg.PostgresHost).
			Str("db_port", cfg.PostgresPort).
			Dur("poll_interval", cfg.PollInterval).
			Msg("Polling OwnTracks locations from database")

		provider := location.NewPollingProvider(dbClient, cfg.DeviceID, cfg.PollInterval, cfg.LocationMaxAge)
		return provider, func() {
			if err := dbClient.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close database")
			}
		}, nil

	case config.SourceMQTT:
		log.Info().
			Str("broker", cfg.MQTTBroker).
			Str("topic", cfg.MQTTTopic).
			Msg("Subscribing to OwnTracks locations over MQTT")

		provider := location.NewMQTTProvider(location.MQTTConfig{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Topic:    cfg.MQTTTopic,
			DeviceID: cfg.DeviceID,
			MaxAge:   cfg.LocationMaxAge,
		})
		return provider, func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown location source %q", cfg.LocationSource)
	}
}

// setLogLevel configures the global log level
func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Info().Str("level", level).Msg("Log level set")
}
