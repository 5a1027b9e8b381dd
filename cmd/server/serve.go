package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"document-gateway/auth"
	"document-gateway/internal/changefeed"
	"document-gateway/internal/config"
	"document-gateway/internal/db"
	"document-gateway/internal/gateway"
	"document-gateway/internal/logging"
	"document-gateway/internal/metrics"
	"document-gateway/internal/relay"
	"document-gateway/internal/resolver"
	"document-gateway/internal/rest"
	"document-gateway/internal/rpc"
	"document-gateway/internal/store"
	"document-gateway/internal/worker"
	"document-gateway/redis"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

var (
	grpcPortFlag int
	restPortFlag int
	backendFlag  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gRPC, REST and metrics servers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Load configuration
		if err := config.LoadConfig(); err != nil {
			return err
		}
		cfg := config.AppConfig
		if cmd.Flags().Changed("grpc-port") {
			cfg.GRPCPort = grpcPortFlag
		}
		if cmd.Flags().Changed("rest-port") {
			cfg.RESTPort = restPortFlag
		}
		if cmd.Flags().Changed("backend") {
			cfg.StoreBackend = backendFlag
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().IntVar(&grpcPortFlag, "grpc-port", 0, "gRPC port (overrides GATEWAY_PORT)")
	serveCmd.Flags().IntVar(&restPortFlag, "rest-port", 0, "REST port (overrides REST_PORT)")
	serveCmd.Flags().StringVar(&backendFlag, "backend", "", "store backend: badger or postgres (overrides STORE_BACKEND)")
	rootCmd.AddCommand(serveCmd)
}

// backend is a store together with the change source fed by its commits.
type backend struct {
	store  store.Store
	source changefeed.Source
	close  func()
}

func openBackend(cfg config.Config, logger zerolog.Logger) (*backend, error) {
	switch cfg.StoreBackend {
	case "postgres":
		gdb, err := db.Connect(cfg.PostgresDSN(), cfg.Environment, logger)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(gdb); err != nil {
			db.Close(gdb, logger)
			return nil, err
		}
		st := store.NewGormStore(gdb, logger, store.WithNotifier(changefeed.PostgresNotifier{}))
		return &backend{
			store:  st,
			source: changefeed.NewPostgresSource(cfg.PostgresDSN(), st, logger),
			close:  func() { db.Close(gdb, logger) },
		}, nil
	default:
		feed := changefeed.NewLog(cfg.FeedRetention)
		st, err := store.OpenBadger(cfg.BadgerDir, logger, store.WithPublisher(feed))
		if err != nil {
			return nil, err
		}
		return &backend{
			store:  st,
			source: feed,
			close: func() {
				feed.Close()
				if err := st.Close(); err != nil {
					logger.Error().Err(err).Msg("failed to close badger")
				}
			},
		}, nil
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := logging.New(cfg.LogLevel, cfg.Environment)
	if cfg.UsesDevelopmentSecret() {
		logger.Warn().Msg("JWT_SECRET is not set, using the development secret")
	}

	var observer metrics.Observer = metrics.Nop{}
	var prom *metrics.Prometheus
	if cfg.EnableMetrics {
		prom = metrics.NewPrometheus()
		observer = prom
	}

	be, err := openBackend(cfg, logger)
	if err != nil {
		return err
	}
	defer be.close()
	logger.Info().Str("backend", cfg.StoreBackend).Msg("store ready")

	// Initialize Redis, the snapshot cache stays disabled without an address
	var cache *redis.Cache
	var svcOpts []gateway.Option
	if cfg.RedisAddress != "" {
		client, err := redis.NewClient(ctx, cfg.RedisAddress)
		if err != nil {
			return err
		}
		cache = redis.NewCache(client, cfg.SnapshotCacheTTL, logger)
		defer cache.Close()

		warmer := worker.NewPool(2, 256, 2*time.Second, logger)
		defer warmer.Shutdown()
		svcOpts = append(svcOpts, gateway.WithCacheWarmer(warmer))
	}

	rl := relay.New(be.source, logger, relay.WithBuffer(cfg.SubscriptionBuffer), relay.WithObserver(observer))
	svc := gateway.NewService(be.store, rl, resolver.New(), cache, observer, logger, svcOpts...)
	authenticator := auth.NewAuthenticator(cfg.JWTSecret)

	var grpcOpts []grpc.ServerOption
	if cfg.TLSEnabled() {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCertPath, cfg.TLSKeyPath)
		if err != nil {
			return err
		}
		grpcOpts = append(grpcOpts, grpc.Creds(creds))
	}
	grpcServer := rpc.NewGRPCServer(svc, authenticator, logger, grpcOpts...)

	router := rest.NewRouter(rest.NewHandler(svc, logger), authenticator, rest.RouterConfig{
		Environment: cfg.Environment,
		CORSOrigins: cfg.CORSOrigins,
	}, logger)
	restServer := &http.Server{
		Addr:    cfg.RESTAddress(),
		Handler: router.Handler(),
	}

	errCh := make(chan error, 3)

	lis, err := net.Listen("tcp", cfg.GRPCAddress())
	if err != nil {
		return err
	}
	go func() {
		logger.Info().Str("addr", cfg.GRPCAddress()).Bool("tls", cfg.TLSEnabled()).Msg("gRPC server listening")
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- err
		}
	}()

	go func() {
		logger.Info().Str("addr", cfg.RESTAddress()).Msg("REST server listening")
		var err error
		if cfg.TLSEnabled() {
			err = restServer.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			err = restServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var metricsServer *http.Server
	if prom != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", prom.Handler())
		metricsServer = &http.Server{Addr: cfg.MetricsAddress(), Handler: mux}
		go func() {
			logger.Info().Str("addr", cfg.MetricsAddress()).Msg("metrics server listening")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	// Graceful shutdown
	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down server...")
	case err = <-errCh:
		logger.Error().Err(err).Msg("server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// ending subscriptions first lets streaming handlers return
	rl.Close()

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		grpcServer.Stop()
	}

	if err := restServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("REST server shutdown error")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}
	logger.Info().Msg("Server shutdown complete")
	return err
}
