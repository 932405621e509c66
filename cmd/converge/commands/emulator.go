package commands

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/openfroyo/converge/pkg/controlplane"
	"github.com/openfroyo/converge/pkg/stores"
	"github.com/openfroyo/converge/pkg/telemetry"
)

// Emulator storage backends.
const (
	storeMemory = "memory"
	storeSQLite = "sqlite"
)

func newEmulatorCommand(g *globalOptions) *cobra.Command {
	var (
		listen    string
		storeKind string
		dbPath    string
		authToken string
		siteHost  string
		pageSize  int
	)

	cmd := &cobra.Command{
		Use:   "emulator",
		Short: "Run a local control plane",
		Long: `Run a local control-plane server for development and tests.

The emulator speaks the same gRPC service as the real control plane and
enforces the same referential rules:
  - Sub-resources require their parent service
  - Services referenced by an application cannot be deleted
  - Executors and workflows require an application in the workspace
  - Static websites are assigned a URL

State is kept in memory, or in a SQLite database with --store sqlite.`,
		Example: `  # In-memory emulator on the default port
  converge emulator

  # Persistent emulator with token auth and metrics
  converge emulator --store sqlite --db emulator.db --auth-token secret --metrics-addr :9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			log.Info().
				Str("listen", listen).
				Str("store", storeKind).
				Bool("auth", authToken != "").
				Msg("Starting control-plane emulator")

			tel, err := telemetry.NewTelemetry(g.telemetryConfig(telemetry.DefaultConfig()))
			if err != nil {
				return fmt.Errorf("failed to initialize telemetry: %w", err)
			}
			defer tel.Shutdown(context.Background())
			logger := tel.Logger.NewComponentLogger("emulator").Zerolog()

			if err := tel.Metrics.StartMetricsServer(ctx, func(err error) {
				logger.Error().Err(err).Msg("Metrics server stopped")
			}); err != nil {
				return err
			}

			var store controlplane.Store
			switch storeKind {
			case storeMemory:
				store = controlplane.NewMemoryStore()
			case storeSQLite:
				store, err = stores.Open(ctx, stores.Config{Path: dbPath})
				if err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown store %q (want %s or %s)", storeKind, storeMemory, storeSQLite)
			}
			defer store.Close()

			srv := controlplane.NewServer(store,
				controlplane.WithServerLogger(logger),
				controlplane.WithPageSize(pageSize),
				controlplane.WithSiteHost(siteHost),
			)

			lis, err := net.Listen("tcp", listen)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", listen, err)
			}
			logger.Info().Str("address", lis.Addr().String()).Msg("Control-plane emulator listening")

			return serveEmulator(ctx, lis, srv, authToken, logger)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "localhost:7443", "gRPC listen address")
	cmd.Flags().StringVar(&storeKind, "store", storeMemory, "state backend (memory, sqlite)")
	cmd.Flags().StringVar(&dbPath, "db", "converge-emulator.db", "SQLite database path for --store sqlite")
	cmd.Flags().StringVar(&authToken, "auth-token", "", "require this bearer token on every call")
	cmd.Flags().StringVar(&siteHost, "site-host", controlplane.DefaultSiteHost, "domain static website URLs are assigned under")
	cmd.Flags().IntVar(&pageSize, "page-size", controlplane.DefaultPageSize, "default list page size")

	return cmd
}

// serveEmulator serves srv on lis until ctx is done, then stops gracefully.
func serveEmulator(ctx context.Context, lis net.Listener, srv controlplane.ControlPlaneServer, token string, logger zerolog.Logger) error {
	interceptors := []grpc.UnaryServerInterceptor{loggingInterceptor(logger)}
	if token != "" {
		interceptors = append(interceptors, controlplane.TokenAuthInterceptor(token))
	}

	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors...))
	controlplane.RegisterControlPlaneServer(gs, srv)

	errc := make(chan error, 1)
	go func() { errc <- gs.Serve(lis) }()

	select {
	case <-ctx.Done():
		logger.Info().Msg("Stopping control-plane emulator")
		gs.GracefulStop()
		return nil
	case err := <-errc:
		return err
	}
}

func loggingInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		event := logger.Debug()
		if err != nil {
			event = logger.Info().Err(err)
		}
		event.
			Str("method", controlplane.ShortMethod(info.FullMethod)).
			Str("code", status.Code(err).String()).
			Dur("duration", time.Since(start)).
			Msg("Call handled")
		return resp, err
	}
}
