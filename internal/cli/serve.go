package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/go-core-stack/throttle/db"
	"github.com/go-core-stack/throttle/internal/observability"
	"github.com/go-core-stack/throttle/internal/server"
	"github.com/go-core-stack/throttle/rate"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve files through the configured limiters",
		Long: `Start an HTTP server that streams files under server.root through the
limiter named in the request path (/files/{limiter}/...), and exposes an
admin API under /limiters to inspect and reconfigure limiters live.

When mongo is configured, stored rate profiles are applied at startup and
admin changes are persisted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}

	cmd.Flags().String("host", "", "listen host (overrides server.host)")
	cmd.Flags().Int("port", 0, "listen port (overrides server.port)")
	cmd.Flags().String("root", "", "directory to serve (overrides server.root)")
	_ = a.v.BindPFlag("server.host", cmd.Flags().Lookup("host"))
	_ = a.v.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	_ = a.v.BindPFlag("server.root", cmd.Flags().Lookup("root"))
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := a.cfg
	if cfg.Metrics.Enabled {
		shutdown, err := observability.InitMetrics(ctx, os.Stdout, cfg.Metrics.Interval)
		if err != nil {
			return err
		}
		defer func() {
			_ = shutdown(context.Background())
		}()
	}

	mgr, err := rate.NewLimitManager(cfg.Manager.Rate, rate.WithLogger(a.logger))
	if err != nil {
		return err
	}
	if err := cfg.Register(mgr); err != nil {
		return err
	}

	opts := []server.Option{
		server.WithLogger(a.logger),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.IdleTimeout),
	}
	if cfg.Mongo.Enabled() {
		client, err := a.connect(ctx)
		if err != nil {
			return err
		}
		defer client.Close(context.Background())

		profiles := client.Profiles(cfg.Mongo.Database)
		skipped, err := profiles.Apply(ctx, mgr)
		if err != nil {
			return err
		}
		for _, name := range skipped {
			a.logger.Warn("skipping invalid stored profile", zap.String("profile", name))
		}
		opts = append(opts, server.WithProfiles(profiles))
	}

	srv := server.New(mgr, cfg.Server.Host, cfg.Server.Port, cfg.Server.Root, opts...)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// connect opens the profile store described by the mongo config section
func (a *app) connect(ctx context.Context) (db.StoreClient, error) {
	m := a.cfg.Mongo
	client, err := db.NewMongoClient(ctx, &db.MongoConfig{
		Uri:      m.URI,
		Host:     m.Host,
		Port:     m.Port,
		Username: m.Username,
		Password: m.Password,
	})
	if err != nil {
		return nil, err
	}
	if err := client.HealthCheck(ctx); err != nil {
		_ = client.Close(context.Background())
		return nil, err
	}
	return client, nil
}
