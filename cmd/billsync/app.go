package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/flexprice/billsync/internal/api"
	v1 "github.com/flexprice/billsync/internal/api/v1"
	"github.com/flexprice/billsync/internal/config"
	"github.com/flexprice/billsync/internal/httpclient"
	"github.com/flexprice/billsync/internal/integration/hubspot"
	"github.com/flexprice/billsync/internal/integration/hubspot/webhook"
	"github.com/flexprice/billsync/internal/lock"
	"github.com/flexprice/billsync/internal/logger"
	"github.com/flexprice/billsync/internal/metrics"
	"github.com/flexprice/billsync/internal/repository"
	"github.com/flexprice/billsync/internal/retry"
	"github.com/flexprice/billsync/internal/scheduler"
	"github.com/flexprice/billsync/internal/sentry"
	"github.com/flexprice/billsync/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

// coreOptions wires everything a sync needs: config, CRM client, repositories
// and the contract sync service
func coreOptions() fx.Option {
	return fx.Options(
		fx.WithLogger(func(log *logger.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Desugar()}
		}),
		fx.Provide(
			// Config
			config.NewConfig,

			// Logger
			logger.NewLogger,

			// Monitoring
			metrics.New,

			// HTTP Client
			provideHTTPClient,
			provideRetrier,

			// CRM
			hubspot.NewClient,

			// Repositories
			repository.NewDealRepository,
			repository.NewLineItemRepository,
			repository.NewTicketRepository,
			repository.NewInvoiceRepository,

			// Run lock
			lock.NewFileLocker,
		),
		sentry.Module(),
		fx.Provide(
			service.NewServiceParams,
			service.NewContractSyncService,
		),
	)
}

// httpOptions adds the webhook receiver and the manual sync API
func httpOptions() fx.Option {
	return fx.Options(
		fx.Provide(
			webhook.NewHandler,
			provideHandlers,
			provideRouter,
		),
		fx.Invoke(startAPIServer),
	)
}

// scheduleOptions adds the cron loop
func scheduleOptions() fx.Option {
	return fx.Options(
		fx.Provide(provideScheduler),
		fx.Invoke(startScheduler),
	)
}

func provideHTTPClient(cfg *config.Configuration, log *logger.Logger) httpclient.Client {
	return httpclient.NewDefaultClient(httpclient.ClientConfig{
		Timeout:           cfg.HubSpot.Timeout,
		ConnectionRetries: cfg.Retry.TransportRetries,
	}, log)
}

func provideRetrier(cfg *config.Configuration, log *logger.Logger, m *metrics.Metrics) *retry.Retrier {
	return retry.New(cfg.Retry, log, retry.WithRetryHook(func(op string, attempt int, err error, wait time.Duration) {
		m.RecordRetry(op)
	}))
}

func provideHandlers(
	client hubspot.HubSpotClient,
	syncService service.ContractSyncService,
	webhookHandler *webhook.Handler,
	locker *lock.FileLocker,
	logger *logger.Logger,
) api.Handlers {
	return api.Handlers{
		Health:  v1.NewHealthHandler(logger),
		Webhook: v1.NewWebhookHandler(client, webhookHandler, logger),
		Sync:    v1.NewSyncHandler(syncService, locker, logger),
	}
}

func provideRouter(handlers api.Handlers, cfg *config.Configuration, logger *logger.Logger, m *metrics.Metrics) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	return api.NewRouter(handlers, cfg, logger, m)
}

func provideScheduler(
	cfg *config.Configuration,
	syncService service.ContractSyncService,
	locker *lock.FileLocker,
	logger *logger.Logger,
) (*scheduler.Scheduler, error) {
	return scheduler.New(cfg, syncService, locker, logger)
}

func startAPIServer(
	lc fx.Lifecycle,
	r *gin.Engine,
	cfg *config.Configuration,
	log *logger.Logger,
) {
	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting API server", "address", cfg.Server.Address)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatalf("Failed to start server: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("Shutting down server...")
			return srv.Shutdown(ctx)
		},
	})
}

func startScheduler(lc fx.Lifecycle, s *scheduler.Scheduler, log *logger.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			s.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("Stopping scheduler...")
			return s.Stop(ctx)
		},
	})
}
