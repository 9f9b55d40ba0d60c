package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/lechieutung2003/cleanzy-app/internal/config"
	"github.com/lechieutung2003/cleanzy-app/internal/events"
	"github.com/lechieutung2003/cleanzy-app/internal/httpapi"
	"github.com/lechieutung2003/cleanzy-app/internal/messaging"
	"github.com/lechieutung2003/cleanzy-app/internal/payment"
	"github.com/lechieutung2003/cleanzy-app/internal/payos"
	"github.com/lechieutung2003/cleanzy-app/internal/storage"
	"github.com/lechieutung2003/cleanzy-app/internal/websocket"
)

type App struct {
	cfg       config.Config
	logger    *slog.Logger
	store     *storage.Store
	wsHub     *websocket.Hub
	publisher messaging.Publisher
	outbox    *messaging.OutboxDispatcher
	httpSrv   *http.Server
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	store, err := storage.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	wsHub := websocket.NewHub(logger)

	gateway := payos.NewClient(payos.Config{
		BaseURL:     cfg.PayOSBaseURL,
		ClientID:    cfg.PayOSClientID,
		APIKey:      cfg.PayOSAPIKey,
		ChecksumKey: cfg.PayOSChecksumKey,
		Timeout:     cfg.GatewayTimeout,
	})

	paymentStore := payment.NewPostgresStore(store.Pool())
	svc := payment.NewService(
		paymentStore,
		gateway,
		events.Fanout{wsHub},
		logger,
		cfg.FrontendURL+"/payment/success",
		cfg.FrontendURL+"/payment/cancel",
	)

	publisher, err := messaging.NewRabbitPublisher(cfg.RabbitURL, cfg.PaymentsExchange)
	if err != nil {
		store.Close()
		return nil, err
	}
	outbox := messaging.NewOutboxDispatcher(store.Pool(), publisher, cfg.OutboxInterval, cfg.OutboxBatchSize, logger)

	api := httpapi.NewServer(svc, gateway, logger)
	wsHandler := websocket.NewHandler(wsHub, svc, logger)
	api.HandleFunc("GET /payments/{orderID}", wsHandler.ServeWS)

	httpSrv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api,
	}

	return &App{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		wsHub:     wsHub,
		publisher: publisher,
		outbox:    outbox,
		httpSrv:   httpSrv,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)

	a.outbox.Start(ctx)
	go a.wsHub.Run(ctx)

	go func() {
		a.logger.Info("payments http server listening", "addr", a.cfg.HTTPAddr)
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (a *App) Close(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.ShutdownGracePeriod)
	defer cancel()
	_ = a.httpSrv.Shutdown(shutdownCtx)
	_ = a.publisher.Close()
	a.store.Close()
}

func Run() error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	// The signal context is already cancelled by the time shutdown starts;
	// give Close its own deadline.
	defer app.Close(context.Background())

	return app.Run(ctx)
}
