package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/agrilink/api/internal/handlers"
	"github.com/agrilink/api/internal/notifications"
	"github.com/agrilink/api/internal/payments"
	"github.com/agrilink/api/internal/platform/auth"
	"github.com/agrilink/api/internal/platform/config"
	pfirestore "github.com/agrilink/api/internal/platform/firestore"
	"github.com/agrilink/api/internal/platform/jobs"
	"github.com/agrilink/api/internal/platform/observability"
	"github.com/agrilink/api/internal/platform/requestctx"
	"github.com/agrilink/api/internal/platform/secrets"
	"github.com/agrilink/api/internal/platform/uploads"
	"github.com/agrilink/api/internal/repositories"
	firestorerepo "github.com/agrilink/api/internal/repositories/firestore"
	"github.com/agrilink/api/internal/services"
)

const (
	shutdownTimeout = 10 * time.Second
	seedTimeout     = 15 * time.Second
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		log.Fatalf("failed to initialise logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	secretFetcher, err := secrets.NewFetcher(ctx, secrets.WithLogger(logger.Named("secrets")))
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() { _ = secretFetcher.Close() }()

	cfg, err := config.Load(ctx, config.WithSecretResolver(secretFetcher))
	if err != nil {
		var validationErr *config.ValidationError
		if errors.As(err, &validationErr) {
			logger.Fatal("configuration incomplete", zap.Strings("fields", validationErr.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	defer func() {
		if err := firestoreProvider.Close(); err != nil {
			logger.Warn("failed to close firestore provider", zap.Error(err))
		}
	}()

	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}

	userRepo, err := firestorerepo.NewUserRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise user repository", zap.Error(err))
	}
	productRepo, err := firestorerepo.NewProductRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise product repository", zap.Error(err))
	}
	orderRepo, err := firestorerepo.NewOrderRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise order repository", zap.Error(err))
	}
	counterRepo, err := firestorerepo.NewCounterRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise counter repository", zap.Error(err))
	}
	unitOfWork, err := firestorerepo.NewUnitOfWork(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise unit of work", zap.Error(err))
	}

	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, auth.WithIssuer("agrilink-api"))
	if err != nil {
		logger.Fatal("failed to initialise token manager", zap.Error(err))
	}
	authn := auth.NewAuthenticator(tokens, identityLoader(userRepo))

	var mailer services.Mailer
	if cfg.SMTP.Host != "" {
		smtpMailer, err := notifications.NewSMTPMailer(notifications.SMTPMailerConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			FromName: "AgriLink",
			Logger:   eventLogger(logger.Named("mailer")),
		})
		if err != nil {
			logger.Fatal("failed to initialise mailer", zap.Error(err))
		}
		mailer = smtpMailer
	} else {
		logger.Warn("smtp host not configured, transactional mail disabled")
	}

	var eventPublisher services.OrderEventPublisher
	if cfg.Events.ProjectID != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.Events.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() { _ = pubsubClient.Close() }()

		topic := pubsubClient.Topic(cfg.Events.Topic)
		defer topic.Stop()

		eventPublisher, err = jobs.NewPubSubOrderEventPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise order event publisher", zap.Error(err))
		}
	} else {
		logger.Warn("events project not configured, order event publishing disabled")
	}

	var paymentProvider payments.Provider
	if cfg.Payments.StripeAPIKey != "" {
		stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey: cfg.Payments.StripeAPIKey,
			Logger: eventLogger(logger.Named("payments")),
		})
		if err != nil {
			logger.Fatal("failed to initialise payment provider", zap.Error(err))
		}
		paymentProvider = stripeProvider
	} else {
		logger.Warn("stripe api key not configured, payment verification disabled")
	}

	userService, err := services.NewUserService(services.UserServiceDeps{
		Users:      userRepo,
		Tokens:     tokens,
		Mailer:     mailer,
		BcryptCost: cfg.Auth.BcryptCost,
		Logger:     eventLogger(logger.Named("users")),
	})
	if err != nil {
		logger.Fatal("failed to initialise user service", zap.Error(err))
	}

	productService, err := services.NewProductService(services.ProductServiceDeps{
		Products: productRepo,
		Users:    userRepo,
		Logger:   eventLogger(logger.Named("products")),
	})
	if err != nil {
		logger.Fatal("failed to initialise product service", zap.Error(err))
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     orderRepo,
		Products:   productRepo,
		Users:      userRepo,
		Counters:   counterRepo,
		UnitOfWork: unitOfWork,
		Events:     eventPublisher,
		Mailer:     mailer,
		Payments:   paymentProvider,
		Logger:     eventLogger(logger.Named("orders")),
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	seedAdmin(ctx, logger, userService, cfg.Admin)

	routerOpts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.RecoveryMiddleware(logger),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(map[string]handlers.ReadinessCheck{
			"firestore": firestoreReadiness(firestoreClient),
		})),
		handlers.WithAuthRoutes(handlers.NewAuthHandlers(userService).Routes),
		handlers.WithUserRoutes(handlers.NewUserHandlers(authn, userService).Routes),
		handlers.WithProductRoutes(handlers.NewProductHandlers(authn, productService).Routes),
		handlers.WithOrderRoutes(handlers.NewOrderHandlers(authn, orderService).Routes),
		handlers.WithAdminRoutes(handlers.NewAdminHandlers(authn, userService, productService).Routes),
	}

	if cfg.Uploads.Bucket != "" {
		storageClient, err := storage.NewClient(ctx)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		defer func() { _ = storageClient.Close() }()

		uploader, err := uploads.NewUploader(storageClient, cfg.Uploads.Bucket, cfg.Uploads.PublicBaseURL)
		if err != nil {
			logger.Fatal("failed to initialise uploader", zap.Error(err))
		}
		routerOpts = append(routerOpts, handlers.WithUploadRoutes(handlers.NewUploadHandlers(authn, uploader).Routes))
	} else {
		logger.Warn("uploads bucket not configured, media uploads disabled")
	}

	router := handlers.NewRouter(routerOpts...)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Fatal("server failed", zap.Error(err))
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
		_ = server.Close()
	}
	logger.Info("server stopped")
}

// eventLogger adapts the structured logger to the plain event callback the
// services accept. The request-scoped logger is preferred so events carry
// request and trace identifiers.
func eventLogger(base *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := requestctx.Logger(ctx)
		if logger == nil || logger == requestctx.NoopLogger() {
			logger = base
		}
		zapFields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			zapFields = append(zapFields, zap.Any(key, value))
		}
		logger.Info(event, zapFields...)
	}
}

// identityLoader resolves the current account record for every authenticated
// request so revoked or deactivated accounts lose access immediately.
func identityLoader(users repositories.UserRepository) auth.IdentityLoader {
	return func(ctx context.Context, userID string) (*auth.Identity, error) {
		user, err := users.FindByID(ctx, userID)
		if err != nil {
			return nil, err
		}
		return &auth.Identity{
			ID:                 user.ID,
			Email:              user.Email,
			Role:               string(user.Role),
			IsVerified:         user.IsVerified,
			IsExporterApproved: user.IsExporterApproved,
			IsActive:           user.IsActive,
		}, nil
	}
}

func firestoreReadiness(client *firestore.Client) handlers.ReadinessCheck {
	return func(ctx context.Context) error {
		_, err := client.Collections(ctx).Next()
		if err != nil && !errors.Is(err, iterator.Done) {
			return err
		}
		return nil
	}
}

func seedAdmin(ctx context.Context, logger *zap.Logger, users services.UserService, cfg config.AdminSeedConfig) {
	if cfg.Email == "" || cfg.Password == "" {
		logger.Info("admin seed not configured, skipping")
		return
	}

	seedCtx, cancel := context.WithTimeout(ctx, seedTimeout)
	defer cancel()

	admin, err := users.EnsureAdmin(seedCtx, services.EnsureAdminCommand{
		Email:    cfg.Email,
		Password: cfg.Password,
		Name:     cfg.Name,
	})
	if err != nil {
		logger.Fatal("failed to seed admin account", zap.Error(err))
	}
	logger.Info("admin account ready", zap.String("user_id", admin.ID))
}
