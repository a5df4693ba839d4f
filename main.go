// File: slotkeeper/main.go
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"slotkeeper/config"
	"slotkeeper/cron"
	"slotkeeper/database"
	availabilityRepo "slotkeeper/database/repository/availability"
	bookingRepo "slotkeeper/database/repository/booking"
	providerRepo "slotkeeper/database/repository/provider"
	"slotkeeper/handlers"
	"slotkeeper/middleware"
	"slotkeeper/routes"
	"slotkeeper/services/availability"
	"slotkeeper/services/booking"
	"slotkeeper/services/idempotency"
	"slotkeeper/services/notification"
	"slotkeeper/utils"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

func main() {
	config.LoadConfig()
	logger := utils.GetLogger()
	defer logger.Sync()

	cfg := config.AppConfig
	loc := config.DefaultLocation()
	clock := utils.SystemClock{}

	database.InitDB()
	db := database.Database()

	bootCtx, cancelBoot := context.WithTimeout(context.Background(), 30*time.Second)
	transactional, err := database.SupportsTransactions(bootCtx, database.MongoClient)
	if err != nil {
		logger.Warn("main: transaction support check failed, running in fallback mode", zap.Error(err))
	}
	var transactor database.Transactor = database.NoopTransactor{}
	if transactional {
		transactor = database.NewMongoTransactor(database.MongoClient, true)
	}
	logger.Info("main: persistence ready", zap.Bool("transactional", transactional))

	// repositories.
	slotRepo := availabilityRepo.NewMongoAvailabilityRepo(db)
	bookRepo := bookingRepo.NewMongoBookingRepo(db)
	provRepo := providerRepo.NewMongoProviderRepo(db)

	if err := slotRepo.EnsureIndexes(bootCtx); err != nil {
		logger.Fatal("main: failed to create availability indexes", zap.Error(err))
	}
	if err := bookRepo.EnsureIndexes(bootCtx); err != nil {
		logger.Fatal("main: failed to create booking indexes", zap.Error(err))
	}

	cache := utils.NewCacheFromConfig()
	var redisClients []*redis.Client
	if utils.CacheClient != nil {
		redisClients = append(redisClients, utils.CacheClient)
	}
	queueRedis := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisQueueDB,
	})
	redisClients = append(redisClients, queueRedis)

	fcm, err := utils.NewFCMClient(bootCtx)
	if err != nil {
		logger.Warn("main: push notifications disabled", zap.Error(err))
	}
	cancelBoot()

	// notifications.
	dispatcher := &notification.Dispatcher{
		Providers: provRepo,
		Mail:      notification.LogMailer{Logger: logger},
		Logger:    logger,
	}
	if fcm != nil {
		dispatcher.Push = fcm
	}

	queueClient := asynq.NewClient(cron.RedisOpt())
	defer queueClient.Close()

	var hooks notification.Hooks
	if cfg.NotificationsAsync {
		hooks = notification.NewQueueNotifier(queueClient, logger)
	} else {
		hooks = notification.NewDirectNotifier(dispatcher)
	}

	// services.
	idem := idempotency.New(cache, cfg.IdempotencyTTL, logger)
	store := availability.NewStore(slotRepo, cache, cfg.AvailabilityCacheTTL, clock, cfg.ForwardWeeks, loc, logger)
	materializer := availability.NewMaterializer(slotRepo, clock, cfg.ForwardWeeks, logger)

	availabilityService := &availability.DefaultAvailabilityService{
		Store:        store,
		Validator:    availability.NewConflictValidator(slotRepo, bookRepo),
		Materializer: materializer,
		Bookings:     bookRepo,
		Idempotency:  idem,
		Transactor:   transactor,
		Hooks:        hooks,
		Clock:        clock,
		Location:     loc,
		Logger:       logger,
	}

	bookingService := &booking.DefaultBookingService{
		Bookings:           bookRepo,
		Providers:          provRepo,
		Slots:              store,
		Materializer:       materializer,
		Transactor:         transactor,
		Idempotency:        idem,
		Hooks:              hooks,
		Clock:              clock,
		Location:           loc,
		ReminderLead:       cfg.ReminderLead,
		SeriesDefaultWeeks: cfg.SeriesDefaultWeeks,
		Logger:             logger,
	}

	worker, err := cron.InitWorker(cron.Deps{
		Dispatcher: dispatcher,
		Bookings:   bookingService,
		Slots:      availabilityService,
		Logger:     logger,
	}, loc)
	if err != nil {
		logger.Fatal("main: failed to start worker", zap.Error(err))
	}

	utils.StartHealthMonitor(redisClients, database.MongoClient, transactional)

	// Create the Gin router.
	if config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	if err := router.SetTrustedProxies(config.TrustedProxyList()); err != nil {
		logger.Fatal("main: invalid TRUSTED_PROXIES", zap.Error(err))
	}
	router.Use(gin.Recovery())
	router.Use(utils.ErrorHandler())
	router.Use(gin.Logger())
	router.Use(middleware.RateLimitMiddleware(cfg.MaxRequestsPerMin))

	handlerBundle := handlers.NewHandlerBundle(
		provRepo,
		cache,
		handlers.NewAvailabilityHandler(availabilityService),
		handlers.NewBookingHandler(bookingService),
		handlers.HealthHandler,
	)

	// Register routes with the assembled handler bundle.
	routes.RegisterRoutes(router, handlerBundle)

	// Start the HTTP server.
	port := cfg.AppPort
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    "0.0.0.0:" + port,
		Handler: router,
	}

	logger.Sugar().Infof("Starting server on %s...", srv.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Sugar().Fatalf("main: server failed to start: %v", err)
		}
	}()

	// Wait for an OS signal to gracefully shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Sugar().Info("main: server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Sugar().Errorf("main: server forced to shutdown: %v", err)
	}
	worker.Shutdown()
	if err := database.MongoClient.Disconnect(ctx); err != nil {
		logger.Warn("main: mongo disconnect failed", zap.Error(err))
	}

	logger.Sugar().Info("main: server stopped gracefully")
}
