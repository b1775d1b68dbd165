package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"carelink/config"
	"carelink/cron"
	"carelink/database"
	userRepoPkg "carelink/database/repository/user"
	"carelink/handlers"
	"carelink/routes"
	"carelink/services/account"
	"carelink/services/admin"
	"carelink/services/linking"
	"carelink/services/notification"
	"carelink/services/reconcile"
	"carelink/services/registration"
	"carelink/services/resolver"
	"carelink/services/session"
	"carelink/services/verification"
	"carelink/utils"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

func main() {
	config.LoadConfig()
	logger := utils.GetLogger()
	cfg := config.AppConfig

	utils.FirebaseInit()

	// repositories.
	var mongoClient *mongo.Client
	var userRepo userRepoPkg.UserRepository
	switch cfg.ProfileStore {
	case "mongo":
		database.InitDB()
		mongoClient = database.MongoClient
		userRepo = userRepoPkg.NewMongoUserRepo()
	case "firestore":
		userRepo = userRepoPkg.NewFirestoreUserRepo(utils.GetFirestoreClient())
	case "memory":
		logger.Warn("main: PROFILE_STORE=memory, profiles are lost on restart")
		userRepo = userRepoPkg.NewMemoryUserRepo()
	default:
		logger.Sugar().Fatalf("main: unknown PROFILE_STORE %q", cfg.ProfileStore)
	}
	kv := utils.NewKVStore()

	// phone verification.
	var sender verification.Sender
	switch cfg.OTPChannel {
	case "twilio":
		sender = verification.NewTwilioSender(verification.TwilioConfig{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			FromNumber: cfg.TwilioFromNumber,
			Lookup:     cfg.TwilioLookup,
		}, logger)
	default:
		if config.IsProduction() {
			logger.Fatal("main: OTP_CHANNEL=twilio is required in production")
		}
		sender = verification.NewLogSender(logger)
	}

	var identities verification.IdentityProvider = verification.DerivedIdentities{}
	var minter session.TokenMinter
	if utils.FirebaseAuth != nil {
		identities = verification.NewFirebaseIdentities(utils.FirebaseAuth)
		minter = session.NewFirebaseMinter(utils.FirebaseAuth)
	}

	sessions := session.NewManager(kv, utils.NewSigner(cfg.JWTSecret), logger, session.Options{
		SessionTTL: cfg.SessionTTL,
		ReplayTTL:  cfg.ReplayTTL,
		Minter:     minter,
	})
	gateway := verification.NewPhoneGateway(kv, sender, identities, sessions, logger, verification.Options{
		DefaultCountryCode: cfg.DefaultCountryCode,
		ChallengeTTL:       cfg.ChallengeTTL,
		PerMinute:          cfg.OTPPerMinute,
		CodeLength:         cfg.OTPLength,
	})

	// notifications: queued through asynq when Redis is available, inline otherwise.
	var queue notification.Enqueuer
	var pushWorker *asynq.Server
	redisOpts := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisQueueDB,
	}
	if cfg.RedisAddr != "" {
		client := asynq.NewClient(redisOpts)
		defer client.Close()
		queue = client
	}
	var messenger notification.Messenger
	if utils.FCMClient != nil {
		messenger = utils.FCMClient
	}
	notificationService, err := notification.NewDefaultNotificationService(userRepo, queue, messenger, logger)
	if err != nil {
		logger.Sugar().Fatalf("main: %v", err)
	}
	if queue != nil {
		pushWorker = cron.InitPushWorker(redisOpts, notificationService, logger)
	}

	// services.
	res := resolver.NewResolver(userRepo, logger)
	migrator := reconcile.NewMigrator(userRepo, logger)
	janitor := reconcile.NewJanitor(userRepo, migrator, logger, reconcile.JanitorOptions{Grace: cfg.JanitorGrace})
	registry := linking.NewRegistry(userRepo, notificationService, logger)
	coordinator := registration.NewCoordinator(userRepo, gateway, sessions, res, registry, migrator, notificationService, logger,
		registration.Options{DefaultCountryCode: cfg.DefaultCountryCode})
	accounts := account.NewService(userRepo, gateway, sessions, res, migrator, logger,
		account.Options{DefaultCountryCode: cfg.DefaultCountryCode})
	adminService := admin.NewDefaultAdminService(userRepo, notificationService, logger,
		admin.Options{DefaultCountryCode: cfg.DefaultCountryCode})

	jobs, err := cron.StartJobs(cron.JobConfig{
		JanitorSchedule:   cfg.JanitorSchedule,
		WorkflowRetention: cfg.WorkflowRetention,
	}, janitor, coordinator, logger)
	if err != nil {
		logger.Sugar().Fatalf("main: failed to schedule jobs: %v", err)
	}

	healthCtx, stopHealth := context.WithCancel(context.Background())
	defer stopHealth()
	var redisClients []*redis.Client
	if cfg.RedisAddr != "" {
		redisClients = append(redisClients, utils.GetSessionCacheClient())
	}
	utils.StartHealthMonitor(healthCtx, redisClients, mongoClient)

	// Assemble the handler bundle.
	handlerBundle := &handlers.HandlerBundle{
		UserRepo:       userRepo,
		Sessions:       sessions,
		AdminTokenHash: cfg.AdminTokenHash,
		MaxRequestsMin: cfg.MaxRequestsPerMin,

		Auth:         handlers.NewAuthHandler(accounts),
		Registration: handlers.NewRegistrationHandler(coordinator),
		Linking:      handlers.NewLinkingHandler(registry),
		Devices:      handlers.NewDeviceHandler(notificationService),
		Admin:        handlers.NewAdminHandler(adminService, janitor),
	}

	if config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		logger.Sugar().Fatalf("main: invalid TRUSTED_PROXIES: %v", err)
	}
	router.Use(gin.Recovery())
	router.Use(gin.Logger())
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
		logger.Error("main: server forced to shutdown", zap.Error(err))
	}
	<-jobs.Stop().Done()
	if pushWorker != nil {
		pushWorker.Shutdown()
	}

	logger.Sugar().Info("main: server stopped gracefully")
}
