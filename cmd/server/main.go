package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"cloudjade-ide/internal/auth"
	"cloudjade-ide/internal/config"
	apphttp "cloudjade-ide/internal/http"
	"cloudjade-ide/internal/orchestrator"
	"cloudjade-ide/internal/ratelimit"
	"cloudjade-ide/internal/repository"
	"cloudjade-ide/internal/repository/dynamo"
	"cloudjade-ide/internal/repository/memory"
	"cloudjade-ide/internal/repository/sqlite"
	"cloudjade-ide/internal/service"
	"cloudjade-ide/internal/storage"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	configureLogger(logger, cfg)

	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	projectRepo := sqlite.NewProjectRepository(db)
	fileRepo := sqlite.NewFileRepository(db)
	pluginRepo := sqlite.NewPluginRepository(db)

	if err := projectRepo.Init(ctx); err != nil {
		logger.Fatalf("init project repository: %v", err)
	}
	if err := fileRepo.Init(ctx); err != nil {
		logger.Fatalf("init file repository: %v", err)
	}
	if err := pluginRepo.Init(ctx); err != nil {
		logger.Fatalf("init plugin repository: %v", err)
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Fatalf("load aws config: %v", err)
	}

	accountRepo, err := buildAccountStore(ctx, cfg, db, awsCfg, logger)
	if err != nil {
		logger.Fatalf("setup account store: %v", err)
	}

	storageSvc := buildStorage(cfg, awsCfg, logger)

	ecsClient := ecs.NewFromConfig(awsCfg, func(o *ecs.Options) {
		o.Region = cfg.Execution.Region
	})
	orch := orchestrator.NewECSOrchestrator(ecsClient, orchestrator.ECSConfig{
		Cluster:        cfg.Execution.Cluster,
		TaskDefinition: cfg.Execution.TaskDefinition,
		ContainerName:  cfg.Execution.ContainerName,
		Subnets:        cfg.Execution.Subnets,
		SecurityGroups: cfg.Execution.SecurityGroups,
		AssignPublicIP: cfg.Execution.AssignPublicIP,
	})

	issuer := auth.NewIssuer([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenIssuer)
	accountService := service.NewAccountService(
		accountRepo,
		auth.NewHasher(cfg.Auth.BcryptCost),
		auth.NewTOTP(auth.TOTPConfig{Issuer: cfg.Auth.TOTPIssuer}),
		issuer,
		service.AccountConfig{
			TokenTTL:                cfg.Auth.TokenTTL,
			StoreTimeout:            cfg.Auth.StoreTimeout,
			RequireTOTPConfirmation: cfg.Auth.RequireTOTPConfirmation,
			Logger:                  logger,
		},
	)
	executionService := service.NewExecutionService(orch, service.ExecutionConfig{
		Languages:     cfg.Execution.Languages,
		MaxCodeBytes:  cfg.Execution.MaxCodeBytes,
		SubmitTimeout: cfg.Execution.SubmitTimeout,
		Logger:        logger,
	})
	fileService := service.NewFileService(fileRepo, storageSvc, service.FileConfig{
		Bucket:       cfg.Storage.Bucket,
		MaxFileBytes: cfg.Storage.MaxFileBytes,
		Timeout:      cfg.Storage.Timeout,
		URLExpiry:    cfg.Storage.URLExpiry,
		Logger:       logger,
	})
	pluginService := service.NewPluginService(pluginRepo, cfg.Auth.StoreTimeout)
	if err := pluginService.Seed(ctx, service.DefaultPlugins); err != nil {
		logger.Fatalf("seed plugins: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	handler := apphttp.NewHandler(apphttp.Dependencies{
		Accounts:       accountService,
		Executions:     executionService,
		Projects:       service.NewProjectService(projectRepo, cfg.Auth.StoreTimeout),
		Files:          fileService,
		Plugins:        pluginService,
		Tokens:         issuer,
		Limiter:        ratelimit.NewFixedWindow(cfg.RateLimit.Max, cfg.RateLimit.Window),
		Logger:         logger,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		TrustedProxies: cfg.Server.TrustedProxies,
	})
	if err := handler.RegisterRoutes(router); err != nil {
		logger.Fatalf("register routes: %v", err)
	}

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		var err error
		if cfg.Server.TLSCert != "" {
			logger.Infof("listening on %s (tls)", cfg.Server.Addr)
			err = srv.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey)
		} else {
			logger.Infof("listening on %s", cfg.Server.Addr)
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}

	logger.Info("bye")
}

func configureLogger(logger *logrus.Logger, cfg config.Config) {
	if strings.EqualFold(cfg.Log.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logger.Warnf("unknown log level %q, using info", cfg.Log.Level)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}

func loadAWSConfig(ctx context.Context, cfg config.Config) (aws.Config, error) {
	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}
	return awscfg.LoadDefaultConfig(ctx, loadOpts...)
}

func buildAccountStore(ctx context.Context, cfg config.Config, db *sql.DB, awsCfg aws.Config, logger *logrus.Logger) (repository.AccountRepository, error) {
	var repo repository.AccountRepository
	switch cfg.Auth.Store {
	case "dynamodb":
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.Auth.DynamoEndpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Auth.DynamoEndpoint)
			}
		})
		repo = dynamo.NewAccountRepository(client, cfg.Auth.DynamoTable)
		logger.Infof("using dynamodb account table %s", cfg.Auth.DynamoTable)
	case "memory":
		repo = memory.NewAccountRepository()
		logger.Warn("using in-memory account store, accounts are lost on restart")
	default:
		repo = sqlite.NewAccountRepository(db)
	}

	if err := repo.Init(ctx); err != nil {
		return nil, fmt.Errorf("init account repository: %w", err)
	}
	return repo, nil
}

func buildStorage(cfg config.Config, awsCfg aws.Config, logger *logrus.Logger) storage.Service {
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("using s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Service(client)
}
