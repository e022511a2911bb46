package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Generatorcc/emr-ehr-core/internal/alerts"
	"github.com/Generatorcc/emr-ehr-core/internal/audit"
	"github.com/Generatorcc/emr-ehr-core/internal/auth"
	"github.com/Generatorcc/emr-ehr-core/internal/config"
	"github.com/Generatorcc/emr-ehr-core/internal/emr"
	"github.com/Generatorcc/emr-ehr-core/internal/gateway"
	"github.com/Generatorcc/emr-ehr-core/internal/httpapi"
	"github.com/Generatorcc/emr-ehr-core/internal/obs"
	"github.com/Generatorcc/emr-ehr-core/internal/storage"
	"github.com/Generatorcc/emr-ehr-core/internal/store/pg"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	log, err := obs.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		os.Stderr.WriteString("logger init: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	obs.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := pg.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer store.Close()

	var revocations auth.RevocationList = auth.NewMemoryRevocationList()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		revocations = auth.NewRedisRevocationList(rdb)
		log.Info("token revocation backed by redis", zap.String("addr", cfg.RedisAddr))
	}

	var objects emr.ObjectStore
	if cfg.ObjectStorageEnabled() {
		minioStore, err := storage.NewMinio(ctx, storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseTLS:    cfg.MinioUseTLS,
			UseSSE:    cfg.MinioUseSSE,
		})
		if err != nil {
			return err
		}
		objects = minioStore
		log.Info("document storage enabled", zap.String("bucket", cfg.MinioBucket))
	} else {
		log.Warn("document storage not configured, document endpoints disabled")
	}

	var alertPub alerts.Publisher = alerts.Noop{}
	if cfg.AMQPURL != "" {
		amqpPub, err := alerts.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return err
		}
		defer amqpPub.Close()
		alertPub = amqpPub
		log.Info("alerts publisher connected", zap.String("exchange", cfg.AMQPExchange))
	}

	recorder := audit.NewDurableRecorder(store, log)
	resolver := auth.NewResolver([]byte(cfg.AuthSecret), cfg.AuthIssuer, store,
		auth.WithMode(auth.Mode(cfg.AuthMode)),
		auth.WithRevocations(revocations),
	)
	patients := auth.NewPatientAuthorizer(store)
	gw := gateway.New(resolver, patients, recorder, alertPub, log)
	records := emr.NewService(store, objects, cfg.PresignTTL, log)
	issuer := auth.NewTokenIssuer([]byte(cfg.AuthSecret), cfg.AuthIssuer, cfg.AccessTokenTTL)

	api := httpapi.New(httpapi.Deps{
		Logger:      log,
		Gateway:     gw,
		Records:     records,
		Identities:  store,
		Audits:      store,
		Recorder:    recorder,
		Issuer:      issuer,
		Revocations: revocations,

		Ready:       store.Ping,
		Version:     obs.BuildVersion(),
		Environment: cfg.Environment,

		RateLimitRPS:   cfg.RateLimitPerSecond,
		RateLimitBurst: cfg.RateLimitBurst,
		MaxBodyBytes:   cfg.MaxBodyBytes,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
