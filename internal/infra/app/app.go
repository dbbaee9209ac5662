package app

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/arklim/passwordless-auth/internal/core/domain"
	"github.com/arklim/passwordless-auth/internal/core/port"
	"github.com/arklim/passwordless-auth/internal/infra/config"
	"github.com/arklim/passwordless-auth/internal/infra/database"
	kafkainfra "github.com/arklim/passwordless-auth/internal/infra/kafka"
	"github.com/arklim/passwordless-auth/internal/infra/logger"
	"github.com/arklim/passwordless-auth/internal/infra/mail"
	redisinfra "github.com/arklim/passwordless-auth/internal/infra/redis"
	"github.com/arklim/passwordless-auth/internal/infra/security"
	"github.com/arklim/passwordless-auth/internal/infra/telemetry"
	postgresrepo "github.com/arklim/passwordless-auth/internal/repository/postgres"
	redisrepo "github.com/arklim/passwordless-auth/internal/repository/redis"
	"github.com/arklim/passwordless-auth/internal/transport/http/middleware"
	"github.com/arklim/passwordless-auth/internal/transport/http/routes"
	"github.com/arklim/passwordless-auth/internal/usecase"
)

type Application struct {
	cfg        *config.AppConfig
	engine     *gin.Engine
	logger     *zap.Logger
	pool       *pgxpool.Pool
	redis      *redisinfra.Client
	tracer     *telemetry.TracerProvider
	producer   *kafkainfra.Producer
	pruner     *usecase.ChallengePruner
	mailWorker *kafkainfra.MailConsumer
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &Application{cfg: cfg, logger: log}
	if err := a.init(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *Application) init(ctx context.Context) error {
	cfg, log := a.cfg, a.logger

	tracer, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	a.tracer = tracer

	authMetrics, err := telemetry.NewAuthMetrics(telemetry.AuthMetricsOptions{Registerer: prometheus.DefaultRegisterer})
	if err != nil {
		return fmt.Errorf("init auth metrics: %w", err)
	}
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Registerer: prometheus.DefaultRegisterer})
	if err != nil {
		return fmt.Errorf("init http metrics: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return fmt.Errorf("init postgres: %w", err)
	}
	a.pool = pool

	redisClient, err := redisinfra.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		return fmt.Errorf("init redis: %w", err)
	}
	a.redis = redisClient

	hasher, err := security.NewCodeHasher(cfg.Security.CodeHashAlgorithm, port.Argon2Params{
		Memory:      cfg.Security.Argon2.Memory,
		Iterations:  cfg.Security.Argon2.Iterations,
		Parallelism: cfg.Security.Argon2.Parallelism,
		SaltLength:  cfg.Security.Argon2.SaltLength,
		KeyLength:   cfg.Security.Argon2.KeyLength,
	}, cfg.Security.BcryptCost)
	if err != nil {
		return fmt.Errorf("init code hasher: %w", err)
	}

	cipher, err := security.NewCodeCipher(appKey(cfg, log))
	if err != nil {
		return fmt.Errorf("init code cipher: %w", err)
	}

	repos := postgresrepo.NewRepositories(pool, log)
	counters := redisrepo.NewRateLimitRepository(redisClient.Client(), redisClient.KeyPrefix())

	dispatcher := mail.NewDispatcher(mail.NewRenderer(cipher), mailSender(cfg.Mail, log))
	var mailQueue port.MailQueue = dispatcher
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, delivering mail in-process", zap.Error(err))
		} else {
			a.producer = producer
			mailQueue = kafkainfra.NewMailPublisher(producer, cfg.App, log)
			log.Info("kafka mail publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
		if cfg.Kafka.RunMailWorker {
			a.mailWorker = kafkainfra.NewMailConsumer(dispatcher, cfg.Kafka, log)
		}
	} else {
		log.Info("kafka brokers not configured, delivering mail in-process")
	}

	challengeIssuer := usecase.NewChallengeIssuer(cfg.Challenge, repos.Transactor, security.NewNumericCodeGenerator(), hasher, cipher, mailQueue, authMetrics, log)
	challengeVerifier := usecase.NewChallengeVerifier(cfg.Challenge, repos.Transactor, hasher, authMetrics, log)
	loginCodes := usecase.NewLoginCodeService(
		cfg.Challenge,
		repos.Accounts,
		repos.Challenges,
		challengeIssuer,
		challengeVerifier,
		usecase.NewTimingEqualizer(cfg.Timing),
		counters,
		authMetrics,
		log,
	)

	tokenIssuer := usecase.NewTokenIssuer(cfg.Token, security.NewBearerTokenGenerator())
	tokenRotator := usecase.NewTokenRotator(repos.Transactor, tokenIssuer, mailQueue, authMetrics, log)
	tokenService := usecase.NewTokenService(repos.Transactor, repos.Tokens, tokenIssuer, tokenRotator, authMetrics, log)
	authenticator := usecase.NewTokenAuthenticator(cfg.Token, repos.Tokens, authMetrics, log)

	a.pruner = usecase.NewChallengePruner(cfg.Challenge, repos.Challenges, authMetrics, log)

	a.engine = routes.Register(routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		RateLimiter: middleware.NewRateLimiter(counters, log).WithDegradationPolicy(
			domain.NewDegradationPolicy(domain.ParseDegradationPolicyMode(cfg.RateLimit.DegradationMode)),
		),
		Metrics:     httpMetrics,
		Gatherer:    prometheus.DefaultGatherer,
		Database:    pool,
		Cache:       redisClient,
		Services: routes.ServiceSet{
			LoginCodes:    loginCodes,
			Tokens:        tokenService,
			Authenticator: authenticator,
		},
	})

	return nil
}

// appKey returns the configured master key. Outside production a missing key is
// replaced with a per-process random key, so codes queued by another process
// cannot be decrypted.
func appKey(cfg *config.AppConfig, log *zap.Logger) string {
	if cfg.Security.AppKey != "" {
		return cfg.Security.AppKey
	}

	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	log.Warn("security.app_key not set, using an ephemeral key", zap.String("env", cfg.App.Env))
	return base64.StdEncoding.EncodeToString(buf)
}

func (a *Application) Run(ctx context.Context) error {
	defer a.close()

	runCtx, stopBackground := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer stopBackground()

	if a.pruner != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.pruner.Run(runCtx)
		}()
	}

	if a.mailWorker != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := kafkainfra.RunMailWorker(runCtx, a.cfg.Kafka, a.mailWorker, a.logger); err != nil {
				a.logger.Error("mail worker stopped", zap.Error(err))
			}
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting auth API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		timeout := a.cfg.App.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		a.logger.Info("auth API stopped")
		return nil
	case err := <-serverErrCh:
		return err
	}
}

func (a *Application) close() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("close kafka producer", zap.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("shutdown tracer provider", zap.Error(err))
		}
		cancel()
	}
	_ = a.logger.Sync()
}

func mailSender(cfg config.MailSettings, log *zap.Logger) mail.Sender {
	if strings.TrimSpace(cfg.SMTPHost) == "" {
		log.Info("smtp host not configured, mail is logged instead of delivered")
		return mail.NewLogSender(log)
	}
	log.Info("smtp mail delivery enabled",
		zap.String("host", cfg.SMTPHost),
		zap.Int("port", cfg.SMTPPort),
	)
	return mail.NewSMTPSender(cfg, log)
}
